// Package modbuscore wires the protocol engine's packages (core, pdu,
// framing, txn, client, register, server, diag, transport, config) into
// one constructible Engine, the way the teacher's root client.go/
// server.go compose modbus/pdu/transport into Client/Server.
package modbuscore

import (
	"fmt"
	"time"

	"github.com/modbuscore/modbuscore/client"
	"github.com/modbuscore/modbuscore/config"
	"github.com/modbuscore/modbuscore/core"
	"github.com/modbuscore/modbuscore/diag"
	"github.com/modbuscore/modbuscore/framing"
	"github.com/modbuscore/modbuscore/register"
	"github.com/modbuscore/modbuscore/server"
	"github.com/modbuscore/modbuscore/transport"
	"github.com/modbuscore/modbuscore/txn"
)

// Mode distinguishes a client-role Engine from a server-role one.
type Mode uint8

const (
	ModeClient Mode = iota
	ModeServer
)

// Engine is one configured client or server instance, owning its FSM,
// transaction manager (client only), and the power/idle hook (spec §5).
type Engine struct {
	mode Mode

	clientFSM *client.FSM
	serverFSM *server.FSM
	manager   *txn.Manager

	transport       transport.Transport
	idleFunc        transport.IdleFunc
	idleThresholdMS uint64
}

func clientFramingOf(k config.FramingKind) client.Framing {
	switch k {
	case config.FramingASCII:
		return client.ASCII
	case config.FramingTCP:
		return client.MBAP
	default:
		return client.RTU
	}
}

func serverFramingOf(k config.FramingKind) server.Framing {
	switch k {
	case config.FramingASCII:
		return server.ASCII
	case config.FramingTCP:
		return server.MBAP
	default:
		return server.RTU
	}
}

func silenceGap(cfg *config.Config) time.Duration {
	if cfg.Framing == config.FramingTCP {
		return 0
	}
	parityBit := cfg.Serial.Parity != "" && cfg.Serial.Parity != "N"
	return framing.SilenceInterval(cfg.Serial.BaudRate, cfg.Serial.DataBits, cfg.Serial.StopBits, parityBit)
}

func txnConfigOf(cfg *config.Config) txn.Config {
	policy := txn.StrictPriority
	if cfg.Queue.QoSPolicy == config.QoSDeadlineAware {
		policy = txn.DeadlineAware
	}
	var overrides map[core.FunctionCode]uint64
	if len(cfg.Timeout.PerFCTimeoutOverridesMs) > 0 {
		overrides = make(map[core.FunctionCode]uint64, len(cfg.Timeout.PerFCTimeoutOverridesMs))
		for fc, ms := range cfg.Timeout.PerFCTimeoutOverridesMs {
			overrides[core.FunctionCode(fc)] = uint64(ms)
		}
	}
	return txn.Config{
		HighCapacity:          cfg.Queue.QueueCapacityHigh,
		NormalCapacity:        cfg.Queue.QueueCapacityNormal,
		Policy:                policy,
		MaxRetries:            uint8(cfg.Retry.MaxRetries),
		BackoffBaseMS:         uint64(cfg.Retry.BackoffBaseMs),
		BackoffMaxMS:          uint64(cfg.Retry.BackoffMaxMs),
		JitterPct:             cfg.Retry.JitterPct,
		DefaultTimeout:        uint64(cfg.Timeout.ResponseTimeoutMsDefault),
		PerFCTimeoutOverrides: overrides,
		WatchdogMultiple:      uint64(cfg.Queue.WatchdogMultiple),
	}
}

// NewClientEngine builds a client-role Engine from cfg over t. idle may
// be nil to disable the power/idle hook.
func NewClientEngine(cfg *config.Config, t transport.Transport, recorder *diag.Recorder, idle transport.IdleFunc) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	manager := txn.NewManager(cfg.Queue.TransactionPoolCap, txnConfigOf(cfg), t.NowMS)
	fsm := client.NewFSM(manager, t, recorder, client.Config{
		Framing:    clientFramingOf(cfg.Framing),
		UnitID:     cfg.Server.UnitID,
		RingCap:    cfg.Buffers.RxRingCapacity,
		SilenceGap: silenceGap(cfg),
	})
	return &Engine{
		mode:            ModeClient,
		clientFSM:       fsm,
		manager:         manager,
		transport:       t,
		idleFunc:        idle,
		idleThresholdMS: uint64(cfg.Idle.IdleThresholdMs),
	}, nil
}

// NewServerEngine builds a server-role Engine from cfg, dispatching
// against registers. idle may be nil to disable the power/idle hook.
func NewServerEngine(cfg *config.Config, registers *register.Map, t transport.Transport, recorder *diag.Recorder, idle transport.IdleFunc) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	fsm := server.NewFSM(registers, t, recorder, server.Config{
		Framing:    serverFramingOf(cfg.Framing),
		UnitID:     cfg.Server.UnitID,
		RingCap:    cfg.Buffers.RxRingCapacity,
		SilenceGap: silenceGap(cfg),
	})
	return &Engine{
		mode:            ModeServer,
		serverFSM:       fsm,
		transport:       t,
		idleFunc:        idle,
		idleThresholdMS: uint64(cfg.Idle.IdleThresholdMs),
	}, nil
}

// Submit enqueues a new client transaction. It is an error to call
// Submit on a server-role Engine.
func (e *Engine) Submit(req txn.SubmitRequest) (txn.Handle, error) {
	if e.manager == nil {
		return txn.Handle{}, fmt.Errorf("modbuscore: Submit called on a non-client engine")
	}
	return e.manager.Submit(req)
}

// Get resolves a submitted transaction's handle (client engines only).
func (e *Engine) Get(h txn.Handle) (*txn.Transaction, bool) {
	if e.manager == nil {
		return nil, false
	}
	return e.manager.Get(h)
}

// Cancel cancels a submitted transaction (client engines only).
func (e *Engine) Cancel(h txn.Handle) {
	if e.manager != nil {
		e.manager.Cancel(h)
	}
}

// Release returns a terminal transaction's pool slot (client engines only).
func (e *Engine) Release(h txn.Handle) {
	if e.manager != nil {
		e.manager.Release(h)
	}
}

// Flush poison-flushes every queued client transaction (client engines only).
func (e *Engine) Flush() {
	if e.manager != nil {
		e.manager.Flush()
	}
}

// SetExceptionStatus updates the byte FC 0x07 reports (server engines only).
func (e *Engine) SetExceptionStatus(status uint8) {
	if e.serverFSM != nil {
		e.serverFSM.SetExceptionStatus(status)
	}
}

// Poll drives one cooperative step budget's worth of engine work — the
// single entry point an application loop or task calls (spec §4's
// client_poll/server_poll). When the engine has nothing to do and the
// next known event is farther away than the configured idle threshold,
// it invokes the injected idle callback (spec §5's power/idle hook).
func (e *Engine) Poll(budgetSteps int) int {
	if e.mode == ModeServer {
		steps := e.serverFSM.Poll(budgetSteps)
		if steps == 0 && e.serverFSM.Idle() {
			e.maybeIdle(0, false)
		}
		return steps
	}
	steps := e.clientFSM.Poll(budgetSteps)
	if steps == 0 {
		deadlineMS, hasDeadline := e.clientFSM.CurrentDeadlineMS()
		e.maybeIdle(deadlineMS, hasDeadline)
	}
	return steps
}

// maybeIdle invokes the idle callback with the proposed sleep duration
// when idling makes sense: there's an injected callback, a positive
// threshold, and the estimated wait (the time to the next known
// deadline, or the threshold itself when no deadline is known) clears
// that threshold.
func (e *Engine) maybeIdle(nextDeadlineMS uint64, hasDeadline bool) {
	if e.idleFunc == nil || e.idleThresholdMS == 0 {
		return
	}
	threshold := time.Duration(e.idleThresholdMS) * time.Millisecond
	proposed := threshold
	if hasDeadline {
		now := e.transport.NowMS()
		if nextDeadlineMS <= now {
			return
		}
		proposed = time.Duration(nextDeadlineMS-now) * time.Millisecond
		if proposed < threshold {
			return
		}
	}
	e.idleFunc(proposed)
}
