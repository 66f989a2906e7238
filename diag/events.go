// Package diag implements the structured event emission, per-function-
// code/per-outcome counters, and bounded trace ring of spec §4.6.
package diag

import "github.com/modbuscore/modbuscore/core"

// Role distinguishes client- from server-side events.
type Role uint8

const (
	RoleClient Role = iota
	RoleServer
)

func (r Role) String() string {
	if r == RoleServer {
		return "server"
	}
	return "client"
}

// EventType tags the kind of event (spec §4.6).
type EventType uint8

const (
	EventStateChange EventType = iota
	EventRxReady
	EventTxSent
	EventTimeout
	EventRetry
	EventTxComplete
	EventException
	EventDrop
)

func (e EventType) String() string {
	switch e {
	case EventStateChange:
		return "StateChange"
	case EventRxReady:
		return "RxReady"
	case EventTxSent:
		return "TxSent"
	case EventTimeout:
		return "Timeout"
	case EventRetry:
		return "Retry"
	case EventTxComplete:
		return "TxComplete"
	case EventException:
		return "Exception"
	case EventDrop:
		return "Drop"
	default:
		return "Unknown"
	}
}

// Event is one structured diagnostics record (spec §4.6).
type Event struct {
	TimestampMS  uint64
	Role         Role
	FunctionCode core.FunctionCode
	Outcome      core.OutcomeSlot
	Type         EventType
}

// Sink receives events synchronously. Implementations must not block
// and must not panic (spec §6's EventSink contract).
type Sink interface {
	Emit(Event)
}

// NopSink implements Sink by discarding every event.
type NopSink struct{}

// Emit discards ev.
func (NopSink) Emit(Event) {}

// FuncSink adapts a plain function to Sink.
type FuncSink func(Event)

// Emit calls the wrapped function.
func (f FuncSink) Emit(ev Event) { f(ev) }
