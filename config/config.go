// Package config holds the typed, JSON-serializable configuration
// surface enumerated in spec §6: framing/serial parameters, timeouts,
// retry/backoff, QoS and pool sizing, ring/PDU limits, diagnostics
// toggles, idle threshold, and server identity/regions.
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// FramingKind selects the wire framing a port drives.
type FramingKind string

const (
	FramingRTU   FramingKind = "rtu"
	FramingASCII FramingKind = "ascii"
	FramingTCP   FramingKind = "tcp"
)

// SerialConfig holds the parameters needed to open an RTU/ASCII serial
// port. Unused for FramingTCP.
type SerialConfig struct {
	Device   string `json:"device"`
	BaudRate int    `json:"baud_rate"`
	Parity   string `json:"parity"` // "N", "E", or "O"
	DataBits int    `json:"data_bits"`
	StopBits int    `json:"stop_bits"`
}

// TimeoutConfig holds the default and per-function-code response
// timeout budget.
type TimeoutConfig struct {
	ResponseTimeoutMsDefault int           `json:"response_timeout_ms_default"`
	PerFCTimeoutOverridesMs  map[uint8]int `json:"per_fc_timeout_overrides_ms,omitempty"`
}

// RetryConfig holds the client's retry/backoff policy.
type RetryConfig struct {
	MaxRetries    int `json:"max_retries"`
	BackoffBaseMs int `json:"backoff_base_ms"`
	BackoffMaxMs  int `json:"backoff_max_ms"`
	JitterPct     int `json:"jitter_pct"`
}

// QoSPolicy selects the transaction manager's scheduling discipline.
type QoSPolicy string

const (
	QoSStrictPriority QoSPolicy = "strict_priority"
	QoSDeadlineAware  QoSPolicy = "deadline_aware"
)

// QueueConfig holds the client transaction manager's queue and pool
// sizing plus its scheduling policy.
type QueueConfig struct {
	QueueCapacityHigh   int       `json:"queue_capacity_high"`
	QueueCapacityNormal int       `json:"queue_capacity_normal"`
	QoSPolicy           QoSPolicy `json:"qos_policy"`
	TransactionPoolCap  int       `json:"transaction_pool_capacity"`
	WatchdogMultiple    int       `json:"watchdog_multiple"`
}

// BufferConfig holds the byte-ring and PDU size limits.
type BufferConfig struct {
	RxRingCapacity int `json:"rx_ring_capacity"`
	TxRingCapacity int `json:"tx_ring_capacity"`
	MaxPDUSize     int `json:"max_pdu_size"` // must be <= 253
}

// DiagnosticsConfig holds the trace/counters toggles.
type DiagnosticsConfig struct {
	TraceDepth      int  `json:"trace_depth"`
	CountersEnabled bool `json:"counters_enabled"`
	TraceEnabled    bool `json:"trace_enabled"`
}

// IdleConfig holds the power/idle hook threshold. The callback itself
// is injected in code (transport.IdleFunc), not serialized.
type IdleConfig struct {
	IdleThresholdMs int `json:"idle_threshold_ms"`
}

// RegisterRegion describes one sparse server register-map region for
// JSON-driven server setup (addresses/backends are still wired in code;
// this only carries the shape).
type RegisterRegion struct {
	Type     string `json:"type"` // "coils" | "discrete_inputs" | "holding" | "input"
	Start    uint16 `json:"start"`
	Length   uint16 `json:"length"`
	Writable bool   `json:"writable"`
}

// ServerConfig holds the server's unit id and register layout.
type ServerConfig struct {
	UnitID          uint8            `json:"server_unit_id"`
	RegisterRegions []RegisterRegion `json:"register_regions,omitempty"`
}

// Config is the complete configuration surface for one engine instance.
type Config struct {
	Framing      FramingKind       `json:"framing"`
	Serial       SerialConfig      `json:"serial,omitempty"`
	Timeout      TimeoutConfig     `json:"timeout"`
	Retry        RetryConfig       `json:"retry"`
	Queue        QueueConfig       `json:"queue"`
	Buffers      BufferConfig      `json:"buffers"`
	Diagnostics  DiagnosticsConfig `json:"diagnostics"`
	Idle         IdleConfig        `json:"idle"`
	Server       ServerConfig      `json:"server,omitempty"`
}

// Default returns a configuration with conservative defaults matching
// spec §6's option set.
func Default() *Config {
	return &Config{
		Framing: FramingRTU,
		Serial: SerialConfig{
			BaudRate: 19200,
			Parity:   "N",
			DataBits: 8,
			StopBits: 1,
		},
		Timeout: TimeoutConfig{
			ResponseTimeoutMsDefault: 1000,
		},
		Retry: RetryConfig{
			MaxRetries:    3,
			BackoffBaseMs: 50,
			BackoffMaxMs:  2000,
			JitterPct:     20,
		},
		Queue: QueueConfig{
			QueueCapacityHigh:   8,
			QueueCapacityNormal: 32,
			QoSPolicy:           QoSStrictPriority,
			TransactionPoolCap:  32,
			WatchdogMultiple:    4,
		},
		Buffers: BufferConfig{
			RxRingCapacity: 512,
			TxRingCapacity: 512,
			MaxPDUSize:     253,
		},
		Diagnostics: DiagnosticsConfig{
			TraceDepth:      64,
			CountersEnabled: true,
			TraceEnabled:    false,
		},
		Idle: IdleConfig{
			IdleThresholdMs: 10,
		},
		Server: ServerConfig{
			UnitID: 1,
		},
	}
}

// Validate checks the invariants spec §6 implies but JSON can't enforce
// (e.g. the 253-byte PDU ceiling).
func (c *Config) Validate() error {
	if c.Buffers.MaxPDUSize <= 0 || c.Buffers.MaxPDUSize > 253 {
		return fmt.Errorf("config: max_pdu_size %d out of range (1..253)", c.Buffers.MaxPDUSize)
	}
	switch c.Framing {
	case FramingRTU, FramingASCII, FramingTCP:
	default:
		return fmt.Errorf("config: unknown framing %q", c.Framing)
	}
	switch c.Queue.QoSPolicy {
	case QoSStrictPriority, QoSDeadlineAware:
	default:
		return fmt.Errorf("config: unknown qos_policy %q", c.Queue.QoSPolicy)
	}
	if c.Queue.TransactionPoolCap <= 0 {
		return fmt.Errorf("config: transaction_pool_capacity must be positive")
	}
	return nil
}

// Load reads and parses a Config from a JSON file, then validates it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to a JSON file.
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}
