// Package txn implements the client-side transaction manager: the
// fixed-capacity transaction pool, priority queues, QoS scheduling,
// retry/backoff, cancellation, poison flush, and the watchdog (spec
// §3, §4.3).
package txn

import (
	"github.com/modbuscore/modbuscore/core"
	"github.com/modbuscore/modbuscore/pdu"
)

// Priority is a transaction's queueing priority (spec §3).
type Priority uint8

const (
	Normal Priority = iota
	High
)

// State is a transaction's lifecycle state (spec §3's TxnState).
type State uint8

const (
	Idle State = iota
	Enqueued
	Sending
	AwaitingResponse
	Completing
	Terminal
)

// Handle identifies a transaction slot. Generation guards against a
// stale handle referring to a slot since reused by a different
// transaction.
type Handle struct {
	Index      int
	Generation uint32
}

// Transaction is one client request/response exchange and its
// scheduling metadata (spec §3).
type Transaction struct {
	handle            Handle
	UnitID            uint8
	FunctionCode      core.FunctionCode
	RequestPDU        pdu.PDU
	ResponsePDU       pdu.PDU
	TransactionIDTCP  uint16 // MBAP transaction id, when applicable
	DeadlineMS        uint64
	SubmittedAtMS     uint64
	SubStateEnteredMS uint64
	AttemptsLeft      uint8
	MaxAttempts       uint8
	Priority          Priority
	State             State
	Outcome           core.OutcomeSlot
	cancelled         bool

	inUse bool
}

// Handle returns the transaction's stable handle.
func (t *Transaction) Handle() Handle { return t.handle }

// Cancelled reports whether cancel() has been called on this
// transaction.
func (t *Transaction) Cancelled() bool { return t.cancelled }

// IsTerminal reports whether the transaction has reached a final
// outcome.
func (t *Transaction) IsTerminal() bool { return t.State == Terminal }
