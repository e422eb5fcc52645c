package model

import (
	"errors"
	"fmt"
	"time"
)

// Error taxonomy shared by the decision core and its adapters. Consumers
// match with errors.As and switch exhaustively on the Kind fields.

// OrderingViolation is returned when a candle arrives earlier than the last
// accepted candle of its symbol. It halts the symbol's lane.
type OrderingViolation struct {
	Symbol string
	Last   time.Time
	Got    time.Time
}

func (e *OrderingViolation) Error() string {
	return fmt.Sprintf("ordering violation on %s: candle %s after %s",
		e.Symbol, e.Got.UTC().Format(time.RFC3339), e.Last.UTC().Format(time.RFC3339))
}

// ErrDuplicateCandle marks a re-delivered candle with the same timestamp as
// the last accepted one. It is not fatal.
var ErrDuplicateCandle = errors.New("duplicate candle")

// RejectionKind enumerates why the risk manager refused a trade.
type RejectionKind string

const (
	RejectBelowConfidence     RejectionKind = "BELOW_CONFIDENCE"
	RejectCapacityExceeded    RejectionKind = "CAPACITY_EXCEEDED"
	RejectInsufficientBalance RejectionKind = "INSUFFICIENT_BALANCE"
	RejectNoAction            RejectionKind = "NO_ACTION"
)

// RiskRejection is a recoverable refusal to size a trade.
type RiskRejection struct {
	Kind   RejectionKind
	Detail string
}

func (e *RiskRejection) Error() string {
	if e.Detail == "" {
		return "risk rejection: " + string(e.Kind)
	}
	return "risk rejection: " + string(e.Kind) + ": " + e.Detail
}

// ExecutionOp names the executor call that failed.
type ExecutionOp string

const (
	OpPlaceOrder ExecutionOp = "place_order"
	OpCloseOrder ExecutionOp = "close_order"
	OpBalance    ExecutionOp = "account_balance"
)

// ExecutionFailure wraps an executor error. Position state is left as it
// was before the attempted transition.
type ExecutionFailure struct {
	Op     ExecutionOp
	Symbol string
	Err    error
}

func (e *ExecutionFailure) Error() string {
	return fmt.Sprintf("execution failure (%s %s): %v", e.Op, e.Symbol, e.Err)
}

func (e *ExecutionFailure) Unwrap() error { return e.Err }

// PersistenceFailure wraps a store error. Non-fatal; the in-memory state
// stays authoritative.
type PersistenceFailure struct {
	Op  string
	Err error
}

func (e *PersistenceFailure) Error() string {
	return fmt.Sprintf("persistence failure (%s): %v", e.Op, e.Err)
}

func (e *PersistenceFailure) Unwrap() error { return e.Err }
