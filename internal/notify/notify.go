// Package notify carries execution events from the monitoring core to the
// operator. The core publishes structured facts; rendering them for a
// particular chat surface is the sink's job.
package notify

import "github.com/shopspring/decimal"

// EventKind identifies what happened.
type EventKind int

const (
	// EventTrailingActivated fires once when an order's limit condition is
	// first met and trailing-stop tracking begins.
	EventTrailingActivated EventKind = iota
	// EventTriggerFired fires when an order's condition is met and a swap
	// is about to be submitted.
	EventTriggerFired
	// EventBuyExecuted reports a confirmed buy swap.
	EventBuyExecuted
	// EventSellExecuted reports a confirmed sell swap.
	EventSellExecuted
	// EventExecutionFailed reports a rejected or reverted swap.
	EventExecutionFailed
	// EventApprovalResult reports the outcome of a sell approval request.
	EventApprovalResult
	// EventPersistenceFailed reports a store write that failed after the
	// swap already happened. The swap is not rolled back.
	EventPersistenceFailed
)

// Event is one structured fact about an order. Fields are populated as far
// as the event kind warrants; unset decimals are zero.
type Event struct {
	Kind    EventKind
	OrderID int64
	Symbol  string

	// Order summary at the time of the event, for operator context.
	OrderDetail string

	Price          decimal.Decimal // trigger price, base currency per token
	Amount         decimal.Decimal // amount received by the swap
	EffectivePrice decimal.Decimal // realized price after slippage and fees
	SoldPct        decimal.Decimal // fraction of the balance sold, percent
	TxHash         string
	Approved       bool
	Err            string
}

// Sink receives events. Implementations must not block the caller for long;
// the core publishes from execution goroutines, not the tick path.
type Sink interface {
	Publish(ev Event)
}
