package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"dexwatch/internal/chain"
	"dexwatch/internal/database"
	"dexwatch/internal/model"
	"dexwatch/internal/notify"
)

// State is the lifecycle position of an order watcher.
type State int

const (
	// StateWaiting means the limit condition has not been met yet.
	StateWaiting State = iota
	// StateTracking means a trailing-stop order met its limit condition and
	// is following the price extreme.
	StateTracking
	// StateExecuting means the order triggered and the swap is in flight.
	StateExecuting
	// StateFinished means the swap completed. Terminal.
	StateFinished
	// StateCancelled means the order was removed before triggering. Terminal.
	StateCancelled
	// StateFailed means the swap was rejected or reverted. Terminal: the
	// database row is kept for manual follow-up, nothing is retried.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateWaiting:
		return "waiting"
	case StateTracking:
		return "tracking"
	case StateExecuting:
		return "executing"
	case StateFinished:
		return "finished"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Completion is the message an execution goroutine sends back to the
// registry when it ends, successfully or not.
type Completion struct {
	TokenAddress string
	OrderID      int64
	Failed       bool
}

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// OrderWatcher is the per-order state machine. It consumes one price sample
// per tick, decides trigger/hold/track, and on trigger executes the swap on
// its own goroutine so the tick never waits for the chain.
//
// OnPriceSample is never called concurrently for the same watcher (the token
// watcher fans out sequentially), but execution, cancellation and status
// reads do race with it, so all run-state lives behind the mutex.
type OrderWatcher struct {
	Order *model.Order
	token *model.Token

	logger   *slog.Logger
	executor chain.TradeExecutor
	repo     database.Repository
	sink     notify.Sink

	buyMu *sync.Mutex        // shared per token: serializes cost-basis updates
	done  chan<- Completion  // registry's completion channel

	mu             sync.Mutex
	state          State
	trackedExtreme *decimal.Decimal
}

// NewOrderWatcher validates the order and builds its watcher. buyMu must be
// the mutex shared by all watchers of the same token.
func NewOrderWatcher(logger *slog.Logger, order *model.Order, token *model.Token,
	executor chain.TradeExecutor, repo database.Repository, sink notify.Sink,
	buyMu *sync.Mutex, done chan<- Completion) (*OrderWatcher, error) {

	switch order.Kind {
	case model.KindLimitBuy, model.KindStopLoss, model.KindLimitSell:
	default:
		return nil, fmt.Errorf("order %d: unsupported kind %d", order.ID, int(order.Kind))
	}
	if order.TrailingPct != nil && order.Kind == model.KindStopLoss {
		return nil, fmt.Errorf("order %d: trailing stop requires a limit buy or limit sell", order.ID)
	}
	if !order.Amount.IsPositive() {
		return nil, fmt.Errorf("order %d: amount must be positive", order.ID)
	}
	return &OrderWatcher{
		Order:    order,
		token:    token,
		logger:   logger,
		executor: executor,
		repo:     repo,
		sink:     sink,
		buyMu:    buyMu,
		done:     done,
		state:    StateWaiting,
	}, nil
}

// State returns the current lifecycle state.
func (w *OrderWatcher) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Active reports whether the watcher still consumes price samples.
func (w *OrderWatcher) Active() bool {
	s := w.State()
	return s == StateWaiting || s == StateTracking
}

// Finished reports whether execution completed successfully.
func (w *OrderWatcher) Finished() bool {
	return w.State() == StateFinished
}

// Tracking reports whether the trailing stop is following an extreme.
func (w *OrderWatcher) Tracking() bool {
	return w.State() == StateTracking
}

// TrackedExtreme returns the tracked minimum (buy) or maximum (sell) since
// trailing activation, or nil before activation.
func (w *OrderWatcher) TrackedExtreme() *decimal.Decimal {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.trackedExtreme == nil {
		return nil
	}
	v := *w.trackedExtreme
	return &v
}

// Cancel stops the watcher before it triggers. Returns false when the order
// already triggered or reached a terminal state; an in-flight swap cannot be
// revoked.
func (w *OrderWatcher) Cancel() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == StateWaiting || w.state == StateTracking {
		w.state = StateCancelled
		return true
	}
	return false
}

// OnPriceSample evaluates one tick's quote against the order condition.
// Inactive watchers ignore samples; a zero price is logged and skipped.
func (w *OrderWatcher) OnPriceSample(ctx context.Context, q model.Quote) {
	w.mu.Lock()
	if w.state != StateWaiting && w.state != StateTracking {
		w.mu.Unlock()
		return
	}

	price := q.Sell
	if w.Order.Kind.IsBuy() {
		price = q.Buy
	}
	if price.IsZero() {
		w.mu.Unlock()
		w.logger.Warn("price unavailable, skipping sample",
			"token", w.token.Symbol, "orderID", w.Order.ID)
		return
	}

	// A market order carries no limit: the first usable sample satisfies
	// the condition.
	limit := price
	if w.Order.LimitPrice != nil {
		limit = *w.Order.LimitPrice
	}

	if w.Order.TrailingPct == nil {
		if w.limitReached(price, limit) {
			w.trigger(ctx, price, q) // unlocks
			return
		}
		w.mu.Unlock()
		return
	}

	if w.state == StateWaiting {
		if !w.limitReached(price, limit) {
			w.mu.Unlock()
			return
		}
		p := price
		w.trackedExtreme = &p
		w.state = StateTracking
		w.mu.Unlock()
		w.logger.Info("limit condition reached, trailing stop tracking",
			"token", w.token.Symbol, "orderID", w.Order.ID, "price", price)
		w.sink.Publish(notify.Event{
			Kind:    notify.EventTrailingActivated,
			OrderID: w.Order.ID,
			Symbol:  w.token.Symbol,
			Price:   price,
		})
		return
	}

	// Tracking: a sample that improves the extreme only moves the extreme,
	// it never triggers, even if the distance from the old extreme would
	// have crossed the callback percentage.
	extreme := *w.trackedExtreme
	trailing := *w.Order.TrailingPct
	if w.Order.Kind.IsBuy() {
		if price.LessThan(extreme) {
			w.trackedExtreme = &price
			w.mu.Unlock()
			return
		}
		rise := price.Div(extreme).Sub(one).Mul(hundred)
		if rise.GreaterThan(trailing) {
			w.trigger(ctx, price, q) // unlocks
			return
		}
	} else {
		if price.GreaterThan(extreme) {
			w.trackedExtreme = &price
			w.mu.Unlock()
			return
		}
		drop := one.Sub(price.Div(extreme)).Mul(hundred)
		if drop.GreaterThan(trailing) {
			w.trigger(ctx, price, q) // unlocks
			return
		}
	}
	w.mu.Unlock()
}

func (w *OrderWatcher) limitReached(price, limit decimal.Decimal) bool {
	if w.Order.Kind == model.KindLimitSell {
		return price.GreaterThanOrEqual(limit)
	}
	return price.LessThanOrEqual(limit)
}

// trigger flips the watcher out of the sampling states and hands the swap to
// its own goroutine. Called with w.mu held; unlocks it.
func (w *OrderWatcher) trigger(ctx context.Context, price decimal.Decimal, q model.Quote) {
	w.state = StateExecuting
	w.mu.Unlock()

	w.logger.Info("order triggered",
		"token", w.token.Symbol, "orderID", w.Order.ID,
		"kind", w.Order.Kind.String(), "price", price)
	w.sink.Publish(notify.Event{
		Kind:        notify.EventTriggerFired,
		OrderID:     w.Order.ID,
		Symbol:      w.token.Symbol,
		OrderDetail: w.Summary(),
		Price:       price,
	})

	// The swap must outlive the tick's context.
	go w.execute(context.WithoutCancel(ctx), q)
}

func (w *OrderWatcher) execute(ctx context.Context, q model.Quote) {
	var ok bool
	if w.Order.Kind.IsBuy() {
		ok = w.executeBuy(ctx, q)
	} else {
		ok = w.executeSell(ctx, q)
	}

	w.mu.Lock()
	if ok {
		w.state = StateFinished
	} else {
		w.state = StateFailed
	}
	w.mu.Unlock()

	if w.done != nil {
		select {
		case w.done <- Completion{TokenAddress: w.Order.TokenAddress, OrderID: w.Order.ID, Failed: !ok}:
		default:
			w.logger.Warn("completion channel full, dropping notice", "orderID", w.Order.ID)
		}
	}
}

// executeBuy swaps the configured base amount for tokens and folds the
// realized price into the token's volume-weighted cost basis. The realized
// price is always recomputed from the swap result; the quoted price that
// triggered the order is stale by the time the swap confirms.
func (w *OrderWatcher) executeBuy(ctx context.Context, q model.Quote) bool {
	addr := w.Order.TokenAddress

	balanceBefore, err := w.executor.TokenBalance(ctx, addr)
	if err != nil {
		w.logger.Warn("balance lookup failed before buy, assuming zero",
			"token", w.token.Symbol, "error", err)
		balanceBefore = decimal.Zero
	}

	res, err := w.executor.Buy(ctx, addr, w.Order.Amount, w.Order.SlippagePct, w.Order.Gas, q.BuyOnV2)
	if err != nil {
		w.reportFailure(err)
		return false
	}
	if !res.Received.IsPositive() {
		w.reportFailure(&chain.SwapError{TxHash: res.TxHash, Reason: "swap returned zero tokens"})
		return false
	}
	effectivePrice := w.Order.Amount.Div(res.Received)

	// Two buys on the same token must not interleave this read-modify-write.
	w.buyMu.Lock()
	var newBasis decimal.Decimal
	if prev := w.token.EffectiveBuyPrice; prev != nil {
		total := balanceBefore.Add(res.Received)
		newBasis = balanceBefore.Mul(*prev).Add(res.Received.Mul(effectivePrice)).Div(total)
	} else {
		newBasis = effectivePrice
	}
	w.token.EffectiveBuyPrice = &newBasis
	persistErr := w.repo.SaveEffectiveBuyPrice(ctx, addr, newBasis)
	w.buyMu.Unlock()

	if persistErr != nil {
		// The swap already happened; keep the in-memory basis and tell the
		// operator the row is stale.
		w.logger.Error("effective buy price update failed",
			"token", w.token.Symbol, "error", persistErr)
		w.sink.Publish(notify.Event{
			Kind:   notify.EventPersistenceFailed,
			Symbol: w.token.Symbol,
			Err:    persistErr.Error(),
		})
	}

	w.logger.Info("buy executed",
		"token", w.token.Symbol, "orderID", w.Order.ID,
		"received", res.Received, "effectivePrice", effectivePrice, "tx", res.TxHash)
	w.sink.Publish(notify.Event{
		Kind:           notify.EventBuyExecuted,
		OrderID:        w.Order.ID,
		Symbol:         w.token.Symbol,
		Amount:         res.Received,
		EffectivePrice: effectivePrice,
		TxHash:         res.TxHash,
	})

	w.preApproveSell(ctx, q.SellOnV2)
	w.removeRecord(ctx)
	return true
}

// executeSell swaps the configured token amount for base currency.
func (w *OrderWatcher) executeSell(ctx context.Context, q model.Quote) bool {
	addr := w.Order.TokenAddress

	balanceBefore, err := w.executor.TokenBalance(ctx, addr)
	if err != nil {
		w.logger.Warn("balance lookup failed before sell",
			"token", w.token.Symbol, "error", err)
		balanceBefore = decimal.Zero
	}

	res, err := w.executor.Sell(ctx, addr, w.Order.Amount, w.Order.SlippagePct, w.Order.Gas, q.SellOnV2)
	if err != nil {
		w.reportFailure(err)
		return false
	}

	effectivePrice := res.Received.Div(w.Order.Amount)
	soldPct := decimal.Zero
	if balanceBefore.IsPositive() {
		soldPct = w.Order.Amount.Div(balanceBefore).Mul(hundred)
	}

	w.logger.Info("sell executed",
		"token", w.token.Symbol, "orderID", w.Order.ID,
		"received", res.Received, "effectivePrice", effectivePrice,
		"soldPct", soldPct, "tx", res.TxHash)
	w.sink.Publish(notify.Event{
		Kind:           notify.EventSellExecuted,
		OrderID:        w.Order.ID,
		Symbol:         w.token.Symbol,
		Amount:         res.Received,
		EffectivePrice: effectivePrice,
		SoldPct:        soldPct,
		TxHash:         res.TxHash,
	})

	w.removeRecord(ctx)
	return true
}

// preApproveSell requests sell approval after a buy so the eventual exit
// does not stall on an approval transaction. Best effort: a failure is
// reported but does not fail the buy.
func (w *OrderWatcher) preApproveSell(ctx context.Context, sellOnV2 bool) {
	approved, err := w.executor.IsApproved(ctx, w.Order.TokenAddress, sellOnV2)
	if err != nil {
		w.logger.Warn("approval check failed", "token", w.token.Symbol, "error", err)
		return
	}
	if approved {
		return
	}
	w.logger.Info("requesting sell approval", "token", w.token.Symbol, "v2", sellOnV2)
	if err := w.executor.Approve(ctx, w.Order.TokenAddress, sellOnV2); err != nil {
		w.sink.Publish(notify.Event{
			Kind:   notify.EventApprovalResult,
			Symbol: w.token.Symbol,
			Err:    err.Error(),
		})
		return
	}
	w.sink.Publish(notify.Event{
		Kind:     notify.EventApprovalResult,
		Symbol:   w.token.Symbol,
		Approved: true,
	})
}

func (w *OrderWatcher) removeRecord(ctx context.Context) {
	if err := w.repo.DeleteOrder(ctx, w.Order.ID); err != nil {
		w.logger.Error("order record deletion failed", "orderID", w.Order.ID, "error", err)
		w.sink.Publish(notify.Event{
			Kind:    notify.EventPersistenceFailed,
			OrderID: w.Order.ID,
			Symbol:  w.token.Symbol,
			Err:     err.Error(),
		})
	}
}

func (w *OrderWatcher) reportFailure(err error) {
	txHash := ""
	var swapErr *chain.SwapError
	if errors.As(err, &swapErr) {
		txHash = swapErr.TxHash
	}
	w.logger.Error("execution failed",
		"token", w.token.Symbol, "orderID", w.Order.ID, "tx", txHash, "error", err)
	w.sink.Publish(notify.Event{
		Kind:        notify.EventExecutionFailed,
		OrderID:     w.Order.ID,
		Symbol:      w.token.Symbol,
		OrderDetail: w.Detail(),
		TxHash:      txHash,
		Err:         err.Error(),
	})
}

// AmountUnit returns the denomination of the order amount.
func (w *OrderWatcher) AmountUnit() string {
	if w.Order.Kind.IsBuy() {
		return "BNB"
	}
	return w.token.Symbol
}

// Summary renders the order as a single status line.
func (w *OrderWatcher) Summary() string {
	comparison := "="
	limit := "market price"
	if w.Order.LimitPrice != nil {
		comparison = w.Order.Kind.ComparisonSymbol()
		limit = FormatPrice(*w.Order.LimitPrice) + " BNB"
	}
	trailing := ""
	if w.Order.TrailingPct != nil {
		trailing = fmt.Sprintf(" tsl %s%%", w.Order.TrailingPct.String())
	}
	return fmt.Sprintf("#%d: %s %s %s - %s %s %s%s",
		w.Order.ID, w.token.Symbol, comparison, limit,
		w.Order.Kind.String(), FormatTokenAmount(w.Order.Amount), w.AmountUnit(), trailing)
}

// Detail renders the full order description for notifications and lookups.
func (w *OrderWatcher) Detail() string {
	var b strings.Builder
	if w.token.Icon != "" {
		b.WriteString(w.token.Icon + " ")
	}
	fmt.Fprintf(&b, "%s - (#%d) %s\n", w.token.Symbol, w.Order.ID, w.Order.Kind.String())
	fmt.Fprintf(&b, "Amount: %s %s\n", FormatTokenAmount(w.Order.Amount), w.AmountUnit())
	if w.Order.LimitPrice != nil {
		fmt.Fprintf(&b, "Price: %s %s BNB\n", w.Order.Kind.ComparisonSymbol(), FormatPrice(*w.Order.LimitPrice))
	} else {
		b.WriteString("Price: market price\n")
	}
	if w.Order.TrailingPct != nil {
		fmt.Fprintf(&b, "Trailing stop loss %s%% callback\n", w.Order.TrailingPct.String())
	}
	fmt.Fprintf(&b, "Slippage: %s%%\n", w.Order.SlippagePct.String())
	fmt.Fprintf(&b, "Gas: %s\n", w.Order.Gas.Describe())
	fmt.Fprintf(&b, "Created: %s", w.Order.Created.Format("2006-01-02 15:04"))
	return b.String()
}
