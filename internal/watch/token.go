package watch

import (
	"context"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"dexwatch/internal/chain"
	"dexwatch/internal/model"
)

// TokenWatcher owns every order watcher for one token. Each tick it fetches
// exactly one price sample and fans it out sequentially to the orders that
// were active when the tick started; orders added mid-tick first see the
// next tick's sample, so a fresh order never reacts to a stale quote.
type TokenWatcher struct {
	Token *model.Token

	logger *slog.Logger
	oracle chain.PriceOracle

	// buyMu serializes effective-buy-price updates across this token's
	// executing orders.
	buyMu sync.Mutex

	mu     sync.Mutex
	orders []*OrderWatcher
}

// NewTokenWatcher creates a watcher for one token.
func NewTokenWatcher(logger *slog.Logger, token *model.Token, oracle chain.PriceOracle) *TokenWatcher {
	return &TokenWatcher{
		Token:  token,
		logger: logger,
		oracle: oracle,
	}
}

// BuyLock returns the per-token mutex that order watchers share for
// cost-basis updates.
func (t *TokenWatcher) BuyLock() *sync.Mutex {
	return &t.buyMu
}

// EffectiveBuyPrice returns a copy of the token's current cost basis, read
// under the same lock that buy executions use to update it.
func (t *TokenWatcher) EffectiveBuyPrice() *decimal.Decimal {
	t.buyMu.Lock()
	defer t.buyMu.Unlock()
	if t.Token.EffectiveBuyPrice == nil {
		return nil
	}
	v := *t.Token.EffectiveBuyPrice
	return &v
}

// Tick fetches one quote and delivers it to every active order.
func (t *TokenWatcher) Tick(ctx context.Context) {
	q, err := t.oracle.Quote(ctx, t.Token.Address)
	if err != nil {
		t.logger.Error("quote fetch failed", "token", t.Token.Symbol, "error", err)
		return
	}

	for _, w := range t.Orders() {
		// Orders that went inactive earlier in this fan-out are skipped.
		if !w.Active() {
			continue
		}
		w.OnPriceSample(ctx, q)
	}
}

// AddOrder attaches an order watcher. An in-flight tick does not see it.
func (t *TokenWatcher) AddOrder(w *OrderWatcher) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.orders = append(t.orders, w)
}

// Orders returns a snapshot of the current order watchers.
func (t *TokenWatcher) Orders() []*OrderWatcher {
	t.mu.Lock()
	defer t.mu.Unlock()
	snapshot := make([]*OrderWatcher, len(t.orders))
	copy(snapshot, t.orders)
	return snapshot
}

// OrderByID finds an attached order watcher.
func (t *TokenWatcher) OrderByID(id int64) (*OrderWatcher, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, w := range t.orders {
		if w.Order.ID == id {
			return w, true
		}
	}
	return nil, false
}

// RemoveOrder cancels and detaches an order. Returns false when the order is
// unknown; an order that already triggered is detached but its in-flight
// swap cannot be revoked.
func (t *TokenWatcher) RemoveOrder(id int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, w := range t.orders {
		if w.Order.ID != id {
			continue
		}
		w.Cancel()
		t.orders = append(t.orders[:i], t.orders[i+1:]...)
		return true
	}
	return false
}

// Detach removes a completed order watcher without touching its state.
func (t *TokenWatcher) Detach(id int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, w := range t.orders {
		if w.Order.ID == id {
			t.orders = append(t.orders[:i], t.orders[i+1:]...)
			return
		}
	}
}

// CancelAll cancels every order, used when the token is removed.
func (t *TokenWatcher) CancelAll() {
	for _, w := range t.Orders() {
		w.Cancel()
	}
	t.mu.Lock()
	t.orders = nil
	t.mu.Unlock()
}
