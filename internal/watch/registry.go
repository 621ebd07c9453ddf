package watch

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"dexwatch/internal/chain"
	"dexwatch/internal/database"
	"dexwatch/internal/model"
	"dexwatch/internal/notify"
)

// subscribingOracle is implemented by oracles that want to know which tokens
// are under watch, like the relay's streaming cache.
type subscribingOracle interface {
	Watch(tokenAddress string)
	Unwatch(tokenAddress string)
}

// Registry owns every token watcher. It drives the recurring tick across
// them with bounded parallelism and prunes watchers whose execution has
// completed, which the execution goroutines announce over a channel.
type Registry struct {
	logger   *slog.Logger
	oracle   chain.PriceOracle
	executor chain.TradeExecutor
	repo     database.Repository
	sink     notify.Sink

	maxParallel int

	mu       sync.RWMutex
	watchers map[string]*TokenWatcher

	done    chan Completion
	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger, oracle chain.PriceOracle, executor chain.TradeExecutor,
	repo database.Repository, sink notify.Sink, maxParallel int) *Registry {

	if maxParallel <= 0 {
		maxParallel = 1
	}
	return &Registry{
		logger:      logger,
		oracle:      oracle,
		executor:    executor,
		repo:        repo,
		sink:        sink,
		maxParallel: maxParallel,
		watchers:    make(map[string]*TokenWatcher),
		done:        make(chan Completion, 128),
	}
}

// Hydrate loads every persisted token and order into the registry.
func (r *Registry) Hydrate(ctx context.Context) error {
	tokens, err := r.repo.LoadTokens(ctx)
	if err != nil {
		return fmt.Errorf("load tokens: %w", err)
	}
	for i := range tokens {
		token := tokens[i]
		if err := r.AddToken(&token); err != nil {
			return err
		}
		orders, err := r.repo.LoadOrders(ctx, token.Address)
		if err != nil {
			return fmt.Errorf("load orders for %s: %w", token.Symbol, err)
		}
		for j := range orders {
			if err := r.AddOrder(&orders[j]); err != nil {
				// A bad row must not keep the rest of the book offline.
				r.logger.Error("skipping unloadable order", "orderID", orders[j].ID, "error", err)
			}
		}
	}
	return nil
}

// AddToken registers a token for monitoring.
func (r *Registry) AddToken(token *model.Token) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.watchers[token.Address]; exists {
		return fmt.Errorf("token %s already monitored", token.Address)
	}
	r.watchers[token.Address] = NewTokenWatcher(r.logger, token, r.oracle)
	if sub, ok := r.oracle.(subscribingOracle); ok {
		sub.Watch(token.Address)
	}
	r.logger.Info("token added", "token", token.Symbol, "address", token.Address)
	return nil
}

// RemoveToken drops a token and cancels all of its orders without executing
// them. In-flight executions are not revoked.
func (r *Registry) RemoveToken(tokenAddress string) bool {
	r.mu.Lock()
	tw, ok := r.watchers[tokenAddress]
	if ok {
		delete(r.watchers, tokenAddress)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	tw.CancelAll()
	if sub, ok := r.oracle.(subscribingOracle); ok {
		sub.Unwatch(tokenAddress)
	}
	r.logger.Info("token removed", "token", tw.Token.Symbol)
	return true
}

// AddOrder attaches a persisted order record to its token's watcher.
func (r *Registry) AddOrder(order *model.Order) error {
	r.mu.RLock()
	tw, ok := r.watchers[order.TokenAddress]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("order %d: token %s not monitored", order.ID, order.TokenAddress)
	}
	w, err := NewOrderWatcher(r.logger, order, tw.Token, r.executor, r.repo, r.sink, tw.BuyLock(), r.done)
	if err != nil {
		return err
	}
	tw.AddOrder(w)
	r.logger.Info("order added", "orderID", order.ID, "token", tw.Token.Symbol, "kind", order.Kind.String())
	return nil
}

// RemoveOrder cancels an order by id across all tokens.
func (r *Registry) RemoveOrder(orderID int64) bool {
	for _, tw := range r.tokenWatchers() {
		if tw.RemoveOrder(orderID) {
			r.logger.Info("order removed", "orderID", orderID, "token", tw.Token.Symbol)
			return true
		}
	}
	return false
}

// OrderByID finds an order watcher by id across all tokens.
func (r *Registry) OrderByID(orderID int64) (*OrderWatcher, bool) {
	for _, tw := range r.tokenWatchers() {
		if w, ok := tw.OrderByID(orderID); ok {
			return w, true
		}
	}
	return nil, false
}

// TokenCount returns the number of monitored tokens.
func (r *Registry) TokenCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.watchers)
}

// Tick runs one monitoring pass over every token, at most maxParallel
// tokens at a time. Within a token, orders are evaluated sequentially.
func (r *Registry) Tick(ctx context.Context) {
	g := new(errgroup.Group)
	g.SetLimit(r.maxParallel)
	for _, tw := range r.tokenWatchers() {
		tw := tw
		g.Go(func() error {
			tw.Tick(ctx)
			return nil
		})
	}
	_ = g.Wait()
}

// Start launches the tick driver and the completion consumer.
func (r *Registry) Start(ctx context.Context, interval time.Duration) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		r.logger.Warn("registry already running")
		return
	}
	r.stopCh = make(chan struct{})
	r.running = true
	r.mu.Unlock()

	r.wg.Add(2)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.Tick(ctx)
			case <-r.stopCh:
				return
			}
		}
	}()
	go func() {
		defer r.wg.Done()
		for {
			select {
			case c := <-r.done:
				r.handleCompletion(c)
			case <-r.stopCh:
				return
			}
		}
	}()
	r.logger.Info("registry started", "interval", interval, "maxParallel", r.maxParallel)
}

// Stop halts ticking. In-flight executions keep running to completion; their
// completion notices are drained on the next Start.
func (r *Registry) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	close(r.stopCh)
	r.wg.Wait()
	r.logger.Info("registry stopped")
}

func (r *Registry) handleCompletion(c Completion) {
	r.mu.RLock()
	tw, ok := r.watchers[c.TokenAddress]
	r.mu.RUnlock()
	if !ok {
		return
	}
	tw.Detach(c.OrderID)
	if c.Failed {
		r.logger.Warn("order execution failed, watcher detached, record kept",
			"orderID", c.OrderID, "token", tw.Token.Symbol)
		return
	}
	r.logger.Info("order completed", "orderID", c.OrderID, "token", tw.Token.Symbol)
}

func (r *Registry) tokenWatchers() []*TokenWatcher {
	r.mu.RLock()
	defer r.mu.RUnlock()
	watchers := make([]*TokenWatcher, 0, len(r.watchers))
	for _, tw := range r.watchers {
		watchers = append(watchers, tw)
	}
	return watchers
}

// OrderStatus is a point-in-time view of one order for status reporting.
type OrderStatus struct {
	ID       int64
	Summary  string
	State    State
	Tracking bool
}

// TokenStatus is a point-in-time view of one token and its orders.
type TokenStatus struct {
	Address           string
	Symbol            string
	Name              string
	Icon              string
	EffectiveBuyPrice *decimal.Decimal
	Orders            []OrderStatus
}

// Status returns a consistent snapshot for status reporting: tokens sorted
// by symbol, orders sorted by limit price descending with market orders
// first, the way the status screen lists them.
func (r *Registry) Status() []TokenStatus {
	watchers := r.tokenWatchers()
	sort.Slice(watchers, func(i, j int) bool {
		return strings.ToLower(watchers[i].Token.Symbol) < strings.ToLower(watchers[j].Token.Symbol)
	})

	// Market orders sort as if their limit were enormous.
	marketSentinel := decimal.New(1, 12)

	statuses := make([]TokenStatus, 0, len(watchers))
	for _, tw := range watchers {
		orders := tw.Orders()
		sort.Slice(orders, func(i, j int) bool {
			return sortPrice(orders[i], marketSentinel).GreaterThan(sortPrice(orders[j], marketSentinel))
		})
		ts := TokenStatus{
			Address:           tw.Token.Address,
			Symbol:            tw.Token.Symbol,
			Name:              tw.Token.Name,
			Icon:              tw.Token.Icon,
			EffectiveBuyPrice: tw.EffectiveBuyPrice(),
		}
		for _, w := range orders {
			ts.Orders = append(ts.Orders, OrderStatus{
				ID:       w.Order.ID,
				Summary:  w.Summary(),
				State:    w.State(),
				Tracking: w.Tracking(),
			})
		}
		statuses = append(statuses, ts)
	}
	return statuses
}

func sortPrice(w *OrderWatcher, sentinel decimal.Decimal) decimal.Decimal {
	if w.Order.LimitPrice == nil {
		return sentinel
	}
	return *w.Order.LimitPrice
}
