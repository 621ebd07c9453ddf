package chain

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"dexwatch/internal/model"
)

// RelayOracle implements PriceOracle on top of the chain gateway's quote
// stream. The gateway samples the liquidity pools and pushes one frame per
// watched token; the oracle caches the latest frame and serves Quote calls
// from that cache. A token with no frame yet quotes as unavailable.
type RelayOracle struct {
	logger *slog.Logger
	url    string

	mu      sync.Mutex
	conn    *websocket.Conn
	watched map[string]struct{}
	quotes  map[string]model.Quote
}

// quoteFrame is one pushed price update from the gateway.
type quoteFrame struct {
	Token    string `json:"token"`
	Sell     string `json:"sell"`
	Buy      string `json:"buy"`
	SellOnV2 bool   `json:"sellV2"`
	BuyOnV2  bool   `json:"buyV2"`
}

// NewRelayOracle creates a RelayOracle for the given websocket URL.
func NewRelayOracle(logger *slog.Logger, url string) *RelayOracle {
	return &RelayOracle{
		logger:  logger,
		url:     url,
		watched: make(map[string]struct{}),
		quotes:  make(map[string]model.Quote),
	}
}

// Quote returns the latest cached quote for the token. Tokens that have not
// produced a frame yet return a zero quote, which callers treat as
// "price unavailable".
func (r *RelayOracle) Quote(_ context.Context, tokenAddress string) (model.Quote, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.quotes[tokenAddress], nil
}

// Watch subscribes the oracle to a token's quote stream. Safe to call before
// Run; the subscription is replayed on every (re)connect.
func (r *RelayOracle) Watch(tokenAddress string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.watched[tokenAddress]; ok {
		return
	}
	r.watched[tokenAddress] = struct{}{}
	if r.conn != nil {
		if err := r.writeSubscription([]string{tokenAddress}); err != nil {
			r.logger.Error("RelayOracle: failed to send subscription", "token", tokenAddress, "error", err)
		}
	}
}

// Unwatch stops quote updates for a token and drops its cached quote.
func (r *RelayOracle) Unwatch(tokenAddress string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.watched, tokenAddress)
	delete(r.quotes, tokenAddress)
	if r.conn != nil {
		msg := map[string]interface{}{"event": "unsubscribe", "tokens": []string{tokenAddress}}
		if err := r.conn.WriteJSON(msg); err != nil {
			r.logger.Error("RelayOracle: failed to send unsubscribe", "token", tokenAddress, "error", err)
		}
	}
}

// writeSubscription sends a subscribe message; callers hold r.mu.
func (r *RelayOracle) writeSubscription(tokens []string) error {
	msg := map[string]interface{}{"event": "subscribe", "tokens": tokens}
	return r.conn.WriteJSON(msg)
}

// Run connects to the gateway and consumes quote frames until the context is
// cancelled, reconnecting with exponential backoff on failure.
func (r *RelayOracle) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("RelayOracle: context cancelled, shutting down")
			return nil
		default:
			r.logger.Info("RelayOracle: connecting to quote stream", "url", r.url, "backoff", backoff)
			c, _, err := websocket.DefaultDialer.Dial(r.url, nil)
			if err != nil {
				r.logger.Error("RelayOracle: connection failed", "error", err)
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(backoff):
					backoff *= 2
					if backoff > 16*time.Second {
						backoff = 16 * time.Second
					}
				}
				continue
			}

			// Reset backoff and replay subscriptions on successful connection
			backoff = time.Second
			r.mu.Lock()
			r.conn = c
			tokens := make([]string, 0, len(r.watched))
			for t := range r.watched {
				tokens = append(tokens, t)
			}
			var subErr error
			if len(tokens) > 0 {
				subErr = r.writeSubscription(tokens)
			}
			r.mu.Unlock()
			if subErr != nil {
				r.logger.Error("RelayOracle: failed to replay subscriptions", "error", subErr)
				r.dropConn(c)
				continue
			}
			r.logger.Info("RelayOracle: connected", "watched", len(tokens))

			r.readLoop(ctx, c)
			r.dropConn(c)
			if ctx.Err() != nil {
				return nil
			}
		}
	}
}

// readLoop consumes frames until the connection breaks or ctx is cancelled.
func (r *RelayOracle) readLoop(ctx context.Context, c *websocket.Conn) {
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("RelayOracle: context cancelled, closing connection")
			return
		default:
			_, message, err := c.ReadMessage()
			if err != nil {
				r.logger.Error("RelayOracle: failed to read message", "error", err)
				return
			}

			var frame quoteFrame
			if err := json.Unmarshal(message, &frame); err != nil {
				r.logger.Warn("RelayOracle: failed to parse frame", "error", err)
				continue
			}
			if frame.Token == "" {
				continue
			}

			quote, err := frame.toQuote()
			if err != nil {
				r.logger.Warn("RelayOracle: bad prices in frame", "token", frame.Token, "error", err)
				continue
			}

			r.mu.Lock()
			if _, ok := r.watched[frame.Token]; ok {
				r.quotes[frame.Token] = quote
			}
			r.mu.Unlock()
			r.logger.Debug("RelayOracle: quote updated",
				"token", frame.Token, "sell", quote.Sell, "buy", quote.Buy)
		}
	}
}

func (r *RelayOracle) dropConn(c *websocket.Conn) {
	c.Close()
	r.mu.Lock()
	if r.conn == c {
		r.conn = nil
	}
	r.mu.Unlock()
}

func (f quoteFrame) toQuote() (model.Quote, error) {
	sell, err := decimal.NewFromString(f.Sell)
	if err != nil {
		return model.Quote{}, err
	}
	buy, err := decimal.NewFromString(f.Buy)
	if err != nil {
		return model.Quote{}, err
	}
	return model.Quote{Sell: sell, Buy: buy, SellOnV2: f.SellOnV2, BuyOnV2: f.BuyOnV2}, nil
}
