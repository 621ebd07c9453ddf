package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"dexwatch/internal/model"
)

// GatewayExecutor implements TradeExecutor against the chain gateway's HTTP
// API. The gateway holds the wallet and performs the actual swap, approval
// and balance calls; this client only marshals requests and interprets
// results. Swap calls block until the gateway has confirmed or rejected the
// transaction, so they run off the monitoring tick.
type GatewayExecutor struct {
	logger  *slog.Logger
	baseURL string
	client  *http.Client
}

// NewGatewayExecutor creates a GatewayExecutor for the given base URL.
func NewGatewayExecutor(logger *slog.Logger, baseURL string) *GatewayExecutor {
	return &GatewayExecutor{
		logger:  logger,
		baseURL: baseURL,
		// Swaps wait for on-chain confirmation; allow for slow blocks.
		client: &http.Client{Timeout: 3 * time.Minute},
	}
}

type swapRequest struct {
	Token       string `json:"token"`
	Amount      string `json:"amount"`
	SlippagePct string `json:"slippagePct"`
	Gas         string `json:"gas"`
	OnV2        bool   `json:"v2"`
}

type swapResponse struct {
	OK       bool   `json:"ok"`
	Received string `json:"received"`
	TxHash   string `json:"txHash"`
	Error    string `json:"error"`
}

// Buy swaps base currency for tokens.
func (g *GatewayExecutor) Buy(ctx context.Context, tokenAddress string, amountBase, slippagePct decimal.Decimal, gas model.GasDirective, onV2 bool) (SwapResult, error) {
	return g.swap(ctx, "/swap/buy", tokenAddress, amountBase, slippagePct, gas, onV2)
}

// Sell swaps tokens for base currency.
func (g *GatewayExecutor) Sell(ctx context.Context, tokenAddress string, amountTokens, slippagePct decimal.Decimal, gas model.GasDirective, onV2 bool) (SwapResult, error) {
	return g.swap(ctx, "/swap/sell", tokenAddress, amountTokens, slippagePct, gas, onV2)
}

func (g *GatewayExecutor) swap(ctx context.Context, path, tokenAddress string, amount, slippagePct decimal.Decimal, gas model.GasDirective, onV2 bool) (SwapResult, error) {
	req := swapRequest{
		Token:       tokenAddress,
		Amount:      amount.String(),
		SlippagePct: slippagePct.String(),
		Gas:         string(gas),
		OnV2:        onV2,
	}
	var resp swapResponse
	if err := g.post(ctx, path, req, &resp); err != nil {
		return SwapResult{}, err
	}
	if !resp.OK {
		return SwapResult{}, &SwapError{TxHash: resp.TxHash, Reason: resp.Error}
	}
	received, err := decimal.NewFromString(resp.Received)
	if err != nil {
		return SwapResult{}, fmt.Errorf("gateway returned bad amount %q: %w", resp.Received, err)
	}
	return SwapResult{Received: received, TxHash: resp.TxHash}, nil
}

// IsApproved reports whether the token is approved for selling.
func (g *GatewayExecutor) IsApproved(ctx context.Context, tokenAddress string, onV2 bool) (bool, error) {
	var resp struct {
		Approved bool `json:"approved"`
	}
	req := map[string]interface{}{"token": tokenAddress, "v2": onV2}
	if err := g.post(ctx, "/approval/check", req, &resp); err != nil {
		return false, err
	}
	return resp.Approved, nil
}

// Approve submits an approval transaction for the token.
func (g *GatewayExecutor) Approve(ctx context.Context, tokenAddress string, onV2 bool) error {
	var resp struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}
	req := map[string]interface{}{"token": tokenAddress, "v2": onV2}
	if err := g.post(ctx, "/approval/request", req, &resp); err != nil {
		return err
	}
	if !resp.OK {
		return fmt.Errorf("approval rejected: %s", resp.Error)
	}
	return nil
}

// TokenBalance returns the wallet's balance of the token.
func (g *GatewayExecutor) TokenBalance(ctx context.Context, tokenAddress string) (decimal.Decimal, error) {
	var resp struct {
		Balance string `json:"balance"`
	}
	req := map[string]interface{}{"token": tokenAddress}
	if err := g.post(ctx, "/balance", req, &resp); err != nil {
		return decimal.Zero, err
	}
	balance, err := decimal.NewFromString(resp.Balance)
	if err != nil {
		return decimal.Zero, fmt.Errorf("gateway returned bad balance %q: %w", resp.Balance, err)
	}
	return balance, nil
}

func (g *GatewayExecutor) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("gateway %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gateway %s: unexpected status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("gateway %s: decode response: %w", path, err)
	}
	return nil
}
