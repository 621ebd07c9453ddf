package chain

import (
	"context"

	"github.com/shopspring/decimal"

	"dexwatch/internal/model"
)

// PriceOracle quotes the current buy-side and sell-side prices for a token.
// A zero price inside the quote means the price is unavailable this tick.
type PriceOracle interface {
	Quote(ctx context.Context, tokenAddress string) (model.Quote, error)
}

// SwapResult is the realized outcome of a successful swap.
type SwapResult struct {
	// Received is the amount obtained: tokens for a buy, base currency for
	// a sell.
	Received decimal.Decimal
	TxHash   string
}

// TradeExecutor executes swaps and manages exchange approvals.
type TradeExecutor interface {
	// Buy swaps amountBase of base currency for tokens.
	Buy(ctx context.Context, tokenAddress string, amountBase, slippagePct decimal.Decimal, gas model.GasDirective, onV2 bool) (SwapResult, error)
	// Sell swaps amountTokens of the token for base currency.
	Sell(ctx context.Context, tokenAddress string, amountTokens, slippagePct decimal.Decimal, gas model.GasDirective, onV2 bool) (SwapResult, error)

	IsApproved(ctx context.Context, tokenAddress string, onV2 bool) (bool, error)
	Approve(ctx context.Context, tokenAddress string, onV2 bool) error

	// TokenBalance returns the wallet's current balance of the token in
	// token units.
	TokenBalance(ctx context.Context, tokenAddress string) (decimal.Decimal, error)
}

// SwapError is returned when a swap is rejected or the transaction reverts.
// TxHash is set when the transaction made it on chain before failing.
type SwapError struct {
	TxHash string
	Reason string
}

func (e *SwapError) Error() string {
	if e.TxHash != "" {
		return "swap failed: " + e.Reason + " (tx " + e.TxHash + ")"
	}
	return "swap failed: " + e.Reason
}
