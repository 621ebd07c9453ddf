package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OrderKind enumerates the supported trigger combinations of direction and
// comparison. A buy order that waits for the price to rise has no use on an
// AMM and is not representable.
type OrderKind int

const (
	// KindLimitBuy buys once the price drops to the limit or below.
	KindLimitBuy OrderKind = iota
	// KindStopLoss sells once the price drops to the limit or below.
	KindStopLoss
	// KindLimitSell sells once the price rises to the limit or above.
	KindLimitSell
)

func (k OrderKind) String() string {
	switch k {
	case KindLimitBuy:
		return "limit buy"
	case KindStopLoss:
		return "stop loss"
	case KindLimitSell:
		return "limit sell"
	default:
		return "unknown"
	}
}

// IsBuy reports whether the order spends base currency for tokens.
func (k OrderKind) IsBuy() bool {
	return k == KindLimitBuy
}

// ComparisonSymbol returns the comparison used against the limit price.
func (k OrderKind) ComparisonSymbol() string {
	if k == KindLimitSell {
		return ">"
	}
	return "<"
}

// GasDirective controls the gas price of the swap transaction. An empty
// directive means the network default; a leading '+' means an offset in gwei
// over the default; anything else is an absolute price in wei.
type GasDirective string

// IsDefault reports whether the network gas price should be used unchanged.
func (g GasDirective) IsDefault() bool {
	return g == ""
}

// IsOffset reports whether the directive is a gwei offset over the default.
func (g GasDirective) IsOffset() bool {
	return strings.HasPrefix(string(g), "+")
}

// Describe renders the directive for status output.
func (g GasDirective) Describe() string {
	switch {
	case g.IsDefault():
		return "network default"
	case g.IsOffset():
		return fmt.Sprintf("network default %s gwei", string(g))
	default:
		wei, err := decimal.NewFromString(string(g))
		if err != nil {
			return string(g)
		}
		return fmt.Sprintf("%s gwei", wei.Shift(-9).StringFixed(1))
	}
}

// Token is a traded asset under management, keyed by contract address.
// EffectiveBuyPrice is the volume-weighted cost basis in base currency per
// token, updated after every successful buy; nil until the first buy.
type Token struct {
	Address           string           `db:"address"`
	Symbol            string           `db:"symbol"`
	Name              string           `db:"name"`
	Decimals          int              `db:"decimals"`
	Icon              string           `db:"icon"`
	EffectiveBuyPrice *decimal.Decimal `db:"effective_buy_price"`
}

// Order is the immutable identity of a conditional order. Run-state (active,
// tracked extreme) lives in the watcher that owns the order, not here.
//
// Amount is denominated in base currency for buys and in token units for
// sells. A nil LimitPrice means "trigger at the current market price on the
// first sample". A nil TrailingPct means no trailing stop.
type Order struct {
	ID           int64            `db:"id"`
	TokenAddress string           `db:"token_address"`
	Kind         OrderKind        `db:"kind"`
	LimitPrice   *decimal.Decimal `db:"limit_price"`
	TrailingPct  *decimal.Decimal `db:"trailing_pct"`
	Amount       decimal.Decimal  `db:"amount"`
	SlippagePct  decimal.Decimal  `db:"slippage_pct"`
	Gas          GasDirective     `db:"gas"`
	Created      time.Time        `db:"created"`
}

// Quote is one tick's price snapshot for a token: the sell-side and buy-side
// prices in base currency per token, and which pool generation sourced each
// side. A zero price signals "unavailable". Quotes are never persisted.
type Quote struct {
	Sell     decimal.Decimal
	Buy      decimal.Decimal
	SellOnV2 bool
	BuyOnV2  bool
}
