package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOrderKind(t *testing.T) {
	assert.Equal(t, "limit buy", KindLimitBuy.String())
	assert.Equal(t, "stop loss", KindStopLoss.String())
	assert.Equal(t, "limit sell", KindLimitSell.String())
	assert.Equal(t, "unknown", OrderKind(42).String())

	assert.True(t, KindLimitBuy.IsBuy())
	assert.False(t, KindStopLoss.IsBuy())
	assert.False(t, KindLimitSell.IsBuy())

	assert.Equal(t, "<", KindLimitBuy.ComparisonSymbol())
	assert.Equal(t, "<", KindStopLoss.ComparisonSymbol())
	assert.Equal(t, ">", KindLimitSell.ComparisonSymbol())
}

func TestGasDirective(t *testing.T) {
	assert.True(t, GasDirective("").IsDefault())
	assert.False(t, GasDirective("+1").IsDefault())

	assert.True(t, GasDirective("+0.1").IsOffset())
	assert.False(t, GasDirective("5000000000").IsOffset())

	assert.Equal(t, "network default", GasDirective("").Describe())
	assert.Equal(t, "network default +0.1 gwei", GasDirective("+0.1").Describe())
	assert.Equal(t, "5.0 gwei", GasDirective("5000000000").Describe())
}
