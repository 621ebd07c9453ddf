package database

import (
	"context"

	"github.com/shopspring/decimal"

	"dexwatch/internal/model"
)

// Repository defines the standard interface for database operations.
type Repository interface {
	Migrate(ctx context.Context) error

	LoadTokens(ctx context.Context) ([]model.Token, error)
	LoadOrders(ctx context.Context, tokenAddress string) ([]model.Order, error)

	CreateToken(ctx context.Context, token model.Token) error
	CreateOrder(ctx context.Context, order *model.Order) error

	// SaveEffectiveBuyPrice persists a token's running volume-weighted cost
	// basis after a successful buy.
	SaveEffectiveBuyPrice(ctx context.Context, tokenAddress string, price decimal.Decimal) error

	DeleteOrder(ctx context.Context, orderID int64) error
	DeleteToken(ctx context.Context, tokenAddress string) error
}
