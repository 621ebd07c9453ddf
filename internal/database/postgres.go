package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"dexwatch/internal/model"
)

// PostgresRepository implements the Repository interface on a pgx pool.
// Every operation acquires a connection for its own scope and releases it
// before returning, including on failure.
type PostgresRepository struct {
	Pool *pgxpool.Pool
}

// NewPostgresRepository creates a PostgresRepository on the given pool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{Pool: pool}
}

// Decimal columns are stored as TEXT: order amounts and prices routinely
// exceed the precision that is comfortable in a float column, and the
// application parses them into decimals anyway.
const migrateSQL = `
CREATE TABLE IF NOT EXISTS tokens (
	address TEXT PRIMARY KEY,
	symbol VARCHAR(20) NOT NULL,
	name VARCHAR(100) NOT NULL,
	decimals INT NOT NULL,
	icon TEXT NOT NULL DEFAULT '',
	effective_buy_price TEXT
);
CREATE TABLE IF NOT EXISTS orders (
	id BIGSERIAL PRIMARY KEY,
	token_address TEXT NOT NULL REFERENCES tokens(address) ON DELETE CASCADE,
	kind SMALLINT NOT NULL,
	limit_price TEXT,
	trailing_pct TEXT,
	amount TEXT NOT NULL,
	slippage_pct TEXT NOT NULL,
	gas TEXT NOT NULL DEFAULT '',
	created TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`

// Migrate creates the schema if it does not exist yet.
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	conn, err := r.Pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, migrateSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// LoadTokens returns all tokens under management.
func (r *PostgresRepository) LoadTokens(ctx context.Context) ([]model.Token, error) {
	conn, err := r.Pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx,
		`SELECT address, symbol, name, decimals, icon, effective_buy_price FROM tokens ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("query tokens: %w", err)
	}
	defer rows.Close()

	var tokens []model.Token
	for rows.Next() {
		var t model.Token
		var effPrice *string
		if err := rows.Scan(&t.Address, &t.Symbol, &t.Name, &t.Decimals, &t.Icon, &effPrice); err != nil {
			return nil, fmt.Errorf("scan token: %w", err)
		}
		if effPrice != nil {
			p, err := decimal.NewFromString(*effPrice)
			if err != nil {
				return nil, fmt.Errorf("parse effective buy price for %s: %w", t.Address, err)
			}
			t.EffectiveBuyPrice = &p
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

// LoadOrders returns all orders for one token.
func (r *PostgresRepository) LoadOrders(ctx context.Context, tokenAddress string) ([]model.Order, error) {
	conn, err := r.Pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx,
		`SELECT id, token_address, kind, limit_price, trailing_pct, amount, slippage_pct, gas, created
		 FROM orders WHERE token_address = $1 ORDER BY id`, tokenAddress)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		var o model.Order
		var kind int16
		var limitPrice, trailingPct *string
		var amount, slippage, gas string
		var created time.Time
		if err := rows.Scan(&o.ID, &o.TokenAddress, &kind, &limitPrice, &trailingPct, &amount, &slippage, &gas, &created); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		o.Kind = model.OrderKind(kind)
		o.Gas = model.GasDirective(gas)
		o.Created = created
		if o.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("parse amount for order %d: %w", o.ID, err)
		}
		if o.SlippagePct, err = decimal.NewFromString(slippage); err != nil {
			return nil, fmt.Errorf("parse slippage for order %d: %w", o.ID, err)
		}
		if limitPrice != nil {
			p, err := decimal.NewFromString(*limitPrice)
			if err != nil {
				return nil, fmt.Errorf("parse limit price for order %d: %w", o.ID, err)
			}
			o.LimitPrice = &p
		}
		if trailingPct != nil {
			p, err := decimal.NewFromString(*trailingPct)
			if err != nil {
				return nil, fmt.Errorf("parse trailing stop for order %d: %w", o.ID, err)
			}
			o.TrailingPct = &p
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// CreateToken inserts a new token record.
func (r *PostgresRepository) CreateToken(ctx context.Context, token model.Token) error {
	conn, err := r.Pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	var effPrice *string
	if token.EffectiveBuyPrice != nil {
		s := token.EffectiveBuyPrice.String()
		effPrice = &s
	}
	_, err = conn.Exec(ctx,
		`INSERT INTO tokens (address, symbol, name, decimals, icon, effective_buy_price)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		token.Address, token.Symbol, token.Name, token.Decimals, token.Icon, effPrice)
	if err != nil {
		return fmt.Errorf("insert token %s: %w", token.Address, err)
	}
	return nil
}

// CreateOrder inserts a new order record and fills in the generated id.
func (r *PostgresRepository) CreateOrder(ctx context.Context, order *model.Order) error {
	conn, err := r.Pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	var limitPrice, trailingPct *string
	if order.LimitPrice != nil {
		s := order.LimitPrice.String()
		limitPrice = &s
	}
	if order.TrailingPct != nil {
		s := order.TrailingPct.String()
		trailingPct = &s
	}
	err = conn.QueryRow(ctx,
		`INSERT INTO orders (token_address, kind, limit_price, trailing_pct, amount, slippage_pct, gas, created)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		order.TokenAddress, int16(order.Kind), limitPrice, trailingPct,
		order.Amount.String(), order.SlippagePct.String(), string(order.Gas), order.Created,
	).Scan(&order.ID)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// SaveEffectiveBuyPrice persists a token's running cost basis.
func (r *PostgresRepository) SaveEffectiveBuyPrice(ctx context.Context, tokenAddress string, price decimal.Decimal) error {
	conn, err := r.Pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx,
		`UPDATE tokens SET effective_buy_price = $1 WHERE address = $2`,
		price.String(), tokenAddress)
	if err != nil {
		return fmt.Errorf("update effective buy price for %s: %w", tokenAddress, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update effective buy price: token %s not found", tokenAddress)
	}
	return nil
}

// DeleteOrder removes an order record.
func (r *PostgresRepository) DeleteOrder(ctx context.Context, orderID int64) error {
	conn, err := r.Pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, `DELETE FROM orders WHERE id = $1`, orderID); err != nil {
		return fmt.Errorf("delete order %d: %w", orderID, err)
	}
	return nil
}

// DeleteToken removes a token record; its orders cascade.
func (r *PostgresRepository) DeleteToken(ctx context.Context, tokenAddress string) error {
	conn, err := r.Pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, `DELETE FROM tokens WHERE address = $1`, tokenAddress); err != nil {
		return fmt.Errorf("delete token %s: %w", tokenAddress, err)
	}
	return nil
}
