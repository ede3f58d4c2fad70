// Package settings stores admin-tunable storefront settings in Redis.
package settings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/imrishuroy/storefront-fulfillment/internal/apperr"
)

// OnlineDiscountKey holds the percentage discount granted for online payment.
const OnlineDiscountKey = "storefront:settings:online_discount_pct"

// Client is the subset of *redis.Client the store uses.
type Client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// Store reads and writes settings.
type Store struct {
	rdb Client
}

// NewStore returns a settings Store.
func NewStore(rdb Client) *Store {
	return &Store{rdb: rdb}
}

// OnlineDiscount returns the configured percentage, zero when unset.
func (s *Store) OnlineDiscount(ctx context.Context) (decimal.Decimal, error) {
	v, err := s.rdb.Get(ctx, OnlineDiscountKey).Result()
	if errors.Is(err, redis.Nil) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("get online discount: %w", err)
	}
	pct, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse online discount %q: %w", v, err)
	}
	return pct, nil
}

// SetOnlineDiscount stores pct, which must lie in [0, 100].
func (s *Store) SetOnlineDiscount(ctx context.Context, pct decimal.Decimal) error {
	if pct.IsNegative() || pct.GreaterThan(decimal.NewFromInt(100)) {
		return apperr.Validation("percentage", "must be between 0 and 100")
	}
	if err := s.rdb.Set(ctx, OnlineDiscountKey, pct.String(), 0).Err(); err != nil {
		return fmt.Errorf("set online discount: %w", err)
	}
	return nil
}
