package rates

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fjod/go_cart/settlement-service/domain"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// RedisKey is the hash holding currency -> rate against the base currency.
const RedisKey = "fx:rates"

var ErrUnsupportedCurrency = fmt.Errorf("%w: unsupported currency", domain.ErrValidation)

// Static serves rates from configuration.
type Static struct {
	base  string
	rates map[string]decimal.Decimal
}

// NewStatic parses rates given as decimal strings. Keys are case-insensitive.
func NewStatic(base string, raw map[string]string) (*Static, error) {
	s := &Static{base: strings.ToUpper(base), rates: make(map[string]decimal.Decimal, len(raw))}
	for cur, v := range raw {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return nil, fmt.Errorf("rate for %s: %w", cur, err)
		}
		if !d.IsPositive() {
			return nil, fmt.Errorf("rate for %s must be positive, got %s", cur, v)
		}
		s.rates[strings.ToUpper(cur)] = d
	}
	return s, nil
}

func (s *Static) Rate(_ context.Context, currency string) (decimal.Decimal, error) {
	if currency == s.base {
		return decimal.NewFromInt(1), nil
	}
	r, ok := s.rates[currency]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w %s", ErrUnsupportedCurrency, currency)
	}
	return r, nil
}

type fallback interface {
	Rate(ctx context.Context, currency string) (decimal.Decimal, error)
}

// Redis reads rates published by the rate collaborator into a Redis hash and
// falls back to the static table when a currency is absent or Redis is down.
type Redis struct {
	client   *redis.Client
	base     string
	fallback fallback
	log      *zap.Logger
}

func NewRedis(client *redis.Client, base string, fb fallback, log *zap.Logger) *Redis {
	return &Redis{client: client, base: strings.ToUpper(base), fallback: fb, log: log}
}

func (r *Redis) Rate(ctx context.Context, currency string) (decimal.Decimal, error) {
	if currency == r.base {
		return decimal.NewFromInt(1), nil
	}

	raw, err := r.client.HGet(ctx, RedisKey, currency).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return r.fallback.Rate(ctx, currency)
	case err != nil:
		r.log.Warn("redis rate lookup failed, using static rates", zap.String("currency", currency), zap.Error(err))
		return r.fallback.Rate(ctx, currency)
	}

	d, err := decimal.NewFromString(raw)
	if err != nil || !d.IsPositive() {
		r.log.Warn("ignoring malformed rate", zap.String("currency", currency), zap.String("value", raw))
		return r.fallback.Rate(ctx, currency)
	}
	return d, nil
}

// Publish stores rates in the hash, replacing existing values.
func (r *Redis) Publish(ctx context.Context, rates map[string]decimal.Decimal) error {
	if len(rates) == 0 {
		return nil
	}
	fields := make(map[string]any, len(rates))
	for cur, d := range rates {
		fields[strings.ToUpper(cur)] = d.String()
	}
	if err := r.client.HSet(ctx, RedisKey, fields).Err(); err != nil {
		return fmt.Errorf("redis hset failed: %w", err)
	}
	return nil
}
