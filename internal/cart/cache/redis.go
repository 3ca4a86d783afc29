package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/fjod/go_cart/settlement-service/domain"
	"github.com/redis/go-redis/v9"
)

const (
	defaultTTL = 15 * time.Minute
	// generations outlive any entry filled under them
	generationTTL = 24 * time.Hour
)

// RedisCache keeps the stored form of a cart under cart:<owner> and the
// owner's invalidation counter under cart-gen:<owner>. Prices are
// re-derived by the reader, so an entry never carries authority over money.
type RedisCache struct {
	client  *redis.Client
	baseTTL time.Duration
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client, baseTTL: defaultTTL}
}

func (r *RedisCache) Get(ctx context.Context, ownerID string) (*domain.Cart, error) {
	data, err := r.client.Get(ctx, entryKey(ownerID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("read cached cart %s: %w", ownerID, err)
	}

	var cart domain.Cart
	if err := json.Unmarshal(data, &cart); err != nil {
		return nil, fmt.Errorf("decode cached cart %s: %w", ownerID, err)
	}
	return &cart, nil
}

func (r *RedisCache) Generation(ctx context.Context, ownerID string) (int64, error) {
	gen, err := r.client.Get(ctx, generationKey(ownerID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read cart generation %s: %w", ownerID, err)
	}
	return gen, nil
}

// Fill writes the entry inside a WATCH on the generation key: a Delete that
// lands between the check and the write aborts the transaction.
func (r *RedisCache) Fill(ctx context.Context, ownerID string, gen int64, cart *domain.Cart) (bool, error) {
	data, err := json.Marshal(cart)
	if err != nil {
		return false, fmt.Errorf("encode cart %s: %w", ownerID, err)
	}
	// jitter spreads expiry so hot carts don't all miss at once
	ttl := r.baseTTL + time.Duration(rand.IntN(5))*time.Minute

	genKey := generationKey(ownerID)
	stored := false
	err = r.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, genKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != gen {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, entryKey(ownerID), data, ttl)
			return nil
		})
		if err == nil {
			stored = true
		}
		return err
	}, genKey)
	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("fill cart %s: %w", ownerID, err)
	}
	return stored, nil
}

func (r *RedisCache) Delete(ctx context.Context, ownerID string) error {
	genKey := generationKey(ownerID)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, genKey)
		pipe.Expire(ctx, genKey, generationTTL)
		pipe.Del(ctx, entryKey(ownerID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("invalidate cart %s: %w", ownerID, err)
	}
	return nil
}

func entryKey(ownerID string) string {
	return "cart:" + ownerID
}

func generationKey(ownerID string) string {
	return "cart-gen:" + ownerID
}
