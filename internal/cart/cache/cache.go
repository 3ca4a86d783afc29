package cache

import (
	"context"
	"errors"

	"github.com/fjod/go_cart/settlement-service/domain"
)

// CartCache holds stored carts between reads. Every Delete bumps the
// owner's generation; a fill carrying an older generation is refused, so a
// read that raced a write or a clear cannot put the old cart back.
type CartCache interface {
	Get(ctx context.Context, ownerID string) (*domain.Cart, error)
	// Generation is read before loading the cart a fill will store.
	Generation(ctx context.Context, ownerID string) (int64, error)
	// Fill stores cart only while the generation is still gen.
	Fill(ctx context.Context, ownerID string, gen int64, cart *domain.Cart) (bool, error)
	Delete(ctx context.Context, ownerID string) error
}

var ErrCacheMiss = errors.New("cache miss")
