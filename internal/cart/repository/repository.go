package repository

import (
	"context"
	"errors"
	"time"

	"github.com/fjod/go_cart/settlement-service/domain"
)

var (
	ErrCartNotFound = errors.New("cart not found")
	// ErrStaleCart means the stored cart changed since it was read.
	ErrStaleCart = errors.New("cart was modified concurrently")
)

type CartRepository interface {
	GetCart(ctx context.Context, ownerID string) (*domain.Cart, error)
	// SaveCart replaces the stored lines if the cart still carries the
	// expected updated_at. A zero expected time means the cart must not exist yet.
	SaveCart(ctx context.Context, cart *domain.Cart, expected time.Time) error
	DeleteCart(ctx context.Context, ownerID string) error
	// DeleteCartIfUnchangedSince removes the cart only when it was last
	// modified at or before t.
	DeleteCartIfUnchangedSince(ctx context.Context, ownerID string, t time.Time) (bool, error)
}
