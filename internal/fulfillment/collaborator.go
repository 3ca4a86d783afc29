package fulfillment

import (
	"context"
	"errors"

	"github.com/fjod/go_cart/settlement-service/domain"
)

// Collaborator is a downstream system told about a settled order. Send must
// be safe to repeat; the dispatcher retries until it succeeds.
type Collaborator interface {
	Send(ctx context.Context, event domain.SettledEvent) error
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
