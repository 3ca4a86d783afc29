package reservation

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Expirer periodically releases quotes whose hold ran out.
type Expirer struct {
	manager *Manager
	tick    time.Duration
	log     *zap.Logger
}

func NewExpirer(manager *Manager, tick time.Duration, log *zap.Logger) *Expirer {
	if tick <= 0 {
		tick = 30 * time.Second
	}
	return &Expirer{manager: manager, tick: tick, log: log}
}

func (e *Expirer) Run(ctx context.Context) {
	ticker := time.NewTicker(e.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, err := e.manager.ExpireDue(ctx); err != nil && ctx.Err() == nil {
				e.log.Error("failed to expire quotes", zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}
