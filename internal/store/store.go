// Package store remembers which findings have already been delivered. It is
// the only state that outlives a run.
package store

import (
	"context"
	"fmt"

	"github.com/agenthands/driftwatch/internal/config"
	"github.com/agenthands/driftwatch/internal/core/model"
	"github.com/agenthands/driftwatch/internal/driver"
	"github.com/agenthands/driftwatch/internal/logging"
)

// Store is keyed by fingerprint. MarkDelivered must only be called after the
// notifier confirmed delivery. Implementations are safe for concurrent use;
// entries never expire.
type Store interface {
	IsNew(ctx context.Context, fp model.Fingerprint) (bool, error)
	MarkDelivered(ctx context.Context, rec model.NotificationRecord) error
	// RecordFailure logs a terminal delivery failure without suppressing the
	// fingerprint.
	RecordFailure(ctx context.Context, rec model.NotificationRecord) error
	Close() error
}

// New opens the backend selected by cfg.Backend.
func New(ctx context.Context, cfg config.StoreConfig, logger logging.Logger) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		if logger != nil {
			logger.Warn("Using in-memory finding store; delivered findings are forgotten on restart")
		}
		return NewMemoryStore(), nil
	case "redis":
		s, err := NewRedisStore(ctx, cfg.RedisURL, cfg.KeyPrefix)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "memgraph":
		d, err := driver.NewMemgraphDriver(ctx, cfg.GraphURI, cfg.GraphUser, cfg.GraphPass, logger)
		if err != nil {
			return nil, fmt.Errorf("connect to memgraph: %w", err)
		}
		if err := d.BuildIndices(ctx); err != nil {
			return nil, err
		}
		return NewGraphStore(d), nil
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", cfg.Backend)
	}
}
