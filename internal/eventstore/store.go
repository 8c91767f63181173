package eventstore

import (
	"context"
	"time"
)

// Store is the append-only event log.
type Store interface {
	// Append persists e and returns it with Seq and At filled in.
	Append(ctx context.Context, e Entry) (Entry, error)
	// GetByBuildID lists the entries of one build id in append order.
	GetByBuildID(ctx context.Context, buildID string) ([]Entry, error)
	// GetRange lists entries appended within [start, end].
	GetRange(ctx context.Context, start, end time.Time) ([]Entry, error)
	// After lists entries with Seq greater than seq; After(ctx, 0) is the whole log.
	After(ctx context.Context, seq int64) ([]Entry, error)
	Close() error
}
