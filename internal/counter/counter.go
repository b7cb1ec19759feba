// Package counter stores daily usage counters outside the identity store.
//
// It backs the anonymous (device) quota. Counters are keyed by an opaque
// subject key and carry the UTC day they were last written on, so a row from
// an earlier day reads as zero without any cleanup job.
package counter

import (
	"context"

	"github.com/DukeRupert/dentaistudy/internal/domain"
)

// Store is a per-key daily counter.
type Store interface {
	// Get returns the counter for key as seen on day.
	Get(ctx context.Context, key, day string) (domain.QuotaCounter, error)

	// ConsumeUpTo increments the counter for key on day unless it has already
	// reached limit. The returned counter is the state after the call.
	ConsumeUpTo(ctx context.Context, key, day string, limit int) (domain.QuotaCounter, bool, error)
}
