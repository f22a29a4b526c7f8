package ops

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/hpungsan/clipvault/internal/db"
	"github.com/hpungsan/clipvault/internal/errors"
)

// Enqueuer schedules snippets for enrichment.
type Enqueuer interface {
	Enqueue(id string)
}

// ReprocessInput selects snippets to enrich again: either explicit IDs or
// every snippet currently in Status. Exactly one must be set.
type ReprocessInput struct {
	IDs    []string
	Status string

	// Resume also resets snippets left processing by a process that has
	// exited. Without it, snippets being enriched right now are skipped.
	Resume bool
}

// ReprocessOutput contains the result of the Reprocess operation.
type ReprocessOutput struct {
	Queued []string `json:"queued"`
	Count  int      `json:"count"`

	// InFlight lists snippets skipped because enrichment is running on them.
	InFlight []string `json:"in_flight,omitempty"`
}

// Reprocess resets the selected snippets to pending and enqueues them in order.
// Derived fields are kept until the new run overwrites them. With explicit IDs,
// all of them must exist or nothing is queued. Status never moves back from
// processing: in-flight snippets are reported in InFlight instead.
func Reprocess(ctx context.Context, database *sql.DB, queue Enqueuer, input ReprocessInput) (*ReprocessOutput, error) {
	ids, err := reprocessTargets(ctx, database, input)
	if err != nil {
		return nil, err
	}

	out := &ReprocessOutput{Queued: make([]string, 0, len(ids))}
	for _, id := range ids {
		reset, err := db.ResetToPending(ctx, database, id, input.Resume)
		if err != nil {
			if errors.Is(err, errors.ErrNotFound) {
				continue
			}
			return nil, err
		}
		if !reset {
			out.InFlight = append(out.InFlight, id)
			continue
		}
		queue.Enqueue(id)
		out.Queued = append(out.Queued, id)
	}
	out.Count = len(out.Queued)
	return out, nil
}

func reprocessTargets(ctx context.Context, database *sql.DB, input ReprocessInput) ([]string, error) {
	hasIDs := len(input.IDs) > 0
	hasStatus := strings.TrimSpace(input.Status) != ""
	if hasIDs == hasStatus {
		return nil, errors.NewInvalidRequest("specify exactly one of ids or status")
	}

	if hasStatus {
		st, err := ParseStatus(input.Status)
		if err != nil {
			return nil, err
		}
		return db.ListSnippetIDsByStatus(ctx, database, st)
	}

	if len(input.IDs) > MaxReprocessIDs {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("at most %d ids per request", MaxReprocessIDs))
	}
	seen := make(map[string]bool, len(input.IDs))
	ids := make([]string, 0, len(input.IDs))
	for _, raw := range input.IDs {
		id := strings.TrimSpace(raw)
		if id == "" {
			return nil, errors.NewInvalidRequest("ids must not contain empty values")
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		if _, err := db.GetSnippet(ctx, database, id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
