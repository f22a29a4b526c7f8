package ops

import (
	"context"
	"database/sql"
	"strings"

	"github.com/hpungsan/clipvault/internal/db"
	"github.com/hpungsan/clipvault/internal/snippet"
)

// ListInput contains parameters for the List operation.
type ListInput struct {
	NoteID     string // optional filter
	Status     string // optional filter
	SourceType string // optional filter
	Limit      int    // default: 20, max: 100
	Offset     int    // default: 0
}

// ListOutput contains the result of the List operation.
type ListOutput struct {
	Items      []snippet.Summary `json:"items"`
	Pagination Pagination        `json:"pagination"`
	Sort       string            `json:"sort"`
}

// List retrieves snippet summaries, newest first, with pagination.
func List(ctx context.Context, database *sql.DB, input ListInput) (*ListOutput, error) {
	filter, err := buildFilter(input.NoteID, input.Status, input.SourceType)
	if err != nil {
		return nil, err
	}
	limit, offset := page(input.Limit, input.Offset, DefaultListLimit, MaxListLimit)

	summaries, total, err := db.ListSnippets(ctx, database, filter, limit, offset)
	if err != nil {
		return nil, err
	}

	// Ensure we return an empty array rather than nil
	if summaries == nil {
		summaries = []snippet.Summary{}
	}

	return &ListOutput{
		Items:      summaries,
		Pagination: newPagination(limit, offset, len(summaries), total),
		Sort:       "created_at_desc",
	}, nil
}

func buildFilter(noteID, status, sourceType string) (db.ListFilter, error) {
	st, err := ParseStatus(status)
	if err != nil {
		return db.ListFilter{}, err
	}
	srcType, err := ParseSourceType(sourceType)
	if err != nil {
		return db.ListFilter{}, err
	}
	return db.ListFilter{
		NoteID:     strings.TrimSpace(noteID),
		Status:     st,
		SourceType: srcType,
	}, nil
}
