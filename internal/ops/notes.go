package ops

import (
	"context"
	"database/sql"

	"github.com/hpungsan/clipvault/internal/db"
	"github.com/hpungsan/clipvault/internal/snippet"
)

// NotesInput contains parameters for the Notes operation.
type NotesInput struct {
	Limit  int // default: 50, max: 200
	Offset int // default: 0
}

// NotesOutput contains the result of the Notes operation.
type NotesOutput struct {
	Items      []snippet.Note `json:"items"`
	Pagination Pagination     `json:"pagination"`
	Sort       string         `json:"sort"`
}

// Notes lists provenance groups, most recently active first.
func Notes(ctx context.Context, database *sql.DB, input NotesInput) (*NotesOutput, error) {
	limit, offset := page(input.Limit, input.Offset, DefaultNotesLimit, MaxNotesLimit)

	notes, total, err := db.ListNotes(ctx, database, limit, offset)
	if err != nil {
		return nil, err
	}
	if notes == nil {
		notes = []snippet.Note{}
	}

	return &NotesOutput{
		Items:      notes,
		Pagination: newPagination(limit, offset, len(notes), total),
		Sort:       "updated_at_desc",
	}, nil
}
