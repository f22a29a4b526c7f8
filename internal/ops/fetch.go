package ops

import (
	"context"
	"database/sql"

	"github.com/hpungsan/clipvault/internal/db"
	"github.com/hpungsan/clipvault/internal/snippet"
)

// FetchInput contains parameters for the Fetch operation.
type FetchInput struct {
	ID          string
	IncludeHTML *bool // default: true (nil means default)
}

// FetchOutput contains the result of the Fetch operation.
type FetchOutput struct {
	snippet.Snippet // embedded (copy, not pointer)
}

// Fetch retrieves a snippet with its assets by ID.
func Fetch(ctx context.Context, database *sql.DB, input FetchInput) (*FetchOutput, error) {
	id, err := requireID(input.ID)
	if err != nil {
		return nil, err
	}

	s, err := db.GetSnippet(ctx, database, id)
	if err != nil {
		return nil, err
	}

	output := &FetchOutput{Snippet: *s}
	if input.IncludeHTML != nil && !*input.IncludeHTML {
		output.ContentHTML = ""
	}
	return output, nil
}
