package db

import (
	"context"
	"database/sql"
	"strings"

	"github.com/hpungsan/clipvault/internal/enrich"
	"github.com/hpungsan/clipvault/internal/errors"
	"github.com/hpungsan/clipvault/internal/snippet"
)

// MaxSearchQueryChars bounds the raw query length accepted by SearchSnippets.
const MaxSearchQueryChars = 500

// Highlight markers emitted by snippet(); callers escape content and then
// swap these for markup.
const (
	HighlightOpen  = "[[[B]]]"
	HighlightClose = "[[[/B]]]"
)

// SearchResult is a ranked match with its highlighted context.
type SearchResult struct {
	Summary snippet.Summary
	Snippet string
}

// BuildFTSQuery turns free text into an FTS5 query: each token is quoted so
// user input can never be parsed as FTS syntax, and tokens are ANDed.
// Returns "" when the text has no searchable tokens.
func BuildFTSQuery(text string) string {
	tokens := enrich.Tokenize(text)
	if len(tokens) == 0 {
		return ""
	}
	quoted := make([]string, len(tokens))
	for i, t := range tokens {
		quoted[i] = `"` + strings.ReplaceAll(t, `"`, `""`) + `"`
	}
	return strings.Join(quoted, " ")
}

// SearchSnippets runs a BM25-ranked full-text search over snippet text,
// derived fields, OCR text and source titles. Title matches weigh 5x.
func SearchSnippets(ctx context.Context, db *sql.DB, text string, f ListFilter, limit, offset int) ([]SearchResult, int, error) {
	match := BuildFTSQuery(text)
	if match == "" {
		return nil, 0, errors.NewInvalidRequest("query has no searchable terms")
	}

	where, args := f.where()
	cond := " WHERE snippets_fts MATCH ?"
	if where != "" {
		cond += " AND " + strings.TrimPrefix(where, " WHERE ")
	}
	args = append([]any{match}, args...)

	from := ` FROM snippets_fts JOIN snippets s ON s.id = snippets_fts.snippet_id`

	var total int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*)`+from+cond, args...).Scan(&total); err != nil {
		return nil, 0, errors.NewInternal(err)
	}

	query := `SELECT ` + summaryColumns + `,
		snippet(snippets_fts, 2, '` + HighlightOpen + `', '` + HighlightClose + `', '…', 24)` +
		from + cond +
		` ORDER BY bm25(snippets_fts, 0.0, 5.0, 1.0), s.created_at DESC LIMIT ? OFFSET ?`

	rows, err := db.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, errors.NewInternal(err)
	}
	defer rows.Close()

	var out []SearchResult
	for rows.Next() {
		var (
			r          SearchResult
			sourceType string
			status     string
			text       string
		)
		err := rows.Scan(
			&r.Summary.ID, &r.Summary.NoteID, &r.Summary.SourceApp, &r.Summary.SourceURL,
			&r.Summary.SourceTitle, &sourceType,
			&r.Summary.Summary, &r.Summary.Keywords, &r.Summary.Topics, &status,
			&text, &r.Summary.AssetCount,
			&r.Summary.CreatedAt, &r.Summary.UpdatedAt,
			&r.Snippet,
		)
		if err != nil {
			return nil, 0, errors.NewInternal(err)
		}
		r.Summary.SourceType = snippet.SourceType(sourceType)
		r.Summary.Status = snippet.Status(status)
		r.Summary.Preview = snippet.Preview(text, snippet.PreviewChars)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.NewInternal(err)
	}
	return out, total, nil
}
