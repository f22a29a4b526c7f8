package ops

import (
	"context"
	"database/sql"
	"fmt"
	"html"
	"strings"
	"unicode/utf8"

	"github.com/hpungsan/clipvault/internal/db"
	"github.com/hpungsan/clipvault/internal/errors"
	"github.com/hpungsan/clipvault/internal/snippet"
)

// Search limits
const (
	DefaultSearchLimit = 20
	MaxSearchLimit     = 100
	MaxQueryLength     = db.MaxSearchQueryChars
	MaxSnippetChars    = 300
)

// SearchInput contains parameters for the Search operation.
type SearchInput struct {
	Query      string // required
	NoteID     string // optional filter
	Status     string // optional filter
	SourceType string // optional filter
	Limit      int    // default: 20, max: 100
	Offset     int    // default: 0
}

// SearchResultItem wraps a snippet summary with a match snippet.
type SearchResultItem struct {
	snippet.Summary
	// Match is HTML-safe: user content is escaped; only <b>...</b>
	// highlight tags are present.
	Match string `json:"match"`
}

// SearchOutput contains the result of the Search operation.
type SearchOutput struct {
	Items      []SearchResultItem `json:"items"`
	Pagination Pagination         `json:"pagination"`
	Sort       string             `json:"sort"` // "relevance"
}

// Search performs full-text search across snippets, their derived fields and OCR text.
// Results are ranked by relevance (BM25) with source title matches weighted 5x higher.
func Search(ctx context.Context, database *sql.DB, input SearchInput) (*SearchOutput, error) {
	query := strings.TrimSpace(input.Query)
	if query == "" {
		return nil, errors.NewInvalidRequest("query is required")
	}
	if utf8.RuneCountInString(query) > MaxQueryLength {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("query exceeds maximum length of %d characters", MaxQueryLength))
	}

	filter, err := buildFilter(input.NoteID, input.Status, input.SourceType)
	if err != nil {
		return nil, err
	}
	limit, offset := page(input.Limit, input.Offset, DefaultSearchLimit, MaxSearchLimit)

	results, total, err := db.SearchSnippets(ctx, database, query, filter, limit, offset)
	if err != nil {
		return nil, err
	}

	items := make([]SearchResultItem, len(results))
	for i, r := range results {
		// Escape first, then truncate: truncation must see the final markup.
		match := escapeSnippetHTML(r.Snippet)
		match = truncateSnippet(match, MaxSnippetChars)

		items[i] = SearchResultItem{
			Summary: r.Summary,
			Match:   match,
		}
	}

	return &SearchOutput{
		Items:      items,
		Pagination: newPagination(limit, offset, len(items), total),
		Sort:       "relevance",
	}, nil
}

// truncateSnippet cuts an escaped match to at most maxRunes runes (plus "...").
// It never splits a rune, a tag or an entity, prefers a word boundary, and
// closes any <b> left open by the cut.
func truncateSnippet(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return "..."
	}
	if utf8.RuneCountInString(s) <= maxRunes {
		return s
	}

	cut := 0
	for i := range s {
		if maxRunes == 0 {
			cut = i
			break
		}
		maxRunes--
	}
	out := s[:cut]

	// Drop a dangling tag or entity fragment.
	if lt := strings.LastIndexByte(out, '<'); lt != -1 && !strings.Contains(out[lt:], ">") {
		out = out[:lt]
	}
	if amp := strings.LastIndexByte(out, '&'); amp != -1 && !strings.Contains(out[amp:], ";") {
		out = out[:amp]
	}

	if sp := strings.LastIndexByte(out, ' '); sp > len(out)/2 {
		out = out[:sp]
	}

	for range strings.Count(out, "<b>") - strings.Count(out, "</b>") {
		out += "</b>"
	}
	return out + "..."
}

// escapeSnippetHTML escapes clipboard content in a match while turning the
// highlight markers into <b> tags. Copied HTML must never reach a page unescaped.
func escapeSnippetHTML(s string) string {
	const (
		openPlaceholder  = "\x00CV_B_OPEN\x00"
		closePlaceholder = "\x00CV_B_CLOSE\x00"
	)

	s = strings.ReplaceAll(s, db.HighlightOpen, openPlaceholder)
	s = strings.ReplaceAll(s, db.HighlightClose, closePlaceholder)

	s = html.EscapeString(s)

	// Restore highlight tags (and only highlight tags).
	s = strings.ReplaceAll(s, openPlaceholder, "<b>")
	s = strings.ReplaceAll(s, closePlaceholder, "</b>")

	return s
}
