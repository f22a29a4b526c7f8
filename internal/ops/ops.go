package ops

import (
	"strings"

	"github.com/hpungsan/clipvault/internal/errors"
	"github.com/hpungsan/clipvault/internal/snippet"
)

// Pagination limits
const (
	DefaultListLimit  = 20
	MaxListLimit      = 100
	DefaultNotesLimit = 50
	MaxNotesLimit     = 200
	MaxReprocessIDs   = 500
)

// Pagination contains pagination metadata for list operations.
type Pagination struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
	Total   int  `json:"total"`
}

// page applies limit defaults and bounds and clamps offset at zero.
func page(limit, offset, def, maxLimit int) (int, int) {
	if limit <= 0 {
		limit = def
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return limit, max(offset, 0)
}

func newPagination(limit, offset, n, total int) Pagination {
	return Pagination{
		Limit:   limit,
		Offset:  offset,
		HasMore: offset+n < total,
		Total:   total,
	}
}

// ParseStatus validates an optional ai_status filter. Empty means no filter.
func ParseStatus(s string) (snippet.Status, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "", nil
	}
	st := snippet.Status(s)
	if !st.Valid() {
		return "", errors.NewInvalidRequest("status must be one of: pending, processing, done, error")
	}
	return st, nil
}

// ParseSourceType validates an optional source_type filter. Empty means no filter.
func ParseSourceType(s string) (snippet.SourceType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "", nil
	}
	t := snippet.SourceType(s)
	if !t.Valid() {
		return "", errors.NewInvalidRequest("source_type must be one of: text, web, image")
	}
	return t, nil
}

func requireID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", errors.NewInvalidRequest("id is required")
	}
	return id, nil
}
