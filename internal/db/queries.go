package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hpungsan/clipvault/internal/errors"
	"github.com/hpungsan/clipvault/internal/snippet"
)

// InsertSnippet stores a new snippet and its assets in one transaction.
// Empty ID, timestamps and status are filled in; the snippet is attached to the
// note matching its provenance, creating the note when needed. s is updated in place.
func InsertSnippet(ctx context.Context, db *sql.DB, s *snippet.Snippet) error {
	if !s.SourceType.Valid() {
		return errors.NewInvalidRequest("invalid source_type: " + string(s.SourceType))
	}
	now := time.Now().Unix()
	if s.ID == "" {
		s.ID = ulid.Make().String()
	}
	if s.CreatedAt == 0 {
		s.CreatedAt = now
	}
	s.UpdatedAt = s.CreatedAt
	if s.Status == "" {
		s.Status = snippet.StatusPending
	}

	tagsJSON, err := marshalTags(s.Tags)
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewInternal(err)
	}
	defer tx.Rollback()

	noteID, err := attachNote(ctx, tx, s)
	if err != nil {
		return err
	}
	s.NoteID = noteID

	_, err = tx.ExecContext(ctx, `
		INSERT INTO snippets (
			id, note_id, content_text, content_html, content_markdown,
			source_app, source_url, source_title, source_type,
			summary, keywords, topics, citation_md, ai_status, tags_json,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.NoteID, s.ContentText, s.ContentHTML, s.ContentMarkdown,
		s.SourceApp, s.SourceURL, s.SourceTitle, string(s.SourceType),
		s.Summary, s.Keywords, s.Topics, s.CitationMD, string(s.Status), tagsJSON,
		s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return errors.NewConflict("snippet already exists: " + s.ID)
		}
		return errors.NewInternal(err)
	}

	for i := range s.Assets {
		a := &s.Assets[i]
		if a.ID == "" {
			a.ID = ulid.Make().String()
		}
		a.SnippetID = s.ID
		if a.CreatedAt == 0 {
			a.CreatedAt = s.CreatedAt
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO assets (id, snippet_id, file_path, content_hash, width, height, ocr_text, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			a.ID, a.SnippetID, a.FilePath, a.ContentHash, a.Width, a.Height, a.OCRText, a.CreatedAt,
		)
		if err != nil {
			return errors.NewInternal(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// attachNote finds or creates the note for s's provenance and bumps its updated_at.
func attachNote(ctx context.Context, tx *sql.Tx, s *snippet.Snippet) (string, error) {
	key := snippet.NoteKey(s.SourceURL, s.SourceTitle, s.SourceApp)

	var id string
	err := tx.QueryRowContext(ctx, `SELECT id FROM notes WHERE note_key = ?`, key).Scan(&id)
	switch {
	case err == sql.ErrNoRows:
		id = ulid.Make().String()
		_, err = tx.ExecContext(ctx, `
			INSERT INTO notes (id, note_key, title, source_url, source_app, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			id, key, snippet.NoteTitle(s.SourceURL, s.SourceTitle, s.SourceApp),
			s.SourceURL, s.SourceApp, s.CreatedAt, s.CreatedAt,
		)
		if err != nil {
			return "", errors.NewInternal(err)
		}
	case err != nil:
		return "", errors.NewInternal(err)
	default:
		if _, err := tx.ExecContext(ctx, `UPDATE notes SET updated_at = max(updated_at, ?) WHERE id = ?`, s.CreatedAt, id); err != nil {
			return "", errors.NewInternal(err)
		}
	}
	return id, nil
}

// isUniqueConstraintError checks if the error is a SQLite UNIQUE constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	// SQLite returns "UNIQUE constraint failed: ..." for unique violations
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

const snippetColumns = `
	id, note_id, content_text, content_html, content_markdown,
	source_app, source_url, source_title, source_type,
	summary, keywords, topics, citation_md, ai_status, tags_json,
	created_at, updated_at`

// GetSnippet retrieves a snippet by ID together with its assets.
func GetSnippet(ctx context.Context, db *sql.DB, id string) (*snippet.Snippet, error) {
	row := db.QueryRowContext(ctx, `SELECT `+snippetColumns+` FROM snippets WHERE id = ?`, id)
	s, err := scanSnippet(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("snippet", id)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	assets, err := ListAssets(ctx, db, id)
	if err != nil {
		return nil, err
	}
	s.Assets = assets
	return s, nil
}

// UpdateSnippet applies the non-nil fields of p and bumps updated_at.
func UpdateSnippet(ctx context.Context, db *sql.DB, id string, p snippet.Patch) error {
	var (
		sets []string
		args []any
	)
	set := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	if p.ContentText != nil {
		set("content_text", *p.ContentText)
	}
	if p.ContentMarkdown != nil {
		set("content_markdown", *p.ContentMarkdown)
	}
	if p.Summary != nil {
		set("summary", *p.Summary)
	}
	if p.Keywords != nil {
		set("keywords", *p.Keywords)
	}
	if p.Topics != nil {
		set("topics", *p.Topics)
	}
	if p.CitationMD != nil {
		set("citation_md", *p.CitationMD)
	}
	if p.Status != nil {
		if !p.Status.Valid() {
			return errors.NewInvalidRequest("invalid ai_status: " + string(*p.Status))
		}
		set("ai_status", string(*p.Status))
	}
	if p.Tags != nil {
		tagsJSON, err := marshalTags(*p.Tags)
		if err != nil {
			return err
		}
		set("tags_json", tagsJSON)
	}
	set("updated_at", time.Now().Unix())
	args = append(args, id)

	result, err := db.ExecContext(ctx, `UPDATE snippets SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return errors.NewInternal(err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if rowsAffected == 0 {
		return errors.NewNotFound("snippet", id)
	}
	return nil
}

// ResetToPending marks a snippet pending for another enrichment run. A snippet
// that is processing is left alone and reported as not reset, unless
// includeProcessing is set; that is only safe when no pipeline is running.
func ResetToPending(ctx context.Context, db *sql.DB, id string, includeProcessing bool) (bool, error) {
	query := `UPDATE snippets SET ai_status = ?, updated_at = ? WHERE id = ?`
	args := []any{string(snippet.StatusPending), time.Now().Unix(), id}
	if !includeProcessing {
		query += ` AND ai_status != ?`
		args = append(args, string(snippet.StatusProcessing))
	}

	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, errors.NewInternal(err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, errors.NewInternal(err)
	}
	if rowsAffected > 0 {
		return true, nil
	}

	var exists int
	err = db.QueryRowContext(ctx, `SELECT 1 FROM snippets WHERE id = ?`, id).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, errors.NewNotFound("snippet", id)
	}
	if err != nil {
		return false, errors.NewInternal(err)
	}
	return false, nil
}

// ListFilter narrows ListSnippets. Empty fields match everything.
type ListFilter struct {
	NoteID     string
	Status     snippet.Status
	SourceType snippet.SourceType
}

func (f ListFilter) where() (string, []any) {
	var (
		conds []string
		args  []any
	)
	if f.NoteID != "" {
		conds = append(conds, "s.note_id = ?")
		args = append(args, f.NoteID)
	}
	if f.Status != "" {
		conds = append(conds, "s.ai_status = ?")
		args = append(args, string(f.Status))
	}
	if f.SourceType != "" {
		conds = append(conds, "s.source_type = ?")
		args = append(args, string(f.SourceType))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// summaryColumns reads only a prefix of content_text; previews never need more.
const summaryColumns = `
	s.id, s.note_id, s.source_app, s.source_url, s.source_title, s.source_type,
	s.summary, s.keywords, s.topics, s.ai_status,
	substr(s.content_text, 1, 400),
	(SELECT COUNT(*) FROM assets a WHERE a.snippet_id = s.id),
	s.created_at, s.updated_at`

// ListSnippets returns snippet summaries, newest first, and the total matching count.
func ListSnippets(ctx context.Context, db *sql.DB, f ListFilter, limit, offset int) ([]snippet.Summary, int, error) {
	where, args := f.where()

	var total int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM snippets s`+where, args...).Scan(&total); err != nil {
		return nil, 0, errors.NewInternal(err)
	}

	query := `SELECT ` + summaryColumns + ` FROM snippets s` + where +
		` ORDER BY s.created_at DESC, s.id DESC LIMIT ? OFFSET ?`
	rows, err := db.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, errors.NewInternal(err)
	}
	defer rows.Close()

	var out []snippet.Summary
	for rows.Next() {
		sum, err := scanSummary(rows)
		if err != nil {
			return nil, 0, errors.NewInternal(err)
		}
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.NewInternal(err)
	}
	return out, total, nil
}

// ListSnippetIDsByStatus returns IDs in capture order (oldest first).
func ListSnippetIDsByStatus(ctx context.Context, db *sql.DB, status snippet.Status) ([]string, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id FROM snippets WHERE ai_status = ? ORDER BY created_at ASC, id ASC`, string(status))
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.NewInternal(err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return ids, nil
}

// DeleteSnippet removes a snippet with its assets and embedding, and its note
// when the note has no snippets left. Returns the asset file paths so the
// caller can remove the files.
func DeleteSnippet(ctx context.Context, db *sql.DB, id string) ([]string, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer tx.Rollback()

	var noteID string
	if err := tx.QueryRowContext(ctx, `SELECT note_id FROM snippets WHERE id = ?`, id).Scan(&noteID); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NewNotFound("snippet", id)
		}
		return nil, errors.NewInternal(err)
	}

	rows, err := tx.QueryContext(ctx, `SELECT file_path FROM assets WHERE snippet_id = ?`, id)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			rows.Close()
			return nil, errors.NewInternal(err)
		}
		paths = append(paths, p)
	}
	rows.Close()

	for _, stmt := range []string{
		`DELETE FROM embeddings WHERE snippet_id = ?`,
		`DELETE FROM assets WHERE snippet_id = ?`,
		`DELETE FROM snippets WHERE id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
			return nil, errors.NewInternal(err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM notes WHERE id = ? AND NOT EXISTS (SELECT 1 FROM snippets WHERE note_id = ?)`,
		noteID, noteID); err != nil {
		return nil, errors.NewInternal(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return paths, nil
}

// StreamForExport calls fn for every snippet, oldest first, with assets loaded.
// IDs are read up front so fn may use the database freely.
func StreamForExport(ctx context.Context, db *sql.DB, fn func(*snippet.Snippet) error) error {
	rows, err := db.QueryContext(ctx, `SELECT id FROM snippets ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return errors.NewInternal(err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return errors.NewInternal(err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return errors.NewInternal(err)
	}

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return errors.NewCancelled("export")
		}
		s, err := GetSnippet(ctx, db, id)
		if errors.Is(err, errors.ErrNotFound) {
			// deleted while exporting
			continue
		}
		if err != nil {
			return err
		}
		if err := fn(s); err != nil {
			return err
		}
	}
	return nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// scanSnippet scans a single row into a Snippet struct.
func scanSnippet(row scanner) (*snippet.Snippet, error) {
	var (
		s          snippet.Snippet
		sourceType string
		status     string
		tagsJSON   sql.NullString
	)
	err := row.Scan(
		&s.ID, &s.NoteID, &s.ContentText, &s.ContentHTML, &s.ContentMarkdown,
		&s.SourceApp, &s.SourceURL, &s.SourceTitle, &sourceType,
		&s.Summary, &s.Keywords, &s.Topics, &s.CitationMD, &status, &tagsJSON,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.SourceType = snippet.SourceType(sourceType)
	s.Status = snippet.Status(status)

	if tagsJSON.Valid && tagsJSON.String != "" {
		if err := json.Unmarshal([]byte(tagsJSON.String), &s.Tags); err != nil {
			return nil, err
		}
	}
	return &s, nil
}

func scanSummary(row scanner) (snippet.Summary, error) {
	var (
		sum        snippet.Summary
		sourceType string
		status     string
		text       string
	)
	err := row.Scan(
		&sum.ID, &sum.NoteID, &sum.SourceApp, &sum.SourceURL, &sum.SourceTitle, &sourceType,
		&sum.Summary, &sum.Keywords, &sum.Topics, &status,
		&text, &sum.AssetCount,
		&sum.CreatedAt, &sum.UpdatedAt,
	)
	if err != nil {
		return sum, err
	}
	sum.SourceType = snippet.SourceType(sourceType)
	sum.Status = snippet.Status(status)
	sum.Preview = snippet.Preview(text, snippet.PreviewChars)
	return sum, nil
}

// marshalTags converts tags to a nullable JSON column value.
func marshalTags(tags []string) (sql.NullString, error) {
	if len(tags) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return sql.NullString{}, errors.NewInternal(err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}
