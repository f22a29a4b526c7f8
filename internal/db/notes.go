package db

import (
	"context"
	"database/sql"

	"github.com/hpungsan/clipvault/internal/errors"
	"github.com/hpungsan/clipvault/internal/snippet"
)

const noteQuery = `
	SELECT n.id, n.note_key, n.title, n.source_url, n.source_app,
		(SELECT COUNT(*) FROM snippets s WHERE s.note_id = n.id),
		n.created_at, n.updated_at
	FROM notes n`

// ListNotes returns notes by most recent activity and the total count.
func ListNotes(ctx context.Context, db *sql.DB, limit, offset int) ([]snippet.Note, int, error) {
	var total int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notes`).Scan(&total); err != nil {
		return nil, 0, errors.NewInternal(err)
	}

	rows, err := db.QueryContext(ctx, noteQuery+` ORDER BY n.updated_at DESC, n.id DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, 0, errors.NewInternal(err)
	}
	defer rows.Close()

	var notes []snippet.Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, 0, errors.NewInternal(err)
		}
		notes = append(notes, *n)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.NewInternal(err)
	}
	return notes, total, nil
}

// GetNote retrieves a note by ID.
func GetNote(ctx context.Context, db *sql.DB, id string) (*snippet.Note, error) {
	n, err := scanNote(db.QueryRowContext(ctx, noteQuery+` WHERE n.id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("note", id)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return n, nil
}

func scanNote(row scanner) (*snippet.Note, error) {
	var n snippet.Note
	if err := row.Scan(&n.ID, &n.NoteKey, &n.Title, &n.SourceURL, &n.SourceApp, &n.SnippetCount, &n.CreatedAt, &n.UpdatedAt); err != nil {
		return nil, err
	}
	return &n, nil
}
