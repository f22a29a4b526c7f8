package db

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/hpungsan/clipvault/internal/embedding"
	"github.com/hpungsan/clipvault/internal/errors"
)

// Embedding is a stored snippet vector.
type Embedding struct {
	SnippetID string
	Vector    []float32
}

// UpsertEmbedding stores vec for a snippet, replacing any previous vector.
func UpsertEmbedding(ctx context.Context, db *sql.DB, snippetID string, vec []float32, dim int) error {
	if len(vec) != dim {
		return errors.NewInvalidRequest("embedding length does not match its dimension")
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO embeddings (snippet_id, dim, vector, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(snippet_id) DO UPDATE SET dim = excluded.dim, vector = excluded.vector, updated_at = excluded.updated_at`,
		snippetID, dim, embedding.Encode(vec), time.Now().Unix(),
	)
	if err != nil {
		if isForeignKeyError(err) {
			return errors.NewNotFound("snippet", snippetID)
		}
		return errors.NewInternal(err)
	}
	return nil
}

// GetEmbedding returns a snippet's vector.
func GetEmbedding(ctx context.Context, db *sql.DB, snippetID string) ([]float32, error) {
	var (
		dim  int
		blob []byte
	)
	err := db.QueryRowContext(ctx, `SELECT dim, vector FROM embeddings WHERE snippet_id = ?`, snippetID).Scan(&dim, &blob)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("embedding", snippetID)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	vec, err := embedding.Decode(blob, dim)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return vec, nil
}

// ListEmbeddings returns every stored vector of the given dimension.
// Vectors of another dimension are left out; they cannot be compared.
func ListEmbeddings(ctx context.Context, db *sql.DB, dim int) ([]Embedding, error) {
	rows, err := db.QueryContext(ctx, `SELECT snippet_id, vector FROM embeddings WHERE dim = ?`, dim)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var out []Embedding
	for rows.Next() {
		var (
			e    Embedding
			blob []byte
		)
		if err := rows.Scan(&e.SnippetID, &blob); err != nil {
			return nil, errors.NewInternal(err)
		}
		if e.Vector, err = embedding.Decode(blob, dim); err != nil {
			return nil, errors.NewInternal(err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return out, nil
}

func isForeignKeyError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
