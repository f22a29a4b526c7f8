package db

import (
	"context"
	"database/sql"

	"github.com/hpungsan/clipvault/internal/snippet"
)

// Store binds the package functions to one database handle so capture and the
// enrichment pipeline can depend on narrow interfaces instead of *sql.DB.
type Store struct {
	DB *sql.DB
}

// NewStore wraps db.
func NewStore(db *sql.DB) *Store {
	return &Store{DB: db}
}

func (s *Store) InsertSnippet(ctx context.Context, sn *snippet.Snippet) error {
	return InsertSnippet(ctx, s.DB, sn)
}

func (s *Store) GetSnippet(ctx context.Context, id string) (*snippet.Snippet, error) {
	return GetSnippet(ctx, s.DB, id)
}

func (s *Store) UpdateSnippet(ctx context.Context, id string, p snippet.Patch) error {
	return UpdateSnippet(ctx, s.DB, id, p)
}

func (s *Store) UpdateAsset(ctx context.Context, id string, p snippet.AssetPatch) error {
	return UpdateAsset(ctx, s.DB, id, p)
}

func (s *Store) UpsertEmbedding(ctx context.Context, snippetID string, vec []float32, dim int) error {
	return UpsertEmbedding(ctx, s.DB, snippetID, vec, dim)
}
