package db

import (
	"context"
	"database/sql"

	"github.com/hpungsan/clipvault/internal/errors"
	"github.com/hpungsan/clipvault/internal/snippet"
)

const assetColumns = `id, snippet_id, file_path, content_hash, width, height, ocr_text, created_at`

// ListAssets returns the assets of a snippet in creation order.
func ListAssets(ctx context.Context, db *sql.DB, snippetID string) ([]snippet.Asset, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+assetColumns+` FROM assets WHERE snippet_id = ? ORDER BY created_at ASC, id ASC`, snippetID)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var assets []snippet.Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		assets = append(assets, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return assets, nil
}

// GetAsset retrieves an asset by ID.
func GetAsset(ctx context.Context, db *sql.DB, id string) (*snippet.Asset, error) {
	row := db.QueryRowContext(ctx, `SELECT `+assetColumns+` FROM assets WHERE id = ?`, id)
	a, err := scanAsset(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("asset", id)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return a, nil
}

// UpdateAsset applies the non-nil fields of p.
func UpdateAsset(ctx context.Context, db *sql.DB, id string, p snippet.AssetPatch) error {
	if p.OCRText == nil {
		return nil
	}
	result, err := db.ExecContext(ctx, `UPDATE assets SET ocr_text = ? WHERE id = ?`, *p.OCRText, id)
	if err != nil {
		return errors.NewInternal(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if n == 0 {
		return errors.NewNotFound("asset", id)
	}
	return nil
}

func scanAsset(row scanner) (*snippet.Asset, error) {
	var a snippet.Asset
	if err := row.Scan(&a.ID, &a.SnippetID, &a.FilePath, &a.ContentHash, &a.Width, &a.Height, &a.OCRText, &a.CreatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}
