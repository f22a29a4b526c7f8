package ops

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"

	"github.com/hpungsan/clipvault/internal/db"
)

// DeleteInput contains parameters for the Delete operation.
type DeleteInput struct {
	ID string
}

// DeleteOutput contains the result of the Delete operation.
type DeleteOutput struct {
	Deleted bool   `json:"deleted"`
	ID      string `json:"id"`

	// FilesRemoved counts asset files deleted from disk
	FilesRemoved int `json:"files_removed"`

	// FileErrors lists asset files that could not be removed
	FileErrors []string `json:"file_errors,omitempty"`
}

// Delete permanently removes a snippet, its assets and embedding, and the asset
// files under assetsDir. Files outside assetsDir are left alone.
// A failed file removal does not undo the row deletion.
func Delete(ctx context.Context, database *sql.DB, assetsDir string, input DeleteInput) (*DeleteOutput, error) {
	id, err := requireID(input.ID)
	if err != nil {
		return nil, err
	}

	paths, err := db.DeleteSnippet(ctx, database, id)
	if err != nil {
		return nil, err
	}

	out := &DeleteOutput{Deleted: true, ID: id}
	for _, p := range paths {
		if !insideDir(p, assetsDir) {
			continue
		}
		switch err := os.Remove(p); {
		case err == nil:
			out.FilesRemoved++
		case os.IsNotExist(err):
		default:
			out.FileErrors = append(out.FileErrors, p)
		}
	}
	return out, nil
}

// insideDir reports whether path is directly inside dir.
func insideDir(path, dir string) bool {
	if dir == "" {
		return false
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return false
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	return filepath.Dir(absPath) == absDir
}
