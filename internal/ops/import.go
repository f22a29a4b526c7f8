package ops

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"

	"github.com/hpungsan/clipvault/internal/config"
	"github.com/hpungsan/clipvault/internal/db"
	"github.com/hpungsan/clipvault/internal/embedding"
	"github.com/hpungsan/clipvault/internal/errors"
	"github.com/hpungsan/clipvault/internal/snippet"
)

// ImportMode controls collision behavior during import.
type ImportMode string

const (
	ImportModeError ImportMode = "error" // import nothing if any id exists
	ImportModeSkip  ImportMode = "skip"  // keep existing snippets, import the rest
)

// maxImportLine bounds one JSONL record; snippets carry raw clipboard HTML.
const maxImportLine = 16 << 20

// ImportInput contains parameters for the Import operation.
type ImportInput struct {
	Path string     // required
	Mode ImportMode // default: error
	Dim  int        // embedding dimension for imported done snippets
}

// ImportOutput contains the result of the Import operation.
type ImportOutput struct {
	Imported int           `json:"imported"`
	Skipped  int           `json:"skipped"`
	Errors   []ImportError `json:"errors"`

	// Pending lists imported snippets that still need enrichment, in file order
	Pending []string `json:"pending,omitempty"`
}

// ImportError describes a line that could not be imported.
type ImportError struct {
	Line    int    `json:"line"`
	ID      string `json:"id,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type importRecord struct {
	line   int
	record snippet.ExportRecord
}

// Import loads snippets from a JSONL export. Done snippets get their vector
// recomputed; anything not done comes back as pending for the caller to enqueue.
func Import(ctx context.Context, database *sql.DB, cfg *config.Config, exportsDir string, input ImportInput) (*ImportOutput, error) {
	mode := input.Mode
	if mode == "" {
		mode = ImportModeError
	}
	if mode != ImportModeError && mode != ImportModeSkip {
		return nil, errors.NewInvalidRequest("mode must be one of: error, skip")
	}
	if err := ValidatePath(input.Path, PathCheckRead, exportsDir, cfg); err != nil {
		return nil, err
	}
	dim := input.Dim
	if dim <= 0 {
		dim = embedding.DefaultDim
	}

	file, err := openFileNoFollowRead(input.Path)
	if err != nil {
		if errors.Is(err, errors.ErrFileNotFound) || errors.Is(err, errors.ErrInvalidRequest) {
			return nil, err
		}
		return nil, errors.NewInternal(fmt.Errorf("failed to open import file: %w", err))
	}
	defer file.Close()

	records, parseErrors := parseExportFile(file)
	out := &ImportOutput{Errors: []ImportError{}}

	if mode == ImportModeError {
		if len(parseErrors) > 0 {
			out.Errors = parseErrors
			return out, nil
		}
		for _, r := range records {
			exists, err := snippetExists(ctx, database, r.record.ID)
			if err != nil {
				return nil, err
			}
			if exists {
				out.Errors = append(out.Errors, ImportError{
					Line:    r.line,
					ID:      r.record.ID,
					Code:    "ID_COLLISION",
					Message: fmt.Sprintf("snippet with id %q already exists", r.record.ID),
				})
			}
		}
		if len(out.Errors) > 0 {
			return out, nil
		}
	} else {
		out.Errors = append(out.Errors, parseErrors...)
		out.Skipped += len(parseErrors)
	}

	for _, r := range records {
		if err := ctx.Err(); err != nil {
			return nil, errors.NewCancelled("import")
		}
		s := r.record.ToSnippet()
		if s.Status != snippet.StatusDone && s.Status != snippet.StatusError {
			s.Status = snippet.StatusPending
		}

		err := db.InsertSnippet(ctx, database, s)
		switch {
		case errors.Is(err, errors.ErrConflict):
			out.Skipped++
			continue
		case errors.Is(err, errors.ErrInvalidRequest):
			out.Skipped++
			out.Errors = append(out.Errors, ImportError{Line: r.line, ID: s.ID, Code: string(errors.ErrInvalidRequest), Message: err.Error()})
			continue
		case err != nil:
			return nil, err
		}
		out.Imported++

		if s.Status == snippet.StatusPending {
			out.Pending = append(out.Pending, s.ID)
			continue
		}
		vec := embedding.Embed(s.ContentText+"\n"+s.Summary, dim)
		if err := db.UpsertEmbedding(ctx, database, s.ID, vec, dim); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func snippetExists(ctx context.Context, database *sql.DB, id string) (bool, error) {
	_, err := db.GetSnippet(ctx, database, id)
	if errors.Is(err, errors.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// parseExportFile reads records, skipping the header line.
func parseExportFile(r io.Reader) ([]importRecord, []ImportError) {
	var (
		records     []importRecord
		parseErrors []ImportError
	)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxImportLine)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var record snippet.ExportRecord
		if err := json.Unmarshal(line, &record); err != nil {
			parseErrors = append(parseErrors, ImportError{
				Line:    lineNum,
				Code:    "PARSE_ERROR",
				Message: fmt.Sprintf("invalid JSON: %v", err),
			})
			continue
		}
		if record.VaultExport {
			continue
		}
		if record.ID == "" {
			parseErrors = append(parseErrors, ImportError{
				Line:    lineNum,
				Code:    "INVALID_RECORD",
				Message: "missing id field",
			})
			continue
		}
		records = append(records, importRecord{line: lineNum, record: record})
	}

	if err := scanner.Err(); err != nil {
		parseErrors = append(parseErrors, ImportError{
			Line:    lineNum,
			Code:    "READ_ERROR",
			Message: fmt.Sprintf("failed to read file: %v", err),
		})
	}
	return records, parseErrors
}
