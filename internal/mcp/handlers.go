package mcp

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"path/filepath"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/hpungsan/clipvault/internal/config"
	"github.com/hpungsan/clipvault/internal/db"
	"github.com/hpungsan/clipvault/internal/errors"
	"github.com/hpungsan/clipvault/internal/metrics"
	"github.com/hpungsan/clipvault/internal/ocr"
	"github.com/hpungsan/clipvault/internal/ops"
	"github.com/hpungsan/clipvault/internal/pipeline"
)

// Options carries the optional dependencies of the tool handlers.
type Options struct {
	// VaultDir locates the exports and assets directories.
	VaultDir string

	OCR     ocr.Engine
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	db      *sql.DB
	cfg     *config.Config
	similar *ops.SimilarCache

	exportsDir string
	assetsDir  string

	ocr     ocr.Engine
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(database *sql.DB, cfg *config.Config, opts Options) *Handlers {
	h := &Handlers{
		db:      database,
		cfg:     cfg,
		similar: ops.NewSimilarCache(0),
		ocr:     opts.OCR,
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}
	if opts.VaultDir != "" {
		h.exportsDir = filepath.Join(opts.VaultDir, db.ExportsDir)
		h.assetsDir = filepath.Join(opts.VaultDir, db.AssetsDir)
	}
	if h.logger == nil {
		h.logger = zap.NewNop()
	}
	return h
}

// Request types for each tool

// ListRequest represents the arguments for snippet_list.
type ListRequest struct {
	NoteID     string `json:"note_id,omitempty"`
	Status     string `json:"status,omitempty"`
	SourceType string `json:"source_type,omitempty"`
	Limit      int    `json:"limit,omitempty"`
	Offset     int    `json:"offset,omitempty"`
}

// FetchRequest represents the arguments for snippet_fetch and snippet_delete.
type FetchRequest struct {
	ID string `json:"id"`
}

// SearchRequest represents the arguments for snippet_search.
type SearchRequest struct {
	Query      string `json:"query"`
	NoteID     string `json:"note_id,omitempty"`
	Status     string `json:"status,omitempty"`
	SourceType string `json:"source_type,omitempty"`
	Limit      int    `json:"limit,omitempty"`
	Offset     int    `json:"offset,omitempty"`
}

// SimilarRequest represents the arguments for snippet_similar.
type SimilarRequest struct {
	ID    string `json:"id,omitempty"`
	Text  string `json:"text,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

// NotesRequest represents the arguments for note_list.
type NotesRequest struct {
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// NoteMarkdownRequest represents the arguments for note_markdown.
type NoteMarkdownRequest struct {
	NoteID string `json:"note_id"`
}

// ReprocessRequest represents the arguments for snippet_reprocess.
type ReprocessRequest struct {
	IDs    []string `json:"ids,omitempty"`
	Status string   `json:"status,omitempty"`
}

// ExportRequest represents the arguments for snippet_export.
type ExportRequest struct {
	Path   string `json:"path,omitempty"`
	NoteID string `json:"note_id,omitempty"`
}

// ImportRequest represents the arguments for snippet_import.
type ImportRequest struct {
	Path string `json:"path"`
	Mode string `json:"mode,omitempty"`
}

// EnrichOutput reports the state each enriched snippet ended in.
type EnrichOutput struct {
	Queued   []string          `json:"queued"`
	Count    int               `json:"count"`
	Statuses map[string]string `json:"statuses"`

	// InFlight lists snippets skipped because another run is enriching them.
	InFlight []string `json:"in_flight,omitempty"`
}

// ImportToolOutput is ops.ImportOutput plus the outcome of enriching pending snippets.
type ImportToolOutput struct {
	*ops.ImportOutput
	Statuses map[string]string `json:"statuses,omitempty"`
}

// Handler implementations

// HandleList handles the snippet_list tool call.
func (h *Handlers) HandleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ListRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.List(ctx, h.db, ops.ListInput{
		NoteID:     input.NoteID,
		Status:     input.Status,
		SourceType: input.SourceType,
		Limit:      input.Limit,
		Offset:     input.Offset,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleFetch handles the snippet_fetch tool call.
func (h *Handlers) HandleFetch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[FetchRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Fetch(ctx, h.db, ops.FetchInput{ID: input.ID})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleSearch handles the snippet_search tool call.
func (h *Handlers) HandleSearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SearchRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Search(ctx, h.db, ops.SearchInput{
		Query:      input.Query,
		NoteID:     input.NoteID,
		Status:     input.Status,
		SourceType: input.SourceType,
		Limit:      input.Limit,
		Offset:     input.Offset,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleSimilar handles the snippet_similar tool call.
func (h *Handlers) HandleSimilar(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SimilarRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Similar(ctx, h.db, h.similar, ops.SimilarInput{
		ID:    input.ID,
		Text:  input.Text,
		Limit: input.Limit,
		Dim:   h.cfg.EmbeddingDim,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleNotes handles the note_list tool call.
func (h *Handlers) HandleNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[NotesRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Notes(ctx, h.db, ops.NotesInput{Limit: input.Limit, Offset: input.Offset})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleNoteMarkdown handles the note_markdown tool call.
func (h *Handlers) HandleNoteMarkdown(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[NoteMarkdownRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.NoteMarkdown(ctx, h.db, ops.NoteMarkdownInput{NoteID: input.NoteID})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleReprocess handles the snippet_reprocess tool call. The MCP server has
// no daemon queue, so it drives a private pipeline and waits for it to drain.
func (h *Handlers) HandleReprocess(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ReprocessRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	p := h.newPipeline()
	queued, err := ops.Reprocess(ctx, h.db, p, ops.ReprocessInput{IDs: input.IDs, Status: input.Status})
	if err != nil {
		return errorResult(err), nil
	}

	statuses, err := h.finish(ctx, p, queued.Queued)
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(EnrichOutput{Queued: queued.Queued, Count: queued.Count, Statuses: statuses, InFlight: queued.InFlight})
}

// HandleDelete handles the snippet_delete tool call.
func (h *Handlers) HandleDelete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[FetchRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Delete(ctx, h.db, h.assetsDir, ops.DeleteInput{ID: input.ID})
	if err != nil {
		return errorResult(err), nil
	}
	h.similar.Invalidate()

	return successResult(result)
}

// HandleExport handles the snippet_export tool call.
func (h *Handlers) HandleExport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ExportRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Export(ctx, h.db, h.cfg, h.exportsDir, ops.ExportInput{
		Path:   input.Path,
		NoteID: input.NoteID,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleImport handles the snippet_import tool call. Imported snippets that
// were not finished are enriched before the call returns.
func (h *Handlers) HandleImport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ImportRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Import(ctx, h.db, h.cfg, h.exportsDir, ops.ImportInput{
		Path: input.Path,
		Mode: ops.ImportMode(input.Mode),
		Dim:  h.cfg.EmbeddingDim,
	})
	if err != nil {
		return errorResult(err), nil
	}
	h.similar.Invalidate()

	out := ImportToolOutput{ImportOutput: result}
	if len(result.Pending) > 0 {
		p := h.newPipeline()
		for _, id := range result.Pending {
			p.Enqueue(id)
		}
		out.Statuses, err = h.finish(ctx, p, result.Pending)
		if err != nil {
			return errorResult(err), nil
		}
	}

	return successResult(out)
}

func (h *Handlers) newPipeline() *pipeline.Pipeline {
	return pipeline.New(pipeline.Options{
		Store:            db.NewStore(h.db),
		OCR:              h.ocr,
		SummarySentences: h.cfg.SummarySentences,
		KeywordLimit:     h.cfg.KeywordLimit,
		TopicLimit:       h.cfg.TopicLimit,
		EmbeddingDim:     h.cfg.EmbeddingDim,
		Logger:           h.logger,
		Metrics:          h.metrics,
	})
}

// finish waits for p to drain and reads back the status of each id.
func (h *Handlers) finish(ctx context.Context, p *pipeline.Pipeline, ids []string) (map[string]string, error) {
	if err := p.Wait(ctx); err != nil {
		return nil, errors.NewCancelled("enrichment")
	}
	h.similar.Invalidate()

	statuses := make(map[string]string, len(ids))
	for _, id := range ids {
		s, err := db.GetSnippet(ctx, h.db, id)
		if err != nil {
			if errors.Is(err, errors.ErrNotFound) {
				continue
			}
			return nil, err
		}
		statuses[id] = string(s.Status)
	}
	return statuses, nil
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Uses IsError: true so MCP clients recognize failures properly.
// Internal error details are not exposed.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	var vErr *errors.VaultError
	if stderrors.As(err, &vErr) {
		message := vErr.Message
		if err != error(vErr) {
			// keep wrapper context such as "line 3: ..."
			message = err.Error()
		}
		errorObj := map[string]any{
			"code":    vErr.Code,
			"message": message,
			"status":  vErr.Status,
		}
		if vErr.Code == errors.ErrInternal {
			errorObj["message"] = "an internal error occurred"
		} else if vErr.Details != nil {
			errorObj["details"] = vErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    "INTERNAL",
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
