package web

import (
	"bytes"
	"database/sql"
	"fmt"
	"image"
	"image/png"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/image/draw"

	"github.com/hpungsan/clipvault/internal/config"
	"github.com/hpungsan/clipvault/internal/db"
	"github.com/hpungsan/clipvault/internal/errors"
	"github.com/hpungsan/clipvault/internal/logging"
	"github.com/hpungsan/clipvault/internal/metrics"
	"github.com/hpungsan/clipvault/internal/ops"
)

// Thumbnail bounds
const (
	DefaultThumbWidth = 320
	MaxThumbWidth     = 1024
	similarOnDetail   = 5
	defaultLogLimit   = 100
	maxLogLimit       = 1000
)

// Handlers contains HTTP route handlers for the web UI.
type Handlers struct {
	db        *sql.DB
	cfg       *config.Config
	vaultDir  string
	assetsDir string
	logsDir   string
	capture   Capture
	queue     ops.Enqueuer
	similar   *ops.SimilarCache
	metrics   *metrics.Metrics
	logger    *zap.Logger
	hub       *Hub
	thumbs    *cache.Cache
	renderer  *Renderer
}

// HandleList handles GET /snippets, newest first with optional filters.
func (h *Handlers) HandleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	input := ops.ListInput{
		NoteID:     q.Get("note_id"),
		Status:     q.Get("status"),
		SourceType: q.Get("source_type"),
		Limit:      parseIntParam(r, "limit", ops.DefaultListLimit),
		Offset:     parseIntParam(r, "offset", 0),
	}

	result, err := ops.List(r.Context(), h.db, input)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, result)
		return
	}

	data := ListPageData{
		PageData:   h.renderer.page("Snippets", "snippets"),
		Items:      result.Items,
		Pagination: result.Pagination,
		NoteID:     input.NoteID,
		Status:     input.Status,
		SourceType: input.SourceType,
	}
	if h.capture != nil {
		data.Capture = h.capture.Status()
	}
	h.renderer.renderPage(w, r, "list", data)
}

// HandleSearch handles GET /snippets/search, full-text search.
func (h *Handlers) HandleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := q.Get("q")

	data := SearchPageData{
		PageData:   h.renderer.page("Search", "search"),
		Query:      query,
		NoteID:     q.Get("note_id"),
		Status:     q.Get("status"),
		SourceType: q.Get("source_type"),
		HasQuery:   query != "",
	}

	if query == "" {
		// If htmx targets #results (user cleared the search box), return just the results fragment
		if r.Header.Get("HX-Target") == "results" {
			h.renderer.renderBlock(w, http.StatusOK, "search", "search-results", data)
			return
		}
		h.renderer.renderPage(w, r, "search", data)
		return
	}

	result, err := ops.Search(r.Context(), h.db, ops.SearchInput{
		Query:      query,
		NoteID:     data.NoteID,
		Status:     data.Status,
		SourceType: data.SourceType,
		Limit:      parseIntParam(r, "limit", ops.DefaultSearchLimit),
		Offset:     parseIntParam(r, "offset", 0),
	})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, result)
		return
	}

	data.Items = result.Items
	data.Pagination = result.Pagination

	if r.Header.Get("HX-Target") == "results" {
		h.renderer.renderBlock(w, http.StatusOK, "search", "search-results", data)
		return
	}
	h.renderer.renderPage(w, r, "search", data)
}

// HandleDetail handles GET /snippets/{id}, one snippet with its neighbors.
func (h *Handlers) HandleDetail(w http.ResponseWriter, r *http.Request) {
	s, err := ops.Fetch(r.Context(), h.db, ops.FetchInput{ID: r.PathValue("id")})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, s)
		return
	}

	body := s.ContentMarkdown
	if body == "" {
		body = s.ContentText
	}

	var similar []ops.SimilarItem
	sim, err := ops.Similar(r.Context(), h.db, h.similar, ops.SimilarInput{
		ID:    s.ID,
		Limit: similarOnDetail,
		Dim:   h.embeddingDim(),
	})
	if err != nil {
		h.logger.Warn("similar lookup failed", zap.String("id", s.ID), zap.Error(err))
	} else {
		similar = sim.Items
	}

	h.renderer.renderPage(w, r, "detail", DetailPageData{
		PageData:     h.renderer.page(s.DisplayTitle(), "snippets"),
		Snippet:      s,
		RenderedHTML: renderMarkdown(body),
		Citation:     renderMarkdown(s.CitationMD),
		Similar:      similar,
	})
}

// HandleReprocess handles POST /snippets/{id}/reprocess.
func (h *Handlers) HandleReprocess(w http.ResponseWriter, r *http.Request) {
	if h.queue == nil {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("enrichment is not running"))
		return
	}
	id := r.PathValue("id")
	result, err := ops.Reprocess(r.Context(), h.db, h.queue, ops.ReprocessInput{IDs: []string{id}})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	switch {
	case r.Header.Get("HX-Request") == "true":
		w.Header().Set("HX-Redirect", "/snippets/"+id)
		w.WriteHeader(http.StatusOK)
	case wantsJSON(r):
		renderJSON(w, http.StatusAccepted, result)
	default:
		http.Redirect(w, r, "/snippets/"+id, http.StatusSeeOther)
	}
}

// HandleDelete handles DELETE /snippets/{id}, removing the row and asset files.
func (h *Handlers) HandleDelete(w http.ResponseWriter, r *http.Request) {
	result, err := ops.Delete(r.Context(), h.db, h.assetsDir, ops.DeleteInput{ID: r.PathValue("id")})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	h.similar.Invalidate()
	h.thumbs.Flush()
	if len(result.FileErrors) > 0 {
		h.logger.Warn("asset files not removed", zap.String("id", result.ID), zap.Strings("paths", result.FileErrors))
	}

	switch {
	case r.Header.Get("HX-Request") == "true":
		w.Header().Set("HX-Redirect", "/snippets")
		w.WriteHeader(http.StatusOK)
	case wantsJSON(r):
		renderJSON(w, http.StatusOK, result)
	default:
		http.Redirect(w, r, "/snippets", http.StatusFound)
	}
}

// HandleNotes handles GET /notes.
func (h *Handlers) HandleNotes(w http.ResponseWriter, r *http.Request) {
	result, err := ops.Notes(r.Context(), h.db, ops.NotesInput{
		Limit:  parseIntParam(r, "limit", ops.DefaultNotesLimit),
		Offset: parseIntParam(r, "offset", 0),
	})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, result)
		return
	}
	h.renderer.renderPage(w, r, "notes", NotesPageData{
		PageData:   h.renderer.page("Notes", "notes"),
		Items:      result.Items,
		Pagination: result.Pagination,
	})
}

// HandleNoteMarkdown handles GET /notes/{id}/markdown as a download.
func (h *Handlers) HandleNoteMarkdown(w http.ResponseWriter, r *http.Request) {
	result, err := ops.NoteMarkdown(r.Context(), h.db, ops.NoteMarkdownInput{NoteID: r.PathValue("id")})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	name := ops.SanitizeForFilename(result.Title) + ".md"
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	_, _ = w.Write([]byte(result.Markdown))
}

// HandleAsset handles GET /assets/{id}, the stored PNG.
func (h *Handlers) HandleAsset(w http.ResponseWriter, r *http.Request) {
	path, err := h.assetPath(r)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	f, err := os.Open(path)
	if err != nil {
		h.renderer.renderError(w, r, errors.NewFileNotFound(filepath.Base(path)))
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		h.renderer.renderError(w, r, errors.NewInternal(err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "private, max-age=86400")
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

// HandleThumb handles GET /assets/{id}/thumb?w=N, a PNG scaled to at most N
// pixels wide. Smaller images are returned at their own size.
func (h *Handlers) HandleThumb(w http.ResponseWriter, r *http.Request) {
	width := parseIntParam(r, "w", DefaultThumbWidth)
	if width <= 0 || width > MaxThumbWidth {
		h.renderer.renderError(w, r, errors.NewInvalidRequest(fmt.Sprintf("w must be between 1 and %d", MaxThumbWidth)))
		return
	}

	key := r.PathValue("id") + ":" + strconv.Itoa(width)
	if data, ok := h.thumbs.Get(key); ok {
		writePNG(w, data.([]byte))
		return
	}

	path, err := h.assetPath(r)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	data, err := thumbnail(path, width)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	h.thumbs.Set(key, data, cache.DefaultExpiration)
	writePNG(w, data)
}

func writePNG(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "private, max-age=86400")
	_, _ = w.Write(data)
}

// assetPath resolves an asset id to its file, refusing files outside the vault's assets dir.
func (h *Handlers) assetPath(r *http.Request) (string, error) {
	a, err := db.GetAsset(r.Context(), h.db, r.PathValue("id"))
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(a.FilePath)
	if err != nil {
		return "", errors.NewInternal(err)
	}
	root, err := filepath.Abs(h.assetsDir)
	if err != nil {
		return "", errors.NewInternal(err)
	}
	if filepath.Dir(abs) != root {
		return "", errors.NewFileNotFound(filepath.Base(a.FilePath))
	}
	return abs, nil
}

func thumbnail(path string, width int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.NewFileNotFound(filepath.Base(path))
	}
	defer f.Close()

	src, err := png.Decode(f)
	if err != nil {
		return nil, errors.NewInternal(fmt.Errorf("decode asset: %w", err))
	}

	b := src.Bounds()
	var out image.Image = src
	if b.Dx() > width {
		height := max(1, b.Dy()*width/b.Dx())
		dst := image.NewRGBA(image.Rect(0, 0, width, height))
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
		out = dst
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, out); err != nil {
		return nil, errors.NewInternal(err)
	}
	return buf.Bytes(), nil
}

// HandleStatus handles GET /api/status.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if h.capture == nil {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("capture is not running"))
		return
	}
	renderJSON(w, http.StatusOK, h.capture.Status())
}

// HandleCapture handles POST /api/capture/{enable|disable|now}. Enable and
// disable are persisted so the choice survives a restart.
func (h *Handlers) HandleCapture(w http.ResponseWriter, r *http.Request) {
	if h.capture == nil {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("capture is not running"))
		return
	}

	action := r.PathValue("action")
	switch action {
	case "enable":
		st := h.capture.Enable()
		h.persistCapture(true)
		renderJSON(w, http.StatusOK, st)
	case "disable":
		st := h.capture.Disable()
		h.persistCapture(false)
		renderJSON(w, http.StatusOK, st)
	case "now":
		renderJSON(w, http.StatusOK, h.capture.CaptureNow(r.Context()))
	default:
		h.renderer.renderError(w, r, errors.NewInvalidRequest("action must be one of: enable, disable, now"))
	}
}

func (h *Handlers) persistCapture(enabled bool) {
	if h.vaultDir == "" {
		return
	}
	if err := config.SetCaptureEnabled(h.vaultDir, enabled); err != nil {
		h.logger.Warn("persist capture setting", zap.Bool("enabled", enabled), zap.Error(err))
	}
}

// HandleLogs handles GET /api/logs?level=&limit=, newest entries first.
func (h *Handlers) HandleLogs(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r, "limit", defaultLogLimit)
	if limit <= 0 || limit > maxLogLimit {
		limit = defaultLogLimit
	}
	entries, err := logging.ReadRecent(h.logsDir, r.URL.Query().Get("level"), limit)
	if err != nil {
		h.renderer.renderError(w, r, errors.NewInternal(err))
		return
	}
	renderJSON(w, http.StatusOK, map[string]any{"items": entries})
}

// HandleWebSocket handles GET /ws, the live capture status stream.
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.capture == nil {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("capture is not running"))
		return
	}
	h.hub.serve(w, r, h.capture.Status())
}

func (h *Handlers) embeddingDim() int {
	if h.cfg == nil {
		return 0
	}
	return h.cfg.EmbeddingDim
}

// parseIntParam parses an integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
