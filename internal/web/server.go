package web

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/hpungsan/clipvault/internal/capture"
	"github.com/hpungsan/clipvault/internal/config"
	"github.com/hpungsan/clipvault/internal/db"
	"github.com/hpungsan/clipvault/internal/metrics"
	"github.com/hpungsan/clipvault/internal/ops"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

// Capture is the slice of the clipboard monitor the web UI drives.
type Capture interface {
	Status() capture.Status
	Enable() capture.Status
	Disable() capture.Status
	CaptureNow(ctx context.Context) capture.Status
	Subscribe(fn func(capture.Status)) func()
}

// Options wires the server to the rest of the daemon. DB, Config, VaultDir and
// Capture are required.
type Options struct {
	DB       *sql.DB
	Config   *config.Config
	VaultDir string
	Version  string

	Capture Capture
	Queue   ops.Enqueuer
	Similar *ops.SimilarCache
	Metrics *metrics.Metrics
	Logger  *zap.Logger
}

// Server is the library web UI plus its live status hub.
type Server struct {
	HTTP     *http.Server
	hub      *Hub
	handlers *Handlers
}

// NewServer builds the HTTP server for the library UI and subscribes its
// websocket hub to capture status events.
func NewServer(opts Options) (*Server, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}

	templateSub, err := fs.Sub(templateFS, "templates")
	if err != nil {
		return nil, fmt.Errorf("template sub-FS: %w", err)
	}
	staticSub, err := fs.Sub(staticFS, "static")
	if err != nil {
		return nil, fmt.Errorf("static sub-FS: %w", err)
	}

	renderer, err := NewRenderer(templateSub, opts.Version, opts.Logger)
	if err != nil {
		return nil, err
	}

	hub := NewHub(opts.Logger)
	h := &Handlers{
		db:        opts.DB,
		cfg:       opts.Config,
		vaultDir:  opts.VaultDir,
		assetsDir: filepath.Join(opts.VaultDir, db.AssetsDir),
		logsDir:   filepath.Join(opts.VaultDir, db.LogsDir),
		capture:   opts.Capture,
		queue:     opts.Queue,
		similar:   opts.Similar,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
		hub:       hub,
		thumbs:    cache.New(10*time.Minute, 20*time.Minute),
		renderer:  renderer,
	}

	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.WebBind, cfg.WebPort),
		Handler:           securityHeaders(h.routes(staticSub)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if opts.Capture != nil {
		unsubscribe := opts.Capture.Subscribe(hub.Broadcast)
		srv.RegisterOnShutdown(func() {
			unsubscribe()
			hub.Close()
		})
	}

	return &Server{HTTP: srv, hub: hub, handlers: h}, nil
}

func (h *Handlers) routes(static fs.FS) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/snippets", http.StatusFound)
	})
	mux.HandleFunc("GET /snippets", h.HandleList)
	mux.HandleFunc("GET /snippets/search", h.HandleSearch)
	mux.HandleFunc("GET /snippets/{id}", h.HandleDetail)
	mux.HandleFunc("POST /snippets/{id}/reprocess", h.HandleReprocess)
	mux.HandleFunc("DELETE /snippets/{id}", h.HandleDelete)
	mux.HandleFunc("GET /notes", h.HandleNotes)
	mux.HandleFunc("GET /notes/{id}/markdown", h.HandleNoteMarkdown)
	mux.HandleFunc("GET /assets/{id}", h.HandleAsset)
	mux.HandleFunc("GET /assets/{id}/thumb", h.HandleThumb)

	mux.HandleFunc("GET /api/status", h.HandleStatus)
	mux.HandleFunc("POST /api/capture/{action}", h.HandleCapture)
	mux.HandleFunc("GET /api/logs", h.HandleLogs)
	mux.HandleFunc("GET /ws", h.HandleWebSocket)
	mux.Handle("GET /metrics", h.metrics.Handler())

	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServerFS(static)))
	return mux
}

// securityHeaders adds security-related HTTP headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", "default-src 'self'; script-src 'self'; style-src 'self'; img-src 'self'; connect-src 'self'")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		next.ServeHTTP(w, r)
	})
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.HTTP.ListenAndServe()
	}()

	logger.Info("library UI listening", zap.String("url", "http://"+s.HTTP.Addr))
	if strings.HasPrefix(s.HTTP.Addr, "0.0.0.0") || strings.HasPrefix(s.HTTP.Addr, "[::]") || strings.HasPrefix(s.HTTP.Addr, ":") {
		logger.Warn("server is binding to all interfaces and may be accessible from the network")
	}

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		logger.Info("shutting down library UI")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.HTTP.Shutdown(shutdownCtx)
	}
}
