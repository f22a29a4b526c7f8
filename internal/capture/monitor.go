// Package capture watches the clipboard and records each new copy as a snippet.
package capture

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/clipvault/internal/activectx"
	"github.com/hpungsan/clipvault/internal/clipboard"
	"github.com/hpungsan/clipvault/internal/errors"
	"github.com/hpungsan/clipvault/internal/fingerprint"
	"github.com/hpungsan/clipvault/internal/metrics"
	"github.com/hpungsan/clipvault/internal/snippet"
)

// DefaultPollInterval is the clipboard polling period.
const DefaultPollInterval = 500 * time.Millisecond

// DefaultDenylist names frontmost applications whose copies are never captured.
// Matching is a case-insensitive substring test.
var DefaultDenylist = []string{"electron", "snippet", "clipvault"}

// Store persists captured snippets.
type Store interface {
	InsertSnippet(ctx context.Context, s *snippet.Snippet) error
}

// Enqueuer hands captured snippets to enrichment.
type Enqueuer interface {
	Enqueue(id string)
	Size() int
}

// Status is the monitor snapshot pushed to subscribers.
type Status struct {
	Enabled        bool   `json:"enabled"`
	SourceApp      string `json:"source_app"`
	QueueSize      int    `json:"queue_size"`
	LastCapturedID string `json:"last_captured_id,omitempty"`
}

// Options configures a Monitor. Store, Queue, Clipboard and Context are required.
type Options struct {
	Store     Store
	Queue     Enqueuer
	Clipboard clipboard.Reader
	Context   activectx.Provider

	// AssetsDir receives captured images.
	AssetsDir string

	PollInterval time.Duration
	Denylist     []string

	Logger  *zap.Logger
	Metrics *metrics.Metrics

	// Now defaults to time.Now.
	Now func() time.Time
}

// Monitor polls the clipboard while enabled. The zero value is not usable; call New.
type Monitor struct {
	store     Store
	queue     Enqueuer
	clip      clipboard.Reader
	ctxp      activectx.Provider
	assetsDir string
	denylist  []string
	logger    *zap.Logger
	metrics   *metrics.Metrics
	now       func() time.Time

	// pollMu serializes polls; it guards the dedup hashes.
	pollMu        sync.Mutex
	lastTextHash  string
	lastImageHash string

	mu        sync.Mutex
	enabled   bool
	interval  time.Duration
	sourceApp string
	stop      chan struct{}
	done      chan struct{}

	subMu   sync.Mutex
	subs    map[int]func(Status)
	nextSub int
}

// New builds a disabled Monitor.
func New(opts Options) *Monitor {
	m := &Monitor{
		store:     opts.Store,
		queue:     opts.Queue,
		clip:      opts.Clipboard,
		ctxp:      opts.Context,
		assetsDir: opts.AssetsDir,
		denylist:  opts.Denylist,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		now:       opts.Now,
		interval:  opts.PollInterval,
		subs:      make(map[int]func(Status)),
	}
	if m.interval <= 0 {
		m.interval = DefaultPollInterval
	}
	if len(m.denylist) == 0 {
		m.denylist = DefaultDenylist
	}
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// Subscribe registers fn for status events and returns a function that removes it.
// fn is called synchronously from the goroutine that produced the event.
func (m *Monitor) Subscribe(fn func(Status)) func() {
	m.subMu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.subMu.Unlock()

	return func() {
		m.subMu.Lock()
		delete(m.subs, id)
		m.subMu.Unlock()
	}
}

func (m *Monitor) emit(st Status) {
	m.subMu.Lock()
	fns := make([]func(Status), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.subMu.Unlock()

	for _, fn := range fns {
		fn(st)
	}
}

// Status returns the current snapshot.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	st := Status{Enabled: m.enabled, SourceApp: m.sourceApp}
	m.mu.Unlock()
	st.QueueSize = m.queue.Size()
	return st
}

// Enable starts the poll loop. On a running monitor it only re-emits status.
func (m *Monitor) Enable() Status {
	m.mu.Lock()
	if !m.enabled {
		m.enabled = true
		m.startLocked()
		m.logger.Info("capture enabled", zap.Duration("interval", m.interval))
	}
	m.mu.Unlock()

	st := m.Status()
	m.emit(st)
	return st
}

// Disable stops the poll loop and waits for it to exit. A poll already in
// progress finishes; nothing it enqueued is cancelled.
func (m *Monitor) Disable() Status {
	m.mu.Lock()
	var done chan struct{}
	if m.enabled {
		m.enabled = false
		done = m.stopLocked()
		m.logger.Info("capture disabled")
	}
	m.mu.Unlock()

	if done != nil {
		<-done
	}
	st := m.Status()
	m.emit(st)
	return st
}

// SetPollInterval changes the polling period, restarting a running loop.
func (m *Monitor) SetPollInterval(d time.Duration) {
	if d <= 0 {
		d = DefaultPollInterval
	}
	m.mu.Lock()
	if d == m.interval {
		m.mu.Unlock()
		return
	}
	m.interval = d
	var done chan struct{}
	if m.enabled {
		done = m.stopLocked()
		m.startLocked()
	}
	m.mu.Unlock()

	if done != nil {
		<-done
	}
}

// Interval reports the current polling period.
func (m *Monitor) Interval() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.interval
}

func (m *Monitor) startLocked() {
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	go m.loop(m.interval, m.stop, m.done)
}

// stopLocked signals the loop and returns the channel closed when it has exited.
// The caller must wait on it after releasing m.mu.
func (m *Monitor) stopLocked() chan struct{} {
	close(m.stop)
	done := m.done
	m.stop, m.done = nil, nil
	return done
}

func (m *Monitor) loop(interval time.Duration, stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.PollOnce(context.Background())
		}
	}
}

// CaptureNow runs one poll regardless of the timer and returns the resulting status.
func (m *Monitor) CaptureNow(ctx context.Context) Status {
	id := m.PollOnce(ctx)
	st := m.Status()
	st.LastCapturedID = id
	return st
}

// PollOnce inspects the clipboard once and returns the ID of the snippet it
// captured, or "" when nothing new was captured. Failures are logged, never returned.
func (m *Monitor) PollOnce(ctx context.Context) string {
	m.pollMu.Lock()
	id, err := m.poll(ctx)
	m.pollMu.Unlock()

	if err != nil {
		m.metrics.CaptureError()
		if errors.IsRecoverable(err) {
			m.logger.Debug("poll skipped", zap.Error(err))
		} else {
			m.logger.Warn("poll failed", zap.Error(err))
		}
		return ""
	}
	if id == "" {
		return ""
	}

	st := m.Status()
	st.LastCapturedID = id
	m.emit(st)
	return id
}

// poll must be called with pollMu held.
func (m *Monitor) poll(ctx context.Context) (string, error) {
	app := m.ctxp.FrontmostApp(ctx)
	if m.isSelf(app) {
		m.metrics.CaptureSkipped(metrics.SkipSelfCapture)
		return "", nil
	}
	m.mu.Lock()
	m.sourceApp = app
	m.mu.Unlock()

	var url, title string
	if app != "" {
		if tab := m.ctxp.BrowserTab(ctx, app); tab != nil {
			url, title = tab.URL, tab.Title
		}
	}

	raw, err := m.clip.ReadImage(ctx)
	if err != nil {
		return "", errors.NewRecoverable("read clipboard image", err)
	}
	if len(raw) > 0 {
		img, err := clipboard.Normalize(raw)
		if err == nil {
			return m.captureImage(ctx, img, app, url, title)
		}
		m.logger.Debug("clipboard image unreadable, falling back to text", zap.Error(err))
	}

	html, err := m.clip.ReadHTML(ctx)
	if err != nil {
		return "", errors.NewRecoverable("read clipboard html", err)
	}
	text, err := m.clip.ReadText(ctx)
	if err != nil {
		return "", errors.NewRecoverable("read clipboard text", err)
	}
	return m.captureText(ctx, html, text, app, url, title)
}

func (m *Monitor) isSelf(app string) bool {
	if app == "" {
		return false
	}
	lower := strings.ToLower(app)
	for _, name := range m.denylist {
		if name != "" && strings.Contains(lower, strings.ToLower(name)) {
			return true
		}
	}
	return false
}

func (m *Monitor) captureImage(ctx context.Context, img *clipboard.Image, app, url, title string) (string, error) {
	hash := fingerprint.Hash(img.PNG)
	if hash == m.lastImageHash {
		m.metrics.CaptureSkipped(metrics.SkipDuplicate)
		return "", nil
	}

	now := m.now()
	path := filepath.Join(m.assetsDir, fmt.Sprintf("%d-%s.png", now.UnixMilli(), hash))
	if err := os.WriteFile(path, img.PNG, 0600); err != nil {
		return "", errors.NewRecoverable("write image asset", err)
	}

	s := &snippet.Snippet{
		SourceApp:   app,
		SourceURL:   url,
		SourceTitle: title,
		SourceType:  snippet.SourceImage,
		Status:      snippet.StatusPending,
		CreatedAt:   now.Unix(),
		Assets: []snippet.Asset{{
			FilePath:    path,
			ContentHash: hash,
			Width:       img.Width,
			Height:      img.Height,
		}},
	}
	if err := m.store.InsertSnippet(ctx, s); err != nil {
		_ = os.Remove(path)
		return "", errors.NewRecoverable("store image snippet", err)
	}
	m.lastImageHash = hash

	m.queue.Enqueue(s.ID)
	m.metrics.SnippetCaptured(string(snippet.SourceImage))
	m.logger.Info("captured image",
		zap.String("snippet_id", s.ID),
		zap.String("source_app", app),
		zap.Int("width", img.Width),
		zap.Int("height", img.Height),
	)
	return s.ID, nil
}

func (m *Monitor) captureText(ctx context.Context, html, text, app, url, title string) (string, error) {
	combined := html
	if combined == "" {
		combined = text
	}
	if combined == "" {
		m.metrics.CaptureSkipped(metrics.SkipEmpty)
		return "", nil
	}

	hash := fingerprint.HashString(combined)
	if hash == m.lastTextHash {
		m.metrics.CaptureSkipped(metrics.SkipDuplicate)
		return "", nil
	}

	sourceType := snippet.SourceText
	if html != "" || url != "" {
		sourceType = snippet.SourceWeb
	}
	if title == "" {
		title = app
	}

	s := &snippet.Snippet{
		ContentText: text,
		ContentHTML: html,
		SourceApp:   app,
		SourceURL:   url,
		SourceTitle: title,
		SourceType:  sourceType,
		Status:      snippet.StatusPending,
		CreatedAt:   m.now().Unix(),
	}
	if err := m.store.InsertSnippet(ctx, s); err != nil {
		return "", errors.NewRecoverable("store text snippet", err)
	}
	m.lastTextHash = hash

	m.queue.Enqueue(s.ID)
	m.metrics.SnippetCaptured(string(sourceType))
	m.logger.Info("captured snippet",
		zap.String("snippet_id", s.ID),
		zap.String("source_type", string(sourceType)),
		zap.String("source_app", app),
	)
	return s.ID, nil
}
