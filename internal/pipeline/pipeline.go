// Package pipeline enriches captured snippets one at a time, in capture order.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/clipvault/internal/embedding"
	"github.com/hpungsan/clipvault/internal/enrich"
	"github.com/hpungsan/clipvault/internal/errors"
	"github.com/hpungsan/clipvault/internal/metrics"
	"github.com/hpungsan/clipvault/internal/ocr"
	"github.com/hpungsan/clipvault/internal/snippet"
)

// Defaults for Options fields left at zero.
const (
	DefaultSummarySentences = 2
	DefaultKeywordLimit     = 6
	DefaultTopicLimit       = 2
)

// Store is the persistence the pipeline reads from and writes to.
type Store interface {
	GetSnippet(ctx context.Context, id string) (*snippet.Snippet, error)
	UpdateSnippet(ctx context.Context, id string, p snippet.Patch) error
	UpdateAsset(ctx context.Context, id string, p snippet.AssetPatch) error
	UpsertEmbedding(ctx context.Context, snippetID string, vec []float32, dim int) error
}

// Options configures a Pipeline. Store is required.
type Options struct {
	Store Store
	OCR   ocr.Engine

	SummarySentences int
	KeywordLimit     int
	TopicLimit       int
	EmbeddingDim     int

	Logger  *zap.Logger
	Metrics *metrics.Metrics

	// OnProcessed, when set, is called after each snippet finishes with its
	// final status. Snippets that vanished mid-run are not reported.
	OnProcessed func(id string, status snippet.Status)
}

// Pipeline is a FIFO of snippet IDs drained by at most one goroutine.
type Pipeline struct {
	store       Store
	ocr         ocr.Engine
	sentences   int
	keywords    int
	topics      int
	dim         int
	logger      *zap.Logger
	metrics     *metrics.Metrics
	onProcessed func(string, snippet.Status)

	mu         sync.Mutex
	queue      []string
	queued     map[string]struct{}
	processing bool
	draining   bool
	idle       chan struct{} // closed while nothing is queued or in flight
}

// New builds a Pipeline. Zero-valued limits fall back to the package defaults.
func New(opts Options) *Pipeline {
	p := &Pipeline{
		store:       opts.Store,
		ocr:         opts.OCR,
		sentences:   opts.SummarySentences,
		keywords:    opts.KeywordLimit,
		topics:      opts.TopicLimit,
		dim:         opts.EmbeddingDim,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		onProcessed: opts.OnProcessed,
		queued:      make(map[string]struct{}),
		idle:        make(chan struct{}),
	}
	close(p.idle)
	if p.ocr == nil {
		p.ocr = ocr.Nop{}
	}
	if p.sentences <= 0 {
		p.sentences = DefaultSummarySentences
	}
	if p.keywords <= 0 {
		p.keywords = DefaultKeywordLimit
	}
	if p.topics <= 0 {
		p.topics = DefaultTopicLimit
	}
	if p.dim <= 0 {
		p.dim = embedding.DefaultDim
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	return p
}

// Enqueue schedules id for enrichment and returns immediately.
// An id already waiting in the queue is not added twice.
func (p *Pipeline) Enqueue(id string) {
	p.mu.Lock()
	if _, ok := p.queued[id]; ok {
		p.mu.Unlock()
		return
	}
	p.queued[id] = struct{}{}
	p.queue = append(p.queue, id)
	start := !p.draining
	if start {
		p.draining = true
		p.idle = make(chan struct{})
	}
	size := p.sizeLocked()
	p.mu.Unlock()

	p.metrics.SetQueueSize(size)
	if start {
		go p.drain()
	}
}

// Size is the outstanding work: queued IDs plus the one in flight, if any.
func (p *Pipeline) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sizeLocked()
}

func (p *Pipeline) sizeLocked() int {
	n := len(p.queue)
	if p.processing {
		n++
	}
	return n
}

// Wait blocks until the queue is empty and nothing is in flight.
func (p *Pipeline) Wait(ctx context.Context) error {
	p.mu.Lock()
	idle := p.idle
	p.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pipeline) drain() {
	for {
		p.mu.Lock()
		if len(p.queue) == 0 {
			p.processing = false
			p.draining = false
			close(p.idle)
			p.mu.Unlock()
			p.metrics.SetQueueSize(0)
			return
		}
		id := p.queue[0]
		p.queue = p.queue[1:]
		delete(p.queued, id)
		p.processing = true
		p.mu.Unlock()

		p.run(id)

		p.mu.Lock()
		p.processing = false
		size := p.sizeLocked()
		p.mu.Unlock()
		p.metrics.SetQueueSize(size)
	}
}

// run processes one snippet and converts any failure into status=error.
// Enrichment is never tied to a caller's context: once enqueued it runs to the end.
func (p *Pipeline) run(id string) {
	ctx := context.Background()
	start := time.Now()
	log := p.logger.With(zap.String("snippet_id", id))

	status := snippet.StatusDone
	err := p.safeProcess(ctx, id)
	switch {
	case err == nil:
	case errors.Is(err, errors.ErrNotFound) && p.gone(ctx, id):
		log.Debug("snippet gone before enrichment finished")
		return
	default:
		status = snippet.StatusError
		log.Warn("enrichment failed", zap.Error(err))
		if uerr := p.store.UpdateSnippet(ctx, id, snippet.StatusPatch(snippet.StatusError)); uerr != nil {
			log.Error("mark snippet as error", zap.Error(uerr))
		}
	}

	elapsed := time.Since(start)
	p.metrics.SnippetProcessed(string(status), elapsed)
	log.Debug("enrichment finished", zap.String("status", string(status)), zap.Duration("elapsed", elapsed))
	if p.onProcessed != nil {
		p.onProcessed(id, status)
	}
}

// gone reports whether the snippet row itself no longer exists. A NotFound
// from a related row (an asset, say) leaves the snippet to be marked error.
func (p *Pipeline) gone(ctx context.Context, id string) bool {
	_, err := p.store.GetSnippet(ctx, id)
	return errors.Is(err, errors.ErrNotFound)
}

func (p *Pipeline) safeProcess(ctx context.Context, id string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during enrichment: %v", r)
		}
	}()
	return p.processSnippet(ctx, id)
}

func (p *Pipeline) processSnippet(ctx context.Context, id string) error {
	s, err := p.store.GetSnippet(ctx, id)
	if err != nil {
		return err
	}
	if err := p.store.UpdateSnippet(ctx, id, snippet.StatusPatch(snippet.StatusProcessing)); err != nil {
		return err
	}

	text, markdown := s.ContentText, s.ContentMarkdown
	if s.ContentHTML != "" {
		ex := enrich.ExtractFromHTML(s.ContentHTML, s.SourceURL)
		if ex.Text != "" {
			text = ex.Text
		}
		if ex.Markdown != "" {
			markdown = ex.Markdown
		}
	} else if text != "" && markdown == "" {
		markdown = text
	}

	ocrText, err := p.recognizeAssets(ctx, s.Assets)
	if err != nil {
		return err
	}
	combined := joinNonEmpty(text, ocrText)
	if text == "" && ocrText != "" {
		text = ocrText
	}

	summary := enrich.Summarize(combined, p.sentences)
	keywords := strings.Join(enrich.ExtractKeywords(combined, p.keywords), ", ")
	topics := strings.Join(enrich.ExtractKeywords(combined, p.topics), ", ")
	citation := enrich.BuildCitation(enrich.CitationInput{
		Summary:     summary,
		SourceTitle: s.SourceTitle,
		SourceURL:   s.SourceURL,
		SourceApp:   s.SourceApp,
		CreatedAt:   s.CreatedAt,
	})

	done := snippet.StatusDone
	err = p.store.UpdateSnippet(ctx, id, snippet.Patch{
		ContentText:     &text,
		ContentMarkdown: &markdown,
		Summary:         &summary,
		Keywords:        &keywords,
		Topics:          &topics,
		CitationMD:      &citation,
		Status:          &done,
	})
	if err != nil {
		return err
	}

	// The snippet is already done; a lost vector only hides it from similarity lookups.
	vec := embedding.Embed(text+"\n"+summary, p.dim)
	if err := p.store.UpsertEmbedding(ctx, id, vec, p.dim); err != nil && !errors.Is(err, errors.ErrNotFound) {
		p.logger.Warn("store embedding", zap.String("snippet_id", id), zap.Error(err))
	}
	return nil
}

// recognizeAssets runs OCR over assets that have a file on disk and no text yet,
// persisting each result. Returns the newly recognized text, newline-joined.
func (p *Pipeline) recognizeAssets(ctx context.Context, assets []snippet.Asset) (string, error) {
	var parts []string
	for _, a := range assets {
		if a.FilePath == "" || a.OCRText != "" {
			continue
		}
		if _, err := os.Stat(a.FilePath); err != nil {
			p.logger.Debug("asset file missing, skipping OCR", zap.String("asset_id", a.ID), zap.Error(err))
			continue
		}
		out := strings.TrimSpace(p.ocr.Run(ctx, a.FilePath))
		p.metrics.OCRRun(out != "")
		if out == "" {
			continue
		}
		parts = append(parts, out)
		if err := p.store.UpdateAsset(ctx, a.ID, snippet.AssetPatch{OCRText: &out}); err != nil {
			return "", err
		}
	}
	return strings.Join(parts, "\n"), nil
}

func joinNonEmpty(parts ...string) string {
	var kept []string
	for _, s := range parts {
		if s != "" {
			kept = append(kept, s)
		}
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}
