package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hpungsan/clipvault/internal/capture"
	"github.com/hpungsan/clipvault/internal/config"
	"github.com/hpungsan/clipvault/internal/db"
	"github.com/hpungsan/clipvault/internal/errors"
	"github.com/hpungsan/clipvault/internal/metrics"
	"github.com/hpungsan/clipvault/internal/ops"
	"github.com/hpungsan/clipvault/internal/pipeline"
	"github.com/hpungsan/clipvault/internal/snippet"
	"github.com/hpungsan/clipvault/internal/web"
)

// shutdownWait bounds how long run waits for queued enrichment on exit.
const shutdownWait = 30 * time.Second

// statusProbeTimeout bounds the request to a running daemon.
const statusProbeTimeout = time.Second

// runCmd creates the run command: capture, enrichment, library UI and config reload.
func runCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Start clipboard capture, enrichment and the library UI",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Usage: "Library UI bind address (default from config)"},
			&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Usage: "Library UI port (default from config)"},
			&cli.BoolFlag{Name: "no-capture", Usage: "Start with capture disabled"},
		},
		Action: func(c *cli.Context) error {
			cfg := *env.cfg
			if bind := c.String("bind"); bind != "" {
				cfg.WebBind = bind
			}
			if port := c.Int("port"); port > 0 {
				cfg.WebPort = port
			}
			startCapture := cfg.CaptureOn() && !c.Bool("no-capture")

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := runDaemon(ctx, env, &cfg, startCapture); err != nil {
				return outputError(err)
			}
			return nil
		},
	}
}

// runDaemon wires the monitor, pipeline, web server and config watcher and
// blocks until ctx ends or one of them fails.
func runDaemon(ctx context.Context, env *appEnv, cfg *config.Config, startCapture bool) error {
	logger := env.logger
	m := metrics.New()
	similar := ops.NewSimilarCache(0)
	store := db.NewStore(env.db)

	p := pipeline.New(pipeline.Options{
		Store:            store,
		OCR:              env.ocrEngine(),
		SummarySentences: cfg.SummarySentences,
		KeywordLimit:     cfg.KeywordLimit,
		TopicLimit:       cfg.TopicLimit,
		EmbeddingDim:     cfg.EmbeddingDim,
		Logger:           logger.Named("pipeline"),
		Metrics:          m,
		OnProcessed: func(string, snippet.Status) {
			similar.Invalidate()
		},
	})

	mon := capture.New(capture.Options{
		Store:        store,
		Queue:        p,
		Clipboard:    env.clipboardReader(),
		Context:      env.contextProvider(),
		AssetsDir:    env.assetsDir(),
		PollInterval: cfg.PollInterval(),
		Denylist:     cfg.SelfCaptureDenylist,
		Logger:       logger.Named("capture"),
		Metrics:      m,
	})

	srv, err := web.NewServer(web.Options{
		DB:       env.db,
		Config:   cfg,
		VaultDir: env.vaultDir,
		Version:  Version,
		Capture:  mon,
		Queue:    p,
		Similar:  similar,
		Metrics:  m,
		Logger:   logger.Named("web"),
	})
	if err != nil {
		return err
	}

	resumed, err := resumeUnfinished(ctx, env, p)
	if err != nil {
		return err
	}
	if resumed > 0 {
		logger.Info("resumed unfinished enrichment", zap.Int("count", resumed))
	}

	if startCapture {
		mon.Enable()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx, logger)
	})
	g.Go(func() error {
		return config.Watch(gctx, env.vaultDir, logger, func(next *config.Config) {
			mon.SetPollInterval(next.PollInterval())
			if next.CaptureOn() {
				mon.Enable()
			} else {
				mon.Disable()
			}
		})
	})

	runErr := g.Wait()

	mon.Disable()
	waitCtx, cancel := context.WithTimeout(context.Background(), shutdownWait)
	defer cancel()
	if err := p.Wait(waitCtx); err != nil {
		logger.Warn("enrichment still queued at exit", zap.Int("queued", p.Size()))
	}
	return runErr
}

// resumeUnfinished requeues snippets a previous process left pending or
// processing. Processing ones go first since they were furthest along.
func resumeUnfinished(ctx context.Context, env *appEnv, q ops.Enqueuer) (int, error) {
	var ids []string
	for _, st := range []snippet.Status{snippet.StatusProcessing, snippet.StatusPending} {
		batch, err := db.ListSnippetIDsByStatus(ctx, env.db, st)
		if err != nil {
			return 0, err
		}
		ids = append(ids, batch...)
	}

	total := 0
	for start := 0; start < len(ids); start += ops.MaxReprocessIDs {
		end := min(start+ops.MaxReprocessIDs, len(ids))
		out, err := ops.Reprocess(ctx, env.db, q, ops.ReprocessInput{IDs: ids[start:end], Resume: true})
		if err != nil {
			return total, err
		}
		total += out.Count
	}
	return total, nil
}

// captureCmd creates the capture command and its subcommands.
func captureCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:  "capture",
		Usage: "Control clipboard capture",
		Subcommands: []*cli.Command{
			{
				Name:  "enable",
				Usage: "Turn capture on (a running daemon picks this up)",
				Action: func(c *cli.Context) error {
					return setCapture(env, true)
				},
			},
			{
				Name:  "disable",
				Usage: "Turn capture off (a running daemon picks this up)",
				Action: func(c *cli.Context) error {
					return setCapture(env, false)
				},
			},
			{
				Name:  "now",
				Usage: "Capture the clipboard once and enrich it",
				Action: func(c *cli.Context) error {
					return captureNow(c.Context, env)
				},
			},
			{
				Name:  "status",
				Usage: "Show capture state and the enrichment backlog",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "json", Usage: "Print JSON"},
				},
				Action: func(c *cli.Context) error {
					report, err := buildStatusReport(c.Context, env)
					if err != nil {
						return outputError(err)
					}
					if c.Bool("json") {
						return env.outputJSON(report)
					}
					printStatusReport(env.out(), report)
					return nil
				},
			},
		},
	}
}

func setCapture(env *appEnv, enabled bool) error {
	if err := config.SetCaptureEnabled(env.vaultDir, enabled); err != nil {
		return outputError(errors.NewInternal(err))
	}
	return env.outputJSON(map[string]bool{"capture_enabled": enabled})
}

// captureNow polls the clipboard once and enriches the result before returning.
func captureNow(ctx context.Context, env *appEnv) error {
	p := env.newPipeline()
	mon := capture.New(capture.Options{
		Store:     db.NewStore(env.db),
		Queue:     p,
		Clipboard: env.clipboardReader(),
		Context:   env.contextProvider(),
		AssetsDir: env.assetsDir(),
		Denylist:  env.cfg.SelfCaptureDenylist,
		Logger:    env.logger,
	})

	st := mon.CaptureNow(ctx)
	if st.LastCapturedID == "" {
		return env.outputJSON(map[string]any{"captured": false})
	}
	statuses, err := env.finish(ctx, p, []string{st.LastCapturedID})
	if err != nil {
		return outputError(err)
	}
	return env.outputJSON(map[string]any{
		"captured": true,
		"id":       st.LastCapturedID,
		"status":   statuses[st.LastCapturedID],
	})
}

// StatusReport is the capture status shown by "capture status".
type StatusReport struct {
	// Daemon is the live status of a running daemon, nil when none answered.
	Daemon *capture.Status `json:"daemon"`

	CaptureEnabled bool           `json:"capture_enabled"`
	LibraryURL     string         `json:"library_url"`
	Counts         map[string]int `json:"counts"`
}

func buildStatusReport(ctx context.Context, env *appEnv) (*StatusReport, error) {
	report := &StatusReport{
		CaptureEnabled: env.cfg.CaptureOn(),
		LibraryURL:     libraryURL(env.cfg),
		Counts:         make(map[string]int),
	}
	for _, st := range []snippet.Status{snippet.StatusPending, snippet.StatusProcessing, snippet.StatusDone, snippet.StatusError} {
		ids, err := db.ListSnippetIDsByStatus(ctx, env.db, st)
		if err != nil {
			return nil, err
		}
		report.Counts[string(st)] = len(ids)
	}
	report.Daemon = probeDaemon(ctx, report.LibraryURL)
	return report, nil
}

func libraryURL(cfg *config.Config) string {
	host := cfg.WebBind
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(cfg.WebPort))
}

// probeDaemon asks a running daemon for its live status.
func probeDaemon(ctx context.Context, baseURL string) *capture.Status {
	ctx, cancel := context.WithTimeout(ctx, statusProbeTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/status", nil)
	if err != nil {
		return nil
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil
	}
	var st capture.Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return nil
	}
	return &st
}

func printStatusReport(w io.Writer, r *StatusReport) {
	green := color.New(color.FgGreen, color.Bold)
	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)
	faint := color.New(color.Faint)

	if r.Daemon != nil {
		green.Fprint(w, "daemon    running")
		fmt.Fprintf(w, "  %s\n", r.LibraryURL)
		if r.Daemon.Enabled {
			green.Fprintln(w, "capture   on")
		} else {
			yellow.Fprintln(w, "capture   off")
		}
		if r.Daemon.SourceApp != "" {
			fmt.Fprintf(w, "source    %s\n", r.Daemon.SourceApp)
		}
		fmt.Fprintf(w, "queue     %s\n", humanize.Comma(int64(r.Daemon.QueueSize)))
	} else {
		faint.Fprintln(w, "daemon    not running")
		if r.CaptureEnabled {
			fmt.Fprintln(w, "capture   on at next start")
		} else {
			yellow.Fprintln(w, "capture   off")
		}
	}

	fmt.Fprintf(w, "snippets  %s done", humanize.Comma(int64(r.Counts[string(snippet.StatusDone)])))
	if n := r.Counts[string(snippet.StatusPending)] + r.Counts[string(snippet.StatusProcessing)]; n > 0 {
		yellow.Fprintf(w, ", %s waiting", humanize.Comma(int64(n)))
	}
	if n := r.Counts[string(snippet.StatusError)]; n > 0 {
		red.Fprintf(w, ", %s failed", humanize.Comma(int64(n)))
	}
	fmt.Fprintln(w)
}
