package main

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/hpungsan/clipvault/internal/activectx"
	"github.com/hpungsan/clipvault/internal/clipboard"
	"github.com/hpungsan/clipvault/internal/config"
	"github.com/hpungsan/clipvault/internal/db"
	"github.com/hpungsan/clipvault/internal/errors"
	"github.com/hpungsan/clipvault/internal/logging"
	"github.com/hpungsan/clipvault/internal/mcp"
	"github.com/hpungsan/clipvault/internal/ocr"
	"github.com/hpungsan/clipvault/internal/ops"
	"github.com/hpungsan/clipvault/internal/pipeline"
)

// appEnv is what every command needs: the vault, its database and config.
type appEnv struct {
	vaultDir string
	db       *sql.DB
	cfg      *config.Config
	logger   *zap.Logger

	// stdout receives command output; tests swap it for a buffer.
	stdout io.Writer

	// Overrides for the platform integrations; nil selects the system ones.
	ocr  ocr.Engine
	clip clipboard.Reader
	ctxp activectx.Provider
}

func (e *appEnv) out() io.Writer {
	if e.stdout != nil {
		return e.stdout
	}
	return os.Stdout
}

func (e *appEnv) exportsDir() string { return filepath.Join(e.vaultDir, db.ExportsDir) }
func (e *appEnv) assetsDir() string  { return filepath.Join(e.vaultDir, db.AssetsDir) }
func (e *appEnv) logsDir() string    { return filepath.Join(e.vaultDir, db.LogsDir) }

func (e *appEnv) clipboardReader() clipboard.Reader {
	if e.clip != nil {
		return e.clip
	}
	return clipboard.NewSystem()
}

func (e *appEnv) contextProvider() activectx.Provider {
	if e.ctxp != nil {
		return e.ctxp
	}
	return activectx.NewSystem(e.cfg.Browsers)
}

func (e *appEnv) ocrEngine() ocr.Engine {
	if e.ocr != nil {
		return e.ocr
	}
	return ocr.NewCommand(e.cfg.OCRCommand, e.cfg.OCRTimeout(), e.logger)
}

// newCLIApp creates the CLI application with all commands. env may be nil
// when only help or version output is needed.
func newCLIApp(env *appEnv) *cli.App {
	app := &cli.App{
		Name:    "clipvault",
		Usage:   "Clipboard research vault",
		Version: Version,
		Commands: []*cli.Command{
			runCmd(env),
			captureCmd(env),
			listCmd(env),
			fetchCmd(env),
			searchCmd(env),
			similarCmd(env),
			notesCmd(env),
			noteMarkdownCmd(env),
			reprocessCmd(env),
			deleteCmd(env),
			exportCmd(env),
			importCmd(env),
			logsCmd(env),
			mcpCmd(env),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

func filterFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "note", Aliases: []string{"n"}, Usage: "Filter by note ID"},
		&cli.StringFlag{Name: "status", Aliases: []string{"s"}, Usage: "Filter by status: pending|processing|done|error"},
		&cli.StringFlag{Name: "source", Usage: "Filter by source type: text|web|image"},
		&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: 20, Usage: "Maximum items to return"},
		&cli.IntFlag{Name: "offset", Aliases: []string{"o"}, Value: 0, Usage: "Items to skip"},
	}
}

// listCmd creates the list command.
func listCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List snippets, newest first",
		Flags: filterFlags(),
		Action: func(c *cli.Context) error {
			output, err := ops.List(c.Context, env.db, ops.ListInput{
				NoteID:     c.String("note"),
				Status:     c.String("status"),
				SourceType: c.String("source"),
				Limit:      c.Int("limit"),
				Offset:     c.Int("offset"),
			})
			if err != nil {
				return outputError(err)
			}
			return env.outputJSON(output)
		},
	}
}

// fetchCmd creates the fetch command.
func fetchCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:      "fetch",
		Usage:     "Fetch a snippet with its assets",
		ArgsUsage: "<id>",
		Action: func(c *cli.Context) error {
			output, err := ops.Fetch(c.Context, env.db, ops.FetchInput{ID: c.Args().First()})
			if err != nil {
				return outputError(err)
			}
			return env.outputJSON(output)
		},
	}
}

// searchCmd creates the search command.
func searchCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:      "search",
		Usage:     "Full-text search over snippets",
		ArgsUsage: "<query>",
		Flags:     filterFlags(),
		Action: func(c *cli.Context) error {
			output, err := ops.Search(c.Context, env.db, ops.SearchInput{
				Query:      strings.Join(c.Args().Slice(), " "),
				NoteID:     c.String("note"),
				Status:     c.String("status"),
				SourceType: c.String("source"),
				Limit:      c.Int("limit"),
				Offset:     c.Int("offset"),
			})
			if err != nil {
				return outputError(err)
			}
			return env.outputJSON(output)
		},
	}
}

// similarCmd creates the similar command.
func similarCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:      "similar",
		Usage:     "Rank snippets by similarity to a snippet or to --text",
		ArgsUsage: "[id]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "text", Aliases: []string{"t"}, Usage: "Free text to compare against"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: ops.DefaultSimilarLimit, Usage: "Maximum items to return"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.Similar(c.Context, env.db, nil, ops.SimilarInput{
				ID:    c.Args().First(),
				Text:  c.String("text"),
				Limit: c.Int("limit"),
				Dim:   env.cfg.EmbeddingDim,
			})
			if err != nil {
				return outputError(err)
			}
			return env.outputJSON(output)
		},
	}
}

// notesCmd creates the notes command.
func notesCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:  "notes",
		Usage: "List notes, most recently active first",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: ops.DefaultNotesLimit, Usage: "Maximum items to return"},
			&cli.IntFlag{Name: "offset", Aliases: []string{"o"}, Value: 0, Usage: "Items to skip"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.Notes(c.Context, env.db, ops.NotesInput{
				Limit:  c.Int("limit"),
				Offset: c.Int("offset"),
			})
			if err != nil {
				return outputError(err)
			}
			return env.outputJSON(output)
		},
	}
}

// noteMarkdownCmd creates the note-markdown command.
func noteMarkdownCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:      "note-markdown",
		Usage:     "Print a note as markdown",
		ArgsUsage: "<note-id>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "json", Usage: "Print JSON with the markdown and metadata"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.NoteMarkdown(c.Context, env.db, ops.NoteMarkdownInput{NoteID: c.Args().First()})
			if err != nil {
				return outputError(err)
			}
			if c.Bool("json") {
				return env.outputJSON(output)
			}
			_, err = io.WriteString(env.out(), output.Markdown)
			return err
		},
	}
}

// reprocessCmd creates the reprocess command.
func reprocessCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:      "reprocess",
		Usage:     "Run enrichment again and wait for it to finish",
		ArgsUsage: "[id...]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "status", Aliases: []string{"s"}, Usage: "Reprocess every snippet in this status"},
		},
		Action: func(c *cli.Context) error {
			p := env.newPipeline()
			queued, err := ops.Reprocess(c.Context, env.db, p, ops.ReprocessInput{
				IDs:    c.Args().Slice(),
				Status: c.String("status"),
			})
			if err != nil {
				return outputError(err)
			}
			statuses, err := env.finish(c.Context, p, queued.Queued)
			if err != nil {
				return outputError(err)
			}
			return env.outputJSON(mcp.EnrichOutput{Queued: queued.Queued, Count: queued.Count, Statuses: statuses, InFlight: queued.InFlight})
		},
	}
}

// deleteCmd creates the delete command.
func deleteCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Usage:     "Permanently delete a snippet and its image files",
		ArgsUsage: "<id>",
		Action: func(c *cli.Context) error {
			output, err := ops.Delete(c.Context, env.db, env.assetsDir(), ops.DeleteInput{ID: c.Args().First()})
			if err != nil {
				return outputError(err)
			}
			return env.outputJSON(output)
		},
	}
}

// exportCmd creates the export command.
func exportCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Export snippets to a JSONL file",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "path", Aliases: []string{"p"}, Usage: "Export file path (default: ~/.clipvault/exports/<all|note>-<timestamp>.jsonl)"},
			&cli.StringFlag{Name: "note", Aliases: []string{"n"}, Usage: "Only snippets in this note"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.Export(c.Context, env.db, env.cfg, env.exportsDir(), ops.ExportInput{
				Path:   c.String("path"),
				NoteID: c.String("note"),
			})
			if err != nil {
				return outputError(err)
			}
			return env.outputJSON(output)
		},
	}
}

// importCmd creates the import command.
func importCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:  "import",
		Usage: "Import snippets from a JSONL file and enrich any that are unfinished",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "path", Aliases: []string{"p"}, Required: true, Usage: "Import file path"},
			&cli.StringFlag{Name: "mode", Aliases: []string{"m"}, Value: "error", Usage: "Collision mode: error|skip"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.Import(c.Context, env.db, env.cfg, env.exportsDir(), ops.ImportInput{
				Path: c.String("path"),
				Mode: ops.ImportMode(c.String("mode")),
				Dim:  env.cfg.EmbeddingDim,
			})
			if err != nil {
				return outputError(err)
			}

			result := mcp.ImportToolOutput{ImportOutput: output}
			if len(output.Pending) > 0 {
				p := env.newPipeline()
				for _, id := range output.Pending {
					p.Enqueue(id)
				}
				if result.Statuses, err = env.finish(c.Context, p, output.Pending); err != nil {
					return outputError(err)
				}
			}
			return env.outputJSON(result)
		},
	}
}

// logsCmd creates the logs command.
func logsCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:  "logs",
		Usage: "Show recent log entries, newest first",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "level", Usage: "Only entries at this level (debug|info|warn|error)"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: 50, Usage: "Maximum entries"},
		},
		Action: func(c *cli.Context) error {
			entries, err := logging.ReadRecent(env.logsDir(), c.String("level"), c.Int("limit"))
			if err != nil {
				return outputError(errors.NewInternal(err))
			}
			return env.outputJSON(map[string]any{"items": entries})
		},
	}
}

// mcpCmd creates the mcp command.
func mcpCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve the library as MCP tools over stdio",
		Action: func(c *cli.Context) error {
			return mcp.Run(env.db, env.cfg, Version, env.mcpOptions())
		},
	}
}

// newPipeline builds a private enrichment pipeline for one-shot commands.
func (e *appEnv) newPipeline() *pipeline.Pipeline {
	return pipeline.New(pipeline.Options{
		Store:            db.NewStore(e.db),
		OCR:              e.ocrEngine(),
		SummarySentences: e.cfg.SummarySentences,
		KeywordLimit:     e.cfg.KeywordLimit,
		TopicLimit:       e.cfg.TopicLimit,
		EmbeddingDim:     e.cfg.EmbeddingDim,
		Logger:           e.logger,
	})
}

// finish waits for p to drain and reads back the status of each id.
func (e *appEnv) finish(ctx context.Context, p *pipeline.Pipeline, ids []string) (map[string]string, error) {
	if err := p.Wait(ctx); err != nil {
		return nil, errors.NewCancelled("enrichment")
	}
	statuses := make(map[string]string, len(ids))
	for _, id := range ids {
		s, err := db.GetSnippet(ctx, e.db, id)
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

// Helper functions

// outputJSON marshals result to stdout as JSON.
func (e *appEnv) outputJSON(v any) error {
	enc := json.NewEncoder(e.out())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	var vErr *errors.VaultError
	if stderrors.As(err, &vErr) {
		return cli.Exit(fmt.Sprintf("[%s] %s", vErr.Code, vErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}
