package ops

import (
	"context"
	"database/sql"
	"strings"

	"github.com/hpungsan/clipvault/internal/db"
	"github.com/hpungsan/clipvault/internal/errors"
	"github.com/hpungsan/clipvault/internal/snippet"
)

// MaxNoteExportSnippets caps how many snippets one note export renders.
const MaxNoteExportSnippets = 500

// NoteMarkdownInput contains parameters for the NoteMarkdown operation.
type NoteMarkdownInput struct {
	NoteID string
}

// NoteMarkdownOutput contains the rendered note.
type NoteMarkdownOutput struct {
	NoteID    string `json:"note_id"`
	Title     string `json:"title"`
	Markdown  string `json:"markdown"`
	Snippets  int    `json:"snippets"`
	Truncated bool   `json:"truncated"`
}

// NoteMarkdown renders a note and its snippets, oldest first, as one markdown
// document. Image snippets link their asset files and carry any OCR text.
func NoteMarkdown(ctx context.Context, database *sql.DB, input NoteMarkdownInput) (*NoteMarkdownOutput, error) {
	id, err := requireID(input.NoteID)
	if err != nil {
		return nil, err
	}
	note, err := db.GetNote(ctx, database, id)
	if err != nil {
		return nil, err
	}

	summaries, total, err := db.ListSnippets(ctx, database, db.ListFilter{NoteID: id}, MaxNoteExportSnippets, 0)
	if err != nil {
		return nil, err
	}

	snippets := make([]*snippet.Snippet, 0, len(summaries))
	for i := len(summaries) - 1; i >= 0; i-- {
		select {
		case <-ctx.Done():
			return nil, errors.NewCancelled("note markdown")
		default:
		}
		s, err := db.GetSnippet(ctx, database, summaries[i].ID)
		if errors.Is(err, errors.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		snippets = append(snippets, s)
	}

	md := renderNote(note, snippets)
	return &NoteMarkdownOutput{
		NoteID:    note.ID,
		Title:     note.Title,
		Markdown:  md,
		Snippets:  len(snippets),
		Truncated: total > len(summaries),
	}, nil
}

func renderNote(note *snippet.Note, snippets []*snippet.Snippet) string {
	var b strings.Builder

	title := note.Title
	if title == "" {
		title = "Untitled"
	}
	b.WriteString("# " + title + "\n")
	if note.SourceURL != "" {
		b.WriteString("URL: " + note.SourceURL + "\n")
	}
	b.WriteString("Keywords: " + noteKeywords(snippets) + "\n")
	b.WriteString("Summary: " + noteSummary(snippets) + "\n\n")

	for _, s := range snippets {
		b.WriteString("---\n")
		if s.SourceType == snippet.SourceImage {
			for _, a := range s.Assets {
				b.WriteString("![image](file://" + a.FilePath + ")\n")
				if a.OCRText != "" {
					b.WriteString(a.OCRText + "\n")
				}
			}
		} else if s.ContentText != "" {
			b.WriteString(s.ContentText + "\n")
		}
		b.WriteString("\n")
	}
	return b.String()
}

// noteKeywords merges snippet keywords, first occurrence wins.
func noteKeywords(snippets []*snippet.Snippet) string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range snippets {
		for _, kw := range strings.Split(s.Keywords, ",") {
			kw = strings.TrimSpace(kw)
			if kw == "" || seen[kw] {
				continue
			}
			seen[kw] = true
			out = append(out, kw)
		}
	}
	return strings.Join(out, ", ")
}

func noteSummary(snippets []*snippet.Snippet) string {
	for _, s := range snippets {
		if s.Summary != "" {
			return s.Summary
		}
	}
	return ""
}
