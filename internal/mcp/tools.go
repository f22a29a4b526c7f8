package mcp

import "github.com/mark3labs/mcp-go/mcp"

var listToolDef = mcp.NewTool("snippet_list",
	mcp.WithDescription("List captured snippets, newest first. Returns summaries without full content."),
	mcp.WithString("note_id", mcp.Description("Only snippets in this note")),
	mcp.WithString("status", mcp.Description("Lifecycle filter"), mcp.Enum("pending", "processing", "done", "error")),
	mcp.WithString("source_type", mcp.Description("Source filter"), mcp.Enum("text", "web", "image")),
	mcp.WithNumber("limit", mcp.Description("Max items (default 20, max 100)")),
	mcp.WithNumber("offset", mcp.Description("Items to skip")),
	mcp.WithReadOnlyHintAnnotation(true),
)

var fetchToolDef = mcp.NewTool("snippet_fetch",
	mcp.WithDescription("Fetch one snippet with its full text, markdown, enrichment and image assets."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Snippet ID")),
	mcp.WithReadOnlyHintAnnotation(true),
)

var searchToolDef = mcp.NewTool("snippet_search",
	mcp.WithDescription("Full-text search over snippet text, summaries, keywords, OCR text and source titles. Results are BM25 ranked with <b> highlighted matches."),
	mcp.WithString("query", mcp.Required(), mcp.Description("Search terms; FTS5 syntax is escaped")),
	mcp.WithString("note_id", mcp.Description("Only snippets in this note")),
	mcp.WithString("status", mcp.Description("Lifecycle filter"), mcp.Enum("pending", "processing", "done", "error")),
	mcp.WithString("source_type", mcp.Description("Source filter"), mcp.Enum("text", "web", "image")),
	mcp.WithNumber("limit", mcp.Description("Max items (default 20, max 100)")),
	mcp.WithNumber("offset", mcp.Description("Items to skip")),
	mcp.WithReadOnlyHintAnnotation(true),
)

var similarToolDef = mcp.NewTool("snippet_similar",
	mcp.WithDescription("Rank snippets by similarity to a stored snippet or to free text. Pass exactly one of id or text."),
	mcp.WithString("id", mcp.Description("Snippet to compare against")),
	mcp.WithString("text", mcp.Description("Free text to compare against")),
	mcp.WithNumber("limit", mcp.Description("Max items (default 10, max 50)")),
	mcp.WithReadOnlyHintAnnotation(true),
)

var notesToolDef = mcp.NewTool("note_list",
	mcp.WithDescription("List notes (snippets grouped by source), most recently active first."),
	mcp.WithNumber("limit", mcp.Description("Max items (default 50, max 200)")),
	mcp.WithNumber("offset", mcp.Description("Items to skip")),
	mcp.WithReadOnlyHintAnnotation(true),
)

var noteMarkdownToolDef = mcp.NewTool("note_markdown",
	mcp.WithDescription("Render a note and its snippets, oldest first, as one markdown document."),
	mcp.WithString("note_id", mcp.Required(), mcp.Description("Note ID")),
	mcp.WithReadOnlyHintAnnotation(true),
)

var reprocessToolDef = mcp.NewTool("snippet_reprocess",
	mcp.WithDescription("Run enrichment again for the given snippets, or for every snippet in a status. Returns after enrichment finishes."),
	mcp.WithArray("ids", mcp.Description("Snippet IDs"), mcp.WithStringItems()),
	mcp.WithString("status", mcp.Description("Reprocess every snippet in this status"), mcp.Enum("pending", "processing", "done", "error")),
)

var deleteToolDef = mcp.NewTool("snippet_delete",
	mcp.WithDescription("Permanently delete a snippet and its image files."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Snippet ID")),
	mcp.WithDestructiveHintAnnotation(true),
)

var exportToolDef = mcp.NewTool("snippet_export",
	mcp.WithDescription("Export snippets to a JSONL file. Defaults to the vault's exports directory."),
	mcp.WithString("path", mcp.Description("Output .jsonl path")),
	mcp.WithString("note_id", mcp.Description("Only snippets in this note")),
)

var importToolDef = mcp.NewTool("snippet_import",
	mcp.WithDescription("Import snippets from a JSONL export. Unfinished snippets are enriched before returning."),
	mcp.WithString("path", mcp.Required(), mcp.Description("Input .jsonl path")),
	mcp.WithString("mode", mcp.Description("ID collision handling (default error)"), mcp.Enum("error", "skip")),
)
