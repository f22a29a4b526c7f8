package db

import (
	"context"
	"database/sql"
	"strings"
	"testing"

	"github.com/hpungsan/clipvault/internal/embedding"
	"github.com/hpungsan/clipvault/internal/errors"
	"github.com/hpungsan/clipvault/internal/snippet"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Init(t.TempDir())
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// newTestSnippet creates a text snippet with the given provenance.
func newTestSnippet(text, app, url, title string, createdAt int64) *snippet.Snippet {
	st := snippet.SourceText
	if url != "" {
		st = snippet.SourceWeb
	}
	return &snippet.Snippet{
		ContentText: text,
		SourceApp:   app,
		SourceURL:   url,
		SourceTitle: title,
		SourceType:  st,
		CreatedAt:   createdAt,
	}
}

func mustInsert(t *testing.T, db *sql.DB, s *snippet.Snippet) *snippet.Snippet {
	t.Helper()
	if err := InsertSnippet(context.Background(), db, s); err != nil {
		t.Fatalf("InsertSnippet failed: %v", err)
	}
	return s
}

func strPtr(s string) *string { return &s }

func TestInsertAndGetSnippet(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	s := newTestSnippet("Hello world", "Safari", "https://example.com/a", "Example", 1000)
	s.ContentHTML = "<p>Hello world</p>"
	s.Tags = []string{"tag1", "tag2"}
	mustInsert(t, db, s)

	if s.ID == "" || s.NoteID == "" {
		t.Fatalf("ID/NoteID not assigned: %+v", s)
	}
	if s.Status != snippet.StatusPending {
		t.Errorf("Status = %q, want pending", s.Status)
	}

	got, err := GetSnippet(ctx, db, s.ID)
	if err != nil {
		t.Fatalf("GetSnippet failed: %v", err)
	}
	if got.ContentText != "Hello world" || got.ContentHTML != "<p>Hello world</p>" {
		t.Errorf("content = %q / %q", got.ContentText, got.ContentHTML)
	}
	if got.SourceType != snippet.SourceWeb {
		t.Errorf("SourceType = %q, want web", got.SourceType)
	}
	if got.CreatedAt != 1000 || got.UpdatedAt != 1000 {
		t.Errorf("timestamps = %d/%d, want 1000/1000", got.CreatedAt, got.UpdatedAt)
	}
	if len(got.Tags) != 2 || got.Tags[0] != "tag1" {
		t.Errorf("Tags = %v", got.Tags)
	}
	if len(got.Assets) != 0 {
		t.Errorf("Assets = %v, want none", got.Assets)
	}
}

func TestInsertSnippet_WithAsset(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	s := &snippet.Snippet{
		SourceType: snippet.SourceImage,
		SourceApp:  "Preview",
		Assets: []snippet.Asset{{
			FilePath:    "/vault/assets/1-abc.png",
			ContentHash: "abc",
			Width:       10,
			Height:      20,
		}},
	}
	mustInsert(t, db, s)

	got, err := GetSnippet(ctx, db, s.ID)
	if err != nil {
		t.Fatalf("GetSnippet failed: %v", err)
	}
	if len(got.Assets) != 1 {
		t.Fatalf("Assets = %d, want 1", len(got.Assets))
	}
	a := got.Assets[0]
	if a.ID == "" || a.SnippetID != s.ID || a.Width != 10 || a.Height != 20 || a.ContentHash != "abc" {
		t.Errorf("asset = %+v", a)
	}

	byID, err := GetAsset(ctx, db, a.ID)
	if err != nil {
		t.Fatalf("GetAsset failed: %v", err)
	}
	if byID.FilePath != "/vault/assets/1-abc.png" {
		t.Errorf("FilePath = %q", byID.FilePath)
	}
}

func TestInsertSnippet_InvalidSourceType(t *testing.T) {
	db := openTestDB(t)
	err := InsertSnippet(context.Background(), db, &snippet.Snippet{SourceType: "video"})
	if !errors.Is(err, errors.ErrInvalidRequest) {
		t.Fatalf("err = %v, want INVALID_REQUEST", err)
	}
}

func TestInsertSnippet_DuplicateID(t *testing.T) {
	db := openTestDB(t)
	s := newTestSnippet("a", "Notes", "", "", 1)
	s.ID = "01FIXED"
	mustInsert(t, db, s)

	dup := newTestSnippet("b", "Notes", "", "", 2)
	dup.ID = "01FIXED"
	err := InsertSnippet(context.Background(), db, dup)
	if !errors.Is(err, errors.ErrConflict) {
		t.Fatalf("err = %v, want CONFLICT", err)
	}
}

func TestGetSnippet_NotFound(t *testing.T) {
	db := openTestDB(t)
	_, err := GetSnippet(context.Background(), db, "missing")
	if !errors.Is(err, errors.ErrNotFound) {
		t.Fatalf("err = %v, want NOT_FOUND", err)
	}
}

func TestNotes_GroupByProvenance(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	a := mustInsert(t, db, newTestSnippet("one", "Safari", "https://Go.dev/doc/", "Docs", 100))
	b := mustInsert(t, db, newTestSnippet("two", "Chrome", "https://go.dev/doc#install", "Docs again", 200))
	c := mustInsert(t, db, newTestSnippet("three", "Terminal", "", "", 300))

	if a.NoteID != b.NoteID {
		t.Errorf("same normalized URL should share a note: %s vs %s", a.NoteID, b.NoteID)
	}
	if a.NoteID == c.NoteID {
		t.Errorf("different provenance should not share a note")
	}

	notes, total, err := ListNotes(ctx, db, 10, 0)
	if err != nil {
		t.Fatalf("ListNotes failed: %v", err)
	}
	if total != 2 || len(notes) != 2 {
		t.Fatalf("notes = %d (total %d), want 2", len(notes), total)
	}
	// Most recent activity first
	if notes[0].ID != c.NoteID {
		t.Errorf("first note = %s, want %s", notes[0].ID, c.NoteID)
	}
	if notes[0].NoteKey != "app:terminal" || notes[0].SnippetCount != 1 {
		t.Errorf("terminal note = %+v", notes[0])
	}
	if notes[1].SnippetCount != 2 || notes[1].UpdatedAt != 200 || notes[1].Title != "Docs" {
		t.Errorf("web note = %+v", notes[1])
	}

	got, err := GetNote(ctx, db, a.NoteID)
	if err != nil {
		t.Fatalf("GetNote failed: %v", err)
	}
	if got.NoteKey != "https://go.dev/doc" {
		t.Errorf("NoteKey = %q", got.NoteKey)
	}

	if _, err := GetNote(ctx, db, "nope"); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("GetNote(nope) err = %v, want NOT_FOUND", err)
	}
}

func TestUpdateSnippet_Patch(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	s := mustInsert(t, db, newTestSnippet("raw", "Notes", "", "", 100))

	done := snippet.StatusDone
	tags := []string{"x"}
	err := UpdateSnippet(ctx, db, s.ID, snippet.Patch{
		Summary:  strPtr("sum"),
		Keywords: strPtr("a, b"),
		Status:   &done,
		Tags:     &tags,
	})
	if err != nil {
		t.Fatalf("UpdateSnippet failed: %v", err)
	}

	got, err := GetSnippet(ctx, db, s.ID)
	if err != nil {
		t.Fatalf("GetSnippet failed: %v", err)
	}
	if got.Summary != "sum" || got.Keywords != "a, b" || got.Status != snippet.StatusDone {
		t.Errorf("patched = %+v", got)
	}
	if got.ContentText != "raw" {
		t.Errorf("untouched field changed: %q", got.ContentText)
	}
	if len(got.Tags) != 1 || got.Tags[0] != "x" {
		t.Errorf("Tags = %v", got.Tags)
	}
	if got.UpdatedAt <= 100 {
		t.Errorf("UpdatedAt = %d, want bumped", got.UpdatedAt)
	}
}

func TestUpdateSnippet_Errors(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := UpdateSnippet(ctx, db, "missing", snippet.StatusPatch(snippet.StatusDone)); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("err = %v, want NOT_FOUND", err)
	}

	s := mustInsert(t, db, newTestSnippet("x", "Notes", "", "", 1))
	if err := UpdateSnippet(ctx, db, s.ID, snippet.StatusPatch("bogus")); !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("err = %v, want INVALID_REQUEST", err)
	}
}

func TestUpdateAsset(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	s := mustInsert(t, db, &snippet.Snippet{
		SourceType: snippet.SourceImage,
		Assets:     []snippet.Asset{{FilePath: "/a.png", ContentHash: "h"}},
	})

	if err := UpdateAsset(ctx, db, s.Assets[0].ID, snippet.AssetPatch{OCRText: strPtr("recognized")}); err != nil {
		t.Fatalf("UpdateAsset failed: %v", err)
	}
	got, err := GetAsset(ctx, db, s.Assets[0].ID)
	if err != nil {
		t.Fatalf("GetAsset failed: %v", err)
	}
	if got.OCRText != "recognized" {
		t.Errorf("OCRText = %q", got.OCRText)
	}

	if err := UpdateAsset(ctx, db, "missing", snippet.AssetPatch{OCRText: strPtr("x")}); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("err = %v, want NOT_FOUND", err)
	}
	if err := UpdateAsset(ctx, db, "missing", snippet.AssetPatch{}); err != nil {
		t.Errorf("empty patch err = %v, want nil", err)
	}
}

func TestListSnippets_FiltersAndPagination(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	var ids []string
	for i := int64(1); i <= 5; i++ {
		s := mustInsert(t, db, newTestSnippet(strings.Repeat("word ", int(i)), "Notes", "", "", i*10))
		ids = append(ids, s.ID)
	}
	web := mustInsert(t, db, newTestSnippet("web text", "Safari", "https://x.test", "X", 60))
	if err := UpdateSnippet(ctx, db, ids[0], snippet.StatusPatch(snippet.StatusDone)); err != nil {
		t.Fatalf("UpdateSnippet failed: %v", err)
	}

	items, total, err := ListSnippets(ctx, db, ListFilter{}, 2, 0)
	if err != nil {
		t.Fatalf("ListSnippets failed: %v", err)
	}
	if total != 6 || len(items) != 2 {
		t.Fatalf("got %d items of %d, want 2 of 6", len(items), total)
	}
	if items[0].ID != web.ID || items[1].ID != ids[4] {
		t.Errorf("order = %s, %s; want newest first", items[0].ID, items[1].ID)
	}
	if items[1].Preview != strings.TrimSpace(strings.Repeat("word ", 5)) {
		t.Errorf("Preview = %q", items[1].Preview)
	}

	page, _, err := ListSnippets(ctx, db, ListFilter{}, 2, 4)
	if err != nil {
		t.Fatalf("ListSnippets failed: %v", err)
	}
	if len(page) != 2 || page[1].ID != ids[0] {
		t.Errorf("last page = %+v", page)
	}

	webOnly, total, err := ListSnippets(ctx, db, ListFilter{SourceType: snippet.SourceWeb}, 10, 0)
	if err != nil {
		t.Fatalf("ListSnippets failed: %v", err)
	}
	if total != 1 || webOnly[0].ID != web.ID {
		t.Errorf("web filter = %+v", webOnly)
	}

	doneOnly, total, err := ListSnippets(ctx, db, ListFilter{Status: snippet.StatusDone}, 10, 0)
	if err != nil {
		t.Fatalf("ListSnippets failed: %v", err)
	}
	if total != 1 || doneOnly[0].ID != ids[0] {
		t.Errorf("status filter = %+v", doneOnly)
	}

	byNote, total, err := ListSnippets(ctx, db, ListFilter{NoteID: web.NoteID}, 10, 0)
	if err != nil {
		t.Fatalf("ListSnippets failed: %v", err)
	}
	if total != 1 || byNote[0].ID != web.ID {
		t.Errorf("note filter = %+v", byNote)
	}
}

func TestListSnippetIDsByStatus(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	a := mustInsert(t, db, newTestSnippet("a", "Notes", "", "", 30))
	b := mustInsert(t, db, newTestSnippet("b", "Notes", "", "", 10))
	c := mustInsert(t, db, newTestSnippet("c", "Notes", "", "", 20))
	if err := UpdateSnippet(ctx, db, c.ID, snippet.StatusPatch(snippet.StatusError)); err != nil {
		t.Fatalf("UpdateSnippet failed: %v", err)
	}

	ids, err := ListSnippetIDsByStatus(ctx, db, snippet.StatusPending)
	if err != nil {
		t.Fatalf("ListSnippetIDsByStatus failed: %v", err)
	}
	if len(ids) != 2 || ids[0] != b.ID || ids[1] != a.ID {
		t.Errorf("ids = %v, want [%s %s] (capture order)", ids, b.ID, a.ID)
	}
}

func TestDeleteSnippet(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	s := mustInsert(t, db, &snippet.Snippet{
		SourceType: snippet.SourceImage,
		SourceApp:  "Preview",
		Assets:     []snippet.Asset{{FilePath: "/vault/assets/x.png", ContentHash: "h"}},
	})
	if err := UpsertEmbedding(ctx, db, s.ID, embedding.Embed("x", 8), 8); err != nil {
		t.Fatalf("UpsertEmbedding failed: %v", err)
	}
	keep := mustInsert(t, db, newTestSnippet("keep", "Notes", "", "", 5))

	paths, err := DeleteSnippet(ctx, db, s.ID)
	if err != nil {
		t.Fatalf("DeleteSnippet failed: %v", err)
	}
	if len(paths) != 1 || paths[0] != "/vault/assets/x.png" {
		t.Errorf("paths = %v", paths)
	}

	if _, err := GetSnippet(ctx, db, s.ID); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("snippet still present: %v", err)
	}
	if _, err := GetEmbedding(ctx, db, s.ID); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("embedding still present: %v", err)
	}
	if _, err := GetNote(ctx, db, s.NoteID); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("empty note should be removed: %v", err)
	}
	if _, err := GetNote(ctx, db, keep.NoteID); err != nil {
		t.Errorf("other note removed: %v", err)
	}

	if _, err := DeleteSnippet(ctx, db, s.ID); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("second delete err = %v, want NOT_FOUND", err)
	}
}

func TestEmbeddings(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	a := mustInsert(t, db, newTestSnippet("a", "Notes", "", "", 1))
	b := mustInsert(t, db, newTestSnippet("b", "Notes", "", "", 2))

	v1 := embedding.Embed("hello world", 16)
	if err := UpsertEmbedding(ctx, db, a.ID, v1, 16); err != nil {
		t.Fatalf("UpsertEmbedding failed: %v", err)
	}
	v2 := embedding.Embed("goodbye", 16)
	if err := UpsertEmbedding(ctx, db, a.ID, v2, 16); err != nil {
		t.Fatalf("UpsertEmbedding (replace) failed: %v", err)
	}
	if err := UpsertEmbedding(ctx, db, b.ID, embedding.Embed("b", 32), 32); err != nil {
		t.Fatalf("UpsertEmbedding failed: %v", err)
	}

	got, err := GetEmbedding(ctx, db, a.ID)
	if err != nil {
		t.Fatalf("GetEmbedding failed: %v", err)
	}
	if len(got) != 16 || got[0] != v2[0] {
		t.Errorf("GetEmbedding returned stale vector")
	}

	all, err := ListEmbeddings(ctx, db, 16)
	if err != nil {
		t.Fatalf("ListEmbeddings failed: %v", err)
	}
	if len(all) != 1 || all[0].SnippetID != a.ID {
		t.Errorf("ListEmbeddings(16) = %+v, want only %s", all, a.ID)
	}

	if err := UpsertEmbedding(ctx, db, a.ID, v1, 8); !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("dim mismatch err = %v, want INVALID_REQUEST", err)
	}
	if err := UpsertEmbedding(ctx, db, "missing", v1, 16); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("missing snippet err = %v, want NOT_FOUND", err)
	}
}

func TestStreamForExport(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	first := mustInsert(t, db, newTestSnippet("first", "Notes", "", "", 10))
	second := mustInsert(t, db, &snippet.Snippet{
		SourceType: snippet.SourceImage,
		CreatedAt:  20,
		Assets:     []snippet.Asset{{FilePath: "/p.png", ContentHash: "h"}},
	})

	var seen []*snippet.Snippet
	err := StreamForExport(ctx, db, func(s *snippet.Snippet) error {
		seen = append(seen, s)
		return nil
	})
	if err != nil {
		t.Fatalf("StreamForExport failed: %v", err)
	}
	if len(seen) != 2 || seen[0].ID != first.ID || seen[1].ID != second.ID {
		t.Fatalf("order wrong: %+v", seen)
	}
	if len(seen[1].Assets) != 1 {
		t.Errorf("assets not loaded")
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	err = StreamForExport(cancelled, db, func(*snippet.Snippet) error { return nil })
	if err == nil {
		t.Error("expected error for cancelled context")
	}
}

func TestStore_Adapter(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	store := NewStore(db)

	s := newTestSnippet("via store", "Notes", "", "", 1)
	if err := store.InsertSnippet(ctx, s); err != nil {
		t.Fatalf("InsertSnippet failed: %v", err)
	}
	if err := store.UpdateSnippet(ctx, s.ID, snippet.StatusPatch(snippet.StatusProcessing)); err != nil {
		t.Fatalf("UpdateSnippet failed: %v", err)
	}
	if err := store.UpsertEmbedding(ctx, s.ID, embedding.Embed("via store", 4), 4); err != nil {
		t.Fatalf("UpsertEmbedding failed: %v", err)
	}
	got, err := store.GetSnippet(ctx, s.ID)
	if err != nil {
		t.Fatalf("GetSnippet failed: %v", err)
	}
	if got.Status != snippet.StatusProcessing {
		t.Errorf("Status = %q", got.Status)
	}
	if err := store.UpdateAsset(ctx, "none", snippet.AssetPatch{}); err != nil {
		t.Errorf("UpdateAsset empty patch err = %v", err)
	}
}
