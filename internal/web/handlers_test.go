package web

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap/zaptest"

	"github.com/hpungsan/clipvault/internal/capture"
	"github.com/hpungsan/clipvault/internal/config"
	"github.com/hpungsan/clipvault/internal/db"
	"github.com/hpungsan/clipvault/internal/ops"
	"github.com/hpungsan/clipvault/internal/snippet"
)

// fakeCapture records calls and lets tests push status events.
type fakeCapture struct {
	mu     sync.Mutex
	status capture.Status
	nows   int
	subs   []func(capture.Status)
}

func (f *fakeCapture) Status() capture.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeCapture) Enable() capture.Status  { return f.set(true) }
func (f *fakeCapture) Disable() capture.Status { return f.set(false) }

func (f *fakeCapture) set(on bool) capture.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status.Enabled = on
	return f.status
}

func (f *fakeCapture) CaptureNow(ctx context.Context) capture.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nows++
	f.status.LastCapturedID = "captured"
	return f.status
}

func (f *fakeCapture) Subscribe(fn func(capture.Status)) func() {
	f.mu.Lock()
	f.subs = append(f.subs, fn)
	f.mu.Unlock()
	return func() {}
}

func (f *fakeCapture) emit(st capture.Status) {
	f.mu.Lock()
	subs := append([]func(capture.Status){}, f.subs...)
	f.mu.Unlock()
	for _, fn := range subs {
		fn(st)
	}
}

type fakeQueue struct {
	mu  sync.Mutex
	ids []string
}

func (q *fakeQueue) Enqueue(id string) {
	q.mu.Lock()
	q.ids = append(q.ids, id)
	q.mu.Unlock()
}

type testEnv struct {
	srv     *Server
	vault   string
	capture *fakeCapture
	queue   *fakeQueue
}

func setupTest(t *testing.T) *testEnv {
	t.Helper()
	vault := t.TempDir()
	database, err := db.Init(vault)
	if err != nil {
		t.Fatalf("db.Init: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	fc := &fakeCapture{}
	q := &fakeQueue{}
	srv, err := NewServer(Options{
		DB:       database,
		Config:   config.DefaultConfig(),
		VaultDir: vault,
		Version:  "test",
		Capture:  fc,
		Queue:    q,
		Similar:  ops.NewSimilarCache(0),
		Logger:   zaptest.NewLogger(t),
	})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return &testEnv{srv: srv, vault: vault, capture: fc, queue: q}
}

func (e *testEnv) do(method, target string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.srv.HTTP.Handler.ServeHTTP(rec, req)
	return rec
}

var jsonHeader = map[string]string{"Accept": "application/json"}

func (e *testEnv) seed(t *testing.T, s *snippet.Snippet) *snippet.Snippet {
	t.Helper()
	if err := db.InsertSnippet(context.Background(), e.srv.handlers.db, s); err != nil {
		t.Fatalf("InsertSnippet: %v", err)
	}
	return s
}

func (e *testEnv) seedText(t *testing.T, text, app, url string) *snippet.Snippet {
	t.Helper()
	st := snippet.SourceText
	if url != "" {
		st = snippet.SourceWeb
	}
	return e.seed(t, &snippet.Snippet{ContentText: text, SourceApp: app, SourceURL: url, SourceType: st})
}

// seedImage writes a w x h PNG into the vault's assets dir and stores an image snippet for it.
func (e *testEnv) seedImage(t *testing.T, w, h int) *snippet.Snippet {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := range w {
		for y := range h {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	path := filepath.Join(e.vault, db.AssetsDir, "1-img.png")
	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return e.seed(t, &snippet.Snippet{
		SourceType: snippet.SourceImage,
		SourceApp:  "Preview",
		Assets:     []snippet.Asset{{FilePath: path, ContentHash: "img", Width: w, Height: h, OCRText: "RECEIPT"}},
	})
}

// --- pages ---

func TestRoot_RedirectsToSnippets(t *testing.T) {
	env := setupTest(t)
	rec := env.do("GET", "/", nil)
	if rec.Code != http.StatusFound || rec.Header().Get("Location") != "/snippets" {
		t.Errorf("status = %d, location = %q", rec.Code, rec.Header().Get("Location"))
	}
}

func TestHandleList_HTML(t *testing.T) {
	env := setupTest(t)
	env.seedText(t, "alpha clipping", "Terminal", "")

	rec := env.do("GET", "/snippets", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "alpha clipping") {
		t.Error("expected snippet preview in response")
	}
	if !strings.Contains(body, "<title>Snippets") {
		t.Error("expected page title in response")
	}
	if rec.Header().Get("Content-Security-Policy") == "" {
		t.Error("security headers missing")
	}
}

func TestHandleList_JSONAndFilters(t *testing.T) {
	env := setupTest(t)
	env.seedText(t, "plain", "Terminal", "")
	web := env.seedText(t, "from web", "Safari", "https://example.com")

	rec := env.do("GET", "/snippets?source_type=web", jsonHeader)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var out ops.ListOutput
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Items) != 1 || out.Items[0].ID != web.ID {
		t.Errorf("Items = %+v", out.Items)
	}

	rec = env.do("GET", "/snippets?status=bogus", jsonHeader)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad filter status = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "INVALID_REQUEST") {
		t.Errorf("error body = %s", rec.Body.String())
	}
}

func TestHandleList_HTMXRendersContentOnly(t *testing.T) {
	env := setupTest(t)
	rec := env.do("GET", "/snippets", map[string]string{"HX-Request": "true"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "<html") {
		t.Error("htmx response should not include the layout")
	}
}

func TestHandleSearch(t *testing.T) {
	env := setupTest(t)
	env.seedText(t, "escaping <script>alert(1)</script> goroutines", "Notes", "")

	rec := env.do("GET", "/snippets/search", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("empty search status = %d", rec.Code)
	}

	rec = env.do("GET", "/snippets/search?q=goroutines", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "<b>goroutines</b>") {
		t.Errorf("expected highlighted match in %s", body)
	}
	if strings.Contains(body, "<script>alert(1)") {
		t.Error("clipboard markup rendered unescaped")
	}

	rec = env.do("GET", "/snippets/search?q=goroutines", map[string]string{"HX-Target": "results"})
	if strings.Contains(rec.Body.String(), "<form") {
		t.Error("results fragment should not include the search form")
	}
}

func TestHandleDetail(t *testing.T) {
	env := setupTest(t)
	s := env.seedText(t, "detail body", "Safari", "https://go.dev/doc")
	md := "# Heading\n\n<script>x()</script>\n\nSome **bold** text"
	cite := "> detail body\n> -- go.dev"
	if err := db.UpdateSnippet(context.Background(), env.srv.handlers.db, s.ID, snippet.Patch{ContentMarkdown: &md, CitationMD: &cite}); err != nil {
		t.Fatalf("UpdateSnippet: %v", err)
	}

	rec := env.do("GET", "/snippets/"+s.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "<strong>bold</strong>") || !strings.Contains(body, "<h1>Heading</h1>") {
		t.Errorf("markdown not rendered: %s", body)
	}
	if strings.Contains(body, "<script>x()") {
		t.Error("raw html in markdown reached the page")
	}
	if !strings.Contains(body, "<blockquote>") {
		t.Error("citation not rendered")
	}

	rec = env.do("GET", "/snippets/"+s.ID, jsonHeader)
	var got snippet.Snippet
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil || got.ID != s.ID {
		t.Errorf("json detail = %s (%v)", rec.Body.String(), err)
	}

	rec = env.do("GET", "/snippets/01MISSING", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing snippet status = %d, want 404", rec.Code)
	}
}

func TestHandleReprocess(t *testing.T) {
	env := setupTest(t)
	s := env.seedText(t, "again", "Notes", "")

	rec := env.do("POST", "/snippets/"+s.ID+"/reprocess", jsonHeader)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if len(env.queue.ids) != 1 || env.queue.ids[0] != s.ID {
		t.Errorf("queued = %v", env.queue.ids)
	}

	rec = env.do("POST", "/snippets/"+s.ID+"/reprocess", nil)
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/snippets/"+s.ID {
		t.Errorf("form post: status = %d, location = %q", rec.Code, rec.Header().Get("Location"))
	}
}

func TestHandleDelete(t *testing.T) {
	env := setupTest(t)
	s := env.seedImage(t, 4, 4)
	file := s.Assets[0].FilePath

	rec := env.do("DELETE", "/snippets/"+s.ID, map[string]string{"HX-Request": "true"})
	if rec.Code != http.StatusOK || rec.Header().Get("HX-Redirect") != "/snippets" {
		t.Fatalf("status = %d, HX-Redirect = %q", rec.Code, rec.Header().Get("HX-Redirect"))
	}
	if _, err := os.Stat(file); !os.IsNotExist(err) {
		t.Errorf("asset file still exists: %v", err)
	}

	rec = env.do("DELETE", "/snippets/"+s.ID, jsonHeader)
	if rec.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", rec.Code)
	}
}

func TestHandleNotes(t *testing.T) {
	env := setupTest(t)
	s := env.seedText(t, "note body", "Safari", "https://go.dev/blog")

	rec := env.do("GET", "/notes", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "/notes/"+s.NoteID+"/markdown") {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = env.do("GET", "/notes/"+s.NoteID+"/markdown", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("markdown status = %d", rec.Code)
	}
	if !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/markdown") {
		t.Errorf("Content-Type = %q", rec.Header().Get("Content-Type"))
	}
	if !strings.Contains(rec.Body.String(), "note body") {
		t.Errorf("markdown = %q", rec.Body.String())
	}
}

// --- assets ---

func TestHandleAssetAndThumb(t *testing.T) {
	env := setupTest(t)
	s := env.seedImage(t, 64, 32)
	assetID := s.Assets[0].ID

	rec := env.do("GET", "/assets/"+assetID, nil)
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "image/png" {
		t.Fatalf("asset: status = %d, type = %q", rec.Code, rec.Header().Get("Content-Type"))
	}

	rec = env.do("GET", "/assets/"+assetID+"/thumb?w=16", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("thumb status = %d, body = %s", rec.Code, rec.Body.String())
	}
	img, err := png.Decode(rec.Body)
	if err != nil {
		t.Fatalf("decode thumb: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 16 || b.Dy() != 8 {
		t.Errorf("thumb size = %dx%d, want 16x8", b.Dx(), b.Dy())
	}

	rec = env.do("GET", "/assets/"+assetID+"/thumb?w=500", nil)
	img, err = png.Decode(rec.Body)
	if err != nil {
		t.Fatalf("decode thumb: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 64 {
		t.Errorf("small image upscaled to %d", b.Dx())
	}

	if rec := env.do("GET", "/assets/"+assetID+"/thumb?w=0", jsonHeader); rec.Code != http.StatusBadRequest {
		t.Errorf("w=0 status = %d, want 400", rec.Code)
	}
	if rec := env.do("GET", "/assets/missing", jsonHeader); rec.Code != http.StatusNotFound {
		t.Errorf("missing asset status = %d, want 404", rec.Code)
	}
}

func TestHandleAsset_OutsideVaultRefused(t *testing.T) {
	env := setupTest(t)
	outside := filepath.Join(t.TempDir(), "secret.png")
	if err := os.WriteFile(outside, []byte("not yours"), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	s := env.seed(t, &snippet.Snippet{
		SourceType: snippet.SourceImage,
		Assets:     []snippet.Asset{{FilePath: outside, ContentHash: "x"}},
	})

	rec := env.do("GET", "/assets/"+s.Assets[0].ID, jsonHeader)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

// --- api ---

func TestHandleStatusAndCapture(t *testing.T) {
	env := setupTest(t)

	rec := env.do("POST", "/api/capture/enable", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("enable status = %d", rec.Code)
	}
	var st capture.Status
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil || !st.Enabled {
		t.Fatalf("enable body = %s (%v)", rec.Body.String(), err)
	}
	cfg, err := config.Load(env.vault)
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	if !cfg.CaptureOn() {
		t.Error("enable was not persisted")
	}

	rec = env.do("POST", "/api/capture/disable", nil)
	_ = json.Unmarshal(rec.Body.Bytes(), &st)
	if st.Enabled {
		t.Error("disable left capture enabled")
	}
	if cfg, _ := config.Load(env.vault); cfg.CaptureOn() {
		t.Error("disable was not persisted")
	}

	rec = env.do("POST", "/api/capture/now", nil)
	if rec.Code != http.StatusOK || env.capture.nows != 1 {
		t.Errorf("now: status = %d, calls = %d", rec.Code, env.capture.nows)
	}

	rec = env.do("POST", "/api/capture/pause", jsonHeader)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown action status = %d, want 400", rec.Code)
	}

	rec = env.do("GET", "/api/status", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"enabled":false`) {
		t.Errorf("status body = %s", rec.Body.String())
	}
}

func TestHandleLogs(t *testing.T) {
	env := setupTest(t)
	logFile := filepath.Join(env.vault, db.LogsDir, "clipvault.log")
	lines := `{"level":"info","timestamp":"t1","message":"first"}
{"level":"error","timestamp":"t2","message":"second","id":"x"}
`
	if err := os.WriteFile(logFile, []byte(lines), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	rec := env.do("GET", "/api/logs?level=error", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var out struct {
		Items []struct {
			Message string `json:"message"`
		} `json:"items"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Items) != 1 || out.Items[0].Message != "second" {
		t.Errorf("items = %+v", out.Items)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := setupTest(t)
	rec := env.do("GET", "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "clipvault_") {
		t.Errorf("metrics body lacks clipvault series")
	}
}

func TestStaticAssets(t *testing.T) {
	env := setupTest(t)
	for _, p := range []string{"/static/app.css", "/static/app.js"} {
		if rec := env.do("GET", p, nil); rec.Code != http.StatusOK {
			t.Errorf("%s status = %d", p, rec.Code)
		}
	}
}

// --- websocket ---

func TestWebSocket_StreamsStatus(t *testing.T) {
	env := setupTest(t)
	ts := httptest.NewServer(env.srv.HTTP.Handler)
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	readEvent := func() Event {
		t.Helper()
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var ev Event
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("read: %v", err)
		}
		return ev
	}

	if ev := readEvent(); ev.Type != "capture/status" || ev.Status.Enabled {
		t.Errorf("initial event = %+v", ev)
	}

	// Wait for registration before emitting.
	deadline := time.Now().Add(2 * time.Second)
	for env.srv.hub.Clients() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	env.capture.emit(capture.Status{Enabled: true, SourceApp: "Safari", QueueSize: 2})
	ev := readEvent()
	if !ev.Status.Enabled || ev.Status.SourceApp != "Safari" || ev.Status.QueueSize != 2 {
		t.Errorf("pushed event = %+v", ev)
	}
}

func TestHub_DropsSlowClients(t *testing.T) {
	hub := NewHub(zaptest.NewLogger(t))
	c := &wsClient{send: make(chan []byte, 1)}
	if !hub.register(c) {
		t.Fatal("register failed")
	}

	hub.Broadcast(capture.Status{})
	hub.Broadcast(capture.Status{})
	if hub.Clients() != 0 {
		t.Errorf("slow client kept, clients = %d", hub.Clients())
	}

	hub.Close()
	if hub.register(&wsClient{send: make(chan []byte, 1)}) {
		t.Error("closed hub accepted a client")
	}
}

func TestSplitList(t *testing.T) {
	got := splitList(" go, , channels ,goroutines")
	want := []string{"go", "channels", "goroutines"}
	if len(got) != len(want) {
		t.Fatalf("splitList = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("splitList[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
