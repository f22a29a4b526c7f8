package ops

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/hpungsan/clipvault/internal/errors"
)

func TestSearch_BasicMatch(t *testing.T) {
	v := setupVault(t)
	ctx := context.Background()

	hit := insertText(t, v.db, "channels make goroutines talk <safely>", "Notes", "", 10)
	insertText(t, v.db, "an unrelated clipping", "Notes", "", 20)

	out, err := Search(ctx, v.db, SearchInput{Query: "goroutines"})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(out.Items) != 1 || out.Items[0].ID != hit.ID {
		t.Fatalf("Items = %+v, want only %s", out.Items, hit.ID)
	}
	match := out.Items[0].Match
	if !strings.Contains(match, "<b>goroutines</b>") {
		t.Errorf("Match = %q, want highlighted term", match)
	}
	if strings.Contains(match, "<safely>") {
		t.Errorf("Match = %q, clipboard markup must be escaped", match)
	}
	if out.Sort != "relevance" || out.Pagination.Total != 1 {
		t.Errorf("Sort = %q, Pagination = %+v", out.Sort, out.Pagination)
	}
}

func TestSearch_EmptyQuery(t *testing.T) {
	v := setupVault(t)
	for _, q := range []string{"", "   \t"} {
		_, err := Search(context.Background(), v.db, SearchInput{Query: q})
		if !errors.Is(err, errors.ErrInvalidRequest) {
			t.Errorf("Query %q: expected INVALID_REQUEST, got %v", q, err)
		}
	}
}

func TestSearch_QueryTooLong(t *testing.T) {
	v := setupVault(t)
	_, err := Search(context.Background(), v.db, SearchInput{Query: strings.Repeat("a", MaxQueryLength+1)})
	if !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("expected INVALID_REQUEST, got %v", err)
	}
}

func TestSearch_FTSSyntaxIsLiteral(t *testing.T) {
	v := setupVault(t)
	insertText(t, v.db, "error handling in go", "Notes", "", 10)

	for _, q := range []string{`"unbalanced`, "go AND", "NEAR(", "handling*"} {
		if _, err := Search(context.Background(), v.db, SearchInput{Query: q}); err != nil && !errors.Is(err, errors.ErrInvalidRequest) {
			t.Errorf("Query %q: unexpected error %v", q, err)
		}
	}
}

func TestSearch_FiltersAndPagination(t *testing.T) {
	v := setupVault(t)
	ctx := context.Background()

	for i := range 3 {
		insertText(t, v.db, "sqlite tips", "Terminal", "", int64(10+i))
	}
	web := insertText(t, v.db, "sqlite tips from the web", "Safari", "https://sqlite.org/fts5.html", 50)

	out, err := Search(ctx, v.db, SearchInput{Query: "sqlite", SourceType: "web"})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(out.Items) != 1 || out.Items[0].ID != web.ID {
		t.Errorf("web filter returned %+v", out.Items)
	}

	out, err = Search(ctx, v.db, SearchInput{Query: "sqlite", Limit: 2})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(out.Items) != 2 || !out.Pagination.HasMore || out.Pagination.Total != 4 {
		t.Errorf("page = %d items, Pagination = %+v", len(out.Items), out.Pagination)
	}

	if _, err := Search(ctx, v.db, SearchInput{Query: "sqlite", Status: "bogus"}); !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("expected INVALID_REQUEST for bad status, got %v", err)
	}
}

func TestTruncateSnippet(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		maxChars int
		wantMax  int
		wantEnd  string
	}{
		{name: "short string unchanged", input: "hello world", maxChars: 300, wantMax: 11},
		{name: "truncates at word boundary", input: "hello world this is a test", maxChars: 15, wantMax: 15, wantEnd: "..."},
		{name: "exact length unchanged", input: "hello", maxChars: 5, wantMax: 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := truncateSnippet(tt.input, tt.maxChars)
			if len(result) > tt.wantMax+3 {
				t.Errorf("truncateSnippet(%q, %d) length = %d, want <= %d",
					tt.input, tt.maxChars, len(result), tt.wantMax+3)
			}
			if tt.wantEnd != "" && !strings.HasSuffix(result, tt.wantEnd) {
				t.Errorf("truncateSnippet(%q, %d) = %q, want suffix %q",
					tt.input, tt.maxChars, result, tt.wantEnd)
			}
		})
	}
}

func TestTruncateSnippet_UTF8Safety(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		maxChars int
	}{
		{"chinese characters", "测试内容很长很长很长很长", 5},
		{"emoji", "Hello 😀 World 🎉 Test", 7},
		{"mixed utf8 and ascii", "Test 世界 content", 6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := truncateSnippet(tt.input, tt.maxChars)
			if !utf8.ValidString(result) {
				t.Errorf("truncateSnippet(%q, %d) produced invalid UTF-8: %q", tt.input, tt.maxChars, result)
			}
			if utf8.RuneCountInString(result) > tt.maxChars+3 {
				t.Errorf("truncateSnippet(%q, %d) = %q, too long", tt.input, tt.maxChars, result)
			}
		})
	}
}

func TestTruncateSnippet_MarkupPreservation(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		maxChars int
	}{
		{"unclosed b tag", "<b>authentication</b> system", 10},
		{"multiple unclosed tags", "<b>test</b> <b>more</b> content", 15},
		{"cut inside closing tag", "<b>abcdef</b> tail", 11},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := truncateSnippet(tt.input, tt.maxChars)
			openTags := strings.Count(result, "<b>")
			closeTags := strings.Count(result, "</b>")
			if openTags != closeTags {
				t.Errorf("truncateSnippet(%q, %d) has unbalanced tags: %d open, %d close in %q",
					tt.input, tt.maxChars, openTags, closeTags, result)
			}
		})
	}
}

func TestTruncateSnippet_DoesNotReturnBrokenHTMLEntities(t *testing.T) {
	got := truncateSnippet("foo &amp; bar baz", 7)
	if strings.Contains(got, "&amp") && !strings.Contains(got, "&amp;") {
		t.Fatalf("expected no partial entity in %q", got)
	}
	if strings.HasSuffix(strings.TrimSuffix(got, "..."), "&") {
		t.Fatalf("expected result not to end with '&': %q", got)
	}
}

func TestTruncateSnippet_DoesNotReturnPartialTags(t *testing.T) {
	got := truncateSnippet("<b>match</b> trailing", 2)
	if strings.Contains(got, "<") {
		t.Fatalf("expected no partial tag fragments in %q", got)
	}
}

func TestEscapeSnippetHTML(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"no escaping needed", "hello world", "hello world"},
		{"converts highlight markers to b tags", "[[[B]]]match[[[/B]]]", "<b>match</b>"},
		{"escapes user html", "<script>alert('xss')</script>", "&lt;script&gt;alert(&#39;xss&#39;)&lt;/script&gt;"},
		{"escapes copied b tags", "<b>match</b>", "&lt;b&gt;match&lt;/b&gt;"},
		{"mixed", "[[[B]]]match[[[/B]]] <script>bad</script>", "<b>match</b> &lt;script&gt;bad&lt;/script&gt;"},
		{"escapes ampersands", "foo & bar [[[B]]]match[[[/B]]]", "foo &amp; bar <b>match</b>"},
		{"escapes quotes", `[[[B]]]match[[[/B]]] onclick="evil()"`, `<b>match</b> onclick=&#34;evil()&#34;`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := escapeSnippetHTML(tt.input); got != tt.want {
				t.Errorf("escapeSnippetHTML(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
