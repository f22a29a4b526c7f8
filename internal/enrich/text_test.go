package enrich

import (
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestSummarize(t *testing.T) {
	tests := []struct {
		name string
		text string
		max  int
		want string
	}{
		{
			name: "first two sentences",
			text: "First sentence. Second sentence. Third sentence.",
			max:  2,
			want: "First sentence. Second sentence.",
		},
		{
			name: "default limit",
			text: "One! Two? Three.",
			max:  0,
			want: "One! Two?",
		},
		{
			name: "no terminator",
			text: "just a fragment without punctuation",
			max:  2,
			want: "just a fragment without punctuation",
		},
		{
			name: "decimal point is not a boundary",
			text: "Pi is 3.14 roughly. Next line.",
			max:  1,
			want: "Pi is 3.14 roughly.",
		},
		{
			name: "cjk terminators followed by whitespace",
			text: "第一句话。 第二句话！ 第三句话？",
			max:  2,
			want: "第一句话。 第二句话！",
		},
		{
			name: "newlines collapse between sentences",
			text: "Line one.\r\n\r\nLine two.\nLine three.",
			max:  2,
			want: "Line one. Line two.",
		},
		{
			name: "empty",
			text: "",
			max:  2,
			want: "",
		},
		{
			name: "whitespace only",
			text: "   \n\t ",
			max:  2,
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Summarize(tt.text, tt.max); got != tt.want {
				t.Errorf("Summarize(%q, %d) = %q, want %q", tt.text, tt.max, got, tt.want)
			}
		})
	}
}

func TestSplitSentences_TrailingFragment(t *testing.T) {
	got := SplitSentences("Done. And then")
	want := []string{"Done.", "And then"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("SplitSentences = %q, want %q", got, want)
	}
}

func TestExtractKeywords(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		limit int
		want  []string
	}{
		{
			name:  "frequency order",
			text:  "apple apple banana banana banana cherry",
			limit: 2,
			want:  []string{"banana", "apple"},
		},
		{
			name:  "stopwords and short tokens dropped",
			text:  "The cat and a dog. The cat is here, x y z.",
			limit: 6,
			want:  []string{"cat", "dog", "here"},
		},
		{
			name:  "case folded",
			text:  "Go GO go rust",
			limit: 6,
			want:  []string{"go", "rust"},
		},
		{
			name:  "ties keep first-seen order",
			text:  "zeta alpha mid",
			limit: 3,
			want:  []string{"zeta", "alpha", "mid"},
		},
		{
			name:  "chinese stopwords",
			text:  "我们 学习 学习 因为 数据",
			limit: 6,
			want:  []string{"学习", "数据"},
		},
		{
			name:  "numbers count as tokens",
			text:  "2024 2024 report",
			limit: 1,
			want:  []string{"2024"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractKeywords(tt.text, tt.limit)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ExtractKeywords(%q, %d) = %q, want %q", tt.text, tt.limit, got, tt.want)
			}
		})
	}
}

func TestExtractKeywords_Empty(t *testing.T) {
	if got := ExtractKeywords("", 6); len(got) != 0 {
		t.Errorf("ExtractKeywords(\"\") = %q, want empty", got)
	}
	if got := ExtractKeywords("!!! ...", 6); len(got) != 0 {
		t.Errorf("ExtractKeywords(punctuation) = %q, want empty", got)
	}
}

func TestTopicsArePrefixOfKeywords(t *testing.T) {
	text := "vector search vector index search vector database index"
	keywords := ExtractKeywords(text, DefaultKeywordLimit)
	topics := ExtractKeywords(text, DefaultTopicLimit)
	if !reflect.DeepEqual(topics, keywords[:len(topics)]) {
		t.Errorf("topics %q are not a prefix of keywords %q", topics, keywords)
	}
}

func TestTokenize(t *testing.T) {
	got := Tokenize("Hello, World! Ünïcode 123_abc")
	want := []string{"hello", "world", "ünïcode", "123", "abc"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Tokenize = %q, want %q", got, want)
	}
	if Tokenize("") != nil {
		t.Error("Tokenize(\"\") should be nil")
	}
}

func TestBuildCitation(t *testing.T) {
	created := time.Date(2024, 3, 9, 12, 0, 0, 0, time.Local).Unix()
	date := time.Unix(created, 0).Local().Format(CitationDateLayout)

	tests := []struct {
		name string
		in   CitationInput
		want string
	}{
		{
			name: "title and url",
			in: CitationInput{
				Summary:     "Go is fun.",
				SourceTitle: "The Go Blog",
				SourceURL:   "https://go.dev/blog",
				SourceApp:   "Safari",
				CreatedAt:   created,
			},
			want: "> Go is fun.\n> — The Go Blog (https://go.dev/blog)\n> " + date,
		},
		{
			name: "app fallback without url",
			in:   CitationInput{Summary: "Note.", SourceApp: "Notes", CreatedAt: created},
			want: "> Note.\n> — Notes\n> " + date,
		},
		{
			name: "unknown source",
			in:   CitationInput{CreatedAt: created},
			want: "> \n> — Unknown Source\n> " + date,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BuildCitation(tt.in); got != tt.want {
				t.Errorf("BuildCitation() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuildCitation_DefaultsToNow(t *testing.T) {
	got := BuildCitation(CitationInput{Summary: "x"})
	lines := strings.Split(got, "\n")
	if len(lines) != 3 {
		t.Fatalf("citation has %d lines, want 3: %q", len(lines), got)
	}
	if _, err := time.ParseInLocation(CitationDateLayout, strings.TrimPrefix(lines[2], "> "), time.Local); err != nil {
		t.Errorf("date line %q does not parse: %v", lines[2], err)
	}
}
