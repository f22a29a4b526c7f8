// Package enrich holds the pure text functions of the enrichment pipeline:
// HTML extraction, summarization, keyword ranking and citation formatting.
package enrich

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// Defaults applied when callers pass a non-positive limit.
const (
	DefaultSummarySentences = 2
	DefaultKeywordLimit     = 6
	DefaultTopicLimit       = 2
)

// UnknownSource is the citation attribution when a snippet has no title or app.
const UnknownSource = "Unknown Source"

// CitationDateLayout is the human-readable date line of a citation.
const CitationDateLayout = "Jan 2, 2006"

var tokenRegex = regexp.MustCompile(`[\p{L}\p{N}]+`)

var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "with": {}, "this": {}, "that": {}, "from": {},
	"are": {}, "was": {}, "were": {}, "has": {}, "have": {}, "had": {},
	"a": {}, "an": {}, "to": {}, "of": {}, "in": {}, "on": {}, "by": {}, "is": {},
	"it": {}, "as": {}, "at": {}, "be": {}, "or": {}, "but": {},
	"我们": {}, "你们": {}, "他们": {}, "以及": {}, "但是": {}, "因此": {}, "因为": {},
	"所以": {}, "如果": {}, "不是": {}, "没有": {}, "一个": {}, "这种": {}, "这些": {}, "那些": {},
}

// IsStopword reports whether token (already lowercased) is in the bilingual stopword set.
func IsStopword(token string) bool {
	_, ok := stopwords[token]
	return ok
}

// Tokenize lowercases text and returns its runs of Unicode letters and numbers.
func Tokenize(text string) []string {
	if text == "" {
		return nil
	}
	return tokenRegex.FindAllString(strings.ToLower(text), -1)
}

func isTerminator(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '！', '？':
		return true
	}
	return false
}

// SplitSentences cuts text at whitespace runs that follow a sentence terminator
// (. ! ? 。！？). Pieces are trimmed and empty pieces dropped.
func SplitSentences(text string) []string {
	if text == "" {
		return nil
	}
	runes := []rune(strings.ReplaceAll(text, "\r\n", "\n"))

	var parts []string
	start := 0
	for i := 1; i < len(runes); i++ {
		if !unicode.IsSpace(runes[i]) || !isTerminator(runes[i-1]) {
			continue
		}
		parts = append(parts, string(runes[start:i]))
		j := i
		for j < len(runes) && unicode.IsSpace(runes[j]) {
			j++
		}
		start = j
		i = j
	}
	if start < len(runes) {
		parts = append(parts, string(runes[start:]))
	}

	sentences := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			sentences = append(sentences, p)
		}
	}
	return sentences
}

// Summarize returns the first maxSentences sentences of text joined by a single space.
func Summarize(text string, maxSentences int) string {
	if maxSentences <= 0 {
		maxSentences = DefaultSummarySentences
	}
	sentences := SplitSentences(text)
	if len(sentences) > maxSentences {
		sentences = sentences[:maxSentences]
	}
	return strings.Join(sentences, " ")
}

// ExtractKeywords ranks tokens of text by frequency, descending, and returns at most limit.
// Tokens shorter than two runes and stopwords are ignored. Ties keep first-seen order.
func ExtractKeywords(text string, limit int) []string {
	if limit <= 0 {
		limit = DefaultKeywordLimit
	}

	type entry struct {
		word  string
		count int
	}
	index := make(map[string]int)
	var ranked []entry
	for _, tok := range Tokenize(text) {
		if utf8.RuneCountInString(tok) < 2 || IsStopword(tok) {
			continue
		}
		if i, ok := index[tok]; ok {
			ranked[i].count++
			continue
		}
		index[tok] = len(ranked)
		ranked = append(ranked, entry{word: tok, count: 1})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].count > ranked[j].count
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	words := make([]string, len(ranked))
	for i, e := range ranked {
		words[i] = e.word
	}
	return words
}

// CitationInput carries the snippet fields a citation is built from.
type CitationInput struct {
	Summary     string
	SourceTitle string
	SourceURL   string
	SourceApp   string

	// CreatedAt is a Unix timestamp; zero means "now"
	CreatedAt int64
}

// BuildCitation formats a three-line markdown block quote:
//
//	> excerpt
//	> — Title (url)
//	> Jan 2, 2006
func BuildCitation(in CitationInput) string {
	title := in.SourceTitle
	if title == "" {
		title = in.SourceApp
	}
	if title == "" {
		title = UnknownSource
	}

	attribution := title
	if in.SourceURL != "" {
		attribution = fmt.Sprintf("%s (%s)", title, in.SourceURL)
	}

	when := time.Now()
	if in.CreatedAt > 0 {
		when = time.Unix(in.CreatedAt, 0)
	}

	return fmt.Sprintf("> %s\n> — %s\n> %s", in.Summary, attribution, when.Local().Format(CitationDateLayout))
}
