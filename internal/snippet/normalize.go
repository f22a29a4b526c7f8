package snippet

import (
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

// PreviewChars is the rune length of list previews.
const PreviewChars = 160

// UnsortedNoteKey collects snippets with no usable provenance.
const UnsortedNoteKey = "unsorted"

// whitespaceRegex matches one or more whitespace characters
var whitespaceRegex = regexp.MustCompile(`\s+`)

// Normalize trims, lowercases, and collapses internal whitespace to single spaces.
func Normalize(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ToLower(s)
	return whitespaceRegex.ReplaceAllString(s, " ")
}

// NormalizeURL canonicalizes a source URL for note grouping:
// scheme and host are lowercased, the fragment and a trailing slash are dropped.
// Returns "" for input that does not parse as an absolute URL.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	u.Path = strings.TrimSuffix(u.Path, "/")
	u.RawPath = ""
	return u.String()
}

// NoteKey derives the grouping key for a snippet's provenance:
// normalized URL, else normalized title, else normalized app, else UnsortedNoteKey.
func NoteKey(sourceURL, sourceTitle, sourceApp string) string {
	if key := NormalizeURL(sourceURL); key != "" {
		return key
	}
	if key := Normalize(sourceTitle); key != "" {
		return "title:" + key
	}
	if key := Normalize(sourceApp); key != "" {
		return "app:" + key
	}
	return UnsortedNoteKey
}

// NoteTitle picks the display title for a new note.
func NoteTitle(sourceURL, sourceTitle, sourceApp string) string {
	switch {
	case strings.TrimSpace(sourceTitle) != "":
		return strings.TrimSpace(sourceTitle)
	case strings.TrimSpace(sourceURL) != "":
		return strings.TrimSpace(sourceURL)
	case strings.TrimSpace(sourceApp) != "":
		return strings.TrimSpace(sourceApp)
	default:
		return "Untitled"
	}
}

// Preview collapses whitespace and truncates text to max runes, appending an ellipsis when cut.
func Preview(text string, max int) string {
	text = strings.TrimSpace(whitespaceRegex.ReplaceAllString(text, " "))
	if utf8.RuneCountInString(text) <= max {
		return text
	}
	runes := []rune(text)
	return strings.TrimSpace(string(runes[:max])) + "…"
}
