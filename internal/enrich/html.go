package enrich

import (
	"fmt"
	"net/url"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
)

// DefaultBaseURL resolves relative links when a snippet has no source URL.
const DefaultBaseURL = "https://local/"

// Extracted is the plain-text and markdown rendering of an HTML payload.
type Extracted struct {
	Text     string
	Markdown string
}

// ExtractFromHTML pulls the main content out of raw clipboard HTML.
// Readability extraction is attempted first; when it fails or yields nothing
// the document body is used instead. Empty input yields an empty Extracted.
func ExtractFromHTML(rawHTML, baseURL string) Extracted {
	if strings.TrimSpace(rawHTML) == "" {
		return Extracted{}
	}

	pageURL, err := url.Parse(baseURL)
	if err != nil || pageURL.Scheme == "" {
		pageURL, _ = url.Parse(DefaultBaseURL)
	}

	contentHTML, text := readable(rawHTML, pageURL)
	if strings.TrimSpace(contentHTML) == "" || strings.TrimSpace(text) == "" {
		bodyHTML, bodyText := documentBody(rawHTML)
		if strings.TrimSpace(contentHTML) == "" {
			contentHTML = bodyHTML
		}
		if strings.TrimSpace(text) == "" {
			text = bodyText
		}
	}
	if strings.TrimSpace(contentHTML) == "" {
		contentHTML = rawHTML
	}

	return Extracted{
		Text:     collapseWhitespace(text),
		Markdown: toMarkdown(contentHTML, pageURL),
	}
}

// readable runs readability over the document. Parser panics are treated as a failed extraction.
func readable(rawHTML string, pageURL *url.URL) (content, text string) {
	defer func() {
		if r := recover(); r != nil {
			content, text = "", ""
		}
	}()

	article, err := readability.FromReader(strings.NewReader(rawHTML), pageURL)
	if err != nil {
		return "", ""
	}
	return article.Content, article.TextContent
}

// documentBody returns the inner HTML and text of <body>.
func documentBody(rawHTML string) (string, string) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return "", ""
	}
	body := doc.Find("body")
	inner, err := body.Html()
	if err != nil {
		inner = ""
	}
	return inner, body.Text()
}

func toMarkdown(contentHTML string, pageURL *url.URL) string {
	domain := ""
	if pageURL != nil && pageURL.Host != "local" {
		domain = fmt.Sprintf("%s://%s", pageURL.Scheme, pageURL.Host)
	}
	converter := md.NewConverter(domain, true, &md.Options{
		CodeBlockStyle: "fenced",
		EmDelimiter:    "_",
	})
	out, err := converter.ConvertString(contentHTML)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(out)
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
