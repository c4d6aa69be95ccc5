// Package document turns uploaded files into the plain text that reflection
// requests carry as document content.
package document

import (
	"bytes"
	"fmt"
	"mime"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/cot-reflect/backend/pkg/apperr"
	"github.com/cot-reflect/backend/pkg/logger"
	"github.com/cot-reflect/backend/pkg/utils"
)

type Kind string

const (
	KindText     Kind = "text"
	KindMarkdown Kind = "markdown"
	KindHTML     Kind = "html"
)

type Document struct {
	Name        string `json:"name"`
	Kind        Kind   `json:"kind"`
	Title       string `json:"title,omitempty"`
	Content     string `json:"content"`
	Fingerprint string `json:"fingerprint"`
}

type Extractor struct {
	maxLength int
}

// NewExtractor caps extracted content at maxLength bytes; zero disables the cap.
func NewExtractor(maxLength int) *Extractor {
	return &Extractor{maxLength: maxLength}
}

var whitespace = regexp.MustCompile(`[ \t\r\f\v]+`)
var blankLines = regexp.MustCompile(`\n\s*\n+`)

// DetectKind picks a kind from the file extension, then the content type.
// Binary office formats are rejected.
func DetectKind(name, contentType string) (Kind, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".txt", ".text", ".log", ".csv":
		return KindText, nil
	case ".md", ".markdown":
		return KindMarkdown, nil
	case ".html", ".htm", ".xhtml":
		return KindHTML, nil
	case ".pdf", ".docx", ".doc":
		return "", apperr.Invalid("file", "%s documents are not supported", strings.TrimPrefix(filepath.Ext(name), "."))
	}

	mediaType, _, _ := mime.ParseMediaType(contentType)
	switch mediaType {
	case "text/plain":
		return KindText, nil
	case "text/markdown":
		return KindMarkdown, nil
	case "text/html", "application/xhtml+xml":
		return KindHTML, nil
	}
	return "", apperr.Invalid("file", "unsupported document type %q", name)
}

func (e *Extractor) Extract(name, contentType string, data []byte) (*Document, error) {
	kind, err := DetectKind(name, contentType)
	if err != nil {
		return nil, err
	}
	if !utf8.Valid(data) {
		return nil, apperr.Invalid("file", "%s is not valid UTF-8 text", name)
	}

	doc := &Document{Name: name, Kind: kind}
	switch kind {
	case KindHTML:
		title, text, err := extractHTML(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse html: %w", err)
		}
		doc.Title, doc.Content = title, text
	default:
		doc.Content = strings.TrimSpace(strings.ReplaceAll(string(data), "\r\n", "\n"))
	}

	if doc.Content == "" {
		return nil, apperr.Invalid("file", "no text content in %s", name)
	}
	if e.maxLength > 0 && len(doc.Content) > e.maxLength {
		return nil, apperr.Invalid("file", "document is %d bytes, limit is %d", len(doc.Content), e.maxLength)
	}

	doc.Fingerprint = utils.HashString(doc.Content)
	logger.Debug("Document extracted",
		zap.String("name", name),
		zap.String("kind", string(kind)),
		zap.Int("length", len(doc.Content)),
		zap.String("fingerprint", doc.Fingerprint),
	)
	return doc, nil
}

func extractHTML(data []byte) (string, string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return "", "", err
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		title = strings.TrimSpace(doc.Find("h1").First().Text())
	}

	doc.Find("script, style, noscript, nav, footer, header, aside").Remove()

	// Block elements end a line so paragraphs survive the text flattening.
	doc.Find("p, div, li, br, h1, h2, h3, h4, h5, h6, tr, pre, blockquote").Each(func(i int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})

	text := doc.Find("body").Text()
	text = whitespace.ReplaceAllString(text, " ")
	text = blankLines.ReplaceAllString(text, "\n\n")

	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	return title, strings.TrimSpace(strings.Join(lines, "\n")), nil
}
