// Package parse turns acquired document bytes into normalized text plus the
// structural offsets the chunker needs: heading positions, code-block spans,
// link targets, and image asset candidates. Content type is decided by file
// extension first, then MIME sniffing.
package parse

import (
	"net/http"
	"path"
	"strings"

	"github.com/sealad886/librarian/internal/chunk"
)

// Content types produced by Detect.
const (
	TypeMarkdown = "text/markdown"
	TypeHTML     = "text/html"
	TypeRST      = "text/x-rst"
	TypePlain    = "text/plain"
)

// Heading is one heading in the normalized text.
type Heading struct {
	// Offset is the character position where the heading line begins.
	Offset int
	// Level is the heading depth, 1 being the highest.
	Level int
	// Text is the heading text.
	Text string
}

// ImageCandidate is an image reference harvested during parsing.
type ImageCandidate struct {
	// URL is the image location, resolved against the document URI when
	// relative.
	URL string
	// Alt is the image's alternative text, if any.
	Alt string
	// Context is nearby text (caption, surrounding paragraph) used as the
	// embedding caption.
	Context string
}

// Result is the parser output for one document.
type Result struct {
	// Text is the normalized plain text of the document.
	Text string
	// Title is the derived document title.
	Title string
	// ContentType is the detected content type.
	ContentType string
	// Headings are ordered heading offsets into Text.
	Headings []Heading
	// CodeSpans are ordered code-block ranges in Text.
	CodeSpans []chunk.Span
	// Images are harvested image asset candidates. Empty unless the
	// caller asked for multimodal parsing.
	Images []ImageCandidate
	// Metadata holds front-matter key/value pairs, if present.
	Metadata map[string]string
	// Links are outbound link targets found in the document.
	Links []string
}

// HeadingOffsets returns just the offsets, in order, for the chunker.
func (r *Result) HeadingOffsets() []int {
	out := make([]int, len(r.Headings))
	for i, h := range r.Headings {
		out[i] = h.Offset
	}
	return out
}

// Detect decides the content type for a document: extension first, then MIME
// sniffing over the body prefix.
func Detect(uri string, body []byte) string {
	switch strings.ToLower(path.Ext(stripQuery(uri))) {
	case ".md", ".markdown", ".mdown":
		return TypeMarkdown
	case ".html", ".htm", ".xhtml":
		return TypeHTML
	case ".rst":
		return TypeRST
	case ".txt", ".text":
		return TypePlain
	}

	sniffed := http.DetectContentType(body)
	switch {
	case strings.HasPrefix(sniffed, "text/html"):
		return TypeHTML
	default:
		return TypePlain
	}
}

// Options controls optional parse behavior.
type Options struct {
	// Multimodal enables image asset harvesting.
	Multimodal bool
	// CSSBackgrounds also harvests CSS background-image URLs (HTML only).
	CSSBackgrounds bool
}

// Parse dispatches on the detected content type and returns the parse
// result. uri is used for title fallback and relative URL resolution.
func Parse(uri, contentType string, body []byte, opts Options) (*Result, error) {
	var res *Result
	var err error
	switch contentType {
	case TypeMarkdown:
		res, err = parseMarkdown(body, opts)
	case TypeHTML:
		res, err = parseHTML(uri, body, opts)
	case TypeRST:
		res = parseRST(body)
	default:
		res = parsePlain(body)
	}
	if err != nil {
		return nil, err
	}

	res.ContentType = contentType
	if res.Title == "" {
		res.Title = deriveTitle(res, uri)
	}
	return res, nil
}

// deriveTitle implements the title fallback chain: first H1, else file stem,
// else first non-empty line truncated.
func deriveTitle(res *Result, uri string) string {
	for _, h := range res.Headings {
		if h.Level == 1 && h.Text != "" {
			return h.Text
		}
	}

	stem := path.Base(stripQuery(uri))
	if ext := path.Ext(stem); ext != "" {
		stem = strings.TrimSuffix(stem, ext)
	}
	if stem != "" && stem != "." && stem != "/" {
		return stem
	}

	for _, line := range strings.Split(res.Text, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			return truncate(line, 80)
		}
	}
	return ""
}

// normalizeNewlines converts CRLF and CR line endings to LF.
func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}

// stripQuery removes a query string or fragment from a URI.
func stripQuery(uri string) string {
	if i := strings.IndexAny(uri, "?#"); i >= 0 {
		return uri[:i]
	}
	return uri
}

// truncate shortens s to at most n bytes, cutting at a rune boundary.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && s[n]&0xC0 == 0x80 {
		n--
	}
	return s[:n]
}
