package parse

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"

	"github.com/sealad886/librarian/internal/chunk"
)

// markdown is the shared goldmark instance. Parsing is stateless, so one
// instance serves all documents.
var markdown = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
)

// parseMarkdown structurally parses a markdown document: front matter becomes
// metadata, headings and fenced code blocks are recorded with their offsets
// into the normalized output text, and link/image targets are collected.
func parseMarkdown(body []byte, opts Options) (*Result, error) {
	meta, rest := splitFrontMatter(body)

	source := []byte(normalizeNewlines(string(rest)))
	doc := markdown.Parser().Parse(text.NewReader(source))

	res := &Result{Metadata: meta}
	var out strings.Builder

	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Heading:
			txt := nodeText(node, source)
			res.Headings = append(res.Headings, Heading{
				Offset: out.Len(),
				Level:  node.Level,
				Text:   txt,
			})
			out.WriteString(txt)
			out.WriteString("\n\n")
			return ast.WalkSkipChildren, nil

		case *ast.FencedCodeBlock, *ast.CodeBlock:
			start := out.Len()
			writeLines(&out, n, source)
			res.CodeSpans = append(res.CodeSpans, chunk.Span{Start: start, End: out.Len()})
			out.WriteString("\n\n")
			return ast.WalkSkipChildren, nil

		case *ast.Paragraph, *ast.Blockquote:
			txt := nodeText(n, source)
			collectInline(n, source, res, txt, opts)
			if txt != "" {
				out.WriteString(txt)
				out.WriteString("\n\n")
			}
			return ast.WalkSkipChildren, nil

		case *ast.List:
			txt := listText(node, source, res, opts)
			if txt != "" {
				out.WriteString(txt)
				out.WriteString("\n\n")
			}
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse: markdown walk: %w", err)
	}

	res.Text = strings.TrimRight(out.String(), "\n")
	return res, nil
}

// writeLines appends a node's raw source lines to out. Only block nodes
// carry line segments.
func writeLines(out *strings.Builder, n ast.Node, source []byte) {
	withLines, ok := n.(interface{ Lines() *text.Segments })
	if !ok {
		return
	}
	lines := withLines.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		out.Write(seg.Value(source))
	}
}

// nodeText extracts the plain text of a node's inline content.
func nodeText(n ast.Node, source []byte) string {
	var buf bytes.Buffer
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := c.(type) {
		case *ast.Text:
			buf.Write(t.Segment.Value(source))
			if t.SoftLineBreak() || t.HardLineBreak() {
				buf.WriteByte(' ')
			}
		case *ast.CodeSpan:
			for child := t.FirstChild(); child != nil; child = child.NextSibling() {
				if txt, ok := child.(*ast.Text); ok {
					buf.Write(txt.Segment.Value(source))
				}
			}
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(buf.String())
}

// collectInline records link targets and (when multimodal) image candidates
// found inside the node. context is the surrounding block's plain text.
func collectInline(n ast.Node, source []byte, res *Result, context string, opts Options) {
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := c.(type) {
		case *ast.Link:
			res.Links = append(res.Links, string(node.Destination))
		case *ast.Image:
			if opts.Multimodal {
				res.Images = append(res.Images, ImageCandidate{
					URL:     string(node.Destination),
					Alt:     nodeText(node, source),
					Context: context,
				})
			}
		}
		return ast.WalkContinue, nil
	})
}

// listText flattens a list to one line per item, prefixed with "- ".
func listText(list *ast.List, source []byte, res *Result, opts Options) string {
	var lines []string
	for item := list.FirstChild(); item != nil; item = item.NextSibling() {
		txt := nodeText(item, source)
		collectInline(item, source, res, txt, opts)
		if txt != "" {
			lines = append(lines, "- "+txt)
		}
	}
	return strings.Join(lines, "\n")
}

// splitFrontMatter parses a leading `---` YAML-style block into simple
// key/value metadata and returns the remaining body. Nested structures are
// kept as raw strings; only top-level `key: value` lines are extracted.
func splitFrontMatter(body []byte) (map[string]string, []byte) {
	s := string(body)
	if !strings.HasPrefix(s, "---\n") && !strings.HasPrefix(s, "---\r\n") {
		return nil, body
	}

	rest := s[strings.Index(s, "\n")+1:]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return nil, body
	}

	meta := make(map[string]string)
	for _, line := range strings.Split(rest[:end], "\n") {
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		k = strings.TrimSpace(k)
		v = strings.Trim(strings.TrimSpace(v), `"'`)
		if k != "" && v != "" {
			meta[k] = v
		}
	}

	tail := rest[end+len("\n---"):]
	if i := strings.Index(tail, "\n"); i >= 0 {
		tail = tail[i+1:]
	} else {
		tail = ""
	}
	if len(meta) == 0 {
		meta = nil
	}
	return meta, []byte(tail)
}
