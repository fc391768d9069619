package parse

import (
	"strings"
	"testing"
)

func Test_Parse_DetectByExtensionThenSniff(t *testing.T) {
	t.Parallel()
	cases := []struct {
		uri  string
		body string
		want string
	}{
		{"/docs/a.md", "# x", TypeMarkdown},
		{"/docs/a.markdown", "x", TypeMarkdown},
		{"https://h/page.html?v=2", "<html></html>", TypeHTML},
		{"/docs/a.rst", "x", TypeRST},
		{"/docs/a.txt", "x", TypePlain},
		{"https://h/page", "<!DOCTYPE html><html><body>hi</body></html>", TypeHTML},
		{"https://h/readme", "just words", TypePlain},
	}
	for _, c := range cases {
		if got := Detect(c.uri, []byte(c.body)); got != c.want {
			t.Errorf("Detect(%q) = %q, want %q", c.uri, got, c.want)
		}
	}
}

func Test_Parse_MarkdownStructure(t *testing.T) {
	t.Parallel()
	src := `---
author: someone
tags: docs
---
# Getting Started

Install the thing. Then run it.

## Usage

` + "```go\nfunc main() {}\n```" + `

See [the docs](https://example.com/docs) for more.
`

	res, err := Parse("/srv/a.md", TypeMarkdown, []byte(src), Options{})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if res.Title != "Getting Started" {
		t.Errorf("title = %q, want first H1", res.Title)
	}
	if res.Metadata["author"] != "someone" {
		t.Errorf("front matter not extracted: %v", res.Metadata)
	}
	if len(res.Headings) != 2 {
		t.Fatalf("want 2 headings, got %d: %+v", len(res.Headings), res.Headings)
	}
	if res.Headings[0].Level != 1 || res.Headings[1].Level != 2 {
		t.Errorf("heading levels: %+v", res.Headings)
	}
	for _, h := range res.Headings {
		if !strings.HasPrefix(res.Text[h.Offset:], h.Text) {
			t.Errorf("heading offset %d does not point at %q", h.Offset, h.Text)
		}
	}
	if len(res.CodeSpans) != 1 {
		t.Fatalf("want 1 code span, got %d", len(res.CodeSpans))
	}
	code := res.Text[res.CodeSpans[0].Start:res.CodeSpans[0].End]
	if !strings.Contains(code, "func main()") {
		t.Errorf("code span content = %q", code)
	}
	if len(res.Links) != 1 || res.Links[0] != "https://example.com/docs" {
		t.Errorf("links = %v", res.Links)
	}
}

func Test_Parse_MarkdownImagesOnlyWhenMultimodal(t *testing.T) {
	t.Parallel()
	src := "Some text.\n\n![diagram](https://h/d.png)\n"

	plain, err := Parse("/srv/a.md", TypeMarkdown, []byte(src), Options{})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(plain.Images) != 0 {
		t.Errorf("images harvested without multimodal: %v", plain.Images)
	}

	multi, err := Parse("/srv/a.md", TypeMarkdown, []byte(src), Options{Multimodal: true})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(multi.Images) != 1 {
		t.Fatalf("want 1 image candidate, got %d", len(multi.Images))
	}
	if multi.Images[0].URL != "https://h/d.png" || multi.Images[0].Alt != "diagram" {
		t.Errorf("image candidate = %+v", multi.Images[0])
	}
}

func Test_Parse_RSTHeadings(t *testing.T) {
	t.Parallel()
	src := `Project Title
=============

Some intro text.

Section One
-----------

Body of section one.
`
	res, err := Parse("/srv/a.rst", TypeRST, []byte(src), Options{})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(res.Headings) != 2 {
		t.Fatalf("want 2 headings, got %d", len(res.Headings))
	}
	if res.Headings[0].Text != "Project Title" || res.Headings[0].Level != 1 {
		t.Errorf("first heading = %+v", res.Headings[0])
	}
	if res.Headings[1].Text != "Section One" || res.Headings[1].Level != 2 {
		t.Errorf("second heading = %+v", res.Headings[1])
	}
	if res.Title != "Project Title" {
		t.Errorf("title = %q", res.Title)
	}
}

func Test_Parse_HTMLMainContent(t *testing.T) {
	t.Parallel()
	src := `<!DOCTYPE html>
<html><head><title>My Page</title></head>
<body>
<nav><a href="/ignore">nav link</a></nav>
<article>
<h1>My Page</h1>
<p>This is the main content of the page, long enough for the extractor to
consider it the article body. It talks about interesting things at length
and keeps going for a while so readability has something to work with.</p>
<p>A second paragraph with more detail about the interesting things,
because one paragraph rarely convinces the scorer.</p>
</article>
<script>trackEverything()</script>
</body></html>`

	res, err := Parse("https://h/page.html", TypeHTML, []byte(src), Options{})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !strings.Contains(res.Text, "main content of the page") {
		t.Errorf("main content missing from text: %q", res.Text)
	}
	if strings.Contains(res.Text, "trackEverything") {
		t.Error("script content leaked into text")
	}
	if res.Title != "My Page" {
		t.Errorf("title = %q", res.Title)
	}
}

func Test_Parse_HTMLImageHarvest(t *testing.T) {
	t.Parallel()
	src := `<html><body>
<img src="/img/a.png" alt="first">
<picture><source srcset="/img/b.webp 1x, /img/b2.webp 2x"><img src="/img/b.png" alt="second"></picture>
<img src="data:image/gif;base64,R0lGOD==" alt="inline">
</body></html>`

	res, err := Parse("https://h/page.html", TypeHTML, []byte(src), Options{Multimodal: true})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	urls := make(map[string]bool)
	for _, img := range res.Images {
		urls[img.URL] = true
	}
	if !urls["https://h/img/a.png"] {
		t.Errorf("img src not harvested: %v", urls)
	}
	if !urls["https://h/img/b.webp"] {
		t.Errorf("primary srcset candidate not harvested: %v", urls)
	}
	for u := range urls {
		if strings.HasPrefix(u, "data:") {
			t.Errorf("data: URL must be dropped: %s", u)
		}
	}
}

func Test_Parse_TitleFallbackChain(t *testing.T) {
	t.Parallel()

	// No H1: file stem wins.
	res, err := Parse("/srv/notes/weekly-sync.md", TypeMarkdown, []byte("just text\n"), Options{})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if res.Title != "weekly-sync" {
		t.Errorf("title = %q, want file stem", res.Title)
	}

	// H1 beats the stem.
	res, err = Parse("/srv/notes/weekly-sync.md", TypeMarkdown, []byte("# Real Title\n\nbody\n"), Options{})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if res.Title != "Real Title" {
		t.Errorf("title = %q, want H1", res.Title)
	}
}

func Test_Parse_EmptyDocument(t *testing.T) {
	t.Parallel()
	res, err := Parse("/srv/empty.txt", TypePlain, nil, Options{})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if res.Text != "" {
		t.Errorf("empty body must yield empty text, got %q", res.Text)
	}
}
