package parse

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	readability "github.com/go-shiori/go-readability"
	"golang.org/x/net/html"
)

// parseHTML extracts the main content of an HTML page (dropping navigation,
// scripts, and styling), flattens it to markdown so heading hierarchy and
// code blocks survive, and reuses the markdown parser for structure. Image
// candidates are harvested from the original HTML, not the readability
// output, so assets stripped by main-content extraction are still seen.
func parseHTML(uri string, body []byte, opts Options) (*Result, error) {
	base, _ := url.Parse(uri)

	// Readability extraction can fail on pages without a recognizable
	// article; fall back to converting the full page.
	content := string(body)
	title := ""
	if article, err := readability.FromReader(bytes.NewReader(body), base); err == nil && strings.TrimSpace(article.Content) != "" {
		content = article.Content
		title = strings.TrimSpace(article.Title)
	}

	md, err := htmltomarkdown.ConvertString(content)
	if err != nil {
		return nil, fmt.Errorf("parse: html to markdown %s: %w", uri, err)
	}

	res, err := parseMarkdown([]byte(md), Options{})
	if err != nil {
		return nil, err
	}
	if title != "" {
		res.Title = title
	}

	// Links come from the full page so the crawler can follow navigation
	// that readability strips.
	res.Links = harvestLinks(body, base)

	if opts.Multimodal {
		res.Images = harvestImages(body, base, opts.CSSBackgrounds)
	}
	return res, nil
}

// ExtractLinks collects every <a href> in an HTML page, resolved against the
// page URI. It works on the raw page and never fails, so the crawler can
// follow navigation regardless of how main-content extraction went.
func ExtractLinks(uri string, body []byte) []string {
	base, err := url.Parse(uri)
	if err != nil {
		base = nil
	}
	return harvestLinks(body, base)
}

// harvestLinks collects every <a href> in the page, resolved against base.
func harvestLinks(body []byte, base *url.URL) []string {
	var links []string
	tok := html.NewTokenizer(bytes.NewReader(body))
	for {
		tt := tok.Next()
		if tt == html.ErrorToken {
			return links
		}
		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			continue
		}
		name, hasAttr := tok.TagName()
		if string(name) != "a" || !hasAttr {
			continue
		}
		for {
			key, val, more := tok.TagAttr()
			if string(key) == "href" {
				if u := resolveURL(base, string(val)); u != "" {
					links = append(links, u)
				}
			}
			if !more {
				break
			}
		}
	}
}

// cssURLPattern matches url(...) values inside style attributes.
var cssURLPattern = regexp.MustCompile(`url\(\s*['"]?([^'")]+)['"]?\s*\)`)

// harvestImages collects image asset candidates: <img> sources, the primary
// srcset candidate of <picture>/<source> elements, and optionally CSS
// background-image URLs.
func harvestImages(body []byte, base *url.URL, cssBackgrounds bool) []ImageCandidate {
	var out []ImageCandidate
	seen := make(map[string]struct{})

	add := func(raw, alt, context string) {
		u := resolveURL(base, raw)
		if u == "" {
			return
		}
		if _, dup := seen[u]; dup {
			return
		}
		seen[u] = struct{}{}
		out = append(out, ImageCandidate{URL: u, Alt: alt, Context: context})
	}

	tok := html.NewTokenizer(bytes.NewReader(body))
	for {
		tt := tok.Next()
		if tt == html.ErrorToken {
			return out
		}
		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			continue
		}
		name, hasAttr := tok.TagName()
		if !hasAttr {
			continue
		}

		attrs := make(map[string]string)
		for {
			key, val, more := tok.TagAttr()
			attrs[string(key)] = string(val)
			if !more {
				break
			}
		}

		switch string(name) {
		case "img":
			if src := attrs["src"]; src != "" {
				add(src, attrs["alt"], attrs["title"])
			} else if srcset := attrs["srcset"]; srcset != "" {
				add(primarySrcset(srcset), attrs["alt"], attrs["title"])
			}
		case "source":
			if srcset := attrs["srcset"]; srcset != "" {
				add(primarySrcset(srcset), "", "")
			}
		default:
			if cssBackgrounds {
				if style := attrs["style"]; style != "" && strings.Contains(style, "background") {
					for _, m := range cssURLPattern.FindAllStringSubmatch(style, -1) {
						add(m[1], "", "")
					}
				}
			}
		}
	}
}

// primarySrcset returns the first candidate URL of a srcset value.
func primarySrcset(srcset string) string {
	first, _, _ := strings.Cut(srcset, ",")
	fields := strings.Fields(strings.TrimSpace(first))
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// resolveURL resolves raw against base, dropping fragments and unsupported
// schemes (data:, javascript:, mailto:).
func resolveURL(base *url.URL, raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if base != nil {
		ref = base.ResolveReference(ref)
	}
	if ref.Scheme != "http" && ref.Scheme != "https" {
		return ""
	}
	ref.Fragment = ""
	return ref.String()
}
