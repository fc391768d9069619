// Package chunk implements structure-aware text segmentation with
// deterministic content hashing. At each cut point the chunker prefers, in
// order: a heading boundary, a paragraph boundary, a sentence boundary, a
// whitespace boundary, and finally a hard cut at the size limit. Code blocks
// are never split internally. Identical input text and config always yield
// byte-identical chunk sequences.
package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"unicode"
)

// Span marks a half-open [Start, End) range of the input text.
type Span struct {
	Start int
	End   int
}

// Input is the normalized document text plus the structural offsets the
// parser extracted from it.
type Input struct {
	// Text is the normalized document text.
	Text string
	// HeadingOffsets are positions where a heading begins, ascending.
	HeadingOffsets []int
	// CodeSpans are code-block ranges that must not be split, ascending
	// and non-overlapping.
	CodeSpans []Span
}

// Config bounds chunk sizes. All values are in characters (bytes of the
// normalized UTF-8 text).
type Config struct {
	// MaxChars is the maximum chunk length. Only an unsplittable code
	// block may exceed it.
	MaxChars int
	// MinChars is the minimum length for a mid-document cut. The final
	// chunk of a document may be shorter.
	MinChars int
	// OverlapChars is the overlap between consecutive chunks. The actual
	// overlap shrinks when a natural boundary lies inside the overlap
	// window; it never exceeds this value.
	OverlapChars int
	// PreferHeadings makes heading boundaries the highest-priority cut.
	PreferHeadings bool
}

// Chunk is one emitted text segment.
type Chunk struct {
	// Text is the chunk content, a verbatim slice of the input text.
	Text string
	// Start and End are the half-open character offsets into the input.
	Start int
	End   int
	// Hash is the hex SHA-256 of the chunk bytes. It is a pure function
	// of the content and independent of position.
	Hash string
}

// HashText returns the hex SHA-256 digest of text. The same function is used
// for document-level content hashes so change detection and chunk identity
// share one definition.
func HashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// HashImage returns the content hash for an image chunk. The hash input is
// the media URL and the media byte hash joined by a NUL separator, so two
// assets with equal bytes at different URLs hash differently.
func HashImage(mediaURL, mediaHash string) string {
	sum := sha256.Sum256([]byte(mediaURL + "\x00" + mediaHash))
	return hex.EncodeToString(sum[:])
}

// Split segments the input into chunks per cfg. The concatenation of the
// returned chunks with overlaps removed reproduces the input text exactly.
func Split(in Input, cfg Config) []Chunk {
	text := in.Text
	if len(text) == 0 {
		return nil
	}

	spans := normalizeSpans(in.CodeSpans, len(text))
	headings := clampOffsets(in.HeadingOffsets, len(text))

	var out []Chunk
	cursor := 0
	prevEnd := 0
	for {
		remaining := len(text) - cursor
		if remaining <= cfg.MaxChars {
			out = append(out, makeChunk(text, cursor, len(text)))
			return out
		}

		cut := chooseCut(text, cursor, headings, spans, cfg)
		if cut <= prevEnd {
			// The overlap restart found no later cut (an unsplittable
			// block is ahead); resume past the previous chunk instead of
			// emitting a subset of it.
			cursor = prevEnd
			continue
		}
		out = append(out, makeChunk(text, cursor, cut))
		prevEnd = cut

		next := cut - cfg.OverlapChars
		if next <= cursor {
			next = cut
		} else if cfg.OverlapChars > 0 {
			// Shrink the overlap to the latest natural boundary inside
			// the overlap window, when one exists.
			if b := lastParagraphBoundary(text, next+1, cut-1, spans); b > next {
				next = b
			}
		}
		// Never restart inside a code block: the next cut could not
		// escape it without splitting the block.
		if insideSpan(spans, next) {
			next = cut
		}
		cursor = next
	}
}

// chooseCut picks the cut position for the chunk starting at cursor. The
// returned cut is in (cursor, len(text)]; the emitted chunk is [cursor, cut).
func chooseCut(text string, cursor int, headings []int, spans []Span, cfg Config) int {
	lo := cursor + cfg.MinChars
	hi := cursor + cfg.MaxChars

	// A code block straddling the size limit is never split: break before
	// it when enough content precedes it, otherwise emit it whole as an
	// oversize chunk.
	if s, ok := spanCrossing(spans, hi); ok {
		if s.Start >= lo && s.Start > cursor {
			return s.Start
		}
		if s.End > len(text) {
			return len(text)
		}
		return s.End
	}

	if cfg.PreferHeadings {
		if h := lastOffsetIn(headings, lo, hi); h > 0 && !insideSpan(spans, h) {
			return h
		}
	}
	if b := lastParagraphBoundary(text, lo, hi, spans); b > 0 {
		return b
	}
	if b := lastSentenceBoundary(text, lo, hi, spans); b > 0 {
		return b
	}
	if b := lastWhitespaceBoundary(text, lo, hi, spans); b > 0 {
		return b
	}
	return hi
}

// makeChunk slices [start, end) out of text and hashes it.
func makeChunk(text string, start, end int) Chunk {
	body := text[start:end]
	return Chunk{
		Text:  body,
		Start: start,
		End:   end,
		Hash:  HashText(body),
	}
}

// spanCrossing returns the span that contains position pos strictly inside
// it (Start < pos < End), if any.
func spanCrossing(spans []Span, pos int) (Span, bool) {
	for _, s := range spans {
		if s.Start < pos && pos < s.End {
			return s, true
		}
		if s.Start >= pos {
			break
		}
	}
	return Span{}, false
}

// insideSpan reports whether a cut at pos would split a code block.
func insideSpan(spans []Span, pos int) bool {
	_, ok := spanCrossing(spans, pos)
	return ok
}

// lastOffsetIn returns the largest offset within [lo, hi], or 0.
func lastOffsetIn(offsets []int, lo, hi int) int {
	i := sort.SearchInts(offsets, hi+1) - 1
	if i >= 0 && offsets[i] >= lo {
		return offsets[i]
	}
	return 0
}

// lastParagraphBoundary returns the position just after the last blank-line
// separator whose cut position falls within [lo, hi] and outside any code
// span, or 0 when none exists.
func lastParagraphBoundary(text string, lo, hi int, spans []Span) int {
	if hi > len(text)-1 {
		hi = len(text) - 1
	}
	for i := hi - 1; i >= lo && i >= 1; i-- {
		if text[i] == '\n' && text[i-1] == '\n' && !insideSpan(spans, i+1) {
			return i + 1
		}
	}
	return 0
}

// lastSentenceBoundary returns the position after the last `.?!` followed by
// whitespace whose cut position falls within [lo, hi] and outside any code
// span, or 0.
func lastSentenceBoundary(text string, lo, hi int, spans []Span) int {
	if hi > len(text)-1 {
		hi = len(text) - 1
	}
	for i := hi - 1; i >= lo && i >= 1; i-- {
		c := text[i-1]
		if (c == '.' || c == '?' || c == '!') && unicode.IsSpace(rune(text[i])) && !insideSpan(spans, i+1) {
			return i + 1
		}
	}
	return 0
}

// lastWhitespaceBoundary returns the position after the last whitespace rune
// whose cut position falls within [lo, hi] and outside any code span, or 0.
func lastWhitespaceBoundary(text string, lo, hi int, spans []Span) int {
	if hi > len(text)-1 {
		hi = len(text) - 1
	}
	for i := hi - 1; i >= lo; i-- {
		if unicode.IsSpace(rune(text[i])) && !insideSpan(spans, i+1) {
			return i + 1
		}
	}
	return 0
}

// normalizeSpans drops empty or out-of-range spans and sorts the rest.
func normalizeSpans(spans []Span, n int) []Span {
	out := make([]Span, 0, len(spans))
	for _, s := range spans {
		if s.End <= s.Start || s.Start >= n {
			continue
		}
		if s.End > n {
			s.End = n
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

// clampOffsets drops offsets outside (0, n) and sorts the rest.
func clampOffsets(offsets []int, n int) []int {
	out := make([]int, 0, len(offsets))
	for _, o := range offsets {
		if o > 0 && o < n {
			out = append(out, o)
		}
	}
	sort.Ints(out)
	return out
}
