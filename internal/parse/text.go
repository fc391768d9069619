package parse

import "strings"

// parsePlain passes plain text through with newline normalization only.
func parsePlain(body []byte) *Result {
	return &Result{Text: strings.TrimRight(normalizeNewlines(string(body)), "\n")}
}

// rstAdornments are the punctuation characters reStructuredText accepts for
// heading underlines.
const rstAdornments = "=-~^\"'`#*+.:_"

// parseRST passes reStructuredText through, recognizing headings by their
// underline punctuation rows. Heading level is assigned by the order in
// which adornment characters first appear, matching RST's convention that
// the document defines its own hierarchy.
func parseRST(body []byte) *Result {
	text := strings.TrimRight(normalizeNewlines(string(body)), "\n")
	res := &Result{Text: text}

	levelByAdornment := make(map[byte]int)
	lines := strings.Split(text, "\n")
	offset := 0
	for i, line := range lines {
		if i+1 < len(lines) && isRSTUnderline(lines[i+1], line) {
			ch := lines[i+1][0]
			level, ok := levelByAdornment[ch]
			if !ok {
				level = len(levelByAdornment) + 1
				levelByAdornment[ch] = level
			}
			res.Headings = append(res.Headings, Heading{
				Offset: offset,
				Level:  level,
				Text:   strings.TrimSpace(line),
			})
		}
		offset += len(line) + 1
	}
	return res
}

// isRSTUnderline reports whether underline is a punctuation row at least as
// long as the non-empty title line above it.
func isRSTUnderline(underline, title string) bool {
	title = strings.TrimRight(title, " ")
	underline = strings.TrimRight(underline, " ")
	if title == "" || len(underline) < len(title) || len(underline) < 2 {
		return false
	}
	ch := underline[0]
	if !strings.ContainsRune(rstAdornments, rune(ch)) {
		return false
	}
	for i := 1; i < len(underline); i++ {
		if underline[i] != ch {
			return false
		}
	}
	return true
}
