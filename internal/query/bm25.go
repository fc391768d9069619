package query

import (
	"math"
	"strings"
	"unicode"
)

// BM25 parameters. Document frequencies are computed from the over-fetched
// candidate set, an approximation that holds up because fusion only needs
// relative ordering within that set.
const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

// tokenize lowercases and splits text on non-alphanumeric runes.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// bm25Scores computes BM25 scores for each candidate text against the query
// terms, using candidate-set-local document frequencies.
func bm25Scores(queryTerms []string, texts []string) []float64 {
	n := len(texts)
	scores := make([]float64, n)
	if n == 0 || len(queryTerms) == 0 {
		return scores
	}

	termFreqs := make([]map[string]int, n)
	totalLen := 0
	for i, text := range texts {
		tokens := tokenize(text)
		tf := make(map[string]int, len(tokens))
		for _, tok := range tokens {
			tf[tok]++
		}
		termFreqs[i] = tf
		totalLen += len(tokens)
	}
	avgLen := float64(totalLen) / float64(n)
	if avgLen == 0 {
		return scores
	}

	// Document frequency per query term over the candidate set.
	df := make(map[string]int, len(queryTerms))
	for _, term := range queryTerms {
		for _, tf := range termFreqs {
			if tf[term] > 0 {
				df[term]++
			}
		}
	}

	for i, tf := range termFreqs {
		docLen := 0
		for _, c := range tf {
			docLen += c
		}
		var score float64
		for _, term := range queryTerms {
			freq := float64(tf[term])
			if freq == 0 {
				continue
			}
			idf := math.Log(1 + (float64(n)-float64(df[term])+0.5)/(float64(df[term])+0.5))
			norm := freq * (bm25K1 + 1) / (freq + bm25K1*(1-bm25B+bm25B*float64(docLen)/avgLen))
			score += idf * norm
		}
		scores[i] = score
	}
	return scores
}

// minMaxNormalize rescales values into [0, 1] over the set. A constant set
// normalizes to all zeros, matching the fusion convention that a flat signal
// contributes nothing.
func minMaxNormalize(values []float64) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if hi == lo {
		return out
	}
	for i, v := range values {
		out[i] = (v - lo) / (hi - lo)
	}
	return out
}
