// Package rerank rescores similarity-search candidates against the raw query.
package rerank

import (
	"context"
	"regexp"
	"strings"

	"sitechat/internal/rag"
)

// Query words that carry no retrieval signal.
var stopwords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "of": {}, "for": {},
	"to": {}, "in": {}, "on": {}, "at": {}, "by": {}, "with": {}, "from": {},
	"about": {}, "what": {}, "which": {}, "who": {}, "whom": {}, "whose": {},
	"is": {}, "are": {}, "was": {}, "were": {}, "be": {}, "been": {},
	"being": {}, "do": {}, "does": {}, "did": {}, "can": {}, "could": {},
	"should": {}, "would": {}, "may": {}, "might": {}, "will": {}, "shall": {},
	"we": {}, "our": {}, "us": {}, "you": {}, "your": {}, "they": {},
	"their": {}, "it": {}, "its": {}, "this": {}, "that": {}, "these": {},
	"those": {}, "please": {}, "show": {}, "tell": {}, "give": {}, "list": {},
	"explain": {}, "how": {}, "why": {}, "when": {},
}

var (
	quotedRe = regexp.MustCompile(`"([^"]+)"`)
	wordRe   = regexp.MustCompile(`[^\w+]+`)
)

const maxTerms = 10

// ExtractTerms pulls the strong search terms out of a query: quoted phrases
// first, then individual words of 3+ characters that are not stopwords,
// deduplicated in order, capped at 10.
func ExtractTerms(query string) []string {
	query = strings.TrimSpace(query)

	var phrases []string
	for _, m := range quotedRe.FindAllStringSubmatch(query, -1) {
		p := strings.ToLower(strings.TrimSpace(m[1]))
		if p != "" {
			phrases = append(phrases, p)
		}
	}
	unquoted := quotedRe.ReplaceAllString(query, " ")

	var words []string
	for _, w := range wordRe.Split(strings.ToLower(unquoted), -1) {
		if len(w) < 3 {
			continue
		}
		if _, stop := stopwords[w]; stop {
			continue
		}
		words = append(words, w)
	}

	seen := make(map[string]struct{})
	var terms []string
	for _, t := range append(phrases, words...) {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		terms = append(terms, t)
		if len(terms) == maxTerms {
			break
		}
	}
	return terms
}

// Gate filters candidates by keyword presence: with two or more strong terms
// every term must appear (AND), with one term any hit passes (OR). If the
// gate would empty the set, the original candidates are returned instead.
func Gate(candidates []rag.ScoredChunk, terms []string) []rag.ScoredChunk {
	if len(candidates) == 0 || len(terms) == 0 {
		return candidates
	}
	requireAll := len(terms) >= 2
	var out []rag.ScoredChunk
	for _, c := range candidates {
		text := strings.ToLower(c.Text)
		hits := 0
		for _, term := range terms {
			if strings.Contains(text, term) {
				hits++
			}
		}
		if (requireAll && hits == len(terms)) || (!requireAll && hits >= 1) {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return candidates
	}
	return out
}

// Overlap scores candidates by query-term overlap: quoted phrases count
// double, single words need a word-boundary match. It stands in for a remote
// cross-encoder behind the rag.Reranker interface.
type Overlap struct{}

// NewOverlap constructs the overlap reranker.
func NewOverlap() *Overlap {
	return &Overlap{}
}

// Rerank returns one score per candidate, parallel to the input.
func (Overlap) Rerank(_ context.Context, query string, candidates []rag.ScoredChunk) ([]float64, error) {
	matchers := buildMatchers(ExtractTerms(query))
	scores := make([]float64, len(candidates))
	for i, c := range candidates {
		scores[i] = overlapScore(matchers, c.Text)
	}
	return scores, nil
}

type termMatcher struct {
	phrase string
	word   *regexp.Regexp
}

func buildMatchers(terms []string) []termMatcher {
	matchers := make([]termMatcher, 0, len(terms))
	for _, term := range terms {
		if strings.Contains(term, " ") {
			matchers = append(matchers, termMatcher{phrase: term})
			continue
		}
		matchers = append(matchers, termMatcher{
			word: regexp.MustCompile(`\b` + regexp.QuoteMeta(term) + `\b`),
		})
	}
	return matchers
}

func overlapScore(matchers []termMatcher, text string) float64 {
	if len(matchers) == 0 || text == "" {
		return 0
	}
	lower := strings.ToLower(text)
	var score float64
	for _, m := range matchers {
		switch {
		case m.phrase != "":
			if strings.Contains(lower, m.phrase) {
				score += 2.0
			}
		case m.word.MatchString(lower):
			score += 1.0
		}
	}
	return score
}
