// Package prior computes the heuristic (L1) bias applied to arm weights.
//
// Everything here is a pure function of the query text: the same text always
// yields the same Features and the same Bias.
package prior

import (
	"regexp"
	"strings"
)

// Token shapes that suggest an exact-match (lexical) lookup.
var (
	errorCodePattern      = regexp.MustCompile(`(?i)^(ERR_\w+|E\d{4,5}|[A-Z]{2,}\d{3,}|\w+Exception)$`)
	quotedPattern         = regexp.MustCompile(`^["'].*["']$`)
	filePathPattern       = regexp.MustCompile(`(?i)^[\w\-\./\\]+\.(go|ts|tsx|js|jsx|py|md|json|yaml|yml|toml|rs|java|kt|c|cpp|h|rb|php|swift|sh|sql|csv|txt|log)$`)
	camelCasePattern      = regexp.MustCompile(`^[a-z]+([A-Z][a-z0-9]*)+$`)
	pascalCasePattern     = regexp.MustCompile(`^([A-Z][a-z0-9]+){2,}$`)
	snakeCasePattern      = regexp.MustCompile(`^[a-z]+(_[a-z0-9]+)+$`)
	screamingSnakePattern = regexp.MustCompile(`^[A-Z]+(_[A-Z0-9]+)+$`)
	numberPattern         = regexp.MustCompile(`^[#v]?\d+([.\-:/]\d+)*$`)
	acronymPattern        = regexp.MustCompile(`^[A-Z]{2,6}s?$`)
)

// abstractWords are function words and vague nouns typical of conceptual queries.
var abstractWords = toSet(
	"a", "an", "the", "of", "to", "in", "on", "for", "with", "about", "and", "or",
	"is", "are", "was", "were", "be", "do", "does", "did", "can", "could", "should", "would",
	"how", "why", "what", "when", "which", "who", "where",
	"explain", "describe", "overview", "summary", "concept", "idea", "approach", "general",
	"generally", "best", "way", "ways", "reason", "reasons", "meaning", "understand",
	"difference", "similar", "like", "kind", "sort", "thing", "things", "something",
)

// relationalWords hint that the answer lives in links between memories.
var relationalWords = toSet(
	"related", "relates", "relation", "relationship", "relationships", "connected",
	"connection", "connections", "between", "linked", "links", "depends", "dependency",
	"dependencies", "associated", "neighbors", "path", "upstream", "downstream", "caused", "causes",
)

// Features are the query properties the prior reacts to.
type Features struct {
	// TokenCount is the number of whitespace-separated tokens.
	TokenCount int
	// KeywordTokens counts identifier-like, code-like or quoted tokens.
	KeywordTokens int
	// KeywordRatio is KeywordTokens / TokenCount.
	KeywordRatio float64
	// StructuredTokens counts identifiers, paths, error codes and numbers.
	StructuredTokens int
	// AbstractionScore is the share of abstract/function words, in [0,1].
	AbstractionScore float64
	// Relational is set when the query asks about links between things.
	Relational bool
}

// Extract derives Features from raw query text.
func Extract(text string) Features {
	text = strings.TrimSpace(text)
	fields := strings.Fields(text)
	f := Features{TokenCount: len(fields)}
	if f.TokenCount == 0 {
		return f
	}

	if quotedPattern.MatchString(text) {
		f.KeywordTokens = f.TokenCount
	}

	abstract := 0
	for _, raw := range fields {
		tok := strings.Trim(raw, ".,;:!?()[]{}\"'`")
		if tok == "" {
			continue
		}
		lower := strings.ToLower(tok)

		structured := isStructured(tok)
		if structured {
			f.StructuredTokens++
		}
		if f.KeywordTokens < f.TokenCount && (structured || acronymPattern.MatchString(tok)) {
			f.KeywordTokens++
		}
		if _, ok := abstractWords[lower]; ok {
			abstract++
		}
		if _, ok := relationalWords[lower]; ok {
			f.Relational = true
		}
	}

	f.KeywordRatio = float64(f.KeywordTokens) / float64(f.TokenCount)
	f.AbstractionScore = float64(abstract) / float64(f.TokenCount)
	return f
}

func isStructured(tok string) bool {
	return errorCodePattern.MatchString(tok) ||
		filePathPattern.MatchString(tok) ||
		camelCasePattern.MatchString(tok) ||
		pascalCasePattern.MatchString(tok) ||
		snakeCasePattern.MatchString(tok) ||
		screamingSnakePattern.MatchString(tok) ||
		numberPattern.MatchString(tok)
}

func toSet(words ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
