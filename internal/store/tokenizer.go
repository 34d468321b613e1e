package store

import (
	"regexp"
	"strings"
	"unicode"
)

// tokenRegex matches alphanumeric runs, keeping underscores for the
// identifier split that follows.
var tokenRegex = regexp.MustCompile(`[a-zA-Z0-9_]+`)

// Tokenize lowercases text and splits it with identifier-aware rules.
// Compound identifiers (camelCase, snake_case) yield their parts followed by
// the whole word, so both "retry" and "retrypolicy" match "RetryPolicy".
func Tokenize(text string, minLen int) []string {
	if minLen <= 0 {
		minLen = 2
	}
	var tokens []string
	for _, word := range tokenRegex.FindAllString(text, -1) {
		parts := SplitIdentifier(word)
		for _, p := range parts {
			if lower := strings.ToLower(p); len(lower) >= minLen {
				tokens = append(tokens, lower)
			}
		}
		if len(parts) > 1 {
			whole := strings.ToLower(strings.ReplaceAll(word, "_", ""))
			if len(whole) >= minLen {
				tokens = append(tokens, whole)
			}
		}
	}
	return tokens
}

// SplitIdentifier splits snake_case and camelCase identifiers.
func SplitIdentifier(token string) []string {
	if !strings.Contains(token, "_") {
		return SplitCamelCase(token)
	}
	var result []string
	for _, part := range strings.Split(token, "_") {
		if part != "" {
			result = append(result, SplitCamelCase(part)...)
		}
	}
	return result
}

// SplitCamelCase splits camelCase and PascalCase identifiers, keeping
// acronyms together:
//   - "getUserById" -> ["get", "User", "By", "Id"]
//   - "parseHTTPRequest" -> ["parse", "HTTP", "Request"]
func SplitCamelCase(s string) []string {
	if s == "" {
		return []string{}
	}

	var result []string
	var current strings.Builder

	runes := []rune(s)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prevIsLower := unicode.IsLower(runes[i-1]) || unicode.IsDigit(runes[i-1])
			nextIsLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if (prevIsLower || nextIsLower) && current.Len() > 0 {
				result = append(result, current.String())
				current.Reset()
			}
		}
		current.WriteRune(r)
	}
	if current.Len() > 0 {
		result = append(result, current.String())
	}
	return result
}

// buildStopWordMap converts stop words to a lookup set.
func buildStopWordMap(stopWords []string) map[string]struct{} {
	m := make(map[string]struct{}, len(stopWords))
	for _, word := range stopWords {
		m[strings.ToLower(word)] = struct{}{}
	}
	return m
}
