package processing

import (
	"html"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/DeafMist/filing-insight/internal/models"
)

var urlRegex = regexp.MustCompile(`https?://[^\s]+`)

var (
	whitespace  = regexp.MustCompile(`\s+`)
	punctuation = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)
)

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "to": {}, "in": {}, "for": {}, "of": {}, "and": {},
	"or": {}, "on": {}, "by": {}, "as": {}, "at": {}, "be": {}, "is": {}, "are": {},
	"was": {}, "were": {}, "with": {}, "from": {}, "that": {}, "this": {}, "these": {},
	"those": {}, "which": {}, "such": {}, "other": {}, "have": {}, "has": {}, "had": {},
	"not": {}, "may": {}, "could": {}, "would": {}, "will": {}, "can": {}, "our": {},
	"we": {}, "us": {}, "its": {}, "their": {}, "any": {}, "all": {}, "also": {},
	"including": {}, "been": {}, "there": {}, "than": {}, "more": {}, "into": {},
	"result": {}, "results": {}, "adversely": {}, "affect": {}, "material": {},
}

// CleanText strips HTML entities, punctuation, squeezes whitespace, and removes URLs.
func CleanText(input string) string {
	if input == "" {
		return ""
	}
	decoded := html.UnescapeString(input)
	decoded = urlRegex.ReplaceAllString(decoded, " ")
	decoded = punctuation.ReplaceAllString(decoded, " ")
	decoded = whitespace.ReplaceAllString(decoded, " ")
	decoded = strings.TrimSpace(decoded)
	return decoded
}

// NormalizeWhitespace collapses runs of whitespace and trims the ends.
func NormalizeWhitespace(input string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(input, " "))
}

// SameText reports whether two passages are identical once whitespace differences are ignored.
func SameText(a, b string) bool {
	return NormalizeWhitespace(a) == NormalizeWhitespace(b)
}

// Truncate cuts text to at most maxRunes runes.
func Truncate(text string, maxRunes int) string {
	if maxRunes <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= maxRunes {
		return text
	}
	return string(runes[:maxRunes])
}

type termCount struct {
	word  string
	count int
}

func countTerms(text string, minLen int) []termCount {
	clean := strings.ToLower(CleanText(text))
	if clean == "" {
		return nil
	}

	freq := make(map[string]int)
	for _, token := range strings.Fields(clean) {
		token = strings.TrimFunc(token, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsNumber(r)
		})
		if len([]rune(token)) < minLen {
			continue
		}
		if _, skip := stopwords[token]; skip {
			continue
		}
		if isNumeric(token) {
			continue
		}
		freq[token]++
	}

	if len(freq) == 0 {
		return nil
	}

	pairs := make([]termCount, 0, len(freq))
	for word, count := range freq {
		pairs = append(pairs, termCount{word: word, count: count})
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].count == pairs[j].count {
			return pairs[i].word < pairs[j].word
		}
		return pairs[i].count > pairs[j].count
	})
	return pairs
}

// ExtractKeywords returns the most frequent words that are not stop-words.
func ExtractKeywords(text string, limit, minLen int) []string {
	pairs := countTerms(text, minLen)
	if len(pairs) == 0 {
		return nil
	}

	max := limit
	if max <= 0 || max > len(pairs) {
		max = len(pairs)
	}

	keywords := make([]string, 0, max)
	for i := 0; i < max; i++ {
		keywords = append(keywords, pairs[i].word)
	}

	return keywords
}

// WordCloud weights the most frequent terms of text. The result is never nil.
func WordCloud(text string, limit, minLen int) []models.WordCloudTerm {
	pairs := countTerms(text, minLen)
	max := limit
	if max <= 0 || max > len(pairs) {
		max = len(pairs)
	}

	terms := make([]models.WordCloudTerm, 0, max)
	for i := 0; i < max; i++ {
		terms = append(terms, models.WordCloudTerm{Text: pairs[i].word, Value: pairs[i].count})
	}
	return terms
}

func isNumeric(token string) bool {
	for _, r := range token {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
