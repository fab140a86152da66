package reflection

import "strings"

// Similarity scores two outputs between 0 (unrelated) and 1 (identical).
type Similarity func(a, b string) float64

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "was": true,
	"were": true, "been": true, "has": true, "have": true, "had": true,
	"this": true, "that": true, "these": true, "those": true, "with": true,
	"from": true, "into": true, "about": true, "will": true, "would": true,
	"could": true, "should": true, "its": true, "which": true, "what": true,
}

// Terms extracts the lowercase term set of text, skipping short words and
// stop words.
func Terms(text string) map[string]bool {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_')
	})

	terms := make(map[string]bool, len(words))
	for _, w := range words {
		if len(w) >= 3 && !stopWords[w] {
			terms[w] = true
		}
	}
	return terms
}

// JaccardSimilarity computes the Jaccard index of two term sets.
func JaccardSimilarity(set1, set2 map[string]bool) float64 {
	if len(set1) == 0 && len(set2) == 0 {
		return 1.0
	}
	if len(set1) == 0 || len(set2) == 0 {
		return 0.0
	}

	intersection := 0
	for term := range set1 {
		if set2[term] {
			intersection++
		}
	}

	union := len(set1) + len(set2) - intersection
	return float64(intersection) / float64(union)
}

// Jaccard is the default Similarity: the Jaccard index of the term sets.
func Jaccard(a, b string) float64 {
	return JaccardSimilarity(Terms(a), Terms(b))
}
