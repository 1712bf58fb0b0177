package flow

import (
	"sort"
	"strings"
	"unicode"
)

// Fuzzy binding of required-document slots to project documents. Slot names
// are human-written ("Trustpilot reviews") and filenames are messy
// ("Trustpilot Reviews - Revolut.pdf"), so matching combines substring
// coverage, word overlap and edit distance over normalized names.

// MatchableDocument is the minimal document view fuzzy matching needs.
type MatchableDocument struct {
	ID          string
	Filename    string
	Description string
	Tags        []string
}

// DocumentMatch pairs a document with its match confidence in [0,1].
type DocumentMatch struct {
	Doc        MatchableDocument
	Confidence float64
}

// DefaultMatchThreshold is the minimum confidence for a binding.
const DefaultMatchThreshold = 0.3

var matchStopWords = map[string]bool{
	"el": true, "la": true, "los": true, "las": true, "de": true,
	"del": true, "un": true, "una": true, "para": true, "por": true,
	"con": true, "en": true,
	"the": true, "a": true, "an": true, "of": true, "for": true,
	"with": true, "in": true, "to": true, "and": true, "or": true,
	"documento": true, "document": true, "archivo": true, "file": true,
}

var docExtensions = []string{".pdf", ".docx", ".doc", ".txt", ".md", ".xlsx", ".xls", ".csv"}

// normalizeDocName lowercases, strips accents, extensions and stop words.
func normalizeDocName(text string) string {
	if text == "" {
		return ""
	}
	lower := strings.ToLower(text)
	for _, ext := range docExtensions {
		lower = strings.TrimSuffix(lower, ext)
	}
	var b strings.Builder
	for _, r := range lower {
		switch {
		case unicode.Is(unicode.Mn, r):
			// combining accent mark, drop
		case r == 'á':
			b.WriteRune('a')
		case r == 'é':
			b.WriteRune('e')
		case r == 'í':
			b.WriteRune('i')
		case r == 'ó':
			b.WriteRune('o')
		case r == 'ú', r == 'ü':
			b.WriteRune('u')
		case r == 'ñ':
			b.WriteRune('n')
		default:
			b.WriteRune(r)
		}
	}
	words := strings.FieldsFunc(b.String(), func(r rune) bool {
		return r == ' ' || r == '_' || r == '-' || r == '.'
	})
	var kept []string
	for _, w := range words {
		if len(w) > 1 && !matchStopWords[w] {
			kept = append(kept, w)
		}
	}
	return strings.Join(kept, " ")
}

func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(ra)+1)
	cur := make([]int, len(ra)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(rb); i++ {
		cur[0] = i
		for j := 1; j <= len(ra); j++ {
			cost := 1
			if rb[i-1] == ra[j-1] {
				cost = 0
			}
			cur[j] = min3(prev[j-1]+cost, cur[j-1]+1, prev[j]+1)
		}
		prev, cur = cur, prev
	}
	return prev[len(ra)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}

// nameSimilarity scores two names in [0,1]. Substring containment scores
// at least 0.7; full word containment at least 0.65; otherwise a blend of
// Jaccard word overlap (70%) and Levenshtein similarity (30%).
func nameSimilarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	na, nb := normalizeDocName(a), normalizeDocName(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1
	}

	shorter, longer := na, nb
	if len(shorter) > len(longer) {
		shorter, longer = longer, shorter
	}
	if strings.Contains(longer, shorter) {
		coverage := float64(len(shorter)) / float64(len(longer))
		if coverage < 0.7 {
			coverage = 0.7
		}
		return coverage
	}

	wordsA := strings.Fields(na)
	wordsB := strings.Fields(nb)
	setA := toSet(wordsA)
	setB := toSet(wordsB)
	shortSet, longSet := setA, setB
	if len(na) > len(nb) {
		shortSet, longSet = setB, setA
	}

	allMatch := len(shortSet) > 0
	for w := range shortSet {
		found := false
		for lw := range longSet {
			if strings.Contains(lw, w) || strings.Contains(w, lw) {
				found = true
				break
			}
		}
		if !found {
			allMatch = false
			break
		}
	}
	if allMatch {
		coverage := float64(len(shortSet)) / float64(len(longSet))
		if coverage < 0.65 {
			coverage = 0.65
		}
		return coverage
	}

	maxLen := len(na)
	if len(nb) > maxLen {
		maxLen = len(nb)
	}
	lev := 1 - float64(levenshtein(na, nb))/float64(maxLen)

	inter := 0
	for w := range setA {
		if setB[w] {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	jaccard := 0.0
	if union > 0 {
		jaccard = float64(inter) / float64(union)
	}

	score := jaccard*0.7 + lev*0.3
	if score > 1 {
		score = 1
	}
	return score
}

func toSet(words []string) map[string]bool {
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}

func tagScore(requiredName string, tags []string) float64 {
	if len(tags) == 0 {
		return 0
	}
	normReq := normalizeDocName(requiredName)
	if normReq == "" {
		return 0
	}
	best := 0.0
	for _, tag := range tags {
		normTag := normalizeDocName(tag)
		if normTag == "" {
			continue
		}
		if normTag == normReq {
			return 1
		}
		if strings.Contains(normReq, normTag) || strings.Contains(normTag, normReq) {
			shorter, longer := len(normTag), len(normReq)
			if shorter > longer {
				shorter, longer = longer, shorter
			}
			if s := float64(shorter) / float64(longer) * 0.9; s > best {
				best = s
			}
		}
		if s := nameSimilarity(requiredName, tag); s > best {
			best = s
		}
	}
	return best
}

// FindMatchingDocument returns the best-scoring document above threshold,
// or nil. Filename weighs 50%, description 30%, tags 20%; documents
// without tags use a 60/40 filename/description split so they are not
// penalized.
func FindMatchingDocument(requiredName string, docs []MatchableDocument, threshold float64) *DocumentMatch {
	if requiredName == "" || len(docs) == 0 {
		return nil
	}
	matches := make([]DocumentMatch, 0, len(docs))
	for _, doc := range docs {
		filenameScore := nameSimilarity(requiredName, doc.Filename)
		descScore := 0.0
		if doc.Description != "" {
			descScore = nameSimilarity(requiredName, doc.Description)
		}
		var score float64
		if len(doc.Tags) > 0 {
			score = filenameScore*0.5 + descScore*0.3 + tagScore(requiredName, doc.Tags)*0.2
		} else {
			score = filenameScore*0.6 + descScore*0.4
		}
		matches = append(matches, DocumentMatch{Doc: doc, Confidence: score})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Confidence > matches[j].Confidence
	})
	if matches[0].Confidence < threshold {
		return nil
	}
	best := matches[0]
	return &best
}
