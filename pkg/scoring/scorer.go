// Package scoring implements account similarity scoring
package scoring

import (
	"sort"
	"strings"

	"github.com/Ramsey-B/aster/pkg/models"
	"github.com/Ramsey-B/aster/pkg/normalizers"
)

// Weights holds the per-field contribution weights for account similarity.
// Weights are normalized before use so they always sum to 1.0.
type Weights struct {
	Name        float64
	Domain      float64
	Industry    float64
	Description float64
	Tags        float64
	Phone       float64
}

// DefaultWeights returns the default weight table
func DefaultWeights() Weights {
	return Weights{
		Name:        0.35,
		Domain:      0.20,
		Industry:    0.15,
		Description: 0.15,
		Tags:        0.10,
		Phone:       0.05,
	}
}

func (w Weights) sum() float64 {
	return w.Name + w.Domain + w.Industry + w.Description + w.Tags + w.Phone
}

// Scorer computes similarity between two accounts as a weighted sum of
// per-field scores. Deterministic and side-effect free.
type Scorer struct {
	weights Weights
}

// NewScorer creates a new Scorer with the given weight table
func NewScorer(weights Weights) *Scorer {
	if weights.sum() <= 0 {
		weights = DefaultWeights()
	}
	return &Scorer{weights: weights}
}

// Criteria returns the field names the scorer compares, in weight order
func (s *Scorer) Criteria() []string {
	return []string{"name", "domain", "industry", "description", "tags", "phone"}
}

// Score returns a similarity score in [0,1] for two accounts.
// A field missing on either side contributes nothing: its weight is removed
// from the denominator rather than scored as a mismatch. An account always
// scores 1.0 against itself, even when every comparable field is empty.
func (s *Scorer) Score(a, b models.Account) float64 {
	if a.ID != "" && a.ID == b.ID {
		return 1.0
	}

	var weightedSum, totalWeight float64

	add := func(weight, score float64, present bool) {
		if !present || weight <= 0 {
			return
		}
		weightedSum += score * weight
		totalWeight += weight
	}

	nameA := normalizers.NormalizeCompanyName(a.Name)
	nameB := normalizers.NormalizeCompanyName(b.Name)
	add(s.weights.Name, s.JaroWinkler(nameA, nameB), nameA != "" && nameB != "")

	domainA := accountDomain(a)
	domainB := accountDomain(b)
	add(s.weights.Domain, s.ExactMatch(domainA, domainB, false), domainA != "" && domainB != "")

	add(s.weights.Industry, s.ExactMatch(a.Industry, b.Industry, false), a.Industry != "" && b.Industry != "")

	add(s.weights.Description, s.TokenSetRatio(a.Description, b.Description), a.Description != "" && b.Description != "")

	add(s.weights.Tags, s.Jaccard(a.Tags, b.Tags), len(a.Tags) > 0 && len(b.Tags) > 0)

	phoneA := normalizers.NormalizePhone(a.Phone)
	phoneB := normalizers.NormalizePhone(b.Phone)
	add(s.weights.Phone, s.ExactMatch(phoneA, phoneB, true), phoneA != "" && phoneB != "")

	if totalWeight == 0 {
		return 0.0
	}
	return weightedSum / totalWeight
}

// accountDomain resolves the comparable domain for an account, falling back
// to the website when the domain field is empty
func accountDomain(a models.Account) string {
	if d := normalizers.NormalizeDomain(a.Domain); d != "" {
		return d
	}
	return normalizers.NormalizeDomain(a.Website)
}

// ExactMatch returns 1.0 for exact match, 0.0 otherwise
func (s *Scorer) ExactMatch(a, b string, caseSensitive bool) float64 {
	if !caseSensitive {
		a = strings.ToLower(a)
		b = strings.ToLower(b)
	}
	if a == b {
		return 1.0
	}
	return 0.0
}

// JaroWinkler calculates the Jaro-Winkler similarity between two strings
// Returns a value between 0.0 (no similarity) and 1.0 (exact match)
func (s *Scorer) JaroWinkler(a, b string) float64 {
	if a == b {
		return 1.0
	}

	jaro := s.Jaro(a, b)

	// Winkler modification: boost for common prefix
	prefixLen := 0
	maxPrefix := 4
	for i := 0; i < len(a) && i < len(b) && i < maxPrefix; i++ {
		if a[i] == b[i] {
			prefixLen++
		} else {
			break
		}
	}

	// Winkler scaling factor is typically 0.1
	scalingFactor := 0.1
	return jaro + float64(prefixLen)*scalingFactor*(1.0-jaro)
}

// Jaro calculates the Jaro similarity between two strings
func (s *Scorer) Jaro(a, b string) float64 {
	if a == b {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}

	// Maximum distance for character matching
	matchDist := max(len(a), len(b))/2 - 1
	if matchDist < 0 {
		matchDist = 0
	}

	aMatches := make([]bool, len(a))
	bMatches := make([]bool, len(b))

	matches := 0
	transpositions := 0

	// Find matches
	for i := 0; i < len(a); i++ {
		start := max(0, i-matchDist)
		end := min(len(b), i+matchDist+1)

		for j := start; j < end; j++ {
			if bMatches[j] || a[i] != b[j] {
				continue
			}
			aMatches[i] = true
			bMatches[j] = true
			matches++
			break
		}
	}

	if matches == 0 {
		return 0.0
	}

	// Count transpositions
	k := 0
	for i := 0; i < len(a); i++ {
		if !aMatches[i] {
			continue
		}
		for !bMatches[k] {
			k++
		}
		if a[i] != b[k] {
			transpositions++
		}
		k++
	}

	m := float64(matches)
	t := float64(transpositions) / 2

	return (m/float64(len(a)) + m/float64(len(b)) + (m-t)/m) / 3
}

// Levenshtein calculates the Levenshtein distance between two strings
// Returns a similarity score between 0.0 and 1.0
func (s *Scorer) Levenshtein(a, b string) float64 {
	distance := s.LevenshteinDistance(a, b)
	maxLen := max(len(a), len(b))
	if maxLen == 0 {
		return 1.0
	}
	return 1.0 - float64(distance)/float64(maxLen)
}

// LevenshteinDistance calculates the edit distance between two strings
func (s *Scorer) LevenshteinDistance(a, b string) int {
	if a == b {
		return 0
	}
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	// Create two rows for dynamic programming
	row := make([]int, len(b)+1)
	prevRow := make([]int, len(b)+1)

	for j := 0; j <= len(b); j++ {
		prevRow[j] = j
	}

	for i := 1; i <= len(a); i++ {
		row[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 0
			if a[i-1] != b[j-1] {
				cost = 1
			}
			row[j] = min(min(row[j-1]+1, prevRow[j]+1), prevRow[j-1]+cost)
		}
		row, prevRow = prevRow, row
	}

	return prevRow[len(b)]
}

// TokenSetRatio calculates similarity between two free-text values by
// comparing their sorted unique token sets. Word order and repetition do not
// affect the result.
func (s *Scorer) TokenSetRatio(a, b string) float64 {
	tokensA := tokenize(a)
	tokensB := tokenize(b)

	if len(tokensA) == 0 || len(tokensB) == 0 {
		if len(tokensA) == 0 && len(tokensB) == 0 {
			return 1.0
		}
		return 0.0
	}

	intersection := make([]string, 0)
	diffA := make([]string, 0)
	diffB := make([]string, 0)

	inB := make(map[string]bool, len(tokensB))
	for _, t := range tokensB {
		inB[t] = true
	}
	inA := make(map[string]bool, len(tokensA))
	for _, t := range tokensA {
		inA[t] = true
	}

	for _, t := range tokensA {
		if inB[t] {
			intersection = append(intersection, t)
		} else {
			diffA = append(diffA, t)
		}
	}
	for _, t := range tokensB {
		if !inA[t] {
			diffB = append(diffB, t)
		}
	}

	base := strings.Join(intersection, " ")
	combinedA := strings.TrimSpace(base + " " + strings.Join(diffA, " "))
	combinedB := strings.TrimSpace(base + " " + strings.Join(diffB, " "))

	// Best of: intersection vs each combined string, and the two combined
	// strings against each other
	best := s.Levenshtein(base, combinedA)
	if r := s.Levenshtein(base, combinedB); r > best {
		best = r
	}
	if r := s.Levenshtein(combinedA, combinedB); r > best {
		best = r
	}
	return best
}

// Jaccard calculates the Jaccard similarity of two string sets
func (s *Scorer) Jaccard(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}

	setA := make(map[string]bool, len(a))
	for _, v := range a {
		setA[strings.ToLower(strings.TrimSpace(v))] = true
	}
	setB := make(map[string]bool, len(b))
	for _, v := range b {
		setB[strings.ToLower(strings.TrimSpace(v))] = true
	}

	intersection := 0
	for v := range setA {
		if setB[v] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection

	if union == 0 {
		return 0.0
	}
	return float64(intersection) / float64(union)
}

// tokenize splits free text into sorted unique lowercase tokens
func tokenize(s string) []string {
	fields := strings.Fields(strings.ToLower(s))
	seen := make(map[string]bool, len(fields))
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		f = normalizers.Alphanumeric(f)
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		tokens = append(tokens, f)
	}
	sort.Strings(tokens)
	return tokens
}
