package overlap

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/MrWong99/captioncore/pkg/captiontypes"
	"github.com/antzucaro/matchr"
)

// normalize strips punctuation and case-folds, per spec §4.5's
// textSimilarity definition.
func normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			continue
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// truncateRunes returns the first n runes of s.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}

// jaccardCharSimilarity is the quick-reject check of spec §4.5 step 4: the
// Jaccard index over the two strings' character sets.
func jaccardCharSimilarity(a, b string) float64 {
	setA := charSet(a)
	setB := charSet(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 1
	}
	small, large := setA, setB
	if len(large) < len(small) {
		small, large = large, small
	}
	inter := 0
	for r := range small {
		if _, ok := large[r]; ok {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func charSet(s string) map[rune]struct{} {
	set := make(map[rune]struct{}, len(s))
	for _, r := range normalize(s) {
		if r == ' ' {
			continue
		}
		set[r] = struct{}{}
	}
	return set
}

// textSimilarity computes 1 − levenshtein(normalize(a), normalize(b)) /
// max(|a|,|b|) over at most maxLen characters, per spec §4.5. Returns 0 when
// the two normalized strings differ in rune length by more than 50%.
func textSimilarity(a, b string, maxLen int) float64 {
	na := truncateRunes(normalize(a), maxLen)
	nb := truncateRunes(normalize(b), maxLen)

	la, lb := utf8.RuneCountInString(na), utf8.RuneCountInString(nb)
	if la == 0 && lb == 0 {
		return 1
	}
	longer, shorter := la, lb
	if lb > la {
		longer, shorter = lb, la
	}
	if shorter == 0 || float64(shorter)/float64(longer) < 0.5 {
		return 0
	}

	dist := matchr.Levenshtein(na, nb)
	return 1 - float64(dist)/float64(longer)
}

// timeOverlapRatio is overlap(p,c) / min(len(p), len(c)), per spec §4.5.
func timeOverlapRatio(p, c captiontypes.Segment) float64 {
	start := p.StartSec
	if c.StartSec > start {
		start = c.StartSec
	}
	end := p.EndSec
	if c.EndSec < end {
		end = c.EndSec
	}
	overlap := end - start
	if overlap <= 0 {
		return 0
	}
	pLen := p.EndSec - p.StartSec
	cLen := c.EndSec - c.StartSec
	minLen := pLen
	if cLen < minLen {
		minLen = cLen
	}
	if minLen <= 0 {
		return 0
	}
	return overlap / minLen
}
