// Package fuzzy relocates text whose position can no longer be trusted.
//
// Strings are normalized (NFKC, case folded, whitespace collapsed) and
// compared with the Ratcliff/Obershelp ratio 2*M/T, where M is the number
// of runes in matching blocks and T the total rune count of both strings.
// A score of 1 means identical after normalization.
package fuzzy

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/Mschirtzinger/tasksync/internal/core"
)

// DefaultThreshold is the minimum score accepted by a zero Matcher.
const DefaultThreshold = 0.75

var folder = cases.Fold()

// Normalize returns the comparison form of s.
func Normalize(s string) string {
	s = norm.NFKC.String(s)
	s = folder.String(s)
	return strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " ")
}

// Ratio returns the similarity of a and b after normalization, in [0, 1].
func Ratio(a, b string) float64 {
	return ratio([]rune(Normalize(a)), []rune(Normalize(b)))
}

func ratio(a, b []rune) float64 {
	total := len(a) + len(b)
	if total == 0 {
		return 1
	}
	return 2 * float64(matchingRunes(a, b)) / float64(total)
}

// matchingRunes sums the sizes of the matching blocks found by repeatedly
// taking the longest common substring and recursing on both sides of it.
func matchingRunes(a, b []rune) int {
	type span struct{ alo, ahi, blo, bhi int }
	stack := []span{{0, len(a), 0, len(b)}}
	matched := 0
	for len(stack) > 0 {
		s := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		i, j, k := longestMatch(a, b, s.alo, s.ahi, s.blo, s.bhi)
		if k == 0 {
			continue
		}
		matched += k
		if s.alo < i && s.blo < j {
			stack = append(stack, span{s.alo, i, s.blo, j})
		}
		if i+k < s.ahi && j+k < s.bhi {
			stack = append(stack, span{i + k, s.ahi, j + k, s.bhi})
		}
	}
	return matched
}

// longestMatch finds the longest common substring of a[alo:ahi] and
// b[blo:bhi]. Ties go to the earliest start in a, then in b.
func longestMatch(a, b []rune, alo, ahi, blo, bhi int) (besti, bestj, bestk int) {
	besti, bestj = alo, blo
	prev := make([]int, bhi-blo+1)
	cur := make([]int, bhi-blo+1)
	for i := alo; i < ahi; i++ {
		for j := blo; j < bhi; j++ {
			if a[i] == b[j] {
				k := prev[j-blo] + 1
				cur[j-blo+1] = k
				if k > bestk {
					besti, bestj, bestk = i-k+1, j-k+1, k
				}
			} else {
				cur[j-blo+1] = 0
			}
		}
		prev, cur = cur, prev
	}
	return besti, bestj, bestk
}

// Match is one scored candidate.
type Match struct {
	Index int
	Score float64
}

// Rank scores every candidate against target, best first. Equal scores keep
// candidate order.
func Rank(target string, candidates []string) []Match {
	t := []rune(Normalize(target))
	out := make([]Match, len(candidates))
	for i, c := range candidates {
		out[i] = Match{Index: i, Score: ratio(t, []rune(Normalize(c)))}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// Matcher selects the best candidate above a threshold.
type Matcher struct {
	Threshold float64
}

// NewMatcher returns a matcher; a non-positive threshold uses DefaultThreshold.
func NewMatcher(threshold float64) Matcher {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return Matcher{Threshold: threshold}
}

func (m Matcher) threshold() float64 {
	if m.Threshold <= 0 {
		return DefaultThreshold
	}
	return m.Threshold
}

// Best returns the highest scoring candidate. When several candidates share
// the top score, prefer (if non-nil) picks among their indexes. It fails
// with core.ErrLowConfidenceMatch when no candidate reaches the threshold;
// the returned Match still carries the best score seen.
func (m Matcher) Best(target string, candidates []string, prefer func(tied []int) int) (Match, error) {
	if len(candidates) == 0 {
		return Match{Index: -1}, fmt.Errorf("no candidates: %w", core.ErrLowConfidenceMatch)
	}
	ranked := Rank(target, candidates)
	best := ranked[0]
	if best.Score < m.threshold() {
		return best, fmt.Errorf("best score %.2f below threshold %.2f: %w", best.Score, m.threshold(), core.ErrLowConfidenceMatch)
	}
	if prefer != nil {
		var tied []int
		for _, r := range ranked {
			if r.Score != best.Score {
				break
			}
			tied = append(tied, r.Index)
		}
		if len(tied) > 1 {
			best.Index = prefer(tied)
		}
	}
	return best, nil
}
