package aggregate

import (
	"math"
	"sort"
)

// shareEpsilon absorbs float drift when comparing a share to its threshold.
const shareEpsilon = 1e-9

// Share is one member of a distribution: a label, its fraction of the total
// occurrence weight, and the score it maps to (when Scored).
type Share struct {
	Label  string
	Share  float64
	Score  float64
	Scored bool
}

// Controlling applies the percent rule. Shares are visited in descending
// order (ties: higher score, then label); the first scored share reaching
// threshold controls. ok is false when none qualifies.
func Controlling(shares []Share, threshold float64) (Share, bool) {
	for _, s := range Ranked(shares) {
		if s.Scored && s.Share+shareEpsilon >= threshold {
			return s, true
		}
	}
	return Share{}, false
}

// Ranked returns a copy of shares ordered by descending share, then
// descending score, then label.
func Ranked(shares []Share) []Share {
	out := append([]Share(nil), shares...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if math.Abs(a.Share-b.Share) > shareEpsilon {
			return a.Share > b.Share
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return a.Label < b.Label
	})
	return out
}

// Median returns the middle value, averaging the two middles for even counts.
func Median(xs []float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	s := append([]float64(nil), xs...)
	sort.Float64s(s)
	mid := len(s) / 2
	if len(s)%2 == 1 {
		return s[mid]
	}
	return (s[mid-1] + s[mid]) / 2
}
