package validation

import (
	"math"
	"strings"

	"github.com/agnivade/levenshtein"
)

// DefaultFallbackThreshold is the minimum partial similarity (0-100) at which
// a response counts as the fallback answer.
const DefaultFallbackThreshold = 70

// IsFallbackResponse reports whether response is, or contains something close
// to, the fallback answer. Matching is case-insensitive.
func IsFallbackResponse(response, fallback string, threshold int) bool {
	if strings.TrimSpace(response) == "" || strings.TrimSpace(fallback) == "" {
		return false
	}
	if threshold <= 0 {
		threshold = DefaultFallbackThreshold
	}
	return PartialRatio(fallback, response) >= threshold
}

// PartialRatio scores how well the shorter string matches its best-aligned
// substring of the longer one, from 0 to 100.
func PartialRatio(a, b string) int {
	ar := []rune(strings.ToLower(strings.TrimSpace(a)))
	br := []rune(strings.ToLower(strings.TrimSpace(b)))
	if len(ar) == 0 || len(br) == 0 {
		return 0
	}
	short, long := ar, br
	if len(short) > len(long) {
		short, long = long, short
	}

	s := string(short)
	best := 0.0
	for i := 0; i+len(short) <= len(long); i++ {
		dist := levenshtein.ComputeDistance(s, string(long[i:i+len(short)]))
		score := 100 * (1 - float64(dist)/float64(len(short)))
		if score > best {
			best = score
			if best == 100 {
				break
			}
		}
	}
	return int(math.Round(best))
}
