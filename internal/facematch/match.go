package facematch

import (
	"fmt"
	"math"
)

// EuclideanDistance returns the L2 distance between two descriptors.
// Descriptors of different length have no defined distance and return +Inf.
func EuclideanDistance(a, b Descriptor) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Match finds the enrolled descriptor nearest to probe by linear scan.
// A distance equal to the threshold is a match. When several entries share the
// minimum distance the first one seen wins. Entries without a descriptor or with
// a descriptor of a different length are skipped.
func Match(probe Descriptor, enrolled []Enrolled, threshold float64) MatchResult {
	best := MatchResult{Distance: math.Inf(1)}
	compared := 0

	for _, e := range enrolled {
		if len(e.Descriptor) == 0 || len(e.Descriptor) != len(probe) {
			continue
		}
		compared++
		if d := EuclideanDistance(probe, e.Descriptor); d < best.Distance {
			best.Distance = d
			best.ID = e.ID
		}
	}

	if compared == 0 {
		return MatchResult{EmptyRoster: true, Distance: math.Inf(1)}
	}
	if best.Distance <= threshold {
		best.Matched = true
		best.Confidence = (1 - best.Distance) * 100
	}
	return best
}

// FormatConfidence renders a confidence value the way the terminal shows it ("60.00").
func FormatConfidence(c float64) string {
	return fmt.Sprintf("%.2f", c)
}
