// Package facematch matches live face descriptors against enrolled identities.
// It is shared by the terminal recorder, the web handlers and the CLI.
package facematch

// Descriptor is a fixed-length face embedding produced by the extractor.
// The length is set by the extraction model and treated as opaque.
type Descriptor []float32

// Expressions maps an expression name ("happy", "neutral", ...) to its confidence.
type Expressions map[string]float64

// Enrolled is one (identity, descriptor) pair considered by Match.
type Enrolled struct {
	ID         string
	Descriptor Descriptor
}

// MatchResult is the outcome of a nearest-neighbour search.
type MatchResult struct {
	Matched     bool
	ID          string
	Distance    float64
	Confidence  float64 // (1 - distance) * 100, only meaningful when Matched
	EmptyRoster bool    // no enrolled descriptor was comparable with the probe
}
