package jsorb

// ObjectMatch scores how badly a JSON value fits an expected in-memory
// type. Zero means a perfect fit; higher values mean the serializer had to
// stretch (for example parsing a number out of a string). The method
// resolver aggregates these scores to rank overloaded candidates.
type ObjectMatch struct {
	mismatch int
}

// The shared confidence constants. Serializers report one of these from
// TryUnmarshal; anything they cannot consume at all is an error, not a
// match.
var (
	MatchOkay           = ObjectMatch{0}
	MatchSimilar        = ObjectMatch{1}
	MatchRoughlySimilar = ObjectMatch{2}
)

// Mismatch returns the numeric mismatch score.
func (m ObjectMatch) Mismatch() int {
	return m.mismatch
}

// Max returns the match with the larger mismatch, i.e. the weaker of the
// two fits.
func (m ObjectMatch) Max(o ObjectMatch) ObjectMatch {
	if o.mismatch > m.mismatch {
		return o
	}

	return m
}
