package facematch

// ExpressionHappy is the expression key checked by SmilePolicy.
const ExpressionHappy = "happy"

// LivenessPolicy decides whether a detection comes from a live subject.
type LivenessPolicy interface {
	IsLive(expressions Expressions) bool
}

// SmilePolicy passes when the "happy" confidence reaches MinHappy (inclusive).
type SmilePolicy struct {
	MinHappy float64
}

func (p SmilePolicy) IsLive(expressions Expressions) bool {
	return expressions[ExpressionHappy] >= p.MinHappy
}

// LivenessFunc adapts a plain function to LivenessPolicy.
type LivenessFunc func(Expressions) bool

func (f LivenessFunc) IsLive(expressions Expressions) bool {
	return f(expressions)
}
