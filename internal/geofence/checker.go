package geofence

import (
	"context"
	"fmt"
	"time"
)

// PositionSource provides the current terminal position.
type PositionSource interface {
	Position(ctx context.Context) (Position, error)
}

// Checker runs the geofence step of the recognition pipeline.
type Checker struct {
	policy  *Policy
	source  PositionSource
	timeout time.Duration
}

// NewChecker creates a checker. A zero timeout defaults to 10 seconds.
func NewChecker(policy *Policy, source PositionSource, timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Checker{policy: policy, source: source, timeout: timeout}
}

// Check verifies the terminal position for category. Categories that are not
// geofenced return (nil, nil): they pass with no location payload.
func (c *Checker) Check(ctx context.Context, category string) (*Verification, error) {
	if !c.policy.Enforced(category) {
		return nil, nil
	}
	if c.source == nil {
		return nil, fmt.Errorf("%w: no position source configured", ErrLocationUnavailable)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	pos, err := c.source.Position(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLocationUnavailable, err)
	}

	target, radius := c.policy.Target(category)
	return Verify(pos, target, radius)
}
