package facematch

import (
	"context"
	"fmt"
	"time"
)

// MatchResult is the comparator's decision for one attempt.
type MatchResult struct {
	Score     float64
	Threshold float64
	Pass      bool
	Latency   time.Duration
}

// ErrorKind classifies a failed comparison.
type ErrorKind string

const (
	KindTimeout            ErrorKind = "timeout"
	KindServiceUnavailable ErrorKind = "service_unavailable"
	KindInvalidInput       ErrorKind = "invalid_input"
)

// MatchError is returned by Compare when the comparator could not produce a score.
type MatchError struct {
	Kind ErrorKind
	Err  error
}

func (e *MatchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("facematch %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("facematch %s", e.Kind)
}

func (e *MatchError) Unwrap() error {
	return e.Err
}

// Client exposes the comparison used by the verification flow.
type Client interface {
	Compare(ctx context.Context, imageA, imageB []byte, threshold float64) (*MatchResult, error)
}

// Decide applies the threshold law to a raw score. Scores outside [0,1] are
// clamped; the caller is expected to log the data-quality event.
func Decide(score, threshold float64) (clamped float64, pass bool) {
	clamped = score
	if clamped < 0 {
		clamped = 0
	}
	if clamped > 1 {
		clamped = 1
	}
	return clamped, clamped >= threshold
}
