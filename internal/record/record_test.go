package record

import (
	"testing"
	"time"
)

func TestStatusTerminal(t *testing.T) {
	if StatusPending.Terminal() {
		t.Fatal("pending must not be terminal")
	}
	for _, s := range []Status{StatusCompleted, StatusFailed, StatusTimedOut} {
		if !s.Terminal() {
			t.Fatalf("expected %s to be terminal", s)
		}
	}
}

func TestOutcomeMatchesIdenticalCompletion(t *testing.T) {
	outcome := CompletedOutcome(0.82, 0.6, true, 120*time.Millisecond)
	rec := &VerificationRecord{Status: StatusCompleted, Score: 0.82, Threshold: 0.6, Pass: true}
	if !outcome.Matches(rec) {
		t.Fatal("expected identical completion to match")
	}
}

func TestOutcomeRejectsDivergentCompletion(t *testing.T) {
	outcome := CompletedOutcome(0.82, 0.6, true, 0)
	rec := &VerificationRecord{Status: StatusCompleted, Score: 0.4, Threshold: 0.6, Pass: false}
	if outcome.Matches(rec) {
		t.Fatal("expected divergent scores to conflict")
	}
}

func TestOutcomeRejectsDifferentTerminalStatus(t *testing.T) {
	outcome := TimedOutOutcome("facematch timeout")
	rec := &VerificationRecord{Status: StatusFailed, FailureReason: "facematch timeout"}
	if outcome.Matches(rec) {
		t.Fatal("expected different statuses to conflict")
	}
}

func TestOutcomeMatchesIdenticalFailure(t *testing.T) {
	outcome := FailedOutcome("facematch unavailable")
	rec := &VerificationRecord{Status: StatusFailed, FailureReason: "facematch unavailable"}
	if !outcome.Matches(rec) {
		t.Fatal("expected identical failure to match")
	}
}
