package record

import (
	"errors"
	"time"
)

// Status is the lifecycle state of a verification record. A record is created
// pending and transitions to exactly one terminal status.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusTimedOut  Status = "timed_out"
)

// Terminal reports whether a status admits no further transition.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusTimedOut
}

var (
	// ErrNotFound indicates no record exists for the given id.
	ErrNotFound = errors.New("record: not found")
	// ErrConflict indicates a second resolution attempted a different outcome.
	ErrConflict = errors.New("record: conflicting resolution")
)

// VerificationRecord is the durable row for one verification attempt.
// Match fields (Score, Threshold, Pass, MatchLatencyMs) are populated exactly
// when Status is completed.
type VerificationRecord struct {
	ID             string     `gorm:"primaryKey;size:36"`
	SubjectID      string     `gorm:"column:subject_id;size:64;index"`
	ImageKeyA      string     `gorm:"column:image_key_a;size:64"`
	ImageKeyB      string     `gorm:"column:image_key_b;size:64"`
	Status         Status     `gorm:"column:status;size:16;index"`
	Score          float64    `gorm:"column:score"`
	Threshold      float64    `gorm:"column:threshold"`
	Pass           bool       `gorm:"column:pass"`
	MatchLatencyMs int64      `gorm:"column:match_latency_ms"`
	FailureReason  string     `gorm:"column:failure_reason;type:text"`
	CreatedAt      time.Time  `gorm:"column:created_at"`
	ResolvedAt     *time.Time `gorm:"column:resolved_at"`
}

// TableName overrides the default table name.
func (VerificationRecord) TableName() string {
	return "verification_records"
}

// Outcome is a terminal resolution for a record.
type Outcome struct {
	Status         Status
	Score          float64
	Threshold      float64
	Pass           bool
	MatchLatencyMs int64
	FailureReason  string
}

// CompletedOutcome builds the outcome for a successful comparison.
func CompletedOutcome(score, threshold float64, pass bool, latency time.Duration) Outcome {
	return Outcome{
		Status:         StatusCompleted,
		Score:          score,
		Threshold:      threshold,
		Pass:           pass,
		MatchLatencyMs: latency.Milliseconds(),
	}
}

// FailedOutcome builds the outcome for a non-timeout failure.
func FailedOutcome(reason string) Outcome {
	return Outcome{Status: StatusFailed, FailureReason: reason}
}

// TimedOutOutcome builds the outcome for an exhausted comparator deadline.
func TimedOutOutcome(reason string) Outcome {
	return Outcome{Status: StatusTimedOut, FailureReason: reason}
}

// Matches reports whether an already-persisted record carries this outcome.
// Used to distinguish an idempotent re-resolution from a conflicting one.
func (o Outcome) Matches(rec *VerificationRecord) bool {
	if rec.Status != o.Status {
		return false
	}
	if o.Status == StatusCompleted {
		return rec.Score == o.Score && rec.Pass == o.Pass && rec.Threshold == o.Threshold
	}
	return rec.FailureReason == o.FailureReason
}
