package record

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/example/face-verify/internal/logging"
)

type transientTestError struct{}

func (transientTestError) Error() string   { return "transient" }
func (transientTestError) Timeout() bool   { return true }
func (transientTestError) Temporary() bool { return true }

func testStore() *Store {
	return &Store{
		logger:         zap.NewNop(),
		retryAttempts:  3,
		initialBackoff: time.Millisecond,
		maxBackoff:     2 * time.Millisecond,
	}
}

func TestExecuteWithRetryRetriesTransientErrors(t *testing.T) {
	store := testStore()

	attempts := 0
	err := store.executeWithRetry(context.Background(), "test.operation", "rec-1", func() error {
		attempts++
		if attempts < 2 {
			return transientTestError{}
		}
		return nil
	})

	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestExecuteWithRetryReturnsOperationError(t *testing.T) {
	store := testStore()
	store.retryAttempts = 2

	attempts := 0
	err := store.executeWithRetry(context.Background(), "test.operation", "rec-2", func() error {
		attempts++
		return errors.New("boom")
	})

	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}

	var opErr *logging.OperationError
	if !errors.As(err, &opErr) {
		t.Fatalf("expected OperationError, got %T", err)
	}
	if opErr.Operation != "test.operation" {
		t.Fatalf("unexpected operation: %s", opErr.Operation)
	}
	if opErr.RecordID != "rec-2" {
		t.Fatalf("unexpected record id: %s", opErr.RecordID)
	}
}

func TestResolveRejectsNonTerminalOutcome(t *testing.T) {
	store := testStore()

	_, err := store.Resolve(context.Background(), "rec-3", Outcome{Status: StatusPending})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}
