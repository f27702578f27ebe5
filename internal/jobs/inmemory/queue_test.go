package inmemory

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/jobs"
)

// waitForStatus polls the store until the job reaches want or the deadline passes.
func waitForStatus(t *testing.T, s *Store, jobID string, want jobs.JobStatus) *jobs.Job {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		job, err := s.GetJob(context.Background(), jobID)
		if err == nil && job.Status == want {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	job, _ := s.GetJob(context.Background(), jobID)
	t.Fatalf("job %s never reached %s, last state %+v", jobID, want, job)
	return nil
}

func newTestQueue(s *Store) *Queue {
	q := NewQueue(10, 2, s)
	q.SetBackoff(func(int) time.Duration { return time.Millisecond })
	return q
}

func TestQueue_ProcessesJob(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := NewStore()
	q := newTestQueue(s)
	defer q.Close()

	if err := q.Start(ctx, func(ctx context.Context, job *jobs.Job) error { return nil }); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	job := &jobs.Job{Type: jobs.JobTypeSnapshotBalances, OwnerID: "owner"}
	if err := q.Publish(ctx, job); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if job.JobID == "" {
		t.Fatal("Publish() should assign a job id")
	}
	if job.MaxRetries != jobs.DefaultMaxRetries {
		t.Errorf("MaxRetries = %d, want %d", job.MaxRetries, jobs.DefaultMaxRetries)
	}

	done := waitForStatus(t, s, job.JobID, jobs.JobStatusCompleted)
	if done.StartedAt == nil || done.CompletedAt == nil {
		t.Errorf("expected timestamps, got %+v", done)
	}
}

func TestQueue_RetriesTransientFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := NewStore()
	q := newTestQueue(s)
	defer q.Close()

	var calls int32
	handler := func(ctx context.Context, job *jobs.Job) error {
		if atomic.AddInt32(&calls, 1) < 3 {
			return errors.New("temporary outage")
		}
		return nil
	}
	if err := q.Start(ctx, handler); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	job := &jobs.Job{Type: jobs.JobTypeRecalculateBalance, OwnerID: "owner", AccountID: "acc-1"}
	if err := q.Publish(ctx, job); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	done := waitForStatus(t, s, job.JobID, jobs.JobStatusCompleted)
	if done.RetryCount != 2 {
		t.Errorf("RetryCount = %d, want 2", done.RetryCount)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("handler calls = %d, want 3", got)
	}
}

func TestQueue_GivesUpAfterMaxRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := NewStore()
	q := newTestQueue(s)
	q.SetMaxRetries(1)
	defer q.Close()

	var calls int32
	handler := func(ctx context.Context, job *jobs.Job) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("still down")
	}
	if err := q.Start(ctx, handler); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	job := &jobs.Job{Type: jobs.JobTypeSnapshotBalances, OwnerID: "owner"}
	if err := q.Publish(ctx, job); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	failed := waitForStatus(t, s, job.JobID, jobs.JobStatusFailed)
	if failed.Error != "still down" {
		t.Errorf("Error = %q", failed.Error)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("handler calls = %d, want 2", got)
	}
}

func TestQueue_PermanentFailureNotRetried(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := NewStore()
	q := newTestQueue(s)
	defer q.Close()

	var calls int32
	handler := func(ctx context.Context, job *jobs.Job) error {
		atomic.AddInt32(&calls, 1)
		return domain.NotFound("account", job.AccountID)
	}
	if err := q.Start(ctx, handler); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	job := &jobs.Job{Type: jobs.JobTypeRecalculateBalance, OwnerID: "owner", AccountID: "gone"}
	if err := q.Publish(ctx, job); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	failed := waitForStatus(t, s, job.JobID, jobs.JobStatusFailed)
	if failed.RetryCount != 0 {
		t.Errorf("RetryCount = %d, want 0", failed.RetryCount)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("handler calls = %d, want 1", got)
	}
}

func TestQueue_PublishValidatesAndRejectsAfterClose(t *testing.T) {
	q := newTestQueue(NewStore())

	err := q.Publish(context.Background(), &jobs.Job{Type: jobs.JobTypeImportStatement, OwnerID: "owner"})
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("Publish() error = %v, want ErrInvalidInput", err)
	}

	if err := q.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := q.Publish(context.Background(), &jobs.Job{Type: jobs.JobTypeSnapshotBalances, OwnerID: "owner"}); err == nil {
		t.Error("Publish() after Close should fail")
	}
	if err := q.Start(context.Background(), func(context.Context, *jobs.Job) error { return nil }); err == nil {
		t.Error("Start() after Close should fail")
	}
}
