package inmemory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/jobs"
)

func TestStore_SaveAndGetReturnCopies(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	job := &jobs.Job{JobID: "j1", Type: jobs.JobTypeSnapshotBalances, OwnerID: "o", Status: jobs.JobStatusPending}
	if err := s.SaveJob(ctx, job); err != nil {
		t.Fatalf("SaveJob() error = %v", err)
	}
	job.Status = jobs.JobStatusFailed

	got, err := s.GetJob(ctx, "j1")
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if got.Status != jobs.JobStatusPending {
		t.Errorf("stored job changed through caller pointer: %s", got.Status)
	}

	if err := s.SaveJob(ctx, &jobs.Job{}); err == nil {
		t.Error("SaveJob() without id should fail")
	}
	if _, err := s.GetJob(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("GetJob(missing) error = %v, want ErrNotFound", err)
	}
}

func TestStore_ListJobs(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	seed := []*jobs.Job{
		{JobID: "a", OwnerID: "o1", Type: jobs.JobTypeImportStatement, Status: jobs.JobStatusCompleted, CreatedAt: base},
		{JobID: "b", OwnerID: "o1", Type: jobs.JobTypeRecalculateBalance, Status: jobs.JobStatusFailed, CreatedAt: base.Add(time.Minute)},
		{JobID: "c", OwnerID: "o1", Type: jobs.JobTypeImportStatement, Status: jobs.JobStatusPending, CreatedAt: base.Add(2 * time.Minute)},
		{JobID: "d", OwnerID: "o2", Type: jobs.JobTypeImportStatement, Status: jobs.JobStatusPending, CreatedAt: base.Add(3 * time.Minute)},
	}
	for _, j := range seed {
		if err := s.SaveJob(ctx, j); err != nil {
			t.Fatalf("SaveJob() error = %v", err)
		}
	}

	tests := []struct {
		name   string
		filter jobs.JobFilter
		want   []string
	}{
		{"owner newest first", jobs.JobFilter{OwnerID: "o1"}, []string{"c", "b", "a"}},
		{"type", jobs.JobFilter{OwnerID: "o1", Type: jobs.JobTypeImportStatement}, []string{"c", "a"}},
		{"status", jobs.JobFilter{Status: jobs.JobStatusPending}, []string{"d", "c"}},
		{"paged", jobs.JobFilter{OwnerID: "o1", Limit: 1, Offset: 1}, []string{"b"}},
		{"offset past end", jobs.JobFilter{OwnerID: "o1", Offset: 10}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListJobs(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListJobs() error = %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d jobs, want %d", len(got), len(tt.want))
			}
			for i, id := range tt.want {
				if got[i].JobID != id {
					t.Errorf("job %d = %s, want %s", i, got[i].JobID, id)
				}
			}
		})
	}
}

func TestStore_UpdateJobStatus(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	_ = s.SaveJob(ctx, &jobs.Job{JobID: "j1", Status: jobs.JobStatusRunning})

	if err := s.UpdateJobStatus(ctx, "j1", jobs.JobStatusFailed, "boom"); err != nil {
		t.Fatalf("UpdateJobStatus() error = %v", err)
	}
	got, _ := s.GetJob(ctx, "j1")
	if got.Status != jobs.JobStatusFailed || got.Error != "boom" {
		t.Errorf("got %+v", got)
	}
	if err := s.UpdateJobStatus(ctx, "missing", jobs.JobStatusFailed, ""); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("UpdateJobStatus(missing) error = %v, want ErrNotFound", err)
	}
}
