package scheduler

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type countingJob struct {
	runs atomic.Int32
}

func (j *countingJob) Name() string { return "counting" }

func (j *countingJob) Run() error {
	j.runs.Add(1)
	return nil
}

func TestAddJobRejectsBadSpec(t *testing.T) {
	s := New(zerolog.Nop())
	if err := s.AddJob("not a cron spec", &countingJob{}); err == nil {
		t.Fatal("invalid cron spec must be rejected at registration")
	}
}

func TestScheduledJobRuns(t *testing.T) {
	s := New(zerolog.Nop())
	job := &countingJob{}
	// Six-field spec firing every second.
	if err := s.AddJob("* * * * * *", job); err != nil {
		t.Fatalf("AddJob: %v", err)
	}

	s.Start()
	defer s.Stop()

	deadline := time.After(3 * time.Second)
	for job.runs.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("job did not fire within 3s")
		case <-time.After(50 * time.Millisecond):
		}
	}
}
