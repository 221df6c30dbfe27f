package job

import (
	"testing"
	"time"

	"github.com/newthinker/tradecore/internal/core"
)

func TestStore_CreateAndGet(t *testing.T) {
	store := NewStore(100, time.Hour)

	job := store.Create("backtest", "sma_crossover")
	if job.ID == "" {
		t.Error("expected job ID")
	}
	if job.Status != StatusPending {
		t.Errorf("expected pending, got %s", job.Status)
	}

	retrieved, err := store.Get(job.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if retrieved.ID != job.ID || retrieved.Label != "sma_crossover" {
		t.Errorf("unexpected job: %+v", retrieved)
	}
}

func TestStore_Update(t *testing.T) {
	store := NewStore(100, time.Hour)
	job := store.Create("backtest", "")

	err := store.Update(job.ID, func(j *Job) {
		j.Status = StatusRunning
		j.Progress = 50
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	retrieved, _ := store.Get(job.ID)
	if retrieved.Status != StatusRunning {
		t.Errorf("expected running, got %s", retrieved.Status)
	}
	if retrieved.Progress != 50 {
		t.Errorf("expected 50, got %d", retrieved.Progress)
	}
}

func TestStore_DoneClosesOnce(t *testing.T) {
	store := NewStore(10, time.Hour)
	job := store.Create("backtest", "")
	done, err := store.Done(job.ID)
	if err != nil {
		t.Fatal(err)
	}

	select {
	case <-done:
		t.Fatal("done closed before the job finished")
	default:
	}

	_ = store.Update(job.ID, func(j *Job) { j.Status = StatusFailed })
	<-done

	// terminal jobs are frozen
	_ = store.Update(job.ID, func(j *Job) { j.Status = StatusComplete })
	got, _ := store.Get(job.ID)
	if got.Status != StatusFailed {
		t.Errorf("expected failed to stick, got %s", got.Status)
	}
}

func TestStore_MaxSize(t *testing.T) {
	store := NewStore(2, time.Hour)

	job1 := store.Create("backtest", "")
	store.Create("backtest", "")
	store.Create("backtest", "") // evicts job1

	if _, err := store.Get(job1.ID); err == nil {
		t.Error("expected job1 to be evicted")
	}
	if n := len(store.List()); n != 2 {
		t.Errorf("expected 2 jobs, got %d", n)
	}
}

func TestStore_Prune(t *testing.T) {
	store := NewStore(10, time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	finished := store.Create("backtest", "")
	_ = store.Update(finished.ID, func(j *Job) { j.Status = StatusComplete })
	running := store.Create("backtest", "")
	_ = store.Update(running.ID, func(j *Job) { j.Status = StatusRunning })

	now = now.Add(2 * time.Minute)
	if n := store.Prune(); n != 1 {
		t.Fatalf("expected 1 pruned job, got %d", n)
	}
	if _, err := store.Get(finished.ID); core.Code(err) != core.ErrNotFound.Code {
		t.Errorf("expected NOT_FOUND, got %v", err)
	}
	if _, err := store.Get(running.ID); err != nil {
		t.Errorf("running job must survive prune: %v", err)
	}
}
