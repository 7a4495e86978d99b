package orchestrator

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

type fakeExecutor struct {
	err   error
	calls int32
}

func (f *fakeExecutor) ExecuteSheet(ctx context.Context, job *Job) error {
	atomic.AddInt32(&f.calls, 1)
	return f.err
}

func TestTryDispatchRetryBudgetSpent(t *testing.T) {
	executor := &fakeExecutor{}
	o, _ := NewOrchestrator(1, executor)
	o.retryTicker.Stop()
	defer o.pool.Release()

	job := &Job{
		Sheet:      "Sheet1",
		RetryCount: 1,
		MaxRetries: 1,
		Timeout:    10 * time.Millisecond,
	}

	o.tryDispatch(job)

	if got := o.retryQueue.Len(); got != 0 {
		t.Fatalf("retry queue should be empty, got %d", got)
	}
	if atomic.LoadInt32(&executor.calls) != 0 {
		t.Fatalf("executor should not be called, got %d", executor.calls)
	}
	if job.RetryCount != 1 {
		t.Fatalf("retry count should remain 1, got %d", job.RetryCount)
	}
}

func TestTryDispatchRunsJob(t *testing.T) {
	executor := &fakeExecutor{}
	o, _ := NewOrchestrator(1, executor)
	o.retryTicker.Stop()
	defer o.pool.Release()

	job := &Job{
		Sheet:      "Sheet2",
		RetryCount: 0,
		MaxRetries: 1,
		Timeout:    10 * time.Millisecond,
	}

	o.tryDispatch(job)

	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		if atomic.LoadInt32(&executor.calls) > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := o.retryQueue.Len(); got != 0 {
		t.Fatalf("retry queue should be empty, got %d", got)
	}
	if atomic.LoadInt32(&executor.calls) != 1 {
		t.Fatalf("executor should be called once, got %d", executor.calls)
	}
}

func TestExecuteJobStopsOnTimeout(t *testing.T) {
	executor := &fakeExecutor{err: context.DeadlineExceeded}
	o, _ := NewOrchestrator(1, executor)
	o.retryTicker.Stop()
	defer o.pool.Release()

	job := &Job{
		Sheet:      "Sheet3",
		RetryCount: 0,
		MaxRetries: 3,
		Timeout:    50 * time.Millisecond,
	}

	start := time.Now()
	o.executeJob(job)
	elapsed := time.Since(start)

	if atomic.LoadInt32(&executor.calls) != 1 {
		t.Fatalf("executor should be called once, got %d", executor.calls)
	}
	if elapsed > 500*time.Millisecond {
		t.Fatalf("executeJob took too long: %v", elapsed)
	}
}

func TestNewBatchJobCoversWholeSpreadsheet(t *testing.T) {
	job := NewBatchJob("spreadsheet-1")

	if job.Sheet != "" {
		t.Fatalf("batch job should carry no sheet name, got %q", job.Sheet)
	}
	if got := job.key(); got != "batch:spreadsheet-1" {
		t.Fatalf("unexpected registry key: %q", got)
	}
	single := NewSheetJob("spreadsheet-1", "Sheet1")
	if job.Timeout <= single.Timeout {
		t.Fatalf("batch timeout %v should exceed the single-sheet timeout %v", job.Timeout, single.Timeout)
	}
}

func TestCancelSheetUnknown(t *testing.T) {
	o, _ := NewOrchestrator(1, &fakeExecutor{})
	o.retryTicker.Stop()
	defer o.pool.Release()

	if o.CancelSheet("missing") {
		t.Fatalf("cancel of unknown sheet should report false")
	}
}
