package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"k8s.io/klog/v2"
)

// Job is one unit of work to process end-to-end. A job with Sheet set
// covers a single sheet; a job with Sheet empty covers the whole
// spreadsheet, bounded by MaxArticles. It carries everything the
// executor needs so the orchestrator stays free of service dependencies.
type Job struct {
	SpreadsheetID       string
	Sheet               string
	ImageMode           string
	Force               bool
	MaxArticles         int
	MasterSpreadsheetID string
	KeywordColumn       string
	URLColumn           string

	EnqueuedAt time.Time
	RetryCount int
	MaxRetries int
	Timeout    time.Duration
}

// key identifies the job in the cancellation registry. Batch jobs span
// a whole spreadsheet and have no single sheet name.
func (j *Job) key() string {
	if j.Sheet != "" {
		return j.Sheet
	}
	return "batch:" + j.SpreadsheetID
}

// SheetExecutor runs one job, either a single sheet or a whole-spreadsheet
// batch. Implemented by an adapter over the article service to avoid an
// import cycle.
type SheetExecutor interface {
	ExecuteSheet(ctx context.Context, job *Job) error
}

// Orchestrator dispatches sheet jobs onto a bounded worker pool. One worker
// owns one sheet end-to-end; concurrency exists only across sheets.
type Orchestrator struct {
	jobQueue    *jobQueue
	retryQueue  *jobQueue
	retryTicker *time.Ticker

	pool *ants.Pool

	executor SheetExecutor

	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once

	activeCancellations map[string]context.CancelFunc
	cancelMutex         sync.Mutex
}

var (
	ErrOrchestratorStopped = errors.New("orchestrator is stopped")
	ErrQueueFull           = errors.New("job queue is full")
)

// NewSheetJob builds a job with the default retry budget and a generous
// timeout; a full pipeline run with serialized image generation can take
// many minutes.
func NewSheetJob(spreadsheetID, sheet string) *Job {
	return &Job{
		SpreadsheetID: spreadsheetID,
		Sheet:         sheet,
		EnqueuedAt:    time.Now(),
		RetryCount:    0,
		MaxRetries:    3,
		Timeout:       30 * time.Minute,
	}
}

// NewBatchJob builds a whole-spreadsheet job. The timeout covers many
// sequential sheet runs, so it is far above the single-sheet budget.
// Rerunning a batch is safe: sheets already marked processed are skipped.
func NewBatchJob(spreadsheetID string) *Job {
	return &Job{
		SpreadsheetID: spreadsheetID,
		EnqueuedAt:    time.Now(),
		RetryCount:    0,
		MaxRetries:    3,
		Timeout:       4 * time.Hour,
	}
}

func NewOrchestrator(maxWorkers int, executor SheetExecutor) (*Orchestrator, error) {
	ctx, cancel := context.WithCancel(context.Background())

	jobQ := newJobQueue(120)
	retryQ := newJobQueue(120)

	pool, err := ants.NewPool(maxWorkers,
		ants.WithNonblocking(false),
		ants.WithMaxBlockingTasks(1000),
		ants.WithExpiryDuration(5*time.Minute),
	)
	if err != nil {
		cancel()
		klog.Errorf("ants pool initialization failed: %v", err)
		return nil, err
	}

	return &Orchestrator{
		jobQueue:            jobQ,
		retryQueue:          retryQ,
		retryTicker:         time.NewTicker(500 * time.Millisecond),
		pool:                pool,
		activeCancellations: make(map[string]context.CancelFunc),
		executor:            executor,
		ctx:                 ctx,
		cancel:              cancel,
	}, nil
}

func (o *Orchestrator) Start() {
	go o.dispatchLoop()
	go o.processRetryQueue()
}

// Stop drains the queues, then waits for in-flight sheet runs to finish.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() {
		klog.V(6).Infof("Orchestrator stopping...")

		o.cancel()
		o.jobQueue.Close()
		o.retryQueue.Close()

		for {
			if o.jobQueue.Len() == 0 && o.retryQueue.Len() == 0 {
				break
			}
			time.Sleep(100 * time.Millisecond)
			klog.V(6).Infof("Waiting for queues to empty: main=%d, retry=%d", o.jobQueue.Len(), o.retryQueue.Len())
		}

		runningJobs := o.pool.Running()
		if runningJobs > 0 {
			klog.V(6).Infof("Waiting for %d running jobs to complete (timeout: 35min)", runningJobs)
		}

		// covers the 30 minute per-job timeout with margin
		timeout := 35 * time.Minute
		if err := o.pool.ReleaseTimeout(timeout); err == nil {
			klog.V(6).Infof("All running jobs completed before timeout")
		} else {
			klog.Warningf("Timeout after %v: some running jobs may be forced to stop", timeout)
		}

		klog.V(6).Infof("Orchestrator stopped completely")
	})
}

func (o *Orchestrator) EnqueueJob(job *Job) error {
	select {
	case <-o.ctx.Done():
		return ErrOrchestratorStopped
	default:
	}

	if err := o.jobQueue.Enqueue(job); err != nil {
		if errors.Is(err, ErrQueueFull) {
			klog.Warningf("Job queue full: job=%s", job.key())
		}
		return err
	}
	klog.V(6).Infof("Job enqueued: job=%s", job.key())
	return nil
}

func (o *Orchestrator) EnqueueBatch(jobs []*Job) error {
	var failed int
	for _, job := range jobs {
		if err := o.EnqueueJob(job); err != nil {
			klog.Warningf("Batch enqueue failed for job=%s: %v", job.key(), err)
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("failed to enqueue %d jobs (total %d)", failed, len(jobs))
	}
	return nil
}

func (o *Orchestrator) registerCancel(sheet string, cancel context.CancelFunc) {
	o.cancelMutex.Lock()
	defer o.cancelMutex.Unlock()
	o.activeCancellations[sheet] = cancel
}

func (o *Orchestrator) unregisterCancel(sheet string) {
	o.cancelMutex.Lock()
	defer o.cancelMutex.Unlock()
	delete(o.activeCancellations, sheet)
}

// CancelSheet aborts a running sheet job. The sheet keeps whatever status
// was last durably written; a forced rerun restarts it cleanly.
func (o *Orchestrator) CancelSheet(sheet string) bool {
	o.cancelMutex.Lock()
	cancel, ok := o.activeCancellations[sheet]
	o.cancelMutex.Unlock()
	if !ok {
		return false
	}

	klog.V(6).Infof("Cancelling sheet job: sheet=%s", sheet)
	cancel()
	return true
}

func (o *Orchestrator) dispatchLoop() {
	for {
		select {
		case <-o.ctx.Done():
			return
		default:
			job, ok := o.jobQueue.Dequeue()
			if !ok {
				continue
			}
			o.tryDispatch(job)
		}
	}
}

func (o *Orchestrator) processRetryQueue() {
	defer o.retryTicker.Stop()
	defer func() {
		if r := recover(); r != nil {
			klog.Errorf("Retry queue loop panic recovered: %v", r)
		}
	}()
	for {
		select {
		case <-o.ctx.Done():
			return
		case <-o.retryTicker.C:
			for range 10 {
				job, ok := o.retryQueue.Dequeue()
				if !ok {
					break
				}
				func() {
					defer func() {
						if r := recover(); r != nil {
							klog.Errorf("Retry dispatch panic: job=%s, err=%v", job.key(), r)
						}
					}()
					o.tryDispatch(job)
				}()
			}
		}
	}
}

// tryDispatch submits the job to the pool, parking it on the retry queue
// when the pool rejects it.
func (o *Orchestrator) tryDispatch(job *Job) {
	if job.MaxRetries <= 0 || job.RetryCount >= job.MaxRetries {
		klog.Warningf("Job retry budget spent, dropping: job=%s, retry=%d/%d", job.key(), job.RetryCount, job.MaxRetries)
		return
	}

	if err := o.pool.Submit(func() {
		o.executeJob(job)
	}); err == nil {
		return
	} else {
		klog.Errorf("Pool submit failed: job=%s, err=%v", job.key(), err)
	}

	job.RetryCount++
	if err := o.retryQueue.Enqueue(job); err != nil {
		klog.Errorf("Retry enqueue failed: job=%s, err=%v", job.key(), err)
	}
}

// executeJob owns the retry loop for one job: exponential backoff between
// attempts, bounded by the job's budget and timeout.
func (o *Orchestrator) executeJob(job *Job) {
	defer func() {
		if r := recover(); r != nil {
			klog.Errorf("Job panic recovered: job=%s, err=%v", job.key(), r)
			o.unregisterCancel(job.key())
		}
	}()

	timeout := job.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	ctx, cancel := context.WithTimeout(o.ctx, timeout)
	defer cancel()
	runCtx, manualCancel := context.WithCancel(ctx)
	defer manualCancel()

	o.registerCancel(job.key(), manualCancel)
	defer o.unregisterCancel(job.key())

	for i := job.RetryCount; i < job.MaxRetries; i++ {
		job.RetryCount = i

		err := o.executor.ExecuteSheet(runCtx, job)
		if err == nil {
			klog.V(6).Infof("Job completed: job=%s", job.key())
			return
		}

		backoff := time.Second << i
		if backoff > 20*time.Minute {
			backoff = 20 * time.Minute
		}

		klog.Warningf("Job attempt failed: job=%s, retry=%d/%d, err=%v, backoff=%v",
			job.key(), i+1, job.MaxRetries, err, backoff)

		select {
		case <-runCtx.Done():
			klog.Warningf("Job cancelled or timed out: job=%s", job.key())
			return
		case <-time.After(backoff):
		}
	}

	klog.Errorf("Job failed after all retries: job=%s", job.key())
}

type QueueStatus struct {
	QueueLength   int `json:"queue_length"`
	ActiveWorkers int `json:"active_workers"`
}

func (o *Orchestrator) GetQueueStatus() *QueueStatus {
	return &QueueStatus{
		QueueLength:   o.jobQueue.Len(),
		ActiveWorkers: o.pool.Running(),
	}
}

// jobQueue is a bounded FIFO that rejects new work when full.
type jobQueue struct {
	maxSize int
	items   []*Job
	mutex   sync.Mutex
	cond    *sync.Cond
	closed  bool
}

func newJobQueue(maxSize int) *jobQueue {
	q := &jobQueue{
		maxSize: maxSize,
		items:   make([]*Job, 0, maxSize),
	}
	q.cond = sync.NewCond(&q.mutex)
	return q
}

func (q *jobQueue) Enqueue(job *Job) error {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	if q.closed {
		return ErrOrchestratorStopped
	}
	if q.maxSize > 0 && len(q.items) >= q.maxSize {
		return ErrQueueFull
	}
	q.items = append(q.items, job)
	q.cond.Signal()
	return nil
}

func (q *jobQueue) Dequeue() (*Job, bool) {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return nil, false
	}
	job := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return job, true
}

func (q *jobQueue) Len() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return len(q.items)
}

func (q *jobQueue) Close() {
	q.mutex.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mutex.Unlock()
}

var (
	globalOrchestrator *Orchestrator
	orchestratorOnce   sync.Once
)

func InitGlobalOrchestrator(maxWorkers int, executor SheetExecutor) error {
	var initErr error
	orchestratorOnce.Do(func() {
		orch, err := NewOrchestrator(maxWorkers, executor)
		if err != nil {
			initErr = err
			return
		}
		globalOrchestrator = orch
		globalOrchestrator.Start()
		klog.V(6).Infof("Global orchestrator initialized: maxWorkers=%d", maxWorkers)
	})
	return initErr
}

func GetGlobalOrchestrator() *Orchestrator {
	return globalOrchestrator
}

func ShutdownGlobalOrchestrator() {
	if globalOrchestrator != nil {
		globalOrchestrator.Stop()
		klog.V(6).Infof("Global orchestrator shutdown")
	}
}
