// Package task runs background jobs whose outcome is only observable through
// logs. The reconciliation pipeline is dispatched here so a slow or failing
// credential store never delays the QR response.
package task

import (
	"context"
	"fmt"
	"sync"
	"time"

	"zalo-connector-go/internal/platform/logging"
)

// Job is one unit of background work. Returning an error requeues the job up
// to the dispatcher's retry limit.
type Job struct {
	Name    string
	Run     func(ctx context.Context) error
	retries int
}

// Dispatcher is a bounded worker pool with retry and a drain point: Stop
// waits for queued and in-flight jobs, so work submitted before shutdown is
// not silently dropped.
type Dispatcher struct {
	workers    int
	maxRetries int
	logger     *logging.Logger

	jobs     chan Job
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	inflight sync.WaitGroup

	mu      sync.Mutex
	stopped bool
}

func NewDispatcher(workers, queueSize, maxRetries int, logger *logging.Logger) *Dispatcher {
	if workers <= 0 {
		workers = 2
	}
	if queueSize <= 0 {
		queueSize = 16
	}
	if maxRetries < 0 {
		maxRetries = 0
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		workers:    workers,
		maxRetries: maxRetries,
		logger:     logger,
		jobs:       make(chan Job, queueSize),
		ctx:        ctx,
		cancel:     cancel,
	}

	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}

	return d
}

// Submit queues a job. It returns false when the dispatcher is stopped or
// the queue is full; the caller decides whether that is worth logging.
func (d *Dispatcher) Submit(job Job) bool {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return false
	}
	d.inflight.Add(1)
	d.mu.Unlock()

	select {
	case d.jobs <- job:
		return true
	default:
		d.inflight.Done()
		d.logger.WarnTag("task", "job queue full, dropping %s", job.Name)
		return false
	}
}

// Stop drains the queue: no new submissions are accepted and Stop returns
// once all queued and running jobs finished.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	d.mu.Unlock()

	d.inflight.Wait()
	d.cancel()
	close(d.jobs)
	d.wg.Wait()
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()

	for job := range d.jobs {
		d.execute(job)
		d.inflight.Done()
	}
}

func (d *Dispatcher) execute(job Job) {
	for {
		err := d.runOnce(job)
		if err == nil {
			return
		}

		job.retries++
		if job.retries > d.maxRetries {
			d.logger.ErrorTag("task", "%s failed after %d attempts: %v", job.Name, job.retries, err)
			return
		}

		backoff := time.Duration(job.retries) * time.Second
		d.logger.WarnTag("task", "%s failed (attempt %d), retrying in %s: %v",
			job.Name, job.retries, backoff, err)

		select {
		case <-time.After(backoff):
		case <-d.ctx.Done():
			d.logger.WarnTag("task", "%s abandoned during shutdown: %v", job.Name, err)
			return
		}
	}
}

// runOnce gives every job its own error boundary: a panicking job must not
// take down a worker.
func (d *Dispatcher) runOnce(job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return job.Run(d.ctx)
}
