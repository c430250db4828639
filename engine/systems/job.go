package systems

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/spaghettifunk/reflex/engine/core"
	"github.com/spaghettifunk/reflex/engine/renderer/schedule"
)

// Job runs on a worker and receives that worker's producer identity, so it
// can push into any scheduler the worker is registered with.
type Job func(threadID schedule.ThreadID) error

type jobTask struct {
	run        Job
	onComplete func(err error)
}

type JobSystem struct {
	numWorkers int
	threads    []schedule.ThreadID
	jobQueue   chan jobTask
	wg         sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

var ErrNoWorkers = fmt.Errorf("attempting to create worker pool with less than 1 worker")
var ErrNegativeChannelSize = fmt.Errorf("attempting to create worker pool with a negative channel size")
var ErrJobSystemClosed = errors.New("job system is shut down")

func NewJobSystem(numWorkers int, channelSize int) (*JobSystem, error) {
	if numWorkers <= 0 {
		return nil, ErrNoWorkers
	}
	if channelSize < 0 {
		return nil, ErrNegativeChannelSize
	}

	js := &JobSystem{
		numWorkers: numWorkers,
		threads:    make([]schedule.ThreadID, numWorkers),
		jobQueue:   make(chan jobTask, channelSize),
	}
	for i := range js.threads {
		js.threads[i] = schedule.NewThreadID()
	}

	js.start()

	return js, nil
}

func (js *JobSystem) start() {
	for i := 0; i < js.numWorkers; i++ {
		threadID := js.threads[i]
		js.wg.Add(1)
		go func() {
			defer js.wg.Done()
			for job := range js.jobQueue {
				err := job.run(threadID)
				if err != nil {
					core.LogError(err.Error())
				}
				if job.onComplete != nil {
					job.onComplete(err)
				}
			}
		}()
	}
}

// Threads returns the producer identity of every worker. Register each one
// with the schedulers the jobs push into before submitting work.
func (js *JobSystem) Threads() []schedule.ThreadID {
	out := make([]schedule.ThreadID, len(js.threads))
	copy(out, js.threads)
	return out
}

/**
 * @brief Shuts the job system down. Queued jobs still run.
 */
func (js *JobSystem) Shutdown() error {
	js.mu.Lock()
	if js.closed {
		js.mu.Unlock()
		return nil
	}
	js.closed = true
	close(js.jobQueue)
	js.mu.Unlock()

	js.wg.Wait()
	return nil
}

/**
 * @brief Submits the provided job to be queued for execution. Blocks while
 * the queue is full. onComplete may be nil.
 */
func (js *JobSystem) Submit(job Job, onComplete func(err error)) error {
	js.mu.RLock()
	defer js.mu.RUnlock()
	if js.closed {
		return ErrJobSystemClosed
	}
	js.jobQueue <- jobTask{run: job, onComplete: onComplete}
	return nil
}

// RunBatch queues every job and waits until all of them ran. The returned
// error joins the errors of the failed jobs. When ctx ends first, RunBatch
// stops waiting but jobs already queued still run.
func (js *JobSystem) RunBatch(ctx context.Context, jobs []Job) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	onComplete := func(err error) {
		if err != nil {
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}
		wg.Done()
	}

	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			return err
		}
		wg.Add(1)
		if err := js.Submit(job, onComplete); err != nil {
			wg.Done()
			return err
		}
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	mu.Lock()
	defer mu.Unlock()
	return errors.Join(errs...)
}
