package attendance

import (
	"context"
	"errors"
	"sync"

	log "github.com/sirupsen/logrus"
)

// ErrQueueClosed is returned for writes submitted after Close.
var ErrQueueClosed = errors.New("attendance: write queue closed")

// writeJob is one check-then-insert sequence.
type writeJob struct {
	ctx      context.Context
	run      func(ctx context.Context) (*Decision, error)
	resultCh chan writeResult
}

type writeResult struct {
	decision *Decision
	err      error
}

// writeQueue runs jobs one at a time in submission order on a single worker, so a
// duplicate check and the insert that follows cannot interleave with another write
// from this device.
type writeQueue struct {
	jobs     chan *writeJob
	shutdown chan struct{}
	done     chan struct{}
	once     sync.Once
}

func newWriteQueue(buffer int) *writeQueue {
	q := &writeQueue{
		jobs:     make(chan *writeJob, buffer),
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}
	go q.worker()
	return q
}

func (q *writeQueue) worker() {
	defer close(q.done)
	for {
		select {
		case job := <-q.jobs:
			// The caller may have given up while the job was queued.
			if err := job.ctx.Err(); err != nil {
				job.resultCh <- writeResult{err: err}
				continue
			}
			decision, err := job.run(job.ctx)
			job.resultCh <- writeResult{decision: decision, err: err}
		case <-q.shutdown:
			log.Debug("Attendance write queue stopped")
			return
		}
	}
}

// submit enqueues run and waits for its result.
func (q *writeQueue) submit(ctx context.Context, run func(ctx context.Context) (*Decision, error)) (*Decision, error) {
	job := &writeJob{
		ctx:      ctx,
		run:      run,
		resultCh: make(chan writeResult, 1), // Buffered so the worker never blocks on a gone caller
	}

	select {
	case <-q.shutdown:
		return nil, ErrQueueClosed
	default:
	}

	select {
	case q.jobs <- job:
	case <-q.shutdown:
		return nil, ErrQueueClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case result := <-job.resultCh:
		return result.decision, result.err
	case <-q.done:
		// Worker stopped with the job still queued.
		select {
		case result := <-job.resultCh:
			return result.decision, result.err
		default:
			return nil, ErrQueueClosed
		}
	}
}

// close stops the worker after the job in progress.
func (q *writeQueue) close() {
	q.once.Do(func() {
		close(q.shutdown)
	})
	<-q.done
}
