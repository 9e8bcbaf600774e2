// Package jobqueue runs long provisioning work one job at a time, in the order
// it was submitted, while the submitter waits on a Handle.
package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gammadia/tca/namegen"
)

var ErrClosed = errors.New("job queue is shut down")

// Func is the body of a job.
type Func func(ctx context.Context) error

// Observer is notified about every job that settled.
type Observer interface {
	ObserveJob(kind string, waited, ran time.Duration, err error)
}

type Config struct {
	Logger   *slog.Logger
	Observer Observer
}

type Queue struct {
	config Config
	log    *slog.Logger
	ctx    context.Context

	input    chan *job
	finished chan *job
	stop     chan any
	stopOnce sync.Once
	stopped  chan any

	// Only touched by the Run goroutine
	shutdown bool
	queue    []*job
	running  *job

	length atomic.Int64
	busy   atomic.Bool
}

func New(config Config) *Queue {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Queue{
		config: config,
		log:    logger,
		ctx:    context.Background(),

		input:    make(chan *job),
		finished: make(chan *job),
		stop:     make(chan any),
		stopped:  make(chan any),
	}
}

// Enqueue appends a job to the queue and returns immediately. kind is a short
// label of the work ("deploy", "remove") and target what it works on.
func (q *Queue) Enqueue(kind, target string, fn Func) *Handle {
	j := &job{
		id:         namegen.Get(),
		kind:       kind,
		target:     target,
		fn:         fn,
		enqueuedAt: time.Now(),
		handle:     &Handle{done: make(chan struct{})},
	}
	j.log = q.log.With("job", j.id, "kind", kind, "target", target)

	select {
	case q.input <- j:
	case <-q.stopped:
		j.handle.settle(ErrClosed)
	}
	return j.handle
}

// Len returns the number of jobs waiting to be started.
func (q *Queue) Len() int {
	return int(q.length.Load())
}

// Busy reports whether a job is currently running.
func (q *Queue) Busy() bool {
	return q.busy.Load()
}

// Shutdown stops the queue: waiting jobs fail with ErrClosed, the running job
// is allowed to finish.
func (q *Queue) Shutdown() {
	q.stopOnce.Do(func() { close(q.stop) })
}

// Wait blocks until the queue has fully shut down.
func (q *Queue) Wait() {
	<-q.stopped
}

func (q *Queue) Run() {
	q.log.Info("Job queue is running")

	for {
		select {
		case j := <-q.input:
			if q.shutdown {
				j.log.Warn("Job queue is shutting down, rejecting job")
				j.handle.settle(ErrClosed)
				continue
			}
			j.log.Debug("Job queued", "position", len(q.queue))
			q.queue = append(q.queue, j)
			q.length.Store(int64(len(q.queue)))
			q.startNext()

		case <-q.finished:
			q.running = nil
			q.busy.Store(false)
			if q.shutdown {
				q.terminate()
				return
			}
			q.startNext()

		case <-q.stop:
			q.log.Info("Job queue is stopping", "pending", len(q.queue))
			q.shutdown = true
			q.stop = nil // a closed channel is always ready

			for _, j := range q.queue {
				j.handle.settle(ErrClosed)
			}
			q.queue = nil
			q.length.Store(0)

			if q.running == nil {
				q.terminate()
				return
			}
		}
	}
}

func (q *Queue) terminate() {
	q.log.Info("Job queue stopped")
	close(q.stopped)
}

// startNext starts the job at the head of the queue, unless one is already running.
// A job leaves the queue the moment it is started.
func (q *Queue) startNext() {
	if q.running != nil || len(q.queue) == 0 {
		return
	}

	j := q.queue[0]
	q.queue = q.queue[1:]
	q.length.Store(int64(len(q.queue)))

	q.running = j
	q.busy.Store(true)
	go q.execute(j)
}

func (q *Queue) execute(j *job) {
	startedAt := time.Now()
	waited := startedAt.Sub(j.enqueuedAt)
	j.log.Info("Job started", "waited", waited)

	err := j.run(q.ctx)
	ran := time.Since(startedAt)
	if err != nil {
		j.log.Error("Job failed", "error", err, "duration", ran)
	} else {
		j.log.Info("Job completed", "duration", ran)
	}

	if q.config.Observer != nil {
		q.config.Observer.ObserveJob(j.kind, waited, ran, err)
	}

	j.handle.settle(err)
	q.finished <- j
}

type job struct {
	id     namegen.ID
	kind   string
	target string
	fn     Func
	log    *slog.Logger
	handle *Handle

	enqueuedAt time.Time
}

func (j *job) run(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job '%s' panicked: %v", j.id, r)
		}
	}()
	return j.fn(ctx)
}
