package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/takoyadon/loyalty-ledger/pkg/logger"
)

var ErrStopped = errors.New("worker manager stopped")

type WorkerHandler[T any] func(ctx context.Context, workerIndex int, job T)

// WorkerManager distributes jobs from a buffered channel across a fixed number
// of goroutines. Jobs already buffered when Exit is called are still handled.
type WorkerManager[T any] struct {
	jobChannel     chan T
	numberOfWorker int
	do             WorkerHandler[T]
	waiter         sync.WaitGroup

	mu      sync.RWMutex
	stopped bool
}

func NewWorkerManager[T any](bufferSize, numberOfWorkers int, do WorkerHandler[T]) *WorkerManager[T] {
	if numberOfWorkers <= 0 {
		numberOfWorkers = 1
	}
	if bufferSize < 0 {
		bufferSize = 0
	}
	return &WorkerManager[T]{
		jobChannel:     make(chan T, bufferSize),
		numberOfWorker: numberOfWorkers,
		do:             do,
	}
}

// GetUnreadCount returns the number of buffered jobs not yet picked up.
func (w *WorkerManager[T]) GetUnreadCount() int64 {
	return int64(len(w.jobChannel))
}

// Start launches the workers and returns immediately. ctx is handed to every job.
func (w *WorkerManager[T]) Start(ctx context.Context) {
	w.waiter.Add(w.numberOfWorker)
	for i := 0; i < w.numberOfWorker; i++ {
		go func(index int) {
			defer w.waiter.Done()
			for job := range w.jobChannel {
				w.run(ctx, index, job)
			}
		}(i)
	}
}

func (w *WorkerManager[T]) run(ctx context.Context, index int, job T) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("[worker] job panicked", "worker", index, "panic", r)
		}
	}()
	w.do(ctx, index, job)
}

// TryEnqueue hands job to the pool without blocking. It reports false when the
// buffer is full or the manager has exited.
func (w *WorkerManager[T]) TryEnqueue(job T) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.stopped {
		return false
	}
	select {
	case w.jobChannel <- job:
		return true
	default:
		return false
	}
}

// Enqueue blocks until the job is buffered or ctx is done.
func (w *WorkerManager[T]) Enqueue(ctx context.Context, job T) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.stopped {
		return ErrStopped
	}
	select {
	case w.jobChannel <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Exit stops accepting jobs, drains the buffer and waits for the workers.
func (w *WorkerManager[T]) Exit() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	close(w.jobChannel)
	w.mu.Unlock()

	logger.Info("[worker] exit requested, draining jobs", "workers", w.numberOfWorker)
	w.waiter.Wait()
}
