package worker

import (
	"errors"
	"sync"

	"github.com/nimasrn/sponsorship-gateway/pkg/logger"
)

var ErrStopped = errors.New("workers terminated")

type WorkerHandler = func(workerIndex int, job interface{})

type WorkerManager struct {
	bufferSize     int
	jobChannel     chan interface{}
	numberOfWorker int
	stop           chan struct{}
	stopOnce       sync.Once
	do             WorkerHandler
	waiter         *sync.WaitGroup
}

// NewWorkerManager
// is a job manager based on go routines. Define the number of internal
// workers, and start publishing jobs using Enqueue. It will distribute the
// jobs among its internal pool. Workers keep listening until Exit is called;
// the job channel is never closed because it may be shared with the caller.
func NewWorkerManager(bufferSize, numberOfWorkers int, jobChannel chan interface{}) *WorkerManager {
	if jobChannel == nil {
		jobChannel = make(chan interface{}, bufferSize)
	}
	if numberOfWorkers <= 0 {
		numberOfWorkers = 1
	}

	return &WorkerManager{
		bufferSize:     bufferSize,
		numberOfWorker: numberOfWorkers,
		jobChannel:     jobChannel,
		stop:           make(chan struct{}),
		waiter:         &sync.WaitGroup{},
	}
}

func (w *WorkerManager) GetUnreadCount() int64 {
	if w.jobChannel == nil {
		return 0
	}
	return int64(len(w.jobChannel))
}

func (w *WorkerManager) SetWorker(worker WorkerHandler) {
	w.do = worker
}

// Enqueue
// Publishes a job onto the channel. It returns false once the manager has
// been stopped, so producers never block on a dead pool.
func (w *WorkerManager) Enqueue(val interface{}) bool {
	select {
	case <-w.stop:
		return false
	default:
	}

	select {
	case w.jobChannel <- val:
		return true
	case <-w.stop:
		return false
	}
}

// Start
// starts off the workers as many as defined by numberOfWorker and blocks
// until Exit is called and every worker returned.
func (w *WorkerManager) Start() error {
	if w.do == nil {
		return errors.New("worker handler is not set")
	}

	w.waiter.Add(w.numberOfWorker)
	for i := 0; i < w.numberOfWorker; i++ {
		go func(index int) {
			defer w.waiter.Done()
			for {
				select {
				case job := <-w.jobChannel:
					w.do(index, job)
				case <-w.stop:
					return
				}
			}
		}(i)
	}
	w.waiter.Wait()

	return ErrStopped
}

// Exit
// stops every worker after its current job. Safe to call more than once.
func (w *WorkerManager) Exit() {
	w.stopOnce.Do(func() {
		logger.Info("worker manager is shutting down", "workers", w.numberOfWorker, "unread", w.GetUnreadCount())
		close(w.stop)
	})
}
