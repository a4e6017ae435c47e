package settlement

import (
	"context"
	"sync"
)

// Supervisor keeps at most one running task per order.
type Supervisor struct {
	poller *Poller

	mu    sync.Mutex
	tasks map[string]*Task
	wg    sync.WaitGroup
}

func NewSupervisor(p *Poller) *Supervisor {
	return &Supervisor{
		poller: p,
		tasks:  make(map[string]*Task),
	}
}

// Watch starts polling orderID unless a task for it is already running, in
// which case the running task is returned and started is false.
func (s *Supervisor) Watch(ctx context.Context, orderID string, check Checker, notify NotifyFunc) (task *Task, started bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.tasks[orderID]; ok {
		select {
		case <-existing.Done():
		default:
			return existing, false
		}
	}

	s.wg.Add(1)
	var t *Task
	t = s.poller.Start(ctx, orderID, check, func(res Result) {
		s.mu.Lock()
		if s.tasks[orderID] == t {
			delete(s.tasks, orderID)
		}
		s.mu.Unlock()
		if notify != nil {
			notify(res)
		}
		s.wg.Done()
	})
	s.tasks[orderID] = t
	return t, true
}

// Cancel stops polling for one order without touching its state.
func (s *Supervisor) Cancel(orderID string) bool {
	s.mu.Lock()
	t, ok := s.tasks[orderID]
	s.mu.Unlock()
	if ok {
		t.Cancel()
	}
	return ok
}

func (s *Supervisor) CancelAll() {
	s.mu.Lock()
	tasks := make([]*Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	s.mu.Unlock()
	for _, t := range tasks {
		t.Cancel()
	}
}

func (s *Supervisor) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Wait blocks until every task started through Watch has finished.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}
