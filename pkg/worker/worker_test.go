package worker

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerManager_ProcessesJobs(t *testing.T) {
	wm := NewWorkerManager(10, 3, nil)

	var processed atomic.Int64
	var wg sync.WaitGroup
	wg.Add(5)
	wm.SetWorker(func(_ int, job interface{}) {
		processed.Add(int64(job.(int)))
		wg.Done()
	})

	done := make(chan error, 1)
	go func() { done <- wm.Start() }()

	for i := 1; i <= 5; i++ {
		require.True(t, wm.Enqueue(i))
	}
	wg.Wait()
	assert.Equal(t, int64(15), processed.Load())

	wm.Exit()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrStopped)
	case <-time.After(time.Second):
		t.Fatal("workers did not stop")
	}
}

func TestWorkerManager_EnqueueAfterExit(t *testing.T) {
	wm := NewWorkerManager(1, 1, nil)
	wm.SetWorker(func(int, interface{}) {})
	wm.Exit()
	wm.Exit()

	assert.False(t, wm.Enqueue("late"))
}

func TestWorkerManager_StartWithoutHandler(t *testing.T) {
	wm := NewWorkerManager(1, 1, nil)
	assert.Error(t, wm.Start())
}
