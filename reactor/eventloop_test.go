package reactor

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEventLoopRunInLoopFromForeignGoroutineRunsOnLoopThread(t *testing.T) {
	th := NewLoopThread(nil, nil)
	loop := th.Start()
	defer th.Stop()

	done := make(chan struct{})
	loop.RunInLoop(func() {
		require.True(t, loop.IsInLoopThread())
		close(done)
	})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunInLoop task did not run")
	}
}

func TestEventLoopQueueInLoopRunsOnForeignCall(t *testing.T) {
	th := NewLoopThread(nil, nil)
	loop := th.Start()
	defer th.Stop()

	var ran int32
	var mu sync.Mutex
	done := make(chan struct{})
	loop.QueueInLoop(func() {
		mu.Lock()
		ran++
		mu.Unlock()
		close(done)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("QueueInLoop task did not run")
	}
	mu.Lock()
	require.Equal(t, int32(1), ran)
	mu.Unlock()
}

func TestEventLoopQuitStopsTheLoop(t *testing.T) {
	th := NewLoopThread(nil, nil)
	loop := th.Start()

	start := time.Now()
	loop.Quit()
	th.Stop()
	require.Less(t, time.Since(start), 2*time.Second)
}

func TestIndependentLoopThreadsGetDistinctLoops(t *testing.T) {
	// Each LoopThread locks its goroutine to its own OS thread before
	// constructing its EventLoop, so two LoopThreads never collide in the
	// per-OS-thread registry New enforces.
	th1 := NewLoopThread(nil, nil)
	loop1 := th1.Start()
	defer th1.Stop()
	require.NotNil(t, loop1)

	th2 := NewLoopThread(nil, nil)
	loop2 := th2.Start()
	defer th2.Stop()
	require.NotNil(t, loop2)
	require.NotEqual(t, loop1, loop2)
}
