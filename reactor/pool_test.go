package reactor

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoopThreadPoolWithNoWorkersReturnsBaseLoop(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	base := New(nil)
	defer base.Close()

	pool := NewLoopThreadPool(nil, base)
	pool.Start(nil)
	defer pool.Stop()

	require.Equal(t, base, pool.GetNextLoop())
	require.Equal(t, []*EventLoop{base}, pool.GetAllLoops())
}

func TestLoopThreadPoolRoundRobinsAcrossWorkers(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	base := New(nil)
	defer base.Close()

	pool := NewLoopThreadPool(nil, base)
	pool.SetNumThreads(3)
	pool.Start(nil)
	defer pool.Stop()

	all := pool.GetAllLoops()
	require.Len(t, all, 3)

	seen := make([]*EventLoop, 6)
	for i := range seen {
		seen[i] = pool.GetNextLoop()
	}
	require.Equal(t, all[0], seen[0])
	require.Equal(t, all[1], seen[1])
	require.Equal(t, all[2], seen[2])
	require.Equal(t, all[0], seen[3])
	require.Equal(t, all[1], seen[4])
	require.Equal(t, all[2], seen[5])
}

func TestLoopThreadPoolStartIsIdempotent(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	base := New(nil)
	defer base.Close()

	pool := NewLoopThreadPool(nil, base)
	pool.SetNumThreads(2)
	pool.Start(nil)
	defer pool.Stop()
	pool.Start(nil)
	require.Len(t, pool.GetAllLoops(), 2)
}
