package reactor

import (
	"runtime"
	"sync"

	"github.com/nautilus-net/reactor/rlog"
)

// InitCallback runs on the new loop's own thread just before it starts
// looping, letting a caller register channels or other per-loop state.
type InitCallback func(*EventLoop)

// LoopThread owns exactly one OS thread running exactly one EventLoop, the
// counterpart of muduo's EventLoopThread.
type LoopThread struct {
	log  *rlog.Logger
	init InitCallback

	mu   sync.Mutex
	loop *EventLoop
	done chan struct{}
}

// NewLoopThread creates a LoopThread; init may be nil.
func NewLoopThread(log *rlog.Logger, init InitCallback) *LoopThread {
	if log == nil {
		log = rlog.Nop()
	}
	return &LoopThread{log: log, init: init}
}

// Start spawns the OS thread, constructs its EventLoop, runs the init
// callback, and returns the loop once it is ready to accept work. It
// blocks until the new loop exists, matching EventLoopThread::startLoop's
// condition-variable handshake.
func (t *LoopThread) Start() *EventLoop {
	ready := make(chan *EventLoop, 1)
	t.done = make(chan struct{})

	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()

		loop := New(t.log)
		t.mu.Lock()
		t.loop = loop
		t.mu.Unlock()

		if t.init != nil {
			t.init(loop)
		}
		ready <- loop

		loop.Loop()

		loop.Close()
		close(t.done)
	}()

	return <-ready
}

// Stop asks the owned loop to quit and waits for its goroutine to return.
// Safe to call from any thread other than the loop's own.
func (t *LoopThread) Stop() {
	t.mu.Lock()
	loop := t.loop
	t.mu.Unlock()
	if loop == nil {
		return
	}
	loop.Quit()
	<-t.done
}
