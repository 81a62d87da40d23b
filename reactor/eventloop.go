// Package reactor is the per-thread driver: EventLoop wraps a
// Demultiplexer, dispatches ready channels, drains cross-thread tasks, and
// owns the wakeup fd; LoopThread and LoopThreadPool (pool.go) own the
// worker OS threads and round-robin across their loops. Together they are
// the direct counterpart of muduo's EventLoop/EventLoopThread/
// EventLoopThreadPool.
package reactor

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/nautilus-net/reactor/channel"
	"github.com/nautilus-net/reactor/internal/poller"
	"github.com/nautilus-net/reactor/rlog"
)

// defaultPollTimeout is the timeout passed to the demultiplexer's Poll on
// every iteration, matching muduo's kPollTimeMs.
const defaultPollTimeout = 10 * time.Second

// threadRegistry enforces "at most one EventLoop per OS thread" using a
// thread-id-keyed map under a process-wide lock, the substitute spec.md
// section 9 names for languages without a usable thread-local (Go has no
// exported per-goroutine/per-OS-thread storage).
var threadRegistry = struct {
	mu sync.Mutex
	m  map[int]*EventLoop
}{m: make(map[int]*EventLoop)}

// EventLoop is a per-OS-thread demultiplexing engine. A *EventLoop must be
// constructed on the OS thread that will run Loop — call
// runtime.LockOSThread() first (LoopThread.Start does this for worker
// loops; a bare single-threaded program must do it itself for its main
// loop before calling New).
type EventLoop struct {
	log      *rlog.Logger
	poller   *poller.Poller
	threadID int

	active []*channel.Channel

	wakeupFD      int
	wakeupChannel *channel.Channel

	mu                  sync.Mutex
	pending             []func()
	callingPendingTasks int32 // atomic bool

	looping int32 // atomic bool
	quit    int32 // atomic bool
}

// New constructs an EventLoop bound to the calling OS thread. It is fatal
// (per spec.md section 7's setup-error taxonomy) to construct a second
// EventLoop on the same OS thread, or to fail to create the epoll or
// eventfd instances.
func New(log *rlog.Logger) *EventLoop {
	if log == nil {
		log = rlog.Nop()
	}
	tid := unix.Gettid()

	threadRegistry.mu.Lock()
	if existing, ok := threadRegistry.m[tid]; ok {
		threadRegistry.mu.Unlock()
		log.Fatal("reactor: another EventLoop already exists on this thread",
			zap.Int("thread_id", tid), zap.Any("existing", existing))
	}
	threadRegistry.mu.Unlock()

	wakeupFD, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		log.Fatal("reactor: eventfd create failed", zap.Error(err))
	}

	l := &EventLoop{
		log:      log,
		poller:   poller.New(log),
		threadID: tid,
		wakeupFD: wakeupFD,
	}
	l.wakeupChannel = channel.New(l, wakeupFD)
	l.wakeupChannel.ReadFn = l.handleWakeupRead
	l.wakeupChannel.EnableReading()

	threadRegistry.mu.Lock()
	threadRegistry.m[tid] = l
	threadRegistry.mu.Unlock()

	log.Debug("reactor: EventLoop created", zap.Int("thread_id", tid))
	return l
}

// IsInLoopThread reports whether the calling goroutine is running on this
// loop's OS thread.
func (l *EventLoop) IsInLoopThread() bool { return unix.Gettid() == l.threadID }

func (l *EventLoop) assertInLoopThread(who string) {
	if !l.IsInLoopThread() {
		l.log.Fatal("reactor: called off the owning loop thread", zap.String("method", who))
	}
}

// Loop runs the event loop until Quit is called. It must be invoked only
// from the OS thread New was called on.
func (l *EventLoop) Loop() {
	l.assertInLoopThread("Loop")
	atomic.StoreInt32(&l.looping, 1)
	atomic.StoreInt32(&l.quit, 0)
	l.log.Info("reactor: loop starting", zap.Int("thread_id", l.threadID))

	for atomic.LoadInt32(&l.quit) == 0 {
		l.active = l.active[:0]
		pollReturnTime := l.poller.Poll(int(defaultPollTimeout/time.Millisecond), &l.active)
		for _, ch := range l.active {
			ch.HandleEvent(pollReturnTime)
		}
		l.doPendingTasks()
	}

	l.log.Info("reactor: loop stopped", zap.Int("thread_id", l.threadID))
	atomic.StoreInt32(&l.looping, 0)
}

// Quit asks the loop to stop after its current iteration. Safe from any
// thread.
func (l *EventLoop) Quit() {
	atomic.StoreInt32(&l.quit, 1)
	if !l.IsInLoopThread() {
		l.wakeup()
	}
}

// RunInLoop executes task immediately if called on the loop thread, else
// queues it via QueueInLoop.
func (l *EventLoop) RunInLoop(task func()) {
	if l.IsInLoopThread() {
		task()
		return
	}
	l.QueueInLoop(task)
}

// QueueInLoop always enqueues task, waking the loop thread when the
// caller is off-thread or when the loop is currently draining its task
// queue (so a task enqueued by another task is seen on the next poll
// rather than the current drain).
func (l *EventLoop) QueueInLoop(task func()) {
	l.mu.Lock()
	l.pending = append(l.pending, task)
	l.mu.Unlock()

	if !l.IsInLoopThread() || atomic.LoadInt32(&l.callingPendingTasks) == 1 {
		l.wakeup()
	}
}

func (l *EventLoop) doPendingTasks() {
	atomic.StoreInt32(&l.callingPendingTasks, 1)
	l.mu.Lock()
	tasks := l.pending
	l.pending = nil
	l.mu.Unlock()

	for _, t := range tasks {
		t()
	}
	atomic.StoreInt32(&l.callingPendingTasks, 0)
}

func (l *EventLoop) wakeup() {
	b := make([]byte, 8)
	putUint64(b, 1)
	n, err := unix.Write(l.wakeupFD, b)
	if err != nil || n != 8 {
		l.log.Error("reactor: wakeup write did not write 8 bytes", zap.Int("n", n), zap.Error(err))
	}
}

func (l *EventLoop) handleWakeupRead(time.Time) {
	b := make([]byte, 8)
	n, err := unix.Read(l.wakeupFD, b)
	if err != nil || n != 8 {
		l.log.Error("reactor: wakeup read did not read 8 bytes", zap.Int("n", n), zap.Error(err))
	}
}

// UpdateChannel forwards to the demultiplexer. Loop-thread only.
func (l *EventLoop) UpdateChannel(ch *channel.Channel) {
	l.assertInLoopThread("UpdateChannel")
	l.poller.UpdateChannel(ch)
}

// RemoveChannel forwards to the demultiplexer. Loop-thread only.
func (l *EventLoop) RemoveChannel(ch *channel.Channel) {
	l.assertInLoopThread("RemoveChannel")
	l.poller.RemoveChannel(ch)
}

// HasChannel forwards to the demultiplexer. Loop-thread only.
func (l *EventLoop) HasChannel(ch *channel.Channel) bool {
	l.assertInLoopThread("HasChannel")
	return l.poller.HasChannel(ch)
}

// Close tears down the wakeup channel and closes the wakeup and epoll
// fds, and releases this thread's registry slot. Call only after Loop has
// returned.
func (l *EventLoop) Close() error {
	l.wakeupChannel.DisableAll()
	l.wakeupChannel.Remove()
	unix.Close(l.wakeupFD)
	err := l.poller.Close()

	threadRegistry.mu.Lock()
	delete(threadRegistry.m, l.threadID)
	threadRegistry.mu.Unlock()
	return err
}

func (l *EventLoop) String() string {
	return fmt.Sprintf("EventLoop{thread=%d}", l.threadID)
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}
