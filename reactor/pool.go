package reactor

import "github.com/nautilus-net/reactor/rlog"

// LoopThreadPool owns the worker threads a TcpServer round-robins
// connections across, the counterpart of muduo's EventLoopThreadPool. A
// pool of size zero runs everything on the base loop.
type LoopThreadPool struct {
	log      *rlog.Logger
	baseLoop *EventLoop
	numLoops int

	started bool
	threads []*LoopThread
	loops   []*EventLoop
	next    int // only ever touched from baseLoop's thread
}

// NewLoopThreadPool binds a pool to the loop that will run the
// server's Acceptor (the "main" loop in spec.md's vocabulary).
func NewLoopThreadPool(log *rlog.Logger, baseLoop *EventLoop) *LoopThreadPool {
	if log == nil {
		log = rlog.Nop()
	}
	return &LoopThreadPool{log: log, baseLoop: baseLoop}
}

// SetNumThreads configures how many worker threads Start will create. Must
// be called before Start.
func (p *LoopThreadPool) SetNumThreads(n int) { p.numLoops = n }

// Start spawns numLoops worker threads (or none, if numLoops is zero,
// which leaves every connection dispatched to baseLoop), running initCB on
// each newly created loop before it starts looping. initCB may be nil.
func (p *LoopThreadPool) Start(initCB InitCallback) {
	if p.started {
		return
	}
	p.started = true

	for i := 0; i < p.numLoops; i++ {
		th := NewLoopThread(p.log, initCB)
		loop := th.Start()
		p.threads = append(p.threads, th)
		p.loops = append(p.loops, loop)
	}

	if p.numLoops == 0 && initCB != nil {
		initCB(p.baseLoop)
	}
}

// GetNextLoop returns the next worker loop in round-robin order, or
// baseLoop if the pool has no worker threads. Must be called from
// baseLoop's own thread (it is only ever called from the Acceptor's
// new-connection path, which runs there).
func (p *LoopThreadPool) GetNextLoop() *EventLoop {
	if len(p.loops) == 0 {
		return p.baseLoop
	}
	loop := p.loops[p.next]
	p.next = (p.next + 1) % len(p.loops)
	return loop
}

// GetAllLoops returns every loop this pool dispatches to: just baseLoop
// for a pool with no worker threads, else all the worker loops.
func (p *LoopThreadPool) GetAllLoops() []*EventLoop {
	if len(p.loops) == 0 {
		return []*EventLoop{p.baseLoop}
	}
	out := make([]*EventLoop, len(p.loops))
	copy(out, p.loops)
	return out
}

// Stop stops every worker thread in the pool. baseLoop is not touched; the
// caller owns its lifecycle.
func (p *LoopThreadPool) Stop() {
	for _, th := range p.threads {
		th.Stop()
	}
}
