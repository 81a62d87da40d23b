// Package poller is the Demultiplexer: a thin wrapper over epoll plus the
// fd→Channel registry that keeps a Channel's registration-state tag in
// sync with the kernel. It is the direct counterpart of muduo's
// EPollPoller.
package poller

import (
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/nautilus-net/reactor/channel"
	"github.com/nautilus-net/reactor/rlog"
)

const initEventListSize = 16

// Poller owns one epoll instance and the map of fds it knows about. All
// of its methods are loop-thread-only, per spec.md section 5.
type Poller struct {
	epfd     int
	events   []unix.EpollEvent
	channels map[int]*channel.Channel
	log      *rlog.Logger
}

// New creates an epoll instance. Failure is a setup error and fatal,
// matching EPollPoller's constructor.
func New(log *rlog.Logger) *Poller {
	if log == nil {
		log = rlog.Nop()
	}
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		log.Fatal("poller: epoll_create1 failed", zap.Error(err))
	}
	return &Poller{
		epfd:     fd,
		events:   make([]unix.EpollEvent, initEventListSize),
		channels: make(map[int]*channel.Channel),
		log:      log,
	}
}

// Close releases the epoll fd.
func (p *Poller) Close() error {
	return unix.Close(p.epfd)
}

// Poll blocks for up to timeoutMs on epoll_wait, appends every ready
// channel to active (after clearing it is the caller's job, matching
// EventLoop::loop's "activeChannels_.clear()" before each poll), and
// returns the time poll returned. EINTR is not an error; the ready-event
// slice doubles in size whenever a call fills it completely.
func (p *Poller) Poll(timeoutMs int, active *[]*channel.Channel) time.Time {
	for {
		n, err := unix.EpollWait(p.epfd, p.events, timeoutMs)
		now := time.Now()
		if n > 0 {
			for i := 0; i < n; i++ {
				fd := int(p.events[i].Fd)
				ch, ok := p.channels[fd]
				if !ok {
					continue
				}
				ch.SetRevents(int32(p.events[i].Events))
				*active = append(*active, ch)
			}
			if n == len(p.events) {
				p.events = make([]unix.EpollEvent, len(p.events)*2)
			}
			return now
		}
		if n == 0 {
			return now
		}
		if err == unix.EINTR {
			continue
		}
		p.log.Error("poller: epoll_wait failed", zap.Error(err))
		return now
	}
}

// UpdateChannel registers or updates ch's interest set, per the
// registration-state transition table in spec.md section 4.2.
func (p *Poller) UpdateChannel(ch *channel.Channel) {
	switch ch.State() {
	case channel.Unregistered:
		p.channels[ch.Fd()] = ch
		ch.SetState(channel.Registered)
		p.ctl(unix.EPOLL_CTL_ADD, ch)
	case channel.DeregisteredButKnown:
		ch.SetState(channel.Registered)
		p.ctl(unix.EPOLL_CTL_ADD, ch)
	case channel.Registered:
		if ch.IsNoneEvent() {
			p.ctl(unix.EPOLL_CTL_DEL, ch)
			ch.SetState(channel.DeregisteredButKnown)
		} else {
			p.ctl(unix.EPOLL_CTL_MOD, ch)
		}
	}
}

// RemoveChannel erases ch from the fd map and, if it was registered,
// issues a DEL.
func (p *Poller) RemoveChannel(ch *channel.Channel) {
	delete(p.channels, ch.Fd())
	if ch.State() == channel.Registered {
		p.ctl(unix.EPOLL_CTL_DEL, ch)
	}
	ch.SetState(channel.Unregistered)
}

// HasChannel reports whether ch is currently tracked by this poller.
func (p *Poller) HasChannel(ch *channel.Channel) bool {
	found, ok := p.channels[ch.Fd()]
	return ok && found == ch
}

func (p *Poller) ctl(op int, ch *channel.Channel) {
	var ev unix.EpollEvent
	ev.Events = uint32(ch.Events())
	ev.Fd = int32(ch.Fd())
	err := unix.EpollCtl(p.epfd, op, ch.Fd(), &ev)
	if err == nil {
		return
	}
	if op == unix.EPOLL_CTL_DEL {
		p.log.Error("poller: epoll_ctl del failed", zap.Error(err))
		return
	}
	p.log.Fatal("poller: epoll_ctl add/mod failed", zap.Error(err))
}
