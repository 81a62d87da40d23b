// Package channel binds one file descriptor to its interest set and its
// per-event callbacks, and mediates updates to the owning loop's
// demultiplexer. It is the direct Go counterpart of muduo's Channel.
package channel

import (
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// Event masks. Read interest covers both ordinary and urgent readable
// data; write interest covers writable, matching Channel.cc's
// kReadEvent/kWriteEvent.
const (
	NoneEvent  = 0
	ReadEvent  = unix.EPOLLIN | unix.EPOLLPRI
	WriteEvent = unix.EPOLLOUT
)

// State is the channel's registration-state tag, tracked by the
// Demultiplexer across update_channel/remove_channel calls.
type State int

const (
	// Unregistered: never added to the demultiplexer, or removed.
	Unregistered State = iota
	// Registered: currently present in the kernel's readiness set.
	Registered
	// DeregisteredButKnown: the demultiplexer still has the fd in its
	// map (so the next UpdateChannel re-adds it) but the kernel is not
	// currently watching it (interest went to none and it was DEL'd).
	DeregisteredButKnown
)

// Loop is the subset of EventLoop a Channel needs: forwarding interest
// changes to the owning loop's demultiplexer. Defined here (rather than
// imported from the reactor package) so channel has no dependency on its
// owner, breaking the import cycle the two naturally have in muduo
// (Channel -> EventLoop -> Poller -> Channel).
type Loop interface {
	UpdateChannel(ch *Channel)
	RemoveChannel(ch *Channel)
}

// ReadCallback is invoked with the poll return time when a fd becomes
// readable.
type ReadCallback func(receiveTime time.Time)

// Channel pairs a fd with its interest mask and callbacks. All fields
// except the torn-down flag are only ever touched by the owning loop's
// goroutine (see spec.md section 5's thread-affinity rule); HandleEvent
// is only ever called from that same goroutine, via the demultiplexer's
// Poll.
type Channel struct {
	loop   Loop
	fd     int
	events int32
	revent int32
	state  State

	torn int32 // atomic; set by MarkTornDown once the owner tears down.

	ReadFn  ReadCallback
	WriteFn func()
	CloseFn func()
	ErrorFn func()
}

// New binds fd to loop. The channel starts with no interest and is not
// yet registered with the demultiplexer; a caller must call EnableReading
// or EnableWriting to register it.
func New(loop Loop, fd int) *Channel {
	return &Channel{loop: loop, fd: fd, state: Unregistered}
}

func (c *Channel) Fd() int { return c.fd }
func (c *Channel) Events() int32 { return c.events }
func (c *Channel) Revents() int32 { return c.revent }
func (c *Channel) State() State { return c.state }
func (c *Channel) SetState(s State) { c.state = s }

// SetRevents records the ready mask the demultiplexer observed for this
// fd; called by the demultiplexer while filling its active list.
func (c *Channel) SetRevents(r int32) { c.revent = r }

func (c *Channel) IsNoneEvent() bool { return c.events == NoneEvent }
func (c *Channel) IsReading() bool { return c.events&ReadEvent != 0 }
func (c *Channel) IsWriting() bool { return c.events&WriteEvent != 0 }

func (c *Channel) EnableReading() {
	c.events |= ReadEvent
	c.update()
}

func (c *Channel) DisableReading() {
	c.events &^= ReadEvent
	c.update()
}

func (c *Channel) EnableWriting() {
	c.events |= WriteEvent
	c.update()
}

func (c *Channel) DisableWriting() {
	c.events &^= WriteEvent
	c.update()
}

func (c *Channel) DisableAll() {
	c.events = NoneEvent
	c.update()
}

func (c *Channel) update() { c.loop.UpdateChannel(c) }

// Remove asks the owning loop to deregister this channel from the
// demultiplexer. The caller must have already disabled all interest and
// must not touch the channel's fd afterwards.
func (c *Channel) Remove() { c.loop.RemoveChannel(c) }

// MarkTornDown is the Go-adapted version of muduo's weak_ptr tie: it is
// called by the owning TcpConnection's connectDestroyed
// once it has finished tearing itself down, so that any event the
// demultiplexer already queued for this fd in the same dispatch round is
// dropped rather than re-entering a destroyed connection.
func (c *Channel) MarkTornDown() { atomic.StoreInt32(&c.torn, 1) }

func (c *Channel) isTornDown() bool { return atomic.LoadInt32(&c.torn) == 1 }

// HandleEvent dispatches the last-observed ready mask to the channel's
// callbacks in the order hangup, error, readable, writable, matching
// Channel::handleEventWithGuard.
func (c *Channel) HandleEvent(receiveTime time.Time) {
	if c.isTornDown() {
		return
	}
	revents := c.revent
	if revents&unix.EPOLLHUP != 0 && revents&unix.EPOLLIN == 0 {
		if c.CloseFn != nil {
			c.CloseFn()
		}
		return
	}
	if revents&unix.EPOLLERR != 0 {
		if c.ErrorFn != nil {
			c.ErrorFn()
		}
	}
	if revents&(unix.EPOLLIN|unix.EPOLLPRI) != 0 {
		if c.ReadFn != nil {
			c.ReadFn(receiveTime)
		}
	}
	if revents&unix.EPOLLOUT != 0 {
		if c.WriteFn != nil {
			c.WriteFn()
		}
	}
}
