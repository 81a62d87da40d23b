// Package acceptor owns the listening socket on the main loop: it accepts
// inbound connections and hands each accepted fd off to a
// server-supplied callback. Direct counterpart of muduo's Acceptor.
package acceptor

import (
	"net"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/nautilus-net/reactor/channel"
	"github.com/nautilus-net/reactor/internal/netutil"
	"github.com/nautilus-net/reactor/reactor"
	"github.com/nautilus-net/reactor/rlog"
)

// acceptBacklog matches Acceptor::listen's hardcoded backlog of 1024.
const acceptBacklog = 1024

// NewConnectionCallback receives an accepted connection's fd and its
// peer address. It owns connFD from this point on.
type NewConnectionCallback func(connFD int, peerAddr *net.TCPAddr)

// Acceptor owns one listening fd and its channel on the main loop.
type Acceptor struct {
	log    *rlog.Logger
	loop   *reactor.EventLoop
	fd     int
	ch     *channel.Channel
	active bool

	NewConnectionFn NewConnectionCallback
}

// New opens a listening socket on addr (TCP, IPv4 only) bound to loop,
// optionally enabling SO_REUSEPORT. Listen-socket setup failures are
// fatal, matching Acceptor's constructor (createNonblocking's LOG_FATAL).
func New(loop *reactor.EventLoop, log *rlog.Logger, addr string, reusePort bool) *Acceptor {
	if log == nil {
		log = rlog.Nop()
	}
	fd, err := netutil.ListenTCP(addr, reusePort)
	if err != nil {
		log.Fatal("acceptor: listen setup failed", zap.String("addr", addr), zap.Error(err))
	}

	a := &Acceptor{log: log, loop: loop, fd: fd}
	a.ch = channel.New(loop, fd)
	a.ch.ReadFn = a.handleRead
	return a
}

// Listen starts accepting connections. Must run on the owning loop's
// thread.
func (a *Acceptor) Listen() {
	a.active = true
	if err := unix.Listen(a.fd, acceptBacklog); err != nil {
		a.log.Fatal("acceptor: listen syscall failed", zap.Error(err))
	}
	a.ch.EnableReading()
}

func (a *Acceptor) handleRead(time.Time) {
	connFD, sa, err := netutil.Accept4(a.fd)
	if connFD >= 0 {
		if a.NewConnectionFn != nil {
			a.NewConnectionFn(connFD, netutil.PeerAddr(sa))
		} else {
			netutil.Close(connFD)
		}
		return
	}
	a.log.Error("acceptor: accept failed", zap.Error(err))
	if err == unix.EMFILE {
		a.log.Error("acceptor: process fd limit reached")
	}
}

// Close stops listening and releases the listening fd. Must run on the
// owning loop's thread.
func (a *Acceptor) Close() {
	a.ch.DisableAll()
	a.ch.Remove()
	netutil.Close(a.fd)
}
