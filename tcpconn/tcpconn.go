// Package tcpconn implements the connection state machine: buffered
// reads and writes, half-close, high-watermark backpressure, and the
// connect-established/connect-destroyed lifecycle hooks a TcpServer
// drives. Direct counterpart of muduo's TcpConnection.
package tcpconn

import (
	"net"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/nautilus-net/reactor/buffer"
	"github.com/nautilus-net/reactor/channel"
	"github.com/nautilus-net/reactor/internal/netutil"
	"github.com/nautilus-net/reactor/reactor"
	"github.com/nautilus-net/reactor/rlog"
)

// State is the connection's lifecycle state.
type State int32

const (
	Connecting State = iota
	Connected
	Disconnecting
	Disconnected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnecting:
		return "disconnecting"
	case Disconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// defaultHighWaterMark matches TcpConnection's 64MB default.
const defaultHighWaterMark = 64 * 1024 * 1024

// ConnectionCallback fires when a connection is established and again
// right before it is torn down.
type ConnectionCallback func(*TcpConnection)

// MessageCallback fires whenever new bytes have landed in the input
// buffer.
type MessageCallback func(conn *TcpConnection, in *buffer.Buffer, receiveTime time.Time)

// WriteCompleteCallback fires once all sent data has reached the socket:
// either a direct write took all of it, or the output buffer has fully
// drained.
type WriteCompleteCallback func(*TcpConnection)

// HighWaterMarkCallback fires exactly once per crossing from below the
// threshold to at-or-above it.
type HighWaterMarkCallback func(conn *TcpConnection, outstanding int)

// CloseCallback is invoked last in handleClose, after ConnectionFn; a
// TcpServer wires this to its own connection-removal bookkeeping.
type CloseCallback func(*TcpConnection)

// TcpConnection owns one accepted socket's input/output buffers, its
// Channel, and its lifecycle state. It is never safe to use from more
// than one loop thread (it must only be driven from the loop it was
// constructed on).
type TcpConnection struct {
	log  *rlog.Logger
	loop *reactor.EventLoop
	name string
	fd   int
	ch   *channel.Channel

	state   State
	reading bool

	localAddr *net.TCPAddr
	peerAddr  *net.TCPAddr

	inputBuffer  *buffer.Buffer
	outputBuffer *buffer.Buffer

	highWaterMark int

	ConnectionFn    ConnectionCallback
	MessageFn       MessageCallback
	WriteCompleteFn WriteCompleteCallback
	HighWaterMarkFn HighWaterMarkCallback
	CloseFn         CloseCallback
}

// getState atomically loads the connection's lifecycle state. Safe from
// any goroutine, per spec.md section 5 ("a per-connection state (atomic
// because the off-thread connected() query reads it)").
func (c *TcpConnection) getState() State {
	return State(atomic.LoadInt32((*int32)(&c.state)))
}

// setState atomically stores the connection's lifecycle state.
func (c *TcpConnection) setState(s State) {
	atomic.StoreInt32((*int32)(&c.state), int32(s))
}

// New wraps an already-accepted, non-blocking fd. The caller (normally a
// TcpServer's newConnection) still must call ConnectEstablished once
// callbacks are wired.
func New(loop *reactor.EventLoop, log *rlog.Logger, name string, fd int, localAddr, peerAddr *net.TCPAddr) *TcpConnection {
	if log == nil {
		log = rlog.Nop()
	}
	c := &TcpConnection{
		log:           log,
		loop:          loop,
		name:          name,
		fd:            fd,
		state:         Connecting,
		reading:       true,
		localAddr:     localAddr,
		peerAddr:      peerAddr,
		inputBuffer:   buffer.New(),
		outputBuffer:  buffer.New(),
		highWaterMark: defaultHighWaterMark,
	}
	c.ch = channel.New(loop, fd)
	c.ch.ReadFn = c.handleRead
	c.ch.WriteFn = c.handleWrite
	c.ch.CloseFn = c.handleClose
	c.ch.ErrorFn = c.handleError

	if err := netutil.SetKeepAlive(fd, true); err != nil {
		log.Error("tcpconn: set keepalive failed", zap.String("conn", name), zap.Error(err))
	}
	log.Debug("tcpconn: constructed", zap.String("conn", name), zap.Int("fd", fd))
	return c
}

func (c *TcpConnection) Name() string { return c.name }
func (c *TcpConnection) Loop() *reactor.EventLoop { return c.loop }
func (c *TcpConnection) LocalAddr() *net.TCPAddr { return c.localAddr }
func (c *TcpConnection) PeerAddr() *net.TCPAddr { return c.peerAddr }
func (c *TcpConnection) Connected() bool { return c.getState() == Connected }
func (c *TcpConnection) Fd() int { return c.fd }

// SetHighWaterMark overrides the default 64MB threshold.
func (c *TcpConnection) SetHighWaterMark(n int) { c.highWaterMark = n }

// SetTCPNoDelay toggles Nagle's algorithm on the underlying socket.
func (c *TcpConnection) SetTCPNoDelay(enable bool) error {
	return netutil.SetTCPNoDelay(c.fd, enable)
}

// Send queues buf for transmission, writing directly when possible and
// buffering the remainder otherwise. Safe from any goroutine.
func (c *TcpConnection) Send(buf []byte) {
	if c.getState() != Connected {
		return
	}
	if c.loop.IsInLoopThread() {
		c.sendInLoop(buf)
		return
	}
	cp := make([]byte, len(buf))
	copy(cp, buf)
	c.loop.RunInLoop(func() { c.sendInLoop(cp) })
}

// SendFile zero-copy-transmits count bytes of fd starting at offset,
// after anything already queued in the output buffer: while that buffer
// holds data, the send re-queues itself on the loop. Safe from any
// goroutine.
func (c *TcpConnection) SendFile(fd int, offset int64, count int64) {
	if !c.Connected() {
		c.log.Error("tcpconn: sendfile on unconnected connection", zap.String("conn", c.name))
		return
	}
	if c.loop.IsInLoopThread() {
		c.sendFileInLoop(fd, offset, count)
		return
	}
	c.loop.RunInLoop(func() { c.sendFileInLoop(fd, offset, count) })
}

// Shutdown half-closes the write side once the output buffer drains.
// Safe from any goroutine.
func (c *TcpConnection) Shutdown() {
	if c.getState() == Connected {
		c.setState(Disconnecting)
		c.loop.RunInLoop(c.shutdownInLoop)
	}
}

// ConnectEstablished transitions to Connected, arms the read interest,
// and fires ConnectionFn. Must run on the owning loop's thread.
func (c *TcpConnection) ConnectEstablished() {
	c.setState(Connected)
	c.ch.EnableReading()
	if c.ConnectionFn != nil {
		c.ConnectionFn(c)
	}
}

// ConnectDestroyed fires ConnectionFn (if still connected), removes the
// channel from the demultiplexer, and marks the channel torn down so any
// event already queued for this fd in the current dispatch round is
// dropped. Must run on the owning loop's thread.
func (c *TcpConnection) ConnectDestroyed() {
	if c.getState() == Connected {
		c.setState(Disconnected)
		c.ch.DisableAll()
		if c.ConnectionFn != nil {
			c.ConnectionFn(c)
		}
	}
	c.ch.Remove()
	c.ch.MarkTornDown()
}

func (c *TcpConnection) handleRead(receiveTime time.Time) {
	n, err := c.inputBuffer.ReadFromFD(c.fd)
	switch {
	case n > 0:
		if c.MessageFn != nil {
			c.MessageFn(c, c.inputBuffer, receiveTime)
		}
	case n == 0:
		c.handleClose()
	default:
		c.log.Error("tcpconn: read failed", zap.String("conn", c.name), zap.Error(err))
		c.handleError()
	}
}

func (c *TcpConnection) handleWrite() {
	if !c.ch.IsWriting() {
		c.log.Error("tcpconn: fd is down, no more writing", zap.String("conn", c.name))
		return
	}
	n, err := c.outputBuffer.WriteToFD(c.fd)
	if err != nil {
		c.log.Error("tcpconn: write failed", zap.String("conn", c.name), zap.Error(err))
		return
	}
	c.outputBuffer.Retrieve(n)
	if c.outputBuffer.ReadableBytes() == 0 {
		c.ch.DisableWriting()
		if c.WriteCompleteFn != nil {
			fn := c.WriteCompleteFn
			c.loop.QueueInLoop(func() { fn(c) })
		}
		if c.getState() == Disconnecting {
			c.shutdownInLoop()
		}
	}
}

func (c *TcpConnection) handleClose() {
	c.log.Info("tcpconn: handleClose", zap.String("conn", c.name), zap.Int("fd", c.fd), zap.String("state", c.getState().String()))
	c.setState(Disconnected)
	c.ch.DisableAll()

	if c.ConnectionFn != nil {
		c.ConnectionFn(c)
	}
	if c.CloseFn != nil {
		// must run last: this is what hands the connection back to the
		// server for removal from its registry.
		c.CloseFn(c)
	}
}

func (c *TcpConnection) handleError() {
	err := netutil.PendingError(c.fd)
	c.log.Error("tcpconn: handleError", zap.String("conn", c.name), zap.Error(err))
}

func (c *TcpConnection) sendInLoop(data []byte) {
	var nwrote int
	remaining := len(data)
	faultError := false

	if c.getState() == Disconnected {
		c.log.Error("tcpconn: disconnected, give up writing", zap.String("conn", c.name))
		return
	}

	if !c.ch.IsWriting() && c.outputBuffer.ReadableBytes() == 0 {
		n, err := unix.Write(c.fd, data)
		if err == nil {
			nwrote = n
			remaining = len(data) - nwrote
			if remaining == 0 && c.WriteCompleteFn != nil {
				fn := c.WriteCompleteFn
				c.loop.QueueInLoop(func() { fn(c) })
			}
		} else {
			nwrote = 0
			if err != unix.EAGAIN && err != unix.EWOULDBLOCK {
				c.log.Error("tcpconn: sendInLoop write failed", zap.String("conn", c.name), zap.Error(err))
				if err == unix.EPIPE || err == unix.ECONNRESET {
					faultError = true
				}
			}
		}
	}

	if !faultError && remaining > 0 {
		oldLen := c.outputBuffer.ReadableBytes()
		if oldLen+remaining >= c.highWaterMark && oldLen < c.highWaterMark && c.HighWaterMarkFn != nil {
			fn := c.HighWaterMarkFn
			total := oldLen + remaining
			c.loop.QueueInLoop(func() { fn(c, total) })
		}
		c.outputBuffer.Append(data[nwrote:])
		if !c.ch.IsWriting() {
			c.ch.EnableWriting()
		}
	}
}

func (c *TcpConnection) sendFileInLoop(fd int, offset int64, count int64) {
	if c.getState() == Disconnecting {
		c.log.Error("tcpconn: disconnecting, give up writing", zap.String("conn", c.name))
		return
	}

	remaining := count
	faultError := false

	if !c.ch.IsWriting() && c.outputBuffer.ReadableBytes() == 0 {
		off := offset
		n, err := unix.Sendfile(c.fd, fd, &off, int(count))
		if err == nil {
			remaining = count - int64(n)
			if remaining == 0 && c.WriteCompleteFn != nil {
				fn := c.WriteCompleteFn
				c.loop.QueueInLoop(func() { fn(c) })
			}
			offset = off
		} else {
			if err != unix.EAGAIN && err != unix.EWOULDBLOCK {
				c.log.Error("tcpconn: sendFileInLoop sendfile failed", zap.String("conn", c.name), zap.Error(err))
			}
			if err == unix.EPIPE || err == unix.ECONNRESET {
				faultError = true
			}
		}
	}

	if !faultError && remaining > 0 {
		c.loop.QueueInLoop(func() { c.sendFileInLoop(fd, offset, remaining) })
	}
}

func (c *TcpConnection) shutdownInLoop() {
	if !c.ch.IsWriting() {
		if err := netutil.ShutdownWrite(c.fd); err != nil {
			c.log.Error("tcpconn: shutdown write failed", zap.String("conn", c.name), zap.Error(err))
		}
	}
}
