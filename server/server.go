// Package server is the public façade: TcpServer owns the Acceptor on
// its main loop, a LoopThreadPool of worker loops, and the registry of
// live connections, and wires the three together exactly the way
// muduo's TcpServer does.
package server

import (
	"fmt"
	"net"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/nautilus-net/reactor/acceptor"
	"github.com/nautilus-net/reactor/internal/netutil"
	"github.com/nautilus-net/reactor/reactor"
	"github.com/nautilus-net/reactor/rlog"
	"github.com/nautilus-net/reactor/tcpconn"
)

// Option controls whether the listening socket is opened with
// SO_REUSEPORT.
type Option int

const (
	NoReusePort Option = iota
	ReusePort
)

type (
	ConnectionCallback     = tcpconn.ConnectionCallback
	MessageCallback        = tcpconn.MessageCallback
	WriteCompleteCallback  = tcpconn.WriteCompleteCallback
	HighWaterMarkCallback  = tcpconn.HighWaterMarkCallback
	ThreadInitCallback     = reactor.InitCallback
)

// TcpServer is the library's entry point: construct one, wire callbacks,
// call Start.
type TcpServer struct {
	log  *rlog.Logger
	loop *reactor.EventLoop // the main/base loop; never used to run connection I/O directly unless numThreads is 0

	ipPort string
	name   string

	acceptor   *acceptor.Acceptor
	threadPool *reactor.LoopThreadPool

	connections map[string]*tcpconn.TcpConnection

	ConnectionFn     ConnectionCallback
	MessageFn        MessageCallback
	WriteCompleteFn  WriteCompleteCallback
	HighWaterMarkFn  HighWaterMarkCallback
	ThreadInitFn     ThreadInitCallback

	highWaterMark int
	tcpNoDelay    bool

	numThreads int
	nextConnID int
	started    int32 // atomic bool
}

// New constructs a TcpServer bound to loop (its main loop) listening on
// addr. New does not register anything with loop; listening begins when
// Start runs the acceptor's Listen on loop, which the caller drives
// (loop.Loop()).
func New(loop *reactor.EventLoop, log *rlog.Logger, addr string, name string, option Option) *TcpServer {
	if log == nil {
		log = rlog.Nop()
	}
	s := &TcpServer{
		log:         log,
		loop:        loop,
		ipPort:      addr,
		name:        name,
		connections: make(map[string]*tcpconn.TcpConnection),
		nextConnID:  1,
	}
	s.acceptor = acceptor.New(loop, log, addr, option == ReusePort)
	s.acceptor.NewConnectionFn = s.newConnection
	s.threadPool = reactor.NewLoopThreadPool(log, loop)
	return s
}

// SetThreadNum configures the number of worker loops newConnection
// round-robins across. 0 (the default) keeps every connection on the
// main loop. Must be called before Start.
func (s *TcpServer) SetThreadNum(n int) {
	s.numThreads = n
	s.threadPool.SetNumThreads(n)
}

// Start begins accepting connections and starts the worker pool. Start
// is idempotent and safe to call from any thread.
func (s *TcpServer) Start() {
	if atomic.AddInt32(&s.started, 1) != 1 {
		return
	}
	s.threadPool.Start(s.ThreadInitFn)
	s.loop.RunInLoop(s.acceptor.Listen)
}

// Stop tears down every live connection and the acceptor, then stops the
// worker pool. Must be called after the main loop has quit (or from a
// callback that will let it quit), since it schedules teardown work on
// each connection's owning loop.
func (s *TcpServer) Stop() {
	for _, conn := range s.connections {
		c := conn
		c.Loop().RunInLoop(c.ConnectDestroyed)
	}
	s.loop.RunInLoop(s.acceptor.Close)
	s.threadPool.Stop()
}

func (s *TcpServer) newConnection(sockfd int, peerAddr *net.TCPAddr) {
	ioLoop := s.threadPool.GetNextLoop()

	connName := fmt.Sprintf("%s-%s#%d", s.name, s.ipPort, s.nextConnID)
	s.nextConnID++

	localAddr, err := netutil.LocalAddr(sockfd)
	if err != nil {
		s.log.Error("server: getsockname failed", zap.String("conn", connName), zap.Error(err))
		localAddr = &net.TCPAddr{}
	}

	s.log.Info("server: new connection",
		zap.String("server", s.name), zap.String("conn", connName), zap.String("peer", peerAddr.String()))

	conn := tcpconn.New(ioLoop, s.log, connName, sockfd, localAddr, peerAddr)
	s.connections[connName] = conn

	conn.ConnectionFn = s.ConnectionFn
	conn.MessageFn = s.MessageFn
	conn.WriteCompleteFn = s.WriteCompleteFn
	conn.HighWaterMarkFn = s.HighWaterMarkFn
	if s.highWaterMark > 0 {
		conn.SetHighWaterMark(s.highWaterMark)
	}
	if s.tcpNoDelay {
		if err := conn.SetTCPNoDelay(true); err != nil {
			s.log.Error("server: set nodelay failed", zap.String("conn", connName), zap.Error(err))
		}
	}
	conn.CloseFn = s.removeConnection

	ioLoop.RunInLoop(conn.ConnectEstablished)
}

func (s *TcpServer) removeConnection(conn *tcpconn.TcpConnection) {
	s.loop.RunInLoop(func() { s.removeConnectionInLoop(conn) })
}

func (s *TcpServer) removeConnectionInLoop(conn *tcpconn.TcpConnection) {
	s.log.Info("server: removing connection", zap.String("server", s.name), zap.String("conn", conn.Name()))
	delete(s.connections, conn.Name())
	conn.Loop().QueueInLoop(conn.ConnectDestroyed)
}

// SetHighWaterMark sets the default output-buffer high-watermark (in
// bytes) every future connection is created with.
func (s *TcpServer) SetHighWaterMark(n int) { s.highWaterMark = n }

// SetTCPNoDelay disables Nagle's algorithm on every future connection.
func (s *TcpServer) SetTCPNoDelay(enable bool) { s.tcpNoDelay = enable }
