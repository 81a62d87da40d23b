// Command echoreactor is a minimal echo server exercising the public
// API end to end: one main loop, three worker loops, connection and
// message callbacks that log and echo data back verbatim.
package main

import (
	"flag"
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/nautilus-net/reactor/buffer"
	"github.com/nautilus-net/reactor/reactor"
	"github.com/nautilus-net/reactor/rlog"
	"github.com/nautilus-net/reactor/server"
	"github.com/nautilus-net/reactor/tcpconn"
)

// echoServer mirrors the teacher's EchoServer wrapper: own the
// TcpServer, wire its callbacks, expose Start.
type echoServer struct {
	srv *server.TcpServer
	log *rlog.Logger
}

func newEchoServer(loop *reactor.EventLoop, log *rlog.Logger, addr, name string) *echoServer {
	e := &echoServer{log: log}
	e.srv = server.New(loop, log, addr, name, server.NoReusePort)
	e.srv.ConnectionFn = e.onConnection
	e.srv.MessageFn = e.onMessage
	e.srv.SetThreadNum(3)
	return e
}

func (e *echoServer) Start() { e.srv.Start() }

func (e *echoServer) onConnection(conn *tcpconn.TcpConnection) {
	if conn.Connected() {
		e.log.Info("connection up", zap.String("peer", conn.PeerAddr().String()))
	} else {
		e.log.Info("connection down", zap.String("peer", conn.PeerAddr().String()))
	}
}

func (e *echoServer) onMessage(conn *tcpconn.TcpConnection, in *buffer.Buffer, _ time.Time) {
	conn.Send([]byte(in.RetrieveAllAsString()))
}

func main() {
	addr := flag.String("addr", "0.0.0.0:8080", "listen address")
	flag.Parse()

	log := rlog.NewProduction()
	defer log.Sync()

	runtime.LockOSThread()
	loop := reactor.New(log)

	srv := newEchoServer(loop, log, *addr, "EchoServer")
	srv.Start()

	log.Info("echoreactor listening", zap.String("addr", *addr))
	loop.Loop()
}
