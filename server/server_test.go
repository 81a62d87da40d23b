package server

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nautilus-net/reactor/buffer"
	"github.com/nautilus-net/reactor/reactor"
	"github.com/nautilus-net/reactor/tcpconn"
)

func TestEchoServerSingleThreaded(t *testing.T) {
	th := reactor.NewLoopThread(nil, nil)
	loop := th.Start()
	defer th.Stop()

	var s *TcpServer
	loop.RunInLoop(func() {
		s = New(loop, nil, "127.0.0.1:19301", "echo-test", NoReusePort)
		s.MessageFn = func(c *tcpconn.TcpConnection, in *buffer.Buffer, _ time.Time) {
			c.Send([]byte(in.RetrieveAllAsString()))
		}
		s.Start()
	})
	time.Sleep(50 * time.Millisecond)

	conn, err := net.DialTimeout("tcp4", "127.0.0.1:19301", time.Second)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("hello"))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(time.Second))
	out := make([]byte, 5)
	n, err := conn.Read(out)
	require.NoError(t, err)
	require.Equal(t, "hello", string(out[:n]))
}

func TestServerRoundRobinsAcrossWorkerLoops(t *testing.T) {
	th := reactor.NewLoopThread(nil, nil)
	loop := th.Start()
	defer th.Stop()

	var s *TcpServer
	loopsSeen := make(chan *reactor.EventLoop, 8)
	loop.RunInLoop(func() {
		s = New(loop, nil, "127.0.0.1:19302", "rr-test", NoReusePort)
		s.SetThreadNum(3)
		s.ConnectionFn = func(c *tcpconn.TcpConnection) {
			if c.Connected() {
				loopsSeen <- c.Loop()
			}
		}
		s.Start()
	})
	time.Sleep(50 * time.Millisecond)

	var conns []net.Conn
	for i := 0; i < 6; i++ {
		c, err := net.DialTimeout("tcp4", "127.0.0.1:19302", time.Second)
		require.NoError(t, err)
		conns = append(conns, c)
	}
	defer func() {
		for _, c := range conns {
			c.Close()
		}
	}()

	seen := map[*reactor.EventLoop]int{}
	for i := 0; i < 6; i++ {
		select {
		case l := <-loopsSeen:
			seen[l]++
		case <-time.After(time.Second):
			t.Fatal("not all connections were established")
		}
	}
	require.Len(t, seen, 3)
	for _, count := range seen {
		require.Equal(t, 2, count)
	}
}
