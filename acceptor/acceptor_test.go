package acceptor

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nautilus-net/reactor/reactor"
)

func TestAcceptorAcceptsConnectionAndInvokesCallback(t *testing.T) {
	th := reactor.NewLoopThread(nil, nil)
	loop := th.Start()
	defer th.Stop()

	connCh := make(chan int, 1)
	var a *Acceptor
	ready := make(chan struct{})
	loop.RunInLoop(func() {
		a = New(loop, nil, "127.0.0.1:19284", false)
		a.NewConnectionFn = func(fd int, peer *net.TCPAddr) {
			require.NotNil(t, peer)
			connCh <- fd
		}
		a.Listen()
		close(ready)
	})
	<-ready

	conn, err := net.DialTimeout("tcp4", "127.0.0.1:19284", time.Second)
	require.NoError(t, err)
	defer conn.Close()

	select {
	case fd := <-connCh:
		require.GreaterOrEqual(t, fd, 0)
	case <-time.After(time.Second):
		t.Fatal("new-connection callback was not invoked")
	}

	loop.RunInLoop(func() { a.Close() })
}

func TestAcceptorClosesConnFDWhenNoCallbackSet(t *testing.T) {
	th := reactor.NewLoopThread(nil, nil)
	loop := th.Start()
	defer th.Stop()

	var a *Acceptor
	done := make(chan struct{})
	loop.RunInLoop(func() {
		a = New(loop, nil, "127.0.0.1:19283", false)
		a.Listen()
		close(done)
	})
	<-done

	conn, err := net.DialTimeout("tcp4", "127.0.0.1:19283", time.Second)
	require.NoError(t, err)
	defer conn.Close()

	buf := make([]byte, 1)
	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, err = conn.Read(buf)
	require.Error(t, err)

	loop.RunInLoop(func() { a.Close() })
}
