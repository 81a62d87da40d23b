//go:build linux

package buffer

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func socketpair(t *testing.T) (int, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func TestReadFromFDWithinWritableUsesOnlyPrimaryBuffer(t *testing.T) {
	a, b := socketpair(t)
	payload := make([]byte, InitialSize)
	for i := range payload {
		payload[i] = byte(i)
	}
	_, err := unix.Write(b, payload)
	require.NoError(t, err)

	buf := New()
	capBefore := buf.Cap()
	n, err := buf.ReadFromFD(a)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)
	require.Equal(t, capBefore, buf.Cap(), "a read that fits in the writable region must not grow the buffer")
	require.Equal(t, payload, buf.Peek())
}

func TestReadFromFDLargerThanCapacityUsesOverflow(t *testing.T) {
	a, b := socketpair(t)
	payload := make([]byte, InitialSize+4096)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	go func() {
		_, _ = unix.Write(b, payload)
	}()

	buf := New()
	total := 0
	for total < len(payload) {
		n, err := buf.ReadFromFD(a)
		require.NoError(t, err)
		total += n
	}
	require.GreaterOrEqual(t, buf.Cap(), len(payload))
	require.Equal(t, payload, buf.Peek())
}

func TestWriteToFDWritesReadableRegion(t *testing.T) {
	a, b := socketpair(t)
	buf := New()
	buf.Append([]byte("hello, reactor"))
	n, err := buf.WriteToFD(b)
	require.NoError(t, err)
	buf.Retrieve(n)
	require.Equal(t, 0, buf.ReadableBytes())

	got := make([]byte, n)
	_, err = unix.Read(a, got)
	require.NoError(t, err)
	require.Equal(t, "hello, reactor", string(got))
}
