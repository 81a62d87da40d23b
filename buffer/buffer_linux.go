//go:build linux

package buffer

import "golang.org/x/sys/unix"

// extraBufSize is the stack-resident overflow buffer used by ReadFromFD so
// that a single level-triggered wakeup can drain an arbitrarily large
// amount of pending data without growing the primary buffer on every call.
const extraBufSize = 65536

// ReadFromFD reads once from fd into the buffer's writable region, using a
// second (stack-resident) overflow buffer when the writable region is
// smaller than extraBufSize, via readv. If the total bytes read fit within
// the writable region only the writer index advances; otherwise the writer
// index advances to capacity and the overflow tail is appended (growing
// the buffer if needed).
func (b *Buffer) ReadFromFD(fd int) (int, error) {
	writable := b.WritableBytes()

	var extra [extraBufSize]byte
	iov := make([][]byte, 0, 2)
	iov = append(iov, b.buf[b.writer:])
	useExtra := writable < extraBufSize
	if useExtra {
		iov = append(iov, extra[:])
	}

	n, err := unix.Readv(fd, iov)
	if n <= 0 {
		return n, err
	}

	if n <= writable {
		b.writer += n
	} else {
		b.writer = len(b.buf)
		b.Append(extra[:n-writable])
	}
	return n, err
}

// WriteToFD writes the whole readable region to fd in a single write. The
// caller retrieves however many bytes were actually consumed.
func (b *Buffer) WriteToFD(fd int) (int, error) {
	return unix.Write(fd, b.Peek())
}
