// Package buffer implements the growable byte buffer every TcpConnection
// uses for its input and output sides: a contiguous slice split into a
// prepend region, a readable region and a writable region.
package buffer

const (
	// CheapPrepend is the reserved space at the front of the buffer,
	// left free for cheap header prepending that this module does not
	// otherwise use.
	CheapPrepend = 8
	// InitialSize is the default size of the readable+writable regions
	// a newly constructed Buffer is sized for.
	InitialSize = 1024
)

// Buffer is a growable byte buffer partitioned into three regions by two
// indices: [0, reader) is prepend space, [reader, writer) is readable,
// [writer, cap(buf)) is writable. 0 <= reader <= writer <= len(buf) holds
// at every observable moment.
type Buffer struct {
	buf    []byte
	reader int
	writer int
}

// New returns a Buffer with InitialSize bytes of writable capacity.
func New() *Buffer {
	return NewSize(InitialSize)
}

// NewSize returns a Buffer with at least size bytes of writable capacity.
func NewSize(size int) *Buffer {
	return &Buffer{
		buf:    make([]byte, CheapPrepend+size),
		reader: CheapPrepend,
		writer: CheapPrepend,
	}
}

// ReadableBytes reports how many bytes are available to read.
func (b *Buffer) ReadableBytes() int { return b.writer - b.reader }

// WritableBytes reports how many bytes can be appended without growing.
func (b *Buffer) WritableBytes() int { return len(b.buf) - b.writer }

// PrependableBytes reports how much space sits before the readable region.
func (b *Buffer) PrependableBytes() int { return b.reader }

// Peek returns a slice over the readable region without consuming it.
// The slice aliases the buffer's storage and is invalidated by the next
// mutating call.
func (b *Buffer) Peek() []byte { return b.buf[b.reader:b.writer] }

// Retrieve advances the reader index by n, clamped to ReadableBytes. If it
// reaches the writer index both indices reset to the prepend boundary.
func (b *Buffer) Retrieve(n int) {
	if n < b.ReadableBytes() {
		b.reader += n
		return
	}
	b.RetrieveAll()
}

// RetrieveAll resets both indices to the prepend boundary, discarding any
// unread bytes.
func (b *Buffer) RetrieveAll() {
	b.reader = CheapPrepend
	b.writer = CheapPrepend
}

// RetrieveAllAsString returns a copy of the whole readable region and
// resets the buffer.
func (b *Buffer) RetrieveAllAsString() string {
	return b.RetrieveAsString(b.ReadableBytes())
}

// RetrieveAsString returns a copy of the first n readable bytes and
// advances the reader index past them.
func (b *Buffer) RetrieveAsString(n int) string {
	s := string(b.buf[b.reader : b.reader+n])
	b.Retrieve(n)
	return s
}

// EnsureWritable guarantees at least n writable bytes, compacting the
// buffer in place when the prepend slack plus the writable tail already
// suffice, else growing the underlying slice.
func (b *Buffer) EnsureWritable(n int) {
	if b.WritableBytes() < n {
		b.makeSpace(n)
	}
}

// Append copies data onto the end of the readable region, growing the
// buffer first if necessary.
func (b *Buffer) Append(data []byte) {
	b.EnsureWritable(len(data))
	copy(b.buf[b.writer:], data)
	b.writer += len(data)
}

// BeginWrite returns a slice over the writable region, for callers (such
// as the scatter read in buffer_linux.go) that write into the buffer
// directly instead of going through Append.
func (b *Buffer) BeginWrite() []byte { return b.buf[b.writer:] }

// HasWritten advances the writer index after data was written directly
// into the slice returned by BeginWrite.
func (b *Buffer) HasWritten(n int) { b.writer += n }

// Cap returns the underlying capacity, including the prepend region.
func (b *Buffer) Cap() int { return len(b.buf) }

func (b *Buffer) makeSpace(n int) {
	if b.WritableBytes()+b.PrependableBytes() < n+CheapPrepend {
		grown := make([]byte, b.writer+n)
		copy(grown, b.buf[:b.writer])
		b.buf = grown
		return
	}
	readable := b.ReadableBytes()
	copy(b.buf[CheapPrepend:], b.buf[b.reader:b.writer])
	b.reader = CheapPrepend
	b.writer = b.reader + readable
}
