package buffer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppendRetrieveAllAsStringRoundTrips(t *testing.T) {
	b := New()
	b.Append([]byte("hello"))
	require.Equal(t, 5, b.ReadableBytes())
	require.Equal(t, "hello", b.RetrieveAllAsString())
	require.Equal(t, 0, b.ReadableBytes())
}

func TestRetrieveAllResetsToPrependBoundary(t *testing.T) {
	b := New()
	b.Append([]byte("abc"))
	b.Retrieve(b.ReadableBytes())
	require.Equal(t, 0, b.ReadableBytes())
	require.Equal(t, CheapPrepend, b.PrependableBytes())
}

func TestRetrievePartial(t *testing.T) {
	b := New()
	b.Append([]byte("abcdef"))
	b.Retrieve(2)
	require.Equal(t, "cdef", string(b.Peek()))
}

func TestEnsureWritableCompactsBeforeGrowing(t *testing.T) {
	b := NewSize(16)
	b.Append([]byte("0123456789012345")) // fills writable region exactly
	b.Retrieve(10)                       // free up prepend-adjacent slack
	capBefore := b.Cap()
	b.EnsureWritable(10)
	require.Equal(t, capBefore, b.Cap(), "compaction should avoid growing when slack suffices")
	require.Equal(t, "0123456789012345"[10:], string(b.Peek()))
}

func TestEnsureWritableGrowsWhenSlackInsufficient(t *testing.T) {
	b := NewSize(16)
	b.Append([]byte("0123456789012345"))
	b.EnsureWritable(100)
	require.GreaterOrEqual(t, b.WritableBytes(), 100)
}

func TestInvariantsHoldAfterOperations(t *testing.T) {
	b := New()
	for i := 0; i < 100; i++ {
		b.Append([]byte("xyz"))
		if i%3 == 0 {
			b.Retrieve(2)
		}
		assertInvariant(t, b)
	}
}

func assertInvariant(t *testing.T, b *Buffer) {
	t.Helper()
	require.GreaterOrEqual(t, b.reader, 0)
	require.LessOrEqual(t, b.reader, b.writer)
	require.LessOrEqual(t, b.writer, len(b.buf))
}
