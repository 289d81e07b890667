package skbuff

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pfq-io/go-pfq/internal/constants"
)

func TestAllocFill(t *testing.T) {
	b := Alloc(constants.MaxLen, 0)
	require.Equal(t, int32(1), b.Users())

	payload := make([]byte, 100)
	for i := range payload {
		payload[i] = byte(i)
	}
	b.Fill(nil, 3, payload, 100)

	assert.Equal(t, 100, b.Len())
	assert.Equal(t, 3, b.QueueMapping())
	assert.Equal(t, payload, b.Bytes())
}

func TestFillShortPacketPads(t *testing.T) {
	b := Alloc(constants.MaxLen, 0)

	// The copy region carries the padding; the packet length stays at
	// the descriptor's.
	region := make([]byte, constants.MinCopyLen)
	for i := range region {
		region[i] = 0xAB
	}
	b.Fill(nil, 0, region, 10)

	assert.Equal(t, 10, b.Len())
	// All 64 bytes of the region landed in the slab.
	full := b.data[:constants.MinCopyLen]
	for _, c := range full {
		assert.Equal(t, byte(0xAB), c)
	}
}

func TestFillClampsToSlab(t *testing.T) {
	b := Alloc(128, 0)
	payload := make([]byte, 256)
	b.Fill(nil, 0, payload, 256)
	assert.Equal(t, 128, b.Len())
}

func TestGetFree(t *testing.T) {
	b := Alloc(64, 0)
	b.Get()
	require.Equal(t, int32(2), b.Users())

	assert.False(t, b.Free())
	assert.Equal(t, int32(1), b.Users())
	assert.True(t, b.Free())
}

func TestCloneSharesSlab(t *testing.T) {
	b := Alloc(64, 0)
	b.Fill(nil, 1, []byte{1, 2, 3, 4}, 4)

	c := b.Clone()
	require.Equal(t, int32(1), c.Users())
	require.Equal(t, int32(1), b.Users())
	assert.Equal(t, b.Bytes(), c.Bytes())

	// Freeing the original does not release the shared slab.
	assert.False(t, b.Free())
	// The clone's last reference does.
	assert.True(t, c.Free())
}

func TestBatchPushLen(t *testing.T) {
	var batch Batch

	for i := 0; i < constants.BatchLen; i++ {
		require.True(t, batch.Push(Alloc(64, 0)))
	}
	assert.True(t, batch.Full())
	assert.False(t, batch.Push(Alloc(64, 0)))
	assert.Equal(t, constants.BatchLen, batch.Len())
}

func TestBatchDropN(t *testing.T) {
	var batch Batch
	bufs := make([]*Buffer, 5)
	for i := range bufs {
		bufs[i] = Alloc(64, 0)
		batch.Push(bufs[i])
	}

	batch.DropN(2)
	require.Equal(t, 3, batch.Len())
	assert.Same(t, bufs[2], batch.At(0))
	assert.Same(t, bufs[4], batch.At(2))

	batch.DropN(10)
	assert.Equal(t, 0, batch.Len())
}

func TestBatchRangeMask(t *testing.T) {
	var batch Batch
	bufs := make([]*Buffer, 6)
	for i := range bufs {
		bufs[i] = Alloc(64, 0)
		batch.Push(bufs[i])
	}

	var seen []int
	batch.RangeMask(0b101001, func(i int, buf *Buffer) {
		seen = append(seen, i)
		assert.Same(t, bufs[i], buf)
	})
	assert.Equal(t, []int{0, 3, 5}, seen)
}

func TestBatchRangeFrom(t *testing.T) {
	var batch Batch
	for i := 0; i < 4; i++ {
		batch.Push(Alloc(64, 0))
	}

	n := 0
	batch.RangeFrom(2, func(i int, buf *Buffer) { n++ })
	assert.Equal(t, 2, n)
}
