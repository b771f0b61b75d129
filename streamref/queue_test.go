package streamref

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestPendingDataQueueOrder(t *testing.T) {
	queue := newPendingDataQueue()

	assert.Equal(t, queue.Add(3, []byte("c")), true)
	assert.Equal(t, queue.Add(1, []byte("a")), true)
	assert.Equal(t, queue.Add(2, []byte("b")), true)
	assert.Equal(t, queue.Len(), 3)

	count, byteCount := queue.QueueSize()
	assert.Equal(t, count, 3)
	assert.Equal(t, byteCount, ByteCount(3))

	// only the head seq can be removed
	_, ok := queue.RemoveSeq(2)
	assert.Equal(t, ok, false)

	element, ok := queue.RemoveSeq(1)
	assert.Equal(t, ok, true)
	assert.Equal(t, element, []byte("a"))

	element, ok = queue.RemoveSeq(2)
	assert.Equal(t, ok, true)
	assert.Equal(t, element, []byte("b"))

	element, ok = queue.RemoveSeq(3)
	assert.Equal(t, ok, true)
	assert.Equal(t, element, []byte("c"))

	assert.Equal(t, queue.Len(), 0)
	_, ok = queue.RemoveSeq(4)
	assert.Equal(t, ok, false)
}

func TestPendingDataQueueDuplicate(t *testing.T) {
	queue := newPendingDataQueue()

	assert.Equal(t, queue.Add(7, []byte("x")), true)
	assert.Equal(t, queue.ContainsSeq(7), true)
	assert.Equal(t, queue.Add(7, []byte("y")), false)
	assert.Equal(t, queue.Len(), 1)

	element, ok := queue.RemoveSeq(7)
	assert.Equal(t, ok, true)
	assert.Equal(t, element, []byte("x"))
	assert.Equal(t, queue.ContainsSeq(7), false)
}
