package streamref

import (
	"container/heap"
)

type dataItem struct {
	seq     uint64
	element []byte

	// the index of the item in the heap
	heapIndex int
}

// pendingDataQueue holds data elements that arrived ahead of sequence so
// the session can hand them to the local endpoint in order. Ordered by
// seq ascending. Owned by the session run loop, no locking.
type pendingDataQueue struct {
	orderedItems []*dataItem
	// seq -> item
	seqItems  map[uint64]*dataItem
	byteCount ByteCount
}

func newPendingDataQueue() *pendingDataQueue {
	pendingDataQueue := &pendingDataQueue{
		orderedItems: []*dataItem{},
		seqItems:     map[uint64]*dataItem{},
		byteCount:    0,
	}
	heap.Init(pendingDataQueue)
	return pendingDataQueue
}

func (self *pendingDataQueue) QueueSize() (int, ByteCount) {
	return len(self.orderedItems), self.byteCount
}

func (self *pendingDataQueue) Len() int {
	return len(self.orderedItems)
}

func (self *pendingDataQueue) ContainsSeq(seq uint64) bool {
	_, ok := self.seqItems[seq]
	return ok
}

// Add returns false for a duplicate seq.
func (self *pendingDataQueue) Add(seq uint64, element []byte) bool {
	if _, ok := self.seqItems[seq]; ok {
		return false
	}
	item := &dataItem{
		seq:     seq,
		element: element,
	}
	self.seqItems[seq] = item
	heap.Push(self, item)
	self.byteCount += ByteCount(len(element))
	return true
}

// RemoveSeq removes and returns the item iff the head of the queue has
// exactly `seq`.
func (self *pendingDataQueue) RemoveSeq(seq uint64) ([]byte, bool) {
	if len(self.orderedItems) == 0 {
		return nil, false
	}
	if self.orderedItems[0].seq != seq {
		return nil, false
	}
	item := heap.Remove(self, 0).(*dataItem)
	delete(self.seqItems, item.seq)
	self.byteCount -= ByteCount(len(item.element))
	return item.element, true
}

// heap.Interface

func (self *pendingDataQueue) Push(x any) {
	item := x.(*dataItem)
	item.heapIndex = len(self.orderedItems)
	self.orderedItems = append(self.orderedItems, item)
}

func (self *pendingDataQueue) Pop() any {
	n := len(self.orderedItems)
	i := n - 1
	item := self.orderedItems[i]
	self.orderedItems[i] = nil
	self.orderedItems = self.orderedItems[:n-1]
	return item
}

// sort.Interface

func (self *pendingDataQueue) Less(i int, j int) bool {
	return self.orderedItems[i].seq < self.orderedItems[j].seq
}

func (self *pendingDataQueue) Swap(i int, j int) {
	a := self.orderedItems[i]
	b := self.orderedItems[j]
	b.heapIndex = i
	self.orderedItems[i] = b
	a.heapIndex = j
	self.orderedItems[j] = a
}
