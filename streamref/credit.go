package streamref

import (
	"fmt"
)

// creditWindow tracks how many elements the peer has authorized this side
// to push. Grants are strictly additive and non-negative; each side of a
// session keeps its own window and they are never shared between
// goroutines. Owned by the session run loop, no locking.
type creditWindow struct {
	balance int64
}

// Grant adds a credit delta from a Demand or OriginAck message.
// A negative delta is a protocol violation, not a withdrawal.
func (self *creditWindow) Grant(delta int64) error {
	if delta < 0 {
		return fmt.Errorf("negative credit grant %d", delta)
	}
	self.balance += delta
	return nil
}

// Take consumes one credit for one pushed element.
func (self *creditWindow) Take() bool {
	if self.balance <= 0 {
		return false
	}
	self.balance -= 1
	return true
}

func (self *creditWindow) Balance() int64 {
	return self.balance
}

// demandDelta sizes the next credit grant for the consuming side.
// `commitments` counts credit already granted plus elements buffered but
// not yet read. Demand is issued when commitments fall to the low-water
// mark and refills to the batch size.
func demandDelta(commitments int64, batchSize int64, lowWaterMark int64) int64 {
	if lowWaterMark < commitments {
		return 0
	}
	return batchSize - commitments
}
