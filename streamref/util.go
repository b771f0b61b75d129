package streamref

import (
	"sync"
)

// makes a copy of the list on update
type CallbackList[T any] struct {
	mutex     sync.Mutex
	callbacks map[int]T
	nextId    int
	ordered   []int
}

func NewCallbackList[T any]() *CallbackList[T] {
	return &CallbackList[T]{
		callbacks: map[int]T{},
		nextId:    0,
		ordered:   []int{},
	}
}

func (self *CallbackList[T]) Get() []T {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	callbacks := make([]T, 0, len(self.ordered))
	for _, callbackId := range self.ordered {
		callbacks = append(callbacks, self.callbacks[callbackId])
	}
	return callbacks
}

func (self *CallbackList[T]) Add(callback T) int {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	callbackId := self.nextId
	self.nextId += 1
	self.callbacks[callbackId] = callback
	self.ordered = append(self.ordered, callbackId)
	return callbackId
}

func (self *CallbackList[T]) Remove(callbackId int) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	if _, ok := self.callbacks[callbackId]; !ok {
		// not present
		return
	}
	delete(self.callbacks, callbackId)
	ordered := make([]int, 0, len(self.ordered)-1)
	for _, id := range self.ordered {
		if id != callbackId {
			ordered = append(ordered, id)
		}
	}
	self.ordered = ordered
}

func (self *CallbackList[T]) Count() int {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	return len(self.callbacks)
}
