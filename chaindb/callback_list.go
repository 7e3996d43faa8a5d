package chaindb

import (
	"sync"

	"golang.org/x/exp/slices"
)

// makes a copy of the list on update.
// `get` returns a snapshot that is safe to iterate while the list changes
type callbackList[T comparable] struct {
	mutex     sync.Mutex
	callbacks []T
}

func (self *callbackList[T]) get() []T {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.callbacks
}

func (self *callbackList[T]) len() int {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return len(self.callbacks)
}

func (self *callbackList[T]) add(callback T) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	if 0 <= slices.Index(self.callbacks, callback) {
		// already present
		return
	}
	nextCallbacks := slices.Clone(self.callbacks)
	nextCallbacks = append(nextCallbacks, callback)
	self.callbacks = nextCallbacks
}

// returns true if the callback was present
func (self *callbackList[T]) remove(callback T) bool {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	i := slices.Index(self.callbacks, callback)
	if i < 0 {
		return false
	}
	nextCallbacks := slices.Clone(self.callbacks)
	nextCallbacks = slices.Delete(nextCallbacks, i, i+1)
	self.callbacks = nextCallbacks
	return true
}
