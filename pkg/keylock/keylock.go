// Package keylock provides striped mutexes addressed by string keys.
package keylock

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

const DefaultStripes = 256

// KeyLock serializes callers that use the same key. Different keys may share
// a stripe, which only costs concurrency, never correctness.
type KeyLock struct {
	stripes []sync.Mutex
}

func New(stripes int) *KeyLock {
	if stripes <= 0 {
		stripes = DefaultStripes
	}
	return &KeyLock{stripes: make([]sync.Mutex, stripes)}
}

// Lock acquires the stripe for key and returns its unlock func.
func (l *KeyLock) Lock(key string) func() {
	mu := &l.stripes[xxhash.Sum64String(key)%uint64(len(l.stripes))]
	mu.Lock()
	return mu.Unlock
}
