package keylock

import (
	"sync"
	"testing"
)

func TestLockSerializesSameKey(t *testing.T) {
	t.Parallel()

	l := New(8)
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.Lock("group:5")
			counter++
			unlock()
		}()
	}
	wg.Wait()

	if counter != 100 {
		t.Fatalf("counter = %d, want 100", counter)
	}
}

func TestNewDefaultsStripes(t *testing.T) {
	t.Parallel()

	l := New(0)
	if len(l.stripes) != DefaultStripes {
		t.Fatalf("stripes = %d, want %d", len(l.stripes), DefaultStripes)
	}

	unlock := l.Lock("broadcast")
	unlock()
}
