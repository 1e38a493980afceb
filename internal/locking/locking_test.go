package locking

import (
	"sync"
	"testing"
)

func TestStripedSerializesSameKey(t *testing.T) {
	l := NewStriped(8)
	var (
		wg      sync.WaitGroup
		counter int
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.DoWithLock("k", func() error {
				counter++
				return nil
			})
		}()
	}
	wg.Wait()
	if counter != 100 {
		t.Fatalf("counter = %d, want 100", counter)
	}
}

func TestStripedRoundsToPowerOfTwo(t *testing.T) {
	for in, want := range map[int]int{0: 256, 1: 1, 3: 4, 64: 64, 100: 128} {
		if got := len(NewStriped(in).stripes); got != want {
			t.Fatalf("NewStriped(%d) stripes = %d, want %d", in, got, want)
		}
	}
}
