package sequence

import (
	"sync"
	"testing"
)

func TestSequencerMonotonic(t *testing.T) {
	s := New(0)
	if s.Next() != 1 || s.Next() != 2 {
		t.Fatal("expected 1, 2")
	}
	if s.Current() != 2 {
		t.Errorf("expected current=2, got %d", s.Current())
	}
}

func TestSequencerConcurrentUnique(t *testing.T) {
	s := New(10)
	seen := make(chan uint64, 400)

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				seen <- s.Next()
			}
		}()
	}
	wg.Wait()
	close(seen)

	uniq := map[uint64]bool{}
	for v := range seen {
		if v <= 10 {
			t.Errorf("unexpected seq %d", v)
		}
		uniq[v] = true
	}
	if len(uniq) != 400 {
		t.Errorf("expected 400 unique values, got %d", len(uniq))
	}
}
