package locker

import (
	"sync"
	"testing"
)

func TestKeyed_SerializesSameKey(t *testing.T) {
	k := New()
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("acc-1")
			defer unlock()
			v := counter
			v++
			counter = v
		}()
	}
	wg.Wait()

	if counter != 50 {
		t.Errorf("counter = %d, want 50", counter)
	}
	if k.Len() != 0 {
		t.Errorf("Len() = %d after all unlocks, want 0", k.Len())
	}
}

func TestKeyed_IndependentKeys(t *testing.T) {
	k := New()
	unlockA := k.Lock("a")
	unlockB := k.Lock("b")

	if !k.IsLocked("a") || !k.IsLocked("b") {
		t.Fatal("expected both keys locked")
	}
	unlockA()
	if k.IsLocked("a") {
		t.Error("expected a to be released")
	}
	unlockB()
	if k.Len() != 0 {
		t.Errorf("Len() = %d, want 0", k.Len())
	}
}
