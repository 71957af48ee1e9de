package lock

import (
	"sync"
	"testing"
)

func TestLockSerializesKey(t *testing.T) {
	locks := Make(16)
	var counter int
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			locks.Lock("alerts")
			counter++
			locks.UnLock("alerts")
		}()
	}
	wg.Wait()
	if counter != 100 {
		t.Errorf("got %d, want 100", counter)
	}
}

func TestRLockAllowsSharing(t *testing.T) {
	locks := Make(16)
	locks.RLock("a")
	done := make(chan struct{})
	go func() {
		locks.RLock("a")
		locks.RUnLock("a")
		close(done)
	}()
	<-done
	locks.RUnLock("a")
}
