package erp

import (
	"sync"
	"testing"
	"time"
)

func TestClientUIDIsSafeForConcurrentUse(t *testing.T) {
	c := NewClient("http://erp.local", "erp", "station", "secret", time.Second)

	if c.UID() != 0 {
		t.Fatalf("uid before authentication = %d, want 0", c.UID())
	}

	// The sync worker refreshes the uid while handler goroutines read it
	// on every call; the race detector must stay quiet.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := int64(1); i <= 100; i++ {
			c.uid.Store(i)
		}
	}()
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if uid := c.UID(); uid < 0 || uid > 100 {
					t.Errorf("torn uid read: %d", uid)
				}
			}
		}()
	}
	wg.Wait()

	if c.UID() != 100 {
		t.Errorf("uid = %d, want 100", c.UID())
	}
}
