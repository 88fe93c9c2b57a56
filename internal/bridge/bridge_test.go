package bridge

import (
	"fmt"
	"sync"
	"testing"
)

func TestBridge_RegisterResolve(t *testing.T) {
	b := New()

	if _, ok := b.Resolve("missing"); ok {
		t.Error("Resolve should miss on an empty bridge")
	}

	b.Register("ext-1", 42)
	id, ok := b.Resolve("ext-1")
	if !ok || id != 42 {
		t.Errorf("Resolve(ext-1) = %d, %v, want 42, true", id, ok)
	}
	if b.Len() != 1 {
		t.Errorf("Len() = %d, want 1", b.Len())
	}
}

func TestBridge_LastWriteWins(t *testing.T) {
	b := New()
	b.Register("ext-1", 1)
	b.Register("ext-1", 2)

	id, _ := b.Resolve("ext-1")
	if id != 2 {
		t.Errorf("Resolve after re-registration = %d, want 2", id)
	}
	if b.Len() != 1 {
		t.Errorf("Len() = %d, want 1", b.Len())
	}
}

// A mapping registered before an id is handed out must be visible to every
// later lookup; concurrent readers never observe a torn table.
func TestBridge_ConcurrentAccess(t *testing.T) {
	b := New()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			ext := fmt.Sprintf("ext-%d", i)
			b.Register(ext, int64(i))
			id, ok := b.Resolve(ext)
			if !ok || id != int64(i) {
				t.Errorf("Resolve(%s) = %d, %v after own Register", ext, id, ok)
			}
		}()
	}
	wg.Wait()

	if b.Len() != 50 {
		t.Errorf("Len() = %d, want 50", b.Len())
	}
}
