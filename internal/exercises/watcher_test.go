package exercises

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcher_InvalidatesOnChange(t *testing.T) {
	root := writeExerciseTree(t)
	source, err := NewSource(root)
	if err != nil {
		t.Fatal(err)
	}

	// Warm the cache
	if _, err := source.Languages(); err != nil {
		t.Fatal(err)
	}

	w, err := NewWatcher(source)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Stop()

	if err := os.MkdirAll(filepath.Join(root, "rust", "bowling"), 0755); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		langs, err := source.Languages()
		if err != nil {
			t.Fatal(err)
		}
		if len(langs) == 3 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Error("cache was not invalidated after a filesystem change")
}
