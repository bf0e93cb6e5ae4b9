package confloader

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcherDetectsWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "keyvault.yaml")
	if err := os.WriteFile(path, []byte("cache:\n  entries: 10\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	w, err := NewWatcher(nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	changed := make(chan string, 4)
	w.OnChange(func(p string) { changed <- p })

	if err := w.Watch(path); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	w.StartAsync()

	// Give the watch loop a moment before mutating the file.
	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(path, []byte("cache:\n  entries: 20\n"), 0o600); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case p := <-changed:
		if filepath.Base(p) != "keyvault.yaml" {
			t.Errorf("changed path = %q", p)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no change event within 3s")
	}
}

func TestWatcherReloadCycle(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "keyvault.yaml")
	if err := os.WriteFile(path, []byte("batch:\n  size: 10\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	w, err := NewWatcher(nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	reloaded := make(chan Settings, 4)
	w.OnChange(func(string) {
		var s Settings
		if err := New(WithConfigFile(path)).Load(&s); err != nil {
			return
		}
		reloaded <- s
	})

	if err := w.Watch(path); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	w.StartAsync()

	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(path, []byte("batch:\n  size: 99\n"), 0o600); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	deadline := time.After(3 * time.Second)
	for {
		select {
		case s := <-reloaded:
			if s.Batch.Size == 99 {
				return
			}
			// Partial write events can race the final content; keep
			// draining until the deadline.
		case <-deadline:
			t.Fatal("reloaded settings never reached new value")
		}
	}
}

func TestWatcherStopIsIdempotent(t *testing.T) {
	w, err := NewWatcher(nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}
