package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
)

func TestNewWatcher_RequiresPath(t *testing.T) {
	if _, err := NewWatcher(WatcherConfig{}); err == nil {
		t.Error("Expected error for empty watch path")
	}
}

func TestWatcher_Relevant(t *testing.T) {
	watcher, err := NewWatcher(WatcherConfig{Path: "/etc/saturn/saturn.yaml"})
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}

	tests := []struct {
		name  string
		event fsnotify.Event
		want  bool
	}{
		{"write to watched file", fsnotify.Event{Name: "/etc/saturn/saturn.yaml", Op: fsnotify.Write}, true},
		{"atomic rename", fsnotify.Event{Name: "/etc/saturn/saturn.yaml", Op: fsnotify.Rename}, true},
		{"create", fsnotify.Event{Name: "/etc/saturn/saturn.yaml", Op: fsnotify.Create}, true},
		{"chmod only", fsnotify.Event{Name: "/etc/saturn/saturn.yaml", Op: fsnotify.Chmod}, false},
		{"sibling file", fsnotify.Event{Name: "/etc/saturn/other.yaml", Op: fsnotify.Write}, false},
		{"unclean path", fsnotify.Event{Name: "/etc/saturn/./saturn.yaml", Op: fsnotify.Write}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := watcher.relevant(tt.event); got != tt.want {
				t.Errorf("relevant(%v) = %v, want %v", tt.event, got, tt.want)
			}
		})
	}
}

func TestWatcher_ReloadOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "saturn.yaml")
	if err := os.WriteFile(path, []byte("logging:\n  level: info\n"), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	watcher, err := NewWatcher(WatcherConfig{Path: path, DebounceInterval: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan struct{}, 1)
	done := make(chan error, 1)
	go func() {
		done <- watcher.Watch(ctx, func() error {
			select {
			case reloaded <- struct{}{}:
			default:
			}
			return nil
		})
	}()

	// Give the watcher time to register before touching the file.
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(path, []byte("logging:\n  level: debug\n"), 0o644); err != nil {
		t.Fatalf("Failed to rewrite config: %v", err)
	}

	select {
	case <-reloaded:
	case <-time.After(3 * time.Second):
		t.Fatal("Timed out waiting for reload")
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestWatcher_SecondWatchFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "saturn.yaml")
	if err := os.WriteFile(path, []byte(""), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	watcher, err := NewWatcher(WatcherConfig{Path: path})
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		close(started)
		done <- watcher.Watch(ctx, func() error { return nil })
	}()

	<-started
	time.Sleep(50 * time.Millisecond)

	if err := watcher.Watch(ctx, func() error { return nil }); err == nil {
		t.Error("Second concurrent Watch should fail")
	}

	cancel()
	<-done
}
