package lockfile

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestAcquireRecordsHolder(t *testing.T) {
	dir := t.TempDir()
	lock, err := AcquireLock(dir, "serve")
	if err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}
	defer lock.Release()

	content, err := os.ReadFile(filepath.Join(dir, LockFileName))
	if err != nil {
		t.Fatalf("failed to read lock file: %v", err)
	}
	h := parseHolder(string(content))
	if h.PID != os.Getpid() || h.Command != "serve" || h.Started.IsZero() {
		t.Errorf("holder = %+v", h)
	}
}

func TestLockConflict(t *testing.T) {
	dir := t.TempDir()
	first, err := AcquireLock(dir, "serve")
	if err != nil {
		t.Fatalf("first AcquireLock failed: %v", err)
	}
	defer first.Release()

	_, err = AcquireLock(dir, "purge")
	if !errors.Is(err, ErrLocked) {
		t.Fatalf("second AcquireLock error = %v, want ErrLocked", err)
	}
	var lockErr *LockError
	if !errors.As(err, &lockErr) {
		t.Fatalf("error is not a *LockError: %T", err)
	}
	if lockErr.Holder.PID != os.Getpid() || !lockErr.Holder.Running {
		t.Errorf("holder = %+v", lockErr.Holder)
	}
	if !strings.Contains(err.Error(), "rm "+filepath.Join(dir, LockFileName)) {
		t.Errorf("error should explain how to clear a stale lock: %v", err)
	}

	// The failed attempt must not have clobbered the holder record.
	content, _ := os.ReadFile(filepath.Join(dir, LockFileName))
	if parseHolder(string(content)).Command != "serve" {
		t.Errorf("lock file rewritten by losing process: %q", content)
	}
}

func TestReleaseAndReacquire(t *testing.T) {
	dir := t.TempDir()
	lock, err := AcquireLock(dir, "serve")
	if err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Errorf("second Release should be a no-op, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, LockFileName)); !os.IsNotExist(err) {
		t.Error("lock file should be removed")
	}

	again, err := AcquireLock(dir, "serve")
	if err != nil {
		t.Fatalf("reacquire failed: %v", err)
	}
	again.Release()
}

func TestAcquireCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "state")
	lock, err := AcquireLock(dir, "serve")
	if err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}
	defer lock.Release()
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("state directory not created: %v", err)
	}
}

func TestParseHolder(t *testing.T) {
	tests := []struct {
		name    string
		content string
		pid     int
		command string
	}{
		{"full record", "pid=12345\ncommand=serve\nstarted=2026-01-02T03:04:05Z\n", 12345, "serve"},
		{"pid only", "pid=67890\n", 67890, ""},
		{"garbage pid", "pid=abc\ncommand=chat", 0, "chat"},
		{"empty", "", 0, ""},
		{"no separator", "pid12345", 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := parseHolder(tt.content)
			if h.PID != tt.pid || h.Command != tt.command {
				t.Errorf("parseHolder(%q) = %+v", tt.content, h)
			}
		})
	}
	h := parseHolder("pid=1\nstarted=2026-01-02T03:04:05Z")
	if !h.Started.Equal(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)) {
		t.Errorf("started = %v", h.Started)
	}
}

func TestHolderString(t *testing.T) {
	if got := (Holder{}).String(); got != "unknown process" {
		t.Errorf("empty holder = %q", got)
	}
	got := Holder{PID: 42, Command: "serve"}.String()
	if !strings.Contains(got, "PID 42") || !strings.Contains(got, "stale lock") {
		t.Errorf("holder string = %q", got)
	}
}

func TestIsProcessRunning(t *testing.T) {
	if !isProcessRunning(os.Getpid()) {
		t.Error("our own process should be detected as running")
	}
}
