//go:build linux

package guestwatch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/DanShaders/wsl-fs-notify/pkg/logging"
	"github.com/DanShaders/wsl-fs-notify/pkg/protocol"
)

// maximumEventWaitTime bounds how long a test will poll the watcher's
// inotify fd for an expected event before giving up.
const maximumEventWaitTime = 5 * time.Second

// waitForEvent polls w's inotify fd until a decoded Event is available from
// reader, feeding the pipe as needed, or fails the test after
// maximumEventWaitTime.
func waitForEvent(t *testing.T, w *Watcher, pr *os.File, reader *protocol.Reader) protocol.Event {
	t.Helper()
	deadline := time.Now().Add(maximumEventWaitTime)

	for {
		if payload, ok := reader.TryMessage(); ok {
			msg, err := protocol.Decode(payload)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			ev, ok := msg.(protocol.Event)
			if !ok {
				t.Fatalf("expected Event, got %T", msg)
			}
			return ev
		}

		if time.Now().After(deadline) {
			t.Fatal("event not received in time")
		}

		fds := []unix.PollFd{{Fd: int32(w.InotifyFd()), Events: unix.POLLIN}}
		if _, err := unix.Poll(fds, 200); err != nil && err != unix.EINTR {
			t.Fatalf("poll: %v", err)
		}
		if fds[0].Revents != 0 {
			w.Drain()
		}

		pr.SetReadDeadline(time.Now().Add(10 * time.Millisecond))
		scratch := make([]byte, 4096)
		n, err := pr.Read(scratch)
		if n > 0 {
			reader.Feed(scratch[:n])
		}
		_ = err
	}
}

func TestWatcherEmitsCreateAndRemove(t *testing.T) {
	dir := t.TempDir()

	pipeReader, pipeWriter, err := os.Pipe()
	if err != nil {
		t.Fatalf("unable to create pipe: %v", err)
	}
	defer pipeReader.Close()
	defer pipeWriter.Close()

	encoder := protocol.NewEncoder(pipeWriter)
	w, err := NewWatcher(42, true, 0, encoder, logging.RootLogger.Sublogger("test"))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if err := w.InstallRoot(dir); err != nil {
		t.Fatalf("InstallRoot: %v", err)
	}
	w.RunInitialScan()
	defer w.Teardown()

	reader := protocol.NewReader()

	testFile := filepath.Join(dir, "test_file")
	if f, err := os.Create(testFile); err != nil {
		t.Fatalf("unable to create test file: %v", err)
	} else {
		f.Close()
	}

	ev := waitForEvent(t, w, pipeReader, reader)
	if ev.Directory != 42 {
		t.Fatalf("event directory: got %d, want 42", ev.Directory)
	}
	if ev.Action != protocol.ActionAdded {
		t.Fatalf("event action: got %v, want %v", ev.Action, protocol.ActionAdded)
	}
	if ev.Path != "test_file" {
		t.Fatalf("event path: got %q, want %q", ev.Path, "test_file")
	}

	if err := os.Remove(testFile); err != nil {
		t.Fatalf("unable to remove test file: %v", err)
	}
	ev = waitForEvent(t, w, pipeReader, reader)
	if ev.Action != protocol.ActionRemoved {
		t.Fatalf("event action: got %v, want %v", ev.Action, protocol.ActionRemoved)
	}
	if ev.Path != "test_file" {
		t.Fatalf("event path: got %q, want %q", ev.Path, "test_file")
	}
}

func TestWatcherRecursiveSubdirectory(t *testing.T) {
	dir := t.TempDir()

	pipeReader, pipeWriter, err := os.Pipe()
	if err != nil {
		t.Fatalf("unable to create pipe: %v", err)
	}
	defer pipeReader.Close()
	defer pipeWriter.Close()

	encoder := protocol.NewEncoder(pipeWriter)
	w, err := NewWatcher(7, true, 0, encoder, logging.RootLogger.Sublogger("test"))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if err := w.InstallRoot(dir); err != nil {
		t.Fatalf("InstallRoot: %v", err)
	}
	w.RunInitialScan()
	defer w.Teardown()

	reader := protocol.NewReader()

	sub := filepath.Join(dir, "sub")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatalf("unable to create subdirectory: %v", err)
	}

	ev := waitForEvent(t, w, pipeReader, reader)
	if ev.Action != protocol.ActionAdded || ev.Path != "sub" {
		t.Fatalf("expected ADDED \"sub\", got %v %q", ev.Action, ev.Path)
	}

	// Give the recursive-install path a moment to install sub's watch.
	time.Sleep(50 * time.Millisecond)

	nested := filepath.Join(sub, "nested")
	if f, err := os.Create(nested); err != nil {
		t.Fatalf("unable to create nested file: %v", err)
	} else {
		f.Close()
	}

	ev = waitForEvent(t, w, pipeReader, reader)
	if ev.Action != protocol.ActionAdded || ev.Path != "sub/nested" {
		t.Fatalf("expected ADDED \"sub/nested\", got %v %q", ev.Action, ev.Path)
	}
}
