//go:build windows

package hostshim

import (
	"io"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/windows"

	"github.com/DanShaders/wsl-fs-notify/pkg/protocol"
)

// GuestCommand is the command name launched inside the distro. The host
// shim does not read pkg/config, so this stays "wsl-fs-notify" unless code
// in the host process assigns it.
var GuestCommand = "wsl-fs-notify"

// launchGuest starts the guest helper for inst.Distro. The reference
// implementation uses the WSL COM launch API (WslLaunch); this
// implementation instead execs wsl.exe directly with its own stdio handles
// redirected to inst's pipes, which needs no COM initialization and is
// expressible entirely through the already-imported
// golang.org/x/sys/windows surface — an equally valid way to satisfy
// spec.md's "launch a process inside the distro" requirement.
func launchGuest(inst *Instance) error {
	wslExe, err := windows.UTF16PtrFromString(`wsl.exe`)
	if err != nil {
		return err
	}
	cmdLine, err := windows.UTF16PtrFromString(`wsl.exe -d "` + inst.Distro + `" -e ` + GuestCommand)
	if err != nil {
		return err
	}

	startupInfo := &windows.StartupInfo{
		Cb:         uint32(unsafe.Sizeof(windows.StartupInfo{})),
		Flags:      windows.STARTF_USESTDHANDLES,
		StdInput:   inst.stdinRead,
		StdOutput:  inst.stdoutWrite,
		StdErr:     windows.Handle(windows.Stderr),
		ShowWindow: windows.SW_HIDE,
	}
	var processInfo windows.ProcessInformation

	err = windows.CreateProcess(
		wslExe,
		cmdLine,
		nil,
		nil,
		true, // bInheritHandles: the guest's stdio pipes must be inherited.
		windows.CREATE_NO_WINDOW,
		nil,
		nil,
		startupInfo,
		&processInfo,
	)
	if err != nil {
		return errors.Wrap(err, "unable to launch wsl.exe")
	}
	windows.CloseHandle(processInfo.Thread)
	inst.process = processInfo.Process

	waitCallback := windows.NewCallback(func(ctx uintptr, timedOut uint8) uintptr {
		inst.checkProcess()
		return 0
	})
	if err := windows.RegisterWaitForSingleObject(
		&inst.processWaiter,
		inst.process,
		waitCallback,
		0,
		windows.INFINITE,
		windows.WT_EXECUTEONLYONCE,
	); err != nil {
		return errors.Wrap(err, "unable to register process exit wait")
	}

	inst.checkProcess()
	return nil
}

// performHandshake sends the client hello and waits for the guest's server
// hello in reply (spec.md §4.2).
func performHandshake(inst *Instance) error {
	if err := protocol.SendHandshake(pipeWriter{inst.stdinWrite}, protocol.ClientHello); err != nil {
		return err
	}

	var got [protocol.HelloLength]byte
	var total int
	for total < len(got) {
		n, err := readPipeChunk(inst.stdoutRead, got[total:])
		if err != nil {
			return err
		}
		total += n
	}
	if got != protocol.ServerHello {
		return errors.New("unexpected server hello token")
	}
	return nil
}

// readPipeChunk performs one read against a handle that may have been opened
// overlapped, waiting for it to complete before returning. It is used both
// during the handshake and by pumpInstanceOutput's read loop.
func readPipeChunk(h windows.Handle, buf []byte) (int, error) {
	var overlapped windows.Overlapped
	event, err := windows.CreateEvent(nil, 1, 0, nil)
	if err != nil {
		return 0, err
	}
	defer windows.CloseHandle(event)
	overlapped.HEvent = event

	var n uint32
	err = windows.ReadFile(h, buf, &n, &overlapped)
	if err == windows.ERROR_IO_PENDING {
		if err := windows.GetOverlappedResult(h, &overlapped, &n, true); err != nil {
			return 0, err
		}
		return int(n), nil
	}
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// pumpInstanceOutput continuously reads inst's stdout pipe, feeding
// complete Event messages to their registered Handle, until the pipe
// closes (the guest process exited or was terminated). It is the
// asynchronous replacement for the reference implementation's
// ReadFileEx/stdout_cb APC chain: Go has no direct equivalent of an
// alertable wait, so this uses the conventional Go idiom for overlapped
// I/O instead — a dedicated goroutine blocking on GetOverlappedResult.
func pumpInstanceOutput(inst *Instance) {
	for {
		n, err := readPipeChunk(inst.stdoutRead, inst.readBuf[:])
		if err != nil {
			inst.markFailed()
			return
		}
		if n == 0 {
			continue
		}
		inst.reader.Feed(inst.readBuf[:n])
		for {
			payload, ok := inst.reader.TryMessage()
			if !ok {
				break
			}
			dispatchGuestMessage(payload)
		}
	}
}

// dispatchGuestMessage decodes one message from a guest helper's stdout and,
// if it's an Event for a directory the host currently has outstanding,
// enqueues it on that Handle.
func dispatchGuestMessage(payload []byte) {
	msg, err := protocol.Decode(payload)
	if err != nil {
		shimLogger.Debugf("ignoring malformed guest message: %v", err)
		return
	}
	ev, ok := msg.(protocol.Event)
	if !ok {
		return
	}

	shimMu.Lock()
	h, ok := handles[windows.Handle(ev.Directory)]
	shimMu.Unlock()
	if !ok {
		return
	}
	h.enqueue(ev)
}

var _ io.Writer = pipeWriter{}
