//go:build windows

package hostshim

import (
	"strings"
	"sync"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/windows"

	"github.com/DanShaders/wsl-fs-notify/pkg/logging"
	"github.com/DanShaders/wsl-fs-notify/pkg/peimport"
	"github.com/DanShaders/wsl-fs-notify/pkg/protocol"
)

// wslUNCPrefix is the UNC path prefix WSL uses to expose a distro's
// filesystem to the host (spec.md §4.1). distroNameOffset is where the
// distro name starts within that prefix — matching the reference
// implementation's path.find(L'\\', 13) (original: `\\?\UNC\wsl$\`, 13
// characters).
const (
	wslUNCPrefix     = `\\?\UNC\wsl$\`
	distroNameOffset = 13
)

var shimLogger = logging.RootLogger.Sublogger("hostshim")

var (
	// shimMu guards instances and handles below. Unlike pkg/guestwatch's
	// deliberately single-threaded engine, the host shim is entered
	// concurrently: the host application calls ReadDirectoryChangesW and
	// CancelIo from its own threads, and each Instance's stdout pump runs
	// on its own goroutine, so shared state here is protected the
	// conventional Go way rather than serialized through a single loop.
	shimMu sync.Mutex
	// instances maps distro name (lowercased) to its guest helper Instance.
	instances = make(map[string]*Instance)
	// handles maps a watched directory's HANDLE (host-process-local) to its
	// pending-event/overlapped-call state.
	handles = make(map[windows.Handle]*Handle)
)

// originalReadDirectoryChangesW and originalCancelIo hold the addresses this
// package's IAT patch replaced, so non-WSL calls can still be forwarded to
// the real kernel32 implementation.
var (
	originalReadDirectoryChangesW uintptr
	originalCancelIo              uintptr

	readDirectoryChangesWIATSlot *uintptr
	cancelIoIATSlot              *uintptr
)

// Install patches the host process's own import address table so that
// ReadDirectoryChangesW and CancelIo calls are routed through this package's
// detour functions. It is the Go replacement for the reference
// implementation's DetourAttach calls (main-win.cc's DllMain), using a
// hand-rolled IAT patch (pkg/peimport) in place of a detour library — see
// DESIGN.md for why no Go detour-library binding was available in the
// example corpus to wire instead.
func Install() error {
	base, err := windows.GetModuleHandle("")
	if err != nil {
		return errors.Wrap(err, "unable to get host module handle")
	}

	var findErr error
	err = peimport.ForEachImport(uintptr(base), func(dll, fn string, slot *uintptr) {
		if findErr != nil {
			return
		}
		if !strings.EqualFold(dll, "kernel32.dll") {
			return
		}
		switch fn {
		case "ReadDirectoryChangesW":
			readDirectoryChangesWIATSlot = slot
		case "CancelIo":
			cancelIoIATSlot = slot
		}
	})
	if err != nil {
		return errors.Wrap(err, "unable to walk host import table")
	}
	if readDirectoryChangesWIATSlot == nil || cancelIoIATSlot == nil {
		return errors.New("host process does not statically import ReadDirectoryChangesW/CancelIo")
	}

	readDirectoryChangesWDetour := windows.NewCallback(readDirectoryChangesWDetourImpl)
	cancelIoDetour := windows.NewCallback(cancelIoDetourImpl)

	originalReadDirectoryChangesW = *readDirectoryChangesWIATSlot
	originalCancelIo = *cancelIoIATSlot

	if err := patchSlot(readDirectoryChangesWIATSlot, readDirectoryChangesWDetour); err != nil {
		return errors.Wrap(err, "unable to patch ReadDirectoryChangesW import")
	}
	if err := patchSlot(cancelIoIATSlot, cancelIoDetour); err != nil {
		patchSlot(readDirectoryChangesWIATSlot, originalReadDirectoryChangesW)
		return errors.Wrap(err, "unable to patch CancelIo import")
	}
	return nil
}

// Uninstall restores the host process's original import table entries and
// terminates every guest helper instance, mirroring DllMain's
// DLL_PROCESS_DETACH handling.
func Uninstall() error {
	if readDirectoryChangesWIATSlot != nil {
		patchSlot(readDirectoryChangesWIATSlot, originalReadDirectoryChangesW)
	}
	if cancelIoIATSlot != nil {
		patchSlot(cancelIoIATSlot, originalCancelIo)
	}

	shimMu.Lock()
	defer shimMu.Unlock()
	for _, inst := range instances {
		inst.markFailed()
		if inst.process != 0 {
			windows.TerminateProcess(inst.process, 0)
		}
		if inst.processWaiter != 0 {
			windows.UnregisterWait(inst.processWaiter)
		}
	}
	instances = make(map[string]*Instance)
	handles = make(map[windows.Handle]*Handle)
	return nil
}

// patchSlot overwrites the function pointer at *slot with value, toggling
// page protection around the write (the import address table normally lives
// in a read-only section once the loader has resolved it).
func patchSlot(slot *uintptr, value uintptr) error {
	var oldProtect uint32
	addr := uintptr(unsafe.Pointer(slot))
	const length = unsafe.Sizeof(uintptr(0))
	if err := windows.VirtualProtect(addr, length, windows.PAGE_READWRITE, &oldProtect); err != nil {
		return err
	}
	*slot = value
	var ignored uint32
	_ = windows.VirtualProtect(addr, length, oldProtect, &ignored)
	return nil
}

// translateWSLPath recognizes a \\?\UNC\wsl$\<distro>\<path> handle target,
// returning the distro name and a forward-slash POSIX path suitable for the
// guest helper, or ok=false if path isn't a WSL UNC path at all (spec.md
// §4.1: non-WSL paths must pass through to the real API untouched).
func translateWSLPath(path string) (distro, posixPath string, ok bool) {
	if !strings.HasPrefix(strings.ToLower(path), strings.ToLower(wslUNCPrefix)) {
		return "", "", false
	}
	rest := path[distroNameOffset:]
	sep := strings.IndexByte(rest, '\\')
	if sep < 0 {
		return "", "", false
	}
	distro = rest[:sep]
	posixPath = strings.ReplaceAll(rest[sep:], `\`, "/")
	return distro, posixPath, true
}

// getPathByHandle resolves hDirectory's final path, mirroring
// GetFinalPathNameByHandleW's use in the reference implementation.
func getPathByHandle(h windows.Handle) (string, error) {
	buf := make([]uint16, 1024)
	n, err := windows.GetFinalPathNameByHandle(h, &buf[0], uint32(len(buf)), 0)
	if err != nil {
		return "", err
	}
	if int(n) > len(buf) {
		buf = make([]uint16, n)
		if _, err := windows.GetFinalPathNameByHandle(h, &buf[0], uint32(len(buf)), 0); err != nil {
			return "", err
		}
	}
	return windows.UTF16ToString(buf), nil
}

// getOrLaunchInstance returns the guest helper Instance for distro, creating
// and launching one if none exists yet.
func getOrLaunchInstance(distro string) (*Instance, error) {
	key := strings.ToLower(distro)

	shimMu.Lock()
	if inst, ok := instances[key]; ok && !inst.hasFailed() {
		shimMu.Unlock()
		return inst, nil
	}
	shimMu.Unlock()

	inst, err := newInstance(distro)
	if err != nil {
		return nil, wrapProtocolError(protocol.ErrWSLStartFailed, err.Error())
	}
	if err := launchGuest(inst); err != nil {
		inst.markFailed()
		return nil, wrapProtocolError(protocol.ErrWSLStartFailed, err.Error())
	}
	if err := performHandshake(inst); err != nil {
		inst.markFailed()
		return nil, wrapProtocolError(protocol.ErrHandshakeFailed, err.Error())
	}

	go pumpInstanceOutput(inst)

	shimMu.Lock()
	instances[key] = inst
	shimMu.Unlock()
	return inst, nil
}

// invokeCompletionRoutine calls a LPOVERLAPPED_COMPLETION_ROUTINE function
// pointer directly, bypassing the normal NewProc/DLL lookup path since the
// pointer here was handed to us by the host application's own
// ReadDirectoryChangesW call, not looked up by name.
func invokeCompletionRoutine(proc uintptr, errorCode, bytesTransferred uint32, overlapped *windows.Overlapped) {
	if proc == 0 {
		return
	}
	windows.Syscall(proc, 3,
		uintptr(errorCode),
		uintptr(bytesTransferred),
		uintptr(unsafe.Pointer(overlapped)),
	)
}
