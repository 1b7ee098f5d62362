//go:build windows

package hostshim

import (
	"sync/atomic"
	"unsafe"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sys/windows"

	"github.com/DanShaders/wsl-fs-notify/pkg/logging"
	"github.com/DanShaders/wsl-fs-notify/pkg/protocol"
)

// instanceStdoutBufferSize is the scratch buffer size for each overlapped
// ReadFile on a guest helper's stdout pipe.
const instanceStdoutBufferSize = 4096

// Instance is one guest helper process for one distro: its stdin/stdout
// pipes, its process handle, and the partially-assembled stream of Event
// messages it's sending back. It corresponds to the reference
// implementation's ForeignNotifier.
type Instance struct {
	// Distro is the WSL distro name this instance serves.
	Distro string

	// stdinRead/stdinWrite are the guest process's standard input pipe
	// ends; the host writes WatchRequest/UnwatchRequest messages to
	// stdinWrite.
	stdinRead, stdinWrite windows.Handle
	// stdoutRead/stdoutWrite are the guest process's standard output pipe
	// ends; the host reads framed Event messages from stdoutRead.
	stdoutRead, stdoutWrite windows.Handle
	// process is the guest helper's process handle.
	process windows.Handle
	// processWaiter is the wait-handle registered via
	// RegisterWaitForSingleObject to detect guest process exit.
	processWaiter windows.Handle

	// failed is set once the guest process is observed to have exited;
	// read/written atomically since it's touched from the wait callback.
	failed int32

	// id is a per-instance correlation ID attached to every log line so
	// that interleaved logs from multiple distros' guest processes can be
	// told apart.
	id string
	// logger is this instance's sublogger, named by id.
	logger *logging.Logger

	// reader assembles framed Event messages from stdoutRead.
	reader *protocol.Reader
	// readBuf is the scratch buffer for each overlapped read.
	readBuf [instanceStdoutBufferSize]byte
	// readOverlapped is not used by the read path: readPipeChunk sets up
	// its own Overlapped for every read of stdoutRead.
	readOverlapped windows.Overlapped
}

// newInstance allocates pipes for a new guest helper instance, but does not
// launch the process; see launchGuest in guestproc.go.
func newInstance(distro string) (*Instance, error) {
	inst := &Instance{
		Distro: distro,
		id:     uuid.NewString(),
		reader: protocol.NewReader(),
	}
	inst.logger = logging.RootLogger.Sublogger("hostshim").Sublogger(inst.id)

	sa := &windows.SecurityAttributes{
		Length:        uint32(unsafe.Sizeof(windows.SecurityAttributes{})),
		InheritHandle: 1,
	}

	if err := windows.CreatePipe(&inst.stdinRead, &inst.stdinWrite, sa, 0); err != nil {
		return nil, errors.Wrap(err, "unable to create stdin pipe")
	}
	if err := createOverlappedPipe(&inst.stdoutRead, &inst.stdoutWrite, sa); err != nil {
		windows.CloseHandle(inst.stdinRead)
		windows.CloseHandle(inst.stdinWrite)
		return nil, errors.Wrap(err, "unable to create stdout pipe")
	}
	return inst, nil
}

// markFailed records that the guest process has exited, tearing down its
// pipes. It is safe to call more than once or concurrently with the wait
// callback.
func (inst *Instance) markFailed() {
	if !atomic.CompareAndSwapInt32(&inst.failed, 0, 1) {
		return
	}
	inst.logger.Warn(errors.New("guest helper process exited"))
	for _, h := range []windows.Handle{inst.stdinRead, inst.stdinWrite, inst.stdoutRead, inst.stdoutWrite} {
		if h != 0 && h != windows.InvalidHandle {
			windows.CancelIoEx(h, nil)
			windows.CloseHandle(h)
		}
	}
}

// hasFailed reports whether markFailed has run.
func (inst *Instance) hasFailed() bool {
	return atomic.LoadInt32(&inst.failed) != 0
}

// checkProcess polls the guest process's exit code once, marking the
// instance failed if it has already terminated. The reference
// implementation does this both right after launch and from its
// RegisterWaitForSingleObject callback; this implementation does the same
// (see launchGuest in guestproc.go).
func (inst *Instance) checkProcess() {
	var exitCode uint32
	if err := windows.GetExitCodeProcess(inst.process, &exitCode); err != nil {
		return
	}
	if exitCode != 259 /* STILL_ACTIVE */ {
		inst.markFailed()
	}
}
