//go:build windows

package hostshim

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sys/windows"
)

// overlappedPipeSerial disambiguates the named-pipe paths createOverlappedPipe
// generates within this process, alongside a UUID, since Windows anonymous
// pipes (CreatePipe) cannot be opened in overlapped mode — the standard
// workaround, used by this package for the guest's stdout pipe, is a
// uniquely-named local named pipe with exactly one instance, whose server
// end is opened overlapped and whose client end is opened as a plain
// synchronous handle (matching the original's MyCreatePipeEx helper).
var overlappedPipeSerial int64

// createOverlappedPipe creates a one-instance local named pipe and returns
// its two ends as readHandle (the overlapped server end) and writeHandle
// (the synchronous client end), suitable as a drop-in for CreatePipe when
// the read end must support asynchronous I/O.
func createOverlappedPipe(readHandle, writeHandle *windows.Handle, sa *windows.SecurityAttributes) error {
	serial := atomic.AddInt64(&overlappedPipeSerial, 1)
	name := fmt.Sprintf(`\\.\pipe\wsl-fs-notify-%s-%d`, uuid.NewString(), serial)
	namePtr, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return err
	}

	const pipeBufferSize = 4096
	server, err := windows.CreateNamedPipe(
		namePtr,
		windows.PIPE_ACCESS_INBOUND|windows.FILE_FLAG_OVERLAPPED,
		windows.PIPE_TYPE_BYTE|windows.PIPE_WAIT,
		1,
		pipeBufferSize,
		pipeBufferSize,
		0,
		sa,
	)
	if err != nil {
		return err
	}

	client, err := windows.CreateFile(
		namePtr,
		windows.GENERIC_WRITE,
		0,
		sa,
		windows.OPEN_EXISTING,
		windows.FILE_ATTRIBUTE_NORMAL,
		0,
	)
	if err != nil {
		windows.CloseHandle(server)
		return err
	}

	*readHandle = server
	*writeHandle = client
	return nil
}
