//go:build windows

package hostshim

import "golang.org/x/sys/windows"

// pipeWriter adapts a windows.Handle to io.Writer, for driving a
// protocol.Encoder directly over a guest instance's stdin pipe.
type pipeWriter struct {
	handle windows.Handle
}

func (w pipeWriter) Write(p []byte) (int, error) {
	var written uint32
	if err := windows.WriteFile(w.handle, p, &written, nil); err != nil {
		return int(written), err
	}
	return int(written), nil
}
