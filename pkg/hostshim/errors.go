//go:build windows

// Package hostshim implements the host-side interception and translation
// engine (C4): it patches the host process's own import address table so
// that ReadDirectoryChangesW/CancelIo calls against a \\wsl$\<distro>\...
// handle are served by a guest helper process instead of the native
// filesystem, launches and manages that guest helper's lifecycle per
// distro, and translates its Event messages into FILE_NOTIFY_INFORMATION
// completions. It is grounded directly on the reference implementation's
// main-win.cc, handle.h, and pe.cc/pe.h (see DESIGN.md); the example corpus
// carries no comparable Windows IAT-patching code, so the ambient pieces
// (error wrapping, logging) still follow the teacher's conventions even
// though the core technique has no teacher analog.
package hostshim

import (
	"github.com/pkg/errors"

	"github.com/DanShaders/wsl-fs-notify/pkg/protocol"
)

// wrapProtocolError wraps a protocol.Code with additional context, keeping
// the code itself inspectable via errors.As/errors.Is for SetLastError
// translation at the detour boundary.
func wrapProtocolError(code protocol.Code, context string) error {
	return errors.Wrap(code, context)
}

// codeOf extracts the protocol.Code carried by err, if any, defaulting to
// ErrWSLStartFailed for an unrecognized error (the original implementation's
// SetLastError call always needs *some* code to report).
func codeOf(err error) protocol.Code {
	if code, ok := errors.Cause(err).(protocol.Code); ok {
		return code
	}
	return protocol.ErrWSLStartFailed
}
