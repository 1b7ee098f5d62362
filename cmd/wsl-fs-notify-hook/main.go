//go:build windows

// Command wsl-fs-notify-hook builds (via -buildmode=c-shared) into the DLL
// that gets loaded into a host application's process, replacing that
// process's ReadDirectoryChangesW/CancelIo imports with pkg/hostshim's
// detours. How the DLL is injected — CreateRemoteThread+LoadLibrary, an
// AppInit_DLLs entry, or anything else — is outside this repository; this
// binary only needs to work correctly once already loaded.
//
// The reference implementation does this work from DllMain's
// DLL_PROCESS_ATTACH/DLL_PROCESS_DETACH cases. cgo's c-shared buildmode
// supplies its own DllMain for Go runtime bookkeeping, so rather than fight
// that, this binary exposes Install/Uninstall as ordinary exported C
// functions for the injecting process to call explicitly right after
// LoadLibrary — the idiomatic Go analog of the same load/unload contract.
package main

import "C"

import (
	"github.com/DanShaders/wsl-fs-notify/pkg/hostshim"
)

//export Install
func Install() C.int {
	if err := hostshim.Install(); err != nil {
		return 0
	}
	return 1
}

//export Uninstall
func Uninstall() C.int {
	if err := hostshim.Uninstall(); err != nil {
		return 0
	}
	return 1
}

func main() {}
