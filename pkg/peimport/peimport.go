// Package peimport walks the import address table of a PE32+ module loaded
// in the current process, yielding each imported function's DLL name,
// function name, and the address of its IAT slot. It is the mechanism
// pkg/hostshim uses to locate and patch the host process's own
// ReadDirectoryChangesW/CancelIo import entries, in place of a detour
// library (spec.md's Design Notes call out that "any detour library, or a
// hand-rolled import-table patch, is an acceptable implementation choice";
// the example corpus carries no Go binding for either Detours or a PE
// import walker, so this package is grounded directly on the reference
// implementation's pe.cc/pe.h rather than on any teacher/example Go file —
// see DESIGN.md).
package peimport

import (
	"encoding/binary"
	"unsafe"

	"github.com/pkg/errors"
)

// maxDataDirectories bounds the PE Optional Header's data directory count
// (the format defines at most 16; anything larger is corrupt).
const maxDataDirectories = 16

// importDirectoryEntrySize is the packed size of one Import Directory Table
// entry.
const importDirectoryEntrySize = 20

// Callback is invoked once per imported function. iatSlot points at the live
// in-memory IAT slot for that import: overwriting *iatSlot redirects every
// subsequent call through that slot (i.e. every call the module makes to
// that imported function) to a new address.
type Callback func(dllName, functionName string, iatSlot *uintptr)

// reader abstracts reading bytes at a virtual address within the mapped
// module, so the walker can be exercised in tests against a byte slice
// standing in for mapped memory (see peimport_test.go) as well as against
// the real process image.
type reader interface {
	// read returns length bytes starting at virtual address addr.
	read(addr uintptr, length int) ([]byte, error)
}

// memoryReader reads directly from process memory at arbitrary addresses.
// It is only ever constructed (via unsafe pointer arithmetic) against memory
// known to belong to a loaded, mapped PE image, which is always readable for
// the lifetime of that module.
type memoryReader struct{}

func (memoryReader) read(addr uintptr, length int) ([]byte, error) {
	if addr == 0 {
		return nil, errors.New("nil address")
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), length), nil
}

// ForEachImport walks every import of the PE32+ module mapped at base
// (typically the result of windows.GetModuleHandle for the host process's
// own executable or a specific DLL), invoking callback for each imported
// function.
func ForEachImport(base uintptr, callback Callback) error {
	return forEachImport(memoryReader{}, base, callback)
}

func forEachImport(r reader, base uintptr, callback Callback) error {
	dosMagic, err := r.read(base, 2)
	if err != nil {
		return errors.Wrap(err, "unable to read DOS header")
	}
	if binary.LittleEndian.Uint16(dosMagic) != 0x5a4d {
		return errors.New("not a DOS/PE image (bad MZ magic)")
	}

	peOffsetRaw, err := r.read(base+0x3c, 4)
	if err != nil {
		return errors.Wrap(err, "unable to read PE header offset")
	}
	peOffset := uintptr(binary.LittleEndian.Uint32(peOffsetRaw))

	peMagic, err := r.read(base+peOffset, 4)
	if err != nil {
		return errors.Wrap(err, "unable to read PE signature")
	}
	if binary.LittleEndian.Uint32(peMagic) != 0x00004550 {
		return errors.New("bad PE signature")
	}

	coffOffset := peOffset + 4
	coff, err := r.read(base+coffOffset, 20)
	if err != nil {
		return errors.Wrap(err, "unable to read COFF header")
	}
	sizeOfOptionalHeader := binary.LittleEndian.Uint16(coff[16:18])
	if sizeOfOptionalHeader < 112 {
		return errors.New("only PE32+ images are supported")
	}

	optionalOffset := coffOffset + 20
	optional, err := r.read(base+optionalOffset, 112)
	if err != nil {
		return errors.Wrap(err, "unable to read optional header")
	}
	if binary.LittleEndian.Uint16(optional[0:2]) != 0x20b {
		return errors.New("not a PE32+ image")
	}
	numberOfRvaAndSizes := binary.LittleEndian.Uint32(optional[108:112])
	if numberOfRvaAndSizes < 2 || numberOfRvaAndSizes > maxDataDirectories {
		return errors.New("implausible number of data directories")
	}
	if uint32(sizeOfOptionalHeader) != 112+numberOfRvaAndSizes*8 {
		return errors.New("optional header length mismatch")
	}

	dataDirectoriesOffset := optionalOffset + 112
	dataDirectories, err := r.read(base+dataDirectoriesOffset, int(8*numberOfRvaAndSizes))
	if err != nil {
		return errors.Wrap(err, "unable to read data directories")
	}
	// Index 1 is the Import Directory Table (IMAGE_DIRECTORY_ENTRY_IMPORT).
	importDirectoryRVA := binary.LittleEndian.Uint32(dataDirectories[8:12])

	offset := uintptr(importDirectoryRVA)
	for {
		entry, err := r.read(base+offset, importDirectoryEntrySize)
		if err != nil {
			return errors.Wrap(err, "unable to read import directory entry")
		}
		importLookupTableRVA := binary.LittleEndian.Uint32(entry[0:4])
		if importLookupTableRVA == 0 {
			break
		}
		forwarderChain := binary.LittleEndian.Uint32(entry[8:12])
		if forwarderChain != 0 {
			return errors.New("forwarder chains are not supported")
		}
		nameRVA := binary.LittleEndian.Uint32(entry[12:16])
		importAddressTableRVA := binary.LittleEndian.Uint32(entry[16:20])

		dllName, err := readCString(r, base+uintptr(nameRVA))
		if err != nil {
			return errors.Wrap(err, "unable to read import DLL name")
		}

		iltOffset := uintptr(importLookupTableRVA)
		iatOffset := uintptr(importAddressTableRVA)
		for {
			iltEntry, err := r.read(base+iltOffset, 8)
			if err != nil {
				return errors.Wrap(err, "unable to read import lookup table entry")
			}
			ilt := binary.LittleEndian.Uint64(iltEntry)
			if ilt == 0 {
				break
			}
			if ilt&(1<<63) == 0 {
				// Import by name: the low 31 bits are the RVA of a
				// IMAGE_IMPORT_BY_NAME structure, whose first 2 bytes are a
				// hint and whose name immediately follows.
				nameAddr := base + uintptr(ilt&((1<<31)-1)) + 2
				functionName, err := readCString(r, nameAddr)
				if err != nil {
					return errors.Wrap(err, "unable to read import function name")
				}
				iatSlot := (*uintptr)(unsafe.Pointer(base + iatOffset))
				callback(dllName, functionName, iatSlot)
			}
			iltOffset += 8
			iatOffset += 8
		}

		offset += importDirectoryEntrySize
	}

	return nil
}

// readCString reads a NUL-terminated string at addr, one byte at a time (the
// reader abstraction has no notion of "read until terminator", so this stays
// conservative about how far it scans).
func readCString(r reader, addr uintptr) (string, error) {
	const maxLen = 512
	var buf []byte
	for i := 0; i < maxLen; i++ {
		b, err := r.read(addr+uintptr(i), 1)
		if err != nil {
			return "", err
		}
		if b[0] == 0 {
			break
		}
		buf = append(buf, b[0])
	}
	return string(buf), nil
}
