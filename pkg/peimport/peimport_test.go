package peimport

import (
	"encoding/binary"
	"testing"
)

// fakeReader serves reads out of an in-memory byte slice standing in for a
// mapped PE image, so the import-table walker can be exercised without a
// real loaded module.
type fakeReader struct {
	data []byte
}

func (f fakeReader) read(addr uintptr, length int) ([]byte, error) {
	start := int(addr)
	return f.data[start : start+length], nil
}

// buildMinimalPE32Plus constructs the smallest byte layout forEachImport
// understands: a DOS header stub, a PE32+ optional header with two data
// directories, and a single import directory entry naming one DLL with one
// imported-by-name function.
func buildMinimalPE32Plus(dllName, functionName string) []byte {
	const (
		peOffset          = 0x80
		coffOffset         = peOffset + 4
		optionalOffset     = coffOffset + 20
		dataDirOffset      = optionalOffset + 112
		importDirOffset    = 0x200
		iltOffset          = 0x240
		iatOffset          = 0x260
		importByNameOffset = 0x280
		dllNameOffset      = 0x2c0
	)

	buf := make([]byte, 0x400)
	binary.LittleEndian.PutUint16(buf[0:2], 0x5a4d)
	binary.LittleEndian.PutUint32(buf[0x3c:0x40], peOffset)
	binary.LittleEndian.PutUint32(buf[peOffset:peOffset+4], 0x00004550)

	// COFF header: only sizeOfOptionalHeader (offset 16 within COFF) matters.
	binary.LittleEndian.PutUint16(buf[coffOffset+16:coffOffset+18], 112+2*8)

	// Optional header: magic (PE32+), then numberOfRvaAndSizes at offset 108.
	binary.LittleEndian.PutUint16(buf[optionalOffset:optionalOffset+2], 0x20b)
	binary.LittleEndian.PutUint32(buf[optionalOffset+108:optionalOffset+112], 2)

	// Data directories: index 0 unused, index 1 (import table) -> importDirOffset.
	binary.LittleEndian.PutUint32(buf[dataDirOffset+8:dataDirOffset+12], importDirOffset)

	// Import directory table: one real entry, then a zero terminator entry.
	binary.LittleEndian.PutUint32(buf[importDirOffset:importDirOffset+4], iltOffset)
	binary.LittleEndian.PutUint32(buf[importDirOffset+12:importDirOffset+16], dllNameOffset)
	binary.LittleEndian.PutUint32(buf[importDirOffset+16:importDirOffset+20], iatOffset)
	// Next entry (terminator): importLookupTableRVA stays 0.

	// Import lookup table: one import-by-name entry, then terminator.
	binary.LittleEndian.PutUint64(buf[iltOffset:iltOffset+8], uint64(importByNameOffset))

	// IMAGE_IMPORT_BY_NAME: 2-byte hint, then the NUL-terminated name.
	copy(buf[importByNameOffset+2:], functionName)

	copy(buf[dllNameOffset:], dllName)

	return buf
}

func TestForEachImportFindsNamedFunction(t *testing.T) {
	data := buildMinimalPE32Plus("kernel32.dll", "ReadDirectoryChangesW")

	var found []string
	err := forEachImport(fakeReader{data: data}, 0, func(dll, fn string, slot *uintptr) {
		found = append(found, dll+"!"+fn)
		if slot == nil {
			t.Fatalf("iatSlot was nil for %s!%s", dll, fn)
		}
	})
	if err != nil {
		t.Fatalf("forEachImport returned error: %v", err)
	}
	if len(found) != 1 || found[0] != "kernel32.dll!ReadDirectoryChangesW" {
		t.Fatalf("unexpected imports found: %v", found)
	}
}

func TestForEachImportRejectsBadMagic(t *testing.T) {
	data := make([]byte, 0x100)
	err := forEachImport(fakeReader{data: data}, 0, func(string, string, *uintptr) {})
	if err == nil {
		t.Fatal("expected an error for a non-PE image, got nil")
	}
}
