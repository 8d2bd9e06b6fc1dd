//go:build windows

package allocator

import (
	"golang.org/x/sys/windows"
)

// reserve commits a region of the process's address space via VirtualAlloc,
// bypassing the Go heap the same way the Unix mmap backend does.
func reserve(size int) (uintptr, error) {
	mapSize := uintptr(size)
	if mapSize == 0 {
		mapSize = 1
	}
	addr, err := windows.VirtualAlloc(0, mapSize, windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_READWRITE)
	if err != nil {
		return 0, ErrOutOfMemory
	}
	return addr, nil
}

func release(base uintptr, _ int) {
	_ = windows.VirtualFree(base, 0, windows.MEM_RELEASE)
}
