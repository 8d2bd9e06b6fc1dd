//go:build unix

package allocator

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// reserve maps anonymous, private pages via mmap. A zero-size request still
// maps one page so the returned address is valid and unique.
func reserve(size int) (uintptr, error) {
	mapSize := size
	if mapSize == 0 {
		mapSize = 1
	}
	data, err := unix.Mmap(-1, 0, mapSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return 0, ErrOutOfMemory
	}
	return uintptr(unsafe.Pointer(&data[0])), nil
}

func release(base uintptr, size int) {
	mapSize := size
	if mapSize == 0 {
		mapSize = 1
	}
	data := unsafe.Slice((*byte)(unsafe.Pointer(base)), mapSize)
	_ = unix.Munmap(data)
}
