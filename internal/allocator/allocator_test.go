package allocator

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptrAt(base uintptr, offset int) unsafe.Pointer {
	return unsafe.Pointer(base + uintptr(offset))
}

func TestReserveRelease(t *testing.T) {
	base, err := Reserve(256)
	require.NoError(t, err)
	assert.NotZero(t, base)

	Zero(base, 256)
	for i := 0; i < 256; i++ {
		b := *(*byte)(ptrAt(base, i))
		assert.Zero(t, b)
	}

	Release(base, 256)
}

func TestCopyBytes(t *testing.T) {
	src, err := Reserve(32)
	require.NoError(t, err)
	defer Release(src, 32)

	dst, err := Reserve(32)
	require.NoError(t, err)
	defer Release(dst, 32)

	*(*byte)(ptrAt(src, 0)) = 0xAB
	CopyBytes(dst, src, 32)
	assert.Equal(t, byte(0xAB), *(*byte)(ptrAt(dst, 0)))
}

func TestAligned(t *testing.T) {
	a := Aligned(1)
	assert.Zero(t, a%uintptr(WordAlign))
	assert.GreaterOrEqual(t, a, uintptr(1))
}

func TestReadWord(t *testing.T) {
	base, err := Reserve(WordSize)
	require.NoError(t, err)
	defer Release(base, WordSize)

	*(*uintptr)(ptrAt(base, 0)) = 0xDEADBEEF
	assert.Equal(t, uintptr(0xDEADBEEF), ReadWord(base))
}
