package snapshot

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, codec Codec) {
	t.Helper()
	entries := []Entry{
		{Base: 0x1000, Data: []byte("hello heap")},
		{Base: 0x2000, Data: bytes.Repeat([]byte{0xAB}, 256)},
		{Base: 0x3000, Data: nil},
	}

	var buf bytes.Buffer
	require.NoError(t, Dump(&buf, codec, entries))

	got, err := Load(&buf, codec)
	require.NoError(t, err)
	require.Len(t, got, len(entries))
	for i := range entries {
		assert.Equal(t, entries[i].Base, got[i].Base)
		assert.Equal(t, entries[i].Data, got[i].Data)
	}
}

func TestRoundTripNone(t *testing.T)   { roundTrip(t, CodecNone) }
func TestRoundTripSnappy(t *testing.T) { roundTrip(t, CodecSnappy) }
func TestRoundTripFlate(t *testing.T)  { roundTrip(t, CodecFlate) }
func TestRoundTripLZ4(t *testing.T)    { roundTrip(t, CodecLZ4) }

func TestLoadRejectsBadMagic(t *testing.T) {
	buf := bytes.NewBufferString("not a heapkeeper snapshot at all!!")
	_, err := Load(buf, CodecNone)
	assert.Error(t, err)
}

func TestLoadRejectsCorruptedChecksum(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Dump(&buf, CodecNone, []Entry{{Base: 1, Data: []byte("x")}}))
	corrupted := buf.Bytes()
	corrupted[len(corrupted)-1] ^= 0xFF

	_, err := Load(bytes.NewReader(corrupted), CodecNone)
	assert.Error(t, err)
}
