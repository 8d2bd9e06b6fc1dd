// Package snapshot serializes a point-in-time dump of tracked allocations
// for diagnostics: each entry's base, size, and raw contents, written
// through a selectable compressor and checksummed with xxhash.
package snapshot

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/cespare/xxhash/v2"
	"github.com/golang/snappy"
	"github.com/klauspost/compress/flate"
	"github.com/pierrec/lz4"
)

// Codec selects the compressor used to frame a heap dump stream.
type Codec string

const (
	CodecNone   Codec = "none"
	CodecSnappy Codec = "snappy"
	CodecFlate  Codec = "flate"
	CodecLZ4    Codec = "lz4"
)

// magic identifies a heapkeeper snapshot stream; version allows the wire
// format to evolve without silently misparsing older dumps.
const (
	magic   uint32 = 0x4855_4b50 // "HUKP"
	version uint32 = 1
)

// Entry is one live block captured at dump time.
type Entry struct {
	Base uintptr
	Data []byte
}

func newWriter(w io.Writer, codec Codec) (io.WriteCloser, error) {
	switch codec {
	case CodecNone, "":
		return nopWriteCloser{w}, nil
	case CodecSnappy:
		return snappy.NewBufferedWriter(w), nil
	case CodecFlate:
		return flate.NewWriter(w, flate.DefaultCompression)
	case CodecLZ4:
		return lz4.NewWriter(w), nil
	default:
		return nil, fmt.Errorf("snapshot: unknown codec %q", codec)
	}
}

func newReader(r io.Reader, codec Codec) (io.Reader, error) {
	switch codec {
	case CodecNone, "":
		return r, nil
	case CodecSnappy:
		return snappy.NewReader(r), nil
	case CodecFlate:
		return flate.NewReader(r), nil
	case CodecLZ4:
		return lz4.NewReader(r), nil
	default:
		return nil, fmt.Errorf("snapshot: unknown codec %q", codec)
	}
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// Dump writes entries to w through the given codec, framed with a magic
// header and an xxhash checksum of the uncompressed payload.
func Dump(w io.Writer, codec Codec, entries []Entry) error {
	var payload []byte
	buf := newByteBuffer()
	for _, e := range entries {
		var hdr [16]byte
		binary.LittleEndian.PutUint64(hdr[0:8], uint64(e.Base))
		binary.LittleEndian.PutUint64(hdr[8:16], uint64(len(e.Data)))
		buf = append(buf, hdr[:]...)
		buf = append(buf, e.Data...)
	}
	payload = buf

	checksum := xxhash.Sum64(payload)

	bw := bufio.NewWriter(w)
	var hdr [16]byte
	binary.LittleEndian.PutUint32(hdr[0:4], magic)
	binary.LittleEndian.PutUint32(hdr[4:8], version)
	binary.LittleEndian.PutUint64(hdr[8:16], checksum)
	if _, err := bw.Write(hdr[:]); err != nil {
		return err
	}

	cw, err := newWriter(bw, codec)
	if err != nil {
		return err
	}
	if _, err := cw.Write(payload); err != nil {
		return err
	}
	if err := cw.Close(); err != nil {
		return err
	}
	return bw.Flush()
}

// Load reads and validates a stream written by Dump.
func Load(r io.Reader, codec Codec) ([]Entry, error) {
	var hdr [16]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("snapshot: read header: %w", err)
	}
	if binary.LittleEndian.Uint32(hdr[0:4]) != magic {
		return nil, fmt.Errorf("snapshot: bad magic")
	}
	if v := binary.LittleEndian.Uint32(hdr[4:8]); v != version {
		return nil, fmt.Errorf("snapshot: unsupported version %d", v)
	}
	wantChecksum := binary.LittleEndian.Uint64(hdr[8:16])

	cr, err := newReader(r, codec)
	if err != nil {
		return nil, err
	}
	payload, err := io.ReadAll(cr)
	if err != nil {
		return nil, fmt.Errorf("snapshot: decompress: %w", err)
	}

	if got := xxhash.Sum64(payload); got != wantChecksum {
		return nil, fmt.Errorf("snapshot: checksum mismatch: got %x want %x", got, wantChecksum)
	}

	var entries []Entry
	for off := 0; off < len(payload); {
		if off+16 > len(payload) {
			return nil, fmt.Errorf("snapshot: truncated entry header")
		}
		base := binary.LittleEndian.Uint64(payload[off : off+8])
		size := binary.LittleEndian.Uint64(payload[off+8 : off+16])
		off += 16
		if off+int(size) > len(payload) {
			return nil, fmt.Errorf("snapshot: truncated entry data")
		}
		data := make([]byte, size)
		copy(data, payload[off:off+int(size)])
		off += int(size)
		entries = append(entries, Entry{Base: uintptr(base), Data: data})
	}
	return entries, nil
}

func newByteBuffer() []byte {
	return make([]byte, 0, 4096)
}
