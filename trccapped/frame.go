package trccapped

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// Every record is written as a fixed-size header followed by the payload.
//
//	[0:4]   payload length, big endian uint32
//	[4:6]   category ID, big endian uint16
//	[6:14]  xxhash64 of the payload, big endian uint64
const headerSize = 14

type header struct {
	length   uint32
	category uint16
	checksum uint64
}

func encodeHeader(dst []byte, category uint16, payload []byte) {
	binary.BigEndian.PutUint32(dst[0:4], uint32(len(payload)))
	binary.BigEndian.PutUint16(dst[4:6], category)
	binary.BigEndian.PutUint64(dst[6:14], xxhash.Sum64(payload))
}

func decodeHeader(src []byte) header {
	return header{
		length:   binary.BigEndian.Uint32(src[0:4]),
		category: binary.BigEndian.Uint16(src[4:6]),
		checksum: binary.BigEndian.Uint64(src[6:14]),
	}
}

func (h header) verify(payload []byte) bool {
	return int(h.length) == len(payload) && xxhash.Sum64(payload) == h.checksum
}

// FrameSize returns the number of bytes a payload of size n occupies in the
// store, including the record header.
func FrameSize(n int) int64 {
	return int64(headerSize + n)
}
