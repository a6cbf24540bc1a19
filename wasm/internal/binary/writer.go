package binary

import "encoding/binary"

// The Append functions encode WASM primitives onto b and return the
// extended slice, in the manner of encoding/binary.AppendUvarint.

// AppendU64 appends v as unsigned LEB128.
func AppendU64(b []byte, v uint64) []byte {
	for v >= 0x80 {
		b = append(b, byte(v)|0x80)
		v >>= 7
	}
	return append(b, byte(v))
}

// AppendU32 appends v as unsigned LEB128.
func AppendU32(b []byte, v uint32) []byte {
	return AppendU64(b, uint64(v))
}

// AppendS64 appends v as signed LEB128 using the fewest bytes.
func AppendS64(b []byte, v int64) []byte {
	for {
		c := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && c&0x40 == 0) || (v == -1 && c&0x40 != 0) {
			return append(b, c)
		}
		b = append(b, c|0x80)
	}
}

// AppendSized appends data prefixed with its length.
func AppendSized(b, data []byte) []byte {
	b = AppendU32(b, uint32(len(data)))
	return append(b, data...)
}

// AppendName appends a length-prefixed UTF-8 name.
func AppendName(b []byte, s string) []byte {
	b = AppendU32(b, uint32(len(s)))
	return append(b, s...)
}

// AppendU32LE appends v as four little-endian bytes.
func AppendU32LE(b []byte, v uint32) []byte {
	return binary.LittleEndian.AppendUint32(b, v)
}
