package packfile

import (
	"fmt"
)

// ApplyDelta reconstructs a full object from a base buffer and a delta
// instruction stream in git's patch-delta format: a varint source size,
// a varint target size, then a sequence of copy (from base) and insert
// (literal) opcodes. See specification §3 "Delta application".
func ApplyDelta(base, delta []byte) ([]byte, error) {
	srcSize, n := deltaHeaderSize(delta)
	if n == 0 {
		return nil, fmt.Errorf("packfile: truncated delta header (source size)")
	}
	delta = delta[n:]
	if srcSize != int64(len(base)) {
		return nil, fmt.Errorf("packfile: delta source size %d does not match base length %d", srcSize, len(base))
	}

	targetSize, n := deltaHeaderSize(delta)
	if n == 0 {
		return nil, fmt.Errorf("packfile: truncated delta header (target size)")
	}
	delta = delta[n:]

	out := make([]byte, 0, targetSize)
	for len(delta) > 0 {
		op := delta[0]
		delta = delta[1:]

		if op&0x80 != 0 {
			// Copy opcode: op's low 7 bits select which of up to four
			// offset bytes and three size bytes are present.
			var offset, size uint32
			if op&0x01 != 0 {
				offset = uint32(delta[0])
				delta = delta[1:]
			}
			if op&0x02 != 0 {
				offset |= uint32(delta[0]) << 8
				delta = delta[1:]
			}
			if op&0x04 != 0 {
				offset |= uint32(delta[0]) << 16
				delta = delta[1:]
			}
			if op&0x08 != 0 {
				offset |= uint32(delta[0]) << 24
				delta = delta[1:]
			}
			if op&0x10 != 0 {
				size = uint32(delta[0])
				delta = delta[1:]
			}
			if op&0x20 != 0 {
				size |= uint32(delta[0]) << 8
				delta = delta[1:]
			}
			if op&0x40 != 0 {
				size |= uint32(delta[0]) << 16
				delta = delta[1:]
			}
			if size == 0 {
				size = 0x10000
			}
			if int64(offset)+int64(size) > int64(len(base)) {
				return nil, fmt.Errorf("packfile: delta copy opcode out of range (offset=%d size=%d base=%d)", offset, size, len(base))
			}
			out = append(out, base[offset:offset+size]...)
		} else if op != 0 {
			// Insert opcode: op itself is the literal length (1-127).
			size := int(op)
			if size > len(delta) {
				return nil, fmt.Errorf("packfile: truncated delta insert opcode")
			}
			out = append(out, delta[:size]...)
			delta = delta[size:]
		} else {
			return nil, fmt.Errorf("packfile: reserved delta opcode 0")
		}
	}

	if int64(len(out)) != targetSize {
		return nil, fmt.Errorf("packfile: delta produced %d bytes, expected %d", len(out), targetSize)
	}
	return out, nil
}

// deltaHeaderSize decodes one of the two little-endian, 7-bit-per-byte
// size fields (source size, target size) that open a delta stream.
// This is distinct from varint.DecodeObjectHeader: there is no type
// field here, every bit of every byte's low 7 bits contributes.
func deltaHeaderSize(b []byte) (size int64, n int) {
	if len(b) == 0 {
		return 0, 0
	}
	shift := uint(0)
	for {
		if n >= len(b) {
			return 0, 0
		}
		c := b[n]
		size |= int64(c&0x7f) << shift
		shift += 7
		n++
		if c&0x80 == 0 {
			break
		}
	}
	return size, n
}

// BuildOFSDelta encodes a copy/insert instruction stream turning base
// into target, using a simple greedy longest-common-substring-free
// strategy: literal runs only. This keeps the encoder correct and
// simple; it is not a minimal diff, trading pack size for implementation
// clarity (the decoder, ApplyDelta, handles any valid stream).
func BuildOFSDelta(base, target []byte) []byte {
	var out []byte
	out = append(out, encodeDeltaSize(int64(len(base)))...)
	out = append(out, encodeDeltaSize(int64(len(target)))...)

	const maxInsert = 127
	for i := 0; i < len(target); i += maxInsert {
		end := i + maxInsert
		if end > len(target) {
			end = len(target)
		}
		chunk := target[i:end]
		out = append(out, byte(len(chunk)))
		out = append(out, chunk...)
	}
	return out
}

func encodeDeltaSize(size int64) []byte {
	var out []byte
	for {
		b := byte(size & 0x7f)
		size >>= 7
		if size != 0 {
			b |= 0x80
		}
		out = append(out, b)
		if size == 0 {
			break
		}
	}
	return out
}
