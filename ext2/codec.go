package ext2

import (
	"encoding/binary"
	"fmt"
)

// decoder walks a byte slice consuming little-endian fields in on-disk order.
// The first read past the end of the slice latches err; subsequent reads
// return zero values, so a field list can be consumed without per-field
// error checks and validated once at the end.
type decoder struct {
	b   []byte
	off int
	err error
}

func newDecoder(b []byte) *decoder {
	return &decoder{b: b}
}

func (d *decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if d.off+n > len(d.b) {
		d.err = fmt.Errorf("read of %d bytes at offset %d past end of %d byte buffer", n, d.off, len(d.b))
		return nil
	}
	out := d.b[d.off : d.off+n]
	d.off += n
	return out
}

func (d *decoder) uint8() uint8 {
	b := d.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (d *decoder) uint16() uint16 {
	b := d.take(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (d *decoder) uint32() uint32 {
	b := d.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (d *decoder) uint64() uint64 {
	b := d.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

// int32 reads a signed 32-bit field. log_frag_size is the one on-disk field
// where the sign matters; reading it unsigned is a known historical bug.
func (d *decoder) int32() int32 {
	return int32(d.uint32())
}

func (d *decoder) bytes(n int) []byte {
	b := d.take(n)
	out := make([]byte, n)
	copy(out, b)
	return out
}

func (d *decoder) skip(n int) {
	d.take(n)
}

// encoder is the serialization mirror of decoder, writing little-endian
// fields at a running offset into a fixed-size buffer.
type encoder struct {
	b   []byte
	off int
	err error
}

func newEncoder(size int) *encoder {
	return &encoder{b: make([]byte, size)}
}

func (e *encoder) reserve(n int) []byte {
	if e.err != nil {
		return nil
	}
	if e.off+n > len(e.b) {
		e.err = fmt.Errorf("write of %d bytes at offset %d past end of %d byte buffer", n, e.off, len(e.b))
		return nil
	}
	out := e.b[e.off : e.off+n]
	e.off += n
	return out
}

func (e *encoder) putUint8(v uint8) {
	if b := e.reserve(1); b != nil {
		b[0] = v
	}
}

func (e *encoder) putUint16(v uint16) {
	if b := e.reserve(2); b != nil {
		binary.LittleEndian.PutUint16(b, v)
	}
}

func (e *encoder) putUint32(v uint32) {
	if b := e.reserve(4); b != nil {
		binary.LittleEndian.PutUint32(b, v)
	}
}

func (e *encoder) putUint64(v uint64) {
	if b := e.reserve(8); b != nil {
		binary.LittleEndian.PutUint64(b, v)
	}
}

func (e *encoder) putInt32(v int32) {
	e.putUint32(uint32(v))
}

func (e *encoder) putBytes(v []byte) {
	if b := e.reserve(len(v)); b != nil {
		copy(b, v)
	}
}

// pad advances the offset leaving zero bytes behind
func (e *encoder) pad(n int) {
	e.reserve(n)
}

func (e *encoder) bytes() []byte {
	return e.b
}
