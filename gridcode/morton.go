package gridcode

// Interleave2D spreads x over the even and y over the odd bit positions of
// a 64-bit Morton code.
func Interleave2D(x, y uint32) uint64 {
	return spread2(x) | spread2(y)<<1
}

// Deinterleave2D is the inverse of Interleave2D.
func Deinterleave2D(code uint64) (x, y uint32) {
	return compact2(code), compact2(code >> 1)
}

func spread2(v uint32) uint64 {
	x := uint64(v) & 0x00000000FFFFFFFF
	x = (x | x<<16) & 0x0000FFFF0000FFFF
	x = (x | x<<8) & 0x00FF00FF00FF00FF
	x = (x | x<<4) & 0x0F0F0F0F0F0F0F0F
	x = (x | x<<2) & 0x3333333333333333
	x = (x | x<<1) & 0x5555555555555555
	return x
}

func compact2(v uint64) uint32 {
	x := v & 0x5555555555555555
	x = (x | x>>1) & 0x3333333333333333
	x = (x | x>>2) & 0x0F0F0F0F0F0F0F0F
	x = (x | x>>4) & 0x00FF00FF00FF00FF
	x = (x | x>>8) & 0x0000FFFF0000FFFF
	x = (x | x>>16) & 0x00000000FFFFFFFF
	return uint32(x)
}

// uint96 holds a 96-bit value in the low bits of hi:lo.
type uint96 struct {
	hi, lo uint64
}

func (u uint96) or(o uint96) uint96 {
	return uint96{hi: u.hi | o.hi, lo: u.lo | o.lo}
}

func (u uint96) shl(n uint) uint96 {
	switch {
	case n == 0:
		return u
	case n >= 64:
		return uint96{hi: u.lo << (n - 64)}
	default:
		return uint96{hi: u.hi<<n | u.lo>>(64-n), lo: u.lo << n}
	}
}

func (u uint96) shr(n uint) uint96 {
	switch {
	case n == 0:
		return u
	case n >= 64:
		return uint96{lo: u.hi >> (n - 64)}
	default:
		return uint96{hi: u.hi >> n, lo: u.lo>>n | u.hi<<(64-n)}
	}
}

// Stride-3 spread of the low 21 bits of a word into 63 bits.
func spread3(v uint64) uint64 {
	x := v & 0x1FFFFF
	x = (x | x<<32) & 0x1F00000000FFFF
	x = (x | x<<16) & 0x1F0000FF0000FF
	x = (x | x<<8) & 0x100F00F00F00F00F
	x = (x | x<<4) & 0x10C30C30C30C30C3
	x = (x | x<<2) & 0x1249249249249249
	return x
}

func compact3(v uint64) uint64 {
	x := v & 0x1249249249249249
	x = (x ^ (x >> 2)) & 0x10C30C30C30C30C3
	x = (x ^ (x >> 4)) & 0x100F00F00F00F00F
	x = (x ^ (x >> 8)) & 0x1F0000FF0000FF
	x = (x ^ (x >> 16)) & 0x1F00000000FFFF
	x = (x ^ (x >> 32)) & 0x1FFFFF
	return x
}

// spreadAxis places bit i of v at bit 3*i+offset of a 96-bit value.
func spreadAxis(v uint32, offset uint) uint96 {
	low := uint96{lo: spread3(uint64(v))}
	high := uint96{lo: spread3(uint64(v) >> 21)}.shl(63)
	return low.or(high).shl(offset)
}

func compactAxis(u uint96, offset uint) uint32 {
	s := u.shr(offset)
	low := compact3(s.lo)
	high := compact3(s.shr(63).lo)
	return uint32(low | high<<21)
}

// Interleave3D spreads x, y and z over bit positions 3i, 3i+1 and 3i+2 of a
// 96-bit code.
func Interleave3D(x, y, z uint32) Code3D {
	u := spreadAxis(x, 0).or(spreadAxis(y, 1)).or(spreadAxis(z, 2))
	return Code3D{uint32(u.lo), uint32(u.lo >> 32), uint32(u.hi)}
}

// Deinterleave3D is the inverse of Interleave3D.
func Deinterleave3D(c Code3D) (x, y, z uint32) {
	u := uint96{hi: uint64(c[2]), lo: uint64(c[1])<<32 | uint64(c[0])}
	return compactAxis(u, 0), compactAxis(u, 1), compactAxis(u, 2)
}
