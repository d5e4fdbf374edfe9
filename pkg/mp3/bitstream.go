// bitstream.go manages writes to the bitstream
package mp3

// bitstream packs big endian bit fields into bytes.
type bitstream struct {
	data []uint8
	// bits of the last, partial byte
	cache     uint32
	cacheBits int
}

// putBits writes the n low bits of val, most significant bit first.
func (bs *bitstream) putBits(val uint32, n uint) {
	for n > 0 {
		take := min(n, uint(8-bs.cacheBits))
		n -= take
		bs.cache = bs.cache<<take | (val>>n)&(1<<take-1)
		bs.cacheBits += int(take)
		if bs.cacheBits == 8 {
			bs.data = append(bs.data, uint8(bs.cache))
			bs.cache, bs.cacheBits = 0, 0
		}
	}
}

// bytes returns the written bits, the last byte zero padded.
func (bs *bitstream) bytes() []uint8 {
	if bs.cacheBits == 0 {
		return bs.data
	}
	return append(bs.data, uint8(bs.cache<<(8-bs.cacheBits)))
}
