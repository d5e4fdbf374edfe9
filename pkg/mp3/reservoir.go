// Layer3 bit reservoir: Described in C.1.5.4.2.2 of the IS
package mp3

// reservoir tracks the bits left unused by previous frames that the
// current frame may borrow through main_data_begin.
type reservoir struct {
	size    int
	maxSize int
	// frames may not be larger than this, main data included
	maxFrameBuffer int
	// largest main_data_begin in bits: 511 bytes for MPEG-1, 255 otherwise
	limit int
	// disabled restricts every frame to its own bits
	disabled bool
}

func newReservoir(modeGr int, disabled bool) reservoir {
	return reservoir{
		maxFrameBuffer: 8 * 1440,
		limit:          8*256*modeGr - 8,
		disabled:       disabled,
	}
}

// frameSize returns the bits a frame of frameBits may use in total, the
// per granule share of its own bits and the reservoir capacity that goes
// with that frame size.
func (r *reservoir) frameSize(frameBits, sideInfoBits, modeGr int) (fullFrameBits, meanBits, maxSize int) {
	meanBits = (frameBits - sideInfoBits) / modeGr
	maxSize = r.maxFrameBuffer - frameBits
	if maxSize > r.limit {
		maxSize = r.limit
	}
	if maxSize < 0 || r.disabled {
		maxSize = 0
	}
	maxSize -= maxSize % 8

	fullFrameBits = meanBits*modeGr + min(r.size, maxSize)
	if fullFrameBits > r.maxFrameBuffer {
		fullFrameBits = r.maxFrameBuffer
	}
	return fullFrameBits, meanBits, maxSize
}

// frameBegin is called at the beginning of each frame. It fixes the
// reservoir capacity for the frame and records where its main data
// begins.
func (r *reservoir) frameBegin(frameBits, sideInfoBits, modeGr int, side *SideInfo) (fullFrameBits, meanBits int) {
	fullFrameBits, meanBits, r.maxSize = r.frameSize(frameBits, sideInfoBits, modeGr)
	side.MainDataBegin = r.size / 8
	side.ResvDrainPre = 0
	side.ResvDrainPost = 0
	return fullFrameBits, meanBits
}

// maxBits returns the target bits for a granule and how many extra bits
// the reservoir could lend on top of it. For cbr the granule's own mean
// bits count as part of the reservoir.
func (r *reservoir) maxBits(meanBits int, cbr bool, policy *qualityPolicy) (targBits, extraBits int) {
	size := r.size
	maxSize := r.maxSize
	if cbr {
		size += meanBits
	}
	if policy.substepShaping&1 != 0 {
		maxSize = maxSize * 9 / 10
	}

	targBits = meanBits
	addBits := 0
	if size*10 > maxSize*9 {
		// the reservoir is almost full, spend it
		addBits = size - maxSize*9/10
		targBits += addBits
		policy.substepShaping |= 0x80
	} else {
		policy.substepShaping &= 0x7f
		if !r.disabled && policy.substepShaping&1 == 0 {
			targBits -= meanBits / 10
		}
	}

	extraBits = min(size, maxSize*6/10)
	extraBits -= addBits
	if extraBits < 0 {
		extraBits = 0
	}
	return targBits, extraBits
}

// adjust is called after a granule's bit allocation. It readjusts the size of
// the reservoir to reflect the granule's usage.
func (r *reservoir) adjust(gi *GranuleInfo) {
	r.size -= gi.Part2_3Length
}

// frameEnd returns the frame's own bits to the reservoir. Bits the
// reservoir cannot keep are stuffed into the granules of the frame, and
// whatever does not fit there is drained as ancillary data.
func (r *reservoir) frameEnd(meanBits, modeGr, channels int, side *SideInfo) {
	r.size += meanBits * modeGr
	stuffingBits := 0
	if over := r.size % 8; over != 0 {
		stuffingBits += over
	}
	if over := r.size - stuffingBits - r.maxSize; over > 0 {
		stuffingBits += over
	}
	r.size -= stuffingBits
	if stuffingBits == 0 {
		return
	}

	for gr := 0; gr < modeGr && stuffingBits > 0; gr++ {
		for ch := 0; ch < channels && stuffingBits > 0; ch++ {
			gi := &side.Granules[gr][ch]
			n := min(MAX_BITS_PER_CHANNEL-gi.Part2_3Length, stuffingBits)
			if n <= 0 {
				continue
			}
			gi.Part2_3Length += n
			stuffingBits -= n
		}
	}
	side.ResvDrainPost = stuffingBits
}
