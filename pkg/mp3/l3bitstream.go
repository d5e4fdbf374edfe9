package mp3

// AppendSideInfo appends the frame header and the side information of f to
// dst. Note that from a layer3 encoder's perspective the bit stream is
// primarily a series of main_data() blocks, with header and side
// information inserted at the proper locations to maintain framing (see
// Figure A.7 in the IS). The main data itself is not produced here; its
// size is given by MainDataBits.
func (f *Frame) AppendSideInfo(dst []byte) []byte {
	var bs bitstream
	bs.data = dst
	f.encodeHeader(&bs)
	f.encodeSideInfo(&bs)
	return bs.bytes()
}

func (f *Frame) encodeHeader(bs *bitstream) {
	bs.putBits(2047, 11)
	bs.putBits(uint32(f.version), 2)
	// layer III
	bs.putBits(1, 2)
	// no crc
	bs.putBits(1, 1)
	bs.putBits(uint32(f.BitrateIndex), 4)
	bs.putBits(uint32(f.sampleRateIndex%3), 2)
	padding := uint32(0)
	if f.Padding {
		padding = 1
	}
	bs.putBits(padding, 1)
	// private bit
	bs.putBits(0, 1)
	bs.putBits(uint32(f.mode), 2)
	modeExt := uint32(0)
	if f.MS {
		modeExt = 2
	}
	bs.putBits(modeExt, 2)
	// copyright, original, emphasis
	bs.putBits(0, 1)
	bs.putBits(1, 1)
	bs.putBits(0, 2)
}

func (f *Frame) encodeSideInfo(bs *bitstream) {
	side := &f.Side
	mpeg1 := f.Granules == 2
	if mpeg1 {
		bs.putBits(uint32(side.MainDataBegin), 9)
		if f.Channels == 2 {
			bs.putBits(uint32(side.PrivateBits), 3)
		} else {
			bs.putBits(uint32(side.PrivateBits), 5)
		}
		for ch := 0; ch < f.Channels; ch++ {
			for band := 0; band < 4; band++ {
				bs.putBits(uint32(side.ScaleFactorSelectInfo[ch][band]), 1)
			}
		}
	} else {
		bs.putBits(uint32(side.MainDataBegin), 8)
		if f.Channels == 2 {
			bs.putBits(uint32(side.PrivateBits), 2)
		} else {
			bs.putBits(uint32(side.PrivateBits), 1)
		}
	}

	for gr := 0; gr < f.Granules; gr++ {
		for ch := 0; ch < f.Channels; ch++ {
			gi := &side.Granules[gr][ch]
			bs.putBits(uint32(gi.Part2_3Length), 12)
			// big_values counts pairs
			bs.putBits(uint32(gi.BigValues/2), 9)
			bs.putBits(uint32(gi.GlobalGain), 8)
			if mpeg1 {
				bs.putBits(uint32(gi.ScaleFacCompress), 4)
			} else {
				bs.putBits(uint32(gi.ScaleFacCompress), 9)
			}
			if gi.BlockType != NORM_TYPE {
				bs.putBits(1, 1)
				bs.putBits(uint32(gi.BlockType), 2)
				bs.putBits(uint32(gi.MixedBlockFlag), 1)
				for region := 0; region < 2; region++ {
					bs.putBits(uint32(gi.TableSelect[region]), 5)
				}
				for window := 0; window < 3; window++ {
					bs.putBits(uint32(gi.SubblockGain[window]), 3)
				}
			} else {
				bs.putBits(0, 1)
				for region := 0; region < 3; region++ {
					bs.putBits(uint32(gi.TableSelect[region]), 5)
				}
				bs.putBits(uint32(gi.Region0Count), 4)
				bs.putBits(uint32(gi.Region1Count), 3)
			}
			if mpeg1 {
				bs.putBits(uint32(gi.PreFlag), 1)
			}
			bs.putBits(uint32(gi.ScaleFacScale), 1)
			bs.putBits(uint32(gi.Count1TableSelect), 1)
		}
	}
}

// MainDataBits returns the size of the main data of one granule as a
// decoder would read it: the scalefactor fields followed by the Huffman
// coded big values and count1 regions. Stuffing bits are not included.
func (f *Frame) MainDataBits(gr, ch int) int {
	gi := &f.Side.Granules[gr][ch]
	return f.scaleFactorBits(gr, ch) + huffmanCodeBits(gi, &f.sfb)
}

func (f *Frame) scaleFactorBits(gr, ch int) int {
	gi := &f.Side.Granules[gr][ch]
	if f.Granules != 2 {
		bits := 0
		for partition := 0; partition < 4; partition++ {
			bits += gi.Slen[partition] * gi.SfbPartitionTable[partition]
		}
		return bits
	}
	sLen1 := sLen1Table[gi.ScaleFacCompress]
	sLen2 := sLen2Table[gi.ScaleFacCompress]
	if gi.BlockType == SHORT_TYPE {
		return 18*sLen1 + 18*sLen2
	}
	bits := 0
	for band := 0; band < 4; band++ {
		if gr == 1 && f.Side.ScaleFactorSelectInfo[ch][band] != 0 {
			continue
		}
		n := scfsiBand[band+1] - scfsiBand[band]
		if band < 2 {
			bits += n * sLen1
		} else {
			bits += n * sLen2
		}
	}
	return bits
}

// huffmanCodeBits walks the regions of the quantized spectrum the way the
// side information describes them.
func huffmanCodeBits(gi *GranuleInfo, sfb *scaleFacBand) int {
	ix := &gi.L3Enc
	bigValues := gi.BigValues

	var region1Start, region2Start int
	switch {
	case gi.BlockType == SHORT_TYPE:
		region1Start = 3 * sfb.S[3]
		region2Start = GRANULE_SIZE
	case gi.BlockType != NORM_TYPE:
		region1Start = sfb.L[8]
		region2Start = GRANULE_SIZE
	default:
		region1Start = sfb.L[gi.Region0Count+1]
		region2Start = sfb.L[gi.Region0Count+gi.Region1Count+2]
	}

	bits := 0
	for i := 0; i < bigValues; i += 2 {
		t := gi.TableSelect[2]
		if i < region1Start {
			t = gi.TableSelect[0]
		} else if i < region2Start {
			t = gi.TableSelect[1]
		}
		bits += huffmanPairBits(t, ix[i], ix[i+1])
	}

	h := &huffmanCodeTable[32+gi.Count1TableSelect]
	for i := bigValues; i+3 < gi.Count1; i += 4 {
		v, w, x, y := ix[i], ix[i+1], ix[i+2], ix[i+3]
		bits += int(h.hLen[v<<3|w<<2|x<<1|y]) + v + w + x + y
	}
	return bits
}

// huffmanPairBits is the code length of one big values pair with table t,
// sign bits and linbits included.
func huffmanPairBits(t, x, y int) int {
	if t == 0 {
		return 0
	}
	h := &huffmanCodeTable[t]
	bits := 0
	if h.linBits > 0 {
		if x > 14 {
			bits += int(h.linBits)
			x = 15
		}
		if y > 14 {
			bits += int(h.linBits)
			y = 15
		}
	}
	bits += int(h.hLen[x*int(h.yLen)+y])
	if x != 0 {
		bits++
	}
	if y != 0 {
		bits++
	}
	return bits
}
