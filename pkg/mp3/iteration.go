package mp3

import "math"

// frameState is the per frame input of the allocation loops: the coded
// granules in side, their masking ratios and perceptual entropies, and
// how the frame is framed in bits.
type frameState struct {
	side  *SideInfo
	ratio *[MAX_GRANULES][MAX_CHANNELS]MaskingThresholds
	pe    *[MAX_GRANULES][MAX_CHANNELS]float64
	// energy share of the side channel per granule, for mid/side frames
	msEnerRatio [MAX_GRANULES]float64
	ms          bool

	channels int
	modeGr   int
	// frameBits returns the frame size in bits for a bitrate index
	frameBits    func(bitrateIndex int) int
	sideInfoBits int
	// bitrate range usable by the VBR and ABR loops
	minBitrateIndex int
	maxBitrateIndex int
	// bitrateIndex is the value chosen by the loop
	bitrateIndex int
	// per granule and channel outer loop result
	overCount [MAX_GRANULES][MAX_CHANNELS]int
}

// iterationLoop runs the allocation loop of the configured bitrate mode.
func (q *quantizer) iterationLoop(fs *frameState) {
	switch q.cfg.VBR {
	case VBR_ABR:
		q.abrIterationLoop(fs)
	case VBR_RH:
		q.vbrRHIterationLoop(fs)
	case VBR_MTRH:
		q.vbrMTIterationLoop(fs)
	default:
		q.cbrIterationLoop(fs)
	}
}

// onPE distributes the granule's target bits over the channels according
// to their perceptual entropy. It returns the largest number of bits the
// granule may use.
func (q *quantizer) onPE(fs *frameState, targBits *[MAX_CHANNELS]int, meanBits, gr int, cbr bool) int {
	var addBits [MAX_CHANNELS]int
	tbits, extraBits := q.resv.maxBits(meanBits, cbr, &q.policy)
	maxBits := min(tbits+extraBits, MAX_BITS_PER_GRANULE)

	bits := 0
	for ch := 0; ch < fs.channels; ch++ {
		targBits[ch] = min(MAX_BITS_PER_CHANNEL, tbits/fs.channels)
		addBits[ch] = int(float64(targBits[ch])*fs.pe[gr][ch]/700.0) - targBits[ch]
		// at most 3/4 of the mean bits may be added
		if addBits[ch] > meanBits*3/4 {
			addBits[ch] = meanBits * 3 / 4
		}
		if addBits[ch] < 0 {
			addBits[ch] = 0
		}
		if addBits[ch]+targBits[ch] > MAX_BITS_PER_CHANNEL {
			addBits[ch] = max(0, MAX_BITS_PER_CHANNEL-targBits[ch])
		}
		bits += addBits[ch]
	}
	if bits > extraBits && bits > 0 {
		for ch := 0; ch < fs.channels; ch++ {
			addBits[ch] = extraBits * addBits[ch] / bits
		}
	}
	bits = 0
	for ch := 0; ch < fs.channels; ch++ {
		targBits[ch] += addBits[ch]
		bits += targBits[ch]
	}
	if bits > MAX_BITS_PER_GRANULE {
		for ch := 0; ch < fs.channels; ch++ {
			targBits[ch] = targBits[ch] * MAX_BITS_PER_GRANULE / bits
		}
	}
	return maxBits
}

// reduceSide moves bits from the side to the mid channel, more of them
// the less energy the side channel has.
func reduceSide(targBits *[MAX_CHANNELS]int, msEnerRatio float64, meanBits, maxBits int) {
	fac := .33 * (.5 - msEnerRatio) / .5
	fac = math.Max(0, math.Min(fac, .5))
	moveBits := int(fac * .5 * float64(targBits[0]+targBits[1]))
	if moveBits > MAX_BITS_PER_CHANNEL-targBits[0] {
		moveBits = MAX_BITS_PER_CHANNEL - targBits[0]
	}
	if moveBits < 0 {
		moveBits = 0
	}
	// the side channel keeps at least 125 bits
	if targBits[1] >= 125 {
		if targBits[1]-moveBits > 125 {
			if targBits[0] < meanBits {
				targBits[0] += moveBits
			}
			targBits[1] -= moveBits
		} else {
			targBits[0] += targBits[1] - 125
			targBits[1] = 125
		}
	}
	moveBits = targBits[0] + targBits[1]
	if moveBits > maxBits {
		targBits[0] = maxBits * targBits[0] / moveBits
		targBits[1] = maxBits * targBits[1] / moveBits
	}
}

// codeGranule runs the outer loop of one granule and channel with a bit
// target and commits the result.
func (q *quantizer) codeGranule(fs *frameState, gr, ch, targBits int, silenceBits int) {
	var (
		xr34 [GRANULE_SIZE]float64
		xmin [SFBMAX]float64
	)
	gi := &fs.side.Granules[gr][ch]
	q.initOuterLoop(gi)
	if initXrpow(gi, &xr34) {
		if q.calcXmin(&fs.ratio[gr][ch], gi, &xmin) == 0 {
			// analog silence
			targBits = silenceBits
		}
		fs.overCount[gr][ch] = q.outerLoop(gi, &xmin, &xr34, ch, targBits)
	}
	q.iterationFinishOne(fs.side, gr, ch)
	q.resv.adjust(gi)
}

// cbrIterationLoop allocates a constant bitrate frame.
func (q *quantizer) cbrIterationLoop(fs *frameState) {
	_, meanBits := q.resv.frameBegin(fs.frameBits(fs.bitrateIndex), fs.sideInfoBits, fs.modeGr, fs.side)
	for gr := 0; gr < fs.modeGr; gr++ {
		var targBits [MAX_CHANNELS]int
		// the first granule may not borrow its own mean bits
		maxBits := q.onPE(fs, &targBits, meanBits, gr, gr != 0)
		if fs.ms {
			reduceSide(&targBits, fs.msEnerRatio[gr], meanBits, maxBits)
		}
		for ch := 0; ch < fs.channels; ch++ {
			q.codeGranule(fs, gr, ch, targBits[ch], 0)
		}
	}
	q.resv.frameEnd(meanBits, fs.modeGr, fs.channels, fs.side)
}

// abrTargetBits computes the per granule and channel targets of an
// average bitrate frame.
func (q *quantizer) abrTargetBits(fs *frameState, targBits *[MAX_GRANULES][MAX_CHANNELS]int) (silenceBits, maxFrameBits int) {
	maxFrameBits, _ = q.resv.frameBegin(fs.frameBits(fs.maxBitrateIndex), fs.sideInfoBits, fs.modeGr, fs.side)
	silenceBits = (fs.frameBits(1) - fs.sideInfoBits) / (fs.modeGr * fs.channels)

	meanBits := float64(q.cfg.Bitrate) * float64(fs.modeGr*GRANULE_SIZE) * 1000
	if q.policy.substepShaping&1 != 0 {
		meanBits *= 1.09
	}
	meanBits /= float64(q.sampleRate)
	meanBits -= float64(fs.sideInfoBits)
	meanBits /= float64(fs.modeGr * fs.channels)
	mean := int(meanBits)

	compressionRatio := float64(q.sampleRate*16*fs.channels) / (1000 * float64(q.cfg.Bitrate))
	resFactor := .93 + .07*(11.0-compressionRatio)/(11.0-5.5)
	resFactor = math.Max(.90, math.Min(resFactor, 1.00))

	for gr := 0; gr < fs.modeGr; gr++ {
		sum := 0
		for ch := 0; ch < fs.channels; ch++ {
			targBits[gr][ch] = int(resFactor * float64(mean))
			if fs.pe[gr][ch] > 700 {
				addBits := int((fs.pe[gr][ch] - 700) / 1.4)
				if fs.side.Granules[gr][ch].BlockType == SHORT_TYPE && addBits < mean/2 {
					addBits = mean / 2
				}
				if addBits > mean*3/2 {
					addBits = mean * 3 / 2
				} else if addBits < 0 {
					addBits = 0
				}
				targBits[gr][ch] += addBits
			}
			targBits[gr][ch] = min(targBits[gr][ch], MAX_BITS_PER_CHANNEL)
			sum += targBits[gr][ch]
		}
		if sum > MAX_BITS_PER_GRANULE {
			for ch := 0; ch < fs.channels; ch++ {
				targBits[gr][ch] = targBits[gr][ch] * MAX_BITS_PER_GRANULE / sum
			}
		}
	}
	if fs.ms {
		for gr := 0; gr < fs.modeGr; gr++ {
			reduceSide(&targBits[gr], fs.msEnerRatio[gr], mean*fs.channels, MAX_BITS_PER_GRANULE)
		}
	}

	total := 0
	for gr := 0; gr < fs.modeGr; gr++ {
		for ch := 0; ch < fs.channels; ch++ {
			targBits[gr][ch] = min(targBits[gr][ch], MAX_BITS_PER_CHANNEL)
			total += targBits[gr][ch]
		}
	}
	if total > maxFrameBits && total > 0 {
		for gr := 0; gr < fs.modeGr; gr++ {
			for ch := 0; ch < fs.channels; ch++ {
				targBits[gr][ch] = targBits[gr][ch] * maxFrameBits / total
			}
		}
	}
	return silenceBits, maxFrameBits
}

// abrIterationLoop allocates an average bitrate frame and picks the
// smallest bitrate that keeps the reservoir from going negative.
func (q *quantizer) abrIterationLoop(fs *frameState) {
	var targBits [MAX_GRANULES][MAX_CHANNELS]int
	silenceBits, _ := q.abrTargetBits(fs, &targBits)
	for gr := 0; gr < fs.modeGr; gr++ {
		for ch := 0; ch < fs.channels; ch++ {
			q.codeGranule(fs, gr, ch, targBits[gr][ch], silenceBits)
		}
	}

	// the reservoir already holds the net usage of the frame
	fs.bitrateIndex = fs.maxBitrateIndex
	for i := fs.minBitrateIndex; i <= fs.maxBitrateIndex; i++ {
		if _, mean, _ := q.resv.frameSize(fs.frameBits(i), fs.sideInfoBits, fs.modeGr); q.resv.size+mean*fs.modeGr >= 0 {
			fs.bitrateIndex = i
			break
		}
	}
	var meanBits int
	_, meanBits, q.resv.maxSize = q.resv.frameSize(fs.frameBits(fs.bitrateIndex), fs.sideInfoBits, fs.modeGr)
	q.resv.frameEnd(meanBits, fs.modeGr, fs.channels, fs.side)
}

// fullFrameBits is the number of main data bits a frame at bitrateIndex
// could hold, reservoir included.
func (q *quantizer) fullFrameBits(fs *frameState, bitrateIndex int) int {
	full, _, _ := q.resv.frameSize(fs.frameBits(bitrateIndex), fs.sideInfoBits, fs.modeGr)
	return full
}

// vbrPrepare computes the allowed noise and the bit range of every granule
// of a VBR frame. It reports whether the whole frame is analog silence.
func (q *quantizer) vbrPrepare(fs *frameState, xmin *[MAX_GRANULES][MAX_CHANNELS][SFBMAX]float64, minBits, maxBits *[MAX_GRANULES][MAX_CHANNELS]int) bool {
	silence := true
	_, avg := q.resv.frameBegin(fs.frameBits(fs.maxBitrateIndex), fs.sideInfoBits, fs.modeGr, fs.side)
	bits := 0
	for gr := 0; gr < fs.modeGr; gr++ {
		mxb := q.onPE(fs, &maxBits[gr], avg, gr, false)
		if fs.ms {
			reduceSide(&maxBits[gr], fs.msEnerRatio[gr], avg, mxb)
		}
		for ch := 0; ch < fs.channels; ch++ {
			gi := &fs.side.Granules[gr][ch]
			q.initOuterLoop(gi)
			if q.calcXmin(&fs.ratio[gr][ch], gi, &xmin[gr][ch]) != 0 {
				silence = false
			}
			minBits[gr][ch] = 126
			bits += maxBits[gr][ch]
		}
	}
	limit := q.fullFrameBits(fs, fs.maxBitrateIndex)
	for gr := 0; gr < fs.modeGr; gr++ {
		for ch := 0; ch < fs.channels; ch++ {
			if bits > limit && bits > 0 {
				maxBits[gr][ch] = maxBits[gr][ch] * limit / bits
			}
			if minBits[gr][ch] > maxBits[gr][ch] {
				minBits[gr][ch] = maxBits[gr][ch]
			}
		}
	}
	return silence
}

// vbrEncodeGranule binary searches the smallest bit target in
// [minBits, maxBits] the outer loop can code without audible noise.
func (q *quantizer) vbrEncodeGranule(gi *GranuleInfo, xmin *[SFBMAX]float64, xr34 *[GRANULE_SIZE]float64, ch, minBits, maxBits int) int {
	var (
		best      GranuleInfo
		bestXr34  [GRANULE_SIZE]float64
		startXr34 = *xr34
		start     = *gi
		found     = false
		over      int
	)
	thisBits := (maxBits + minBits) / 2
	for {
		*gi = start
		*xr34 = startXr34
		over = q.outerLoop(gi, xmin, xr34, ch, thisBits)
		if over <= 0 {
			found = true
			best = *gi
			bestXr34 = *xr34
			maxBits = gi.Part2_3Length - 32
		} else {
			minBits = thisBits + 32
		}
		dbits := maxBits - minBits
		thisBits = (maxBits + minBits) / 2
		if dbits <= 12 {
			break
		}
	}
	if found {
		*gi = best
		*xr34 = bestXr34
		return 0
	}
	return over
}

// bitpressure loosens the allowed noise, more so in the high bands, and
// lowers the bit caps after a frame did not fit the largest bitrate.
func bitpressure(fs *frameState, xmin *[MAX_GRANULES][MAX_CHANNELS][SFBMAX]float64, minBits, maxBits *[MAX_GRANULES][MAX_CHANNELS]int) {
	for gr := 0; gr < fs.modeGr; gr++ {
		for ch := 0; ch < fs.channels; ch++ {
			gi := &fs.side.Granules[gr][ch]
			x := xmin[gr][ch][:]
			i := 0
			for sfb := 0; sfb < gi.PsyLMax; sfb++ {
				x[i] *= 1. + .029*float64(sfb*sfb)/SBMAX_l/SBMAX_l
				i++
			}
			if gi.BlockType == SHORT_TYPE {
				for sfb := gi.SfbSMin; sfb < SBMAX_s; sfb++ {
					for w := 0; w < 3; w++ {
						x[i] *= 1. + .029*float64(sfb*sfb)/SBMAX_s/SBMAX_s
						i++
					}
				}
			}
			maxBits[gr][ch] = max(minBits[gr][ch], int(0.9*float64(maxBits[gr][ch])))
		}
	}
}

// vbrRHIterationLoop codes every granule with the fewest bits the outer
// loop needs for transparency, then picks the smallest bitrate holding
// the frame. Frames that do not fit are retried under bit pressure.
func (q *quantizer) vbrRHIterationLoop(fs *frameState) {
	var (
		xmin             [MAX_GRANULES][MAX_CHANNELS][SFBMAX]float64
		minBits, maxBits [MAX_GRANULES][MAX_CHANNELS]int
		meanBits         int
	)
	silence := q.vbrPrepare(fs, &xmin, &minBits, &maxBits)
	prepared := fs.side.Granules
	for {
		used := 0
		for gr := 0; gr < fs.modeGr; gr++ {
			for ch := 0; ch < fs.channels; ch++ {
				var xr34 [GRANULE_SIZE]float64
				gi := &fs.side.Granules[gr][ch]
				*gi = prepared[gr][ch]
				fs.overCount[gr][ch] = 0
				if !initXrpow(gi, &xr34) || maxBits[gr][ch] == 0 {
					continue
				}
				fs.overCount[gr][ch] = q.vbrEncodeGranule(gi, &xmin[gr][ch], &xr34, ch, minBits[gr][ch], maxBits[gr][ch])
				if q.policy.substepShaping&1 != 0 {
					q.trancateSmallSpectrums(gi, &xmin[gr][ch], &xr34)
				}
				used += gi.Part2_3Length + gi.Part2Length
			}
		}

		fs.bitrateIndex = fs.minBitrateIndex
		if silence {
			fs.bitrateIndex = 1
		}
		for ; fs.bitrateIndex < fs.maxBitrateIndex; fs.bitrateIndex++ {
			if used <= q.fullFrameBits(fs, fs.bitrateIndex) {
				break
			}
		}
		bits, mean := q.resv.frameBegin(fs.frameBits(fs.bitrateIndex), fs.sideInfoBits, fs.modeGr, fs.side)
		meanBits = mean
		if used <= bits {
			break
		}
		bitpressure(fs, &xmin, &minBits, &maxBits)
	}
	for gr := 0; gr < fs.modeGr; gr++ {
		for ch := 0; ch < fs.channels; ch++ {
			q.iterationFinishOne(fs.side, gr, ch)
			q.resv.adjust(&fs.side.Granules[gr][ch])
		}
	}
	q.resv.frameEnd(meanBits, fs.modeGr, fs.channels, fs.side)
}
