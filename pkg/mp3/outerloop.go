package mp3

import (
	"math"
	"sort"
)

// quantizer owns everything the quantization loops need besides the
// granule itself: band layout, ATH, search policy and the per channel
// global gain search state.
type quantizer struct {
	cfg        *Config
	policy     qualityPolicy
	sampleRate int
	// granules per frame: 2 for MPEG-1, 1 otherwise
	modeGr int

	sfb      scaleFacBand
	ath      athTable
	athFloor float64
	athAdj   athAdjust
	decay    float64
	bvScf    [GRANULE_SIZE]int

	// the global gain search of a channel starts where the previous
	// granule ended
	oldValue    [MAX_CHANNELS]int
	currentStep [MAX_CHANNELS]int

	resv reservoir
}

func newQuantizer(c *Config) (*quantizer, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	idx, _ := findSampleRateIndex(c.SampleRate)
	q := &quantizer{
		cfg:        c,
		policy:     newQualityPolicy(c),
		sampleRate: c.SampleRate,
		modeGr:     mpegGranulesPerFrame[getMpegVersion(idx)],
		athAdj:     newATHAdjust(),
		decay:      math.Exp(-LOG10 / (temporalMaskSustainSec * float64(c.SampleRate) / 192)),
	}
	copy(q.sfb.L[:], scaleFactorBandIndex[idx][:])
	copy(q.sfb.S[:], scaleFactorBandIndexShort[idx][:])
	q.ath = newATHTable(c, &q.sfb)
	q.athFloor = 10 * math.Log10(c.athMdct(-1))
	q.resv = newReservoir(q.modeGr, c.DisableReservoir)
	q.huffmanInit()
	for ch := range q.oldValue {
		q.oldValue[ch] = 180
		q.currentStep[ch] = 4
	}
	return q, nil
}

// initOuterLoop resets the coding state of gi and lays out its bands for
// the block type. Short block spectra arrive window interleaved and are
// reordered band by band, window by window.
func (q *quantizer) initOuterLoop(gi *GranuleInfo) {
	gi.Part2_3Length = 0
	gi.BigValues = 0
	gi.Count1 = 0
	gi.GlobalGain = 210
	gi.ScaleFacCompress = 0
	gi.TableSelect = [3]int{}
	gi.SubblockGain = [4]int{}
	gi.Region0Count = 0
	gi.Region1Count = 0
	gi.PreFlag = 0
	gi.ScaleFacScale = 0
	gi.Count1TableSelect = 0
	gi.Part2Length = 0
	gi.MixedBlockFlag = 0
	if q.sampleRate <= 8000 {
		gi.SfbLMax = 17
		gi.SfbSMin = 9
		gi.PsyLMax = 17
	} else {
		gi.SfbLMax = SBPSY_l
		gi.SfbSMin = SBPSY_s
		gi.PsyLMax = SBPSY_l
	}
	gi.PsyMax = gi.PsyLMax
	gi.SfbMax = gi.SfbLMax
	for sfb := 0; sfb < SBMAX_l; sfb++ {
		gi.Width[sfb] = q.sfb.L[sfb+1] - q.sfb.L[sfb]
		// window 3 has a subblock gain of zero
		gi.Window[sfb] = 3
	}
	if gi.BlockType == SHORT_TYPE {
		gi.SfbSMin = 0
		gi.SfbLMax = 0
		n := SBPSY_s
		if q.sampleRate <= 8000 {
			n = 9
		}
		gi.PsyMax = gi.SfbLMax + 3*(n-gi.SfbSMin)
		gi.SfbMax = gi.PsyMax
		gi.PsyLMax = gi.SfbLMax

		work := gi.Xr
		k := q.sfb.L[gi.SfbLMax]
		for sfb := gi.SfbSMin; sfb < SBMAX_s; sfb++ {
			start, end := q.sfb.S[sfb], q.sfb.S[sfb+1]
			for window := 0; window < 3; window++ {
				for l := start; l < end; l++ {
					gi.Xr[k] = work[3*l+window]
					k++
				}
			}
		}
		j := gi.SfbLMax
		for sfb := gi.SfbSMin; sfb < SBMAX_s; sfb++ {
			w := q.sfb.S[sfb+1] - q.sfb.S[sfb]
			for window := 0; window < 3; window++ {
				gi.Width[j+window] = w
				gi.Window[j+window] = window
			}
			j += 3
		}
	}
	gi.Count1Bits = 0
	gi.SfbPartitionTable = nrOfSfbBlock[0][0]
	gi.Slen = [4]int{}
	gi.MaxNonZeroCoeff = 575
	gi.ScaleFac = [SFBMAX]int{}
	gi.L3Enc = [GRANULE_SIZE]int{}
	gi.EnergyAboveCutoff = [SFBMAX]bool{}
}

// initXrpow computes |xr|^(3/4) up to MaxNonZeroCoeff. It reports false
// when there is nothing to quantize.
func initXrpow(gi *GranuleInfo, xr34 *[GRANULE_SIZE]float64) bool {
	upper := gi.MaxNonZeroCoeff
	gi.XrPowMax = 0
	sum := 0.0
	for i := range xr34 {
		if i > upper {
			xr34[i] = 0
			continue
		}
		tmp := math.Abs(gi.Xr[i])
		sum += tmp
		xr34[i] = math.Sqrt(tmp * math.Sqrt(tmp))
		if xr34[i] > gi.XrPowMax {
			gi.XrPowMax = xr34[i]
		}
	}
	if sum > 1e-20 {
		return true
	}
	gi.L3Enc = [GRANULE_SIZE]int{}
	return false
}

// binSearchStepSize finds a global gain that brings the Huffman bits close
// to desiredRate, starting from the gain and step of the previous granule
// of the channel. It then raises the gain until the bits fit.
func (q *quantizer) binSearchStepSize(gi *GranuleInfo, desiredRate, ch int, xr34 *[GRANULE_SIZE]float64) int {
	const (
		searchNone = iota
		searchUp
		searchDown
	)
	currentStep := q.currentStep[ch]
	goneOver := false
	start := q.oldValue[ch]
	direction := searchNone
	gi.GlobalGain = start
	desiredRate -= gi.Part2Length

	var nBits int
	for {
		nBits = q.countBits(xr34, gi, nil, nil)
		if currentStep == 1 || nBits == desiredRate {
			break
		}
		var step int
		if nBits > desiredRate {
			if direction == searchDown {
				goneOver = true
			}
			if goneOver {
				currentStep /= 2
			}
			direction = searchUp
			step = currentStep
		} else {
			if direction == searchUp {
				goneOver = true
			}
			if goneOver {
				currentStep /= 2
			}
			direction = searchDown
			step = -currentStep
		}
		gi.GlobalGain += step
		if gi.GlobalGain < 0 {
			gi.GlobalGain = 0
			goneOver = true
		}
		if gi.GlobalGain > 255 {
			gi.GlobalGain = 255
			goneOver = true
		}
	}

	for nBits > desiredRate && gi.GlobalGain < 255 {
		gi.GlobalGain++
		nBits = q.countBits(xr34, gi, nil, nil)
	}
	if start-gi.GlobalGain >= 4 {
		q.currentStep[ch] = 4
	} else {
		q.currentStep[ch] = 2
	}
	q.oldValue[ch] = gi.GlobalGain
	gi.Part2_3Length = nBits
	return nBits
}

const (
	// 2**(.75*.5) and 2**(.75*1): one scalefactor step in the x^(3/4) domain
	ifqStep34Fine   = 1.29683955465100964055
	ifqStep34Coarse = 1.68179283050742922612
)

// amplifyBand raises band sfb, whose last line is j, by amp.
func amplifyBand(gi *GranuleInfo, xr34 *[GRANULE_SIZE]float64, j, width int, amp float64) {
	for l := j - width; l < j; l++ {
		xr34[l] *= amp
		if xr34[l] > gi.XrPowMax {
			gi.XrPowMax = xr34[l]
		}
	}
}

// ampScalefacBands increments the scalefactor of the bands selected by the
// amplification policy and amplifies their magnitudes to match.
func (q *quantizer) ampScalefacBands(gi *GranuleInfo, distort *[SFBMAX]float64, xr34 *[GRANULE_SIZE]float64, refine bool, pseudoHalf *[SFBMAX]bool) {
	ifqstep34 := ifqStep34Fine
	if gi.ScaleFacScale != 0 {
		ifqstep34 = ifqStep34Coarse
	}
	trigger := 0.0
	for sfb := 0; sfb < gi.SfbMax; sfb++ {
		if trigger < distort[sfb] {
			trigger = distort[sfb]
		}
	}

	amp := q.policy.noiseShapingAmp
	if amp == AMP_REFINE {
		amp = AMP_WITHIN_HALF
		if refine {
			amp = AMP_ONE_BAND
		}
	}
	switch amp {
	case AMP_ONE_BAND:
	case AMP_WITHIN_HALF:
		if trigger > 1.0 {
			trigger = math.Pow(trigger, .5)
		} else {
			trigger *= .95
		}
	default:
		if trigger > 1.0 {
			trigger = 1.0
		} else {
			trigger *= .95
		}
	}

	j := 0
	for sfb := 0; sfb < gi.SfbMax; sfb++ {
		width := gi.Width[sfb]
		j += width
		if distort[sfb] < trigger {
			continue
		}
		if pseudoHalf != nil {
			pseudoHalf[sfb] = !pseudoHalf[sfb]
			if !pseudoHalf[sfb] && q.policy.noiseShapingAmp == AMP_ONE_BAND {
				return
			}
		}
		gi.ScaleFac[sfb]++
		amplifyBand(gi, xr34, j, width, ifqstep34)
		if q.policy.noiseShapingAmp == AMP_ONE_BAND {
			return
		}
	}
}

// incScalefacScale switches gi to the coarse scalefactor scale, rounding
// odd scalefactors up and folding pretab into the scalefactors.
func incScalefacScale(gi *GranuleInfo, xr34 *[GRANULE_SIZE]float64) {
	j := 0
	for sfb := 0; sfb < gi.SfbMax; sfb++ {
		width := gi.Width[sfb]
		s := gi.ScaleFac[sfb]
		if gi.PreFlag != 0 && sfb < SBMAX_l {
			s += pretab[sfb]
		}
		j += width
		if s&1 != 0 {
			s++
			amplifyBand(gi, xr34, j, width, ifqStep34Fine)
		}
		gi.ScaleFac[sfb] = s >> 1
	}
	gi.PreFlag = 0
	gi.ScaleFacScale = 1
}

// incSubblockGain raises the subblock gain of every short window whose
// scalefactors overflow, lowering the window's scalefactors to compensate.
// It reports true when no further subblock gain is possible.
func (q *quantizer) incSubblockGain(gi *GranuleInfo, xr34 *[GRANULE_SIZE]float64) bool {
	sf := &gi.ScaleFac
	for sfb := 0; sfb < gi.SfbLMax; sfb++ {
		if sf[sfb] >= 16 {
			return true
		}
	}
	for window := 0; window < 3; window++ {
		s1, s2 := 0, 0
		sfb := gi.SfbLMax + window
		for ; sfb < gi.sfbDivide(); sfb += 3 {
			if s1 < sf[sfb] {
				s1 = sf[sfb]
			}
		}
		for ; sfb < gi.SfbMax; sfb += 3 {
			if s2 < sf[sfb] {
				s2 = sf[sfb]
			}
		}
		if s1 < 16 && s2 < 8 {
			continue
		}
		if gi.SubblockGain[window] >= 7 {
			return true
		}

		// subblock gain also reaches the band above the last scalefactor
		gi.SubblockGain[window]++
		j := q.sfb.L[gi.SfbLMax]
		for sfb = gi.SfbLMax + window; sfb < gi.SfbMax; sfb += 3 {
			width := gi.Width[sfb]
			s := sf[sfb] - (4 >> gi.ScaleFacScale)
			if s >= 0 {
				sf[sfb] = s
				j += width * 3
				continue
			}
			sf[sfb] = 0
			gain := 210 + s<<(gi.ScaleFacScale+1)
			j += width * (window + 1)
			amplifyBand(gi, xr34, j, width, ipow20(gain))
			j += width * (3 - window - 1)
		}
		j += gi.Width[sfb] * (window + 1)
		amplifyBand(gi, xr34, j, gi.Width[sfb], ipow20(202))
	}
	return false
}

// loopBreak reports whether every band has been amplified at least once.
func loopBreak(gi *GranuleInfo) bool {
	for sfb := 0; sfb < gi.SfbMax; sfb++ {
		if gi.ScaleFac[sfb]+gi.SubblockGain[gi.Window[sfb]] == 0 {
			return false
		}
	}
	return true
}

// balanceNoise amplifies the distorted bands and makes sure the resulting
// scalefactors can still be coded, escalating to scalefac_scale and then
// subblock gain. It reports false when the search cannot continue.
func (q *quantizer) balanceNoise(gi *GranuleInfo, distort *[SFBMAX]float64, xr34 *[GRANULE_SIZE]float64, refine bool, pseudoHalf *[SFBMAX]bool) bool {
	q.ampScalefacBands(gi, distort, xr34, refine, pseudoHalf)

	if loopBreak(gi) {
		return false
	}
	status := q.scaleBitcount(gi)
	if !status {
		return true
	}

	if q.policy.noiseShaping > 1 {
		if pseudoHalf != nil {
			*pseudoHalf = [SFBMAX]bool{}
		}
		if gi.ScaleFacScale == 0 {
			incScalefacScale(gi, xr34)
			status = false
		} else if gi.BlockType == SHORT_TYPE && q.policy.useSubblockGain {
			status = q.incSubblockGain(gi, xr34) || loopBreak(gi)
		}
	}
	if !status {
		status = q.scaleBitcount(gi)
	}
	return !status
}

// klemmNoise is a perceptual sum of the band distortions.
func klemmNoise(distort *[SFBMAX]float64, gi *GranuleInfo) float64 {
	noise := 1e-37
	for sfb := 0; sfb < gi.PsyMax; sfb++ {
		d := distort[sfb]
		noise += math.Log10(0.368 + 0.632*d*d*d)
	}
	return math.Max(1e-20, noise)
}

func floatEqual(a, b float64) bool {
	return math.Abs(a-b) <= 1e-6*math.Max(math.Abs(a), math.Abs(b))
}

// quantCompare reports whether calc is a better candidate than best under
// comparison policy quantComp. Once best has no distorted band a
// candidate must also use fewer bits.
func quantCompare(quantComp int, best, calc *calcNoiseResult, gi *GranuleInfo, distort *[SFBMAX]float64) bool {
	var better bool
	switch quantComp {
	case 0:
		better = calc.overCount < best.overCount ||
			(calc.overCount == best.overCount && calc.overNoise < best.overNoise) ||
			(calc.overCount == best.overCount && floatEqual(calc.overNoise, best.overNoise) && calc.totNoise < best.totNoise)
	case 8:
		calc.maxNoise = klemmNoise(distort, gi)
		better = calc.maxNoise < best.maxNoise
	case 1:
		better = calc.maxNoise < best.maxNoise
	case 2:
		better = calc.totNoise < best.totNoise
	case 3:
		better = calc.totNoise < best.totNoise && calc.maxNoise < best.maxNoise
	case 4:
		better = (calc.maxNoise <= 0.0 && best.maxNoise > 0.2) ||
			(calc.maxNoise <= 0.0 && best.maxNoise < 0.0 && best.maxNoise > calc.maxNoise-0.2 && calc.totNoise < best.totNoise) ||
			(calc.maxNoise <= 0.0 && best.maxNoise > 0.0 && best.maxNoise > calc.maxNoise-0.2 && calc.totNoise < best.totNoise+best.overNoise) ||
			(calc.maxNoise > 0.0 && best.maxNoise > -0.05 && best.maxNoise > calc.maxNoise-0.1 && calc.totNoise+calc.overNoise < best.totNoise+best.overNoise) ||
			(calc.maxNoise > 0.0 && best.maxNoise > -0.1 && best.maxNoise > calc.maxNoise-0.15 && calc.totNoise+2*calc.overNoise < best.totNoise+2*best.overNoise)
	case 5:
		better = calc.overNoise < best.overNoise ||
			(floatEqual(calc.overNoise, best.overNoise) && calc.totNoise < best.totNoise)
	case 6:
		better = calc.overNoise < best.overNoise ||
			(floatEqual(calc.overNoise, best.overNoise) &&
				(calc.maxNoise < best.maxNoise ||
					(floatEqual(calc.maxNoise, best.maxNoise) && calc.totNoise <= best.totNoise)))
	case 7:
		better = calc.overCount < best.overCount || calc.overNoise < best.overNoise
	default:
		if best.overCount > 0 {
			better = calc.overSSD <= best.overSSD
			if calc.overSSD == best.overSSD {
				better = calc.bits < best.bits
			}
		} else {
			better = calc.maxNoise < 0 && calc.maxNoise*10+float64(calc.bits) <= best.maxNoise*10+float64(best.bits)
		}
	}
	if best.overCount == 0 {
		better = better && calc.bits < best.bits
	}
	return better
}

// outerLoop searches scalefactors and global gain for gi within targBits.
// xmin is the allowed noise per band and xr34 the x^(3/4) magnitudes,
// which are amplified along with the scalefactors. It returns the number
// of bands still above their allowed noise.
func (q *quantizer) outerLoop(gi *GranuleInfo, xmin *[SFBMAX]float64, xr34 *[GRANULE_SIZE]float64, ch, targBits int) int {
	var (
		distort       [SFBMAX]float64
		bestNoise     calcNoiseResult
		prevNoise     calcNoiseData
		saveXr34      [GRANULE_SIZE]float64
		pseudoHalfBuf [SFBMAX]bool
		pseudoHalf    *[SFBMAX]bool
	)
	q.binSearchStepSize(gi, targBits, ch, xr34)
	if q.policy.noiseShaping == 0 {
		// psychoacoustics only, the first fit is the result
		return 100
	}
	if q.policy.substepShaping&2 != 0 {
		pseudoHalf = &pseudoHalfBuf
		for sfb := 0; sfb < gi.PsyMax; sfb++ {
			pseudoHalf[sfb] = true
		}
	}

	prevNoise.reset()
	calcNoise(gi, xmin, &distort, &bestNoise, &prevNoise)
	bestNoise.bits = gi.Part2_3Length
	bestPart2_3Length := math.MaxInt32

	work := *gi
	age := 0
	saveXr34 = *xr34
	refine := false
	bestGainPass1 := 0
	quantComp := q.cfg.QuantComp
	if gi.BlockType == SHORT_TYPE {
		quantComp = q.cfg.QuantCompShort
	}
	searchLimit := 3
	if q.policy.substepShaping&2 != 0 {
		searchLimit = 20
	}

	for {
		for work.GlobalGain+work.ScaleFacScale < 255 {
			maxGain := 255
			if !q.balanceNoise(&work, &distort, xr34, refine, pseudoHalf) {
				break
			}
			if work.ScaleFacScale != 0 {
				maxGain = 254
			}
			huffBits := targBits - work.Part2Length
			if huffBits <= 0 {
				break
			}
			// raise the gain until the new scalefactors fit
			for {
				work.Part2_3Length = q.countBits(xr34, &work, &prevNoise, pseudoHalf)
				if work.Part2_3Length <= huffBits || work.GlobalGain > maxGain {
					break
				}
				work.GlobalGain++
			}
			if work.GlobalGain > maxGain {
				break
			}
			if bestNoise.overCount == 0 {
				for {
					work.Part2_3Length = q.countBits(xr34, &work, &prevNoise, pseudoHalf)
					if work.Part2_3Length <= bestPart2_3Length || work.GlobalGain > maxGain {
						break
					}
					work.GlobalGain++
				}
				if work.GlobalGain > maxGain {
					break
				}
			}

			var noise calcNoiseResult
			calcNoise(&work, xmin, &distort, &noise, &prevNoise)
			noise.bits = work.Part2_3Length

			if quantCompare(quantComp, &bestNoise, &noise, &work, &distort) {
				bestPart2_3Length = work.Part2_3Length
				bestNoise = noise
				*gi = work
				age = 0
				saveXr34 = *xr34
				continue
			}
			if q.policy.fullOuterLoop == 0 {
				age++
				if age > searchLimit && bestNoise.overCount == 0 {
					break
				}
				if q.policy.noiseShapingAmp == AMP_REFINE && refine {
					if age > 30 || work.GlobalGain-bestGainPass1 > 15 {
						break
					}
				}
			}
		}

		if q.policy.noiseShapingAmp != AMP_REFINE || refine {
			break
		}
		// second pass from the best candidate with single band steps
		work = *gi
		*xr34 = saveXr34
		prevNoise.reset()
		calcNoise(&work, xmin, &distort, &calcNoiseResult{}, &prevNoise)
		age = 0
		bestGainPass1 = work.GlobalGain
		refine = true
	}

	switch {
	case q.cfg.VBR == VBR_RH || q.cfg.VBR == VBR_MTRH:
		// callers may retry with more bits
		*xr34 = saveXr34
	case q.cfg.VBR == VBR_OFF && q.policy.substepShaping&1 != 0:
		q.trancateSmallSpectrums(gi, xmin, xr34)
	}
	return bestNoise.overCount
}

// trancateSmallSpectrums zeroes the smallest quantized lines of bands that
// have noise headroom left, as long as the band stays below its allowed
// noise.
func (q *quantizer) trancateSmallSpectrums(gi *GranuleInfo, xmin *[SFBMAX]float64, work *[GRANULE_SIZE]float64) {
	var distort [SFBMAX]float64
	if (q.policy.substepShaping&4 == 0 && gi.BlockType == SHORT_TYPE) || q.policy.substepShaping&0x80 != 0 {
		return
	}
	calcNoise(gi, xmin, &distort, &calcNoiseResult{}, nil)
	for j := 0; j < GRANULE_SIZE; j++ {
		work[j] = 0
		if gi.L3Enc[j] != 0 {
			work[j] = math.Abs(gi.Xr[j])
		}
	}

	first := 8
	if gi.BlockType == SHORT_TYPE {
		first = 6
	}
	j := 0
	for sfb := 0; sfb < first; sfb++ {
		j += gi.Width[sfb]
	}
	for sfb := first; sfb < gi.PsyMax; sfb++ {
		width := gi.Width[sfb]
		start := j
		j += width
		if distort[sfb] >= 1.0 {
			continue
		}
		band := work[start:j]
		sort.Float64s(band)
		if band[width-1] == 0 {
			continue
		}
		allowedNoise := (1.0 - distort[sfb]) * xmin[sfb]
		truncThreshold := 0.0
		for k := 0; k < width; {
			nsame := 1
			for ; k+nsame < width; nsame++ {
				if band[k] != band[k+nsame] {
					break
				}
			}
			noise := band[k] * band[k] * float64(nsame)
			if allowedNoise < noise {
				if k != 0 {
					truncThreshold = band[k-1]
				}
				break
			}
			allowedNoise -= noise
			k += nsame
		}
		if truncThreshold == 0 {
			continue
		}
		for l := start; l < j; l++ {
			if math.Abs(gi.Xr[l]) <= truncThreshold {
				gi.L3Enc[l] = 0
			}
		}
	}
	gi.Part2_3Length = q.noquantCountBits(gi)
}

// iterationFinishOne commits the result of one granule and channel:
// scalefactor storage, a final Huffman layout search and the total bit
// length including scalefactors.
func (q *quantizer) iterationFinishOne(side *SideInfo, gr, ch int) {
	gi := &side.Granules[gr][ch]
	q.bestScalefacStore(gr, ch, side)
	if q.policy.useBestHuffman == 1 {
		q.bestHuffmanDivide(gi)
	}
	gi.Part2_3Length += gi.Part2Length
}
