package mp3

import (
	"fmt"
	"math"
)

// Largest scalefactor each band can code.
var (
	maxRangeShort = [SFBMAX]int{
		15, 15, 15, 15, 15, 15, 15, 15, 15, 15, 15, 15, 15, 15, 15, 15, 15, 15,
		7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7,
		0, 0, 0,
	}
	maxRangeLong = [SBMAX_l]int{
		15, 15, 15, 15, 15, 15, 15, 15, 15, 15, 15, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 0,
	}
	// MPEG-2 long blocks with pretab use the third partition table
	maxRangeLongLSFPretab = [SBMAX_l]int{
		7, 7, 7, 7, 7, 7, 3, 3, 3, 3, 3, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}
)

// sfSearch selects how the step of a band is derived from its allowed
// noise.
type sfSearch int

const (
	// searchScalefac binary searches the coarsest step without audible
	// noise.
	searchScalefac sfSearch = iota
	// guessScalefac estimates the step from the allowed noise alone.
	guessScalefac
)

// vbrAlgo is the state of the direct scalefactor search of one granule
// and channel.
type vbrAlgo struct {
	q      *quantizer
	gi     *GranuleInfo
	xr34   *[GRANULE_SIZE]float64
	search sfSearch

	mingainL int
	mingainS [3]int
}

// noiseCache remembers whether a band was too noisy at a given step.
type noiseCache struct {
	valid [256]bool
	over  [256]bool
}

// bandNoise is the quantization noise of one band at step sf.
func bandNoise(xr, xr34 []float64, sf int) float64 {
	sfpow := pow20(sf)
	sfpow34 := ipow20(sf)
	var ix [4]int
	noise := 0.0
	for j := 0; j < len(xr); j += 4 {
		n := min(4, len(xr)-j)
		quantizeLines(xr34[j:j+n], sfpow34, ix[:n])
		for k := 0; k < n; k++ {
			d := math.Abs(xr[j+k]) - qtab.pow43[ix[k]]*sfpow
			noise += d * d
		}
	}
	return noise
}

// noisyNeighbourhood reports whether sf or one of its neighbouring steps
// exceeds xmin.
func (c *noiseCache) noisyNeighbourhood(xr, xr34 []float64, xmin float64, sf int) bool {
	check := func(s int) bool {
		if !c.valid[s] {
			c.valid[s] = true
			c.over[s] = bandNoise(xr, xr34, s) > xmin
		}
		return c.over[s]
	}
	if check(sf) {
		return true
	}
	if sf < 255 && check(sf+1) {
		return true
	}
	return sf > 0 && check(sf-1)
}

// findScalefac returns the coarsest step not below sfMin that keeps the
// band under xmin.
func findScalefac(xr, xr34 []float64, xmin float64, sfMin int) int {
	var cache noiseCache
	sf, sfOK, delsf := 128, 255, 128
	seenGood := false
	for i := 0; i < 8; i++ {
		delsf >>= 1
		if sf <= sfMin {
			sf += delsf
			continue
		}
		if cache.noisyNeighbourhood(xr, xr34, xmin, sf) {
			sf -= delsf
		} else {
			sfOK = sf
			sf += delsf
			seenGood = true
		}
	}
	if seenGood {
		sf = sfOK
	}
	return max(sf, sfMin)
}

// estimateScalefac is the step whose noise roughly matches xmin spread
// over width lines: 10 * 10^(2/3) * log10(4/3) per dB.
func estimateScalefac(xmin float64, width int) int {
	const c = 5.799142446
	return 210 + int(c*math.Log10(xmin/float64(width))-.5)
}

func (a *vbrAlgo) find(xr, xr34 []float64, xmin float64, sfMin int) int {
	if a.search == guessScalefac {
		return min(max(estimateScalefac(xmin, len(xr)), sfMin), 255)
	}
	return findScalefac(xr, xr34, xmin, sfMin)
}

// lowestScalefac is the finest step that keeps xr34 quantizable.
func lowestScalefac(xr34 float64) int {
	sfOK, sf, delsf := 255, 128, 64
	for i := 0; i < 8; i++ {
		if ipow20(sf)*xr34 <= IXMAX_VAL {
			sfOK = sf
			sf -= delsf
		} else {
			sf += delsf
		}
		delsf >>= 1
	}
	return sfOK
}

// blockSF computes the wanted step of every band and the finest usable
// step of every band. It returns the coarsest wanted step.
func (a *vbrAlgo) blockSF(xmin *[SFBMAX]float64, vbrsf, vbrsfmin *[SFBMAX]int) int {
	gi := a.gi
	maxsf, mo := 0, -1
	a.mingainL = 0
	a.mingainS = [3]int{}
	sfb, j, w := 0, 0, 0
	for j <= gi.MaxNonZeroCoeff && sfb < SFBMAX {
		width := gi.Width[sfb]
		l := min(width, gi.MaxNonZeroCoeff-j+1)
		peak := 0.0
		for _, v := range a.xr34[j : j+l] {
			peak = math.Max(peak, v)
		}
		m1 := lowestScalefac(peak)
		vbrsfmin[sfb] = m1
		a.mingainL = max(a.mingainL, m1)
		a.mingainS[w] = max(a.mingainS[w], m1)
		if w++; w > 2 {
			w = 0
		}

		var m2 int
		if sfb < gi.PsyMax && width > 2 {
			if gi.EnergyAboveCutoff[sfb] {
				m2 = a.find(gi.Xr[j:j+l], a.xr34[j:j+l], xmin[sfb], m1)
				maxsf = max(maxsf, m2)
				if mo < m2 && m2 < 255 {
					mo = m2
				}
			} else {
				m2 = 255
				maxsf = 255
			}
		} else {
			maxsf = max(maxsf, m1)
			m2 = maxsf
		}
		vbrsf[sfb] = m2
		sfb++
		j += width
	}
	for ; sfb < SFBMAX; sfb++ {
		vbrsf[sfb] = maxsf
		vbrsfmin[sfb] = 0
	}
	if mo > -1 {
		// bands without energy follow the coarsest band that has some
		maxsf = mo
		for sfb := range vbrsf {
			if vbrsf[sfb] == 255 {
				vbrsf[sfb] = mo
			}
		}
	}
	return maxsf
}

// quantizeBands quantizes the unamplified magnitudes with the step of each
// band.
func (a *vbrAlgo) quantizeBands() {
	gi := a.gi
	gi.L3Enc = [GRANULE_SIZE]int{}
	j := 0
	for sfb := 0; j <= gi.MaxNonZeroCoeff && sfb < SFBMAX; sfb++ {
		width := gi.Width[sfb]
		l := min(width, gi.MaxNonZeroCoeff-j+1)
		step := min(max(gi.bandStep(sfb), 0), Q_MAX-1)
		quantizeLines(a.xr34[j:j+l], ipow20(step), gi.L3Enc[j:j+l])
		j += width
	}
}

// setSubblockGain chooses the subblock gain of each window from the step
// differences sf of its bands and folds it into sf.
func (a *vbrAlgo) setSubblockGain(sf *[SFBMAX]int) {
	const maxRange1, maxRange2 = 15, 7
	gi := a.gi
	shift := 1
	if gi.ScaleFacScale != 0 {
		shift = 2
	}
	sbg := &gi.SubblockGain
	psydiv := min(18, gi.PsyMax)
	minSbg := 7
	for i := 0; i < 3; i++ {
		maxsf1, maxsf2, minsf := 0, 0, 1000
		sfb := i
		for ; sfb < psydiv; sfb += 3 {
			v := -sf[sfb]
			maxsf1 = max(maxsf1, v)
			minsf = min(minsf, v)
		}
		for ; sfb < SFBMAX; sfb += 3 {
			v := -sf[sfb]
			maxsf2 = max(maxsf2, v)
			minsf = min(minsf, v)
		}
		// as little subblock gain as possible to reach maxsf1 with
		// scalefactors
		maxsf1 = max(maxsf1-maxRange1<<shift, maxsf2-maxRange2<<shift)
		sbg[i] = 0
		if minsf > 0 {
			sbg[i] = minsf >> 3
		}
		if maxsf1 > 0 {
			sbg[i] = max(sbg[i], (maxsf1+7)>>3)
		}
		if sbg[i] > 0 && a.mingainS[i] > gi.GlobalGain-sbg[i]*8 {
			sbg[i] = (gi.GlobalGain - a.mingainS[i]) >> 3
		}
		sbg[i] = min(max(sbg[i], 0), 7)
		minSbg = min(minSbg, sbg[i])
	}
	for sfb := 0; sfb < SFBMAX; sfb += 3 {
		sf[sfb] += sbg[0] * 8
		sf[sfb+1] += sbg[1] * 8
		sf[sfb+2] += sbg[2] * 8
	}
	if minSbg > 0 {
		for i := 0; i < 3; i++ {
			sbg[i] -= minSbg
		}
		gi.GlobalGain -= minSbg * 8
	}
}

// setScalefacs converts the step differences sf into scalefactors,
// rounding towards finer steps and never below the finest usable step.
func (a *vbrAlgo) setScalefacs(vbrsfmin *[SFBMAX]int, sf *[SFBMAX]int, maxRange []int) {
	gi := a.gi
	ifqstep, shift := 2, 1
	if gi.ScaleFacScale != 0 {
		ifqstep, shift = 4, 2
	}
	pre := func(sfb int) int {
		if gi.PreFlag != 0 && sfb < SBMAX_l {
			return pretab[sfb]
		}
		return 0
	}
	if gi.PreFlag != 0 {
		for sfb := 11; sfb < gi.SfbMax; sfb++ {
			sf[sfb] += pre(sfb) * ifqstep
		}
	}
	sfb := 0
	for ; sfb < gi.SfbMax; sfb++ {
		gain := gi.GlobalGain - gi.SubblockGain[gi.Window[sfb]]*8 - pre(sfb)*ifqstep
		if sf[sfb] >= 0 {
			gi.ScaleFac[sfb] = 0
			continue
		}
		m := gain - vbrsfmin[sfb]
		s := (ifqstep - 1 - sf[sfb]) >> shift
		s = min(s, maxRange[sfb])
		if s > 0 && s<<shift > m {
			s = m >> shift
		}
		gi.ScaleFac[sfb] = max(s, 0)
	}
	for ; sfb < SFBMAX; sfb++ {
		gi.ScaleFac[sfb] = 0
	}
}

// scalefactorsUsable reports whether every band step stays at or above its
// finest usable step.
func (a *vbrAlgo) scalefactorsUsable(vbrsfmin *[SFBMAX]int) bool {
	for sfb := 0; sfb < a.gi.PsyMax; sfb++ {
		if a.gi.bandStep(sfb) < vbrsfmin[sfb] {
			return false
		}
	}
	return true
}

func (a *vbrAlgo) clampGain(vbrmax int) {
	a.gi.GlobalGain = min(max(vbrmax, 0), 255)
}

// shortBlockConstrain turns the band steps of a short block into a global
// gain, subblock gains and scalefactors.
func (a *vbrAlgo) shortBlockConstrain(vbrsf, vbrsfmin *[SFBMAX]int, vbrmax int) {
	gi := a.gi
	maxover0, maxover1, delta := 0, 0, 0
	for sfb := 0; sfb < gi.PsyMax; sfb++ {
		v := vbrmax - vbrsf[sfb]
		delta = max(delta, v)
		maxover0 = max(maxover0, v-(4*14+2*maxRangeShort[sfb]))
		maxover1 = max(maxover1, v-(4*14+4*maxRangeShort[sfb]))
	}
	mover := maxover0
	if a.q.policy.noiseShaping == 2 {
		// scalefac_scale may be used
		mover = min(maxover0, maxover1)
	}
	delta = min(delta, mover)
	vbrmax -= delta
	maxover0 -= mover
	maxover1 -= mover
	switch {
	case maxover0 == 0:
		gi.ScaleFacScale = 0
	case maxover1 == 0:
		gi.ScaleFacScale = 1
	}
	vbrmax = max(vbrmax, a.mingainL)
	a.clampGain(vbrmax)

	var sf [SFBMAX]int
	for sfb := range sf {
		sf[sfb] = vbrsf[sfb] - gi.GlobalGain
	}
	a.setSubblockGain(&sf)
	a.setScalefacs(vbrsfmin, &sf, maxRangeShort[:])
}

// longBlockConstrain turns the band steps of a long block into a global
// gain and scalefactors, choosing scalefac_scale and pretab.
func (a *vbrAlgo) longBlockConstrain(vbrsf, vbrsfmin *[SFBMAX]int, vbrmax int) {
	gi := a.gi
	maxRangep := maxRangeLong[:]
	if a.q.modeGr != 2 {
		maxRangep = maxRangeLongLSFPretab[:]
	}
	var maxover0, maxover1, maxover0p, maxover1p, delta int
	for sfb := 0; sfb < gi.PsyMax; sfb++ {
		v := vbrmax - vbrsf[sfb]
		delta = max(delta, v)
		maxover0 = max(maxover0, v-2*maxRangeLong[sfb])
		maxover1 = max(maxover1, v-4*maxRangeLong[sfb])
		maxover0p = max(maxover0p, v-2*(maxRangep[sfb]+pretab[sfb]))
		maxover1p = max(maxover1p, v-4*(maxRangep[sfb]+pretab[sfb]))
	}

	// pretab is only usable when every band can still absorb it
	pretabOK := func(over, factor int) bool {
		gain := max(vbrmax-over, a.mingainL)
		for sfb := 0; sfb < gi.PsyMax; sfb++ {
			if gain-vbrsfmin[sfb]-factor*pretab[sfb] <= 0 {
				return false
			}
		}
		return true
	}
	vm0p := pretabOK(maxover0p, 2)
	vm1p := vm0p && pretabOK(maxover1p, 4)
	if !vm0p {
		maxover0p = maxover0
	}
	if !vm1p {
		maxover1p = maxover1
	}
	if a.q.policy.noiseShaping != 2 {
		maxover1 = maxover0
		maxover1p = maxover0p
	}
	mover := min(maxover0, maxover0p, maxover1, maxover1p)
	delta = min(delta, mover)
	vbrmax -= delta
	vbrmax = max(vbrmax, a.mingainL)
	maxover0 -= mover
	maxover0p -= mover
	maxover1 -= mover
	maxover1p -= mover

	switch {
	case maxover0 == 0:
		gi.ScaleFacScale, gi.PreFlag = 0, 0
		maxRangep = maxRangeLong[:]
	case maxover0p == 0:
		gi.ScaleFacScale, gi.PreFlag = 0, 1
	case maxover1 == 0:
		gi.ScaleFacScale, gi.PreFlag = 1, 0
		maxRangep = maxRangeLong[:]
	case maxover1p == 0:
		gi.ScaleFacScale, gi.PreFlag = 1, 1
	}
	a.clampGain(vbrmax)

	var sf [SFBMAX]int
	for sfb := range sf {
		sf[sfb] = vbrsf[sfb] - gi.GlobalGain
	}
	var mr [SFBMAX]int
	copy(mr[:], maxRangep)
	a.setScalefacs(vbrsfmin, &sf, mr[:])
}

// alloc applies the block constraint matching the block type.
func (a *vbrAlgo) alloc(vbrsf, vbrsfmin *[SFBMAX]int, vbrmax int) {
	if a.gi.BlockType == SHORT_TYPE {
		a.shortBlockConstrain(vbrsf, vbrsfmin, vbrmax)
	} else {
		a.longBlockConstrain(vbrsf, vbrsfmin, vbrmax)
	}
}

// checkScaleBits fails hard when the scalefactors chosen by alloc cannot
// be coded; alloc guarantees they can.
func (a *vbrAlgo) checkScaleBits() {
	if a.q.scaleBitcount(a.gi) {
		panic(fmt.Sprintf("mp3: scalefactors out of range after block constraint (block %v, gain %d)", a.gi.BlockType, a.gi.GlobalGain))
	}
}

func (a *vbrAlgo) quantizeAndCountBits() int {
	a.quantizeBands()
	a.gi.Part2_3Length = a.q.noquantCountBits(a.gi)
	return a.gi.Part2_3Length
}

// tryThatOne codes the granule with the band steps sf and returns its bits
// including scalefactors.
func (a *vbrAlgo) tryThatOne(sf, vbrsfmin *[SFBMAX]int, vbrmax int) int {
	xrPowMax := a.gi.XrPowMax
	a.alloc(sf, vbrsfmin, vbrmax)
	a.checkScaleBits()
	bits := a.quantizeAndCountBits() + a.gi.Part2Length
	a.gi.XrPowMax = xrPowMax
	return bits
}

// cutDistribution caps every band step at cut.
func cutDistribution(sfwork *[SFBMAX]int, out *[SFBMAX]int, cut int) {
	for j, x := range sfwork {
		out[j] = min(x, cut)
	}
}

// flattenDistribution moves every band step k/dm of the way towards p.
func flattenDistribution(sfwork *[SFBMAX]int, out *[SFBMAX]int, dm, k, p int) int {
	sfmax := 0
	for j, x := range sfwork {
		if dm > 0 {
			x += k * (p - x) / dm
			x = min(max(x, 0), 255)
		}
		out[j] = x
		sfmax = max(sfmax, x)
	}
	return sfmax
}

// sfDepth is the distance of the finest band step from the coarsest
// possible one.
func sfDepth(sfwork *[SFBMAX]int) int {
	m := 0
	for _, x := range sfwork {
		m = max(m, 255-x)
	}
	return m
}

// tryGlobalStepsize shifts every band step by delta.
func (a *vbrAlgo) tryGlobalStepsize(sfwork, vbrsfmin *[SFBMAX]int, delta int) int {
	var tmp [SFBMAX]int
	vbrmax := 0
	for i, x := range sfwork {
		g := min(max(x+delta, vbrsfmin[i]), 255)
		vbrmax = max(vbrmax, g)
		tmp[i] = g
	}
	return a.tryThatOne(&tmp, vbrsfmin, vbrmax)
}

// searchGlobalStepsizeMax finds the smallest uniform shift of the band
// steps that fits target.
func (a *vbrAlgo) searchGlobalStepsizeMax(sfwork, vbrsfmin *[SFBMAX]int, target int) {
	gain := a.gi.GlobalGain
	l, r := gain, 512
	gainOK := 512
	for l <= r {
		curr := (l + r) >> 1
		if a.tryGlobalStepsize(sfwork, vbrsfmin, curr-gain) <= target {
			r = curr - 1
			gainOK = curr
		} else {
			l = curr + 1
		}
	}
	a.tryGlobalStepsize(sfwork, vbrsfmin, gainOK-gain)
}

// outOfBitsStrategy coarsens the band steps until the granule fits target
// bits. It first flattens the distribution towards the global gain, then
// raises the floor above it.
func (a *vbrAlgo) outOfBitsStrategy(sfwork, vbrsfmin *[SFBMAX]int, target int) {
	var wrk [SFBMAX]int
	dm := sfDepth(sfwork)
	p := a.gi.GlobalGain

	search := func(lo, hi int, flatten func(int) int) bool {
		biOK, bi := -1, (lo+hi)/2
		for {
			if a.tryThatOne(&wrk, vbrsfmin, flatten(bi)) <= target {
				biOK = bi
				hi = bi - 1
			} else {
				lo = bi + 1
			}
			if lo > hi {
				break
			}
			bi = (lo + hi) / 2
		}
		if biOK < 0 {
			return false
		}
		if bi != biOK {
			a.tryThatOne(&wrk, vbrsfmin, flatten(biOK))
		}
		return true
	}
	if search(0, dm, func(k int) int { return flattenDistribution(sfwork, &wrk, dm, k, p) }) {
		return
	}
	if search(p, 255, func(floor int) int { return flattenDistribution(sfwork, &wrk, dm, dm, floor) }) {
		return
	}
	a.searchGlobalStepsizeMax(&wrk, vbrsfmin, target)
}

// reduceBitUsage stores the scalefactors as compactly as possible and
// returns the granule's bits including scalefactors.
func (q *quantizer) reduceBitUsage(side *SideInfo, gr, ch int) int {
	gi := &side.Granules[gr][ch]
	q.bestScalefacStore(gr, ch, side)
	if q.policy.useBestHuffman == 1 {
		q.bestHuffmanDivide(gi)
	}
	return gi.Part2_3Length + gi.Part2Length
}

// vbrEncodeFrame codes every granule of the frame straight from its
// allowed noise. When the result exceeds maxBits, the per granule and per
// channel caps are reallocated and the granules coarsened until they fit.
// It returns the bits used by the frame.
func (q *quantizer) vbrEncodeFrame(side *SideInfo, channels int, xr34 *[MAX_GRANULES][MAX_CHANNELS][GRANULE_SIZE]float64, xmin *[MAX_GRANULES][MAX_CHANNELS][SFBMAX]float64, maxBits *[MAX_GRANULES][MAX_CHANNELS]int) int {
	var (
		sfwork, vbrsfmin [MAX_GRANULES][MAX_CHANNELS][SFBMAX]int
		algo             [MAX_GRANULES][MAX_CHANNELS]vbrAlgo
		maxCh            [MAX_GRANULES][MAX_CHANNELS]int
		useCh            [MAX_GRANULES][MAX_CHANNELS]int
		useGr            [MAX_GRANULES]int
		maxFr, useFr     int
	)
	ngr := q.modeGr
	search := searchScalefac
	if q.policy.fullOuterLoop < 0 {
		search = guessScalefac
	}
	for gr := 0; gr < ngr; gr++ {
		for ch := 0; ch < channels; ch++ {
			maxCh[gr][ch] = maxBits[gr][ch]
			maxFr += maxBits[gr][ch]
			algo[gr][ch] = vbrAlgo{q: q, gi: &side.Granules[gr][ch], xr34: &xr34[gr][ch], search: search}
		}
	}

	for gr := 0; gr < ngr; gr++ {
		for ch := 0; ch < channels; ch++ {
			if maxBits[gr][ch] <= 0 {
				continue
			}
			a := &algo[gr][ch]
			vbrmax := a.blockSF(&xmin[gr][ch], &sfwork[gr][ch], &vbrsfmin[gr][ch])
			a.alloc(&sfwork[gr][ch], &vbrsfmin[gr][ch], vbrmax)
			a.checkScaleBits()
		}
	}

	// encode as is
	for gr := 0; gr < ngr; gr++ {
		for ch := 0; ch < channels; ch++ {
			if maxBits[gr][ch] > 0 {
				algo[gr][ch].quantizeAndCountBits()
			}
			useCh[gr][ch] = q.reduceBitUsage(side, gr, ch)
			useGr[gr] += useCh[gr][ch]
		}
		useFr += useGr[gr]
	}
	if useFr <= maxFr && withinGranuleLimits(&useGr, &useCh, ngr, channels) {
		return useFr
	}

	if !q.reallocateBits(&maxCh, &useCh, &useGr, maxFr, ngr, channels) {
		// fall back to the perceptual entropy based caps
		maxCh = *maxBits
	}

	for ch := 0; ch < channels; ch++ {
		side.ScaleFactorSelectInfo[ch] = [4]int{}
	}
	useFr = 0
	for gr := 0; gr < ngr; gr++ {
		useGr[gr] = 0
		for ch := 0; ch < channels; ch++ {
			side.Granules[gr][ch].ScaleFacCompress = 0
			if maxBits[gr][ch] > 0 {
				var capped [SFBMAX]int
				a := &algo[gr][ch]
				cutDistribution(&sfwork[gr][ch], &capped, a.gi.GlobalGain)
				a.outOfBitsStrategy(&capped, &vbrsfmin[gr][ch], maxCh[gr][ch])
			}
			useCh[gr][ch] = q.reduceBitUsage(side, gr, ch)
			useGr[gr] += useCh[gr][ch]
		}
		useFr += useGr[gr]
	}
	if useFr > maxFr {
		panic(fmt.Sprintf("mp3: vbr frame exceeds its bit cap after reallocation: %d > %d", useFr, maxFr))
	}
	if !withinGranuleLimits(&useGr, &useCh, ngr, channels) {
		panic(fmt.Sprintf("mp3: vbr granule exceeds the side info limits after reallocation: granules %v, channels %v", useGr[:ngr], useCh[:ngr]))
	}
	return useFr
}

func withinGranuleLimits(useGr *[MAX_GRANULES]int, useCh *[MAX_GRANULES][MAX_CHANNELS]int, ngr, channels int) bool {
	for gr := 0; gr < ngr; gr++ {
		if useGr[gr] > MAX_BITS_PER_GRANULE {
			return false
		}
		for ch := 0; ch < channels; ch++ {
			if useCh[gr][ch] > MAX_BITS_PER_CHANNEL {
				return false
			}
		}
	}
	return true
}

// shareByWeight splits total over the entries proportionally to their
// weight; entries without weight get nothing.
func shareByWeight(total int, weights []float64, out []int) {
	s := 0.0
	for _, w := range weights {
		s += w
	}
	for i, w := range weights {
		out[i] = 0
		if s > 0 {
			out[i] = int(float64(total) * w / s)
		}
	}
}

// balancePair gives what one of two entries gets beyond its use plus
// slack to the other one.
func balancePair(limit *[MAX_CHANNELS]int, use [MAX_CHANNELS]int, slack int) {
	if limit[0] > use[0]+slack {
		limit[1] += limit[0] - (use[0] + slack)
		limit[0] = use[0] + slack
	}
	if limit[1] > use[1]+slack {
		limit[0] += limit[1] - (use[1] + slack)
		limit[1] = use[1] + slack
	}
}

// reallocateBits derives new per channel caps from the unconstrained use,
// weighting channels and granules by the root of their demand. It reports
// false when the result violates a limit.
func (q *quantizer) reallocateBits(maxCh, useCh *[MAX_GRANULES][MAX_CHANNELS]int, useGr *[MAX_GRANULES]int, maxFr, ngr, channels int) bool {
	var maxGr [MAX_GRANULES]int
	sumFr := 0
	for gr := 0; gr < ngr; gr++ {
		for ch := 0; ch < channels; ch++ {
			maxCh[gr][ch] = min(useCh[gr][ch], MAX_BITS_PER_CHANNEL)
			maxGr[gr] += maxCh[gr][ch]
		}
		if maxGr[gr] > MAX_BITS_PER_GRANULE {
			var w [MAX_CHANNELS]float64
			for ch := 0; ch < channels; ch++ {
				if maxCh[gr][ch] > 0 {
					w[ch] = math.Sqrt(math.Sqrt(float64(maxCh[gr][ch])))
				}
			}
			shareByWeight(MAX_BITS_PER_GRANULE, w[:channels], maxCh[gr][:channels])
			if channels > 1 {
				balancePair(&maxCh[gr], useCh[gr], 32)
				maxCh[gr][0] = min(maxCh[gr][0], MAX_BITS_PER_CHANNEL)
				maxCh[gr][1] = min(maxCh[gr][1], MAX_BITS_PER_CHANNEL)
			}
			maxGr[gr] = 0
			for ch := 0; ch < channels; ch++ {
				maxGr[gr] += maxCh[gr][ch]
			}
		}
		sumFr += maxGr[gr]
	}

	if sumFr > maxFr {
		var w [MAX_GRANULES]float64
		for gr := 0; gr < ngr; gr++ {
			if maxGr[gr] > 0 {
				w[gr] = math.Sqrt(float64(maxGr[gr]))
			}
		}
		shareByWeight(maxFr, w[:ngr], maxGr[:ngr])
		if ngr > 1 {
			balancePair(&maxGr, *useGr, 125)
			for gr := 0; gr < ngr; gr++ {
				maxGr[gr] = min(maxGr[gr], MAX_BITS_PER_GRANULE)
			}
		}
		for gr := 0; gr < ngr; gr++ {
			var w [MAX_CHANNELS]float64
			for ch := 0; ch < channels; ch++ {
				if maxCh[gr][ch] > 0 {
					w[ch] = math.Sqrt(float64(maxCh[gr][ch]))
				}
			}
			shareByWeight(maxGr[gr], w[:channels], maxCh[gr][:channels])
			if channels > 1 {
				balancePair(&maxCh[gr], useCh[gr], 32)
				for ch := 0; ch < channels; ch++ {
					maxCh[gr][ch] = min(maxCh[gr][ch], MAX_BITS_PER_CHANNEL)
				}
			}
		}
	}

	sumFr = 0
	for gr := 0; gr < ngr; gr++ {
		sumGr := 0
		for ch := 0; ch < channels; ch++ {
			if maxCh[gr][ch] > MAX_BITS_PER_CHANNEL {
				return false
			}
			sumGr += maxCh[gr][ch]
		}
		if sumGr > MAX_BITS_PER_GRANULE {
			return false
		}
		sumFr += sumGr
	}
	return sumFr <= maxFr
}

// vbrMTIterationLoop allocates a frame with the direct scalefactor search
// and picks the smallest bitrate holding it.
func (q *quantizer) vbrMTIterationLoop(fs *frameState) {
	var (
		xr34    [MAX_GRANULES][MAX_CHANNELS][GRANULE_SIZE]float64
		xmin    [MAX_GRANULES][MAX_CHANNELS][SFBMAX]float64
		maxBits [MAX_GRANULES][MAX_CHANNELS]int
	)
	_, mean := q.resv.frameBegin(fs.frameBits(fs.maxBitrateIndex), fs.sideInfoBits, fs.modeGr, fs.side)
	pad := q.resv.size
	limit := q.fullFrameBits(fs, fs.maxBitrateIndex)
	silence := true
	bits := 0
	for gr := 0; gr < fs.modeGr; gr++ {
		q.onPE(fs, &maxBits[gr], mean, gr, false)
		for ch := 0; ch < fs.channels; ch++ {
			gi := &fs.side.Granules[gr][ch]
			q.initOuterLoop(gi)
			if q.calcXmin(&fs.ratio[gr][ch], gi, &xmin[gr][ch]) != 0 {
				silence = false
			}
			bits += maxBits[gr][ch]
		}
	}
	for gr := 0; gr < fs.modeGr; gr++ {
		for ch := 0; ch < fs.channels; ch++ {
			if bits > limit && bits > 0 {
				maxBits[gr][ch] = maxBits[gr][ch] * limit / bits
			}
			maxBits[gr][ch] = min(maxBits[gr][ch], MAX_BITS_PER_CHANNEL)
			if !initXrpow(&fs.side.Granules[gr][ch], &xr34[gr][ch]) {
				// silent granules need no bits
				maxBits[gr][ch] = 0
			}
			fs.overCount[gr][ch] = 0
		}
	}
	if silence {
		pad = 0
	}

	prepared := fs.side.Granules
	for {
		used := q.vbrEncodeFrame(fs.side, fs.channels, &xr34, &xmin, &maxBits)
		i := fs.minBitrateIndex
		if silence {
			i = 1
		}
		for ; i < fs.maxBitrateIndex; i++ {
			if used <= q.fullFrameBits(fs, i) {
				break
			}
		}
		fs.bitrateIndex = i
		if pad > 0 {
			// prefer a larger frame when the reservoir would overflow anyway
			j := fs.maxBitrateIndex
			for ; j > i; j-- {
				if q.fullFrameBits(fs, j)-used <= pad {
					break
				}
			}
			fs.bitrateIndex = j
		}
		if used <= q.fullFrameBits(fs, fs.bitrateIndex) {
			break
		}
		var floor [MAX_GRANULES][MAX_CHANNELS]int
		bitpressure(fs, &xmin, &floor, &maxBits)
		fs.side.Granules = prepared
	}

	_, meanBits := q.resv.frameBegin(fs.frameBits(fs.bitrateIndex), fs.sideInfoBits, fs.modeGr, fs.side)
	for gr := 0; gr < fs.modeGr; gr++ {
		for ch := 0; ch < fs.channels; ch++ {
			gi := &fs.side.Granules[gr][ch]
			gi.Part2_3Length += gi.Part2Length
			q.resv.adjust(gi)
		}
	}
	q.resv.frameEnd(meanBits, fs.modeGr, fs.channels, fs.side)
}
