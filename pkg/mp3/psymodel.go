package mp3

import "math"

// Pre-echo control constants. NS_PREECHO_ATT0 is always applied to short
// block thresholds, ATT1 and ATT2 blend towards the previous block when an
// attack sits in or next to the current one.
const (
	NS_PREECHO_ATT0 = 0.8
	NS_PREECHO_ATT1 = 0.6
	NS_PREECHO_ATT2 = 0.3

	// long block thresholds may exceed the previous blocks by this much
	rpelev  = 2.0
	rpelev2 = 16.0

	// how long a short block threshold is sustained into the next window
	temporalMaskSustainSec = 0.01

	// left/right thresholds closer than this ratio (about 2 dB) share noise
	msShareRatio = 1.58

	// when a partition is this far apart it cannot add to a strong masker
	i1Limit = 8
	i2Limit = 23
)

// maskTab attenuates the contribution of a partition according to its
// tonality index: 0 is noise like, 8 strongly tonal.
var maskTab = [9]float64{
	1.0, 0.79433, 0.63096, 0.63096, 0.63096, 0.63096, 0.63096, 0.25119, 0.11749,
}

// maskAddDelta is how many partitions count as "near" for each tonality.
var maskAddDelta = [9]int{2, 2, 2, 1, 1, 1, 0, 0, -1}

// maskAddBoost raises the sum of two nearby maskers of similar strength.
var maskAddBoost = [10]float64{
	1.33352 * 1.33352, 1.35879 * 1.35879, 1.38454 * 1.38454, 1.39497 * 1.39497,
	1.40548 * 1.40548, 1.3537 * 1.3537, 1.30382 * 1.30382, 1.22321 * 1.22321,
	1.14758 * 1.14758, 1,
}

var (
	maMaxI1 = math.Pow(10, (i1Limit+1)/16.0)
	maMaxI2 = math.Pow(10, (i2Limit+1)/16.0)
)

// perceptual entropy weights per scalefactor band
var (
	regcoefL = [SBMAX_l - 1]float64{
		6.8, 5.8, 5.8, 6.4, 6.5, 9.9, 12.1, 14.4, 15, 18.9, 21.6, 26.9, 34.2, 40.2, 46.8, 56.5,
		60.7, 73.9, 85.7, 93.4, 126.1,
	}
	regcoefS = [SBMAX_s - 1]float64{
		11.8, 13.6, 17.2, 32, 46.5, 51.3, 57.5, 67.1, 71.5, 84.6, 97.6, 130,
	}
)

// MaskingHistory is the state the masking model carries from one granule
// of a channel to the next. It is owned by the caller: every Analyze call
// reads it first and then overwrites it, so calls for one channel must be
// strictly sequential while different channels are independent.
type MaskingHistory struct {
	nbL1 [CBANDS]float64
	nbL2 [CBANDS]float64

	// short block thresholds of the last window of the previous granule
	lastThmS [SBMAX_s]float64

	lastEnSubshort [9]float64
	lastAttacks    int
	blockTypeOld   BlockType
}

// NewMaskingHistory returns the state of a channel before its first granule.
func NewMaskingHistory() MaskingHistory {
	var h MaskingHistory
	for i := range h.lastEnSubshort {
		h.lastEnSubshort[i] = 10
	}
	h.blockTypeOld = NORM_TYPE
	return h
}

// PsyInput is one granule worth of analysis data for up to four channels
// (left, right and, for joint stereo, mid and side).
type PsyInput struct {
	// power spectrum of the long FFT
	EnergyLong [4][HBLKSIZE]float64
	// power spectra of the three short FFTs
	EnergyShort [4][3][HBLKSIZE_s]float64
	// time samples of the granule with NSFIRLEN/2 samples of margin on
	// both sides, AttackInputLen long
	Samples [4][]float64
}

// PsyResult is the output of the masking model for one granule.
type PsyResult struct {
	Ratio [4]MaskingThresholds
	// perceptual entropy of each channel for the chosen block length
	PE [4]float64
	// BlockType is the final window of the previous granule.
	BlockType [MAX_CHANNELS]BlockType
	// UseLongBlock is the window wanted for the current granule.
	UseLongBlock [MAX_CHANNELS]bool
}

// MaskingModel turns spectra into allowed noise per scalefactor band. It
// only holds read-only tables and may be shared between goroutines.
type MaskingModel struct {
	l *PartitionBandTable
	s *PartitionBandTable

	numChannels  int
	jointStereo  bool
	msfix        float64
	athLower     float64
	maskingLower float64
	attackLong   float64
	attackShort  float64
	shortBlocks  ShortBlockMode
	interChRatio float64
	temporal     bool
	decay        float64
}

// NewMaskingModel builds the partition tables for the configured sample
// rate.
func NewMaskingModel(c *Config) (*MaskingModel, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	idx, _ := findSampleRateIndex(c.SampleRate)
	m := &MaskingModel{
		l:            newPartitionBandTable(c, BLKSIZE, GRANULE_SIZE, scaleFactorBandIndex[idx][:]),
		s:            newPartitionBandTable(c, BLKSIZE_s, GRANULE_SIZE/3, scaleFactorBandIndexShort[idx][:]),
		numChannels:  c.Channels,
		jointStereo:  c.Mode == JOINT_STEREO,
		msfix:        c.MSFix,
		athLower:     math.Pow(10, -c.ATHLowerDB/10),
		maskingLower: c.maskingLower(),
		attackLong:   c.AttackThresholdLong,
		attackShort:  c.AttackThresholdShort,
		shortBlocks:  c.ShortBlocks,
		interChRatio: c.InterChRatio,
		temporal:     c.Quality < 7,
		decay:        math.Exp(-LOG10 / (temporalMaskSustainSec * float64(c.SampleRate) / 192)),
	}
	if m.jointStereo {
		m.numChannels = 4
	}
	return m, nil
}

// Channels is the number of analysis channels Analyze expects.
func (m *MaskingModel) Channels() int {
	return m.numChannels
}

// maskAdd combines the masking of two partitions delta partitions apart.
// Nearby maskers add, boosted when their strengths are similar; distant
// ones add only when comparable, otherwise the stronger one wins.
func maskAdd(m1, m2 float64, k, delta int) float64 {
	if m1 < 0 {
		m1 = 0
	}
	if m2 < 0 {
		m2 = 0
	}
	if m1 <= 0 {
		return m2
	}
	if m2 <= 0 {
		return m1
	}
	ratio := m1 / m2
	if m2 > m1 {
		ratio = m2 / m1
	}
	if k < 0 {
		k = -k
	}
	if k <= delta {
		if ratio >= maMaxI1 {
			return m1 + m2
		}
		i := int(math.Log10(ratio) * 16.0)
		return (m1 + m2) * maskAddBoost[i]
	}
	if ratio < maMaxI2 {
		return m1 + m2
	}
	return math.Max(m1, m2)
}

// partitionEnergy sums FFT lines into partitions and records the peak and
// mean line energy of each.
func partitionEnergy(gd *PartitionBandTable, fftEnergy []float64, eb, max, avg *[CBANDS]float64) {
	j := 0
	for b := 0; b < gd.npart; b++ {
		ebb, m := 0.0, 0.0
		for i := 0; i < gd.numLines[b]; i++ {
			el := fftEnergy[j]
			ebb += el
			if m < el {
				m = el
			}
			j++
		}
		eb[b] = ebb
		max[b] = m
		avg[b] = ebb * gd.rnumLines[b]
	}
}

// maskIndex derives the 0..8 tonality index of each partition from how
// much its peak stands out of the neighbourhood average.
func maskIndex(gd *PartitionBandTable, max, avg *[CBANDS]float64, idx *[CBANDS + 2]int) {
	last := len(maskTab) - 1
	n := gd.npart
	index := func(lo, hi int) int {
		a, m, lines := 0.0, 0.0, 0
		for k := lo; k <= hi; k++ {
			a += avg[k]
			if m < max[k] {
				m = max[k]
			}
			lines += gd.numLines[k]
		}
		if a <= 0 || lines <= 1 {
			return 0
		}
		v := 20.0 * (m*float64(hi-lo+1) - a) / (a * float64(lines-1))
		k := int(v)
		if k > last {
			k = last
		}
		if k < 0 {
			k = 0
		}
		return k
	}
	if n == 1 {
		idx[0] = index(0, 0)
		return
	}
	idx[0] = index(0, 1)
	for b := 1; b < n-1; b++ {
		idx[b] = index(b-1, b+1)
	}
	idx[n-1] = index(n-2, n-1)
}

// spread convolves the partition energies with the spreading function and
// returns the raw masking of every partition together with the average
// tonality attenuation applied to it.
func spread(gd *PartitionBandTable, eb *[CBANDS]float64, idx *[CBANDS + 2]int, b int, k *int) (ecb, avgMask float64) {
	kk := gd.s3ind[b][0]
	last := gd.s3ind[b][1]
	delta := maskAddDelta[idx[b]]
	dd := idx[kk]
	ddN := 1
	ecb = gd.s3[*k] * eb[kk] * maskTab[idx[kk]]
	*k++
	kk++
	for kk <= last {
		dd += idx[kk]
		ddN++
		x := gd.s3[*k] * eb[kk] * maskTab[idx[kk]]
		ecb = maskAdd(ecb, x, kk-b, delta)
		*k++
		kk++
	}
	dd = (1 + 2*dd) / (2 * ddN)
	avgMask = maskTab[dd] * 0.5
	return ecb * avgMask, avgMask
}

// limitThreshold applies the tonal minval clip and the masking_lower shift.
func (m *MaskingModel) limitThreshold(thr, eb, max, minVal, avgMask float64) float64 {
	if x := max * minVal * avgMask; thr > x {
		thr = x
	}
	if m.maskingLower > 1 {
		thr *= m.maskingLower
	}
	if thr > eb {
		thr = eb
	}
	if m.maskingLower < 1 {
		thr *= m.maskingLower
	}
	return thr
}

// computeMaskingLong computes partition energies and thresholds of the long
// FFT, with pre-echo control against the previous two granules.
func (m *MaskingModel) computeMaskingLong(fftEnergy []float64, h *MaskingHistory, eb, thr *[CBANDS]float64) {
	gd := m.l
	var max, avg [CBANDS]float64
	var idx [CBANDS + 2]int
	partitionEnergy(gd, fftEnergy, eb, &max, &avg)
	maskIndex(gd, &max, &avg, &idx)

	k := 0
	b := 0
	for ; b < gd.npart; b++ {
		ecb, avgMask := spread(gd, eb, &idx, b, &k)

		if m.temporal {
			if h.blockTypeOld == SHORT_TYPE {
				if limit := rpelev * h.nbL1[b]; limit > 0 {
					thr[b] = math.Min(ecb, limit)
				} else {
					thr[b] = math.Min(ecb, eb[b]*NS_PREECHO_ATT2)
				}
			} else {
				limit2 := rpelev2 * h.nbL2[b]
				limit1 := rpelev * h.nbL1[b]
				if limit2 <= 0 {
					limit2 = ecb
				}
				if limit1 <= 0 {
					limit1 = ecb
				}
				limit := limit1
				if h.blockTypeOld == NORM_TYPE {
					limit = math.Min(limit1, limit2)
				}
				thr[b] = math.Min(ecb, limit)
			}
		} else {
			thr[b] = ecb
		}
		h.nbL2[b] = h.nbL1[b]
		h.nbL1[b] = ecb
		thr[b] = m.limitThreshold(thr[b], eb[b], max[b], gd.minVal[b], avgMask)
	}
	for ; b < CBANDS; b++ {
		eb[b] = 0
		thr[b] = 0
	}
}

// computeMaskingShort is computeMaskingLong for one short FFT window.
func (m *MaskingModel) computeMaskingShort(fftEnergy []float64, h *MaskingHistory, eb, thr *[CBANDS]float64) {
	gd := m.s
	var max, avg [CBANDS]float64
	var idx [CBANDS + 2]int
	partitionEnergy(gd, fftEnergy, eb, &max, &avg)
	maskIndex(gd, &max, &avg, &idx)

	k := 0
	b := 0
	for ; b < gd.npart; b++ {
		ecb, avgMask := spread(gd, eb, &idx, b, &k)
		thr[b] = ecb
		thr[b] = m.limitThreshold(thr[b], eb[b], max[b], gd.minVal[b], avgMask)
	}
	for ; b < CBANDS; b++ {
		eb[b] = 0
		thr[b] = 0
	}
}

// partitionToScalefac folds partition values into scalefactor bands,
// splitting boundary partitions by their weight.
func partitionToScalefac(gd *PartitionBandTable, eb, thr *[CBANDS]float64, ennOut, thmOut []float64) {
	enn, thmm := 0.0, 0.0
	n := gd.nsb
	sb, b := 0, 0
	for ; sb < n; b, sb = b+1, sb+1 {
		bLim := gd.bo[sb]
		if bLim > gd.npart {
			bLim = gd.npart
		}
		for b < bLim {
			enn += eb[b]
			thmm += thr[b]
			b++
		}
		if b >= gd.npart {
			ennOut[sb] = enn
			thmOut[sb] = thmm
			sb++
			break
		}
		wCurr := gd.boWeight[sb]
		wNext := 1.0 - wCurr
		enn += wCurr * eb[b]
		thmm += wCurr * thr[b]
		ennOut[sb] = enn
		thmOut[sb] = thmm
		enn = wNext * eb[b]
		thmm = wNext * thr[b]
	}
	for ; sb < n; sb++ {
		ennOut[sb] = 0
		thmOut[sb] = 0
	}
}

// nsInterp blends two thresholds geometrically.
func nsInterp(x, y, r float64) float64 {
	if r >= 1.0 {
		return x
	}
	if r <= 0.0 {
		return y
	}
	if y > 0.0 {
		return math.Pow(x/y, r) * y
	}
	return 0.0
}

// shortPreecho lowers short block thresholds next to attacks.
func shortPreecho(ratio *MaskingThresholds, h *MaskingHistory, att *attackResult, decay float64) {
	for sb := 0; sb < SBMAX_s; sb++ {
		var newThmm [3]float64
		for sblock := 0; sblock < 3; sblock++ {
			thmm := ratio.Thm.S[sb][sblock] * NS_PREECHO_ATT0
			t1, t2 := thmm, thmm
			prevThm := h.lastThmS[sb]
			if sblock > 0 {
				prevThm = newThmm[sblock-1]
			}
			if att.attacks[sblock] >= 2 || att.attacks[sblock+1] == 1 {
				t1 = nsInterp(prevThm, thmm, NS_PREECHO_ATT1*decay)
			}
			thmm = math.Min(t1, thmm)
			if att.attacks[sblock] == 1 {
				t2 = nsInterp(prevThm, thmm, NS_PREECHO_ATT2*decay)
			} else if (sblock == 0 && h.lastAttacks == 3) || (sblock > 0 && att.attacks[sblock-1] == 3) {
				t2 = nsInterp(prevThm, thmm, NS_PREECHO_ATT2*decay)
			}
			thmm = math.Min(t1, thmm)
			thmm = math.Min(t2, thmm)
			thmm *= att.subShortFactor[sblock]
			newThmm[sblock] = thmm
		}
		for sblock := 0; sblock < 3; sblock++ {
			ratio.Thm.S[sb][sblock] = newThmm[sblock]
		}
	}
}

// msThresholds couples the mid and side partition thresholds (indices 2
// and 3) with the left/right ones.
func msThresholds(eb, thr *[4][CBANDS]float64, mld, athCb *[CBANDS]float64, athLower, msfix float64, n int) {
	msfix2 := msfix * 2
	for b := 0; b < n; b++ {
		ebM, ebS := eb[2][b], eb[3][b]
		thmL, thmR, thmM, thmS := thr[0][b], thr[1][b], thr[2][b], thr[3][b]
		var rmid, rside float64
		if thmL <= msShareRatio*thmR && thmR <= msShareRatio*thmL {
			mldM := mld[b] * ebS
			mldS := mld[b] * ebM
			rmid = math.Max(thmM, math.Min(thmS, mldM))
			rside = math.Max(thmS, math.Min(thmM, mldS))
		} else {
			rmid = thmM
			rside = thmS
		}
		if msfix > 0 {
			ath := athCb[b] * athLower
			thmLR := math.Min(math.Max(thmL, ath), math.Max(thmR, ath))
			thmM = math.Max(rmid, ath)
			thmS = math.Max(rside, ath)
			thmMS := thmM + thmS
			if thmMS > 0 && thmLR*msfix2 < thmMS {
				f := thmLR * msfix2 / thmMS
				thmM *= f
				thmS *= f
			}
			rmid = math.Min(thmM, rmid)
			rside = math.Min(thmS, rside)
		}
		if rmid > ebM {
			rmid = ebM
		}
		if rside > ebS {
			rside = ebS
		}
		thr[2][b] = rmid
		thr[3][b] = rside
	}
}

// peLong is the perceptual entropy of the long block thresholds.
func peLong(r *MaskingThresholds, maskingLower float64) float64 {
	pe := 1124.23 / 4
	for sb := 0; sb < SBMAX_l-1; sb++ {
		thm := r.Thm.L[sb]
		if thm <= 0 {
			continue
		}
		x := thm * maskingLower
		en := r.En.L[sb]
		if en > x {
			if en > x*1e10 {
				pe += regcoefL[sb] * (10.0 * LOG10)
			} else {
				pe += regcoefL[sb] * math.Log10(en/x)
			}
		}
	}
	return pe
}

// peShort is the perceptual entropy of the short block thresholds.
func peShort(r *MaskingThresholds, maskingLower float64) float64 {
	pe := 1236.28 / 4
	for sb := 0; sb < SBMAX_s-1; sb++ {
		for sblock := 0; sblock < 3; sblock++ {
			thm := r.Thm.S[sb][sblock]
			if thm <= 0 {
				continue
			}
			x := thm * maskingLower
			en := r.En.S[sb][sblock]
			if en > x {
				if en > x*1e10 {
					pe += regcoefS[sb] * (10.0 * LOG10)
				} else {
					pe += regcoefS[sb] * math.Log10(en/x)
				}
			}
		}
	}
	return pe
}

// Analyze runs the masking model over one granule. hist must hold one
// MaskingHistory per analysis channel; each is read and then updated.
func (m *MaskingModel) Analyze(in *PsyInput, hist []MaskingHistory) PsyResult {
	var (
		res      PsyResult
		ebL      [4][CBANDS]float64
		thrL     [4][CBANDS]float64
		ebS      [4][3][CBANDS]float64
		thrS     [4][3][CBANDS]float64
		attacks  [4]attackResult
		useLong  [MAX_CHANNELS]bool
		hpf      [GRANULE_SIZE]float64
		nOut     = m.numChannels
		nChannel = nOut
	)
	if nChannel > 2 {
		nChannel = 2
	}

	for ch := 0; ch < nOut; ch++ {
		h := &hist[ch]
		var shortEnergy [3]float64
		for sblock := 0; sblock < 3; sblock++ {
			for _, e := range in.EnergyShort[ch][sblock] {
				shortEnergy[sblock] += e
			}
		}
		highPass(in.Samples[ch], &hpf)
		attacks[ch] = h.detectAttacks(&hpf, &shortEnergy, m.attackLong, m.attackShort)
	}
	for ch := 0; ch < nChannel; ch++ {
		useLong[ch] = attacks[ch].useLongBlock
	}
	if nOut == 4 && !(attacks[2].useLongBlock && attacks[3].useLongBlock) {
		useLong[0], useLong[1] = false, false
	}

	for ch := 0; ch < nOut; ch++ {
		h := &hist[ch]
		m.computeMaskingLong(in.EnergyLong[ch][:], h, &ebL[ch], &thrL[ch])
		for sblock := 0; sblock < 3; sblock++ {
			m.computeMaskingShort(in.EnergyShort[ch][sblock][:], h, &ebS[ch][sblock], &thrS[ch][sblock])
		}
	}
	if m.interChRatio > 0 && nOut >= 2 {
		interChannelMasking(&thrL, m.interChRatio, m.l.npart)
	}
	if nOut == 4 {
		msThresholds(&ebL, &thrL, &m.l.mldCb, &m.l.athCb, m.athLower, m.msfix, m.l.npart)
		for sblock := 0; sblock < 3; sblock++ {
			var eb, thr [4][CBANDS]float64
			for ch := 0; ch < 4; ch++ {
				eb[ch] = ebS[ch][sblock]
				thr[ch] = thrS[ch][sblock]
			}
			msThresholds(&eb, &thr, &m.s.mldCb, &m.s.athCb, m.athLower, m.msfix, m.s.npart)
			thrS[2][sblock] = thr[2]
			thrS[3][sblock] = thr[3]
		}
	}

	for ch := 0; ch < nOut; ch++ {
		h := &hist[ch]
		r := &res.Ratio[ch]
		partitionToScalefac(m.l, &ebL[ch], &thrL[ch], r.En.L[:], r.Thm.L[:])
		for sblock := 0; sblock < 3; sblock++ {
			var en, thm [SBMAX_s]float64
			partitionToScalefac(m.s, &ebS[ch][sblock], &thrS[ch][sblock], en[:], thm[:])
			for sb := 0; sb < SBMAX_s; sb++ {
				r.En.S[sb][sblock] = en[sb]
				r.Thm.S[sb][sblock] = thm[sb]
			}
		}
		if m.temporal {
			shortPreecho(r, h, &attacks[ch], m.decay)
		}
		for sb := 0; sb < SBMAX_s; sb++ {
			h.lastThmS[sb] = r.Thm.S[sb][2]
		}
		h.lastAttacks = attacks[ch].attacks[2]
	}

	computeBlockType(m.shortBlocks, useLong[:nChannel])
	res.UseLongBlock = useLong
	res.BlockType = applyBlockType(hist[:nChannel], useLong[:nChannel])
	if nOut == 4 {
		// mid and side follow the left/right window decision
		hist[2].blockTypeOld = hist[0].blockTypeOld
		hist[3].blockTypeOld = hist[1].blockTypeOld
	}

	for ch := 0; ch < nOut; ch++ {
		long := useLong[ch%2]
		if long {
			res.PE[ch] = peLong(&res.Ratio[ch], m.maskingLower)
		} else {
			res.PE[ch] = peShort(&res.Ratio[ch], m.maskingLower)
		}
	}
	return res
}

// interChannelMasking lets each stereo channel mask a share of the other.
func interChannelMasking(thr *[4][CBANDS]float64, ratio float64, n int) {
	for b := 0; b < n; b++ {
		l, r := thr[0][b], thr[1][b]
		thr[0][b] = l + r*ratio
		thr[1][b] = r + l*ratio
	}
}
