package mp3

import "math"

// quantTables holds the power tables shared by every quantization call.
// They are built once at package initialization and never written again.
type quantTables struct {
	pow43  [PRECALC_SIZE]float64
	adj43  [PRECALC_SIZE]float64
	pow20  [Q_MAX + Q_MAX2 + 1]float64
	ipow20 [Q_MAX]float64
}

var qtab = newQuantTables()

func newQuantTables() *quantTables {
	t := new(quantTables)
	t.pow43[0] = 0.0
	for i := 1; i < PRECALC_SIZE; i++ {
		t.pow43[i] = math.Pow(float64(i), 4.0/3.0)
	}
	// adj43 moves the rounding point of x^(3/4) onto the midpoint of two
	// reconstruction levels
	for i := 0; i < PRECALC_SIZE-1; i++ {
		t.adj43[i] = float64(i+1) - math.Pow(0.5*(t.pow43[i]+t.pow43[i+1]), 0.75)
	}
	t.adj43[PRECALC_SIZE-1] = 0.5
	for i := 0; i < Q_MAX; i++ {
		t.ipow20[i] = math.Pow(2.0, float64(i-210)*-0.1875)
	}
	for i := 0; i <= Q_MAX+Q_MAX2; i++ {
		t.pow20[i] = math.Pow(2.0, float64(i-210-Q_MAX2)*0.25)
	}
	return t
}

// ipow20 is the x^(3/4) domain multiplier of a global gain.
func ipow20(gain int) float64 {
	return qtab.ipow20[gain]
}

// pow20 is the reconstruction step of a quantizer step; step may be as low
// as -Q_MAX2.
func pow20(step int) float64 {
	return qtab.pow20[step+Q_MAX2]
}

// bandStep is the effective quantizer step of band sfb, combining the
// global gain with the band's scalefactor, the pretab offset and the
// subblock gain of its window.
func (gi *GranuleInfo) bandStep(sfb int) int {
	sf := gi.ScaleFac[sfb]
	if gi.PreFlag != 0 && sfb < SBMAX_l {
		sf += pretab[sfb]
	}
	return gi.GlobalGain - sf<<(gi.ScaleFacScale+1) - gi.SubblockGain[gi.Window[sfb]]*8
}

// quantizeLines maps x^(3/4) magnitudes to integers using the adj43
// rounding rule. Values above IXMAX_VAL must have been excluded before.
func quantizeLines(xr34 []float64, istep float64, ix []int) {
	for i, x := range xr34 {
		x *= istep
		k := int(x)
		if k >= PRECALC_SIZE-1 {
			k = PRECALC_SIZE - 2
		}
		ix[i] = int(x + qtab.adj43[k])
	}
}

// quantizeXrpow quantizes the whole granule at the current global gain.
// When prev describes the last quantization of gi at the same global gain,
// bands whose step did not change keep their previous integers.
func quantizeXrpow(xr34 *[GRANULE_SIZE]float64, gi *GranuleInfo, prev *calcNoiseData) {
	istep := ipow20(gi.GlobalGain)
	prevDataUse := prev != nil && gi.GlobalGain == prev.globalGain
	sfbMax := 21
	if gi.BlockType == SHORT_TYPE {
		sfbMax = 38
	}
	j := 0
	for sfb := 0; sfb <= sfbMax && j < GRANULE_SIZE; sfb++ {
		width := gi.Width[sfb]
		if prevDataUse && prev.step[sfb] == gi.bandStep(sfb) {
			j += width
			continue
		}
		l := width
		if j+width > gi.MaxNonZeroCoeff {
			l = gi.MaxNonZeroCoeff - j + 1
			if l < 0 {
				l = 0
			}
			quantizeLines(xr34[j:j+l], istep, gi.L3Enc[j:j+l])
			for k := j + l; k < GRANULE_SIZE; k++ {
				gi.L3Enc[k] = 0
			}
			return
		}
		quantizeLines(xr34[j:j+l], istep, gi.L3Enc[j:j+l])
		j += width
	}
}

// athAdjustment applies the loudness driven ATH adjustment factor a to the
// ATH energy x. athFloor is the ATH minimum in dB.
func athAdjustment(a, x, athFloor float64) float64 {
	const (
		o = 90.30873362
		p = 94.82444863
	)
	u := 10 * math.Log10(x)
	v := a * a
	w := 0.0
	u -= athFloor
	if v > 1e-20 {
		w = 1 + math.Log10(v)*10/o
	}
	if w < 0 {
		w = 0
	}
	u *= w
	u += athFloor + o - p
	return math.Pow(10, 0.1*u)
}

// bandXmin is the allowed noise for one band of width lines at xr[j:]
// given its ATH and masking ratio.
func bandXmin(xr []float64, ath, en, thm float64) (xmin float64, en0 float64) {
	width := len(xr)
	rh1 := ath / float64(width)
	rh2 := math.SmallestNonzeroFloat64
	for _, xa := range xr {
		x2 := xa * xa
		en0 += x2
		if x2 < rh1 {
			rh2 += x2
		} else {
			rh2 += rh1
		}
	}
	switch {
	case en0 < ath:
		xmin = en0
	case rh2 < ath:
		xmin = ath
	default:
		xmin = rh2
	}
	if en > 1e-12 {
		if x := en0 * thm / en; xmin < x {
			xmin = x
		}
	}
	xmin = math.Max(xmin, math.SmallestNonzeroFloat64)
	return xmin, en0
}

// calcXmin computes the allowed distortion of every band from the masking
// ratio and the ATH. It also sets MaxNonZeroCoeff and EnergyAboveCutoff.
// The result is the number of bands whose energy exceeds the ATH; zero
// means the granule is analog silence.
func (q *quantizer) calcXmin(ratio *MaskingThresholds, gi *GranuleInfo, xmin *[SFBMAX]float64) int {
	athOver := 0
	j := 0
	gsfb := 0
	for ; gsfb < gi.PsyLMax; gsfb++ {
		ath := athAdjustment(q.athAdj.factor, q.ath.L[gsfb], q.athFloor)
		width := gi.Width[gsfb]
		x, en0 := bandXmin(gi.Xr[j:j+width], ath, ratio.En.L[gsfb], ratio.Thm.L[gsfb])
		j += width
		if en0 > ath {
			athOver++
		}
		gi.EnergyAboveCutoff[gsfb] = en0 > x+1e-14
		xmin[gsfb] = x
	}

	maxNonZero := 0
	for k := GRANULE_SIZE - 1; k > 0; k-- {
		if math.Abs(gi.Xr[k]) > 1e-12 {
			maxNonZero = k
			break
		}
	}
	if gi.BlockType != SHORT_TYPE {
		maxNonZero |= 1
	} else {
		maxNonZero = maxNonZero/6*6 + 5
	}
	if q.sampleRate < 44000 {
		sfbL, sfbS := 21, 12
		if q.sampleRate <= 8000 {
			sfbL, sfbS = 17, 9
		}
		limit := q.sfb.L[sfbL] - 1
		if gi.BlockType == SHORT_TYPE {
			limit = 3*q.sfb.S[sfbS] - 1
		}
		if maxNonZero > limit {
			maxNonZero = limit
		}
	}
	gi.MaxNonZeroCoeff = maxNonZero

	for sfb := gi.SfbSMin; gsfb < gi.PsyMax; sfb, gsfb = sfb+1, gsfb+3 {
		ath := athAdjustment(q.athAdj.factor, q.ath.S[sfb], q.athFloor)
		width := gi.Width[gsfb]
		for b := 0; b < 3; b++ {
			x, en0 := bandXmin(gi.Xr[j:j+width], ath, ratio.En.S[sfb][b], ratio.Thm.S[sfb][b])
			j += width
			if en0 > ath {
				athOver++
			}
			gi.EnergyAboveCutoff[gsfb+b] = en0 > x+1e-14
			xmin[gsfb+b] = x
		}
		if q.policy.useTemporalMasking {
			if xmin[gsfb] > xmin[gsfb+1] {
				xmin[gsfb+1] += (xmin[gsfb] - xmin[gsfb+1]) * q.decay
			}
			if xmin[gsfb+1] > xmin[gsfb+2] {
				xmin[gsfb+2] += (xmin[gsfb+1] - xmin[gsfb+2]) * q.decay
			}
		}
	}
	return athOver
}

// calcNoiseCore sums the squared quantization error of lines j..j+2l.
func calcNoiseCore(gi *GranuleInfo, j, l int, step float64) float64 {
	noise := 0.0
	end := j + 2*l
	switch {
	case j > gi.Count1:
		for ; j < end; j++ {
			noise += gi.Xr[j] * gi.Xr[j]
		}
	case j > gi.BigValues:
		ix01 := [2]float64{0, step}
		for ; j < end; j++ {
			t := math.Abs(gi.Xr[j]) - ix01[gi.L3Enc[j]]
			noise += t * t
		}
	default:
		for ; j < end; j++ {
			t := math.Abs(gi.Xr[j]) - qtab.pow43[gi.L3Enc[j]]*step
			noise += t * t
		}
	}
	return noise
}

// calcNoise measures, band by band, the ratio of quantization noise to the
// allowed noise. distort receives the linear ratios; the result summarizes
// them on a log10 scale. With a non nil prev, bands whose step matches the
// cached one reuse the cached noise.
func calcNoise(gi *GranuleInfo, xmin *[SFBMAX]float64, distort *[SFBMAX]float64, res *calcNoiseResult, prev *calcNoiseData) int {
	over := 0
	overNoiseDB := 0.0
	totNoiseDB := 0.0
	maxNoise := -20.0
	j := 0
	res.overSSD = 0

	for sfb := 0; sfb < gi.PsyMax; sfb++ {
		s := gi.bandStep(sfb)
		rXmin := 1.0 / xmin[sfb]
		var distortion, noise float64

		if prev != nil && prev.step[sfb] == s {
			j += gi.Width[sfb]
			distortion = rXmin * prev.noise[sfb]
			noise = prev.noiseLog[sfb]
		} else {
			step := pow20(s)
			l := gi.Width[sfb] >> 1
			if j+gi.Width[sfb] > gi.MaxNonZeroCoeff {
				usefull := gi.MaxNonZeroCoeff - j + 1
				l = 0
				if usefull > 0 {
					l = usefull >> 1
				}
			}
			raw := calcNoiseCore(gi, j, l, step)
			j += gi.Width[sfb]
			distortion = rXmin * raw
			noise = math.Log10(math.Max(distortion, 1e-20))
			if prev != nil {
				prev.step[sfb] = s
				prev.noise[sfb] = raw
				prev.noiseLog[sfb] = noise
			}
		}
		distort[sfb] = distortion
		totNoiseDB += noise
		if noise > 0.0 {
			tmp := int(noise*10 + .5)
			if tmp < 1 {
				tmp = 1
			}
			res.overSSD += tmp * tmp
			over++
			overNoiseDB += noise
		}
		maxNoise = math.Max(maxNoise, noise)
	}
	if prev != nil {
		prev.globalGain = gi.GlobalGain
	}
	res.overCount = over
	res.totNoise = totNoiseDB
	res.overNoise = overNoiseDB
	res.maxNoise = maxNoise
	return over
}
