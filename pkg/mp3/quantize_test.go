package mp3

import (
	"math"
	"math/rand"
	"testing"
)

func newTestQuantizer(t *testing.T, cfg Config) *quantizer {
	t.Helper()
	q, err := newQuantizer(&cfg)
	if err != nil {
		t.Fatal(err)
	}
	return q
}

// testGranule lays out a noisy, decaying spectrum and an allowed noise of
// 30 dB below every band's energy.
func testGranule(q *quantizer, bt BlockType, seed int64) (GranuleInfo, [SFBMAX]float64) {
	rng := rand.New(rand.NewSource(seed))
	gi := GranuleInfo{BlockType: bt}
	for i := range gi.Xr {
		gi.Xr[i] = 0.3 * math.Exp(-float64(i)/150) * rng.NormFloat64()
	}
	q.initOuterLoop(&gi)
	var xmin [SFBMAX]float64
	j := 0
	for sfb := 0; sfb < gi.PsyMax; sfb++ {
		en := 0.0
		for l := j; l < j+gi.Width[sfb]; l++ {
			en += gi.Xr[l] * gi.Xr[l]
		}
		xmin[sfb] = 1e-3*en + 1e-12
		j += gi.Width[sfb]
	}
	return gi, xmin
}

func TestQuantizeLines(t *testing.T) {
	xr34 := []float64{0, 0.4, 0.6, 1, 2.49, 100}
	ix := make([]int, len(xr34))
	quantizeLines(xr34, 1, ix)
	for i, x := range xr34 {
		// reconstruction picks the nearer of the two neighbouring levels
		lo := math.Floor(x)
		want := int(lo)
		mid := math.Pow(0.5*(math.Pow(lo, 4.0/3)+math.Pow(lo+1, 4.0/3)), 0.75)
		if x >= mid {
			want++
		}
		if ix[i] != want {
			t.Errorf("x34 %v quantized to %d, want %d", x, ix[i], want)
		}
	}
}

func TestBandStep(t *testing.T) {
	gi := GranuleInfo{GlobalGain: 200}
	gi.ScaleFac[12] = 3
	gi.Window[12] = 3
	if got := gi.bandStep(12); got != 200-3*2 {
		t.Errorf("plain: %d", got)
	}
	gi.ScaleFacScale = 1
	if got := gi.bandStep(12); got != 200-3*4 {
		t.Errorf("coarse scale: %d", got)
	}
	gi.PreFlag = 1
	if got := gi.bandStep(12); got != 200-(3+pretab[12])*4 {
		t.Errorf("pretab: %d", got)
	}
	gi.Window[12] = 1
	gi.SubblockGain[1] = 2
	if got := gi.bandStep(12); got != 200-(3+pretab[12])*4-16 {
		t.Errorf("subblock gain: %d", got)
	}
}

func TestAmplifyBand(t *testing.T) {
	var xr34 [GRANULE_SIZE]float64
	for i := range xr34 {
		xr34[i] = 1
	}
	gi := GranuleInfo{XrPowMax: 1}
	amplifyBand(&gi, &xr34, 20, 8, ifqStep34Fine)
	for i, x := range xr34 {
		want := 1.0
		if i >= 12 && i < 20 {
			want = ifqStep34Fine
		}
		if x != want {
			t.Fatalf("line %d: %v, want %v", i, x, want)
		}
	}
	if gi.XrPowMax != ifqStep34Fine {
		t.Errorf("XrPowMax %v", gi.XrPowMax)
	}
}

func TestInitXrpowSilence(t *testing.T) {
	var xr34 [GRANULE_SIZE]float64
	gi := GranuleInfo{MaxNonZeroCoeff: 575}
	gi.L3Enc[3] = 7
	if initXrpow(&gi, &xr34) {
		t.Error("silent granule reported as codable")
	}
	if gi.L3Enc[3] != 0 {
		t.Error("silent granule kept quantized values")
	}
}

func TestOuterLoopRespectsTarget(t *testing.T) {
	for _, bt := range []BlockType{NORM_TYPE, SHORT_TYPE} {
		for _, targ := range []int{500, 1000, 2500} {
			q := newTestQuantizer(t, DefaultConfig(44100, 1))
			gi, xmin := testGranule(q, bt, 4)
			var xr34 [GRANULE_SIZE]float64
			if !initXrpow(&gi, &xr34) {
				t.Fatal("test granule is silent")
			}
			q.outerLoop(&gi, &xmin, &xr34, 0, targ)
			if bits := gi.Part2_3Length + gi.Part2Length; bits > targ {
				t.Errorf("%v, target %d: %d bits", bt, targ, bits)
			}
			if gi.GlobalGain < 0 || gi.GlobalGain > 255 {
				t.Errorf("%v: global gain %d", bt, gi.GlobalGain)
			}
		}
	}
}

func TestOuterLoopMoreBitsLessNoise(t *testing.T) {
	var noise [2]float64
	for i, targ := range []int{400, 3000} {
		q := newTestQuantizer(t, DefaultConfig(44100, 1))
		gi, xmin := testGranule(q, NORM_TYPE, 5)
		var xr34 [GRANULE_SIZE]float64
		initXrpow(&gi, &xr34)
		q.outerLoop(&gi, &xmin, &xr34, 0, targ)
		var (
			distort [SFBMAX]float64
			res     calcNoiseResult
		)
		calcNoise(&gi, &xmin, &distort, &res, nil)
		noise[i] = res.totNoise
	}
	if noise[1] >= noise[0] {
		t.Errorf("noise %v dB at 3000 bits, %v dB at 400 bits", noise[1], noise[0])
	}
}

// The main data a decoder walks through must be exactly what the loops
// paid for.
func TestMainDataBitsMatchAllocation(t *testing.T) {
	tests := []struct {
		sampleRate int
		bt         BlockType
		quality    int
	}{
		{44100, NORM_TYPE, 3},
		{44100, SHORT_TYPE, 3},
		{44100, START_TYPE, 5},
		{44100, NORM_TYPE, 0},
		{22050, NORM_TYPE, 3},
		{22050, SHORT_TYPE, 2},
	}
	for _, tt := range tests {
		cfg := DefaultConfig(tt.sampleRate, 1)
		cfg.Quality = tt.quality
		q := newTestQuantizer(t, cfg)
		var side SideInfo
		for gr := 0; gr < q.modeGr; gr++ {
			gi, xmin := testGranule(q, tt.bt, int64(6+gr))
			var xr34 [GRANULE_SIZE]float64
			initXrpow(&gi, &xr34)
			q.outerLoop(&gi, &xmin, &xr34, 0, 1200)
			side.Granules[gr][0] = gi
			q.iterationFinishOne(&side, gr, 0)
		}
		f := Frame{Side: side, Granules: q.modeGr, Channels: 1, sfb: q.sfb}
		for gr := 0; gr < q.modeGr; gr++ {
			gi := &side.Granules[gr][0]
			if got := f.MainDataBits(gr, 0); got != gi.Part2_3Length {
				t.Errorf("%d Hz %v q%d granule %d: decoder reads %d bits, part2_3_length %d",
					tt.sampleRate, tt.bt, tt.quality, gr, got, gi.Part2_3Length)
			}
		}
	}
}

func TestBestScalefacStore(t *testing.T) {
	q := newTestQuantizer(t, DefaultConfig(44100, 1))
	var side SideInfo
	gi := &side.Granules[0][0]
	gi.BlockType = NORM_TYPE
	q.initOuterLoop(gi)
	// bands 0 and 1 hold values, every scalefactor is even
	gi.L3Enc[0], gi.L3Enc[5] = 1, 1
	gi.ScaleFac[0], gi.ScaleFac[1], gi.ScaleFac[2] = 4, 2, 6
	q.bestScalefacStore(0, 0, &side)
	if gi.ScaleFacScale != 1 {
		t.Fatal("even scalefactors kept the fine scale")
	}
	if gi.ScaleFac[0] != 2 || gi.ScaleFac[1] != 1 {
		t.Errorf("scalefactors %v", gi.ScaleFac[:3])
	}
	if gi.ScaleFac[2] != 0 {
		t.Errorf("empty band kept scalefactor %d", gi.ScaleFac[2])
	}
}

func TestCodeGranuleSilence(t *testing.T) {
	q := newTestQuantizer(t, DefaultConfig(44100, 1))
	var (
		side  SideInfo
		ratio [MAX_GRANULES][MAX_CHANNELS]MaskingThresholds
		pe    [MAX_GRANULES][MAX_CHANNELS]float64
	)
	fs := &frameState{side: &side, ratio: &ratio, pe: &pe, channels: 1, modeGr: q.modeGr}
	q.codeGranule(fs, 0, 0, 1000, 0)
	gi := &side.Granules[0][0]
	if gi.Part2_3Length != 0 || gi.BigValues != 0 || gi.Count1 != 0 {
		t.Errorf("part2_3_length %d, big values %d, count1 %d", gi.Part2_3Length, gi.BigValues, gi.Count1)
	}
	if gi.GlobalGain != 210 {
		t.Errorf("global gain %d", gi.GlobalGain)
	}
	if fs.overCount[0][0] != 0 {
		t.Errorf("%d bands over the allowed noise", fs.overCount[0][0])
	}
	if gi.Part2Length != 0 {
		t.Errorf("%d scalefactor bits", gi.Part2Length)
	}
	for sfb, sf := range gi.ScaleFac {
		if sf != 0 {
			t.Fatalf("band %d: scalefactor %d", sfb, sf)
		}
	}
	for i, v := range gi.L3Enc {
		if v != 0 {
			t.Fatalf("line %d: quantized value %d", i, v)
		}
	}
}

func TestOuterLoopSingleLine(t *testing.T) {
	const x = 0.5
	q := newTestQuantizer(t, DefaultConfig(44100, 1))
	var side SideInfo
	gi := &side.Granules[0][0]
	gi.BlockType = NORM_TYPE
	q.initOuterLoop(gi)
	gi.Xr[0] = x
	var xmin [SFBMAX]float64
	for sfb := range xmin {
		xmin[sfb] = 1e-12
	}
	xmin[0] = 1e-4 * x * x
	var xr34 [GRANULE_SIZE]float64
	if !initXrpow(gi, &xr34) {
		t.Fatal("single line granule is silent")
	}
	q.outerLoop(gi, &xmin, &xr34, 0, 1000)
	for sfb := 1; sfb < gi.SfbMax; sfb++ {
		if gi.ScaleFac[sfb] != 0 {
			t.Errorf("empty band %d amplified to %d", sfb, gi.ScaleFac[sfb])
		}
	}
	q.iterationFinishOne(&side, 0, 0)

	step := gi.bandStep(0)
	v := math.Pow(x, 0.75) * ipow20(step)
	lo := math.Floor(v)
	want := int(lo)
	if v >= math.Pow(0.5*(math.Pow(lo, 4.0/3)+math.Pow(lo+1, 4.0/3)), 0.75) {
		want++
	}
	if gi.L3Enc[0] != want {
		t.Errorf("line 0 quantized to %d at step %d, want %d", gi.L3Enc[0], step, want)
	}
	for i := 1; i < GRANULE_SIZE; i++ {
		if gi.L3Enc[i] != 0 {
			t.Fatalf("line %d: quantized value %d", i, gi.L3Enc[i])
		}
	}
	if d := x - qtab.pow43[gi.L3Enc[0]]*pow20(step); d*d > xmin[0] {
		t.Errorf("reconstruction error %v above the allowed noise", d)
	}
	if gi.BigValues != 2 || gi.Count1 != 2 {
		t.Errorf("big values %d, count1 %d", gi.BigValues, gi.Count1)
	}
	want = huffmanPairBits(gi.TableSelect[0], gi.L3Enc[0], 0)
	if got := gi.Part2_3Length - gi.Part2Length; got != want {
		t.Errorf("table %d: %d huffman bits, want %d", gi.TableSelect[0], got, want)
	}
}

func TestAmpScalefacBandsNeverLowers(t *testing.T) {
	for _, amp := range []int{AMP_ALL_OVER, AMP_WITHIN_HALF, AMP_ONE_BAND} {
		q := newTestQuantizer(t, DefaultConfig(44100, 1))
		q.policy.noiseShapingAmp = amp
		gi, xmin := testGranule(q, NORM_TYPE, 9)
		var xr34 [GRANULE_SIZE]float64
		initXrpow(&gi, &xr34)
		gi.GlobalGain = 220
		for round := 0; round < 8; round++ {
			prev := gi.ScaleFac
			quantizeXrpow(&xr34, &gi, nil)
			var (
				distort [SFBMAX]float64
				res     calcNoiseResult
			)
			calcNoise(&gi, &xmin, &distort, &res, nil)
			q.ampScalefacBands(&gi, &distort, &xr34, false, nil)
			raised := 0
			for sfb := range prev {
				if gi.ScaleFac[sfb] < prev[sfb] {
					t.Fatalf("amp %d round %d: band %d lowered from %d to %d", amp, round, sfb, prev[sfb], gi.ScaleFac[sfb])
				}
				if gi.ScaleFac[sfb] > prev[sfb] {
					raised++
				}
			}
			if raised == 0 {
				t.Errorf("amp %d round %d: no band amplified", amp, round)
			}
			if amp == AMP_ONE_BAND && raised > 1 {
				t.Errorf("round %d: %d bands amplified at once", round, raised)
			}
		}
	}
}
