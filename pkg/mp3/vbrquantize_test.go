package mp3

import (
	"fmt"
	"math"
	"math/rand"
	"testing"
)

func TestSetSubblockGain(t *testing.T) {
	tests := []struct {
		name     string
		sf       func(sfb int) int
		mingainS [3]int
		wantSbg  [4]int
		wantGain int
		// step difference left in each window afterwards
		wantSf [3]int
	}{
		{
			name:     "common offset moves into the global gain",
			sf:       func(int) int { return -10 },
			wantSbg:  [4]int{0, 0, 0},
			wantGain: 192,
			wantSf:   [3]int{-2, -2, -2},
		},
		{
			name: "one quiet window",
			sf: func(sfb int) int {
				if sfb%3 == 1 {
					return -24
				}
				return 0
			},
			wantSbg:  [4]int{0, 3, 0},
			wantGain: 200,
			wantSf:   [3]int{0, 0, 0},
		},
		{
			name: "gain floor",
			sf: func(sfb int) int {
				if sfb%3 == 1 {
					return -24
				}
				return 0
			},
			mingainS: [3]int{0, 190, 0},
			wantSbg:  [4]int{0, 1, 0},
			wantGain: 200,
			wantSf:   [3]int{0, -16, 0},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gi := GranuleInfo{BlockType: SHORT_TYPE, PsyMax: 36, GlobalGain: 200}
			a := vbrAlgo{gi: &gi, mingainS: tt.mingainS}
			var sf [SFBMAX]int
			for sfb := range sf {
				sf[sfb] = tt.sf(sfb)
			}
			a.setSubblockGain(&sf)
			if gi.SubblockGain != tt.wantSbg {
				t.Errorf("subblock gain %v, want %v", gi.SubblockGain, tt.wantSbg)
			}
			if gi.GlobalGain != tt.wantGain {
				t.Errorf("global gain %d, want %d", gi.GlobalGain, tt.wantGain)
			}
			for sfb := 0; sfb < 36; sfb++ {
				if sf[sfb] != tt.wantSf[sfb%3] {
					t.Fatalf("band %d: %d, want %d", sfb, sf[sfb], tt.wantSf[sfb%3])
				}
			}
		})
	}
}

func TestLowestScalefac(t *testing.T) {
	prev := 0
	for _, x := range []float64{0.01, 0.1, 1, 10, 100, 1000} {
		sf := lowestScalefac(x)
		if ipow20(sf)*x > IXMAX_VAL {
			t.Errorf("x34 %v: step %d overflows", x, sf)
		}
		if sf < prev {
			t.Errorf("x34 %v: step %d finer than %d for a smaller value", x, sf, prev)
		}
		prev = sf
	}
}

func TestFindScalefac(t *testing.T) {
	xr := make([]float64, 16)
	xr34 := make([]float64, len(xr))
	en, peak := 0.0, 0.0
	for i := range xr {
		xr[i] = 0.3 * math.Sin(float64(i)*1.3)
		xr34[i] = math.Pow(math.Abs(xr[i]), 0.75)
		en += xr[i] * xr[i]
		peak = math.Max(peak, xr34[i])
	}
	sfMin := lowestScalefac(peak)
	for _, rel := range []float64{1e-4, 1e-2, 0.1} {
		xmin := rel * en
		sf := findScalefac(xr, xr34, xmin, sfMin)
		if sf < sfMin {
			t.Errorf("xmin %v: step %d below the finest usable %d", xmin, sf, sfMin)
		}
		if noise := bandNoise(xr, xr34, sf); noise > xmin {
			t.Errorf("xmin %v: step %d leaves noise %v", xmin, sf, noise)
		}
	}
}

func TestEstimateScalefac(t *testing.T) {
	if got := estimateScalefac(16, 16); got != 210 {
		t.Errorf("unit noise per line: step %d, want 210", got)
	}
	prev := -1 << 30
	for _, xmin := range []float64{1e-9, 1e-6, 1e-3, 1} {
		sf := estimateScalefac(xmin, 8)
		if sf < prev {
			t.Errorf("xmin %v: step %d below %d", xmin, sf, prev)
		}
		prev = sf
	}
}

func TestVBRShortBlockEqualWindows(t *testing.T) {
	cfg := DefaultConfig(44100, 1)
	cfg.VBR = VBR_MTRH
	q := newTestQuantizer(t, cfg)
	rng := rand.New(rand.NewSource(11))
	gi := GranuleInfo{BlockType: SHORT_TYPE}
	// the three windows of a short block are interleaved line by line
	for l := 0; l < GRANULE_SIZE/3; l++ {
		v := 0.3 * math.Exp(-float64(l)/50) * rng.NormFloat64()
		for w := 0; w < 3; w++ {
			gi.Xr[3*l+w] = v
		}
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
		gi.EnergyAboveCutoff[sfb] = true
		j += gi.Width[sfb]
	}
	var xr34 [GRANULE_SIZE]float64
	if !initXrpow(&gi, &xr34) {
		t.Fatal("test granule is silent")
	}
	a := vbrAlgo{q: q, gi: &gi, xr34: &xr34, search: searchScalefac}
	var vbrsf, vbrsfmin [SFBMAX]int
	vbrmax := a.blockSF(&xmin, &vbrsf, &vbrsfmin)
	for sfb := 0; sfb+2 < gi.PsyMax; sfb += 3 {
		if vbrsf[sfb] != vbrsf[sfb+1] || vbrsf[sfb] != vbrsf[sfb+2] {
			t.Fatalf("band %d: window steps %v", sfb/3, vbrsf[sfb:sfb+3])
		}
	}
	a.alloc(&vbrsf, &vbrsfmin, vbrmax)
	if gi.SubblockGain != [4]int{} {
		t.Errorf("subblock gain %v for identical windows", gi.SubblockGain)
	}
	a.checkScaleBits()
}

// vbrTestFrame lays out a frame of test granules whose allowed noise is
// scaled by tighten.
func vbrTestFrame(q *quantizer, channels int, tighten float64) (*SideInfo, *[MAX_GRANULES][MAX_CHANNELS][GRANULE_SIZE]float64, *[MAX_GRANULES][MAX_CHANNELS][SFBMAX]float64) {
	var (
		side SideInfo
		xr34 [MAX_GRANULES][MAX_CHANNELS][GRANULE_SIZE]float64
		xmin [MAX_GRANULES][MAX_CHANNELS][SFBMAX]float64
	)
	for gr := 0; gr < q.modeGr; gr++ {
		for ch := 0; ch < channels; ch++ {
			gi, xm := testGranule(q, NORM_TYPE, int64(20+2*gr+ch))
			for sfb := 0; sfb < gi.PsyMax; sfb++ {
				xm[sfb] *= tighten
				gi.EnergyAboveCutoff[sfb] = true
			}
			side.Granules[gr][ch] = gi
			xmin[gr][ch] = xm
			initXrpow(&side.Granules[gr][ch], &xr34[gr][ch])
		}
	}
	return &side, &xr34, &xmin
}

func vbrFrameNoise(q *quantizer, side *SideInfo, xmin *[MAX_GRANULES][MAX_CHANNELS][SFBMAX]float64, channels int) float64 {
	total := 0.0
	for gr := 0; gr < q.modeGr; gr++ {
		for ch := 0; ch < channels; ch++ {
			var (
				distort [SFBMAX]float64
				res     calcNoiseResult
			)
			calcNoise(&side.Granules[gr][ch], &xmin[gr][ch], &distort, &res, nil)
			total += res.totNoise
		}
	}
	return total
}

func checkVBRLimits(t *testing.T, name string, q *quantizer, side *SideInfo, channels int) {
	t.Helper()
	for gr := 0; gr < q.modeGr; gr++ {
		sum := 0
		for ch := 0; ch < channels; ch++ {
			gi := &side.Granules[gr][ch]
			bits := gi.Part2_3Length + gi.Part2Length
			if bits > MAX_BITS_PER_CHANNEL {
				t.Errorf("%s: granule %d channel %d uses %d bits", name, gr, ch, bits)
			}
			sum += bits
		}
		if sum > MAX_BITS_PER_GRANULE {
			t.Errorf("%s: granule %d uses %d bits", name, gr, sum)
		}
	}
}

func TestVBREncodeFrameCap(t *testing.T) {
	const channels = 2
	cfg := DefaultConfig(44100, channels)
	cfg.VBR = VBR_MTRH
	var (
		used  [2]int
		noise [2]float64
	)
	caps := [2]int{3800, 700}
	for i, c := range caps {
		q := newTestQuantizer(t, cfg)
		side, xr34, xmin := vbrTestFrame(q, channels, 1e-3)
		var maxBits [MAX_GRANULES][MAX_CHANNELS]int
		maxFr := 0
		for gr := 0; gr < q.modeGr; gr++ {
			for ch := 0; ch < channels; ch++ {
				maxBits[gr][ch] = c
				maxFr += c
			}
		}
		used[i] = q.vbrEncodeFrame(side, channels, xr34, xmin, &maxBits)
		if used[i] > maxFr {
			t.Errorf("cap %d: frame uses %d bits, cap %d", c, used[i], maxFr)
		}
		checkVBRLimits(t, fmt.Sprintf("cap %d", c), q, side, channels)
		noise[i] = vbrFrameNoise(q, side, xmin, channels)
	}
	if used[1] > used[0] {
		t.Errorf("stricter cap uses %d bits, looser %d", used[1], used[0])
	}
	if noise[1] < noise[0] {
		t.Errorf("stricter cap leaves %v dB of noise, looser %v dB", noise[1], noise[0])
	}
}

// Granules wanting more than a channel may hold are cut back to the side
// info limits.
func TestVBREncodeFrameReallocates(t *testing.T) {
	const channels = 2
	cfg := DefaultConfig(44100, channels)
	cfg.VBR = VBR_MTRH
	q := newTestQuantizer(t, cfg)

	// unconstrained use first, to know the reallocation path is taken
	side, xr34, xmin := vbrTestFrame(q, channels, 1e-4)
	var maxBits [MAX_GRANULES][MAX_CHANNELS]int
	for gr := 0; gr < q.modeGr; gr++ {
		for ch := 0; ch < channels; ch++ {
			maxBits[gr][ch] = 1 << 20
		}
	}
	free := q.vbrEncodeFrame(side, channels, xr34, xmin, &maxBits)

	maxFr := 0
	for gr := 0; gr < q.modeGr; gr++ {
		for ch := 0; ch < channels; ch++ {
			maxBits[gr][ch] = 1200
			maxFr += 1200
		}
	}
	if free <= maxFr {
		t.Fatalf("unconstrained frame uses %d bits, no reallocation below %d", free, maxFr)
	}
	side, xr34, xmin = vbrTestFrame(q, channels, 1e-4)
	if used := q.vbrEncodeFrame(side, channels, xr34, xmin, &maxBits); used > maxFr {
		t.Errorf("frame uses %d bits, cap %d", used, maxFr)
	}
	checkVBRLimits(t, "reallocated", q, side, channels)
}

func TestReallocateBits(t *testing.T) {
	q := newTestQuantizer(t, DefaultConfig(44100, 2))
	var maxCh, useCh [MAX_GRANULES][MAX_CHANNELS]int
	var useGr [MAX_GRANULES]int
	for gr := 0; gr < 2; gr++ {
		useCh[gr] = [MAX_CHANNELS]int{6000, 3000}
		useGr[gr] = 9000
	}
	const maxFr = 10000
	if !q.reallocateBits(&maxCh, &useCh, &useGr, maxFr, 2, 2) {
		t.Fatalf("reallocation failed: %v", maxCh)
	}
	sum := 0
	for gr := 0; gr < 2; gr++ {
		if maxCh[gr][0]+maxCh[gr][1] > MAX_BITS_PER_GRANULE {
			t.Errorf("granule %d caps %v", gr, maxCh[gr])
		}
		for ch := 0; ch < 2; ch++ {
			if maxCh[gr][ch] > MAX_BITS_PER_CHANNEL {
				t.Errorf("granule %d channel %d cap %d", gr, ch, maxCh[gr][ch])
			}
			sum += maxCh[gr][ch]
		}
		if maxCh[gr][0] <= maxCh[gr][1] {
			t.Errorf("granule %d: busier channel gets %d, quieter %d", gr, maxCh[gr][0], maxCh[gr][1])
		}
	}
	if sum > maxFr {
		t.Errorf("caps sum to %d, frame cap %d", sum, maxFr)
	}
}

func TestWithinGranuleLimits(t *testing.T) {
	tests := []struct {
		name  string
		useCh [MAX_CHANNELS]int
		want  bool
	}{
		{"fits", [MAX_CHANNELS]int{4000, 3000}, true},
		{"channel over", [MAX_CHANNELS]int{MAX_BITS_PER_CHANNEL + 1, 0}, false},
		{"granule over", [MAX_CHANNELS]int{4000, 3700}, false},
	}
	for _, tt := range tests {
		var useCh [MAX_GRANULES][MAX_CHANNELS]int
		var useGr [MAX_GRANULES]int
		useCh[1] = tt.useCh
		useGr[1] = tt.useCh[0] + tt.useCh[1]
		if got := withinGranuleLimits(&useGr, &useCh, 2, 2); got != tt.want {
			t.Errorf("%s: %v, want %v", tt.name, got, tt.want)
		}
	}
}
