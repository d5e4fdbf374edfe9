package mp3

import (
	"math"
	"testing"
)

func TestMDCTSilence(t *testing.T) {
	var x [2 * GRANULE_SIZE]float64
	for _, bt := range []BlockType{NORM_TYPE, START_TYPE, SHORT_TYPE, STOP_TYPE} {
		var xr [GRANULE_SIZE]float64
		xr[7] = 1
		mdctGranule(x[:], bt, &xr)
		for i, v := range xr {
			if v != 0 {
				t.Fatalf("%v: line %d is %v", bt, i, v)
			}
		}
	}
}

func TestMDCTLinear(t *testing.T) {
	var x, x2 [2 * GRANULE_SIZE]float64
	for i := range x {
		x[i] = 1000 * math.Sin(float64(i)*0.37) * math.Cos(float64(i)*0.011)
		x2[i] = 2 * x[i]
	}
	for _, bt := range []BlockType{NORM_TYPE, SHORT_TYPE} {
		var a, b [GRANULE_SIZE]float64
		mdctGranule(x[:], bt, &a)
		mdctGranule(x2[:], bt, &b)
		for i := range a {
			if math.Abs(2*a[i]-b[i]) > 1e-9 {
				t.Fatalf("%v: line %d %v, doubled input gives %v", bt, i, a[i], b[i])
			}
		}
	}
}

func TestMDCTFullScaleSine(t *testing.T) {
	const k = 100
	peak := 0.0
	for phase := 0; phase < 4; phase++ {
		var x [2 * GRANULE_SIZE]float64
		for i := range x {
			// centre frequency of line k
			x[i] = pcmScale * math.Sin(PI*(float64(k)+0.5)*float64(i)/GRANULE_SIZE+float64(phase)*PI/4)
		}
		var xr [GRANULE_SIZE]float64
		mdctGranule(x[:], NORM_TYPE, &xr)
		best := 0
		for i := range xr {
			if math.Abs(xr[i]) > math.Abs(xr[best]) {
				best = i
			}
		}
		if best < k-1 || best > k+1 {
			t.Errorf("phase %d: peak at line %d, want %d", phase, best, k)
		}
		peak = math.Max(peak, math.Abs(xr[k]))
	}
	if peak < 0.7 || peak > 1.1 {
		t.Errorf("full scale sine peaks at %v, want about 1", peak)
	}
}

// Short blocks keep the three windows apart: a burst inside the last
// short window leaves the first one silent.
func TestMDCTShortWindows(t *testing.T) {
	var x [2 * GRANULE_SIZE]float64
	start := shortWindowOffset + 2*shortLines + shortLines
	for i := start; i < start+64; i++ {
		x[i] = 10000 * math.Sin(float64(i))
	}
	var xr [GRANULE_SIZE]float64
	mdctGranule(x[:], SHORT_TYPE, &xr)
	var energy [3]float64
	for l := 0; l < shortLines; l++ {
		for w := 0; w < 3; w++ {
			energy[w] += xr[3*l+w] * xr[3*l+w]
		}
	}
	if energy[0] != 0 || energy[1] != 0 {
		t.Errorf("early windows picked up energy: %v", energy)
	}
	if energy[2] == 0 {
		t.Error("burst missing from the last window")
	}
}

func TestWindowShapes(t *testing.T) {
	tab := mdct()
	n := 2 * GRANULE_SIZE
	for i := 0; i < GRANULE_SIZE; i++ {
		// long windows satisfy the Princen-Bradley condition
		w0, w1 := tab.window[NORM_TYPE][i], tab.window[NORM_TYPE][i+GRANULE_SIZE]
		if math.Abs(w0*w0+w1*w1-1) > 1e-12 {
			t.Fatalf("norm window at %d: %v", i, w0*w0+w1*w1)
		}
		if math.Abs(tab.window[START_TYPE][i]-tab.window[NORM_TYPE][i]) > 1e-12 {
			t.Fatalf("start window rises differently at %d", i)
		}
		if math.Abs(tab.window[STOP_TYPE][n-1-i]-tab.window[NORM_TYPE][n-1-i]) > 1e-12 {
			t.Fatalf("stop window falls differently at %d", i)
		}
	}
	for i := GRANULE_SIZE + shortWindowOffset + shortLines; i < n; i++ {
		if tab.window[START_TYPE][i] != 0 {
			t.Fatalf("start window open at %d", i)
		}
	}
}

func TestFFTFullScale(t *testing.T) {
	a := newFFTAnalyzer()
	const binL, binS = 64, 16
	long := make([]float64, BLKSIZE)
	for i := range long {
		long[i] = pcmScale * math.Sin(2*PI*binL*float64(i)/BLKSIZE)
	}
	var short [3][]float64
	for w := range short {
		short[w] = make([]float64, BLKSIZE_s)
		for i := range short[w] {
			short[w][i] = pcmScale * math.Sin(2*PI*binS*float64(i)/BLKSIZE_s+float64(w))
		}
	}
	var (
		el [HBLKSIZE]float64
		es [3][HBLKSIZE_s]float64
	)
	a.energies(long, short, &el, &es)
	if db := 10 * math.Log10(el[binL]); math.Abs(db-fullScaleDB) > 0.1 {
		t.Errorf("long spectrum: %.2f dB at the sine, want %v", db, fullScaleDB)
	}
	for w := range es {
		if db := 10 * math.Log10(es[w][binS]); math.Abs(db-fullScaleDB) > 0.1 {
			t.Errorf("short spectrum %d: %.2f dB at the sine, want %v", w, db, fullScaleDB)
		}
	}
	if el[binL+10] > el[binL]*1e-6 {
		t.Errorf("long spectrum leaks: %v ten lines away", el[binL+10]/el[binL])
	}
}

func TestSampleBuffer(t *testing.T) {
	b := sampleBuffer{buf: []float64{1, 2, 3, 4, 5}}
	dst := make([]float64, 4)
	if got := b.slice(dst, -2); !equalFloats(got, []float64{0, 0, 1, 2}) {
		t.Errorf("slice before start: %v", got)
	}
	b.discard(3)
	if b.base != 3 || b.end() != 5 {
		t.Errorf("after discard: base %d end %d", b.base, b.end())
	}
	if got := b.slice(dst[:3], 2); !equalFloats(got, []float64{0, 4, 5}) {
		t.Errorf("slice across discarded samples: %v", got)
	}
	if got := b.slice(dst, 4); !equalFloats(got, []float64{5, 0, 0, 0}) {
		t.Errorf("slice past the end: %v", got)
	}
	b.discard(100)
	if b.base != 5 || len(b.buf) != 0 {
		t.Errorf("discard past the end: base %d, %d samples", b.base, len(b.buf))
	}
}

func equalFloats(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
