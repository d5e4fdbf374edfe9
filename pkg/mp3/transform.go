package mp3

import (
	"math"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
)

// The analysis front end works on a single timeline per channel. Granule k
// owns samples [k*576, (k+1)*576) and its MDCT window spans
// [(k-1)*576, (k+1)*576).
const (
	// short MDCT windows start this far into the long window
	shortWindowOffset = 192
	shortWindowLen    = 384
	shortLines        = GRANULE_SIZE / 3

	// full scale sine level of the FFT energies, matching 16 bit PCM
	fullScaleDB = 96.0
	pcmScale    = 32768.0
)

// mdctTables holds the windows and cosine kernels of the long and short
// MDCT. The short kernels carry their window, like the combined window and
// cosine table of a fixed point MDCT.
type mdctTables struct {
	// window shapes by block type over the long window
	window [4][2 * GRANULE_SIZE]float64
	cosL   [GRANULE_SIZE][2 * GRANULE_SIZE]float64
	cosS   [shortLines][shortWindowLen]float64
	scaleL float64
	scaleS float64
}

var (
	mdctOnce sync.Once
	mdctTab  *mdctTables
)

func mdct() *mdctTables {
	mdctOnce.Do(func() { mdctTab = newMDCTTables() })
	return mdctTab
}

func sineWindow(n, length int) float64 {
	return math.Sin(PI / float64(length) * (float64(n) + 0.5))
}

func newMDCTTables() *mdctTables {
	t := new(mdctTables)
	const n = 2 * GRANULE_SIZE
	for i := 0; i < n; i++ {
		t.window[NORM_TYPE][i] = sineWindow(i, n)
	}
	// start: long rise, flat, short fall, silence
	for i := 0; i < n; i++ {
		switch {
		case i < GRANULE_SIZE:
			t.window[START_TYPE][i] = sineWindow(i, n)
		case i < GRANULE_SIZE+shortWindowOffset:
			t.window[START_TYPE][i] = 1
		case i < GRANULE_SIZE+shortWindowOffset+shortLines:
			t.window[START_TYPE][i] = sineWindow(i-(GRANULE_SIZE+shortWindowOffset)+shortLines, shortWindowLen)
		}
		t.window[STOP_TYPE][n-1-i] = t.window[START_TYPE][i]
	}
	for k := 0; k < GRANULE_SIZE; k++ {
		for i := 0; i < n; i++ {
			t.cosL[k][i] = math.Cos(PI / GRANULE_SIZE * (float64(i) + 0.5 + GRANULE_SIZE/2) * (float64(k) + 0.5))
		}
	}
	for k := 0; k < shortLines; k++ {
		for i := 0; i < shortWindowLen; i++ {
			t.cosS[k][i] = sineWindow(i, shortWindowLen) *
				math.Cos(PI/shortLines*(float64(i)+0.5+shortLines/2)*(float64(k)+0.5))
		}
	}
	// a full scale sine peaks near 1
	t.scaleL = PI / (2 * GRANULE_SIZE * pcmScale)
	t.scaleS = PI / (2 * shortLines * pcmScale)
	return t
}

// mdctGranule transforms the long window x (1152 samples) of one granule
// into xr. Short blocks come out window interleaved: line l of window w is
// xr[3*l+w].
func mdctGranule(x []float64, bt BlockType, xr *[GRANULE_SIZE]float64) {
	t := mdct()
	if bt == SHORT_TYPE {
		for w := 0; w < 3; w++ {
			seg := x[shortWindowOffset+w*shortLines : shortWindowOffset+w*shortLines+shortWindowLen]
			for k := 0; k < shortLines; k++ {
				sum := 0.0
				for i, v := range seg {
					sum += v * t.cosS[k][i]
				}
				xr[3*k+w] = sum * t.scaleS
			}
		}
		return
	}
	var wx [2 * GRANULE_SIZE]float64
	for i := range wx {
		wx[i] = x[i] * t.window[bt][i]
	}
	for k := 0; k < GRANULE_SIZE; k++ {
		sum := 0.0
		for i, v := range wx {
			sum += v * t.cosL[k][i]
		}
		xr[k] = sum * t.scaleL
	}
}

// fftAnalyzer computes the power spectra fed to the masking model.
type fftAnalyzer struct {
	long, short    *fourier.FFT
	winL           [BLKSIZE]float64
	winS           [BLKSIZE_s]float64
	scaleL, scaleS float64
	bufL           [BLKSIZE]float64
	bufS           [BLKSIZE_s]float64
	coefL          []complex128
	coefS          []complex128
}

func newFFTAnalyzer() *fftAnalyzer {
	a := &fftAnalyzer{
		long:  fourier.NewFFT(BLKSIZE),
		short: fourier.NewFFT(BLKSIZE_s),
		coefL: make([]complex128, HBLKSIZE),
		coefS: make([]complex128, HBLKSIZE_s),
	}
	gainL, gainS := 0.0, 0.0
	for i := range a.winL {
		// blackman
		x := 2 * PI * float64(i) / BLKSIZE
		a.winL[i] = 0.42 - 0.5*math.Cos(x) + 0.08*math.Cos(2*x)
		gainL += a.winL[i]
	}
	for i := range a.winS {
		a.winS[i] = 0.5 * (1 - math.Cos(2*PI*(float64(i)+0.5)/BLKSIZE_s))
		gainS += a.winS[i]
	}
	full := math.Pow(10, fullScaleDB/10)
	a.scaleL = full / math.Pow(pcmScale*gainL/2, 2)
	a.scaleS = full / math.Pow(pcmScale*gainS/2, 2)
	return a
}

// energies fills the long spectrum from the 1024 samples of x and the
// three short spectra from the 256 sample blocks starting at the short
// offsets of x.
func (a *fftAnalyzer) energies(long []float64, short [3][]float64, el *[HBLKSIZE]float64, es *[3][HBLKSIZE_s]float64) {
	for i, v := range long {
		a.bufL[i] = v * a.winL[i]
	}
	a.coefL = a.long.Coefficients(a.coefL, a.bufL[:])
	for i, c := range a.coefL {
		el[i] = (real(c)*real(c) + imag(c)*imag(c)) * a.scaleL
	}
	for w := 0; w < 3; w++ {
		for i, v := range short[w] {
			a.bufS[i] = v * a.winS[i]
		}
		a.coefS = a.short.Coefficients(a.coefS, a.bufS[:])
		for i, c := range a.coefS {
			es[w][i] = (real(c)*real(c) + imag(c)*imag(c)) * a.scaleS
		}
	}
}

// sampleBuffer is the timeline of one channel. base is the absolute
// position of buf[0]; positions before zero read as silence.
type sampleBuffer struct {
	base int
	buf  []float64
}

func (b *sampleBuffer) end() int {
	return b.base + len(b.buf)
}

// slice copies samples [from, from+n) into dst, zero filling what lies
// outside the buffer.
func (b *sampleBuffer) slice(dst []float64, from int) []float64 {
	for i := range dst {
		p := from + i - b.base
		if p >= 0 && p < len(b.buf) {
			dst[i] = b.buf[p]
		} else {
			dst[i] = 0
		}
	}
	return dst
}

// discard drops everything before pos.
func (b *sampleBuffer) discard(pos int) {
	n := pos - b.base
	if n <= 0 {
		return
	}
	n = min(n, len(b.buf))
	b.buf = append(b.buf[:0], b.buf[n:]...)
	b.base += n
}
