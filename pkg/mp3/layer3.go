package mp3

import (
	"errors"
	"fmt"
)

// MAX_SAMPLES_PER_FRAME is the frame length of MPEG-1; MPEG-2 and 2.5
// frames hold one granule.
const MAX_SAMPLES_PER_FRAME = 1152

var mpegGranulesPerFrame = [4]int{
	// MPEG 2.5
	1,
	// Reserved
	-1,
	// MPEG II
	1,
	// MPEG I
	2,
}

// ErrFlushed is returned when samples are fed to an encoder after Flush.
var ErrFlushed = errors.New("encoder already flushed")

// Frame is the coding decision of one frame: the side information with
// every granule's quantized spectrum, and how the frame is framed.
type Frame struct {
	Side         SideInfo
	Granules     int
	Channels     int
	BitrateIndex int
	// Bitrate in kbit/s
	Bitrate int
	Padding bool
	// MS is set when the channels were coded as mid and side.
	MS bool
	// OverCount is the number of bands left above their allowed noise.
	OverCount [MAX_GRANULES][MAX_CHANNELS]int
	// FrameBits is the size of the frame, header and side info included.
	FrameBits int
	// TotalMainDataBits is the sum of the granules' part2_3_length.
	TotalMainDataBits int

	version         mpegVersion
	sampleRateIndex int
	mode            mode
	sfb             scaleFacBand
}

// granuleData is one analysed granule waiting to be coded.
type granuleData struct {
	xr        [MAX_CHANNELS][GRANULE_SIZE]float64
	blockType [MAX_CHANNELS]BlockType
	ratio     [4]MaskingThresholds
	pe        [4]float64
	loudness  float64
}

// Encoder runs PCM through the analysis front end, the masking model and
// the allocation loops. Its output is one Frame per 1152 (MPEG-1) or 576
// samples. An Encoder is not safe for concurrent use.
type Encoder struct {
	cfg             Config
	version         mpegVersion
	sampleRateIndex int
	modeGr          int
	channels        int

	psy  *MaskingModel
	hist []MaskingHistory
	q    *quantizer
	fft  *fftAnalyzer

	in      [MAX_CHANNELS]sampleBuffer
	samples int
	flushed bool
	scratch [BLKSIZE]float64

	// next granule to run through the masking model
	next int
	// the granule analysed last still waits for its block type
	pending    granuleData
	hasPending bool
	frame      [MAX_GRANULES]granuleData
	nGran      int
	side       SideInfo

	sideInfoBits int
	cbrIndex     int
	minIndex     int
	maxIndex     int
	// CBR frames pad by one slot whenever the fractional slots add up
	wholeSlotsPerFrame int
	fracSlotsPerFrame  float64
	slotLag            float64
}

// NewEncoder creates an encoder for cfg.
func NewEncoder(cfg Config) (*Encoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	enc := &Encoder{cfg: cfg, channels: cfg.Channels}
	enc.sampleRateIndex, _ = findSampleRateIndex(cfg.SampleRate)
	enc.version = getMpegVersion(enc.sampleRateIndex)
	enc.modeGr = mpegGranulesPerFrame[enc.version]

	var err error
	if enc.psy, err = NewMaskingModel(&enc.cfg); err != nil {
		return nil, err
	}
	if enc.q, err = newQuantizer(&enc.cfg); err != nil {
		return nil, err
	}
	enc.fft = newFFTAnalyzer()
	enc.hist = make([]MaskingHistory, enc.psy.Channels())
	for i := range enc.hist {
		enc.hist[i] = NewMaskingHistory()
	}

	// determine the size of the side information
	if enc.modeGr == 2 {
		// MPEG 1
		delta := 4 + 32
		if enc.channels == 1 {
			delta = 4 + 17
		}
		enc.sideInfoBits = 8 * delta
	} else {
		// MPEG 2
		delta := 4 + 17
		if enc.channels == 1 {
			delta = 4 + 9
		}
		enc.sideInfoBits = 8 * delta
	}

	enc.minIndex, enc.maxIndex, _ = enc.cfg.bitrateBounds(enc.version)
	if cfg.VBR == VBR_OFF {
		enc.cbrIndex, _ = findBitrateIndex(cfg.Bitrate, enc.version)
		enc.minIndex, enc.maxIndex = enc.cbrIndex, enc.cbrIndex
		avgSlotsPerFrame := float64(enc.modeGr*GRANULE_SIZE) / float64(cfg.SampleRate) * (float64(cfg.Bitrate) * 1000 / 8)
		enc.wholeSlotsPerFrame = int(avgSlotsPerFrame)
		enc.fracSlotsPerFrame = avgSlotsPerFrame - float64(enc.wholeSlotsPerFrame)
		enc.slotLag = -enc.fracSlotsPerFrame
	}
	return enc, nil
}

// Config returns the configuration the encoder runs with.
func (enc *Encoder) Config() Config {
	return enc.cfg
}

// SamplesPerFrame is the number of samples per channel in each frame.
func (enc *Encoder) SamplesPerFrame() int {
	return enc.modeGr * GRANULE_SIZE
}

// Encode consumes interleaved 16 bit samples and returns the frames that
// became complete.
func (enc *Encoder) Encode(data []int16) ([]Frame, error) {
	if enc.flushed {
		return nil, ErrFlushed
	}
	if len(data)%enc.channels != 0 {
		return nil, fmt.Errorf("sample count %d is not a multiple of %d channels", len(data), enc.channels)
	}
	for i := 0; i < len(data); i += enc.channels {
		for ch := 0; ch < enc.channels; ch++ {
			enc.in[ch].buf = append(enc.in[ch].buf, float64(data[i+ch]))
		}
	}
	enc.samples += len(data) / enc.channels
	return enc.process(), nil
}

// Flush pads the input with silence until every sample has been coded and
// the last frame is complete.
func (enc *Encoder) Flush() ([]Frame, error) {
	if enc.flushed {
		return nil, ErrFlushed
	}
	enc.flushed = true
	// the granule after the last input also carries its tail
	last := (enc.samples + GRANULE_SIZE - 1) / GRANULE_SIZE
	var frames []Frame
	var silence [GRANULE_SIZE]float64
	for enc.next < last+2 || enc.nGran != 0 {
		for ch := 0; ch < enc.channels; ch++ {
			enc.in[ch].buf = append(enc.in[ch].buf, silence[:]...)
		}
		frames = append(frames, enc.process()...)
	}
	return frames, nil
}

func (enc *Encoder) process() []Frame {
	var frames []Frame
	for enc.in[0].end() >= (enc.next+1)*GRANULE_SIZE {
		if f, ok := enc.analyzeGranule(); ok {
			frames = append(frames, f)
		}
	}
	// the pending granule's long window starts two granules back
	keep := (enc.next - 2) * GRANULE_SIZE
	for ch := 0; ch < enc.channels; ch++ {
		enc.in[ch].discard(keep)
	}
	return frames
}

// signal reads an analysis channel: left, right, mid or side.
func (enc *Encoder) signal(ch int, dst []float64, from int) []float64 {
	if ch < 2 {
		return enc.in[ch].slice(dst, from)
	}
	enc.in[0].slice(dst, from)
	r := enc.in[1].slice(enc.scratch[:len(dst)], from)
	for i, l := range dst {
		if ch == 2 {
			dst[i] = (l + r[i]) * SQRT2 * 0.5
		} else {
			dst[i] = (l - r[i]) * SQRT2 * 0.5
		}
	}
	return dst
}

// analyzeGranule runs the masking model over granule enc.next. The result
// fixes the block type of the previous granule, which is then transformed
// and queued for its frame.
func (enc *Encoder) analyzeGranule() (Frame, bool) {
	var (
		in     PsyInput
		long   [BLKSIZE]float64
		short  [3][BLKSIZE_s]float64
		attack [4][AttackInputLen]float64
	)
	k := enc.next
	centre := k * GRANULE_SIZE
	for ch := 0; ch < enc.psy.Channels(); ch++ {
		enc.signal(ch, long[:], centre-BLKSIZE/2)
		for w := 0; w < 3; w++ {
			enc.signal(ch, short[w][:], centre-shortLines+shortLines*w-BLKSIZE_s/2)
		}
		enc.fft.energies(long[:], [3][]float64{short[0][:], short[1][:], short[2][:]}, &in.EnergyLong[ch], &in.EnergyShort[ch])
		in.Samples[ch] = enc.signal(ch, attack[ch][:], centre-(NSFIRLEN-1))
	}
	res := enc.psy.Analyze(&in, enc.hist)

	loudness := 0.0
	for ch := 0; ch < enc.channels; ch++ {
		x := enc.in[ch].slice(long[:GRANULE_SIZE], centre)
		sum := 0.0
		for _, v := range x {
			v /= pcmScale
			sum += v * v
		}
		loudness = max(loudness, sum/GRANULE_SIZE)
	}

	var (
		frame Frame
		done  bool
	)
	if enc.hasPending {
		g := enc.pending
		var window [2 * GRANULE_SIZE]float64
		for ch := 0; ch < enc.channels; ch++ {
			g.blockType[ch] = res.BlockType[ch]
			enc.in[ch].slice(window[:], centre-2*GRANULE_SIZE)
			mdctGranule(window[:], g.blockType[ch], &g.xr[ch])
		}
		enc.frame[enc.nGran] = g
		enc.nGran++
		if enc.nGran == enc.modeGr {
			frame, done = enc.encodeFrame(), true
			enc.nGran = 0
		}
	}
	enc.pending = granuleData{ratio: res.Ratio, pe: res.PE, loudness: loudness}
	enc.hasPending = true
	enc.next++
	return frame, done
}

// msMaxSideRatio is the largest average share of side energy a frame may
// carry and still be coded as mid and side.
const msMaxSideRatio = 0.35

// useMS decides whether the frame is coded as mid and side. Both channels
// must share their block types, the channels must be similar enough that
// side carries little of the energy, and mid/side must be cheaper in
// perceptual entropy in every granule.
func (enc *Encoder) useMS() bool {
	if enc.cfg.Mode != JOINT_STEREO {
		return false
	}
	sideRatio := 0.0
	for gr := 0; gr < enc.modeGr; gr++ {
		g := &enc.frame[gr]
		if g.blockType[0] != g.blockType[1] {
			return false
		}
		if g.pe[2]+g.pe[3] > g.pe[0]+g.pe[1] {
			return false
		}
		sideRatio += sideEnergyRatio(&g.xr[0], &g.xr[1])
	}
	return sideRatio/float64(enc.modeGr) < msMaxSideRatio
}

// sideEnergyRatio is the share of the energy of l and r that a side
// channel would carry; 0 for identical channels, about 0.5 for unrelated
// ones.
func sideEnergyRatio(l, r *[GRANULE_SIZE]float64) float64 {
	eS, eTot := 0.0, 0.0
	for i := range l {
		d := l[i] - r[i]
		eS += d * d
		eTot += 2 * (l[i]*l[i] + r[i]*r[i])
	}
	if eTot == 0 {
		return 0
	}
	return eS / eTot
}

// frameBits returns the frame size function of the current frame.
func (enc *Encoder) frameBits(padding int) func(int) int {
	return func(bitrateIndex int) int {
		slots := enc.modeGr * GRANULE_SIZE * bitRates[bitrateIndex][enc.version] * 1000 / (8 * enc.cfg.SampleRate)
		if enc.cfg.VBR == VBR_OFF {
			slots = enc.wholeSlotsPerFrame + padding
		}
		return slots * 8
	}
}

func (enc *Encoder) encodeFrame() Frame {
	var (
		ratio [MAX_GRANULES][MAX_CHANNELS]MaskingThresholds
		pe    [MAX_GRANULES][MAX_CHANNELS]float64
	)
	enc.side = SideInfo{}
	ms := enc.useMS()
	fs := frameState{
		side:            &enc.side,
		ratio:           &ratio,
		pe:              &pe,
		ms:              ms,
		channels:        enc.channels,
		modeGr:          enc.modeGr,
		sideInfoBits:    enc.sideInfoBits,
		minBitrateIndex: enc.minIndex,
		maxBitrateIndex: enc.maxIndex,
		bitrateIndex:    enc.cbrIndex,
	}
	loudness := 0.0
	for gr := 0; gr < enc.modeGr; gr++ {
		g := &enc.frame[gr]
		loudness = max(loudness, g.loudness)
		off := 0
		if ms {
			off = 2
		}
		for ch := 0; ch < enc.channels; ch++ {
			gi := &enc.side.Granules[gr][ch]
			gi.BlockType = g.blockType[ch]
			gi.Xr = g.xr[ch]
			ratio[gr][ch] = g.ratio[ch+off]
			pe[gr][ch] = g.pe[ch+off]
		}
		if ms {
			eM, eS := 0.0, 0.0
			l, r := &enc.side.Granules[gr][0].Xr, &enc.side.Granules[gr][1].Xr
			for i := range l {
				m := (l[i] + r[i]) * SQRT2 * 0.5
				s := (l[i] - r[i]) * SQRT2 * 0.5
				l[i], r[i] = m, s
				eM += m * m
				eS += s * s
			}
			fs.msEnerRatio[gr] = 0.5
			if eM+eS > 0 {
				fs.msEnerRatio[gr] = eS / (eM + eS)
			}
		}
	}
	enc.q.athAdj.update(loudness)

	padding := 0
	if enc.cfg.VBR == VBR_OFF && enc.fracSlotsPerFrame != 0 {
		if enc.slotLag <= (enc.fracSlotsPerFrame - 1.0) {
			padding = 1
		}
		enc.slotLag += float64(padding) - enc.fracSlotsPerFrame
	}
	fs.frameBits = enc.frameBits(padding)

	// bit and noise allocation
	enc.q.iterationLoop(&fs)

	f := Frame{
		Side:         enc.side,
		Granules:     enc.modeGr,
		Channels:     enc.channels,
		BitrateIndex: fs.bitrateIndex,
		Bitrate:      bitRates[fs.bitrateIndex][enc.version],
		Padding:      padding == 1,
		MS:           ms,
		OverCount:    fs.overCount,
		FrameBits:    fs.frameBits(fs.bitrateIndex),

		version:         enc.version,
		sampleRateIndex: enc.sampleRateIndex,
		mode:            enc.cfg.Mode,
		sfb:             enc.q.sfb,
	}
	for gr := 0; gr < enc.modeGr; gr++ {
		for ch := 0; ch < enc.channels; ch++ {
			f.TotalMainDataBits += enc.side.Granules[gr][ch].Part2_3Length
		}
	}
	return f
}
