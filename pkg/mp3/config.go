package mp3

import (
	"fmt"
	"math"
)

// VBRMode selects the bit allocation strategy.
type VBRMode int

const (
	// VBR_OFF is constant bitrate.
	VBR_OFF VBRMode = iota
	// VBR_ABR targets an average bitrate with the outer loop.
	VBR_ABR
	// VBR_RH searches, per granule, the smallest bit count the outer loop
	// can code transparently.
	VBR_RH
	// VBR_MTRH computes scalefactors directly from the masking thresholds.
	VBR_MTRH
)

func (v VBRMode) String() string {
	switch v {
	case VBR_OFF:
		return "cbr"
	case VBR_ABR:
		return "abr"
	case VBR_RH:
		return "vbr-rh"
	case VBR_MTRH:
		return "vbr-mtrh"
	}
	return "unknown"
}

// ShortBlockMode controls how the attack detector may switch windows.
type ShortBlockMode int

const (
	SHORT_BLOCK_ALLOWED ShortBlockMode = iota
	// both channels always share the block type
	SHORT_BLOCK_COUPLED
	// only long blocks are used
	SHORT_BLOCK_DISPENSED
	// only short blocks are used
	SHORT_BLOCK_FORCED
)

// Noise shaping amplification policies of the outer loop.
const (
	// amplify every band whose distortion exceeds 1.0
	AMP_ALL_OVER = 0
	// amplify bands within 50% (on a dB scale) of the worst band
	AMP_WITHIN_HALF = 1
	// amplify only the worst band
	AMP_ONE_BAND = 2
	// search with AMP_WITHIN_HALF, then refine the best result once more
	// with AMP_ONE_BAND
	AMP_REFINE = 3
)

// Config is the tuning surface of the psychoacoustic model and the
// quantization loops.
type Config struct {
	SampleRate int
	Channels   int
	// Mode is STEREO, JOINT_STEREO or MONO. Joint stereo codes mid/side.
	Mode mode
	// Bitrate in kbit/s; the CBR rate or the ABR average.
	Bitrate int
	// Quality 0 (best, slowest) .. 9 (fastest).
	Quality int
	VBR     VBRMode
	// VBRQuality 0 (best) .. 9.999 for VBR_RH and VBR_MTRH.
	VBRQuality float64

	// QuantComp and QuantCompShort select the candidate comparison used by
	// the outer loop for long and short blocks (0..9).
	QuantComp      int
	QuantCompShort int
	// NoiseShapingAmp overrides the amplification policy when >= 0.
	NoiseShapingAmp int

	// MSFix rescales mid/side thresholds against left/right; 0 disables.
	MSFix float64
	// InterChRatio shares masking between channels for stereo input.
	InterChRatio float64

	ATHType    int
	ATHCurve   float64
	ATHLowerDB float64
	NoATH      bool

	AttackThresholdLong  float64
	AttackThresholdShort float64
	ShortBlocks          ShortBlockMode

	// MaskingLowerDB shifts every threshold; derived from VBRQuality when 0.
	MaskingLowerDB float64

	// MinBitrate and MaxBitrate bound the frame bitrates of the VBR and ABR
	// modes in kbit/s. Zero leaves the bound at the table limit.
	MinBitrate int
	MaxBitrate int
	// DisableReservoir stops frames from borrowing bits of earlier frames.
	DisableReservoir bool
}

// DefaultConfig returns the settings of a 128 kbit/s joint stereo CBR
// encode at quality 3.
func DefaultConfig(sampleRate, channels int) Config {
	c := Config{
		SampleRate:           sampleRate,
		Channels:             channels,
		Mode:                 JOINT_STEREO,
		Bitrate:              128,
		Quality:              3,
		VBR:                  VBR_OFF,
		VBRQuality:           4,
		QuantComp:            9,
		QuantCompShort:       9,
		NoiseShapingAmp:      -1,
		MSFix:                NS_MSFIX,
		ATHType:              4,
		ATHCurve:             4,
		AttackThresholdLong:  4.4,
		AttackThresholdShort: 25,
		ShortBlocks:          SHORT_BLOCK_ALLOWED,
	}
	if channels == 1 {
		c.Mode = MONO
	}
	return c
}

// NS_MSFIX is the default mid/side threshold rescaling factor.
const NS_MSFIX = 3.5

// findSampleRateIndex checks if a given sampleRate is supported by the encoder
func findSampleRateIndex(freq int) (int, error) {
	for i := 0; i < len(sampleRates); i++ {
		if freq == sampleRates[i] {
			return i, nil
		}
	}
	return -1, fmt.Errorf("unsupported frequency: %v", freq)
}

func getMpegVersion(sampleRateIndex int) mpegVersion {
	if sampleRateIndex < 3 {
		return MPEG_I
	} else if sampleRateIndex < 6 {
		return MPEG_II
	}
	return MPEG_25
}

// findBitrateIndex checks if a given bitrate is supported by the encoder
func findBitrateIndex(bitrate int, mpegVer mpegVersion) (int, error) {
	for i := 1; i < 15; i++ {
		if bitrate == bitRates[i][mpegVer] {
			return i, nil
		}
	}
	return -1, fmt.Errorf("unsupported bitrate: %v", bitrate)
}

// Validate checks the configuration for values the encoder cannot use.
func (c *Config) Validate() error {
	sampleRateIndex, err := findSampleRateIndex(c.SampleRate)
	if err != nil {
		return err
	}
	if c.Channels != 1 && c.Channels != 2 {
		return fmt.Errorf("unsupported channel count: %v", c.Channels)
	}
	if c.Channels == 1 && c.Mode != MONO {
		return fmt.Errorf("mode %v needs two channels", c.Mode)
	}
	if c.Channels == 2 && c.Mode == MONO {
		return fmt.Errorf("mode %v takes one channel, got %v", c.Mode, c.Channels)
	}
	if c.VBR < VBR_OFF || c.VBR > VBR_MTRH {
		return fmt.Errorf("unknown vbr mode: %v", c.VBR)
	}
	if c.Quality < 0 || c.Quality > 9 {
		return fmt.Errorf("quality out of range: %v", c.Quality)
	}
	if c.QuantComp < 0 || c.QuantComp > 9 || c.QuantCompShort < 0 || c.QuantCompShort > 9 {
		return fmt.Errorf("quant_comp out of range: %v/%v", c.QuantComp, c.QuantCompShort)
	}
	if c.NoiseShapingAmp > AMP_REFINE {
		return fmt.Errorf("unknown noise shaping amplification: %v", c.NoiseShapingAmp)
	}
	if c.VBRQuality < 0 || c.VBRQuality >= 10 {
		return fmt.Errorf("vbr quality out of range: %v", c.VBRQuality)
	}
	ver := getMpegVersion(sampleRateIndex)
	if c.VBR == VBR_OFF {
		if _, err := findBitrateIndex(c.Bitrate, ver); err != nil {
			return err
		}
	}
	if c.VBR == VBR_ABR && (c.Bitrate < bitRates[1][ver] || c.Bitrate > bitRates[14][ver]) {
		return fmt.Errorf("average bitrate out of range: %v", c.Bitrate)
	}
	lo, hi, err := c.bitrateBounds(ver)
	if err != nil {
		return err
	}
	if lo > hi {
		return fmt.Errorf("minimum bitrate %v above maximum %v", c.MinBitrate, c.MaxBitrate)
	}
	return nil
}

// bitrateBounds resolves MinBitrate and MaxBitrate to bitrate indices.
func (c *Config) bitrateBounds(ver mpegVersion) (lo, hi int, err error) {
	lo, hi = 1, 14
	if c.MinBitrate != 0 {
		if lo, err = findBitrateIndex(c.MinBitrate, ver); err != nil {
			return 0, 0, err
		}
	}
	if c.MaxBitrate != 0 {
		if hi, err = findBitrateIndex(c.MaxBitrate, ver); err != nil {
			return 0, 0, err
		}
	}
	return lo, hi, nil
}

// qualityPolicy is the bundle of search options selected by Config.Quality.
type qualityPolicy struct {
	noiseShaping       int
	noiseShapingAmp    int
	substepShaping     int
	useBestHuffman     int
	fullOuterLoop      int
	useSubblockGain    bool
	useTemporalMasking bool
}

func newQualityPolicy(c *Config) qualityPolicy {
	var p qualityPolicy
	switch q := c.Quality; {
	case q >= 7:
		// psychoacoustics only, no noise shaping, estimated vbr steps
		p.fullOuterLoop = -1
	case q >= 5:
		p.noiseShaping = 1
	case q == 4:
		p.noiseShaping = 1
		p.useBestHuffman = 1
	case q == 3:
		p.noiseShaping = 1
		p.noiseShapingAmp = AMP_WITHIN_HALF
		p.useBestHuffman = 1
		p.useSubblockGain = true
	case q == 2:
		p.noiseShaping = 1
		p.noiseShapingAmp = AMP_WITHIN_HALF
		p.substepShaping = 2
		p.useBestHuffman = 1
		p.useSubblockGain = true
	default:
		p.noiseShaping = 2
		p.noiseShapingAmp = AMP_ONE_BAND
		p.substepShaping = 2
		p.useBestHuffman = 1
		p.useSubblockGain = true
		if q == 0 {
			p.fullOuterLoop = 1
		}
	}
	if c.NoiseShapingAmp >= 0 {
		p.noiseShapingAmp = c.NoiseShapingAmp
	}
	p.useTemporalMasking = c.Quality < 7
	return p
}

// maskingLower returns the linear threshold scale implied by the
// configuration: an explicit MaskingLowerDB wins, VBR derives one from
// VBRQuality and CBR/ABR use none.
func (c *Config) maskingLower() float64 {
	if c.MaskingLowerDB != 0 {
		return math.Pow(10, c.MaskingLowerDB*0.1)
	}
	if c.VBR == VBR_RH || c.VBR == VBR_MTRH {
		return math.Pow(10, vbrMaskingLowerDB(c.VBRQuality)*0.1)
	}
	return 1
}

// vbrMaskingLowerDB interpolates the per quality masking adjustment table.
func vbrMaskingLowerDB(q float64) float64 {
	table := [11]float64{-4.0, -3.0, -2.0, -1.0, 0.0, 1.0, 2.0, 3.0, 4.0, 5.0, 6.0}
	i := int(q)
	f := q - float64(i)
	if i >= 10 {
		return table[10]
	}
	return table[i] + f*(table[i+1]-table[i])
}
