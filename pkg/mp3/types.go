package mp3

const (
	PI          = 3.14159265358979
	SQRT2       = 1.41421356237
	LOG10       = 2.30258509299404568402
	LN_TO_LOG10 = 0.2302585093

	GRANULE_SIZE  = 576
	MAX_GRANULES  = 2
	MAX_CHANNELS  = 2
	SUBBAND_LIMIT = 32

	// FFT sizes of the psychoacoustic model
	BLKSIZE    = 1024
	HBLKSIZE   = BLKSIZE/2 + 1
	BLKSIZE_s  = 256
	HBLKSIZE_s = BLKSIZE_s/2 + 1

	// partition bands of the masking model
	CBANDS = 64

	// scalefactor bands
	SBMAX_l = 22
	SBMAX_s = 13
	SBPSY_l = 21
	SBPSY_s = 12
	SFBMAX  = SBMAX_s * 3

	// quantizer limits
	LARGE_BITS           = 100000
	MAX_BITS_PER_CHANNEL = 4095
	MAX_BITS_PER_GRANULE = 7680
	IXMAX_VAL            = 8206
	PRECALC_SIZE         = IXMAX_VAL + 2
	Q_MAX                = 256 + 1
	Q_MAX2               = 116
)

// BlockType is the window sequence of a granule.
type BlockType int

const (
	NORM_TYPE BlockType = iota
	START_TYPE
	SHORT_TYPE
	STOP_TYPE
)

func (b BlockType) String() string {
	switch b {
	case NORM_TYPE:
		return "norm"
	case START_TYPE:
		return "start"
	case SHORT_TYPE:
		return "short"
	case STOP_TYPE:
		return "stop"
	}
	return "unknown"
}

type mode int

const (
	STEREO mode = iota
	JOINT_STEREO
	DUAL_CHANNEL
	MONO
)

func (m mode) String() string {
	switch m {
	case STEREO:
		return "stereo"
	case JOINT_STEREO:
		return "joint stereo"
	case DUAL_CHANNEL:
		return "dual channel"
	case MONO:
		return "mono"
	}
	return "unknown"
}

type mpegVersion int

const (
	MPEG_25 mpegVersion = 0
	MPEG_II mpegVersion = 2
	MPEG_I  mpegVersion = 3
)

// scaleFacBand holds the line offsets of the scalefactor bands for one
// sample rate.
type scaleFacBand struct {
	L [SBMAX_l + 1]int
	S [SBMAX_s + 1]int
}

// bandValues stores one value per long band and per short band and window.
type bandValues struct {
	L [SBMAX_l]float64
	S [SBMAX_s][3]float64
}

// MaskingThresholds is the output of the masking model for one channel:
// the signal energy and the masking threshold of every scalefactor band.
type MaskingThresholds struct {
	En  bandValues
	Thm bandValues
}

// GranuleInfo is the complete coding state of one channel of one granule.
// It is a plain value: copying it snapshots the whole quantization state,
// which is how the search loops keep their best candidate.
type GranuleInfo struct {
	// spectral values, signed
	Xr [GRANULE_SIZE]float64
	// quantized magnitudes
	L3Enc    [GRANULE_SIZE]int
	ScaleFac [SFBMAX]int
	XrPowMax float64

	Part2_3Length     int
	BigValues         int
	Count1            int
	GlobalGain        int
	ScaleFacCompress  int
	BlockType         BlockType
	MixedBlockFlag    int
	TableSelect       [3]int
	SubblockGain      [3 + 1]int
	Region0Count      int
	Region1Count      int
	PreFlag           int
	ScaleFacScale     int
	Count1TableSelect int

	Part2Length int
	SfbLMax     int
	SfbSMin     int
	PsyLMax     int
	SfbMax      int
	PsyMax      int
	Count1Bits  int

	// MPEG-2 scalefactor partition chosen by the LSF scale bit counter
	SfbPartitionTable [4]int
	Slen              [4]int

	MaxNonZeroCoeff int
	Width  [SFBMAX]int
	Window [SFBMAX]int

	EnergyAboveCutoff [SFBMAX]bool
}

// SideInfo collects the coding state of one frame.
type SideInfo struct {
	MainDataBegin         int
	PrivateBits           int
	ResvDrainPre          int
	ResvDrainPost         int
	ScaleFactorSelectInfo [MAX_CHANNELS][4]int
	Granules              [MAX_GRANULES][MAX_CHANNELS]GranuleInfo
}

// calcNoiseResult summarizes the distortion of a quantized granule.
type calcNoiseResult struct {
	overNoise float64
	totNoise  float64
	maxNoise  float64
	overCount int
	overSSD   int
	bits      int
}

// calcNoiseData caches the per band noise of the previous quantization so
// unchanged bands can be skipped.
type calcNoiseData struct {
	globalGain int
	step       [SFBMAX]int
	noise      [SFBMAX]float64
	noiseLog   [SFBMAX]float64
}
