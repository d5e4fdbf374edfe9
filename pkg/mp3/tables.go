package mp3

// sampleRates lists the supported output rates, ordered so that index/3 is
// the MPEG version group (MPEG-1, MPEG-2, MPEG-2.5) and index%3 the header
// sampling_frequency field.
var sampleRates = [9]int{44100, 48000, 32000, 22050, 24000, 16000, 11025, 12000, 8000}

// bitRates is indexed by [bitrate_index][mpegVersion] in kbit/s.
var bitRates = [16][4]int{
	// MPEG 2.5, reserved, MPEG II, MPEG I
	{-1, -1, -1, -1},
	{8, -1, 8, 32},
	{16, -1, 16, 40},
	{24, -1, 24, 48},
	{32, -1, 32, 56},
	{40, -1, 40, 64},
	{48, -1, 48, 80},
	{56, -1, 56, 96},
	{64, -1, 64, 112},
	{80, -1, 80, 128},
	{96, -1, 96, 160},
	{112, -1, 112, 192},
	{128, -1, 128, 224},
	{144, -1, 144, 256},
	{160, -1, 160, 320},
	{-1, -1, -1, -1},
}

// scaleFactorBandIndex holds the long block band edges of Table B.8 of the IS.
var scaleFactorBandIndex = [9][SBMAX_l + 1]int{
	// MPEG-1
	{0, 4, 8, 12, 16, 20, 24, 30, 36, 44, 52, 62, 74, 90, 110, 134, 162, 196, 238, 288, 342, 418, 576},
	{0, 4, 8, 12, 16, 20, 24, 30, 36, 42, 50, 60, 72, 88, 106, 128, 156, 190, 230, 276, 330, 384, 576},
	{0, 4, 8, 12, 16, 20, 24, 30, 36, 44, 54, 66, 82, 102, 126, 156, 194, 240, 296, 364, 448, 550, 576},
	// MPEG-2
	{0, 6, 12, 18, 24, 30, 36, 44, 54, 66, 80, 96, 116, 140, 168, 200, 238, 284, 336, 396, 464, 522, 576},
	{0, 6, 12, 18, 24, 30, 36, 44, 54, 66, 80, 96, 114, 136, 162, 194, 232, 278, 332, 394, 464, 540, 576},
	{0, 6, 12, 18, 24, 30, 36, 44, 54, 66, 80, 96, 116, 140, 168, 200, 238, 284, 336, 396, 464, 522, 576},
	// MPEG-2.5
	{0, 6, 12, 18, 24, 30, 36, 44, 54, 66, 80, 96, 116, 140, 168, 200, 238, 284, 336, 396, 464, 522, 576},
	{0, 6, 12, 18, 24, 30, 36, 44, 54, 66, 80, 96, 116, 140, 168, 200, 238, 284, 336, 396, 464, 522, 576},
	{0, 12, 24, 36, 48, 60, 72, 88, 108, 132, 160, 192, 232, 280, 336, 400, 476, 566, 568, 570, 572, 574, 576},
}

// scaleFactorBandIndexShort holds the short block band edges, per window.
var scaleFactorBandIndexShort = [9][SBMAX_s + 1]int{
	{0, 4, 8, 12, 16, 22, 30, 40, 52, 66, 84, 106, 136, 192},
	{0, 4, 8, 12, 16, 22, 28, 38, 50, 64, 80, 100, 126, 192},
	{0, 4, 8, 12, 16, 22, 30, 42, 58, 78, 104, 138, 180, 192},
	{0, 4, 8, 12, 18, 24, 32, 42, 56, 74, 100, 132, 174, 192},
	{0, 4, 8, 12, 18, 26, 36, 48, 62, 80, 104, 136, 180, 192},
	{0, 4, 8, 12, 18, 26, 36, 48, 62, 80, 104, 134, 174, 192},
	{0, 4, 8, 12, 18, 26, 36, 48, 62, 80, 104, 134, 174, 192},
	{0, 4, 8, 12, 18, 26, 36, 48, 62, 80, 104, 134, 174, 192},
	{0, 8, 16, 24, 36, 52, 72, 96, 124, 160, 162, 164, 166, 192},
}

// pretab is the preemphasis table added to long block scalefactors when
// preflag is set (Table B.6 of the IS).
var pretab = [SBMAX_l]int{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1, 1, 1, 1, 2, 2, 3, 3, 3, 2, 0}

// sLen1Table and sLen2Table give the scalefactor field widths selected by
// scalefac_compress for MPEG-1.
var (
	sLen1Table = [16]int{0, 0, 0, 0, 3, 1, 1, 1, 2, 2, 2, 3, 3, 3, 4, 4}
	sLen2Table = [16]int{0, 1, 2, 3, 0, 1, 2, 3, 1, 2, 3, 1, 2, 3, 2, 3}
)

// nrOfSfbBlock is the MPEG-2 partition of scalefactor bands into four
// slen groups, indexed by [table][long, short, mixed][group].
var nrOfSfbBlock = [6][3][4]int{
	{{6, 5, 5, 5}, {9, 9, 9, 9}, {6, 9, 9, 9}},
	{{6, 5, 7, 3}, {9, 9, 12, 6}, {6, 9, 12, 6}},
	{{11, 10, 0, 0}, {18, 18, 0, 0}, {15, 18, 0, 0}},
	{{7, 7, 7, 0}, {12, 12, 12, 0}, {6, 15, 12, 0}},
	{{6, 6, 6, 3}, {12, 9, 9, 6}, {6, 12, 9, 6}},
	{{8, 8, 5, 0}, {15, 12, 9, 0}, {6, 18, 9, 0}},
}

// maxRangeSfacTab is the largest scalefactor every slen group of
// nrOfSfbBlock can hold.
var maxRangeSfacTab = [6][4]int{
	{15, 15, 7, 7},
	{15, 15, 7, 0},
	{7, 3, 0, 0},
	{15, 31, 31, 0},
	{7, 7, 7, 0},
	{3, 3, 0, 0},
}

// log2Tab is ceil(log2(x+1)) for the MPEG-2 scalefactor widths.
var log2Tab = [16]int{0, 1, 2, 2, 3, 3, 3, 3, 4, 4, 4, 4, 4, 4, 4, 4}

// subdivideTable gives preferred region0/region1 counts for a big values
// region spanning the given number of long scalefactor bands.
var subdivideTable = [SBMAX_l + 1]struct {
	region0Count int
	region1Count int
}{
	{0, 0}, /* 0 bands */
	{0, 0}, /* 1 bands */
	{0, 0}, /* 2 bands */
	{0, 0}, /* 3 bands */
	{0, 0}, /* 4 bands */
	{0, 1}, /* 5 bands */
	{1, 1}, /* 6 bands */
	{1, 1}, /* 7 bands */
	{1, 2}, /* 8 bands */
	{2, 2}, /* 9 bands */
	{2, 3}, /* 10 bands */
	{2, 3}, /* 11 bands */
	{3, 4}, /* 12 bands */
	{3, 4}, /* 13 bands */
	{3, 4}, /* 14 bands */
	{4, 5}, /* 15 bands */
	{4, 5}, /* 16 bands */
	{4, 6}, /* 17 bands */
	{5, 6}, /* 18 bands */
	{5, 6}, /* 19 bands */
	{5, 7}, /* 20 bands */
	{6, 7}, /* 21 bands */
	{6, 7}, /* 22 bands */
}
