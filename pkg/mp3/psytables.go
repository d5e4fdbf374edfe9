package mp3

import "math"

const (
	// width of a partition band in bark
	DELBARK = .34

	// spreading function attenuation for long blocks at low and high barks
	snrLongA = -8.25
	snrLongB = -4.5
	// and for short blocks
	snrShortA = -10.0
	snrShortB = -4.0
	barkLowEdge  = 13.0
	barkHighEdge = 24.0

	// bark scaling of the minval floor for long and short blocks
	minvalBarkLong  = 10.0
	minvalBarkShort = 12.0
)

// PartitionBandTable partitions the FFT spectrum of one block length into
// roughly third bark wide bands and maps them onto the scalefactor bands.
// It depends only on the sample rate and block length and is never mutated
// after construction.
type PartitionBandTable struct {
	npart int
	nsb   int

	numLines  [CBANDS]int
	rnumLines [CBANDS]float64
	bval      [CBANDS]float64
	bvalWidth [CBANDS]float64

	// spreading function, stored as the non zero range s3ind[b] of every
	// row followed by its weights packed in s3
	s3    []float64
	s3ind [CBANDS][2]int

	athCb  [CBANDS]float64
	minVal [CBANDS]float64
	mldCb  [CBANDS]float64

	// last partition of each scalefactor band and how much of it belongs
	// to that band
	bo       [SBMAX_l]int
	boWeight [SBMAX_l]float64
}

// freq2bark converts a frequency in Hz to the bark scale.
func freq2bark(freq float64) float64 {
	if freq < 0 {
		freq = 0
	}
	freq = freq * 0.001
	return 13.0*math.Atan(.76*freq) + 3.5*math.Atan(freq*freq/(7.5*7.5))
}

// stereoDemask is the mid/side masking level difference at frequency f.
func stereoDemask(f float64) float64 {
	arg := freq2bark(f)
	arg = math.Min(arg, 15.5) / 15.5
	return math.Pow(10.0, 1.25*(1-math.Cos(PI*arg))-2.5)
}

// s3Func is the spreading function in bark distance, normalized to unit
// integral.
func s3Func(bark float64) float64 {
	tempx := bark
	if tempx >= 0 {
		tempx *= 3
	} else {
		tempx *= 1.5
	}
	var x float64
	if tempx >= 0.5 && tempx <= 2.5 {
		temp := tempx - 0.5
		x = 8.0 * (temp*temp - 2.0*temp)
	}
	tempx += 0.474
	tempy := 15.811389 + 7.5*tempx - 17.5*math.Sqrt(1.0+tempx*tempx)
	if tempy <= -60.0 {
		return 0.0
	}
	tempx = math.Exp((x + tempy) * LN_TO_LOG10)
	return tempx / .6609193
}

// newPartitionBandTable builds the table for an FFT of fftSize lines whose
// MDCT counterpart has mdctSize lines split at scalepos.
func newPartitionBandTable(c *Config, fftSize, mdctSize int, scalepos []int) *PartitionBandTable {
	gd := new(PartitionBandTable)
	sfreq := float64(c.SampleRate)
	long := fftSize == BLKSIZE

	gd.initNumLines(sfreq, fftSize, mdctSize, scalepos)
	gd.computeBarkValues(sfreq, fftSize)

	var norm [CBANDS]float64
	snrA, snrB := snrLongA, snrLongB
	if !long {
		snrA, snrB = snrShortA, snrShortB
	}
	for i := 0; i < gd.npart; i++ {
		snr := snrA
		if gd.bval[i] >= barkLowEdge {
			snr = snrB*(gd.bval[i]-barkLowEdge)/(barkHighEdge-barkLowEdge) +
				snrA*(barkHighEdge-gd.bval[i])/(barkHighEdge-barkLowEdge)
		}
		norm[i] = math.Pow(10.0, snr/10.0)
	}
	gd.initS3Values(&norm)

	minvalBark := minvalBarkLong
	if !long {
		minvalBark = minvalBarkShort
	}
	j := 0
	for i := 0; i < gd.npart; i++ {
		x := math.MaxFloat64
		for k := 0; k < gd.numLines[i]; k++ {
			freq := sfreq * float64(j) / float64(fftSize)
			level := c.athFormula(freq) - 20
			level = math.Pow(10., 0.1*level) * float64(gd.numLines[i])
			if x > level {
				x = level
			}
			j++
		}
		gd.athCb[i] = x

		// the strength of masking at low frequencies is limited by minval
		x = 20.0 * (gd.bval[i]/minvalBark - 1.0)
		if x > 6 {
			x = 30
		}
		if x < 0 {
			x = 0
		}
		if c.SampleRate < 44000 {
			x = 30
		}
		x -= 8.
		gd.minVal[i] = math.Pow(10.0, x/10.) * float64(gd.numLines[i])
	}
	return gd
}

// initNumLines groups FFT lines into partitions of about DELBARK each and
// maps scalefactor band edges onto partitions.
func (gd *PartitionBandTable) initNumLines(sfreq float64, fftSize, mdctSize int, scalepos []int) {
	var bFrq [CBANDS + 1]float64
	var partition [HBLKSIZE]int
	mdctFreqFrac := sfreq / (2.0 * float64(mdctSize))
	deltaFreq := float64(fftSize) / (2.0 * float64(mdctSize))
	lineFreq := sfreq / float64(fftSize)

	j, ni := 0, 0
	i := 0
	for ; i < CBANDS; i++ {
		bark1 := freq2bark(lineFreq * float64(j))
		bFrq[i] = lineFreq * float64(j)
		j2 := j
		for freq2bark(lineFreq*float64(j2))-bark1 < DELBARK && j2 <= fftSize/2 {
			j2++
		}
		nl := j2 - j
		gd.numLines[i] = nl
		if nl > 0 {
			gd.rnumLines[i] = 1.0 / float64(nl)
		}
		ni = i + 1
		for j < j2 {
			partition[j] = i
			j++
		}
		if j > fftSize/2 {
			j = fftSize / 2
			i++
			break
		}
	}
	bFrq[i] = lineFreq * float64(j)
	gd.nsb = len(scalepos) - 1
	gd.npart = ni

	j = 0
	for i := 0; i < gd.npart; i++ {
		nl := gd.numLines[i]
		gd.mldCb[i] = stereoDemask(lineFreq * float64(j+nl/2))
		j += nl
	}
	for i := gd.npart; i < CBANDS; i++ {
		gd.mldCb[i] = 1
	}

	for sfb := 0; sfb < gd.nsb; sfb++ {
		end := scalepos[sfb+1]
		i2 := int(math.Floor(.5 + deltaFreq*(float64(end)-.5)))
		if i2 > fftSize/2 {
			i2 = fftSize / 2
		}
		bo := partition[i2]
		gd.bo[sfb] = bo

		fTmp := mdctFreqFrac * float64(end)
		boW := 1.0
		if bFrq[bo+1] > bFrq[bo] {
			boW = (fTmp - bFrq[bo]) / (bFrq[bo+1] - bFrq[bo])
		}
		boW = math.Max(0, math.Min(1, boW))
		gd.boWeight[sfb] = boW
	}
}

func (gd *PartitionBandTable) computeBarkValues(sfreq float64, fftSize int) {
	lineFreq := sfreq / float64(fftSize)
	j := 0
	for k := 0; k < gd.npart; k++ {
		w := gd.numLines[k]
		bark1 := freq2bark(lineFreq * float64(j))
		bark2 := freq2bark(lineFreq * float64(j+w-1))
		gd.bval[k] = .5 * (bark1 + bark2)
		bark1 = freq2bark(lineFreq * (float64(j) - .5))
		bark2 = freq2bark(lineFreq * (float64(j+w) - .5))
		gd.bvalWidth[k] = bark2 - bark1
		j += w
	}
}

// initS3Values evaluates the spreading function between all partitions and
// keeps only the non zero support of every row.
func (gd *PartitionBandTable) initS3Values(norm *[CBANDS]float64) {
	var s3 [CBANDS][CBANDS]float64
	npart := gd.npart
	for i := 0; i < npart; i++ {
		for j := 0; j < npart; j++ {
			v := s3Func(gd.bval[i]-gd.bval[j]) * gd.bvalWidth[j]
			s3[i][j] = v * norm[i]
		}
	}
	count := 0
	for i := 0; i < npart; i++ {
		j := 0
		for ; j < npart; j++ {
			if s3[i][j] > 0.0 {
				break
			}
		}
		gd.s3ind[i][0] = j
		for j = npart - 1; j > 0; j-- {
			if s3[i][j] > 0.0 {
				break
			}
		}
		gd.s3ind[i][1] = j
		if gd.s3ind[i][0] > gd.s3ind[i][1] {
			// a row without support still spreads onto itself
			gd.s3ind[i][0], gd.s3ind[i][1] = i, i
		}
		count += gd.s3ind[i][1] - gd.s3ind[i][0] + 1
	}
	gd.s3 = make([]float64, 0, count)
	for i := 0; i < npart; i++ {
		for j := gd.s3ind[i][0]; j <= gd.s3ind[i][1]; j++ {
			gd.s3 = append(gd.s3, s3[i][j])
		}
	}
}
