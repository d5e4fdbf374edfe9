package mp3

import "math"

// NSFIRLEN is the length of the attack detection high pass filter.
const NSFIRLEN = 21

// AttackInputLen is the number of time samples the attack detector needs
// per granule: the granule itself with half a filter length on each side.
const AttackInputLen = GRANULE_SIZE + NSFIRLEN - 1

// firCoef holds the odd half of the symmetric high pass filter; the centre
// tap is 1.
var firCoef = [(NSFIRLEN - 1) / 2]float64{
	-8.65163e-18 * 2, -0.00851586 * 2, -6.74764e-18 * 2, 0.0209036 * 2,
	-3.36639e-17 * 2, -0.0438162 * 2, -1.54175e-17 * 2, 0.0931738 * 2,
	-5.52212e-17 * 2, -0.313819 * 2,
}

// energy ratio below which consecutive short blocks are deemed periodic
const (
	attackPeriodicRatio  = 1.7
	attackPeriodicEnergy = 40000
)

// highPass filters one granule of samples (plus filter margins) into out.
func highPass(samples []float64, out *[GRANULE_SIZE]float64) {
	for i := 0; i < GRANULE_SIZE; i++ {
		sum1 := samples[i+(NSFIRLEN-1)/2]
		sum2 := 0.0
		for j := 0; j < (NSFIRLEN-1)/2; j += 2 {
			sum1 += firCoef[j] * (samples[i+j] + samples[i+NSFIRLEN-1-j])
			sum2 += firCoef[j+1] * (samples[i+j+1] + samples[i+NSFIRLEN-2-j])
		}
		out[i] = sum1 + sum2
	}
}

// attackResult is the outcome of the attack detector for one channel.
type attackResult struct {
	// attack position per third of a granule: 0 none, 1..3 the sub window
	// where it starts. attacks[0] refers to the end of the previous granule.
	attacks        [4]int
	subShortFactor [3]float64
	useLongBlock   bool
}

// detectAttacks splits the high passed granule into nine sub windows and
// flags a short block when the peak level rises or falls sharply between
// them. shortEnergy, when not nil, adds a check on the FFT energy of the
// three short blocks. The history is read before it is overwritten.
func (h *MaskingHistory) detectAttacks(hpf *[GRANULE_SIZE]float64, shortEnergy *[3]float64, thrLong, thrShort float64) attackResult {
	var (
		res             attackResult
		attackIntensity [12]float64
		enSubshort      [12]float64
		enShort         [4]float64
	)
	for i := 0; i < 3; i++ {
		enSubshort[i] = h.lastEnSubshort[i+6]
		attackIntensity[i] = enSubshort[i] / h.lastEnSubshort[i+4]
		enShort[0] += enSubshort[i]
	}
	pf := 0
	for i := 0; i < 9; i++ {
		p := 1.0
		for end := pf + GRANULE_SIZE/9; pf < end; pf++ {
			if a := math.Abs(hpf[pf]); p < a {
				p = a
			}
		}
		h.lastEnSubshort[i] = p
		enSubshort[i+3] = p
		enShort[1+i/3] += p
		prev := enSubshort[i+3-2]
		switch {
		case p > prev:
			p = p / prev
		case prev > p*10.0:
			p = prev / (p * 10.0)
		default:
			p = 0
		}
		attackIntensity[i+3] = p
	}

	// pulse like signals get lowered short block thresholds
	for i := 0; i < 3; i++ {
		enn := enSubshort[i*3+3] + enSubshort[i*3+4] + enSubshort[i*3+5]
		factor := 1.0
		if enSubshort[i*3+5]*6 < enn {
			factor *= 0.5
			if enSubshort[i*3+4]*6 < enn {
				factor *= 0.5
			}
		}
		res.subShortFactor[i] = factor
	}

	for i := 0; i < 12; i++ {
		if res.attacks[i/3] == 0 && attackIntensity[i] > thrLong {
			res.attacks[i/3] = (i % 3) + 1
		}
	}
	if shortEnergy != nil {
		for i := 1; i < 3; i++ {
			u, v := shortEnergy[i-1], shortEnergy[i]
			if res.attacks[i+1] == 0 && u > 0 && v > u*thrShort {
				res.attacks[i+1] = 1
			}
		}
	}

	// periodic signals need an energy change between short blocks
	for i := 1; i < 4; i++ {
		u := enShort[i-1]
		v := enShort[i]
		if math.Max(u, v) < attackPeriodicEnergy {
			if u < attackPeriodicRatio*v && v < attackPeriodicRatio*u {
				if i == 1 && res.attacks[0] <= res.attacks[i] {
					res.attacks[0] = 0
				}
				res.attacks[i] = 0
			}
		}
	}
	if res.attacks[0] <= h.lastAttacks {
		res.attacks[0] = 0
	}

	res.useLongBlock = true
	if h.lastAttacks == 3 || res.attacks[0]+res.attacks[1]+res.attacks[2]+res.attacks[3] != 0 {
		res.useLongBlock = false
		if res.attacks[1] != 0 && res.attacks[0] != 0 {
			res.attacks[1] = 0
		}
		if res.attacks[2] != 0 && res.attacks[1] != 0 {
			res.attacks[2] = 0
		}
		if res.attacks[3] != 0 && res.attacks[2] != 0 {
			res.attacks[3] = 0
		}
	}
	return res
}

// computeBlockType applies the short block policy to the per channel
// window decisions.
func computeBlockType(policy ShortBlockMode, useLongBlock []bool) {
	if policy == SHORT_BLOCK_COUPLED && len(useLongBlock) == 2 && !(useLongBlock[0] && useLongBlock[1]) {
		useLongBlock[0], useLongBlock[1] = false, false
	}
	for ch := range useLongBlock {
		switch policy {
		case SHORT_BLOCK_DISPENSED:
			useLongBlock[ch] = true
		case SHORT_BLOCK_FORCED:
			useLongBlock[ch] = false
		}
	}
}

// applyBlockType runs the NORM/START/SHORT/STOP state machine. The window
// of a granule is only final once the next granule has been analysed, so
// the returned block type belongs to the previous granule.
func applyBlockType(hist []MaskingHistory, useLongBlock []bool) [MAX_CHANNELS]BlockType {
	var out [MAX_CHANNELS]BlockType
	for ch := range useLongBlock {
		h := &hist[ch]
		blockType := NORM_TYPE
		if useLongBlock[ch] {
			if h.blockTypeOld == SHORT_TYPE {
				blockType = STOP_TYPE
			}
		} else {
			blockType = SHORT_TYPE
			if h.blockTypeOld == NORM_TYPE {
				h.blockTypeOld = START_TYPE
			}
			if h.blockTypeOld == STOP_TYPE {
				h.blockTypeOld = SHORT_TYPE
			}
		}
		out[ch] = h.blockTypeOld
		h.blockTypeOld = blockType
	}
	return out
}
