package mp3

import "math"

// NSATHSCALE maps the ATH curve in dB SPL onto the MDCT energy scale.
const NSATHSCALE = 100

// athFormulaGB is the absolute threshold of hearing in dB for a frequency
// in Hz. value bends the high frequency tail of the curve.
func athFormulaGB(f, value, fMin, fMax float64) float64 {
	if f < -.3 {
		f = 3410
	}
	f /= 1000
	f = math.Max(fMin, f)
	f = math.Min(fMax, f)
	return 3.640*math.Pow(f, -0.8) -
		6.800*math.Exp(-0.6*math.Pow(f-3.4, 2.0)) +
		6.000*math.Exp(-0.15*math.Pow(f-8.7, 2.0)) +
		(0.6+0.04*value)*0.001*math.Pow(f, 4.0)
}

// athFormula selects the curve shape by ATH type.
func (c *Config) athFormula(f float64) float64 {
	switch c.ATHType {
	case 0:
		return athFormulaGB(f, 9, 0.1, 24.0)
	case 1:
		return athFormulaGB(f, -1, 0.1, 24.0)
	case 2:
		return athFormulaGB(f, 0, 0.1, 24.0)
	case 3:
		return athFormulaGB(f, 1, 0.1, 24.0) + 6
	case 5:
		return athFormulaGB(f, c.ATHCurve, 3.41, 16.1)
	}
	return athFormulaGB(f, c.ATHCurve, 0.1, 24.0)
}

// athMdct converts the ATH at frequency f to an MDCT energy.
func (c *Config) athMdct(f float64) float64 {
	ath := c.athFormula(f) - NSATHSCALE - c.ATHLowerDB
	return math.Pow(10.0, ath*0.1)
}

// athTable is the per scalefactor band ATH of one sample rate.
type athTable struct {
	L [SBMAX_l]float64
	S [SBMAX_s]float64
}

func newATHTable(c *Config, sfb *scaleFacBand) athTable {
	var ath athTable
	sampleFreq := float64(c.SampleRate)
	for b := 0; b < SBMAX_l; b++ {
		ath.L[b] = math.MaxFloat64
		for i := sfb.L[b]; i < sfb.L[b+1]; i++ {
			freq := float64(i) * sampleFreq / (2 * 576)
			ath.L[b] = math.Min(ath.L[b], c.athMdct(freq))
		}
	}
	for b := 0; b < SBMAX_s; b++ {
		ath.S[b] = math.MaxFloat64
		for i := sfb.S[b]; i < sfb.S[b+1]; i++ {
			freq := float64(i) * sampleFreq / (2 * 192)
			ath.S[b] = math.Min(ath.S[b], c.athMdct(freq))
		}
		ath.S[b] *= float64(sfb.S[b+1] - sfb.S[b])
	}
	if c.NoATH {
		for b := range ath.L {
			ath.L[b] = 1e-20
		}
		for b := range ath.S {
			ath.S[b] = 1e-20
		}
	}
	return ath
}

// athAdjust lowers the ATH for quiet passages. It follows the loudness of
// the signal across granules and is the only adaptive part of the ATH.
type athAdjust struct {
	factor float64
	limit  float64
}

func newATHAdjust() athAdjust {
	return athAdjust{factor: 1, limit: 1}
}

// athaaSensitivity scales the loudness before the adjustment curve.
const athaaSensitivity = 1.0

// update advances the adjustment with the mean square loudness of the
// granule, normalized to a full scale of 1.
func (a *athAdjust) update(loudness float64) {
	maxPow := loudness * athaaSensitivity
	if maxPow > 0.03125 {
		if a.factor >= 1.0 {
			a.factor = 1.0
		} else if a.factor < a.limit {
			a.factor = a.limit
		}
		a.limit = 1.0
		return
	}
	// about 32 dB maximum adjust
	adjLimNew := 31.98*maxPow + 0.000625
	if a.factor >= adjLimNew {
		a.factor *= adjLimNew*0.075 + 0.925
		if a.factor < adjLimNew {
			a.factor = adjLimNew
		}
	} else if a.limit >= adjLimNew {
		a.factor = adjLimNew
	} else if a.factor < a.limit {
		a.factor = a.limit
	}
	a.limit = adjLimNew
}
