package mp3

// Huffman bit counting for the quantization loops. Everything here works on
// code lengths only; the bit patterns are never needed to price a
// representation.

// reset invalidates every cached band so the next quantization and noise
// measurement start from scratch.
func (d *calcNoiseData) reset() {
	d.globalGain = -1
	for i := range d.step {
		d.step[i] = -1 << 20
	}
}

// ixMax returns the largest value of ix.
func ixMax(ix []int) int {
	max := 0
	for _, v := range ix {
		if max < v {
			max = v
		}
	}
	return max
}

// countBit counts the bits needed to code ix with Huffman table t,
// including sign bits and linbits.
func countBit(ix []int, t int) int {
	if t == 0 {
		return 0
	}
	h := &huffmanCodeTable[t]
	yLen := int(h.yLen)
	linBits := int(h.linBits)
	sum := 0
	if t > 15 {
		for i := 0; i+1 < len(ix); i += 2 {
			x, y := ix[i], ix[i+1]
			if x > 14 {
				x = 15
				sum += linBits
			}
			if y > 14 {
				y = 15
				sum += linBits
			}
			sum += int(h.hLen[x*yLen+y])
			if x != 0 {
				sum++
			}
			if y != 0 {
				sum++
			}
		}
		return sum
	}
	for i := 0; i+1 < len(ix); i += 2 {
		x, y := ix[i], ix[i+1]
		sum += int(h.hLen[x*yLen+y])
		if x != 0 {
			sum++
		}
		if y != 0 {
			sum++
		}
	}
	return sum
}

// noEscTables lists, by the largest value of a region, the smallest table
// able to code it followed by its cheaper alternatives.
var noEscTables = [16][]int{
	0:  nil,
	1:  {1},
	2:  {2, 3},
	3:  {5, 6},
	4:  {7, 8, 9},
	5:  {7, 8, 9},
	6:  {10, 11, 12},
	7:  {10, 11, 12},
	8:  {13, 15},
	9:  {13, 15},
	10: {13, 15},
	11: {13, 15},
	12: {13, 15},
	13: {13, 15},
	14: {13, 15},
	15: {13, 15},
}

// chooseTable selects the Huffman table that codes ix with the fewest bits
// and adds that count to bits. It returns -1 and LARGE_BITS when a value
// cannot be represented at all.
func chooseTable(ix []int, bits *int) int {
	max := ixMax(ix)
	if max == 0 {
		return 0
	}
	if max <= 15 {
		choice := -1
		best := 0
		for _, t := range noEscTables[max] {
			if sum := countBit(ix, t); choice < 0 || sum < best {
				choice, best = t, sum
			}
		}
		*bits += best
		return choice
	}
	if max > IXMAX_VAL {
		*bits = LARGE_BITS
		return -1
	}
	max -= 15
	choice2 := 24
	for ; choice2 < 32; choice2++ {
		if int(huffmanCodeTable[choice2].linMax) >= max {
			break
		}
	}
	choice := choice2 - 8
	for ; choice < 24; choice++ {
		if int(huffmanCodeTable[choice].linMax) >= max {
			break
		}
	}
	sum := countBit(ix, choice)
	sum2 := countBit(ix, choice2)
	if sum2 < sum {
		choice, sum = choice2, sum2
	}
	*bits += sum
	return choice
}

// count1Bits prices the quadruples of ix[lo:hi] with both count1 tables,
// sign bits included.
func count1Bits(ix []int, lo, hi int) (a, b int) {
	for i := lo; i+3 < hi; i += 4 {
		p := ((ix[i]*2+ix[i+1])*2+ix[i+2])*2 + ix[i+3]
		signs := ix[i] + ix[i+1] + ix[i+2] + ix[i+3]
		a += int(huffmanCodeTable[32].hLen[p]) + signs
		b += int(huffmanCodeTable[33].hLen[p]) + signs
	}
	return a, b
}

// noquantCountBits splits the already quantized granule into the big
// values, count1 and zero regions, selects all tables and returns the
// Huffman bit count of the main data.
func (q *quantizer) noquantCountBits(gi *GranuleInfo) int {
	ix := gi.L3Enc[:]
	i := ((gi.MaxNonZeroCoeff + 2) >> 1) << 1
	if i > GRANULE_SIZE {
		i = GRANULE_SIZE
	}

	for ; i > 1; i -= 2 {
		if ix[i-1]|ix[i-2] != 0 {
			break
		}
	}
	gi.Count1 = i

	for ; i > 3; i -= 4 {
		if ix[i-1]|ix[i-2]|ix[i-3]|ix[i-4] > 1 {
			break
		}
	}
	a1, a2 := count1Bits(ix, i, gi.Count1)
	bits := a1
	gi.Count1TableSelect = 0
	if a1 > a2 {
		bits = a2
		gi.Count1TableSelect = 1
	}
	gi.Count1Bits = bits
	gi.BigValues = i
	gi.TableSelect = [3]int{}
	if i == 0 {
		return bits
	}

	switch gi.BlockType {
	case SHORT_TYPE:
		a1 = 3 * q.sfb.S[3]
		if a1 > gi.BigValues {
			a1 = gi.BigValues
		}
		a2 = gi.BigValues
	case NORM_TYPE:
		gi.Region0Count = q.bvScf[i-2]
		gi.Region1Count = q.bvScf[i-1]
		a2 = q.sfb.L[gi.Region0Count+gi.Region1Count+2]
		a1 = q.sfb.L[gi.Region0Count+1]
		if a2 < i {
			gi.TableSelect[2] = chooseTable(ix[a2:i], &bits)
		}
	default:
		gi.Region0Count = 7
		gi.Region1Count = SBMAX_l - 1 - 7 - 1
		a1 = q.sfb.L[7+1]
		a2 = i
		if a1 > a2 {
			a1 = a2
		}
	}

	// big values may end before region0 or region1 do
	if a1 > i {
		a1 = i
	}
	if a2 > i {
		a2 = i
	}
	if 0 < a1 {
		gi.TableSelect[0] = chooseTable(ix[:a1], &bits)
	}
	if a1 < a2 {
		gi.TableSelect[1] = chooseTable(ix[a1:a2], &bits)
	}
	if q.policy.useBestHuffman == 2 {
		gi.Part2_3Length = bits
		q.bestHuffmanDivide(gi)
		bits = gi.Part2_3Length
	}

	return bits
}

// countBits quantizes the x^(3/4) magnitudes at the current gains and
// returns the Huffman bit count, or LARGE_BITS when the gain is too small
// for the table range. The cache in prev only skips work.
func (q *quantizer) countBits(xr34 *[GRANULE_SIZE]float64, gi *GranuleInfo, prev *calcNoiseData, pseudoHalf *[SFBMAX]bool) int {
	w := IXMAX_VAL / ipow20(gi.GlobalGain)
	if gi.XrPowMax > w {
		return LARGE_BITS
	}
	if pseudoHalf != nil {
		// bands flagged for half step rounding are requantized every time
		prev = nil
	}
	quantizeXrpow(xr34, gi, prev)

	if pseudoHalf != nil {
		// 0.634521682242439 = 0.5946*2**(.5*0.1875)
		gain := gi.GlobalGain + gi.ScaleFacScale
		roundFac := 0.634521682242439 / ipow20(gain)
		j := 0
		for sfb := 0; sfb < gi.SfbMax; sfb++ {
			width := gi.Width[sfb]
			if pseudoHalf[sfb] {
				for k := j; k < j+width; k++ {
					if xr34[k] < roundFac {
						gi.L3Enc[k] = 0
					}
				}
			}
			j += width
		}
	}
	return q.noquantCountBits(gi)
}

// recalcDivideInit prices, for every region0/region1 split of the big
// values region, the cheapest table pair.
func (q *quantizer) recalcDivideInit(gi *GranuleInfo, r01Bits, r01Div, r0Tbl, r1Tbl *[7 + 15 + 1]int) {
	ix := gi.L3Enc[:]
	bigv := gi.BigValues
	for r := range r01Bits {
		r01Bits[r] = LARGE_BITS
	}
	for r0 := 0; r0 < 16; r0++ {
		a1 := q.sfb.L[r0+1]
		if a1 >= bigv {
			break
		}
		r0Bits := 0
		r0t := chooseTable(ix[:a1], &r0Bits)
		for r1 := 0; r1 < 8; r1++ {
			a2 := q.sfb.L[r0+r1+2]
			if a2 >= bigv {
				break
			}
			bits := r0Bits
			r1t := chooseTable(ix[a1:a2], &bits)
			if r01Bits[r0+r1] > bits {
				r01Bits[r0+r1] = bits
				r01Div[r0+r1] = r0
				r0Tbl[r0+r1] = r0t
				r1Tbl[r0+r1] = r1t
			}
		}
	}
}

// recalcDivideSub tries every region2 start with the best region0/1 split
// in front of it and keeps the cheapest layout in gi.
func (q *quantizer) recalcDivideSub(cand *GranuleInfo, gi *GranuleInfo, r01Bits, r01Div, r0Tbl, r1Tbl *[7 + 15 + 1]int) {
	ix := cand.L3Enc[:]
	bigv := cand.BigValues
	for r2 := 2; r2 < SBMAX_l+1; r2++ {
		a2 := q.sfb.L[r2]
		if a2 >= bigv {
			break
		}
		bits := r01Bits[r2-2] + cand.Count1Bits
		if gi.Part2_3Length <= bits {
			break
		}
		r2t := chooseTable(ix[a2:bigv], &bits)
		if gi.Part2_3Length <= bits {
			continue
		}
		*gi = *cand
		gi.Part2_3Length = bits
		gi.Region0Count = r01Div[r2-2]
		gi.Region1Count = r2 - 2 - r01Div[r2-2]
		gi.TableSelect[0] = r0Tbl[r2-2]
		gi.TableSelect[1] = r1Tbl[r2-2]
		gi.TableSelect[2] = r2t
	}
}

// bestHuffmanDivide searches region boundaries and the count1 boundary for
// a cheaper coding of gi. gi.Part2_3Length must hold its current Huffman
// bit count and is lowered when a better layout is found.
func (q *quantizer) bestHuffmanDivide(gi *GranuleInfo) {
	var r01Bits, r01Div, r0Tbl, r1Tbl [7 + 15 + 1]int

	// short block region layout is fixed for one granule per frame
	if gi.BlockType == SHORT_TYPE && q.modeGr == 1 {
		return
	}
	ix := gi.L3Enc[:]
	cand := *gi
	if gi.BlockType == NORM_TYPE {
		q.recalcDivideInit(gi, &r01Bits, &r01Div, &r0Tbl, &r1Tbl)
		q.recalcDivideSub(&cand, gi, &r01Bits, &r01Div, &r0Tbl, &r1Tbl)
	}

	i := cand.BigValues
	if i == 0 || ix[i-2]|ix[i-1] > 1 {
		return
	}
	i = gi.Count1 + 2
	if i > GRANULE_SIZE {
		return
	}

	// move the last big values pair into the count1 region
	cand = *gi
	cand.Count1 = i
	a2 := 0
	a1 := 0
	for ; i > cand.BigValues; i -= 4 {
		if i-4 < 0 {
			break
		}
		p := ((ix[i-4]*2+ix[i-3])*2+ix[i-2])*2 + ix[i-1]
		signs := ix[i-4] + ix[i-3] + ix[i-2] + ix[i-1]
		a1 += int(huffmanCodeTable[32].hLen[p]) + signs
		a2 += int(huffmanCodeTable[33].hLen[p]) + signs
	}
	cand.BigValues = i
	cand.Count1TableSelect = 0
	if a1 > a2 {
		a1 = a2
		cand.Count1TableSelect = 1
	}
	cand.Count1Bits = a1

	if cand.BlockType == NORM_TYPE {
		q.recalcDivideSub(&cand, gi, &r01Bits, &r01Div, &r0Tbl, &r1Tbl)
		return
	}
	cand.Part2_3Length = a1
	a1 = q.sfb.L[7+1]
	if a1 > i {
		a1 = i
	}
	cand.TableSelect = [3]int{}
	if a1 > 0 {
		cand.TableSelect[0] = chooseTable(ix[:a1], &cand.Part2_3Length)
	}
	if i > a1 {
		cand.TableSelect[1] = chooseTable(ix[a1:i], &cand.Part2_3Length)
	}
	if gi.Part2_3Length > cand.Part2_3Length {
		*gi = cand
	}
}

// Number of values the two scalefactor lengths of each MPEG-1
// scalefac_compress value can code.
var (
	sLen1N = [16]int{1, 1, 1, 1, 8, 2, 2, 2, 4, 4, 4, 8, 8, 8, 16, 16}
	sLen2N = [16]int{1, 2, 4, 8, 1, 2, 4, 8, 2, 4, 8, 2, 4, 8, 4, 8}
)

// scaleCost is the MPEG-1 scalefactor bit cost of scalefac_compress k.
func scaleCost(k int, short bool) int {
	if short {
		return 18 * (sLen1Table[k] + sLen2Table[k])
	}
	return 11*sLen1Table[k] + 10*sLen2Table[k]
}

// scaleBitcount picks the cheapest scalefac_compress able to hold the
// scalefactors of gi and stores its Part2Length. It reports true when the
// scalefactors are too large for any of them.
func (q *quantizer) scaleBitcount(gi *GranuleInfo) bool {
	if q.modeGr == 2 {
		return mpeg1ScaleBitcount(gi)
	}
	return mpeg2ScaleBitcount(gi)
}

func mpeg1ScaleBitcount(gi *GranuleInfo) bool {
	sf := &gi.ScaleFac
	short := gi.BlockType == SHORT_TYPE
	if !short && gi.PreFlag == 0 {
		sfb := 11
		for ; sfb < SBPSY_l; sfb++ {
			if sf[sfb] < pretab[sfb] {
				break
			}
		}
		if sfb == SBPSY_l {
			gi.PreFlag = 1
			for sfb = 11; sfb < SBPSY_l; sfb++ {
				sf[sfb] -= pretab[sfb]
			}
		}
	}

	maxSlen1, maxSlen2 := 0, 0
	sfb := 0
	for ; sfb < gi.sfbDivide(); sfb++ {
		if maxSlen1 < sf[sfb] {
			maxSlen1 = sf[sfb]
		}
	}
	for ; sfb < gi.SfbMax; sfb++ {
		if maxSlen2 < sf[sfb] {
			maxSlen2 = sf[sfb]
		}
	}

	gi.Part2Length = LARGE_BITS
	for k := 0; k < 16; k++ {
		if maxSlen1 < sLen1N[k] && maxSlen2 < sLen2N[k] && gi.Part2Length > scaleCost(k, short) {
			gi.Part2Length = scaleCost(k, short)
			gi.ScaleFacCompress = k
		}
	}
	return gi.Part2Length == LARGE_BITS
}

func mpeg2ScaleBitcount(gi *GranuleInfo) bool {
	var maxSfac [4]int
	tableNumber := 0
	if gi.PreFlag != 0 {
		tableNumber = 2
	}
	row := 0
	if gi.BlockType == SHORT_TYPE {
		row = 1
	}
	partitionTable := &nrOfSfbBlock[tableNumber][row]
	sfb := 0
	for partition := 0; partition < 4; partition++ {
		if row == 1 {
			n := partitionTable[partition] / 3
			for i := 0; i < n; i, sfb = i+1, sfb+1 {
				for window := 0; window < 3; window++ {
					if s := gi.ScaleFac[sfb*3+window]; s > maxSfac[partition] {
						maxSfac[partition] = s
					}
				}
			}
			continue
		}
		for i := 0; i < partitionTable[partition]; i, sfb = i+1, sfb+1 {
			if s := gi.ScaleFac[sfb]; s > maxSfac[partition] {
				maxSfac[partition] = s
			}
		}
	}

	for partition := 0; partition < 4; partition++ {
		if maxSfac[partition] > maxRangeSfacTab[tableNumber][partition] {
			return true
		}
	}
	gi.SfbPartitionTable = *partitionTable
	for partition := 0; partition < 4; partition++ {
		gi.Slen[partition] = log2Tab[maxSfac[partition]]
	}
	s1, s2, s3, s4 := gi.Slen[0], gi.Slen[1], gi.Slen[2], gi.Slen[3]
	switch tableNumber {
	case 0:
		gi.ScaleFacCompress = ((s1*5+s2)<<4 + s3<<2 + s4)
	case 2:
		gi.ScaleFacCompress = 500 + s1*3 + s2
	}
	gi.Part2Length = 0
	for partition := 0; partition < 4; partition++ {
		gi.Part2Length += gi.Slen[partition] * gi.SfbPartitionTable[partition]
	}
	return false
}

// sfbDivide is the first band coded with slen2.
func (gi *GranuleInfo) sfbDivide() int {
	if gi.BlockType == SHORT_TYPE {
		return gi.SfbMax - 18
	}
	return 11
}

// scfsiBand groups the long scalefactor bands that share one scfsi bit.
var scfsiBand = [5]int{0, 6, 11, 16, 21}

// scfsiCalc marks the scalefactor groups of the second granule that repeat
// the first one and recomputes the cheapest scalefac_compress without them.
// Repeated scalefactors keep their value; only the scfsi bit changes.
func scfsiCalc(ch int, side *SideInfo) {
	gi := &side.Granules[1][ch]
	g0 := &side.Granules[0][ch]
	var shared [SBMAX_l]bool

	for i := 0; i < len(scfsiBand)-1; i++ {
		sfb := scfsiBand[i]
		for ; sfb < scfsiBand[i+1]; sfb++ {
			if g0.ScaleFac[sfb] != gi.ScaleFac[sfb] && gi.ScaleFac[sfb] >= 0 {
				break
			}
		}
		if sfb == scfsiBand[i+1] {
			for sfb = scfsiBand[i]; sfb < scfsiBand[i+1]; sfb++ {
				shared[sfb] = true
				gi.ScaleFac[sfb] = g0.ScaleFac[sfb]
			}
			side.ScaleFactorSelectInfo[ch][i] = 1
		}
	}

	s1, c1 := 0, 0
	sfb := 0
	for ; sfb < 11; sfb++ {
		if shared[sfb] {
			continue
		}
		c1++
		if s1 < gi.ScaleFac[sfb] {
			s1 = gi.ScaleFac[sfb]
		}
	}
	s2, c2 := 0, 0
	for ; sfb < SBPSY_l; sfb++ {
		if shared[sfb] {
			continue
		}
		c2++
		if s2 < gi.ScaleFac[sfb] {
			s2 = gi.ScaleFac[sfb]
		}
	}
	for i := 0; i < 16; i++ {
		if s1 < sLen1N[i] && s2 < sLen2N[i] {
			c := sLen1Table[i]*c1 + sLen2Table[i]*c2
			if gi.Part2Length > c {
				gi.Part2Length = c
				gi.ScaleFacCompress = i
			}
		}
	}
}

// bestScalefacStore finalizes the scalefactors of a committed granule:
// bands quantized to all zeros lose their scalefactor, all even
// scalefactors move to the coarser scale, and pretab is used when every
// high band can absorb it. In MPEG-1 the second granule then shares
// scalefactor groups with the first one where possible.
func (q *quantizer) bestScalefacStore(gr, ch int, side *SideInfo) {
	gi := &side.Granules[gr][ch]
	recalc := false
	const anything = -2

	j := 0
	for sfb := 0; sfb < gi.SfbMax; sfb++ {
		width := gi.Width[sfb]
		l := j
		for ; l < j+width; l++ {
			if gi.L3Enc[l] != 0 {
				break
			}
		}
		if l == j+width {
			gi.ScaleFac[sfb] = anything
			recalc = true
		}
		j += width
	}

	if gi.ScaleFacScale == 0 && gi.PreFlag == 0 {
		s := 0
		for sfb := 0; sfb < gi.SfbMax; sfb++ {
			if gi.ScaleFac[sfb] > 0 {
				s |= gi.ScaleFac[sfb]
			}
		}
		if s&1 == 0 && s != 0 {
			for sfb := 0; sfb < gi.SfbMax; sfb++ {
				if gi.ScaleFac[sfb] > 0 {
					gi.ScaleFac[sfb] >>= 1
				}
			}
			gi.ScaleFacScale = 1
			recalc = true
		}
	}

	if gi.PreFlag == 0 && gi.BlockType != SHORT_TYPE && q.modeGr == 2 {
		sfb := 11
		for ; sfb < SBPSY_l; sfb++ {
			if gi.ScaleFac[sfb] < pretab[sfb] && gi.ScaleFac[sfb] != anything {
				break
			}
		}
		if sfb == SBPSY_l {
			for sfb = 11; sfb < SBPSY_l; sfb++ {
				if gi.ScaleFac[sfb] > 0 {
					gi.ScaleFac[sfb] -= pretab[sfb]
				}
			}
			gi.PreFlag = 1
			recalc = true
		}
	}

	for i := 0; i < 4; i++ {
		side.ScaleFactorSelectInfo[ch][i] = 0
	}
	scfsi := q.modeGr == 2 && gr == 1 &&
		side.Granules[0][ch].BlockType != SHORT_TYPE && side.Granules[1][ch].BlockType != SHORT_TYPE
	if scfsi {
		// free bands match any first granule value
		gi.Part2Length = LARGE_BITS
		scfsiCalc(ch, side)
		recalc = false
	}
	for sfb := 0; sfb < gi.SfbMax; sfb++ {
		if gi.ScaleFac[sfb] < 0 {
			gi.ScaleFac[sfb] = 0
		}
	}
	if recalc {
		q.scaleBitcount(gi)
	}
}

// huffmanInit precomputes the preferred region0/region1 split of every big
// values length for long blocks.
func (q *quantizer) huffmanInit() {
	for i := 2; i <= GRANULE_SIZE; i += 2 {
		scfbAnz := 0
		for {
			scfbAnz++
			if q.sfb.L[scfbAnz] >= i {
				break
			}
		}
		bvIndex := subdivideTable[scfbAnz].region0Count
		for bvIndex >= 0 && q.sfb.L[bvIndex+1] > i {
			bvIndex--
		}
		if bvIndex < 0 {
			bvIndex = subdivideTable[scfbAnz].region0Count
		}
		q.bvScf[i-2] = bvIndex

		bvIndex = subdivideTable[scfbAnz].region1Count
		for bvIndex >= 0 && q.sfb.L[bvIndex+q.bvScf[i-2]+2] > i {
			bvIndex--
		}
		if bvIndex < 0 {
			bvIndex = subdivideTable[scfbAnz].region1Count
		}
		q.bvScf[i-1] = bvIndex
	}
}
