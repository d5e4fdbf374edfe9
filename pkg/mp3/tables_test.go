package mp3

import (
	"math/rand"
	"slices"
	"strings"
	"testing"
)

// Every Huffman table is a complete prefix code: its Kraft sum is exactly 1.
func TestHuffmanKraft(t *testing.T) {
	for i, h := range huffmanCodeTable {
		if h.hLen == nil {
			continue
		}
		if want := int(h.xLen * h.yLen); len(h.hLen) != want {
			t.Errorf("table %d: %d code lengths, want %d", i, len(h.hLen), want)
			continue
		}
		var sum uint64
		for _, l := range h.hLen {
			if l == 0 || l > 32 {
				t.Fatalf("table %d has a code of length %d", i, l)
			}
			sum += 1 << (32 - l)
		}
		if sum != 1<<32 {
			t.Errorf("table %d: Kraft sum %v", i, float64(sum)/(1<<32))
		}
	}
}

// Code words of Table B.7 of the IS, as read by decoders such as
// github.com/hajimehoshi/go-mp3. Bigvalues entries are ordered x*yLen+y,
// quadruples v*8+w*4+x*2+y.
var isCodeWords = map[int][]string{
	1: {"1", "001", "01", "000"},
	2: {"1", "010", "000001", "011", "001", "00001", "00011", "00010", "000000"},
	3: {"11", "10", "000001", "001", "01", "00001", "00011", "00010", "000000"},
	32: {
		"1", "0101", "0100", "00101", "0110", "000101", "00100", "000100",
		"0111", "00011", "00110", "000000", "00111", "000010", "000011", "000001",
	},
	33: {
		"1111", "1110", "1101", "1100", "1011", "1010", "1001", "1000",
		"0111", "0110", "0101", "0100", "0011", "0010", "0001", "0000",
	},
}

func TestHuffmanCodeLengths(t *testing.T) {
	for tbl, words := range isCodeWords {
		h := huffmanCodeTable[tbl]
		if len(words) != len(h.hLen) {
			t.Fatalf("table %d: %d code words, %d lengths", tbl, len(words), len(h.hLen))
		}
		for i, w := range words {
			if int(h.hLen[i]) != len(w) {
				t.Errorf("table %d entry %d: length %d, code word %q", tbl, i, h.hLen[i], w)
			}
		}
	}
}

// decodeWords splits a bit string with a prefix code and returns the entry
// indices, or nil when the string does not parse.
func decodeWords(bits string, words []string) []int {
	var out []int
	for len(bits) > 0 {
		n := -1
		for i, w := range words {
			if strings.HasPrefix(bits, w) {
				if n >= 0 {
					return nil
				}
				n = i
			}
		}
		if n < 0 {
			return nil
		}
		out = append(out, n)
		bits = bits[len(words[n]):]
	}
	return out
}

// A decoder reading the code words back must consume exactly the bits the
// region and count1 costs charge.
func TestHuffmanCostsDecode(t *testing.T) {
	rng := rand.New(rand.NewSource(8))
	for _, tbl := range []int{1, 2, 3} {
		h := huffmanCodeTable[tbl]
		ix := make([]int, 32)
		for i := range ix {
			ix[i] = rng.Intn(int(h.xLen))
		}
		var stream strings.Builder
		var want []int
		signs := 0
		for i := 0; i < len(ix); i += 2 {
			e := ix[i]*int(h.yLen) + ix[i+1]
			stream.WriteString(isCodeWords[tbl][e])
			want = append(want, e)
			for _, v := range ix[i : i+2] {
				if v != 0 {
					signs++
				}
			}
		}
		got := decodeWords(stream.String(), isCodeWords[tbl])
		if !slices.Equal(got, want) {
			t.Fatalf("table %d: decoded %v, want %v", tbl, got, want)
		}
		if bits := countBit(ix, tbl); bits != stream.Len()+signs {
			t.Errorf("table %d: countBit %d, decoder reads %d", tbl, bits, stream.Len()+signs)
		}
	}

	ix := make([]int, 48)
	for i := range ix {
		ix[i] = rng.Intn(2)
	}
	for _, tbl := range []int{32, 33} {
		var stream strings.Builder
		signs := 0
		for i := 0; i < len(ix); i += 4 {
			stream.WriteString(isCodeWords[tbl][ix[i]*8+ix[i+1]*4+ix[i+2]*2+ix[i+3]])
			signs += ix[i] + ix[i+1] + ix[i+2] + ix[i+3]
		}
		if got := decodeWords(stream.String(), isCodeWords[tbl]); len(got) != len(ix)/4 {
			t.Fatalf("table %d: decoded %d quadruples, want %d", tbl, len(got), len(ix)/4)
		}
		a, b := count1Bits(ix, 0, len(ix))
		bits := a
		if tbl == 33 {
			bits = b
		}
		if bits != stream.Len()+signs {
			t.Errorf("count1 table %d: %d bits, decoder reads %d", tbl, bits, stream.Len()+signs)
		}
	}
}

func TestHuffmanLinMax(t *testing.T) {
	for i := 16; i < 32; i++ {
		h := huffmanCodeTable[i]
		if want := uint(1)<<h.linBits - 1; h.linMax != want {
			t.Errorf("table %d: linMax %d, want %d", i, h.linMax, want)
		}
	}
}

// The cost of a region must be the sum of its pair costs, whatever table
// codes it.
func TestCountBitMatchesPairs(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for _, limit := range []int{1, 2, 3, 7, 15, 40, 1000} {
		ix := make([]int, 64)
		for i := range ix {
			ix[i] = rng.Intn(limit + 1)
		}
		bits := 0
		tbl := chooseTable(ix, &bits)
		if tbl <= 0 {
			t.Fatalf("limit %d: no table chosen", limit)
		}
		sum := 0
		for i := 0; i < len(ix); i += 2 {
			sum += huffmanPairBits(tbl, ix[i], ix[i+1])
		}
		if sum != bits || countBit(ix, tbl) != bits {
			t.Errorf("limit %d, table %d: chooseTable %d bits, pairs %d, countBit %d", limit, tbl, bits, sum, countBit(ix, tbl))
		}
	}
}

func TestChooseTableLimits(t *testing.T) {
	bits := 0
	if got := chooseTable(make([]int, 8), &bits); got != 0 || bits != 0 {
		t.Errorf("zeros: table %d, %d bits", got, bits)
	}
	bits = 0
	if got := chooseTable([]int{IXMAX_VAL + 1, 0}, &bits); got != -1 || bits != LARGE_BITS {
		t.Errorf("out of range: table %d, %d bits", got, bits)
	}
}

func TestScaleFactorBands(t *testing.T) {
	for i, sr := range sampleRates {
		l := scaleFactorBandIndex[i]
		s := scaleFactorBandIndexShort[i]
		if l[0] != 0 || l[SBMAX_l] != GRANULE_SIZE {
			t.Errorf("%d Hz: long bands span %d..%d", sr, l[0], l[SBMAX_l])
		}
		if s[0] != 0 || s[SBMAX_s] != GRANULE_SIZE/3 {
			t.Errorf("%d Hz: short bands span %d..%d", sr, s[0], s[SBMAX_s])
		}
		for sfb := 0; sfb < SBMAX_l; sfb++ {
			if w := l[sfb+1] - l[sfb]; w <= 0 || w%2 != 0 {
				t.Errorf("%d Hz: long band %d is %d lines wide", sr, sfb, w)
			}
		}
		for sfb := 0; sfb < SBMAX_s; sfb++ {
			if s[sfb+1] <= s[sfb] {
				t.Errorf("%d Hz: short band %d is empty", sr, sfb)
			}
		}
	}
}

func TestPartitionBandTables(t *testing.T) {
	for i, sr := range sampleRates {
		cfg := DefaultConfig(sr, 2)
		for _, tt := range []struct {
			name     string
			fftSize  int
			mdctSize int
			scalepos []int
		}{
			{"long", BLKSIZE, GRANULE_SIZE, scaleFactorBandIndex[i][:]},
			{"short", BLKSIZE_s, GRANULE_SIZE / 3, scaleFactorBandIndexShort[i][:]},
		} {
			gd := newPartitionBandTable(&cfg, tt.fftSize, tt.mdctSize, tt.scalepos)
			if gd.npart <= 0 || gd.npart > CBANDS {
				t.Fatalf("%d Hz %s: %d partitions", sr, tt.name, gd.npart)
			}
			lines := 0
			for b := 0; b < gd.npart; b++ {
				if gd.numLines[b] <= 0 {
					t.Errorf("%d Hz %s: partition %d is empty", sr, tt.name, b)
				}
				lines += gd.numLines[b]
				if b > 0 && gd.bval[b] <= gd.bval[b-1] {
					t.Errorf("%d Hz %s: bark values not increasing at %d", sr, tt.name, b)
				}
				if lo, hi := gd.s3ind[b][0], gd.s3ind[b][1]; lo > hi || hi >= gd.npart {
					t.Errorf("%d Hz %s: spreading range %d..%d", sr, tt.name, lo, hi)
				}
			}
			if lines > tt.fftSize/2+1 {
				t.Errorf("%d Hz %s: partitions cover %d lines", sr, tt.name, lines)
			}
			for sfb := 0; sfb < gd.nsb; sfb++ {
				if gd.bo[sfb] >= gd.npart || (sfb > 0 && gd.bo[sfb] < gd.bo[sfb-1]) {
					t.Errorf("%d Hz %s: band %d ends in partition %d", sr, tt.name, sfb, gd.bo[sfb])
				}
				if w := gd.boWeight[sfb]; w < 0 || w > 1 {
					t.Errorf("%d Hz %s: band %d edge weight %v", sr, tt.name, sfb, w)
				}
			}
		}
	}
}
