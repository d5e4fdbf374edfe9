package mp3

// huffCodeTableInfo describes one of the Huffman code tables of Table B.7 of
// the IS. Only code lengths are kept: the quantization loop needs the cost of
// a representation, not its bit pattern. Lengths exclude sign bits and linbits.
type huffCodeTableInfo struct {
	// number of values along each axis of the table
	xLen uint
	yLen uint
	// number of linbits appended to escaped values (tables 16..31)
	linBits uint
	// largest value representable with linBits
	linMax uint
	hLen   []uint8
}

var hLen1 = []uint8{
	1, 3,
	2, 3,
}

var hLen2 = []uint8{
	1, 3, 6,
	3, 3, 5,
	5, 5, 6,
}

var hLen3 = []uint8{
	2, 2, 6,
	3, 2, 5,
	5, 5, 6,
}

var hLen5 = []uint8{
	1, 3, 6, 7,
	3, 3, 6, 7,
	6, 6, 7, 8,
	7, 6, 7, 8,
}

var hLen6 = []uint8{
	3, 3, 5, 7,
	3, 2, 4, 5,
	4, 4, 5, 6,
	6, 5, 6, 7,
}

var hLen7 = []uint8{
	1, 3, 6, 8, 8, 9,
	3, 4, 6, 7, 7, 8,
	6, 5, 7, 8, 8, 9,
	7, 7, 8, 9, 9, 9,
	7, 7, 8, 9, 9, 10,
	8, 8, 9, 10, 10, 10,
}

var hLen8 = []uint8{
	2, 3, 6, 8, 8, 9,
	3, 2, 4, 8, 8, 8,
	6, 4, 6, 8, 8, 9,
	8, 8, 8, 9, 9, 10,
	8, 7, 8, 9, 10, 10,
	9, 8, 9, 9, 11, 11,
}

var hLen9 = []uint8{
	3, 3, 5, 6, 8, 9,
	3, 3, 4, 5, 6, 8,
	4, 4, 5, 6, 7, 8,
	6, 5, 6, 7, 7, 8,
	7, 6, 7, 7, 8, 9,
	8, 7, 8, 8, 9, 9,
}

var hLen10 = []uint8{
	1, 3, 6, 8, 9, 9, 9, 10,
	3, 4, 6, 7, 8, 9, 8, 8,
	6, 6, 7, 8, 9, 10, 9, 9,
	7, 7, 8, 9, 10, 10, 9, 10,
	8, 8, 9, 10, 10, 10, 10, 10,
	9, 9, 10, 10, 11, 11, 10, 11,
	8, 8, 9, 10, 10, 10, 11, 11,
	9, 8, 9, 10, 10, 11, 11, 11,
}

var hLen11 = []uint8{
	2, 3, 5, 7, 8, 9, 8, 9,
	3, 3, 4, 6, 8, 8, 7, 8,
	5, 5, 6, 7, 8, 9, 8, 8,
	7, 6, 7, 9, 8, 10, 8, 9,
	8, 8, 8, 9, 9, 10, 9, 10,
	8, 8, 9, 10, 10, 11, 10, 11,
	8, 7, 7, 8, 9, 10, 10, 10,
	8, 7, 8, 9, 10, 10, 10, 10,
}

var hLen12 = []uint8{
	4, 3, 5, 7, 8, 9, 9, 9,
	3, 3, 4, 5, 7, 7, 8, 8,
	5, 4, 5, 6, 7, 8, 7, 8,
	6, 5, 6, 6, 7, 8, 8, 8,
	7, 6, 7, 7, 8, 8, 8, 9,
	8, 7, 8, 8, 8, 9, 8, 9,
	8, 7, 7, 8, 8, 9, 9, 10,
	9, 8, 8, 9, 9, 9, 9, 10,
}

var hLen13 = []uint8{
	1, 4, 6, 7, 8, 9, 9, 10, 9, 10, 11, 11, 12, 12, 13, 13,
	3, 4, 6, 7, 8, 8, 9, 9, 9, 9, 10, 10, 11, 12, 12, 12,
	6, 6, 7, 8, 9, 9, 10, 10, 9, 10, 10, 11, 11, 12, 13, 13,
	7, 7, 8, 9, 9, 10, 10, 10, 10, 11, 11, 11, 11, 12, 13, 13,
	8, 7, 9, 9, 10, 10, 11, 11, 10, 11, 11, 12, 12, 13, 13, 14,
	9, 8, 9, 10, 10, 10, 11, 11, 11, 11, 12, 11, 13, 13, 14, 14,
	9, 9, 10, 10, 11, 11, 11, 11, 11, 12, 12, 12, 13, 13, 14, 14,
	10, 9, 10, 11, 11, 11, 12, 12, 12, 12, 13, 13, 13, 14, 16, 16,
	9, 8, 9, 10, 10, 11, 11, 12, 12, 12, 12, 13, 13, 14, 15, 15,
	10, 9, 10, 10, 11, 11, 11, 13, 12, 13, 13, 14, 14, 14, 16, 15,
	10, 10, 10, 11, 11, 12, 12, 13, 12, 13, 14, 13, 14, 15, 16, 17,
	11, 10, 10, 11, 12, 12, 12, 12, 13, 13, 13, 14, 15, 15, 15, 16,
	11, 11, 11, 12, 12, 13, 12, 13, 14, 14, 15, 15, 15, 16, 16, 16,
	12, 11, 12, 13, 13, 13, 14, 14, 14, 14, 14, 15, 16, 15, 16, 16,
	13, 12, 12, 13, 13, 13, 15, 14, 14, 17, 15, 15, 15, 17, 16, 16,
	12, 12, 13, 14, 14, 14, 15, 14, 15, 15, 16, 16, 19, 18, 19, 16,
}

var hLen15 = []uint8{
	3, 4, 5, 7, 7, 8, 9, 9, 9, 10, 10, 11, 11, 11, 12, 13,
	4, 3, 5, 6, 7, 7, 8, 8, 8, 9, 9, 10, 10, 10, 11, 11,
	5, 5, 5, 6, 7, 7, 8, 8, 8, 9, 9, 10, 10, 11, 11, 11,
	6, 6, 6, 7, 7, 8, 8, 9, 9, 9, 10, 10, 10, 11, 11, 11,
	7, 6, 7, 7, 8, 8, 9, 9, 9, 9, 10, 10, 10, 11, 11, 11,
	8, 7, 7, 8, 8, 8, 9, 9, 9, 9, 10, 10, 11, 11, 11, 12,
	9, 7, 8, 8, 8, 9, 9, 9, 9, 10, 10, 10, 11, 11, 12, 12,
	9, 8, 8, 9, 9, 9, 9, 10, 10, 10, 10, 10, 11, 11, 11, 12,
	9, 8, 8, 9, 9, 9, 9, 10, 10, 10, 10, 11, 11, 12, 12, 12,
	9, 8, 9, 9, 9, 9, 10, 10, 10, 11, 11, 11, 11, 12, 12, 12,
	10, 9, 9, 9, 10, 10, 10, 10, 10, 11, 11, 11, 11, 12, 13, 12,
	10, 9, 9, 9, 10, 10, 10, 10, 11, 11, 11, 11, 12, 12, 12, 13,
	11, 10, 9, 10, 10, 10, 11, 11, 11, 11, 11, 11, 12, 12, 13, 13,
	11, 10, 10, 10, 10, 11, 11, 11, 11, 12, 12, 12, 12, 12, 13, 13,
	12, 11, 11, 11, 11, 11, 11, 11, 12, 12, 12, 12, 13, 13, 12, 13,
	12, 11, 11, 11, 11, 11, 11, 12, 12, 12, 12, 12, 13, 13, 13, 13,
}

var hLen16 = []uint8{
	1, 4, 6, 8, 9, 9, 10, 10, 11, 11, 11, 12, 12, 12, 13, 9,
	3, 4, 6, 7, 8, 9, 9, 9, 10, 10, 10, 11, 12, 11, 12, 8,
	6, 6, 7, 8, 9, 9, 10, 10, 11, 10, 11, 11, 11, 12, 12, 9,
	8, 7, 8, 9, 9, 10, 10, 10, 11, 11, 12, 12, 12, 13, 13, 10,
	9, 8, 9, 9, 10, 10, 11, 11, 11, 12, 12, 12, 13, 13, 13, 9,
	9, 8, 9, 9, 10, 11, 11, 12, 11, 12, 12, 13, 13, 13, 14, 10,
	10, 9, 9, 10, 11, 11, 11, 11, 12, 12, 12, 12, 13, 13, 14, 10,
	10, 9, 10, 10, 11, 11, 11, 12, 12, 13, 13, 13, 13, 15, 15, 10,
	10, 10, 10, 11, 11, 11, 12, 12, 13, 13, 13, 13, 14, 14, 14, 10,
	11, 10, 10, 11, 11, 12, 12, 13, 13, 13, 13, 14, 13, 14, 13, 11,
	11, 11, 10, 11, 12, 12, 12, 12, 13, 14, 14, 14, 15, 15, 14, 10,
	12, 11, 11, 11, 12, 12, 13, 14, 14, 14, 14, 14, 14, 13, 14, 11,
	12, 12, 12, 12, 12, 13, 13, 13, 13, 15, 14, 14, 14, 14, 16, 11,
	14, 12, 12, 12, 13, 13, 14, 14, 14, 16, 15, 15, 15, 17, 15, 11,
	13, 13, 11, 12, 14, 14, 13, 14, 14, 15, 16, 15, 17, 15, 14, 11,
	9, 8, 8, 9, 9, 10, 10, 10, 11, 11, 11, 11, 11, 11, 11, 8,
}

var hLen24 = []uint8{
	4, 4, 6, 7, 8, 9, 9, 10, 10, 11, 11, 11, 11, 11, 12, 9,
	4, 4, 5, 6, 7, 8, 8, 9, 9, 9, 10, 10, 10, 10, 10, 8,
	6, 5, 6, 7, 7, 8, 8, 9, 9, 9, 9, 10, 10, 10, 11, 7,
	7, 6, 7, 7, 8, 8, 8, 9, 9, 9, 9, 10, 10, 10, 10, 7,
	8, 7, 7, 8, 8, 8, 8, 9, 9, 9, 10, 10, 10, 10, 11, 7,
	9, 7, 8, 8, 8, 8, 9, 9, 9, 9, 10, 10, 10, 10, 10, 7,
	9, 8, 8, 8, 8, 9, 9, 9, 9, 10, 10, 10, 10, 10, 11, 7,
	10, 8, 8, 8, 9, 9, 9, 9, 10, 10, 10, 10, 10, 11, 11, 8,
	10, 9, 9, 9, 9, 9, 9, 9, 9, 10, 10, 10, 10, 11, 11, 8,
	10, 9, 9, 9, 9, 9, 9, 10, 10, 10, 10, 10, 11, 11, 11, 8,
	11, 9, 9, 9, 9, 10, 10, 10, 10, 10, 10, 11, 11, 11, 11, 8,
	11, 10, 9, 9, 9, 10, 10, 10, 10, 10, 10, 11, 11, 11, 11, 8,
	11, 10, 10, 10, 10, 10, 10, 10, 10, 10, 11, 11, 11, 11, 11, 8,
	11, 10, 10, 10, 10, 10, 10, 10, 11, 11, 11, 11, 11, 11, 11, 8,
	12, 10, 10, 10, 10, 10, 10, 11, 11, 11, 11, 11, 11, 11, 11, 8,
	8, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 8, 8, 8, 8, 4,
}

var hLen32 = []uint8{
	1, 4, 4, 5, 4, 6, 5, 6, 4, 5, 5, 6, 5, 6, 6, 6,
}

var hLen33 = []uint8{
	4, 4, 4, 4, 4, 4, 4, 4, 4, 4, 4, 4, 4, 4, 4, 4,
}

// huffmanCodeTable is indexed by table_select. Tables 4 and 14 are not
// defined by the IS; 32 and 33 are the count1 quadruple tables A and B.
var huffmanCodeTable = [34]huffCodeTableInfo{
	{0, 0, 0, 0, nil},
	{2, 2, 0, 0, hLen1},
	{3, 3, 0, 0, hLen2},
	{3, 3, 0, 0, hLen3},
	{0, 0, 0, 0, nil},
	{4, 4, 0, 0, hLen5},
	{4, 4, 0, 0, hLen6},
	{6, 6, 0, 0, hLen7},
	{6, 6, 0, 0, hLen8},
	{6, 6, 0, 0, hLen9},
	{8, 8, 0, 0, hLen10},
	{8, 8, 0, 0, hLen11},
	{8, 8, 0, 0, hLen12},
	{16, 16, 0, 0, hLen13},
	{0, 0, 0, 0, nil},
	{16, 16, 0, 0, hLen15},
	{16, 16, 1, 1, hLen16},
	{16, 16, 2, 3, hLen16},
	{16, 16, 3, 7, hLen16},
	{16, 16, 4, 15, hLen16},
	{16, 16, 6, 63, hLen16},
	{16, 16, 8, 255, hLen16},
	{16, 16, 10, 1023, hLen16},
	{16, 16, 13, 8191, hLen16},
	{16, 16, 4, 15, hLen24},
	{16, 16, 5, 31, hLen24},
	{16, 16, 6, 63, hLen24},
	{16, 16, 7, 127, hLen24},
	{16, 16, 8, 255, hLen24},
	{16, 16, 9, 511, hLen24},
	{16, 16, 11, 2047, hLen24},
	{16, 16, 13, 8191, hLen24},
	{1, 16, 0, 0, hLen32},
	{1, 16, 0, 0, hLen33},
}
