package mp3

import "testing"

const (
	// a padded 128 kbit/s MPEG-1 stereo frame at 44.1 kHz
	testFrameBits    = 418 * 8
	testSideInfoBits = 8 * (4 + 32)
)

func TestReservoirFrameSize(t *testing.T) {
	r := newReservoir(2, false)
	full, mean, maxSize := r.frameSize(testFrameBits, testSideInfoBits, 2)
	if mean != (testFrameBits-testSideInfoBits)/2 {
		t.Errorf("mean bits %d", mean)
	}
	if maxSize != 8*511 {
		t.Errorf("reservoir capacity %d, want %d", maxSize, 8*511)
	}
	if full != 2*mean {
		t.Errorf("an empty reservoir lends %d bits", full-2*mean)
	}

	r.size = 1000
	if full, _, _ = r.frameSize(testFrameBits, testSideInfoBits, 2); full != 2*mean+1000 {
		t.Errorf("full frame %d, want %d", full, 2*mean+1000)
	}

	r.disabled = true
	if full, _, maxSize = r.frameSize(testFrameBits, testSideInfoBits, 2); maxSize != 0 || full != 2*mean {
		t.Errorf("disabled reservoir: capacity %d, full frame %d", maxSize, full)
	}

	// large frames leave less room in the frame buffer
	r = newReservoir(2, false)
	if _, _, maxSize = r.frameSize(8*1440, testSideInfoBits, 2); maxSize != 0 {
		t.Errorf("capacity next to a full frame buffer: %d", maxSize)
	}
	r = newReservoir(1, false)
	if _, _, maxSize = r.frameSize(testFrameBits/2, testSideInfoBits/2, 1); maxSize != 8*255 {
		t.Errorf("MPEG-2 capacity %d, want %d", maxSize, 8*255)
	}
}

func TestReservoirFrameEnd(t *testing.T) {
	tests := []struct {
		name     string
		disabled bool
		size     int
		used     [2][2]int
		// committed part2_3_length after stuffing
		want      [2][2]int
		wantDrain int
		wantSize  int
	}{
		{
			name:     "fits",
			used:     [2][2]int{{100, 100}, {100, 100}},
			want:     [2][2]int{{100, 100}, {100, 100}},
			wantSize: 3056 - 400,
		},
		{
			name:     "byte aligned",
			used:     [2][2]int{{3, 0}, {0, 0}},
			want:     [2][2]int{{8, 0}, {0, 0}},
			wantSize: 3048,
		},
		{
			name:     "overflow stuffed into the first granule",
			size:     3056,
			want:     [2][2]int{{2024, 0}, {0, 0}},
			wantSize: 8 * 511,
		},
		{
			name:      "disabled drains what granules cannot hold",
			disabled:  true,
			used:      [2][2]int{{4000, 4000}, {4000, 4000}},
			want:      [2][2]int{{4095, 4095}, {4095, 4095}},
			wantDrain: 3056 - 4*95,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newReservoir(2, tt.disabled)
			r.size = tt.size
			var side SideInfo
			_, mean := r.frameBegin(testFrameBits, testSideInfoBits, 2, &side)
			if side.MainDataBegin != tt.size/8 {
				t.Errorf("main_data_begin %d, want %d", side.MainDataBegin, tt.size/8)
			}
			for gr := 0; gr < 2; gr++ {
				for ch := 0; ch < 2; ch++ {
					gi := &side.Granules[gr][ch]
					gi.Part2_3Length = tt.used[gr][ch]
					if !tt.disabled {
						r.adjust(gi)
					}
				}
			}
			if tt.disabled {
				r.size = 0
			}
			r.frameEnd(mean, 2, 2, &side)
			for gr := 0; gr < 2; gr++ {
				for ch := 0; ch < 2; ch++ {
					if got := side.Granules[gr][ch].Part2_3Length; got != tt.want[gr][ch] {
						t.Errorf("granule %d/%d: part2_3_length %d, want %d", gr, ch, got, tt.want[gr][ch])
					}
				}
			}
			if side.ResvDrainPost != tt.wantDrain {
				t.Errorf("drained %d bits, want %d", side.ResvDrainPost, tt.wantDrain)
			}
			if r.size != tt.wantSize {
				t.Errorf("reservoir holds %d bits, want %d", r.size, tt.wantSize)
			}
		})
	}
}

func TestReservoirMaxBits(t *testing.T) {
	c := DefaultConfig(44100, 2)
	policy := newQualityPolicy(&c)
	r := newReservoir(2, false)
	var side SideInfo
	_, mean := r.frameBegin(testFrameBits, testSideInfoBits, 2, &side)

	targ, extra := r.maxBits(mean, false, &policy)
	if targ != mean-mean/10 || extra != 0 {
		t.Errorf("empty reservoir: target %d extra %d, want %d and 0", targ, extra, mean-mean/10)
	}

	// a nearly full reservoir is spent
	r.size = r.maxSize
	targ, extra = r.maxBits(mean, false, &policy)
	if targ <= mean {
		t.Errorf("full reservoir: target %d not above mean %d", targ, mean)
	}
	if extra < 0 || extra > r.maxSize*6/10 {
		t.Errorf("full reservoir: extra %d", extra)
	}
	if policy.substepShaping&0x80 == 0 {
		t.Error("spending the reservoir was not recorded")
	}
}
