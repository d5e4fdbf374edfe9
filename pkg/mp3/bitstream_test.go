package mp3

import (
	"bytes"
	"testing"
)

func TestPutBits(t *testing.T) {
	type field struct {
		val uint32
		n   uint
	}
	tests := []struct {
		name   string
		fields []field
		want   []byte
		bits   int
	}{
		{"empty", nil, nil, 0},
		{"one byte", []field{{0b101, 3}, {0x1f, 5}}, []byte{0xbf}, 8},
		{"partial byte", []field{{0xabc, 12}}, []byte{0xab, 0xc0}, 12},
		{"sync word", []field{{2047, 11}, {3, 2}, {1, 2}, {1, 1}}, []byte{0xff, 0xfb}, 16},
		{"masks high bits", []field{{0xff, 4}, {0, 4}}, []byte{0xf0}, 8},
		{"wide field", []field{{0xdeadbeef, 32}}, []byte{0xde, 0xad, 0xbe, 0xef}, 32},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var bs bitstream
			for _, f := range tt.fields {
				bs.putBits(f.val, f.n)
			}
			if got := len(bs.data)*8 + bs.cacheBits; got != tt.bits {
				t.Errorf("%d bits written, want %d", got, tt.bits)
			}
			if got := bs.bytes(); !bytes.Equal(got, tt.want) {
				t.Errorf("bytes() = %x, want %x", got, tt.want)
			}
		})
	}
}

func TestAppendSideInfoLength(t *testing.T) {
	tests := []struct {
		sampleRate int
		channels   int
		want       int
	}{
		{44100, 2, 4 + 32},
		{44100, 1, 4 + 17},
		{22050, 2, 4 + 17},
		{22050, 1, 4 + 9},
		{8000, 1, 4 + 9},
	}
	for _, tt := range tests {
		cfg := DefaultConfig(tt.sampleRate, tt.channels)
		cfg.Bitrate = 32
		frames := encodeAll(t, cfg, make([]int16, 2*GRANULE_SIZE*tt.channels))
		for i := range frames {
			if got := len(frames[i].AppendSideInfo(nil)); got != tt.want {
				t.Fatalf("%d Hz, %d channels: side info is %d bytes, want %d", tt.sampleRate, tt.channels, got, tt.want)
			}
		}
	}
}

func TestAppendSideInfoHeader(t *testing.T) {
	cfg := DefaultConfig(44100, 2)
	frames := encodeAll(t, cfg, testSignal(cfg, 4*MAX_SAMPLES_PER_FRAME))
	for i := range frames {
		f := &frames[i]
		hdr := f.AppendSideInfo(nil)
		if hdr[0] != 0xff || hdr[1] != 0xfb {
			t.Fatalf("frame %d: header starts %x %x, want ff fb", i, hdr[0], hdr[1])
		}
		if got := int(hdr[2] >> 4); got != 9 {
			t.Errorf("frame %d: bitrate index %d, want 9", i, got)
		}
		if got := hdr[2]>>1&1 == 1; got != f.Padding {
			t.Errorf("frame %d: padding bit %v, want %v", i, got, f.Padding)
		}
		if got := hdr[3] >> 6; got != uint8(JOINT_STEREO) {
			t.Errorf("frame %d: mode %d, want joint stereo", i, got)
		}
		if got := hdr[3]>>5&1 == 1; got != f.MS {
			t.Errorf("frame %d: ms bit %v, want %v", i, got, f.MS)
		}
		// main_data_begin is the first 9 bits after the header
		if got := int(hdr[4])<<1 | int(hdr[5]>>7); got != f.Side.MainDataBegin {
			t.Errorf("frame %d: main_data_begin %d, want %d", i, got, f.Side.MainDataBegin)
		}
	}
}

func TestAppendSideInfoAppends(t *testing.T) {
	cfg := DefaultConfig(44100, 1)
	frames := encodeAll(t, cfg, testSignal(cfg, 2*MAX_SAMPLES_PER_FRAME))
	prefix := []byte{1, 2, 3}
	out := frames[0].AppendSideInfo(append([]byte(nil), prefix...))
	if !bytes.Equal(out[:3], prefix) {
		t.Fatalf("prefix overwritten: %x", out[:3])
	}
	if !bytes.Equal(out[3:], frames[0].AppendSideInfo(nil)) {
		t.Error("appended side info differs from a fresh encoding")
	}
}
