package mp3

import (
	"math"
	"testing"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(c *Config)
		wantErr bool
	}{
		{"default", func(c *Config) {}, false},
		{"sample rate", func(c *Config) { c.SampleRate = 44000 }, true},
		{"three channels", func(c *Config) { c.Channels = 3 }, true},
		{"mono joint stereo", func(c *Config) { c.Channels = 1 }, true},
		{"mono", func(c *Config) { c.Channels, c.Mode = 1, MONO }, false},
		{"stereo input mono mode", func(c *Config) { c.Mode = MONO }, true},
		{"unknown vbr mode", func(c *Config) { c.VBR = VBR_MTRH + 1 }, true},
		{"negative vbr mode", func(c *Config) { c.VBR = -1 }, true},
		{"quality high", func(c *Config) { c.Quality = 10 }, true},
		{"quality low", func(c *Config) { c.Quality = -1 }, true},
		{"quant comp", func(c *Config) { c.QuantComp = 10 }, true},
		{"noise shaping amp", func(c *Config) { c.NoiseShapingAmp = AMP_REFINE + 1 }, true},
		{"vbr quality", func(c *Config) { c.VBR, c.VBRQuality = VBR_MTRH, 10 }, true},
		{"vbr quality max", func(c *Config) { c.VBR, c.VBRQuality = VBR_MTRH, 9.999 }, false},
		{"cbr bitrate", func(c *Config) { c.Bitrate = 100 }, true},
		{"cbr mpeg2 bitrate", func(c *Config) { c.SampleRate, c.Bitrate = 22050, 144 }, false},
		{"cbr mpeg1 only bitrate", func(c *Config) { c.SampleRate, c.Bitrate = 44100, 8 }, true},
		{"abr any average", func(c *Config) { c.VBR, c.Bitrate = VBR_ABR, 100 }, false},
		{"abr average too high", func(c *Config) { c.VBR, c.Bitrate = VBR_ABR, 330 }, true},
		{"vbr ignores bitrate", func(c *Config) { c.VBR, c.Bitrate = VBR_RH, 100 }, false},
		{"min bitrate", func(c *Config) { c.VBR, c.MinBitrate = VBR_RH, 96 }, false},
		{"min bitrate not in table", func(c *Config) { c.VBR, c.MinBitrate = VBR_RH, 97 }, true},
		{"max bitrate", func(c *Config) { c.VBR, c.MaxBitrate = VBR_MTRH, 192 }, false},
		{"min above max", func(c *Config) { c.VBR, c.MinBitrate, c.MaxBitrate = VBR_RH, 192, 128 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig(44100, 2)
			tt.modify(&c)
			if err := c.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDefaultConfigMono(t *testing.T) {
	c := DefaultConfig(48000, 1)
	if c.Mode != MONO {
		t.Errorf("mode %v, want mono", c.Mode)
	}
	if err := c.Validate(); err != nil {
		t.Error(err)
	}
}

func TestBitrateBounds(t *testing.T) {
	tests := []struct {
		min, max int
		ver      mpegVersion
		lo, hi   int
	}{
		{0, 0, MPEG_I, 1, 14},
		{64, 0, MPEG_I, 5, 14},
		{0, 160, MPEG_I, 1, 10},
		{64, 0, MPEG_II, 8, 14},
		{8, 64, MPEG_25, 1, 8},
	}
	for _, tt := range tests {
		c := Config{MinBitrate: tt.min, MaxBitrate: tt.max}
		lo, hi, err := c.bitrateBounds(tt.ver)
		if err != nil || lo != tt.lo || hi != tt.hi {
			t.Errorf("bounds %d..%d: %d..%d, %v; want %d..%d", tt.min, tt.max, lo, hi, err, tt.lo, tt.hi)
		}
	}
}

func TestQualityPolicy(t *testing.T) {
	for q := 0; q <= 9; q++ {
		c := DefaultConfig(44100, 2)
		c.Quality = q
		p := newQualityPolicy(&c)
		if (q < 7) != (p.noiseShaping > 0) {
			t.Errorf("quality %d: noise shaping %d", q, p.noiseShaping)
		}
		if (q >= 7) != (p.fullOuterLoop < 0) {
			t.Errorf("quality %d: full outer loop %d", q, p.fullOuterLoop)
		}
		if p.useTemporalMasking != (q < 7) {
			t.Errorf("quality %d: temporal masking %v", q, p.useTemporalMasking)
		}
	}
	c := DefaultConfig(44100, 2)
	c.NoiseShapingAmp = AMP_ALL_OVER
	if p := newQualityPolicy(&c); p.noiseShapingAmp != AMP_ALL_OVER {
		t.Errorf("override ignored: %d", p.noiseShapingAmp)
	}
}

func TestMaskingLower(t *testing.T) {
	c := DefaultConfig(44100, 2)
	if got := c.maskingLower(); got != 1 {
		t.Errorf("cbr: %v, want 1", got)
	}
	c.VBR = VBR_MTRH
	c.VBRQuality = 4
	if got := c.maskingLower(); math.Abs(got-1) > 1e-12 {
		t.Errorf("V4: %v, want 1", got)
	}
	c.VBRQuality = 0
	low := c.maskingLower()
	c.VBRQuality = 9
	if high := c.maskingLower(); low >= high {
		t.Errorf("V0 lowers masking by %v, V9 by %v", low, high)
	}
	c.MaskingLowerDB = 10
	if got := c.maskingLower(); math.Abs(got-10) > 1e-9 {
		t.Errorf("explicit 10 dB: %v", got)
	}
}
