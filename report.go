package main

import (
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/braheezy/mp3enc/pkg/mp3"
)

// report accumulates what the allocation loops decided across a stream.
type report struct {
	frames    int
	bits      int
	msFrames  int
	padded    int
	bitrates  map[int]int
	blocks    [4]int
	overBands int
	mainBits  int
}

func (r *report) add(f *mp3.Frame) {
	if r.bitrates == nil {
		r.bitrates = make(map[int]int)
	}
	r.frames++
	r.bits += f.FrameBits
	r.bitrates[f.Bitrate]++
	r.mainBits += f.TotalMainDataBits
	if f.MS {
		r.msFrames++
	}
	if f.Padding {
		r.padded++
	}
	for gr := 0; gr < f.Granules; gr++ {
		for ch := 0; ch < f.Channels; ch++ {
			r.blocks[f.Side.Granules[gr][ch].BlockType]++
			r.overBands += f.OverCount[gr][ch]
		}
	}
}

func (r *report) log(cfg mp3.Config, samplesPerFrame int) {
	if r.frames == 0 {
		log.Println("No frames encoded")
		return
	}
	seconds := float64(r.frames*samplesPerFrame) / float64(cfg.SampleRate)
	log.Printf("Encoded %d frames (%.2fs) at %d Hz, %d channel(s), %s, %v",
		r.frames, seconds, cfg.SampleRate, cfg.Channels, cfg.Mode, cfg.VBR)
	log.Printf("Average bitrate %.1f kbit/s, main data %.1f%% of the stream",
		float64(r.bits)/seconds/1000, 100*float64(r.mainBits)/float64(r.bits))
	log.Printf("Mid/side frames: %d, padded frames: %d", r.msFrames, r.padded)
	log.Printf("Block types: %d long, %d start, %d short, %d stop",
		r.blocks[mp3.NORM_TYPE], r.blocks[mp3.START_TYPE], r.blocks[mp3.SHORT_TYPE], r.blocks[mp3.STOP_TYPE])
	log.Printf("Bands above the masking threshold: %d", r.overBands)

	rates := make([]int, 0, len(r.bitrates))
	for br := range r.bitrates {
		rates = append(rates, br)
	}
	sort.Ints(rates)
	for _, br := range rates {
		n := r.bitrates[br]
		bar := strings.Repeat("*", max(1, 50*n/r.frames))
		log.Printf("%4d kbit/s %6d %s", br, n, bar)
	}
}

func describe(i int, f *mp3.Frame) string {
	var b strings.Builder
	fmt.Fprintf(&b, "frame %d: %d kbit/s", i, f.Bitrate)
	if f.MS {
		b.WriteString(" ms")
	}
	fmt.Fprintf(&b, " main_data_begin %d", f.Side.MainDataBegin)
	for gr := 0; gr < f.Granules; gr++ {
		for ch := 0; ch < f.Channels; ch++ {
			gi := &f.Side.Granules[gr][ch]
			fmt.Fprintf(&b, " [%d/%d %v gain %d bits %d over %d]",
				gr, ch, gi.BlockType, gi.GlobalGain, gi.Part2_3Length, f.OverCount[gr][ch])
		}
	}
	return b.String()
}
