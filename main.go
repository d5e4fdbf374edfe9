package main

import (
	"bytes"
	"encoding/binary"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/braheezy/mp3enc/pkg/mp3"
	"github.com/go-audio/wav"
	gomp3 "github.com/hajimehoshi/go-mp3"
)

func main() {
	var (
		bitrate    = flag.Int("b", 128, "bitrate in kbit/s: the CBR rate or the ABR average")
		vbrMode    = flag.String("vbr", "off", "bitrate mode: off, abr, rh or mtrh")
		vbrQuality = flag.Float64("V", 4, "VBR quality, 0 (best) .. 9.999")
		quality    = flag.Int("q", 3, "search quality, 0 (best) .. 9 (fastest)")
		stereo     = flag.String("m", "j", "channel mode: s stereo, j joint stereo, m mono")
		minBitrate = flag.Int("min", 0, "smallest VBR/ABR frame bitrate in kbit/s")
		maxBitrate = flag.Int("max", 0, "largest VBR/ABR frame bitrate in kbit/s")
		noResv     = flag.Bool("noreservoir", false, "do not borrow bits from earlier frames")
		sideInfo   = flag.String("sideinfo", "", "write every frame header and side information to this file")
		verbose    = flag.Bool("v", false, "log every frame")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] <input.wav|input.mp3>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}
	inFile := flag.Arg(0)

	pcm, sampleRate, channels, err := readInput(inFile)
	if err != nil {
		log.Fatalf("Error reading \"%s\": %v", inFile, err)
	}

	cfg := mp3.DefaultConfig(sampleRate, channels)
	cfg.Bitrate = *bitrate
	cfg.Quality = *quality
	cfg.VBRQuality = *vbrQuality
	cfg.MinBitrate = *minBitrate
	cfg.MaxBitrate = *maxBitrate
	cfg.DisableReservoir = *noResv
	if cfg.VBR, err = parseVBRMode(*vbrMode); err != nil {
		log.Fatal(err)
	}
	if channels == 2 {
		switch *stereo {
		case "s":
			cfg.Mode = mp3.STEREO
		case "j":
			cfg.Mode = mp3.JOINT_STEREO
		case "m":
			pcm = downmix(pcm)
			channels = 1
			cfg.Channels = 1
			cfg.Mode = mp3.MONO
		default:
			log.Fatalf("Unknown channel mode %q", *stereo)
		}
	}

	enc, err := mp3.NewEncoder(cfg)
	if err != nil {
		log.Fatalf("Error creating encoder: %v", err)
	}

	var out io.Writer
	if *sideInfo != "" {
		f, err := os.Create(*sideInfo)
		if err != nil {
			log.Fatalf("Could not create \"%s\": %v", *sideInfo, err)
		}
		defer f.Close()
		out = f
	}

	var rep report
	emit := func(frames []mp3.Frame) {
		for i := range frames {
			f := &frames[i]
			rep.add(f)
			if *verbose {
				log.Print(describe(rep.frames-1, f))
			}
			if out != nil {
				if _, err := out.Write(f.AppendSideInfo(nil)); err != nil {
					log.Fatalf("Error writing side information: %v", err)
				}
			}
		}
	}

	// feed the encoder one second at a time
	step := sampleRate * channels
	for i := 0; i < len(pcm); i += step {
		frames, err := enc.Encode(pcm[i:min(i+step, len(pcm))])
		if err != nil {
			log.Fatalf("Error encoding: %v", err)
		}
		emit(frames)
	}
	frames, err := enc.Flush()
	if err != nil {
		log.Fatalf("Error flushing: %v", err)
	}
	emit(frames)

	rep.log(enc.Config(), enc.SamplesPerFrame())
}

func parseVBRMode(s string) (mp3.VBRMode, error) {
	if strings.EqualFold(s, "off") {
		return mp3.VBR_OFF, nil
	}
	for _, m := range []mp3.VBRMode{mp3.VBR_OFF, mp3.VBR_ABR, mp3.VBR_RH, mp3.VBR_MTRH} {
		if strings.EqualFold(s, m.String()) || strings.EqualFold("vbr-"+s, m.String()) {
			return m, nil
		}
	}
	return mp3.VBR_OFF, fmt.Errorf("unknown bitrate mode %q", s)
}

// readInput decodes a WAV or MP3 file into interleaved 16 bit samples.
func readInput(name string) (pcm []int16, sampleRate, channels int, err error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, 0, 0, err
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".wav":
		return readWAV(data)
	case ".mp3":
		return readMP3(data)
	}
	return nil, 0, 0, fmt.Errorf("input must be a WAV or MP3 file")
}

func readWAV(data []byte) ([]int16, int, int, error) {
	wavDecoder := wav.NewDecoder(bytes.NewReader(data))
	wavBuffer, err := wavDecoder.FullPCMBuffer()
	if err != nil {
		return nil, 0, 0, fmt.Errorf("decoding WAV: %w", err)
	}
	depth := wavBuffer.SourceBitDepth
	pcm := make([]int16, len(wavBuffer.Data))
	for i, val := range wavBuffer.Data {
		switch {
		case depth == 8:
			pcm[i] = int16((val - 128) << 8)
		case depth > 16:
			pcm[i] = int16(val >> (depth - 16))
		default:
			pcm[i] = int16(val)
		}
	}
	return pcm, wavBuffer.Format.SampleRate, wavBuffer.Format.NumChannels, nil
}

// readMP3 decodes an MP3 file; the decoder always delivers stereo.
func readMP3(data []byte) ([]int16, int, int, error) {
	d, err := gomp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("decoding MP3: %w", err)
	}
	raw, err := io.ReadAll(d)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("decoding MP3: %w", err)
	}
	pcm := make([]int16, len(raw)/2)
	for i := range pcm {
		pcm[i] = int16(binary.LittleEndian.Uint16(raw[2*i:]))
	}
	return pcm, d.SampleRate(), 2, nil
}

func downmix(pcm []int16) []int16 {
	mono := make([]int16, len(pcm)/2)
	for i := range mono {
		mono[i] = int16((int(pcm[2*i]) + int(pcm[2*i+1])) / 2)
	}
	return mono
}
