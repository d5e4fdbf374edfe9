//go:build js && wasm

package main

import (
	"bytes"
	"syscall/js"

	"github.com/braheezy/mp3enc/pkg/mp3"
	"github.com/go-audio/wav"
)

// analyzeWAV runs a WAV file through the encoder and hands JavaScript the
// per frame bitrates and the frame headers with their side information.
func analyzeWAV(this js.Value, args []js.Value) interface{} {
	// Get WAV data from JavaScript
	array := args[0]
	wavData := make([]byte, array.Length())
	js.CopyBytesToGo(wavData, array)

	wavDecoder := wav.NewDecoder(bytes.NewReader(wavData))
	wavBuffer, err := wavDecoder.FullPCMBuffer()
	if err != nil {
		return js.ValueOf(map[string]interface{}{
			"error": err.Error(),
		})
	}

	decodedData := make([]int16, len(wavBuffer.Data))
	for i, val := range wavBuffer.Data {
		decodedData[i] = int16(val)
	}

	cfg := mp3.DefaultConfig(wavBuffer.Format.SampleRate, wavBuffer.Format.NumChannels)
	if len(args) > 1 && args[1].Type() == js.TypeString {
		switch args[1].String() {
		case "abr":
			cfg.VBR = mp3.VBR_ABR
		case "vbr":
			cfg.VBR = mp3.VBR_MTRH
		}
	}
	encoder, err := mp3.NewEncoder(cfg)
	if err != nil {
		return js.ValueOf(map[string]interface{}{
			"error": err.Error(),
		})
	}

	frames, err := encoder.Encode(decodedData)
	if err == nil {
		var rest []mp3.Frame
		rest, err = encoder.Flush()
		frames = append(frames, rest...)
	}
	if err != nil {
		return js.ValueOf(map[string]interface{}{
			"error": err.Error(),
		})
	}

	var sideInfo []byte
	bitrates := make([]interface{}, len(frames))
	for i := range frames {
		bitrates[i] = frames[i].Bitrate
		sideInfo = frames[i].AppendSideInfo(sideInfo)
	}
	uint8Array := js.Global().Get("Uint8Array").New(len(sideInfo))
	js.CopyBytesToJS(uint8Array, sideInfo)

	return js.ValueOf(map[string]interface{}{
		"bitrates": bitrates,
		"sideInfo": uint8Array,
	})
}

func main() {
	c := make(chan struct{})
	js.Global().Set("analyzeMP3", js.FuncOf(analyzeWAV))
	<-c
}
