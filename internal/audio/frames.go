package audio

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// SplitFrames decodes a synthesized WAV clip and re-encodes it as a series
// of fixed-duration WAV frames. Frames are the unit of outbound streaming
// and therefore the granularity at which cancellation takes effect.
func SplitFrames(wavData []byte, frameDur time.Duration) ([][]byte, error) {
	if frameDur <= 0 {
		frameDur = 100 * time.Millisecond
	}

	dec := wav.NewDecoder(bytes.NewReader(wavData))
	dec.ReadInfo()
	if !dec.IsValidFile() {
		return nil, errors.New("not a valid wav clip")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode wav: %w", err)
	}

	rate := buf.Format.SampleRate
	samples := bufferSamples(buf, dec.BitDepth)

	perFrame := durationSamples(frameDur, rate)
	if perFrame <= 0 {
		perFrame = len(samples)
	}

	var frames [][]byte
	for start := 0; start < len(samples); start += perFrame {
		end := min(start+perFrame, len(samples))
		frames = append(frames, EncodeWAV(samples[start:end], rate))
	}
	return frames, nil
}

// bufferSamples converts a decoded PCM buffer to normalized float32.
func bufferSamples(buf *goaudio.IntBuffer, bitDepth uint16) []float32 {
	scale := float32(int(1) << (bitDepth - 1))
	samples := make([]float32, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = float32(v) / scale
	}
	return samples
}
