package audio

import "encoding/binary"

// EncodeWAV wraps float32 samples as a 16-bit mono PCM WAV byte slice.
func EncodeWAV(samples []float32, sampleRate int) []byte {
	pcm := EncodePCM16(samples)
	buf := make([]byte, 44+len(pcm))
	writeWAVHeader(buf, len(pcm), sampleRate)
	copy(buf[44:], pcm)
	return buf
}

// SilenceWAV returns a WAV clip of silence, used as an inter-sentence pause
// in outbound synthesis.
func SilenceWAV(dur, sampleRate int) []byte {
	return EncodeWAV(make([]float32, sampleRate*dur/1000), sampleRate)
}

func writeWAVHeader(buf []byte, dataLen, sampleRate int) {
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataLen))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16) // PCM chunk size
	binary.LittleEndian.PutUint16(buf[20:22], 1)  // PCM format
	binary.LittleEndian.PutUint16(buf[22:24], 1)  // mono
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(sampleRate*2)) // byte rate
	binary.LittleEndian.PutUint16(buf[32:34], 2)                    // block align
	binary.LittleEndian.PutUint16(buf[34:36], 16)                   // bits per sample
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataLen))
}
