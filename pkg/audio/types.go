// ABOUTME: Audio type definitions
// ABOUTME: Defines stream formats and timestamped PCM chunks
package audio

import (
	"encoding/binary"
	"time"
)

// Format describes an audio stream format.
type Format struct {
	Codec      string // "pcm", "opus", "mp3"
	SampleRate int
	Channels   int
}

// Chunk is one decoded unit of playback audio. Data is 16-bit
// little-endian PCM. SentAt is the sender's wire timestamp and
// ReceivedAt the local arrival time; the pair feeds jitter tracking.
type Chunk struct {
	Data       []byte
	SampleRate int
	Channels   int
	SentAt     time.Time
	ReceivedAt time.Time
}

// Duration returns the playback duration of the chunk.
func (c Chunk) Duration() time.Duration {
	if c.SampleRate == 0 || c.Channels == 0 {
		return 0
	}
	samples := len(c.Data) / 2 / c.Channels
	return time.Duration(samples) * time.Second / time.Duration(c.SampleRate)
}

// SamplesToBytes converts int16 samples to little-endian PCM bytes.
func SamplesToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// BytesToSamples converts little-endian PCM bytes to int16 samples.
func BytesToSamples(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return samples
}
