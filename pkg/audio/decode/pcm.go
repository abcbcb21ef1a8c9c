// ABOUTME: PCM passthrough decoder
// ABOUTME: Converts raw little-endian bytes to int16 samples
package decode

import (
	"fmt"

	"github.com/Converse-Protocol/converse-go/pkg/audio"
)

// PCMDecoder passes raw 16-bit little-endian PCM through unchanged.
type PCMDecoder struct {
	format audio.Format
}

// NewPCM creates a PCM passthrough decoder.
func NewPCM(format audio.Format) (Decoder, error) {
	if format.Codec != "pcm" {
		return nil, fmt.Errorf("invalid codec for PCM decoder: %s", format.Codec)
	}
	return &PCMDecoder{format: format}, nil
}

// Decode converts little-endian bytes to int16 samples.
func (d *PCMDecoder) Decode(data []byte) ([]int16, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("pcm payload has odd length %d", len(data))
	}
	return audio.BytesToSamples(data), nil
}

// Close releases decoder resources.
func (d *PCMDecoder) Close() error {
	return nil
}
