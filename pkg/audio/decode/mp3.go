// ABOUTME: MP3 audio decoder
// ABOUTME: Decodes self-contained MP3 payloads to int16 samples
package decode

import (
	"bytes"
	"fmt"
	"io"

	mp3 "github.com/hajimehoshi/go-mp3"

	"github.com/Converse-Protocol/converse-go/pkg/audio"
)

// MP3Decoder decodes MP3 payloads. Each payload must be a
// self-contained MP3 stream; go-mp3 keeps no state between packets.
type MP3Decoder struct {
	format audio.Format
}

// NewMP3 creates a new MP3 decoder.
func NewMP3(format audio.Format) (Decoder, error) {
	if format.Codec != "mp3" {
		return nil, fmt.Errorf("invalid codec for MP3 decoder: %s", format.Codec)
	}
	return &MP3Decoder{format: format}, nil
}

// Decode converts one MP3 payload to int16 samples.
func (d *MP3Decoder) Decode(data []byte) ([]int16, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create mp3 decoder: %w", err)
	}

	pcm, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("mp3 decode failed: %w", err)
	}

	return audio.BytesToSamples(pcm), nil
}

// Close releases decoder resources.
func (d *MP3Decoder) Close() error {
	return nil
}
