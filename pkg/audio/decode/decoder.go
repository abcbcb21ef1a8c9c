// ABOUTME: Decoder interface and codec factory
// ABOUTME: Common interface for all audio decoders
package decode

import (
	"fmt"

	"github.com/Converse-Protocol/converse-go/pkg/audio"
)

// Decoder decodes one wire payload of encoded audio to PCM int16 samples.
type Decoder interface {
	// Decode converts encoded audio data to PCM samples
	Decode(data []byte) ([]int16, error)

	// Close releases decoder resources
	Close() error
}

// New returns a decoder for the format's codec.
func New(format audio.Format) (Decoder, error) {
	switch format.Codec {
	case "pcm":
		return NewPCM(format)
	case "opus":
		return NewOpus(format)
	case "mp3":
		return NewMP3(format)
	default:
		return nil, fmt.Errorf("unsupported codec: %s", format.Codec)
	}
}
