// ABOUTME: Binary wire codec for high-frequency frames
// ABOUTME: Frame layout is [1 byte type][4 bytes BE millisecond timestamp][payload]
package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Binary frame type codes. Audio payloads travel without a length
// prefix: they consume the remainder of the frame.
const (
	frameTypeJSON        byte = 0x00 // [4B BE json length][utf-8 json]
	frameTypeAudioInput  byte = 0x01 // raw PCM, outbound
	frameTypeAudioChunk  byte = 0x02 // raw PCM, inbound
	frameTypeBlendShapes byte = 0x03 // 52 x 4-byte BE float32
	frameTypeSyncFrame   byte = 0x04 // [4B BE audio length][audio][52 x 4B weights]
)

// frameHeaderSize is one type byte plus a four-byte timestamp.
const frameHeaderSize = 1 + 4

const weightsSize = WeightCount * 4

// BinaryCodec is the primary wire format: binary frames for the
// high-frequency audio and animation types, JSON text frames for the
// control vocabulary.
type BinaryCodec struct{}

// Encode serializes a message to its wire form.
func (BinaryCodec) Encode(msg Message) ([]byte, bool, error) {
	switch m := msg.(type) {
	case AudioInput:
		return appendHeader(frameTypeAudioInput, m.Timestamp, len(m.Data), m.Data...), true, nil

	case AudioChunk:
		return appendHeader(frameTypeAudioChunk, m.Timestamp, len(m.Data), m.Data...), true, nil

	case BlendShapes:
		frame := appendHeader(frameTypeBlendShapes, m.Timestamp, weightsSize)
		return appendWeights(frame, m.Weights), true, nil

	case SyncFrame:
		frame := appendHeader(frameTypeSyncFrame, m.Timestamp, 4+len(m.Audio)+weightsSize)
		frame = binary.BigEndian.AppendUint32(frame, uint32(len(m.Audio)))
		frame = append(frame, m.Audio...)
		return appendWeights(frame, m.Weights), true, nil

	default:
		data, err := encodeJSON(msg)
		return data, false, err
	}
}

// Decode parses one received frame. Unknown binary type codes are a
// hard decode error, never a best-effort pass-through.
func (BinaryCodec) Decode(data []byte, isBinary bool) (Message, error) {
	if !isBinary {
		return decodeJSON(data)
	}

	if len(data) < frameHeaderSize {
		return nil, fmt.Errorf("binary frame too short: %d bytes", len(data))
	}

	code := data[0]
	timestamp := binary.BigEndian.Uint32(data[1:frameHeaderSize])
	payload := data[frameHeaderSize:]

	switch code {
	case frameTypeJSON:
		if len(payload) < 4 {
			return nil, fmt.Errorf("json frame missing length prefix")
		}
		n := binary.BigEndian.Uint32(payload)
		if int(n) != len(payload)-4 {
			return nil, fmt.Errorf("json frame length mismatch: prefix %d, payload %d", n, len(payload)-4)
		}
		return decodeJSON(payload[4:])

	case frameTypeAudioInput:
		return AudioInput{Data: clone(payload), Timestamp: timestamp}, nil

	case frameTypeAudioChunk:
		return AudioChunk{Data: clone(payload), Timestamp: timestamp}, nil

	case frameTypeBlendShapes:
		if len(payload) != weightsSize {
			return nil, fmt.Errorf("blendshape frame: expected %d payload bytes, got %d", weightsSize, len(payload))
		}
		return BlendShapes{Weights: readWeights(payload), Timestamp: timestamp}, nil

	case frameTypeSyncFrame:
		if len(payload) < 4 {
			return nil, fmt.Errorf("sync frame missing audio length prefix")
		}
		audioLen := int(binary.BigEndian.Uint32(payload))
		if len(payload) != 4+audioLen+weightsSize {
			return nil, fmt.Errorf("sync frame: expected %d payload bytes, got %d", 4+audioLen+weightsSize, len(payload))
		}
		return SyncFrame{
			Audio:     clone(payload[4 : 4+audioLen]),
			Weights:   readWeights(payload[4+audioLen:]),
			Timestamp: timestamp,
		}, nil

	default:
		return nil, fmt.Errorf("unknown binary frame type 0x%02x", code)
	}
}

// JSONCodec is the legacy text-only path for servers that never speak
// binary frames. Audio payloads ride base64-encoded, costing roughly a
// third in size.
type JSONCodec struct{}

// Encode serializes every message as a JSON text frame.
func (JSONCodec) Encode(msg Message) ([]byte, bool, error) {
	data, err := encodeJSON(msg)
	return data, false, err
}

// Decode parses a text frame. Binary frames are invalid on this path.
func (JSONCodec) Decode(data []byte, isBinary bool) (Message, error) {
	if isBinary {
		return nil, fmt.Errorf("binary frame received on json-only channel")
	}
	return decodeJSON(data)
}

func appendHeader(code byte, timestamp uint32, payloadSize int, payload ...byte) []byte {
	frame := make([]byte, 0, frameHeaderSize+payloadSize)
	frame = append(frame, code)
	frame = binary.BigEndian.AppendUint32(frame, timestamp)
	return append(frame, payload...)
}

func appendWeights(frame []byte, w Weights) []byte {
	for _, f := range w {
		frame = binary.BigEndian.AppendUint32(frame, math.Float32bits(f))
	}
	return frame
}

func readWeights(data []byte) Weights {
	var w Weights
	for i := range w {
		w[i] = math.Float32frombits(binary.BigEndian.Uint32(data[i*4:]))
	}
	return w
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
