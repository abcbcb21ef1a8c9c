// ABOUTME: Codec interface and shared JSON envelope encoding
// ABOUTME: Selected once per channel; binary and JSON codecs never mix per-message
package protocol

import (
	"encoding/json"
	"fmt"
)

// Codec translates between Messages and wire frames. A channel is
// constructed with exactly one Codec; the format is fixed per
// deployment and never renegotiated.
type Codec interface {
	// Encode serializes a message. binary reports whether the result
	// must travel as a binary transport frame rather than a text frame.
	Encode(msg Message) (data []byte, binary bool, err error)

	// Decode parses one received frame.
	Decode(data []byte, binary bool) (Message, error)
}

// envelope is the flat JSON wire shape shared by both codecs. Byte
// fields are base64 on the wire (encoding/json default).
type envelope struct {
	Type      string    `json:"type"`
	Data      string    `json:"data,omitempty"`
	Audio     []byte    `json:"audio,omitempty"`
	Weights   []float32 `json:"weights,omitempty"`
	Timestamp uint32    `json:"timestamp,omitempty"`
	UserID    string    `json:"user_id,omitempty"`
	TurnID    string    `json:"turn_id,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	OffsetMs  int       `json:"offset_ms,omitempty"`
	Text      string    `json:"text,omitempty"`
	FinalText string    `json:"final_text,omitempty"`
	State     string    `json:"state,omitempty"`
}

func encodeJSON(msg Message) ([]byte, error) {
	env := envelope{Type: msg.Type()}

	switch m := msg.(type) {
	case Ping, Pong, StreamEnd:
	case AudioInput:
		env.Audio = m.Data
		env.Timestamp = m.Timestamp
	case Text:
		env.Data = m.Data
	case StreamStart:
		env.UserID = m.UserID
	case Interrupt:
		env.TurnID = m.TurnID
		env.OffsetMs = m.OffsetMs
	case AudioStart:
		env.TurnID = m.TurnID
		env.SessionID = m.SessionID
	case AudioChunk:
		env.Audio = m.Data
		env.Timestamp = m.Timestamp
	case BlendShapes:
		env.Weights = m.Weights[:]
		env.Timestamp = m.Timestamp
	case SyncFrame:
		env.TurnID = m.TurnID
		env.SessionID = m.SessionID
		env.Audio = m.Audio
		env.Weights = m.Weights[:]
		env.Timestamp = m.Timestamp
	case AudioEnd:
		env.TurnID = m.TurnID
	case TranscriptDelta:
		env.TurnID = m.TurnID
		env.Text = m.Text
	case TranscriptDone:
		env.TurnID = m.TurnID
		env.FinalText = m.FinalText
	case AvatarState:
		env.State = m.State
	default:
		return nil, fmt.Errorf("unencodable message type %q", msg.Type())
	}

	return json.Marshal(env)
}

func decodeJSON(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("malformed json frame: %w", err)
	}

	switch env.Type {
	case "ping":
		return Ping{}, nil
	case "pong":
		return Pong{}, nil
	case "audio_input":
		return AudioInput{Data: env.Audio, Timestamp: env.Timestamp}, nil
	case "text":
		return Text{Data: env.Data}, nil
	case "audio_stream_start":
		return StreamStart{UserID: env.UserID}, nil
	case "audio_stream_end":
		return StreamEnd{}, nil
	case "interrupt":
		return Interrupt{TurnID: env.TurnID, OffsetMs: env.OffsetMs}, nil
	case "audio_start":
		return AudioStart{TurnID: env.TurnID, SessionID: env.SessionID}, nil
	case "audio_chunk":
		return AudioChunk{Data: env.Audio, Timestamp: env.Timestamp}, nil
	case "blendshape":
		w, err := weightsFromSlice(env.Weights)
		if err != nil {
			return nil, err
		}
		return BlendShapes{Weights: w, Timestamp: env.Timestamp}, nil
	case "sync_frame":
		w, err := weightsFromSlice(env.Weights)
		if err != nil {
			return nil, err
		}
		return SyncFrame{
			TurnID:    env.TurnID,
			SessionID: env.SessionID,
			Audio:     env.Audio,
			Weights:   w,
			Timestamp: env.Timestamp,
		}, nil
	case "audio_end":
		return AudioEnd{TurnID: env.TurnID}, nil
	case "transcript_delta":
		return TranscriptDelta{TurnID: env.TurnID, Text: env.Text}, nil
	case "transcript_done":
		return TranscriptDone{TurnID: env.TurnID, FinalText: env.FinalText}, nil
	case "avatar_state":
		return AvatarState{State: env.State}, nil
	case "":
		return nil, fmt.Errorf("json frame missing type tag")
	default:
		return nil, fmt.Errorf("unknown message type %q", env.Type)
	}
}

func weightsFromSlice(s []float32) (Weights, error) {
	var w Weights
	if len(s) != WeightCount {
		return w, fmt.Errorf("expected %d blendshape weights, got %d", WeightCount, len(s))
	}
	copy(w[:], s)
	return w, nil
}
