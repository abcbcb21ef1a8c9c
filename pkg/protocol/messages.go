// ABOUTME: Converse Protocol message type definitions
// ABOUTME: Tagged union of all inbound and outbound message kinds
package protocol

// WeightCount is the fixed size of a facial blendshape weight vector.
const WeightCount = 52

// Weights is one frame of facial animation parameters.
type Weights [WeightCount]float32

// Message is a decoded protocol message. The set of implementations is
// closed: every consumer switches exhaustively and treats an unknown
// wire tag as a decode error.
type Message interface {
	// Type returns the wire type tag.
	Type() string

	isMessage()
}

// Outbound messages (client to server). Each carries only the minimal
// field set its wire type requires.

// Ping is the heartbeat message.
type Ping struct{}

// AudioInput carries captured microphone audio upstream.
type AudioInput struct {
	Data      []byte
	Timestamp uint32 // sender clock, milliseconds
}

// Text sends a typed user utterance.
type Text struct {
	Data string
}

// StreamStart announces the beginning of an upstream audio stream.
type StreamStart struct {
	UserID string
}

// StreamEnd closes the upstream audio stream.
type StreamEnd struct{}

// Interrupt travels both directions: outbound it carries no fields and
// asks the server to cut the current turn; inbound it names the
// interrupted turn and the playback offset at which speech stopped.
type Interrupt struct {
	TurnID   string
	OffsetMs int
}

// Inbound messages (server to client).

// AudioStart opens a server response turn.
type AudioStart struct {
	TurnID    string
	SessionID string
}

// AudioChunk is a turn-less audio frame (raw PCM payload on the wire).
type AudioChunk struct {
	Data      []byte
	Timestamp uint32
}

// BlendShapes is an animation-only frame.
type BlendShapes struct {
	Weights   Weights
	Timestamp uint32
}

// SyncFrame pairs an audio frame with the blendshape weights that
// animate it. Binary sync frames carry no turn or session id; JSON ones
// may.
type SyncFrame struct {
	TurnID    string
	SessionID string
	Audio     []byte
	Weights   Weights
	Timestamp uint32
}

// AudioEnd marks the end of a turn's audio. Advisory: it never stops
// playback of already-buffered audio.
type AudioEnd struct {
	TurnID string
}

// TranscriptDelta is an incremental transcript fragment.
type TranscriptDelta struct {
	TurnID string
	Text   string
}

// TranscriptDone finalizes a turn's transcript, optionally carrying a
// corrected full text.
type TranscriptDone struct {
	TurnID    string
	FinalText string
}

// AvatarState switches the avatar's gross animation state
// (e.g. "idle", "listening", "talking").
type AvatarState struct {
	State string
}

// Pong answers a Ping.
type Pong struct{}

func (Ping) Type() string            { return "ping" }
func (AudioInput) Type() string      { return "audio_input" }
func (Text) Type() string            { return "text" }
func (StreamStart) Type() string     { return "audio_stream_start" }
func (StreamEnd) Type() string       { return "audio_stream_end" }
func (Interrupt) Type() string       { return "interrupt" }
func (AudioStart) Type() string      { return "audio_start" }
func (AudioChunk) Type() string      { return "audio_chunk" }
func (BlendShapes) Type() string     { return "blendshape" }
func (SyncFrame) Type() string       { return "sync_frame" }
func (AudioEnd) Type() string        { return "audio_end" }
func (TranscriptDelta) Type() string { return "transcript_delta" }
func (TranscriptDone) Type() string  { return "transcript_done" }
func (AvatarState) Type() string     { return "avatar_state" }
func (Pong) Type() string            { return "pong" }

func (Ping) isMessage()            {}
func (AudioInput) isMessage()      {}
func (Text) isMessage()            {}
func (StreamStart) isMessage()     {}
func (StreamEnd) isMessage()       {}
func (Interrupt) isMessage()       {}
func (AudioStart) isMessage()      {}
func (AudioChunk) isMessage()      {}
func (BlendShapes) isMessage()     {}
func (SyncFrame) isMessage()       {}
func (AudioEnd) isMessage()        {}
func (TranscriptDelta) isMessage() {}
func (TranscriptDone) isMessage()  {}
func (AvatarState) isMessage()     {}
func (Pong) isMessage()            {}
