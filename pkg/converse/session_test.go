// ABOUTME: Tests for the high-level session
// ABOUTME: Verifies event fan-out from protocol messages to sinks and playback
package converse

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/Converse-Protocol/converse-go/pkg/playback/output"
	"github.com/Converse-Protocol/converse-go/pkg/protocol"
)

type recordingAnimation struct {
	mu     sync.Mutex
	states []string
	frames []protocol.Weights
}

func (r *recordingAnimation) SetState(state string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
}

func (r *recordingAnimation) PushFrame(w protocol.Weights) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, w)
}

type recordingTranscript struct {
	mu     sync.Mutex
	deltas []string
	finals []string
}

func (r *recordingTranscript) OnDelta(turnID, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deltas = append(r.deltas, text)
}

func (r *recordingTranscript) OnDone(turnID, finalText string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finals = append(r.finals, finalText)
}

func newTestSession(t *testing.T) (*Session, *output.Fake, *recordingAnimation, *recordingTranscript) {
	t.Helper()

	fake := output.NewFake()
	anim := &recordingAnimation{}
	tr := &recordingTranscript{}

	s, err := NewSession(Config{
		ServerURL:  "ws://localhost:0/converse",
		Output:     fake,
		Animation:  anim,
		Transcript: tr,
	})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, fake, anim, tr
}

// pcm20ms is one 20ms mono chunk at the default 24kHz rate.
func pcm20ms(fill byte) []byte {
	return bytes.Repeat([]byte{fill}, 960)
}

func TestSyncFramesFlowToPlaybackAndAnimation(t *testing.T) {
	s, fake, anim, _ := newTestSession(t)

	s.proto.Handle(protocol.AudioStart{TurnID: "t1", SessionID: "s1"})
	for i := 0; i < 5; i++ {
		s.proto.Handle(protocol.SyncFrame{
			TurnID:  "t1",
			Audio:   pcm20ms(byte(i)),
			Weights: protocol.Weights{0: 0.5},
		})
	}

	if got := len(anim.frames); got != 5 {
		t.Errorf("animation frames: got %d, want 5", got)
	}
	// Five 20ms chunks meet the 60ms-target head start; one unit is on
	// the device, chained.
	if got := fake.Pending(); got != 1 {
		t.Errorf("device units: got %d, want 1", got)
	}
	if !s.engine.IsPlaying() {
		t.Error("playback did not start")
	}
}

func TestInterruptTruncatesPlayback(t *testing.T) {
	s, fake, _, _ := newTestSession(t)

	s.proto.Handle(protocol.AudioStart{TurnID: "t1", SessionID: "s1"})
	for i := 0; i < 5; i++ {
		s.proto.Handle(protocol.SyncFrame{TurnID: "t1", Audio: pcm20ms(byte(i))})
	}

	s.proto.Handle(protocol.Interrupt{TurnID: "t1", OffsetMs: 0})

	if got := fake.Pending(); got != 0 {
		t.Errorf("device units after interrupt: got %d, want 0", got)
	}
	if s.engine.Buffered() != 0 {
		t.Errorf("buffered after interrupt: got %v, want 0", s.engine.Buffered())
	}
}

func TestTranscriptRouting(t *testing.T) {
	s, _, _, tr := newTestSession(t)

	s.proto.Handle(protocol.AudioStart{TurnID: "t1"})
	s.proto.Handle(protocol.TranscriptDelta{TurnID: "t1", Text: "hel"})
	s.proto.Handle(protocol.TranscriptDelta{TurnID: "t1", Text: "lo"})
	s.proto.Handle(protocol.TranscriptDone{TurnID: "t1", FinalText: "hello"})
	// Late delta for a finalized turn must not reach the sink.
	s.proto.Handle(protocol.TranscriptDelta{TurnID: "t1", Text: "stale"})

	if got := len(tr.deltas); got != 2 {
		t.Errorf("deltas: got %d (%v), want 2", got, tr.deltas)
	}
	if len(tr.finals) != 1 || tr.finals[0] != "hello" {
		t.Errorf("finals: got %v, want [hello]", tr.finals)
	}
}

func TestAudioEndMakesDrainSilent(t *testing.T) {
	s, fake, _, _ := newTestSession(t)

	s.proto.Handle(protocol.AudioStart{TurnID: "t1"})
	for i := 0; i < 5; i++ {
		s.proto.Handle(protocol.SyncFrame{TurnID: "t1", Audio: pcm20ms(byte(i))})
	}
	s.proto.Handle(protocol.AudioEnd{TurnID: "t1"})

	for i := 0; i < 5; i++ {
		fake.Advance(20 * time.Millisecond)
	}

	if got := s.Stats().UnderrunCount; got != 0 {
		t.Errorf("underruns after announced drain: got %d, want 0", got)
	}
}

func TestAvatarStateReachesSink(t *testing.T) {
	s, _, anim, _ := newTestSession(t)

	s.proto.Handle(protocol.AvatarState{State: "thinking"})
	s.proto.Handle(protocol.AvatarState{State: "speaking"})

	if len(anim.states) != 2 || anim.states[1] != "speaking" {
		t.Errorf("states: got %v, want [thinking speaking]", anim.states)
	}
}

func TestNewTurnCutsPreviousAudio(t *testing.T) {
	s, fake, _, _ := newTestSession(t)

	s.proto.Handle(protocol.AudioStart{TurnID: "t1"})
	for i := 0; i < 5; i++ {
		s.proto.Handle(protocol.SyncFrame{TurnID: "t1", Audio: pcm20ms(byte(i))})
	}
	if fake.Pending() != 1 {
		t.Fatalf("precondition: expected one scheduled unit")
	}

	s.proto.Handle(protocol.AudioStart{TurnID: "t2"})

	if got := fake.Pending(); got != 0 {
		t.Errorf("old turn audio still scheduled: got %d units", got)
	}
	if turn, _ := s.CurrentTurn(); turn != "t2" {
		t.Errorf("current turn: got %q, want t2", turn)
	}
}

func TestDefaultFormatIsPCM24k(t *testing.T) {
	s, _, _, _ := newTestSession(t)

	if s.cfg.Format.Codec != "pcm" || s.cfg.Format.SampleRate != 24000 || s.cfg.Format.Channels != 1 {
		t.Errorf("default format: got %+v", s.cfg.Format)
	}
}
