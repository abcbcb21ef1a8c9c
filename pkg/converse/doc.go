// ABOUTME: High-level Converse library API
// ABOUTME: Provides a simple Session API for most use cases
// Package converse provides the high-level API for Converse avatar
// sessions.
//
// This is the main entry point for most library users. A Session owns
// the WebSocket transport, the turn state machine, audio decoding and
// jitter-buffered playback, and fans transcript and animation events
// out to the configured sinks.
//
// Example:
//
//	session, err := converse.NewSession(converse.Config{
//	    ServerURL:  "ws://localhost:8931/converse",
//	    Transcript: myTranscriptView,
//	    Animation:  myAvatarView,
//	})
//	err = session.Connect(ctx)
//	err = session.SendText("hello there")
//
// For lower-level control, see the transport, client, protocol and
// playback packages.
package converse
