// ABOUTME: Package documentation for audio types
// ABOUTME: Shared audio formats and chunk types used across the client

// Package audio defines the audio formats and decoded chunk types shared
// by the decode and playback layers.
package audio
