// ABOUTME: Package documentation for the Converse Protocol vocabulary
// ABOUTME: Message types and wire codecs shared by transport and client

// Package protocol defines the Converse Protocol message vocabulary and
// the two wire codecs: the binary frame format used for high-frequency
// audio and animation data, and the legacy JSON text path for
// compatibility with text-only servers.
package protocol
