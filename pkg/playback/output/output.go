// ABOUTME: Audio output interface definition
// ABOUTME: Scheduled playback against a monotonic device clock
package output

import "time"

// Output is a playback device with its own monotonic clock. Scheduling
// reads the clock but never blocks the caller; completion callbacks
// fire once the scheduled audio has finished playing.
type Output interface {
	// Open initializes the device for the given format.
	Open(sampleRate, channels int) error

	// Now returns the device clock, monotonic since Open.
	Now() time.Duration

	// ScheduleAt queues 16-bit little-endian PCM to start playing at
	// the given device time. done fires after the audio has played.
	// The returned cancel drops the unit if it has not started yet.
	ScheduleAt(pcm []byte, at time.Duration, done func()) (cancel func(), err error)

	// Close releases device resources.
	Close() error
}
