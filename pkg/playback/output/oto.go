// ABOUTME: Oto-backed audio output device
// ABOUTME: Streams scheduled PCM into a persistent pipe-fed player
package output

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
)

// Device plays scheduled PCM through the shared oto context. Audio is
// written into a persistent pipe feeding a single player, so chunks
// play back-to-back without per-chunk player churn. The device clock
// starts at zero when Open succeeds.
type Device struct {
	manager *DeviceManager

	mu         sync.Mutex
	player     *oto.Player
	pw         *io.PipeWriter
	epoch      time.Time
	sampleRate int
	channels   int
	closed     bool
	timers     map[*time.Timer]struct{}
}

// NewDevice creates a device backed by the given manager. The shared
// context is acquired on Open and released on Close.
func NewDevice(manager *DeviceManager) *Device {
	return &Device{
		manager: manager,
		timers:  make(map[*time.Timer]struct{}),
	}
}

// Open acquires the shared context and starts the player.
func (d *Device) Open(sampleRate, channels int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return errors.New("output is closed")
	}
	if d.player != nil {
		return errors.New("output already open")
	}

	ctx, err := d.manager.Acquire(sampleRate, channels)
	if err != nil {
		return err
	}

	pr, pw := io.Pipe()
	player := ctx.NewPlayer(pr)
	player.Play()

	d.player = player
	d.pw = pw
	d.sampleRate = sampleRate
	d.channels = channels
	d.epoch = time.Now()
	return nil
}

// Now returns the device clock, zero before Open.
func (d *Device) Now() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.player == nil {
		return 0
	}
	return time.Since(d.epoch)
}

// ScheduleAt queues PCM to start playing at the given device time.
// A past deadline plays immediately. done fires once the chunk has had
// its full duration on the wire; cancel drops the chunk only if its
// write has not started yet.
func (d *Device) ScheduleAt(pcm []byte, at time.Duration, done func()) (func(), error) {
	d.mu.Lock()
	if d.player == nil || d.closed {
		d.mu.Unlock()
		return nil, errors.New("output not open")
	}

	delay := at - time.Since(d.epoch)
	if delay < 0 {
		delay = 0
	}
	dur := pcmDuration(len(pcm), d.sampleRate, d.channels)
	pw := d.pw

	var writeTimer *time.Timer
	writeTimer = time.AfterFunc(delay, func() {
		d.forget(writeTimer)
		if _, err := pw.Write(pcm); err != nil {
			// Pipe closed underneath us; the device is shutting down.
			return
		}
		if done == nil {
			return
		}
		var doneTimer *time.Timer
		doneTimer = time.AfterFunc(dur, func() {
			d.forget(doneTimer)
			done()
		})
		d.remember(doneTimer)
	})
	d.timers[writeTimer] = struct{}{}
	d.mu.Unlock()

	cancel := func() {
		if writeTimer.Stop() {
			d.forget(writeTimer)
		}
	}
	return cancel, nil
}

// Close stops all pending timers, tears down the player and releases
// the shared context. Safe to call more than once.
func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	for t := range d.timers {
		t.Stop()
	}
	d.timers = make(map[*time.Timer]struct{})
	player := d.player
	pw := d.pw
	d.player = nil
	d.pw = nil
	d.mu.Unlock()

	if pw != nil {
		pw.Close()
	}
	var err error
	if player != nil {
		err = player.Close()
		d.manager.Release()
	}
	return err
}

func (d *Device) remember(t *time.Timer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		t.Stop()
		return
	}
	d.timers[t] = struct{}{}
}

func (d *Device) forget(t *time.Timer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.timers, t)
}

// pcmDuration converts a 16-bit LE PCM byte count to play time.
func pcmDuration(n, sampleRate, channels int) time.Duration {
	if sampleRate <= 0 || channels <= 0 {
		return 0
	}
	samples := n / (2 * channels)
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}
