// ABOUTME: In-memory Output with a manually advanced clock
// ABOUTME: Lets tests drive scheduled playback deterministically
package output

import (
	"errors"
	"sort"
	"sync"
	"time"
)

// Fake is an Output whose clock only moves when Advance is called.
// Completion callbacks fire during Advance, in schedule order, once
// the clock passes a unit's end time.
type Fake struct {
	mu         sync.Mutex
	opened     bool
	sampleRate int
	channels   int
	now        time.Duration
	units      []*fakeUnit
}

type fakeUnit struct {
	pcm      []byte
	at       time.Duration
	duration time.Duration
	done     func()
	canceled bool
	fired    bool
}

// NewFake creates a fake output at clock zero.
func NewFake() *Fake {
	return &Fake{}
}

func (f *Fake) Open(sampleRate, channels int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.opened {
		return errors.New("output already open")
	}
	f.opened = true
	f.sampleRate = sampleRate
	f.channels = channels
	return nil
}

func (f *Fake) Now() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) ScheduleAt(pcm []byte, at time.Duration, done func()) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.opened {
		return nil, errors.New("output not open")
	}

	u := &fakeUnit{
		pcm:      append([]byte(nil), pcm...),
		at:       at,
		duration: pcmDuration(len(pcm), f.sampleRate, f.channels),
		done:     done,
	}
	f.units = append(f.units, u)

	cancel := func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if !u.fired {
			u.canceled = true
		}
	}
	return cancel, nil
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened = false
	return nil
}

// Advance moves the clock forward and fires completion callbacks for
// every unit whose play time has fully elapsed. Callbacks run outside
// the lock so they may schedule further units.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now += d

	var due []*fakeUnit
	for _, u := range f.units {
		if !u.fired && !u.canceled && u.at+u.duration <= f.now {
			u.fired = true
			due = append(due, u)
		}
	}
	f.mu.Unlock()

	sort.SliceStable(due, func(a, b int) bool { return due[a].at < due[b].at })
	for _, u := range due {
		if u.done != nil {
			u.done()
		}
	}
}

// Pending counts units scheduled but neither finished nor canceled.
func (f *Fake) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for _, u := range f.units {
		if !u.fired && !u.canceled {
			n++
		}
	}
	return n
}

// ScheduleTimes returns the start times of every live unit, in
// schedule order.
func (f *Fake) ScheduleTimes() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()

	var times []time.Duration
	for _, u := range f.units {
		if !u.canceled {
			times = append(times, u.at)
		}
	}
	return times
}

// Played concatenates the PCM of every unit that completed playback.
func (f *Fake) Played() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []byte
	for _, u := range f.units {
		if u.fired {
			out = append(out, u.pcm...)
		}
	}
	return out
}
