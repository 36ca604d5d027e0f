// Package readiness implements the countdown that gates the capture action
// after a capture-waiting state is entered.
//
// Every arming of the timer gets a new generation number, and every scheduled
// callback carries the generation it was created for. Cancel both stops the
// pending callback and advances the generation, so a callback that was
// already in flight when its state was left can never change the phase.
package readiness

import (
	"fmt"
	"time"
)

// Phase is the readiness indication shown on the document guide.
type Phase int

const (
	// Idle means the timer is not running or has just been armed.
	Idle Phase = iota
	// Detecting means the pre-delay elapsed and the countdown is running.
	Detecting
	// Ready means the capture action may be enabled.
	Ready
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Detecting:
		return "detecting"
	case Ready:
		return "ready"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Phase) UnmarshalText(text []byte) error {
	switch string(text) {
	case "idle":
		*p = Idle
	case "detecting":
		*p = Detecting
	case "ready":
		*p = Ready
	default:
		return fmt.Errorf("unknown readiness phase %q", text)
	}
	return nil
}

// Config controls the timer delays.
type Config struct {
	// PreDelay elapses before the countdown starts, leaving the prompt
	// visible before the guide changes.
	PreDelay time.Duration
	// Delay is the countdown after which the phase becomes Ready.
	Delay time.Duration
}

// DefaultConfig returns the observed delays: 100 ms then 2500 ms.
func DefaultConfig() Config {
	return Config{
		PreDelay: 100 * time.Millisecond,
		Delay:    2500 * time.Millisecond,
	}
}

// Timer is a cancellable readiness countdown. It is not safe for concurrent
// use on its own: its owner serializes calls and passes a sync function that
// runs a callback under the same serialization.
type Timer struct {
	cfg      Config
	clock    Clock
	sync     func(func())
	onChange func(Phase)

	gen     uint64
	pending Stopper
	phase   Phase
}

// New creates a timer. sync must run its argument while holding the owner's
// lock; onChange is called under that lock whenever a scheduled callback
// changes the phase.
func New(cfg Config, clock Clock, sync func(func()), onChange func(Phase)) *Timer {
	if clock == nil {
		clock = SystemClock{}
	}
	if sync == nil {
		sync = func(f func()) { f() }
	}
	if onChange == nil {
		onChange = func(Phase) {}
	}
	return &Timer{cfg: cfg, clock: clock, sync: sync, onChange: onChange}
}

// Arm cancels any pending countdown, resets the phase to Idle and starts a
// new countdown. It returns the new generation.
func (t *Timer) Arm() uint64 {
	t.Cancel()
	t.schedule(t.gen, t.cfg.PreDelay, Detecting)
	return t.gen
}

// Cancel stops any pending countdown and resets the phase to Idle.
func (t *Timer) Cancel() {
	if t.pending != nil {
		t.pending.Stop()
		t.pending = nil
	}
	t.gen++
	t.phase = Idle
}

// Phase returns the current phase.
func (t *Timer) Phase() Phase { return t.phase }

// Ready reports whether the countdown completed for the current generation.
func (t *Timer) Ready() bool { return t.phase == Ready }

// Generation returns the current arming generation.
func (t *Timer) Generation() uint64 { return t.gen }

func (t *Timer) schedule(gen uint64, d time.Duration, next Phase) {
	t.pending = t.clock.AfterFunc(d, func() {
		t.sync(func() { t.fire(gen, next) })
	})
}

func (t *Timer) fire(gen uint64, next Phase) {
	if gen != t.gen {
		return
	}
	t.pending = nil
	t.phase = next
	if next == Detecting {
		t.schedule(gen, t.cfg.Delay, Ready)
	}
	t.onChange(next)
}
