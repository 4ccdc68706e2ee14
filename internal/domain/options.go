package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	DefaultNamespace       = "default"
	DefaultUpdateFrequency = 60 * time.Millisecond
)

// IdleTimeout is either disabled or fires after a fixed duration without flushes.
type IdleTimeout struct {
	after   time.Duration
	enabled bool
}

// IdleTimeoutDisabled never auto-stops the scheduler.
func IdleTimeoutDisabled() IdleTimeout {
	return IdleTimeout{}
}

// IdleTimeoutAfter auto-stops the scheduler once d has elapsed since the last flush.
func IdleTimeoutAfter(d time.Duration) IdleTimeout {
	return IdleTimeout{after: d, enabled: true}
}

// Get returns the duration and whether the timeout is enabled.
func (t IdleTimeout) Get() (time.Duration, bool) {
	return t.after, t.enabled
}

func (t IdleTimeout) String() string {
	if !t.enabled {
		return "disabled"
	}
	return t.after.String()
}

// Options configures a namespace.
type Options struct {
	IndividualEvents bool
	UpdateFrequency  time.Duration
	IdleTimeout      IdleTimeout
}

// DefaultOptions returns batched mode at 60ms with no idle timeout.
func DefaultOptions() Options {
	return Options{
		UpdateFrequency: DefaultUpdateFrequency,
		IdleTimeout:     IdleTimeoutDisabled(),
	}
}

// Validate rejects options the scheduler cannot run with.
func (o Options) Validate() error {
	if o.UpdateFrequency <= 0 {
		return fmt.Errorf("%w: update frequency must be positive, got %v", ErrInvalidOptions, o.UpdateFrequency)
	}
	if d, ok := o.IdleTimeout.Get(); ok && d <= 0 {
		return fmt.Errorf("%w: idle timeout must be positive, got %v", ErrInvalidOptions, d)
	}
	return nil
}

// optionsJSON is the wire form: durations in milliseconds, null idle timeout
// meaning disabled.
type optionsJSON struct {
	IndividualEvents  bool   `json:"individualEvents"`
	UpdateFrequencyMs int64  `json:"updateFrequencyMs"`
	IdleTimeoutMs     *int64 `json:"idleTimeoutMs"`
}

func (o Options) MarshalJSON() ([]byte, error) {
	out := optionsJSON{
		IndividualEvents:  o.IndividualEvents,
		UpdateFrequencyMs: o.UpdateFrequency.Milliseconds(),
	}
	if d, ok := o.IdleTimeout.Get(); ok {
		ms := d.Milliseconds()
		out.IdleTimeoutMs = &ms
	}
	return json.Marshal(out)
}

// UnmarshalJSON fills omitted fields with defaults.
func (o *Options) UnmarshalJSON(data []byte) error {
	defaults := DefaultOptions()
	in := optionsJSON{UpdateFrequencyMs: defaults.UpdateFrequency.Milliseconds()}
	if err := json.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("decode options: %w", err)
	}

	o.IndividualEvents = in.IndividualEvents
	o.UpdateFrequency = time.Duration(in.UpdateFrequencyMs) * time.Millisecond
	o.IdleTimeout = IdleTimeoutDisabled()
	if in.IdleTimeoutMs != nil {
		o.IdleTimeout = IdleTimeoutAfter(time.Duration(*in.IdleTimeoutMs) * time.Millisecond)
	}
	return nil
}
