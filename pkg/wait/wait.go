// Package wait implements explicit waits: poll a condition against a browser
// until it holds or the timeout elapses.
package wait

import (
	"errors"
	"fmt"
	"time"

	"github.com/devicelab-dev/browser-runner/pkg/core"
)

// Default polling interval, same as the WebDriverWait default.
const DefaultInterval = 500 * time.Millisecond

// Condition is a named predicate evaluated against the browser. Check
// returns a value to hand back to the caller once satisfied.
//
// Returning ErrElementNotFound or ErrStaleElement means "not yet" and keeps
// polling. Any other error aborts the wait.
type Condition struct {
	Name  string
	Check func(b core.Browser) (value interface{}, ok bool, err error)
}

// TimeoutError is returned when a condition was not met in time.
type TimeoutError struct {
	Condition string
	Timeout   time.Duration
	Elapsed   time.Duration
	Last      error // last "not yet" error seen while polling, if any
}

func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("timed out after %s waiting for %s", e.Elapsed.Round(time.Millisecond), e.Condition)
	if e.Last != nil {
		msg += fmt.Sprintf(" (last error: %v)", e.Last)
	}
	return msg
}

// Unwrap lets errors.Is(err, core.ErrConditionTimeout) match.
func (e *TimeoutError) Unwrap() error {
	return core.ErrConditionTimeout
}

// Waiter polls conditions with a fixed timeout and interval.
type Waiter struct {
	Browser  core.Browser
	Timeout  time.Duration
	Interval time.Duration

	now   func() time.Time
	sleep func(time.Duration)
}

// New creates a Waiter with the default interval.
func New(b core.Browser, timeout time.Duration) *Waiter {
	return &Waiter{Browser: b, Timeout: timeout, Interval: DefaultInterval}
}

// Until polls cond until it holds and returns its value. The condition is
// always checked at least once, even with a zero timeout.
func (w *Waiter) Until(cond Condition) (interface{}, error) {
	now := w.now
	if now == nil {
		now = time.Now
	}
	sleep := w.sleep
	if sleep == nil {
		sleep = time.Sleep
	}
	interval := w.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	start := now()
	deadline := start.Add(w.Timeout)
	var last error

	for {
		value, ok, err := cond.Check(w.Browser)
		switch {
		case err == nil && ok:
			return value, nil
		case err != nil && !isTransient(err):
			return nil, fmt.Errorf("waiting for %s: %w", cond.Name, err)
		case err != nil:
			last = err
		}

		if !now().Before(deadline) {
			return nil, &TimeoutError{
				Condition: cond.Name,
				Timeout:   w.Timeout,
				Elapsed:   now().Sub(start),
				Last:      last,
			}
		}
		sleep(interval)
	}
}

func isTransient(err error) bool {
	return errors.Is(err, core.ErrElementNotFound) || errors.Is(err, core.ErrStaleElement)
}
