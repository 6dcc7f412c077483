package wait

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devicelab-dev/browser-runner/pkg/core"
	"github.com/devicelab-dev/browser-runner/pkg/driver/mock"
)

const page = `<html><body>
<button id="go">Go</button>
<button id="off" disabled>Off</button>
<div id="gone" hidden>x</div>
<ul><li class="row">a</li><li class="row">b</li><li class="row" hidden>c</li></ul>
<p class="shown">1</p><p class="shown">2</p>
</body></html>`

// fakeClock advances on every sleep so waits finish instantly.
type fakeClock struct {
	t      time.Time
	sleeps int
}

func (c *fakeClock) now() time.Time { return c.t }
func (c *fakeClock) sleep(d time.Duration) {
	c.sleeps++
	c.t = c.t.Add(d)
}

func newWaiter(t *testing.T, timeout time.Duration) (*Waiter, *mock.Browser, *fakeClock) {
	t.Helper()
	b := mock.New(mock.WithPage("/", page))
	require.NoError(t, b.Navigate("/"))
	clock := &fakeClock{t: time.Unix(0, 0)}
	w := New(b, timeout)
	w.now = clock.now
	w.sleep = clock.sleep
	return w, b, clock
}

func css(v string) core.By { return core.By{Using: core.UsingCSS, Value: v} }

func TestUntil_SatisfiedImmediately(t *testing.T) {
	w, _, clock := newWaiter(t, time.Second)

	v, err := w.Until(ElementClickable(css("#go")))
	require.NoError(t, err)
	assert.Implements(t, (*core.Element)(nil), v)
	assert.Equal(t, 0, clock.sleeps)
}

func TestUntil_TimeoutCarriesConditionAndElapsed(t *testing.T) {
	w, _, clock := newWaiter(t, 2*time.Second)

	_, err := w.Until(ElementClickable(css("#off")))
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrConditionTimeout))

	var te *TimeoutError
	require.True(t, errors.As(err, &te))
	assert.Contains(t, te.Condition, "clickable")
	assert.Equal(t, 2*time.Second, te.Elapsed)
	assert.Equal(t, 4, clock.sleeps)
	assert.Contains(t, err.Error(), "timed out after 2s")
}

func TestUntil_NotFoundKeepsPolling(t *testing.T) {
	w, _, _ := newWaiter(t, time.Second)

	_, err := w.Until(ElementVisible(css("#never")))
	var te *TimeoutError
	require.True(t, errors.As(err, &te))
	assert.True(t, errors.Is(te.Last, core.ErrElementNotFound))
}

func TestUntil_OtherErrorsAbort(t *testing.T) {
	w, _, clock := newWaiter(t, time.Second)
	boom := errors.New("boom")

	_, err := w.Until(Func("custom", func(core.Browser) (bool, error) { return false, boom }))
	assert.ErrorIs(t, err, boom)
	assert.False(t, errors.Is(err, core.ErrConditionTimeout))
	assert.Equal(t, 0, clock.sleeps)
}

func TestUntil_ZeroTimeoutChecksOnce(t *testing.T) {
	w, _, clock := newWaiter(t, 0)
	calls := 0
	_, err := w.Until(Func("never", func(core.Browser) (bool, error) {
		calls++
		return false, nil
	}))
	assert.True(t, errors.Is(err, core.ErrConditionTimeout))
	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, clock.sleeps)
}

func TestUntil_CustomPredicateEventuallyTrue(t *testing.T) {
	w, _, clock := newWaiter(t, 10*time.Second)
	calls := 0
	v, err := w.Until(Func("third time", func(core.Browser) (bool, error) {
		calls++
		return calls == 3, nil
	}))
	require.NoError(t, err)
	assert.Equal(t, true, v)
	assert.Equal(t, 2, clock.sleeps)
}

func TestConditions(t *testing.T) {
	tests := []struct {
		name string
		cond Condition
		ok   bool
	}{
		{"visible", ElementVisible(css("#go")), true},
		{"visible hidden", ElementVisible(css("#gone")), false},
		{"all visible", AllElementsVisible(css(".shown")), true},
		{"all visible with one hidden", AllElementsVisible(css(".row")), false},
		{"all visible none match", AllElementsVisible(css(".none")), false},
		{"present", AllElementsPresent(css(".row")), true},
		{"present none", AllElementsPresent(css(".none")), false},
		{"invisible hidden", ElementInvisible(css("#gone")), true},
		{"invisible absent", ElementInvisible(css("#none")), true},
		{"invisible displayed", ElementInvisible(css("#go")), false},
		{"alert absent", AlertPresent(), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, _, _ := newWaiter(t, 0)
			_, err := w.Until(tt.cond)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.True(t, errors.Is(err, core.ErrConditionTimeout), "got %v", err)
			}
		})
	}
}

func TestAlertPresent_ReturnsText(t *testing.T) {
	w, b, _ := newWaiter(t, time.Second)
	b.OpenAlert("alert", "Saved")
	v, err := w.Until(AlertPresent())
	require.NoError(t, err)
	assert.Equal(t, "Saved", v)
}

func TestAllElementsInvisible_StaleCountsAsInvisible(t *testing.T) {
	w, b, _ := newWaiter(t, 0)
	rows, err := b.FindElements(css(".row"))
	require.NoError(t, err)

	_, err = w.Until(AllElementsInvisible(rows))
	assert.True(t, errors.Is(err, core.ErrConditionTimeout))

	require.NoError(t, b.Refresh())
	_, err = w.Until(AllElementsInvisible(rows))
	assert.NoError(t, err)
}

func TestJQueryAjaxLoaded(t *testing.T) {
	b := mock.New(mock.WithScriptHandler(func(string, []interface{}) (interface{}, error) {
		return false, nil
	}))
	w := New(b, 0)
	_, err := w.Until(JQueryAjaxLoaded())
	assert.True(t, errors.Is(err, core.ErrConditionTimeout))
}
