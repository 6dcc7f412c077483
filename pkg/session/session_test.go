package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/devicelab-dev/browser-runner/pkg/core"
	"github.com/devicelab-dev/browser-runner/pkg/driver/mock"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// countingBackend registers a mock backend under name and counts launches.
func countingBackend(t *testing.T, name string, opts ...mock.Option) (*int32, *[]*mock.Browser) {
	t.Helper()
	var launches int32
	var mu sync.Mutex
	var browsers []*mock.Browser
	Register(name, func(ctx context.Context, o Options) (core.Browser, error) {
		atomic.AddInt32(&launches, 1)
		time.Sleep(5 * time.Millisecond)
		b := mock.New(opts...)
		mu.Lock()
		browsers = append(browsers, b)
		mu.Unlock()
		return b, nil
	})
	return &launches, &browsers
}

func TestManager_LaunchesOnce(t *testing.T) {
	launches, browsers := countingBackend(t, "mock-once")
	m := New(Options{Backend: "mock-once"})
	assert.False(t, m.Active())

	var wg sync.WaitGroup
	results := make([]core.Browser, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b, err := m.Browser(context.Background())
			assert.NoError(t, err)
			results[i] = b
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(launches))
	for _, b := range results {
		assert.Same(t, (*browsers)[0], b)
	}
	assert.True(t, m.Active())
	require.NoError(t, m.Close())
}

func TestManager_PrepareBrowser(t *testing.T) {
	_, browsers := countingBackend(t, "mock-prepare", mock.WithPage("https://shop.test/", "<html><title>Shop</title></html>"))
	m := New(Options{
		Backend:      "mock-prepare",
		ImplicitWait: 30 * time.Second,
		Maximize:     true,
		BaseURL:      "https://shop.test/",
	})

	b, err := m.Browser(context.Background())
	require.NoError(t, err)
	mb := (*browsers)[0]

	assert.Equal(t, 30*time.Second, b.ImplicitWait())
	assert.True(t, mb.Maximized())
	title, err := b.Title()
	require.NoError(t, err)
	assert.Equal(t, "Shop", title)
	require.NoError(t, m.Close())
}

func TestManager_DefaultsToChrome(t *testing.T) {
	m := New(Options{})
	assert.Equal(t, core.Chrome, m.Options().Browser)
}

func TestManager_CloseIsIdempotent(t *testing.T) {
	_, browsers := countingBackend(t, "mock-close")
	m := New(Options{Backend: "mock-close"})

	_, err := m.Browser(context.Background())
	require.NoError(t, err)

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
	assert.True(t, (*browsers)[0].Closed())
	assert.False(t, m.Active())

	_, err = m.Browser(context.Background())
	assert.ErrorIs(t, err, core.ErrBrowserUnreachable)
}

func TestManager_CloseWithoutLaunch(t *testing.T) {
	launches, _ := countingBackend(t, "mock-unused")
	m := New(Options{Backend: "mock-unused"})
	require.NoError(t, m.Close())
	assert.Equal(t, int32(0), atomic.LoadInt32(launches))
}

func TestManager_CloseSwallowsUnreachable(t *testing.T) {
	countingBackend(t, "mock-gone", mock.WithQuitError(core.ErrBrowserUnreachable.WithMessage("connection refused")))
	m := New(Options{Backend: "mock-gone"})
	_, err := m.Browser(context.Background())
	require.NoError(t, err)

	assert.NoError(t, m.Close())
}

func TestManager_CloseReportsOtherErrors(t *testing.T) {
	boom := errors.New("boom")
	countingBackend(t, "mock-boom", mock.WithQuitError(boom))
	m := New(Options{Backend: "mock-boom"})
	_, err := m.Browser(context.Background())
	require.NoError(t, err)

	assert.ErrorIs(t, m.Close(), boom)
	assert.NoError(t, m.Close())
}

func TestManager_LaunchError(t *testing.T) {
	Register("mock-fail", func(ctx context.Context, o Options) (core.Browser, error) {
		return nil, core.ErrBrowserUnreachable.WithMessage("no driver")
	})
	m := New(Options{Backend: "mock-fail", Browser: core.Firefox})

	_, err := m.Browser(context.Background())
	assert.ErrorIs(t, err, core.ErrBrowserUnreachable)
	assert.Contains(t, err.Error(), "failed to launch firefox")
	assert.False(t, m.Active())
}

func TestManager_FailedSetupQuits(t *testing.T) {
	var launched *mock.Browser
	Register("mock-badurl", func(ctx context.Context, o Options) (core.Browser, error) {
		launched = mock.New()
		require.NoError(t, launched.Quit())
		return launched, nil
	})
	m := New(Options{Backend: "mock-badurl", BaseURL: "https://shop.test/"})

	_, err := m.Browser(context.Background())
	assert.ErrorIs(t, err, core.ErrBrowserUnreachable)
	assert.False(t, m.Active())
}

func TestManager_UnknownBackend(t *testing.T) {
	m := New(Options{Backend: "selenium-rc"})
	_, err := m.Browser(context.Background())
	assert.ErrorIs(t, err, core.ErrInvalidConfig)
	assert.Contains(t, err.Error(), "webdriver")
}

func TestBackends(t *testing.T) {
	names := Backends()
	for _, want := range []string{BackendCDP, BackendPlaywright, BackendWebDriver} {
		assert.Contains(t, names, want)
	}
}

func TestCloseOnSignal_ContextDone(t *testing.T) {
	_, browsers := countingBackend(t, "mock-signal")
	m := New(Options{Backend: "mock-signal"})
	_, err := m.Browser(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	stop := m.CloseOnSignal(ctx)
	cancel()
	assert.Eventually(t, func() bool { return !m.Active() }, time.Second, 5*time.Millisecond)
	stop()

	assert.True(t, (*browsers)[0].Closed())
	assert.False(t, m.Active())
}

func TestCloseOnSignal_StopLeavesBrowserOpen(t *testing.T) {
	_, browsers := countingBackend(t, "mock-stop")
	m := New(Options{Backend: "mock-stop"})
	_, err := m.Browser(context.Background())
	require.NoError(t, err)

	stop := m.CloseOnSignal(context.Background())
	stop()
	stop()

	assert.False(t, (*browsers)[0].Closed())
	require.NoError(t, m.Close())
}
