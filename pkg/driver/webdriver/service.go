package webdriver

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"strconv"
	"time"

	"github.com/devicelab-dev/browser-runner/pkg/core"
	"github.com/devicelab-dev/browser-runner/pkg/logger"
)

const (
	serviceStartupTimeout = 20 * time.Second
	servicePollInterval   = 100 * time.Millisecond
)

// Service is a driver executable running as a local WebDriver server.
type Service struct {
	cmd  *exec.Cmd
	port int
	done chan struct{}
}

// StartService launches binary on a free local port and waits until it
// reports ready. Driver output goes to the log file.
func StartService(ctx context.Context, binary string, browser core.BrowserName) (*Service, error) {
	port, err := freePort()
	if err != nil {
		return nil, fmt.Errorf("failed to allocate driver port: %w", err)
	}

	cmd := exec.Command(binary, portArgs(browser, port)...)
	out := logger.GetWriter()
	cmd.Stdout = out
	cmd.Stderr = out

	if err := cmd.Start(); err != nil {
		return nil, core.ErrBrowserUnreachable.WithCause(fmt.Errorf("failed to start %s: %w", binary, err))
	}

	s := &Service{cmd: cmd, port: port, done: make(chan struct{})}
	go func() {
		_ = cmd.Wait()
		close(s.done)
	}()

	logger.Info("started %s (pid %d) on port %d", binary, cmd.Process.Pid, port)

	if err := s.waitReady(ctx); err != nil {
		s.Stop()
		return nil, err
	}
	return s, nil
}

// portArgs returns the flag that sets the listen port; geckodriver spells it
// differently from the Chromium drivers.
func portArgs(browser core.BrowserName, port int) []string {
	if browser == core.Firefox {
		return []string{"--port", strconv.Itoa(port)}
	}
	return []string{"--port=" + strconv.Itoa(port)}
}

// URL returns the server URL.
func (s *Service) URL() string {
	return "http://127.0.0.1:" + strconv.Itoa(s.port)
}

func (s *Service) waitReady(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, serviceStartupTimeout)
	defer cancel()

	client := NewClient(s.URL())
	ticker := time.NewTicker(servicePollInterval)
	defer ticker.Stop()

	for {
		if ready, err := client.Status(); err == nil && ready {
			return nil
		}
		select {
		case <-s.done:
			return core.ErrBrowserUnreachable.WithMessage("driver exited during startup")
		case <-ctx.Done():
			return core.ErrBrowserUnreachable.WithCause(fmt.Errorf("driver not ready on %s: %w", s.URL(), ctx.Err()))
		case <-ticker.C:
		}
	}
}

// Stop kills the driver process and waits for it to exit.
func (s *Service) Stop() {
	if s.cmd == nil || s.cmd.Process == nil {
		return
	}
	_ = s.cmd.Process.Kill()
	<-s.done
	s.cmd = nil
}

func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
