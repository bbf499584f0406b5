package main

import (
	"fmt"
	"time"

	"github.com/pkg/term"
)

// serialTransport adapts a *term.Term — which exposes only blocking
// reads — to otaproto.Transport's per-call SetReadDeadline contract.
// term.Open doesn't expose the underlying termios VMIN/VTIME knobs the
// way a lower-level ioctl wrapper would, so the deadline is enforced by
// racing the blocking read against a timer in a helper goroutine; a read
// that times out leaves its goroutine blocked on the next byte, which is
// harmless since the connection is long-lived for the process lifetime.
type serialTransport struct {
	t        *term.Term
	deadline time.Time
}

func openSerial(path string, baud int) (*serialTransport, error) {
	t, err := term.Open(path, term.Speed(baud), term.RawMode)
	if err != nil {
		return nil, fmt.Errorf("ota-host: open %s: %w", path, err)
	}
	return &serialTransport{t: t}, nil
}

func (s *serialTransport) Close() error {
	return s.t.Close()
}

func (s *serialTransport) SetReadDeadline(d time.Time) error {
	s.deadline = d
	return nil
}

func (s *serialTransport) Write(p []byte) (int, error) {
	return s.t.Write(p)
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "ota-host: serial read timed out" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

type readResult struct {
	n   int
	err error
}

func (s *serialTransport) Read(p []byte) (int, error) {
	if s.deadline.IsZero() {
		return s.t.Read(p)
	}
	remaining := time.Until(s.deadline)
	if remaining <= 0 {
		return 0, timeoutError{}
	}

	resCh := make(chan readResult, 1)
	go func() {
		n, err := s.t.Read(p)
		resCh <- readResult{n, err}
	}()

	select {
	case res := <-resCh:
		return res.n, res.err
	case <-time.After(remaining):
		return 0, timeoutError{}
	}
}
