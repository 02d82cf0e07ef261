// ABOUTME: In-memory Dialer and Conn fakes for session tests
// ABOUTME: Lets tests play the relay side frame by frame

package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/halfattire/inbox/internal/realtime"
)

type fakeConn struct {
	in     chan realtime.Frame // relay -> client
	out    chan realtime.Frame // client -> relay
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan realtime.Frame, 16),
		out:    make(chan realtime.Frame, 16),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadFrame() (realtime.Frame, error) {
	select {
	case f := <-c.in:
		return f, nil
	case <-c.closed:
		return realtime.Frame{}, io.EOF
	}
}

func (c *fakeConn) WriteFrame(f realtime.Frame) error {
	select {
	case <-c.closed:
		return realtime.ErrClosed
	default:
	}
	select {
	case c.out <- f:
		return nil
	case <-c.closed:
		return realtime.ErrClosed
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// push sends a frame from the relay side.
func (c *fakeConn) push(t *testing.T, event string, payload any) {
	t.Helper()
	f, err := realtime.NewFrame(event, payload)
	require.NoError(t, err)
	c.in <- f
}

// written waits for the next frame the client wrote.
func (c *fakeConn) written(t *testing.T) realtime.Frame {
	t.Helper()
	select {
	case f := <-c.out:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for client frame")
		return realtime.Frame{}
	}
}

// fakeDialer hands out scripted results in order. Once the script is exhausted
// every Dial fails.
type fakeDialer struct {
	mu      sync.Mutex
	results []dialResult
	dials   int
	dialed  chan *fakeConn
}

type dialResult struct {
	conn *fakeConn
	err  error
}

func newFakeDialer(results ...dialResult) *fakeDialer {
	return &fakeDialer{results: results, dialed: make(chan *fakeConn, 16)}
}

func (d *fakeDialer) Dial(ctx context.Context) (realtime.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if len(d.results) == 0 {
		return nil, errors.New("relay unreachable")
	}
	r := d.results[0]
	d.results = d.results[1:]
	if r.err != nil {
		return nil, r.err
	}
	d.dialed <- r.conn
	return r.conn, nil
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// recordingSleep records requested delays and returns immediately, or blocks
// until ctx ends once block is set.
type recordingSleep struct {
	mu     sync.Mutex
	delays []time.Duration
	gate   chan struct{}
}

func (s *recordingSleep) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	gate := s.gate
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return ctx.Err()
}

func (s *recordingSleep) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}
