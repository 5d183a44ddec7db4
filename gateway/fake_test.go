package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"testing"
	"time"
)

// fakeConn implements Conn for testing. The test plays the server.
type fakeConn struct {
	url      string
	frames   chan []byte
	peerDone chan error
	written  chan outboundFrame
	done     chan struct{}

	mu        sync.Mutex
	closed    bool
	closeCode int
	writes    []outboundFrame
}

type outboundFrame struct {
	Op   Opcode          `json:"op"`
	Data json.RawMessage `json:"d"`
}

func newFakeConn(url string) *fakeConn {
	return &fakeConn{
		url:       url,
		frames:    make(chan []byte, 100),
		peerDone:  make(chan error, 1),
		written:   make(chan outboundFrame, 100),
		done:      make(chan struct{}),
		closeCode: -1,
	}
}

func (c *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case f := <-c.frames:
		return f, nil
	case err := <-c.peerDone:
		return nil, err
	case <-c.done:
		return nil, &ConnectionError{Op: "read", Err: net.ErrClosed}
	}
}

func (c *fakeConn) Write(ctx context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrNotConnected
	}
	var f outboundFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	c.writes = append(c.writes, f)
	select {
	case c.written <- f:
	default:
	}
	return nil
}

func (c *fakeConn) Close(code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.closeCode = code
	close(c.done)
	return nil
}

func (c *fakeConn) CloseNow() error {
	return c.Close(-1, "")
}

// send pushes a server frame.
func (c *fakeConn) send(t *testing.T, op Opcode, seq *int64, name string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	frame, err := json.Marshal(Payload{Op: op, Data: raw, Sequence: seq, Type: name})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	c.frames <- frame
}

func (c *fakeConn) hello(t *testing.T, interval int64) {
	t.Helper()
	c.send(t, OpHello, nil, "", HelloData{HeartbeatInterval: interval})
}

func (c *fakeConn) dispatch(t *testing.T, seq int64, name string, data any) {
	t.Helper()
	c.send(t, OpDispatch, &seq, name, data)
}

// closeFromPeer simulates the server closing the socket.
func (c *fakeConn) closeFromPeer(code int) {
	c.peerDone <- &CloseError{Code: code}
}

func (c *fakeConn) waitWrite(t *testing.T) outboundFrame {
	t.Helper()
	select {
	case f := <-c.written:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for frame")
		return outboundFrame{}
	}
}

func (c *fakeConn) waitClosed(t *testing.T) int {
	t.Helper()
	select {
	case <-c.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for close")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode
}

func (c *fakeConn) frameCount(op Opcode) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, f := range c.writes {
		if f.Op == op {
			n++
		}
	}
	return n
}

// fakeDialer hands out fakeConns.
type fakeDialer struct {
	conns chan *fakeConn

	mu    sync.Mutex
	fail  int
	dials int
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{conns: make(chan *fakeConn, 100)}
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Conn, error) {
	d.mu.Lock()
	d.dials++
	if d.fail != 0 {
		if d.fail > 0 {
			d.fail--
		}
		d.mu.Unlock()
		return nil, &ConnectionError{Op: "dial", URL: url, Err: errors.New("connection refused")}
	}
	d.mu.Unlock()

	c := newFakeConn(url)
	d.conns <- c
	return c, nil
}

// failAlways makes every dial fail.
func (d *fakeDialer) failAlways() {
	d.mu.Lock()
	d.fail = -1
	d.mu.Unlock()
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) waitConn(t *testing.T) *fakeConn {
	t.Helper()
	select {
	case c := <-d.conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for dial")
		return nil
	}
}

func (d *fakeDialer) expectNoDial(t *testing.T, within time.Duration) {
	t.Helper()
	select {
	case c := <-d.conns:
		t.Fatalf("unexpected dial to %s", c.url)
	case <-time.After(within):
	}
}

// eventLog collects published events.
type eventLog struct {
	ch chan Event
}

func collect(sub interface{ Subscribe(Handler) func() }) *eventLog {
	l := &eventLog{ch: make(chan Event, 100)}
	sub.Subscribe(func(e Event) {
		l.ch <- e
	})
	return l
}

// next returns the next event of type T, skipping others.
func next[T Event](t *testing.T, l *eventLog) T {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case e := <-l.ch:
			if v, ok := e.(T); ok {
				return v
			}
		case <-deadline:
			var zero T
			t.Fatalf("timeout waiting for %T", zero)
			return zero
		}
	}
}

func newTestShard(t *testing.T, d *fakeDialer, opts ...Option) *Shard {
	t.Helper()
	base := []Option{
		WithDialer(d),
		WithURL("wss://gateway.test/?v=1"),
		WithIntents(513),
		WithBackoff(time.Millisecond, 10*time.Millisecond),
	}
	s := NewShard("test-token", 0, 1, append(base, opts...)...)
	s.cfg.random = func() float64 { return 0.999 }
	s.cfg.invalidSessionMin = time.Millisecond
	s.cfg.invalidSessionMax = 2 * time.Millisecond
	t.Cleanup(s.Destroy)
	return s
}

func int64Ptr(v int64) *int64 {
	return &v
}
