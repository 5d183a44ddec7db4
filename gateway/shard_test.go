package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestShard_HelloIdentifiesWithoutSession(t *testing.T) {
	d := newFakeDialer()
	s := newTestShard(t, d)

	require.NoError(t, s.Connect(context.Background()))
	conn := d.waitConn(t)
	conn.hello(t, 45000)

	f := conn.waitWrite(t)
	if f.Op != OpIdentify {
		t.Fatalf("Op = %v, want identify", f.Op)
	}

	var data IdentifyData
	require.NoError(t, json.Unmarshal(f.Data, &data))
	if data.Token != "test-token" {
		t.Errorf("Token = %s, want test-token", data.Token)
	}
	if data.Intents != 513 {
		t.Errorf("Intents = %d, want 513", data.Intents)
	}
	if data.Shard != [2]int{0, 1} {
		t.Errorf("Shard = %v, want [0 1]", data.Shard)
	}
	if data.LargeThreshold != 50 {
		t.Errorf("LargeThreshold = %d, want 50", data.LargeThreshold)
	}
	if s.Status() != StatusIdentifying {
		t.Errorf("Status() = %s, want identifying", s.Status())
	}
	if n := conn.frameCount(OpResume); n != 0 {
		t.Errorf("sent %d resume frames, want 0", n)
	}
}

func TestShard_ReadyThenResumeOnReconnect(t *testing.T) {
	d := newFakeDialer()
	s := newTestShard(t, d)
	events := collect(s)

	require.NoError(t, s.Connect(context.Background()))
	conn := d.waitConn(t)
	conn.hello(t, 45000)
	conn.waitWrite(t)

	conn.dispatch(t, 5, EventReady, ReadyData{SessionID: "abc", ResumeGatewayURL: "wss://resume.test"})
	ready := next[*ReadyEvent](t, events)
	if ready.SessionID != "abc" {
		t.Errorf("SessionID = %s, want abc", ready.SessionID)
	}
	dispatch := next[*DispatchEvent](t, events)
	if dispatch.Name != EventReady || dispatch.Sequence != 5 {
		t.Errorf("dispatch = %s/%d, want READY/5", dispatch.Name, dispatch.Sequence)
	}

	conn.closeFromPeer(4000)
	disc := next[*DisconnectEvent](t, events)
	if disc.Code != 4000 || disc.Fatal {
		t.Errorf("disconnect = %d fatal=%v, want 4000 non-fatal", disc.Code, disc.Fatal)
	}

	conn2 := d.waitConn(t)
	if conn2.url != "wss://resume.test" {
		t.Errorf("reconnect url = %s, want wss://resume.test", conn2.url)
	}
	conn2.hello(t, 45000)

	f := conn2.waitWrite(t)
	if f.Op != OpResume {
		t.Fatalf("Op = %v, want resume", f.Op)
	}
	var data ResumeData
	require.NoError(t, json.Unmarshal(f.Data, &data))
	if data.SessionID != "abc" || data.Sequence != 5 || data.Token != "test-token" {
		t.Errorf("resume = %+v, want session abc seq 5", data)
	}
	if s.Status() != StatusResuming {
		t.Errorf("Status() = %s, want resuming", s.Status())
	}

	conn2.dispatch(t, 6, EventResumed, nil)
	next[*ResumedEvent](t, events)
	if s.Status() != StatusReady {
		t.Errorf("Status() = %s, want ready", s.Status())
	}
}

func TestShard_FatalCloseCodes(t *testing.T) {
	for _, code := range []int{4004, 4010, 4011, 4012, 4013, 4014} {
		t.Run(strconv.Itoa(code), func(t *testing.T) {
			d := newFakeDialer()
			s := newTestShard(t, d)
			events := collect(s)

			require.NoError(t, s.Connect(context.Background()))
			conn := d.waitConn(t)
			conn.closeFromPeer(code)

			errEvent := next[*ErrorEvent](t, events)
			var ge *GatewayError
			if !errors.As(errEvent.Err, &ge) {
				t.Fatalf("error = %v, want *GatewayError", errEvent.Err)
			}
			var ce *CloseError
			if !errors.As(errEvent.Err, &ce) || ce.Code != code {
				t.Errorf("close code = %v, want %d", errEvent.Err, code)
			}

			disc := next[*DisconnectEvent](t, events)
			if !disc.Fatal || disc.Code != code {
				t.Errorf("disconnect = %+v, want fatal %d", disc, code)
			}

			d.expectNoDial(t, 50*time.Millisecond)
			if s.Status() != StatusDisconnected {
				t.Errorf("Status() = %s, want disconnected", s.Status())
			}
		})
	}
}

func TestShard_NonFatalCloseReconnects(t *testing.T) {
	d := newFakeDialer()
	s := newTestShard(t, d)

	require.NoError(t, s.Connect(context.Background()))
	conn := d.waitConn(t)
	conn.closeFromPeer(1001)

	d.waitConn(t)
	if n := d.dialCount(); n != 2 {
		t.Errorf("dials = %d, want 2", n)
	}
}

func TestShard_HeartbeatAcked(t *testing.T) {
	d := newFakeDialer()
	s := newTestShard(t, d)
	s.cfg.random = func() float64 { return 0 }

	require.NoError(t, s.Connect(context.Background()))
	conn := d.waitConn(t)
	conn.dispatch(t, 3, "MESSAGE_CREATE", map[string]string{"id": "1"})
	conn.hello(t, 20)

	var beats []time.Time
	for len(beats) < 3 {
		f := conn.waitWrite(t)
		if f.Op != OpHeartbeat {
			continue
		}
		if string(f.Data) != "3" {
			t.Errorf("heartbeat d = %s, want 3", f.Data)
		}
		beats = append(beats, time.Now())
		conn.send(t, OpHeartbeatAck, nil, "", nil)
	}

	for i := 1; i < len(beats); i++ {
		gap := beats[i].Sub(beats[i-1])
		if gap < 15*time.Millisecond || gap > 60*time.Millisecond {
			t.Errorf("beat gap %d = %v, want about 20ms", i, gap)
		}
	}

	select {
	case <-conn.done:
		t.Fatal("connection closed while heartbeats were acked")
	default:
	}

	require.Eventually(t, func() bool {
		_, ok := s.Ping()
		return ok
	}, time.Second, 5*time.Millisecond)
}

func TestFirstBeatDelay(t *testing.T) {
	interval := 40 * time.Second
	tests := []struct {
		r    float64
		want time.Duration
	}{
		{0, 0},
		{0.5, 20 * time.Second},
		{0.75, 30 * time.Second},
		{1, interval - 1},
		{-0.1, 0},
	}
	for _, tt := range tests {
		got := firstBeatDelay(interval, tt.r)
		if got != tt.want {
			t.Errorf("firstBeatDelay(%v, %v) = %v, want %v", interval, tt.r, got, tt.want)
		}
		if got < 0 || got >= interval {
			t.Errorf("firstBeatDelay(%v, %v) = %v, outside [0, interval)", interval, tt.r, got)
		}
	}
}

func TestShard_FirstHeartbeatJitter(t *testing.T) {
	for _, r := range []float64{0.5, 0.999} {
		d := newFakeDialer()
		s := newTestShard(t, d)
		s.cfg.random = func() float64 { return r }

		require.NoError(t, s.Connect(context.Background()))
		conn := d.waitConn(t)
		interval := 200 * time.Millisecond
		start := time.Now()
		conn.hello(t, interval.Milliseconds())

		var first time.Duration
		for first == 0 {
			if f := conn.waitWrite(t); f.Op == OpHeartbeat {
				first = time.Since(start)
			}
		}

		want := time.Duration(r * float64(interval))
		if first < want-20*time.Millisecond || first > want+60*time.Millisecond {
			t.Errorf("random %v: first beat after %v, want about %v", r, first, want)
		}
		s.Destroy()
	}
}

func TestShard_HeartbeatUnackedForcesReconnect(t *testing.T) {
	d := newFakeDialer()
	s := newTestShard(t, d)
	s.cfg.random = func() float64 { return 0 }

	require.NoError(t, s.Connect(context.Background()))
	conn := d.waitConn(t)
	conn.hello(t, 30)

	code := conn.waitClosed(t)
	if code != CloseUnknownError {
		t.Errorf("close code = %d, want 4000", code)
	}
	if n := conn.frameCount(OpHeartbeat); n != 1 {
		t.Errorf("heartbeats = %d, want 1", n)
	}

	d.waitConn(t)
}

func TestShard_ServerHeartbeatRequest(t *testing.T) {
	d := newFakeDialer()
	s := newTestShard(t, d)

	require.NoError(t, s.Connect(context.Background()))
	conn := d.waitConn(t)
	conn.hello(t, 45000)
	conn.waitWrite(t)

	conn.send(t, OpHeartbeat, nil, "", nil)
	f := conn.waitWrite(t)
	if f.Op != OpHeartbeat {
		t.Errorf("Op = %v, want heartbeat", f.Op)
	}
}

func TestShard_ReconnectOpcodeSkipsBackoff(t *testing.T) {
	d := newFakeDialer()
	s := newTestShard(t, d, WithBackoff(time.Hour, time.Hour))

	require.NoError(t, s.Connect(context.Background()))
	conn := d.waitConn(t)
	conn.hello(t, 45000)
	conn.waitWrite(t)

	conn.send(t, OpReconnect, nil, "", nil)
	if code := conn.waitClosed(t); code != CloseUnknownError {
		t.Errorf("close code = %d, want 4000", code)
	}
	d.waitConn(t)
}

func TestShard_InvalidSessionNotResumable(t *testing.T) {
	d := newFakeDialer()
	s := newTestShard(t, d)

	require.NoError(t, s.Connect(context.Background()))
	conn := d.waitConn(t)
	conn.hello(t, 45000)
	conn.waitWrite(t)
	conn.dispatch(t, 2, EventReady, ReadyData{SessionID: "abc"})

	conn.send(t, OpInvalidSession, nil, "", false)
	if code := conn.waitClosed(t); code != CloseNormal {
		t.Errorf("close code = %d, want 1000", code)
	}

	conn2 := d.waitConn(t)
	conn2.hello(t, 45000)
	f := conn2.waitWrite(t)
	if f.Op != OpIdentify {
		t.Errorf("Op = %v, want identify after non-resumable invalid session", f.Op)
	}
	if sess := s.Session(); sess.SessionID != "" || sess.Sequence != 0 {
		t.Errorf("session = %+v, want cleared", sess)
	}
}

func TestShard_InvalidSessionResumable(t *testing.T) {
	d := newFakeDialer()
	s := newTestShard(t, d)

	require.NoError(t, s.Connect(context.Background()))
	conn := d.waitConn(t)
	conn.hello(t, 45000)
	conn.waitWrite(t)
	conn.dispatch(t, 2, EventReady, ReadyData{SessionID: "abc"})

	conn.send(t, OpInvalidSession, nil, "", true)
	conn.waitClosed(t)

	conn2 := d.waitConn(t)
	conn2.hello(t, 45000)
	if f := conn2.waitWrite(t); f.Op != OpResume {
		t.Errorf("Op = %v, want resume", f.Op)
	}
}

func TestShard_InvalidJSONClosesWithProtocolError(t *testing.T) {
	d := newFakeDialer()
	s := newTestShard(t, d)
	events := collect(s)

	require.NoError(t, s.Connect(context.Background()))
	conn := d.waitConn(t)
	conn.frames <- []byte("{not json")

	errEvent := next[*ErrorEvent](t, events)
	var pe *ProtocolError
	if !errors.As(errEvent.Err, &pe) {
		t.Errorf("error = %v, want *ProtocolError", errEvent.Err)
	}
	if code := conn.waitClosed(t); code != CloseProtocolError {
		t.Errorf("close code = %d, want 1002", code)
	}
	d.waitConn(t)
}

func TestShard_SequenceIsMonotonic(t *testing.T) {
	d := newFakeDialer()
	s := newTestShard(t, d)
	events := collect(s)

	require.NoError(t, s.Connect(context.Background()))
	conn := d.waitConn(t)
	conn.dispatch(t, 10, "A", nil)
	conn.dispatch(t, 7, "B", nil)
	next[*DispatchEvent](t, events)
	next[*DispatchEvent](t, events)

	if seq := s.Session().Sequence; seq != 10 {
		t.Errorf("Sequence = %d, want 10", seq)
	}
}

func TestShard_DestroySuppressesReconnect(t *testing.T) {
	d := newFakeDialer()
	s := newTestShard(t, d)

	require.NoError(t, s.Connect(context.Background()))
	conn := d.waitConn(t)

	s.Destroy()
	conn.waitClosed(t)
	d.expectNoDial(t, 50*time.Millisecond)

	require.NoError(t, s.Connect(context.Background()))
	d.expectNoDial(t, 20*time.Millisecond)

	if err := s.Send(context.Background(), OpPresenceUpdate, Presence{}); !errors.Is(err, ErrDestroyed) {
		t.Errorf("Send error = %v, want ErrDestroyed", err)
	}
}

func TestShard_ConnectIsIdempotent(t *testing.T) {
	d := newFakeDialer()
	s := newTestShard(t, d)

	require.NoError(t, s.Connect(context.Background()))
	require.NoError(t, s.Connect(context.Background()))
	d.waitConn(t)
	d.expectNoDial(t, 20*time.Millisecond)
}

func TestShard_ReconnectBudgetExhausted(t *testing.T) {
	d := newFakeDialer()
	d.failAlways()
	s := newTestShard(t, d, WithMaxReconnectAttempts(2))
	events := collect(s)

	if err := s.Connect(context.Background()); err == nil {
		t.Fatal("expected dial error")
	}

	errEvent := next[*ErrorEvent](t, events)
	if !errors.Is(errEvent.Err, ErrReconnectExhausted) {
		t.Errorf("error = %v, want ErrReconnectExhausted", errEvent.Err)
	}
	if disc := next[*DisconnectEvent](t, events); !disc.Fatal {
		t.Error("disconnect should be fatal")
	}
	if n := d.dialCount(); n != 3 {
		t.Errorf("dials = %d, want 3", n)
	}
}

func TestShard_Send(t *testing.T) {
	d := newFakeDialer()
	s := newTestShard(t, d)

	if err := s.Send(context.Background(), OpPresenceUpdate, Presence{}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send before connect = %v, want ErrNotConnected", err)
	}

	require.NoError(t, s.Connect(context.Background()))
	conn := d.waitConn(t)

	big := strings.Repeat("x", MaxPayloadSize)
	if err := s.Send(context.Background(), OpPresenceUpdate, big); !errors.Is(err, ErrPayloadTooLarge) {
		t.Errorf("Send oversized = %v, want ErrPayloadTooLarge", err)
	}

	require.NoError(t, s.Send(context.Background(), OpRequestGuildMembers, map[string]any{"guild_id": "1"}))
	if f := conn.waitWrite(t); f.Op != OpRequestGuildMembers {
		t.Errorf("Op = %v, want request_guild_members", f.Op)
	}
}

func TestShard_GatewayURLCompression(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want string
	}{
		{"query", "wss://g.test/?v=1", "wss://g.test/?v=1&compress=zlib-stream"},
		{"no query", "wss://g.test", "wss://g.test?compress=zlib-stream"},
		{"already set", "wss://g.test/?compress=zlib-stream", "wss://g.test/?compress=zlib-stream"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewShard("t", 0, 1, WithURL(tt.url), WithCompression())
			if got := s.gatewayURL(); got != tt.want {
				t.Errorf("gatewayURL() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestBackoffDelay(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{20, 30 * time.Second},
		{100, 30 * time.Second},
	}
	for _, tt := range tests {
		if got := backoffDelay(tt.attempt, time.Second, 30*time.Second); got != tt.want {
			t.Errorf("backoffDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestIsFatalClose(t *testing.T) {
	for _, code := range []int{4004, 4010, 4011, 4012, 4013, 4014} {
		if !IsFatalClose(code) {
			t.Errorf("IsFatalClose(%d) = false, want true", code)
		}
	}
	for _, code := range []int{1000, 1001, 1002, 1006, 4000, 4001, 4007, 4009} {
		if IsFatalClose(code) {
			t.Errorf("IsFatalClose(%d) = true, want false", code)
		}
	}
}

func TestShard_SetPresenceStoredWhileDisconnected(t *testing.T) {
	d := newFakeDialer()
	s := newTestShard(t, d)

	err := s.SetPresence(context.Background(), Presence{Status: "idle", Activities: []Activity{{Name: "tests"}}})
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("SetPresence error = %v, want ErrNotConnected", err)
	}

	require.NoError(t, s.Connect(context.Background()))
	conn := d.waitConn(t)
	conn.hello(t, 45000)
	f := conn.waitWrite(t)
	if f.Op != OpIdentify {
		t.Fatalf("Op = %v, want identify", f.Op)
	}
	var data IdentifyData
	require.NoError(t, json.Unmarshal(f.Data, &data))
	if data.Presence == nil || data.Presence.Status != "idle" || len(data.Presence.Activities) != 1 {
		t.Errorf("identify presence = %+v, want idle with one activity", data.Presence)
	}
}
