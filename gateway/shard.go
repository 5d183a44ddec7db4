package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Status is the connection state of a shard.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusIdentifying  Status = "identifying"
	StatusResuming     Status = "resuming"
	StatusReady        Status = "ready"
)

// closeAbnormal is reported when the socket dropped without a close frame.
const closeAbnormal = 1006

// Session is a snapshot of a shard's session state.
type Session struct {
	ShardID   int
	SessionID string
	Sequence  int64
	ResumeURL string
	Status    Status
}

// Shard is one gateway connection and its protocol state machine.
// It is safe for concurrent use by multiple goroutines.
type Shard struct {
	id          int
	totalShards int
	baseURL     string
	cfg         *config
	log         *slog.Logger
	limiter     *rate.Limiter
	events      hub

	mu        sync.Mutex
	status    Status
	sessionID string
	sequence  int64
	hasSeq    bool
	resumeURL string
	presence  *Presence

	conn       Conn
	connID     string
	gen        uint64
	connecting bool
	stopBeat   context.CancelFunc

	acked    bool
	lastBeat time.Time
	ping     time.Duration
	hasPing  bool

	attempts       int
	reconnectTimer *time.Timer
	destroyed      bool
}

// NewShard creates a standalone shard. Connect must be called to open it.
// The gateway URL is taken from WithURL, falling back to DefaultURL.
func NewShard(token string, id, totalShards int, opts ...Option) *Shard {
	cfg := newConfig(token, opts)
	url := cfg.url
	if url == "" {
		url = DefaultURL
	}
	return newShard(cfg, id, totalShards, url)
}

func newShard(cfg *config, id, totalShards int, baseURL string) *Shard {
	if totalShards < 1 {
		totalShards = 1
	}
	return &Shard{
		id:          id,
		totalShards: totalShards,
		baseURL:     baseURL,
		cfg:         cfg,
		log:         cfg.logger.With(slog.Int("shard_id", id)),
		limiter:     rate.NewLimiter(cfg.sendLimit, cfg.sendBurst),
		status:      StatusDisconnected,
		acked:       true,
		presence:    cfg.presence,
	}
}

// ID returns the shard ID.
func (s *Shard) ID() int {
	return s.id
}

// Status returns the current connection state.
func (s *Shard) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Session returns a snapshot of the session state.
func (s *Shard) Session() Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Session{
		ShardID:   s.id,
		SessionID: s.sessionID,
		Sequence:  s.sequence,
		ResumeURL: s.resumeURL,
		Status:    s.status,
	}
}

// Ping returns the last heartbeat round-trip and whether one was measured.
func (s *Shard) Ping() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ping, s.hasPing
}

// Subscribe registers a handler for this shard's events.
func (s *Shard) Subscribe(fn Handler) func() {
	return s.events.Subscribe(fn)
}

// Connect opens the socket. It is a no-op when a socket is already open or
// being opened, or when the shard was destroyed. A dial failure schedules a
// reconnect and is returned.
func (s *Shard) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.destroyed || s.conn != nil || s.connecting {
		s.mu.Unlock()
		return nil
	}
	s.connecting = true
	s.status = StatusConnecting
	s.gen++
	gen := s.gen
	url := s.gatewayURL()
	s.mu.Unlock()

	connID := uuid.NewString()
	s.log.Debug("connecting", slog.String("url", url), slog.String("conn_id", connID))

	conn, err := s.cfg.dialer.Dial(ctx, url)

	s.mu.Lock()
	s.connecting = false
	if s.destroyed || gen != s.gen {
		s.mu.Unlock()
		if conn != nil {
			_ = conn.CloseNow()
		}
		return nil
	}
	if err != nil {
		s.status = StatusDisconnected
		pending := s.scheduleReconnectLocked(false)
		s.mu.Unlock()
		s.log.Debug("dial failed", slog.String("conn_id", connID), slog.Any("error", err))
		s.emit(pending...)
		return err
	}
	s.conn = conn
	s.connID = connID
	s.mu.Unlock()

	s.log.Debug("connection established", slog.String("conn_id", connID))
	go s.readLoop(conn, gen)
	return nil
}

// Send writes a frame. Frames are paced to the gateway's send budget.
func (s *Shard) Send(ctx context.Context, op Opcode, data any) error {
	frame, err := json.Marshal(outbound{Op: op, Data: data})
	if err != nil {
		return &ProtocolError{Message: "encode " + op.String(), Err: err}
	}
	if len(frame) > MaxPayloadSize {
		return ErrPayloadTooLarge
	}

	s.mu.Lock()
	destroyed, conn := s.destroyed, s.conn
	s.mu.Unlock()
	if destroyed {
		return ErrDestroyed
	}
	if conn == nil {
		return ErrNotConnected
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	return s.write(ctx, conn, op, frame)
}

// SetPresence stores the presence for future identifies and sends it when
// a socket is open. The stored presence is kept even if the send fails.
func (s *Shard) SetPresence(ctx context.Context, p Presence) error {
	p = p.withDefaults()
	s.mu.Lock()
	s.presence = &p
	s.mu.Unlock()
	return s.Send(ctx, OpPresenceUpdate, p)
}

// Reconnect closes the socket with code 4000 and reconnects immediately,
// keeping the session so that it is resumed.
func (s *Shard) Reconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return
	}
	s.closeConnLocked(CloseUnknownError, "reconnect")
	s.scheduleReconnectLocked(true)
}

// Destroy tears the shard down for good: timers are stopped, the socket is
// dropped and no reconnect will happen.
func (s *Shard) Destroy() {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	s.destroyed = true
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
	s.stopHeartbeatLocked()
	conn := s.conn
	s.conn = nil
	s.gen++
	s.status = StatusDisconnected
	s.sessionID = ""
	s.sequence = 0
	s.hasSeq = false
	s.resumeURL = ""
	s.mu.Unlock()

	if conn != nil {
		_ = conn.CloseNow()
	}
	s.events.clear()
	s.log.Debug("destroyed")
}

// gatewayURL returns the URL for the next connection. Callers hold s.mu.
func (s *Shard) gatewayURL() string {
	url := s.resumeURL
	if url == "" {
		url = s.baseURL
	}
	if !s.cfg.compress || strings.Contains(url, "compress=") {
		return url
	}
	sep := "?"
	if strings.Contains(url, "?") {
		sep = "&"
	}
	return url + sep + "compress=zlib-stream"
}

func (s *Shard) readLoop(conn Conn, gen uint64) {
	var z *inflater
	if s.cfg.compress {
		z = newInflater()
	}

	for {
		data, err := conn.Read(context.Background())
		if err != nil {
			s.handleClose(gen, err)
			return
		}

		if z != nil {
			msg, ok, err := z.Inflate(data)
			if err != nil {
				s.protocolFailure(gen, &ProtocolError{Message: "inflate frame", Err: err})
				return
			}
			if !ok {
				continue
			}
			data = msg
		}

		var p Payload
		if err := json.Unmarshal(data, &p); err != nil {
			s.protocolFailure(gen, &ProtocolError{Message: "invalid JSON", Err: err})
			return
		}

		if s.cfg.onReceive != nil {
			s.cfg.onReceive(&p)
		}

		if err := s.handlePayload(gen, &p); err != nil {
			s.protocolFailure(gen, err)
			return
		}
	}
}

func (s *Shard) handlePayload(gen uint64, p *Payload) error {
	s.mu.Lock()
	if gen != s.gen || s.destroyed {
		s.mu.Unlock()
		return nil
	}

	if p.Sequence != nil && (!s.hasSeq || *p.Sequence > s.sequence) {
		s.sequence = *p.Sequence
		s.hasSeq = true
	}

	s.log.Debug("received frame", slog.String("op", p.Op.String()), slog.String("event", p.Type))

	switch p.Op {
	case OpHello:
		var hello HelloData
		if err := json.Unmarshal(p.Data, &hello); err != nil || hello.HeartbeatInterval <= 0 {
			s.mu.Unlock()
			return &ProtocolError{Message: "invalid hello", Err: err}
		}
		s.startHeartbeatLocked(gen, time.Duration(hello.HeartbeatInterval)*time.Millisecond)

		var op Opcode
		var data any
		if s.sessionID != "" && s.hasSeq {
			s.status = StatusResuming
			op, data = OpResume, ResumeData{Token: s.cfg.token, SessionID: s.sessionID, Sequence: s.sequence}
		} else {
			s.status = StatusIdentifying
			op, data = OpIdentify, s.identifyData()
		}
		conn := s.conn
		s.mu.Unlock()

		s.sendHandshake(conn, op, data)
		return nil

	case OpHeartbeat:
		conn, seq := s.conn, s.heartbeatSeqLocked()
		s.mu.Unlock()
		s.writeHeartbeat(conn, seq)
		return nil

	case OpHeartbeatAck:
		s.acked = true
		if !s.lastBeat.IsZero() {
			s.ping = time.Since(s.lastBeat)
			s.hasPing = true
		}
		s.mu.Unlock()
		return nil

	case OpDispatch:
		var seq int64
		if p.Sequence != nil {
			seq = *p.Sequence
		}
		pending := make([]Event, 0, 2)
		switch p.Type {
		case EventReady:
			var ready ReadyData
			if err := json.Unmarshal(p.Data, &ready); err != nil {
				s.mu.Unlock()
				return &ProtocolError{Message: "invalid READY", Err: err}
			}
			s.sessionID = ready.SessionID
			s.resumeURL = ready.ResumeGatewayURL
			s.status = StatusReady
			s.attempts = 0
			pending = append(pending, &ReadyEvent{ShardID: s.id, SessionID: ready.SessionID, Data: p.Data})
		case EventResumed:
			s.status = StatusReady
			s.attempts = 0
			pending = append(pending, &ResumedEvent{ShardID: s.id})
		}
		s.mu.Unlock()

		pending = append(pending, &DispatchEvent{ShardID: s.id, Name: p.Type, Sequence: seq, Data: p.Data})
		s.emit(pending...)
		return nil

	case OpReconnect:
		s.log.Debug("gateway requested reconnect")
		s.closeConnLocked(CloseUnknownError, "reconnect requested")
		s.scheduleReconnectLocked(true)
		s.mu.Unlock()
		return nil

	case OpInvalidSession:
		resumable := strings.TrimSpace(string(p.Data)) == "true"
		s.log.Debug("session invalidated", slog.Any("error", &SessionError{SessionID: s.sessionID, Resumable: resumable}))
		if !resumable {
			s.sessionID = ""
			s.sequence = 0
			s.hasSeq = false
		}
		s.scheduleInvalidSessionLocked(gen)
		s.mu.Unlock()
		return nil

	default:
		s.mu.Unlock()
		return &ProtocolError{Message: "unexpected opcode " + p.Op.String()}
	}
}

func (s *Shard) identifyData() IdentifyData {
	return IdentifyData{
		Token:          s.cfg.token,
		Intents:        s.cfg.intents,
		Properties:     s.cfg.properties,
		Compress:       s.cfg.compress,
		LargeThreshold: s.cfg.largeThreshold,
		Shard:          [2]int{s.id, s.totalShards},
		Presence:       s.presence,
	}
}

func (s *Shard) sendHandshake(conn Conn, op Opcode, data any) {
	if conn == nil {
		return
	}
	frame, err := json.Marshal(outbound{Op: op, Data: data})
	if err != nil {
		s.log.Debug("encode handshake", slog.Any("error", err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.dialTimeout)
	defer cancel()
	if err := s.limiter.Wait(ctx); err != nil {
		s.log.Debug("handshake pacing", slog.Any("error", err))
		return
	}
	if err := s.write(ctx, conn, op, frame); err != nil {
		s.log.Debug("handshake write failed", slog.String("op", op.String()), slog.Any("error", err))
	}
}

func (s *Shard) write(ctx context.Context, conn Conn, op Opcode, frame []byte) error {
	if s.cfg.onSend != nil {
		s.cfg.onSend(op, frame)
	}
	return conn.Write(ctx, frame)
}

// --- Heartbeat ---

func (s *Shard) startHeartbeatLocked(gen uint64, interval time.Duration) {
	s.stopHeartbeatLocked()
	s.acked = true
	ctx, cancel := context.WithCancel(context.Background())
	s.stopBeat = cancel
	go s.heartbeatLoop(ctx, gen, firstBeatDelay(interval, s.cfg.random()), interval)
}

// firstBeatDelay scales interval by r, staying within [0, interval).
func firstBeatDelay(interval time.Duration, r float64) time.Duration {
	d := time.Duration(r * float64(interval))
	if d >= interval {
		d = interval - 1
	}
	return max(d, 0)
}

func (s *Shard) stopHeartbeatLocked() {
	if s.stopBeat != nil {
		s.stopBeat()
		s.stopBeat = nil
	}
}

func (s *Shard) heartbeatLoop(ctx context.Context, gen uint64, first, interval time.Duration) {
	timer := time.NewTimer(first)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}
	if !s.beat(gen) {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.beat(gen) {
				return
			}
		}
	}
}

// beat sends a heartbeat, or forces a reconnect when the previous one was
// never acknowledged. It returns false once the loop should stop.
func (s *Shard) beat(gen uint64) bool {
	s.mu.Lock()
	if gen != s.gen || s.destroyed {
		s.mu.Unlock()
		return false
	}
	if !s.acked {
		s.log.Debug("heartbeat not acknowledged, reconnecting")
		s.closeConnLocked(CloseUnknownError, "heartbeat timeout")
		pending := s.scheduleReconnectLocked(false)
		s.mu.Unlock()
		s.emit(pending...)
		return false
	}
	s.acked = false
	s.lastBeat = time.Now()
	conn, seq := s.conn, s.heartbeatSeqLocked()
	s.mu.Unlock()

	s.writeHeartbeat(conn, seq)
	return true
}

func (s *Shard) heartbeatSeqLocked() *int64 {
	if !s.hasSeq {
		return nil
	}
	seq := s.sequence
	return &seq
}

// writeHeartbeat bypasses the send pacer so liveness is never starved.
func (s *Shard) writeHeartbeat(conn Conn, seq *int64) {
	if conn == nil {
		return
	}
	frame, _ := json.Marshal(outbound{Op: OpHeartbeat, Data: seq})
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.dialTimeout)
	defer cancel()
	if err := s.write(ctx, conn, OpHeartbeat, frame); err != nil {
		s.log.Debug("heartbeat write failed", slog.Any("error", err))
	}
}

// --- Failure handling ---

func (s *Shard) handleClose(gen uint64, err error) {
	s.mu.Lock()
	if gen != s.gen || s.destroyed {
		s.mu.Unlock()
		return
	}
	s.gen++
	s.conn = nil
	s.stopHeartbeatLocked()
	s.status = StatusDisconnected

	code := closeAbnormal
	var ce *CloseError
	if errors.As(err, &ce) {
		code = ce.Code
	} else {
		ce = &CloseError{Code: code}
	}

	if IsFatalClose(code) {
		s.mu.Unlock()
		s.log.Error("gateway closed with non-resumable code", slog.Int("code", code), slog.String("reason", ce.Reason))
		s.emit(
			&ErrorEvent{ShardID: s.id, Err: &GatewayError{ShardID: s.id, Err: ce}},
			&DisconnectEvent{ShardID: s.id, Code: code, Fatal: true},
		)
		return
	}

	pending := s.scheduleReconnectLocked(false)
	s.mu.Unlock()

	s.log.Debug("connection closed", slog.Int("code", code), slog.Any("error", err))
	if len(pending) > 0 {
		s.emit(pending...)
		return
	}
	s.emit(&DisconnectEvent{ShardID: s.id, Code: code})
}

func (s *Shard) protocolFailure(gen uint64, err error) {
	s.mu.Lock()
	if gen != s.gen || s.destroyed {
		s.mu.Unlock()
		return
	}
	s.closeConnLocked(CloseProtocolError, "protocol error")
	pending := s.scheduleReconnectLocked(false)
	s.mu.Unlock()

	s.log.Debug("protocol error", slog.Any("error", err))
	s.emit(&ErrorEvent{ShardID: s.id, Err: err})
	s.emit(pending...)
}

// closeConnLocked detaches and closes the current socket. Frames and close
// notifications from the detached socket are ignored from here on.
// Without an open socket this only stops the heartbeat, so a dial in
// progress still completes.
func (s *Shard) closeConnLocked(code int, reason string) {
	s.stopHeartbeatLocked()
	conn := s.conn
	if conn == nil {
		return
	}
	s.gen++
	s.conn = nil
	s.status = StatusDisconnected
	go func() {
		if err := conn.Close(code, reason); err != nil {
			_ = conn.CloseNow()
		}
	}()
}

// scheduleReconnectLocked arms the reconnect timer. Unless immediate, the
// attempt counts against the reconnect budget and waits for the backoff
// delay. When the budget is exhausted it returns the fatal events to emit.
func (s *Shard) scheduleReconnectLocked(immediate bool) []Event {
	if s.destroyed {
		return nil
	}
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
	}

	var delay time.Duration
	if !immediate {
		if s.attempts >= s.cfg.maxReconnectAttempts {
			s.reconnectTimer = nil
			s.log.Error("reconnect attempts exhausted", slog.Int("attempts", s.attempts))
			return []Event{
				&ErrorEvent{ShardID: s.id, Err: &GatewayError{ShardID: s.id, Err: ErrReconnectExhausted}},
				&DisconnectEvent{ShardID: s.id, Fatal: true},
			}
		}
		s.attempts++
		delay = backoffDelay(s.attempts, s.cfg.backoffBase, s.cfg.backoffMax)
	}

	s.log.Debug("reconnecting", slog.Duration("delay", delay), slog.Int("attempt", s.attempts))
	s.reconnectTimer = time.AfterFunc(delay, s.reconnectNow)
	return nil
}

func (s *Shard) scheduleInvalidSessionLocked(gen uint64) {
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
	}
	spread := float64(s.cfg.invalidSessionMax - s.cfg.invalidSessionMin)
	delay := s.cfg.invalidSessionMin + time.Duration(s.cfg.random()*spread)

	s.reconnectTimer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		if gen != s.gen || s.destroyed {
			s.mu.Unlock()
			return
		}
		s.closeConnLocked(CloseNormal, "invalid session")
		s.mu.Unlock()
		s.reconnectNow()
	})
}

func (s *Shard) reconnectNow() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.dialTimeout)
	defer cancel()
	_ = s.Connect(ctx)
}

func (s *Shard) emit(events ...Event) {
	for _, e := range events {
		s.events.publish(e)
	}
}

// backoffDelay returns min(base * 2^(attempt-1), max).
func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}
