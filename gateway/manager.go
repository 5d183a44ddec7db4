package gateway

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// BotInfoFetcher looks up the recommended shard count and session start limits.
type BotInfoFetcher interface {
	GatewayBot(ctx context.Context) (*BotInfo, error)
}

// BotInfoFunc adapts a function to the BotInfoFetcher interface.
type BotInfoFunc func(ctx context.Context) (*BotInfo, error)

// GatewayBot calls f(ctx).
func (f BotInfoFunc) GatewayBot(ctx context.Context) (*BotInfo, error) {
	return f(ctx)
}

// Manager owns the shards of one process.
// It is safe for concurrent use by multiple goroutines.
type Manager struct {
	cfg    *config
	log    *slog.Logger
	events hub

	mu             sync.RWMutex
	shards         map[int]*Shard
	unsubscribe    map[int]func()
	gatewayURL     string
	totalShards    int
	maxConcurrency int
	presence       *Presence
}

// NewManager creates a manager. Nothing is dialed until Connect or Spawn.
func NewManager(token string, opts ...Option) *Manager {
	cfg := newConfig(token, opts)
	m := &Manager{
		cfg:            cfg,
		log:            cfg.logger.With(slog.String("component", "gateway")),
		shards:         make(map[int]*Shard),
		unsubscribe:    make(map[int]func()),
		gatewayURL:     cfg.url,
		totalShards:    1,
		maxConcurrency: 1,
	}
	if m.gatewayURL == "" {
		m.gatewayURL = DefaultURL
	}
	if cfg.totalShards > 0 {
		m.totalShards = cfg.totalShards
	} else if cfg.shardCount > 0 {
		m.totalShards = cfg.shardCount
	}
	if cfg.maxConcurrency > 1 {
		m.maxConcurrency = cfg.maxConcurrency
	}
	return m
}

// Subscribe registers a handler for the events of every shard.
func (m *Manager) Subscribe(fn Handler) func() {
	return m.events.Subscribe(fn)
}

// TotalShards returns the shard count used for routing and identify.
func (m *Manager) TotalShards() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.totalShards
}

// MaxConcurrency returns how many shards may identify at once.
func (m *Manager) MaxConcurrency() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.maxConcurrency
}

// GatewayURL returns the URL new shards connect to.
func (m *Manager) GatewayURL() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.gatewayURL
}

// Shard returns the shard with the given ID, if spawned.
func (m *Manager) Shard(id int) (*Shard, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.shards[id]
	return s, ok
}

// Shards returns the spawned shards ordered by ID.
func (m *Manager) Shards() []*Shard {
	m.mu.RLock()
	shards := make([]*Shard, 0, len(m.shards))
	for _, s := range m.shards {
		shards = append(shards, s)
	}
	m.mu.RUnlock()

	slices.SortFunc(shards, func(a, b *Shard) int { return a.id - b.id })
	return shards
}

// Connect resolves the shard layout and spawns every local shard, pacing
// identifies to the concurrency limit. It returns once all shards were
// started, not once they are ready.
func (m *Manager) Connect(ctx context.Context) error {
	ids := m.resolve(ctx)
	if len(ids) == 0 {
		return ErrNoShards
	}

	concurrency := m.MaxConcurrency()
	for i, id := range ids {
		if _, err := m.Spawn(ctx, id); err != nil {
			m.log.Debug("initial connect failed", slog.Int("shard_id", id), slog.Any("error", err))
		}
		if i == len(ids)-1 {
			break
		}

		delay := m.cfg.spawnStagger
		if (i+1)%concurrency == 0 {
			delay = m.cfg.bucketDelay
		}
		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
	return nil
}

// resolve settles the gateway URL, total shards and concurrency, and
// returns the local shard IDs.
func (m *Manager) resolve(ctx context.Context) []int {
	cfg := m.cfg
	auto := cfg.shardCount <= 0

	count := cfg.shardCount
	if auto {
		count = 1
	}

	if cfg.botInfo != nil && (auto || cfg.url == "") {
		info, err := cfg.botInfo.GatewayBot(ctx)
		if err != nil {
			m.log.Debug("bot info lookup failed, using defaults", slog.Any("error", err))
		} else {
			m.mu.Lock()
			if cfg.url == "" && info.URL != "" {
				m.gatewayURL = info.URL
			}
			if info.SessionStartLimit.MaxConcurrency > 0 {
				m.maxConcurrency = info.SessionStartLimit.MaxConcurrency
			}
			m.mu.Unlock()
			if auto && info.Shards > 0 {
				count = info.Shards
			}
			m.log.Debug("fetched bot info",
				slog.Int("shards", info.Shards),
				slog.Int("max_concurrency", info.SessionStartLimit.MaxConcurrency),
			)
		}
	}

	ids := cfg.shardIDs
	if len(ids) == 0 {
		ids = make([]int, count)
		for i := range ids {
			ids[i] = i
		}
	}

	m.mu.Lock()
	switch {
	case cfg.totalShards > 0:
		m.totalShards = cfg.totalShards
	case len(cfg.shardIDs) > 0 && !auto:
		m.totalShards = max(count, slices.Max(ids)+1)
	default:
		m.totalShards = max(count, len(ids))
	}
	m.mu.Unlock()

	return ids
}

// Spawn creates and connects the shard with the given ID. Spawning an
// existing shard returns it unchanged.
func (m *Manager) Spawn(ctx context.Context, id int) (*Shard, error) {
	m.mu.Lock()
	if s, ok := m.shards[id]; ok {
		m.mu.Unlock()
		return s, nil
	}
	s := newShard(m.cfg, id, m.totalShards, m.gatewayURL)
	if m.presence != nil {
		s.presence = m.presence
	}
	m.shards[id] = s
	m.unsubscribe[id] = s.Subscribe(m.events.publish)
	m.mu.Unlock()

	m.log.Debug("spawning shard", slog.Int("shard_id", id))
	return s, s.Connect(ctx)
}

// Broadcast sends a frame on every shard.
func (m *Manager) Broadcast(ctx context.Context, op Opcode, data any) error {
	var errs []error
	for _, s := range m.Shards() {
		if err := s.Send(ctx, op, data); err != nil {
			errs = append(errs, &GatewayError{ShardID: s.id, Err: err})
		}
	}
	return errors.Join(errs...)
}

// SetPresence updates the presence on every shard. The presence is also
// sent on every later identify, including shards spawned afterwards.
func (m *Manager) SetPresence(ctx context.Context, p Presence) error {
	p = p.withDefaults()
	m.mu.Lock()
	m.presence = &p
	m.mu.Unlock()

	var errs []error
	for _, s := range m.Shards() {
		if err := s.SetPresence(ctx, p); err != nil {
			errs = append(errs, &GatewayError{ShardID: s.id, Err: err})
		}
	}
	return errors.Join(errs...)
}

// Ping returns the mean heartbeat round-trip over shards that have one.
func (m *Manager) Ping() time.Duration {
	var total time.Duration
	var n int
	for _, s := range m.Shards() {
		if p, ok := s.Ping(); ok {
			total += p
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return total / time.Duration(n)
}

// ShardIDForGuild returns the shard that receives events for a guild.
// The low 22 bits of a snowflake are worker and increment fields; routing
// uses the timestamp bits above them, as the server does.
func (m *Manager) ShardIDForGuild(guildID uint64) int {
	return ShardIDForGuild(guildID, m.TotalShards())
}

// ShardIDForGuild computes (guildID >> 22) mod totalShards.
func ShardIDForGuild(guildID uint64, totalShards int) int {
	if totalShards <= 1 {
		return 0
	}
	return int((guildID >> 22) % uint64(totalShards))
}

// Destroy destroys every shard.
func (m *Manager) Destroy() {
	m.mu.Lock()
	shards := m.shards
	unsubs := m.unsubscribe
	m.shards = make(map[int]*Shard)
	m.unsubscribe = make(map[int]func())
	m.mu.Unlock()

	for id, s := range shards {
		unsubs[id]()
		s.Destroy()
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
