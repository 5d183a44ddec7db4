package gateway

import (
	"context"
	"strconv"
)

// MembersOption configures a guild members request.
type MembersOption func(*RequestGuildMembersData)

// WithMemberQuery matches members whose username starts with query,
// returning at most limit. An empty query with limit 0 requests everyone.
func WithMemberQuery(query string, limit int) MembersOption {
	return func(d *RequestGuildMembersData) {
		d.Query = query
		d.Limit = limit
	}
}

// WithMemberIDs requests specific members instead of a query.
func WithMemberIDs(ids ...uint64) MembersOption {
	return func(d *RequestGuildMembersData) {
		for _, id := range ids {
			d.UserIDs = append(d.UserIDs, strconv.FormatUint(id, 10))
		}
	}
}

// WithMemberPresences includes member presences in the chunks.
func WithMemberPresences() MembersOption {
	return func(d *RequestGuildMembersData) {
		d.Presences = true
	}
}

// VoiceOption configures a voice state update.
type VoiceOption func(*VoiceStateUpdateData)

// WithSelfMute marks the client as muted.
func WithSelfMute() VoiceOption {
	return func(d *VoiceStateUpdateData) {
		d.SelfMute = true
	}
}

// WithSelfDeaf marks the client as deafened.
func WithSelfDeaf() VoiceOption {
	return func(d *VoiceStateUpdateData) {
		d.SelfDeaf = true
	}
}

// RequestGuildMembers asks the shard that owns the guild for its members.
func (m *Manager) RequestGuildMembers(ctx context.Context, guildID uint64, opts ...MembersOption) error {
	data := RequestGuildMembersData{GuildID: strconv.FormatUint(guildID, 10)}
	for _, opt := range opts {
		opt(&data)
	}
	return m.sendToGuild(ctx, guildID, OpRequestGuildMembers, data)
}

// UpdateVoiceState joins, moves between or, with channelID 0, leaves voice
// channels of a guild.
func (m *Manager) UpdateVoiceState(ctx context.Context, guildID, channelID uint64, opts ...VoiceOption) error {
	data := VoiceStateUpdateData{GuildID: strconv.FormatUint(guildID, 10)}
	if channelID != 0 {
		id := strconv.FormatUint(channelID, 10)
		data.ChannelID = &id
	}
	for _, opt := range opts {
		opt(&data)
	}
	return m.sendToGuild(ctx, guildID, OpVoiceStateUpdate, data)
}

func (m *Manager) sendToGuild(ctx context.Context, guildID uint64, op Opcode, data any) error {
	id := m.ShardIDForGuild(guildID)
	s, ok := m.Shard(id)
	if !ok {
		return &GatewayError{ShardID: id, Err: ErrShardNotSpawned}
	}
	if err := s.Send(ctx, op, data); err != nil {
		return &GatewayError{ShardID: id, Err: err}
	}
	return nil
}
