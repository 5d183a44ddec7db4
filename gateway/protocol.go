package gateway

import "encoding/json"

// Opcode identifies the kind of a gateway frame.
type Opcode int

const (
	OpDispatch            Opcode = 0
	OpHeartbeat           Opcode = 1
	OpIdentify            Opcode = 2
	OpPresenceUpdate      Opcode = 3
	OpVoiceStateUpdate    Opcode = 4
	OpResume              Opcode = 6
	OpReconnect           Opcode = 7
	OpRequestGuildMembers Opcode = 8
	OpInvalidSession      Opcode = 9
	OpHello               Opcode = 10
	OpHeartbeatAck        Opcode = 11
)

func (o Opcode) String() string {
	switch o {
	case OpDispatch:
		return "dispatch"
	case OpHeartbeat:
		return "heartbeat"
	case OpIdentify:
		return "identify"
	case OpPresenceUpdate:
		return "presence_update"
	case OpVoiceStateUpdate:
		return "voice_state_update"
	case OpResume:
		return "resume"
	case OpReconnect:
		return "reconnect"
	case OpRequestGuildMembers:
		return "request_guild_members"
	case OpInvalidSession:
		return "invalid_session"
	case OpHello:
		return "hello"
	case OpHeartbeatAck:
		return "heartbeat_ack"
	default:
		return "unknown"
	}
}

// Dispatch event names with special handling.
const (
	EventReady   = "READY"
	EventResumed = "RESUMED"
)

// Close codes sent by the gateway.
const (
	CloseNormal               = 1000
	CloseProtocolError        = 1002
	CloseUnknownError         = 4000
	CloseAuthenticationFailed = 4004
	CloseSessionTimedOut      = 4009
	CloseInvalidShard         = 4010
	CloseShardingRequired     = 4011
	CloseInvalidAPIVersion    = 4012
	CloseInvalidIntents       = 4013
	CloseDisallowedIntents    = 4014
)

// IsFatalClose reports whether a close code ends the session for good.
// The shard does not reconnect after any of these.
func IsFatalClose(code int) bool {
	switch code {
	case CloseAuthenticationFailed,
		CloseInvalidShard,
		CloseShardingRequired,
		CloseInvalidAPIVersion,
		CloseInvalidIntents,
		CloseDisallowedIntents:
		return true
	}
	return false
}

// MaxPayloadSize is the largest outbound frame the gateway accepts.
const MaxPayloadSize = 4096

// --- Frames ---

// Payload is the envelope of every gateway frame.
type Payload struct {
	Op       Opcode          `json:"op"`
	Data     json.RawMessage `json:"d"`
	Sequence *int64          `json:"s,omitempty"`
	Type     string          `json:"t,omitempty"`
}

// outbound is the envelope for frames sent by the client.
type outbound struct {
	Op   Opcode `json:"op"`
	Data any    `json:"d"`
}

// HelloData is the data of a Hello frame.
type HelloData struct {
	HeartbeatInterval int64 `json:"heartbeat_interval"`
}

// ReadyData holds the fields of a READY dispatch the shard depends on.
type ReadyData struct {
	SessionID        string `json:"session_id"`
	ResumeGatewayURL string `json:"resume_gateway_url"`
}

// IdentifyProperties describes the connecting client.
type IdentifyProperties struct {
	OS      string `json:"os"`
	Browser string `json:"browser"`
	Device  string `json:"device"`
}

// IdentifyData is sent to start a new session.
type IdentifyData struct {
	Token          string             `json:"token"`
	Intents        uint64             `json:"intents"`
	Properties     IdentifyProperties `json:"properties"`
	Compress       bool               `json:"compress"`
	LargeThreshold int                `json:"large_threshold"`
	Shard          [2]int             `json:"shard"`
	Presence       *Presence          `json:"presence,omitempty"`
}

// ResumeData is sent to reattach to an existing session.
type ResumeData struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Sequence  int64  `json:"seq"`
}

// ActivityType classifies a presence activity.
type ActivityType int

const (
	ActivityPlaying   ActivityType = 0
	ActivityStreaming ActivityType = 1
	ActivityListening ActivityType = 2
	ActivityWatching  ActivityType = 3
	ActivityCustom    ActivityType = 4
	ActivityCompeting ActivityType = 5
)

// Activity is one entry of a presence.
type Activity struct {
	Name string       `json:"name"`
	Type ActivityType `json:"type"`
	URL  string       `json:"url,omitempty"`
}

// Presence is the presence sent on identify and with op 3.
type Presence struct {
	Status     string     `json:"status"`
	Activities []Activity `json:"activities"`
	AFK        bool       `json:"afk"`
	Since      *int64     `json:"since"`
}

// withDefaults fills in the fields the gateway requires.
func (p Presence) withDefaults() Presence {
	if p.Status == "" {
		p.Status = "online"
	}
	if p.Activities == nil {
		p.Activities = []Activity{}
	}
	return p
}

// RequestGuildMembersData is sent with op 8. Members arrive as
// GUILD_MEMBERS_CHUNK dispatches.
type RequestGuildMembersData struct {
	GuildID   string   `json:"guild_id"`
	Query     string   `json:"query"`
	Limit     int      `json:"limit"`
	UserIDs   []string `json:"user_ids,omitempty"`
	Presences bool     `json:"presences,omitempty"`
}

// VoiceStateUpdateData is sent with op 4. A nil ChannelID leaves voice.
type VoiceStateUpdateData struct {
	GuildID   string  `json:"guild_id"`
	ChannelID *string `json:"channel_id"`
	SelfMute  bool    `json:"self_mute"`
	SelfDeaf  bool    `json:"self_deaf"`
}

// BotInfo is the response of the bot gateway lookup.
type BotInfo struct {
	URL               string            `json:"url"`
	Shards            int               `json:"shards"`
	SessionStartLimit SessionStartLimit `json:"session_start_limit"`
}

// SessionStartLimit reports identify budget for the bot.
type SessionStartLimit struct {
	Total          int `json:"total"`
	Remaining      int `json:"remaining"`
	ResetAfter     int `json:"reset_after"`
	MaxConcurrency int `json:"max_concurrency"`
}
