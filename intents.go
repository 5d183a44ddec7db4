package fluxer

import (
	"fmt"
	"strings"
)

// Intents selects the gateway event groups a connection receives.
type Intents uint64

// Gateway intents.
const (
	IntentGuilds Intents = 1 << iota
	IntentGuildMembers
	IntentGuildModeration
	IntentGuildEmojisAndStickers
	IntentGuildIntegrations
	IntentGuildWebhooks
	IntentGuildInvites
	IntentGuildVoiceStates
	IntentGuildPresences
	IntentGuildMessages
	IntentGuildMessageReactions
	IntentGuildMessageTyping
	IntentDirectMessages
	IntentDirectMessageReactions
	IntentDirectMessageTyping
	IntentMessageContent
)

// Intent groups.
const (
	// IntentsPrivileged need to be enabled for the application.
	IntentsPrivileged = IntentGuildMembers | IntentGuildPresences | IntentMessageContent
	IntentsAll        = IntentMessageContent<<1 - 1
	IntentsDefault    = IntentsAll &^ IntentsPrivileged
)

var intentNames = []struct {
	name string
	bit  Intents
}{
	{"GUILDS", IntentGuilds},
	{"GUILD_MEMBERS", IntentGuildMembers},
	{"GUILD_MODERATION", IntentGuildModeration},
	{"GUILD_EMOJIS_AND_STICKERS", IntentGuildEmojisAndStickers},
	{"GUILD_INTEGRATIONS", IntentGuildIntegrations},
	{"GUILD_WEBHOOKS", IntentGuildWebhooks},
	{"GUILD_INVITES", IntentGuildInvites},
	{"GUILD_VOICE_STATES", IntentGuildVoiceStates},
	{"GUILD_PRESENCES", IntentGuildPresences},
	{"GUILD_MESSAGES", IntentGuildMessages},
	{"GUILD_MESSAGE_REACTIONS", IntentGuildMessageReactions},
	{"GUILD_MESSAGE_TYPING", IntentGuildMessageTyping},
	{"DIRECT_MESSAGES", IntentDirectMessages},
	{"DIRECT_MESSAGE_REACTIONS", IntentDirectMessageReactions},
	{"DIRECT_MESSAGE_TYPING", IntentDirectMessageTyping},
	{"MESSAGE_CONTENT", IntentMessageContent},
}

// Has reports whether every bit of other is set.
func (i Intents) Has(other Intents) bool {
	return i&other == other
}

// Add returns i with the bits of others set.
func (i Intents) Add(others ...Intents) Intents {
	for _, o := range others {
		i |= o
	}
	return i
}

// Remove returns i with the bits of others cleared.
func (i Intents) Remove(others ...Intents) Intents {
	for _, o := range others {
		i &^= o
	}
	return i
}

// Names returns the names of the known bits set in i, in bit order.
func (i Intents) Names() []string {
	var names []string
	for _, n := range intentNames {
		if i.Has(n.bit) {
			names = append(names, n.name)
		}
	}
	return names
}

func (i Intents) String() string {
	names := i.Names()
	if len(names) == 0 {
		return "0"
	}
	return strings.Join(names, "|")
}

// ParseIntents combines intents given by name, case-insensitively, with
// "-" accepted for "_". The names "ALL" and "DEFAULT" select the groups.
func ParseIntents(names ...string) (Intents, error) {
	var out Intents
	for _, raw := range names {
		name := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(raw), "-", "_"))
		switch name {
		case "":
			continue
		case "ALL":
			out |= IntentsAll
			continue
		case "DEFAULT":
			out |= IntentsDefault
			continue
		}
		bit, ok := lookupIntent(name)
		if !ok {
			return 0, fmt.Errorf("fluxer: unknown intent %q", raw)
		}
		out |= bit
	}
	return out, nil
}

func lookupIntent(name string) (Intents, bool) {
	for _, n := range intentNames {
		if n.name == name {
			return n.bit, true
		}
	}
	return 0, false
}
