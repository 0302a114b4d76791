// Package translate maps raw origin-platform frames onto canonical events.
// Translation is stateless apart from the replay-suppression flag, which is
// owned by the session manager and only read here.
package translate

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/c360/syncbridge/transport"
)

// Event is the canonical representation of one origin-platform occurrence.
// Events are immutable once produced; the state store and the event publisher
// consume them independently.
type Event struct {
	Type      string          `json:"type"`
	Channel   string          `json:"channel"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Class groups event types by how the bridge treats them
type Class int

const (
	// ClassChat covers chat-message events, discarded during replay suppression
	ClassChat Class = iota
	// ClassRoster covers user join/leave/update events
	ClassRoster
	// ClassPlaylist covers playlist and media events
	ClassPlaylist
	// ClassChannel covers channel-wide metadata events
	ClassChannel
)

// knownEvents maps origin frame names to their class. Frames not listed here
// have no canonical representation and translate to nothing.
var knownEvents = map[string]Class{
	"chatMsg": ClassChat,
	"pm":      ClassChat,

	"userlist":       ClassRoster,
	"addUser":        ClassRoster,
	"userLeave":      ClassRoster,
	"setUserRank":    ClassRoster,
	"setUserProfile": ClassRoster,
	"setAFK":         ClassRoster,
	"usercount":      ClassRoster,

	"playlist":        ClassPlaylist,
	"queue":           ClassPlaylist,
	"delete":          ClassPlaylist,
	"moveVideo":       ClassPlaylist,
	"setTemp":         ClassPlaylist,
	"changeMedia":     ClassPlaylist,
	"mediaUpdate":     ClassPlaylist,
	"setPlaylistMeta": ClassPlaylist,
	"setCurrent":      ClassPlaylist,

	"emoteList":   ClassChannel,
	"updateEmote": ClassChannel,
	"removeEmote": ClassChannel,
	"setMotd":     ClassChannel,
	"channelOpts": ClassChannel,
}

// ClassOf returns the class for a known event type
func ClassOf(eventType string) (Class, bool) {
	c, ok := knownEvents[eventType]
	return c, ok
}

// Translator converts frames for a single channel
type Translator struct {
	channel      string
	suppressChat func() bool
	logger       *slog.Logger

	translated int64
	suppressed int64
	unknown    int64
}

// New creates a translator for the given channel. suppressChat is read on
// every chat-class frame; it may be nil when no suppression source exists.
func New(channel string, suppressChat func() bool, logger *slog.Logger) *Translator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Translator{
		channel:      channel,
		suppressChat: suppressChat,
		logger:       logger.With("component", "translator"),
	}
}

// Translate maps one raw frame to a canonical event. The second return is
// false when the frame has no canonical representation: unknown frame types,
// and chat-class frames while the replay-suppression window is armed. Other
// classes pass through the window untouched.
func (t *Translator) Translate(f transport.Frame) (*Event, bool) {
	class, ok := knownEvents[f.Name]
	if !ok {
		t.unknown++
		t.logger.Debug("Unknown frame type", "frame", f.Name)
		return nil, false
	}

	if class == ClassChat && t.suppressChat != nil && t.suppressChat() {
		t.suppressed++
		t.logger.Debug("Suppressed replayed chat frame", "frame", f.Name)
		return nil, false
	}

	t.translated++
	return &Event{
		Type:      f.Name,
		Channel:   t.channel,
		Payload:   f.Data,
		Timestamp: time.Now().UTC(),
	}, true
}

// Stats reports translation counters
func (t *Translator) Stats() (translated, suppressed, unknown int64) {
	return t.translated, t.suppressed, t.unknown
}
