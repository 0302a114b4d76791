// Package state keeps the synchronized in-memory snapshot of channel state:
// playlist, roster, emotes and profiles per tracked channel. All mutation goes
// through Apply on the single ingestion goroutine; queries copy under a read
// lock so bus requests never observe a partially applied event.
package state

import (
	"encoding/json"
	"log/slog"
	"sort"
	"sync"

	"github.com/c360/syncbridge/translate"
)

// Mirror receives state copies after each applied event for durable
// persistence. Implementations must not block for long and must swallow their
// own failures; the in-memory store stays authoritative either way.
type Mirror interface {
	MirrorPlaylist(channel string, items []MediaItem)
	MirrorUsers(channel string, users []UserInfo)
	MirrorEmotes(channel string, emotes []Emote)
}

type channelState struct {
	playlist []MediaItem
	users    map[string]UserInfo
	order    []string // roster insertion order for stable listing
	emotes   []Emote
}

// Store owns all mutable channel state. One instance is shared by the event
// ingestion path (writes) and the command router (reads).
type Store struct {
	mu       sync.RWMutex
	channels map[string]*channelState
	version  string
	mirror   Mirror
	logger   *slog.Logger
}

// New creates an empty store reporting the given semantic version. mirror may
// be nil when state persistence is disabled.
func New(version string, mirror Mirror, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		channels: make(map[string]*channelState),
		version:  version,
		mirror:   mirror,
		logger:   logger.With("component", "state_store"),
	}
}

// Version returns the running semantic version string. It is stable for the
// process lifetime.
func (s *Store) Version() string {
	return s.version
}

// Channels returns the sorted set of channel identifiers currently tracked
func (s *Store) Channels() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.channels))
	for name := range s.channels {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Apply mutates the snapshot for one canonical event. Each application is
// atomic with respect to readers. Events with stable identities (playlist
// UIDs, usernames, emote names) apply idempotently under duplicate delivery.
func (s *Store) Apply(ev *translate.Event) {
	if ev == nil {
		return
	}

	s.mu.Lock()
	ch := s.channel(ev.Channel)

	var mirrorPlaylist, mirrorUsers, mirrorEmotes bool

	switch ev.Type {
	case "playlist":
		var items []MediaItem
		if unmarshal(ev.Payload, &items, s.logger, ev.Type) {
			ch.playlist = items
			mirrorPlaylist = true
		}

	case "queue":
		var p queuePayload
		if unmarshal(ev.Payload, &p, s.logger, ev.Type) && p.Item.UID != "" {
			ch.insertItem(p.Item, afterTarget(p.After))
			mirrorPlaylist = true
		}

	case "delete":
		var p deletePayload
		if unmarshal(ev.Payload, &p, s.logger, ev.Type) {
			ch.removeItem(p.UID)
			mirrorPlaylist = true
		}

	case "moveVideo":
		var p movePayload
		if unmarshal(ev.Payload, &p, s.logger, ev.Type) {
			ch.moveItem(p.From, p.After)
			mirrorPlaylist = true
		}

	case "setTemp":
		var p setTempPayload
		if unmarshal(ev.Payload, &p, s.logger, ev.Type) {
			for i := range ch.playlist {
				if ch.playlist[i].UID == p.UID {
					ch.playlist[i].Temp = p.Temp
					break
				}
			}
			mirrorPlaylist = true
		}

	case "userlist":
		var users []UserInfo
		if unmarshal(ev.Payload, &users, s.logger, ev.Type) {
			ch.users = make(map[string]UserInfo, len(users))
			ch.order = ch.order[:0]
			for _, u := range users {
				if u.Name == "" {
					continue
				}
				if _, seen := ch.users[u.Name]; !seen {
					ch.order = append(ch.order, u.Name)
				}
				ch.users[u.Name] = u
			}
			mirrorUsers = true
		}

	case "addUser":
		var u UserInfo
		if unmarshal(ev.Payload, &u, s.logger, ev.Type) && u.Name != "" {
			if _, seen := ch.users[u.Name]; !seen {
				ch.order = append(ch.order, u.Name)
			}
			ch.users[u.Name] = u
			mirrorUsers = true
		}

	case "userLeave":
		var p userLeavePayload
		if unmarshal(ev.Payload, &p, s.logger, ev.Type) {
			// A leave for an unknown username is a no-op, not an error
			if _, ok := ch.users[p.Name]; ok {
				delete(ch.users, p.Name)
				for i, name := range ch.order {
					if name == p.Name {
						ch.order = append(ch.order[:i], ch.order[i+1:]...)
						break
					}
				}
				mirrorUsers = true
			}
		}

	case "setUserRank":
		var p setRankPayload
		if unmarshal(ev.Payload, &p, s.logger, ev.Type) {
			if u, ok := ch.users[p.Name]; ok {
				u.Rank = p.Rank
				ch.users[p.Name] = u
				mirrorUsers = true
			}
		}

	case "setUserProfile":
		var p setProfilePayload
		if unmarshal(ev.Payload, &p, s.logger, ev.Type) {
			if u, ok := ch.users[p.Name]; ok {
				profile := p.Profile
				u.Profile = &profile
				ch.users[p.Name] = u
				mirrorUsers = true
			}
		}

	case "setAFK":
		var p setAFKPayload
		if unmarshal(ev.Payload, &p, s.logger, ev.Type) {
			if u, ok := ch.users[p.Name]; ok {
				u.AFK = p.AFK
				ch.users[p.Name] = u
				mirrorUsers = true
			}
		}

	case "emoteList":
		var emotes []Emote
		if unmarshal(ev.Payload, &emotes, s.logger, ev.Type) {
			ch.emotes = emotes
			mirrorEmotes = true
		}

	case "updateEmote":
		var e Emote
		if unmarshal(ev.Payload, &e, s.logger, ev.Type) && e.Name != "" {
			replaced := false
			for i := range ch.emotes {
				if ch.emotes[i].Name == e.Name {
					ch.emotes[i] = e
					replaced = true
					break
				}
			}
			if !replaced {
				ch.emotes = append(ch.emotes, e)
			}
			mirrorEmotes = true
		}

	case "removeEmote":
		var p removeEmotePayload
		if unmarshal(ev.Payload, &p, s.logger, ev.Type) {
			for i := range ch.emotes {
				if ch.emotes[i].Name == p.Name {
					ch.emotes = append(ch.emotes[:i], ch.emotes[i+1:]...)
					break
				}
			}
			mirrorEmotes = true
		}

	default:
		// Known to the translator but carries no state: chat, media position,
		// channel metadata. Nothing to do.
	}

	// Copy what the mirror needs while still under the lock, write after
	// releasing it so persistence latency never blocks readers.
	var playlistCopy []MediaItem
	var usersCopy []UserInfo
	var emotesCopy []Emote
	if s.mirror != nil {
		if mirrorPlaylist {
			playlistCopy = copyPlaylist(ch.playlist)
		}
		if mirrorUsers {
			usersCopy = ch.userList()
		}
		if mirrorEmotes {
			emotesCopy = copyEmotes(ch.emotes)
		}
	}
	s.mu.Unlock()

	if s.mirror != nil {
		if mirrorPlaylist {
			s.mirror.MirrorPlaylist(ev.Channel, playlistCopy)
		}
		if mirrorUsers {
			s.mirror.MirrorUsers(ev.Channel, usersCopy)
		}
		if mirrorEmotes {
			s.mirror.MirrorEmotes(ev.Channel, emotesCopy)
		}
	}
}

// Playlist returns a copy of the channel's playlist in insertion order
func (s *Store) Playlist(channel string) []MediaItem {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ch, ok := s.channels[channel]
	if !ok {
		return []MediaItem{}
	}
	return copyPlaylist(ch.playlist)
}

// Users returns a copy of the channel's roster in join order
func (s *Store) Users(channel string) []UserInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ch, ok := s.channels[channel]
	if !ok {
		return []UserInfo{}
	}
	return ch.userList()
}

// User looks up a single roster entry by username
func (s *Store) User(channel, name string) (UserInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ch, ok := s.channels[channel]
	if !ok {
		return UserInfo{}, false
	}
	u, ok := ch.users[name]
	if ok && u.Profile != nil {
		profile := *u.Profile
		u.Profile = &profile
	}
	return u, ok
}

// Emotes returns a copy of the channel's emote list
func (s *Store) Emotes(channel string) []Emote {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ch, ok := s.channels[channel]
	if !ok {
		return []Emote{}
	}
	return copyEmotes(ch.emotes)
}

// Profiles returns the profiles of all roster entries that have one
func (s *Store) Profiles(channel string) map[string]Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]Profile)
	ch, ok := s.channels[channel]
	if !ok {
		return out
	}
	for name, u := range ch.users {
		if u.Profile != nil {
			out[name] = *u.Profile
		}
	}
	return out
}

// All returns a complete snapshot of one channel
func (s *Store) All(channel string) Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Channel:  channel,
		Playlist: []MediaItem{},
		Users:    []UserInfo{},
		Emotes:   []Emote{},
		Profiles: make(map[string]Profile),
	}

	ch, ok := s.channels[channel]
	if !ok {
		return snap
	}

	snap.Playlist = copyPlaylist(ch.playlist)
	snap.Users = ch.userList()
	snap.Emotes = copyEmotes(ch.emotes)
	for name, u := range ch.users {
		if u.Profile != nil {
			snap.Profiles[name] = *u.Profile
		}
	}
	return snap
}

// channel returns the channel's state, creating it on first touch.
// Callers must hold the write lock.
func (s *Store) channel(name string) *channelState {
	ch, ok := s.channels[name]
	if !ok {
		ch = &channelState{users: make(map[string]UserInfo)}
		s.channels[name] = ch
	}
	return ch
}

func (ch *channelState) userList() []UserInfo {
	out := make([]UserInfo, 0, len(ch.users))
	for _, name := range ch.order {
		if u, ok := ch.users[name]; ok {
			if u.Profile != nil {
				profile := *u.Profile
				u.Profile = &profile
			}
			out = append(out, u)
		}
	}
	return out
}

// insertItem adds a playlist item. Duplicate UIDs replace in place instead of
// duplicating the entry.
func (ch *channelState) insertItem(item MediaItem, after string) {
	for i := range ch.playlist {
		if ch.playlist[i].UID == item.UID {
			ch.playlist[i] = item
			return
		}
	}

	switch after {
	case "prepend":
		ch.playlist = append([]MediaItem{item}, ch.playlist...)
	case "", "append":
		ch.playlist = append(ch.playlist, item)
	default:
		for i := range ch.playlist {
			if ch.playlist[i].UID == after {
				ch.playlist = append(ch.playlist[:i+1],
					append([]MediaItem{item}, ch.playlist[i+1:]...)...)
				return
			}
		}
		// Target UID not found, append
		ch.playlist = append(ch.playlist, item)
	}
}

func (ch *channelState) removeItem(uid string) {
	for i := range ch.playlist {
		if ch.playlist[i].UID == uid {
			ch.playlist = append(ch.playlist[:i], ch.playlist[i+1:]...)
			return
		}
	}
}

func (ch *channelState) moveItem(uid, after string) {
	var item *MediaItem
	for i := range ch.playlist {
		if ch.playlist[i].UID == uid {
			moved := ch.playlist[i]
			item = &moved
			ch.playlist = append(ch.playlist[:i], ch.playlist[i+1:]...)
			break
		}
	}
	if item == nil {
		return
	}
	ch.insertItem(*item, after)
}

// afterTarget interprets the queue event's "after" field, which the origin
// sends as either a UID string or the literal "prepend"
func afterTarget(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

func unmarshal(payload json.RawMessage, dst any, logger *slog.Logger, eventType string) bool {
	if len(payload) == 0 {
		return false
	}
	if err := json.Unmarshal(payload, dst); err != nil {
		logger.Warn("Malformed event payload", "event", eventType, "error", err)
		return false
	}
	return true
}

func copyPlaylist(items []MediaItem) []MediaItem {
	out := make([]MediaItem, len(items))
	copy(out, items)
	return out
}

func copyEmotes(emotes []Emote) []Emote {
	out := make([]Emote, len(emotes))
	copy(out, emotes)
	return out
}
