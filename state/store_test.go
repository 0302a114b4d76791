package state

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/syncbridge/translate"
)

func event(t *testing.T, channel, eventType string, payload any) *translate.Event {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return &translate.Event{
		Type:      eventType,
		Channel:   channel,
		Payload:   data,
		Timestamp: time.Now(),
	}
}

func uids(items []MediaItem) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = item.UID
	}
	return out
}

func TestStore_PlaylistReplaceAndQueue(t *testing.T) {
	s := New("0.1.0", nil, nil)

	s.Apply(event(t, "lounge", "playlist", []MediaItem{
		{UID: "a", Media: Media{ID: "yt1", Title: "first"}},
		{UID: "b", Media: Media{ID: "yt2", Title: "second"}},
	}))
	s.Apply(event(t, "lounge", "queue", queuePayload{
		Item:  MediaItem{UID: "c", Media: Media{ID: "yt3", Title: "third"}},
		After: json.RawMessage(`"a"`),
	}))

	assert.Equal(t, []string{"a", "c", "b"}, uids(s.Playlist("lounge")))
}

func TestStore_QueueDuplicateUIDReplacesInPlace(t *testing.T) {
	s := New("0.1.0", nil, nil)

	s.Apply(event(t, "lounge", "queue", queuePayload{
		Item: MediaItem{UID: "a", Media: Media{Title: "original"}},
	}))
	s.Apply(event(t, "lounge", "queue", queuePayload{
		Item: MediaItem{UID: "a", Media: Media{Title: "replayed"}},
	}))

	playlist := s.Playlist("lounge")
	require.Len(t, playlist, 1)
	assert.Equal(t, "replayed", playlist[0].Media.Title)
}

func TestStore_QueuePrepend(t *testing.T) {
	s := New("0.1.0", nil, nil)

	s.Apply(event(t, "lounge", "queue", queuePayload{Item: MediaItem{UID: "a"}}))
	s.Apply(event(t, "lounge", "queue", queuePayload{
		Item:  MediaItem{UID: "b"},
		After: json.RawMessage(`"prepend"`),
	}))

	assert.Equal(t, []string{"b", "a"}, uids(s.Playlist("lounge")))
}

func TestStore_DeleteAndMove(t *testing.T) {
	s := New("0.1.0", nil, nil)
	s.Apply(event(t, "lounge", "playlist", []MediaItem{
		{UID: "a"}, {UID: "b"}, {UID: "c"},
	}))

	s.Apply(event(t, "lounge", "moveVideo", movePayload{From: "c", After: "a"}))
	assert.Equal(t, []string{"a", "c", "b"}, uids(s.Playlist("lounge")))

	s.Apply(event(t, "lounge", "moveVideo", movePayload{From: "b", After: "prepend"}))
	assert.Equal(t, []string{"b", "a", "c"}, uids(s.Playlist("lounge")))

	s.Apply(event(t, "lounge", "delete", deletePayload{UID: "a"}))
	assert.Equal(t, []string{"b", "c"}, uids(s.Playlist("lounge")))

	// Deleting an absent UID changes nothing
	s.Apply(event(t, "lounge", "delete", deletePayload{UID: "zzz"}))
	assert.Equal(t, []string{"b", "c"}, uids(s.Playlist("lounge")))
}

func TestStore_RosterLifecycle(t *testing.T) {
	s := New("0.1.0", nil, nil)

	s.Apply(event(t, "lounge", "userlist", []UserInfo{
		{Name: "alice", Rank: 3},
		{Name: "bob", Rank: 1},
	}))
	s.Apply(event(t, "lounge", "addUser", UserInfo{Name: "carol", Rank: 0}))
	s.Apply(event(t, "lounge", "setUserRank", setRankPayload{Name: "bob", Rank: 2}))
	s.Apply(event(t, "lounge", "setAFK", setAFKPayload{Name: "alice", AFK: true}))
	s.Apply(event(t, "lounge", "userLeave", userLeavePayload{Name: "carol"}))

	// Departure of someone never present is a no-op
	s.Apply(event(t, "lounge", "userLeave", userLeavePayload{Name: "mallory"}))

	users := s.Users("lounge")
	require.Len(t, users, 2)
	assert.Equal(t, "alice", users[0].Name)
	assert.True(t, users[0].AFK)
	assert.Equal(t, "bob", users[1].Name)
	assert.Equal(t, 2, users[1].Rank)

	_, ok := s.User("lounge", "carol")
	assert.False(t, ok)
}

func TestStore_ProfilesOnlyForUsersThatHaveOne(t *testing.T) {
	s := New("0.1.0", nil, nil)

	s.Apply(event(t, "lounge", "userlist", []UserInfo{
		{Name: "alice"}, {Name: "bob"},
	}))
	s.Apply(event(t, "lounge", "setUserProfile", setProfilePayload{
		Name:    "alice",
		Profile: Profile{Image: "http://img/alice.png", Text: "hi"},
	}))

	profiles := s.Profiles("lounge")
	require.Len(t, profiles, 1)
	assert.Equal(t, "hi", profiles["alice"].Text)
}

func TestStore_EmoteUpsertAndRemove(t *testing.T) {
	s := New("0.1.0", nil, nil)

	s.Apply(event(t, "lounge", "emoteList", []Emote{
		{Name: ":wave:", Image: "wave.png"},
	}))
	s.Apply(event(t, "lounge", "updateEmote", Emote{Name: ":wave:", Image: "wave2.png"}))
	s.Apply(event(t, "lounge", "updateEmote", Emote{Name: ":new:", Image: "new.png"}))
	s.Apply(event(t, "lounge", "removeEmote", removeEmotePayload{Name: ":wave:"}))

	emotes := s.Emotes("lounge")
	require.Len(t, emotes, 1)
	assert.Equal(t, ":new:", emotes[0].Name)
}

func TestStore_SnapshotSharesNoState(t *testing.T) {
	s := New("0.1.0", nil, nil)
	s.Apply(event(t, "lounge", "playlist", []MediaItem{{UID: "a", Media: Media{Title: "one"}}}))
	s.Apply(event(t, "lounge", "userlist", []UserInfo{
		{Name: "alice", Profile: &Profile{Text: "bio"}},
	}))

	snap := s.All("lounge")
	snap.Playlist[0].Media.Title = "mutated"
	snap.Users[0].Profile.Text = "mutated"
	snap.Profiles["alice"] = Profile{Text: "mutated"}

	assert.Equal(t, "one", s.Playlist("lounge")[0].Media.Title)
	u, ok := s.User("lounge", "alice")
	require.True(t, ok)
	assert.Equal(t, "bio", u.Profile.Text)
}

func TestStore_QueriesOnUnknownChannelAreEmptyNotNil(t *testing.T) {
	s := New("0.1.0", nil, nil)

	assert.NotNil(t, s.Playlist("ghost"))
	assert.Empty(t, s.Playlist("ghost"))
	assert.NotNil(t, s.Users("ghost"))
	assert.NotNil(t, s.Emotes("ghost"))
	assert.NotNil(t, s.Profiles("ghost"))

	snap := s.All("ghost")
	assert.Equal(t, "ghost", snap.Channel)
	assert.Empty(t, snap.Playlist)
}

func TestStore_MalformedPayloadIsDropped(t *testing.T) {
	s := New("0.1.0", nil, nil)
	s.Apply(event(t, "lounge", "playlist", []MediaItem{{UID: "a"}}))

	s.Apply(&translate.Event{
		Type:    "playlist",
		Channel: "lounge",
		Payload: json.RawMessage(`{not json`),
	})

	// Previous state survives a malformed event
	assert.Equal(t, []string{"a"}, uids(s.Playlist("lounge")))
}

type recordingMirror struct {
	mu        sync.Mutex
	playlists int
	users     int
	emotes    int
	lastItems []MediaItem
}

func (m *recordingMirror) MirrorPlaylist(channel string, items []MediaItem) {
	m.mu.Lock()
	m.playlists++
	m.lastItems = items
	m.mu.Unlock()
}

func (m *recordingMirror) MirrorUsers(string, []UserInfo) {
	m.mu.Lock()
	m.users++
	m.mu.Unlock()
}

func (m *recordingMirror) MirrorEmotes(string, []Emote) {
	m.mu.Lock()
	m.emotes++
	m.mu.Unlock()
}

func TestStore_MirrorReceivesCopiesPerMutationClass(t *testing.T) {
	mirror := &recordingMirror{}
	s := New("0.1.0", mirror, nil)

	s.Apply(event(t, "lounge", "queue", queuePayload{Item: MediaItem{UID: "a"}}))
	s.Apply(event(t, "lounge", "addUser", UserInfo{Name: "alice"}))
	s.Apply(event(t, "lounge", "emoteList", []Emote{{Name: ":x:"}}))

	// Chat carries no state and must not trigger persistence
	s.Apply(event(t, "lounge", "chatMsg", map[string]string{"msg": "hi"}))

	mirror.mu.Lock()
	defer mirror.mu.Unlock()
	assert.Equal(t, 1, mirror.playlists)
	assert.Equal(t, 1, mirror.users)
	assert.Equal(t, 1, mirror.emotes)

	// The mirrored slice is a copy, not a view into the store
	mirror.lastItems[0].UID = "mutated"
	assert.Equal(t, "a", s.Playlist("lounge")[0].UID)
}

func TestStore_ChannelsSorted(t *testing.T) {
	s := New("0.1.0", nil, nil)
	s.Apply(event(t, "zeta", "addUser", UserInfo{Name: "a"}))
	s.Apply(event(t, "alpha", "addUser", UserInfo{Name: "b"}))

	assert.Equal(t, []string{"alpha", "zeta"}, s.Channels())
	assert.Equal(t, "0.1.0", s.Version())
}
