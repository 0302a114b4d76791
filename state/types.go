package state

import "encoding/json"

// MediaItem is one playlist entry. UID is the stable identity used for
// idempotent insertion and for move/delete targeting.
type MediaItem struct {
	UID      string `json:"uid"`
	Temp     bool   `json:"temp,omitempty"`
	QueueBy  string `json:"queueby,omitempty"`
	Media    Media  `json:"media"`
}

// Media describes the video behind a playlist entry
type Media struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Seconds  int    `json:"seconds,omitempty"`
	Duration string `json:"duration,omitempty"`
	Type     string `json:"type,omitempty"`
}

// UserInfo is one roster entry, keyed by Name
type UserInfo struct {
	Name    string   `json:"name"`
	Rank    int      `json:"rank"`
	AFK     bool     `json:"afk,omitempty"`
	Muted   bool     `json:"muted,omitempty"`
	Profile *Profile `json:"profile,omitempty"`
}

// Profile holds a user's avatar and bio
type Profile struct {
	Image string `json:"image,omitempty"`
	Text  string `json:"text,omitempty"`
}

// Emote is one channel emote
type Emote struct {
	Name   string `json:"name"`
	Image  string `json:"image,omitempty"`
	Source string `json:"source,omitempty"`
}

// Snapshot is a complete copy of one channel's state. It shares no references
// with the store; callers may retain and mutate it freely.
type Snapshot struct {
	Channel  string              `json:"channel"`
	Playlist []MediaItem         `json:"playlist"`
	Users    []UserInfo          `json:"userlist"`
	Emotes   []Emote             `json:"emotes"`
	Profiles map[string]Profile  `json:"profiles"`
}

// Event payload shapes. Fields the origin sends that the store does not
// recognize are simply dropped by json.Unmarshal; translation never fails on
// extra or missing fields.

type queuePayload struct {
	Item  MediaItem       `json:"item"`
	After json.RawMessage `json:"after,omitempty"` // uid string or "prepend"
}

type deletePayload struct {
	UID string `json:"uid"`
}

type movePayload struct {
	From  string `json:"from"`
	After string `json:"after"` // uid, "prepend" or "append"
}

type setTempPayload struct {
	UID  string `json:"uid"`
	Temp bool   `json:"temp"`
}

type userLeavePayload struct {
	Name string `json:"name"`
}

type setRankPayload struct {
	Name string `json:"name"`
	Rank int    `json:"rank"`
}

type setProfilePayload struct {
	Name    string  `json:"name"`
	Profile Profile `json:"profile"`
}

type setAFKPayload struct {
	Name string `json:"name"`
	AFK  bool   `json:"afk"`
}

type removeEmotePayload struct {
	Name string `json:"name"`
}
