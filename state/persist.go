package state

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/c360/syncbridge/metric"
	"github.com/c360/syncbridge/natsclient"
)

// writeTimeout bounds each mirror write so a slow bus cannot back up the
// ingestion goroutine's caller
const writeTimeout = 5 * time.Second

// KV bucket layout: one bucket per channel and state class, a single key per
// bucket holding the full JSON document. Downstream consumers watch the key
// for changes.
const (
	keyPlaylist = "items"
	keyUsers    = "users"
	keyEmotes   = "list"
)

// KVMirror persists state copies to JetStream key-value buckets named
// sync_{channel}_{playlist|userlist|emotes}. Buckets are created lazily on
// first write. Failures are logged and dropped; the in-memory store stays
// authoritative.
type KVMirror struct {
	client  *natsclient.Client
	logger  *slog.Logger
	metrics *metric.Metrics

	mu      sync.Mutex
	buckets map[string]*natsclient.KVStore
}

// NewKVMirror creates a mirror writing through the given bus client. metrics
// may be nil.
func NewKVMirror(client *natsclient.Client, metrics *metric.Metrics, logger *slog.Logger) *KVMirror {
	if logger == nil {
		logger = slog.Default()
	}
	return &KVMirror{
		client:  client,
		metrics: metrics,
		logger:  logger.With("component", "state_mirror"),
		buckets: make(map[string]*natsclient.KVStore),
	}
}

// MirrorPlaylist persists the playlist document for one channel
func (m *KVMirror) MirrorPlaylist(channel string, items []MediaItem) {
	m.write(channel, "playlist", keyPlaylist, items)
}

// MirrorUsers persists the roster document for one channel
func (m *KVMirror) MirrorUsers(channel string, users []UserInfo) {
	m.write(channel, "userlist", keyUsers, users)
}

// MirrorEmotes persists the emote document for one channel
func (m *KVMirror) MirrorEmotes(channel string, emotes []Emote) {
	m.write(channel, "emotes", keyEmotes, emotes)
}

func (m *KVMirror) write(channel, class, key string, doc any) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	kv, err := m.bucket(ctx, channel, class)
	if err != nil {
		m.logger.Warn("State mirror bucket unavailable",
			"channel", channel, "class", class, "error", err)
		m.count(class, "error")
		return
	}

	data, err := json.Marshal(doc)
	if err != nil {
		m.logger.Warn("State mirror marshal failed",
			"channel", channel, "class", class, "error", err)
		m.count(class, "error")
		return
	}

	if _, err := kv.Put(ctx, key, data); err != nil {
		m.logger.Warn("State mirror write failed",
			"channel", channel, "class", class, "error", err)
		m.count(class, "error")
		return
	}
	m.count(class, "ok")
}

func (m *KVMirror) count(class, status string) {
	if m.metrics != nil {
		m.metrics.StateMirrorWrites.WithLabelValues(class, status).Inc()
	}
}

func (m *KVMirror) bucket(ctx context.Context, channel, class string) (*natsclient.KVStore, error) {
	name := bucketName(channel, class)

	m.mu.Lock()
	kv, ok := m.buckets[name]
	m.mu.Unlock()
	if ok {
		return kv, nil
	}

	raw, err := m.client.EnsureKeyValue(ctx, name)
	if err != nil {
		return nil, err
	}
	kv = m.client.NewKVStore(raw)

	m.mu.Lock()
	m.buckets[name] = kv
	m.mu.Unlock()
	return kv, nil
}

// bucketName builds a KV bucket identifier. Bucket names allow a narrower
// character set than subjects, so anything outside [A-Za-z0-9_-] becomes an
// underscore.
func bucketName(channel, class string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(channel) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	name := b.String()
	if name == "" {
		name = "unspecified"
	}
	return "sync_" + name + "_" + class
}
