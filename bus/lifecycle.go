package bus

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/c360/syncbridge/metric"
	"github.com/c360/syncbridge/session"
)

// HeartbeatInterval is the period of the service-registry announcement
const HeartbeatInterval = 30 * time.Second

// Lifecycle transitions published on {service}.lifecycle.{transition}
const (
	TransitionConnected        = "connected"
	TransitionDisconnected     = "disconnected"
	TransitionReconnectStart   = "reconnect-start"
	TransitionReconnectSuccess = "reconnect-success"
	TransitionReconnectFailure = "reconnect-failure"
)

// LifecycleEvent is the payload of every lifecycle transition
type LifecycleEvent struct {
	Service        string    `json:"service"`
	Instance       string    `json:"instance"`
	Transition     string    `json:"transition"`
	Domain         string    `json:"domain"`
	Channel        string    `json:"channel"`
	Timestamp      time.Time `json:"timestamp"`
	AuthMode       string    `json:"auth_mode,omitempty"`
	Rank           int       `json:"rank,omitempty"`
	ReconnectCount int       `json:"reconnect_count,omitempty"`
	Attempt        int       `json:"attempt,omitempty"`
	ErrorKind      string    `json:"error_kind,omitempty"`
	Error          string    `json:"error,omitempty"`
}

// Heartbeat is the periodic registry announcement payload. Multi-instance
// deployments use it for collision detection.
type Heartbeat struct {
	Service   string    `json:"service"`
	Instance  string    `json:"instance"`
	Version   string    `json:"version"`
	Domain    string    `json:"domain"`
	Channel   string    `json:"channel"`
	Timestamp time.Time `json:"timestamp"`
}

// LifecyclePublisher emits connection lifecycle transitions and the periodic
// registry heartbeat. It implements session.Notifier so the session manager
// reports transitions without knowing the bus exists.
type LifecyclePublisher struct {
	conn     Conn
	service  string
	domain   string
	channel  string
	version  string
	instance string
	interval time.Duration
	logger   *slog.Logger
	metrics  *metric.Metrics

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewLifecyclePublisher creates a lifecycle publisher with a fresh instance
// identity. metrics may be nil.
func NewLifecyclePublisher(conn Conn, service, domain, channel, version string,
	metrics *metric.Metrics, logger *slog.Logger) *LifecyclePublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LifecyclePublisher{
		conn:     conn,
		service:  service,
		domain:   domain,
		channel:  channel,
		version:  version,
		instance: uuid.New().String(),
		interval: HeartbeatInterval,
		metrics:  metrics,
		logger:   logger.With("component", "lifecycle_publisher"),
	}
}

// Instance returns this process's registry identity
func (l *LifecyclePublisher) Instance() string {
	return l.instance
}

// Start begins the heartbeat loop
func (l *LifecyclePublisher) Start(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ticker := time.NewTicker(l.interval)
		defer ticker.Stop()

		l.beat(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.beat(ctx)
			}
		}
	}()
}

// Stop halts the heartbeat loop and waits for it to finish
func (l *LifecyclePublisher) Stop() {
	l.mu.Lock()
	cancel := l.cancel
	l.cancel = nil
	l.mu.Unlock()

	if cancel != nil {
		cancel()
		l.wg.Wait()
	}
}

func (l *LifecyclePublisher) beat(ctx context.Context) {
	hb := Heartbeat{
		Service:   l.service,
		Instance:  l.instance,
		Version:   l.version,
		Domain:    l.domain,
		Channel:   l.channel,
		Timestamp: time.Now().UTC(),
	}
	data, err := json.Marshal(hb)
	if err != nil {
		return
	}
	if err := l.conn.Publish(ctx, HeartbeatSubject(l.service), data); err != nil {
		l.logger.Debug("Heartbeat publish failed", "error", err)
		if l.metrics != nil {
			l.metrics.PublishFailures.WithLabelValues("heartbeat").Inc()
		}
	}
}

func (l *LifecyclePublisher) publish(transition string, ev LifecycleEvent) {
	ev.Service = l.service
	ev.Instance = l.instance
	ev.Transition = transition
	ev.Domain = l.domain
	ev.Channel = l.channel
	ev.Timestamp = time.Now().UTC()

	data, err := json.Marshal(ev)
	if err != nil {
		return
	}

	// Lifecycle events fire from the session run loop; a short independent
	// timeout keeps a stalled bus from stalling reconnection.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := l.conn.Publish(ctx, LifecycleSubject(l.service, transition), data); err != nil {
		l.logger.Warn("Lifecycle publish failed", "transition", transition, "error", err)
		if l.metrics != nil {
			l.metrics.PublishFailures.WithLabelValues("lifecycle").Inc()
		}
	}
}

// Connected implements session.Notifier
func (l *LifecyclePublisher) Connected(info session.Info) {
	l.publish(TransitionConnected, LifecycleEvent{
		AuthMode: string(info.AuthMode),
		Rank:     info.Rank,
	})
}

// Disconnected implements session.Notifier
func (l *LifecyclePublisher) Disconnected(reason error) {
	ev := LifecycleEvent{}
	if reason != nil {
		ev.Error = reason.Error()
	}
	l.publish(TransitionDisconnected, ev)
}

// ReconnectStarted implements session.Notifier
func (l *LifecyclePublisher) ReconnectStarted(attempt int, kind session.ErrKind, reason error) {
	ev := LifecycleEvent{Attempt: attempt, ErrorKind: string(kind)}
	if reason != nil {
		ev.Error = reason.Error()
	}
	l.publish(TransitionReconnectStart, ev)
}

// ReconnectSucceeded implements session.Notifier
func (l *LifecyclePublisher) ReconnectSucceeded(info session.Info) {
	if l.metrics != nil {
		l.metrics.Reconnects.Inc()
	}
	l.publish(TransitionReconnectSuccess, LifecycleEvent{
		AuthMode:       string(info.AuthMode),
		Rank:           info.Rank,
		ReconnectCount: info.ReconnectCount,
	})
}

// ReconnectFailed implements session.Notifier
func (l *LifecyclePublisher) ReconnectFailed(attempt int, kind session.ErrKind, reason error) {
	ev := LifecycleEvent{Attempt: attempt, ErrorKind: string(kind)}
	if reason != nil {
		ev.Error = reason.Error()
	}
	l.publish(TransitionReconnectFailure, ev)
}
