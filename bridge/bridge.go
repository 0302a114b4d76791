// Package bridge is the composition root. It resolves the mode gate and
// constructs only the enabled subsystems: absent components are never wired,
// not disabled in place, so guest mode cannot leak bus activity through a
// forgotten flag.
package bridge

import (
	"context"
	"log/slog"
	"time"

	"github.com/c360/syncbridge/bus"
	"github.com/c360/syncbridge/capability"
	"github.com/c360/syncbridge/config"
	"github.com/c360/syncbridge/errors"
	"github.com/c360/syncbridge/health"
	"github.com/c360/syncbridge/metric"
	"github.com/c360/syncbridge/natsclient"
	"github.com/c360/syncbridge/pkg/retry"
	"github.com/c360/syncbridge/session"
	"github.com/c360/syncbridge/state"
	"github.com/c360/syncbridge/transport"
	"github.com/c360/syncbridge/translate"
)

// frameBuffer bounds the transport-to-ingestion channel
const frameBuffer = 256

// Bridge owns the full component graph for one origin channel
type Bridge struct {
	cfg    *config.Config
	caps   capability.Set
	logger *slog.Logger

	metrics    *metric.Metrics
	nats       *natsclient.Client
	store      *state.Store
	translator *translate.Translator
	manager    *session.Manager
	eventPub   *bus.EventPublisher
	lifecycle  *bus.LifecyclePublisher
	router     *bus.Router
	actions    *bus.ActionSender
}

// New resolves the mode gate and builds the enabled component graph.
// registry may be nil when metrics are not being served.
func New(cfg *config.Config, registry *metric.Registry, logger *slog.Logger) (*Bridge, error) {
	if logger == nil {
		logger = slog.Default()
	}
	caps := capability.Resolve(cfg.Mode)
	logger.Info("Resolved operating mode",
		"guest", cfg.Mode.Guest, "capabilities", caps.String())

	b := &Bridge{
		cfg:    cfg,
		caps:   caps,
		logger: logger.With("component", "bridge"),
	}
	if registry != nil {
		b.metrics = registry.Metrics
	}

	if caps.Has(capability.BusConnection) {
		opts := []natsclient.ClientOption{
			natsclient.WithLogger(logger),
			natsclient.WithMaxReconnects(cfg.NATS.MaxReconnects),
			natsclient.WithReconnectWait(cfg.NATS.ReconnectWait),
			natsclient.WithStatusChange(b.onBusStatus),
		}
		if cfg.NATS.Name != "" {
			opts = append(opts, natsclient.WithName(cfg.NATS.Name))
		}
		if cfg.NATS.Username != "" && cfg.NATS.Password != "" {
			opts = append(opts, natsclient.WithCredentials(cfg.NATS.Username, cfg.NATS.Password))
		}
		if cfg.NATS.Token != "" {
			opts = append(opts, natsclient.WithToken(cfg.NATS.Token))
		}

		client, err := natsclient.NewClient(cfg.NATS.URL, opts...)
		if err != nil {
			return nil, errors.Wrap(err, "bridge", "New", "create bus client")
		}
		b.nats = client
	}

	var mirror state.Mirror
	if b.caps.Has(capability.StatePersistence) {
		mirror = state.NewKVMirror(b.nats, b.metrics, logger)
	}
	b.store = state.New(cfg.Version, mirror, logger)

	var notifier session.Notifier
	if caps.Has(capability.LifecyclePublisher) {
		b.lifecycle = bus.NewLifecyclePublisher(b.nats, cfg.Service,
			cfg.Origin.Domain, cfg.Origin.Channel, cfg.Version, b.metrics, logger)
		notifier = b.lifecycle
	}

	backoff := retry.Config{
		InitialDelay: cfg.Session.InitialBackoff,
		MaxDelay:     cfg.Session.MaxBackoff,
		Multiplier:   2.0,
		AddJitter:    true,
	}
	b.manager = session.NewManager(session.Config{
		Origin: transport.Config{
			Domain: cfg.Origin.Domain,
			Secure: cfg.Origin.Secure,
		},
		Channel:       cfg.Origin.Channel,
		Guest:         cfg.Mode.Guest,
		Username:      cfg.Mode.Username,
		Password:      cfg.Mode.Password,
		MaxReconnects: cfg.Session.MaxReconnects,
		Backoff:       backoff,
	}, notifier, logger)

	b.translator = translate.New(cfg.Origin.Channel, b.manager.SuppressChat, logger)

	if caps.Has(capability.EventPublisher) {
		b.eventPub = bus.NewEventPublisher(b.nats, cfg.Service, cfg.Origin.Domain, b.metrics, logger)
	}
	if caps.Has(capability.CommandRouter) && cfg.Commands.Enabled {
		b.router = bus.NewRouter(b.nats, b.store, cfg.Service, cfg.Origin.Domain,
			cfg.Origin.Channel, b.manager.Liveness, b.metrics, logger)
	}
	if caps.Has(capability.ActionSender) && cfg.Commands.Enabled {
		b.actions = bus.NewActionSender(b.nats, b.manager, cfg.Service,
			cfg.Origin.Channel, b.metrics, logger)
	}

	return b, nil
}

// Capabilities returns the resolved subsystem set
func (b *Bridge) Capabilities() capability.Set {
	return b.caps
}

// Liveness exposes the session tri-state for the external health endpoint
func (b *Bridge) Liveness() session.Liveness {
	return b.manager.Liveness()
}

// Status builds the health endpoint payload
func (b *Bridge) Status() health.Status {
	s := health.Status{
		Service:  b.cfg.Service,
		Version:  b.cfg.Version,
		Session:  b.manager.Liveness(),
		Channels: b.store.Channels(),
	}
	if b.nats != nil {
		s.Bus = b.nats.Status().String()
	}
	return s
}

// Run starts the enabled subsystems and drives the session until ctx is
// cancelled or the reconnect ceiling is exhausted. It always tears down in
// reverse start order and returns the session's terminal error, if any.
func (b *Bridge) Run(ctx context.Context) error {
	if b.nats != nil {
		if err := b.nats.Connect(ctx); err != nil {
			return errors.Wrap(err, "bridge", "Run", "connect to bus")
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := b.nats.Close(closeCtx); err != nil {
				b.logger.Warn("Bus teardown reported errors", "error", err)
			}
		}()
	}

	if b.lifecycle != nil {
		b.lifecycle.Start(ctx)
		// The final disconnect event must go out before the bus teardown
		defer b.lifecycle.Stop()
	}
	if b.router != nil {
		if err := b.router.Start(ctx); err != nil {
			return errors.Wrap(err, "bridge", "Run", "start command router")
		}
	}
	if b.actions != nil {
		if err := b.actions.Start(ctx); err != nil {
			return errors.Wrap(err, "bridge", "Run", "start action sender")
		}
	}

	gaugeCtx, stopGauges := context.WithCancel(ctx)
	defer stopGauges()
	go b.trackSession(gaugeCtx)

	frames := make(chan transport.Frame, frameBuffer)
	ingestDone := make(chan struct{})
	go func() {
		defer close(ingestDone)
		b.ingest(ctx, frames)
	}()

	runErr := b.manager.Run(ctx, frames)
	close(frames)
	<-ingestDone

	return runErr
}

// ingest is the single consumer of the transport stream: translate, apply,
// relay, in that order, one frame at a time.
func (b *Bridge) ingest(ctx context.Context, frames <-chan transport.Frame) {
	var prevSuppressed, prevUnknown int64
	for frame := range frames {
		if b.metrics != nil {
			b.metrics.FramesReceived.Inc()
		}

		ev, ok := b.translator.Translate(frame)
		if !ok {
			if b.metrics != nil {
				_, suppressed, unknown := b.translator.Stats()
				if suppressed > prevSuppressed {
					b.metrics.EventsSuppressed.Inc()
				}
				if unknown > prevUnknown {
					b.metrics.FramesUntranslated.Inc()
				}
				prevSuppressed, prevUnknown = suppressed, unknown
			}
			continue
		}

		b.store.Apply(ev)
		if b.eventPub != nil {
			b.eventPub.Relay(ctx, ev)
		}
	}
}

// trackSession keeps the session gauge aligned with the manager's liveness
func (b *Bridge) trackSession(ctx context.Context) {
	if b.metrics == nil {
		return
	}
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			switch b.manager.Liveness() {
			case session.LivenessConnected:
				b.metrics.SessionState.Set(2)
			case session.LivenessReconnecting:
				b.metrics.SessionState.Set(1)
			default:
				b.metrics.SessionState.Set(0)
			}
		}
	}
}

func (b *Bridge) onBusStatus(status natsclient.ConnectionStatus) {
	if b.metrics == nil {
		return
	}
	if status == natsclient.StatusConnected {
		b.metrics.BusConnected.Set(1)
	} else {
		b.metrics.BusConnected.Set(0)
	}
}
