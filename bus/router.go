package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/c360/syncbridge/metric"
	"github.com/c360/syncbridge/natsclient"
	"github.com/c360/syncbridge/session"
	"github.com/c360/syncbridge/state"
)

// ErrorKind classifies command failures in responses. These never crash the
// process; they are response-level only.
type ErrorKind string

// Command failure kinds
const (
	ErrorUnknownCommand    ErrorKind = "UnknownCommand"
	ErrorInvalidParameters ErrorKind = "InvalidParameters"
	ErrorNotFound          ErrorKind = "NotFound"
	ErrorInternal          ErrorKind = "InternalError"
)

// Request is one inbound command. Service lets multiple services share a bus
// prefix; requests addressed to another service are ignored.
type Request struct {
	Service       string          `json:"service,omitempty"`
	Command       string          `json:"command"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Parameters    json.RawMessage `json:"parameters,omitempty"`
}

// Response is the reply for one Request. CorrelationID always echoes the
// request's value unchanged.
type Response struct {
	Service       string    `json:"service"`
	Command       string    `json:"command"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Success       bool      `json:"success"`
	Result        any       `json:"result,omitempty"`
	ErrorKind     ErrorKind `json:"error_kind,omitempty"`
	ErrorMessage  string    `json:"error_message,omitempty"`
}

// routeError carries a kind and message out of a handler
type routeError struct {
	kind ErrorKind
	msg  string
}

func (e *routeError) Error() string { return e.msg }

// Router answers structured queries on the unified command subject. It is
// stateless between requests; correlation lives entirely in the
// request/response pair.
type Router struct {
	conn     Conn
	store    *state.Store
	service  string
	domain   string
	channel  string
	liveness func() session.Liveness
	logger   *slog.Logger
	metrics  *metric.Metrics

	processed atomic.Uint64
	failed    atomic.Uint64
	started   time.Time
}

// NewRouter creates a command router over the given store. liveness supplies
// the session tri-state for system.health; metrics may be nil.
func NewRouter(conn Conn, store *state.Store, service, domain, channel string,
	liveness func() session.Liveness, metrics *metric.Metrics, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		conn:     conn,
		store:    store,
		service:  service,
		domain:   domain,
		channel:  channel,
		liveness: liveness,
		metrics:  metrics,
		logger:   logger.With("component", "command_router"),
		started:  time.Now(),
	}
}

// Start subscribes to the command subject
func (r *Router) Start(ctx context.Context) error {
	subject := CommandSubject(r.service)
	if err := r.conn.Subscribe(ctx, subject, r.onMessage); err != nil {
		return err
	}
	r.logger.Info("Command router listening", "subject", subject)
	return nil
}

func (r *Router) onMessage(ctx context.Context, msg natsclient.Msg) {
	var req Request
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		r.reply(ctx, msg.Reply, Response{
			Service:      r.service,
			Success:      false,
			ErrorKind:    ErrorInvalidParameters,
			ErrorMessage: fmt.Sprintf("invalid request JSON: %v", err),
		})
		r.failed.Add(1)
		return
	}

	// Commands for other services sharing the subject are not ours
	if req.Service != "" && Normalize(req.Service) != Normalize(r.service) {
		return
	}

	resp := r.Handle(ctx, req)
	replyTo := msg.Reply
	if replyTo == "" {
		if req.CorrelationID == "" {
			r.logger.Warn("Command with no reply subject and no correlation id, dropping response",
				"command", req.Command)
			return
		}
		replyTo = ReplySubject(r.service, req.CorrelationID)
	}
	r.reply(ctx, replyTo, resp)
}

func (r *Router) reply(ctx context.Context, subject string, resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		r.logger.Error("Failed to marshal response", "error", err)
		return
	}
	if err := r.conn.Publish(ctx, subject, data); err != nil {
		r.logger.Warn("Failed to publish response", "subject", subject, "error", err)
		if r.metrics != nil {
			r.metrics.PublishFailures.WithLabelValues("reply").Inc()
		}
	}
}

// Handle dispatches one request and builds its response. A handler fault
// becomes an InternalError response; the router itself never dies.
func (r *Router) Handle(_ context.Context, req Request) (resp Response) {
	resp = Response{
		Service:       r.service,
		Command:       req.Command,
		CorrelationID: req.CorrelationID,
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Command handler panicked", "command", req.Command, "panic", rec)
			resp.Success = false
			resp.Result = nil
			resp.ErrorKind = ErrorInternal
			resp.ErrorMessage = fmt.Sprintf("internal fault handling %q", req.Command)
			r.failed.Add(1)
			r.countOutcome(req.Command, "error")
		}
	}()

	result, err := r.dispatch(req)
	if err != nil {
		resp.Success = false
		resp.ErrorKind = err.kind
		resp.ErrorMessage = err.msg
		r.failed.Add(1)
		r.countOutcome(req.Command, "error")
		return resp
	}

	resp.Success = true
	resp.Result = result
	r.processed.Add(1)
	r.countOutcome(req.Command, "ok")
	return resp
}

func (r *Router) countOutcome(command, status string) {
	if r.metrics != nil {
		if command == "" {
			command = "none"
		}
		r.metrics.CommandsHandled.WithLabelValues(command, status).Inc()
	}
}

func (r *Router) dispatch(req Request) (any, *routeError) {
	switch req.Command {
	case "state.playlist":
		return map[string]any{"playlist": r.store.Playlist(r.channelParam(req))}, nil
	case "state.userlist":
		return map[string]any{"userlist": r.store.Users(r.channelParam(req))}, nil
	case "state.emotes":
		return map[string]any{"emotes": r.store.Emotes(r.channelParam(req))}, nil
	case "state.profiles":
		return map[string]any{"profiles": r.store.Profiles(r.channelParam(req))}, nil
	case "state.user":
		return r.handleUser(req)
	case "state.all":
		return r.store.All(r.channelParam(req)), nil
	case "system.health":
		return r.handleHealth(), nil
	case "system.channels":
		return map[string]any{"channels": r.store.Channels()}, nil
	case "system.version":
		return map[string]any{"version": r.store.Version()}, nil
	case "":
		return nil, &routeError{ErrorInvalidParameters, "missing 'command' field"}
	default:
		return nil, &routeError{ErrorUnknownCommand, fmt.Sprintf("unknown command: %s", req.Command)}
	}
}

func (r *Router) handleUser(req Request) (any, *routeError) {
	params := req.params()
	username, _ := params["username"].(string)
	if username == "" {
		return nil, &routeError{ErrorInvalidParameters, "state.user requires 'username'"}
	}

	channel := r.channelParam(req)
	user, ok := r.store.User(channel, username)
	if !ok {
		return nil, &routeError{ErrorNotFound, fmt.Sprintf("user %q not in channel %q", username, channel)}
	}
	return map[string]any{"user": user}, nil
}

func (r *Router) handleHealth() any {
	liveness := session.LivenessDisconnected
	if r.liveness != nil {
		liveness = r.liveness()
	}
	return map[string]any{
		"service":           r.service,
		"status":            string(liveness),
		"domain":            r.domain,
		"channel":           r.channel,
		"uptime_seconds":    int(time.Since(r.started).Seconds()),
		"queries_processed": r.processed.Load(),
		"queries_failed":    r.failed.Load(),
	}
}

// channelParam resolves the target channel, defaulting to the router's own
func (r *Router) channelParam(req Request) string {
	params := req.params()
	if ch, ok := params["channel"].(string); ok && ch != "" {
		return ch
	}
	return r.channel
}

func (req Request) params() map[string]any {
	if len(req.Parameters) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(req.Parameters, &m); err != nil {
		return nil
	}
	return m
}

// Stats reports processing counters
func (r *Router) Stats() (processed, failed uint64) {
	return r.processed.Load(), r.failed.Load()
}
