package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/c360/syncbridge/metric"
	"github.com/c360/syncbridge/natsclient"
	"github.com/c360/syncbridge/transport"
)

// FrameSender writes one frame on the live origin session. *session.Manager
// satisfies it.
type FrameSender interface {
	Send(transport.Frame) error
}

// ActionSender turns bus action messages into outbound origin-platform
// frames: chat and moderation commands, playlist edits, playback control.
// Send failures (typically no live session) are logged and counted, never
// retried; the caller owns retry semantics.
type ActionSender struct {
	conn    Conn
	sender  FrameSender
	service string
	channel string
	logger  *slog.Logger
	metrics *metric.Metrics

	sent   atomic.Uint64
	failed atomic.Uint64
}

// NewActionSender creates an action sender. metrics may be nil.
func NewActionSender(conn Conn, sender FrameSender, service, channel string,
	metrics *metric.Metrics, logger *slog.Logger) *ActionSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &ActionSender{
		conn:    conn,
		sender:  sender,
		service: service,
		channel: channel,
		metrics: metrics,
		logger:  logger.With("component", "action_sender"),
	}
}

// Start subscribes to the channel's action wildcard
func (s *ActionSender) Start(ctx context.Context) error {
	subject := ActionWildcard(s.service, s.channel)
	if err := s.conn.Subscribe(ctx, subject, s.onMessage); err != nil {
		return err
	}
	s.logger.Info("Action sender listening", "subject", subject)
	return nil
}

// actionMessage is the payload of one action. The action name comes from the
// subject; a payload-level "action" field overrides it for callers publishing
// to the bare channel subject.
type actionMessage struct {
	Action string         `json:"action,omitempty"`
	Params map[string]any `json:"params,omitempty"`
}

func (s *ActionSender) onMessage(_ context.Context, msg natsclient.Msg) {
	var am actionMessage
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &am); err != nil {
			s.logger.Warn("Malformed action payload", "subject", msg.Subject, "error", err)
			s.count("malformed", "error")
			return
		}
	}

	action := am.Action
	if action == "" {
		action = ActionFromSubject(msg.Subject)
	}
	s.Execute(action, am.Params)
}

// Execute maps one action to a frame and sends it
func (s *ActionSender) Execute(action string, params map[string]any) {
	key := strings.ToLower(strings.TrimSpace(action))
	frame, err := buildActionFrame(key, params)
	if err != nil {
		s.failed.Add(1)
		s.count(key, "invalid")
		s.logger.Warn("Action rejected", "action", action, "error", err)
		return
	}

	if err := s.sender.Send(frame); err != nil {
		s.failed.Add(1)
		s.count(key, "error")
		s.logger.Warn("Action send failed", "action", action, "error", err)
		return
	}

	s.sent.Add(1)
	s.count(key, "ok")
	s.logger.Debug("Action sent", "action", action, "frame", frame.Name)
}

func (s *ActionSender) count(action, status string) {
	if s.metrics != nil {
		s.metrics.ActionsSent.WithLabelValues(action, status).Inc()
	}
}

// Stats reports action counters
func (s *ActionSender) Stats() (sent, failed uint64) {
	return s.sent.Load(), s.failed.Load()
}

// buildActionFrame maps a lowercased action name plus parameters to the
// origin-platform frame that performs it. Moderation actions ride the chat
// command syntax; playback control rides the leader's media update.
func buildActionFrame(action string, params map[string]any) (transport.Frame, error) {
	switch action {
	case "chat":
		msg, ok := stringParam(params, "msg")
		if !ok {
			return transport.Frame{}, fmt.Errorf("chat requires 'msg'")
		}
		return jsonFrame("chatMsg", map[string]any{"msg": msg, "meta": map[string]any{}})

	case "pm":
		to, okTo := stringParam(params, "to")
		msg, okMsg := stringParam(params, "msg")
		if !okTo || !okMsg {
			return transport.Frame{}, fmt.Errorf("pm requires 'to' and 'msg'")
		}
		return jsonFrame("pm", map[string]any{"to": to, "msg": msg, "meta": map[string]any{}})

	case "queue":
		id, ok := stringParam(params, "id")
		if !ok {
			return transport.Frame{}, fmt.Errorf("queue requires 'id'")
		}
		mediaType, ok := stringParam(params, "type")
		if !ok {
			mediaType = "yt"
		}
		pos, ok := stringParam(params, "pos")
		if !ok {
			pos = "end"
		}
		temp, _ := params["temp"].(bool)
		return jsonFrame("queue", map[string]any{
			"id": id, "type": mediaType, "pos": pos, "temp": temp,
		})

	case "delete":
		uid, ok := params["uid"]
		if !ok {
			return transport.Frame{}, fmt.Errorf("delete requires 'uid'")
		}
		return jsonFrame("delete", uid)

	case "move":
		from, okFrom := params["from"]
		after, okAfter := params["after"]
		if !okFrom || !okAfter {
			return transport.Frame{}, fmt.Errorf("move requires 'from' and 'after'")
		}
		return jsonFrame("moveMedia", map[string]any{"from": from, "after": after})

	case "jump":
		uid, ok := params["uid"]
		if !ok {
			return transport.Frame{}, fmt.Errorf("jump requires 'uid'")
		}
		return jsonFrame("jumpTo", uid)

	case "clear":
		return transport.Frame{Name: "clearPlaylist"}, nil

	case "shuffle":
		return transport.Frame{Name: "shuffle"}, nil

	case "playnext":
		return transport.Frame{Name: "playNext"}, nil

	case "voteskip":
		return transport.Frame{Name: "voteskip"}, nil

	case "pause":
		return jsonFrame("mediaUpdate", map[string]any{
			"currentTime": numberParam(params, "currentTime"), "paused": true,
		})

	case "play":
		return jsonFrame("mediaUpdate", map[string]any{
			"currentTime": numberParam(params, "currentTime"), "paused": false,
		})

	case "seek":
		if _, ok := params["currentTime"]; !ok {
			return transport.Frame{}, fmt.Errorf("seek requires 'currentTime'")
		}
		paused, _ := params["paused"].(bool)
		return jsonFrame("mediaUpdate", map[string]any{
			"currentTime": numberParam(params, "currentTime"), "paused": paused,
		})

	case "assignleader":
		name, _ := stringParam(params, "name") // empty clears the leader
		return jsonFrame("assignLeader", map[string]any{"name": name})

	case "kick":
		return chatCommandFrame("/kick", params)
	case "ban":
		return chatCommandFrame("/ban", params)
	case "mute":
		return chatCommandFrame("/mute", params)
	case "unmute":
		return chatCommandFrame("/unmute", params)

	default:
		return transport.Frame{}, fmt.Errorf("unknown action: %s", action)
	}
}

// chatCommandFrame builds the moderation chat-command frame, e.g.
// "/kick name reason"
func chatCommandFrame(command string, params map[string]any) (transport.Frame, error) {
	name, ok := stringParam(params, "name")
	if !ok {
		return transport.Frame{}, fmt.Errorf("%s requires 'name'", strings.TrimPrefix(command, "/"))
	}
	msg := command + " " + name
	if reason, ok := stringParam(params, "reason"); ok {
		msg += " " + reason
	}
	return jsonFrame("chatMsg", map[string]any{"msg": msg, "meta": map[string]any{}})
}

func jsonFrame(name string, payload any) (transport.Frame, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return transport.Frame{}, err
	}
	return transport.Frame{Name: name, Data: data}, nil
}

func stringParam(params map[string]any, key string) (string, bool) {
	v, ok := params[key].(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func numberParam(params map[string]any, key string) float64 {
	v, _ := params[key].(float64)
	return v
}
