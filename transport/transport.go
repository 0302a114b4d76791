// Package transport owns the single websocket connection to the origin
// platform. It deals in raw frames only: event name plus opaque JSON payload.
// Session semantics (join, login, reconnect policy) live in the session
// package; keepalive pings are answered here because they are wire-level
// concerns, not session events.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/c360/syncbridge/errors"
)

// Frame is one origin-platform event: a name and its raw JSON argument.
// Frames are immutable once read.
type Frame struct {
	Name string
	Data json.RawMessage
}

// Config holds dial parameters for one origin connection
type Config struct {
	Domain           string        // e.g. "cytu.be"
	Secure           bool          // wss:// when true
	HandshakeTimeout time.Duration // defaults to 45s
}

// Conn is a single live connection to the origin platform. It is not safe to
// call ReadFrame from multiple goroutines; the session manager owns the one
// read loop.
type Conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	closed  bool
	closeMu sync.Mutex
}

// URL returns the websocket endpoint for the configured origin
func (c Config) URL() string {
	scheme := "ws"
	if c.Secure {
		scheme = "wss"
	}
	u := url.URL{
		Scheme:   scheme,
		Host:     c.Domain,
		Path:     "/socket.io/",
		RawQuery: "EIO=3&transport=websocket",
	}
	return u.String()
}

// Dial opens a websocket connection to the origin platform and completes the
// transport-level handshake. It does not join a channel or authenticate.
func Dial(ctx context.Context, cfg Config) (*Conn, error) {
	timeout := cfg.HandshakeTimeout
	if timeout == 0 {
		timeout = 45 * time.Second
	}

	dialer := &websocket.Dialer{HandshakeTimeout: timeout}
	ws, _, err := dialer.DialContext(ctx, cfg.URL(), nil)
	if err != nil {
		return nil, errors.WrapTransient(err, "transport", "Dial", "dial origin platform")
	}

	return &Conn{ws: ws}, nil
}

// ReadFrame blocks until the next event frame arrives, the connection fails,
// or the deadline set by the caller expires. Wire-level control packets
// (keepalive ping, handshake acknowledgements) are consumed internally and
// never surface as frames.
func (c *Conn) ReadFrame() (Frame, error) {
	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			return Frame{}, errors.WrapTransient(err, "transport", "ReadFrame", "read next frame")
		}

		packet, ok, err := c.handlePacket(message)
		if err != nil {
			return Frame{}, err
		}
		if ok {
			return packet, nil
		}
	}
}

// handlePacket decodes one wire packet. The bool result reports whether the
// packet carried an event frame for the caller.
func (c *Conn) handlePacket(message []byte) (Frame, bool, error) {
	if len(message) == 0 {
		return Frame{}, false, nil
	}

	switch message[0] {
	case '2': // keepalive ping, answer with pong
		if err := c.writeRaw([]byte("3")); err != nil {
			return Frame{}, false, err
		}
		return Frame{}, false, nil
	case '0', '1', '3', '4':
		if len(message) >= 2 && message[0] == '4' && message[1] == '2' {
			frame, err := decodeEvent(message[2:])
			if err != nil {
				// Malformed event payloads degrade to no frame; the
				// connection itself is still good.
				return Frame{}, false, nil
			}
			return frame, true, nil
		}
		// Handshake, upgrade and ack packets carry no event
		return Frame{}, false, nil
	default:
		return Frame{}, false, nil
	}
}

// WriteFrame sends an event frame to the origin platform
func (c *Conn) WriteFrame(f Frame) error {
	data, err := encodeEvent(f)
	if err != nil {
		return err
	}
	return c.writeRaw(data)
}

func (c *Conn) writeRaw(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return errors.WrapTransient(err, "transport", "WriteFrame", "write frame")
	}
	return nil
}

// SetReadDeadline bounds the next ReadFrame call
func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.ws.SetReadDeadline(t)
}

// Close tears down the websocket. Safe to call more than once.
func (c *Conn) Close() error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	return c.ws.Close()
}

// decodeEvent parses the JSON array body of an event packet: ["name", arg]
func decodeEvent(body []byte) (Frame, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(body, &parts); err != nil {
		return Frame{}, errors.WrapInvalid(err, "transport", "decodeEvent", "unmarshal event packet")
	}
	if len(parts) == 0 {
		return Frame{}, errors.WrapInvalid(
			fmt.Errorf("empty event packet"), "transport", "decodeEvent", "validate event packet")
	}

	var name string
	if err := json.Unmarshal(parts[0], &name); err != nil || name == "" {
		return Frame{}, errors.WrapInvalid(
			fmt.Errorf("event packet has no name"), "transport", "decodeEvent", "validate event name")
	}

	frame := Frame{Name: name}
	if len(parts) > 1 {
		frame.Data = parts[1]
	}
	return frame, nil
}

// encodeEvent renders an event frame as a wire packet: 42["name", arg]
func encodeEvent(f Frame) ([]byte, error) {
	if f.Name == "" {
		return nil, errors.WrapInvalid(
			fmt.Errorf("frame has no name"), "transport", "encodeEvent", "validate frame")
	}

	parts := []json.RawMessage{}
	name, err := json.Marshal(f.Name)
	if err != nil {
		return nil, errors.WrapInvalid(err, "transport", "encodeEvent", "marshal frame name")
	}
	parts = append(parts, name)
	if f.Data != nil {
		parts = append(parts, f.Data)
	}

	body, err := json.Marshal(parts)
	if err != nil {
		return nil, errors.WrapInvalid(err, "transport", "encodeEvent", "marshal event packet")
	}

	return append([]byte("42"), body...), nil
}
