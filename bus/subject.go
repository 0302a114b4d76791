// Package bus holds the NATS-facing components: subject construction, the
// event and lifecycle publishers, the command router and the action sender.
// Everything here exists only in full mode; guest mode never constructs any
// of it.
package bus

import "strings"

// MaxTokenLength caps individual subject tokens to stay within NATS subject
// limits
const MaxTokenLength = 100

// PlaceholderToken substitutes for any token that normalizes to empty.
// Normalization is total: it always yields a valid, non-empty component.
const PlaceholderToken = "unspecified"

// Normalize sanitizes one subject token: lowercased, spaces become hyphens,
// NATS wildcards and subject-breaking ASCII are stripped, and the result is
// truncated to MaxTokenLength. An input that reduces to nothing yields
// PlaceholderToken, never the empty string.
func Normalize(token string) string {
	token = strings.ToLower(token)
	token = strings.ReplaceAll(token, " ", "-")

	var b strings.Builder
	b.Grow(len(token))
	for _, r := range token {
		switch r {
		case '*', '>', '.',
			'!', '@', '#', '$', '%', '^', '&', '(', ')', '+', '=',
			'[', ']', '{', '|', '}', '\\', ':', ';', '"', '\'', '<', ',', '?', '/':
			// dropped
		default:
			b.WriteRune(r)
		}
	}

	out := b.String()
	if len(out) > MaxTokenLength {
		out = out[:MaxTokenLength]
	}
	if out == "" {
		return PlaceholderToken
	}
	return out
}

// CommandSubject is the unified inbound request subject for one service
func CommandSubject(service string) string {
	return Normalize(service) + ".command"
}

// ReplySubject is the response subject for a command carrying the given
// correlation id
func ReplySubject(service, correlationID string) string {
	return Normalize(service) + ".command.reply." + Normalize(correlationID)
}

// EventSubject carries one canonical event: {service}.event.{domain}.{channel}.{eventType}.
// The domain keeps its dots, lowercased; channel and event type are normalized.
func EventSubject(service, domain, channel, eventType string) string {
	d := strings.ToLower(strings.TrimSpace(domain))
	if d == "" {
		d = PlaceholderToken
	}
	return Normalize(service) + ".event." + d + "." + Normalize(channel) + "." + Normalize(eventType)
}

// LifecycleSubject carries one connection lifecycle transition
func LifecycleSubject(service, transition string) string {
	return Normalize(service) + ".lifecycle." + Normalize(transition)
}

// HeartbeatSubject is the periodic service-registry announcement subject
func HeartbeatSubject(service string) string {
	return Normalize(service) + ".registry.heartbeat"
}

// ActionWildcard subscribes to every outbound action for one channel
func ActionWildcard(service, channel string) string {
	return Normalize(service) + ".action." + Normalize(channel) + ".>"
}

// ActionFromSubject extracts the action name, the token after the channel in
// {service}.action.{channel}.{action}. Missing or empty tokens yield the
// placeholder so callers never build an invalid subject from the result.
func ActionFromSubject(subject string) string {
	parts := strings.Split(subject, ".")
	if len(parts) < 4 {
		return PlaceholderToken
	}
	return Normalize(parts[3])
}
