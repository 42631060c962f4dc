// Package chategress implements Chat Egress (spec §4.H): an abstract
// posting interface with a Discord bot-token adapter, grounded on the
// teacher's internal/application/alerts_discord.go (DiscordProvider,
// DiscordWebhookPayload, DiscordEmbed) generalized behind the Egress
// interface the spec requires so the core stays testable without a live
// chat platform.
package chategress

import (
	"errors"
)

// TransientError wraps a failure the caller should retry (rate limit,
// timeout, 5xx).
type TransientError struct{ Err error }

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError wraps a failure retrying will never fix (invalid channel,
// forbidden, auth) — spec §4.H says the router marks that channel "broken"
// for the remainder of the tick on this error.
type PermanentError struct{ Err error }

func (e *PermanentError) Error() string { return "permanent: " + e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

var ErrBrokenChannel = errors.New("channel marked broken for this tick")

// Field is one named value in a Payload (spec §4.H "structured record").
type Field struct {
	Name   string
	Value  string
	Inline bool
}

// Payload is the platform-agnostic message the router builds and Egress
// posts (spec §4.H).
type Payload struct {
	Title        string
	Description  string
	Color        int
	Fields       []Field
	ThumbnailURL string
	Mentions     []string
	Timestamp    string
}

// Ack confirms a successful post.
type Ack struct {
	ChannelID string
}

// Egress posts a Payload to a channel. Implementations retry TransientError
// internally up to 3x with exponential backoff (spec §4.H); callers only see
// the final TransientError or PermanentError.
type Egress interface {
	Post(channelID string, payload Payload) (Ack, error)
}
