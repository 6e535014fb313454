// Package models holds the normalized rows written to the message, call and
// conversation tables.
package models

import (
	"fmt"
	"time"
)

// TimestampLayout is the ISO-8601 local wall-clock layout used when a
// timestamp is rendered as text.
const TimestampLayout = "2006-01-02T15:04:05.000"

// Message type discriminators seen in exports. Other values are kept as-is.
const (
	TypeGeneric     = "Generic"
	TypeShare       = "Share"
	TypeCall        = "Call"
	TypeSubscribe   = "Subscribe"
	TypeUnsubscribe = "Unsubscribe"
	TypePayment     = "Payment"
	TypePlan        = "Plan"
)

// Message is one non-call entry of a conversation page, with the
// conversation attributes denormalized onto it.
type Message struct {
	Sender  string
	SentAt  time.Time
	Content *string

	Gifs    *string
	Photos  *string
	Share   *string
	Sticker *string
	Audio   *string
	Video   *string

	Type               string
	Title              string
	ConversationID     string
	IsStillParticipant bool
	Participants       string
	ThreadType         string
}

// Key identifies a message across runs. Loads are truncate-and-reload, so
// nothing deduplicates on it yet.
func (m Message) Key() string {
	return fmt.Sprintf("%s|%s|%d", m.ConversationID, m.Sender, m.SentAt.UnixMilli())
}

// Call is one entry of type "Call".
type Call struct {
	Caller             string
	StartedAt          time.Time
	Content            *string
	ConversationID     string
	IsStillParticipant bool
	Participants       string
	ThreadType         string
	Duration           *float64 // seconds
	IsMissed           *bool
}

func (c Call) Key() string {
	return fmt.Sprintf("%s|%s|%d", c.ConversationID, c.Caller, c.StartedAt.UnixMilli())
}

// Conversation is the summary row derived from loaded messages.
type Conversation struct {
	Title              string
	CountMessages      int64
	IsStillParticipant bool
	ConversationID     string
}

// FromMillis converts milliseconds since the epoch to a time in loc.
// A nil loc means time.Local.
func FromMillis(ms int64, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	return time.UnixMilli(ms).In(loc)
}

// FormatTimestamp renders t in its own location using TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.Format(TimestampLayout)
}
