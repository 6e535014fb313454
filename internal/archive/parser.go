// Package archive reads a chat-export archive: conversation folders, their
// numbered JSON pages, and the normalization of page entries into rows.
package archive

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/chatetl/internal/models"
	"github.com/MikeSquared-Agency/chatetl/internal/textfix"
)

const listSep = ", "

// ParseError reports an entry that failed validation. Index is the entry's
// position in the page's messages list, or -1 for page-level fields.
type ParseError struct {
	ConversationID string
	Index          int
	Field          string
	Reason         string
	Err            error
}

func (e *ParseError) Error() string {
	where := "page"
	if e.Index >= 0 {
		where = fmt.Sprintf("entry %d", e.Index)
	}
	msg := fmt.Sprintf("conversation %s: %s: field %s: %s", e.ConversationID, where, e.Field, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ParseError) Unwrap() error { return e.Err }

// ParseOptions tunes normalization.
type ParseOptions struct {
	// DecodeContent also repairs message content. Exports mis-encode it
	// like every other field, but it has historically been loaded raw.
	DecodeContent bool
	// Location for converted timestamps. nil means time.Local.
	Location *time.Location
}

// ParseConversation splits a page into message rows and call rows. Both
// slices keep the page's entry order.
func ParseConversation(page Page, conversationID string, opts ParseOptions) ([]models.Message, []models.Call, error) {
	p := &pageParser{conversationID: conversationID, opts: opts}

	participants, err := p.participants(page)
	if err != nil {
		return nil, nil, err
	}
	if page.IsStillParticipant == nil {
		return nil, nil, p.fail(-1, "is_still_participant", "required", nil)
	}
	if page.ThreadType == nil {
		return nil, nil, p.fail(-1, "thread_type", "required", nil)
	}
	still := *page.IsStillParticipant

	var title *string
	if page.Title != nil {
		t, err := textfix.Decode(*page.Title)
		if err != nil {
			return nil, nil, p.fail(-1, "title", "decode", err)
		}
		title = &t
	}

	var messages []models.Message
	var calls []models.Call

	for i, entry := range page.Messages {
		if entry.Type == models.TypeCall {
			c, err := p.call(i, entry)
			if err != nil {
				return nil, nil, err
			}
			c.IsStillParticipant = still
			c.Participants = participants
			c.ThreadType = *page.ThreadType
			calls = append(calls, c)
			continue
		}

		m, err := p.message(i, entry)
		if err != nil {
			return nil, nil, err
		}
		if title == nil {
			return nil, nil, p.fail(-1, "title", "required", nil)
		}
		m.Title = *title
		m.IsStillParticipant = still
		m.Participants = participants
		m.ThreadType = *page.ThreadType
		messages = append(messages, m)
	}

	return messages, calls, nil
}

type pageParser struct {
	conversationID string
	opts           ParseOptions
}

func (p *pageParser) fail(index int, field, reason string, err error) error {
	return &ParseError{
		ConversationID: p.conversationID,
		Index:          index,
		Field:          field,
		Reason:         reason,
		Err:            err,
	}
}

func (p *pageParser) participants(page Page) (string, error) {
	if page.Participants == nil {
		return "", p.fail(-1, "participants", "required", nil)
	}
	names := make([]string, 0, len(*page.Participants))
	for i, part := range *page.Participants {
		field := fmt.Sprintf("participants[%d].name", i)
		if part.Name == nil {
			return "", p.fail(-1, field, "required", nil)
		}
		name, err := textfix.Decode(*part.Name)
		if err != nil {
			return "", p.fail(-1, field, "decode", err)
		}
		names = append(names, name)
	}
	return strings.Join(names, listSep), nil
}

// common validates and decodes the fields shared by calls and messages.
func (p *pageParser) common(i int, e rawEntry) (string, time.Time, error) {
	if e.SenderName == nil {
		return "", time.Time{}, p.fail(i, "sender_name", "required", nil)
	}
	if e.TimestampMS == nil {
		return "", time.Time{}, p.fail(i, "timestamp_ms", "required", nil)
	}
	sender, err := textfix.Decode(*e.SenderName)
	if err != nil {
		return "", time.Time{}, p.fail(i, "sender_name", "decode", err)
	}
	return sender, models.FromMillis(*e.TimestampMS, p.opts.Location), nil
}

func (p *pageParser) call(i int, e rawEntry) (models.Call, error) {
	caller, started, err := p.common(i, e)
	if err != nil {
		return models.Call{}, err
	}
	content, err := textfix.DecodePtr(e.Content)
	if err != nil {
		return models.Call{}, p.fail(i, "content", "decode", err)
	}
	return models.Call{
		Caller:         caller,
		StartedAt:      started,
		Content:        content,
		ConversationID: p.conversationID,
		Duration:       e.CallDuration,
		IsMissed:       e.Missed,
	}, nil
}

func (p *pageParser) message(i int, e rawEntry) (models.Message, error) {
	sender, sent, err := p.common(i, e)
	if err != nil {
		return models.Message{}, err
	}
	if e.Type == "" {
		return models.Message{}, p.fail(i, "type", "required", nil)
	}

	content := e.Content
	if p.opts.DecodeContent {
		if content, err = textfix.DecodePtr(e.Content); err != nil {
			return models.Message{}, p.fail(i, "content", "decode", err)
		}
	}

	m := models.Message{
		Sender:         sender,
		SentAt:         sent,
		Content:        content,
		Type:           e.Type,
		ConversationID: p.conversationID,
	}

	if m.Gifs, err = joinURIs(e.Gifs); err != nil {
		return models.Message{}, p.fail(i, "gifs", "invalid", err)
	}
	if m.Photos, err = joinURIs(e.Photos); err != nil {
		return models.Message{}, p.fail(i, "photos", "invalid", err)
	}
	if m.Video, err = joinURIs(e.Videos); err != nil {
		return models.Message{}, p.fail(i, "videos", "invalid", err)
	}
	if e.Share != nil {
		m.Share = e.Share.Link
	}
	if e.Sticker != nil {
		m.Sticker = e.Sticker.URI
	}
	if e.AudioFiles != nil && len(*e.AudioFiles) > 0 {
		m.Audio = (*e.AudioFiles)[0].URI
	}

	return m, nil
}

var errMissingURI = errors.New("attachment without uri")

// joinURIs flattens an attachment list. An absent list gives nil and an
// empty one gives "".
func joinURIs(media *[]rawMedia) (*string, error) {
	if media == nil {
		return nil, nil
	}
	uris := make([]string, 0, len(*media))
	for _, m := range *media {
		if m.URI == nil {
			return nil, errMissingURI
		}
		uris = append(uris, *m.URI)
	}
	joined := strings.Join(uris, listSep)
	return &joined, nil
}
