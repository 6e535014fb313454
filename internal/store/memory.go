package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/MikeSquared-Agency/chatetl/internal/models"
)

// Memory is an in-process stand-in for Store with the same table semantics.
type Memory struct {
	mu            sync.RWMutex
	messages      []models.Message
	calls         []models.Call
	conversations []models.Conversation
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) EmptyTables(_ context.Context, tables ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, t := range tables {
		switch t {
		case TableMessage:
			m.messages = nil
		case TableCall:
			m.calls = nil
		case TableConversation:
			m.conversations = nil
		default:
			return fmt.Errorf("truncate: unknown table %q", t)
		}
	}
	return nil
}

func (m *Memory) InsertMessages(_ context.Context, msgs []models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msgs...)
	return nil
}

func (m *Memory) InsertCalls(_ context.Context, calls []models.Call) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, calls...)
	return nil
}

// LoadConversations groups messages by title in first-seen order.
func (m *Memory) LoadConversations(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	index := make(map[string]int)
	var out []models.Conversation
	for _, msg := range m.messages {
		i, ok := index[msg.Title]
		if !ok {
			index[msg.Title] = len(out)
			out = append(out, models.Conversation{
				Title:              msg.Title,
				IsStillParticipant: msg.IsStillParticipant,
				ConversationID:     msg.ConversationID,
			})
			i = len(out) - 1
		}
		c := &out[i]
		c.CountMessages++
		c.IsStillParticipant = c.IsStillParticipant || msg.IsStillParticipant
		if msg.ConversationID < c.ConversationID {
			c.ConversationID = msg.ConversationID
		}
	}
	m.conversations = append(m.conversations, out...)
	return int64(len(out)), nil
}

func (m *Memory) InconsistentTitles(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	first := make(map[string]models.Message)
	flagged := make(map[string]bool)
	var titles []string
	for _, msg := range m.messages {
		f, ok := first[msg.Title]
		if !ok {
			first[msg.Title] = msg
			continue
		}
		if flagged[msg.Title] {
			continue
		}
		if f.ConversationID != msg.ConversationID || f.IsStillParticipant != msg.IsStillParticipant {
			flagged[msg.Title] = true
			titles = append(titles, msg.Title)
		}
	}
	return titles, nil
}

// Messages returns a copy of the message table.
func (m *Memory) Messages() []models.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.Message(nil), m.messages...)
}

// Calls returns a copy of the call table.
func (m *Memory) Calls() []models.Call {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.Call(nil), m.calls...)
}

// Conversations returns a copy of the conversation table.
func (m *Memory) Conversations() []models.Conversation {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.Conversation(nil), m.conversations...)
}
