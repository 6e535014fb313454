// Package notify publishes load progress events to NATS.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	SubjectConversationLoaded = "chatetl.conversation.loaded"
	SubjectRunCompleted       = "chatetl.run.completed"
)

// ConversationLoaded is published after every page of a conversation has
// gone through the loader.
type ConversationLoaded struct {
	RunID          string `json:"run_id"`
	ConversationID string `json:"conversation_id"`
	Pages          int    `json:"pages"`
	Messages       int    `json:"messages"`
	Calls          int    `json:"calls"`
	FailedBatches  int    `json:"failed_batches"`
}

// RunCompleted is published once per run, after the aggregation step.
type RunCompleted struct {
	RunID         string    `json:"run_id"`
	FinishedAt    time.Time `json:"finished_at"`
	Conversations int       `json:"conversations"`
	Messages      int       `json:"messages"`
	Calls         int       `json:"calls"`
	Summaries     int64     `json:"summaries"`
	FailedBatches int       `json:"failed_batches"`
}

type Client struct {
	conn   *nats.Conn
	logger *slog.Logger
}

func NewClient(ctx context.Context, url, token string, logger *slog.Logger) (*Client, error) {
	opts := []nats.Option{
		nats.Name("chatetl"),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}
	if deadline, ok := ctx.Deadline(); ok {
		opts = append(opts, nats.Timeout(time.Until(deadline)))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return &Client{conn: nc, logger: logger}, nil
}

func (c *Client) Publish(subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return c.conn.Publish(subject, payload)
}

// Close flushes pending events before closing the connection.
func (c *Client) Close() {
	if err := c.conn.Flush(); err != nil {
		c.logger.Warn("nats flush failed", "error", err)
	}
	c.conn.Close()
}
