package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MikeSquared-Agency/chatetl/internal/models"
)

var messageColumns = []string{
	"sender", "sent_at", "content", "gifs", "photos", "share", "sticker", "audio", "video",
	"type", "title", "conversation_id", "is_still_participant", "participants", "thread_type",
}

var callColumns = []string{
	"caller", "started_at", "content", "conversation_id", "is_still_participant",
	"participants", "thread_type", "duration", "is_missed",
}

// InsertMessages writes the batch with a single COPY inside a transaction,
// so a failed attempt leaves no rows behind.
func (s *Store) InsertMessages(ctx context.Context, msgs []models.Message) error {
	src := pgx.CopyFromSlice(len(msgs), func(i int) ([]any, error) {
		m := msgs[i]
		return []any{
			m.Sender, m.SentAt, m.Content, m.Gifs, m.Photos, m.Share, m.Sticker, m.Audio, m.Video,
			m.Type, m.Title, m.ConversationID, m.IsStillParticipant, m.Participants, m.ThreadType,
		}, nil
	})
	return s.copyBatch(ctx, TableMessage, messageColumns, src, len(msgs))
}

// InsertCalls is InsertMessages for the call table.
func (s *Store) InsertCalls(ctx context.Context, calls []models.Call) error {
	src := pgx.CopyFromSlice(len(calls), func(i int) ([]any, error) {
		c := calls[i]
		return []any{
			c.Caller, c.StartedAt, c.Content, c.ConversationID, c.IsStillParticipant,
			c.Participants, c.ThreadType, c.Duration, c.IsMissed,
		}, nil
	})
	return s.copyBatch(ctx, TableCall, callColumns, src, len(calls))
}

func (s *Store) copyBatch(ctx context.Context, table string, columns []string, src pgx.CopyFromSource, want int) error {
	return s.withConn(ctx, func(conn *pgxpool.Conn) error {
		tx, err := conn.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		n, err := tx.CopyFrom(ctx, pgx.Identifier{table}, columns, src)
		if err != nil {
			return fmt.Errorf("copy into %s: %w", table, err)
		}
		if int(n) != want {
			return fmt.Errorf("copy into %s: wrote %d of %d rows", table, n, want)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
		return nil
	})
}
