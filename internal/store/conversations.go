package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// LoadConversations writes one summary row per distinct message title and
// returns how many were written. is_still_participant and conversation_id
// are constant within a title, so any aggregate picks the right value;
// bool_or and MIN keep the pick deterministic.
func (s *Store) LoadConversations(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO conversation (title, count_messages, is_still_participant, conversation_id)
		SELECT title, COUNT(*), bool_or(is_still_participant), MIN(conversation_id)
		FROM message
		GROUP BY title`)
	if err != nil {
		return 0, fmt.Errorf("load conversations: %w", err)
	}
	return tag.RowsAffected(), nil
}

// InconsistentTitles returns the titles whose rows disagree on
// conversation_id or is_still_participant.
func (s *Store) InconsistentTitles(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT title
		FROM message
		GROUP BY title
		HAVING COUNT(DISTINCT conversation_id) > 1
		    OR COUNT(DISTINCT is_still_participant) > 1
		ORDER BY title`)
	if err != nil {
		return nil, fmt.Errorf("query inconsistent titles: %w", err)
	}
	titles, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan inconsistent titles: %w", err)
	}
	return titles, nil
}
