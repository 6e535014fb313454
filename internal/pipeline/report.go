package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/chatetl/internal/loader"
	"github.com/MikeSquared-Agency/chatetl/internal/models"
)

// Report summarizes one run. Batches the loader gave up on are listed in
// FailedBatches; they are the only record of rows that never landed.
type Report struct {
	RunID          uuid.UUID      `json:"run_id"`
	StartedAt      time.Time      `json:"started_at"`
	FinishedAt     time.Time      `json:"finished_at"`
	Conversations  int            `json:"conversations"`
	Pages          int            `json:"pages"`
	MessagesLoaded int            `json:"messages_loaded"`
	CallsLoaded    int            `json:"calls_loaded"`
	Summaries      int64          `json:"summaries"`
	FailedBatches  []BatchFailure `json:"failed_batches"`
	Error          string         `json:"error,omitempty"`

	path string // not serialized
}

// BatchFailure is a batch that exhausted its attempts. The keys and
// timestamps bound the rows that were lost.
type BatchFailure struct {
	ConversationID string `json:"conversation_id"`
	Page           int    `json:"page"`
	Kind           string `json:"kind"`
	Rows           int    `json:"rows"`
	Attempts       int    `json:"attempts"`
	Error          string `json:"error"`
	FirstKey       string `json:"first_key,omitempty"`
	LastKey        string `json:"last_key,omitempty"`
	From           string `json:"from,omitempty"`
	To             string `json:"to,omitempty"`
}

func newReport(path string) *Report {
	return &Report{
		RunID:     uuid.New(),
		StartedAt: time.Now().UTC(),
		path:      expandHome(path),
	}
}

// record folds one page's loader result into the report and returns how
// many of its batches failed.
func (r *Report) record(conversationID string, page int, msgs []models.Message, calls []models.Call, res loader.Result) int {
	r.Pages++
	if res.Messages.Persisted() {
		r.MessagesLoaded += res.Messages.Rows
	}
	if res.Calls.Persisted() {
		r.CallsLoaded += res.Calls.Rows
	}
	failed := res.Failed()
	for _, o := range failed {
		f := BatchFailure{
			ConversationID: conversationID,
			Page:           page,
			Kind:           o.Kind,
			Rows:           o.Rows,
			Attempts:       o.Attempts,
			Error:          o.Err.Error(),
		}
		switch {
		case o.Kind == loader.KindMessages && len(msgs) > 0:
			first, last := msgs[0], msgs[len(msgs)-1]
			f.FirstKey, f.LastKey = first.Key(), last.Key()
			f.From, f.To = models.FormatTimestamp(first.SentAt), models.FormatTimestamp(last.SentAt)
		case o.Kind == loader.KindCalls && len(calls) > 0:
			first, last := calls[0], calls[len(calls)-1]
			f.FirstKey, f.LastKey = first.Key(), last.Key()
			f.From, f.To = models.FormatTimestamp(first.StartedAt), models.FormatTimestamp(last.StartedAt)
		}
		r.FailedBatches = append(r.FailedBatches, f)
	}
	return len(failed)
}

// Save writes the report as JSON. It is a no-op without a path.
func (r *Report) Save() error {
	if r.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	return os.WriteFile(r.path, data, 0o644)
}

func expandHome(path string) string {
	if len(path) > 1 && path[0] == '~' && path[1] == '/' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
