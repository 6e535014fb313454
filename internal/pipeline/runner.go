// Package pipeline drives a full truncate-and-reload of a chat-export
// archive: conversation folders, then their pages in order, then the
// per-conversation summaries.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/MikeSquared-Agency/chatetl/internal/archive"
	"github.com/MikeSquared-Agency/chatetl/internal/loader"
	"github.com/MikeSquared-Agency/chatetl/internal/models"
	"github.com/MikeSquared-Agency/chatetl/internal/notify"
	"github.com/MikeSquared-Agency/chatetl/internal/store"
)

// Config holds the runner configuration.
type Config struct {
	Root       string   // folder holding one subfolder per conversation
	Ignore     []string // folder names that are not conversations
	Parse      archive.ParseOptions
	ReportPath string // optional: where to write the run report
}

// Store is what the runner needs besides batch inserts.
type Store interface {
	EmptyTables(ctx context.Context, tables ...string) error
	LoadConversations(ctx context.Context) (int64, error)
	InconsistentTitles(ctx context.Context) ([]string, error)
}

// Inserter loads one page's batches.
type Inserter interface {
	InsertItems(ctx context.Context, msgs []models.Message, calls []models.Call) loader.Result
}

// Publisher receives progress events. It may be nil.
type Publisher interface {
	Publish(subject string, data any) error
}

// Runner orchestrates the load.
type Runner struct {
	cfg       Config
	store     Store
	loader    Inserter
	publisher Publisher
	logger    *slog.Logger
}

// New creates a runner.
func New(cfg Config, s Store, l Inserter, pub Publisher, logger *slog.Logger) *Runner {
	if cfg.Ignore == nil {
		cfg.Ignore = archive.DefaultIgnore
	}
	return &Runner{
		cfg:       cfg,
		store:     s,
		loader:    l,
		publisher: pub,
		logger:    logger,
	}
}

// Run empties the tables, loads every conversation, then writes the
// summaries. The report is returned even when the run fails.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	report := newReport(r.cfg.ReportPath)
	logger := r.logger.With("run_id", report.RunID.String())

	err := r.run(ctx, report, logger)
	report.FinishedAt = time.Now().UTC()
	if err != nil {
		report.Error = err.Error()
	}
	if saveErr := r.saveReport(report, logger); saveErr != nil && err == nil {
		err = saveErr
	}
	if err != nil {
		return report, err
	}

	r.publish(logger, notify.SubjectRunCompleted, notify.RunCompleted{
		RunID:         report.RunID.String(),
		FinishedAt:    report.FinishedAt,
		Conversations: report.Conversations,
		Messages:      report.MessagesLoaded,
		Calls:         report.CallsLoaded,
		Summaries:     report.Summaries,
		FailedBatches: len(report.FailedBatches),
	})

	logger.Info("load complete",
		"conversations", report.Conversations,
		"pages", report.Pages,
		"messages", report.MessagesLoaded,
		"calls", report.CallsLoaded,
		"summaries", report.Summaries,
		"failed_batches", len(report.FailedBatches),
	)
	return report, nil
}

func (r *Runner) run(ctx context.Context, report *Report, logger *slog.Logger) error {
	if err := r.EmptyTables(ctx, logger); err != nil {
		return err
	}
	if err := r.LoadMessages(ctx, report, logger); err != nil {
		return err
	}
	n, err := r.LoadConversations(ctx, logger)
	if err != nil {
		return err
	}
	report.Summaries = n
	return nil
}

// EmptyTables truncates every table the run writes. Without it a run
// appends duplicates.
func (r *Runner) EmptyTables(ctx context.Context, logger *slog.Logger) error {
	for _, table := range store.Tables {
		if err := r.store.EmptyTables(ctx, table); err != nil {
			return fmt.Errorf("empty tables: %w", err)
		}
		logger.Info("emptied table", "table", table)
	}
	return nil
}

// LoadMessages walks every conversation folder and loads its pages in
// index order. Parse and file errors stop the walk; failed batches do not.
func (r *Runner) LoadMessages(ctx context.Context, report *Report, logger *slog.Logger) error {
	names, err := archive.ListConversations(r.cfg.Root, r.cfg.Ignore)
	if err != nil {
		return err
	}
	logger.Info("conversations found", "count", len(names))

	for c, name := range names {
		if err := ctx.Err(); err != nil {
			logger.Info("load interrupted", "conversation", name)
			return err
		}

		pages, err := archive.ListPages(filepath.Join(r.cfg.Root, name))
		if err != nil {
			return err
		}
		logger.Info("files in conversation", "conversation", name, "files", len(pages))

		ev := notify.ConversationLoaded{RunID: report.RunID.String(), ConversationID: name, Pages: len(pages)}
		for _, pf := range pages {
			if err := ctx.Err(); err != nil {
				logger.Info("load interrupted", "conversation", name, "page", pf.Index)
				return err
			}
			logger.Debug("processing page",
				"conversation", name,
				"progress", fmt.Sprintf("%d/%d", c+1, len(names)),
				"page", fmt.Sprintf("%d/%d", pf.Index, len(pages)),
			)

			page, err := archive.ReadPage(pf.Path)
			if err != nil {
				return fmt.Errorf("conversation %s: %w", name, err)
			}
			msgs, calls, err := archive.ParseConversation(page, name, r.cfg.Parse)
			if err != nil {
				return fmt.Errorf("%s: %w", pf.Path, err)
			}

			res := r.loader.InsertItems(ctx, msgs, calls)
			ev.FailedBatches += report.record(name, pf.Index, msgs, calls, res)
			ev.Messages += len(msgs)
			ev.Calls += len(calls)
		}
		report.Conversations++
		r.publish(logger, notify.SubjectConversationLoaded, ev)
	}

	logger.Info("messages loaded")
	return nil
}

// LoadConversations writes the per-title summaries. It must run after
// every message has been loaded.
func (r *Runner) LoadConversations(ctx context.Context, logger *slog.Logger) (int64, error) {
	titles, err := r.store.InconsistentTitles(ctx)
	if err != nil {
		return 0, fmt.Errorf("check titles: %w", err)
	}
	for _, t := range titles {
		logger.Warn("title spans several conversations, summary picks one", "title", t)
	}

	n, err := r.store.LoadConversations(ctx)
	if err != nil {
		return 0, err
	}
	logger.Info("conversations loaded", "summaries", n)
	return n, nil
}

func (r *Runner) saveReport(report *Report, logger *slog.Logger) error {
	if err := report.Save(); err != nil {
		logger.Error("failed to save run report", "error", err)
		return fmt.Errorf("save report: %w", err)
	}
	return nil
}

func (r *Runner) publish(logger *slog.Logger, subject string, data any) {
	if r.publisher == nil {
		return
	}
	if err := r.publisher.Publish(subject, data); err != nil {
		logger.Warn("failed to publish event", "subject", subject, "error", err)
	}
}
