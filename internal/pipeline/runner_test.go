package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/MikeSquared-Agency/chatetl/internal/archive"
	"github.com/MikeSquared-Agency/chatetl/internal/loader"
	"github.com/MikeSquared-Agency/chatetl/internal/models"
	"github.com/MikeSquared-Agency/chatetl/internal/notify"
	"github.com/MikeSquared-Agency/chatetl/internal/store"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// writePage writes a page holding one call and one message.
func writePage(t *testing.T, root, conv string, n int, title string) {
	t.Helper()
	dir := filepath.Join(root, conv)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	page := fmt.Sprintf(`{
		"participants": [{"name": "Ann"}, {"name": "Bob"}],
		"title": %q,
		"is_still_participant": true,
		"thread_type": "Regular",
		"messages": [
			{"sender_name": "Ann", "timestamp_ms": %d, "type": "Generic", "content": "page %d"},
			{"sender_name": "Bob", "timestamp_ms": %d, "type": "Call", "call_duration": 60}
		]
	}`, title, 1000*n+1, n, 1000*n)
	if err := os.WriteFile(filepath.Join(dir, fmt.Sprintf("message_%d.json", n)), []byte(page), 0o644); err != nil {
		t.Fatal(err)
	}
}

// failingStore rejects message batches for one conversation.
type failingStore struct {
	*store.Memory
	failConversation string
	tries            int
}

func (f *failingStore) InsertMessages(ctx context.Context, msgs []models.Message) error {
	if len(msgs) > 0 && msgs[0].ConversationID == f.failConversation {
		f.tries++
		return errors.New("deadlock detected")
	}
	return f.Memory.InsertMessages(ctx, msgs)
}

type recordingPublisher struct {
	subjects []string
	events   []any
}

func (p *recordingPublisher) Publish(subject string, data any) error {
	p.subjects = append(p.subjects, subject)
	p.events = append(p.events, data)
	return nil
}

func newRunner(root string, s interface {
	Store
	loader.BatchStore
}, pub Publisher) *Runner {
	l := loader.New(s, loader.Options{MaxAttempts: 5, BackoffUnit: 0}, discard())
	cfg := Config{Root: root, Parse: archive.ParseOptions{Location: time.UTC}}
	return New(cfg, s, l, pub, discard())
}

func TestRun_EndToEnd(t *testing.T) {
	root := t.TempDir()
	writePage(t, root, "annbob_1", 1, "Ann and Bob")
	writePage(t, root, "annbob_1", 2, "Ann and Bob")

	mem := store.NewMemory()
	// Rows left from a previous run must be truncated.
	_ = mem.InsertMessages(context.Background(), []models.Message{{Title: "stale"}})

	report, err := newRunner(root, mem, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := len(mem.Calls()); got != 2 {
		t.Errorf("expected 2 call rows, got %d", got)
	}
	msgs := mem.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 message rows, got %d", len(msgs))
	}
	if *msgs[0].Content != "page 1" || *msgs[1].Content != "page 2" {
		t.Errorf("pages loaded out of order: %q, %q", *msgs[0].Content, *msgs[1].Content)
	}

	want := []models.Conversation{{Title: "Ann and Bob", CountMessages: 2, IsStillParticipant: true, ConversationID: "annbob_1"}}
	if diff := cmp.Diff(want, mem.Conversations()); diff != "" {
		t.Errorf("conversations mismatch (-want +got):\n%s", diff)
	}

	if report.Conversations != 1 || report.Pages != 2 || report.MessagesLoaded != 2 || report.CallsLoaded != 2 || report.Summaries != 1 {
		t.Errorf("unexpected report: %+v", report)
	}
	if len(report.FailedBatches) != 0 {
		t.Errorf("expected no failures, got %+v", report.FailedBatches)
	}
}

func TestRun_ExhaustedBatchDoesNotStopRun(t *testing.T) {
	root := t.TempDir()
	writePage(t, root, "a_1", 1, "A")
	writePage(t, root, "b_2", 1, "B")

	fs := &failingStore{Memory: store.NewMemory(), failConversation: "a_1"}
	report, err := newRunner(root, fs, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("batch failures must not fail the run: %v", err)
	}

	if fs.tries != 5 {
		t.Errorf("expected 5 attempts on the failing batch, got %d", fs.tries)
	}
	msgs := fs.Messages()
	if len(msgs) != 1 || msgs[0].ConversationID != "b_2" {
		t.Errorf("expected only b_2 messages, got %+v", msgs)
	}
	// Calls for a_1 load independently of its failed messages.
	if len(fs.Calls()) != 2 {
		t.Errorf("expected 2 call rows, got %d", len(fs.Calls()))
	}

	if len(report.FailedBatches) != 1 {
		t.Fatalf("expected 1 failed batch, got %+v", report.FailedBatches)
	}
	f := report.FailedBatches[0]
	if f.ConversationID != "a_1" || f.Kind != loader.KindMessages || f.Attempts != 5 || f.Page != 1 {
		t.Errorf("unexpected failure record: %+v", f)
	}
	if f.FirstKey != "a_1|Ann|1001" || f.From != "1970-01-01T00:00:01.001" {
		t.Errorf("lost rows not identified: %+v", f)
	}
	if report.Conversations != 2 || report.Summaries != 1 {
		t.Errorf("unexpected report: %+v", report)
	}
}

func TestRun_PageGapAborts(t *testing.T) {
	root := t.TempDir()
	writePage(t, root, "a_1", 1, "A")
	writePage(t, root, "a_1", 3, "A")

	mem := store.NewMemory()
	report, err := newRunner(root, mem, nil).Run(context.Background())

	var gap *archive.PageGapError
	if !errors.As(err, &gap) {
		t.Fatalf("expected PageGapError, got %v", err)
	}
	if report == nil || report.Error == "" {
		t.Error("expected the error to be recorded in the report")
	}
	if len(mem.Conversations()) != 0 {
		t.Error("summaries must not be built after an aborted load")
	}
}

func TestRun_ParseErrorAborts(t *testing.T) {
	root := t.TempDir()
	writePage(t, root, "a_1", 1, "A")
	bad := `{"participants": [], "title": "B", "is_still_participant": true, "thread_type": "Regular", "messages": [{"timestamp_ms": 1, "type": "Generic"}]}`
	if err := os.MkdirAll(filepath.Join(root, "b_2"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "b_2", "message_1.json"), []byte(bad), 0o644); err != nil {
		t.Fatal(err)
	}

	mem := store.NewMemory()
	_, err := newRunner(root, mem, nil).Run(context.Background())

	var pe *archive.ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ParseError, got %v", err)
	}
	if pe.Field != "sender_name" || pe.ConversationID != "b_2" {
		t.Errorf("unexpected parse error: %+v", pe)
	}
	// Pages before the bad one stay loaded.
	if len(mem.Messages()) != 1 {
		t.Errorf("expected 1 message row, got %d", len(mem.Messages()))
	}
}

func TestRun_MissingRootAborts(t *testing.T) {
	_, err := newRunner(filepath.Join(t.TempDir(), "absent"), store.NewMemory(), nil).Run(context.Background())
	if err == nil {
		t.Fatal("expected error for missing root")
	}
}

func TestRun_IgnoresListedFolders(t *testing.T) {
	root := t.TempDir()
	writePage(t, root, "a_1", 1, "A")
	if err := os.MkdirAll(filepath.Join(root, ".DS_Store"), 0o755); err != nil {
		t.Fatal(err)
	}

	report, err := newRunner(root, store.NewMemory(), nil).Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Conversations != 1 {
		t.Errorf("expected 1 conversation, got %d", report.Conversations)
	}
}

func TestRun_PublishesEvents(t *testing.T) {
	root := t.TempDir()
	writePage(t, root, "a_1", 1, "A")
	writePage(t, root, "a_1", 2, "A")
	writePage(t, root, "b_2", 1, "B")

	pub := &recordingPublisher{}
	report, err := newRunner(root, store.NewMemory(), pub).Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantSubjects := []string{
		notify.SubjectConversationLoaded,
		notify.SubjectConversationLoaded,
		notify.SubjectRunCompleted,
	}
	if diff := cmp.Diff(wantSubjects, pub.subjects); diff != "" {
		t.Fatalf("subjects mismatch (-want +got):\n%s", diff)
	}
	first := pub.events[0].(notify.ConversationLoaded)
	if first.ConversationID != "a_1" || first.Pages != 2 || first.Messages != 2 || first.Calls != 2 {
		t.Errorf("unexpected conversation event: %+v", first)
	}
	done := pub.events[2].(notify.RunCompleted)
	if done.RunID != report.RunID.String() || done.Summaries != 2 {
		t.Errorf("unexpected run event: %+v", done)
	}
}

func TestRun_WritesReport(t *testing.T) {
	root := t.TempDir()
	writePage(t, root, "a_1", 1, "A")
	reportPath := filepath.Join(t.TempDir(), "reports", "run.json")

	mem := store.NewMemory()
	l := loader.New(mem, loader.Options{BackoffUnit: 0}, discard())
	r := New(Config{Root: root, ReportPath: reportPath}, mem, l, nil, discard())
	if _, err := r.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, err := os.ReadFile(reportPath)
	if err != nil {
		t.Fatalf("report not written: %v", err)
	}
	var got Report
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("parse report: %v", err)
	}
	if got.Conversations != 1 || got.MessagesLoaded != 1 || got.Summaries != 1 {
		t.Errorf("unexpected saved report: %+v", got)
	}
}

func TestRun_Cancelled(t *testing.T) {
	root := t.TempDir()
	writePage(t, root, "a_1", 1, "A")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newRunner(root, store.NewMemory(), nil).Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

// cancellingInserter cancels the run once its first page is loaded.
type cancellingInserter struct {
	Inserter
	cancel context.CancelFunc
	pages  int
}

func (c *cancellingInserter) InsertItems(ctx context.Context, msgs []models.Message, calls []models.Call) loader.Result {
	c.pages++
	res := c.Inserter.InsertItems(ctx, msgs, calls)
	c.cancel()
	return res
}

func TestRun_CancelledBetweenPages(t *testing.T) {
	root := t.TempDir()
	for n := 1; n <= 3; n++ {
		writePage(t, root, "a_1", n, "A")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mem := store.NewMemory()
	ins := &cancellingInserter{
		Inserter: loader.New(mem, loader.Options{BackoffUnit: 0}, discard()),
		cancel:   cancel,
	}
	r := New(Config{Root: root, Parse: archive.ParseOptions{Location: time.UTC}}, mem, ins, nil, discard())

	report, err := r.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if ins.pages != 1 {
		t.Errorf("expected loading to stop after 1 page, got %d", ins.pages)
	}
	if report.Pages != 1 || len(report.FailedBatches) != 0 {
		t.Errorf("unexpected report: pages %d, failures %+v", report.Pages, report.FailedBatches)
	}
}
