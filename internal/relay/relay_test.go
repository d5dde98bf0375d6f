package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/agenticlabs/workspace/internal/domain"
)

// recordingTransport captures emitted events in order.
type recordingTransport struct {
	mu     sync.Mutex
	events []string // "create:<id>", "clear:<id>", "chunk:<id>:<text>", "complete", "error:<msg>"
}

func (t *recordingTransport) record(e string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, e)
}

func (t *recordingTransport) CreateBubble(id string) { t.record("create:" + id) }
func (t *recordingTransport) ClearBubble(id string)  { t.record("clear:" + id) }
func (t *recordingTransport) Chunk(text, id string)  { t.record("chunk:" + id + ":" + text) }
func (t *recordingTransport) Complete()              { t.record("complete") }
func (t *recordingTransport) Error(msg string)       { t.record("error:" + msg) }

func (t *recordingTransport) snapshot() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.events...)
}

// recordingLog captures appended messages; failErr makes Append fail.
type recordingLog struct {
	mu       sync.Mutex
	appended []domain.ChatMessage
	failErr  error
}

func (l *recordingLog) Append(ctx context.Context, sessionID string, role domain.Role, content string) error {
	if l.failErr != nil {
		return l.failErr
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.appended = append(l.appended, domain.ChatMessage{SessionID: sessionID, Role: role, Content: content})
	return nil
}

func (l *recordingLog) History(ctx context.Context, sessionID string) ([]domain.ChatMessage, error) {
	return nil, nil
}
func (l *recordingLog) Clear(ctx context.Context, sessionID string) error { return nil }
func (l *recordingLog) Sessions(ctx context.Context) ([]domain.SessionInfo, error) {
	return nil, nil
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRelay_StreamedChunksEqualPersistedText(t *testing.T) {
	tr := &recordingTransport{}
	log := &recordingLog{}
	r := New(tr, log, discard(), "s1", "")

	r.Begin(false)
	for _, frag := range []string{"Hel", "lo", " ", "world"} {
		r.Write(frag)
	}
	if err := r.Complete(context.Background()); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	if len(log.appended) != 1 {
		t.Fatalf("appended = %d messages, want exactly 1", len(log.appended))
	}
	msg := log.appended[0]
	if msg.Role != domain.RoleBot || msg.SessionID != "s1" {
		t.Errorf("appended = %+v", msg)
	}

	var streamed strings.Builder
	for _, e := range tr.snapshot() {
		if strings.HasPrefix(e, "chunk::") {
			streamed.WriteString(strings.TrimPrefix(e, "chunk::"))
		}
	}
	if streamed.String() != msg.Content {
		t.Errorf("streamed %q != persisted %q", streamed.String(), msg.Content)
	}
}

func TestRelay_ClearPrecedesFirstChunk(t *testing.T) {
	tr := &recordingTransport{}
	r := New(tr, &recordingLog{}, discard(), "", "bubble-7")

	r.Begin(false)
	r.Write("x")
	r.Complete(context.Background())

	events := tr.snapshot()
	if len(events) < 2 || events[0] != "clear:bubble-7" {
		t.Fatalf("events = %v, want clear first", events)
	}
	if !strings.HasPrefix(events[1], "chunk:bubble-7:") {
		t.Errorf("second event = %q, want chunk to same target", events[1])
	}
}

func TestRelay_NewBubbleCreatedBeforeContent(t *testing.T) {
	tr := &recordingTransport{}
	r := New(tr, &recordingLog{}, discard(), "", "")

	r.Begin(true)
	if r.TargetID() == "" {
		t.Fatal("Begin(true) did not synthesize a target id")
	}
	r.Notify("working...")

	events := tr.snapshot()
	if len(events) != 2 || !strings.HasPrefix(events[0], "create:bot-") {
		t.Fatalf("events = %v, want create first", events)
	}
}

func TestRelay_ExactlyOneTerminalEvent(t *testing.T) {
	tr := &recordingTransport{}
	log := &recordingLog{}
	r := New(tr, log, discard(), "", "")

	r.Begin(false)
	r.Write("partial")
	r.Complete(context.Background())

	// Everything after the terminal event must be ignored.
	r.Write("late")
	r.Fail("late failure")
	r.Complete(context.Background())

	var terminals int
	for _, e := range tr.snapshot() {
		if e == "complete" || strings.HasPrefix(e, "error:") {
			terminals++
		}
	}
	if terminals != 1 {
		t.Errorf("terminal events = %d, want exactly 1", terminals)
	}
	if len(log.appended) != 1 {
		t.Errorf("appended = %d, want exactly 1", len(log.appended))
	}
	if log.appended[0].Content != "partial" {
		t.Errorf("persisted %q, want pre-terminal text only", log.appended[0].Content)
	}
}

func TestRelay_FailDoesNotPersist(t *testing.T) {
	tr := &recordingTransport{}
	log := &recordingLog{}
	r := New(tr, log, discard(), "", "")

	r.Begin(false)
	r.Write("half a resp")
	r.Fail("provider exploded")

	if len(log.appended) != 0 {
		t.Errorf("appended = %d, want 0 after failure", len(log.appended))
	}
	events := tr.snapshot()
	if events[len(events)-1] != "error:provider exploded" {
		t.Errorf("last event = %q, want the error", events[len(events)-1])
	}
}

func TestRelay_PersistFailureBecomesErrorEvent(t *testing.T) {
	tr := &recordingTransport{}
	log := &recordingLog{failErr: errors.New("disk full")}
	r := New(tr, log, discard(), "", "")

	r.Begin(false)
	r.Write("text")
	if err := r.Complete(context.Background()); err == nil {
		t.Fatal("Complete() expected error")
	}

	events := tr.snapshot()
	last := events[len(events)-1]
	if !strings.HasPrefix(last, "error:") {
		t.Errorf("last event = %q, want error", last)
	}
	for _, e := range events {
		if e == "complete" {
			t.Error("complete emitted despite persistence failure")
		}
	}
}

func TestRelay_NotifyNotPersisted(t *testing.T) {
	tr := &recordingTransport{}
	log := &recordingLog{}
	r := New(tr, log, discard(), "", "")

	r.Begin(false)
	r.Notify("Thinking about the plan...")
	r.Write("the actual answer")
	r.Complete(context.Background())

	if got := log.appended[0].Content; got != "the actual answer" {
		t.Errorf("persisted %q, markers must not be persisted", got)
	}
}

func TestRelay_ConcurrentRelaysDoNotInterleave(t *testing.T) {
	tr := &recordingTransport{}
	log := &recordingLog{}

	r1 := New(tr, log, discard(), "", "target-a")
	r2 := New(tr, log, discard(), "", "target-b")

	var wg sync.WaitGroup
	run := func(r *Relay, frag string, n int) {
		defer wg.Done()
		r.Begin(false)
		for i := 0; i < n; i++ {
			r.Write(frag)
		}
		r.Complete(context.Background())
	}
	wg.Add(2)
	go run(r1, "a", 50)
	go run(r2, "b", 50)
	wg.Wait()

	// Each target must have received only its own fragments.
	for _, e := range tr.snapshot() {
		if strings.HasPrefix(e, "chunk:target-a:") && strings.TrimPrefix(e, "chunk:target-a:") != "a" {
			t.Fatalf("target-a got foreign fragment: %q", e)
		}
		if strings.HasPrefix(e, "chunk:target-b:") && strings.TrimPrefix(e, "chunk:target-b:") != "b" {
			t.Fatalf("target-b got foreign fragment: %q", e)
		}
	}

	if len(log.appended) != 2 {
		t.Fatalf("appended = %d, want 2", len(log.appended))
	}
	for _, m := range log.appended {
		if m.Content != strings.Repeat("a", 50) && m.Content != strings.Repeat("b", 50) {
			t.Errorf("persisted mixed content: %q", m.Content)
		}
	}
}
