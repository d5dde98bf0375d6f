package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/agenticlabs/workspace/internal/domain"
	"github.com/agenticlabs/workspace/internal/provider/registry"
	"github.com/agenticlabs/workspace/internal/settings"
)

// scriptedProvider returns canned responses in call order. Stream yields
// the same response one rune at a time.
type scriptedProvider struct {
	mu      sync.Mutex
	replies []string
	errAt   int // 1-based call index that fails; 0 disables
	calls   int
	prompts []string
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) next(req *domain.ChatRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.prompts = append(p.prompts, req.Messages[len(req.Messages)-1].Content)
	if p.errAt != 0 && p.calls == p.errAt {
		return "", errors.New("scripted failure")
	}
	if len(p.replies) == 0 {
		return "", errors.New("script exhausted")
	}
	reply := p.replies[0]
	p.replies = p.replies[1:]
	return reply, nil
}

func (p *scriptedProvider) Complete(ctx context.Context, req *domain.ChatRequest) (string, error) {
	return p.next(req)
}

func (p *scriptedProvider) Stream(ctx context.Context, req *domain.ChatRequest) (<-chan domain.Event, error) {
	reply, err := p.next(req)
	if err != nil {
		return nil, err
	}
	out := make(chan domain.Event, len(reply))
	for _, r := range reply {
		out <- domain.Event{ContentDelta: string(r)}
	}
	close(out)
	return out, nil
}

// registerScripted installs the scripted provider under the openai
// identifier for the duration of a test.
func registerScripted(t *testing.T, p *scriptedProvider) {
	t.Helper()
	registry.ClearFactories()
	registry.RegisterFactory(registry.Factory{
		Identifiers: []string{"openai"},
		Description: "scripted test provider",
		Create: func(cfg registry.Config) (domain.Provider, error) {
			return p, nil
		},
	})
	t.Cleanup(registry.ClearFactories)
}

type recordingTransport struct {
	mu     sync.Mutex
	events []string
}

func (t *recordingTransport) record(e string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, e)
}

func (t *recordingTransport) CreateBubble(id string) { t.record("create:" + id) }
func (t *recordingTransport) ClearBubble(id string)  { t.record("clear:" + id) }
func (t *recordingTransport) Chunk(text, id string)  { t.record("chunk:" + text) }
func (t *recordingTransport) Complete()              { t.record("complete") }
func (t *recordingTransport) Error(msg string)       { t.record("error:" + msg) }

func (t *recordingTransport) snapshot() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.events...)
}

func (t *recordingTransport) chunks() string {
	var sb strings.Builder
	for _, e := range t.snapshot() {
		if after, ok := strings.CutPrefix(e, "chunk:"); ok {
			sb.WriteString(after)
		}
	}
	return sb.String()
}

type memoryLog struct {
	mu   sync.Mutex
	rows []domain.ChatMessage
}

func (l *memoryLog) Append(ctx context.Context, sessionID string, role domain.Role, content string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rows = append(l.rows, domain.ChatMessage{SessionID: sessionID, Role: role, Content: content})
	return nil
}

func (l *memoryLog) History(ctx context.Context, sessionID string) ([]domain.ChatMessage, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.ChatMessage
	for _, m := range l.rows {
		if m.SessionID == sessionID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (l *memoryLog) Clear(ctx context.Context, sessionID string) error { return nil }
func (l *memoryLog) Sessions(ctx context.Context) ([]domain.SessionInfo, error) {
	return nil, nil
}

func (l *memoryLog) byRole(role domain.Role) []domain.ChatMessage {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.ChatMessage
	for _, m := range l.rows {
		if m.Role == role {
			out = append(out, m)
		}
	}
	return out
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newStore(provider string, multiAgent bool, keys map[string]string) *settings.Store {
	return settings.New(provider, "", multiAgent, false, keys)
}

func TestStartChat_SingleCallStreamsAndPersists(t *testing.T) {
	p := &scriptedProvider{replies: []string{"Hello there"}}
	registerScripted(t, p)

	tr := &recordingTransport{}
	log := &memoryLog{}
	o := New(newStore("openai", false, map[string]string{"openai": "sk-test"}), log, nil, discard(), Options{})

	err := o.StartChat(context.Background(), tr, domain.Request{UserText: "hi", SessionID: "s1"})
	if err != nil {
		t.Fatalf("StartChat() error = %v", err)
	}
	o.Wait()

	if got := tr.chunks(); got != "Hello there" {
		t.Errorf("streamed = %q, want %q", got, "Hello there")
	}

	bots := log.byRole(domain.RoleBot)
	if len(bots) != 1 {
		t.Fatalf("bot rows = %d, want 1", len(bots))
	}
	if bots[0].Content != "Hello there" {
		t.Errorf("persisted = %q", bots[0].Content)
	}
	users := log.byRole(domain.RoleUser)
	if len(users) != 1 || users[0].Content != "hi" {
		t.Errorf("user rows = %+v, want the submitted text", users)
	}

	events := tr.snapshot()
	if events[len(events)-1] != "complete" {
		t.Errorf("last event = %q, want complete", events[len(events)-1])
	}
}

func TestStartChat_MissingKeyRefusesWithoutPersisting(t *testing.T) {
	registerScripted(t, &scriptedProvider{})

	tr := &recordingTransport{}
	log := &memoryLog{}
	o := New(newStore("anthropic", false, nil), log, nil, discard(), Options{})

	err := o.StartChat(context.Background(), tr, domain.Request{UserText: "hi", SessionID: "s1"})
	var cfgErr *domain.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("StartChat() error = %v, want ConfigurationError", err)
	}
	o.Wait()

	events := tr.snapshot()
	if len(events) != 1 || events[0] != "error:Please set your Anthropic API Key first." {
		t.Errorf("events = %v", events)
	}
	if len(log.rows) != 0 {
		t.Errorf("rows = %d, want nothing persisted", len(log.rows))
	}
}

func TestStartChat_PipelineTranscript(t *testing.T) {
	p := &scriptedProvider{replies: []string{"Step 1...", "Use SQLite", "<code>", "Done"}}
	registerScripted(t, p)

	tr := &recordingTransport{}
	log := &memoryLog{}
	o := New(newStore("openai", true, map[string]string{"openai": "sk-test"}), log, nil, discard(), Options{})

	if err := o.StartChat(context.Background(), tr, domain.Request{UserText: "build a todo app", SessionID: "s1"}); err != nil {
		t.Fatalf("StartChat() error = %v", err)
	}
	o.Wait()

	want := "\n\n**[Planner]**\nStep 1..." +
		"\n\n**[Researcher]**\nUse SQLite" +
		"\n\n**[Coder]**\n<code>" +
		"\n\n**[Final Answer]**\nDone"

	bots := log.byRole(domain.RoleBot)
	if len(bots) != 1 {
		t.Fatalf("bot rows = %d, want exactly 1", len(bots))
	}
	if bots[0].Content != want {
		t.Errorf("transcript = %q\nwant %q", bots[0].Content, want)
	}
}

func TestStartChat_PipelinePromptSynthesis(t *testing.T) {
	p := &scriptedProvider{replies: []string{"PLAN", "NOTES", "CODE", "FINAL"}}
	registerScripted(t, p)

	tr := &recordingTransport{}
	o := New(newStore("openai", true, map[string]string{"openai": "sk-test"}), &memoryLog{}, nil, discard(), Options{})

	if err := o.StartChat(context.Background(), tr, domain.Request{UserText: "req", SessionID: "s1"}); err != nil {
		t.Fatalf("StartChat() error = %v", err)
	}
	o.Wait()

	wantPrompts := []string{
		"req",
		"Research requirements for this plan: PLAN",
		"Plan: PLAN\nResearch Notes: NOTES\nUser Request: req",
		"Review the following work and provide a final answer to the user.\nUser Request: req\nCoder output: CODE",
	}
	if len(p.prompts) != len(wantPrompts) {
		t.Fatalf("prompts = %d, want %d", len(p.prompts), len(wantPrompts))
	}
	for i, want := range wantPrompts {
		if p.prompts[i] != want {
			t.Errorf("prompt[%d] = %q, want %q", i, p.prompts[i], want)
		}
	}
}

func TestStartChat_PipelineMarkersEmittedNotPersisted(t *testing.T) {
	p := &scriptedProvider{replies: []string{"a", "b", "c", "d"}}
	registerScripted(t, p)

	tr := &recordingTransport{}
	log := &memoryLog{}
	o := New(newStore("openai", true, map[string]string{"openai": "sk-test"}), log, nil, discard(), Options{})

	if err := o.StartChat(context.Background(), tr, domain.Request{UserText: "q", SessionID: "s1"}); err != nil {
		t.Fatalf("StartChat() error = %v", err)
	}
	o.Wait()

	streamed := tr.chunks()
	for _, marker := range []string{
		"Thinking about the plan...",
		"Gathering information...",
		"Writing code...",
		"Finalizing the response...",
	} {
		if !strings.Contains(streamed, marker) {
			t.Errorf("streamed output missing marker %q", marker)
		}
		if strings.Contains(log.byRole(domain.RoleBot)[0].Content, marker) {
			t.Errorf("marker %q leaked into persisted transcript", marker)
		}
	}
}

func TestStartChat_PipelineStageFailureDiscards(t *testing.T) {
	// Coder (third call) fails: nothing is persisted, terminal event is error.
	p := &scriptedProvider{replies: []string{"PLAN", "NOTES"}, errAt: 3}
	registerScripted(t, p)

	tr := &recordingTransport{}
	log := &memoryLog{}
	o := New(newStore("openai", true, map[string]string{"openai": "sk-test"}), log, nil, discard(), Options{})

	if err := o.StartChat(context.Background(), tr, domain.Request{UserText: "q", SessionID: "s1"}); err != nil {
		t.Fatalf("StartChat() error = %v", err)
	}
	o.Wait()

	if bots := log.byRole(domain.RoleBot); len(bots) != 0 {
		t.Errorf("bot rows = %d, want 0 after stage failure", len(bots))
	}
	events := tr.snapshot()
	last := events[len(events)-1]
	if !strings.HasPrefix(last, "error:") || !strings.Contains(last, "Coder") {
		t.Errorf("last event = %q, want stage-attributed error", last)
	}
}

func TestStartChat_PipelinePartialPersistence(t *testing.T) {
	p := &scriptedProvider{replies: []string{"PLAN", "NOTES"}, errAt: 3}
	registerScripted(t, p)

	tr := &recordingTransport{}
	log := &memoryLog{}
	o := New(newStore("openai", true, map[string]string{"openai": "sk-test"}), log, nil, discard(),
		Options{PersistPartial: true})

	if err := o.StartChat(context.Background(), tr, domain.Request{UserText: "q", SessionID: "s1"}); err != nil {
		t.Fatalf("StartChat() error = %v", err)
	}
	o.Wait()

	bots := log.byRole(domain.RoleBot)
	if len(bots) != 1 {
		t.Fatalf("bot rows = %d, want the partial transcript", len(bots))
	}
	if !strings.Contains(bots[0].Content, "**[Planner]**") || strings.Contains(bots[0].Content, "**[Coder]**") {
		t.Errorf("partial transcript = %q", bots[0].Content)
	}
}

func TestStartChat_RegenerationSkipsUserPersist(t *testing.T) {
	p := &scriptedProvider{replies: []string{"regenerated"}}
	registerScripted(t, p)

	tr := &recordingTransport{}
	log := &memoryLog{}
	o := New(newStore("openai", false, map[string]string{"openai": "sk-test"}), log, nil, discard(), Options{})

	req := domain.Request{UserText: "hi again", SessionID: "s1", TargetID: "bubble-3"}
	if err := o.StartChat(context.Background(), tr, req); err != nil {
		t.Fatalf("StartChat() error = %v", err)
	}
	o.Wait()

	if users := log.byRole(domain.RoleUser); len(users) != 0 {
		t.Errorf("user rows = %d, want 0 on regeneration", len(users))
	}
	events := tr.snapshot()
	if events[0] != "clear:bubble-3" {
		t.Errorf("first event = %q, want clear of the supplied target", events[0])
	}
}

func TestStartChat_SettingsChangeDoesNotAffectInflight(t *testing.T) {
	p := &scriptedProvider{replies: []string{"from snapshot"}}
	registerScripted(t, p)

	tr := &recordingTransport{}
	store := newStore("openai", false, map[string]string{"openai": "sk-test"})
	o := New(store, &memoryLog{}, nil, discard(), Options{})

	if err := o.StartChat(context.Background(), tr, domain.Request{UserText: "q", SessionID: "s1"}); err != nil {
		t.Fatalf("StartChat() error = %v", err)
	}
	// Mutating settings after the cycle started must not break it.
	store.SetProvider("anthropic")
	o.Wait()

	if got := tr.chunks(); got != "from snapshot" {
		t.Errorf("streamed = %q", got)
	}
}

func TestStartChat_ConcurrentCyclesBounded(t *testing.T) {
	// 8 concurrent submissions against a pool of 2 must all complete.
	replies := make([]string, 8)
	for i := range replies {
		replies[i] = fmt.Sprintf("reply %d", i)
	}
	p := &scriptedProvider{replies: replies}
	registerScripted(t, p)

	tr := &recordingTransport{}
	log := &memoryLog{}
	o := New(newStore("openai", false, map[string]string{"openai": "sk-test"}), log, nil, discard(),
		Options{MaxConcurrent: 2})

	for i := 0; i < 8; i++ {
		req := domain.Request{UserText: fmt.Sprintf("q%d", i), SessionID: fmt.Sprintf("s%d", i)}
		if err := o.StartChat(context.Background(), tr, req); err != nil {
			t.Fatalf("StartChat(%d) error = %v", i, err)
		}
	}
	o.Wait()

	if bots := log.byRole(domain.RoleBot); len(bots) != 8 {
		t.Errorf("bot rows = %d, want 8", len(bots))
	}
	var completes int
	for _, e := range tr.snapshot() {
		if e == "complete" {
			completes++
		}
	}
	if completes != 8 {
		t.Errorf("complete events = %d, want 8", completes)
	}
}
