// Package orchestrator drives chat cycles: it captures a settings snapshot,
// gates on credentials, persists the user's message, and runs either a
// single streaming call or the four-stage pipeline on a bounded worker pool.
package orchestrator

import (
	"context"
	"log/slog"
	"sync"

	"github.com/agenticlabs/workspace/internal/agent"
	"github.com/agenticlabs/workspace/internal/domain"
	"github.com/agenticlabs/workspace/internal/provider"
	"github.com/agenticlabs/workspace/internal/relay"
	"github.com/agenticlabs/workspace/internal/settings"
)

const defaultMaxConcurrent = 4

// Options tunes cycle behavior.
type Options struct {
	HistoryTokenBudget int
	TopK               int
	MaxConcurrent      int  // concurrent cycle workers; 0 means the default
	PersistPartial     bool // keep partial pipeline transcripts on stage failure
}

// Orchestrator owns the cycle worker pool. One orchestrator serves all
// connected transports.
type Orchestrator struct {
	settings  *settings.Store
	log       domain.ChatLog
	retriever domain.Retriever
	logger    *slog.Logger

	budget         int
	topK           int
	persistPartial bool

	sem chan struct{}
	wg  sync.WaitGroup
}

func New(st *settings.Store, log domain.ChatLog, retriever domain.Retriever, logger *slog.Logger, opts Options) *Orchestrator {
	maxc := opts.MaxConcurrent
	if maxc <= 0 {
		maxc = defaultMaxConcurrent
	}
	return &Orchestrator{
		settings:       st,
		log:            log,
		retriever:      retriever,
		logger:         logger,
		budget:         opts.HistoryTokenBudget,
		topK:           opts.TopK,
		persistPartial: opts.PersistPartial,
		sem:            make(chan struct{}, maxc),
	}
}

// StartChat begins one chat cycle. The settings snapshot is captured here,
// before any asynchronous work, so concurrent settings changes never affect
// an in-flight cycle. Credential and persistence preconditions are checked
// synchronously; the model invocation itself runs on a pooled worker.
//
// A non-empty TargetID means regeneration into an existing bubble: the
// user's message was persisted by the original turn and is not re-appended.
func (o *Orchestrator) StartChat(ctx context.Context, transport domain.Transport, req domain.Request) error {
	snap := o.settings.Current()

	if snap.APIKey(snap.Provider) == "" {
		cfgErr := &domain.ConfigurationError{Provider: snap.Provider}
		o.logger.Warn("chat refused, missing credential", "provider", snap.Provider)
		transport.Error(cfgErr.UserMessage())
		return cfgErr
	}

	if req.TargetID == "" {
		if err := o.log.Append(ctx, req.SessionID, domain.RoleUser, req.UserText); err != nil {
			o.logger.Error("failed to persist user message", "error", err.Error())
			transport.Error("Failed to save your message. Please try again.")
			return err
		}
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()

		select {
		case o.sem <- struct{}{}:
			defer func() { <-o.sem }()
		case <-ctx.Done():
			rel := relay.New(transport, o.log, o.logger, req.SessionID, req.TargetID)
			rel.Begin(true)
			rel.Fail("chat cycle cancelled")
			return
		}

		o.runCycle(ctx, transport, req, snap)
	}()
	return nil
}

// Wait blocks until all in-flight cycle workers finish. Used at shutdown.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func (o *Orchestrator) runCycle(ctx context.Context, transport domain.Transport, req domain.Request, snap *settings.Snapshot) {
	rel := relay.New(transport, o.log, o.logger, req.SessionID, req.TargetID)
	rel.Begin(true)

	p, model, err := provider.Create(snap.Provider, snap.Model, snap.APIKey(snap.Provider), o.logger)
	if err != nil {
		o.logger.Error("provider construction failed",
			"provider", snap.Provider,
			"error", err.Error())
		rel.Fail(err.Error())
		return
	}

	o.logger.Info("chat cycle started",
		"provider", p.Name(),
		"model", model,
		"session", req.SessionID,
		"multi_agent", snap.MultiAgent)

	if snap.MultiAgent {
		planner := agent.New(p, model, plannerInstructions,
			agent.WithMemory(o.log, req.SessionID, o.budget))
		researcher := agent.New(p, model, researcherInstructions,
			o.researchOptions()...)
		coder := agent.New(p, model, coderInstructions)
		o.runPipeline(ctx, rel, planner, researcher, coder, req.UserText)
		return
	}

	o.runSingle(ctx, rel, p, model, snap, req)
}

// researchOptions equips the researcher handle with retrieval when an index
// is wired. The researcher consults uploaded documents regardless of the
// single-call retrieval toggle.
func (o *Orchestrator) researchOptions() []agent.Option {
	if o.retriever == nil {
		return nil
	}
	opts := []agent.Option{agent.WithRetrieval(o.retriever)}
	if o.topK > 0 {
		opts = append(opts, agent.WithTopK(o.topK))
	}
	return opts
}

// runSingle streams one assistant response, relaying fragments as they
// arrive and persisting the accumulated text on completion.
func (o *Orchestrator) runSingle(ctx context.Context, rel *relay.Relay, p domain.Provider, model string, snap *settings.Snapshot, req domain.Request) {
	opts := []agent.Option{agent.WithMemory(o.log, req.SessionID, o.budget)}
	if snap.Retrieval && o.retriever != nil {
		opts = append(opts, agent.WithRetrieval(o.retriever))
		if o.topK > 0 {
			opts = append(opts, agent.WithTopK(o.topK))
		}
	}
	h := agent.New(p, model, assistantInstructions, opts...)

	events, err := h.Stream(ctx, req.UserText)
	if err != nil {
		inv := &domain.InvocationError{Provider: p.Name(), Err: err}
		o.logger.Error("stream open failed", "error", err.Error())
		rel.Fail(inv.Error())
		return
	}

	for ev := range events {
		if ev.Err != nil {
			inv := &domain.InvocationError{Provider: p.Name(), Err: ev.Err}
			o.logger.Error("stream failed mid-flight", "error", ev.Err.Error())
			rel.Fail(inv.Error())
			return
		}
		rel.Write(ev.ContentDelta)
	}

	if err := ctx.Err(); err != nil {
		rel.Fail("chat cycle cancelled")
		return
	}

	if err := rel.Complete(ctx); err != nil {
		o.logger.Error("response persistence failed", "error", err.Error())
	}
}
