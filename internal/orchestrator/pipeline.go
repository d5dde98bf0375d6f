package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"

	"github.com/agenticlabs/workspace/internal/agent"
	"github.com/agenticlabs/workspace/internal/domain"
	"github.com/agenticlabs/workspace/internal/relay"
)

// Role instructions for each pipeline stage. The planner handle doubles as
// the final reviewer.
const (
	plannerInstructions = "You are a strategic planner. Your job is to break down complex requests into logical steps.\n" +
		"1. Analyze the user request.\n" +
		"2. Create a step-by-step execution plan.\n" +
		"3. Decide if you need research (Researcher) or code (Coder).\n" +
		"4. Output the plan clearly."

	researcherInstructions = "You are an expert researcher. You gather information and analyze data from the knowledge base.\n" +
		"1. Use the knowledge base to find relevant information.\n" +
		"2. Provide concise notes and evidence.\n" +
		"3. Reference specific parts of the uploaded documents."

	coderInstructions = "You are an expert software engineer. You write clean, efficient, and well-documented code.\n" +
		"1. Write code, configuration, or commands based on the plan and research notes.\n" +
		"2. Explain your implementation briefly.\n" +
		"3. Ensure the code is production-ready."

	assistantInstructions = "You are a professional workspace assistant with access to uploaded documents."
)

// stageOutputs accumulates the intermediate texts a later stage consumes.
type stageOutputs struct {
	userText string
	plan     string
	research string
	code     string
}

// stage is one step of the fixed cycle: a progress marker shown while the
// model works, the handle to invoke, how to synthesize its prompt, and
// where to store its output.
type stage struct {
	label  string
	marker string
	handle *agent.Handle
	prompt func(*stageOutputs) string
	store  func(*stageOutputs, string)
}

func buildStages(planner, researcher, coder *agent.Handle, userText string) (*stageOutputs, []stage) {
	out := &stageOutputs{userText: userText}
	stages := []stage{
		{
			label:  "Planner",
			marker: "Thinking about the plan...",
			handle: planner,
			prompt: func(s *stageOutputs) string { return s.userText },
			store:  func(s *stageOutputs, text string) { s.plan = text },
		},
		{
			label:  "Researcher",
			marker: "Gathering information...",
			handle: researcher,
			prompt: func(s *stageOutputs) string {
				return "Research requirements for this plan: " + s.plan
			},
			store: func(s *stageOutputs, text string) { s.research = text },
		},
		{
			label:  "Coder",
			marker: "Writing code...",
			handle: coder,
			prompt: func(s *stageOutputs) string {
				return fmt.Sprintf("Plan: %s\nResearch Notes: %s\nUser Request: %s", s.plan, s.research, s.userText)
			},
			store: func(s *stageOutputs, text string) { s.code = text },
		},
		{
			// Final review reuses the planner handle.
			label:  "Final Answer",
			marker: "Finalizing the response...",
			handle: planner,
			prompt: func(s *stageOutputs) string {
				return fmt.Sprintf("Review the following work and provide a final answer to the user.\nUser Request: %s\nCoder output: %s", s.userText, s.code)
			},
			store: func(s *stageOutputs, text string) {},
		},
	}
	return out, stages
}

// runPipeline drives the four stages in order, relaying each stage's output
// as a labeled transcript section. Markers are emitted but never persisted.
// On stage failure the transcript so far is discarded unless partial
// persistence is configured.
func (o *Orchestrator) runPipeline(ctx context.Context, rel *relay.Relay, planner, researcher, coder *agent.Handle, userText string) {
	tracer := otel.Tracer("workspace/orchestrator")

	out, stages := buildStages(planner, researcher, coder, userText)
	for _, st := range stages {
		if err := ctx.Err(); err != nil {
			o.failOrFlush(ctx, rel, "chat cycle cancelled")
			return
		}

		rel.Notify(st.marker)

		stageCtx, span := tracer.Start(ctx, "stage."+strings.ToLower(strings.ReplaceAll(st.label, " ", "_")))
		text, err := st.handle.Invoke(stageCtx, st.prompt(out))
		span.End()
		if err != nil {
			inv := &domain.InvocationError{Provider: st.handle.ProviderName(), Stage: st.label, Err: err}
			o.logger.Error("pipeline stage failed",
				"stage", st.label,
				"error", err.Error())
			o.failOrFlush(ctx, rel, inv.Error())
			return
		}

		st.store(out, text)
		rel.Write(fmt.Sprintf("\n\n**[%s]**\n%s", st.label, text))
	}

	if err := rel.Complete(ctx); err != nil {
		o.logger.Error("pipeline completion failed", "error", err.Error())
	}
}

// failOrFlush terminates a broken pipeline cycle: the default is an error
// event with nothing persisted; with persist_partial the sections produced
// so far are kept and the cycle completes.
func (o *Orchestrator) failOrFlush(ctx context.Context, rel *relay.Relay, message string) {
	if o.persistPartial && rel.Text() != "" {
		if err := rel.Complete(ctx); err != nil {
			o.logger.Error("partial transcript persistence failed", "error", err.Error())
		}
		return
	}
	rel.Fail(message)
}
