// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pkoukk/tiktoken-go"

	"github.com/rapidaai/voicebridge/internal/commons"
	"github.com/rapidaai/voicebridge/internal/llm"
	"github.com/rapidaai/voicebridge/internal/session"
)

// EventKind tags the variants of OrchestratorEvent (§4.6).
type EventKind int

const (
	EventTextChunk EventKind = iota
	EventToolInvoked
	EventToolResult
	EventHandoff
	EventDone
	EventError
)

// Event is one item RunTurn emits as the turn progresses.
type Event struct {
	Kind EventKind

	Text string // EventTextChunk, EventDone (final text), EventError (fallback phrase)

	ToolName string // EventToolInvoked, EventToolResult
	ToolArgs string // EventToolInvoked (call arguments), EventToolResult (tool output, when ToolOK)
	ToolOK   bool   // EventToolResult
	ToolErr  string // EventToolResult, when !ToolOK

	ToAgentKey string // EventHandoff
}

const maxToolIterations = 5

// Orchestrator drives RunTurn against the registry and the LLM pool
// (§4.6).
type Orchestrator struct {
	registry        *Registry
	pool            llm.Pool
	store           session.Store
	ownerID         string
	logger          commons.Logger
	historyWindow   int
	toolTimeout     time.Duration
	fallbackPhrase  string
	classifierModel string // AgentSpec key used to run the intent classifier's Chat call
}

// NewOrchestrator builds an Orchestrator. classifierAgentKey names a
// registered agent whose Provider/Model the lightweight intent
// classifier reuses (§4.6 step 1: "a small LLM call with a fixed
// prompt").
func NewOrchestrator(registry *Registry, pool llm.Pool, store session.Store, ownerID string, logger commons.Logger, historyWindow int, toolTimeout time.Duration, fallbackPhrase, classifierAgentKey string) *Orchestrator {
	return &Orchestrator{
		registry:        registry,
		pool:            pool,
		store:           store,
		ownerID:         ownerID,
		logger:          logger,
		historyWindow:   historyWindow,
		toolTimeout:     toolTimeout,
		fallbackPhrase:  fallbackPhrase,
		classifierModel: classifierAgentKey,
	}
}

// RunTurn implements the §4.6 algorithm: agent selection, prompt
// composition, the Chat/tool loop, at most one handoff, and a fallback
// phrase when the accumulated text is empty at Done.
func (o *Orchestrator) RunTurn(ctx context.Context, rec *session.Record, userText string) <-chan Event {
	out := make(chan Event, 32)
	go func() {
		defer close(out)
		o.run(ctx, rec, userText, out)
	}()
	return out
}

func (o *Orchestrator) run(ctx context.Context, rec *session.Record, userText string, out chan<- Event) {
	spec := o.selectAgent(ctx, rec, userText)
	handedOff := false

	for iteration := 0; ; iteration++ {
		select {
		case <-ctx.Done():
			return
		default:
		}

		messages := o.composePrompt(spec, rec, userText)
		client, err := o.pool.Chat(ctx, spec.Provider)
		if err != nil {
			o.logger.Warnw("chat client unavailable", "agent", spec.Key, "err", err)
			out <- Event{Kind: EventError, Text: o.fallbackPhrase}
			return
		}

		events, err := client.Chat(ctx, messages, spec.ToolSpecs())
		if err != nil {
			o.logger.Warnw("chat call failed", "agent", spec.Key, "err", err)
			out <- Event{Kind: EventError, Text: o.fallbackPhrase}
			return
		}

		accumulated, toolIterations, handoffKey, finished, upstreamErr := o.drainChat(ctx, spec, rec, events, out)
		if ctx.Err() != nil {
			return
		}
		if upstreamErr {
			o.logger.Warnw("chat stream ended in error", "agent", spec.Key, "session_id", rec.SessionID)
			out <- Event{Kind: EventError, Text: o.fallbackPhrase}
			return
		}

		if handoffKey != "" && !handedOff {
			handedOff = true
			out <- Event{Kind: EventHandoff, ToAgentKey: handoffKey}
			next, ok := o.registry.Get(handoffKey)
			if !ok {
				next = o.registry.Greeter()
			}
			if o.store != nil {
				_, _ = session.MutateWithRetry(ctx, o.store, rec.SessionID, o.ownerID, func(r *session.Record) error {
					r.ActiveAgent = next.Key
					return nil
				})
			}
			rec.ActiveAgent = next.Key
			spec = next
			continue // restart at step 2 with the same user_text (§4.6 step 6)
		}

		if toolIterations >= maxToolIterations && !finished {
			o.logger.Warnw("tool loop iteration cap reached", "agent", spec.Key, "session_id", rec.SessionID)
		}

		final := strings.TrimSpace(accumulated)
		if final == "" {
			final = o.fallbackPhrase
		}
		out <- Event{Kind: EventDone, Text: final}
		return
	}
}

// drainChat consumes one Chat stream, running the tool loop inline
// (§4.6 step 5) until the model yields Finished, the stream closes or ctx
// is cancelled; once 5 tool calls have run, further tool-call requests in
// the stream are ignored. It returns the accumulated text, the tool-iteration count, a
// non-empty handoff key if the model called handoff_to, whether Finished
// was observed, and whether the stream ended in an upstream error (§7:
// Upstream/Timeout failures inside a turn abort it with a fallback
// phrase rather than completing normally).
func (o *Orchestrator) drainChat(ctx context.Context, spec *Spec, rec *session.Record, events <-chan llm.ChatEvent, out chan<- Event) (accumulated string, toolIterations int, handoffKey string, finished bool, upstreamErr bool) {
	var sb strings.Builder
	for {
		select {
		case <-ctx.Done():
			return sb.String(), toolIterations, "", false, false
		case ev, ok := <-events:
			if !ok {
				// channel closed without ever yielding Finished: treat as an
				// upstream failure rather than a silent success (§7).
				return sb.String(), toolIterations, handoffKey, finished, !finished
			}
			switch ev.Kind {
			case llm.EventToken:
				sb.WriteString(ev.Text)
				out <- Event{Kind: EventTextChunk, Text: ev.Text}

			case llm.EventToolCallRequested:
				if toolIterations >= maxToolIterations {
					continue
				}
				toolIterations++
				if ev.ToolName == HandoffToolName {
					handoffKey = extractAgentKey(ev.ToolArgs)
					continue
				}
				o.runTool(ctx, spec, rec, ev, out)

			case llm.EventFinished:
				finished = true
				return sb.String(), toolIterations, handoffKey, finished, ev.FinishReason == "error"
			}
		}
	}
}

// runTool executes one model-requested tool call under a 10s wall clock
// (§4.6 step 5), emitting ToolInvoked before and ToolResult after. A
// tool the agent doesn't declare is treated as a model error (§4.6 step
// 5: "if absent, treat as a model error").
func (o *Orchestrator) runTool(ctx context.Context, spec *Spec, rec *session.Record, ev llm.ChatEvent, out chan<- Event) {
	out <- Event{Kind: EventToolInvoked, ToolName: ev.ToolName, ToolArgs: ev.ToolArgs}

	tool, ok := spec.Tool(ev.ToolName)
	if !ok {
		out <- Event{Kind: EventToolResult, ToolName: ev.ToolName, ToolOK: false, ToolErr: "unknown tool"}
		return
	}

	toolCtx, cancel := context.WithTimeout(ctx, o.toolTimeout)
	defer cancel()

	result, err := tool.Execute(toolCtx, ev.ToolArgs, rec.Context)
	if err != nil {
		out <- Event{Kind: EventToolResult, ToolName: ev.ToolName, ToolOK: false, ToolErr: err.Error()}
		return
	}
	out <- Event{Kind: EventToolResult, ToolName: ev.ToolName, ToolOK: true, ToolArgs: result}
}

// selectAgent implements §4.6 step 1: reuse the active agent if it
// claims it can handle the utterance, otherwise classify.
func (o *Orchestrator) selectAgent(ctx context.Context, rec *session.Record, userText string) *Spec {
	if rec.ActiveAgent != "" {
		if spec, ok := o.registry.Get(rec.ActiveAgent); ok && spec.CanHandle != nil && spec.CanHandle(userText, rec.Context) {
			return spec
		}
	}
	key := o.classify(ctx, userText)
	spec, ok := o.registry.Get(key)
	if !ok {
		return o.registry.Greeter()
	}
	return spec
}

// classify runs the lightweight intent classifier: a single non-tool
// Chat call against a fixed prompt listing registered agents (§4.6 step
// 1). An unrecognized or empty reply falls back to the greeter at the
// call site.
func (o *Orchestrator) classify(ctx context.Context, userText string) string {
	classifierSpec, ok := o.registry.Get(o.classifierModel)
	if !ok {
		return GreeterKey
	}
	client, err := o.pool.Chat(ctx, classifierSpec.Provider)
	if err != nil {
		return GreeterKey
	}

	prompt := fmt.Sprintf(
		"You are an intent router. Registered agents: %s. Reply with exactly one agent key that best handles: %q",
		strings.Join(o.registry.Keys(), ", "), userText,
	)
	events, err := client.Chat(ctx, []llm.ChatMessage{{Role: llm.RoleUser, Content: prompt}}, nil)
	if err != nil {
		return GreeterKey
	}

	var sb strings.Builder
	for ev := range events {
		if ev.Kind == llm.EventToken {
			sb.WriteString(ev.Text)
		}
	}
	key := strings.TrimSpace(sb.String())
	if _, ok := o.registry.Get(key); !ok {
		return GreeterKey
	}
	return key
}

// historyTokenBudget caps the history window by token count rather than
// raw turn count alone, since a handful of long turns can blow past an
// agent's context window just as easily as many short ones.
const historyTokenBudget = 3000

// tiktokenEncoding is loaded once and shared across every Orchestrator;
// BPE construction is the expensive part, encoding itself is cheap.
var (
	tiktokenOnce sync.Once
	tiktokenEnc  *tiktoken.Tiktoken
)

func countTokens(s string) int {
	tiktokenOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			tiktokenEnc = enc
		}
	})
	if tiktokenEnc == nil {
		// Fallback when the BPE ranks file can't be loaded (offline, no
		// cache dir writable): ~4 chars/token is the commonly-cited
		// estimate for English text.
		return len(s)/4 + 1
	}
	return len(tiktokenEnc.Encode(s, nil, nil))
}

// composePrompt implements §4.6 step 2: agent system prompt + a
// truncated history window + the new user message. The window is
// bounded both by turn count (historyWindow) and by a token budget,
// dropping the oldest turns first until both hold.
func (o *Orchestrator) composePrompt(spec *Spec, rec *session.Record, userText string) []llm.ChatMessage {
	system := spec.SystemPrompt
	if spec.PromptOverrides != nil {
		if extra := spec.PromptOverrides(rec.Context); extra != "" {
			system = system + "\n" + extra
		}
	}

	messages := []llm.ChatMessage{{Role: llm.RoleSystem, Content: system}}
	historyStart := len(messages)
	for _, turn := range rec.RecentHistory(o.historyWindow) {
		messages = append(messages, llm.ChatMessage{Role: llm.RoleUser, Content: turn.UserText})
		if text := turn.FinalText(); text != "" {
			messages = append(messages, llm.ChatMessage{Role: llm.RoleAssistant, Content: text})
		}
	}
	messages = append(messages, llm.ChatMessage{Role: llm.RoleUser, Content: userText})

	total := 0
	for _, m := range messages {
		total += countTokens(m.Content)
	}
	for total > historyTokenBudget && len(messages) > historyStart+1 {
		dropped := messages[historyStart]
		messages = append(messages[:historyStart], messages[historyStart+1:]...)
		total -= countTokens(dropped.Content)
	}
	return messages
}

// extractAgentKey pulls "agent_key" out of the handoff_to tool's
// assembled JSON arguments without a full schema-validated decode —
// the orchestrator only ever reads this one field.
func extractAgentKey(args string) string {
	const marker = `"agent_key"`
	idx := strings.Index(args, marker)
	if idx < 0 {
		return ""
	}
	rest := args[idx+len(marker):]
	start := strings.Index(rest, `"`)
	if start < 0 {
		return ""
	}
	rest = rest[start+1:]
	end := strings.Index(rest, `"`)
	if end < 0 {
		return ""
	}
	return rest[:end]
}
