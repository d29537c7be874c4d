// Package modeladapter is the Host-facing streaming surface: it turns
// one Host turn (a structured prompt, an abort signal, a session key)
// into a sequence of provider-style stream events, forwarding tool
// results into the underlying workflow session and forwarding the
// session's checkpoint-derived events back out as text and tool calls.
package modeladapter

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/duo-workflow-bridge/bridge/pkg/actionmap"
	"github.com/duo-workflow-bridge/bridge/pkg/bridgeerrors"
	"github.com/duo-workflow-bridge/bridge/pkg/bridgelog"
	"github.com/duo-workflow-bridge/bridge/pkg/promptextract"
	"github.com/duo-workflow-bridge/bridge/pkg/sessionregistry"
	"github.com/duo-workflow-bridge/bridge/pkg/toolmap"
	"github.com/duo-workflow-bridge/bridge/pkg/workflowsession"
)

// SystemRulesLiteral is installed as the "user_rule" additional-context
// item on every fresh-goal start request.
const SystemRulesLiteral = "Follow the user's instructions precisely. Prefer the smallest change that satisfies the request."

// DefaultSystemPrompt is used when the Host's structured prompt carries
// no system message.
const DefaultSystemPrompt = "You are a software development agent operating inside a user's project."

// HostEventKind tags a HostEvent's shape, matching the provider-style
// streaming protocol the Host expects.
type HostEventKind string

const (
	EventStreamStart    HostEventKind = "stream-start"
	EventTextStart      HostEventKind = "text-start"
	EventTextDelta      HostEventKind = "text-delta"
	EventTextEnd        HostEventKind = "text-end"
	EventToolInputStart HostEventKind = "tool-input-start"
	EventToolInputDelta HostEventKind = "tool-input-delta"
	EventToolInputEnd   HostEventKind = "tool-input-end"
	EventToolCall       HostEventKind = "tool-call"
	EventFinish         HostEventKind = "finish"
	EventError          HostEventKind = "error"
)

// Finish reasons.
const (
	FinishStop      = "stop"
	FinishToolCalls = "tool-calls"
	FinishError     = "error"
)

// HostEvent is one emitted stream event.
type HostEvent struct {
	Kind         HostEventKind
	TextID       string
	Delta        string
	ToolCallID   string
	ToolName     string
	InputJSON    string
	FinishReason string
	Err          error
}

// StreamOptions carries one Host turn's inputs.
type StreamOptions struct {
	Messages   []promptextract.Message
	SessionKey workflowsession.Key
	Abort      <-chan struct{}
}

// MultiCallGroup tracks a single Service request that the tool-name
// mapper expanded into several Host tool calls.
type MultiCallGroup struct {
	SubIDs    []string
	Labels    []string
	Collected map[string]string
}

// Adapter is the instance-wide (not per-session-key) turn orchestrator.
// Its tracking maps span every session it has ever handled; they are
// reset only when the host-session-ID of an incoming turn changes.
type Adapter struct {
	registry *sessionregistry.Registry
	newID    func() string
	osInfo   string

	mu                  sync.Mutex
	pendingToolRequests map[string]bool
	multiCallGroups     map[string]*MultiCallGroup
	sentToolCallIds     map[string]bool
	lastSentGoal        string
	stateSessionID      string
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithIDGenerator overrides the text/tool-call ID generator, for tests.
func WithIDGenerator(fn func() string) Option {
	return func(a *Adapter) { a.newID = fn }
}

// WithOSInformation overrides the os_information additional-context
// value; defaults to runtime.GOOS/runtime.GOARCH.
func WithOSInformation(info string) Option {
	return func(a *Adapter) { a.osInfo = info }
}

// New creates an Adapter backed by registry.
func New(registry *sessionregistry.Registry, opts ...Option) *Adapter {
	a := &Adapter{
		registry:            registry,
		newID:               uuid.NewString,
		osInfo:              fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
		pendingToolRequests: make(map[string]bool),
		multiCallGroups:     make(map[string]*MultiCallGroup),
		sentToolCallIds:     make(map[string]bool),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Stream runs one Host turn, returning a channel of HostEvents that is
// closed when the turn ends (stream close, error, or abort).
func (a *Adapter) Stream(ctx context.Context, opts StreamOptions) (<-chan HostEvent, error) {
	if opts.SessionKey.HostSessionID == "" {
		return nil, bridgeerrors.New(bridgeerrors.MissingSessionID, "no resolvable host session id")
	}

	goal := promptextract.ExtractGoal(opts.Messages)
	results := promptextract.ExtractToolResults(opts.Messages)
	sess := a.registry.Resolve(opts.SessionKey)

	out := make(chan HostEvent, 16)
	go a.run(ctx, sess, opts, goal, results, out)
	return out, nil
}

func (a *Adapter) run(ctx context.Context, sess *workflowsession.Session, opts StreamOptions, goal string, results []promptextract.ExtractedToolResult, out chan HostEvent) {
	defer close(out)

	a.mu.Lock()
	if a.stateSessionID != opts.SessionKey.HostSessionID {
		a.pendingToolRequests = make(map[string]bool)
		a.multiCallGroups = make(map[string]*MultiCallGroup)
		a.sentToolCallIds = make(map[string]bool)
		a.lastSentGoal = ""
		a.stateSessionID = opts.SessionKey.HostSessionID
	}
	a.mu.Unlock()

	out <- HostEvent{Kind: EventStreamStart}

	if !sess.StartRequestSent() {
		a.mu.Lock()
		for _, r := range results {
			if !a.pendingToolRequests[r.ID] {
				a.sentToolCallIds[r.ID] = true
			}
		}
		a.lastSentGoal = ""
		a.mu.Unlock()
	}

	if err := sess.EnsureConnected(ctx, goal); err != nil {
		bridgelog.Error(ctx, "ensureConnected failed", "error", err)
		out <- HostEvent{Kind: EventError, Err: err}
		out <- HostEvent{Kind: EventFinish, FinishReason: FinishError}
		return
	}

	freshSent := a.forwardFreshToolResults(sess, results)

	if !freshSent && goal != "" {
		a.mu.Lock()
		lastGoal := a.lastSentGoal
		a.mu.Unlock()
		if goal != lastGoal && !sess.StartRequestSent() {
			a.sendNewGoal(sess, opts, goal)
		}
	}

	a.consumeEvents(ctx, sess, opts, out)
}

// forwardFreshToolResults implements Phase 1. It returns true if at
// least one fresh result was forwarded or absorbed into a multi-call
// group this turn.
func (a *Adapter) forwardFreshToolResults(sess *workflowsession.Session, results []promptextract.ExtractedToolResult) bool {
	sentAny := false
	for _, r := range results {
		a.mu.Lock()
		if a.sentToolCallIds[r.ID] {
			a.mu.Unlock()
			continue
		}

		if origID, ok := splitSubID(r.ID); ok {
			group := a.multiCallGroups[origID]
			if group == nil {
				a.sentToolCallIds[r.ID] = true
				a.mu.Unlock()
				continue
			}
			value := r.Output
			if r.Error != "" {
				value = r.Error
			}
			group.Collected[r.ID] = value
			a.sentToolCallIds[r.ID] = true
			delete(a.pendingToolRequests, r.ID)
			sentAny = true

			if len(group.Collected) < len(group.SubIDs) {
				a.mu.Unlock()
				continue
			}
			payload := buildMultiCallPayload(group)
			delete(a.multiCallGroups, origID)
			delete(a.pendingToolRequests, origID)
			a.mu.Unlock()
			sess.SendToolResult(origID, payload, "")
			continue
		}

		if a.pendingToolRequests[r.ID] {
			delete(a.pendingToolRequests, r.ID)
			a.sentToolCallIds[r.ID] = true
			a.mu.Unlock()
			sess.SendToolResult(r.ID, r.Output, r.Error)
			sentAny = true
			continue
		}

		a.sentToolCallIds[r.ID] = true
		a.mu.Unlock()
	}
	return sentAny
}

func splitSubID(id string) (string, bool) {
	idx := strings.Index(id, "_sub_")
	if idx < 0 {
		return "", false
	}
	return id[:idx], true
}

func buildMultiCallPayload(group *MultiCallGroup) string {
	obj := make(map[string]any, len(group.SubIDs))
	for i, subID := range group.SubIDs {
		label := fmt.Sprintf("file_%d", i)
		if i < len(group.Labels) && group.Labels[i] != "" {
			label = group.Labels[i]
		}
		obj[label] = map[string]any{"content": group.Collected[subID]}
	}
	raw, _ := json.Marshal(obj)
	return string(raw)
}

// sendNewGoal implements Phase 2.
func (a *Adapter) sendNewGoal(sess *workflowsession.Session, opts StreamOptions, goal string) {
	reminders := promptextract.ExtractAgentReminders(opts.Messages)
	systemPrompt := promptextract.ExtractSystemPrompt(opts.Messages)
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}
	systemPrompt = promptextract.SanitizeSystemPrompt(systemPrompt)

	additionalContext := []map[string]any{
		{"category": "os_information", "content": a.osInfo},
		{"category": "user_rule", "content": SystemRulesLiteral},
	}
	if len(reminders) > 0 {
		additionalContext = append(additionalContext, map[string]any{
			"category": "agent_context",
			"content":  strings.Join(reminders, "\n"),
		})
	}
	flowConfig := map[string]any{"goal_system_prompt": systemPrompt}

	if err := sess.SendStartRequest(goal, additionalContext, flowConfig); err != nil {
		bridgelog.Warn(context.Background(), "start request send failed", "error", err)
		return
	}
	a.mu.Lock()
	a.lastSentGoal = goal
	a.mu.Unlock()
}

// consumeEvents implements Phase 3.
func (a *Adapter) consumeEvents(ctx context.Context, sess *workflowsession.Session, opts StreamOptions, out chan HostEvent) {
	events := make(chan workflowsession.Event)
	done := make(chan struct{})
	defer close(done)

	go func() {
		defer close(events)
		for {
			ev, ok := sess.WaitForEvent(ctx)
			if !ok {
				return
			}
			select {
			case events <- ev:
			case <-done:
				return
			}
		}
	}()

	var textID string
	for {
		select {
		case <-opts.Abort:
			sess.Abort(ctx)
			if textID != "" {
				out <- HostEvent{Kind: EventTextEnd, TextID: textID}
			}
			out <- HostEvent{Kind: EventFinish, FinishReason: FinishStop}
			return

		case ev, ok := <-events:
			if !ok {
				if textID != "" {
					out <- HostEvent{Kind: EventTextEnd, TextID: textID}
				}
				out <- HostEvent{Kind: EventFinish, FinishReason: FinishStop}
				return
			}

			switch ev.Kind {
			case workflowsession.EventTextDelta:
				if textID == "" {
					textID = a.newID()
					out <- HostEvent{Kind: EventTextStart, TextID: textID}
				}
				out <- HostEvent{Kind: EventTextDelta, TextID: textID, Delta: ev.TextDelta}

			case workflowsession.EventToolRequest:
				if textID != "" {
					out <- HostEvent{Kind: EventTextEnd, TextID: textID}
					textID = ""
				}
				a.emitToolCall(ev.ToolRequest, out)
				out <- HostEvent{Kind: EventFinish, FinishReason: FinishToolCalls}
				return

			case workflowsession.EventError:
				out <- HostEvent{Kind: EventError, Err: ev.Err}
				out <- HostEvent{Kind: EventFinish, FinishReason: FinishError}
				return
			}
		}
	}
}

func (a *Adapter) emitToolCall(req *actionmap.ToolRequest, out chan HostEvent) {
	calls := toolmap.Map(req.ToolName, req.Args)
	if len(calls) == 0 {
		return
	}

	if len(calls) == 1 {
		a.mu.Lock()
		a.pendingToolRequests[req.RequestID] = true
		a.mu.Unlock()
		a.emitSingleToolCall(req.RequestID, calls[0], out)
		return
	}

	subIDs := make([]string, len(calls))
	labels := make([]string, len(calls))
	for i, c := range calls {
		subIDs[i] = fmt.Sprintf("%s_sub_%d", req.RequestID, i)
		labels[i] = toolCallLabel(c)
	}

	a.mu.Lock()
	a.multiCallGroups[req.RequestID] = &MultiCallGroup{SubIDs: subIDs, Labels: labels, Collected: make(map[string]string)}
	a.pendingToolRequests[req.RequestID] = true
	for _, id := range subIDs {
		a.pendingToolRequests[id] = true
	}
	a.mu.Unlock()

	for i, c := range calls {
		a.emitSingleToolCall(subIDs[i], c, out)
	}
}

func (a *Adapter) emitSingleToolCall(id string, call toolmap.HostToolCall, out chan HostEvent) {
	inputJSON, _ := json.Marshal(call.Args)
	out <- HostEvent{Kind: EventToolInputStart, ToolCallID: id, ToolName: call.Name}
	out <- HostEvent{Kind: EventToolInputDelta, ToolCallID: id, InputJSON: string(inputJSON)}
	out <- HostEvent{Kind: EventToolInputEnd, ToolCallID: id}
	out <- HostEvent{Kind: EventToolCall, ToolCallID: id, ToolName: call.Name, InputJSON: string(inputJSON)}
}

func toolCallLabel(call toolmap.HostToolCall) string {
	if p, ok := call.Args["filePath"].(string); ok {
		return p
	}
	return ""
}
