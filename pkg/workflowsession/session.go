// Package workflowsession owns the lifecycle of one Host-conversation's
// connection to a single Service workflow: creating or resuming the
// workflow, dialing and redialing the socket, diffing checkpoints into
// text deltas, and turning standalone tool actions into queued events
// the model adapter consumes one at a time.
package workflowsession

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/duo-workflow-bridge/bridge/internal/statefile"
	"github.com/duo-workflow-bridge/bridge/pkg/actionmap"
	"github.com/duo-workflow-bridge/bridge/pkg/bridgeerrors"
	"github.com/duo-workflow-bridge/bridge/pkg/bridgelog"
	"github.com/duo-workflow-bridge/bridge/pkg/checkpointdiff"
	"github.com/duo-workflow-bridge/bridge/pkg/queue"
	"github.com/duo-workflow-bridge/bridge/pkg/token"
	"github.com/duo-workflow-bridge/bridge/pkg/wsocket"
)

// Key identifies one workflow session: the triple of instance, model,
// and Host-conversation ID.
type Key struct {
	InstanceURL   string
	ModelID       string
	HostSessionID string
}

func (k Key) storeKey() statefile.Key {
	return statefile.Key{InstanceURL: k.InstanceURL, ModelID: k.ModelID, HostSessionID: k.HostSessionID}
}

// EventKind tags an Event's payload.
type EventKind string

const (
	EventTextDelta   EventKind = "text-delta"
	EventToolRequest EventKind = "tool-request"
	EventError       EventKind = "error"
)

// Event is one item the model adapter drains from a session's queue.
type Event struct {
	Kind        EventKind
	TextDelta   string
	ToolRequest *actionmap.ToolRequest
	Err         error
}

// Socket is the subset of *wsocket.Client the session depends on, so
// tests can supply a fake.
type Socket interface {
	Connect(ctx context.Context) error
	Send(event any) bool
	Close() error
	Frames() <-chan wsocket.Frame
	Closed() <-chan wsocket.CloseInfo
}

// SocketFactory builds an unconnected Socket for url, with auth header
// already attached.
type SocketFactory func(url string, header http.Header) Socket

// MCPTool is one MCP tool name the Host makes available to the Service.
type MCPTool struct {
	Name string
}

// Config holds the per-session values that do not change across
// reconnects.
type Config struct {
	SocketURL          string // base wss URL; the workflow ID is appended by the session
	WorkflowDefinition string
	Environment        string
	ClientVersion      string
	ProjectID          *int
	RootNamespaceID    string
	MCPTools           []MCPTool
}

// Session mediates one Host-conversation's connection to one Service
// workflow.
type Session struct {
	key Key
	cfg Config

	newSocket       SocketFactory
	createWorkflow  WorkflowCreator
	tokens          *token.Service
	store           *statefile.Store
	httpPassthrough HTTPPassthroughFunc

	mu               sync.Mutex
	workflowID       string
	sock             Socket
	queue            *queue.Queue[Event]
	checkpointState  *checkpointdiff.State
	startRequestSent bool
	pendingApproval  bool
	resumed          bool
	aborted          bool
	cwd              string
	projectPath      string
	stopRun          context.CancelFunc
}

// New creates a Session for key. No connection is made until
// EnsureConnected is called.
func New(key Key, cfg Config, newSocket SocketFactory, createWorkflow WorkflowCreator, tokens *token.Service, store *statefile.Store) *Session {
	return &Session{
		key:             key,
		cfg:             cfg,
		newSocket:       newSocket,
		createWorkflow:  createWorkflow,
		tokens:          tokens,
		store:           store,
		checkpointState: checkpointdiff.NewState(),
	}
}

// SetWorkingDirectory records the Host's current working directory and
// project path, included on the next start request.
func (s *Session) SetWorkingDirectory(cwd, projectPath string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cwd = cwd
	s.projectPath = projectPath
}

// WorkflowID returns the Service workflow ID, empty if none has been
// created or resumed yet.
func (s *Session) WorkflowID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.workflowID
}

// StartRequestSent reports whether a startRequest has been sent on the
// current connection.
func (s *Session) StartRequestSent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startRequestSent
}

// EnsureConnected resumes a persisted workflow ID or creates a new
// workflow with goal, then dials the socket and starts the read loop.
// It is a no-op if a connection is already established.
func (s *Session) EnsureConnected(ctx context.Context, goal string) error {
	s.mu.Lock()
	if s.sock != nil {
		s.mu.Unlock()
		return nil
	}
	workflowID := s.workflowID
	s.mu.Unlock()

	if workflowID == "" {
		if id, ok := s.store.Get(ctx, s.key.storeKey()); ok {
			workflowID = id
			s.mu.Lock()
			s.workflowID = id
			s.resumed = true
			s.mu.Unlock()
			bridgelog.Info(ctx, "resuming persisted workflow", "workflow_id", id)
		}
	}

	if workflowID == "" {
		id, err := s.createWorkflow(ctx, WorkflowCreateRequest{
			Goal:                    goal,
			WorkflowDefinition:      s.cfg.WorkflowDefinition,
			Environment:             s.cfg.Environment,
			AllowAgentToRequestUser: true,
			ProjectID:               s.cfg.ProjectID,
		})
		if err != nil {
			return err
		}
		workflowID = id
		s.mu.Lock()
		s.workflowID = id
		s.mu.Unlock()
		s.store.Set(ctx, s.key.storeKey(), id)
		bridgelog.Info(ctx, "created workflow", "workflow_id", id)
	}

	return s.dial(ctx)
}

func (s *Session) dial(ctx context.Context) error {
	header := http.Header{}
	if s.tokens != nil {
		if tok, err := s.tokens.Get(ctx, s.cfg.RootNamespaceID); err == nil && tok != nil {
			header.Set("Authorization", "Bearer "+tok.Value)
		}
	}

	s.mu.Lock()
	workflowID := s.workflowID
	s.mu.Unlock()

	sock := s.newSocket(fmt.Sprintf("%s/%s", s.cfg.SocketURL, workflowID), header)
	if err := sock.Connect(ctx); err != nil {
		return bridgeerrors.Wrap(bridgeerrors.ConnectFailed, "socket dial failed", err)
	}

	q := queue.New[Event]()
	runCtx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	s.sock = sock
	s.queue = q
	s.stopRun = cancel
	s.startRequestSent = false
	s.aborted = false
	s.mu.Unlock()

	go s.runLoop(runCtx, sock, q)
	return nil
}

// SendStartRequest sends the startRequest frame that begins (or resumes)
// the turn identified by goal.
func (s *Session) SendStartRequest(goal string, additionalContext []map[string]any, flowConfig map[string]any) error {
	s.mu.Lock()
	sock := s.sock
	workflowID := s.workflowID
	cwd := s.cwd
	projectPath := s.projectPath
	s.mu.Unlock()

	if sock == nil || workflowID == "" {
		return bridgeerrors.New(bridgeerrors.NotConnected, "no open socket")
	}

	startRequest := map[string]any{
		"workflowID":         workflowID,
		"clientVersion":      s.cfg.ClientVersion,
		"workflowDefinition": s.cfg.WorkflowDefinition,
		"goal":               goal,
		"workflowMetadata":   `{"extended_logging":false}`,
		"clientCapabilities": []string{"shell_command"},
		"mcpTools":           s.mcpToolsPayload(),
		"preapproved_tools":  s.mcpToolNames(),
		"additional_context": additionalContext,
		"cwd":                cwd,
		"project_path":       projectPath,
	}
	if flowConfig != nil {
		startRequest["flowConfig"] = flowConfig
	}
	if !sock.Send(map[string]any{"startRequest": startRequest}) {
		return bridgeerrors.New(bridgeerrors.NotConnected, "start request send failed")
	}

	s.mu.Lock()
	s.startRequestSent = true
	s.mu.Unlock()
	return nil
}

// SendToolResult replies to a standalone tool request with its output
// (or error) text.
func (s *Session) SendToolResult(requestID, output, errText string) error {
	s.mu.Lock()
	sock := s.sock
	s.mu.Unlock()
	if sock == nil {
		return bridgeerrors.New(bridgeerrors.NotConnected, "no open socket")
	}
	ok := sock.Send(map[string]any{"actionResponse": map[string]any{
		"requestID":          requestID,
		"plainTextResponse": map[string]any{"response": output, "error": errText},
	}})
	if !ok {
		return bridgeerrors.New(bridgeerrors.NotConnected, "tool result send failed")
	}
	return nil
}

// Abort stops the current turn, best-effort notifying the Service, and
// tears down the connection. Idempotent.
func (s *Session) Abort(ctx context.Context) {
	s.mu.Lock()
	if s.aborted {
		s.mu.Unlock()
		return
	}
	s.aborted = true
	sock := s.sock
	s.mu.Unlock()

	if sock != nil {
		sock.Send(map[string]any{"stopWorkflow": map[string]any{"reason": "ABORTED"}})
	}
	s.closeConnection()
}

// WaitForEvent blocks for the next queued event, returning ok=false once
// the session's queue has been closed or ctx is done.
func (s *Session) WaitForEvent(ctx context.Context) (Event, bool) {
	s.mu.Lock()
	q := s.queue
	s.mu.Unlock()
	if q == nil {
		return Event{}, false
	}
	r := q.Take(ctx.Done())
	return r.Value, r.Ok
}

func (s *Session) mcpToolsPayload() []map[string]any {
	out := make([]map[string]any, 0, len(s.cfg.MCPTools))
	for _, t := range s.cfg.MCPTools {
		out = append(out, map[string]any{"name": t.Name})
	}
	return out
}

func (s *Session) mcpToolNames() []string {
	out := make([]string, 0, len(s.cfg.MCPTools))
	for _, t := range s.cfg.MCPTools {
		out = append(out, t.Name)
	}
	return out
}

func (s *Session) runLoop(ctx context.Context, sock Socket, q *queue.Queue[Event]) {
	for {
		select {
		case frame, ok := <-sock.Frames():
			if !ok {
				return
			}
			s.handleFrame(ctx, frame, sock, q)
		case info := <-sock.Closed():
			s.handleSocketClose(ctx, info, sock, q)
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Session) handleFrame(ctx context.Context, frame wsocket.Frame, sock Socket, q *queue.Queue[Event]) {
	if frame.Err != nil {
		q.Push(Event{Kind: EventError, Err: bridgeerrors.Wrap(bridgeerrors.DecodeFailed, "bad frame", frame.Err)})
		return
	}

	if cp, ok := frame.Data["newCheckpoint"].(map[string]any); ok {
		s.handleCheckpoint(ctx, cp, sock, q)
		return
	}

	raw, err := json.Marshal(frame.Data)
	if err != nil {
		return
	}
	var action actionmap.Action
	if err := json.Unmarshal(raw, &action); err != nil {
		return
	}

	if action.RunHTTPRequest != nil && action.RequestID != "" {
		go s.handleHTTPPassthrough(ctx, action.RequestID, *action.RunHTTPRequest, sock)
		return
	}

	req, ok := actionmap.FromAction(action)
	if !ok {
		return
	}
	q.Push(Event{Kind: EventToolRequest, ToolRequest: &req})
}

func (s *Session) handleCheckpoint(ctx context.Context, cp map[string]any, sock Socket, q *queue.Queue[Event]) {
	status, _ := cp["status"].(string)
	checkpointJSON, _ := cp["checkpoint"].(string)

	s.mu.Lock()
	state := s.checkpointState
	s.mu.Unlock()

	deltas, err := checkpointdiff.ExtractAgentTextDeltas([]byte(checkpointJSON), state)
	if err != nil {
		q.Push(Event{Kind: EventError, Err: bridgeerrors.Wrap(bridgeerrors.DecodeFailed, "bad checkpoint payload", err)})
		return
	}

	s.mu.Lock()
	wasResumed := s.resumed
	s.resumed = false
	s.mu.Unlock()

	if !wasResumed {
		for _, d := range deltas {
			q.Push(Event{Kind: EventTextDelta, TextDelta: d})
		}
	}

	switch {
	case isToolApproval(Status(status)):
		s.mu.Lock()
		s.pendingApproval = true
		s.mu.Unlock()
	case isTerminal(Status(status)) || isTurnBoundary(Status(status)):
		q.Close()
		s.closeConnection()
	}
}

func (s *Session) handleHTTPPassthrough(ctx context.Context, requestID string, params actionmap.HTTPRequestParams, sock Socket) {
	passthrough := s.httpPassthrough
	if passthrough == nil {
		sock.Send(map[string]any{"actionResponse": map[string]any{
			"requestID": requestID,
			"httpResponse": map[string]any{
				"statusCode": 0, "headers": map[string]string{}, "body": "",
				"error": "http passthrough not configured",
			},
		}})
		return
	}

	status, headers, body, err := passthrough(ctx, params.Method, params.Path, params.Body)
	resp := map[string]any{}
	if err != nil {
		resp["statusCode"] = 0
		resp["headers"] = map[string]string{}
		resp["body"] = ""
		resp["error"] = err.Error()
	} else {
		resp["statusCode"] = status
		resp["headers"] = headers
		resp["body"] = body
		resp["error"] = ""
	}
	sock.Send(map[string]any{"actionResponse": map[string]any{"requestID": requestID, "httpResponse": resp}})
}

// SetHTTPPassthrough wires the authenticated api/v4 relay used for
// runHTTPRequest actions.
func (s *Session) SetHTTPPassthrough(fn HTTPPassthroughFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.httpPassthrough = fn
}

func (s *Session) handleSocketClose(ctx context.Context, info wsocket.CloseInfo, sock Socket, q *queue.Queue[Event]) {
	s.mu.Lock()
	pending := s.pendingApproval
	s.pendingApproval = false
	current := s.sock == sock
	s.mu.Unlock()

	if pending {
		bridgelog.Info(ctx, "socket closed pending tool approval, reconnecting", "code", info.Code)
		if err := s.reconnectWithApproval(ctx, q); err != nil {
			bridgelog.Warn(ctx, "approval reconnect failed", "error", err)
			q.Close()
		}
		return
	}

	if current {
		s.mu.Lock()
		s.sock = nil
		s.queue = nil
		s.mu.Unlock()
	}
	q.Close()
}

func (s *Session) reconnectWithApproval(ctx context.Context, q *queue.Queue[Event]) error {
	if err := s.dialInto(ctx, q); err != nil {
		return err
	}

	s.mu.Lock()
	sock := s.sock
	workflowID := s.workflowID
	s.mu.Unlock()

	startRequest := map[string]any{
		"workflowID":        workflowID,
		"clientVersion":      s.cfg.ClientVersion,
		"workflowDefinition": s.cfg.WorkflowDefinition,
		"goal":               "",
		"workflowMetadata":   `{"extended_logging":false}`,
		"clientCapabilities": []string{"shell_command"},
		"mcpTools":           s.mcpToolsPayload(),
		"preapproved_tools":  s.mcpToolNames(),
		"additional_context": []any{},
		"approval":           map[string]any{"approval": map[string]any{}},
	}
	sock.Send(map[string]any{"startRequest": startRequest})
	return nil
}

func (s *Session) dialInto(ctx context.Context, q *queue.Queue[Event]) error {
	header := http.Header{}
	if s.tokens != nil {
		if tok, err := s.tokens.Get(ctx, s.cfg.RootNamespaceID); err == nil && tok != nil {
			header.Set("Authorization", "Bearer "+tok.Value)
		}
	}

	s.mu.Lock()
	workflowID := s.workflowID
	s.mu.Unlock()

	sock := s.newSocket(fmt.Sprintf("%s/%s", s.cfg.SocketURL, workflowID), header)
	if err := sock.Connect(ctx); err != nil {
		return bridgeerrors.Wrap(bridgeerrors.ConnectFailed, "approval reconnect dial failed", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.sock = sock
	s.stopRun = cancel
	s.mu.Unlock()

	go s.runLoop(runCtx, sock, q)
	return nil
}

func (s *Session) closeConnection() {
	s.mu.Lock()
	sock := s.sock
	q := s.queue
	cancel := s.stopRun
	s.sock = nil
	s.queue = nil
	s.startRequestSent = false
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if sock != nil {
		sock.Close()
	}
	if q != nil {
		q.Close()
	}
}
