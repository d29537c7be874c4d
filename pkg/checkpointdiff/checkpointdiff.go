// Package checkpointdiff extracts incremental agent text deltas from
// successive, monotonically-growing checkpoint snapshots, and (for
// completeness — the call site is intentionally left disabled, see
// DESIGN.md) walks a checkpoint for unprocessed tool-request entries.
package checkpointdiff

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
)

// Message types a ui_chat_log entry may carry. Entries of any other type
// are dropped during parsing.
const (
	TypeUser    = "user"
	TypeAgent   = "agent"
	TypeTool    = "tool"
	TypeRequest = "request"
)

var validTypes = map[string]bool{TypeUser: true, TypeAgent: true, TypeTool: true, TypeRequest: true}

// ToolInfo describes the tool a "request"-typed entry is asking for.
type ToolInfo struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// LogEntry is one ui_chat_log element.
type LogEntry struct {
	MessageType   string    `json:"message_type"`
	Content       string    `json:"content"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	ToolInfo      *ToolInfo `json:"tool_info,omitempty"`
}

type checkpointDoc struct {
	ChannelValues struct {
		UIChatLog []LogEntry `json:"ui_chat_log"`
	} `json:"channel_values"`
}

// State is the differ's running state: the last-observed log, plus the
// set of request-entry indices already materialized into tool requests.
type State struct {
	Log                     []LogEntry
	ProcessedRequestIndices map[int]bool
}

// NewState returns an empty differ state.
func NewState() *State {
	return &State{ProcessedRequestIndices: make(map[int]bool)}
}

func parseLog(raw []byte) ([]LogEntry, error) {
	var doc checkpointDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	out := make([]LogEntry, 0, len(doc.ChannelValues.UIChatLog))
	for _, e := range doc.ChannelValues.UIChatLog {
		if validTypes[e.MessageType] {
			out = append(out, e)
		}
	}
	return out, nil
}

// ExtractAgentTextDeltas diffs raw (a checkpoint JSON document) against
// state and returns the incremental text each agent-typed entry gained
// since the last call. state.Log is then overwritten with the new log.
func ExtractAgentTextDeltas(raw []byte, state *State) ([]string, error) {
	newLog, err := parseLog(raw)
	if err != nil {
		return nil, err
	}

	var deltas []string
	for i, entry := range newLog {
		if entry.MessageType != TypeAgent {
			continue
		}
		if i >= len(state.Log) || state.Log[i].MessageType != TypeAgent {
			if entry.Content != "" {
				deltas = append(deltas, entry.Content)
			}
			continue
		}
		prev := state.Log[i].Content
		switch {
		case entry.Content == prev:
			// nothing new
		case strings.HasPrefix(entry.Content, prev):
			deltas = append(deltas, entry.Content[len(prev):])
		default:
			deltas = append(deltas, entry.Content)
		}
	}

	state.Log = newLog
	return deltas, nil
}

// ToolRequest is a tool invocation materialized from a "request"-typed
// log entry.
type ToolRequest struct {
	RequestID string
	ToolName  string
	Args      map[string]any
}

// ExtractToolRequests walks raw's log and yields one ToolRequest per
// request-typed entry carrying tool_info whose index has not already
// been processed. This mirrors the Service's in-checkpoint request
// channel; the session does not currently call this (see DESIGN.md —
// preserved as an open extension point; call site intentionally
// disabled in favor of standalone tool actions).
func ExtractToolRequests(raw []byte, state *State) ([]ToolRequest, error) {
	newLog, err := parseLog(raw)
	if err != nil {
		return nil, err
	}

	var reqs []ToolRequest
	for i, entry := range newLog {
		if entry.MessageType != TypeRequest || entry.ToolInfo == nil {
			continue
		}
		if state.ProcessedRequestIndices[i] {
			continue
		}
		reqID := entry.CorrelationID
		if reqID == "" {
			reqID = uuid.NewString()
		}
		reqs = append(reqs, ToolRequest{
			RequestID: reqID,
			ToolName:  entry.ToolInfo.Name,
			Args:      entry.ToolInfo.Args,
		})
		state.ProcessedRequestIndices[i] = true
	}
	return reqs, nil
}
