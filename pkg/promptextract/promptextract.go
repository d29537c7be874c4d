// Package promptextract pulls the goal, system prompt, tool results, and
// agent reminders out of the Host's structured prompt messages.
package promptextract

import (
	"regexp"
	"strings"
)

// Role constants for Message.Role.
const (
	RoleSystem = "system"
	RoleUser   = "user"
)

// TextPart is a plain-text message part. Synthetic marks a part injected
// by the Host rather than typed by the user (e.g. a reminder block).
type TextPart struct {
	Text      string
	Synthetic bool
}

// ToolOutput normalizes the two tool-result output shapes the Host may
// send: the current {type, value} form, and the legacy "result" field.
type ToolOutput struct {
	Type  string // text | json | error-text | error-json | content
	Value any
}

// ToolResultPart is a tool-result or tool-error message part.
type ToolResultPart struct {
	ID     string
	Output *ToolOutput
	Result string // legacy fallback when Output is nil
}

// Message is one entry of the Host's structured prompt.
type Message struct {
	Role      string
	TextParts []TextPart
	ToolParts []ToolResultPart
}

// ExtractedToolResult is the normalized result of a tool-result part:
// exactly one of Output/Error is meaningful.
type ExtractedToolResult struct {
	ID     string
	Output string
	Error  string
}

var (
	reWrappedUser = regexp.MustCompile(`(?s)<system-reminder>The user sent the following message:\n(.*?)\nPlease address this message and continue with your tasks\.</system-reminder>`)
	reReminder    = regexp.MustCompile(`(?s)<system-reminder>(.*?)</system-reminder>`)
)

// ExtractGoal returns the text content of the last user message, with
// <system-reminder> blocks stripped except for the wrapped-user form,
// whose inner text is preserved in place.
func ExtractGoal(messages []Message) string {
	msg, ok := lastUserMessage(messages)
	if !ok {
		return ""
	}
	text := joinText(msg.TextParts)
	text = reWrappedUser.ReplaceAllString(text, "$1")
	text = reReminder.ReplaceAllString(text, "")
	return text
}

func lastUserMessage(messages []Message) (Message, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			return messages[i], true
		}
	}
	return Message{}, false
}

func joinText(parts []TextPart) string {
	var sb strings.Builder
	for _, p := range parts {
		sb.WriteString(p.Text)
	}
	return sb.String()
}

// ExtractToolResults normalizes every tool-result/tool-error part across
// all messages into a flat list.
func ExtractToolResults(messages []Message) []ExtractedToolResult {
	var out []ExtractedToolResult
	for _, m := range messages {
		for _, tp := range m.ToolParts {
			out = append(out, normalizeToolResult(tp))
		}
	}
	return out
}

func normalizeToolResult(tp ToolResultPart) ExtractedToolResult {
	r := ExtractedToolResult{ID: tp.ID}
	if tp.Output == nil {
		r.Output = tp.Result
		return r
	}

	switch tp.Output.Type {
	case "text":
		if s, ok := tp.Output.Value.(string); ok {
			r.Output = s
		}
	case "json":
		r.Output = jsonString(tp.Output.Value)
	case "error-text":
		if s, ok := tp.Output.Value.(string); ok {
			r.Error = s
		}
	case "error-json":
		r.Error = jsonString(tp.Output.Value)
	case "content":
		if parts, ok := tp.Output.Value.([]TextPart); ok {
			lines := make([]string, 0, len(parts))
			for _, p := range parts {
				lines = append(lines, p.Text)
			}
			r.Output = strings.Join(lines, "\n")
		}
	}
	return r
}

func jsonString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// ExtractSystemPrompt concatenates the text content of every role=system
// message with "\n".
func ExtractSystemPrompt(messages []Message) string {
	var parts []string
	for _, m := range messages {
		if m.Role == RoleSystem {
			parts = append(parts, joinText(m.TextParts))
		}
	}
	return strings.Join(parts, "\n")
}

// hostIdentityRE matches the Host product name (case-insensitive); each
// match is rewritten to the Service's product name.
var hostIdentityRE = regexp.MustCompile(`(?i)opencode`)
var urlRE = regexp.MustCompile(`https?://\S+`)
var tripleBlankRE = regexp.MustCompile(`\n{3,}`)

// ServiceProductName is substituted wherever the Host's identity is
// mentioned in a system prompt forwarded to the Service.
const ServiceProductName = "GitLab Duo"

// SanitizeSystemPrompt rewrites the Host product name to the Service
// product name, removes http(s) URLs, and collapses triple-or-more blank
// lines to double. No other Host-identity phrases are removed.
func SanitizeSystemPrompt(s string) string {
	s = hostIdentityRE.ReplaceAllString(s, ServiceProductName)
	s = urlRE.ReplaceAllString(s, "")
	s = tripleBlankRE.ReplaceAllString(s, "\n\n")
	return s
}

// ExtractAgentReminders extracts reminder text from the last user
// message: synthetic text parts are treated as complete reminders
// verbatim (trimmed); otherwise every <system-reminder> match's inner
// text is extracted.
func ExtractAgentReminders(messages []Message) []string {
	msg, ok := lastUserMessage(messages)
	if !ok {
		return nil
	}

	var reminders []string
	for _, p := range msg.TextParts {
		if p.Synthetic {
			if t := strings.TrimSpace(p.Text); t != "" {
				reminders = append(reminders, t)
			}
			continue
		}
		for _, m := range reReminder.FindAllStringSubmatch(p.Text, -1) {
			reminders = append(reminders, strings.TrimSpace(m[1]))
		}
	}
	return reminders
}
