// Package toolmap implements the pure translation from a Service tool
// name and arguments to one or more Host-native tool calls, including
// bridge-tool JSON payload parsing and POSIX shell quoting.
package toolmap

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// HostToolCall is a single Host-native tool invocation.
type HostToolCall struct {
	Name string
	Args map[string]any
}

// Bridge program sentinel names, routed from run_command to dedicated
// Host tools rather than through a shell.
const (
	bridgeTodoRead  = "__todo_read__"
	bridgeTodoWrite = "__todo_write__"
	bridgeWebFetch  = "__webfetch__"
	bridgeQuestion  = "__question__"
	bridgeSkill     = "__skill__"
)

var bridgeHostTool = map[string]string{
	bridgeTodoRead:  "todoread",
	bridgeTodoWrite: "todowrite",
	bridgeWebFetch:  "webfetch",
	bridgeQuestion:  "question",
	bridgeSkill:     "skill",
}

// Map translates a single Service tool invocation into one or more
// Host-native tool calls. It never returns an error: validation failures
// on bridge-tool payloads are surfaced as an "invalid" tool call per the
// invalid-tool signalling convention, not as a Go error.
func Map(serviceToolName string, args map[string]any) []HostToolCall {
	switch serviceToolName {
	case "list_dir":
		dir := stringArg(args, "directory")
		if dir == "" {
			dir = "."
		}
		return []HostToolCall{{Name: "read", Args: map[string]any{"filePath": dir}}}

	case "read_file":
		path := firstString(args, "file_path", "filepath", "filePath", "path")
		if path == "" {
			return passthrough(serviceToolName, args)
		}
		out := map[string]any{"filePath": path}
		if v, ok := args["offset"]; ok {
			out["offset"] = v
		}
		if v, ok := args["limit"]; ok {
			out["limit"] = v
		}
		return []HostToolCall{{Name: "read", Args: out}}

	case "read_files":
		paths := stringSliceArg(args, "file_paths")
		if len(paths) == 0 {
			return passthrough(serviceToolName, args)
		}
		calls := make([]HostToolCall, 0, len(paths))
		for _, p := range paths {
			calls = append(calls, HostToolCall{Name: "read", Args: map[string]any{"filePath": p}})
		}
		return calls

	case "create_file_with_contents":
		return []HostToolCall{{Name: "write", Args: map[string]any{
			"filePath": stringArg(args, "file_path"),
			"content":  stringArg(args, "contents"),
		}}}

	case "edit_file":
		return []HostToolCall{{Name: "edit", Args: map[string]any{
			"filePath":  stringArg(args, "file_path"),
			"oldString": stringArg(args, "old_str"),
			"newString": stringArg(args, "new_str"),
		}}}

	case "find_files":
		return []HostToolCall{{Name: "glob", Args: map[string]any{
			"pattern": stringArg(args, "name_pattern"),
		}}}

	case "grep":
		pattern := stringArg(args, "pattern")
		if caseInsensitiveArg(args) && !strings.HasPrefix(pattern, "(?i)") {
			pattern = "(?i)" + pattern
		}
		out := map[string]any{"pattern": pattern}
		if dir := stringArg(args, "search_directory"); dir != "" {
			out["path"] = dir
		}
		return []HostToolCall{{Name: "grep", Args: out}}

	case "mkdir":
		dir := stringArg(args, "directory_path")
		return []HostToolCall{{Name: "bash", Args: map[string]any{
			"command": "mkdir -p " + ShellQuote(dir),
		}}}

	case "shell_command":
		return []HostToolCall{{Name: "bash", Args: map[string]any{
			"command": stringArg(args, "command"),
		}}}

	case "run_command":
		return mapRunCommand(args)

	case "run_git_command":
		tokens := []string{"git", stringArg(args, "command")}
		tokens = append(tokens, stringSliceArg(args, "args")...)
		return []HostToolCall{{Name: "bash", Args: map[string]any{
			"command": shellJoin(tokens),
		}}}

	case "gitlab_api_request":
		return []HostToolCall{{Name: "bash", Args: map[string]any{
			"command": buildGitlabAPICommand(args),
		}}}

	default:
		return passthrough(serviceToolName, args)
	}
}

func passthrough(name string, args map[string]any) []HostToolCall {
	return []HostToolCall{{Name: name, Args: args}}
}

// mapRunCommand builds a shell command from program/flags/arguments, or
// a literal command string, and dispatches bridge programs first.
func mapRunCommand(args map[string]any) []HostToolCall {
	program := stringArg(args, "program")
	if program == "" {
		// A bridge program may also arrive embedded in the command string
		// as "<program> <json>".
		if first, _, _ := strings.Cut(stringArg(args, "command"), " "); bridgeHostTool[first] != "" {
			program = first
		}
	}
	if hostTool, ok := bridgeHostTool[program]; ok {
		return []HostToolCall{mapBridgeTool(program, hostTool, args)}
	}

	if cmd := stringArg(args, "command"); cmd != "" && program == "" {
		return []HostToolCall{{Name: "bash", Args: map[string]any{"command": cmd}}}
	}

	tokens := []string{}
	if program != "" {
		tokens = append(tokens, program)
	}
	tokens = append(tokens, stringSliceArg(args, "flags")...)
	tokens = append(tokens, stringSliceArg(args, "arguments")...)
	return []HostToolCall{{Name: "bash", Args: map[string]any{"command": shellJoin(tokens)}}}
}

func buildGitlabAPICommand(args map[string]any) string {
	method := stringArg(args, "method")
	if method == "" {
		method = "GET"
	}
	tokens := []string{"curl", "-s", "-X", method,
		"-H", "Authorization: Bearer $TOKEN",
		"-H", "Content-Type: application/json",
	}
	if body := stringArg(args, "body"); body != "" {
		tokens = append(tokens, "-d", body)
	}
	tokens = append(tokens, stringArg(args, "path"))
	return shellJoin(tokens)
}

// mapBridgeTool recognizes either entry form (arguments[0] or an embedded
// "<program> <json>" shell command), unwraps one layer of quoting,
// parses the JSON object, validates it, and returns either the Host
// bridge tool call or a synthetic "invalid" call.
func mapBridgeTool(program, hostTool string, args map[string]any) HostToolCall {
	raw, ok := extractBridgePayload(program, args)
	if !ok {
		return invalidCall(hostTool, program+" payload is missing")
	}

	raw = unwrapOneQuoteLayer(raw)

	var decoded any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return invalidCall(hostTool, program+" payload is not valid JSON")
	}
	payload, ok := decoded.(map[string]any)
	if !ok {
		return invalidCall(hostTool, program+" payload must be a JSON object")
	}

	if err := validateBridgePayload(hostTool, payload); err != nil {
		return invalidCall(hostTool, err.Error())
	}
	return HostToolCall{Name: hostTool, Args: payload}
}

func invalidCall(tool, errMsg string) HostToolCall {
	return HostToolCall{Name: "invalid", Args: map[string]any{"tool": tool, "error": errMsg}}
}

func extractBridgePayload(program string, args map[string]any) (string, bool) {
	if arguments := stringSliceArg(args, "arguments"); len(arguments) > 0 {
		return arguments[0], true
	}
	if cmd := stringArg(args, "command"); cmd != "" {
		prefix := program + " "
		if strings.HasPrefix(cmd, prefix) {
			return strings.TrimPrefix(cmd, prefix), true
		}
	}
	return "", false
}

func unwrapOneQuoteLayer(s string) string {
	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if (first == '\'' && last == '\'') || (first == '"' && last == '"') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

func validateBridgePayload(hostTool string, payload map[string]any) error {
	switch hostTool {
	case "todoread":
		return nil
	case "todowrite":
		return validateTodoWrite(payload)
	case "webfetch":
		return validateWebFetch(payload)
	case "question":
		return validateQuestion(payload)
	case "skill":
		return validateSkill(payload)
	default:
		return fmt.Errorf("unknown bridge tool %q", hostTool)
	}
}

var statuses = map[string]bool{"pending": true, "in_progress": true, "completed": true, "cancelled": true}
var priorities = map[string]bool{"high": true, "medium": true, "low": true}

func validateTodoWrite(payload map[string]any) error {
	todos, ok := payload["todos"].([]any)
	if !ok {
		return fmt.Errorf("todowrite requires a \"todos\" array")
	}
	for i, item := range todos {
		m, ok := item.(map[string]any)
		if !ok {
			return fmt.Errorf("todowrite todos[%d] must be an object", i)
		}
		if _, ok := m["content"].(string); !ok {
			return fmt.Errorf("todowrite todos[%d].content must be a string", i)
		}
		status, _ := m["status"].(string)
		if !statuses[status] {
			return fmt.Errorf("todowrite todos[%d].status is invalid", i)
		}
		priority, _ := m["priority"].(string)
		if !priorities[priority] {
			return fmt.Errorf("todowrite todos[%d].priority is invalid", i)
		}
	}
	return nil
}

var webfetchFormats = map[string]bool{"text": true, "markdown": true, "html": true}

func validateWebFetch(payload map[string]any) error {
	url, ok := payload["url"].(string)
	if !ok || url == "" {
		return fmt.Errorf("webfetch requires a non-empty \"url\" string")
	}
	if format, present := payload["format"]; present {
		s, ok := format.(string)
		if !ok || !webfetchFormats[s] {
			return fmt.Errorf("webfetch.format is invalid")
		}
	}
	if timeout, present := payload["timeout"]; present {
		n, ok := timeout.(float64)
		if !ok || n <= 0 {
			return fmt.Errorf("webfetch.timeout must be a positive number")
		}
	}
	return nil
}

func validateQuestion(payload map[string]any) error {
	questions, ok := payload["questions"].([]any)
	if !ok || len(questions) == 0 {
		return fmt.Errorf("question requires a non-empty \"questions\" array")
	}
	for i, item := range questions {
		q, ok := item.(map[string]any)
		if !ok {
			return fmt.Errorf("question.questions[%d] must be an object", i)
		}
		if _, ok := q["question"].(string); !ok {
			return fmt.Errorf("question.questions[%d].question must be a string", i)
		}
		if _, ok := q["header"].(string); !ok {
			return fmt.Errorf("question.questions[%d].header must be a string", i)
		}
		options, ok := q["options"].([]any)
		if !ok || len(options) == 0 {
			return fmt.Errorf("question.questions[%d].options must be a non-empty array", i)
		}
		for j, opt := range options {
			o, ok := opt.(map[string]any)
			if !ok {
				return fmt.Errorf("question.questions[%d].options[%d] must be an object", i, j)
			}
			if _, ok := o["label"].(string); !ok {
				return fmt.Errorf("question.questions[%d].options[%d].label must be a string", i, j)
			}
			if _, ok := o["description"].(string); !ok {
				return fmt.Errorf("question.questions[%d].options[%d].description must be a string", i, j)
			}
		}
	}
	return nil
}

func validateSkill(payload map[string]any) error {
	name, ok := payload["name"].(string)
	if !ok || strings.TrimSpace(name) == "" {
		return fmt.Errorf("skill requires a non-empty \"name\" string")
	}
	return nil
}

// bareTokenRE matches tokens that never need quoting.
var bareTokenRE = regexp.MustCompile(`^[A-Za-z0-9_\-./=:@]+$`)

// ShellQuote quotes s for inclusion as a single shell word. Tokens
// matching the bare-token pattern are returned unchanged; everything
// else is wrapped in single quotes with embedded quotes escaped.
func ShellQuote(s string) string {
	if bareTokenRE.MatchString(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func shellJoin(tokens []string) string {
	quoted := make([]string, len(tokens))
	for i, t := range tokens {
		quoted[i] = ShellQuote(t)
	}
	return strings.Join(quoted, " ")
}

func stringArg(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func firstString(args map[string]any, keys ...string) string {
	for _, k := range keys {
		if v := stringArg(args, k); v != "" {
			return v
		}
	}
	return ""
}

func stringSliceArg(args map[string]any, key string) []string {
	raw, ok := args[key].([]any)
	if !ok {
		if strs, ok := args[key].([]string); ok {
			return strs
		}
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func caseInsensitiveArg(args map[string]any) bool {
	v, ok := args["case_insensitive"].(bool)
	return ok && v
}
