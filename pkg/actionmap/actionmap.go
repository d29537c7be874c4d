// Package actionmap translates a standalone Service protocol action —
// one of the tool payloads enumerated in spec §3 — into a normalized
// tool request carrying the Service's own tool-name vocabulary. The
// tool-name mapper (pkg/toolmap) subsequently rewrites that vocabulary
// into Host-native tool calls; action mapping and tool-name mapping are
// deliberately kept separate so the Model adapter, not the socket read
// loop, decides when Host tool calls are minted.
package actionmap

import "encoding/json"

// ToolRequest is the normalized triple the action mapper produces.
type ToolRequest struct {
	RequestID string
	ToolName  string
	Args      map[string]any
}

// ReadFileParams mirrors the runReadFile action payload.
type ReadFileParams struct {
	FilePath string `json:"filePath"`
	Offset   *int   `json:"offset,omitempty"`
	Limit    *int   `json:"limit,omitempty"`
}

// ReadFilesParams mirrors the runReadFiles action payload.
type ReadFilesParams struct {
	FilePaths []string `json:"filePaths"`
}

// WriteFileParams mirrors the runWriteFile action payload.
type WriteFileParams struct {
	FilePath string `json:"filePath"`
	Contents string `json:"contents"`
}

// EditFileParams mirrors the runEditFile action payload.
type EditFileParams struct {
	FilePath string `json:"filePath"`
	OldStr   string `json:"oldStr"`
	NewStr   string `json:"newStr"`
}

// ShellCommandParams mirrors the runShellCommand action payload.
type ShellCommandParams struct {
	Command string `json:"command"`
}

// RunCommandParams mirrors the runCommand action payload.
type RunCommandParams struct {
	Program   string   `json:"program,omitempty"`
	Flags     []string `json:"flags,omitempty"`
	Arguments []string `json:"arguments,omitempty"`
	Command   string   `json:"command,omitempty"`
}

// GitCommandParams mirrors the runGitCommand action payload.
type GitCommandParams struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
}

// HTTPRequestParams mirrors the runHTTPRequest action payload. The
// workflow session intercepts this action before it reaches the action
// mapper (it is handled locally, per spec §4.7); it is modeled here only
// so the full tagged union round-trips for testing.
type HTTPRequestParams struct {
	Method string `json:"method"`
	Path   string `json:"path"`
	Body   string `json:"body,omitempty"`
}

// ListDirectoryParams mirrors the listDirectory action payload.
type ListDirectoryParams struct {
	Directory string `json:"directory,omitempty"`
}

// GrepParams mirrors the grep action payload.
type GrepParams struct {
	Pattern         string `json:"pattern"`
	SearchDirectory string `json:"searchDirectory,omitempty"`
	CaseInsensitive bool   `json:"caseInsensitive,omitempty"`
}

// FindFilesParams mirrors the findFiles action payload.
type FindFilesParams struct {
	NamePattern string `json:"namePattern"`
}

// MCPToolParams mirrors the runMCPTool action payload; Args is a
// JSON-encoded object decoded lazily by FromAction.
type MCPToolParams struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// MkdirParams mirrors the mkdir action payload.
type MkdirParams struct {
	DirectoryPath string `json:"directoryPath"`
}

// Action is the tagged union of standalone Service tool actions. Exactly
// one payload field is expected to be non-nil.
type Action struct {
	RequestID       string               `json:"requestID"`
	RunReadFile     *ReadFileParams      `json:"runReadFile,omitempty"`
	RunReadFiles    *ReadFilesParams     `json:"runReadFiles,omitempty"`
	RunWriteFile    *WriteFileParams     `json:"runWriteFile,omitempty"`
	RunEditFile     *EditFileParams      `json:"runEditFile,omitempty"`
	RunShellCommand *ShellCommandParams  `json:"runShellCommand,omitempty"`
	RunCommand      *RunCommandParams    `json:"runCommand,omitempty"`
	RunGitCommand   *GitCommandParams    `json:"runGitCommand,omitempty"`
	RunHTTPRequest  *HTTPRequestParams   `json:"runHTTPRequest,omitempty"`
	ListDirectory   *ListDirectoryParams `json:"listDirectory,omitempty"`
	Grep            *GrepParams          `json:"grep,omitempty"`
	FindFiles       *FindFilesParams     `json:"findFiles,omitempty"`
	RunMCPTool      *MCPToolParams       `json:"runMCPTool,omitempty"`
	Mkdir           *MkdirParams         `json:"mkdir,omitempty"`
}

// FromAction translates a standalone Service action into a normalized
// tool request. It returns ok=false (no side effects) when the action
// carries no requestID, or when none of the payload fields are set.
func FromAction(a Action) (ToolRequest, bool) {
	if a.RequestID == "" {
		return ToolRequest{}, false
	}

	switch {
	case a.RunReadFile != nil:
		args := map[string]any{"file_path": a.RunReadFile.FilePath}
		if a.RunReadFile.Offset != nil {
			args["offset"] = *a.RunReadFile.Offset
		}
		if a.RunReadFile.Limit != nil {
			args["limit"] = *a.RunReadFile.Limit
		}
		return ToolRequest{RequestID: a.RequestID, ToolName: "read_file", Args: args}, true

	case a.RunReadFiles != nil:
		return ToolRequest{RequestID: a.RequestID, ToolName: "read_files", Args: map[string]any{
			"file_paths": toAnySlice(a.RunReadFiles.FilePaths),
		}}, true

	case a.RunWriteFile != nil:
		return ToolRequest{RequestID: a.RequestID, ToolName: "create_file_with_contents", Args: map[string]any{
			"file_path": a.RunWriteFile.FilePath,
			"contents":  a.RunWriteFile.Contents,
		}}, true

	case a.RunEditFile != nil:
		return ToolRequest{RequestID: a.RequestID, ToolName: "edit_file", Args: map[string]any{
			"file_path": a.RunEditFile.FilePath,
			"old_str":   a.RunEditFile.OldStr,
			"new_str":   a.RunEditFile.NewStr,
		}}, true

	case a.RunShellCommand != nil:
		return ToolRequest{RequestID: a.RequestID, ToolName: "shell_command", Args: map[string]any{
			"command": a.RunShellCommand.Command,
		}}, true

	case a.RunCommand != nil:
		return ToolRequest{RequestID: a.RequestID, ToolName: "run_command", Args: map[string]any{
			"program":   a.RunCommand.Program,
			"flags":     toAnySlice(a.RunCommand.Flags),
			"arguments": toAnySlice(a.RunCommand.Arguments),
			"command":   a.RunCommand.Command,
		}}, true

	case a.RunGitCommand != nil:
		return ToolRequest{RequestID: a.RequestID, ToolName: "run_git_command", Args: map[string]any{
			"command": a.RunGitCommand.Command,
			"args":    toAnySlice(a.RunGitCommand.Args),
		}}, true

	case a.ListDirectory != nil:
		return ToolRequest{RequestID: a.RequestID, ToolName: "list_dir", Args: map[string]any{
			"directory": a.ListDirectory.Directory,
		}}, true

	case a.Grep != nil:
		return ToolRequest{RequestID: a.RequestID, ToolName: "grep", Args: map[string]any{
			"pattern":          a.Grep.Pattern,
			"search_directory": a.Grep.SearchDirectory,
			"case_insensitive": a.Grep.CaseInsensitive,
		}}, true

	case a.FindFiles != nil:
		return ToolRequest{RequestID: a.RequestID, ToolName: "find_files", Args: map[string]any{
			"name_pattern": a.FindFiles.NamePattern,
		}}, true

	case a.RunMCPTool != nil:
		var decoded map[string]any
		if len(a.RunMCPTool.Args) > 0 {
			_ = json.Unmarshal(a.RunMCPTool.Args, &decoded)
		}
		return ToolRequest{RequestID: a.RequestID, ToolName: a.RunMCPTool.Name, Args: decoded}, true

	case a.Mkdir != nil:
		return ToolRequest{RequestID: a.RequestID, ToolName: "mkdir", Args: map[string]any{
			"directory_path": a.Mkdir.DirectoryPath,
		}}, true

	case a.RunHTTPRequest != nil:
		// Handled locally by the workflow session before reaching the
		// action mapper; included for completeness of the tagged union.
		return ToolRequest{RequestID: a.RequestID, ToolName: "gitlab_api_request", Args: map[string]any{
			"method": a.RunHTTPRequest.Method,
			"path":   a.RunHTTPRequest.Path,
			"body":   a.RunHTTPRequest.Body,
		}}, true

	default:
		return ToolRequest{}, false
	}
}

func toAnySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
