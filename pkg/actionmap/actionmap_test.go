package actionmap_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duo-workflow-bridge/bridge/pkg/actionmap"
	"github.com/duo-workflow-bridge/bridge/pkg/toolmap"
)

func TestFromActionNoRequestIDDropsSilently(t *testing.T) {
	_, ok := actionmap.FromAction(actionmap.Action{
		RunReadFile: &actionmap.ReadFileParams{FilePath: "a.txt"},
	})
	assert.False(t, ok)
}

func TestFromActionUnrecognizedPayloadDrops(t *testing.T) {
	_, ok := actionmap.FromAction(actionmap.Action{RequestID: "r1"})
	assert.False(t, ok)
}

func TestFromActionReadFile(t *testing.T) {
	req, ok := actionmap.FromAction(actionmap.Action{
		RequestID:   "r1",
		RunReadFile: &actionmap.ReadFileParams{FilePath: "a.txt"},
	})
	require.True(t, ok)
	assert.Equal(t, "r1", req.RequestID)
	assert.Equal(t, "read_file", req.ToolName)
	assert.Equal(t, "a.txt", req.Args["file_path"])
}

// For the round-trippable shapes: mapping
// the action mapper's output through the tool-name mapper yields the
// equivalent Host call the tool-name mapper would build directly from
// the Service-native payload.
func TestActionMapperRoundTripsIntoToolNameMapper(t *testing.T) {
	req, ok := actionmap.FromAction(actionmap.Action{
		RequestID:    "r2",
		RunReadFiles: &actionmap.ReadFilesParams{FilePaths: []string{"a.txt", "b.txt"}},
	})
	require.True(t, ok)

	calls := toolmap.Map(req.ToolName, req.Args)
	require.Len(t, calls, 2)
	assert.Equal(t, "a.txt", calls[0].Args["filePath"])
	assert.Equal(t, "b.txt", calls[1].Args["filePath"])
}

func TestFromActionMCPToolDecodesArgs(t *testing.T) {
	req, ok := actionmap.FromAction(actionmap.Action{
		RequestID:  "r3",
		RunMCPTool: &actionmap.MCPToolParams{Name: "custom_tool", Args: []byte(`{"x":1}`)},
	})
	require.True(t, ok)
	assert.Equal(t, "custom_tool", req.ToolName)
	assert.Equal(t, float64(1), req.Args["x"])
}
