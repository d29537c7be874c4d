package checkpointdiff_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duo-workflow-bridge/bridge/pkg/checkpointdiff"
)

func checkpoint(content string) []byte {
	return []byte(fmt.Sprintf(`{"channel_values":{"ui_chat_log":[{"message_type":"agent","content":%q}]}}`, content))
}

// Incremental growth: a grown entry emits only its new suffix.
func TestExtractAgentTextDeltasIncrementalGrowth(t *testing.T) {
	state := checkpointdiff.NewState()

	d1, err := checkpointdiff.ExtractAgentTextDeltas(checkpoint("Hel"), state)
	require.NoError(t, err)
	assert.Equal(t, []string{"Hel"}, d1)

	d2, err := checkpointdiff.ExtractAgentTextDeltas(checkpoint("Hello."), state)
	require.NoError(t, err)
	assert.Equal(t, []string{"lo."}, d2)
}

func TestExtractAgentTextDeltasNoChangeEmitsNothing(t *testing.T) {
	state := checkpointdiff.NewState()
	_, err := checkpointdiff.ExtractAgentTextDeltas(checkpoint("same"), state)
	require.NoError(t, err)

	d2, err := checkpointdiff.ExtractAgentTextDeltas(checkpoint("same"), state)
	require.NoError(t, err)
	assert.Empty(t, d2)
}

func TestExtractAgentTextDeltasPrefixDivergenceRestarts(t *testing.T) {
	state := checkpointdiff.NewState()
	_, err := checkpointdiff.ExtractAgentTextDeltas(checkpoint("Hello"), state)
	require.NoError(t, err)

	d2, err := checkpointdiff.ExtractAgentTextDeltas(checkpoint("Goodbye"), state)
	require.NoError(t, err)
	assert.Equal(t, []string{"Goodbye"}, d2)
}

func TestExtractAgentTextDeltasEmptyContentEmitsNothing(t *testing.T) {
	state := checkpointdiff.NewState()
	d, err := checkpointdiff.ExtractAgentTextDeltas(checkpoint(""), state)
	require.NoError(t, err)
	assert.Empty(t, d)
}

// Concatenation of deltas for a monotonically-growing checkpoint
// prefix sequence equals the final content.
func TestInvariantConcatenationEqualsFinalContent(t *testing.T) {
	state := checkpointdiff.NewState()
	steps := []string{"T", "Th", "The", "The q", "The quick"}
	var got string
	for _, s := range steps {
		deltas, err := checkpointdiff.ExtractAgentTextDeltas(checkpoint(s), state)
		require.NoError(t, err)
		for _, d := range deltas {
			got += d
		}
	}
	assert.Equal(t, "The quick", got)
}

func TestExtractToolRequestsSkipsAlreadyProcessed(t *testing.T) {
	raw := []byte(`{"channel_values":{"ui_chat_log":[
		{"message_type":"request","content":"","correlation_id":"c1","tool_info":{"name":"read_file","args":{"file_path":"a.txt"}}}
	]}}`)
	state := checkpointdiff.NewState()

	reqs, err := checkpointdiff.ExtractToolRequests(raw, state)
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.Equal(t, "c1", reqs[0].RequestID)

	reqs2, err := checkpointdiff.ExtractToolRequests(raw, state)
	require.NoError(t, err)
	assert.Empty(t, reqs2)
}

func TestExtractToolRequestsGeneratesIDWhenCorrelationMissing(t *testing.T) {
	raw := []byte(`{"channel_values":{"ui_chat_log":[
		{"message_type":"request","content":"","tool_info":{"name":"grep","args":{}}}
	]}}`)
	state := checkpointdiff.NewState()
	reqs, err := checkpointdiff.ExtractToolRequests(raw, state)
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.NotEmpty(t, reqs[0].RequestID)
}
