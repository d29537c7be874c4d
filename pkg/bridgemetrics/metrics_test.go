package bridgemetrics_test

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duo-workflow-bridge/bridge/pkg/bridgemetrics"
)

func scrape(t *testing.T, m *bridgemetrics.Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	m.Handler().ServeHTTP(rec, req)
	require.Equal(t, 200, rec.Code)
	return rec.Body.String()
}

func TestSetActiveSessionsAppearsInScrape(t *testing.T) {
	m, err := bridgemetrics.New()
	require.NoError(t, err)
	m.SetActiveSessions(context.Background(), 3)
	body := scrape(t, m)
	assert.Contains(t, body, "duo_workflow_bridge_active_sessions 3")
}

func TestQueueDepthLabeledPerSession(t *testing.T) {
	m, err := bridgemetrics.New()
	require.NoError(t, err)
	m.SetQueueDepth(context.Background(), "sess-a", 5)
	m.SetQueueDepth(context.Background(), "sess-b", 2)
	body := scrape(t, m)
	assert.Contains(t, body, `host_session_id="sess-a"`)
	assert.Contains(t, body, `host_session_id="sess-b"`)
}

func TestIncSessionsCreatedAndToolCalls(t *testing.T) {
	m, err := bridgemetrics.New()
	require.NoError(t, err)
	ctx := context.Background()
	m.IncSessionsCreated(ctx)
	m.IncSessionsCreated(ctx)
	m.IncToolCall(ctx, "read_file")
	body := scrape(t, m)
	assert.Contains(t, body, "duo_workflow_bridge_sessions_created_total 2")
	assert.Contains(t, body, `tool_name="read_file"`)
}
