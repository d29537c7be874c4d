package workflowsession

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/duo-workflow-bridge/bridge/internal/httpclient"
	"github.com/duo-workflow-bridge/bridge/pkg/bridgeerrors"
	"github.com/duo-workflow-bridge/bridge/pkg/token"
)

// WorkflowCreateRequest is the body for the Service's workflow-creation
// endpoint.
type WorkflowCreateRequest struct {
	Goal                    string
	WorkflowDefinition      string
	Environment             string
	AllowAgentToRequestUser bool
	ProjectID               *int
}

// WorkflowCreator creates a new Service-side workflow and returns its ID.
type WorkflowCreator func(ctx context.Context, req WorkflowCreateRequest) (string, error)

// HTTPPassthroughFunc performs one authenticated api/v4 call on the
// Host's behalf and returns the raw response for relay back to the
// Service.
type HTTPPassthroughFunc func(ctx context.Context, method, path, body string) (status int, headers map[string]string, respBody string, err error)

type workflowCreateResponse struct {
	ID      any    `json:"id"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

// NewRESTWorkflowCreator builds a WorkflowCreator backed by instanceURL's
// ai/duo_workflows/workflows endpoint, authenticated via tokens.
func NewRESTWorkflowCreator(client *httpclient.Client, instanceURL string, tokens *token.Service) WorkflowCreator {
	return func(ctx context.Context, req WorkflowCreateRequest) (string, error) {
		body := map[string]any{
			"start_workflow":             true,
			"goal":                       req.Goal,
			"workflow_definition":        req.WorkflowDefinition,
			"environment":                req.Environment,
			"allow_agent_to_request_user": req.AllowAgentToRequestUser,
		}
		if req.ProjectID != nil {
			body["project_id"] = *req.ProjectID
		}
		payload, err := json.Marshal(body)
		if err != nil {
			return "", bridgeerrors.Wrap(bridgeerrors.WorkflowCreateFailed, "encode request", err)
		}

		url := strings.TrimRight(instanceURL, "/") + "/ai/duo_workflows/workflows"
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return "", bridgeerrors.Wrap(bridgeerrors.WorkflowCreateFailed, "build request", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		attachToken(ctx, httpReq, tokens, "")

		resp, err := client.Do(httpReq)
		if err != nil {
			return "", bridgeerrors.Wrap(bridgeerrors.WorkflowCreateFailed, "request failed", err)
		}
		defer resp.Body.Close()

		respBody, _ := io.ReadAll(resp.Body)
		if resp.StatusCode >= 300 {
			return "", bridgeerrors.New(bridgeerrors.WorkflowCreateFailed,
				fmt.Sprintf("status %d: %s", resp.StatusCode, string(respBody)))
		}

		var decoded workflowCreateResponse
		if err := json.Unmarshal(respBody, &decoded); err != nil {
			return "", bridgeerrors.Wrap(bridgeerrors.WorkflowCreateFailed, "decode response", err)
		}
		if decoded.Error != "" {
			return "", bridgeerrors.New(bridgeerrors.WorkflowCreateFailed, decoded.Error)
		}
		if n, ok := decoded.ID.(float64); ok {
			return strconv.FormatFloat(n, 'f', -1, 64), nil
		}
		return fmt.Sprint(decoded.ID), nil
	}
}

// NewRESTHTTPPassthrough builds an HTTPPassthroughFunc that relays onto
// instanceURL/api/v4/<path>, authenticated via tokens.
func NewRESTHTTPPassthrough(client *httpclient.Client, instanceURL string, tokens *token.Service) HTTPPassthroughFunc {
	return func(ctx context.Context, method, path, body string) (int, map[string]string, string, error) {
		url := strings.TrimRight(instanceURL, "/") + "/api/v4/" + strings.TrimLeft(path, "/")
		var reader io.Reader
		if body != "" {
			reader = strings.NewReader(body)
		}
		httpReq, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return 0, nil, "", bridgeerrors.Wrap(bridgeerrors.HTTPPassthroughFailed, "build request", err)
		}
		if body != "" {
			httpReq.Header.Set("Content-Type", "application/json")
		}
		attachToken(ctx, httpReq, tokens, "")

		resp, err := client.Do(httpReq)
		if err != nil {
			return 0, nil, "", bridgeerrors.Wrap(bridgeerrors.HTTPPassthroughFailed, "request failed", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return 0, nil, "", bridgeerrors.Wrap(bridgeerrors.HTTPPassthroughFailed, "read response", err)
		}

		headers := make(map[string]string, len(resp.Header))
		for k := range resp.Header {
			headers[k] = resp.Header.Get(k)
		}
		return resp.StatusCode, headers, string(respBody), nil
	}
}

func attachToken(ctx context.Context, req *http.Request, tokens *token.Service, namespaceID string) {
	if tokens == nil {
		return
	}
	tok, err := tokens.Get(ctx, namespaceID)
	if err != nil || tok == nil {
		return
	}
	req.Header.Set("Authorization", "Bearer "+tok.Value)
}
