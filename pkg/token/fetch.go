package token

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/duo-workflow-bridge/bridge/internal/httpclient"
)

// CredentialProvider resolves the long-lived credential used to call
// direct_access. How that credential is obtained (OAuth flow, PAT,
// keychain, Host-relayed session) is outside the core's concern; the
// bridge is handed a provider and calls it on every fetch.
type CredentialProvider func(ctx context.Context) (string, error)

type directAccessRequest struct {
	WorkflowDefinition string `json:"workflow_definition"`
	RootNamespaceID    string `json:"root_namespace_id,omitempty"`
}

type directAccessResponse struct {
	DuoWorkflowService struct {
		Token          string `json:"token"`
		TokenExpiresAt *int64 `json:"token_expires_at"`
	} `json:"duo_workflow_service"`
	GitlabRails struct {
		TokenExpiresAt *string `json:"token_expires_at"`
	} `json:"gitlab_rails"`
}

// NewHTTPFetch builds a FetchFunc that POSTs ai/duo_workflows/direct_access
// against instanceURL, authenticating with whatever credential credentials
// currently resolves to.
func NewHTTPFetch(client *httpclient.Client, instanceURL string, credentials CredentialProvider) FetchFunc {
	return func(ctx context.Context, workflowDefinition, rootNamespaceID string) (*DirectAccessResponse, error) {
		cred, err := credentials(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolve credential: %w", err)
		}

		body, err := json.Marshal(directAccessRequest{
			WorkflowDefinition: workflowDefinition,
			RootNamespaceID:    rootNamespaceID,
		})
		if err != nil {
			return nil, fmt.Errorf("encode direct_access request: %w", err)
		}

		url := instanceURL + "/ai/duo_workflows/direct_access"
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("build direct_access request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+cred)

		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("direct_access request failed: %w", err)
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read direct_access response: %w", err)
		}
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("direct_access returned %d: %s", resp.StatusCode, raw)
		}

		var decoded directAccessResponse
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return nil, fmt.Errorf("decode direct_access response: %w", err)
		}

		return &DirectAccessResponse{
			Token:                     decoded.DuoWorkflowService.Token,
			WorkflowServiceExpiresAt:  decoded.DuoWorkflowService.TokenExpiresAt,
			GitlabRailsTokenExpiresAt: decoded.GitlabRails.TokenExpiresAt,
		}, nil
	}
}
