// ABOUTME: HTTP client for the lead-gateway contact API
// ABOUTME: Sends room messages as prompt turns and requests conversation resets

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// PromptRequest is the request body for POST /api/contacts/{id}/prompt.
type PromptRequest struct {
	Message string `json:"message"`
}

// PromptResponse is the subset of the prompt reply the bridge uses.
type PromptResponse struct {
	Response     string `json:"response"`
	ThreadID     string `json:"thread_id"`
	MeetingReady bool   `json:"meeting_ready"`
	Fallback     bool   `json:"fallback"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// GatewayClient communicates with the lead-gateway HTTP API.
type GatewayClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewGatewayClient creates a new gateway client. timeout bounds each request,
// including the assistant run behind a prompt.
func NewGatewayClient(baseURL, token string, timeout time.Duration) *GatewayClient {
	return &GatewayClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

// Prompt runs one conversation turn for contactID.
func (g *GatewayClient) Prompt(ctx context.Context, contactID, message string) (*PromptResponse, error) {
	var resp PromptResponse
	if err := g.post(ctx, contactID, "prompt", PromptRequest{Message: message}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Reset discards the contact's thread and qualification.
func (g *GatewayClient) Reset(ctx context.Context, contactID string) error {
	return g.post(ctx, contactID, "reset", nil, nil)
}

func (g *GatewayClient) post(ctx context.Context, contactID, action string, in, out any) error {
	var body io.Reader = http.NoBody
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	endpoint := fmt.Sprintf("%s/api/contacts/%s/%s", g.baseURL, url.PathEscape(contactID), action)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.token)

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return handleErrorResponse(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// handleErrorResponse extracts the error message from non-200 responses.
func handleErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		var errResp errorResponse
		if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
			return fmt.Errorf("gateway error (%d): %s", resp.StatusCode, errResp.Error)
		}
	}

	return fmt.Errorf("gateway returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}
