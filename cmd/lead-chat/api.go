// ABOUTME: HTTP client for the contact prompt, exchanges and reset endpoints
// ABOUTME: Decodes JSON error bodies into readable errors

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

type promptResponse struct {
	Response      string `json:"response"`
	ThreadID      string `json:"thread_id"`
	Qualification struct {
		Budget    bool `json:"budget_confirmed"`
		Authority bool `json:"authority_confirmed"`
		Need      bool `json:"need_confirmed"`
		Timeline  bool `json:"timeline_confirmed"`
		Score     int  `json:"score"`
	} `json:"qualification"`
	MeetingReady bool `json:"meeting_ready"`
	Fallback     bool `json:"fallback"`
}

type exchange struct {
	Input     string `json:"input"`
	Response  string `json:"response"`
	CreatedAt string `json:"created_at"`
}

type exchangesResponse struct {
	ContactID string     `json:"contact_id"`
	Exchanges []exchange `json:"exchanges"`
}

type apiClient struct {
	server string
	token  string
	http   *http.Client
}

func newAPIClient(server, token string) *apiClient {
	return &apiClient{
		server: strings.TrimSuffix(server, "/"),
		token:  token,
		http:   http.DefaultClient,
	}
}

func (c *apiClient) prompt(ctx context.Context, contactID, message string) (*promptResponse, error) {
	var resp promptResponse
	body := map[string]string{"message": message}
	if err := c.do(ctx, http.MethodPost, contactID, "prompt", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *apiClient) history(ctx context.Context, contactID string, limit int) (*exchangesResponse, error) {
	var resp exchangesResponse
	action := fmt.Sprintf("exchanges?limit=%d", limit)
	if err := c.do(ctx, http.MethodGet, contactID, action, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *apiClient) reset(ctx context.Context, contactID string) error {
	return c.do(ctx, http.MethodPost, contactID, "reset", nil, nil)
}

func (c *apiClient) do(ctx context.Context, method, contactID, action string, in, out any) error {
	var body io.Reader = http.NoBody
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	endpoint := fmt.Sprintf("%s/api/contacts/%s/%s", c.server, url.PathEscape(contactID), action)
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp map[string]string
		if json.NewDecoder(resp.Body).Decode(&errResp) == nil && errResp["error"] != "" {
			return errors.New(errResp["error"])
		}
		return fmt.Errorf("server returned status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}
