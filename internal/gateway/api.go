// ABOUTME: HTTP API handlers for running turns and reading conversation history
// ABOUTME: Provides prompt, exchanges and reset endpoints under /api/contacts/{id}

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/salesgenio/lead-gateway/internal/auth"
	"github.com/salesgenio/lead-gateway/internal/qualify"
	"github.com/salesgenio/lead-gateway/internal/store"
	"github.com/salesgenio/lead-gateway/internal/tools"
)

// maxPromptBody bounds POST /api/contacts/{id}/prompt bodies.
const maxPromptBody = 64 << 10

// Exchange listing limits.
const (
	defaultExchangeLimit = 50
	maxExchangeLimit     = 500
)

// PromptRequest is the JSON request body for POST /api/contacts/{id}/prompt.
type PromptRequest struct {
	Message string `json:"message"`
}

// QualificationResponse reports the BANT state after a turn.
type QualificationResponse struct {
	qualify.State
	Score int `json:"score"`
}

// PromptResponse is the JSON response for POST /api/contacts/{id}/prompt.
type PromptResponse struct {
	Response      string                `json:"response"`
	ThreadID      string                `json:"thread_id,omitempty"`
	Qualification QualificationResponse `json:"qualification"`
	MeetingReady  bool                  `json:"meeting_ready"`
	Fallback      bool                  `json:"fallback,omitempty"`
}

// ExchangeResponse is one persisted input/response pair.
type ExchangeResponse struct {
	ID        string `json:"id"`
	ThreadID  string `json:"thread_id"`
	Input     string `json:"input"`
	Response  string `json:"response"`
	CreatedAt string `json:"created_at"`
}

// ExchangesResponse is the JSON response for GET /api/contacts/{id}/exchanges.
type ExchangesResponse struct {
	ContactID string             `json:"contact_id"`
	Exchanges []ExchangeResponse `json:"exchanges"`
}

// registerAPIRoutes registers the JWT-guarded API on mux.
func (g *Gateway) registerAPIRoutes(mux *http.ServeMux, authn func(http.Handler) http.Handler) {
	guard := func(scope string, h http.HandlerFunc) http.Handler {
		return authn(auth.RequireScope(scope)(h))
	}
	mux.Handle("POST /api/contacts/{id}/prompt", guard(auth.ScopePrompt, g.handlePrompt))
	mux.Handle("GET /api/contacts/{id}/exchanges", guard(auth.ScopeRead, g.handleExchanges))
	mux.Handle("POST /api/contacts/{id}/reset", guard(auth.ScopeAdmin, g.handleReset))
	g.logger.Info("HTTP API enabled with JWT auth")
}

// sendJSON writes v as a JSON response.
func (g *Gateway) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("failed to write response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.sendJSON(w, status, map[string]string{"error": message})
}

// contactFor loads the contact named by the {id} path value and checks the
// caller's organization. It writes the error response and returns nil on failure.
func (g *Gateway) contactFor(w http.ResponseWriter, r *http.Request) *store.Contact {
	contactID := r.PathValue("id")
	if contactID == "" {
		g.sendJSONError(w, http.StatusBadRequest, "contact id is required")
		return nil
	}

	contact, err := g.store.GetContact(r.Context(), contactID)
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "contact not found")
		return nil
	}
	if err != nil {
		g.logger.Error("failed to get contact", "contact_id", contactID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return nil
	}

	// Contacts of other organizations are reported as missing.
	if id := auth.FromContext(r.Context()); id == nil || !id.CanAccessOrganization(contact.OrganizationID) {
		g.sendJSONError(w, http.StatusNotFound, "contact not found")
		return nil
	}
	return contact
}

// parsePromptRequest decodes and validates a PromptRequest.
func parsePromptRequest(w http.ResponseWriter, r *http.Request) (*PromptRequest, string) {
	var req PromptRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPromptBody)).Decode(&req); err != nil {
		return nil, "invalid JSON body"
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		return nil, "message is required"
	}
	return &req, ""
}

// handlePrompt handles POST /api/contacts/{id}/prompt.
// It runs one turn and returns the reply with the contact's qualification.
func (g *Gateway) handlePrompt(w http.ResponseWriter, r *http.Request) {
	req, errMsg := parsePromptRequest(w, r)
	if errMsg != "" {
		g.sendJSONError(w, http.StatusBadRequest, errMsg)
		return
	}
	contact := g.contactFor(w, r)
	if contact == nil {
		return
	}

	org, err := g.store.GetOrganization(r.Context(), contact.OrganizationID)
	if err != nil {
		g.logger.Error("failed to get organization", "organization_id", contact.OrganizationID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	turn := g.conversations.Turn(r.Context(), contact.ID, req.Message, tools.OrgContextFor(org, g.store))

	g.sendJSON(w, http.StatusOK, PromptResponse{
		Response: turn.Reply,
		ThreadID: turn.ThreadID,
		Qualification: QualificationResponse{
			State: turn.Qualification,
			Score: turn.Qualification.Score(),
		},
		MeetingReady: turn.MeetingReady,
		Fallback:     turn.Fallback,
	})
}

// handleExchanges handles GET /api/contacts/{id}/exchanges.
// Returns the most recent exchanges, oldest first. Optional limit (default 50, max 500).
func (g *Gateway) handleExchanges(w http.ResponseWriter, r *http.Request) {
	limit := defaultExchangeLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			g.sendJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(parsed, maxExchangeLimit)
	}

	contact := g.contactFor(w, r)
	if contact == nil {
		return
	}

	exchanges, err := g.store.ListExchanges(r.Context(), contact.ID, limit)
	if err != nil {
		g.logger.Error("failed to list exchanges", "contact_id", contact.ID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := ExchangesResponse{
		ContactID: contact.ID,
		Exchanges: make([]ExchangeResponse, len(exchanges)),
	}
	for i, e := range exchanges {
		resp.Exchanges[i] = ExchangeResponse{
			ID:        e.ID,
			ThreadID:  e.ThreadID,
			Input:     e.Input,
			Response:  e.Response,
			CreatedAt: e.CreatedAt.Format(time.RFC3339),
		}
	}
	g.sendJSON(w, http.StatusOK, resp)
}

// handleReset handles POST /api/contacts/{id}/reset.
// The next turn for the contact starts a new thread with fresh qualification.
func (g *Gateway) handleReset(w http.ResponseWriter, r *http.Request) {
	contact := g.contactFor(w, r)
	if contact == nil {
		return
	}
	if err := g.conversations.ResetConversation(r.Context(), contact.ID); err != nil {
		g.logger.Error("failed to reset conversation", "contact_id", contact.ID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	g.sendJSON(w, http.StatusOK, map[string]string{"status": "reset", "contact_id": contact.ID})
}
