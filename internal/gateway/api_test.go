// ABOUTME: Tests for the contact API handlers
// ABOUTME: Covers JWT scopes, organization isolation, prompt turns, history and reset

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/salesgenio/lead-gateway/internal/assistant"
	"github.com/salesgenio/lead-gateway/internal/auth"
	"github.com/salesgenio/lead-gateway/internal/orchestrator"
)

type apiFixture struct {
	gw        *Gateway
	fake      *assistant.Fake
	verifier  *auth.JWTVerifier
	contactID string
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	gw := newTestGateway(t, testConfig(t))
	verifier, err := auth.NewJWTVerifier([]byte(testSecret))
	require.NoError(t, err)

	return &apiFixture{
		gw:        gw,
		fake:      gw.backend.(*assistant.Fake),
		verifier:  verifier,
		contactID: seedContact(t, gw.store, "org-1", "15550102000"),
	}
}

func (f *apiFixture) token(t *testing.T, org string, scopes ...string) string {
	t.Helper()
	tok, err := f.verifier.Generate("tester", org, scopes, time.Hour)
	require.NoError(t, err)
	return tok
}

func (f *apiFixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.gw.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestPrompt_RunsTurn(t *testing.T) {
	f := newAPIFixture(t)
	f.fake.Queue(assistant.RunPlan{Reply: "Happy to help, Dana."})
	tok := f.token(t, "org-1", auth.ScopePrompt)

	rec := f.do(t, http.MethodPost, "/api/contacts/"+f.contactID+"/prompt", tok, PromptRequest{Message: "We need a better CRM"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[PromptResponse](t, rec)
	assert.Equal(t, "Happy to help, Dana.", resp.Response)
	assert.NotEmpty(t, resp.ThreadID)
	assert.True(t, resp.Qualification.Need)
	assert.Equal(t, 25, resp.Qualification.Score)
	assert.False(t, resp.MeetingReady)
	assert.False(t, resp.Fallback)
}

func TestPrompt_MeetingReady(t *testing.T) {
	f := newAPIFixture(t)
	tok := f.token(t, "org-1", auth.ScopePrompt)

	rec := f.do(t, http.MethodPost, "/api/contacts/"+f.contactID+"/prompt", tok,
		PromptRequest{Message: "We have budget approved and need this by next quarter due to a scaling problem"})
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[PromptResponse](t, rec)
	assert.Equal(t, 75, resp.Qualification.Score)
	assert.True(t, resp.MeetingReady)
	assert.Contains(t, f.fake.Transcript(resp.ThreadID), orchestrator.DisclosureHint)
}

func TestPrompt_Validation(t *testing.T) {
	f := newAPIFixture(t)
	tok := f.token(t, "org-1", auth.ScopePrompt)
	path := "/api/contacts/" + f.contactID + "/prompt"

	rec := f.do(t, http.MethodPost, path, tok, PromptRequest{Message: "   "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "message is required", decode[map[string]string](t, rec)["error"])

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString("{"))
	req.Header.Set("Authorization", "Bearer "+tok)
	raw := httptest.NewRecorder()
	f.gw.Handler().ServeHTTP(raw, req)
	assert.Equal(t, http.StatusBadRequest, raw.Code)

	rec = f.do(t, http.MethodPost, "/api/contacts/missing/prompt", tok, PromptRequest{Message: "hi"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_Authentication(t *testing.T) {
	f := newAPIFixture(t)
	path := "/api/contacts/" + f.contactID + "/prompt"
	body := PromptRequest{Message: "hi"}

	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodPost, path, "", body).Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodPost, path, "not-a-jwt", body).Code)

	other, err := auth.NewJWTVerifier([]byte("another-secret-another-secret-123"))
	require.NoError(t, err)
	forged, err := other.Generate("tester", "org-1", []string{auth.ScopePrompt}, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodPost, path, forged, body).Code)

	readOnly := f.token(t, "org-1", auth.ScopeRead)
	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodPost, path, readOnly, body).Code)
}

func TestAPI_OrganizationIsolation(t *testing.T) {
	f := newAPIFixture(t)
	otherContact := seedContact(t, f.gw.store, "org-2", "15550103000")
	tok := f.token(t, "org-1", auth.ScopeAdmin)

	rec := f.do(t, http.MethodPost, "/api/contacts/"+otherContact+"/prompt", tok, PromptRequest{Message: "hi"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = f.do(t, http.MethodGet, "/api/contacts/"+otherContact+"/exchanges", tok, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// A token without an organization may act on any contact.
	global := f.token(t, "", auth.ScopeRead)
	rec = f.do(t, http.MethodGet, "/api/contacts/"+otherContact+"/exchanges", global, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestExchanges(t *testing.T) {
	f := newAPIFixture(t)
	prompt := f.token(t, "org-1", auth.ScopePrompt)
	read := f.token(t, "org-1", auth.ScopeRead)
	path := "/api/contacts/" + f.contactID

	for _, msg := range []string{"first", "second", "third"} {
		require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, path+"/prompt", prompt, PromptRequest{Message: msg}).Code)
	}

	rec := f.do(t, http.MethodGet, path+"/exchanges", read, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[ExchangesResponse](t, rec)
	assert.Equal(t, f.contactID, resp.ContactID)
	require.Len(t, resp.Exchanges, 3)
	assert.Equal(t, "first", resp.Exchanges[0].Input)
	assert.Equal(t, "You said: first", resp.Exchanges[0].Response)
	assert.Equal(t, "third", resp.Exchanges[2].Input)

	rec = f.do(t, http.MethodGet, path+"/exchanges?limit=2", read, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp = decode[ExchangesResponse](t, rec)
	require.Len(t, resp.Exchanges, 2)
	assert.Equal(t, "second", resp.Exchanges[0].Input)

	rec = f.do(t, http.MethodGet, path+"/exchanges?limit=zero", read, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// prompt scope alone cannot read history
	rec = f.do(t, http.MethodGet, path+"/exchanges", prompt, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestReset(t *testing.T) {
	f := newAPIFixture(t)
	prompt := f.token(t, "org-1", auth.ScopePrompt)
	admin := f.token(t, "org-1", auth.ScopeAdmin)
	path := "/api/contacts/" + f.contactID

	first := decode[PromptResponse](t, f.do(t, http.MethodPost, path+"/prompt", prompt, PromptRequest{Message: "We need a CRM"}))
	require.NotEmpty(t, first.ThreadID)

	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodPost, path+"/reset", prompt, nil).Code)

	rec := f.do(t, http.MethodPost, path+"/reset", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "reset", decode[map[string]string](t, rec)["status"])

	thread, err := f.gw.store.LoadThreadFor(context.Background(), f.contactID)
	require.NoError(t, err)
	assert.Empty(t, thread)

	second := decode[PromptResponse](t, f.do(t, http.MethodPost, path+"/prompt", prompt, PromptRequest{Message: "hello again"}))
	assert.NotEqual(t, first.ThreadID, second.ThreadID)
	assert.Equal(t, 0, second.Qualification.Score)
}
