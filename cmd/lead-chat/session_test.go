// ABOUTME: Tests for the lead-chat session loop against a fake gateway
// ABOUTME: Drives commands from a string reader and checks printed output

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeGateway(t *testing.T) (*httptest.Server, *[]string) {
	t.Helper()
	var calls []string
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/contacts/{id}/prompt", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer jwt", r.Header.Get("Authorization"))
		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		calls = append(calls, "prompt:"+r.PathValue("id")+":"+req["message"])
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"response":"Happy to help","qualification":{"need_confirmed":true,"budget_confirmed":true,"timeline_confirmed":true,"score":75},"meeting_ready":true}`))
	})
	mux.HandleFunc("GET /api/contacts/{id}/exchanges", func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, "history:"+r.PathValue("id")+":"+r.URL.Query().Get("limit"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"contact_id":"c1","exchanges":[{"input":"hi","response":"hello"}]}`))
	})
	mux.HandleFunc("POST /api/contacts/{id}/reset", func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, "reset:"+r.PathValue("id"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":"insufficient scope"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &calls
}

func runSession(t *testing.T, server, contact, input string) string {
	t.Helper()
	color.NoColor = true
	var out bytes.Buffer
	s := &session{
		api:       newAPIClient(server, "jwt"),
		contactID: contact,
		in:        strings.NewReader(input),
		out:       &out,
	}
	require.NoError(t, s.run(context.Background()))
	return out.String()
}

func TestSession_Prompt(t *testing.T) {
	srv, calls := fakeGateway(t)

	out := runSession(t, srv.URL, "", "hello\n/use c1\nWe need a CRM\n/quit\nignored\n")

	assert.Contains(t, out, "No contact selected")
	assert.Contains(t, out, "Now talking as c1")
	assert.Contains(t, out, "Happy to help")
	assert.Contains(t, out, "[score 75] B:✓ A:· N:✓ T:✓")
	assert.Contains(t, out, "[meeting ready]")
	assert.Equal(t, []string{"prompt:c1:We need a CRM"}, *calls)
}

func TestSession_HistoryAndReset(t *testing.T) {
	srv, calls := fakeGateway(t)

	out := runSession(t, srv.URL, "c1", "/history\n/reset\n/bogus\n")

	assert.Contains(t, out, "Recent history for c1 (1 exchanges)")
	assert.Contains(t, out, "LEAD")
	assert.Contains(t, out, "| hi ")
	assert.Contains(t, out, "| hello ")
	assert.Contains(t, out, "[error] insufficient scope")
	assert.Contains(t, out, "Unknown command /bogus")
	assert.Equal(t, []string{"history:c1:20", "reset:c1"}, *calls)
}

func TestSession_Help(t *testing.T) {
	out := runSession(t, "http://127.0.0.1:0", "", "/help\n/use\n")
	assert.Contains(t, out, "/history")
	assert.Contains(t, out, "Cleared contact selection")
}

func TestGetToken(t *testing.T) {
	t.Setenv("LEAD_GATEWAY_TOKEN", "from-env")
	assert.Equal(t, "from-env", getToken())

	t.Setenv("LEAD_GATEWAY_TOKEN", "")
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	assert.Equal(t, "", getToken())
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}
