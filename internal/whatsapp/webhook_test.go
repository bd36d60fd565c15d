// ABOUTME: Tests for the webhook handler using fake turn runner and sender
// ABOUTME: Covers verification, signatures, dedupe, unknown contacts and reply delivery

package whatsapp

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/salesgenio/lead-gateway/internal/dedupe"
	"github.com/salesgenio/lead-gateway/internal/store"
	"github.com/salesgenio/lead-gateway/internal/tools"
)

type turnCall struct {
	contactID string
	text      string
	org       tools.OrgContext
}

type fakeTurns struct {
	mu    sync.Mutex
	calls []turnCall
	reply string
	// before runs ahead of recording, outside the lock
	before func(text string)
}

func (f *fakeTurns) RunTurn(ctx context.Context, contactID, text string, org tools.OrgContext) string {
	if f.before != nil {
		f.before(text)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, turnCall{contactID: contactID, text: text, org: org})
	return f.reply
}

func (f *fakeTurns) recorded() []turnCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]turnCall(nil), f.calls...)
}

type fakeSender struct {
	mu      sync.Mutex
	sent    []OutboundText
	read    []string
	sendErr error
}

func (f *fakeSender) SendText(ctx context.Context, msg OutboundText) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, msg)
	return []string{"wamid.out"}, nil
}

func (f *fakeSender) MarkRead(ctx context.Context, from, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.read = append(f.read, from+"/"+messageID)
	return nil
}

type failingDirectory struct {
	*store.MockStore
	fail bool
}

func (d *failingDirectory) GetContactByPhone(ctx context.Context, phone string) (*store.Contact, error) {
	if d.fail {
		return nil, errors.New("database locked")
	}
	return d.MockStore.GetContactByPhone(ctx, phone)
}

type webhookFixture struct {
	hook      *Webhook
	turns     *fakeTurns
	sender    *fakeSender
	dir       *failingDirectory
	contactID string
}

func newWebhookFixture(t *testing.T, secret string) *webhookFixture {
	t.Helper()
	ctx := context.Background()
	s := store.NewMockStore()
	require.NoError(t, s.CreateOrganization(ctx, &store.Organization{
		ID:            "org-1",
		Name:          "Acme",
		BusinessModel: store.BusinessModelB2B,
		MeetingLink:   "https://cal.example/acme",
		PhoneNumberID: "pn-org",
	}))
	contact := &store.Contact{OrganizationID: "org-1", Name: "Dana", Phone: "+1 555 010 2000"}
	require.NoError(t, s.CreateContact(ctx, contact))

	f := &webhookFixture{
		turns:     &fakeTurns{reply: "**Great** question"},
		sender:    &fakeSender{},
		dir:       &failingDirectory{MockStore: s},
		contactID: contact.ID,
	}
	hook, err := NewWebhook(WebhookConfig{
		VerifyToken: "verify-me",
		AppSecret:   secret,
		Directory:   f.dir,
		Catalog:     s,
		Turns:       f.turns,
		Sender:      f.sender,
		MarkRead:    true,
		Format:      strings.ToUpper,
	})
	require.NoError(t, err)
	f.hook = hook
	return f
}

func textPayloadJSON(phoneNumberID, from, id, body string) string {
	return fmt.Sprintf(`{
  "object": "whatsapp_business_account",
  "entry": [{
    "id": "waba-1",
    "changes": [{
      "field": "messages",
      "value": {
        "messaging_product": "whatsapp",
        "metadata": {"display_phone_number": "15550009999", "phone_number_id": %q},
        "messages": [{"from": %q, "id": %q, "timestamp": "1700000000", "type": "text", "text": {"body": %q}}]
      }
    }]
  }]
}`, phoneNumberID, from, id, body)
}

// messagesPayloadJSON builds one delivery carrying every message in order.
// Each message is a from/id/body triple.
func messagesPayloadJSON(phoneNumberID string, msgs ...[3]string) string {
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		parts = append(parts, fmt.Sprintf(
			`{"from": %q, "id": %q, "timestamp": "1700000000", "type": "text", "text": {"body": %q}}`,
			m[0], m[1], m[2]))
	}
	return fmt.Sprintf(`{"entry":[{"changes":[{"value":{"metadata":{"phone_number_id":%q},"messages":[%s]}}]}]}`,
		phoneNumberID, strings.Join(parts, ","))
}

func (f *webhookFixture) post(t *testing.T, body string, header map[string]string) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.hook.ServeHTTP(rec, req)
	f.hook.Wait()
	return rec.Code
}

func sign(secret, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestWebhook_Verify(t *testing.T) {
	f := newWebhookFixture(t, "")

	tests := []struct {
		name  string
		query string
		code  int
		body  string
	}{
		{name: "valid", query: "hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=1158201444", code: 200, body: "1158201444"},
		{name: "wrong token", query: "hub.mode=subscribe&hub.verify_token=nope&hub.challenge=1", code: 403},
		{name: "wrong mode", query: "hub.mode=unsubscribe&hub.verify_token=verify-me&hub.challenge=1", code: 403},
		{name: "missing", query: "", code: 403},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			f.hook.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhook?"+tt.query, nil))
			assert.Equal(t, tt.code, rec.Code)
			if tt.body != "" {
				assert.Equal(t, tt.body, rec.Body.String())
			}
		})
	}
}

func TestWebhook_RepliesToKnownContact(t *testing.T) {
	f := newWebhookFixture(t, "")

	code := f.post(t, textPayloadJSON("pn-meta", "15550102000", "wamid.in1", "  What does it cost?  "), nil)
	assert.Equal(t, http.StatusOK, code)

	calls := f.turns.recorded()
	require.Len(t, calls, 1)
	assert.Equal(t, f.contactID, calls[0].contactID)
	assert.Equal(t, "What does it cost?", calls[0].text)
	assert.Equal(t, "org-1", calls[0].org.OrganizationID)
	assert.Equal(t, "B2B", calls[0].org.BusinessModel)
	assert.Equal(t, "https://cal.example/acme", calls[0].org.MeetingLink)
	assert.NotNil(t, calls[0].org.Catalog)

	require.Len(t, f.sender.sent, 1)
	sent := f.sender.sent[0]
	assert.Equal(t, "pn-meta", sent.From)
	assert.Equal(t, "15550102000", sent.To)
	assert.Equal(t, "**GREAT** QUESTION", sent.Body)
	assert.Equal(t, "wamid.in1", sent.ReplyTo)
	assert.Equal(t, []string{"pn-meta/wamid.in1"}, f.sender.read)
}

func TestWebhook_SameContactTurnsKeepPayloadOrder(t *testing.T) {
	f := newWebhookFixture(t, "")
	// the first turn is slow so a racing second turn would overtake it
	f.turns.before = func(text string) {
		if text == "first" {
			time.Sleep(20 * time.Millisecond)
		}
	}

	for i := 0; i < 20; i++ {
		f.turns.mu.Lock()
		f.turns.calls = nil
		f.turns.mu.Unlock()

		body := messagesPayloadJSON("pn-meta",
			[3]string{"15550102000", fmt.Sprintf("wamid.a%d", i), "first"},
			[3]string{"+1 555 010 2000", fmt.Sprintf("wamid.b%d", i), "second"},
			[3]string{"15550102000", fmt.Sprintf("wamid.c%d", i), "third"},
		)
		require.Equal(t, http.StatusOK, f.post(t, body, nil))

		var texts []string
		for _, c := range f.turns.recorded() {
			texts = append(texts, c.text)
		}
		require.Equal(t, []string{"first", "second", "third"}, texts, "delivery %d", i)
	}
}

func TestWebhook_DifferentContactsDoNotBlockEachOther(t *testing.T) {
	f := newWebhookFixture(t, "")
	require.NoError(t, f.dir.CreateContact(context.Background(), &store.Contact{
		OrganizationID: "org-1", Name: "Lee", Phone: "15550103000",
	}))

	// Dana's turn waits for Lee's, which only finishes if both run at once.
	leeStarted := make(chan struct{})
	f.turns.before = func(text string) {
		switch text {
		case "from dana":
			select {
			case <-leeStarted:
			case <-time.After(2 * time.Second):
				t.Error("turn for second contact never started")
			}
		case "from lee":
			close(leeStarted)
		}
	}

	body := messagesPayloadJSON("pn-meta",
		[3]string{"15550102000", "wamid.d1", "from dana"},
		[3]string{"15550103000", "wamid.l1", "from lee"},
	)
	require.Equal(t, http.StatusOK, f.post(t, body, nil))

	var texts []string
	for _, c := range f.turns.recorded() {
		texts = append(texts, c.text)
	}
	assert.ElementsMatch(t, []string{"from dana", "from lee"}, texts)
	assert.Len(t, f.sender.sent, 2)
}

func TestWebhook_FallsBackToOrganizationSender(t *testing.T) {
	f := newWebhookFixture(t, "")

	f.post(t, textPayloadJSON("", "15550102000", "wamid.in1", "hi"), nil)
	require.Len(t, f.sender.sent, 1)
	assert.Equal(t, "pn-org", f.sender.sent[0].From)
}

func TestWebhook_DropsDuplicates(t *testing.T) {
	f := newWebhookFixture(t, "")
	body := textPayloadJSON("pn-meta", "15550102000", "wamid.dup", "hi")

	assert.Equal(t, http.StatusOK, f.post(t, body, nil))
	assert.Equal(t, http.StatusOK, f.post(t, body, nil))
	assert.Len(t, f.turns.recorded(), 1)
	assert.Len(t, f.sender.sent, 1)
}

func TestWebhook_IgnoresUnknownContact(t *testing.T) {
	f := newWebhookFixture(t, "")

	assert.Equal(t, http.StatusOK, f.post(t, textPayloadJSON("pn-meta", "19998887777", "wamid.x", "hi"), nil))
	assert.Empty(t, f.turns.recorded())
	assert.Empty(t, f.sender.sent)
}

func TestWebhook_IgnoresNonText(t *testing.T) {
	f := newWebhookFixture(t, "")
	body := `{"entry":[{"changes":[{"value":{"messages":[{"from":"15550102000","id":"wamid.img","type":"image"}]}}]}]}`

	assert.Equal(t, http.StatusOK, f.post(t, body, nil))
	assert.Empty(t, f.turns.recorded())
}

func TestWebhook_StatusUpdatesAndMalformedBodiesAcknowledged(t *testing.T) {
	f := newWebhookFixture(t, "")

	statuses := `{"entry":[{"changes":[{"value":{"statuses":[{"id":"wamid.out","status":"delivered"}]}}]}]}`
	assert.Equal(t, http.StatusOK, f.post(t, statuses, nil))
	assert.Equal(t, http.StatusOK, f.post(t, "{not json", nil))
	assert.Empty(t, f.turns.recorded())
}

func TestWebhook_LookupFailureAllowsRedelivery(t *testing.T) {
	f := newWebhookFixture(t, "")
	body := textPayloadJSON("pn-meta", "15550102000", "wamid.retry", "hi")

	f.dir.fail = true
	assert.Equal(t, http.StatusOK, f.post(t, body, nil))
	assert.Empty(t, f.turns.recorded())

	f.dir.fail = false
	assert.Equal(t, http.StatusOK, f.post(t, body, nil))
	assert.Len(t, f.turns.recorded(), 1)
}

func TestWebhook_SendFailureSkipsMarkRead(t *testing.T) {
	f := newWebhookFixture(t, "")
	f.sender.sendErr = errors.New("graph down")

	f.post(t, textPayloadJSON("pn-meta", "15550102000", "wamid.in1", "hi"), nil)
	assert.Len(t, f.turns.recorded(), 1)
	assert.Empty(t, f.sender.read)
}

func TestWebhook_Signature(t *testing.T) {
	f := newWebhookFixture(t, "app-secret")
	body := textPayloadJSON("pn-meta", "15550102000", "wamid.sig", "hi")

	assert.Equal(t, http.StatusForbidden, f.post(t, body, nil))
	assert.Equal(t, http.StatusForbidden, f.post(t, body, map[string]string{signatureHeader: sign("other", body)}))
	assert.Equal(t, http.StatusForbidden, f.post(t, body, map[string]string{signatureHeader: "sha256=zz"}))
	assert.Empty(t, f.turns.recorded())

	assert.Equal(t, http.StatusOK, f.post(t, body, map[string]string{signatureHeader: sign("app-secret", body)}))
	assert.Len(t, f.turns.recorded(), 1)
}

func TestWebhook_RejectsOtherMethods(t *testing.T) {
	f := newWebhookFixture(t, "")
	rec := httptest.NewRecorder()
	f.hook.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/webhook", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestNewWebhook_Validation(t *testing.T) {
	_, err := NewWebhook(WebhookConfig{})
	assert.Error(t, err)

	_, err = NewWebhook(WebhookConfig{VerifyToken: "v"})
	assert.Error(t, err)

	hook, err := NewWebhook(WebhookConfig{
		VerifyToken: "v",
		Directory:   store.NewMockStore(),
		Turns:       &fakeTurns{},
		Sender:      &fakeSender{},
		Dedupe:      dedupe.NewWindow(0, 0),
	})
	require.NoError(t, err)
	assert.NotNil(t, hook)
}
