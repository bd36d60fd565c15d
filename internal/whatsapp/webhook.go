// ABOUTME: HTTP handler for WhatsApp Cloud API webhooks
// ABOUTME: Verifies subscriptions and signatures, then runs a conversation turn per inbound text

package whatsapp

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/salesgenio/lead-gateway/internal/dedupe"
	"github.com/salesgenio/lead-gateway/internal/metrics"
	"github.com/salesgenio/lead-gateway/internal/store"
	"github.com/salesgenio/lead-gateway/internal/tools"
)

// maxPayloadSize bounds webhook request bodies.
const maxPayloadSize = 1 << 20

// signatureHeader carries the sha256 HMAC of the body keyed by the app secret.
const signatureHeader = "X-Hub-Signature-256"

// Webhook message outcomes, used as metric labels.
const (
	OutcomeReplied        = "replied"
	OutcomeDuplicate      = "duplicate"
	OutcomeIgnoredType    = "ignored_type"
	OutcomeUnknownContact = "unknown_contact"
	OutcomeFailed         = "failed"
)

// Payload is the body Meta posts to the webhook.
type Payload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

// Entry groups changes for one WhatsApp business account.
type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

// Change is one webhook notification.
type Change struct {
	Field string      `json:"field"`
	Value ChangeValue `json:"value"`
}

// ChangeValue holds inbound messages and delivery statuses.
type ChangeValue struct {
	MessagingProduct string            `json:"messaging_product"`
	Metadata         Metadata          `json:"metadata"`
	Messages         []InboundMessage  `json:"messages"`
	Statuses         []json.RawMessage `json:"statuses"`
}

// Metadata identifies the business number that received the message.
type Metadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

// InboundMessage is a message sent by a contact.
type InboundMessage struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      struct {
		Body string `json:"body"`
	} `json:"text"`
	Button struct {
		Text string `json:"text"`
	} `json:"button"`
}

// Body returns the user-visible text of the message, or "" for types
// without one.
func (m InboundMessage) Body() string {
	switch m.Type {
	case "text":
		return m.Text.Body
	case "button":
		return m.Button.Text
	}
	return ""
}

// TurnRunner runs one conversation turn and always yields a reply.
type TurnRunner interface {
	RunTurn(ctx context.Context, contactID, text string, org tools.OrgContext) string
}

// Directory resolves inbound senders to contacts and their organization.
type Directory interface {
	GetContactByPhone(ctx context.Context, phone string) (*store.Contact, error)
	GetOrganization(ctx context.Context, id string) (*store.Organization, error)
}

// Sender delivers replies. *Client satisfies it.
type Sender interface {
	SendText(ctx context.Context, msg OutboundText) ([]string, error)
	MarkRead(ctx context.Context, from, messageID string) error
}

// WebhookConfig configures a Webhook.
type WebhookConfig struct {
	VerifyToken string
	AppSecret   string // empty skips signature checks
	Directory   Directory
	Catalog     tools.Catalog
	Turns       TurnRunner
	Sender      Sender
	Dedupe      *dedupe.Window
	MarkRead    bool
	Format      func(string) string // reply formatter, identity when nil
	Logger      *slog.Logger

	// BaseContext bounds background processing; cancelled on shutdown.
	BaseContext context.Context
}

// Webhook receives WhatsApp notifications. It acknowledges every valid
// POST immediately and processes messages in the background.
type Webhook struct {
	cfg    WebhookConfig
	logger *slog.Logger
	wg     sync.WaitGroup
}

// NewWebhook creates a Webhook.
func NewWebhook(cfg WebhookConfig) (*Webhook, error) {
	if cfg.VerifyToken == "" {
		return nil, errors.New("whatsapp verify token is required")
	}
	if cfg.Directory == nil || cfg.Turns == nil || cfg.Sender == nil {
		return nil, errors.New("whatsapp webhook needs a directory, turn runner and sender")
	}
	if cfg.Dedupe == nil {
		cfg.Dedupe = dedupe.NewWindow(dedupe.DefaultTTL, dedupe.DefaultCapacity)
	}
	if cfg.Format == nil {
		cfg.Format = func(s string) string { return s }
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Webhook{
		cfg:    cfg,
		logger: logger.With("component", "webhook"),
	}, nil
}

// ServeHTTP handles GET verification and POST notifications.
func (w *Webhook) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		w.verify(rw, r)
	case http.MethodPost:
		w.receive(rw, r)
	default:
		rw.Header().Set("Allow", "GET, POST")
		http.Error(rw, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// Wait blocks until all in-flight messages are processed.
func (w *Webhook) Wait() {
	w.wg.Wait()
}

func (w *Webhook) verify(rw http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	token := q.Get("hub.verify_token")
	if q.Get("hub.mode") != "subscribe" ||
		!hmac.Equal([]byte(token), []byte(w.cfg.VerifyToken)) {
		w.logger.Warn("webhook verification rejected", "mode", q.Get("hub.mode"))
		http.Error(rw, "forbidden", http.StatusForbidden)
		return
	}
	rw.Header().Set("Content-Type", "text/plain")
	rw.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(rw, q.Get("hub.challenge"))
}

func (w *Webhook) receive(rw http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadSize+1))
	if err != nil {
		http.Error(rw, "failed to read body", http.StatusBadRequest)
		return
	}
	if len(body) > maxPayloadSize {
		http.Error(rw, "payload too large", http.StatusRequestEntityTooLarge)
		return
	}
	if w.cfg.AppSecret != "" && !validSignature(w.cfg.AppSecret, body, r.Header.Get(signatureHeader)) {
		w.logger.Warn("webhook signature mismatch", "remote", r.RemoteAddr)
		http.Error(rw, "invalid signature", http.StatusForbidden)
		return
	}

	// Meta retries anything other than 200, so malformed bodies are
	// acknowledged and dropped.
	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		w.logger.Warn("ignoring malformed webhook payload", "error", err)
		rw.WriteHeader(http.StatusOK)
		return
	}

	var batches [][]inbound
	senders := make(map[string]int)
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			for _, msg := range change.Value.Messages {
				in, ok := w.accept(change.Value.Metadata, msg)
				if !ok {
					continue
				}
				key := store.NormalizePhone(msg.From)
				i, seen := senders[key]
				if !seen {
					i = len(batches)
					senders[key] = i
					batches = append(batches, nil)
				}
				batches[i] = append(batches[i], in)
			}
		}
	}
	for _, batch := range batches {
		w.dispatch(batch)
	}
	rw.WriteHeader(http.StatusOK)
}

// inbound is a claimed text message waiting for its turn.
type inbound struct {
	meta Metadata
	msg  InboundMessage
	text string
}

// accept claims msg in the dedupe window and extracts its text.
func (w *Webhook) accept(meta Metadata, msg InboundMessage) (inbound, bool) {
	if msg.ID == "" || !w.cfg.Dedupe.Claim(msg.ID) {
		metrics.ObserveWebhookMessage(OutcomeDuplicate)
		w.logger.Debug("dropping duplicate message", "message_id", msg.ID)
		return inbound{}, false
	}
	text := strings.TrimSpace(msg.Body())
	if text == "" {
		metrics.ObserveWebhookMessage(OutcomeIgnoredType)
		w.logger.Debug("ignoring message", "message_id", msg.ID, "type", msg.Type)
		return inbound{}, false
	}
	return inbound{meta: meta, msg: msg, text: text}, true
}

// dispatch processes one sender's messages in payload order. Senders run
// concurrently with each other.
func (w *Webhook) dispatch(batch []inbound) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for _, in := range batch {
			outcome := w.process(w.cfg.BaseContext, in.meta, in.msg, in.text)
			metrics.ObserveWebhookMessage(outcome)
		}
	}()
}

// process runs the turn for one inbound text and delivers the reply.
func (w *Webhook) process(ctx context.Context, meta Metadata, msg InboundMessage, text string) string {
	logger := w.logger.With("message_id", msg.ID, "from", msg.From)

	contact, err := w.cfg.Directory.GetContactByPhone(ctx, msg.From)
	if errors.Is(err, store.ErrNotFound) {
		logger.Info("message from unknown contact ignored")
		return OutcomeUnknownContact
	}
	if err != nil {
		// let a redelivery try again
		w.cfg.Dedupe.Release(msg.ID)
		logger.Error("looking up contact", "error", err)
		return OutcomeFailed
	}
	org, err := w.cfg.Directory.GetOrganization(ctx, contact.OrganizationID)
	if err != nil {
		w.cfg.Dedupe.Release(msg.ID)
		logger.Error("looking up organization", "organization_id", contact.OrganizationID, "error", err)
		return OutcomeFailed
	}

	reply := w.cfg.Turns.RunTurn(ctx, contact.ID, text, tools.OrgContextFor(org, w.cfg.Catalog))

	from := meta.PhoneNumberID
	if from == "" {
		from = org.PhoneNumberID
	}
	if _, err := w.cfg.Sender.SendText(ctx, OutboundText{
		From:    from,
		To:      msg.From,
		Body:    w.cfg.Format(reply),
		ReplyTo: msg.ID,
	}); err != nil {
		logger.Error("sending reply", "contact_id", contact.ID, "error", err)
		return OutcomeFailed
	}

	if w.cfg.MarkRead {
		if err := w.cfg.Sender.MarkRead(ctx, from, msg.ID); err != nil {
			logger.Warn("marking message read", "error", err)
		}
	}
	logger.Info("replied to contact", "contact_id", contact.ID)
	return OutcomeReplied
}

// validSignature checks header against "sha256=" + hex(HMAC-SHA256(secret, body)).
func validSignature(secret string, body []byte, header string) bool {
	got, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	sig, err := hex.DecodeString(got)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(sig, mac.Sum(nil))
}
