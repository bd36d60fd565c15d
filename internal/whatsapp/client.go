// ABOUTME: WhatsApp Cloud API client for sending replies and read receipts
// ABOUTME: Throttled with a token bucket; retries 429, 5xx and network failures with backoff

package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"github.com/salesgenio/lead-gateway/internal/metrics"
)

// MaxBodyLength is the longest text body the Cloud API accepts, in characters.
const MaxBodyLength = 4096

// Client defaults.
const (
	DefaultRatePerSecond = 20
	DefaultBurst         = 10
	DefaultTimeout       = 15 * time.Second
	DefaultMaxAttempts   = 3
)

// DefaultRetryBase is the delay before the first retry; it doubles per attempt.
const DefaultRetryBase = 500 * time.Millisecond

// ErrNoSender is returned when neither the message nor the client names a sending number.
var ErrNoSender = errors.New("no sending phone number id")

// APIError is an error response from the Graph API.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       int    `json:"code"`
	Type       string `json:"type"`
	Message    string `json:"message"`
	TraceID    string `json:"fbtrace_id"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("whatsapp api error (%d, code %d): %s", e.StatusCode, e.Code, e.Message)
}

// Temporary reports whether retrying the request may succeed.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// ClientConfig configures a Client.
type ClientConfig struct {
	APIBase       string // e.g. https://graph.facebook.com/v21.0
	AccessToken   string
	PhoneNumberID string // default sender
	RatePerSecond float64
	Burst         int
	Timeout       time.Duration
	MaxAttempts   int
	RetryBase     time.Duration
	HTTPClient    *http.Client
	Logger        *slog.Logger
}

// Client sends messages through the WhatsApp Cloud API.
type Client struct {
	apiBase     string
	token       string
	sender      string
	http        *http.Client
	limiter     *rate.Limiter
	maxAttempts int
	retryBase   time.Duration
	logger      *slog.Logger

	mu      sync.Mutex
	retryAt time.Time
}

// NewClient creates a Client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.APIBase == "" {
		return nil, errors.New("whatsapp api base url is required")
	}
	if cfg.AccessToken == "" {
		return nil, errors.New("whatsapp access token is required")
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = DefaultRatePerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = DefaultBurst
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = DefaultRetryBase
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		apiBase:     strings.TrimSuffix(cfg.APIBase, "/"),
		token:       cfg.AccessToken,
		sender:      cfg.PhoneNumberID,
		http:        httpClient,
		limiter:     rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		maxAttempts: cfg.MaxAttempts,
		retryBase:   cfg.RetryBase,
		logger:      logger.With("component", "whatsapp"),
	}, nil
}

// OutboundText is a text message to send.
type OutboundText struct {
	From    string // phone number id; empty uses the client default
	To      string // recipient WhatsApp id (phone number)
	Body    string
	ReplyTo string // inbound message id to quote, optional
}

type textPayload struct {
	MessagingProduct string       `json:"messaging_product"`
	RecipientType    string       `json:"recipient_type"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	Text             textBody     `json:"text"`
	Context          *replyTarget `json:"context,omitempty"`
}

type textBody struct {
	PreviewURL bool   `json:"preview_url"`
	Body       string `json:"body"`
}

type replyTarget struct {
	MessageID string `json:"message_id"`
}

type readPayload struct {
	MessagingProduct string `json:"messaging_product"`
	Status           string `json:"status"`
	MessageID        string `json:"message_id"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// SendText delivers msg, splitting bodies longer than MaxBodyLength into
// several messages. Only the first part quotes ReplyTo. It returns the ids of
// the sent messages.
func (c *Client) SendText(ctx context.Context, msg OutboundText) ([]string, error) {
	from := msg.From
	if from == "" {
		from = c.sender
	}
	if from == "" {
		return nil, ErrNoSender
	}

	var ids []string
	for i, part := range SplitBody(msg.Body, MaxBodyLength) {
		payload := textPayload{
			MessagingProduct: "whatsapp",
			RecipientType:    "individual",
			To:               msg.To,
			Type:             "text",
			Text:             textBody{PreviewURL: strings.Contains(part, "https://"), Body: part},
		}
		if i == 0 && msg.ReplyTo != "" {
			payload.Context = &replyTarget{MessageID: msg.ReplyTo}
		}

		var resp sendResponse
		if err := c.post(ctx, from, payload, &resp); err != nil {
			metrics.ObserveDelivery("failed")
			return ids, fmt.Errorf("sending message part %d: %w", i+1, err)
		}
		metrics.ObserveDelivery("sent")
		if len(resp.Messages) > 0 {
			ids = append(ids, resp.Messages[0].ID)
		}
	}
	c.logger.Debug("sent reply", "to", msg.To, "parts", len(ids))
	return ids, nil
}

// MarkRead marks an inbound message as read.
func (c *Client) MarkRead(ctx context.Context, from, messageID string) error {
	if from == "" {
		from = c.sender
	}
	if from == "" {
		return ErrNoSender
	}
	return c.post(ctx, from, readPayload{
		MessagingProduct: "whatsapp",
		Status:           "read",
		MessageID:        messageID,
	}, nil)
}

func (c *Client) post(ctx context.Context, from string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}
	url := c.apiBase + "/" + from + "/messages"

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err := c.wait(ctx); err != nil {
			return err
		}

		lastErr = c.do(ctx, url, body, out)
		if lastErr == nil {
			return nil
		}
		var apiErr *APIError
		if errors.As(lastErr, &apiErr) && !apiErr.Temporary() {
			return lastErr
		}
		if ctx.Err() != nil {
			return lastErr
		}
		if attempt < c.maxAttempts {
			delay := c.retryBase << (attempt - 1)
			c.logger.Warn("whatsapp request failed, retrying",
				"attempt", attempt,
				"delay", delay,
				"error", lastErr)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return lastErr
}

// wait honours both the token bucket and any Retry-After received.
func (c *Client) wait(ctx context.Context) error {
	c.mu.Lock()
	retryAt := c.retryAt
	c.mu.Unlock()

	if d := time.Until(retryAt); d > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d):
		}
	}
	return c.limiter.Wait(ctx)
}

func (c *Client) do(ctx context.Context, url string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 300 {
		if resp.StatusCode == http.StatusTooManyRequests {
			c.backoff(resp.Header.Get("Retry-After"))
		}
		return parseAPIError(resp.StatusCode, data)
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

func (c *Client) backoff(retryAfter string) {
	secs, err := strconv.Atoi(strings.TrimSpace(retryAfter))
	if err != nil || secs <= 0 {
		return
	}
	c.mu.Lock()
	c.retryAt = time.Now().Add(time.Duration(secs) * time.Second)
	c.mu.Unlock()
}

func parseAPIError(status int, data []byte) error {
	var envelope struct {
		Error *APIError `json:"error"`
	}
	if json.Unmarshal(data, &envelope) == nil && envelope.Error != nil {
		envelope.Error.StatusCode = status
		return envelope.Error
	}
	return &APIError{StatusCode: status, Message: strings.TrimSpace(string(data))}
}

// SplitBody breaks text into parts of at most limit characters, preferring
// paragraph, then line, then word boundaries.
func SplitBody(text string, limit int) []string {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}

	var parts []string
	for utf8.RuneCountInString(text) > limit {
		cut := byteOffset(text, limit)
		window := text[:cut]
		split := strings.LastIndex(window, "\n\n")
		if split <= 0 {
			split = strings.LastIndex(window, "\n")
		}
		if split <= 0 {
			split = strings.LastIndex(window, " ")
		}
		if split <= 0 {
			split = cut
		}
		parts = append(parts, strings.TrimSpace(text[:split]))
		text = strings.TrimSpace(text[split:])
	}
	if text != "" {
		parts = append(parts, text)
	}
	return parts
}

// byteOffset returns the byte index just past the first n runes of s.
func byteOffset(s string, n int) int {
	i := 0
	for n > 0 && i < len(s) {
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
		n--
	}
	return i
}
