// ABOUTME: Matrix bridge core for lead-matrix
// ABOUTME: Routes messages in mapped rooms to a contact's prompt API and posts the reply back

package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/salesgenio/lead-gateway/internal/format"
)

// typingTimeout is the duration the typing indicator shows (30 seconds).
const typingTimeout = 30 * time.Second

// networkTimeout is the timeout for Matrix API calls.
const networkTimeout = 10 * time.Second

const failureReply = "Sorry, something went wrong on our side. Please try again in a moment."

// Prompter is the part of the gateway API the bridge calls.
type Prompter interface {
	Prompt(ctx context.Context, contactID, message string) (*PromptResponse, error)
	Reset(ctx context.Context, contactID string) error
}

// RoomClient sends events to Matrix rooms. *mautrix.Client satisfies it.
type RoomClient interface {
	SendMessageEvent(ctx context.Context, roomID id.RoomID, eventType event.Type, contentJSON any, extra ...mautrix.ReqSendEvent) (*mautrix.RespSendEvent, error)
	UserTyping(ctx context.Context, roomID id.RoomID, typing bool, timeout time.Duration) (*mautrix.RespTyping, error)
}

// Bridge connects Matrix rooms to lead-gateway contacts.
type Bridge struct {
	config  *Config
	matrix  *mautrix.Client
	rooms   RoomClient
	gateway Prompter
	userID  id.UserID
	logger  *slog.Logger

	// Rooms with a turn in flight; further messages are dropped until it finishes
	processing sync.Map
	wg         sync.WaitGroup

	// ctx is the parent context for message processing goroutines
	ctx    context.Context
	cancel context.CancelFunc
}

// NewBridge creates a new Matrix bridge.
func NewBridge(cfg *Config, logger *slog.Logger) (*Bridge, error) {
	client, err := mautrix.NewClient(cfg.Matrix.Homeserver, id.UserID(cfg.Matrix.UserID), cfg.Matrix.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}

	b := newBridge(cfg, client, NewGatewayClient(cfg.Gateway.URL, cfg.Gateway.Token, cfg.GatewayTimeout()), logger)
	b.matrix = client
	return b, nil
}

func newBridge(cfg *Config, rooms RoomClient, gateway Prompter, logger *slog.Logger) *Bridge {
	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		config:  cfg,
		rooms:   rooms,
		gateway: gateway,
		userID:  id.UserID(cfg.Matrix.UserID),
		logger:  logger.With("component", "matrix-bridge"),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Login exchanges username and password for an access token when none is configured.
func (b *Bridge) Login(ctx context.Context) error {
	if b.config.Matrix.AccessToken != "" {
		return nil
	}
	resp, err := b.matrix.Login(ctx, &mautrix.ReqLogin{
		Type: mautrix.AuthTypePassword,
		Identifier: mautrix.UserIdentifier{
			Type: mautrix.IdentifierTypeUser,
			User: b.config.Matrix.Username,
		},
		Password:                 b.config.Matrix.Password,
		InitialDeviceDisplayName: "lead-matrix",
		StoreCredentials:         true,
	})
	if err != nil {
		return fmt.Errorf("matrix login: %w", err)
	}
	b.userID = resp.UserID
	b.logger.Info("logged in to matrix", "user_id", resp.UserID.String(), "device_id", resp.DeviceID.String())
	return nil
}

// Run starts the bridge and blocks until context is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	b.logger.Info("starting matrix bridge",
		"homeserver", b.config.Matrix.Homeserver,
		"user_id", b.userID.String(),
		"gateway", b.config.Gateway.URL,
		"rooms", len(b.config.Bridge.Rooms),
	)

	b.ctx, b.cancel = context.WithCancel(ctx)
	defer b.cancel()

	syncer, ok := b.matrix.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", b.matrix.Syncer)
	}
	syncer.OnEventType(event.EventMessage, b.handleMessageEvent)

	syncErr := make(chan error, 1)
	go func() {
		syncErr <- b.matrix.SyncWithContext(b.ctx)
	}()

	b.logger.Info("matrix bridge running")

	select {
	case <-ctx.Done():
		b.logger.Info("shutting down matrix bridge")
		b.cancel()
		b.wg.Wait()
		return nil
	case err := <-syncErr:
		b.cancel()
		b.wg.Wait()
		return fmt.Errorf("matrix sync failed: %w", err)
	}
}

// handleMessageEvent processes incoming Matrix messages.
func (b *Bridge) handleMessageEvent(_ context.Context, evt *event.Event) {
	contactID, body, ok := b.accept(evt)
	if !ok {
		return
	}

	b.logger.Info("received message",
		"room", evt.RoomID.String(),
		"sender", evt.Sender.String(),
		"contact_id", contactID,
		"content", truncate(body, 50),
	)

	// Process in a goroutine so the sync loop is not blocked
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.processMessage(b.ctx, evt.RoomID, contactID, body)
	}()
}

// accept filters an event down to a mapped room's text message and returns
// the contact and message body to forward.
func (b *Bridge) accept(evt *event.Event) (contactID, body string, ok bool) {
	if evt.Sender == b.userID {
		return "", "", false
	}

	content, isMsg := evt.Content.Parsed.(*event.MessageEventContent)
	if !isMsg || content.MsgType != event.MsgText {
		return "", "", false
	}

	contactID, mapped := b.config.Bridge.Rooms[evt.RoomID.String()]
	if !mapped {
		b.logger.Debug("ignoring message from unmapped room", "room", evt.RoomID.String())
		return "", "", false
	}

	body = content.Body
	if prefix := b.config.Bridge.CommandPrefix; prefix != "" {
		if !strings.HasPrefix(body, prefix) {
			return "", "", false
		}
		body = strings.TrimPrefix(body, prefix)
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return "", "", false
	}
	return contactID, body, true
}

// processMessage forwards one message and posts the reply.
func (b *Bridge) processMessage(ctx context.Context, roomID id.RoomID, contactID, body string) {
	roomStr := roomID.String()

	if _, loaded := b.processing.LoadOrStore(roomStr, true); loaded {
		b.logger.Debug("already processing message in room, dropping", "room", roomStr)
		return
	}
	defer b.processing.Delete(roomStr)

	if reset := b.config.Bridge.ResetCommand; reset != "" && body == reset {
		if err := b.gateway.Reset(ctx, contactID); err != nil {
			b.logger.Error("reset failed", "room", roomStr, "contact_id", contactID, "error", err)
			b.sendMessage(roomID, failureReply)
			return
		}
		b.sendMessage(roomID, "Conversation reset.")
		return
	}

	if b.config.Bridge.TypingIndicator {
		b.setTyping(roomID, true)
		defer b.setTyping(roomID, false)
	}

	resp, err := b.gateway.Prompt(ctx, contactID, body)
	if err != nil {
		b.logger.Error("gateway request failed", "room", roomStr, "contact_id", contactID, "error", err)
		b.sendMessage(roomID, failureReply)
		return
	}

	if resp.Response == "" {
		b.logger.Warn("empty response from gateway", "room", roomStr)
		return
	}

	b.logger.Info("sending response",
		"room", roomStr,
		"length", len(resp.Response),
		"meeting_ready", resp.MeetingReady,
		"fallback", resp.Fallback,
	)

	b.sendMessage(roomID, resp.Response)
}

// setTyping sends typing indicator to room.
func (b *Bridge) setTyping(roomID id.RoomID, typing bool) {
	var timeout time.Duration
	if typing {
		timeout = typingTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), networkTimeout)
	defer cancel()
	if _, err := b.rooms.UserTyping(ctx, roomID, typing, timeout); err != nil {
		b.logger.Debug("failed to set typing indicator", "room", roomID.String(), "error", err)
	}
}

// sendMessage posts text to a room, with an HTML body when it carries markdown.
func (b *Bridge) sendMessage(roomID id.RoomID, text string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := b.rooms.SendMessageEvent(ctx, roomID, event.EventMessage, messageContent(text)); err != nil {
		b.logger.Error("failed to send message", "room", roomID.String(), "error", err)
	}
}

func messageContent(text string) *event.MessageEventContent {
	content := &event.MessageEventContent{
		MsgType: event.MsgText,
		Body:    text,
	}
	if format.IsPlain(text) {
		return content
	}
	if html, err := format.HTML(text); err == nil {
		content.Format = event.FormatHTML
		content.FormattedBody = html
	}
	return content
}

// truncate shortens a string to the given max rune count, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
