// ABOUTME: Orchestrator runs one conversation turn for a contact end to end
// ABOUTME: Thread reuse, qualification, assistant run, tool resolution and exchange persistence

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/salesgenio/lead-gateway/internal/qualify"
	"github.com/salesgenio/lead-gateway/internal/run"
	"github.com/salesgenio/lead-gateway/internal/store"
	"github.com/salesgenio/lead-gateway/internal/tools"
)

// Replies used when a turn cannot produce an assistant answer.
const (
	RephraseReply  = "I apologize, but I'm having trouble processing your request. Could you please rephrase that?"
	TechnicalReply = "I apologize, but I'm experiencing technical difficulties. Please try again in a moment."
)

// DisclosureHint is appended to the user's message once the lead is meeting-ready.
const DisclosureHint = "\n\nNote: Lead is qualified for meeting. You can share meeting link if appropriate."

// DefaultTurnTimeout bounds a whole turn, including lock wait and run polling.
const DefaultTurnTimeout = 120 * time.Second

const (
	saveTimeout = 5 * time.Second
	roleUser    = "user"
)

// errRunUnfinished marks turns whose run ended without a usable reply.
var errRunUnfinished = errors.New("run did not produce a reply")

// Backend is the thread/run service the orchestrator talks to.
type Backend interface {
	run.Backend
	CreateThread(ctx context.Context) (string, error)
	PostMessage(ctx context.Context, threadID, role, text string) error
	CreateRun(ctx context.Context, threadID string, defs []tools.Definition) (string, error)
}

// Store is what the orchestrator persists per contact.
type Store interface {
	LoadThreadFor(ctx context.Context, contactID string) (string, error)
	SaveThreadFor(ctx context.Context, contactID, threadID string) error
	ClearConversation(ctx context.Context, contactID string) error
	LoadQualification(ctx context.Context, contactID string) (qualify.State, error)
	SaveQualification(ctx context.Context, contactID string, state qualify.State) error
	SaveExchange(ctx context.Context, exchange *store.Exchange) error
}

// Evaluator scores a message against the qualification rubric.
type Evaluator interface {
	Evaluate(ctx context.Context, prior qualify.State, message string) (qualify.State, bool)
}

// Dispatcher resolves tool calls for a run.
type Dispatcher interface {
	Definitions() []tools.Definition
	DispatchAll(ctx context.Context, calls []tools.Call, org tools.OrgContext) []tools.Result
}

// Config wires an Orchestrator.
type Config struct {
	Backend  Backend
	Store    Store
	Scorer   Evaluator
	Tools    Dispatcher
	Poller   *run.Poller
	Preamble PreambleSource // optional
	Logger   *slog.Logger

	TurnTimeout time.Duration
}

// Orchestrator runs conversation turns. It is safe for concurrent use; turns
// for the same contact are serialized.
type Orchestrator struct {
	backend  Backend
	store    Store
	scorer   Evaluator
	tools    Dispatcher
	poller   *run.Poller
	preamble PreambleSource
	logger   *slog.Logger
	timeout  time.Duration
	locks    *keyedMutex
}

// New creates an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	switch {
	case cfg.Backend == nil:
		return nil, errors.New("orchestrator: backend is required")
	case cfg.Store == nil:
		return nil, errors.New("orchestrator: store is required")
	case cfg.Scorer == nil:
		return nil, errors.New("orchestrator: scorer is required")
	case cfg.Tools == nil:
		return nil, errors.New("orchestrator: tool dispatcher is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	poller := cfg.Poller
	if poller == nil {
		poller = run.NewPoller(run.PollerConfig{Backend: cfg.Backend, Logger: logger})
	}
	timeout := cfg.TurnTimeout
	if timeout <= 0 {
		timeout = DefaultTurnTimeout
	}

	return &Orchestrator{
		backend:  cfg.Backend,
		store:    cfg.Store,
		scorer:   cfg.Scorer,
		tools:    cfg.Tools,
		poller:   poller,
		preamble: cfg.Preamble,
		logger:   logger.With("component", "orchestrator"),
		timeout:  timeout,
		locks:    newKeyedMutex(),
	}, nil
}

// Turn describes a finished turn.
type Turn struct {
	Reply         string
	ThreadID      string
	Qualification qualify.State
	MeetingReady  bool
	// RunStatus is empty when no run was started.
	RunStatus run.Status
	// Fallback is set when Reply is one of the apology strings.
	Fallback bool
}

// RunTurn sends text on behalf of contactID and returns the reply to deliver.
// It never fails: problems are logged and answered with an apology.
func (o *Orchestrator) RunTurn(ctx context.Context, contactID, text string, org tools.OrgContext) string {
	return o.Turn(ctx, contactID, text, org).Reply
}

// Turn is RunTurn with the details callers such as the HTTP API report.
func (o *Orchestrator) Turn(ctx context.Context, contactID, text string, org tools.OrgContext) Turn {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	logger := o.logger.With("contact_id", contactID)

	unlock, err := o.locks.Lock(ctx, contactID)
	if err != nil {
		logger.Warn("gave up waiting for contact lock", "error", err)
		return Turn{Reply: TechnicalReply, Fallback: true}
	}
	defer unlock()

	start := time.Now()
	turn, err := o.turn(ctx, contactID, text, org, logger)
	switch {
	case err == nil:
		logger.Info("turn completed",
			"thread_id", turn.ThreadID,
			"ready", turn.MeetingReady,
			"duration", time.Since(start))
	case errors.Is(err, errRunUnfinished):
		logger.Warn("turn ended without reply",
			"thread_id", turn.ThreadID,
			"status", turn.RunStatus,
			"error", err)
		turn.Reply, turn.Fallback = RephraseReply, true
	default:
		logger.Error("turn failed", "thread_id", turn.ThreadID, "error", err)
		turn.Reply, turn.Fallback = TechnicalReply, true
	}
	return turn
}

func (o *Orchestrator) turn(ctx context.Context, contactID, text string, org tools.OrgContext, logger *slog.Logger) (Turn, error) {
	var t Turn
	if strings.TrimSpace(text) == "" {
		return t, fmt.Errorf("%w: empty message", errRunUnfinished)
	}

	threadID, err := o.ensureThread(ctx, contactID, org, logger)
	if err != nil {
		return t, err
	}
	t.ThreadID = threadID

	t.Qualification, t.MeetingReady = o.qualify(ctx, contactID, text, logger)

	content := text
	if t.MeetingReady {
		content += DisclosureHint
	}
	if err := o.backend.PostMessage(ctx, threadID, roleUser, content); err != nil {
		return t, fmt.Errorf("posting message: %w", err)
	}

	runID, err := o.backend.CreateRun(ctx, threadID, o.tools.Definitions())
	if err != nil {
		return t, fmt.Errorf("creating run: %w", err)
	}

	resolver := run.ResolverFunc(func(ctx context.Context, calls []tools.Call) []tools.Result {
		return o.tools.DispatchAll(ctx, calls, org)
	})
	out, err := o.poller.Drive(ctx, threadID, runID, resolver)
	if out != nil {
		t.RunStatus = out.Status
	}
	switch {
	case errors.Is(err, run.ErrRunTimeout), errors.Is(err, run.ErrNoReply), errors.Is(err, run.ErrIncompleteToolResults):
		return t, fmt.Errorf("%w: %w", errRunUnfinished, err)
	case err != nil:
		return t, fmt.Errorf("driving run: %w", err)
	}
	if out.Status != run.Completed {
		return t, fmt.Errorf("%w: run %s", errRunUnfinished, out.Status)
	}

	t.Reply = out.Reply
	o.saveExchange(contactID, threadID, text, out.Reply, logger)
	return t, nil
}

// ensureThread returns the contact's thread, creating one and posting the
// preamble when the contact has none yet.
func (o *Orchestrator) ensureThread(ctx context.Context, contactID string, org tools.OrgContext, logger *slog.Logger) (string, error) {
	threadID, err := o.store.LoadThreadFor(ctx, contactID)
	if err != nil {
		return "", fmt.Errorf("loading thread: %w", err)
	}
	if threadID != "" {
		return threadID, nil
	}

	threadID, err = o.backend.CreateThread(ctx)
	if err != nil {
		return "", fmt.Errorf("creating thread: %w", err)
	}

	if o.preamble != nil {
		text, err := o.preamble.Preamble(ctx, contactID, org)
		if err != nil {
			return "", fmt.Errorf("building preamble: %w", err)
		}
		if text != "" {
			if err := o.backend.PostMessage(ctx, threadID, roleUser, text); err != nil {
				return "", fmt.Errorf("posting preamble: %w", err)
			}
		}
	}

	err = o.store.SaveThreadFor(ctx, contactID, threadID)
	if errors.Is(err, store.ErrThreadAlreadySet) {
		// Another process attached a thread first; use theirs.
		existing, loadErr := o.store.LoadThreadFor(ctx, contactID)
		if loadErr != nil {
			return "", fmt.Errorf("loading thread after conflict: %w", loadErr)
		}
		logger.Warn("thread already attached, discarding new one",
			"thread_id", existing,
			"discarded_thread_id", threadID)
		return existing, nil
	}
	if err != nil {
		return "", fmt.Errorf("saving thread: %w", err)
	}

	logger.Info("started thread", "thread_id", threadID)
	return threadID, nil
}

// qualify evaluates text against the contact's stored state. Storage problems
// are logged and never block the turn.
func (o *Orchestrator) qualify(ctx context.Context, contactID, text string, logger *slog.Logger) (qualify.State, bool) {
	prior, err := o.store.LoadQualification(ctx, contactID)
	loaded := err == nil
	if err != nil {
		logger.Warn("loading qualification failed, scoring from scratch", "error", err)
		prior = qualify.State{}
	}

	next, ready := o.scorer.Evaluate(ctx, prior, text)
	if !loaded {
		return next, ready
	}
	if next != prior {
		if err := o.store.SaveQualification(ctx, contactID, next); err != nil {
			logger.Warn("saving qualification failed", "error", err)
		}
	}
	return next, ready
}

// saveExchange persists a completed turn on a detached context so a caller
// hanging up does not lose the record.
func (o *Orchestrator) saveExchange(contactID, threadID, input, reply string, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()

	err := o.store.SaveExchange(ctx, &store.Exchange{
		ContactID: contactID,
		ThreadID:  threadID,
		Input:     input,
		Response:  reply,
	})
	if err != nil {
		logger.Error("failed to save exchange", "thread_id", threadID, "error", err)
	}
}

// ResetConversation detaches the contact's thread and clears qualification so
// the next turn starts a fresh conversation.
func (o *Orchestrator) ResetConversation(ctx context.Context, contactID string) error {
	unlock, err := o.locks.Lock(ctx, contactID)
	if err != nil {
		return fmt.Errorf("waiting for contact lock: %w", err)
	}
	defer unlock()

	if err := o.store.ClearConversation(ctx, contactID); err != nil {
		return fmt.Errorf("clearing conversation: %w", err)
	}
	o.logger.Info("conversation reset", "contact_id", contactID)
	return nil
}
