// ABOUTME: Poller drives one backend run from submission to a terminal status
// ABOUTME: Handles backoff, deadline expiry, transient read errors and tool-call rounds

package run

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/salesgenio/lead-gateway/internal/metrics"
	"github.com/salesgenio/lead-gateway/internal/tools"
)

// ErrIncompleteToolResults indicates the resolver did not answer every pending
// call exactly once. The run is not resumed.
var ErrIncompleteToolResults = errors.New("incomplete tool results")

// ErrNoReply indicates a completed run left no assistant message to return.
var ErrNoReply = errors.New("completed run has no assistant reply")

// ErrRunTimeout indicates the local deadline passed before a terminal status.
var ErrRunTimeout = errors.New("run did not finish before deadline")

// ErrTooManyErrors indicates status reads kept failing.
var ErrTooManyErrors = errors.New("too many consecutive backend errors")

// Defaults for PollerConfig.
const (
	DefaultInitialInterval      = 500 * time.Millisecond
	DefaultMaxInterval          = 5 * time.Second
	DefaultMultiplier           = 2.0
	DefaultTimeout              = 90 * time.Second
	DefaultMaxConsecutiveErrors = 5
	DefaultReplyScanLimit       = 10
	cancelTimeout               = 5 * time.Second
)

// Snapshot is one status read of a run.
type Snapshot struct {
	Status    Status
	ToolCalls []tools.Call // set when Status is RequiresAction
	LastError string       // backend's reason for a failed run, if any
}

// Message is a thread message as returned by ListRecentMessages.
type Message struct {
	Role  string // "user" or "assistant"
	Text  string
	RunID string // run that produced the message; may be empty
}

// Backend is the slice of the thread/run API the poller needs.
type Backend interface {
	GetRun(ctx context.Context, threadID, runID string) (Snapshot, error)
	SubmitToolResults(ctx context.Context, threadID, runID string, results []tools.Result) error
	// ListRecentMessages returns up to limit messages, newest first.
	ListRecentMessages(ctx context.Context, threadID string, limit int) ([]Message, error)
}

// Canceller is implemented by backends that can stop a run server-side.
type Canceller interface {
	CancelRun(ctx context.Context, threadID, runID string) error
}

// ToolResolver answers the tool calls of a requires_action round.
type ToolResolver interface {
	Resolve(ctx context.Context, calls []tools.Call) []tools.Result
}

// ResolverFunc adapts a function to ToolResolver.
type ResolverFunc func(ctx context.Context, calls []tools.Call) []tools.Result

// Resolve implements ToolResolver.
func (f ResolverFunc) Resolve(ctx context.Context, calls []tools.Call) []tools.Result {
	return f(ctx, calls)
}

// Execution is the state of the run being driven. It lives for one Drive call.
type Execution struct {
	ThreadID         string
	RunID            string
	Status           Status
	PendingToolCalls []tools.Call
	Attempt          int
}

// Outcome is the result of driving a run.
type Outcome struct {
	Status     Status
	Reply      string
	Polls      int
	ToolRounds int
	Elapsed    time.Duration
}

// PollerConfig contains configuration options for the Poller.
type PollerConfig struct {
	Backend              Backend
	Logger               *slog.Logger
	InitialInterval      time.Duration
	MaxInterval          time.Duration
	Multiplier           float64
	Timeout              time.Duration
	MaxConsecutiveErrors int
	ReplyScanLimit       int
}

// Poller drives runs on a Backend.
type Poller struct {
	backend Backend
	logger  *slog.Logger
	cfg     PollerConfig
}

// NewPoller creates a Poller, filling zero config values with defaults.
func NewPoller(cfg PollerConfig) *Poller {
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = DefaultInitialInterval
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = DefaultMaxInterval
	}
	if cfg.MaxInterval < cfg.InitialInterval {
		cfg.MaxInterval = cfg.InitialInterval
	}
	if cfg.Multiplier == 0 {
		cfg.Multiplier = DefaultMultiplier
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxConsecutiveErrors <= 0 {
		cfg.MaxConsecutiveErrors = DefaultMaxConsecutiveErrors
	}
	if cfg.ReplyScanLimit <= 0 {
		cfg.ReplyScanLimit = DefaultReplyScanLimit
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Poller{
		backend: cfg.Backend,
		logger:  logger.With("component", "run"),
		cfg:     cfg,
	}
}

// Drive polls runID until it reaches a terminal status, resolving tool calls
// along the way. The returned Outcome always carries a terminal Status.
//
// The error is nil for a completed run with a reply and for terminal statuses
// reported by the backend. It is non-nil when the run expired locally
// (ErrRunTimeout), status reads kept failing (ErrTooManyErrors), a tool round
// could not be fully answered (ErrIncompleteToolResults), or a completed run
// had no reply (ErrNoReply).
func (p *Poller) Drive(parent context.Context, threadID, runID string, resolver ToolResolver) (*Outcome, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, p.cfg.Timeout)
	defer cancel()

	exec := &Execution{ThreadID: threadID, RunID: runID, Status: Submitted}
	logger := p.logger.With("thread_id", threadID, "run_id", runID)
	wait := newBackoff(p.cfg.InitialInterval, p.cfg.MaxInterval, p.cfg.Multiplier)
	out := &Outcome{}
	// Read and submit failures are counted separately; a successful status
	// read must not hide a submit that keeps failing.
	readErrors, submitErrors := 0, 0

	finish := func(status Status, err error) (*Outcome, error) {
		exec.Status = status
		out.Status = status
		out.Polls = exec.Attempt
		out.Elapsed = time.Since(start)
		metrics.ObserveRun(string(status), out.Elapsed, out.Polls)
		logger.Info("run finished",
			"status", status,
			"polls", out.Polls,
			"tool_rounds", out.ToolRounds,
			"elapsed", out.Elapsed,
		)
		return out, err
	}

	expire := func(cause error) (*Outcome, error) {
		logger.Warn("run abandoned locally", "attempt", exec.Attempt, "cause", cause)
		p.cancelRun(ctx, threadID, runID, logger)
		return finish(Expired, fmt.Errorf("%w: %v", ErrRunTimeout, cause))
	}

	// backendError counts a failed call against the retry budget and reports
	// whether the run should stop.
	backendError := func(op string, err error, count *int) (*Outcome, bool, error) {
		if ctx.Err() != nil {
			o, e := expire(ctx.Err())
			return o, true, e
		}
		if IsPermanent(err) {
			o, e := finish(Failed, fmt.Errorf("%s: %w", op, err))
			return o, true, e
		}
		*count++
		logger.Warn("transient backend error",
			"op", op,
			"attempt", exec.Attempt,
			"consecutive", *count,
			"error", err,
		)
		if *count >= p.cfg.MaxConsecutiveErrors {
			o, e := finish(Failed, fmt.Errorf("%w: %s: %v", ErrTooManyErrors, op, err))
			return o, true, e
		}
		return nil, false, nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return expire(err)
		}

		exec.Attempt++
		snap, err := p.backend.GetRun(ctx, threadID, runID)
		if err != nil {
			if o, stop, e := backendError("reading run status", err, &readErrors); stop {
				return o, e
			}
			if !sleep(ctx, wait.Next()) {
				return expire(ctx.Err())
			}
			continue
		}
		readErrors = 0

		if snap.Status != exec.Status {
			logger.Debug("run status changed", "from", exec.Status, "to", snap.Status, "attempt", exec.Attempt)
			exec.Status = snap.Status
		}

		switch snap.Status {
		case Completed:
			reply, err := p.extractReply(ctx, threadID, runID)
			if err != nil {
				logger.Error("reply extraction failed", "error", err)
				return finish(Completed, err)
			}
			out.Reply = reply
			return finish(Completed, nil)

		case Failed, Cancelled, Expired:
			if snap.LastError != "" {
				logger.Warn("run ended by backend", "status", snap.Status, "reason", snap.LastError)
			}
			return finish(snap.Status, nil)

		case RequiresAction:
			if len(snap.ToolCalls) == 0 {
				logger.Warn("requires_action without tool calls", "attempt", exec.Attempt)
				break
			}
			exec.PendingToolCalls = snap.ToolCalls

			results := resolver.Resolve(ctx, snap.ToolCalls)
			if err := matchResults(snap.ToolCalls, results); err != nil {
				logger.Error("refusing to resume run", "error", err)
				p.cancelRun(ctx, threadID, runID, logger)
				return finish(Failed, err)
			}

			if err := p.backend.SubmitToolResults(ctx, threadID, runID, results); err != nil {
				if o, stop, e := backendError("submitting tool results", err, &submitErrors); stop {
					return o, e
				}
				break
			}
			submitErrors = 0
			out.ToolRounds++
			logger.Debug("submitted tool results", "count", len(results), "round", out.ToolRounds)
			exec.PendingToolCalls = nil
			exec.Status = InProgress
			wait.Reset()
		}

		if !sleep(ctx, wait.Next()) {
			return expire(ctx.Err())
		}
	}
}

// matchResults checks results answer calls one-to-one by call id.
func matchResults(calls []tools.Call, results []tools.Result) error {
	if len(results) != len(calls) {
		return fmt.Errorf("%w: %d calls, %d results", ErrIncompleteToolResults, len(calls), len(results))
	}
	pending := make(map[string]bool, len(calls))
	for _, c := range calls {
		pending[c.ID] = true
	}
	for _, r := range results {
		if !pending[r.CallID] {
			return fmt.Errorf("%w: unexpected or repeated call id %q", ErrIncompleteToolResults, r.CallID)
		}
		delete(pending, r.CallID)
	}
	return nil
}

// extractReply returns the newest assistant message produced by this run.
// Scanning stops at the first user message, which marks the start of the turn.
func (p *Poller) extractReply(ctx context.Context, threadID, runID string) (string, error) {
	msgs, err := p.backend.ListRecentMessages(ctx, threadID, p.cfg.ReplyScanLimit)
	if err != nil {
		return "", fmt.Errorf("%w: listing messages: %v", ErrNoReply, err)
	}
	for _, m := range msgs {
		if m.Role == "user" {
			break
		}
		if m.Role != "assistant" || m.Text == "" {
			continue
		}
		if m.RunID != "" && m.RunID != runID {
			continue
		}
		return m.Text, nil
	}
	return "", ErrNoReply
}

// cancelRun asks the backend to stop the run if it supports that. The call
// outlives ctx so an expired turn can still clean up.
func (p *Poller) cancelRun(ctx context.Context, threadID, runID string, logger *slog.Logger) {
	c, ok := p.backend.(Canceller)
	if !ok {
		return
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cancelTimeout)
	defer cancel()
	if err := c.CancelRun(cctx, threadID, runID); err != nil {
		logger.Warn("failed to cancel run", "error", err)
	}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks a backend error as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
