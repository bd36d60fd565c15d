// ABOUTME: Scorer turns an inbound message plus prior state into updated BANT state
// ABOUTME: Classification is best-effort; any classifier failure degrades to keyword heuristics

package qualify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/salesgenio/lead-gateway/internal/metrics"
)

// Mode selects how signals are derived.
type Mode string

const (
	// ModeClassifier asks the classification backend first and falls back to
	// keywords when it is unavailable or fails.
	ModeClassifier Mode = "classifier"
	// ModeHeuristic uses keywords only.
	ModeHeuristic Mode = "heuristic"
)

// ParseMode validates a configured mode string. Empty means ModeClassifier.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeClassifier:
		return ModeClassifier, nil
	case ModeHeuristic:
		return ModeHeuristic, nil
	default:
		return "", fmt.Errorf("unknown qualification mode %q", s)
	}
}

// Classifier derives BANT signals from a message.
type Classifier interface {
	Classify(ctx context.Context, text string) (Signals, error)
}

// DefaultClassifyTimeout bounds a single classification call.
const DefaultClassifyTimeout = 15 * time.Second

// Scorer evaluates messages against the qualification rubric.
type Scorer struct {
	classifier Classifier
	mode       Mode
	timeout    time.Duration
	logger     *slog.Logger
}

// ScorerConfig configures a Scorer.
type ScorerConfig struct {
	// Classifier may be nil, in which case only keywords are used.
	Classifier Classifier
	Mode       Mode
	Timeout    time.Duration
	Logger     *slog.Logger
}

// NewScorer creates a Scorer.
func NewScorer(cfg ScorerConfig) *Scorer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultClassifyTimeout
	}
	mode := cfg.Mode
	if mode == "" {
		mode = ModeClassifier
	}
	return &Scorer{
		classifier: cfg.Classifier,
		mode:       mode,
		timeout:    timeout,
		logger:     logger.With("component", "qualify"),
	}
}

// Evaluate merges the signals found in message into prior and reports whether
// the resulting state is meeting-ready. It never fails.
func (s *Scorer) Evaluate(ctx context.Context, prior State, message string) (State, bool) {
	sig, source := s.signals(ctx, message)
	next := prior.Merge(sig)
	ready := next.MeetingReady()

	metrics.ObserveQualification(source, ready)
	s.logger.Debug("message qualified",
		"source", source,
		"score", next.Score(),
		"ready", ready)

	return next, ready
}

func (s *Scorer) signals(ctx context.Context, message string) (Signals, string) {
	if strings.TrimSpace(message) == "" {
		return Signals{}, "empty"
	}
	if s.mode == ModeHeuristic || s.classifier == nil {
		return DetectKeywords(message), "heuristic"
	}

	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	sig, err := s.classifier.Classify(cctx, message)
	if err != nil {
		s.logger.Warn("classification failed, using keyword fallback", "error", err)
		return DetectKeywords(message), "fallback"
	}
	return sig, "classifier"
}
