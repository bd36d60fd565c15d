// ABOUTME: Thread-safe registry mapping tool names to handlers.
// ABOUTME: Dispatch contains unknown names, handler errors, panics and timeouts in the Result.

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/salesgenio/lead-gateway/internal/metrics"
)

// ErrToolCollision indicates a tool name is already registered.
var ErrToolCollision = errors.New("tool name collision")

// UnsupportedTool is the error message returned for unregistered tool names.
const UnsupportedTool = "unsupported tool"

// DefaultTimeout bounds a single handler invocation.
const DefaultTimeout = 5 * time.Second

// maxParallel caps concurrent handler invocations within one batch.
const maxParallel = 8

// Registry maps tool names to handlers.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	timeout time.Duration
	logger  *slog.Logger
}

// RegistryConfig contains configuration options for the Registry.
type RegistryConfig struct {
	Logger  *slog.Logger
	Timeout time.Duration
}

// NewRegistry creates an empty Registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:   make(map[string]Tool),
		timeout: timeout,
		logger:  logger.With("component", "tools"),
	}
}

// Register adds tools. Returns ErrToolCollision, and registers none of them,
// if any name is empty, repeated, or already registered.
func (r *Registry) Register(tools ...Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]bool, len(tools))
	for _, t := range tools {
		name := t.Definition().Name
		if name == "" {
			return fmt.Errorf("%w: empty tool name", ErrToolCollision)
		}
		if _, exists := r.tools[name]; exists || seen[name] {
			return fmt.Errorf("%w: tool '%s' already registered", ErrToolCollision, name)
		}
		seen[name] = true
	}

	for _, t := range tools {
		r.tools[t.Definition().Name] = t
		r.logger.Debug("registered tool", "tool_name", t.Definition().Name)
	}
	return nil
}

// Get returns the tool registered under name, or nil.
func (r *Registry) Get(name string) Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Definitions returns every registered tool's definition sorted by name.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]Definition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, t.Definition())
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

type invocation struct {
	value any
	err   error
}

// Dispatch runs one call. It never fails: every problem is reported in the
// returned Result's ErrorMessage.
func (r *Registry) Dispatch(ctx context.Context, call Call, org OrgContext) Result {
	tool := r.Get(call.Name)
	if tool == nil {
		r.logger.Warn("unsupported tool requested",
			"tool_name", call.Name,
			"call_id", call.ID,
		)
		metrics.ObserveToolCall("unsupported", "unsupported", 0)
		return Result{CallID: call.ID, ErrorMessage: UnsupportedTool}
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	// Buffered so a handler that outlives the timeout does not leak its goroutine.
	done := make(chan invocation, 1)
	start := time.Now()
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- invocation{err: fmt.Errorf("tool %s panicked: %v", call.Name, p)}
			}
		}()
		v, err := tool.Invoke(ctx, call.Arguments, org)
		done <- invocation{value: v, err: err}
	}()

	var res Result
	outcome := "ok"
	select {
	case inv := <-done:
		res = r.result(call, inv)
		if res.ErrorMessage != "" {
			outcome = "error"
		}
	case <-ctx.Done():
		outcome = "timeout"
		res = Result{CallID: call.ID, ErrorMessage: fmt.Sprintf("tool %s timed out", call.Name)}
		if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			res.ErrorMessage = fmt.Sprintf("tool %s cancelled", call.Name)
		}
	}

	elapsed := time.Since(start)
	metrics.ObserveToolCall(call.Name, outcome, elapsed)
	if outcome == "ok" {
		r.logger.Debug("tool call completed",
			"tool_name", call.Name,
			"call_id", call.ID,
			"duration", elapsed,
		)
	} else {
		r.logger.Warn("tool call failed",
			"tool_name", call.Name,
			"call_id", call.ID,
			"outcome", outcome,
			"error", res.ErrorMessage,
		)
	}
	return res
}

func (r *Registry) result(call Call, inv invocation) Result {
	if inv.err != nil {
		return Result{CallID: call.ID, ErrorMessage: inv.err.Error()}
	}
	payload, err := json.Marshal(inv.value)
	if err != nil {
		return Result{CallID: call.ID, ErrorMessage: fmt.Sprintf("encoding result: %v", err)}
	}
	return Result{CallID: call.ID, Payload: payload}
}

// DispatchAll runs calls concurrently and returns one Result per call, in
// the order of calls.
func (r *Registry) DispatchAll(ctx context.Context, calls []Call, org OrgContext) []Result {
	results := make([]Result, len(calls))

	var g errgroup.Group
	g.SetLimit(maxParallel)
	for i, call := range calls {
		g.Go(func() error {
			results[i] = r.Dispatch(ctx, call, org)
			return nil
		})
	}
	_ = g.Wait()

	return results
}
