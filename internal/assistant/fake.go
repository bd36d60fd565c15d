// ABOUTME: Scriptable in-memory thread/run backend for tests and offline runs
// ABOUTME: Each run follows a RunPlan: in-progress polls, one optional tool round, then a final status

package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/salesgenio/lead-gateway/internal/run"
	"github.com/salesgenio/lead-gateway/internal/tools"
)

// ErrUnknownThread is returned by Fake for thread ids it did not create.
var ErrUnknownThread = errors.New("unknown thread")

// ErrUnknownRun is returned by Fake for run ids it did not create.
var ErrUnknownRun = errors.New("unknown run")

// RunPlan scripts how one Fake run behaves.
type RunPlan struct {
	// InProgressPolls is the number of status reads that report in_progress
	// before the run moves on.
	InProgressPolls int
	// ToolCalls, when set, produce one requires_action round.
	ToolCalls []tools.Call
	// Reply is posted as the assistant message when the run completes.
	// Empty means the run completes without a message.
	Reply string
	// FinalStatus defaults to run.Completed.
	FinalStatus run.Status
	// NeverFinish keeps the run in_progress forever.
	NeverFinish bool
	// FailReads makes the first N status reads fail with a transient error.
	FailReads int
}

// Fake is an in-memory backend. The zero value is not usable; use NewFake.
type Fake struct {
	mu      sync.Mutex
	threads map[string][]run.Message // oldest first
	runs    map[string]*fakeRun
	plans   []RunPlan

	// PlanFor, when set, decides the plan for runs once queued plans are used up.
	// It receives the text of the newest user message.
	PlanFor func(lastUserText string) RunPlan

	createdThreads int
	submissions    [][]tools.Result
	cancelled      []string
	toolDefs       [][]tools.Definition
}

type fakeRun struct {
	threadID  string
	plan      RunPlan
	reads     int
	failed    int
	submitted bool
	finished  bool
}

// NewFake creates a Fake that echoes the user's message unless plans are queued.
func NewFake() *Fake {
	return &Fake{
		threads: make(map[string][]run.Message),
		runs:    make(map[string]*fakeRun),
	}
}

// Queue appends plans consumed by subsequent CreateRun calls, in order.
func (f *Fake) Queue(plans ...RunPlan) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.plans = append(f.plans, plans...)
}

// CreateThread implements the orchestrator backend.
func (f *Fake) CreateThread(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := "thread_" + uuid.NewString()
	f.threads[id] = nil
	f.createdThreads++
	return id, nil
}

// PostMessage implements the orchestrator backend.
func (f *Fake) PostMessage(ctx context.Context, threadID, role, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if role != RoleUser && role != RoleAssistant {
		return fmt.Errorf("%w: %q", ErrUnsupportedRole, role)
	}
	msgs, ok := f.threads[threadID]
	if !ok {
		return run.Permanent(ErrUnknownThread)
	}
	f.threads[threadID] = append(msgs, run.Message{Role: role, Text: text})
	return nil
}

// CreateRun implements the orchestrator backend.
func (f *Fake) CreateRun(ctx context.Context, threadID string, defs []tools.Definition) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	msgs, ok := f.threads[threadID]
	if !ok {
		return "", run.Permanent(ErrUnknownThread)
	}
	for _, r := range f.runs {
		if r.threadID == threadID && !r.finished {
			return "", fmt.Errorf("thread %s already has an active run", threadID)
		}
	}

	var plan RunPlan
	switch {
	case len(f.plans) > 0:
		plan = f.plans[0]
		f.plans = f.plans[1:]
	case f.PlanFor != nil:
		plan = f.PlanFor(lastUserText(msgs))
	default:
		plan = RunPlan{Reply: "You said: " + lastUserText(msgs)}
	}
	if plan.FinalStatus == "" {
		plan.FinalStatus = run.Completed
	}

	id := "run_" + uuid.NewString()
	f.runs[id] = &fakeRun{threadID: threadID, plan: plan}
	f.toolDefs = append(f.toolDefs, defs)
	return id, nil
}

func lastUserText(msgs []run.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == RoleUser {
			return msgs[i].Text
		}
	}
	return ""
}

// GetRun implements run.Backend.
func (f *Fake) GetRun(ctx context.Context, threadID, runID string) (run.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	r, ok := f.runs[runID]
	if !ok || r.threadID != threadID {
		return run.Snapshot{}, run.Permanent(ErrUnknownRun)
	}
	if r.failed < r.plan.FailReads {
		r.failed++
		return run.Snapshot{}, errors.New("fake: transient read failure")
	}
	if r.finished {
		return run.Snapshot{Status: r.plan.FinalStatus}, nil
	}

	r.reads++
	if r.plan.NeverFinish || r.reads <= r.plan.InProgressPolls {
		return run.Snapshot{Status: run.InProgress}, nil
	}
	if len(r.plan.ToolCalls) > 0 && !r.submitted {
		return run.Snapshot{Status: run.RequiresAction, ToolCalls: r.plan.ToolCalls}, nil
	}

	r.finished = true
	if r.plan.FinalStatus == run.Completed && r.plan.Reply != "" {
		f.threads[threadID] = append(f.threads[threadID], run.Message{
			Role:  RoleAssistant,
			Text:  r.plan.Reply,
			RunID: runID,
		})
	}
	return run.Snapshot{Status: r.plan.FinalStatus}, nil
}

// SubmitToolResults implements run.Backend. It rejects batches that do not
// answer every pending call.
func (f *Fake) SubmitToolResults(ctx context.Context, threadID, runID string, results []tools.Result) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	r, ok := f.runs[runID]
	if !ok || r.threadID != threadID {
		return run.Permanent(ErrUnknownRun)
	}
	if len(r.plan.ToolCalls) == 0 || r.submitted {
		return run.Permanent(errors.New("run is not waiting for tool outputs"))
	}
	if len(results) != len(r.plan.ToolCalls) {
		return run.Permanent(fmt.Errorf("expected %d tool outputs, got %d", len(r.plan.ToolCalls), len(results)))
	}

	r.submitted = true
	batch := make([]tools.Result, len(results))
	copy(batch, results)
	f.submissions = append(f.submissions, batch)
	return nil
}

// ListRecentMessages implements run.Backend.
func (f *Fake) ListRecentMessages(ctx context.Context, threadID string, limit int) ([]run.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	msgs, ok := f.threads[threadID]
	if !ok {
		return nil, run.Permanent(ErrUnknownThread)
	}
	out := make([]run.Message, 0, limit)
	for i := len(msgs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, msgs[i])
	}
	return out, nil
}

// CancelRun implements run.Canceller.
func (f *Fake) CancelRun(ctx context.Context, threadID, runID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	r, ok := f.runs[runID]
	if !ok {
		return run.Permanent(ErrUnknownRun)
	}
	r.finished = true
	r.plan.FinalStatus = run.Cancelled
	f.cancelled = append(f.cancelled, runID)
	return nil
}

// Messages returns a thread's messages, oldest first.
func (f *Fake) Messages(threadID string) []run.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]run.Message(nil), f.threads[threadID]...)
}

// Transcript renders a thread as "role: text" lines, oldest first.
func (f *Fake) Transcript(threadID string) string {
	var b strings.Builder
	for _, m := range f.Messages(threadID) {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Text)
	}
	return b.String()
}

// ThreadsCreated returns how many threads were created.
func (f *Fake) ThreadsCreated() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createdThreads
}

// Submissions returns every accepted tool-output batch.
func (f *Fake) Submissions() [][]tools.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]tools.Result(nil), f.submissions...)
}

// Cancelled returns the ids of runs cancelled through CancelRun.
func (f *Fake) Cancelled() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cancelled...)
}

// ToolDefinitions returns the tool definitions offered to each run, in order.
func (f *Fake) ToolDefinitions() [][]tools.Definition {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]tools.Definition(nil), f.toolDefs...)
}
