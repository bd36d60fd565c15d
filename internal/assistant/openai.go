// ABOUTME: Thread/run backend on the OpenAI Assistants API via github.com/openai/openai-go
// ABOUTME: Maps SDK runs, tool calls and messages onto run and tools types

package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/salesgenio/lead-gateway/internal/run"
	"github.com/salesgenio/lead-gateway/internal/tools"
)

// ErrUnsupportedRole is returned by PostMessage for roles the API does not accept.
var ErrUnsupportedRole = errors.New("unsupported message role")

// Message roles accepted by PostMessage.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// OpenAIConfig configures the OpenAI backend.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	AssistantID string
	// Instructions are appended to the assistant's own instructions on every run.
	Instructions   string
	RequestTimeout time.Duration
	MaxRetries     int
	Logger         *slog.Logger
}

// OpenAI implements the thread/run backend on the Assistants API.
type OpenAI struct {
	client       openai.Client
	assistantID  string
	instructions string
	logger       *slog.Logger
}

// NewOpenAI creates an OpenAI backend.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai api key is required")
	}
	if cfg.AssistantID == "" {
		return nil, errors.New("openai assistant id is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &OpenAI{
		client:       openai.NewClient(clientOptions(cfg.APIKey, cfg.BaseURL, cfg.RequestTimeout, cfg.MaxRetries)...),
		assistantID:  cfg.AssistantID,
		instructions: cfg.Instructions,
		logger:       logger.With("component", "assistant"),
	}, nil
}

func clientOptions(apiKey, baseURL string, timeout time.Duration, maxRetries int) []option.RequestOption {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(timeout))
	}
	if maxRetries > 0 {
		opts = append(opts, option.WithMaxRetries(maxRetries))
	}
	return opts
}

// CreateThread opens a new conversation thread.
func (o *OpenAI) CreateThread(ctx context.Context) (string, error) {
	thread, err := o.client.Beta.Threads.New(ctx, openai.BetaThreadNewParams{})
	if err != nil {
		return "", fmt.Errorf("creating thread: %w", classify(err))
	}
	o.logger.Debug("created thread", "thread_id", thread.ID)
	return thread.ID, nil
}

// PostMessage appends a message to a thread.
func (o *OpenAI) PostMessage(ctx context.Context, threadID, role, text string) error {
	var apiRole openai.BetaThreadMessageNewParamsRole
	switch role {
	case RoleUser:
		apiRole = openai.BetaThreadMessageNewParamsRoleUser
	case RoleAssistant:
		apiRole = openai.BetaThreadMessageNewParamsRoleAssistant
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedRole, role)
	}

	_, err := o.client.Beta.Threads.Messages.New(ctx, threadID, openai.BetaThreadMessageNewParams{
		Role: apiRole,
		Content: openai.BetaThreadMessageNewParamsContentUnion{
			OfString: openai.String(text),
		},
	})
	if err != nil {
		return fmt.Errorf("posting message: %w", classify(err))
	}
	return nil
}

// CreateRun starts the assistant on a thread, offering it defs as function tools.
func (o *OpenAI) CreateRun(ctx context.Context, threadID string, defs []tools.Definition) (string, error) {
	params := openai.BetaThreadRunNewParams{
		AssistantID: o.assistantID,
	}
	if o.instructions != "" {
		params.AdditionalInstructions = openai.String(o.instructions)
	}
	for _, d := range defs {
		fn, err := functionTool(d)
		if err != nil {
			return "", err
		}
		params.Tools = append(params.Tools, fn)
	}

	r, err := o.client.Beta.Threads.Runs.New(ctx, threadID, params)
	if err != nil {
		return "", fmt.Errorf("creating run: %w", classify(err))
	}
	o.logger.Debug("created run", "thread_id", threadID, "run_id", r.ID, "tools", len(defs))
	return r.ID, nil
}

func functionTool(d tools.Definition) (openai.AssistantToolUnionParam, error) {
	params := openai.FunctionParameters{}
	if len(d.Parameters) > 0 {
		if err := json.Unmarshal(d.Parameters, &params); err != nil {
			return openai.AssistantToolUnionParam{}, fmt.Errorf("tool %s schema: %w", d.Name, err)
		}
	}
	return openai.AssistantToolUnionParam{
		OfFunction: &openai.FunctionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        d.Name,
				Description: openai.String(d.Description),
				Parameters:  params,
			},
		},
	}, nil
}

// GetRun reads a run's status and any pending tool calls.
func (o *OpenAI) GetRun(ctx context.Context, threadID, runID string) (run.Snapshot, error) {
	r, err := o.client.Beta.Threads.Runs.Get(ctx, threadID, runID)
	if err != nil {
		return run.Snapshot{}, fmt.Errorf("getting run: %w", classify(err))
	}

	snap := run.Snapshot{
		Status:    run.ParseStatus(string(r.Status)),
		LastError: r.LastError.Message,
	}
	if snap.Status == run.RequiresAction {
		for _, tc := range r.RequiredAction.SubmitToolOutputs.ToolCalls {
			snap.ToolCalls = append(snap.ToolCalls, tools.Call{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: json.RawMessage(tc.Function.Arguments),
			})
		}
	}
	return snap, nil
}

// SubmitToolResults resumes a run waiting on tool calls.
func (o *OpenAI) SubmitToolResults(ctx context.Context, threadID, runID string, results []tools.Result) error {
	outputs := make([]openai.BetaThreadRunSubmitToolOutputsParamsToolOutput, 0, len(results))
	for _, res := range results {
		outputs = append(outputs, openai.BetaThreadRunSubmitToolOutputsParamsToolOutput{
			ToolCallID: openai.String(res.CallID),
			Output:     openai.String(res.Output()),
		})
	}

	_, err := o.client.Beta.Threads.Runs.SubmitToolOutputs(ctx, threadID, runID, openai.BetaThreadRunSubmitToolOutputsParams{
		ToolOutputs: outputs,
	})
	if err != nil {
		return fmt.Errorf("submitting tool outputs: %w", classify(err))
	}
	return nil
}

// ListRecentMessages returns up to limit messages, newest first.
func (o *OpenAI) ListRecentMessages(ctx context.Context, threadID string, limit int) ([]run.Message, error) {
	page, err := o.client.Beta.Threads.Messages.List(ctx, threadID, openai.BetaThreadMessageListParams{
		Order: openai.BetaThreadMessageListParamsOrderDesc,
		Limit: openai.Int(int64(limit)),
	})
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", classify(err))
	}

	msgs := make([]run.Message, 0, len(page.Data))
	for _, m := range page.Data {
		msgs = append(msgs, run.Message{
			Role:  string(m.Role),
			Text:  messageText(m),
			RunID: m.RunID,
		})
	}
	return msgs, nil
}

// messageText joins the text parts of a message; images and other parts are skipped.
func messageText(m openai.Message) string {
	var text string
	for _, part := range m.Content {
		if part.Type != "text" {
			continue
		}
		if text != "" {
			text += "\n"
		}
		text += part.Text.Value
	}
	return text
}

// CancelRun asks the API to stop a run.
func (o *OpenAI) CancelRun(ctx context.Context, threadID, runID string) error {
	if _, err := o.client.Beta.Threads.Runs.Cancel(ctx, threadID, runID); err != nil {
		return fmt.Errorf("cancelling run: %w", classify(err))
	}
	return nil
}

// classify marks client errors other than timeouts and rate limits as
// permanent so the poller stops retrying them.
func classify(err error) error {
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	switch {
	case apiErr.StatusCode == http.StatusRequestTimeout,
		apiErr.StatusCode == http.StatusConflict,
		apiErr.StatusCode == http.StatusTooManyRequests:
		return err
	case apiErr.StatusCode >= 400 && apiErr.StatusCode < 500:
		return run.Permanent(err)
	}
	return err
}
