// ABOUTME: BANT classifier backed by the chat-completions API
// ABOUTME: Asks for a JSON object of four booleans and parses it into qualify.Signals

package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/openai/openai-go"

	"github.com/salesgenio/lead-gateway/internal/qualify"
)

// ErrUnparseableClassification indicates the model's answer held no usable JSON.
var ErrUnparseableClassification = errors.New("unparseable classification")

// DefaultClassifierModel is used when ClassifierConfig.Model is empty.
const DefaultClassifierModel = "gpt-4o"

const classifierPrompt = `You analyze messages from sales leads using the BANT framework.
Decide, for the message you are given, whether the lead:
- budget_confirmed: mentions or confirms a budget or willingness to spend
- authority_confirmed: is, or speaks for, the person who makes the purchasing decision
- need_confirmed: describes a problem, challenge or need the product could address
- timeline_confirmed: mentions when they want a solution (a date, quarter, urgency)

Answer with exactly one JSON object and nothing else, for example:
{"budget_confirmed": false, "authority_confirmed": false, "need_confirmed": true, "timeline_confirmed": false}`

// ClassifierConfig configures the chat-completions classifier.
type ClassifierConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	RequestTimeout time.Duration
}

// Classifier implements qualify.Classifier with a chat completion.
type Classifier struct {
	client openai.Client
	model  string
}

// NewClassifier creates a Classifier.
func NewClassifier(cfg ClassifierConfig) (*Classifier, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai api key is required")
	}
	model := cfg.Model
	if model == "" {
		model = DefaultClassifierModel
	}
	return &Classifier{
		client: openai.NewClient(clientOptions(cfg.APIKey, cfg.BaseURL, cfg.RequestTimeout, 0)...),
		model:  model,
	}, nil
}

// Classify implements qualify.Classifier.
func (c *Classifier) Classify(ctx context.Context, text string) (qualify.Signals, error) {
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(classifierPrompt),
			openai.UserMessage(text),
		},
		Temperature: openai.Float(0),
	})
	if err != nil {
		return qualify.Signals{}, fmt.Errorf("classifying message: %w", err)
	}
	if len(resp.Choices) == 0 {
		return qualify.Signals{}, fmt.Errorf("%w: no choices", ErrUnparseableClassification)
	}
	return ParseSignals(resp.Choices[0].Message.Content)
}

// ParseSignals extracts the first JSON object from a model answer, tolerating
// surrounding prose and markdown code fences.
func ParseSignals(answer string) (qualify.Signals, error) {
	start := strings.Index(answer, "{")
	end := strings.LastIndex(answer, "}")
	if start < 0 || end < start {
		return qualify.Signals{}, fmt.Errorf("%w: no JSON object in %q", ErrUnparseableClassification, truncate(answer, 80))
	}

	var sig qualify.Signals
	if err := json.Unmarshal([]byte(answer[start:end+1]), &sig); err != nil {
		return qualify.Signals{}, fmt.Errorf("%w: %v", ErrUnparseableClassification, err)
	}
	return sig, nil
}

// truncate keeps at most n runes of s.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for ; n > 0; n-- {
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
	}
	return s[:i] + "..."
}
