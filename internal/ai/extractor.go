package ai

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nhle/mailtasks/internal/model"
)

const (
	defaultContextTokens = 8192
	defaultMessageChars  = 3000
)

// Options tunes the extractor's token budgeting.
type Options struct {
	// ContextTokens is the model's context window.
	ContextTokens int

	// ReplyTokens is reserved out of the window for the response.
	ReplyTokens int

	// MessageChars caps each message inside a batch prompt.
	MessageChars int

	Logger *slog.Logger
}

// MessageResult is the extraction for one message of a batch that was
// processed message by message. Err is set when that message's call
// failed.
type MessageResult struct {
	MessageID string
	Result    Result
	Err       error
}

// BatchResult is the outcome of ExtractBatch. In combined mode Tasks
// holds every task the model returned for the batch, with no attribution
// to individual messages. In fallback mode Results holds exactly one
// entry per input message, in order.
type BatchResult struct {
	Fallback bool

	Tasks      []Draft
	Confidence float64
	Reasoning  string

	Results []MessageResult
}

// Extractor turns email text into task drafts using a Completer.
type Extractor struct {
	llm          Completer
	promptBudget int
	messageChars int
	logger       *slog.Logger
}

// NewExtractor creates an extractor.
func NewExtractor(llm Completer, opts Options) *Extractor {
	if opts.ContextTokens <= 0 {
		opts.ContextTokens = defaultContextTokens
	}
	if opts.ReplyTokens <= 0 {
		opts.ReplyTokens = defaultMaxTokens
	}
	if opts.MessageChars <= 0 {
		opts.MessageChars = defaultMessageChars
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	budget := opts.ContextTokens - opts.ReplyTokens - EstimateTokens(systemPrompt)
	if budget < 1 {
		budget = 1
	}

	return &Extractor{
		llm:          llm,
		promptBudget: budget,
		messageChars: opts.MessageChars,
		logger:       opts.Logger,
	}
}

// Available checks that the backing service answers.
func (e *Extractor) Available(ctx context.Context) error {
	return e.llm.Ping(ctx)
}

// ExtractSingle extracts tasks from one piece of text, truncating it if
// the prompt would not fit the budget. Only a failed model call is an
// error; bad output degrades to an Unparsed result.
func (e *Extractor) ExtractSingle(ctx context.Context, text string) (Result, error) {
	prompt := singlePrompt(text)
	if EstimateTokens(prompt) > e.promptBudget {
		overhead := EstimateTokens(singlePrompt(""))
		maxChars := (e.promptBudget - overhead) * charsPerToken
		// Leave room for the marker.
		maxChars -= len(TruncationMarker) + 1
		if maxChars < 1 {
			maxChars = 1
		}
		prompt = singlePrompt(Truncate(text, maxChars))
	}

	raw, err := e.llm.Complete(ctx, systemPrompt, prompt)
	if err != nil {
		return Result{}, fmt.Errorf("extracting tasks: %w", err)
	}

	res := ParseResult(raw)
	if res.Unparsed {
		e.logger.Warn("model output could not be parsed", "reason", res.Reasoning)
	}
	return res, nil
}

// ExtractBatch extracts tasks from several messages with one model call.
// Each message is first cut to the per-message budget. If the combined
// prompt still exceeds the budget, or the combined reply cannot be
// parsed, it falls back to one ExtractSingle call per message.
func (e *Extractor) ExtractBatch(ctx context.Context, msgs []model.Message) (BatchResult, error) {
	if len(msgs) == 0 {
		return BatchResult{}, nil
	}

	contents := make([]string, len(msgs))
	for i, m := range msgs {
		contents[i] = Truncate(m.Content(), e.messageChars)
	}

	prompt := batchPrompt(msgs, contents)
	if tokens := EstimateTokens(prompt); tokens > e.promptBudget {
		e.logger.Info("batch prompt over budget, extracting per message",
			"messages", len(msgs), "tokens", tokens, "budget", e.promptBudget)
		return e.extractEach(ctx, msgs), nil
	}

	raw, err := e.llm.Complete(ctx, systemPrompt, prompt)
	if err != nil {
		return BatchResult{}, fmt.Errorf("extracting batch: %w", err)
	}

	res := ParseResult(raw)
	if res.Unparsed {
		e.logger.Warn("batch output could not be parsed, extracting per message",
			"messages", len(msgs), "reason", res.Reasoning)
		return e.extractEach(ctx, msgs), nil
	}

	return BatchResult{
		Tasks:      res.Tasks,
		Confidence: res.Confidence,
		Reasoning:  res.Reasoning,
	}, nil
}

func (e *Extractor) extractEach(ctx context.Context, msgs []model.Message) BatchResult {
	out := BatchResult{Fallback: true, Results: make([]MessageResult, len(msgs))}
	for i, m := range msgs {
		res, err := e.ExtractSingle(ctx, m.Content())
		out.Results[i] = MessageResult{MessageID: m.ID, Result: res, Err: err}
	}
	return out
}
