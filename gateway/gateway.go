// Package gateway performs one chat completion request against the model backend
// and reduces the response to either a final answer or a single tool call.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpchat/chatmodel"
	"github.com/effective-security/mcpchat/mcp"
	"github.com/effective-security/mcpchat/pkg/llms"
	"github.com/effective-security/mcpchat/pkg/llmutils"
	"github.com/effective-security/mcpchat/pkg/metricskey"
	"github.com/effective-security/x/values"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpchat", "gateway")

const (
	// MaxToolCallsPerTurn is the number of tool calls honored per model response,
	// the rest are dropped.
	MaxToolCallsPerTurn = 1

	DefaultMaxTokens   = 1000
	DefaultTemperature = 0.7

	// DiagnosticPrefix starts the text of answers produced for failed requests.
	DiagnosticPrefix = "❌ model request failed: "
)

var (
	// ErrBackend marks failures of the model backend.
	ErrBackend = errors.New("model backend failure")
	// ErrMalformedToolCall marks tool calls with arguments that are not a JSON object.
	ErrMalformedToolCall = errors.New("malformed tool call")
)

// Outcome is either *DirectAnswer or *ToolCallRequested.
type Outcome interface {
	isOutcome()
}

// DirectAnswer is the final text of the model, or a diagnostic when the request failed.
type DirectAnswer struct {
	Text string
	// Err is the failure the diagnostic text was produced for
	Err error
}

func (*DirectAnswer) isOutcome() {}

// ToolCallRequested is the model's request to invoke a tool.
type ToolCallRequested struct {
	Request mcp.ToolInvocationRequest
	// CallRef is the ID the tool result must refer to
	CallRef string
	// Call is the call as returned by the model, to be echoed back in the conversation
	Call llms.ToolCall
}

func (*ToolCallRequested) isOutcome() {}

// Option configures the Gateway.
type Option func(*Gateway)

// WithMaxTokens sets the max tokens to generate.
func WithMaxTokens(n int) Option {
	return func(g *Gateway) {
		g.maxTokens = n
	}
}

// WithTemperature sets the sampling temperature, zero is kept as is.
func WithTemperature(t float64) Option {
	return func(g *Gateway) {
		g.temperature = t
	}
}

// Gateway sends conversations to the model.
type Gateway struct {
	model       llms.Model
	maxTokens   int
	temperature float64
}

// New returns a Gateway for the model.
func New(model llms.Model, opts ...Option) *Gateway {
	g := &Gateway{
		model:       model,
		maxTokens:   DefaultMaxTokens,
		temperature: DefaultTemperature,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.maxTokens = values.NumbersCoalesce(g.maxTokens, DefaultMaxTokens)
	return g
}

// ModelName returns the name of the model.
func (g *Gateway) ModelName() string {
	return g.model.GetName()
}

// Complete sends the messages to the model. Tools are offered only when schemas
// is not empty. Failures are returned as a DirectAnswer with a diagnostic text.
func (g *Gateway) Complete(ctx context.Context, messages []llms.Message, schemas []llms.Tool) Outcome {
	modelName := g.model.GetName()
	started := time.Now()
	defer metricskey.PerfGatewayCall.MeasureSince(started, modelName)

	opts := []llms.CallOption{
		llms.WithMaxTokens(g.maxTokens),
		llms.WithTemperature(g.temperature),
	}
	if len(schemas) > 0 {
		opts = append(opts,
			llms.WithTools(schemas),
			llms.WithToolChoice(llms.FunctionCallBehaviorAuto),
		)
	}

	resp, err := g.model.GenerateContent(ctx, messages, opts...)
	if err == nil && (resp == nil || len(resp.Choices) == 0) {
		err = errors.New("no choices returned")
	}
	if err != nil {
		metricskey.StatsGatewayCallsFailed.IncrCounter(1, modelName)
		logger.ContextKV(ctx, xlog.ERROR,
			"chat_id", chatmodel.GetChatID(ctx),
			"model", modelName,
			"err", err.Error(),
		)
		return diagnostic(errors.Mark(err, ErrBackend))
	}
	metricskey.StatsGatewayCallsSucceeded.IncrCounter(1, modelName)

	tokensIn, tokensOut, tokensTotal := llmutils.CountTokens(resp)
	metricskey.StatsLLMInputTokens.IncrCounter(float64(tokensIn), modelName)
	metricskey.StatsLLMOutputTokens.IncrCounter(float64(tokensOut), modelName)
	metricskey.StatsLLMTotalTokens.IncrCounter(float64(tokensTotal), modelName)

	choice := resp.Choices[0]
	if len(choice.ToolCalls) == 0 {
		logger.ContextKV(ctx, xlog.DEBUG,
			"chat_id", chatmodel.GetChatID(ctx),
			"status", "direct_answer",
			"stop_reason", choice.StopReason,
			"tokens", tokensTotal,
		)
		return &DirectAnswer{Text: choice.Content}
	}

	if dropped := len(choice.ToolCalls) - MaxToolCallsPerTurn; dropped > 0 {
		metricskey.StatsGatewayToolCallsDropped.IncrCounter(float64(dropped), modelName)
		for _, tc := range choice.ToolCalls[MaxToolCallsPerTurn:] {
			name := ""
			if tc.FunctionCall != nil {
				name = tc.FunctionCall.Name
			}
			logger.ContextKV(ctx, xlog.WARNING,
				"chat_id", chatmodel.GetChatID(ctx),
				"status", "tool_call_dropped",
				"tool", name,
				"id", tc.ID,
			)
		}
	}

	req, err := toolCallRequest(choice.ToolCalls[0])
	if err != nil {
		logger.ContextKV(ctx, xlog.ERROR,
			"chat_id", chatmodel.GetChatID(ctx),
			"status", "malformed_tool_call",
			"err", err.Error(),
		)
		return diagnostic(err)
	}
	logger.ContextKV(ctx, xlog.DEBUG,
		"chat_id", chatmodel.GetChatID(ctx),
		"status", "tool_call",
		"tool", req.Request.ToolName,
		"id", req.CallRef,
	)
	return req
}

func toolCallRequest(tc llms.ToolCall) (*ToolCallRequested, error) {
	if tc.FunctionCall == nil || tc.FunctionCall.Name == "" {
		return nil, errors.Mark(errors.Newf("tool call %q has no function name", tc.ID), ErrMalformedToolCall)
	}
	name := tc.FunctionCall.Name

	args := map[string]any{}
	if raw := tc.FunctionCall.Arguments; raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			return nil, errors.Mark(errors.Wrapf(err, "invalid arguments for tool %q", name), ErrMalformedToolCall)
		}
		// a JSON null decodes to a nil map
		if args == nil {
			args = map[string]any{}
		}
	}

	id := values.StringsCoalesce(tc.ID, fmt.Sprintf("%s_%d", name, 0))
	return &ToolCallRequested{
		Request: mcp.ToolInvocationRequest{
			ToolName:  name,
			Arguments: args,
		},
		CallRef: id,
		Call: llms.ToolCall{
			ID:   id,
			Type: values.StringsCoalesce(tc.Type, "function"),
			FunctionCall: &llms.FunctionCall{
				Name:      name,
				Arguments: tc.FunctionCall.Arguments,
			},
		},
	}, nil
}

func diagnostic(err error) *DirectAnswer {
	return &DirectAnswer{
		Text: DiagnosticPrefix + err.Error(),
		Err:  err,
	}
}
