package openai

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpchat/pkg/llms"
	"github.com/effective-security/x/values"
	"github.com/effective-security/xlog"
	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpchat", "openai")

var (
	// ErrEmptyResponse is returned when the OpenAI API returns an empty response.
	ErrEmptyResponse = errors.New("no response")
	// ErrMissingToken is returned when the API token is not provided.
	ErrMissingToken = errors.New("missing the OpenAI API key")
)

// LLM is a chat model served by an OpenAI-compatible chat completion API.
type LLM struct {
	client openai.Client
	model  string
}

var _ llms.Model = (*LLM)(nil)

// New returns a new OpenAI LLM.
func New(opts ...Option) (*LLM, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.token == "" {
		return nil, errors.WithStack(ErrMissingToken)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(o.token),
		option.WithMaxRetries(o.maxRetries),
	}
	if o.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(o.baseURL))
	}
	if o.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(o.organization))
	}
	if o.httpClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(o.httpClient))
	}

	return &LLM{
		client: openai.NewClient(reqOpts...),
		model:  values.StringsCoalesce(o.model, DefaultModel),
	}, nil
}

// GetProviderType implements the Model interface.
func (o *LLM) GetProviderType() llms.ProviderType {
	return llms.ProviderOpenAI
}

// GetName implements the Model interface.
func (o *LLM) GetName() string {
	return o.model
}

// GenerateContent implements the Model interface.
func (o *LLM) GenerateContent(ctx context.Context, messages []llms.Message, options ...llms.CallOption) (*llms.ContentResponse, error) {
	opts := llms.NewCallOptions(options...)

	chatMsgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for i, mc := range messages {
		msg, err := messageFromMessage(mc)
		if err != nil {
			return nil, errors.WithMessagef(err, "message %d", i)
		}
		chatMsgs = append(chatMsgs, msg)
	}

	req := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(values.StringsCoalesce(opts.Model, o.model)),
		Messages: chatMsgs,
	}
	if opts.MaxTokens > 0 {
		req.MaxTokens = openai.Int(int64(opts.MaxTokens))
	}
	if opts.TemperatureSet {
		req.Temperature = openai.Float(opts.Temperature)
	}
	for _, tool := range opts.Tools {
		t, err := toolFromTool(tool)
		if err != nil {
			return nil, errors.Wrap(err, "failed to convert llms tool to openai tool")
		}
		req.Tools = append(req.Tools, t)
	}
	if len(req.Tools) > 0 && opts.ToolChoice != "" {
		req.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{
			OfAuto: openai.String(string(opts.ToolChoice)),
		}
	}

	logger.ContextKV(ctx, xlog.DEBUG,
		"model", req.Model,
		"messages", len(chatMsgs),
		"tools", len(req.Tools),
	)

	result, err := o.client.Chat.Completions.New(ctx, req)
	if err != nil {
		return nil, errors.Wrap(err, "chat completion request failed")
	}
	if len(result.Choices) == 0 {
		return nil, errors.WithStack(ErrEmptyResponse)
	}

	choices := make([]*llms.ContentChoice, len(result.Choices))
	for i, c := range result.Choices {
		choices[i] = &llms.ContentChoice{
			Content:    c.Message.Content,
			StopReason: c.FinishReason,
			GenerationInfo: map[string]any{
				"CompletionTokens": result.Usage.CompletionTokens,
				"PromptTokens":     result.Usage.PromptTokens,
				"TotalTokens":      result.Usage.TotalTokens,
			},
		}
		for _, tool := range c.Message.ToolCalls {
			choices[i].ToolCalls = append(choices[i].ToolCalls, llms.ToolCall{
				ID:   tool.ID,
				Type: values.StringsCoalesce(tool.Type, "function"),
				FunctionCall: &llms.FunctionCall{
					Name:      tool.Function.Name,
					Arguments: tool.Function.Arguments,
				},
			})
		}
	}
	return &llms.ContentResponse{Choices: choices}, nil
}

// messageFromMessage converts an llms.Message to the chat completion message param.
func messageFromMessage(mc llms.Message) (openai.ChatCompletionMessageParamUnion, error) {
	switch mc.Role {
	case llms.RoleSystem:
		return openai.SystemMessage(textOf(mc)), nil
	case llms.RoleHuman:
		return openai.UserMessage(textOf(mc)), nil
	case llms.RoleAI:
		calls := mc.ToolCalls()
		if len(calls) == 0 {
			return openai.AssistantMessage(textOf(mc)), nil
		}
		assistant := &openai.ChatCompletionAssistantMessageParam{}
		if text := textOf(mc); text != "" {
			assistant.Content.OfString = openai.String(text)
		}
		for _, tc := range calls {
			assistant.ToolCalls = append(assistant.ToolCalls, toolCallFromToolCall(tc))
		}
		return openai.ChatCompletionMessageParamUnion{OfAssistant: assistant}, nil
	case llms.RoleTool:
		if len(mc.Parts) != 1 {
			return openai.ChatCompletionMessageParamUnion{}, errors.Errorf("expected exactly one part for role %v, got %v", mc.Role, len(mc.Parts))
		}
		p, ok := mc.Parts[0].(llms.ToolCallResponse)
		if !ok {
			return openai.ChatCompletionMessageParamUnion{}, errors.Errorf("expected part of type ToolCallResponse for role %v, got %T", mc.Role, mc.Parts[0])
		}
		return openai.ToolMessage(p.Content, p.ToolCallID), nil
	default:
		return openai.ChatCompletionMessageParamUnion{}, errors.Wrapf(llms.ErrUnexpectedRole, "role %v not supported", mc.Role)
	}
}

func textOf(mc llms.Message) string {
	var parts []string
	for _, p := range mc.Parts {
		if t, ok := p.(llms.TextContent); ok {
			parts = append(parts, t.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// toolFromTool converts an llms.Tool to a chat completion tool.
func toolFromTool(t llms.Tool) (openai.ChatCompletionToolUnionParam, error) {
	if t.Type != "function" || t.Function == nil {
		return openai.ChatCompletionToolUnionParam{}, errors.Errorf("tool type %v not supported", t.Type)
	}
	def := openai.FunctionDefinitionParam{
		Name:        t.Function.Name,
		Description: openai.String(t.Function.Description),
		Strict:      openai.Bool(t.Function.Strict),
	}
	if t.Function.Parameters != nil {
		def.Parameters = openai.FunctionParameters(t.Function.Parameters)
	}
	return openai.ChatCompletionFunctionTool(def), nil
}

// toolCallFromToolCall converts an llms.ToolCall to the assistant tool call param.
func toolCallFromToolCall(tc llms.ToolCall) openai.ChatCompletionMessageToolCallUnionParam {
	fn := openai.ChatCompletionMessageFunctionToolCallFunctionParam{}
	if tc.FunctionCall != nil {
		fn.Name = tc.FunctionCall.Name
		fn.Arguments = tc.FunctionCall.Arguments
	}
	return openai.ChatCompletionMessageToolCallUnionParam{
		OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
			ID:       tc.ID,
			Function: fn,
		},
	}
}
