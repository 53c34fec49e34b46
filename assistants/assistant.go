package assistants

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpchat/chatmodel"
	"github.com/effective-security/mcpchat/gateway"
	"github.com/effective-security/mcpchat/pkg/llms"
	"github.com/effective-security/mcpchat/pkg/llmutils"
	"github.com/effective-security/mcpchat/pkg/metricskey"
	"github.com/effective-security/mcpchat/tools"
	"github.com/effective-security/x/slices"
	"github.com/effective-security/x/values"
	"github.com/effective-security/xlog"
)

// Assistant answers queries with the help of the tools on the tool server.
type Assistant struct {
	name         string
	description  string
	systemPrompt string

	completer Completer
	schemas   SchemaProvider
	caller    ToolCaller
	callback  Callback
}

var _ IAssistant = (*Assistant)(nil)

// NewAssistant returns an Assistant.
func NewAssistant(completer Completer, schemas SchemaProvider, caller ToolCaller, opts ...Option) *Assistant {
	a := &Assistant{
		completer: completer,
		schemas:   schemas,
		caller:    caller,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.name = values.StringsCoalesce(a.name, "mcpchat")
	a.description = values.StringsCoalesce(a.description, "Answers questions using the tools of the connected MCP server")
	a.systemPrompt = values.StringsCoalesce(a.systemPrompt, DefaultSystemPrompt)
	return a
}

func (a *Assistant) Name() string {
	return a.name
}

func (a *Assistant) Description() string {
	return a.description
}

// Run answers the query.
func (a *Assistant) Run(ctx context.Context, input string) (*Result, error) {
	started := time.Now()
	defer metricskey.PerfChatRun.MeasureSince(started, a.Name())

	if a.callback != nil {
		a.callback.OnAssistantStart(ctx, a, input)
	}

	res, err := a.run(ctx, input)
	if err != nil {
		if a.callback != nil {
			a.callback.OnAssistantError(ctx, a, input, err)
		}
		return nil, err
	}
	if a.callback != nil {
		a.callback.OnAssistantEnd(ctx, a, input, res)
	}
	return res, nil
}

func (a *Assistant) run(ctx context.Context, input string) (*Result, error) {
	res := &Result{}
	res.enter(StateInit)
	res.Messages = []llms.Message{
		llms.MessageFromTextParts(llms.RoleSystem, a.systemPrompt),
		llms.MessageFromTextParts(llms.RoleHuman, input),
	}

	res.enter(StateAwaitingFirstResponse)
	outcome := a.complete(ctx, res.Messages, a.schemas.CallSchemas())

	var call *gateway.ToolCallRequested
	switch o := outcome.(type) {
	case *gateway.DirectAnswer:
		res.Text = values.StringsCoalesce(o.Text, NoContentPlaceholder)
		res.enter(StateDone)
		return res, nil
	case *gateway.ToolCallRequested:
		call = o
	default:
		return nil, errors.Errorf("unexpected model outcome: %T", outcome)
	}

	res.ToolCall = call
	res.Messages = append(res.Messages, llms.MessageFromToolCalls(llms.RoleAI, call.Call))
	res.enter(StateAwaitingToolResult)

	text, err := a.callTool(ctx, call)
	if err != nil {
		res.ToolErr = err
		res.Text = fmt.Sprintf("❌ tool %s failed: %s", call.Request.ToolName, err.Error())
		res.enter(StateDone)
		return res, nil
	}

	res.Messages = append(res.Messages, llms.MessageFromToolResponse(llms.ToolCallResponse{
		ToolCallID: call.CallRef,
		Name:       call.Request.ToolName,
		Content:    text,
	}))
	if err = llms.CheckToolCallLinks(res.Messages); err != nil {
		return nil, errors.WithMessage(err, "invalid conversation")
	}

	res.enter(StateAwaitingFinalResponse)
	// answer only, tools are not offered again
	final := a.complete(ctx, res.Messages, nil)
	switch f := final.(type) {
	case *gateway.DirectAnswer:
		res.Text = values.StringsCoalesce(f.Text, NoContentPlaceholder)
	case *gateway.ToolCallRequested:
		logger.ContextKV(ctx, xlog.WARNING,
			"chat_id", chatmodel.GetChatID(ctx),
			"status", "unexpected_tool_call",
			"tool", f.Request.ToolName,
		)
		res.Text = NoContentPlaceholder
	default:
		return nil, errors.Errorf("unexpected model outcome: %T", final)
	}
	res.enter(StateDone)

	logger.ContextKV(ctx, xlog.DEBUG,
		"chat_id", chatmodel.GetChatID(ctx),
		"assistant", a.name,
		"human", slices.StringUpto(input, 64),
		"ai", slices.StringUpto(res.Text, 64),
	)
	return res, nil
}

func (a *Assistant) complete(ctx context.Context, messages []llms.Message, schemas []llms.Tool) gateway.Outcome {
	model := a.completer.ModelName()
	if a.callback != nil {
		a.callback.OnAssistantLLMCallStart(ctx, a, model, messages)
	}
	outcome := a.completer.Complete(ctx, messages, schemas)
	if a.callback != nil {
		a.callback.OnAssistantLLMCallEnd(ctx, a, model, outcome)
	}
	return outcome
}

// callTool executes the requested call exactly once and returns the text to splice
// into the conversation.
func (a *Assistant) callTool(ctx context.Context, call *gateway.ToolCallRequested) (string, error) {
	toolName := call.Request.ToolName
	input := llmutils.ToJSON(call.Request.Arguments)

	var tool tools.ITool
	if d, ok := a.schemas.Find(toolName); ok {
		tool = d
	} else {
		// the server decides, the call is made anyway
		tool = tools.ToolDescriptor{ToolName: toolName}
		metricskey.StatsToolCallsNotFound.IncrCounter(1, toolName)
		logger.ContextKV(ctx, xlog.WARNING,
			"chat_id", chatmodel.GetChatID(ctx),
			"assistant", a.name,
			"status", "tool_not_found",
			"tool_name", toolName,
		)
		if a.callback != nil {
			a.callback.OnToolNotFound(ctx, a, toolName)
		}
	}

	if a.callback != nil {
		a.callback.OnToolStart(ctx, tool, input)
	}

	started := time.Now()
	result, err := a.caller.CallTool(ctx, toolName, call.Request.Arguments)
	metricskey.PerfToolCall.MeasureSince(started, toolName)
	if err != nil {
		metricskey.StatsToolCallsFailed.IncrCounter(1, toolName)
		logger.ContextKV(ctx, xlog.ERROR,
			"chat_id", chatmodel.GetChatID(ctx),
			"assistant", a.name,
			"tool", toolName,
			"err", err.Error(),
		)
		if a.callback != nil {
			a.callback.OnToolError(ctx, tool, input, err)
		}
		return "", err
	}
	metricskey.StatsToolCallsSucceeded.IncrCounter(1, toolName)

	text := NoToolResultPlaceholder
	if result != nil && result.Present {
		text = result.Text
	}
	if a.callback != nil {
		a.callback.OnToolEnd(ctx, tool, input, text)
	}
	return text, nil
}
