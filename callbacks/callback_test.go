package callbacks_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpchat/assistants"
	"github.com/effective-security/mcpchat/callbacks"
	"github.com/effective-security/mcpchat/gateway"
	"github.com/effective-security/mcpchat/mcp"
	"github.com/effective-security/mcpchat/mocks/mockassistants"
	"github.com/effective-security/mcpchat/pkg/llms"
	"github.com/effective-security/mcpchat/tools"
	"github.com/effective-security/xlog"
	"github.com/stretchr/testify/assert"
	"go.uber.org/mock/gomock"
)

var weatherTool = tools.ToolDescriptor{ToolName: "get_weather", ToolDescription: "Returns the weather"}

func newAssistant(t *testing.T) *mockassistants.MockIAssistant {
	ctrl := gomock.NewController(t)
	ast := mockassistants.NewMockIAssistant(ctrl)
	ast.EXPECT().Name().Return("test-assistant").AnyTimes()
	return ast
}

func fire(cb assistants.Callback, ast assistants.IAssistant) {
	ctx := context.Background()
	payload := []llms.Message{llms.MessageFromTextParts(llms.RoleHuman, "weather in Paris?")}
	cb.OnAssistantStart(ctx, ast, "weather in Paris?")
	cb.OnAssistantLLMCallStart(ctx, ast, "test-model", payload)
	cb.OnAssistantLLMCallEnd(ctx, ast, "test-model", &gateway.ToolCallRequested{
		CallRef: "call_1",
		Request: mcp.ToolInvocationRequest{ToolName: "get_weather"},
	})
	cb.OnToolNotFound(ctx, ast, "get_time")
	cb.OnToolStart(ctx, weatherTool, `{"city":"Paris"}`)
	cb.OnToolEnd(ctx, weatherTool, `{"city":"Paris"}`, "18C")
	cb.OnToolError(ctx, weatherTool, `{"city":"Paris"}`, errors.New("sensor offline"))
	cb.OnAssistantLLMCallEnd(ctx, ast, "test-model", &gateway.DirectAnswer{Text: "Sunny"})
	cb.OnAssistantEnd(ctx, ast, "weather in Paris?", &assistants.Result{Text: "Sunny", Messages: payload})
	cb.OnAssistantError(ctx, ast, "weather in Paris?", errors.New("broken cycle"))
}

func TestPrinter_Default(t *testing.T) {
	var buf bytes.Buffer
	fire(callbacks.NewPrinter(&buf, callbacks.ModeDefault), newAssistant(t))

	res := buf.String()
	assert.Contains(t, res, "\n🔧 Calling tool: get_weather\n📦 Arguments: {\"city\":\"Paris\"}\n")
	assert.Contains(t, res, "Assistant Error: test-assistant: broken cycle")
	assert.NotContains(t, res, "Assistant Start")
	assert.NotContains(t, res, "LLM Call")
	assert.NotContains(t, res, "Tool End")
	assert.NotContains(t, res, "Tool Error")
	assert.NotContains(t, res, "Tool Not Found")
}

func TestPrinter_Verbose(t *testing.T) {
	var buf bytes.Buffer
	fire(callbacks.NewPrinter(&buf, callbacks.ModeVerbose), newAssistant(t))

	res := buf.String()
	assert.Contains(t, res, "Assistant Start: test-assistant")
	assert.Contains(t, res, "LLM Call: test-assistant: test-model model, 1 messages")
	assert.Contains(t, res, "LLM Call End: test-assistant: test-model model, tool call get_weather (call_1)")
	assert.Contains(t, res, "LLM Call End: test-assistant: test-model model, answer, 5 chars")
	assert.Contains(t, res, "Tool Not Found: get_time")
	assert.Contains(t, res, "🔧 Calling tool: get_weather")
	assert.Contains(t, res, "Tool End: get_weather\nOutput: 18C")
	assert.Contains(t, res, "Tool Error: get_weather: sensor offline")
	assert.Contains(t, res, "Assistant End: test-assistant, 1 messages")
}

func TestFanout(t *testing.T) {
	var buf1, buf2 bytes.Buffer
	fanout := callbacks.NewFanout(callbacks.NewPrinter(&buf1, callbacks.ModeDefault))
	fanout.Add(callbacks.NewPrinter(&buf2, callbacks.ModeVerbose))
	fanout.Add(callbacks.NewNoop())
	fanout.Add(callbacks.NewPackageLogger(xlog.NewPackageLogger("github.com/effective-security/mcpchat", "callbacks_test")))

	fire(fanout, newAssistant(t))

	assert.Contains(t, buf1.String(), "🔧 Calling tool: get_weather")
	assert.NotContains(t, buf1.String(), "Tool End")
	assert.Contains(t, buf2.String(), "🔧 Calling tool: get_weather")
	assert.Contains(t, buf2.String(), "Tool End: get_weather")
}
