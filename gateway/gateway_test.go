package gateway_test

import (
	"context"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpchat/gateway"
	"github.com/effective-security/mcpchat/mocks/mockllms"
	"github.com/effective-security/mcpchat/pkg/llms"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

var weatherSchema = []llms.Tool{{
	Type: "function",
	Function: &llms.FunctionDefinition{
		Name:        "get_weather",
		Description: "Returns the current weather for a city",
		Parameters:  map[string]any{"type": "object"},
	},
}}

func conversation() []llms.Message {
	return []llms.Message{
		llms.MessageFromTextParts(llms.RoleSystem, "be brief"),
		llms.MessageFromTextParts(llms.RoleHuman, "weather in Paris?"),
	}
}

// expectCall sets one GenerateContent expectation and captures the call options.
func expectCall(m *mockllms.MockModel, resp *llms.ContentResponse, err error, captured *llms.CallOptions) {
	m.EXPECT().GetName().Return("test-model").AnyTimes()
	m.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ []llms.Message, options ...llms.CallOption) (*llms.ContentResponse, error) {
			*captured = llms.NewCallOptions(options...)
			return resp, err
		}).Times(1)
}

func TestComplete_DirectAnswer(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	m := mockllms.NewMockModel(ctrl)
	var opts llms.CallOptions
	expectCall(m, &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: "Hello!", StopReason: "stop"}}}, nil, &opts)

	g := gateway.New(m)
	assert.Equal(t, "test-model", g.ModelName())

	out := g.Complete(context.Background(), conversation(), nil)
	answer, ok := out.(*gateway.DirectAnswer)
	require.True(t, ok, "%T", out)
	assert.Equal(t, "Hello!", answer.Text)
	assert.NoError(t, answer.Err)

	assert.Equal(t, gateway.DefaultMaxTokens, opts.MaxTokens)
	assert.Equal(t, gateway.DefaultTemperature, opts.Temperature)
	assert.Empty(t, opts.Tools)
	assert.Empty(t, opts.ToolChoice)
}

func TestComplete_ZeroTemperature(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	m := mockllms.NewMockModel(ctrl)
	var opts llms.CallOptions
	expectCall(m, &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: "Hello!"}}}, nil, &opts)

	out := gateway.New(m, gateway.WithTemperature(0)).Complete(context.Background(), conversation(), nil)
	_, ok := out.(*gateway.DirectAnswer)
	require.True(t, ok, "%T", out)
	assert.Equal(t, 0.0, opts.Temperature)
	assert.Equal(t, gateway.DefaultMaxTokens, opts.MaxTokens)
}

func TestComplete_EmptyContent(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	m := mockllms.NewMockModel(ctrl)
	var opts llms.CallOptions
	expectCall(m, &llms.ContentResponse{Choices: []*llms.ContentChoice{{}}}, nil, &opts)

	out := gateway.New(m).Complete(context.Background(), conversation(), weatherSchema)
	answer, ok := out.(*gateway.DirectAnswer)
	require.True(t, ok, "%T", out)
	assert.Empty(t, answer.Text)
	assert.NoError(t, answer.Err)
}

func TestComplete_ToolCall(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	m := mockllms.NewMockModel(ctrl)
	var opts llms.CallOptions
	expectCall(m, &llms.ContentResponse{Choices: []*llms.ContentChoice{{
		StopReason: "tool_calls",
		ToolCalls: []llms.ToolCall{
			{ID: "call_1", Type: "function", FunctionCall: &llms.FunctionCall{Name: "get_weather", Arguments: `{"city":"Paris","days":2}`}},
			{ID: "call_2", Type: "function", FunctionCall: &llms.FunctionCall{Name: "get_time", Arguments: `{}`}},
		},
	}}}, nil, &opts)

	out := gateway.New(m, gateway.WithMaxTokens(500), gateway.WithTemperature(0.2)).
		Complete(context.Background(), conversation(), weatherSchema)
	req, ok := out.(*gateway.ToolCallRequested)
	require.True(t, ok, "%T", out)

	assert.Equal(t, "call_1", req.CallRef)
	assert.Equal(t, req.CallRef, req.Call.ID)
	assert.Equal(t, "get_weather", req.Request.ToolName)
	assert.Equal(t, map[string]any{"city": "Paris", "days": float64(2)}, req.Request.Arguments)
	assert.Equal(t, "function", req.Call.Type)
	assert.Equal(t, "get_weather", req.Call.FunctionCall.Name)
	assert.Equal(t, `{"city":"Paris","days":2}`, req.Call.FunctionCall.Arguments)

	assert.Equal(t, 500, opts.MaxTokens)
	assert.Equal(t, 0.2, opts.Temperature)
	assert.Equal(t, weatherSchema, opts.Tools)
	assert.Equal(t, llms.FunctionCallBehaviorAuto, opts.ToolChoice)
}

func TestComplete_ToolCallDefaults(t *testing.T) {
	tcases := []struct {
		name string
		call llms.ToolCall
		ref  string
		args map[string]any
	}{
		{
			name: "missing_id",
			call: llms.ToolCall{FunctionCall: &llms.FunctionCall{Name: "get_weather", Arguments: `{"city":"Oslo"}`}},
			ref:  "get_weather_0",
			args: map[string]any{"city": "Oslo"},
		},
		{
			name: "empty_arguments",
			call: llms.ToolCall{ID: "c1", FunctionCall: &llms.FunctionCall{Name: "get_weather"}},
			ref:  "c1",
			args: map[string]any{},
		},
		{
			name: "null_arguments",
			call: llms.ToolCall{ID: "c2", FunctionCall: &llms.FunctionCall{Name: "get_weather", Arguments: "null"}},
			ref:  "c2",
			args: map[string]any{},
		},
	}
	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			m := mockllms.NewMockModel(ctrl)
			var opts llms.CallOptions
			expectCall(m, &llms.ContentResponse{Choices: []*llms.ContentChoice{{ToolCalls: []llms.ToolCall{tc.call}}}}, nil, &opts)

			out := gateway.New(m).Complete(context.Background(), conversation(), weatherSchema)
			req, ok := out.(*gateway.ToolCallRequested)
			require.True(t, ok, "%T", out)
			assert.Equal(t, tc.ref, req.CallRef)
			assert.Equal(t, tc.ref, req.Call.ID)
			assert.Equal(t, "function", req.Call.Type)
			assert.Equal(t, tc.args, req.Request.Arguments)
		})
	}
}

func TestComplete_Failures(t *testing.T) {
	tcases := []struct {
		name string
		resp *llms.ContentResponse
		err  error
		is   error
		text string
	}{
		{
			name: "backend_error",
			err:  errors.New("401 invalid api key"),
			is:   gateway.ErrBackend,
			text: "401 invalid api key",
		},
		{
			name: "nil_response",
			is:   gateway.ErrBackend,
			text: "no choices returned",
		},
		{
			name: "no_choices",
			resp: &llms.ContentResponse{},
			is:   gateway.ErrBackend,
			text: "no choices returned",
		},
		{
			name: "bad_arguments",
			resp: &llms.ContentResponse{Choices: []*llms.ContentChoice{{ToolCalls: []llms.ToolCall{
				{ID: "c1", FunctionCall: &llms.FunctionCall{Name: "get_weather", Arguments: `{"city":`}},
			}}}},
			is:   gateway.ErrMalformedToolCall,
			text: `invalid arguments for tool "get_weather"`,
		},
		{
			name: "array_arguments",
			resp: &llms.ContentResponse{Choices: []*llms.ContentChoice{{ToolCalls: []llms.ToolCall{
				{ID: "c1", FunctionCall: &llms.FunctionCall{Name: "get_weather", Arguments: `["Paris"]`}},
			}}}},
			is:   gateway.ErrMalformedToolCall,
			text: `invalid arguments for tool "get_weather"`,
		},
		{
			name: "no_function",
			resp: &llms.ContentResponse{Choices: []*llms.ContentChoice{{ToolCalls: []llms.ToolCall{{ID: "c1"}}}}},
			is:   gateway.ErrMalformedToolCall,
			text: "has no function name",
		},
	}
	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			m := mockllms.NewMockModel(ctrl)
			var opts llms.CallOptions
			expectCall(m, tc.resp, tc.err, &opts)

			out := gateway.New(m).Complete(context.Background(), conversation(), weatherSchema)
			answer, ok := out.(*gateway.DirectAnswer)
			require.True(t, ok, "%T", out)
			assert.True(t, strings.HasPrefix(answer.Text, gateway.DiagnosticPrefix), answer.Text)
			assert.Contains(t, answer.Text, tc.text)
			require.Error(t, answer.Err)
			assert.True(t, errors.Is(answer.Err, tc.is), answer.Err.Error())
		})
	}
}
