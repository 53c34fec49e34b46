package session_test

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpchat/assistants"
	"github.com/effective-security/mcpchat/config"
	"github.com/effective-security/mcpchat/mcp"
	"github.com/effective-security/mcpchat/mcp/mcptest"
	"github.com/effective-security/mcpchat/mocks/mockassistants"
	"github.com/effective-security/mcpchat/mocks/mockllms"
	"github.com/effective-security/mcpchat/mocks/mocksession"
	"github.com/effective-security/mcpchat/pkg/llms"
	"github.com/effective-security/mcpchat/session"
	"github.com/effective-security/mcpchat/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

var testConfig = &config.Config{
	APIKey: "sk-test",
	Model:  "test-model",
}

var weather = tools.ToolDescriptor{
	ToolName:        "get_weather",
	ToolDescription: "Returns the current weather for a city",
	InputSchema:     map[string]any{"type": "object"},
}

func connectedTransport(ctrl *gomock.Controller) *mocksession.MockTransport {
	tr := mocksession.NewMockTransport(ctrl)
	tr.EXPECT().Connect(gomock.Any(), "weather.py").Return(nil).Times(1)
	tr.EXPECT().ListTools(gomock.Any()).Return([]tools.ToolDescriptor{weather}, nil).Times(1)
	tr.EXPECT().Close().Return(nil).Times(1)
	return tr
}

func TestRun_Quit(t *testing.T) {
	for _, input := range []string{"quit\n", "Quit\n", "QUIT\r\n", "qUiT\n"} {
		t.Run(strings.TrimSpace(input), func(t *testing.T) {
			ctrl := gomock.NewController(t)
			tr := connectedTransport(ctrl)
			// the quit keyword never reaches the assistant
			ast := mockassistants.NewMockIAssistant(ctrl)
			ast.EXPECT().Run(gomock.Any(), gomock.Any()).Times(0)

			var out bytes.Buffer
			err := session.Run(context.Background(), testConfig, "weather.py", tr, nil,
				strings.NewReader(input+"what is 2+2?\n"), &out,
				session.WithAssistant(ast))
			require.NoError(t, err)

			res := out.String()
			assert.Contains(t, res, "✅ connected, tools: [get_weather]\n")
			assert.Contains(t, res, "✅ MCP Client started")
			assert.Contains(t, res, "'quit' to exit")
			assert.Equal(t, 1, strings.Count(res, "\nQuery: "))
			assert.NotContains(t, res, "Reply")
		})
	}
}

func TestRun_Queries(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := connectedTransport(ctrl)
	ast := mockassistants.NewMockIAssistant(ctrl)

	gomock.InOrder(
		ast.EXPECT().Run(gomock.Any(), "first").Return(&assistants.Result{Text: "one"}, nil).Times(1),
		ast.EXPECT().Run(gomock.Any(), "").Return(&assistants.Result{Text: assistants.NoContentPlaceholder}, nil).Times(1),
		ast.EXPECT().Run(gomock.Any(), "broken").Return(nil, errors.New("invalid conversation")).Times(1),
		// the last line has no line ending
		ast.EXPECT().Run(gomock.Any(), "last").Return(&assistants.Result{Text: "bye"}, nil).Times(1),
	)

	var out bytes.Buffer
	err := session.Run(context.Background(), testConfig, "weather.py", tr, nil,
		strings.NewReader("first\n\nbroken\nlast"), &out,
		session.WithAssistant(ast))
	require.NoError(t, err)

	res := out.String()
	assert.Contains(t, res, "\n🧠 Reply:\none\n")
	assert.Contains(t, res, "\n🧠 Reply:\n"+assistants.NoContentPlaceholder+"\n")
	// the loop survives a failed query
	assert.Contains(t, res, "\n🧠 Reply:\n❌ invalid conversation\n")
	assert.Contains(t, res, "\n🧠 Reply:\nbye\n")
	assert.Equal(t, 4, strings.Count(res, "\nQuery: "))
}

func TestRun_EOF(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := connectedTransport(ctrl)
	ast := mockassistants.NewMockIAssistant(ctrl)
	ast.EXPECT().Run(gomock.Any(), "hello").Return(&assistants.Result{Text: "hi"}, nil).Times(1)

	var out bytes.Buffer
	err := session.Run(context.Background(), testConfig, "weather.py", tr, nil,
		strings.NewReader("hello\n"), &out,
		session.WithAssistant(ast))
	require.NoError(t, err)
	assert.Contains(t, out.String(), "\n🧠 Reply:\nhi\n")
}

func TestOpen_Close(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := connectedTransport(ctrl)

	var out bytes.Buffer
	s, err := session.Open(context.Background(), testConfig, "weather.py", tr, nil, session.WithOutput(&out))
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID())
	assert.Equal(t, []tools.ToolDescriptor{weather}, s.Tools())
	assert.Equal(t, tools.Fingerprint([]tools.ToolDescriptor{weather}), s.ToolsFingerprint())

	// the transport is closed once
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}

func TestOpen_Failures(t *testing.T) {
	t.Run("connect", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		tr := mocksession.NewMockTransport(ctrl)
		tr.EXPECT().Connect(gomock.Any(), "weather.py").Return(errors.Mark(errors.New("handshake failed"), mcp.ErrConnection))
		tr.EXPECT().ListTools(gomock.Any()).Times(0)
		tr.EXPECT().Close().Return(nil).Times(1)

		var out bytes.Buffer
		_, err := session.Open(context.Background(), testConfig, "weather.py", tr, nil, session.WithOutput(&out))
		require.Error(t, err)
		assert.True(t, errors.Is(err, mcp.ErrConnection))
		assert.Contains(t, err.Error(), `unable to connect to "weather.py"`)
		assert.Empty(t, out.String())
	})

	// the server exits before it lists the tools
	t.Run("list_tools", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		tr := mocksession.NewMockTransport(ctrl)
		tr.EXPECT().Connect(gomock.Any(), "weather.py").Return(nil)
		tr.EXPECT().ListTools(gomock.Any()).Return(nil, errors.Mark(errors.New("EOF"), mcp.ErrChannel))
		tr.EXPECT().Close().Return(errors.New("process exited")).Times(1)

		model := mockllms.NewMockModel(ctrl)
		model.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

		var out bytes.Buffer
		err := session.Run(context.Background(), testConfig, "weather.py", tr, model,
			strings.NewReader("what's the weather in Paris?\n"), &out)
		require.Error(t, err)
		assert.True(t, errors.Is(err, mcp.ErrChannel))
		// the loop is never entered
		assert.NotContains(t, out.String(), "Query:")
	})
}

func TestRun_UnsupportedScript(t *testing.T) {
	factory := mcptest.NewFactory(mcptest.NewWeatherServer())
	client := mcp.NewClient(mcp.WithTransportFactory(factory.Transport))

	var out bytes.Buffer
	err := session.Run(context.Background(), testConfig, "server.rb", client, nil,
		strings.NewReader("quit\n"), &out)
	require.Error(t, err)
	assert.True(t, errors.Is(err, mcp.ErrUnsupportedScriptKind))
	// nothing was spawned
	assert.Empty(t, factory.Commands())
	assert.NotContains(t, out.String(), "Query:")

	// the client is closed
	_, err = client.ListTools(context.Background())
	assert.True(t, errors.Is(err, mcp.ErrChannel))
}

type observer struct {
	lock  sync.Mutex
	calls []string
}

func (o *observer) observe(name string, _ any) {
	o.lock.Lock()
	defer o.lock.Unlock()
	o.calls = append(o.calls, name)
}

func (o *observer) Calls() []string {
	o.lock.Lock()
	defer o.lock.Unlock()
	return append([]string(nil), o.calls...)
}

func newWeatherClient(obs *observer) (*mcp.Client, *mcptest.Factory) {
	factory := mcptest.NewFactory(mcptest.NewWeatherServer(
		mcptest.WithCallObserver(obs.observe),
		mcptest.WithForecast(func(string) string { return "18C, cloudy" }),
	))
	return mcp.NewClient(mcp.WithTransportFactory(factory.Transport)), factory
}

func TestRun_DirectAnswer(t *testing.T) {
	ctrl := gomock.NewController(t)
	obs := &observer{}
	client, factory := newWeatherClient(obs)

	model := mockllms.NewMockModel(ctrl)
	model.EXPECT().GetName().Return("test-model").AnyTimes()
	model.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, messages []llms.Message, options ...llms.CallOption) (*llms.ContentResponse, error) {
			require.Len(t, messages, 2)
			assert.Equal(t, "2+2 is what?\n", messages[1].GetContent())
			opts := llms.NewCallOptions(options...)
			assert.Len(t, opts.Tools, 3)
			return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: "2+2 is 4."}}}, nil
		}).Times(1)

	var out bytes.Buffer
	err := session.Run(context.Background(), testConfig, "weather.py", client, model,
		strings.NewReader("2+2 is what?\nquit\n"), &out)
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"python3", "weather.py"}}, factory.Commands())
	assert.Contains(t, out.String(), "\n🧠 Reply:\n2+2 is 4.\n")
	assert.NotContains(t, out.String(), "Calling tool")
	assert.Empty(t, obs.Calls())
}

func TestRun_ToolCall(t *testing.T) {
	ctrl := gomock.NewController(t)
	obs := &observer{}
	client, _ := newWeatherClient(obs)

	model := mockllms.NewMockModel(ctrl)
	model.EXPECT().GetName().Return("test-model").AnyTimes()
	gomock.InOrder(
		model.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(&llms.ContentResponse{Choices: []*llms.ContentChoice{{
				StopReason: "tool_calls",
				ToolCalls: []llms.ToolCall{{
					ID:           "call_1",
					Type:         "function",
					FunctionCall: &llms.FunctionCall{Name: "get_weather", Arguments: `{"city":"Paris"}`},
				}},
			}}}, nil).Times(1),
		model.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, messages []llms.Message, options ...llms.CallOption) (*llms.ContentResponse, error) {
				opts := llms.NewCallOptions(options...)
				assert.Empty(t, opts.Tools)
				assert.Empty(t, opts.ToolChoice)

				require.Len(t, messages, 4)
				calls := messages[2].ToolCalls()
				require.Len(t, calls, 1)
				assert.Equal(t, "call_1", calls[0].ID)
				assert.Equal(t, "get_weather", calls[0].FunctionCall.Name)

				resp, ok := messages[3].Parts[0].(llms.ToolCallResponse)
				require.True(t, ok)
				assert.Equal(t, "call_1", resp.ToolCallID)
				assert.Equal(t, "18C, cloudy", resp.Content)
				return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: "It is 18C and cloudy in Paris."}}}, nil
			}).Times(1),
	)

	var out bytes.Buffer
	err := session.Run(context.Background(), testConfig, "weather.py", client, model,
		strings.NewReader("what's the weather in Paris?\nquit\n"), &out)
	require.NoError(t, err)

	res := out.String()
	assert.Contains(t, res, "\n🔧 Calling tool: get_weather\n📦 Arguments: {\"city\":\"Paris\"}\n")
	assert.Contains(t, res, "\n🧠 Reply:\nIt is 18C and cloudy in Paris.\n")
	assert.Equal(t, []string{"get_weather"}, obs.Calls())
}

func TestRun_Transcript(t *testing.T) {
	ctrl := gomock.NewController(t)
	client, _ := newWeatherClient(&observer{})

	model := mockllms.NewMockModel(ctrl)
	model.EXPECT().GetName().Return("test-model").AnyTimes()
	model.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(&llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: "4"}}}, nil).Times(1)

	var out, transcript bytes.Buffer
	err := session.Run(context.Background(), testConfig, "weather.py", client, model,
		strings.NewReader("2+2?\n"), &out,
		session.WithTranscript(&transcript))
	require.NoError(t, err)

	assert.Contains(t, transcript.String(), "*** Run Started ***")
	assert.Contains(t, transcript.String(), "*** LLM Call *** test-model model, 2 messages")
	assert.Contains(t, transcript.String(), "*** Run Ended.")
}

func TestRun_ToolServerLost(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := connectedTransport(ctrl)
	tr.EXPECT().CallTool(gomock.Any(), "get_weather", map[string]any{"city": "Paris"}).
		Return(nil, errors.Mark(errors.New("broken pipe"), mcp.ErrChannel)).Times(1)

	model := mockllms.NewMockModel(ctrl)
	model.EXPECT().GetName().Return("test-model").AnyTimes()
	// no final pass after the failed tool call, and no more queries
	model.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(&llms.ContentResponse{Choices: []*llms.ContentChoice{{
			StopReason: "tool_calls",
			ToolCalls: []llms.ToolCall{{
				ID:           "call_1",
				Type:         "function",
				FunctionCall: &llms.FunctionCall{Name: "get_weather", Arguments: `{"city":"Paris"}`},
			}},
		}}}, nil).Times(1)

	var out bytes.Buffer
	err := session.Run(context.Background(), testConfig, "weather.py", tr, model,
		strings.NewReader("q1\nq2\nq3\nquit\n"), &out)
	require.NoError(t, err)

	res := out.String()
	assert.Equal(t, 1, strings.Count(res, "\nQuery: "))
	assert.Equal(t, 1, strings.Count(res, "❌ tool get_weather failed: broken pipe"))
	assert.Contains(t, res, "\n❌ tool server is not available, closing the session\n")
}

func TestRun_ToolServerLost_RunError(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := connectedTransport(ctrl)
	ast := mockassistants.NewMockIAssistant(ctrl)
	ast.EXPECT().Run(gomock.Any(), "q1").
		Return(nil, errors.Mark(errors.New("session is closed"), mcp.ErrChannel)).Times(1)

	var out bytes.Buffer
	err := session.Run(context.Background(), testConfig, "weather.py", tr, nil,
		strings.NewReader("q1\nq2\n"), &out,
		session.WithAssistant(ast))
	require.NoError(t, err)

	res := out.String()
	assert.Contains(t, res, "\n🧠 Reply:\n❌ session is closed\n")
	assert.Contains(t, res, "closing the session")
	assert.Equal(t, 1, strings.Count(res, "\nQuery: "))
}

func TestRun_UnknownToolKeepsSession(t *testing.T) {
	ctrl := gomock.NewController(t)
	obs := &observer{}
	client, _ := newWeatherClient(obs)

	model := mockllms.NewMockModel(ctrl)
	model.EXPECT().GetName().Return("test-model").AnyTimes()
	gomock.InOrder(
		model.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(&llms.ContentResponse{Choices: []*llms.ContentChoice{{
				StopReason: "tool_calls",
				ToolCalls: []llms.ToolCall{{
					ID:           "call_1",
					Type:         "function",
					FunctionCall: &llms.FunctionCall{Name: "get_forecast", Arguments: `{"city":"Paris"}`},
				}},
			}}}, nil).Times(1),
		model.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(&llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: "2+2 is 4."}}}, nil).Times(1),
	)

	var out bytes.Buffer
	err := session.Run(context.Background(), testConfig, "weather.py", client, model,
		strings.NewReader("forecast for Paris?\n2+2?\nquit\n"), &out)
	require.NoError(t, err)

	res := out.String()
	assert.Contains(t, res, "❌ tool get_forecast failed: ")
	assert.Contains(t, res, "\n🧠 Reply:\n2+2 is 4.\n")
	assert.NotContains(t, res, "closing the session")
	assert.Equal(t, 3, strings.Count(res, "\nQuery: "))
	assert.Empty(t, obs.Calls())
}

// the server process exits before the handshake
func TestRun_ServerExits(t *testing.T) {
	if _, err := exec.LookPath("true"); err != nil {
		t.Skip("true is not available")
	}

	client := mcp.NewClient(mcp.WithInterpreters(mcp.Interpreters{Node: "true"}))

	model := mockllms.NewMockModel(gomock.NewController(t))
	model.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	var out bytes.Buffer
	err := session.Run(context.Background(), testConfig, "x.js", client, model,
		strings.NewReader("what's the weather in Paris?\n"), &out)
	require.Error(t, err)
	assert.True(t, errors.Is(err, mcp.ErrConnection), err.Error())
	assert.NotContains(t, out.String(), "Query:")

	// closed by Run, closing again is harmless
	assert.NoError(t, client.Close())
	_, err = client.ListTools(context.Background())
	assert.True(t, errors.Is(err, mcp.ErrChannel))
}
