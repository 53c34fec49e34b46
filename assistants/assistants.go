package assistants

import (
	"context"

	"github.com/effective-security/mcpchat/gateway"
	"github.com/effective-security/mcpchat/mcp"
	"github.com/effective-security/mcpchat/pkg/llms"
	"github.com/effective-security/mcpchat/tools"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpchat", "assistants")

//go:generate mockgen -source=assistants.go -destination=../mocks/mockassistants/assistants_mock.gen.go -package mockassistants

// IAssistant answers one query at a time.
type IAssistant interface {
	// Name returns the name of the Assistant.
	Name() string
	// Description returns the description of the Assistant.
	Description() string
	// Run answers the query. Failures of the model or the tool are
	// reported in the result text, an error means the cycle itself is broken.
	Run(ctx context.Context, input string) (*Result, error)
}

// Completer sends a conversation to the model.
type Completer interface {
	ModelName() string
	Complete(ctx context.Context, messages []llms.Message, schemas []llms.Tool) gateway.Outcome
}

// SchemaProvider provides the tools offered to the model.
type SchemaProvider interface {
	CallSchemas() []llms.Tool
	Find(name string) (tools.ToolDescriptor, bool)
}

// ToolCaller executes a tool on the tool server.
type ToolCaller interface {
	CallTool(ctx context.Context, name string, args map[string]any) (*mcp.ToolResult, error)
}

// State is a step of the query cycle.
type State string

const (
	StateInit                  State = "init"
	StateAwaitingFirstResponse State = "awaiting_first_response"
	StateAwaitingToolResult    State = "awaiting_tool_result"
	StateAwaitingFinalResponse State = "awaiting_final_response"
	StateDone                  State = "done"
)

const (
	// DefaultSystemPrompt is the preamble of every conversation.
	DefaultSystemPrompt = "You are an intelligent assistant."

	// NoToolResultPlaceholder replaces an empty tool result in the conversation.
	NoToolResultPlaceholder = "[tool returned no result]"
	// NoContentPlaceholder replaces an empty model answer.
	NoContentPlaceholder = "[no content returned]"
)

// Result is the outcome of one query.
type Result struct {
	// Text is the answer to print
	Text string
	// Messages is the conversation sent to the model
	Messages []llms.Message
	// States lists the states the cycle went through, in order
	States []State
	// ToolCall is the tool call requested by the model, if any
	ToolCall *gateway.ToolCallRequested
	// ToolErr is the failure of the tool call, if any
	ToolErr error
}

func (r *Result) enter(s State) {
	r.States = append(r.States, s)
}

// State returns the last state of the cycle.
func (r *Result) State() State {
	if len(r.States) == 0 {
		return ""
	}
	return r.States[len(r.States)-1]
}
