package assistants

import (
	"context"

	"github.com/effective-security/mcpchat/gateway"
	"github.com/effective-security/mcpchat/pkg/llms"
	"github.com/effective-security/mcpchat/tools"
)

// Callback receives the events of the query cycle.
type Callback interface {
	tools.Callback
	OnAssistantStart(ctx context.Context, agent IAssistant, input string)
	OnAssistantEnd(ctx context.Context, agent IAssistant, input string, result *Result)
	OnAssistantError(ctx context.Context, agent IAssistant, input string, err error)
	OnAssistantLLMCallStart(ctx context.Context, agent IAssistant, model string, payload []llms.Message)
	OnAssistantLLMCallEnd(ctx context.Context, agent IAssistant, model string, outcome gateway.Outcome)
	OnToolNotFound(ctx context.Context, agent IAssistant, tool string)
}
