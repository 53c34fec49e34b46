package tools

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpchat/pkg/llms"
	"github.com/effective-security/mcpchat/pkg/llmutils"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpchat", "tools")

//go:generate mockgen -source=tools.go -destination=../mocks/mocktools/tools_mock.gen.go -package mocktools

// ITool describes a tool the llm agent can ask to invoke.
type ITool interface {
	// Name returns the name of the Tool.
	Name() string
	// Description returns the description of the tool, to be used in the prompt.
	Description() string
	// Parameters returns the JSON schema of the tool input, to be used in the prompt.
	Parameters() map[string]any
}

// Lister fetches the current tool list from the tool server.
type Lister interface {
	ListTools(ctx context.Context) ([]ToolDescriptor, error)
}

type Callback interface {
	OnToolStart(ctx context.Context, tool ITool, input string)
	OnToolEnd(ctx context.Context, tool ITool, input string, output string)
	OnToolError(ctx context.Context, tool ITool, input string, err error)
}

// ToolDescriptor is a tool advertised by the tool server.
// It is never modified after it is fetched.
type ToolDescriptor struct {
	ToolName        string         `json:"name" yaml:"name"`
	ToolDescription string         `json:"description,omitempty" yaml:"description,omitempty"`
	InputSchema     map[string]any `json:"inputSchema,omitempty" yaml:"inputSchema,omitempty"`
}

var _ ITool = ToolDescriptor{}

// Name returns the name of the tool.
func (d ToolDescriptor) Name() string { return d.ToolName }

// Description returns the description of the tool.
func (d ToolDescriptor) Description() string { return d.ToolDescription }

// Parameters returns the input schema of the tool.
func (d ToolDescriptor) Parameters() map[string]any { return d.InputSchema }

// Registry caches the tool descriptors discovered on the tool server.
type Registry struct {
	lister Lister

	lock        sync.RWMutex
	tools       []ToolDescriptor
	fingerprint uint64
}

// NewRegistry returns an empty registry backed by the lister.
func NewRegistry(lister Lister) *Registry {
	return &Registry{lister: lister}
}

// Refresh fetches the tool list from the server and replaces the cached set.
// On failure the previous set is kept and the error is returned.
func (r *Registry) Refresh(ctx context.Context) ([]ToolDescriptor, error) {
	list, err := r.lister.ListTools(ctx)
	if err != nil {
		logger.ContextKV(ctx, xlog.ERROR, "status", "list_tools_failed", "err", err.Error())
		return nil, errors.WithMessage(err, "unable to refresh tools")
	}

	fp := Fingerprint(list)

	r.lock.Lock()
	r.tools = list
	r.fingerprint = fp
	r.lock.Unlock()

	logger.ContextKV(ctx, xlog.DEBUG,
		"status", "refreshed",
		"tools", len(list),
		"fingerprint", fp,
	)
	return r.Tools(), nil
}

// Fingerprint returns the fingerprint of the cached set, 0 before the first refresh.
// It identifies the tool set a server advertised across sessions.
func (r *Registry) Fingerprint() uint64 {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return r.fingerprint
}

// Fingerprint returns a hash of the names, descriptions and schemas of the tools.
// The order of the tools matters, as it is the order offered to the model.
func Fingerprint(list []ToolDescriptor) uint64 {
	h := xxhash.New()
	for _, t := range list {
		_, _ = h.WriteString(t.ToolName)
		_, _ = h.WriteString("\x00")
		_, _ = h.WriteString(t.ToolDescription)
		_, _ = h.WriteString("\x00")
		js, _ := json.Marshal(t.InputSchema)
		_, _ = h.Write(js)
		_, _ = h.WriteString("\x00")
	}
	return h.Sum64()
}

// Tools returns a copy of the cached descriptors, in the order they were discovered.
func (r *Registry) Tools() []ToolDescriptor {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return append([]ToolDescriptor(nil), r.tools...)
}

// Names returns the names of the cached tools.
func (r *Registry) Names() []string {
	r.lock.RLock()
	defer r.lock.RUnlock()
	names := make([]string, 0, len(r.tools))
	for _, t := range r.tools {
		names = append(names, t.ToolName)
	}
	return names
}

// Find returns the tool with the given name.
func (r *Registry) Find(name string) (ToolDescriptor, bool) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	for _, t := range r.tools {
		if t.ToolName == name {
			return t, true
		}
	}
	return ToolDescriptor{}, false
}

// CallSchemas returns the function-call schemas of the cached tools, ordered as discovered.
// The input schema is passed through as is, without validation.
func (r *Registry) CallSchemas() []llms.Tool {
	r.lock.RLock()
	defer r.lock.RUnlock()

	if len(r.tools) == 0 {
		return nil
	}
	schemas := make([]llms.Tool, 0, len(r.tools))
	for _, t := range r.tools {
		schemas = append(schemas, CallSchema(t))
	}
	return schemas
}

// CallSchema returns the function-call schema of a single tool.
func CallSchema(t ITool) llms.Tool {
	return llms.Tool{
		Type: "function",
		Function: &llms.FunctionDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		},
	}
}

type toolDescription struct {
	Name        string `json:"Name" yaml:"Name"`
	Description string `json:"Description" yaml:"Description"`
}

type toolsDescription struct {
	Tools []toolDescription `json:"Tools" yaml:"Tools"`
}

// GetDescriptions renders the names and descriptions of the tools as a YAML block.
func GetDescriptions[T ITool](list ...T) string {
	var d toolsDescription
	for _, tool := range list {
		d.Tools = append(d.Tools, toolDescription{
			Name:        tool.Name(),
			Description: tool.Description(),
		})
	}
	return llmutils.BackticksYAML(llmutils.ToYAML(d))
}
