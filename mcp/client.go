package mcp

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpchat/tools"
	"github.com/effective-security/x/slices"
	"github.com/effective-security/xlog"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpchat", "mcp")

// ToolInvocationRequest is the model's decision to call a tool.
type ToolInvocationRequest struct {
	ToolName string `json:"name"`
	// Arguments is the decoded JSON object produced by the model
	Arguments map[string]any `json:"arguments"`
}

// ToolResult is the textual outcome of a tool call.
type ToolResult struct {
	Text string
	// Present is false when the server returned no text content
	Present bool
}

// TransportFactory builds the transport for the resolved server command.
type TransportFactory func(ctx context.Context, command string, args []string) (mcpsdk.Transport, error)

// Option configures the Client.
type Option func(*Client)

// WithTransportFactory replaces the subprocess transport.
func WithTransportFactory(factory TransportFactory) Option {
	return func(c *Client) {
		c.factory = factory
	}
}

// WithInterpreters overrides the programs used to run server scripts.
func WithInterpreters(interpreters Interpreters) Option {
	return func(c *Client) {
		c.interpreters = interpreters
	}
}

// WithImplementation sets the client name and version sent in the handshake.
func WithImplementation(name, version string) Option {
	return func(c *Client) {
		if name != "" {
			c.impl.Name = name
		}
		if version != "" {
			c.impl.Version = version
		}
	}
}

// Client is a MCP client connected to a tool server subprocess.
type Client struct {
	factory      TransportFactory
	interpreters Interpreters
	impl         mcpsdk.Implementation

	lock    sync.Mutex
	session *mcpsdk.ClientSession
	closed  bool
}

// NewClient returns a client, call Connect to start the server.
func NewClient(opts ...Option) *Client {
	c := &Client{
		factory: commandTransport,
		impl: mcpsdk.Implementation{
			Name:    "mcp-client-cli",
			Version: "1.0.0",
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// commandTransport runs the server as a child process, its stderr is passed through.
func commandTransport(_ context.Context, command string, args []string) (mcpsdk.Transport, error) {
	// #nosec G204 -- the command is selected by the script extension
	cmd := exec.Command(command, args...)
	cmd.Stderr = os.Stderr
	return &mcpsdk.CommandTransport{Command: cmd}, nil
}

// Connect starts the server script and performs the initialize handshake.
// Nothing is spawned when the script kind is not supported.
func (c *Client) Connect(ctx context.Context, scriptPath string) error {
	command, args, err := ResolveCommand(scriptPath, c.interpreters)
	if err != nil {
		return err
	}

	c.lock.Lock()
	defer c.lock.Unlock()
	if c.closed {
		return errors.Mark(errors.New("client is closed"), ErrConnection)
	}
	if c.session != nil {
		return errors.Mark(errors.New("client is already connected"), ErrConnection)
	}

	transport, err := c.factory(ctx, command, args)
	if err != nil {
		return errors.Mark(errors.Wrapf(err, "unable to create transport for %q", scriptPath), ErrConnection)
	}

	impl := c.impl
	client := mcpsdk.NewClient(&impl, nil)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		logger.ContextKV(ctx, xlog.ERROR,
			"status", "connect_failed",
			"command", command,
			"script", scriptPath,
			"err", err.Error(),
		)
		return errors.Mark(errors.Wrapf(err, "unable to start %s %s", command, scriptPath), ErrConnection)
	}
	c.session = session

	logger.ContextKV(ctx, xlog.DEBUG,
		"status", "connected",
		"command", command,
		"script", scriptPath,
	)
	return nil
}

func (c *Client) getSession() (*mcpsdk.ClientSession, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.closed {
		return nil, errors.Mark(errors.New("session is closed"), ErrChannel)
	}
	if c.session == nil {
		return nil, errors.Mark(errors.New("not connected"), ErrChannel)
	}
	return c.session, nil
}

// ListTools returns the tools advertised by the server, following pagination cursors.
func (c *Client) ListTools(ctx context.Context) ([]tools.ToolDescriptor, error) {
	session, err := c.getSession()
	if err != nil {
		return nil, err
	}

	var list []tools.ToolDescriptor
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			return nil, errors.Mark(errors.Wrap(err, "tools/list failed"), ErrChannel)
		}
		d, err := toToolDescriptor(tool)
		if err != nil {
			return nil, err
		}
		list = append(list, d)
	}
	return list, nil
}

func toToolDescriptor(tool *mcpsdk.Tool) (tools.ToolDescriptor, error) {
	if tool == nil || tool.Name == "" {
		return tools.ToolDescriptor{}, errors.Mark(errors.New("tool without name"), ErrProtocol)
	}
	schema, err := toSchemaMap(tool.InputSchema)
	if err != nil {
		return tools.ToolDescriptor{}, errors.Mark(errors.Wrapf(err, "invalid input schema of tool %q", tool.Name), ErrProtocol)
	}
	return tools.ToolDescriptor{
		ToolName:        tool.Name,
		ToolDescription: tool.Description,
		InputSchema:     schema,
	}, nil
}

// toSchemaMap returns the schema as a JSON object, the content is not validated.
func toSchemaMap(schema any) (map[string]any, error) {
	switch s := schema.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return s, nil
	}
	js, err := json.Marshal(schema)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	var m map[string]any
	if err = json.Unmarshal(js, &m); err != nil {
		return nil, errors.WithStack(err)
	}
	return m, nil
}

// CallTool invokes the tool and blocks until the server replies or the channel fails.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*ToolResult, error) {
	session, err := c.getSession()
	if err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}

	res, err := session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		if IsErrorReply(err) {
			logger.ContextKV(ctx, xlog.DEBUG,
				"status", "tool_error_reply",
				"tool", name,
				"err", err.Error(),
			)
			return nil, errors.Mark(errors.Wrapf(err, "tool %q reported an error", name), ErrToolExecution)
		}
		return nil, errors.Mark(errors.Wrapf(err, "tools/call %q failed", name), ErrChannel)
	}

	if res.IsError {
		msg := strings.TrimSpace(allText(res.Content))
		logger.ContextKV(ctx, xlog.DEBUG,
			"status", "tool_error",
			"tool", name,
			"err", slices.StringUpto(msg, 256),
		)
		if msg == "" {
			msg = "no details"
		}
		return nil, errors.Mark(errors.Newf("tool %q reported an error: %s", name, msg), ErrToolExecution)
	}

	return firstText(res.Content), nil
}

// firstText returns the first content item when it is non-empty text.
func firstText(content []mcpsdk.Content) *ToolResult {
	if len(content) > 0 {
		if tc, ok := content[0].(*mcpsdk.TextContent); ok && tc.Text != "" {
			return &ToolResult{Text: tc.Text, Present: true}
		}
	}
	return &ToolResult{}
}

func allText(content []mcpsdk.Content) string {
	var parts []string
	for _, c := range content {
		if tc, ok := c.(*mcpsdk.TextContent); ok && tc.Text != "" {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// Close terminates the session and the subprocess. It is safe to call more than once.
func (c *Client) Close() error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	if c.session == nil {
		return nil
	}
	err := c.session.Close()
	c.session = nil
	if err != nil {
		logger.KV(xlog.DEBUG, "status", "close_failed", "err", err.Error())
		return errors.Wrap(err, "failed to close tool server session")
	}
	return nil
}
