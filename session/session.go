package session

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpchat/assistants"
	"github.com/effective-security/mcpchat/callbacks"
	"github.com/effective-security/mcpchat/chatmodel"
	"github.com/effective-security/mcpchat/config"
	"github.com/effective-security/mcpchat/gateway"
	"github.com/effective-security/mcpchat/mcp"
	"github.com/effective-security/mcpchat/pkg/llms"
	"github.com/effective-security/mcpchat/tools"
	"github.com/effective-security/x/slices"
	"github.com/effective-security/xlog"
)

//go:generate mockgen -source=session.go -destination=../mocks/mocksession/session_mock.gen.go -package mocksession

// QuitCommand ends the session, matched case-insensitively.
const QuitCommand = "quit"

// Transport is the connection to the tool server.
type Transport interface {
	tools.Lister
	assistants.ToolCaller
	Connect(ctx context.Context, scriptPath string) error
	Close() error
}

// Option configures the Session.
type Option func(*Session)

// WithOutput sets the writer for the banner and the tool call echo, default is os.Stdout.
func WithOutput(w io.Writer) Option {
	return func(s *Session) {
		s.out = w
	}
}

// WithMode sets the verbosity of the tool call echo.
func WithMode(mode callbacks.Mode) Option {
	return func(s *Session) {
		s.mode = mode
	}
}

// WithTranscript writes the transcript of every query to w.
func WithTranscript(w io.Writer) Option {
	return func(s *Session) {
		s.transcript = w
	}
}

// WithAssistant replaces the assistant that answers the queries.
func WithAssistant(assistant assistants.IAssistant) Option {
	return func(s *Session) {
		s.assistant = assistant
	}
}

// Session is a connected tool server and the assistant that uses it.
type Session struct {
	id         string
	cfg        *config.Config
	transport  Transport
	registry   *tools.Registry
	assistant  assistants.IAssistant
	scratchpad *callbacks.Scratchpad

	out        io.Writer
	transcript io.Writer
	mode       callbacks.Mode

	closeOnce sync.Once
	closeErr  error
}

// Open connects the transport to the server script and loads the tools.
// On failure the transport is closed before returning.
func Open(ctx context.Context, cfg *config.Config, scriptPath string, transport Transport, model llms.Model, opts ...Option) (*Session, error) {
	s := &Session{
		id:        chatmodel.NewChatID(),
		cfg:       cfg,
		transport: transport,
		registry:  tools.NewRegistry(transport),
		out:       os.Stdout,
	}
	for _, opt := range opts {
		opt(s)
	}

	err := s.connect(ctx, scriptPath)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	if s.assistant == nil {
		s.scratchpad = callbacks.NewScratchpad(s.mode)
		callback := callbacks.NewFanout(
			callbacks.NewPrinter(s.out, s.mode),
			callbacks.NewPackageLogger(logger),
			s.scratchpad,
		)
		gw := gateway.New(model,
			gateway.WithMaxTokens(cfg.MaxTokens),
			gateway.WithTemperature(cfg.GetTemperature()),
		)
		s.assistant = assistants.NewAssistant(gw, s.registry, transport,
			assistants.WithSystemPrompt(cfg.SystemPrompt),
			assistants.WithCallback(callback),
		)
	}
	return s, nil
}

func (s *Session) connect(ctx context.Context, scriptPath string) error {
	if err := s.transport.Connect(ctx, scriptPath); err != nil {
		return errors.WithMessagef(err, "unable to connect to %q", scriptPath)
	}

	list, err := s.registry.Refresh(ctx)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(list))
	for _, t := range list {
		names = append(names, t.Name())
	}
	fmt.Fprintf(s.out, "✅ connected, tools: [%s]\n", strings.Join(names, ", "))

	logger.KV(xlog.DEBUG,
		"session_id", s.id,
		"status", "connected",
		"script", scriptPath,
		"tools", tools.GetDescriptions(list...),
		"tools_fingerprint", fmt.Sprintf("%016x", s.registry.Fingerprint()),
	)
	return nil
}

// ID returns the session ID.
func (s *Session) ID() string {
	return s.id
}

// ToolsFingerprint returns the fingerprint of the tools advertised by the server.
func (s *Session) ToolsFingerprint() uint64 {
	return s.registry.Fingerprint()
}

// Tools returns the tools of the server.
func (s *Session) Tools() []tools.ToolDescriptor {
	return s.registry.Tools()
}

// Loop reads queries from in until quit, the end of input or the loss of
// the tool server, and writes the answers to out.
func (s *Session) Loop(ctx context.Context, in io.Reader, out io.Writer) error {
	reader := bufio.NewReader(in)

	fmt.Fprintln(out, "\n✅ MCP Client started")
	fmt.Fprintf(out, "💬 type your question, or '%s' to exit\n", QuitCommand)

	for {
		if ctx.Err() != nil {
			return nil
		}

		fmt.Fprint(out, "\nQuery: ")
		line, err := reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return errors.Wrap(err, "unable to read query")
		}
		eof := err != nil

		query := strings.TrimRight(line, "\r\n")
		if strings.EqualFold(query, QuitCommand) {
			return nil
		}
		if eof && query == "" {
			fmt.Fprintln(out)
			return nil
		}

		reply, fatal := s.ask(ctx, query)
		fmt.Fprintf(out, "\n🧠 Reply:\n%s\n", reply)

		if fatal != nil {
			logger.ContextKV(ctx, xlog.ERROR,
				"session_id", s.id,
				"status", "tool_server_lost",
				"err", fatal.Error(),
			)
			fmt.Fprintln(out, "\n❌ tool server is not available, closing the session")
			return nil
		}
		if eof {
			return nil
		}
	}
}

// ask answers one query, failures are returned as the text to print.
// The returned error is not nil when the tool server can not be used anymore.
func (s *Session) ask(ctx context.Context, query string) (string, error) {
	chatCtx := chatmodel.NewChatContext(s.id, "")
	ctx = chatmodel.WithChatContext(ctx, chatCtx)

	if s.scratchpad != nil {
		s.scratchpad.StartRun(ctx)
		defer s.endRun(ctx)
	}

	res, err := s.assistant.Run(ctx, query)
	if err != nil {
		logger.ContextKV(ctx, xlog.ERROR,
			"session_id", s.id,
			"chat_id", chatCtx.GetChatID(),
			"query", slices.StringUpto(query, 64),
			"err", err.Error(),
		)
		if mcp.IsSessionFatal(err) {
			return "❌ " + err.Error(), err
		}
		return "❌ " + err.Error(), nil
	}
	if res.ToolErr != nil && mcp.IsSessionFatal(res.ToolErr) {
		return res.Text, res.ToolErr
	}
	return res.Text, nil
}

func (s *Session) endRun(ctx context.Context) {
	stats, transcript := s.scratchpad.EndRun(ctx)
	if stats == nil {
		return
	}
	logger.ContextKV(ctx, xlog.DEBUG,
		"session_id", stats.SessionID,
		"chat_id", stats.ChatID,
		"duration", stats.Duration.String(),
		"llm_calls", stats.LLMCalls,
		"llm_calls_failed", stats.LLMCallsFailed,
		"tool_calls", stats.ToolsCalls,
		"tool_calls_failed", stats.ToolsCallsFailed,
	)
	if s.transcript != nil {
		_, _ = s.transcript.Write(transcript)
	}
}

// Close closes the transport, only the first call has effect.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.transport.Close()
		if s.closeErr != nil {
			logger.KV(xlog.ERROR,
				"session_id", s.id,
				"status", "close_failed",
				"err", s.closeErr.Error(),
			)
		}
	})
	return s.closeErr
}

// Run opens the session, answers queries from in until quit and closes the session.
func Run(ctx context.Context, cfg *config.Config, scriptPath string, transport Transport, model llms.Model, in io.Reader, out io.Writer, opts ...Option) error {
	opts = append([]Option{WithOutput(out)}, opts...)
	s, err := Open(ctx, cfg, scriptPath, transport, model, opts...)
	if err != nil {
		return err
	}
	defer func() {
		_ = s.Close()
	}()

	return s.Loop(ctx, in, out)
}
