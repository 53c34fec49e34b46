package main

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpchat/callbacks"
	"github.com/effective-security/mcpchat/config"
	"github.com/effective-security/mcpchat/mcp"
	"github.com/effective-security/mcpchat/pkg/llmfactory"
	"github.com/effective-security/mcpchat/session"
	"github.com/effective-security/xlog"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpchat", "cmd")

type flags struct {
	configFile string
	envFile    string
	debug      bool
	verbose    bool
}

func newRootCmd(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	f := &flags{}
	cmd := &cobra.Command{
		Use:           "mcpchat <path_to_server_script>",
		Short:         "Chat with a model that can call the tools of an MCP server",
		Long:          "mcpchat starts the MCP server script (.py or .js) and answers questions using its tools.",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Usage: mcpchat <path_to_server_script>")
				return nil
			}
			return run(cmd.Context(), f, args[0], stdin, stdout, stderr)
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.Flags().StringVarP(&f.configFile, "config", "c", "", "optional YAML config file")
	cmd.Flags().StringVar(&f.envFile, "env-file", ".env", "optional file with environment variables")
	cmd.Flags().BoolVarP(&f.debug, "debug", "d", false, "write debug logs and query transcripts to stderr")
	cmd.Flags().BoolVarP(&f.verbose, "verbose", "v", false, "echo model calls and tool results")
	return cmd
}

func run(ctx context.Context, f *flags, scriptPath string, stdin io.Reader, stdout, stderr io.Writer) error {
	xlog.SetFormatter(xlog.NewStringFormatter(stderr))
	if f.debug {
		xlog.SetGlobalLogLevel(xlog.DEBUG)
	} else {
		xlog.SetGlobalLogLevel(xlog.WARNING)
	}

	if f.envFile != "" {
		if err := godotenv.Load(f.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return errors.WithMessagef(err, "unable to load %q", f.envFile)
		}
	}

	cfg, err := config.Load(f.configFile, os.Getenv)
	if err != nil {
		return err
	}

	model, err := llmfactory.NewLLM(cfg, nil)
	if err != nil {
		return err
	}

	client := mcp.NewClient(
		mcp.WithInterpreters(cfg.Interpreters),
		mcp.WithImplementation(cfg.ClientName, cfg.ClientVersion),
	)

	opts := []session.Option{}
	if f.verbose {
		opts = append(opts, session.WithMode(callbacks.ModeVerbose))
	}
	if f.debug {
		opts = append(opts, session.WithTranscript(stderr))
	}

	logger.KV(xlog.DEBUG,
		"status", "starting",
		"script", scriptPath,
		"model", model.GetName(),
		"base_url", cfg.BaseURL,
	)
	return session.Run(ctx, cfg, scriptPath, client, model, stdin, stdout, opts...)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	go func() {
		// the next signal terminates the process
		<-ctx.Done()
		stop()
	}()

	err := newRootCmd(os.Stdin, os.Stdout, os.Stderr).ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ %s\n", err.Error())
		os.Exit(1)
	}
}
