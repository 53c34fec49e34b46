// Package mcptest provides in-memory MCP tool servers for tests.
package mcptest

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// Factory provides a transport factory that connects to an in-memory server
// instead of spawning a subprocess, and records the commands it was asked to run.
type Factory struct {
	server *mcpsdk.Server
	err    error

	lock     sync.Mutex
	commands [][]string
}

// NewFactory returns a factory connecting to the server.
func NewFactory(server *mcpsdk.Server) *Factory {
	return &Factory{server: server}
}

// NewFailingFactory returns a factory that fails with err.
func NewFailingFactory(err error) *Factory {
	return &Factory{err: err}
}

// Transport matches mcp.TransportFactory.
func (f *Factory) Transport(ctx context.Context, command string, args []string) (mcpsdk.Transport, error) {
	f.lock.Lock()
	f.commands = append(f.commands, append([]string{command}, args...))
	f.lock.Unlock()

	if f.err != nil {
		return nil, f.err
	}
	ct, st := mcpsdk.NewInMemoryTransports()
	if _, err := f.server.Connect(ctx, st, nil); err != nil {
		return nil, err
	}
	return ct, nil
}

// Commands returns the commands the factory was asked to run.
func (f *Factory) Commands() [][]string {
	f.lock.Lock()
	defer f.lock.Unlock()
	return append([][]string(nil), f.commands...)
}

// WeatherInput is the input of the get_weather tool.
type WeatherInput struct {
	City string `json:"city" jsonschema:"the city name"`
}

// NoInput is the input of tools without arguments.
type NoInput struct{}

// ServerOption configures the server returned by NewWeatherServer.
type ServerOption func(*serverConfig)

type serverConfig struct {
	pageSize int
	onCall   func(name string, args any)
	forecast func(city string) string
}

// WithPageSize sets the page size of list results.
func WithPageSize(n int) ServerOption {
	return func(c *serverConfig) { c.pageSize = n }
}

// WithCallObserver registers a function called on every tool call.
func WithCallObserver(fn func(name string, args any)) ServerOption {
	return func(c *serverConfig) { c.onCall = fn }
}

// WithForecast replaces the text returned by get_weather.
func WithForecast(fn func(city string) string) ServerOption {
	return func(c *serverConfig) { c.forecast = fn }
}

// NewWeatherServer returns a server with the tools:
// get_weather returns the weather text for the city;
// silent returns no content;
// broken always fails with "sensor offline".
func NewWeatherServer(opts ...ServerOption) *mcpsdk.Server {
	cfg := &serverConfig{
		forecast: func(city string) string { return "18C and sunny in " + city },
	}
	for _, opt := range opts {
		opt(cfg)
	}
	observe := func(name string, args any) {
		if cfg.onCall != nil {
			cfg.onCall(name, args)
		}
	}

	server := mcpsdk.NewServer(&mcpsdk.Implementation{Name: "weather", Version: "v0.0.1"},
		&mcpsdk.ServerOptions{PageSize: cfg.pageSize})

	mcpsdk.AddTool(server, &mcpsdk.Tool{
		Name:        "get_weather",
		Description: "Returns the current weather for a city",
	}, func(_ context.Context, _ *mcpsdk.CallToolRequest, in WeatherInput) (*mcpsdk.CallToolResult, any, error) {
		observe("get_weather", in)
		return &mcpsdk.CallToolResult{
			Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: cfg.forecast(in.City)}},
		}, nil, nil
	})

	mcpsdk.AddTool(server, &mcpsdk.Tool{
		Name:        "silent",
		Description: "Returns nothing",
	}, func(_ context.Context, _ *mcpsdk.CallToolRequest, in NoInput) (*mcpsdk.CallToolResult, any, error) {
		observe("silent", in)
		return &mcpsdk.CallToolResult{Content: []mcpsdk.Content{}}, nil, nil
	})

	mcpsdk.AddTool(server, &mcpsdk.Tool{
		Name:        "broken",
		Description: "Always fails",
	}, func(_ context.Context, _ *mcpsdk.CallToolRequest, in NoInput) (*mcpsdk.CallToolResult, any, error) {
		observe("broken", in)
		return nil, nil, errSensorOffline
	})

	return server
}

var errSensorOffline = errors.New("sensor offline")
