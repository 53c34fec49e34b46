// Package llms provides the provider-neutral chat model surface used by the agent:
// role-tagged messages, tool calls and their responses, call options,
// and the Model interface implemented by backend packages.
//
// The `llms.go` file contains the Model interface.
//
// The `options.go` file provides the call options and tool definitions.
package llms
