// Package assistants runs the per-query tool cycle: ask the model, execute at most
// one requested tool call on the tool server, splice the result back into the
// conversation and ask the model for the final answer.
package assistants
