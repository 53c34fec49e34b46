// Package tools holds the descriptors of the tools exposed by the connected MCP server
// and translates them into the function-call schemas offered to the model.
package tools
