// Package mcp spawns the tool server script as a subprocess and speaks the
// Model Context Protocol to it over the child's stdin and stdout.
//
// The Client owns the subprocess: Connect starts it and runs the initialize
// handshake, ListTools and CallTool perform one request each, and Close
// terminates it. Errors are marked with the sentinels in errors.go so callers
// can classify them with errors.Is.
package mcp
