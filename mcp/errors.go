package mcp

import (
	"reflect"

	"github.com/cockroachdb/errors"
	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
)

var (
	// ErrUnsupportedScriptKind is returned when the server script is neither a .js nor a .py file.
	ErrUnsupportedScriptKind = errors.New("server script must be a .js or .py file")
	// ErrConnection is returned when the subprocess can not be started or the handshake fails.
	ErrConnection = errors.New("unable to connect to the tool server")
	// ErrChannel is returned when the session with the tool server is closed or broken.
	ErrChannel = errors.New("tool server channel failure")
	// ErrProtocol is returned when the tool server replies with a malformed message.
	ErrProtocol = errors.New("malformed tool server reply")
	// ErrToolExecution is returned when the tool server reports that the tool failed.
	ErrToolExecution = errors.New("tool execution failed")
)

// errorReplyType is the type the SDK decodes JSON-RPC error replies into,
// the type itself is not exported.
var errorReplyType = func() reflect.Type {
	msg, err := jsonrpc.DecodeMessage([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32603,"message":"internal error"}}`))
	if err != nil {
		panic(err)
	}
	resp, ok := msg.(*jsonrpc.Response)
	if !ok || resp.Error == nil {
		panic("unexpected JSON-RPC error reply decoding")
	}
	return reflect.TypeOf(resp.Error)
}()

// IsErrorReply returns true when err carries a JSON-RPC error replied by the server,
// the channel is still usable in this case.
func IsErrorReply(err error) bool {
	if err == nil {
		return false
	}
	target := reflect.New(errorReplyType)
	return errors.As(err, target.Interface())
}

// IsSessionFatal returns true when err means the tool server can not be used anymore.
func IsSessionFatal(err error) bool {
	return errors.Is(err, ErrChannel) || errors.Is(err, ErrConnection)
}
