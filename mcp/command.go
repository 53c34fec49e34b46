package mcp

import (
	"path/filepath"
	goruntime "runtime"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/x/values"
)

// Interpreters overrides the programs used to run server scripts.
// Empty values select the platform defaults.
type Interpreters struct {
	// Node runs .js scripts, default is node
	Node string `json:"node,omitempty" yaml:"node,omitempty"`
	// Python runs .py scripts, default is python3, or python on Windows
	Python string `json:"python,omitempty" yaml:"python,omitempty"`
}

// ResolveCommand returns the program and arguments that run the server script.
// The script kind is decided by its extension only, the file is not opened.
func ResolveCommand(scriptPath string, interpreters Interpreters) (string, []string, error) {
	return resolveCommand(scriptPath, interpreters, goruntime.GOOS)
}

func resolveCommand(scriptPath string, interpreters Interpreters, goos string) (string, []string, error) {
	switch filepath.Ext(scriptPath) {
	case ".js":
		return values.StringsCoalesce(interpreters.Node, "node"), []string{scriptPath}, nil
	case ".py":
		return values.StringsCoalesce(interpreters.Python, defaultPython(goos)), []string{scriptPath}, nil
	default:
		return "", nil, errors.Wrapf(ErrUnsupportedScriptKind, "unsupported script: %q", scriptPath)
	}
}

func defaultPython(goos string) string {
	if goos == "windows" {
		return "python"
	}
	return "python3"
}
