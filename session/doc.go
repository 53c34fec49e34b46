// Package session runs the interactive loop: it connects to the tool server,
// answers one query at a time and closes the connection on every exit path.
package session

import "github.com/effective-security/xlog"

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpchat", "session")
