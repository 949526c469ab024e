package jsonservice

import (
	"fmt"
	"runtime"
	"strings"
)

// Version is the library release. Manifests may constrain it with requires:.
var Version = "v0.3.0"

// Commit is stamped at build time with
// -ldflags "-X github.com/ambiyansyah-risyal/jsonservice.Commit=<sha>".
var Commit = "unknown"

// GetVersion describes the running build.
func GetVersion() string {
	return fmt.Sprintf("jsonservice %s (commit %s, %s)", Version, Commit, runtime.Version())
}

// userAgent is sent with every request so backends can tell client releases
// apart.
func userAgent() string {
	return "jsonservice/" + strings.TrimPrefix(Version, "v")
}
