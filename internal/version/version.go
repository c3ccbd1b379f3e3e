// Package version carries build metadata stamped at link time.
package version

import (
	"fmt"
	"runtime"
)

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

func String() string {
	return fmt.Sprintf("rebuttal %s (commit=%s, date=%s, go=%s)", Version, Commit, Date, runtime.Version())
}

// UserAgent identifies rebuttal to the debate server and to doctor probes.
func UserAgent() string {
	return fmt.Sprintf("rebuttal/%s (%s/%s)", Version, runtime.GOOS, runtime.GOARCH)
}
