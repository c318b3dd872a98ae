// Package buildinfo carries values stamped at link time, e.g.
// -ldflags "-X netopt/internal/buildinfo.Version=v1.2.0".
package buildinfo

import "runtime"

var (
	Version = "dev"
	Commit  = ""
	BuiltAt = ""
)

func Info() map[string]string {
	return map[string]string{
		"version":   Version,
		"commit":    Commit,
		"builtAt":   BuiltAt,
		"goVersion": runtime.Version(),
	}
}
