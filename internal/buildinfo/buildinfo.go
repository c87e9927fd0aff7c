// Package buildinfo carries version metadata set at link time, e.g.
// -ldflags "-X routetrace/internal/buildinfo.Version=v1.2.0".
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

// String is the one-line form printed by the CLIs.
func String() string {
	s := "routetrace " + Version
	if Commit != "" {
		s += " (" + Commit + ")"
	}
	return s
}
