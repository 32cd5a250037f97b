// Package version derives the running build's identity from build
// metadata, for the health endpoint and startup logging.
//
// Resolution order: -ldflags override, then the VCS stamp from
// debug.BuildInfo, then "dev".
package version

import "runtime/debug"

// AppName is the application name used in version strings and the
// health endpoint.
const AppName = "briefly"

// gitCommitOverride is set via -ldflags for container builds where the
// .git directory is unavailable.
var gitCommitOverride string

// GitCommit identifies the build: a short commit hash, suffixed with
// "-dirty" for builds from a modified tree, or "dev" when no VCS stamp
// exists (go test, non-git builds).
var GitCommit = resolveCommit()

func resolveCommit() string {
	if gitCommitOverride != "" {
		return short(gitCommitOverride)
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}
	var rev string
	var dirty bool
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			rev = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if rev == "" {
		return "dev"
	}
	if dirty {
		return short(rev) + "-dirty"
	}
	return short(rev)
}

func short(rev string) string {
	if len(rev) > 8 {
		return rev[:8]
	}
	return rev
}

// Full returns "briefly/<commit>" for user-agent strings and logs.
func Full() string {
	return AppName + "/" + GitCommit
}
