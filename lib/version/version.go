// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"fmt"
	"runtime/debug"
)

// Set with -ldflags -X at build time.
var (
	Version   = "0.1.0-dev"
	GitCommit = ""
	BuildTime = ""
)

// Short returns the release version, as reported by the status action.
func Short() string {
	return Version
}

// Info returns the --version line: the release version followed by
// the commit and build time when they are known.
func Info() string {
	info, _ := debug.ReadBuildInfo()
	return format(Version, GitCommit, BuildTime, info)
}

// format falls back to the VCS stamp the go command embeds when the
// commit was not injected.
func format(version, commit, built string, info *debug.BuildInfo) string {
	dirty := false
	if commit == "" && info != nil {
		for _, setting := range info.Settings {
			switch setting.Key {
			case "vcs.revision":
				commit = setting.Value
				if len(commit) > 12 {
					commit = commit[:12]
				}
			case "vcs.modified":
				dirty = setting.Value == "true"
			case "vcs.time":
				if built == "" {
					built = setting.Value
				}
			}
		}
	}
	switch {
	case commit == "":
		return version
	case dirty:
		commit += "-dirty"
	}
	if built == "" {
		return fmt.Sprintf("%s (%s)", version, commit)
	}
	return fmt.Sprintf("%s (%s, %s)", version, commit, built)
}
