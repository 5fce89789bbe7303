// Copyright 2026 The Warden Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package build exposes the binary's version metadata.
//
// Release builds inject the values via ldflags:
//
//	go build -ldflags "-X .../build.version=v0.1.0"
//
// For `go install` and plain source builds the gaps are filled from the
// build info the toolchain embeds in the binary.
package build

import "runtime/debug"

// Set by ldflags; defaults apply to plain source builds.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Info describes the running binary.
type Info struct {
	Version string
	Commit  string
	Date    string
}

// Current resolves the binary's build metadata. ldflag-injected values
// win; otherwise the module version and VCS stamp embedded by the Go
// toolchain fill in what they can.
func Current() Info {
	out := Info{Version: version, Commit: commit, Date: date}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return out
	}
	if out.Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		out.Version = bi.Main.Version
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if out.Commit == "unknown" && s.Value != "" {
				out.Commit = shortRevision(s.Value)
			}
		case "vcs.time":
			if out.Date == "unknown" && s.Value != "" {
				out.Date = s.Value
			}
		}
	}
	return out
}

// shortRevision abbreviates a VCS revision to the customary 12 runes.
func shortRevision(rev string) string {
	if len(rev) > 12 {
		return rev[:12]
	}
	return rev
}
