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

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/peg/warden/internal/audit"
)

func newLogCmd(_ *rootOptions) *cobra.Command {
	var (
		count    int
		denyOnly bool
		jsonOut  bool
		auditDir string
		noColorF bool
	)

	cmd := &cobra.Command{
		Use:   "log",
		Short: "Print recent trail events and exit",
		Long: `Display recent events from the decision trail.

Unlike "warden watch", this prints events and exits — no TUI required.

Examples:
  warden log              # Last 20 events
  warden log -n 50        # Last 50 events
  warden log --deny       # Only denied operations
  warden log --json       # Raw JSON output (for piping)`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			resolvedDir, err := expandHome(auditDir)
			if err != nil {
				return err
			}

			events, err := loadTrailEvents(filepath.Clean(resolvedDir))
			if err != nil {
				return err
			}

			if denyOnly {
				filtered := make([]audit.Event, 0, len(events))
				for _, e := range events {
					if strings.EqualFold(e.Action, "deny") {
						filtered = append(filtered, e)
					}
				}
				events = filtered
			}

			if count > 0 && len(events) > count {
				events = events[len(events)-count:]
			}

			if len(events) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No events found.")
				return nil
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				return writeJSONEvents(out, events)
			}
			for _, e := range events {
				if _, err := fmt.Fprintln(out, formatLogLine(e, noColorF)); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&count, "number", "n", 20, "Number of events to display")
	cmd.Flags().BoolVar(&denyOnly, "deny", false, "Show only denied operations")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output raw JSON lines")
	cmd.Flags().StringVar(&auditDir, "audit-dir", "~/.warden/audit", "Directory containing trail JSONL files")
	cmd.Flags().BoolVar(&noColorF, "no-color", false, "Disable colored output")

	return cmd
}

// loadTrailEvents reads the most recent trail file in full.
func loadTrailEvents(dir string) ([]audit.Event, error) {
	latest, err := latestTrailFile(dir)
	if err != nil {
		return nil, err
	}
	events, _, err := audit.ReadEventsFromOffset(latest, 0)
	if os.IsNotExist(err) {
		return nil, nil
	}
	return events, err
}

func writeJSONEvents(w io.Writer, events []audit.Event) error {
	enc := json.NewEncoder(w)
	for _, e := range events {
		if err := enc.Encode(e); err != nil {
			return fmt.Errorf("log: encode event: %w", err)
		}
	}
	return nil
}

// formatLogLine produces a single pretty-printed line for an event.
func formatLogLine(e audit.Event, disableColor bool) string {
	ts := e.Timestamp.Format("15:04:05")
	action := strings.ToLower(e.Action)

	target := e.Target
	if len(target) > 45 {
		target = target[:42] + "..."
	}

	var icon string
	switch action {
	case "allow":
		icon = "✅"
	case "deny":
		icon = "🛡️"
	default:
		icon = "•"
	}

	rule := e.Rule
	if rule == "" {
		rule = "(no rule)"
	}

	line := fmt.Sprintf("%s  %s %-5s  %-13s %-45s %s", ts, icon, action, e.Category, target, rule)

	if disableColor {
		return line
	}
	switch action {
	case "allow":
		return "\033[32m" + line + "\033[0m"
	case "deny":
		return "\033[1;31m" + line + "\033[0m"
	}
	return line
}
