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
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/peg/warden/internal/watch"
)

func newWatchCmd(opts *rootOptions) *cobra.Command {
	var auditDir string
	var action string
	var category string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Live TUI dashboard for the decision trail",
		RunE: func(cmd *cobra.Command, _ []string) error {
			resolvedDir, err := expandHome(auditDir)
			if err != nil {
				return err
			}
			resolvedDir = filepath.Clean(resolvedDir)

			if err := os.MkdirAll(resolvedDir, 0o700); err != nil {
				return fmt.Errorf("watch: create trail dir: %w", err)
			}

			latestFile, err := latestTrailFile(resolvedDir)
			if err != nil {
				return fmt.Errorf("watch: find trail file: %w", err)
			}

			return watch.Run(cmd.Context(), watch.Config{
				TrailFile:  latestFile,
				PolicyFile: opts.policyPath,
				Action:     action,
				Category:   category,
				Out:        cmd.OutOrStdout(),
			})
		},
	}

	cmd.Flags().StringVar(&auditDir, "audit-dir", "~/.warden/audit", "Directory containing trail JSONL files")
	cmd.Flags().StringVar(&action, "action", "", "Filter by action (allow, deny)")
	cmd.Flags().StringVar(&category, "category", "", "Filter by operation category (e.g. read, domain, shell_command)")

	return cmd
}

// latestTrailFile returns the most recently modified *.jsonl file in
// dir, or the predicted daily filename when none exist yet.
func latestTrailFile(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.jsonl"))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		today := time.Now().UTC().Format("20060102")
		return filepath.Join(dir, "warden-"+today+".jsonl"), nil
	}
	var latest string
	var latestMod time.Time
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil {
			continue
		}
		if info.ModTime().After(latestMod) {
			latestMod = info.ModTime()
			latest = m
		}
	}
	if latest == "" {
		sort.Strings(matches)
		latest = matches[len(matches)-1]
	}
	return latest, nil
}

func expandHome(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fmt.Errorf("cli: path is empty")
	}
	if !strings.HasPrefix(trimmed, "~/") && trimmed != "~" {
		return trimmed, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cli: resolve home directory: %w", err)
	}
	if trimmed == "~" {
		return home, nil
	}
	return filepath.Join(home, strings.TrimPrefix(trimmed, "~/")), nil
}
