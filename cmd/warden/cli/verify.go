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
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/peg/warden/internal/audit"
)

func newVerifyCmd(_ *rootOptions) *cobra.Command {
	var auditDir string

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify the decision trail's hash chain",
		RunE: func(cmd *cobra.Command, _ []string) error {
			resolvedDir, err := expandHome(auditDir)
			if err != nil {
				return err
			}

			matches, err := filepath.Glob(filepath.Join(filepath.Clean(resolvedDir), "*.jsonl"))
			if err != nil {
				return fmt.Errorf("verify: list trail files: %w", err)
			}
			if len(matches) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No trail files found.")
				return nil
			}
			sort.Strings(matches)

			total := 0
			head := ""
			for _, path := range matches {
				events, _, err := audit.ReadEventsFromOffset(path, 0)
				if err != nil {
					return fmt.Errorf("verify: read %s: %w", path, err)
				}

				broken, newHead, err := audit.VerifyChain(events, head)
				if err != nil {
					return fmt.Errorf("verify: %s: %w", path, err)
				}
				head = newHead
				if broken >= 0 {
					return &exitError{
						code:    1,
						message: fmt.Sprintf("verify: %s: chain broken at event %d (%s)", path, broken, events[broken].ID),
					}
				}
				total += len(events)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "OK: %d events across %d files, chain intact\n", total, len(matches))
			return nil
		},
	}

	cmd.Flags().StringVar(&auditDir, "audit-dir", "~/.warden/audit", "Directory containing trail JSONL files")

	return cmd
}
