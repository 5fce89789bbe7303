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
	"strings"

	"github.com/spf13/cobra"

	"github.com/peg/warden/policies"
)

func newInitCmd(opts *rootOptions) *cobra.Command {
	var force bool
	var profile string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter policy file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			selected := strings.TrimSpace(strings.ToLower(profile))
			content, err := policies.Profile(selected)
			if err != nil {
				return fmt.Errorf("cli: %w (valid: %s)", err, strings.Join(policies.ProfileNames, ", "))
			}

			path := opts.policyPath
			if path == "" {
				path = ".warden.yaml"
			}

			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("cli: policy file already exists at %s (use --force to overwrite)", path)
			} else if err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("cli: check policy file %s: %w", path, err)
			}

			if err := os.WriteFile(path, content, 0o644); err != nil {
				return fmt.Errorf("cli: write policy file %s: %w", path, err)
			}

			if _, err := fmt.Fprintf(cmd.OutOrStdout(), "Created %s with %s profile\n", path, selected); err != nil {
				return fmt.Errorf("cli: write init output: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing policy file")
	cmd.Flags().StringVar(&profile, "profile", "standard", "Starter profile: standard, paranoid, or permissive")

	return cmd
}
