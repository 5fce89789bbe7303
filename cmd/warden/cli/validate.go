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

	"github.com/spf13/cobra"

	"github.com/peg/warden/internal/policy"
)

func newValidateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the policy file for errors",
		RunE: func(cmd *cobra.Command, _ []string) error {
			vars, err := policy.DefaultVariables()
			if err != nil {
				return err
			}

			cfg, err := policy.Load(opts.policyPath, vars)
			if err != nil {
				return err
			}

			if cfg.Empty() {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: valid, no rules (everything will be denied)\n", opts.policyPath)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: valid\n", opts.policyPath)
			return nil
		},
	}
}
