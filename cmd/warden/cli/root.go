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

// Package cli contains warden command-line subcommands.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	policyPath string
	verbose    bool
}

// Execute runs the warden CLI command tree.
func Execute() error {
	cmd := NewRootCmd(context.Background(), os.Stdout, os.Stderr)
	if err := cmd.Execute(); err != nil {
		var ec interface{ ExitCode() int }
		if !errors.As(err, &ec) {
			fmt.Fprintf(os.Stderr, "%v\n", err)
		}
		return err
	}
	return nil
}

// ExitCode returns the process exit code implied by err.
// Non-nil errors default to exit code 1 unless they expose ExitCode().
func ExitCode(err error) int {
	if err == nil {
		return 0
	}

	var ec interface{ ExitCode() int }
	if errors.As(err, &ec) {
		code := ec.ExitCode()
		if code > 0 {
			return code
		}
	}

	return 1
}

// NewRootCmd builds the warden root command.
func NewRootCmd(ctx context.Context, outWriter, errWriter io.Writer) *cobra.Command {
	opts := &rootOptions{}
	var showVersion bool
	if ctx == nil {
		ctx = context.Background()
	}

	cmd := &cobra.Command{
		Use:           "warden",
		Short:         "Policy decisions for sandboxed program runs",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			level := slog.LevelInfo
			if opts.verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(errWriter, &slog.HandlerOptions{Level: level})))
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			if showVersion {
				return writeVersion(cmd.OutOrStdout())
			}
			return cmd.Help()
		},
	}
	cmd.SetContext(ctx)
	cmd.SetOut(outWriter)
	cmd.SetErr(errWriter)

	cmd.PersistentFlags().StringVar(&opts.policyPath, "policy", ".warden.yaml", "Path to policy file")
	cmd.PersistentFlags().BoolVar(&opts.verbose, "verbose", false, "Enable debug logging")
	cmd.PersistentFlags().BoolVar(&showVersion, "version", false, "Print version information and exit")

	const (
		groupPolicy  = "policy"
		groupRuntime = "runtime"
		groupTrail   = "trail"
	)
	cmd.AddGroup(
		&cobra.Group{ID: groupPolicy, Title: "Policy"},
		&cobra.Group{ID: groupRuntime, Title: "Runtime"},
		&cobra.Group{ID: groupTrail, Title: "Decision trail"},
	)

	runCmd := newModeCmd(opts, "run", "Enforce the policy against a descriptor stream")
	forceCmd := newModeCmd(opts, "force", "Enforce the policy without learning new rules")
	reviewCmd := newModeCmd(opts, "review", "Enforce the policy, prompting on unmatched operations")
	initCmd := newInitCmd(opts)
	validateCmd := newValidateCmd(opts)
	hashCmd := newHashCmd()
	watchCmd := newWatchCmd(opts)
	logCmd := newLogCmd(opts)
	verifyCmd := newVerifyCmd(opts)
	versionCmd := newVersionCmd()

	runCmd.GroupID = groupRuntime
	forceCmd.GroupID = groupRuntime
	reviewCmd.GroupID = groupRuntime

	initCmd.GroupID = groupPolicy
	validateCmd.GroupID = groupPolicy
	hashCmd.GroupID = groupPolicy

	watchCmd.GroupID = groupTrail
	logCmd.GroupID = groupTrail
	verifyCmd.GroupID = groupTrail

	cmd.AddCommand(runCmd)
	cmd.AddCommand(forceCmd)
	cmd.AddCommand(reviewCmd)
	cmd.AddCommand(initCmd)
	cmd.AddCommand(validateCmd)
	cmd.AddCommand(hashCmd)
	cmd.AddCommand(watchCmd)
	cmd.AddCommand(logCmd)
	cmd.AddCommand(verifyCmd)
	cmd.AddCommand(versionCmd)

	return cmd
}
