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
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/peg/warden/internal/audit"
	"github.com/peg/warden/internal/engine"
	"github.com/peg/warden/internal/policy"
	"github.com/peg/warden/internal/review"
)

// descriptor is one line of the intercepted operation stream: the raw
// event name and its positional arguments, as the in-process hook saw
// them.
type descriptor struct {
	Name string `json:"name"`
	Args []any  `json:"args"`
}

// response answers one descriptor. The hook blocks on it before
// letting the intercepted call proceed.
type response struct {
	Proceed bool   `json:"proceed"`
	Code    int    `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// exitError carries a process exit code through cobra's error return.
type exitError struct {
	code    int
	message string
}

func (e *exitError) Error() string { return e.message }

func (e *exitError) ExitCode() int { return e.code }

func newModeCmd(opts *rootOptions, mode, short string) *cobra.Command {
	var (
		eventsPath string
		auditDir   string
		metricsAdr string
		varFlags   []string
		nativeLibs bool
	)

	cmd := &cobra.Command{
		Use:   mode,
		Short: short,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := engine.ParseMode(mode)
			if err != nil {
				return err
			}
			return runStream(cmd, opts, m, streamOptions{
				eventsPath: eventsPath,
				auditDir:   auditDir,
				metricsAdr: metricsAdr,
				varFlags:   varFlags,
				nativeLibs: nativeLibs,
			})
		},
	}

	cmd.Flags().StringVar(&eventsPath, "events", "-", "Descriptor stream file, '-' for stdin")
	cmd.Flags().StringVar(&auditDir, "audit-dir", "~/.warden/audit", "Decision trail directory, empty to disable")
	cmd.Flags().StringVar(&metricsAdr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	cmd.Flags().StringArrayVar(&varFlags, "var", nil, "Set a policy variable, NAME=VALUE (repeatable)")
	cmd.Flags().BoolVar(&nativeLibs, "allow-native-libraries", false, "Match native library loads against allow_executables instead of denying")

	return cmd
}

type streamOptions struct {
	eventsPath string
	auditDir   string
	metricsAdr string
	varFlags   []string
	nativeLibs bool
}

func runStream(cmd *cobra.Command, opts *rootOptions, mode engine.Mode, sopts streamOptions) error {
	vars, err := policy.DefaultVariables()
	if err != nil {
		return err
	}
	for _, kv := range sopts.varFlags {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || name == "" {
			return fmt.Errorf("cli: invalid --var %q (want NAME=VALUE)", kv)
		}
		vars.Set(name, value)
	}

	cfg, err := policy.Load(opts.policyPath, vars)
	if err != nil {
		return err
	}

	engineOpts := []engine.Option{
		engine.WithLogger(slog.Default()),
		engine.WithNativeLibraries(sopts.nativeLibs),
	}
	if mode == engine.ModeReview {
		prompter := review.NewTTYPrompter()
		defer prompter.Close()
		engineOpts = append(engineOpts, engine.WithPrompter(prompter))
	}
	eng := engine.New(cfg, mode, engineOpts...)

	var sink audit.Sink
	if strings.TrimSpace(sopts.auditDir) != "" {
		dir, err := expandHome(sopts.auditDir)
		if err != nil {
			return err
		}
		sink, err = audit.NewJSONLSink(dir)
		if err != nil {
			return err
		}
		defer sink.Close()
	}

	if sopts.metricsAdr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", engine.MetricsHandler())
		go func() {
			if err := http.ListenAndServe(sopts.metricsAdr, mux); err != nil {
				slog.Warn("cli: metrics server stopped", "error", err)
			}
		}()
	}

	in := cmd.InOrStdin()
	if sopts.eventsPath != "-" {
		f, err := os.Open(sopts.eventsPath)
		if err != nil {
			return fmt.Errorf("cli: open descriptor stream: %w", err)
		}
		defer f.Close()
		in = f
	}

	err = decideStream(in, cmd.OutOrStdout(), eng, sink)

	// Rules approved with "remember" persist even when the session
	// ends on a denial.
	if flushErr := eng.Flush(); flushErr != nil {
		slog.Warn("cli: persist learned rules", "error", flushErr)
	}
	return err
}

func decideStream(in io.Reader, out io.Writer, eng *engine.Engine, sink audit.Sink) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	encoder := json.NewEncoder(out)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var desc descriptor
		if err := json.Unmarshal([]byte(line), &desc); err != nil || desc.Name == "" {
			// Fail closed: a descriptor the engine cannot read is a
			// descriptor it cannot vouch for.
			msg := "unreadable operation descriptor"
			_ = encoder.Encode(response{Code: engine.AbortExitCode, Message: msg})
			return &exitError{code: engine.AbortExitCode, message: msg}
		}

		result := eng.Check(desc.Name, desc.Args)
		recordVerdicts(sink, eng.Mode(), result)

		resp := response{Proceed: result.Proceed, Code: result.Code, Message: result.Message}
		if err := encoder.Encode(resp); err != nil {
			return fmt.Errorf("cli: write response: %w", err)
		}

		if !result.Proceed {
			return &exitError{code: result.Code, message: result.Message}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("cli: read descriptor stream: %w", err)
	}
	return nil
}

func recordVerdicts(sink audit.Sink, mode engine.Mode, result engine.Result) {
	if sink == nil {
		return
	}
	for _, v := range result.Verdicts {
		action := "deny"
		if v.Allowed {
			action = "allow"
		}
		event := audit.Event{
			Event:      v.Op.Event,
			Category:   string(v.Op.Category),
			Target:     v.Op.Target(),
			Action:     action,
			Reason:     v.Reason.String(),
			Rule:       v.Rule,
			Mode:       mode.String(),
			EvalTimeUS: result.EvalDuration.Microseconds(),
		}
		if err := sink.Write(event); err != nil {
			slog.Warn("cli: write decision trail", "error", err)
		}
	}
}
