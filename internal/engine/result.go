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

// Package engine decides whether intercepted operations may proceed.
//
// The engine never blocks an operation itself: it hands the caller a
// Result, and the caller is responsible for terminating the monitored
// process when the result says so. Anything the engine cannot
// positively allow is denied.
package engine

import (
	"fmt"
	"time"

	"github.com/peg/warden/internal/classify"
)

const (
	// AbortExitCode is the exit code for a policy violation, matching
	// the conventional "configuration error" sysexits slot so wrappers
	// can tell a violation from a crash.
	AbortExitCode = 78

	// InterruptExitCode is the exit code when a review session ends
	// without a decision (prompt closed, operator interrupt).
	InterruptExitCode = 130
)

// Mode selects how the engine treats operations no rule matches.
type Mode int

const (
	// ModeRun enforces the policy: unmatched operations abort the run.
	ModeRun Mode = iota

	// ModeForce enforces the policy identically to ModeRun. It exists
	// as a distinct mode so callers can label runs that deliberately
	// skip review.
	ModeForce

	// ModeReview escalates unmatched operations to the operator.
	ModeReview
)

// String returns the mode's command-line name.
func (m Mode) String() string {
	switch m {
	case ModeForce:
		return "force"
	case ModeReview:
		return "review"
	default:
		return "run"
	}
}

// ParseMode maps a command-line name onto a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "run":
		return ModeRun, nil
	case "force":
		return ModeForce, nil
	case "review":
		return ModeReview, nil
	}
	return ModeRun, fmt.Errorf("engine: unknown mode %q", s)
}

// Reason names what produced a verdict.
type Reason int

const (
	// ReasonRuleMatch: a config rule allowed the operation.
	ReasonRuleMatch Reason = iota

	// ReasonResolvedAddress: the target address was previously resolved
	// from an allowed domain.
	ReasonResolvedAddress

	// ReasonSessionApproval: the operator approved this operation for
	// the session.
	ReasonSessionApproval

	// ReasonNoRuleMatched: no rule covered the operation.
	ReasonNoRuleMatched

	// ReasonHashMismatch: a rule matched but its digest pin did not.
	ReasonHashMismatch

	// ReasonGuard: the anti-bypass guard denied the operation.
	ReasonGuard

	// ReasonUnclassified: the descriptor shape was not recognized.
	ReasonUnclassified

	// ReasonOperatorDenied: the operator denied the operation.
	ReasonOperatorDenied
)

// String returns the trail tag for the reason.
func (r Reason) String() string {
	switch r {
	case ReasonRuleMatch:
		return "rule_match"
	case ReasonResolvedAddress:
		return "resolved_address"
	case ReasonSessionApproval:
		return "session_approval"
	case ReasonNoRuleMatched:
		return "no_rule_matched"
	case ReasonHashMismatch:
		return "hash_mismatch"
	case ReasonGuard:
		return "anti_bypass_guard"
	case ReasonUnclassified:
		return "unclassified"
	case ReasonOperatorDenied:
		return "operator_denied"
	default:
		return "unknown"
	}
}

// Verdict is the engine's decision on one canonical operation.
type Verdict struct {
	Op      classify.Operation
	Allowed bool

	// Rule references the config entry that decided the operation,
	// empty when no rule was involved.
	Rule string

	Reason Reason
}

// Result is the engine's decision on one raw descriptor, which may
// expand to several operations.
type Result struct {
	// Proceed reports whether the intercepted call may continue.
	Proceed bool

	// Code is the exit code the caller must terminate with when
	// Proceed is false.
	Code int

	// Message is a one-line denial explanation, empty on allow.
	Message string

	// Verdicts holds the per-operation decisions, in order. The last
	// one is the denial when Proceed is false.
	Verdicts []Verdict

	// EvalDuration is the wall time spent deciding, review prompts
	// included.
	EvalDuration time.Duration
}

func proceed(verdicts []Verdict, start time.Time) Result {
	return Result{Proceed: true, Verdicts: verdicts, EvalDuration: time.Since(start)}
}

func abort(code int, message string, verdicts []Verdict, start time.Time) Result {
	return Result{Code: code, Message: message, Verdicts: verdicts, EvalDuration: time.Since(start)}
}

func deniedMessage(v Verdict) string {
	return fmt.Sprintf("blocked %s %s (%s)", v.Op.Category, v.Op.Target(), v.Reason)
}
