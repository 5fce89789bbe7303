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

package engine

import (
	"context"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/peg/warden/internal/classify"
	"github.com/peg/warden/internal/policy"
)

// ReviewDecision is the operator's answer to a review prompt.
type ReviewDecision int

const (
	// ApproveOnce allows this exact operation for the session.
	ApproveOnce ReviewDecision = iota

	// ApproveRemember allows the operation and learns a generalized
	// rule, merged into the active config and persisted at exit.
	ApproveRemember

	// DenyOnce denies this operation.
	DenyOnce

	// DenyAlways denies this operation and suppresses further prompts
	// for it during the session.
	DenyAlways
)

// Prompter presents an escalated operation to the operator and blocks
// until a decision is made. Blocking the calling context indefinitely
// is acceptable: review is a diagnostic mode.
type Prompter interface {
	Review(op classify.Operation) (ReviewDecision, error)
}

// Engine evaluates canonical operations against the policy config and
// produces verdicts. It is safe for concurrent use: a coarse mutex
// guards the resolved-address cache, session approvals and pending
// learned rules, all of which see a low write rate.
type Engine struct {
	mode     Mode
	logger   *slog.Logger
	prompter Prompter

	// nativeLibs routes native-library loads through the executable
	// rules instead of the unconditional guard denial.
	nativeLibs bool

	// lookupAddrs resolves a domain to addresses for the resolved-
	// address cache. Injectable for tests.
	lookupAddrs func(host string) []netip.Addr

	digests *digestCache

	mu             sync.Mutex
	cfg            *policy.Config
	resolved       map[netip.Addr]string // addr → authorizing domain rule ref
	sessionAllowed map[string]struct{}
	sessionDenied  map[string]struct{}
	pending        []policy.LearnedRule
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithPrompter sets the review prompter. Required for ModeReview;
// ignored in the other modes.
func WithPrompter(p Prompter) Option {
	return func(e *Engine) { e.prompter = p }
}

// WithNativeLibraries overrides the default guard denial of dynamic
// library loads: when enabled, a load is evaluated against the
// allow_executables rules like any other spawn target.
func WithNativeLibraries(enabled bool) Option {
	return func(e *Engine) { e.nativeLibs = enabled }
}

// WithAddressLookup replaces the DNS resolution used to populate the
// resolved-address cache.
func WithAddressLookup(fn func(host string) []netip.Addr) Option {
	return func(e *Engine) {
		if fn != nil {
			e.lookupAddrs = fn
		}
	}
}

// New constructs the engine. Mode and config are fixed for the
// process's lifetime; the config only grows through review approvals.
func New(cfg *policy.Config, mode Mode, opts ...Option) *Engine {
	e := &Engine{
		mode:           mode,
		logger:         slog.Default(),
		lookupAddrs:    systemLookup,
		digests:        newDigestCache(),
		cfg:            cfg,
		resolved:       make(map[netip.Addr]string),
		sessionAllowed: make(map[string]struct{}),
		sessionDenied:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Mode returns the engine's fixed mode.
func (e *Engine) Mode() Mode { return e.mode }

// Check decides one raw descriptor. The caller blocks until the verdict
// is back; on a non-Proceed result the collaborator must terminate the
// monitored process with the given code.
func (e *Engine) Check(event string, args []any) Result {
	start := time.Now()

	ops := classify.Classify(event, args)
	verdicts := make([]Verdict, 0, len(ops))

	for _, op := range ops {
		v := e.evaluate(op)

		if !v.Allowed && e.mode == ModeReview && e.reviewable(v) {
			rv, err := e.review(op)
			if err != nil {
				e.logger.Warn("engine: review aborted", "error", err)
				recordDecision(v, time.Since(start))
				return abort(InterruptExitCode, "review session aborted", append(verdicts, v), start)
			}
			v = rv
		}

		recordDecision(v, time.Since(start))
		verdicts = append(verdicts, v)

		if !v.Allowed {
			e.logger.Debug("engine: denied",
				"event", event,
				"category", string(v.Op.Category),
				"target", v.Op.Target(),
				"reason", v.Reason.String(),
			)
			return abort(AbortExitCode, deniedMessage(v), verdicts, start)
		}
	}

	return proceed(verdicts, start)
}

// reviewable reports whether a denial may be escalated to the operator.
// Guard trips are not negotiable; everything the config could have
// allowed is.
func (e *Engine) reviewable(v Verdict) bool {
	if e.prompter == nil {
		return false
	}
	switch v.Reason {
	case ReasonNoRuleMatched, ReasonHashMismatch:
		return true
	default:
		return false
	}
}

// review escalates one denied operation. Approvals are remembered for
// the session so an identical operation is not re-prompted; a
// remembered approval also generalizes into a learned rule.
func (e *Engine) review(op classify.Operation) (Verdict, error) {
	key := sessionKey(op)

	e.mu.Lock()
	if _, denied := e.sessionDenied[key]; denied {
		e.mu.Unlock()
		return Verdict{Op: op, Reason: ReasonOperatorDenied}, nil
	}
	if _, allowed := e.sessionAllowed[key]; allowed {
		e.mu.Unlock()
		return Verdict{Op: op, Allowed: true, Reason: ReasonSessionApproval}, nil
	}
	e.mu.Unlock()

	decision, err := e.prompter.Review(op)
	if err != nil {
		return Verdict{}, err
	}

	switch decision {
	case ApproveOnce:
		e.mu.Lock()
		e.sessionAllowed[key] = struct{}{}
		e.mu.Unlock()
		e.cacheDomainAddrs(op, "session approval")
		return Verdict{Op: op, Allowed: true, Reason: ReasonSessionApproval}, nil

	case ApproveRemember:
		lr, err := e.generalize(op)
		if err != nil {
			// Generalization needs the target readable (digest
			// pinning); when it is not, fall back to a session-only
			// approval rather than persisting an unverifiable rule.
			e.logger.Warn("engine: cannot generalize approval", "error", err)
			e.mu.Lock()
			e.sessionAllowed[key] = struct{}{}
			e.mu.Unlock()
			return Verdict{Op: op, Allowed: true, Reason: ReasonSessionApproval}, nil
		}
		e.mu.Lock()
		if err := e.cfg.Append(lr); err != nil {
			e.mu.Unlock()
			return Verdict{}, err
		}
		e.pending = append(e.pending, lr)
		SetLearnedRules(len(e.pending))
		e.sessionAllowed[key] = struct{}{}
		e.mu.Unlock()
		e.cacheDomainAddrs(op, ruleRef(lr.Category.ConfigKey(), lr.Value))
		e.logger.Info("engine: learned rule",
			"category", string(lr.Category),
			"value", lr.Value,
		)
		return Verdict{
			Op:      op,
			Allowed: true,
			Reason:  ReasonRuleMatch,
			Rule:    ruleRef(lr.Category.ConfigKey(), lr.Value),
		}, nil

	case DenyAlways:
		e.mu.Lock()
		e.sessionDenied[key] = struct{}{}
		e.mu.Unlock()
		return Verdict{Op: op, Reason: ReasonOperatorDenied}, nil

	default: // DenyOnce
		return Verdict{Op: op, Reason: ReasonOperatorDenied}, nil
	}
}

// Flush persists rules learned during a review session to the policy
// document the config was loaded from. Called once, at normal process
// exit; pre-existing unrelated entries survive the merge.
func (e *Engine) Flush() error {
	e.mu.Lock()
	pending := e.pending
	e.pending = nil
	SetLearnedRules(0)
	source := e.cfg.Source()
	vars := e.cfg.Vars()
	e.mu.Unlock()

	if len(pending) == 0 || source == "" {
		return nil
	}
	return policy.MergeLearned(source, vars, pending)
}

// cacheDomainAddrs resolves an approved domain target and records its
// addresses, so follow-up raw-IP connects to the same host succeed.
func (e *Engine) cacheDomainAddrs(op classify.Operation, ref string) {
	if op.Category != policy.CategoryDomain {
		return
	}
	e.recordResolved(op.Host, ref)
}

func (e *Engine) recordResolved(host, ref string) {
	addrs := e.lookupAddrs(host)
	if len(addrs) == 0 {
		return
	}
	e.mu.Lock()
	for _, addr := range addrs {
		e.resolved[addr.Unmap()] = ref
	}
	e.mu.Unlock()
}

func systemLookup(host string) []netip.Addr {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	results, err := net.DefaultResolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return nil
	}
	return results
}

func sessionKey(op classify.Operation) string {
	return string(op.Category) + "\x00" + op.Target()
}
