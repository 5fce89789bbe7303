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
	"fmt"
	"net/netip"
	"path/filepath"

	"github.com/peg/warden/internal/classify"
	"github.com/peg/warden/internal/policy"
)

// evaluate matches one canonical operation against the config and the
// engine caches. Every branch that cannot positively allow denies.
func (e *Engine) evaluate(op classify.Operation) Verdict {
	switch op.Category {
	case policy.CategoryRead, policy.CategoryCreate, policy.CategoryModify, policy.CategoryDelete:
		return e.evaluatePath(op)

	case policy.CategoryDomain:
		return e.evaluateDomain(op)

	case policy.CategoryIP:
		return e.evaluateIP(op)

	case policy.CategoryExecutable:
		return e.evaluateExecutable(op)

	case policy.CategoryShell:
		return e.evaluateShell(op)

	case policy.CategoryEnvRead, policy.CategoryEnvWrite:
		return e.evaluateEnv(op)

	case policy.CategoryNativeLib:
		// Denied by the guard unless the operator opted native library
		// loads into the executable rule set.
		if !e.nativeLibs {
			return Verdict{Op: op, Reason: ReasonGuard}
		}
		return e.evaluateExecutable(op)

	case policy.CategoryHook, policy.CategoryTrace:
		// Anti-bypass guard: allowing these would let the monitored
		// program disable the engine itself.
		return Verdict{Op: op, Reason: ReasonGuard}

	default:
		return Verdict{Op: op, Reason: ReasonUnclassified}
	}
}

// cleanPath canonicalizes a target to absolute, "."-and-".."-free form.
// Symlinks are deliberately not resolved: policy describes names, and
// resolving here would bake a time-of-check assumption into matching.
func cleanPath(p string) string {
	if p == "" {
		return p
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return filepath.Clean(p)
	}
	return abs
}

func (e *Engine) evaluatePath(op classify.Operation) Verdict {
	path := cleanPath(op.Path)

	rules := e.cfgMatchPaths(op.Category, path)
	candidates := make([]candidateRule, len(rules))
	for i, r := range rules {
		candidates[i] = candidateRule{pattern: r.Pattern, hash: r.Hash}
	}
	return e.decidePinned(op, op.Category.ConfigKey(), path, candidates)
}

// candidateRule is one pattern-matching rule awaiting its digest check.
type candidateRule struct {
	pattern string
	hash    string
}

// decidePinned picks the first candidate whose digest pin (if any) is
// satisfied. A candidate with a stale pin does not shadow later
// candidates; hash_mismatch is the verdict only when every candidate
// carried a pin and none held.
func (e *Engine) decidePinned(op classify.Operation, key, path string, candidates []candidateRule) Verdict {
	if len(candidates) == 0 {
		return Verdict{Op: op, Reason: ReasonNoRuleMatched}
	}

	var failedRef string
	for _, c := range candidates {
		ref := ruleRef(key, c.pattern)
		if c.hash == "" || e.verifyDigest(path, c.hash) {
			return Verdict{Op: op, Allowed: true, Rule: ref, Reason: ReasonRuleMatch}
		}
		if failedRef == "" {
			failedRef = ref
		}
	}
	return Verdict{Op: op, Rule: failedRef, Reason: ReasonHashMismatch}
}

func (e *Engine) evaluateDomain(op classify.Operation) Verdict {
	rule, ok := e.cfgMatchDomain(op.Host, op.Port)
	if ok {
		ref := ruleRef("allow_domains", rule.String())
		// Record what this domain resolves to: a later raw-address
		// connect to the same host must not need its own allow_ips
		// entry.
		e.recordResolved(op.Host, ref)
		return Verdict{Op: op, Allowed: true, Rule: ref, Reason: ReasonRuleMatch}
	}

	if e.cfgPyPIAllowed(op.Host) {
		ref := ruleRef("allow_pypi_requests", op.Host)
		e.recordResolved(op.Host, ref)
		return Verdict{Op: op, Allowed: true, Rule: ref, Reason: ReasonRuleMatch}
	}

	return Verdict{Op: op, Reason: ReasonNoRuleMatched}
}

func (e *Engine) evaluateIP(op classify.Operation) Verdict {
	addr := op.Addr.Unmap()

	if rule, ok := e.cfgMatchIP(addr, op.Port); ok {
		return Verdict{
			Op:      op,
			Allowed: true,
			Rule:    ruleRef("allow_ips", rule.String()),
			Reason:  ReasonRuleMatch,
		}
	}

	e.mu.Lock()
	ref, resolved := e.resolved[addr]
	e.mu.Unlock()
	if resolved {
		return Verdict{Op: op, Allowed: true, Rule: ref, Reason: ReasonResolvedAddress}
	}

	return Verdict{Op: op, Reason: ReasonNoRuleMatched}
}

func (e *Engine) evaluateExecutable(op classify.Operation) Verdict {
	path := cleanPath(op.Path)

	rules := e.cfgMatchExecutables(path)
	candidates := make([]candidateRule, len(rules))
	for i, r := range rules {
		candidates[i] = candidateRule{pattern: r.Pattern, hash: r.Hash}
	}
	return e.decidePinned(op, "allow_executables", path, candidates)
}

func (e *Engine) evaluateShell(op classify.Operation) Verdict {
	if rule, ok := e.cfgMatchCommand(op.Command); ok {
		return Verdict{
			Op:      op,
			Allowed: true,
			Rule:    ruleRef("allow_shell_commands", rule.Pattern),
			Reason:  ReasonRuleMatch,
		}
	}
	return Verdict{Op: op, Reason: ReasonNoRuleMatched}
}

func (e *Engine) evaluateEnv(op classify.Operation) Verdict {
	if e.cfgEnvAllowed(op.Category, op.EnvVar) {
		return Verdict{
			Op:      op,
			Allowed: true,
			Rule:    ruleRef(op.Category.ConfigKey(), op.EnvVar),
			Reason:  ReasonRuleMatch,
		}
	}
	return Verdict{Op: op, Reason: ReasonNoRuleMatched}
}

// verifyDigest compares the target's content digest to the pinned
// value. Unreadable targets fail closed: an attacker who can make the
// file unreadable at check time must not gain an allow.
func (e *Engine) verifyDigest(path, want string) bool {
	got, err := e.digests.Digest(path)
	if err != nil {
		e.logger.Warn("engine: digest verification failed", "path", path, "error", err)
		return false
	}
	return got == want
}

// Config reads go through the engine lock: review-mode appends mutate
// the rule slices concurrently with hot-path matching.

func (e *Engine) cfgMatchPaths(cat policy.Category, path string) []policy.PathRule {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.MatchPaths(cat, path)
}

func (e *Engine) cfgMatchDomain(host string, port int) (policy.DomainRule, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.MatchDomain(host, port)
}

func (e *Engine) cfgPyPIAllowed(host string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.PyPIAllowed(host)
}

func (e *Engine) cfgMatchIP(addr netip.Addr, port int) (policy.IPRule, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.MatchIP(addr, port)
}

func (e *Engine) cfgMatchExecutables(path string) []policy.ExecutableRule {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.MatchExecutables(path)
}

func (e *Engine) cfgMatchCommand(command string) (policy.CommandRule, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.MatchCommand(command)
}

func (e *Engine) cfgEnvAllowed(cat policy.Category, name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.EnvAllowed(cat, name)
}

func ruleRef(key, value string) string {
	return fmt.Sprintf("%s[%q]", key, value)
}
