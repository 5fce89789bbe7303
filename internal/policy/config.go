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

// Package policy loads, validates and indexes the declarative allow-rule
// document the decision engine evaluates operations against.
//
// The document has one list per operation category. An empty or absent
// list denies everything in that category: the engine is default-deny,
// and every grant must be spelled out. Symbolic path variables ($PWD,
// $HOME, $ENV{VAR}, ...) are resolved exactly once, when the config is
// built; a variable that cannot be resolved fails the build rather than
// producing a rule that silently matches nothing or everything.
package policy

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// pypiHosts are allowed for domain operations when allow_pypi_requests
// is set, without explicit allow_domains entries.
var pypiHosts = map[string]struct{}{
	"pypi.org":               {},
	"www.pypi.org":           {},
	"files.pythonhosted.org": {},
	"upload.pypi.org":        {},
	"test.pypi.org":          {},
}

// Config is the validated, indexed form of the policy document. It is
// built once per process and is immutable afterwards, except for
// review-mode appends via Append (serialized by the engine's lock).
type Config struct {
	paths       map[Category][]PathRule
	domains     []DomainRule
	ips         []IPRule
	executables []ExecutableRule
	shell       []CommandRule
	envReads    map[string]struct{}
	envWrites   map[string]struct{}
	allowPyPI   bool

	vars   *Variables
	source string
}

// entry is one allow-list element: either a bare pattern string or an
// object carrying a pattern and a content digest.
type entry struct {
	Value string
	Hash  string
}

// UnmarshalYAML accepts `"pattern"` and `{path|pattern: ..., hash: ...}`.
func (e *entry) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		e.Value = value.Value
		return nil
	case yaml.MappingNode:
		var obj struct {
			Path    string `yaml:"path"`
			Pattern string `yaml:"pattern"`
			Hash    string `yaml:"hash"`
		}
		if err := value.Decode(&obj); err != nil {
			return err
		}
		e.Value = obj.Path
		if e.Value == "" {
			e.Value = obj.Pattern
		}
		if e.Value == "" {
			return errors.New("entry object needs a path or pattern")
		}
		e.Hash = obj.Hash
		return nil
	default:
		return errors.New("entry must be a string or a {path, hash} object")
	}
}

// document mirrors the on-disk YAML/JSON structure.
type document struct {
	AllowRead          []entry  `yaml:"allow_read"`
	AllowCreate        []entry  `yaml:"allow_create"`
	AllowModify        []entry  `yaml:"allow_modify"`
	AllowDelete        []entry  `yaml:"allow_delete"`
	AllowDomains       []entry  `yaml:"allow_domains"`
	AllowIPs           []entry  `yaml:"allow_ips"`
	AllowExecutables   []entry  `yaml:"allow_executables"`
	AllowShellCommands []entry  `yaml:"allow_shell_commands"`
	AllowEnvVarReads   []string `yaml:"allow_env_var_reads"`
	AllowEnvVarWrites  []string `yaml:"allow_env_var_writes"`
	AllowPyPIRequests  bool     `yaml:"allow_pypi_requests"`
}

// Load reads, parses and validates the policy document at path. Any
// problem is fatal: the monitored program must not start under a policy
// the engine could not fully build.
func Load(path string, vars *Variables) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, configErrorf("", "read policy document %s: %v", path, err)
	}
	cfg, err := Parse(data, vars)
	if err != nil {
		return nil, err
	}
	cfg.source = path
	return cfg, nil
}

// Parse builds a Config from raw YAML or JSON bytes. YAML being a JSON
// superset, a single decoder covers both document formats.
func Parse(data []byte, vars *Variables) (*Config, error) {
	if vars == nil {
		vars = NewVariables(nil)
	}

	var doc document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		if te, ok := asTypeError(err); ok {
			return nil, configErrorf("", "%s", strings.Join(te.Errors, "; "))
		}
		return nil, configErrorf("", "parse policy document: %v", err)
	}

	cfg := &Config{
		paths:     make(map[Category][]PathRule, 4),
		envReads:  make(map[string]struct{}, len(doc.AllowEnvVarReads)),
		envWrites: make(map[string]struct{}, len(doc.AllowEnvVarWrites)),
		allowPyPI: doc.AllowPyPIRequests,
		vars:      vars,
	}

	pathLists := []struct {
		cat     Category
		entries []entry
	}{
		{CategoryRead, doc.AllowRead},
		{CategoryCreate, doc.AllowCreate},
		{CategoryModify, doc.AllowModify},
		{CategoryDelete, doc.AllowDelete},
	}
	for _, list := range pathLists {
		key := list.cat.ConfigKey()
		for _, e := range list.entries {
			pattern, err := expandWithKey(vars, key, e.Value)
			if err != nil {
				return nil, err
			}
			if e.Hash != "" {
				if err := ValidateHash(e.Hash); err != nil {
					return nil, &ConfigError{Key: key, Reason: err.Error()}
				}
			}
			rule, err := newPathRule(pattern, e.Hash)
			if err != nil {
				return nil, &ConfigError{Key: key, Reason: err.Error()}
			}
			cfg.paths[list.cat] = append(cfg.paths[list.cat], rule)
		}
	}

	for _, e := range doc.AllowDomains {
		if e.Hash != "" {
			return nil, configErrorf("allow_domains", "hash constraint on %q is not supported", e.Value)
		}
		rule, err := parseDomainRule(e.Value)
		if err != nil {
			return nil, &ConfigError{Key: "allow_domains", Reason: err.Error()}
		}
		cfg.domains = append(cfg.domains, rule)
	}

	for _, e := range doc.AllowIPs {
		if e.Hash != "" {
			return nil, configErrorf("allow_ips", "hash constraint on %q is not supported", e.Value)
		}
		rule, err := parseIPRule(e.Value)
		if err != nil {
			return nil, &ConfigError{Key: "allow_ips", Reason: err.Error()}
		}
		cfg.ips = append(cfg.ips, rule)
	}

	for _, e := range doc.AllowExecutables {
		pattern, err := expandWithKey(vars, "allow_executables", e.Value)
		if err != nil {
			return nil, err
		}
		if e.Hash != "" {
			if err := ValidateHash(e.Hash); err != nil {
				return nil, &ConfigError{Key: "allow_executables", Reason: err.Error()}
			}
		}
		rule, err := newExecutableRule(pattern, e.Hash)
		if err != nil {
			return nil, &ConfigError{Key: "allow_executables", Reason: err.Error()}
		}
		cfg.executables = append(cfg.executables, rule)
	}

	for _, e := range doc.AllowShellCommands {
		if e.Hash != "" {
			return nil, configErrorf("allow_shell_commands", "hash constraint on %q is not supported", e.Value)
		}
		rule, err := newCommandRule(e.Value)
		if err != nil {
			return nil, &ConfigError{Key: "allow_shell_commands", Reason: err.Error()}
		}
		cfg.shell = append(cfg.shell, rule)
	}

	for _, name := range doc.AllowEnvVarReads {
		cfg.envReads[name] = struct{}{}
	}
	for _, name := range doc.AllowEnvVarWrites {
		cfg.envWrites[name] = struct{}{}
	}

	return cfg, nil
}

// Empty reports whether the config carries no rules at all. Such a
// config is valid; it denies every classified operation.
func (c *Config) Empty() bool {
	for _, rules := range c.paths {
		if len(rules) > 0 {
			return false
		}
	}
	return len(c.domains) == 0 && len(c.ips) == 0 &&
		len(c.executables) == 0 && len(c.shell) == 0 &&
		len(c.envReads) == 0 && len(c.envWrites) == 0 &&
		!c.allowPyPI
}

// expandWithKey resolves variables in a pattern, attributing any
// resolution failure to the config key it occurred under.
func expandWithKey(vars *Variables, key, pattern string) (string, error) {
	out, err := vars.Expand(pattern)
	if err != nil {
		var ce *ConfigError
		if errors.As(err, &ce) {
			return "", &ConfigError{Key: key, Reason: ce.Reason}
		}
		return "", &ConfigError{Key: key, Reason: err.Error()}
	}
	return out, nil
}

// asTypeError unwraps yaml.v3's field-level error list, which is how
// unknown top-level keys surface with KnownFields enabled.
func asTypeError(err error) (*yaml.TypeError, bool) {
	var te *yaml.TypeError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}

// Source returns the path the config was loaded from, or "" when it was
// built in memory.
func (c *Config) Source() string { return c.source }

// Vars returns the variable resolver the config was built with.
func (c *Config) Vars() *Variables { return c.vars }

// MatchPath returns the first rule in the category's set whose pattern
// matches the canonical absolute path. Digest pins are not checked
// here; callers deciding operations use MatchPaths and honor each
// candidate's pin.
func (c *Config) MatchPath(cat Category, path string) (PathRule, bool) {
	for _, r := range c.paths[cat] {
		if r.Match(path) {
			return r, true
		}
	}
	return PathRule{}, false
}

// MatchPaths returns every rule in the category's set whose pattern
// matches the path, in declaration order. A rule with an unsatisfied
// digest pin must not shadow a later rule that allows the same path.
func (c *Config) MatchPaths(cat Category, path string) []PathRule {
	var matched []PathRule
	for _, r := range c.paths[cat] {
		if r.Match(path) {
			matched = append(matched, r)
		}
	}
	return matched
}

// MatchDomain returns the first domain rule matching host and port.
func (c *Config) MatchDomain(host string, port int) (DomainRule, bool) {
	for _, r := range c.domains {
		if r.Match(host, port) {
			return r, true
		}
	}
	return DomainRule{}, false
}

// PyPIAllowed reports whether host is covered by the allow_pypi_requests
// convenience flag.
func (c *Config) PyPIAllowed(host string) bool {
	if !c.allowPyPI {
		return false
	}
	_, ok := pypiHosts[strings.ToLower(host)]
	return ok
}

// MatchIP returns the first IP rule containing addr on port.
func (c *Config) MatchIP(addr netip.Addr, port int) (IPRule, bool) {
	for _, r := range c.ips {
		if r.Match(addr, port) {
			return r, true
		}
	}
	return IPRule{}, false
}

// MatchExecutable returns the first executable rule whose pattern
// matches path, ignoring digest pins.
func (c *Config) MatchExecutable(path string) (ExecutableRule, bool) {
	for _, r := range c.executables {
		if r.Match(path) {
			return r, true
		}
	}
	return ExecutableRule{}, false
}

// MatchExecutables returns every executable rule whose pattern matches
// path, in declaration order.
func (c *Config) MatchExecutables(path string) []ExecutableRule {
	var matched []ExecutableRule
	for _, r := range c.executables {
		if r.Match(path) {
			matched = append(matched, r)
		}
	}
	return matched
}

// MatchCommand returns the first shell-command rule matching the
// command line.
func (c *Config) MatchCommand(command string) (CommandRule, bool) {
	for _, r := range c.shell {
		if r.Match(command) {
			return r, true
		}
	}
	return CommandRule{}, false
}

// EnvAllowed reports whether reading or writing the named environment
// variable is permitted. Nothing is implicit: even PATH must be listed.
func (c *Config) EnvAllowed(cat Category, name string) bool {
	switch cat {
	case CategoryEnvRead:
		_, ok := c.envReads[name]
		return ok
	case CategoryEnvWrite:
		_, ok := c.envWrites[name]
		return ok
	default:
		return false
	}
}

// LearnedRule is a rule approved during a review session, applied to the
// in-memory config immediately and persisted at process exit.
type LearnedRule struct {
	Category Category
	Value    string
	Hash     string
}

// Append merges a learned rule into the active config. The caller (the
// engine) serializes calls; Config performs no locking of its own.
func (c *Config) Append(lr LearnedRule) error {
	switch lr.Category {
	case CategoryRead, CategoryCreate, CategoryModify, CategoryDelete:
		rule, err := newPathRule(lr.Value, lr.Hash)
		if err != nil {
			return fmt.Errorf("policy: append %s rule: %w", lr.Category, err)
		}
		c.paths[lr.Category] = append(c.paths[lr.Category], rule)
	case CategoryDomain:
		rule, err := parseDomainRule(lr.Value)
		if err != nil {
			return fmt.Errorf("policy: append domain rule: %w", err)
		}
		c.domains = append(c.domains, rule)
	case CategoryIP:
		rule, err := parseIPRule(lr.Value)
		if err != nil {
			return fmt.Errorf("policy: append ip rule: %w", err)
		}
		c.ips = append(c.ips, rule)
	case CategoryExecutable, CategoryNativeLib:
		rule, err := newExecutableRule(lr.Value, lr.Hash)
		if err != nil {
			return fmt.Errorf("policy: append executable rule: %w", err)
		}
		c.executables = append(c.executables, rule)
	case CategoryShell:
		rule, err := newCommandRule(lr.Value)
		if err != nil {
			return fmt.Errorf("policy: append shell rule: %w", err)
		}
		c.shell = append(c.shell, rule)
	case CategoryEnvRead:
		c.envReads[lr.Value] = struct{}{}
	case CategoryEnvWrite:
		c.envWrites[lr.Value] = struct{}{}
	default:
		return fmt.Errorf("policy: cannot append rule for category %q", lr.Category)
	}
	return nil
}
