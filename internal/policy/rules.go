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

package policy

import (
	"fmt"
	"net/netip"
	"regexp"
	"strconv"
	"strings"

	"github.com/gobwas/glob"
)

// Category identifies one rule set of the policy. The first ten values
// correspond to the top-level config keys; the remaining ones are
// synthesized by the classifier and carry no configurable rules.
type Category string

const (
	CategoryRead       Category = "read"
	CategoryCreate     Category = "create"
	CategoryModify     Category = "modify"
	CategoryDelete     Category = "delete"
	CategoryDomain     Category = "domain"
	CategoryIP         Category = "ip"
	CategoryExecutable Category = "executable"
	CategoryShell      Category = "shell_command"
	CategoryEnvRead    Category = "env_read"
	CategoryEnvWrite   Category = "env_write"

	// CategoryNativeLib is a dynamic library load. It has no config key:
	// the anti-bypass guard denies it unless the operator overrides, in
	// which case the executable rules apply.
	CategoryNativeLib Category = "native_library"

	// CategoryHook and CategoryTrace cover attempts to register a
	// competing interception hook or a tracing/profiling hook. Always
	// denied, never configurable.
	CategoryHook  Category = "audit_hook"
	CategoryTrace Category = "trace_hook"

	// CategoryUnclassified marks an operation whose descriptor shape the
	// classifier did not recognize. Denied, fail-closed.
	CategoryUnclassified Category = "unclassified"
)

// ConfigKey returns the top-level config key for a configurable
// category, or "" for synthesized categories.
func (c Category) ConfigKey() string {
	switch c {
	case CategoryRead:
		return "allow_read"
	case CategoryCreate:
		return "allow_create"
	case CategoryModify:
		return "allow_modify"
	case CategoryDelete:
		return "allow_delete"
	case CategoryDomain:
		return "allow_domains"
	case CategoryIP:
		return "allow_ips"
	case CategoryExecutable, CategoryNativeLib:
		return "allow_executables"
	case CategoryShell:
		return "allow_shell_commands"
	case CategoryEnvRead:
		return "allow_env_var_reads"
	case CategoryEnvWrite:
		return "allow_env_var_writes"
	default:
		return ""
	}
}

// hashPattern is the only accepted digest syntax: "sha256:" followed by
// exactly 64 hex characters.
var hashPattern = regexp.MustCompile(`^sha256:[0-9a-f]{64}$`)

// ValidateHash checks a digest constraint string.
func ValidateHash(h string) error {
	if !hashPattern.MatchString(h) {
		return fmt.Errorf("malformed hash %q (want sha256:<64 hex digits>)", h)
	}
	return nil
}

// globChars are the characters that make a pattern a glob rather than a
// literal path. They are never pre-expanded against the filesystem;
// matching happens lazily against each intercepted path.
const globChars = "*?[{"

// PathRule allows access to a literal path, every descendant of a
// directory, or any path matching a glob pattern. An optional digest
// constraint additionally requires the file content to match.
type PathRule struct {
	// Pattern is the variable-expanded rule pattern.
	Pattern string

	// Hash is an optional "sha256:..." content constraint.
	Hash string

	compiled glob.Glob
}

func newPathRule(pattern, hash string) (PathRule, error) {
	r := PathRule{Pattern: pattern, Hash: hash}
	if strings.ContainsAny(pattern, globChars) {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return PathRule{}, fmt.Errorf("invalid glob %q: %v", pattern, err)
		}
		r.compiled = g
	}
	return r, nil
}

// Match reports whether the canonical absolute path satisfies this rule.
// A literal rule matches itself and, acting as an ancestor directory,
// any descendant. Digest constraints are the caller's concern: content
// verification needs I/O and memoization the rule itself must not own.
func (r PathRule) Match(path string) bool {
	if r.compiled != nil {
		return r.compiled.Match(path)
	}
	if path == r.Pattern {
		return true
	}
	return strings.HasPrefix(path, strings.TrimSuffix(r.Pattern, "/")+"/")
}

// DomainRule allows connections to a domain name and its subdomains,
// optionally restricted to one port.
type DomainRule struct {
	Host string
	Port int // 0 = any port
}

func parseDomainRule(entry string) (DomainRule, error) {
	host, port, err := splitHostPort(entry)
	if err != nil {
		return DomainRule{}, err
	}
	if host == "" {
		return DomainRule{}, fmt.Errorf("empty domain in %q", entry)
	}
	return DomainRule{Host: strings.ToLower(host), Port: port}, nil
}

// Match reports whether host (and port, when both sides declare one)
// falls under this rule. A lookup with port 0 means the intercepted
// operation carried no port (e.g. a bare hostname resolution) and is
// not port-restricted.
func (r DomainRule) Match(host string, port int) bool {
	host = strings.ToLower(host)
	if host != r.Host && !strings.HasSuffix(host, "."+r.Host) {
		return false
	}
	return r.Port == 0 || port == 0 || port == r.Port
}

// String renders the rule in config-entry form.
func (r DomainRule) String() string {
	if r.Port > 0 {
		return fmt.Sprintf("%s:%d", r.Host, r.Port)
	}
	return r.Host
}

// IPRule allows connections to an address range in CIDR notation,
// optionally restricted to one port. A bare address is normalized to a
// host-bits-set prefix (/32 or /128).
type IPRule struct {
	Prefix netip.Prefix
	Port   int
}

func parseIPRule(entry string) (IPRule, error) {
	if strings.Contains(entry, "/") {
		prefix, err := netip.ParsePrefix(entry)
		if err != nil {
			return IPRule{}, fmt.Errorf("malformed CIDR %q: %v", entry, err)
		}
		return IPRule{Prefix: prefix.Masked()}, nil
	}

	// "1.2.3.4:443" or "[::1]:443" carries a port restriction.
	if ap, err := netip.ParseAddrPort(entry); err == nil {
		return IPRule{
			Prefix: netip.PrefixFrom(ap.Addr(), ap.Addr().BitLen()),
			Port:   int(ap.Port()),
		}, nil
	}

	addr, err := netip.ParseAddr(entry)
	if err != nil {
		return IPRule{}, fmt.Errorf("malformed address %q: %v", entry, err)
	}
	return IPRule{Prefix: netip.PrefixFrom(addr, addr.BitLen())}, nil
}

// Match reports whether addr (and port, when both sides declare one)
// falls inside this rule's prefix.
func (r IPRule) Match(addr netip.Addr, port int) bool {
	if !r.Prefix.Contains(addr.Unmap()) {
		return false
	}
	return r.Port == 0 || port == 0 || port == r.Port
}

// String renders the rule in config-entry form.
func (r IPRule) String() string {
	if r.Port > 0 {
		return fmt.Sprintf("%s:%d", r.Prefix.Addr(), r.Port)
	}
	if r.Prefix.IsSingleIP() {
		return r.Prefix.Addr().String()
	}
	return r.Prefix.String()
}

// ExecutableRule allows spawning a program whose absolute path matches a
// literal or glob pattern, optionally pinned to a content digest.
type ExecutableRule struct {
	Pattern string
	Hash    string

	compiled glob.Glob
}

func newExecutableRule(pattern, hash string) (ExecutableRule, error) {
	r := ExecutableRule{Pattern: pattern, Hash: hash}
	if strings.ContainsAny(pattern, globChars) {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return ExecutableRule{}, fmt.Errorf("invalid glob %q: %v", pattern, err)
		}
		r.compiled = g
	}
	return r, nil
}

// Match reports whether the executable path satisfies this rule's
// pattern. Digest verification is the caller's concern.
func (r ExecutableRule) Match(path string) bool {
	if r.compiled != nil {
		return r.compiled.Match(path)
	}
	return path == r.Pattern
}

// CommandRule allows shell command lines matching a glob pattern. The
// glob has no separator: "*" crosses spaces and slashes alike, so
// "git *" matches "git push origin main".
type CommandRule struct {
	Pattern string

	compiled glob.Glob
}

func newCommandRule(pattern string) (CommandRule, error) {
	r := CommandRule{Pattern: pattern}
	if strings.ContainsAny(pattern, globChars) {
		g, err := glob.Compile(pattern)
		if err != nil {
			return CommandRule{}, fmt.Errorf("invalid glob %q: %v", pattern, err)
		}
		r.compiled = g
	}
	return r, nil
}

// Match reports whether the command line satisfies this rule.
func (r CommandRule) Match(command string) bool {
	if r.compiled != nil {
		return r.compiled.Match(command)
	}
	return command == r.Pattern
}

// splitHostPort splits "host" or "host:port" entries. Unlike
// net.SplitHostPort it tolerates the port-less form.
func splitHostPort(entry string) (string, int, error) {
	idx := strings.LastIndex(entry, ":")
	if idx < 0 {
		return entry, 0, nil
	}
	port, err := strconv.Atoi(entry[idx+1:])
	if err != nil || port < 1 || port > 65535 {
		return "", 0, fmt.Errorf("invalid port in %q", entry)
	}
	return entry[:idx], port, nil
}
