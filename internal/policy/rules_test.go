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
	"net/netip"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPathRuleLiteralAndAncestor(t *testing.T) {
	rule, err := newPathRule("/work/proj", "")
	require.NoError(t, err)

	tests := []struct {
		path string
		want bool
	}{
		{"/work/proj", true},
		{"/work/proj/a.txt", true},
		{"/work/proj/sub/deep/b.txt", true},
		{"/work/project", false}, // sibling sharing the prefix
		{"/work", false},
		{"/other", false},
	}
	for _, tt := range tests {
		if got := rule.Match(tt.path); got != tt.want {
			t.Errorf("Match(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestPathRuleGlob(t *testing.T) {
	rule, err := newPathRule("/tmp/build-*/out.log", "")
	require.NoError(t, err)

	if !rule.Match("/tmp/build-42/out.log") {
		t.Error("glob should match /tmp/build-42/out.log")
	}
	// "*" does not cross path separators.
	if rule.Match("/tmp/build-42/sub/out.log") {
		t.Error("glob crossed a separator")
	}
	if rule.Match("/tmp/build-42/other.log") {
		t.Error("glob matched wrong file")
	}
}

func TestPathRuleInvalidGlob(t *testing.T) {
	_, err := newPathRule("/tmp/[", "")
	if err == nil {
		t.Fatal("want error for malformed glob")
	}
}

func TestDomainRuleSubdomains(t *testing.T) {
	rule, err := parseDomainRule("example.com")
	require.NoError(t, err)

	tests := []struct {
		host string
		port int
		want bool
	}{
		{"example.com", 443, true},
		{"api.example.com", 443, true},
		{"deep.api.example.com", 80, true},
		{"EXAMPLE.COM", 0, true},
		{"notexample.com", 443, false},
		{"example.com.evil.io", 443, false},
	}
	for _, tt := range tests {
		if got := rule.Match(tt.host, tt.port); got != tt.want {
			t.Errorf("Match(%q, %d) = %v, want %v", tt.host, tt.port, got, tt.want)
		}
	}
}

func TestDomainRulePortRestriction(t *testing.T) {
	rule, err := parseDomainRule("db.internal:5432")
	require.NoError(t, err)

	if !rule.Match("db.internal", 5432) {
		t.Error("matching port should pass")
	}
	if rule.Match("db.internal", 443) {
		t.Error("other port should fail")
	}
	// A lookup without a port is not port-restricted.
	if !rule.Match("db.internal", 0) {
		t.Error("port-less lookup should pass")
	}
}

func TestDomainRuleRejectsBadPort(t *testing.T) {
	for _, entry := range []string{"example.com:0", "example.com:99999", "example.com:https"} {
		if _, err := parseDomainRule(entry); err == nil {
			t.Errorf("parseDomainRule(%q) should fail", entry)
		}
	}
}

func TestIPRuleCIDR(t *testing.T) {
	rule, err := parseIPRule("10.0.0.0/8")
	require.NoError(t, err)

	if !rule.Match(netip.MustParseAddr("10.1.2.3"), 5432) {
		t.Error("10.1.2.3 is inside 10.0.0.0/8")
	}
	if rule.Match(netip.MustParseAddr("11.0.0.1"), 5432) {
		t.Error("11.0.0.1 is outside 10.0.0.0/8")
	}
}

func TestIPRuleSingleAddressWithPort(t *testing.T) {
	rule, err := parseIPRule("192.168.1.10:8080")
	require.NoError(t, err)

	if !rule.Match(netip.MustParseAddr("192.168.1.10"), 8080) {
		t.Error("exact address and port should pass")
	}
	if rule.Match(netip.MustParseAddr("192.168.1.10"), 80) {
		t.Error("other port should fail")
	}
	if rule.Match(netip.MustParseAddr("192.168.1.11"), 8080) {
		t.Error("other address should fail")
	}
}

func TestIPRuleMappedAddress(t *testing.T) {
	rule, err := parseIPRule("10.0.0.0/8")
	require.NoError(t, err)

	// IPv4-mapped IPv6 form of an in-range address.
	mapped := netip.MustParseAddr("::ffff:10.1.2.3")
	if !rule.Match(mapped, 0) {
		t.Error("mapped address should unmap before matching")
	}
}

func TestIPRuleMalformed(t *testing.T) {
	for _, entry := range []string{"10.0.0.0/33", "not-an-ip", "1.2.3.4.5"} {
		if _, err := parseIPRule(entry); err == nil {
			t.Errorf("parseIPRule(%q) should fail", entry)
		}
	}
}

func TestExecutableRuleExactAndGlob(t *testing.T) {
	exact, err := newExecutableRule("/usr/bin/git", "")
	require.NoError(t, err)
	if !exact.Match("/usr/bin/git") {
		t.Error("exact path should match")
	}
	// Executables do not get ancestor matching.
	if exact.Match("/usr/bin/git-lfs") {
		t.Error("different binary should not match")
	}

	globbed, err := newExecutableRule("/usr/bin/python3*", "")
	require.NoError(t, err)
	if !globbed.Match("/usr/bin/python3.12") {
		t.Error("glob should match versioned interpreter")
	}
}

func TestCommandRuleGlobCrossesSpaces(t *testing.T) {
	rule, err := newCommandRule("git *")
	require.NoError(t, err)

	if !rule.Match("git push origin main") {
		t.Error("command glob should cross spaces")
	}
	if rule.Match("gitk") {
		t.Error("prefix without space should not match")
	}

	exact, err := newCommandRule("ls")
	require.NoError(t, err)
	if !exact.Match("ls") || exact.Match("ls -la") {
		t.Error("literal command matches only itself")
	}
}

func TestValidateHash(t *testing.T) {
	valid := "sha256:" + strings.Repeat("ab", 32)
	if err := ValidateHash(valid); err != nil {
		t.Errorf("valid digest rejected: %v", err)
	}

	invalid := []string{
		"",
		"sha256:",
		"sha256:xyz",
		"md5:" + strings.Repeat("ab", 32),
		"sha256:" + strings.Repeat("AB", 32), // uppercase hex
		"sha256:" + strings.Repeat("ab", 31),
	}
	for _, h := range invalid {
		if err := ValidateHash(h); err == nil {
			t.Errorf("ValidateHash(%q) should fail", h)
		}
	}
}

func FuzzSplitHostPort(f *testing.F) {
	f.Add("example.com")
	f.Add("example.com:443")
	f.Add(":")
	f.Add("a:b:c")
	f.Fuzz(func(t *testing.T, entry string) {
		host, port, err := splitHostPort(entry)
		if err != nil {
			return
		}
		if port < 0 || port > 65535 {
			t.Errorf("port %d out of range for %q", port, entry)
		}
		_ = host
	})
}

func FuzzNewPathRule(f *testing.F) {
	f.Add("/work/*")
	f.Add("[")
	f.Add("/a/{b,c}/d")
	f.Fuzz(func(t *testing.T, pattern string) {
		rule, err := newPathRule(pattern, "")
		if err != nil {
			return
		}
		rule.Match("/etc/passwd")
	})
}
