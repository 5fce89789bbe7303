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

package watch

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/peg/warden/internal/audit"
)

func TestActionIcon(t *testing.T) {
	assert.Equal(t, "✅", actionIcon("allow"))
	assert.Equal(t, "✅", actionIcon(" ALLOW "))
	assert.Equal(t, "\U0001f534", actionIcon("deny"))
	assert.Equal(t, "•", actionIcon("???"))
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "hello", truncateRunes("hello", 10))
	assert.Equal(t, "hell…", truncateRunes("hello world", 5))
	assert.Equal(t, "", truncateRunes("hello", 0))
	assert.Equal(t, "h", truncateRunes("hello", 1))
	// Multibyte input truncates on rune boundaries.
	assert.Equal(t, "héll…", truncateRunes("héllo wörld", 5))
}

func TestCompactPath(t *testing.T) {
	assert.Equal(t, "/etc/hosts", compactPath("/etc/hosts", 40))
	assert.Equal(t, ".../libpython3.12.so", compactPath("/usr/lib/x86_64-linux-gnu/deep/libpython3.12.so", 25))
	assert.Equal(t, "", compactPath("", 40))
	assert.Equal(t, "", compactPath("/etc/hosts", 0))
}

func TestRelativeTime(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		ago  time.Duration
		want string
	}{
		{500 * time.Millisecond, "now"},
		{30 * time.Second, "30s ago"},
		{5 * time.Minute, "5m ago"},
		{90 * time.Minute, "1h30m ago"},
		{3 * time.Hour, "3h ago"},
		{48 * time.Hour, "2d ago"},
		{-time.Minute, "now"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, relativeTime(now, now.Add(-tt.ago)), "ago=%s", tt.ago)
	}
}

func TestFormatEventLine(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	event := audit.Event{
		Timestamp: now.Add(-10 * time.Second),
		Category:  "shell",
		Target:    "git push origin main",
		Action:    "deny",
		Reason:    "no_rule_matched",
	}

	line := formatEventLine(event, 120, now)
	assert.Contains(t, line, "10s ago")
	assert.Contains(t, line, "shell")
	assert.Contains(t, line, `"git push origin main"`)
	assert.Contains(t, line, "[no_rule_matched]")
	assert.Contains(t, line, actionIcon("deny"))
}

func TestFormatEventLineEmptyFields(t *testing.T) {
	now := time.Now()
	line := formatEventLine(audit.Event{Timestamp: now}, 80, now)
	assert.Contains(t, line, `"-"`)
	assert.Contains(t, line, "[-]")
}

func TestFormatEventLineCompactsPaths(t *testing.T) {
	now := time.Now()
	event := audit.Event{
		Timestamp: now,
		Category:  "read",
		Target:    "/very/long/prefix/" + strings.Repeat("nested/", 20) + "file.txt",
		Action:    "allow",
		Reason:    "rule_match",
	}
	line := formatEventLine(event, 100, now)
	assert.Contains(t, line, ".../file.txt")
}

func TestTrimEventsKeepsNewest(t *testing.T) {
	events := make([]audit.Event, maxVisibleEvents+50)
	for i := range events {
		events[i].ID = fmt.Sprintf("evt-%04d", i)
	}
	trimmed := trimEvents(events)
	assert.Len(t, trimmed, maxVisibleEvents)
	// Events prepend newest-first; the head survives trimming.
	assert.Equal(t, "evt-0000", trimmed[0].ID)

	short := events[:3]
	assert.Equal(t, short, trimEvents(short))
}

func TestIsPathCategory(t *testing.T) {
	for _, c := range []string{"read", "create", "modify", "delete", "executable", "native_library"} {
		assert.True(t, isPathCategory(c), c)
	}
	for _, c := range []string{"domain", "ip", "shell", "env_read", ""} {
		assert.False(t, isPathCategory(c), c)
	}
}
