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
	"path/filepath"
	"strings"
	"time"

	"github.com/peg/warden/internal/audit"
)

const (
	maxVisibleEvents = 1000
	maxTargetWidth   = 80
)

func actionIcon(action string) string {
	switch strings.ToLower(strings.TrimSpace(action)) {
	case "allow":
		return "✅"
	case "deny":
		return "\U0001f534"
	default:
		return "•"
	}
}

func truncateRunes(s string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max <= 1 {
		return string(runes[:max])
	}
	return string(runes[:max-1]) + "…"
}

func compactPath(path string, width int) string {
	path = strings.TrimSpace(path)
	if width <= 0 || path == "" {
		return ""
	}
	if len([]rune(path)) <= width {
		return path
	}

	base := filepath.Base(path)
	if len([]rune(base))+3 <= width {
		return "..." + string(filepath.Separator) + base
	}

	return truncateRunes(path, width)
}

// relativeTime formats the elapsed time as a human-readable string.
func relativeTime(now, ts time.Time) string {
	d := now.Sub(ts)
	if d < 0 {
		d = 0
	}
	switch {
	case d < time.Second:
		return "now"
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		h := int(d.Hours())
		m := int(d.Minutes()) % 60
		if m > 0 {
			return fmt.Sprintf("%dh%dm ago", h, m)
		}
		return fmt.Sprintf("%dh ago", h)
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

func isPathCategory(category string) bool {
	switch strings.ToLower(strings.TrimSpace(category)) {
	case "read", "create", "modify", "delete", "executable", "native_library":
		return true
	}
	return false
}

// formatEventLine renders one trail line with a relative timestamp.
func formatEventLine(event audit.Event, width int, now time.Time) string {
	icon := actionIcon(event.Action)
	timePart := fmt.Sprintf("%-8s", relativeTime(now, event.Timestamp))
	categoryPart := truncateRunes(strings.TrimSpace(event.Category), 10)
	if categoryPart == "" {
		categoryPart = "-"
	}

	target := strings.TrimSpace(event.Target)
	if isPathCategory(event.Category) {
		target = compactPath(target, min(maxTargetWidth, max(20, width/2)))
	}
	if target == "" {
		target = "-"
	}
	target = truncateRunes(target, maxTargetWidth)

	reason := strings.TrimSpace(event.Reason)
	if reason == "" {
		reason = "-"
	}

	base := fmt.Sprintf("%s %s %-10s %q [%s]", icon, timePart, categoryPart, target, reason)
	return truncateRunes(base, width)
}

func trimEvents(events []audit.Event) []audit.Event {
	if len(events) <= maxVisibleEvents {
		return events
	}
	trimmed := make([]audit.Event, maxVisibleEvents)
	copy(trimmed, events[:maxVisibleEvents])
	return trimmed
}
