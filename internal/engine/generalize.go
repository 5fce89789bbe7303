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
	"path/filepath"
	"strings"

	"github.com/peg/warden/internal/classify"
	"github.com/peg/warden/internal/policy"
)

// dangerousCommandPrefixes lists command prefixes that are never
// generalized: an approval for one destructive invocation must not
// become a wildcard for all of them.
var dangerousCommandPrefixes = []string{
	"rm -rf", "rm -f", "rm",
	"chmod", "chown",
	"kill", "killall", "pkill",
	"dd",
	"mkfs", "fdisk",
	"reboot", "shutdown", "halt",
	"systemctl stop", "systemctl disable",
}

func isDangerousCommand(command string) bool {
	for _, prefix := range dangerousCommandPrefixes {
		if command == prefix || strings.HasPrefix(command, prefix+" ") {
			return true
		}
	}
	return false
}

// generalizeCommand widens an approved command line to its natural
// pattern: the first one or two tokens plus a wildcard. Single-token
// and dangerous commands stay exact.
//
//	"pip install requests"  → "pip install *"
//	"git push origin main"  → "git push *"
//	"ls"                    → "ls"
//	"rm -rf /tmp/build"     → "rm -rf /tmp/build"
func generalizeCommand(command string) string {
	command = strings.TrimSpace(command)
	tokens := strings.Fields(command)

	if len(tokens) <= 1 {
		return command
	}
	if isDangerousCommand(strings.Join(tokens, " ")) {
		return strings.Join(tokens, " ")
	}
	if len(tokens) == 2 {
		return strings.Join(tokens, " ") + " *"
	}
	return tokens[0] + " " + tokens[1] + " *"
}

// generalize converts one concretely approved operation into the rule
// its category naturally broadens to: a file becomes its containing
// directory with a wildcard, a domain is kept verbatim, an executable
// is pinned to its current content digest.
func (e *Engine) generalize(op classify.Operation) (policy.LearnedRule, error) {
	switch op.Category {
	case policy.CategoryRead, policy.CategoryCreate, policy.CategoryModify, policy.CategoryDelete:
		dir := filepath.Dir(cleanPath(op.Path))
		return policy.LearnedRule{
			Category: op.Category,
			Value:    dir + "/*",
		}, nil

	case policy.CategoryDomain:
		value := op.Host
		if op.Port > 0 {
			value = fmt.Sprintf("%s:%d", op.Host, op.Port)
		}
		return policy.LearnedRule{Category: policy.CategoryDomain, Value: value}, nil

	case policy.CategoryIP:
		value := op.Addr.String()
		if op.Port > 0 {
			value = fmt.Sprintf("%s:%d", op.Addr, op.Port)
		}
		return policy.LearnedRule{Category: policy.CategoryIP, Value: value}, nil

	case policy.CategoryExecutable, policy.CategoryNativeLib:
		path := cleanPath(op.Path)
		digest, err := e.digests.Digest(path)
		if err != nil {
			return policy.LearnedRule{}, fmt.Errorf("engine: pin %s: %w", path, err)
		}
		return policy.LearnedRule{
			Category: op.Category,
			Value:    path,
			Hash:     digest,
		}, nil

	case policy.CategoryShell:
		return policy.LearnedRule{
			Category: policy.CategoryShell,
			Value:    generalizeCommand(op.Command),
		}, nil

	case policy.CategoryEnvRead, policy.CategoryEnvWrite:
		return policy.LearnedRule{Category: op.Category, Value: op.EnvVar}, nil

	default:
		return policy.LearnedRule{}, fmt.Errorf("engine: cannot generalize %s operation", op.Category)
	}
}
