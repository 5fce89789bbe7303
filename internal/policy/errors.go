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

import "fmt"

// ConfigError is a fatal problem with the policy document. It is raised
// at load time, before the monitored program starts: a program must never
// run under a policy the engine could not fully understand.
type ConfigError struct {
	// Key is the top-level config key the problem was found under,
	// or "" for document-level problems.
	Key string

	// Reason describes what is wrong with the entry.
	Reason string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("policy: %s", e.Reason)
	}
	return fmt.Sprintf("policy: %s: %s", e.Key, e.Reason)
}

func configErrorf(key, format string, args ...any) *ConfigError {
	return &ConfigError{Key: key, Reason: fmt.Sprintf(format, args...)}
}
