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
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// MergeLearned appends learned rules to the policy document at path,
// creating the file if needed. The existing document is loaded as a
// generic tree so unrelated keys and entries survive untouched. Learned
// path and executable values are contracted back into variable form
// ($PWD/..., $HOME/...) so the persisted rule stays portable.
//
// The write is atomic (temp file + rename): a crash mid-flush must not
// leave a truncated policy behind, since a truncated policy fails the
// next startup.
func MergeLearned(path string, vars *Variables, learned []LearnedRule) error {
	if len(learned) == 0 {
		return nil
	}
	if vars == nil {
		vars = NewVariables(nil)
	}

	doc := make(map[string]any)
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("policy: parse existing document %s: %w", path, err)
		}
	case !os.IsNotExist(err):
		return fmt.Errorf("policy: read document %s: %w", path, err)
	}

	for _, lr := range learned {
		key := lr.Category.ConfigKey()
		if key == "" {
			return fmt.Errorf("policy: no config key for learned %s rule", lr.Category)
		}

		value := lr.Value
		switch lr.Category {
		case CategoryRead, CategoryCreate, CategoryModify, CategoryDelete,
			CategoryExecutable, CategoryNativeLib:
			value = vars.Contract(value)
		}

		var item any = value
		if lr.Hash != "" {
			item = map[string]any{"path": value, "hash": lr.Hash}
		}

		list, _ := doc[key].([]any)
		if containsEntry(list, item) {
			continue
		}
		doc[key] = append(list, item)
	}

	out, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("policy: marshal document: %w", err)
	}

	return writeAtomic(path, out)
}

// containsEntry reports whether an equivalent entry already exists,
// comparing bare strings and {path, hash} objects by their path value.
func containsEntry(list []any, item any) bool {
	itemPath := entryPath(item)
	if itemPath == "" {
		return false
	}
	for _, existing := range list {
		if entryPath(existing) == itemPath {
			return true
		}
	}
	return false
}

func entryPath(item any) string {
	switch v := item.(type) {
	case string:
		return v
	case map[string]any:
		if p, ok := v["path"].(string); ok {
			return p
		}
		if p, ok := v["pattern"].(string); ok {
			return p
		}
	}
	return ""
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("policy: create document dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".warden-policy-*.yaml.tmp")
	if err != nil {
		return fmt.Errorf("policy: create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("policy: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("policy: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("policy: rename temp file: %w", err)
	}
	return nil
}
