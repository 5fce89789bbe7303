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
	"os"
	"regexp"
	"sort"
	"strings"
)

// Variable names recognized in rule patterns. $ENV{VAR} is handled
// separately and may reference any environment variable.
const (
	VarPWD            = "PWD"
	VarHome           = "HOME"
	VarTmpDir         = "TMPDIR"
	VarPythonStdlib   = "PYTHON_STDLIB"
	VarPythonSitePkgs = "PYTHON_SITE_PACKAGES"
	VarPythonPlatlib  = "PYTHON_PLATLIB"
	VarPythonPrefix   = "PYTHON_PREFIX"
)

var envVarPattern = regexp.MustCompile(`\$ENV\{([^}]*)\}`)

// tokenPattern matches a symbolic variable reference like $PWD or
// $PYTHON_STDLIB. $ENV{...} references must already be expanded.
var tokenPattern = regexp.MustCompile(`\$[A-Z][A-Z0-9_]*`)

// Variables resolves symbolic tokens inside rule patterns into literal
// values. Resolution happens exactly once, at config build time; the
// resolved values never change during a run.
//
// Glob characters in the surrounding pattern are left alone: expansion
// produces a pattern, not a filesystem path.
type Variables struct {
	values map[string]string

	// lookupEnv resolves $ENV{VAR} references. Injectable for tests.
	lookupEnv func(string) (string, bool)
}

// NewVariables builds a resolver from an explicit value table. Keys are
// variable names without the leading "$". Values for the PYTHON_* family
// come from the collaborator that launched the monitored interpreter;
// they are simply absent when not provided.
func NewVariables(values map[string]string) *Variables {
	v := &Variables{
		values:    make(map[string]string, len(values)),
		lookupEnv: os.LookupEnv,
	}
	for name, value := range values {
		v.values[strings.TrimPrefix(name, "$")] = value
	}
	return v
}

// DefaultVariables builds a resolver with $PWD, $HOME and $TMPDIR taken
// from the current process environment. PYTHON_* variables are unset;
// the launcher supplies them when it knows the target interpreter.
func DefaultVariables() (*Variables, error) {
	pwd, err := os.Getwd()
	if err != nil {
		return nil, configErrorf("", "resolve working directory: %v", err)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, configErrorf("", "resolve home directory: %v", err)
	}
	return NewVariables(map[string]string{
		VarPWD:    pwd,
		VarHome:   home,
		VarTmpDir: strings.TrimSuffix(os.TempDir(), "/"),
	}), nil
}

// Set adds or replaces a variable value. Used by the launcher to inject
// interpreter-specific paths before the config is built.
func (v *Variables) Set(name, value string) {
	v.values[strings.TrimPrefix(name, "$")] = value
}

// Expand replaces every variable reference in pattern with its literal
// value. An $ENV{VAR} reference to an unset environment variable, or a
// $TOKEN not present in the table, is a hard error: a rule that silently
// expanded to nothing could match everything or nothing, and neither is
// acceptable.
func (v *Variables) Expand(pattern string) (string, error) {
	var expandErr error

	out := envVarPattern.ReplaceAllStringFunc(pattern, func(ref string) string {
		name := envVarPattern.FindStringSubmatch(ref)[1]
		if name == "" {
			expandErr = configErrorf("", "empty $ENV{} reference in %q", pattern)
			return ref
		}
		value, ok := v.lookupEnv(name)
		if !ok {
			expandErr = configErrorf("", "environment variable %q referenced by %q is not set", name, pattern)
			return ref
		}
		return value
	})
	if expandErr != nil {
		return "", expandErr
	}

	out = tokenPattern.ReplaceAllStringFunc(out, func(ref string) string {
		value, ok := v.values[ref[1:]]
		if !ok {
			expandErr = configErrorf("", "unknown variable %s in %q", ref, pattern)
			return ref
		}
		return value
	})
	if expandErr != nil {
		return "", expandErr
	}

	return out, nil
}

// Contract rewrites an absolute path back into variable form for
// persistence, so learned rules stay portable across machines and runs.
// The longest matching variable value wins; paths under no known value
// are returned unchanged.
func (v *Variables) Contract(path string) string {
	type binding struct {
		name  string
		value string
	}

	bindings := make([]binding, 0, len(v.values))
	for name, value := range v.values {
		if value == "" {
			continue
		}
		bindings = append(bindings, binding{name, value})
	}
	sort.Slice(bindings, func(i, j int) bool {
		return len(bindings[i].value) > len(bindings[j].value)
	})

	for _, b := range bindings {
		if path == b.value {
			return "$" + b.name
		}
		if strings.HasPrefix(path, b.value+"/") {
			return "$" + b.name + path[len(b.value):]
		}
	}
	return path
}
