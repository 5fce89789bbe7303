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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testVars(values map[string]string, env map[string]string) *Variables {
	v := NewVariables(values)
	v.lookupEnv = func(name string) (string, bool) {
		value, ok := env[name]
		return value, ok
	}
	return v
}

func TestExpand(t *testing.T) {
	v := testVars(
		map[string]string{"PWD": "/work/proj", "HOME": "/home/ada", "TMPDIR": "/tmp"},
		map[string]string{"CARGO_HOME": "/home/ada/.cargo"},
	)

	tests := []struct {
		pattern string
		want    string
	}{
		{"$PWD", "/work/proj"},
		{"$PWD/src/*.go", "/work/proj/src/*.go"},
		{"$HOME/.cache", "/home/ada/.cache"},
		{"$ENV{CARGO_HOME}/registry", "/home/ada/.cargo/registry"},
		{"/etc/hosts", "/etc/hosts"},
		{"$TMPDIR", "/tmp"},
	}
	for _, tt := range tests {
		got, err := v.Expand(tt.pattern)
		require.NoError(t, err, "pattern %q", tt.pattern)
		assert.Equal(t, tt.want, got, "pattern %q", tt.pattern)
	}
}

func TestExpandUnknownVariable(t *testing.T) {
	v := testVars(map[string]string{"PWD": "/work"}, nil)

	_, err := v.Expand("$PYTHON_STDLIB/json")
	var ce *ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("want ConfigError, got %v", err)
	}
}

func TestExpandUnsetEnvReference(t *testing.T) {
	v := testVars(nil, map[string]string{})

	_, err := v.Expand("$ENV{NO_SUCH_VAR}/data")
	if err == nil {
		t.Fatal("want error for unset environment variable")
	}

	_, err = v.Expand("$ENV{}/data")
	if err == nil {
		t.Fatal("want error for empty reference")
	}
}

func TestExpandDollarWithoutToken(t *testing.T) {
	v := testVars(nil, nil)

	// A lone "$" or lowercase suffix is not a variable reference.
	got, err := v.Expand("/opt/a$b/file")
	require.NoError(t, err)
	assert.Equal(t, "/opt/a$b/file", got)
}

func TestContract(t *testing.T) {
	v := testVars(map[string]string{
		"PWD":  "/home/ada/proj",
		"HOME": "/home/ada",
	}, nil)

	tests := []struct {
		path string
		want string
	}{
		// Longest value wins: $PWD sits under $HOME.
		{"/home/ada/proj/out.txt", "$PWD/out.txt"},
		{"/home/ada/proj", "$PWD"},
		{"/home/ada/.cache", "$HOME/.cache"},
		{"/var/log/syslog", "/var/log/syslog"},
		// Sibling prefix must not contract.
		{"/home/adam/x", "/home/adam/x"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, v.Contract(tt.path), "path %q", tt.path)
	}
}

func TestDefaultVariables(t *testing.T) {
	v, err := DefaultVariables()
	require.NoError(t, err)

	for _, name := range []string{VarPWD, VarHome, VarTmpDir} {
		got, err := v.Expand("$" + name)
		require.NoError(t, err, "variable %s", name)
		assert.NotEmpty(t, got, "variable %s", name)
	}
}
