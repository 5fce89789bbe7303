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

package classify

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peg/warden/internal/policy"
)

// withExistingPaths swaps the existence probe for the test's duration.
func withExistingPaths(t *testing.T, existing ...string) {
	t.Helper()
	saved := statFunc
	statFunc = func(path string) bool {
		for _, p := range existing {
			if p == path {
				return true
			}
		}
		return false
	}
	t.Cleanup(func() { statFunc = saved })
}

func single(t *testing.T, event string, args ...any) Operation {
	t.Helper()
	ops := Classify(event, args)
	require.Len(t, ops, 1, "event %s", event)
	return ops[0]
}

func TestClassifyOpenRead(t *testing.T) {
	op := single(t, "open", "/etc/hosts", "r", 524288)
	assert.Equal(t, policy.CategoryRead, op.Category)
	assert.Equal(t, "/etc/hosts", op.Path)
	assert.Equal(t, "open", op.Event)
}

func TestClassifyOpenWriteModes(t *testing.T) {
	withExistingPaths(t, "/work/existing.txt")

	tests := []struct {
		path string
		mode string
		want policy.Category
	}{
		{"/work/existing.txt", "w", policy.CategoryModify},
		{"/work/existing.txt", "a", policy.CategoryModify},
		{"/work/existing.txt", "r+", policy.CategoryModify},
		{"/work/new.txt", "w", policy.CategoryCreate},
		{"/work/new.txt", "x", policy.CategoryCreate},
		{"/work/new.txt", "rb", policy.CategoryRead},
	}
	for _, tt := range tests {
		op := single(t, "open", tt.path, tt.mode)
		assert.Equal(t, tt.want, op.Category, "open(%q, %q)", tt.path, tt.mode)
	}
}

func TestClassifyOpenByDescriptor(t *testing.T) {
	// Re-opening an already-checked file descriptor carries no path.
	assert.Empty(t, Classify("open", []any{int64(7), "r"}))
}

func TestClassifyOpenNoArgs(t *testing.T) {
	assert.Empty(t, Classify("open", nil))
}

func TestClassifyDelete(t *testing.T) {
	for _, event := range []string{"os.remove", "os.unlink", "os.rmdir", "shutil.rmtree"} {
		op := single(t, event, "/tmp/scratch")
		assert.Equal(t, policy.CategoryDelete, op.Category, event)
		assert.Equal(t, "/tmp/scratch", op.Path)
	}
}

func TestClassifyRenameDecomposes(t *testing.T) {
	ops := Classify("os.rename", []any{"/a/src.txt", "/b/dst.txt"})
	require.Len(t, ops, 2)
	assert.Equal(t, policy.CategoryDelete, ops[0].Category)
	assert.Equal(t, "/a/src.txt", ops[0].Path)
	assert.Equal(t, policy.CategoryCreate, ops[1].Category)
	assert.Equal(t, "/b/dst.txt", ops[1].Path)
}

func TestClassifyConnectTuple(t *testing.T) {
	op := single(t, "socket.connect", nil, []any{"10.1.2.3", 5432})
	assert.Equal(t, policy.CategoryIP, op.Category)
	assert.Equal(t, netip.MustParseAddr("10.1.2.3"), op.Addr)
	assert.Equal(t, 5432, op.Port)
}

func TestClassifyConnectHostname(t *testing.T) {
	op := single(t, "socket.connect", nil, []any{"API.Example.COM", 443})
	assert.Equal(t, policy.CategoryDomain, op.Category)
	assert.Equal(t, "api.example.com", op.Host)
	assert.Equal(t, 443, op.Port)
}

func TestClassifyConnectUnixSocket(t *testing.T) {
	// A string address is a filesystem socket path.
	op := single(t, "socket.connect", nil, "/var/run/docker.sock")
	assert.Equal(t, policy.CategoryRead, op.Category)
	assert.Equal(t, "/var/run/docker.sock", op.Path)
}

func TestClassifyGetaddrinfo(t *testing.T) {
	op := single(t, "socket.getaddrinfo", "example.com", 443)
	assert.Equal(t, policy.CategoryDomain, op.Category)
	assert.Equal(t, 443, op.Port)

	// Numeric string ports restrict; service names do not.
	op = single(t, "socket.getaddrinfo", "example.com", "8080")
	assert.Equal(t, 8080, op.Port)
	op = single(t, "socket.getaddrinfo", "example.com", "https")
	assert.Equal(t, 0, op.Port)
	op = single(t, "socket.getaddrinfo", "example.com")
	assert.Equal(t, 0, op.Port)
}

func TestClassifyHostLookup(t *testing.T) {
	op := single(t, "socket.gethostbyname", "example.com")
	assert.Equal(t, policy.CategoryDomain, op.Category)
	assert.Equal(t, "example.com", op.Host)
	assert.Equal(t, 0, op.Port)
}

func TestClassifyPopen(t *testing.T) {
	op := single(t, "subprocess.Popen", "/usr/bin/git", []any{"git", "status"}, nil, nil)
	assert.Equal(t, policy.CategoryShell, op.Category)
	assert.Equal(t, "/usr/bin/git git status", op.Command)
}

func TestClassifyPopenDedupsExecutable(t *testing.T) {
	op := single(t, "subprocess.Popen", "git", []any{"git", "push", "origin"}, nil, nil)
	assert.Equal(t, "git push origin", op.Command)
}

func TestClassifySystem(t *testing.T) {
	op := single(t, "os.system", "ls -la /tmp")
	assert.Equal(t, policy.CategoryShell, op.Category)
	assert.Equal(t, "ls -la /tmp", op.Command)
}

func TestClassifyExec(t *testing.T) {
	for _, event := range []string{"os.exec", "os.spawn", "os.posix_spawn"} {
		op := single(t, event, "/usr/bin/python3", []any{"python3", "x.py"})
		assert.Equal(t, policy.CategoryExecutable, op.Category, event)
		assert.Equal(t, "/usr/bin/python3", op.Path)
	}
}

func TestClassifyEnv(t *testing.T) {
	op := single(t, "os.getenv", "PATH")
	assert.Equal(t, policy.CategoryEnvRead, op.Category)
	assert.Equal(t, "PATH", op.EnvVar)

	op = single(t, "os.putenv", "PATH", "/usr/bin")
	assert.Equal(t, policy.CategoryEnvWrite, op.Category)

	op = single(t, "os.unsetenv", "TMPDIR")
	assert.Equal(t, policy.CategoryEnvWrite, op.Category)
	assert.Equal(t, "TMPDIR", op.EnvVar)
}

func TestClassifyDlopen(t *testing.T) {
	op := single(t, "ctypes.dlopen", "/usr/lib/libcrypto.so")
	assert.Equal(t, policy.CategoryNativeLib, op.Category)
	assert.Equal(t, "/usr/lib/libcrypto.so", op.Path)
}

func TestClassifyGuardEvents(t *testing.T) {
	assert.Equal(t, policy.CategoryHook, single(t, "sys.addaudithook").Category)
	assert.Equal(t, policy.CategoryTrace, single(t, "sys.settrace", nil).Category)
	assert.Equal(t, policy.CategoryTrace, single(t, "sys.setprofile", nil).Category)
}

func TestClassifyInformationalEvents(t *testing.T) {
	for _, event := range []string{"import", "compile", "exec", "os.stat", "os.listdir", "sys._getframe"} {
		assert.Empty(t, Classify(event, []any{"whatever"}), event)
	}
}

func TestClassifyUnknownEvent(t *testing.T) {
	op := single(t, "os.fork_exec_meltdown", 1, 2, 3)
	assert.Equal(t, policy.CategoryUnclassified, op.Category)
	assert.Equal(t, "os.fork_exec_meltdown", op.Event)
}

func TestClassifyMalformedArguments(t *testing.T) {
	// Recognized names with shapes the decoder cannot coerce fall
	// through to unclassified, never to allowed.
	tests := []struct {
		event string
		args  []any
	}{
		{"open", []any{map[string]any{}}},
		{"os.remove", nil},
		{"os.rename", []any{"/only-one"}},
		{"socket.connect", []any{nil, 42}},
		{"socket.getaddrinfo", []any{12.5}},
		{"subprocess.Popen", nil},
		{"os.system", []any{7}},
		{"os.getenv", nil},
	}
	for _, tt := range tests {
		ops := Classify(tt.event, tt.args)
		require.Len(t, ops, 1, "event %s", tt.event)
		assert.Equal(t, policy.CategoryUnclassified, ops[0].Category, "event %s", tt.event)
	}
}

func TestTargetRendering(t *testing.T) {
	assert.Equal(t, "/etc/hosts", single(t, "open", "/etc/hosts", "r").Target())
	assert.Equal(t, "example.com:443", single(t, "socket.getaddrinfo", "example.com", 443).Target())
	assert.Equal(t, "example.com", single(t, "socket.gethostbyname", "example.com").Target())
	assert.Equal(t, "10.0.0.1:80", single(t, "socket.connect", nil, []any{"10.0.0.1", 80}).Target())
	assert.Equal(t, "ls -la", single(t, "os.system", "ls -la").Target())
	assert.Equal(t, "PATH", single(t, "os.getenv", "PATH").Target())
}

func FuzzClassify(f *testing.F) {
	f.Add("open", "/etc/passwd", "r")
	f.Add("socket.connect", "", "")
	f.Add("no.such.event", "a", "b")
	f.Add("os.rename", "x", "")
	f.Fuzz(func(t *testing.T, event, arg1, arg2 string) {
		// Must never panic, and unknown shapes must classify to
		// something deniable rather than vanish.
		ops := Classify(event, []any{arg1, arg2})
		if _, known := decodeTable[event]; !known && len(ops) != 1 {
			t.Errorf("unknown event %q produced %d ops", event, len(ops))
		}
	})
}
