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

// Package classify decodes raw intercepted-operation descriptors into
// canonical Operation records.
//
// Descriptors arrive as (name, positional arguments) pairs whose
// argument shape is name-specific and untrusted. The decode table is
// closed: every recognized name declares how to coerce its arguments,
// unrecognized names and malformed shapes fall through to an explicit
// unclassified Operation, and nothing in this package ever panics the
// engine. A compound descriptor (a rename carrying source and
// destination) decomposes into multiple Operations that are evaluated
// independently.
package classify

import (
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"

	"github.com/peg/warden/internal/policy"
)

// Operation is the canonical form of one intercepted action. Exactly
// the fields relevant to its category are populated; Event and Args
// always carry the raw descriptor for audit and review display.
type Operation struct {
	Category policy.Category

	// Path is the target for file, executable and native-library
	// categories, as delivered (canonicalization is the matcher's job).
	Path string

	// Host and Port describe a domain-addressed network target.
	Host string
	Port int

	// Addr is set instead of Host when the target is a literal address.
	Addr netip.Addr

	// Command is the full command line for shell operations.
	Command string

	// EnvVar is the variable name for env read/write operations.
	EnvVar string

	// Event and Args are the raw descriptor.
	Event string
	Args  []any
}

// Target renders the operation's target for messages and audit records.
func (op Operation) Target() string {
	switch op.Category {
	case policy.CategoryRead, policy.CategoryCreate, policy.CategoryModify,
		policy.CategoryDelete, policy.CategoryExecutable, policy.CategoryNativeLib:
		return op.Path
	case policy.CategoryDomain:
		if op.Port > 0 {
			return fmt.Sprintf("%s:%d", op.Host, op.Port)
		}
		return op.Host
	case policy.CategoryIP:
		if op.Port > 0 {
			return fmt.Sprintf("%s:%d", op.Addr, op.Port)
		}
		return op.Addr.String()
	case policy.CategoryShell:
		return op.Command
	case policy.CategoryEnvRead, policy.CategoryEnvWrite:
		return op.EnvVar
	default:
		return fmt.Sprintf("%s%v", op.Event, op.Args)
	}
}

// decodeFunc turns a descriptor's arguments into zero or more
// Operations. A returned error marks the descriptor unclassified.
type decodeFunc func(args []any) ([]Operation, error)

// statFunc reports whether a path currently exists. Swappable in tests.
var statFunc = func(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// decodeTable is the closed set of recognized descriptor names.
// Informational descriptors that carry no enforceable target map to nil
// decoders and produce no Operations.
var decodeTable = map[string]decodeFunc{
	"open":    decodeOpen,
	"io.open": decodeOpen,

	"os.remove":     decodeDelete,
	"os.unlink":     decodeDelete,
	"os.rmdir":      decodeDelete,
	"shutil.rmtree": decodeDelete,

	"os.rename":  decodeRename,
	"os.replace": decodeRename,

	"socket.connect":          decodeConnect,
	"socket.getaddrinfo":      decodeGetaddrinfo,
	"socket.gethostbyname":    decodeHostLookup,
	"socket.gethostbyname_ex": decodeHostLookup,

	"subprocess.Popen": decodePopen,
	"os.system":        decodeSystem,
	"os.exec":          decodeExec,
	"os.spawn":         decodeExec,
	"os.posix_spawn":   decodeExec,

	"os.putenv":   decodeEnvWrite,
	"os.unsetenv": decodeEnvWrite,

	"os.getenv":      decodeEnvRead,
	"os.environ.get": decodeEnvRead,

	"ctypes.dlopen": decodeDlopen,

	"sys.addaudithook": guardDecoder(policy.CategoryHook),
	"sys.settrace":     guardDecoder(policy.CategoryTrace),
	"sys.setprofile":   guardDecoder(policy.CategoryTrace),

	// Informational descriptors: recognized, nothing to enforce.
	"import":                nil,
	"compile":               nil,
	"exec":                  nil,
	"builtins.input":        nil,
	"builtins.input/result": nil,
	"os.stat":               nil,
	"os.listdir":            nil,
	"os.scandir":            nil,
	"sys._getframe":         nil,
}

// Classify decodes one descriptor. The result is never nil-and-unknown:
// an unrecognized name or argument shape yields a single unclassified
// Operation, which the engine denies. Recognized informational
// descriptors yield an empty slice.
func Classify(event string, args []any) []Operation {
	decode, known := decodeTable[event]
	if !known {
		return unclassified(event, args)
	}
	if decode == nil {
		return nil
	}
	ops, err := decode(args)
	if err != nil {
		return unclassified(event, args)
	}
	for i := range ops {
		ops[i].Event = event
		ops[i].Args = args
	}
	return ops
}

func unclassified(event string, args []any) []Operation {
	return []Operation{{Category: policy.CategoryUnclassified, Event: event, Args: args}}
}

// decodeOpen handles the (path, mode, flags) shape of file opens. The
// mode string decides between read and write; for writes, current
// existence decides between create and modify.
func decodeOpen(args []any) ([]Operation, error) {
	if len(args) == 0 {
		return nil, nil
	}

	path, ok := asString(args[0])
	if !ok {
		// Re-opening by file descriptor: the path check already
		// happened when the descriptor was created.
		if _, isNum := asInt(args[0]); isNum {
			return nil, nil
		}
		return nil, fmt.Errorf("open: path argument %T", args[0])
	}

	mode := "r"
	if len(args) > 1 {
		if m, ok := asString(args[1]); ok && m != "" {
			mode = m
		}
	}

	if !strings.ContainsAny(mode, "wax+") {
		return []Operation{{Category: policy.CategoryRead, Path: path}}, nil
	}

	cat := policy.CategoryModify
	if !statFunc(path) {
		cat = policy.CategoryCreate
	}
	return []Operation{{Category: cat, Path: path}}, nil
}

func decodeDelete(args []any) ([]Operation, error) {
	path, ok := firstString(args)
	if !ok {
		return nil, fmt.Errorf("delete: missing path")
	}
	return []Operation{{Category: policy.CategoryDelete, Path: path}}, nil
}

// decodeRename decomposes a rename into its constituents: removing the
// source and creating the destination. Both must be allowed.
func decodeRename(args []any) ([]Operation, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("rename: want 2 paths, got %d args", len(args))
	}
	src, ok1 := asString(args[0])
	dst, ok2 := asString(args[1])
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("rename: non-string path")
	}
	return []Operation{
		{Category: policy.CategoryDelete, Path: src},
		{Category: policy.CategoryCreate, Path: dst},
	}, nil
}

// decodeConnect handles (socket, address). An (host, port) tuple is a
// network target; a bare string address is a filesystem socket path and
// is treated as a file read.
func decodeConnect(args []any) ([]Operation, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("connect: want (socket, address)")
	}

	if path, ok := asString(args[1]); ok {
		return []Operation{{Category: policy.CategoryRead, Path: path}}, nil
	}

	tuple, ok := asTuple(args[1])
	if !ok || len(tuple) < 2 {
		return nil, fmt.Errorf("connect: address %T", args[1])
	}
	host, ok := asString(tuple[0])
	if !ok {
		return nil, fmt.Errorf("connect: host %T", tuple[0])
	}
	port, _ := asInt(tuple[1])

	return []Operation{networkOp(host, port)}, nil
}

func decodeGetaddrinfo(args []any) ([]Operation, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("getaddrinfo: missing host")
	}
	host, ok := asString(args[0])
	if !ok {
		return nil, fmt.Errorf("getaddrinfo: host %T", args[0])
	}
	port := 0
	if len(args) > 1 {
		// The port may be a number, a numeric string, a service name,
		// or absent. Only numeric forms restrict the match.
		if p, ok := asInt(args[1]); ok {
			port = p
		} else if s, ok := asString(args[1]); ok {
			if p, err := strconv.Atoi(s); err == nil {
				port = p
			}
		}
	}
	return []Operation{networkOp(host, port)}, nil
}

func decodeHostLookup(args []any) ([]Operation, error) {
	host, ok := firstString(args)
	if !ok {
		return nil, fmt.Errorf("host lookup: missing host")
	}
	return []Operation{networkOp(host, 0)}, nil
}

// networkOp builds a domain or IP operation depending on whether the
// host is a literal address.
func networkOp(host string, port int) Operation {
	if addr, err := netip.ParseAddr(host); err == nil {
		return Operation{Category: policy.CategoryIP, Addr: addr.Unmap(), Port: port}
	}
	return Operation{Category: policy.CategoryDomain, Host: strings.ToLower(host), Port: port}
}

// decodePopen handles (executable, argv, cwd, env). Policy matches the
// full command line; the executable path itself is covered by the exec
// descriptors.
func decodePopen(args []any) ([]Operation, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("popen: missing executable")
	}

	parts := make([]string, 0, 8)
	if exe, ok := asString(args[0]); ok && exe != "" {
		parts = append(parts, exe)
	}
	if len(args) > 1 {
		argv, ok := asTuple(args[1])
		if !ok && args[1] != nil {
			return nil, fmt.Errorf("popen: argv %T", args[1])
		}
		for _, a := range argv {
			s, ok := asString(a)
			if !ok {
				s = fmt.Sprint(a)
			}
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("popen: empty command")
	}

	// The first argv entry repeats the executable in the common case;
	// drop the duplicate so the command line reads naturally.
	if len(parts) > 1 && parts[0] == parts[1] {
		parts = parts[1:]
	}

	return []Operation{{Category: policy.CategoryShell, Command: strings.Join(parts, " ")}}, nil
}

func decodeSystem(args []any) ([]Operation, error) {
	cmd, ok := firstString(args)
	if !ok {
		return nil, fmt.Errorf("system: missing command")
	}
	return []Operation{{Category: policy.CategoryShell, Command: cmd}}, nil
}

func decodeExec(args []any) ([]Operation, error) {
	path, ok := firstString(args)
	if !ok {
		return nil, fmt.Errorf("exec: missing path")
	}
	return []Operation{{Category: policy.CategoryExecutable, Path: path}}, nil
}

func decodeEnvWrite(args []any) ([]Operation, error) {
	name, ok := firstString(args)
	if !ok {
		return nil, fmt.Errorf("env write: missing name")
	}
	return []Operation{{Category: policy.CategoryEnvWrite, EnvVar: name}}, nil
}

func decodeEnvRead(args []any) ([]Operation, error) {
	name, ok := firstString(args)
	if !ok {
		return nil, fmt.Errorf("env read: missing name")
	}
	return []Operation{{Category: policy.CategoryEnvRead, EnvVar: name}}, nil
}

func decodeDlopen(args []any) ([]Operation, error) {
	path, _ := firstString(args)
	return []Operation{{Category: policy.CategoryNativeLib, Path: path}}, nil
}

func guardDecoder(cat policy.Category) decodeFunc {
	return func([]any) ([]Operation, error) {
		return []Operation{{Category: cat}}, nil
	}
}

// asString coerces path-like values: strings and byte slices. Numbers
// and nil are not strings.
func asString(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case []byte:
		return string(s), true
	default:
		return "", false
	}
}

// asInt coerces the numeric types a JSON or wire decoder may produce.
func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

func asTuple(v any) ([]any, bool) {
	t, ok := v.([]any)
	return t, ok
}

func firstString(args []any) (string, bool) {
	if len(args) == 0 {
		return "", false
	}
	return asString(args[0])
}
