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

package audit

import (
	"bufio"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Sink writes decision events to a persistent store.
type Sink interface {
	Write(event Event) error
	Close() error
}

// SinkOption configures a JSONLSink.
type SinkOption func(*JSONLSink)

// WithFsync configures whether every write syncs to disk before
// returning. On by default: the trail must survive the monitored
// process being killed mid-violation.
func WithFsync(enabled bool) SinkOption {
	return func(s *JSONLSink) { s.fsync = enabled }
}

// WithLogger sets the sink's logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) SinkOption {
	return func(s *JSONLSink) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// JSONLSink appends hash-chained events to one JSONL file per day
// under its directory. Reopening a sink resumes the chain from the
// last line of the current file.
type JSONLSink struct {
	mu sync.Mutex

	dir      string
	file     *os.File
	fileName string
	lastHash string
	fsync    bool
	closed   bool
	logger   *slog.Logger
}

// NewJSONLSink creates the sink directory if needed and opens the
// current day's trail file.
func NewJSONLSink(dir string, opts ...SinkOption) (*JSONLSink, error) {
	if dir == "" {
		return nil, fmt.Errorf("audit: sink dir is empty")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("audit: create sink dir: %w", err)
	}

	s := &JSONLSink{
		dir:    dir,
		fsync:  true,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	if err := s.openLocked(time.Now().UTC()); err != nil {
		return nil, err
	}
	return s, nil
}

func dayFileName(now time.Time) string {
	return "warden-" + now.Format("20060102") + ".jsonl"
}

func (s *JSONLSink) openLocked(now time.Time) error {
	name := dayFileName(now)
	path := filepath.Join(s.dir, name)

	if hash, ok := readLastLineHash(path); ok {
		s.lastHash = hash
		s.logger.Debug("audit: resumed hash chain", "file", name, "hash", hash)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("audit: open trail: %w", err)
	}

	if s.file != nil {
		_ = s.file.Close()
	}
	s.file = f
	s.fileName = name
	return nil
}

// NewEventID returns a new ULID event identifier.
func NewEventID() string {
	id, err := ulid.New(ulid.Timestamp(time.Now().UTC()), rand.Reader)
	if err == nil {
		return id.String()
	}

	slog.Error("audit: generate event id", "error", err)
	return ulid.Make().String()
}

// Write appends one event, chaining its hash to the previous one.
func (s *JSONLSink) Write(event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("audit: write on closed sink")
	}
	if event.ID == "" {
		event.ID = NewEventID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	if name := dayFileName(event.Timestamp); name != s.fileName {
		if err := s.openLocked(event.Timestamp); err != nil {
			return err
		}
	}

	event.PrevHash = s.lastHash
	if err := event.ComputeHash(); err != nil {
		return err
	}

	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("audit: marshal event: %w", err)
	}
	line = append(line, '\n')

	if _, err := s.file.Write(line); err != nil {
		return fmt.Errorf("audit: write event: %w", err)
	}
	if s.fsync {
		if err := s.file.Sync(); err != nil {
			return fmt.Errorf("audit: fsync event: %w", err)
		}
	}

	s.lastHash = event.Hash
	return nil
}

// Path returns the current trail file's path.
func (s *JSONLSink) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return filepath.Join(s.dir, s.fileName)
}

// Close flushes and closes the sink.
func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.file == nil {
		return nil
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("audit: close sync: %w", err)
	}
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("audit: close trail: %w", err)
	}
	s.file = nil
	return nil
}

// readLastLineHash extracts the "hash" field of the last non-empty
// line of a JSONL file.
func readLastLineHash(path string) (string, bool) {
	f, err := os.Open(path)
	if err != nil {
		return "", false
	}
	defer f.Close()

	var lastLine string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			lastLine = line
		}
	}
	if lastLine == "" {
		return "", false
	}
	var partial struct {
		Hash string `json:"hash"`
	}
	if err := json.Unmarshal([]byte(lastLine), &partial); err != nil {
		return "", false
	}
	return partial.Hash, partial.Hash != ""
}
