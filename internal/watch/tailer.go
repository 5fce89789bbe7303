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

// Package watch provides the live terminal dashboard for the decision
// trail.
package watch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/peg/warden/internal/audit"
)

const trailPollInterval = 250 * time.Millisecond

// trailUpdate carries one decision event or a follower error.
type trailUpdate struct {
	event audit.Event
	err   error
}

// trailFollower streams decision events appended to a trail file. The
// sink writes one file per day, so when a newer day file appears in the
// trail directory the follower moves to it.
type trailFollower struct {
	path   string
	offset int64

	newWatcher func() (*fsnotify.Watcher, error)
	pollEvery  time.Duration
}

func followTrail(path string) *trailFollower {
	return &trailFollower{
		path:       path,
		newWatcher: fsnotify.NewWatcher,
		pollEvery:  trailPollInterval,
	}
}

func (f *trailFollower) run(ctx context.Context) <-chan trailUpdate {
	out := make(chan trailUpdate, 128)
	go func() {
		defer close(out)
		f.follow(ctx, out)
	}()
	return out
}

func (f *trailFollower) follow(ctx context.Context, out chan<- trailUpdate) {
	if strings.TrimSpace(f.path) == "" {
		out <- trailUpdate{err: errors.New("watch: trail file path is empty")}
		return
	}

	dir := filepath.Dir(f.path)
	watcher, err := f.newWatcher()
	if err != nil {
		out <- trailUpdate{err: fmt.Errorf("watch: create file watcher: %w", err)}
		return
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		out <- trailUpdate{err: fmt.Errorf("watch: watch trail directory %s: %w", dir, err)}
		return
	}
	_ = watcher.Add(f.path)

	f.drain(out)

	// fsnotify misses appends on some filesystems; a slow poll
	// backstops it.
	ticker := time.NewTicker(f.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.drain(out)
		case evt, ok := <-watcher.Events:
			if !ok {
				return
			}
			f.handle(evt, watcher, out)
		case err, ok := <-watcher.Errors:
			if !ok {
				continue
			}
			out <- trailUpdate{err: fmt.Errorf("watch: watcher error: %w", err)}
		}
	}
}

// handle reacts to one directory notification: rollover to a newer day
// file, re-open after truncate or rotation, and drain on writes.
func (f *trailFollower) handle(evt fsnotify.Event, watcher *fsnotify.Watcher, out chan<- trailUpdate) {
	name := filepath.Clean(evt.Name)
	current := filepath.Clean(f.path)

	if evt.Has(fsnotify.Create) && name != current && isNewerTrailFile(name, current) {
		f.path = name
		f.offset = 0
		_ = watcher.Add(f.path)
		f.drain(out)
		return
	}
	if name != current {
		return
	}

	switch {
	case evt.Has(fsnotify.Remove) || evt.Has(fsnotify.Rename):
		f.offset = 0
	case evt.Has(fsnotify.Create):
		f.offset = 0
		_ = watcher.Add(f.path)
		f.drain(out)
	case evt.Has(fsnotify.Write) || evt.Has(fsnotify.Chmod):
		f.drain(out)
	}
}

// drain publishes every event appended since the follower's offset.
func (f *trailFollower) drain(out chan<- trailUpdate) {
	events, next, err := audit.ReadEventsFromOffset(f.path, f.offset)
	if err != nil {
		if os.IsNotExist(err) {
			f.offset = 0
			return
		}
		out <- trailUpdate{err: err}
		return
	}
	for _, event := range events {
		out <- trailUpdate{event: event}
	}
	f.offset = next
}

// isNewerTrailFile reports whether candidate names a later day file
// than current. Trail files are date-stamped, so lexical order on the
// base name is chronological order.
func isNewerTrailFile(candidate, current string) bool {
	if !strings.HasSuffix(candidate, ".jsonl") {
		return false
	}
	return filepath.Base(candidate) > filepath.Base(current)
}
