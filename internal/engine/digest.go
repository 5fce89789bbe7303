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
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

type digestEntry struct {
	mtime  time.Time
	digest string
}

// digestCache memoizes file content digests keyed by path, invalidated
// when the file's mtime moves. Digest-pinned rules are checked on
// every matching operation; without the cache each check re-reads the
// whole binary.
type digestCache struct {
	mu      sync.Mutex
	entries map[string]digestEntry
}

func newDigestCache() *digestCache {
	return &digestCache{entries: make(map[string]digestEntry)}
}

// Digest returns the "sha256:..." content digest for path.
func (c *digestCache) Digest(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("engine: stat %s: %w", path, err)
	}

	c.mu.Lock()
	entry, ok := c.entries[path]
	c.mu.Unlock()
	if ok && entry.mtime.Equal(info.ModTime()) {
		return entry.digest, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("engine: open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("engine: digest %s: %w", path, err)
	}
	digest := "sha256:" + hex.EncodeToString(h.Sum(nil))

	c.mu.Lock()
	c.entries[path] = digestEntry{mtime: info.ModTime(), digest: digest}
	c.mu.Unlock()

	return digest, nil
}
