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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ReadEventsFromOffset reads events from path starting at the given
// byte offset, returning the parsed events and the new offset. A file
// shorter than the offset is treated as truncated and re-read from the
// start. Partial unterminated lines are left unconsumed so they can be
// re-read once complete.
func ReadEventsFromOffset(path string, offset int64) ([]Event, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, offset, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, offset, fmt.Errorf("audit: stat %s: %w", path, err)
	}
	if offset > info.Size() {
		offset = 0
	}

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, offset, fmt.Errorf("audit: seek %s: %w", path, err)
	}

	reader := bufio.NewReader(f)
	cursor := offset
	events := make([]Event, 0, 8)

	for {
		line, err := reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, cursor, fmt.Errorf("audit: read line: %w", err)
		}

		if line == "" && errors.Is(err, io.EOF) {
			return events, cursor, nil
		}
		if !strings.HasSuffix(line, "\n") {
			return events, cursor, nil
		}

		cursor += int64(len(line))
		trimmed := strings.TrimSpace(line)
		if trimmed != "" {
			var evt Event
			if unmarshalErr := json.Unmarshal([]byte(trimmed), &evt); unmarshalErr == nil {
				events = append(events, evt)
			}
		}

		if errors.Is(err, io.EOF) {
			return events, cursor, nil
		}
	}
}

// VerifyChain checks every event's hash and its linkage to the
// previous event, starting from prev (the chain head carried over from
// an earlier file, "" for the first). An event with an empty PrevHash
// starts a fresh chain segment: sinks begin one whenever they cannot
// resume an existing file. Returns the index of the first broken
// event, or -1 when the chain is intact, along with the final chain
// head.
func VerifyChain(events []Event, prev string) (int, string, error) {
	for i := range events {
		if events[i].PrevHash != prev && events[i].PrevHash != "" {
			return i, prev, nil
		}
		ok, err := events[i].VerifyHash()
		if err != nil {
			return i, prev, err
		}
		if !ok {
			return i, prev, nil
		}
		prev = events[i].Hash
	}
	return -1, prev, nil
}
