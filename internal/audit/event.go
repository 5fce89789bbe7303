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

// Package audit records every policy decision as a hash-chained JSONL
// trail. Each event's hash covers the previous event's hash, so
// removing or editing a line breaks verification for everything after
// it.
package audit

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Event is one recorded policy decision.
type Event struct {
	// ID is a ULID, time-ordered and lexicographically sortable.
	ID string `json:"id"`

	// Timestamp is when the decision was made (UTC).
	Timestamp time.Time `json:"timestamp"`

	// Event is the raw descriptor name that raised the operation,
	// e.g. "open" or "socket.connect".
	Event string `json:"event"`

	// Category is the canonical operation category ("read", "domain", ...).
	Category string `json:"category"`

	// Target is the operation's subject: a path, host:port, command line
	// or variable name depending on the category.
	Target string `json:"target"`

	// Action is "allow" or "deny".
	Action string `json:"action"`

	// Reason names what produced the action, e.g. "rule_match" or
	// "anti_bypass_guard".
	Reason string `json:"reason"`

	// Rule references the config entry that decided the operation,
	// empty when no rule was involved.
	Rule string `json:"rule,omitempty"`

	// Mode is the engine mode the decision was made under.
	Mode string `json:"mode"`

	// EvalTimeUS is the evaluation duration in microseconds.
	EvalTimeUS int64 `json:"evaluation_time_us"`

	// PrevHash is the hash of the preceding event, empty for the first.
	PrevHash string `json:"prev_hash"`

	// Hash is the SHA-256 over this event with Hash itself cleared,
	// prefixed by PrevHash.
	Hash string `json:"hash"`
}

// ComputeHash sets e.Hash to SHA-256(prev_hash + json(e without hash)).
func (e *Event) ComputeHash() error {
	e.Hash = ""

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("audit: marshal event for hashing: %w", err)
	}

	payload := append([]byte(e.PrevHash), data...)
	sum := sha256.Sum256(payload)
	e.Hash = "sha256:" + hex.EncodeToString(sum[:])
	return nil
}

// VerifyHash reports whether the event's recorded hash matches its
// contents.
func (e *Event) VerifyHash() (bool, error) {
	expected := e.Hash

	if err := e.ComputeHash(); err != nil {
		e.Hash = expected
		return false, err
	}
	computed := e.Hash
	e.Hash = expected

	return subtle.ConstantTimeCompare([]byte(computed), []byte(expected)) == 1, nil
}
