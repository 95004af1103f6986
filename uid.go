/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package dircd

import "sync"

// uidAlphabet is the allocator's digit set: the uppercase letters A..Z,
// most-significant character first, mirroring odometer-style rollover.
const uidAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// UIDAllocator lazily hands out UIDs of the form <SID><6 chars> (§3, §4.2
// "Registration"), the suffix length fixed by MaxUIDSuffixLen. It only
// tracks the next candidate to try; collisions against already-registered
// IDs are the caller's job via Registry.ByID, since the allocator has no
// registry dependency of its own.
type UIDAllocator struct {
	mu      sync.Mutex
	sid     string
	counter [MaxUIDSuffixLen]int
	done    bool // true once the counter has wrapped past ZZZZZZ
}

// NewUIDAllocator returns an allocator that mints UIDs prefixed with sid.
func NewUIDAllocator(sid string) *UIDAllocator {
	return &UIDAllocator{sid: sid}
}

// Next returns the next candidate UID without checking it against any
// registry. Callers should retry with the following candidate if the
// registry reports the name already taken (astronomically unlikely given
// the keyspace, but not impossible on a long-lived server).
func (a *UIDAllocator) Next() (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.done {
		return "", false
	}

	suffix := make([]byte, MaxUIDSuffixLen)
	for i, digit := range a.counter {
		suffix[i] = uidAlphabet[digit]
	}

	a.advance()
	return a.sid + string(suffix), true
}

// advance increments the odometer, least-significant digit first, setting
// done once every position has wrapped.
func (a *UIDAllocator) advance() {
	for i := MaxUIDSuffixLen - 1; i >= 0; i-- {
		a.counter[i]++
		if a.counter[i] < len(uidAlphabet) {
			return
		}
		a.counter[i] = 0
	}
	a.done = true
}

// AllocateUID returns the next UID for sid not already present in reg,
// retrying past collisions until the allocator is exhausted.
func AllocateUID(alloc *UIDAllocator, reg *Registry) (string, error) {
	for {
		candidate, ok := alloc.Next()
		if !ok {
			return "", ErrUIDExhaustion
		}
		if _, taken := reg.ByID(candidate); !taken {
			return candidate, nil
		}
	}
}
