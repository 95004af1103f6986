/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package dircd

import (
	"strings"
	"sync"
	"time"
)

// TKL ban-type flags (§3 "TKL entry").
const (
	TKLKillLine       byte = 'G' // global kill-line (gline)
	TKLZoneLine       byte = 'Z' // IP-range kill-line (zline)
	TKLShun           byte = 's'
	TKLQuiet          byte = 'q'
	TKLExcept         byte = 'E'
	TKLNickReserve    byte = 'Q' // Q-line
	TKLExtAccount     byte = 'a' // ~account: extended matcher
	TKLExtCertfp      byte = 'z' // ~certfp: extended matcher
)

// extendedIdentPrefixes maps the sentinel ident prefixes that switch a TKL
// entry to extended matching instead of literal ident glob (§3).
var extendedIdentPrefixes = []string{"~account:", "~certfp:"}

// TKLEntry is one server-ban record (§3).
type TKLEntry struct {
	Type     byte
	Ident    string
	Host     string
	BanTypes []byte // which primary types an except-line (TKLExcept) covers
	Expiry   int64  // unix seconds, 0 = permanent
	SetBy    string
	SetAt    int64
	Reason   string
}

// isExtended reports whether Ident carries an extended-match sentinel.
func (t *TKLEntry) isExtended() (prefix, rest string, ok bool) {
	for _, p := range extendedIdentPrefixes {
		if strings.HasPrefix(t.Ident, p) {
			return p, strings.TrimPrefix(t.Ident, p), true
		}
	}
	return "", "", false
}

// Expired reports whether the entry's expiry epoch has passed.
func (t *TKLEntry) Expired(now time.Time) bool {
	return t.Expiry != 0 && now.Unix() >= t.Expiry
}

// key uniquely identifies an entry within its type for dedup/removal.
func (t *TKLEntry) key() string {
	return t.Ident + "@" + t.Host
}

// TKLEngine holds all server-ban entries, indexed by type flag (§4.8 and
// §3 "TKL entry"). Grounded on channel.go's listmode-set idiom
// (util.ConcurrentMapString of masks), generalized to a typed struct
// slice since TKL entries carry more fields than a bare setter string.
type TKLEngine struct {
	mu      sync.RWMutex
	entries map[byte][]*TKLEntry
}

// NewTKLEngine returns an empty TKL engine.
func NewTKLEngine() *TKLEngine {
	return &TKLEngine{entries: make(map[byte][]*TKLEntry)}
}

// Add inserts a new TKL entry (`TKL +`). Duplicate (ident,host) pairs
// under the same type are rejected.
func (e *TKLEngine) Add(entry *TKLEntry) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, existing := range e.entries[entry.Type] {
		if existing.key() == entry.key() {
			return ErrDuplicateListEnt
		}
	}
	e.entries[entry.Type] = append(e.entries[entry.Type], entry)
	return nil
}

// Remove deletes a TKL entry (`TKL -`) by type+ident+host.
func (e *TKLEngine) Remove(tklType byte, ident, host string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	target := (&TKLEntry{Ident: ident, Host: host}).key()
	list := e.entries[tklType]
	for i, entry := range list {
		if entry.key() == target {
			e.entries[tklType] = append(list[:i], list[i+1:]...)
			return nil
		}
	}
	return ErrTKLNotFound
}

// SweepExpired removes every entry across all types whose expiry has
// passed, returning the removed entries for a caller to broadcast/log.
func (e *TKLEngine) SweepExpired(now time.Time) []*TKLEntry {
	e.mu.Lock()
	defer e.mu.Unlock()

	var expired []*TKLEntry
	for tklType, list := range e.entries {
		kept := list[:0]
		for _, entry := range list {
			if entry.Expired(now) {
				expired = append(expired, entry)
				continue
			}
			kept = append(kept, entry)
		}
		e.entries[tklType] = kept
	}
	return expired
}

// Entries returns a snapshot of every entry of a given type.
func (e *TKLEngine) Entries(tklType byte) []*TKLEntry {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*TKLEntry, len(e.entries[tklType]))
	copy(out, e.entries[tklType])
	return out
}

// All returns a snapshot of every entry across every type, used for the
// burst's "active TKL + entries it considers global" step (§4.6).
func (e *TKLEngine) All() []*TKLEntry {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []*TKLEntry
	for _, list := range e.entries {
		out = append(out, list...)
	}
	return out
}

// Matches evaluates whether an entity is matched by any active entry of
// the given type, honouring except-line overrides (TKLExcept entries
// whose BanTypes include the queried type).
func (e *TKLEngine) Matches(entity *Entity, realHost, ident, account, certfp string, tklType byte) (*TKLEntry, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, except := range e.entries[TKLExcept] {
		if containsType(except.BanTypes, tklType) && tklMatchOne(except, realHost, ident, account, certfp) {
			return nil, false
		}
	}

	for _, entry := range e.entries[tklType] {
		if tklMatchOne(entry, realHost, ident, account, certfp) {
			return entry, true
		}
	}
	return nil, false
}

func containsType(types []byte, t byte) bool {
	for _, x := range types {
		if x == t {
			return true
		}
	}
	return false
}

func tklMatchOne(entry *TKLEntry, realHost, ident, account, certfp string) bool {
	if prefix, rest, ok := entry.isExtended(); ok {
		switch prefix {
		case "~account:":
			return matchGlob(strings.ToLower(rest), strings.ToLower(account))
		case "~certfp:":
			return strings.EqualFold(rest, certfp)
		}
		return false
	}

	return matchGlob(strings.ToLower(entry.Ident), strings.ToLower(ident)) &&
		matchGlob(strings.ToLower(entry.Host), strings.ToLower(realHost))
}
