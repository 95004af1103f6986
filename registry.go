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
)

// Registry is the process-wide directory of connected entities (§2.1),
// keyed by both the stable network-wide identifier (UID/SID) and the
// human-readable display name (nick/servername), the latter case-folded.
type Registry struct {
	mu     sync.RWMutex
	byID   map[string]*Entity
	byName map[string]*Entity
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:   make(map[string]*Entity),
		byName: make(map[string]*Entity),
	}
}

// ReserveName stakes a claim on a display name before an entity has
// completed registration (used by NICK to win the race for a nickname
// before a UID is assigned). Returns ErrDuplicateName if already taken.
func (r *Registry) ReserveName(name string, e *Entity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := strings.ToLower(name)
	if existing, ok := r.byName[key]; ok && existing != e {
		return ErrDuplicateName
	}
	r.byName[key] = e
	return nil
}

// ReleaseName drops a previously reserved name, e.g. after a failed
// handshake or prior to a nick change.
func (r *Registry) ReleaseName(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byName, strings.ToLower(name))
}

// Register adds a fully-identified entity (UID/SID assigned) to both
// indices. Returns ErrDuplicateUID/ErrDuplicateSID/ErrDuplicateName if any
// collide with a different entity.
func (r *Registry) Register(e *Entity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := e.GetID()
	if id == "" {
		return ErrEntityNotFound
	}

	if existing, ok := r.byID[id]; ok && existing != e {
		if e.IsServer() {
			return ErrDuplicateSID
		}
		return ErrDuplicateUID
	}

	key := e.NameLower()
	if existing, ok := r.byName[key]; ok && existing != e {
		return ErrDuplicateName
	}

	r.byID[id] = e
	r.byName[key] = e
	return nil
}

// Rename moves an entity's name-index entry, used for NICK changes and
// (rarely) server renames. The caller must have already set e.Name.
func (r *Registry) Rename(e *Entity, oldName, newName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	oldKey := strings.ToLower(oldName)
	newKey := strings.ToLower(newName)

	if existing, ok := r.byName[newKey]; ok && existing != e {
		return ErrDuplicateName
	}

	delete(r.byName, oldKey)
	r.byName[newKey] = e
	return nil
}

// Remove deletes an entity from both indices. Idempotent.
func (r *Registry) Remove(e *Entity) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id := e.GetID(); id != "" {
		if cur, ok := r.byID[id]; ok && cur == e {
			delete(r.byID, id)
		}
	}

	key := e.NameLower()
	if cur, ok := r.byName[key]; ok && cur == e {
		delete(r.byName, key)
	}
}

// ByID looks up an entity by its UID/SID, exact-case.
func (r *Registry) ByID(id string) (*Entity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byID[id]
	return e, ok
}

// ByName looks up an entity by nick/servername, case-insensitively.
func (r *Registry) ByName(name string) (*Entity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byName[strings.ToLower(name)]
	return e, ok
}

// Lookup resolves a wire-format source token, trying the ID index first
// (UIDs/SIDs never collide with nicknames in practice because of the
// allocator's fixed shape) and falling back to the name index.
func (r *Registry) Lookup(token string) (*Entity, bool) {
	if e, ok := r.ByID(token); ok {
		return e, true
	}
	return r.ByName(token)
}

// NameExists reports whether a nick/servername is currently claimed,
// either by reservation or full registration.
func (r *Registry) NameExists(name string) bool {
	_, ok := r.ByName(name)
	return ok
}

// Snapshot returns a defensive copy of all registered entities. Callers
// that mutate the registry while iterating (e.g. SQUIT cascade removing
// dependents) must iterate a snapshot, never the live maps (§9 design
// note on copying Client.table before mutation).
func (r *Registry) Snapshot() []*Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[*Entity]struct{}, len(r.byID))
	out := make([]*Entity, 0, len(r.byID))
	for _, e := range r.byID {
		if _, dup := seen[e]; dup {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	return out
}

// Users returns a snapshot of every entity currently tagged KindUser.
func (r *Registry) Users() []*Entity {
	all := r.Snapshot()
	out := make([]*Entity, 0, len(all))
	for _, e := range all {
		if e.IsUser() {
			out = append(out, e)
		}
	}
	return out
}

// Servers returns a snapshot of every entity currently tagged KindServer.
func (r *Registry) Servers() []*Entity {
	all := r.Snapshot()
	out := make([]*Entity, 0, len(all))
	for _, e := range all {
		if e.IsServer() {
			out = append(out, e)
		}
	}
	return out
}

// LocalServers returns a snapshot of server peers directly connected to
// this process (Direction == the peer itself, Conn != nil).
func (r *Registry) LocalServers() []*Entity {
	servers := r.Servers()
	out := make([]*Entity, 0, len(servers))
	for _, e := range servers {
		if e.IsLocal() {
			out = append(out, e)
		}
	}
	return out
}

// DependentsOf returns every entity whose (possibly transitive, but here
// evaluated one hop at a time by the caller's cascade loop) Uplink is the
// given entity — used by SQUIT cascade (§4.6) and KILL cleanup.
func (r *Registry) DependentsOf(uplink *Entity) []*Entity {
	all := r.Snapshot()
	out := make([]*Entity, 0)
	for _, e := range all {
		if e.Uplink == uplink {
			out = append(out, e)
		}
	}
	return out
}

// Length returns the total number of distinct registered entities.
func (r *Registry) Length() int {
	return len(r.Snapshot())
}
