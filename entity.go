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

// EntityKind tags the variant a *Entity currently holds. An Entity starts
// life as KindUnregistered and is promoted to exactly one of KindUser or
// KindServer once the handshake in §4.2/§4.6 completes.
type EntityKind uint8

const (
	KindUnregistered EntityKind = iota
	KindUser
	KindServer
)

func (k EntityKind) String() string {
	switch k {
	case KindUser:
		return "user"
	case KindServer:
		return "server"
	default:
		return "unregistered"
	}
}

// EntityFlag is a bitset of transient entity state.
type EntityFlag uint32

const (
	FlagRegistered EntityFlag = 1 << iota
	FlagHandshakeFinished
	FlagKilled
	FlagShunned
	FlagFloodSafe
	FlagSAJoinInProgress
)

// ModDataValue is one entry of an entity's moddata dictionary (§3): a
// string value plus whether it is synced network-wide via MD (§4.2).
type ModDataValue struct {
	Value string
	Sync  bool
}

// SWhoisEntry is one vanity "extra WHOIS line" tagged by the module/oper
// that added it.
type SWhoisEntry struct {
	Line  string
	SetBy string
}

// Remember holds the last known identity fields of an entity, used to
// restore state across operations such as a SASL re-auth or a vhost
// rollback (§3).
type Remember struct {
	CloakHost string
	Ident     string
	Nick      string
}

// UserState holds the fields that exist only when Entity.Kind == KindUser.
type UserState struct {
	Account    string // "*" if unauthenticated
	ModeBits   uint64
	OperLogin  string
	OperClass  string
	Ident      string
	RealHost   string
	CloakHost  string
	Snomask    string
	SWhois     []SWhoisEntry
	AwayReason string
}

// ServerState holds the fields that exist only when Entity.Kind == KindServer.
type ServerState struct {
	Synced   bool
	Authed   bool
	SquitFlag bool
	Link     *LinkConfig
}

// Entity is the single tagged-variant representation of a connected peer:
// a User, a Server, or an Unregistered connection still completing its
// handshake (§3, design note "Entity polymorphism"). Local entities own a
// non-nil Conn; remote entities (learned from a peer server) have a nil
// Conn and a non-self Direction.
type Entity struct {
	mu sync.RWMutex

	Kind EntityKind

	ID   string // UID or SID; empty until assigned
	Name string // nick or servername; "*" before registration

	Hopcount  int
	CreatedAt time.Time
	IdleAt    time.Time

	// Uplink is the directly-connected neighbour through which this
	// entity was learned. For local entities this is the server itself.
	Uplink *Entity
	// Direction is the local neighbour whose socket carries this
	// entity's traffic. For local entities this is the entity itself.
	Direction *Entity

	// Conn is non-nil only for local entities.
	Conn *Conn

	flags EntityFlag

	tagsOut map[string]string
	tagsIn  map[string]string

	modData map[string]ModDataValue

	Remember Remember

	User   *UserState
	Server *ServerState
}

// NewUnregisteredEntity creates a fresh Entity in the UNKNOWN state (§4.2),
// attached to the given local connection.
func NewUnregisteredEntity(conn *Conn) *Entity {
	now := time.Now()
	return &Entity{
		Kind:      KindUnregistered,
		Name:      "*",
		CreatedAt: now,
		IdleAt:    now,
		Conn:      conn,
		tagsOut:   make(map[string]string),
		tagsIn:    make(map[string]string),
		modData:   make(map[string]ModDataValue),
	}
}

// PromoteToUser converts an Unregistered entity into a User once the nick
// and username handshake has completed (§4.2). uid and direction must
// already be resolved by the caller.
func (e *Entity) PromoteToUser(uid string, uplink, direction *Entity) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.Kind = KindUser
	e.ID = uid
	e.Uplink = uplink
	e.Direction = direction
	e.User = &UserState{Account: "*"}
	e.flags |= FlagRegistered
}

// PromoteToServer converts an Unregistered (or newly dialed) entity into a
// Server peer once link negotiation completes (§4.6).
func (e *Entity) PromoteToServer(sid string, uplink, direction *Entity, link *LinkConfig) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.Kind = KindServer
	e.ID = sid
	e.Uplink = uplink
	e.Direction = direction
	e.Server = &ServerState{Link: link}
	e.flags |= FlagRegistered
}

func (e *Entity) IsLocal() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.Conn != nil
}

func (e *Entity) IsUser() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.Kind == KindUser
}

func (e *Entity) IsServer() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.Kind == KindServer
}

func (e *Entity) GetID() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ID
}

func (e *Entity) GetName() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.Name
}

func (e *Entity) SetName(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Name = name
}

// NameLower returns the case-folded form of Name used for registry lookups.
func (e *Entity) NameLower() string {
	return strings.ToLower(e.GetName())
}

func (e *Entity) HasFlag(f EntityFlag) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.flags&f == f
}

func (e *Entity) SetFlag(f EntityFlag) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.flags |= f
}

func (e *Entity) ClearFlag(f EntityFlag) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.flags &^= f
}

func (e *Entity) Touch() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.IdleAt = time.Now()
}

// SetModData sets or updates one moddata key, returning whether it changed.
func (e *Entity) SetModData(name, value string, sync bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	old, existed := e.modData[name]
	if existed && old.Value == value && old.Sync == sync {
		return false
	}
	e.modData[name] = ModDataValue{Value: value, Sync: sync}
	return true
}

func (e *Entity) GetModData(name string) (ModDataValue, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.modData[name]
	return v, ok
}

// ForEachModData iterates a snapshot of the moddata dictionary.
func (e *Entity) ForEachModData(fn func(name string, v ModDataValue)) {
	e.mu.RLock()
	snapshot := make(map[string]ModDataValue, len(e.modData))
	for k, v := range e.modData {
		snapshot[k] = v
	}
	e.mu.RUnlock()

	for k, v := range snapshot {
		fn(k, v)
	}
}

// QueueTag stages an outgoing message-tag for the next line sent as a
// consequence of this entity's current command (§4.1 step 7).
func (e *Entity) QueueTag(name, value string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tagsOut[name] = value
}

// OutgoingTags returns a snapshot of staged outgoing tags.
func (e *Entity) OutgoingTags() map[string]string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]string, len(e.tagsOut))
	for k, v := range e.tagsOut {
		out[k] = v
	}
	return out
}

// ReceivedTags returns a snapshot of the tags parsed off the client's last
// line.
func (e *Entity) ReceivedTags() map[string]string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]string, len(e.tagsIn))
	for k, v := range e.tagsIn {
		out[k] = v
	}
	return out
}

func (e *Entity) SetReceivedTags(tags map[string]string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tagsIn = tags
}

// ClearTags drops both tag buffers and the flood-safe flag, as required at
// the end of command dispatch (§4.1 step 7).
func (e *Entity) ClearTags() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tagsOut = make(map[string]string)
	e.tagsIn = make(map[string]string)
	e.flags &^= FlagFloodSafe
}

// Hostmask renders the full IRC hostmask of a user entity:
// <nick>!<ident>@<cloakhost|realhost>. Returns the bare name for
// non-user entities.
func (e *Entity) Hostmask() string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.Kind != KindUser || e.User == nil {
		return e.Name
	}

	host := e.User.RealHost
	if e.User.CloakHost != "" {
		host = e.User.CloakHost
	}

	var b strings.Builder
	b.WriteString(e.Name)
	b.WriteByte('!')
	b.WriteString(e.User.Ident)
	b.WriteByte('@')
	b.WriteString(host)
	return b.String()
}

// RealHostmask is identical to Hostmask but always uses the real,
// uncloaked host.
func (e *Entity) RealHostmask() string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.Kind != KindUser || e.User == nil {
		return e.Name
	}

	var b strings.Builder
	b.WriteString(e.Name)
	b.WriteByte('!')
	b.WriteString(e.User.Ident)
	b.WriteByte('@')
	b.WriteString(e.User.RealHost)
	return b.String()
}
