/*
   Copyright (c) 2020, btnmasher
   All rights reserved.

   Redistribution and use in source and binary forms, with or without modification, are permitted provided that
   the following conditions are met:

   1. Redistributions of source code must retain the above copyright notice, this list of conditions and the
      following disclaimer.

   2. Redistributions in binary form must reproduce the above copyright notice, this list of conditions and
      the following disclaimer in the documentation and/or other materials provided with the distribution.

   3. Neither the name of the copyright holder nor the names of its contributors may be used to endorse or
      promote products derived from this software without specific prior written permission.

   THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND CONTRIBUTORS "AS IS" AND ANY EXPRESS OR IMPLIED
   WARRANTIES, INCLUDING, BUT NOT LIMITED TO, THE IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS FOR A
   PARTICULAR PURPOSE ARE DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR CONTRIBUTORS BE LIABLE FOR
   ANY DIRECT, INDIRECT, INCIDENTAL, SPECIAL, EXEMPLARY, OR CONSEQUENTIAL DAMAGES (INCLUDING, BUT NOT LIMITED
   TO, PROCUREMENT OF SUBSTITUTE GOODS OR SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS INTERRUPTION)
   HOWEVER CAUSED AND ON ANY THEORY OF LIABILITY, WHETHER IN CONTRACT, STRICT LIABILITY, OR TORT (INCLUDING
   NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE OF THIS SOFTWARE, EVEN IF ADVISED OF THE
   POSSIBILITY OF SUCH DAMAGE.
*/

package dircd

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// ListEntry is one mask stored on a channel listmode set (ban/exempt/invex),
// per §3 "ListEntry{mask, set_by, set_time}".
type ListEntry struct {
	Mask  string
	SetBy string
	SetAt time.Time
}

// Invite records an overriding or ordinary invitation extended to a UID.
type Invite struct {
	Override bool
	SetAt    time.Time
}

// Channel represents a federated IRC channel: members keyed by UID,
// parameterised/listmode state, invites, topic, and a per-viewer
// visibility map (§3 "Channel"). Grounded on the teacher's channel.go
// structure and accessor style, generalized from a Nicks/Ops/HalfOps/
// Voiced quadruple of UserMaps to a single rank-tagged member map so
// remote (non-local) entities can be members too.
type Channel struct {
	mu sync.RWMutex

	name string

	createdAt       time.Time
	remoteCreatedAt time.Time

	topic       string
	topicAuthor string
	topicAt     time.Time

	plainModes map[byte]bool
	params     map[byte]string

	members   map[string]*ChannelMember // keyed by Entity UID
	listmodes map[byte][]*ListEntry     // keyed by listmode flag
	invites   map[string]Invite         // keyed by invitee UID

	// seen[viewer UID][member UID] records whether viewer has already
	// observed member (§4.3 "Visibility").
	seen map[string]map[string]bool

	chanModes *ChanModeRegistry
	extbans   *ExtbanRegistry
}

// NewChannel creates an empty channel with the given name and creation
// timestamp, wired to the server's mode/extban registries.
func NewChannel(name string, createdAt time.Time, chanModes *ChanModeRegistry, extbans *ExtbanRegistry) *Channel {
	return &Channel{
		name:       name,
		createdAt:  createdAt,
		plainModes: make(map[byte]bool),
		params:     make(map[byte]string),
		members:    make(map[string]*ChannelMember),
		listmodes:  make(map[byte][]*ListEntry),
		invites:    make(map[string]Invite),
		seen:       make(map[string]map[string]bool),
		chanModes:  chanModes,
		extbans:    extbans,
	}
}

func (ch *Channel) Name() string {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return ch.name
}

func (ch *Channel) CreatedAt() time.Time {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return ch.createdAt
}

func (ch *Channel) Topic() string {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return ch.topic
}

func (ch *Channel) SetTopic(topic, author string, at time.Time) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.topic = topic
	ch.topicAuthor = author
	ch.topicAt = at
}

func (ch *Channel) TopicAuthor() string {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return ch.topicAuthor
}

// HasMode reports whether a plain or parameterised flag is currently set.
func (ch *Channel) HasMode(flag byte) bool {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	if ch.plainModes[flag] {
		return true
	}
	_, ok := ch.params[flag]
	return ok
}

// Param returns a parameterised mode's current value.
func (ch *Channel) Param(flag byte) (string, bool) {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	v, ok := ch.params[flag]
	return v, ok
}

// ModeString renders the letters of every set channel mode, plain and
// parameterised, without the parameter values, e.g. "+klnt".
func (ch *Channel) ModeString() string {
	ch.mu.RLock()
	defer ch.mu.RUnlock()

	var flags []byte
	for f := range ch.plainModes {
		flags = append(flags, f)
	}
	for f := range ch.params {
		flags = append(flags, f)
	}
	sort.Slice(flags, func(i, j int) bool { return flags[i] < flags[j] })

	var b strings.Builder
	b.WriteByte('+')
	for _, f := range flags {
		b.WriteByte(f)
	}
	return b.String()
}

// ParamModeString renders the channel's parameterised modes as a MODE
// line argument, e.g. "+kl secret 50", for use when bursting state to a
// newly linked neighbour (§4.6 "MODE for parameter modes"). Returns ""
// if no parameterised mode is set.
func (ch *Channel) ParamModeString() string {
	ch.mu.RLock()
	defer ch.mu.RUnlock()

	if len(ch.params) == 0 {
		return ""
	}

	var flags []byte
	for f := range ch.params {
		flags = append(flags, f)
	}
	sort.Slice(flags, func(i, j int) bool { return flags[i] < flags[j] })

	var b strings.Builder
	b.WriteByte('+')
	for _, f := range flags {
		b.WriteByte(f)
	}
	for _, f := range flags {
		b.WriteByte(' ')
		b.WriteString(ch.params[f])
	}
	return b.String()
}

// applyPlain toggles a bare flag.
func (ch *Channel) applyPlain(flag byte, set bool) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if set {
		ch.plainModes[flag] = true
	} else {
		delete(ch.plainModes, flag)
	}
}

// applyParam sets or clears a parameterised mode's value.
func (ch *Channel) applyParam(flag byte, value string, set bool) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if set {
		ch.params[flag] = value
	} else {
		delete(ch.params, flag)
	}
}

// MemberRank returns the rank of the given entity on this channel, or 0
// if not a member (used by ChannelMode.MaySet predicates).
func (ch *Channel) MemberRank(e *Entity) int {
	if e == nil {
		return 0
	}
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	m, ok := ch.members[e.GetID()]
	if !ok {
		return 0
	}
	return m.Rank()
}

// AddMember registers an entity as a member with the given initial status
// modes (empty string for an ordinary join).
func (ch *Channel) AddMember(e *Entity, status string) *ChannelMember {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	m := &ChannelMember{Entity: e, Status: status, JoinedAt: time.Now()}
	ch.members[e.GetID()] = m
	return m
}

// RemoveMember drops an entity's membership. Returns the remaining count.
func (ch *Channel) RemoveMember(e *Entity) int {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	delete(ch.members, e.GetID())
	delete(ch.seen, e.GetID())
	for viewer := range ch.seen {
		delete(ch.seen[viewer], e.GetID())
	}
	return len(ch.members)
}

func (ch *Channel) Member(e *Entity) (*ChannelMember, bool) {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	m, ok := ch.members[e.GetID()]
	return m, ok
}

// MemberCount satisfies testable property #2 (§8): membercount == |members|.
func (ch *Channel) MemberCount() int {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return len(ch.members)
}

// Members returns a snapshot of the current membership, safe to range
// over while the caller (or a concurrent handler) mutates the channel.
func (ch *Channel) Members() []*ChannelMember {
	ch.mu.RLock()
	defer ch.mu.RUnlock()

	out := make([]*ChannelMember, 0, len(ch.members))
	for _, m := range ch.members {
		out = append(out, m)
	}
	return out
}

// HasSeen reports whether viewer has already observed member joining,
// per the visibility map (§4.3, testable property #3).
func (ch *Channel) HasSeen(viewer, member *Entity) bool {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return ch.seen[viewer.GetID()][member.GetID()]
}

// MarkSeen records that viewer has now observed member.
func (ch *Channel) MarkSeen(viewer, member *Entity) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.seen[viewer.GetID()] == nil {
		ch.seen[viewer.GetID()] = make(map[string]bool)
	}
	ch.seen[viewer.GetID()][member.GetID()] = true
}

// Viewers returns every current member, used as the default visibility
// fan-out set for JOIN/PART/QUIT/MODE broadcasts.
func (ch *Channel) Viewers() []*Entity {
	members := ch.Members()
	out := make([]*Entity, 0, len(members))
	for _, m := range members {
		out = append(out, m.Entity)
	}
	return out
}

// AddInvite records an invitation for a UID; override invites bypass
// +i/+k/+l and similar CAN_JOIN checks (§4.3).
func (ch *Channel) AddInvite(uid string, override bool) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.invites[uid] = Invite{Override: override, SetAt: time.Now()}
}

// ConsumeInvite removes a one-shot invite and reports whether one existed.
func (ch *Channel) ConsumeInvite(uid string) (Invite, bool) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	inv, ok := ch.invites[uid]
	if ok {
		delete(ch.invites, uid)
	}
	return inv, ok
}

// AddListEntry adds a mask to a listmode set (ban/exempt/invex). Returns
// ErrDuplicateListEnt if the (possibly extban-normalised) mask is already
// present, satisfying testable property #9 (uniqueness per flag).
func (ch *Channel) AddListEntry(flag byte, mask, setBy string) error {
	mask = normalizeMask(mask, ch.extbans)

	ch.mu.Lock()
	defer ch.mu.Unlock()

	for _, e := range ch.listmodes[flag] {
		if e.Mask == mask {
			return ErrDuplicateListEnt
		}
	}
	ch.listmodes[flag] = append(ch.listmodes[flag], &ListEntry{Mask: mask, SetBy: setBy, SetAt: time.Now()})
	return nil
}

// RemoveListEntry removes a mask from a listmode set.
func (ch *Channel) RemoveListEntry(flag byte, mask string) error {
	mask = normalizeMask(mask, ch.extbans)

	ch.mu.Lock()
	defer ch.mu.Unlock()

	entries := ch.listmodes[flag]
	for i, e := range entries {
		if e.Mask == mask {
			ch.listmodes[flag] = append(entries[:i], entries[i+1:]...)
			return nil
		}
	}
	return ErrNoSuchListEntry
}

// ListEntries returns a snapshot of a listmode's entries.
func (ch *Channel) ListEntries(flag byte) []*ListEntry {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	out := make([]*ListEntry, len(ch.listmodes[flag]))
	copy(out, ch.listmodes[flag])
	return out
}

// normalizeMask upgrades bare nick/user/host wildcards to nick!user@host
// shape and renders extbans in their long-name form (§4.3).
func normalizeMask(mask string, extbans *ExtbanRegistry) string {
	if extbans != nil && IsExtbanMask(mask) {
		return extbans.Normalize(mask)
	}
	if strings.Contains(mask, "!") && strings.Contains(mask, "@") {
		return mask
	}
	if !strings.Contains(mask, "@") {
		return mask + "!*@*"
	}
	if !strings.Contains(mask, "!") {
		return "*!" + mask
	}
	return mask
}

// CheckMatch evaluates whether an entity matches any entry of the given
// listmode flag, checking the literal hostmask forms built by
// buildHostmaskForms plus extban delegation (§4.3 "Bans").
func (ch *Channel) CheckMatch(e *Entity, flag byte) bool {
	forms := buildHostmaskForms(e)

	entries := ch.ListEntries(flag)
	for _, entry := range entries {
		if IsExtbanMask(entry.Mask) {
			if ch.extbans != nil && ch.extbans.Match(entry.Mask, e, ch) {
				return true
			}
			continue
		}
		for _, form := range forms {
			if matchGlob(strings.ToLower(entry.Mask), strings.ToLower(form)) {
				return true
			}
		}
	}
	return false
}

// IsBanned reports whether a client is banned and not exempted (§4.3).
func (ch *Channel) IsBanned(e *Entity) bool {
	return ch.CheckMatch(e, 'b') && !ch.CheckMatch(e, 'e')
}

// CanJoin evaluates the join preconditions in priority order: overriding
// invite, operator override, then +i/+k/+l-style CAN_JOIN hooks. It
// returns the first blocking numeric, or 0 on success (§4.3 "Join"). A
// pending invite is consumed when the join is allowed through it.
func (ch *Channel) CanJoin(e *Entity, key string, isOper bool, hooks *HookBus) uint16 {
	ch.mu.RLock()
	inv, invited := ch.invites[e.GetID()]
	ch.mu.RUnlock()
	if invited && inv.Override {
		ch.ConsumeInvite(e.GetID())
		return 0
	}
	if isOper {
		return 0
	}

	if ch.HasMode('i') {
		if !invited {
			if hooks == nil || hooks.Fire(HookCanJoin, e, ch) != HookAllow {
				return ReplyInviteOnlyChan
			}
		}
	}

	if configuredKey, ok := ch.Param('k'); ok && configuredKey != "" && configuredKey != key {
		return ReplyBadChannelPass
	}

	if limitStr, ok := ch.Param('l'); ok {
		if limit := parseLimit(limitStr); limit > 0 && ch.MemberCount() >= limit {
			return ReplyChannelIsFull
		}
	}

	if ch.IsBanned(e) {
		if !ch.CheckMatch(e, 'I') {
			return ReplyBannedFromChan
		}
	}

	if hooks != nil {
		if result := hooks.Fire(HookCanJoin, e, ch); result == HookDeny {
			return ReplyBannedFromChan
		}
	}

	if invited {
		ch.ConsumeInvite(e.GetID())
	}
	return 0
}

func parseLimit(s string) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int(r-'0')
	}
	return n
}

// ResolveSJoin applies the timestamp-collision rule of §4.3 when a remote
// SJOIN is received for a channel this server already knows about. It
// mutates local mode/listmode state per the winning side and reports
// whether the remote side's status-mode prefixes should be honoured.
func (ch *Channel) ResolveSJoin(remoteTS time.Time) (remoteWins bool) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	local := ch.createdAt

	switch {
	case remoteTS.Before(local):
		// Remote is older: adopt its timestamp, drop locally-set
		// non-prefix modes/listmode entries added after remoteTS.
		ch.createdAt = remoteTS
		for flag := range ch.plainModes {
			delete(ch.plainModes, flag)
		}
		for flag := range ch.params {
			delete(ch.params, flag)
		}
		for flag, entries := range ch.listmodes {
			kept := entries[:0]
			for _, e := range entries {
				if e.SetAt.Before(remoteTS) || e.SetAt.Equal(remoteTS) {
					kept = append(kept, e)
				}
			}
			ch.listmodes[flag] = kept
		}
		return true
	case remoteTS.After(local):
		// Local is older and authoritative: ignore remote non-status modes.
		return false
	default:
		// Equal: union taken by the caller (listmode/member merge uses
		// deterministic tie-breaks - lexicographic mask, higher rank wins).
		return true
	}
}
