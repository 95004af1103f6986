/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package dircd

import (
	"sort"
	"strings"
	"sync"
)

// ChanModeKind tags the shape of a registered ChannelMode (§3/§4.4).
type ChanModeKind uint8

const (
	ChanModeMember    ChanModeKind = iota // status/prefix mode: q a o h v
	ChanModeListmode                      // parameterised set of masks: b e I
	ChanModeParamSet                      // parameter required on set only: k
	ChanModeParamBoth                     // parameter required on set and unset: l
	ChanModePlain                         // bare toggle: n t s
)

// ChannelMode is a registered channel mode descriptor (§3 "Mode descriptors").
type ChannelMode struct {
	Flag           byte
	Prefix         byte // display prefix char for ChanModeMember, else 0
	Rank           int  // member rank for ChanModeMember, else 0
	Kind           ChanModeKind
	IsGlobal       bool
	MaySet         func(setter *Entity, ch *Channel) bool
	Normalize      func(param string) (string, bool)
	Description    string
}

// ChanModeRegistry holds every registered ChannelMode, keyed by flag char.
// Grounded on usermode.go's map-of-descriptors idiom, generalized from a
// static bitmask table to a registry so new modes self-register (§4.4).
type ChanModeRegistry struct {
	mu    sync.RWMutex
	modes map[byte]*ChannelMode
}

// NewChanModeRegistry builds a registry pre-seeded with the standard modes.
func NewChanModeRegistry() *ChanModeRegistry {
	r := &ChanModeRegistry{modes: make(map[byte]*ChannelMode)}

	opMaySet := func(setter *Entity, ch *Channel) bool {
		return ch.MemberRank(setter) >= memberRank['o'] || (setter != nil && setter.IsServer())
	}

	r.mustRegister(&ChannelMode{Flag: 'q', Prefix: '~', Rank: memberRank['q'], Kind: ChanModeMember, IsGlobal: true, MaySet: opMaySet, Description: "channel owner"})
	r.mustRegister(&ChannelMode{Flag: 'a', Prefix: '&', Rank: memberRank['a'], Kind: ChanModeMember, IsGlobal: true, MaySet: opMaySet, Description: "channel admin"})
	r.mustRegister(&ChannelMode{Flag: 'o', Prefix: '@', Rank: memberRank['o'], Kind: ChanModeMember, IsGlobal: true, MaySet: opMaySet, Description: "channel operator"})
	r.mustRegister(&ChannelMode{Flag: 'h', Prefix: '%', Rank: memberRank['h'], Kind: ChanModeMember, IsGlobal: true, MaySet: opMaySet, Description: "half operator"})
	r.mustRegister(&ChannelMode{Flag: 'v', Prefix: '+', Rank: memberRank['v'], Kind: ChanModeMember, IsGlobal: true, MaySet: opMaySet, Description: "voice"})

	r.mustRegister(&ChannelMode{Flag: 'b', Kind: ChanModeListmode, IsGlobal: true, MaySet: opMaySet, Description: "ban mask"})
	r.mustRegister(&ChannelMode{Flag: 'e', Kind: ChanModeListmode, IsGlobal: true, MaySet: opMaySet, Description: "ban exempt mask"})
	r.mustRegister(&ChannelMode{Flag: 'I', Kind: ChanModeListmode, IsGlobal: true, MaySet: opMaySet, Description: "invite exempt mask"})

	r.mustRegister(&ChannelMode{Flag: 'k', Kind: ChanModeParamSet, IsGlobal: true, MaySet: opMaySet, Normalize: normalizeKey, Description: "channel key"})
	r.mustRegister(&ChannelMode{Flag: 'l', Kind: ChanModeParamBoth, IsGlobal: true, MaySet: opMaySet, Normalize: normalizeLimit, Description: "user limit"})

	r.mustRegister(&ChannelMode{Flag: 'n', Kind: ChanModePlain, IsGlobal: true, MaySet: opMaySet, Description: "no external messages"})
	r.mustRegister(&ChannelMode{Flag: 't', Kind: ChanModePlain, IsGlobal: true, MaySet: opMaySet, Description: "topic protection"})
	r.mustRegister(&ChannelMode{Flag: 's', Kind: ChanModePlain, IsGlobal: true, MaySet: opMaySet, Description: "secret"})
	r.mustRegister(&ChannelMode{Flag: 'i', Kind: ChanModePlain, IsGlobal: true, MaySet: opMaySet, Description: "invite only"})
	r.mustRegister(&ChannelMode{Flag: 'm', Kind: ChanModePlain, IsGlobal: true, MaySet: opMaySet, Description: "moderated"})
	r.mustRegister(&ChannelMode{Flag: 'r', Kind: ChanModePlain, IsGlobal: true, MaySet: opMaySet, Description: "registered users only"})
	r.mustRegister(&ChannelMode{Flag: 'O', Kind: ChanModePlain, IsGlobal: true, MaySet: opMaySet, Description: "oper only"})
	r.mustRegister(&ChannelMode{Flag: 'S', Kind: ChanModePlain, IsGlobal: true, MaySet: opMaySet, Description: "TLS only"})
	r.mustRegister(&ChannelMode{Flag: 'V', Kind: ChanModePlain, IsGlobal: true, MaySet: opMaySet, Description: "no invite"})

	return r
}

func normalizeKey(param string) (string, bool) {
	if param == "" || strings.ContainsAny(param, " ,:") {
		return "", false
	}
	return param, true
}

func normalizeLimit(param string) (string, bool) {
	if param == "" {
		return "", false
	}
	for _, r := range param {
		if r < '0' || r > '9' {
			return "", false
		}
	}
	return param, true
}

func (r *ChanModeRegistry) mustRegister(m *ChannelMode) {
	if err := r.Register(m); err != nil {
		panic(err)
	}
}

// Register adds a mode descriptor; duplicate flags are a hard error (§4.4).
func (r *ChanModeRegistry) Register(m *ChannelMode) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.modes[m.Flag]; exists {
		return ErrDuplicateModeFlag
	}
	r.modes[m.Flag] = m
	return nil
}

// Lookup returns the descriptor for a flag char, if registered.
func (r *ChanModeRegistry) Lookup(flag byte) (*ChannelMode, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.modes[flag]
	return m, ok
}

// ISupportChanmodes renders the CHANMODES=<list>,<paramboth>,<paramset>,<plain>
// ISUPPORT token (§4.4).
func (r *ChanModeRegistry) ISupportChanmodes() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var list, both, set, plain []byte
	for flag, m := range r.modes {
		switch m.Kind {
		case ChanModeListmode:
			list = append(list, flag)
		case ChanModeParamBoth:
			both = append(both, flag)
		case ChanModeParamSet:
			set = append(set, flag)
		case ChanModePlain:
			plain = append(plain, flag)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i] < list[j] })
	sort.Slice(both, func(i, j int) bool { return both[i] < both[j] })
	sort.Slice(set, func(i, j int) bool { return set[i] < set[j] })
	sort.Slice(plain, func(i, j int) bool { return plain[i] < plain[j] })

	return string(list) + "," + string(both) + "," + string(set) + "," + string(plain)
}

// ISupportPrefix renders the PREFIX=(qaohv)~&@%+ token, ranks descending.
func (r *ChanModeRegistry) ISupportPrefix() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	type entry struct {
		flag, prefix byte
		rank         int
	}
	var members []entry
	for flag, m := range r.modes {
		if m.Kind == ChanModeMember {
			members = append(members, entry{flag, m.Prefix, m.Rank})
		}
	}
	sort.Slice(members, func(i, j int) bool { return members[i].rank > members[j].rank })

	flags := make([]byte, len(members))
	prefixes := make([]byte, len(members))
	for i, e := range members {
		flags[i] = e.flag
		prefixes[i] = e.prefix
	}
	return "(" + string(flags) + ")" + string(prefixes)
}
