/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package dircd

import (
	"strings"
	"time"
)

// memberRank orders the channel's status-prefix modes from lowest to
// highest, mirroring PREFIX=(qaohv)~&@%+ (§4.4).
var memberRank = map[byte]int{
	'v': 1,
	'h': 2,
	'o': 3,
	'a': 4,
	'q': 5,
}

var memberPrefix = map[byte]byte{
	'v': '+',
	'h': '%',
	'o': '@',
	'a': '&',
	'q': '~',
}

// ChannelMember is one entity's membership record on a Channel (§3).
type ChannelMember struct {
	Entity   *Entity
	Status   string // subset of "qaohv", highest rank last-added wins ties
	JoinedAt time.Time
}

// HasStatus reports whether the member currently holds the given status flag.
func (m *ChannelMember) HasStatus(flag byte) bool {
	return strings.IndexByte(m.Status, flag) >= 0
}

// AddStatus idempotently adds a status flag.
func (m *ChannelMember) AddStatus(flag byte) {
	if m.HasStatus(flag) {
		return
	}
	m.Status += string(flag)
}

// RemoveStatus removes a status flag if present.
func (m *ChannelMember) RemoveStatus(flag byte) {
	if !m.HasStatus(flag) {
		return
	}
	m.Status = strings.Replace(m.Status, string(flag), "", 1)
}

// Rank returns the member's highest-ranked status mode's numeric rank, or
// 0 if the member holds no status modes.
func (m *ChannelMember) Rank() int {
	best := 0
	for i := 0; i < len(m.Status); i++ {
		if r := memberRank[m.Status[i]]; r > best {
			best = r
		}
	}
	return best
}

// Prefix renders the highest-ranked status mode's display prefix
// character (e.g. '@' for 'o'), or 0 if none.
func (m *ChannelMember) Prefix() byte {
	var best byte
	bestRank := 0
	for i := 0; i < len(m.Status); i++ {
		flag := m.Status[i]
		if r := memberRank[flag]; r > bestRank {
			bestRank = r
			best = memberPrefix[flag]
		}
	}
	return best
}
