/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package dircd

import (
	"sync"
	"time"
)

// FloodCost is the penalty weight assigned to a command for the purposes
// of the per-entity flood accounting (§4.1 "Flood & penalty accounting").
// Commands not listed here fall back to DefaultFloodCost.
var FloodCost = map[string]int64{
	CmdPrivMsg: 1,
	CmdNotice:  1,
	CmdJoin:    3,
	CmdPart:    1,
	CmdTopic:   2,
	CmdMode:    2,
	CmdNick:    2,
	CmdWhois:   2,
	CmdWho:     1,
	CmdList:    1,
	CmdOper:    2,
}

// DefaultFloodCost is charged to any command not present in FloodCost.
const DefaultFloodCost int64 = 1

// PenaltyMeter tracks one connection's accumulated penalty units,
// decaying back toward zero over PenaltyDecayWindowSeconds of inactivity
// (§4.1). Grounded on the heartbeat/timer idiom already used for PING
// liveness in connection.go, generalized into its own accounting type.
type PenaltyMeter struct {
	mu        sync.Mutex
	penalty   int64
	lastAdded time.Time
	limit     int64
}

// NewPenaltyMeter returns a meter ceilinged at limit (PenaltyLimitUser or
// PenaltyLimitOper depending on the entity's privilege).
func NewPenaltyMeter(limit int64) *PenaltyMeter {
	return &PenaltyMeter{limit: limit, lastAdded: time.Now()}
}

// Charge applies the flood cost for a command, first decaying any penalty
// accrued since the last charge. Returns false if the command would push
// the meter over its limit, in which case the caller should throttle or
// drop the connection rather than apply the charge.
func (p *PenaltyMeter) Charge(now time.Time, command string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.decayLocked(now)

	cost, ok := FloodCost[command]
	if !ok {
		cost = DefaultFloodCost
	}

	if p.penalty+cost > p.limit {
		return false
	}

	p.penalty += cost
	p.lastAdded = now
	return true
}

// decayLocked resets the accumulated penalty to zero once a full decay
// window has elapsed with no additions (§4.1: "decays back to zero").
func (p *PenaltyMeter) decayLocked(now time.Time) {
	if now.Sub(p.lastAdded) >= time.Duration(PenaltyDecayWindowSeconds)*time.Second {
		p.penalty = 0
	}
}

// Current returns the meter's present penalty value.
func (p *PenaltyMeter) Current() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.penalty
}

// SetLimit adjusts the ceiling, e.g. when an entity gains operator
// privileges mid-connection (user limit -> oper limit).
func (p *PenaltyMeter) SetLimit(limit int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.limit = limit
}

// BufferAccount tracks recvq/sendq byte usage and buffered-command counts
// for one connection, aging entries out after BufferAgeSeconds (§4.1).
type BufferAccount struct {
	mu          sync.Mutex
	recvqLimit  int64
	sendqLimit  int64
	recvqBytes  int64
	sendqBytes  int64
	bufferedCmd int
	lastSeen    time.Time
}

// NewBufferAccount returns an account bounded by the given recvq/sendq
// byte ceilings, e.g. from a connection class (§4.1's class.recvq).
func NewBufferAccount(recvqLimit, sendqLimit int64) *BufferAccount {
	return &BufferAccount{recvqLimit: recvqLimit, sendqLimit: sendqLimit, lastSeen: time.Now()}
}

// MaxBufferedCommands derives the buffered-command ceiling from the
// recvq limit, per BufferCmdDivisor.
func (b *BufferAccount) MaxBufferedCommands() int {
	return int(b.recvqLimit / BufferCmdDivisor)
}

// AddRecv records incoming bytes, aging out prior accounting once
// BufferAgeSeconds has passed, and reports whether the connection is
// still within both the recvq limit and the buffered-command ceiling
// (false once either is exceeded).
func (b *BufferAccount) AddRecv(now time.Time, n int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.ageLocked(now)
	b.recvqBytes += n
	b.bufferedCmd++
	return b.recvqBytes <= b.recvqLimit && b.bufferedCmd <= b.MaxBufferedCommands()
}

// AddSend records outgoing bytes queued for this connection, reporting
// whether the connection is still within the sendq limit (false once it
// is exceeded).
func (b *BufferAccount) AddSend(now time.Time, n int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.ageLocked(now)
	b.sendqBytes += n
	return b.sendqBytes <= b.sendqLimit
}

func (b *BufferAccount) ageLocked(now time.Time) {
	if now.Sub(b.lastSeen) >= time.Duration(BufferAgeSeconds)*time.Second {
		b.recvqBytes = 0
		b.sendqBytes = 0
		b.bufferedCmd = 0
	}
	b.lastSeen = now
}
