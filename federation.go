/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package dircd

import "sync"

// queuedSend is one message parked for a neighbour still completing its
// burst (§4.6 "send_after_eos preserves per-destination FIFO").
type queuedSend struct {
	msg  *Message
	tags map[string]string
}

// Federation is the process-wide link router: propagation helpers,
// burst back-pressure bookkeeping, and SQUIT/KILL cascades (§4.6).
// Grounded on channel.go's Send fan-out idiom (exclude-one broadcast),
// generalized to the server graph and the burst-aware queueing rules.
type Federation struct {
	mu sync.Mutex

	reg     *Registry
	hooks   *HookBus
	batches *BatchEngine

	// bursting holds server Entities currently sending us their burst;
	// other servers' inbound lines are parked via ParkLine while any
	// entry is present (§4.1 back-pressure, §4.6 "parks other servers'
	// inbound lines").
	bursting map[*Entity]bool

	// sendAfterEOS queues outbound traffic destined for a neighbour
	// that is itself still bursting toward us, flushed once that
	// neighbour's EOS arrives.
	sendAfterEOS map[*Entity][]queuedSend

	// processAfterEOS holds raw inbound lines from servers other than
	// the one currently bursting, replayed in FIFO order once that
	// burst's EOS is read.
	processAfterEOS []parkedLine
}

type parkedLine struct {
	from *Entity
	line string
}

// NewFederation returns an empty federation router.
func NewFederation(reg *Registry, hooks *HookBus, batches *BatchEngine) *Federation {
	return &Federation{
		reg:          reg,
		hooks:        hooks,
		batches:      batches,
		bursting:     make(map[*Entity]bool),
		sendAfterEOS: make(map[*Entity][]queuedSend),
	}
}

// BeginBurst marks a neighbour as currently sending its burst to us.
func (f *Federation) BeginBurst(server *Entity) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bursting[server] = true
}

// IsBursting reports whether any neighbour currently has an open burst.
func (f *Federation) IsBursting() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.bursting) > 0
}

// ParkLine queues a raw inbound line from a server other than the one
// presently bursting (§4.1 back-pressure). Returns false if no burst is
// in progress, meaning the caller should process the line immediately
// instead of parking it.
func (f *Federation) ParkLine(from *Entity, line string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.bursting) == 0 {
		return false
	}
	f.processAfterEOS = append(f.processAfterEOS, parkedLine{from: from, line: line})
	return true
}

// EndBurst clears a neighbour's bursting flag, fires SERVER_SYNCED, and
// returns the parked lines/queued sends to replay, in order (§4.6).
func (f *Federation) EndBurst(server *Entity) (lines []string, flushed []queuedSend) {
	f.mu.Lock()
	delete(f.bursting, server)
	stillBursting := len(f.bursting) > 0

	var parked []parkedLine
	if !stillBursting {
		parked = f.processAfterEOS
		f.processAfterEOS = nil
	}

	queued := f.sendAfterEOS[server]
	delete(f.sendAfterEOS, server)
	f.mu.Unlock()

	if f.hooks != nil {
		f.hooks.Fire(HookServerSynced, server)
	}

	for _, p := range parked {
		lines = append(lines, p.line)
	}
	return lines, queued
}

// SendToOneServer routes a message toward origin: on-socket if origin is
// local, otherwise relayed via origin's Direction neighbour (§4.6).
func (f *Federation) SendToOneServer(origin *Entity, msg *Message, tags map[string]string) {
	if origin == nil {
		return
	}

	target := origin
	if !origin.IsLocal() {
		target = origin.Direction
	}
	if target == nil {
		return
	}

	conn := target.Conn
	if conn == nil {
		return
	}

	msg.Tags = tags
	conn.Write(msg.RenderBuffer())
}

// SendToServers fans a message out to every local server neighbour
// except origin.Direction, queuing it for any neighbour still mid-burst
// so ordering is preserved once that neighbour's EOS arrives (§4.6).
func (f *Federation) SendToServers(origin *Entity, tags map[string]string, msg *Message) {
	if f.reg == nil {
		return
	}

	var exclude *Entity
	if origin != nil {
		exclude = origin.Direction
	}

	for _, neighbour := range f.reg.LocalServers() {
		if neighbour == exclude {
			continue
		}

		f.mu.Lock()
		busy := f.bursting[neighbour]
		if busy {
			f.sendAfterEOS[neighbour] = append(f.sendAfterEOS[neighbour], queuedSend{msg: msg, tags: tags})
		}
		f.mu.Unlock()

		if busy {
			continue
		}

		conn := neighbour.Conn
		if conn == nil {
			continue
		}
		out := *msg
		out.Tags = tags
		conn.Write(out.RenderBuffer())
	}
}

// ServerExit performs the SQUIT cascade (§4.6): broadcasts SQUIT to
// other neighbours, then exits every entity (transitively) uplinked
// through the departing server, and finally the server itself. It opens
// and closes no BATCH frames; netjoin and netsplit batches are not
// handled here.
func (f *Federation) ServerExit(server *Entity, reason string, exit func(e *Entity, reason string)) {
	if server == nil {
		return
	}

	f.SendToServers(server, nil, &Message{
		Source:   server.GetID(),
		Command:  CmdSquit,
		Params:   []string{server.GetName()},
		Trailing: reason,
	})

	dependents := f.cascadeDependents(server)
	for _, dep := range dependents {
		exit(dep, reason)
	}
	exit(server, reason)
}

// cascadeDependents returns every entity whose uplink is, transitively,
// server — computed breadth-first over Registry.DependentsOf so a
// multi-hop subtree is fully captured.
func (f *Federation) cascadeDependents(server *Entity) []*Entity {
	if f.reg == nil {
		return nil
	}

	var all []*Entity
	frontier := []*Entity{server}
	for len(frontier) > 0 {
		var next []*Entity
		for _, e := range frontier {
			deps := f.reg.DependentsOf(e)
			all = append(all, deps...)
			next = append(next, deps...)
		}
		frontier = next
	}
	return all
}

// Kill performs a local KILL (§4.6): flags the victim killed, notifies it
// with numeric 304, broadcasts the KILL to peers, then exits the victim.
// The killed flag suppresses the usual QUIT broadcast at exit.
func (f *Federation) Kill(killer, victim *Entity, reason string, exit func(e *Entity, reason string)) {
	if victim == nil {
		return
	}

	victim.SetFlag(FlagKilled)

	if conn := victim.Conn; conn != nil {
		notice := &Message{
			Code:     ReplyKilled,
			Params:   []string{victim.GetName()},
			Trailing: reason,
		}
		conn.Write(notice.RenderBuffer())
	}

	killerID := "*"
	if killer != nil {
		killerID = killer.GetID()
	}
	f.SendToServers(killer, nil, &Message{
		Source:   killerID,
		Command:  CmdKill,
		Params:   []string{victim.GetID()},
		Trailing: reason,
	})

	exit(victim, reason)
}
