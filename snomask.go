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

// Snomask is a registered server-notice mask flag (§4.4 "Snomasks").
type Snomask struct {
	Flag        byte
	IsGlobal    bool // relayed to peer servers via SENDSNO when sendsno==1
	Description string
}

// SnomaskRegistry holds the set of registered snomask flags.
type SnomaskRegistry struct {
	mu    sync.RWMutex
	masks map[byte]*Snomask
}

// NewSnomaskRegistry returns a registry pre-seeded with the standard set.
func NewSnomaskRegistry() *SnomaskRegistry {
	r := &SnomaskRegistry{masks: make(map[byte]*Snomask)}
	r.mustRegister(&Snomask{Flag: 'c', IsGlobal: false, Description: "client connects/disconnects"})
	r.mustRegister(&Snomask{Flag: 'f', IsGlobal: true, Description: "flood/excess-flood notices"})
	r.mustRegister(&Snomask{Flag: 'j', IsGlobal: false, Description: "channel joins/parts"})
	r.mustRegister(&Snomask{Flag: 'k', IsGlobal: true, Description: "kill notices"})
	r.mustRegister(&Snomask{Flag: 'l', IsGlobal: false, Description: "local-only server notices"})
	r.mustRegister(&Snomask{Flag: 'n', IsGlobal: true, Description: "nick changes"})
	r.mustRegister(&Snomask{Flag: 's', IsGlobal: true, Description: "server link/split notices"})
	r.mustRegister(&Snomask{Flag: 't', IsGlobal: true, Description: "TKL add/remove notices"})
	return r
}

func (r *SnomaskRegistry) mustRegister(s *Snomask) {
	if err := r.Register(s); err != nil {
		panic(err)
	}
}

// Register adds a snomask flag; duplicates are a hard error.
func (r *SnomaskRegistry) Register(s *Snomask) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.masks[s.Flag]; exists {
		return ErrDuplicateSnomask
	}
	r.masks[s.Flag] = s
	return nil
}

func (r *SnomaskRegistry) Lookup(flag byte) (*Snomask, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.masks[flag]
	return s, ok
}

// SendSnomask broadcasts a server notice to every local operator whose
// snomask string contains flag, and — when the flag is global and
// sendsno is true — relays `:<sid> SENDSNO <flag> :<text>` to peer
// servers (§4.4).
func SendSnomask(srv *Server, source *Entity, flag byte, text string, sendsno bool) {
	snomask, ok := srv.Snomasks.Lookup(flag)
	if !ok {
		return
	}

	notice := &Message{
		Source:   srv.Hostname(),
		Command:  CmdNotice,
		Trailing: "*** " + text,
	}

	for _, e := range srv.Registry.Users() {
		if !e.IsLocal() || e.User == nil {
			continue
		}
		if strings.IndexByte(e.User.Snomask, flag) < 0 {
			continue
		}
		notice.Params = []string{e.GetName()}
		if e.Conn != nil {
			e.Conn.Write(notice.RenderBuffer())
		}
	}

	if snomask.IsGlobal && sendsno {
		relay := &Message{
			Source:   srv.SID,
			Command:  CmdSendSno,
			Params:   []string{string(flag)},
			Trailing: text,
		}
		srv.Federation.SendToServers(source, nil, relay)
	}
}
