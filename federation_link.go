/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package dircd

import (
	"strconv"
	"strings"
	"time"
)

// LinkConfig describes one configured outgoing/incoming server link
// (§4.6 "Outgoing link"). A *LinkConfig is attached to a Server-kind
// Entity's ServerState once negotiation succeeds.
type LinkConfig struct {
	Name       string
	Host       string
	Port       int
	TLS        bool
	SendPass   string
	ReceivePass string
	SID        string
	Class      string
	AutoConnect bool
}

// linkNegotiation tracks the in-flight PASS/PROTOCTL/SERVER exchange for
// one not-yet-synced server connection (§4.6). It lives only as long as
// the handshake does; once promoted, state moves onto the Entity.
type linkNegotiation struct {
	conn        *Conn
	cfg         *LinkConfig
	gotPass     bool
	gotProtoctl bool
	peerName    string
	peerSID     string
	peerCaps    []string
	startedAt   time.Time
}

// newLinkNegotiation begins tracking a handshake against the given
// expected configuration. cfg may be nil for an inbound link whose
// identity is learned from the PASS/SERVER lines and matched against the
// configured link table by the caller once the name is known.
func newLinkNegotiation(conn *Conn, cfg *LinkConfig) *linkNegotiation {
	return &linkNegotiation{conn: conn, cfg: cfg, startedAt: time.Now()}
}

// HandlePass consumes the link's PASS line.
func (n *linkNegotiation) HandlePass(password string) error {
	if n.cfg != nil && n.cfg.ReceivePass != "" && password != n.cfg.ReceivePass {
		return ErrLinkPasswordMismatch
	}
	n.gotPass = true
	return nil
}

// HandleProtoctl records the peer's PROTOCTL token list (capabilities and
// identifiers negotiated ahead of SERVER, §4.6).
func (n *linkNegotiation) HandleProtoctl(tokens []string) {
	n.peerCaps = append(n.peerCaps, tokens...)
	n.gotProtoctl = true
}

// HandleServer consumes the peer's SERVER line (server name and SID) and
// validates it against the configured link, if one was expected.
func (n *linkNegotiation) HandleServer(name string, sid string) error {
	if !n.gotPass {
		return ErrLinkPasswordMismatch
	}
	if n.cfg != nil && n.cfg.Name != "" && !strings.EqualFold(name, n.cfg.Name) {
		return ErrLinkNameMismatch
	}
	if n.cfg != nil && n.cfg.SID != "" && sid != n.cfg.SID {
		return ErrLinkSIDMismatch
	}
	n.peerName = name
	n.peerSID = sid
	return nil
}

// OutgoingHandshake renders the PASS/PROTOCTL/SERVER lines an initiating
// side sends immediately after the TCP+TLS handshake completes (§4.6).
func OutgoingHandshake(cfg *LinkConfig, localName, localSID string, hopcount int, info string, protoctlTokens []string) []*Message {
	msgs := []*Message{
		{Command: CmdPass, Params: []string{cfg.SendPass}},
		{Command: CmdProtoctl, Params: protoctlTokens},
		{Command: CmdServer, Params: []string{localName, strconv.Itoa(hopcount)}, Trailing: info},
	}
	return msgs
}
