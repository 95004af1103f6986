/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package dircd

import "strconv"

// BurstWriter renders the locally-authoritative burst for a freshly
// linked neighbour in the fixed §4.6 order: servers, then users (each
// followed by its own MD/AWAY/SWHOIS), then channels (SJOIN, parameter
// MODE, TOPIC, listmodes), then active global TKL entries, then EOS.
//
// Grounded on channel.go's GetNicks-style "walk state, render lines"
// idiom, generalized into a multi-stage emitter since a burst interleaves
// several registries rather than one channel's membership.
type BurstWriter struct {
	dest    *Conn
	reg     *Registry
	tkls    *TKLEngine
	localSID string
}

// NewBurstWriter returns a writer that will emit onto dest.
func NewBurstWriter(dest *Conn, reg *Registry, tkls *TKLEngine, localSID string) *BurstWriter {
	return &BurstWriter{dest: dest, reg: reg, tkls: tkls, localSID: localSID}
}

// Send performs the full ordered burst and finally emits EOS.
func (w *BurstWriter) Send(channels []*Channel) {
	w.sendServers()
	w.sendUsers()
	w.sendChannels(channels)
	w.sendTKLs()
	w.sendEOS()
}

func (w *BurstWriter) write(msg *Message) {
	if w.dest == nil {
		return
	}
	w.dest.Write(msg.RenderBuffer())
}

func (w *BurstWriter) sendServers() {
	for _, srv := range w.reg.Servers() {
		hop := srv.Hopcount
		w.write(&Message{
			Source:   w.localSID,
			Command:  CmdSID,
			Params:   []string{srv.GetName(), strconv.Itoa(hop), srv.GetID()},
			Trailing: "",
		})
	}
}

func (w *BurstWriter) sendUsers() {
	for _, u := range w.reg.Users() {
		u.mu.RLock()
		state := u.User
		u.mu.RUnlock()
		if state == nil {
			continue
		}

		w.write(&Message{
			Source:  w.localSID,
			Command: CmdUID,
			Params: []string{
				u.GetName(), strconv.Itoa(u.Hopcount), strconv.Itoa(int(u.CreatedAt.Unix())),
				state.Ident, state.RealHost, u.GetID(), state.Account, state.CloakHost,
			},
			Trailing: u.Hostmask(),
		})

		u.ForEachModData(func(name string, v ModDataValue) {
			if !v.Sync {
				return
			}
			w.write(&Message{Source: u.GetID(), Command: CmdMD, Params: []string{"client", u.GetID(), name}, Trailing: v.Value})
		})

		if state.AwayReason != "" {
			w.write(&Message{Source: u.GetID(), Command: CmdAway, Trailing: state.AwayReason})
		}

		for _, sw := range state.SWhois {
			w.write(&Message{Source: u.GetID(), Command: CmdSWhois, Params: []string{u.GetID(), sw.SetBy}, Trailing: sw.Line})
		}
	}
}

func (w *BurstWriter) sendChannels(channels []*Channel) {
	for _, ch := range channels {
		w.sendChannel(ch)
	}
}

func (w *BurstWriter) sendChannel(ch *Channel) {
	members := ch.Members()
	params := make([]string, 0, len(members)+2)
	params = append(params, strconv.Itoa(int(ch.CreatedAt().Unix())), ch.Name())

	var nicks []string
	for _, m := range members {
		prefix := ""
		if p := m.Prefix(); p != 0 {
			prefix = string(p)
		}
		nicks = append(nicks, prefix+m.Entity.GetID())
	}
	w.write(&Message{
		Source:   w.localSID,
		Command:  CmdSJoin,
		Params:   params,
		Trailing: joinSpace(nicks),
	})

	if paramModes := ch.ParamModeString(); paramModes != "" {
		w.write(&Message{Source: w.localSID, Command: CmdMode, Params: []string{ch.Name(), paramModes}})
	}

	if topic := ch.Topic(); topic != "" {
		w.write(&Message{Source: w.localSID, Command: CmdTopic, Params: []string{ch.Name()}, Trailing: topic})
	}

	for _, flag := range []byte{'b', 'e', 'I'} {
		for _, entry := range ch.ListEntries(flag) {
			w.write(&Message{
				Source:  w.localSID,
				Command: CmdMode,
				Params:  []string{ch.Name(), "+" + string(flag), entry.Mask},
			})
		}
	}
}

func (w *BurstWriter) sendTKLs() {
	if w.tkls == nil {
		return
	}
	for _, entry := range w.tkls.All() {
		w.write(&Message{
			Source:  w.localSID,
			Command: CmdTKL,
			Params: []string{
				"+", string(entry.Type), entry.Ident, entry.Host, entry.SetBy,
				strconv.Itoa(int(entry.SetAt)), strconv.Itoa(int(entry.Expiry)),
			},
			Trailing: entry.Reason,
		})
	}
}

func (w *BurstWriter) sendEOS() {
	w.write(&Message{Source: w.localSID, Command: CmdEOS})
}

func joinSpace(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += " "
		}
		out += p
	}
	return out
}
