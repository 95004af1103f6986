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

// Extban is a registered extended-ban matcher addressed by name or single
// flag char in a `~name:arg` / `~flag:arg` mask (§4.4 "Extbans").
type Extban struct {
	Name string
	Flag byte
	// IsOk validates/normalises a proposed argument when a setter applies
	// the extban via a listmode change. An empty, invalid argument should
	// return ("", false).
	IsOk func(setter *Entity, ch *Channel, arg string) (string, bool)
	// IsMatch reports whether the given entity is matched by this
	// extban's argument on the given channel. Stacking (e.g. "~and:") is
	// expressed by IsMatch recursively calling the registry on the inner
	// mask.
	IsMatch func(reg *ExtbanRegistry, e *Entity, ch *Channel, arg string) bool
}

// ExtbanRegistry holds registered extbans keyed by both name and flag.
type ExtbanRegistry struct {
	mu      sync.RWMutex
	byName  map[string]*Extban
	byFlag  map[byte]*Extban
}

// NewExtbanRegistry returns a registry pre-seeded with the standard set:
// account (~a), certfp (~z), and the realname-matching extban (~r).
func NewExtbanRegistry() *ExtbanRegistry {
	r := &ExtbanRegistry{byName: make(map[string]*Extban), byFlag: make(map[byte]*Extban)}

	r.mustRegister(&Extban{
		Name: "account", Flag: 'a',
		IsOk: func(_ *Entity, _ *Channel, arg string) (string, bool) {
			if arg == "" {
				return "", false
			}
			return arg, true
		},
		IsMatch: func(_ *ExtbanRegistry, e *Entity, _ *Channel, arg string) bool {
			if e == nil || e.User == nil {
				return false
			}
			return matchGlob(strings.ToLower(arg), strings.ToLower(e.User.Account))
		},
	})

	r.mustRegister(&Extban{
		Name: "certfp", Flag: 'z',
		IsOk: func(_ *Entity, _ *Channel, arg string) (string, bool) {
			if arg == "" {
				return "", false
			}
			return strings.ToLower(arg), true
		},
		IsMatch: func(_ *ExtbanRegistry, e *Entity, _ *Channel, arg string) bool {
			if e == nil {
				return false
			}
			fp, _ := e.GetModData("certfp")
			return strings.EqualFold(fp.Value, arg)
		},
	})

	r.mustRegister(&Extban{
		Name: "realname", Flag: 'r',
		IsOk: func(_ *Entity, _ *Channel, arg string) (string, bool) {
			if arg == "" {
				return "", false
			}
			return arg, true
		},
		IsMatch: func(_ *ExtbanRegistry, e *Entity, _ *Channel, arg string) bool {
			if e == nil {
				return false
			}
			gecos, _ := e.GetModData("gecos")
			return matchGlob(strings.ToLower(arg), strings.ToLower(gecos.Value))
		},
	})

	return r
}

func (r *ExtbanRegistry) mustRegister(e *Extban) {
	if err := r.Register(e); err != nil {
		panic(err)
	}
}

// Register adds a new extban matcher. Duplicate name or flag is a hard error.
func (r *ExtbanRegistry) Register(e *Extban) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[e.Name]; exists {
		return ErrDuplicateExtban
	}
	if _, exists := r.byFlag[e.Flag]; exists {
		return ErrDuplicateExtban
	}
	r.byName[e.Name] = e
	r.byFlag[e.Flag] = e
	return nil
}

// IsExtbanMask reports whether a mask is extban-shaped ("~...:...").
func IsExtbanMask(mask string) bool {
	return strings.HasPrefix(mask, "~") && strings.Contains(mask, ":")
}

// Match resolves an extban-shaped mask (by name or flag form) and
// evaluates it against the given entity/channel (§4.3 "Bans").
func (r *ExtbanRegistry) Match(mask string, e *Entity, ch *Channel) bool {
	if !IsExtbanMask(mask) {
		return false
	}

	body := strings.TrimPrefix(mask, "~")
	parts := strings.SplitN(body, ":", 2)
	if len(parts) != 2 {
		return false
	}
	token, arg := parts[0], parts[1]

	r.mu.RLock()
	var eb *Extban
	if len(token) == 1 {
		eb = r.byFlag[token[0]]
	}
	if eb == nil {
		eb = r.byName[token]
	}
	r.mu.RUnlock()

	if eb == nil {
		return false
	}
	return eb.IsMatch(r, e, ch, arg)
}

// Normalize converts a flag-form extban mask to its long-name stored form
// on output, per §4.4 ("long name in stored masks").
func (r *ExtbanRegistry) Normalize(mask string) string {
	if !IsExtbanMask(mask) {
		return mask
	}
	body := strings.TrimPrefix(mask, "~")
	parts := strings.SplitN(body, ":", 2)
	if len(parts) != 2 || len(parts[0]) != 1 {
		return mask
	}

	r.mu.RLock()
	eb, ok := r.byFlag[parts[0][0]]
	r.mu.RUnlock()
	if !ok {
		return mask
	}
	return "~" + eb.Name + ":" + parts[1]
}
