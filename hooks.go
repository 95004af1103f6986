/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package dircd

import (
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

// HookResult is the sentinel a hook callback returns (§4.8 "Hook bus").
type HookResult int

const (
	HookContinue HookResult = iota
	HookAllow
	HookDeny
)

// HookKind names an extension point. New kinds are added as handlers
// grow to need them; the set below covers every kind §4.1/§4.3/§4.6
// name explicitly.
type HookKind string

const (
	HookPreConnect        HookKind = "PRE_CONNECT"
	HookCanJoin            HookKind = "CAN_JOIN"
	HookPreLocalChanMsg     HookKind = "PRE_LOCAL_CHANMSG"
	HookVisibleOnChannel   HookKind = "VISIBLE_ON_CHANNEL"
	HookPreCommand         HookKind = "PRE_COMMAND"
	HookPostCommand        HookKind = "POST_COMMAND"
	HookIsHandshakeFinished HookKind = "IS_HANDSHAKE_FINISHED"
	HookLocalConnect       HookKind = "LOCAL_CONNECT"
	HookServerSynced       HookKind = "SERVER_SYNCED"
	HookServerLinkPostNeg  HookKind = "SERVER_LINK_POST_NEGOTATION"
	HookServerDisconnect   HookKind = "SERVER_DISCONNECT"
)

// HookFunc is a registered callback; args are deliberately untyped
// (interface{}) since each hook kind passes a different argument shape,
// mirroring the source's dynamically-typed dispatch (§9 "Hook callbacks").
type HookFunc func(args ...interface{}) HookResult

type registeredHook struct {
	priority int
	seq      int
	fn       HookFunc
}

// HookBus is the process-wide, priority-ordered callback registry.
// Grounded on router.go's HandlersChain idiom (ordered slice of
// callbacks invoked in turn), generalized to group callbacks by named
// hook kind and to yield a DENY/ALLOW/CONTINUE verdict instead of an
// abort flag.
type HookBus struct {
	mu    sync.RWMutex
	hooks map[HookKind][]registeredHook
	seq   int
	log   *logrus.Entry
}

// NewHookBus returns an empty hook bus.
func NewHookBus(log *logrus.Entry) *HookBus {
	return &HookBus{hooks: make(map[HookKind][]registeredHook), log: log}
}

// Register adds a callback for a hook kind at the given priority (lower
// runs first); ties are broken by registration order (§9).
func (b *HookBus) Register(kind HookKind, priority int, fn HookFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	b.hooks[kind] = append(b.hooks[kind], registeredHook{priority: priority, seq: b.seq, fn: fn})
	sort.SliceStable(b.hooks[kind], func(i, j int) bool {
		a, c := b.hooks[kind][i], b.hooks[kind][j]
		if a.priority != c.priority {
			return a.priority < c.priority
		}
		return a.seq < c.seq
	})
}

// Fire invokes every registered callback for kind in priority order,
// short-circuiting on the first DENY or ALLOW. A callback that panics is
// logged and skipped; subsequent hooks still run (§7 "internal errors").
func (b *HookBus) Fire(kind HookKind, args ...interface{}) HookResult {
	b.mu.RLock()
	hooks := make([]registeredHook, len(b.hooks[kind]))
	copy(hooks, b.hooks[kind])
	b.mu.RUnlock()

	for _, h := range hooks {
		result := b.callSafely(kind, h.fn, args)
		if result == HookDeny || result == HookAllow {
			return result
		}
	}
	return HookContinue
}

func (b *HookBus) callSafely(kind HookKind, fn HookFunc, args []interface{}) (result HookResult) {
	defer func() {
		if r := recover(); r != nil {
			if b.log != nil {
				b.log.WithField("hook", string(kind)).Errorf("hook callback panicked: %v", r)
			}
			result = HookContinue
		}
	}()
	return fn(args...)
}
