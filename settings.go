/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package dircd

// Limiter Constants
const (
	// Messages
	MaxMsgLength  int = 512
	MaxMsgParams      = 15
	MaxTagsLength int = 8192

	// Channels
	MaxChanLength  = 16
	MaxKickLength  = 400
	MaxTopicLength = 400
	MaxListItems   = 256
	MaxModeChange  = 12

	// Users
	MaxNickLength  = 16
	MaxUserLength  = 16
	MaxVHostLength = 64
	MaxJoinedChans = 32
	MaxAwayLength  = 100

	// Federation
	MaxUIDSuffixLen = 6
	SIDLength       = 3
)

// Flood/penalty thresholds (§4.1).
const (
	// PenaltyLimitUser is the penalty unit ceiling for ordinary users.
	PenaltyLimitUser int64 = 1_000_000
	// PenaltyLimitOper is the penalty unit ceiling for operators.
	PenaltyLimitOper int64 = 10_000_000
	// PenaltyDecayWindowSeconds is how long with no additions before
	// the penalty counter decays back to zero.
	PenaltyDecayWindowSeconds int64 = 60
	// BufferAgeSeconds bounds how long recvq/sendq byte-accounting
	// entries are retained before aging out.
	BufferAgeSeconds int64 = 10
	// BufferCmdDivisor computes the buffered-command ceiling as
	// class.recvq / BufferCmdDivisor.
	BufferCmdDivisor = 50
)
