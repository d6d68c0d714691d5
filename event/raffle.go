// Copyright 2026 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package event

import (
	"math/big"
	"time"
)

const (
	EnteredEventType           = EventType("raffle.entered")
	FinalizeRequestedEventType = EventType("raffle.finalize_requested")
	WinnerPickedEventType      = EventType("raffle.winner_picked")
	PayoutFailedEventType      = EventType("raffle.payout_failed")
	RequestCancelledEventType  = EventType("raffle.request_cancelled")
)

// EnteredEvent is emitted when a participant's entry is accepted
type EnteredEvent struct {
	Participant string
	RoundNumber uint64
	Amount      uint64
	Index       int
}

// FinalizeRequestedEvent is emitted when a round closes to new entries and
// randomness has been requested
type FinalizeRequestedEvent struct {
	RoundNumber  uint64
	RequestId    uint64
	Participants int
}

// WinnerPickedEvent is emitted after the pool has been paid to the winner and
// the next round has opened
type WinnerPickedEvent struct {
	Timestamp   time.Time
	RandomWord  *big.Int
	Winner      string
	RoundNumber uint64
	RequestId   uint64
	Amount      uint64
}

// PayoutFailedEvent is emitted when the winner could not be paid. The round
// stays closed until a payout retry succeeds.
type PayoutFailedEvent struct {
	Error       string
	Winner      string
	RoundNumber uint64
	RequestId   uint64
	Amount      uint64
}

// RequestCancelledEvent is emitted when a stalled randomness request is
// abandoned and the round reopens
type RequestCancelledEvent struct {
	RoundNumber uint64
	RequestId   uint64
	Pending     time.Duration
}
