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

package round

import (
	"errors"

	"github.com/blinklabs-io/raffle/upkeep"
)

var (
	// ErrInsufficientPayment is returned when an entry pays less than the
	// entrance fee
	ErrInsufficientPayment = errors.New("insufficient payment for entry")
	// ErrRoundNotOpen is returned for entries while the round is finalizing
	ErrRoundNotOpen = errors.New("round is not open")
	// ErrUpkeepNotNeeded is returned when a finalize is triggered but the
	// upkeep conditions do not hold
	ErrUpkeepNotNeeded = upkeep.ErrUpkeepNotNeeded
	// ErrUnknownRequest is returned for fulfillments that do not match the
	// pending randomness request
	ErrUnknownRequest = errors.New("unknown randomness request")
	// ErrNoWinnerPool is returned when randomness arrives for a round with
	// no participants
	ErrNoWinnerPool = errors.New("no participants to pick a winner from")
	// ErrNoRandomWords is returned when a fulfillment carries no random words
	ErrNoRandomWords = errors.New("no random words in fulfillment")
	// ErrPayoutFailed is returned when the pool could not be transferred to
	// the winner. The round stays finalizing until a retry succeeds.
	ErrPayoutFailed = errors.New("payout to winner failed")
	// ErrNoPayoutPending is returned by RetryPayout when no winner is
	// waiting to be paid
	ErrNoPayoutPending = errors.New("no payout pending")
	// ErrRequestNotStalled is returned by CancelStalledRequest when the
	// pending request cannot be cancelled yet
	ErrRequestNotStalled = upkeep.ErrRequestNotStalled
)
