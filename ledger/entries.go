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

// Package ledger tracks the participants of the active raffle round and the
// balance they have paid into the pool.
package ledger

import (
	"errors"
	"fmt"
	"math"
	"slices"
)

var (
	ErrIndexOutOfRange = errors.New("participant index out of range")
	ErrPoolOverflow    = errors.New("pooled balance overflow")
	ErrInvalidAddress  = errors.New("invalid participant address")
)

// Address identifies an account that can enter the raffle or receive a payout
type Address string

func (a Address) String() string {
	return string(a)
}

// Amount is a quantity of the base currency unit
type Amount uint64

// Ledger is the ordered list of entries for the current round along with the
// pooled balance. It is not safe for concurrent use; the round state machine
// that owns it serializes access.
type Ledger struct {
	participants []Address
	balance      Amount
}

// New returns an empty ledger
func New() *Ledger {
	return &Ledger{}
}

// Restore returns a ledger populated from previously persisted entries
func Restore(participants []Address, balance Amount) *Ledger {
	return &Ledger{
		participants: slices.Clone(participants),
		balance:      balance,
	}
}

// CanEnter reports whether an entry of the given amount would be accepted,
// without modifying the ledger
func (l *Ledger) CanEnter(caller Address, amount Amount) error {
	if caller == "" {
		return ErrInvalidAddress
	}
	if uint64(l.balance) > math.MaxUint64-uint64(amount) {
		return fmt.Errorf(
			"%w: balance=%d amount=%d",
			ErrPoolOverflow,
			l.balance,
			amount,
		)
	}
	return nil
}

// Enter appends the caller to the participant list and adds the paid amount
// to the pool. Duplicate callers are allowed, one entry per payment.
func (l *Ledger) Enter(caller Address, amount Amount) error {
	if err := l.CanEnter(caller, amount); err != nil {
		return err
	}
	l.participants = append(l.participants, caller)
	l.balance += amount
	return nil
}

// ParticipantAt returns the participant at the given position in insertion order
func (l *Ledger) ParticipantAt(index int) (Address, error) {
	if index < 0 || index >= len(l.participants) {
		return "", fmt.Errorf(
			"%w: index=%d count=%d",
			ErrIndexOutOfRange,
			index,
			len(l.participants),
		)
	}
	return l.participants[index], nil
}

// Participants returns a copy of the participant list
func (l *Ledger) Participants() []Address {
	return slices.Clone(l.participants)
}

// Len returns the number of entries
func (l *Ledger) Len() int {
	return len(l.participants)
}

// Balance returns the pooled balance
func (l *Ledger) Balance() Amount {
	return l.balance
}

// Reset clears all entries and zeroes the pool
func (l *Ledger) Reset() {
	l.participants = nil
	l.balance = 0
}
