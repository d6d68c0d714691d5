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

// Package upkeep decides when a raffle round is due for finalization and
// drives the periodic check/perform cycle that finalizes it.
package upkeep

import (
	"errors"
	"time"

	"github.com/blinklabs-io/gouroboros/cbor"

	"github.com/blinklabs-io/raffle/ledger"
)

var (
	// ErrUpkeepNotNeeded is returned when a perform is attempted while the
	// upkeep conditions do not hold
	ErrUpkeepNotNeeded = errors.New("upkeep not needed")
	// ErrRequestNotStalled is returned when a pending randomness request
	// cannot be cancelled yet
	ErrRequestNotStalled = errors.New("randomness request is not stalled")
)

// Snapshot is the round state the upkeep predicate is evaluated against
type Snapshot struct {
	Now             time.Time
	LastFinalizedAt time.Time
	Interval        time.Duration
	RoundNumber     uint64
	Balance         ledger.Amount
	Participants    int
	Open            bool
}

// Conditions holds the individual terms of the upkeep predicate
type Conditions struct {
	TimePassed bool
	IsOpen     bool
	HasBalance bool
	HasPlayers bool
}

// Met returns true when every condition holds
func (c Conditions) Met() bool {
	return c.TimePassed && c.IsOpen && c.HasBalance && c.HasPlayers
}

// PerformData is the context returned alongside a positive check. Callers
// treat it as opaque bytes; PerformUpkeep re-evaluates state on its own.
type PerformData struct {
	cbor.StructAsArray
	RoundNumber  uint64
	Participants uint64
}

// Evaluate computes the upkeep conditions for a snapshot
func Evaluate(s Snapshot) Conditions {
	return Conditions{
		TimePassed: s.Now.Sub(s.LastFinalizedAt) >= s.Interval,
		IsOpen:     s.Open,
		HasBalance: s.Balance > 0,
		HasPlayers: s.Participants > 0,
	}
}

// Check reports whether the round should be finalized now. It has no side
// effects and returns an empty context when upkeep is not needed.
func Check(s Snapshot) (bool, []byte) {
	if !Evaluate(s).Met() {
		return false, []byte{}
	}
	data, err := cbor.Encode(
		&PerformData{
			RoundNumber:  s.RoundNumber,
			Participants: uint64(s.Participants), // #nosec G115 -- checked positive above
		},
	)
	if err != nil {
		// The context is informational only
		return true, []byte{}
	}
	return true, data
}

// DecodePerformData parses the context returned by Check
func DecodePerformData(data []byte) (*PerformData, error) {
	var pd PerformData
	if _, err := cbor.Decode(data, &pd); err != nil {
		return nil, err
	}
	return &pd, nil
}
