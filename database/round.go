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

package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/blinklabs-io/raffle/ledger"
	"github.com/blinklabs-io/raffle/oracle"
	"github.com/blinklabs-io/raffle/round"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RoundStore returns a round.Store backed by the metadata database
func (d *Database) RoundStore() round.Store {
	return &roundStore{db: d}
}

type roundStore struct {
	db *Database
}

func (s *roundStore) Atomic(
	ctx context.Context,
	fn func(ctx context.Context) error,
) error {
	return s.db.Atomic(ctx, fn)
}

func (s *roundStore) Load(ctx context.Context) (*round.Persisted, error) {
	var tmpRound RoundState
	result := s.db.tx(ctx).First(&tmpRound, roundStateID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load round: %w", result.Error)
	}
	var tmpEntries []Entry
	result = s.db.tx(ctx).
		Where("round_number = ?", tmpRound.Number).
		Order("entry_index ASC").
		Find(&tmpEntries)
	if result.Error != nil {
		return nil, fmt.Errorf("load entries: %w", result.Error)
	}
	ret := &round.Persisted{
		Round: roundRecordFromModel(tmpRound),
	}
	for idx, entry := range tmpEntries {
		if entry.Index != idx {
			return nil, fmt.Errorf(
				"entry index gap in round %d: expected %d, found %d",
				tmpRound.Number,
				idx,
				entry.Index,
			)
		}
		ret.Participants = append(
			ret.Participants,
			ledger.Address(entry.Participant),
		)
	}
	return ret, nil
}

func (s *roundStore) SaveRound(ctx context.Context, rec round.Record) error {
	tmpRound := roundRecordToModel(rec)
	result := s.db.tx(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&tmpRound)
	if result.Error != nil {
		return fmt.Errorf("save round: %w", result.Error)
	}
	return nil
}

func (s *roundStore) AppendEntry(ctx context.Context, entry round.Entry) error {
	tmpEntry := Entry{
		Participant: string(entry.Participant),
		RoundNumber: entry.RoundNumber,
		Index:       entry.Index,
		Amount:      Uint64(entry.Amount),
	}
	if result := s.db.tx(ctx).Create(&tmpEntry); result.Error != nil {
		return fmt.Errorf("append entry: %w", result.Error)
	}
	return nil
}

func (s *roundStore) SaveWinner(ctx context.Context, winner round.Winner) error {
	tmpWinner := Winner{
		RandomWord:  BigInt{Int: winner.RandomWord},
		Winner:      string(winner.Winner),
		RoundNumber: winner.RoundNumber,
		RequestID:   uint64(winner.RequestID),
		PaidAt:      winner.PaidAt.UnixNano(),
		Amount:      Uint64(winner.Amount),
	}
	if result := s.db.tx(ctx).Create(&tmpWinner); result.Error != nil {
		return fmt.Errorf("save winner: %w", result.Error)
	}
	return nil
}

func (s *roundStore) Winners(ctx context.Context, limit int) ([]round.Winner, error) {
	var tmpWinners []Winner
	query := s.db.tx(ctx).Order("round_number DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if result := query.Find(&tmpWinners); result.Error != nil {
		return nil, fmt.Errorf("load winners: %w", result.Error)
	}
	ret := make([]round.Winner, 0, len(tmpWinners))
	for _, tmpWinner := range tmpWinners {
		ret = append(ret, round.Winner{
			PaidAt:      time.Unix(0, tmpWinner.PaidAt),
			RandomWord:  tmpWinner.RandomWord.Int,
			Winner:      ledger.Address(tmpWinner.Winner),
			RoundNumber: tmpWinner.RoundNumber,
			RequestID:   oracle.RequestID(tmpWinner.RequestID),
			Amount:      ledger.Amount(tmpWinner.Amount),
		})
	}
	return ret, nil
}

func roundRecordToModel(rec round.Record) RoundState {
	ret := RoundState{
		ID:           roundStateID,
		DrawnWord:    BigInt{Int: rec.DrawnWord},
		DrawnWinner:  string(rec.DrawnWinner),
		RecentWinner: string(rec.RecentWinner),
		Number:       rec.Number,
		Balance:      Uint64(rec.Balance),
		State:        uint8(rec.State),
	}
	if !rec.LastFinalizedAt.IsZero() {
		ret.LastFinalizedAt = rec.LastFinalizedAt.UnixNano()
	}
	if !rec.RequestedAt.IsZero() {
		ret.RequestedAt = rec.RequestedAt.UnixNano()
	}
	if rec.PendingRequest != nil {
		ret.HasPending = true
		ret.PendingRequest = uint64(*rec.PendingRequest)
	}
	return ret
}

func roundRecordFromModel(tmpRound RoundState) round.Record {
	ret := round.Record{
		DrawnWord:    tmpRound.DrawnWord.Int,
		DrawnWinner:  ledger.Address(tmpRound.DrawnWinner),
		RecentWinner: ledger.Address(tmpRound.RecentWinner),
		Number:       tmpRound.Number,
		Balance:      ledger.Amount(tmpRound.Balance),
		State:        round.State(tmpRound.State),
	}
	if tmpRound.LastFinalizedAt != 0 {
		ret.LastFinalizedAt = time.Unix(0, tmpRound.LastFinalizedAt)
	}
	if tmpRound.RequestedAt != 0 {
		ret.RequestedAt = time.Unix(0, tmpRound.RequestedAt)
	}
	if tmpRound.HasPending {
		tmpID := oracle.RequestID(tmpRound.PendingRequest)
		ret.PendingRequest = &tmpID
	}
	return ret
}
