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
	"context"
	"math/big"
	"slices"
	"sync"
	"time"

	"github.com/blinklabs-io/raffle/ledger"
	"github.com/blinklabs-io/raffle/oracle"
)

// State is the lifecycle state of the active round
type State uint8

const (
	StateOpen State = iota
	StateFinalizing
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StateFinalizing:
		return "FINALIZING"
	default:
		return "UNKNOWN"
	}
}

// Record is the persisted form of the round
type Record struct {
	LastFinalizedAt time.Time
	RequestedAt     time.Time
	DrawnWord       *big.Int
	PendingRequest  *oracle.RequestID
	DrawnWinner     ledger.Address
	RecentWinner    ledger.Address
	Number          uint64
	Balance         ledger.Amount
	State           State
}

func (r Record) clone() Record {
	ret := r
	if r.PendingRequest != nil {
		tmp := *r.PendingRequest
		ret.PendingRequest = &tmp
	}
	if r.DrawnWord != nil {
		ret.DrawnWord = new(big.Int).Set(r.DrawnWord)
	}
	return ret
}

// Entry is a single paid entry in a round
type Entry struct {
	Participant ledger.Address
	RoundNumber uint64
	Index       int
	Amount      ledger.Amount
}

// Winner is the record of a completed payout
type Winner struct {
	PaidAt      time.Time
	RandomWord  *big.Int
	Winner      ledger.Address
	RoundNumber uint64
	RequestID   oracle.RequestID
	Amount      ledger.Amount
}

// Persisted is everything needed to rebuild the state machine after a restart
type Persisted struct {
	Participants []ledger.Address
	Round        Record
}

// Store persists the round. Implementations must make all calls made inside
// an Atomic function commit or roll back together.
type Store interface {
	// Load returns the persisted round and the entries for its current
	// number, or nil if nothing has been stored yet
	Load(ctx context.Context) (*Persisted, error)
	SaveRound(ctx context.Context, rec Record) error
	AppendEntry(ctx context.Context, entry Entry) error
	SaveWinner(ctx context.Context, winner Winner) error
	// Winners returns the most recent payouts, newest first
	Winners(ctx context.Context, limit int) ([]Winner, error)
	Atomic(ctx context.Context, fn func(ctx context.Context) error) error
}

// MemoryStore is a Store that keeps everything in process memory
type MemoryStore struct {
	round   *Record
	entries map[uint64][]Entry
	winners []Winner
	mu      sync.Mutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[uint64][]Entry),
	}
}

func (m *MemoryStore) Load(_ context.Context) (*Persisted, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.round == nil {
		return nil, nil
	}
	ret := &Persisted{
		Round: m.round.clone(),
	}
	for _, entry := range m.entries[m.round.Number] {
		ret.Participants = append(ret.Participants, entry.Participant)
	}
	return ret, nil
}

func (m *MemoryStore) SaveRound(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tmp := rec.clone()
	m.round = &tmp
	return nil
}

func (m *MemoryStore) AppendEntry(_ context.Context, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[entry.RoundNumber] = append(m.entries[entry.RoundNumber], entry)
	return nil
}

func (m *MemoryStore) SaveWinner(_ context.Context, winner Winner) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.winners = append(m.winners, winner)
	return nil
}

func (m *MemoryStore) Winners(_ context.Context, limit int) ([]Winner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ret := slices.Clone(m.winners)
	slices.Reverse(ret)
	if limit > 0 && len(ret) > limit {
		ret = ret[:limit]
	}
	return ret, nil
}

// Atomic runs fn and restores the previous contents if it returns an error
func (m *MemoryStore) Atomic(
	ctx context.Context,
	fn func(ctx context.Context) error,
) error {
	m.mu.Lock()
	var savedRound *Record
	if m.round != nil {
		tmp := m.round.clone()
		savedRound = &tmp
	}
	savedEntries := make(map[uint64][]Entry, len(m.entries))
	for k, v := range m.entries {
		savedEntries[k] = slices.Clone(v)
	}
	savedWinners := slices.Clone(m.winners)
	m.mu.Unlock()
	if err := fn(ctx); err != nil {
		m.mu.Lock()
		m.round = savedRound
		m.entries = savedEntries
		m.winners = savedWinners
		m.mu.Unlock()
		return err
	}
	return nil
}
