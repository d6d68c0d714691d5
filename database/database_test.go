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

package database_test

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/neilotoole/slogt"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/raffle/database"
	"github.com/blinklabs-io/raffle/ledger"
	"github.com/blinklabs-io/raffle/oracle"
	"github.com/blinklabs-io/raffle/oracle/vrfcoord"
	"github.com/blinklabs-io/raffle/round"
	"github.com/blinklabs-io/raffle/wallet"
)

const (
	testEscrow = ledger.Address("raffle")
	testFee    = ledger.Amount(1_000)
)

func newTestDatabase(t *testing.T, dataDir string) *database.Database {
	t.Helper()
	db, err := database.New(database.Config{
		Logger:        slogt.New(t),
		PromRegistry:  prometheus.NewRegistry(),
		DataDir:       dataDir,
		DisableBlobGC: true,
	})
	require.NoError(t, err)
	return db
}

func TestRoundStoreEmpty(t *testing.T) {
	db := newTestDatabase(t, "")
	defer db.Close()
	persisted, err := db.RoundStore().Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, persisted)
}

func TestRoundStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := newTestDatabase(t, "")
	defer db.Close()
	store := db.RoundStore()
	pending := oracle.RequestID(7)
	rec := round.Record{
		LastFinalizedAt: time.Unix(1_700_000_000, 0),
		RequestedAt:     time.Unix(1_700_000_030, 500),
		DrawnWord:       new(big.Int).Lsh(big.NewInt(1), 255),
		PendingRequest:  &pending,
		DrawnWinner:     "alice",
		RecentWinner:    "bob",
		Number:          3,
		Balance:         ledger.Amount(^uint64(0)),
		State:           round.StateFinalizing,
	}
	require.NoError(t, store.SaveRound(ctx, rec))
	for idx, addr := range []ledger.Address{"alice", "bob", "alice"} {
		require.NoError(t, store.AppendEntry(ctx, round.Entry{
			Participant: addr,
			RoundNumber: 3,
			Index:       idx,
			Amount:      testFee,
		}))
	}
	// Entries from an earlier round are not part of the active pool
	require.NoError(t, store.AppendEntry(ctx, round.Entry{
		Participant: "carol",
		RoundNumber: 2,
		Index:       0,
		Amount:      testFee,
	}))
	persisted, err := store.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, persisted)
	assert.Equal(t, []ledger.Address{"alice", "bob", "alice"}, persisted.Participants)
	got := persisted.Round
	require.NotNil(t, got.PendingRequest)
	assert.Equal(t, pending, *got.PendingRequest)
	assert.Equal(t, 0, rec.DrawnWord.Cmp(got.DrawnWord))
	assert.True(t, rec.LastFinalizedAt.Equal(got.LastFinalizedAt))
	assert.True(t, rec.RequestedAt.Equal(got.RequestedAt))
	assert.Equal(t, rec.DrawnWinner, got.DrawnWinner)
	assert.Equal(t, rec.RecentWinner, got.RecentWinner)
	assert.Equal(t, rec.Number, got.Number)
	assert.Equal(t, rec.Balance, got.Balance)
	assert.Equal(t, round.StateFinalizing, got.State)

	// Overwriting clears the pending request and drawn word
	rec.PendingRequest = nil
	rec.DrawnWord = nil
	rec.RequestedAt = time.Time{}
	rec.State = round.StateOpen
	require.NoError(t, store.SaveRound(ctx, rec))
	persisted, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, persisted.Round.PendingRequest)
	assert.Nil(t, persisted.Round.DrawnWord)
	assert.True(t, persisted.Round.RequestedAt.IsZero())
	assert.Equal(t, round.StateOpen, persisted.Round.State)
}

func TestRoundStoreDuplicateEntryIndex(t *testing.T) {
	ctx := context.Background()
	db := newTestDatabase(t, "")
	defer db.Close()
	store := db.RoundStore()
	entry := round.Entry{Participant: "alice", RoundNumber: 1, Index: 0, Amount: testFee}
	require.NoError(t, store.AppendEntry(ctx, entry))
	require.Error(t, store.AppendEntry(ctx, entry))
}

func TestAtomicRollback(t *testing.T) {
	ctx := context.Background()
	db := newTestDatabase(t, "")
	defer db.Close()
	store := db.RoundStore()
	bank := db.Wallet(testEscrow)
	require.NoError(t, bank.Deposit(ctx, "alice", 5*testFee))
	errBoom := errors.New("boom")
	err := store.Atomic(ctx, func(ctx context.Context) error {
		if err := store.AppendEntry(ctx, round.Entry{
			Participant: "alice",
			RoundNumber: 1,
			Index:       0,
			Amount:      testFee,
		}); err != nil {
			return err
		}
		if err := store.SaveRound(ctx, round.Record{Number: 1, Balance: testFee}); err != nil {
			return err
		}
		if err := bank.Collect(ctx, "alice", testFee); err != nil {
			return err
		}
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)
	persisted, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, persisted)
	acct, err := bank.Account(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 5*testFee, acct.Balance)
	escrow, err := bank.Account(ctx, testEscrow)
	require.NoError(t, err)
	assert.Equal(t, ledger.Amount(0), escrow.Balance)
}

func TestWinnersNewestFirst(t *testing.T) {
	ctx := context.Background()
	db := newTestDatabase(t, "")
	defer db.Close()
	store := db.RoundStore()
	for i := uint64(1); i <= 3; i++ {
		require.NoError(t, store.SaveWinner(ctx, round.Winner{
			PaidAt:      time.Unix(int64(i), 0),
			RandomWord:  new(big.Int).SetUint64(i * 100),
			Winner:      "alice",
			RoundNumber: i,
			RequestID:   oracle.RequestID(i),
			Amount:      testFee,
		}))
	}
	winners, err := store.Winners(ctx, 2)
	require.NoError(t, err)
	require.Len(t, winners, 2)
	assert.Equal(t, uint64(3), winners[0].RoundNumber)
	assert.Equal(t, uint64(2), winners[1].RoundNumber)
	assert.Equal(t, int64(300), winners[0].RandomWord.Int64())
	all, err := store.Winners(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestWallet(t *testing.T) {
	ctx := context.Background()
	db := newTestDatabase(t, "")
	defer db.Close()
	bank := db.Wallet(testEscrow)
	require.NoError(t, bank.Deposit(ctx, "alice", 3*testFee))
	require.NoError(t, bank.Collect(ctx, "alice", 2*testFee))
	require.ErrorIs(
		t,
		bank.Collect(ctx, "alice", 2*testFee),
		wallet.ErrInsufficientFunds,
	)
	require.NoError(t, bank.Pay(ctx, "bob", testFee))
	require.NoError(t, bank.SetRejectsPayments(ctx, "carol", true))
	require.ErrorIs(t, bank.Pay(ctx, "carol", testFee), wallet.ErrPaymentRejected)
	require.NoError(t, bank.Deposit(ctx, "dave", ledger.Amount(^uint64(0))))
	require.ErrorIs(t, bank.Deposit(ctx, "dave", 1), wallet.ErrBalanceOverflow)
	for addr, expected := range map[ledger.Address]ledger.Amount{
		"alice":    testFee,
		"bob":      testFee,
		"carol":    0,
		testEscrow: testFee,
	} {
		acct, err := bank.Account(ctx, addr)
		require.NoError(t, err)
		assert.Equal(t, expected, acct.Balance, "account %s", addr)
	}
	acct, err := bank.Account(ctx, "carol")
	require.NoError(t, err)
	assert.True(t, acct.RejectsPayments)
}

func TestWalletConcurrentDeposits(t *testing.T) {
	ctx := context.Background()
	db := newTestDatabase(t, "")
	defer db.Close()
	bank := db.Wallet(testEscrow)
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, bank.Deposit(ctx, "alice", testFee))
		}()
	}
	wg.Wait()
	acct, err := bank.Account(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 20*testFee, acct.Balance)
}

func TestProofStore(t *testing.T) {
	ctx := context.Background()
	db := newTestDatabase(t, "")
	defer db.Close()
	proofs := db.ProofStore()
	_, err := proofs.Proof(ctx, 1)
	require.ErrorIs(t, err, vrfcoord.ErrProofNotFound)
	f := &vrfcoord.Fulfillment{
		RequestID:   1,
		KeyHash:     make([]byte, 32),
		Consumer:    "raffle",
		Alpha:       []byte{1, 2, 3},
		Proof:       []byte{4, 5, 6},
		Output:      []byte{7, 8, 9},
		RandomWords: [][]byte{{0xff}},
		Payment:     42,
		FulfilledAt: 1_700_000_000,
	}
	require.NoError(t, proofs.SaveProof(ctx, f))
	got, err := proofs.Proof(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, f.Consumer, got.Consumer)
	assert.Equal(t, f.Proof, got.Proof)
	assert.Equal(t, f.RandomWords, got.RandomWords)
	assert.Equal(t, f.Payment, got.Payment)
}

type stubOracle struct {
	lastID oracle.RequestID
}

func (s *stubOracle) Request(
	_ context.Context,
	_ oracle.RequestParams,
) (oracle.RequestID, error) {
	s.lastID++
	return s.lastID, nil
}

func newMachine(
	t *testing.T,
	db *database.Database,
	now func() time.Time,
	requester round.Requester,
) *round.Machine {
	t.Helper()
	m, err := round.New(context.Background(), round.Config{
		Logger:      slogt.New(t),
		Store:       db.RoundStore(),
		Bank:        db.Wallet(testEscrow),
		Oracle:      requester,
		Clock:       now,
		Address:     testEscrow,
		EntranceFee: testFee,
		Interval:    time.Minute,
	})
	require.NoError(t, err)
	return m
}

func TestMachineRestart(t *testing.T) {
	ctx := context.Background()
	dataDir := t.TempDir()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	requester := &stubOracle{}

	db := newTestDatabase(t, dataDir)
	bank := db.Wallet(testEscrow)
	m := newMachine(t, db, clock, requester)
	for _, addr := range []ledger.Address{"alice", "bob"} {
		require.NoError(t, bank.Deposit(ctx, addr, testFee))
		require.NoError(t, m.Enter(ctx, addr, testFee))
	}
	now = now.Add(2 * time.Minute)
	requestID, err := m.PerformUpkeep(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db = newTestDatabase(t, dataDir)
	defer db.Close()
	bank = db.Wallet(testEscrow)
	m = newMachine(t, db, clock, requester)
	assert.Equal(t, round.StateFinalizing, m.State())
	assert.Equal(t, 2, m.ParticipantCount())
	assert.Equal(t, 2*testFee, m.Balance())
	pending, ok := m.PendingRequest()
	require.True(t, ok)
	assert.Equal(t, requestID, pending)

	require.NoError(t, m.OnRandomnessReceived(ctx, requestID, []*big.Int{big.NewInt(3)}))
	assert.Equal(t, ledger.Address("bob"), m.RecentWinner())
	assert.Equal(t, round.StateOpen, m.State())
	assert.Equal(t, 0, m.ParticipantCount())
	assert.Equal(t, ledger.Amount(0), m.Balance())
	acct, err := bank.Account(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 2*testFee, acct.Balance)
	winners, err := m.Winners(ctx, 10)
	require.NoError(t, err)
	require.Len(t, winners, 1)
	assert.Equal(t, requestID, winners[0].RequestID)
}
