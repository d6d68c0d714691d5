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

package round_test

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/raffle/event"
	"github.com/blinklabs-io/raffle/ledger"
	"github.com/blinklabs-io/raffle/oracle"
	"github.com/blinklabs-io/raffle/round"
	"github.com/blinklabs-io/raffle/wallet"
)

func TestNewMachine(t *testing.T) {
	h := newHarness(t)
	m := h.machine
	assert.Equal(t, round.StateOpen, m.State())
	assert.Equal(t, uint64(1), m.RoundNumber())
	assert.Equal(t, h.clock.Now(), m.LastFinalizedAt())
	assert.Equal(t, testEntranceFee, m.EntranceFee())
	assert.Equal(t, testInterval, m.Interval())
	assert.Equal(t, ledger.Amount(0), m.Balance())
	assert.Equal(t, 0, m.ParticipantCount())
	assert.Equal(t, ledger.Address(""), m.RecentWinner())
	requireConsistent(t, m)
}

func TestNewMachineValidation(t *testing.T) {
	ctx := context.Background()
	_, err := round.New(ctx, round.Config{Oracle: &fakeOracle{}})
	require.Error(t, err)
	_, err = round.New(ctx, round.Config{Bank: wallet.NewMemory(testAddress)})
	require.Error(t, err)
	_, err = round.New(ctx, round.Config{
		Bank:     wallet.NewMemory(testAddress),
		Oracle:   &fakeOracle{},
		Interval: -time.Second,
	})
	require.Error(t, err)
}

// A single entrant wins the whole pool and the next round opens
func TestScenarioSingleEntrant(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	m := h.machine
	require.NoError(t, h.enter(t, "alice", testEntranceFee))
	assert.Equal(t, ledger.Amount(0), h.balanceOf(t, "alice"))
	assert.Equal(t, testEntranceFee, h.balanceOf(t, testAddress))

	needed, _ := m.CheckUpkeep(ctx)
	require.False(t, needed)
	h.clock.Advance(testInterval)
	needed, performData := m.CheckUpkeep(ctx)
	require.True(t, needed)
	require.NotEmpty(t, performData)

	requestID, err := m.PerformUpkeep(ctx, performData)
	require.NoError(t, err)
	assert.Equal(t, round.StateFinalizing, m.State())
	pending, ok := m.PendingRequest()
	require.True(t, ok)
	assert.Equal(t, requestID, pending)
	requireConsistent(t, m)

	req := h.oracle.requests[0]
	assert.Equal(t, testAddress, req.Consumer)
	assert.Equal(t, uint64(1), req.SubscriptionID)
	assert.Equal(t, uint32(500_000), req.CallbackGasLimit)
	assert.Equal(t, uint32(round.DefaultNumWords), req.NumWords)
	assert.Equal(t, round.DefaultRequestConfirmations, int(req.RequestConfirmations))

	h.clock.Advance(5 * time.Second)
	word, ok := new(big.Int).SetString("78541660797044910968829902406342334108369226379826116161446442989268089806461", 10)
	require.True(t, ok)
	require.NoError(t, m.OnRandomnessReceived(ctx, requestID, []*big.Int{word}))

	assert.Equal(t, round.StateOpen, m.State())
	assert.Equal(t, ledger.Address("alice"), m.RecentWinner())
	assert.Equal(t, testEntranceFee, h.balanceOf(t, "alice"))
	assert.Equal(t, ledger.Amount(0), h.balanceOf(t, testAddress))
	assert.Equal(t, ledger.Amount(0), m.Balance())
	assert.Equal(t, 0, m.ParticipantCount())
	assert.Equal(t, h.clock.Now(), m.LastFinalizedAt())
	assert.Equal(t, uint64(2), m.RoundNumber())
	requireConsistent(t, m)

	winners, err := m.Winners(ctx, 10)
	require.NoError(t, err)
	require.Len(t, winners, 1)
	assert.Equal(t, ledger.Address("alice"), winners[0].Winner)
	assert.Equal(t, testEntranceFee, winners[0].Amount)
	assert.Equal(t, uint64(1), winners[0].RoundNumber)
	assert.Equal(t, requestID, winners[0].RequestID)
}

// Finalization with no participants is refused
func TestScenarioNoParticipants(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.clock.Advance(testInterval * 2)
	needed, performData := h.machine.CheckUpkeep(ctx)
	assert.False(t, needed)
	assert.Empty(t, performData)
	_, err := h.machine.PerformUpkeep(ctx, nil)
	require.ErrorIs(t, err, round.ErrUpkeepNotNeeded)
	assert.Equal(t, round.StateOpen, h.machine.State())
	assert.Equal(t, 0, h.oracle.count())
	requireConsistent(t, h.machine)
}

// A fulfillment for a request other than the pending one changes nothing
func TestScenarioUnknownRequest(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.enter(t, "alice", testEntranceFee))
	requestID := h.close(t)
	err := h.machine.OnRandomnessReceived(ctx, requestID+1, []*big.Int{big.NewInt(1)})
	require.ErrorIs(t, err, round.ErrUnknownRequest)
	assert.Equal(t, round.StateFinalizing, h.machine.State())
	assert.Equal(t, testEntranceFee, h.machine.Balance())
	assert.Equal(t, 1, h.machine.ParticipantCount())
	requireConsistent(t, h.machine)

	// Nothing is pending while open either
	h2 := newHarness(t)
	err = h2.machine.OnRandomnessReceived(ctx, 1, []*big.Int{big.NewInt(1)})
	require.ErrorIs(t, err, round.ErrUnknownRequest)
}

// An underpaid entry is rejected without side effects
func TestScenarioInsufficientPayment(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.enter(t, "alice", testEntranceFee))
	err := h.enter(t, "bob", testEntranceFee-1)
	require.ErrorIs(t, err, round.ErrInsufficientPayment)
	assert.Equal(t, 1, h.machine.ParticipantCount())
	assert.Equal(t, testEntranceFee, h.machine.Balance())
	assert.Equal(t, testEntranceFee-1, h.balanceOf(t, "bob"))
	_, err = h.machine.ParticipantAt(1)
	require.ErrorIs(t, err, ledger.ErrIndexOutOfRange)
}

func TestEnterOrderAndDuplicates(t *testing.T) {
	h := newHarness(t)
	for _, p := range []ledger.Address{"alice", "bob", "alice"} {
		require.NoError(t, h.enter(t, p, testEntranceFee))
	}
	assert.Equal(
		t,
		[]ledger.Address{"alice", "bob", "alice"},
		h.machine.Participants(),
	)
	p, err := h.machine.ParticipantAt(2)
	require.NoError(t, err)
	assert.Equal(t, ledger.Address("alice"), p)
	_, err = h.machine.ParticipantAt(-1)
	require.ErrorIs(t, err, ledger.ErrIndexOutOfRange)
}

func TestEnterOverpaymentRetained(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.enter(t, "alice", testEntranceFee*3))
	assert.Equal(t, testEntranceFee*3, h.machine.Balance())
	assert.Equal(t, 1, h.machine.ParticipantCount())
}

func TestEnterWithoutFunds(t *testing.T) {
	h := newHarness(t)
	err := h.machine.Enter(context.Background(), "pauper", testEntranceFee)
	require.ErrorIs(t, err, wallet.ErrInsufficientFunds)
	assert.Equal(t, 0, h.machine.ParticipantCount())
	assert.Equal(t, ledger.Amount(0), h.machine.Balance())
}

func TestEnterInvalidAddress(t *testing.T) {
	h := newHarness(t)
	err := h.machine.Enter(context.Background(), "", testEntranceFee)
	require.ErrorIs(t, err, ledger.ErrInvalidAddress)
}

func TestEnterWhileFinalizing(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.enter(t, "alice", testEntranceFee))
	h.close(t)
	err := h.enter(t, "bob", testEntranceFee)
	require.ErrorIs(t, err, round.ErrRoundNotOpen)
	assert.Equal(t, 1, h.machine.ParticipantCount())
	assert.Equal(t, testEntranceFee, h.balanceOf(t, "bob"))
	// The fee check comes first
	err = h.enter(t, "bob", 1)
	require.ErrorIs(t, err, round.ErrInsufficientPayment)
}

func TestPerformUpkeepOracleUnavailable(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.enter(t, "alice", testEntranceFee))
	h.clock.Advance(testInterval)
	h.oracle.setErr(errOracleDown)
	_, err := h.machine.PerformUpkeep(ctx, nil)
	require.ErrorIs(t, err, oracle.ErrOracleUnavailable)
	require.ErrorIs(t, err, errOracleDown)
	assert.Equal(t, round.StateOpen, h.machine.State())
	requireConsistent(t, h.machine)

	h.oracle.setErr(nil)
	_, err = h.machine.PerformUpkeep(ctx, nil)
	require.NoError(t, err)
}

func TestPerformUpkeepTwice(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.enter(t, "alice", testEntranceFee))
	first := h.close(t)
	_, err := h.machine.PerformUpkeep(ctx, nil)
	require.ErrorIs(t, err, round.ErrUpkeepNotNeeded)
	pending, _ := h.machine.PendingRequest()
	assert.Equal(t, first, pending)
	assert.Equal(t, 1, h.oracle.count())
}

func TestOnRandomnessReceivedNoWords(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.enter(t, "alice", testEntranceFee))
	requestID := h.close(t)
	require.ErrorIs(
		t,
		h.machine.OnRandomnessReceived(ctx, requestID, nil),
		round.ErrNoRandomWords,
	)
	assert.Equal(t, round.StateFinalizing, h.machine.State())
	require.NoError(
		t,
		h.machine.OnRandomnessReceived(ctx, requestID, []*big.Int{big.NewInt(0)}),
	)
}

func TestWinnerIndexIsWordModCount(t *testing.T) {
	huge, ok := new(big.Int).SetString(
		"115792089237316195423570985008687907853269984665640564039457584007913129639935",
		10,
	)
	require.True(t, ok)
	participants := []ledger.Address{"p0", "p1", "p2"}
	testDefs := []struct {
		word *big.Int
		want ledger.Address
	}{
		{big.NewInt(0), "p0"},
		{big.NewInt(1), "p1"},
		{big.NewInt(5), "p2"},
		{big.NewInt(9), "p0"},
		// 2^256-1 mod 3 == 0
		{huge, "p0"},
		{new(big.Int).Sub(huge, big.NewInt(1)), "p2"},
	}
	for _, test := range testDefs {
		t.Run(test.word.String(), func(t *testing.T) {
			ctx := context.Background()
			h := newHarness(t)
			for _, p := range participants {
				require.NoError(t, h.enter(t, p, testEntranceFee))
			}
			requestID := h.close(t)
			require.NoError(
				t,
				h.machine.OnRandomnessReceived(ctx, requestID, []*big.Int{test.word}),
			)
			assert.Equal(t, test.want, h.machine.RecentWinner())
			assert.Equal(
				t,
				testEntranceFee*ledger.Amount(len(participants)),
				h.balanceOf(t, test.want),
			)
		})
	}
}

// Only payout sets the pool back to zero
func TestBalanceOnlyClearedByPayout(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.enter(t, "alice", testEntranceFee))
	require.NoError(t, h.enter(t, "bob", testEntranceFee))
	requestID := h.close(t)
	_ = h.machine.OnRandomnessReceived(ctx, requestID+5, []*big.Int{big.NewInt(1)})
	_ = h.machine.OnRandomnessReceived(ctx, requestID, nil)
	_ = h.machine.RetryPayout(ctx)
	_, _ = h.machine.CancelStalledRequest(ctx)
	assert.Equal(t, testEntranceFee*2, h.machine.Balance())
	require.NoError(t, h.machine.OnRandomnessReceived(ctx, requestID, []*big.Int{big.NewInt(1)}))
	assert.Equal(t, ledger.Amount(0), h.machine.Balance())
}

func TestUpkeepConditionCombinations(t *testing.T) {
	for combo := range 16 {
		timePassed := combo&1 != 0
		open := combo&2 != 0
		hasBalance := combo&4 != 0
		hasPlayers := combo&8 != 0
		name := fmt.Sprintf(
			"time=%t/open=%t/balance=%t/players=%t",
			timePassed, open, hasBalance, hasPlayers,
		)
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			clock := newTestClock()
			store := round.NewMemoryStore()
			rec := round.Record{
				Number:          1,
				State:           round.StateOpen,
				LastFinalizedAt: clock.Now().Add(-testInterval / 2),
			}
			if timePassed {
				rec.LastFinalizedAt = clock.Now().Add(-testInterval)
			}
			if !open {
				pending := oracle.RequestID(100)
				rec.State = round.StateFinalizing
				rec.PendingRequest = &pending
			}
			if hasBalance {
				rec.Balance = testEntranceFee
			}
			require.NoError(t, store.SaveRound(ctx, rec))
			if hasPlayers {
				require.NoError(t, store.AppendEntry(ctx, round.Entry{
					Participant: "alice",
					RoundNumber: 1,
				}))
			}
			fo := &fakeOracle{lastID: 100}
			m, err := round.New(ctx, round.Config{
				Store:       store,
				Bank:        wallet.NewMemory(testAddress),
				Oracle:      fo,
				Clock:       clock.Now,
				Address:     testAddress,
				EntranceFee: testEntranceFee,
				Interval:    testInterval,
			})
			require.NoError(t, err)
			want := timePassed && open && hasBalance && hasPlayers
			needed, performData := m.CheckUpkeep(ctx)
			assert.Equal(t, want, needed)
			if !want {
				assert.Empty(t, performData)
			}
			// Reads are idempotent
			again, _ := m.CheckUpkeep(ctx)
			assert.Equal(t, needed, again)

			_, err = m.PerformUpkeep(ctx, performData)
			if want {
				require.NoError(t, err)
				assert.Equal(t, round.StateFinalizing, m.State())
			} else {
				require.ErrorIs(t, err, round.ErrUpkeepNotNeeded)
				assert.Equal(t, 0, fo.count())
				assert.Equal(t, open, m.State() == round.StateOpen)
			}
			requireConsistent(t, m)
		})
	}
}

func TestFairness(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping fairness test in short mode")
	}
	const (
		rounds = 1200
		// Allowed deviation is roughly five standard deviations
		tolerance = 80
	)
	ctx := context.Background()
	h := newHarness(t)
	participants := []ledger.Address{"alice", "bob", "carol", "dave"}
	wins := make(map[ledger.Address]int)
	rng := rand.New(rand.NewPCG(1, 2)) // #nosec G404 -- test only
	for range rounds {
		for _, p := range participants {
			require.NoError(t, h.enter(t, p, testEntranceFee))
		}
		requestID := h.close(t)
		word := new(big.Int).SetUint64(rng.Uint64())
		word.Lsh(word, 64).Or(word, new(big.Int).SetUint64(rng.Uint64()))
		require.NoError(t, h.machine.OnRandomnessReceived(ctx, requestID, []*big.Int{word}))
		wins[h.machine.RecentWinner()]++
		requireConsistent(t, h.machine)
	}
	expected := rounds / len(participants)
	for _, p := range participants {
		assert.InDelta(t, expected, wins[p], tolerance, "participant %s", p)
	}
	assert.Equal(t, uint64(rounds+1), h.machine.RoundNumber())
}

func TestPayoutFailureAndRetry(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.enter(t, "alice", testEntranceFee))
	require.NoError(t, h.enter(t, "bob", testEntranceFee))
	require.NoError(t, h.wallet.SetRejectsPayments(ctx, "bob", true))
	requestID := h.close(t)

	err := h.machine.OnRandomnessReceived(ctx, requestID, []*big.Int{big.NewInt(1)})
	require.ErrorIs(t, err, round.ErrPayoutFailed)
	require.ErrorIs(t, err, wallet.ErrPaymentRejected)
	assert.Equal(t, round.StateFinalizing, h.machine.State())
	assert.Equal(t, testEntranceFee*2, h.machine.Balance())
	assert.Equal(t, testEntranceFee*2, h.balanceOf(t, testAddress))
	status := h.machine.Status()
	assert.Equal(t, ledger.Address("bob"), status.DrawnWinner)
	requireConsistent(t, h.machine)

	require.ErrorIs(t, h.machine.RetryPayout(ctx), round.ErrPayoutFailed)

	// A redelivery with a different word does not re-draw
	err = h.machine.OnRandomnessReceived(ctx, requestID, []*big.Int{big.NewInt(0)})
	require.ErrorIs(t, err, round.ErrPayoutFailed)
	assert.Equal(t, ledger.Address("bob"), h.machine.Status().DrawnWinner)

	require.NoError(t, h.wallet.SetRejectsPayments(ctx, "bob", false))
	require.NoError(t, h.machine.RetryPayout(ctx))
	assert.Equal(t, round.StateOpen, h.machine.State())
	assert.Equal(t, ledger.Address("bob"), h.machine.RecentWinner())
	assert.Equal(t, testEntranceFee*2, h.balanceOf(t, "bob"))
	assert.Equal(t, uint64(2), h.machine.RoundNumber())
	requireConsistent(t, h.machine)

	require.ErrorIs(t, h.machine.RetryPayout(ctx), round.ErrNoPayoutPending)
}

func TestPayoutRetryByRedelivery(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.enter(t, "alice", testEntranceFee))
	require.NoError(t, h.wallet.SetRejectsPayments(ctx, "alice", true))
	requestID := h.close(t)
	require.ErrorIs(
		t,
		h.machine.OnRandomnessReceived(ctx, requestID, []*big.Int{big.NewInt(3)}),
		round.ErrPayoutFailed,
	)
	require.NoError(t, h.wallet.SetRejectsPayments(ctx, "alice", false))
	require.NoError(
		t,
		h.machine.OnRandomnessReceived(ctx, requestID, []*big.Int{big.NewInt(3)}),
	)
	assert.Equal(t, ledger.Address("alice"), h.machine.RecentWinner())
}

func TestCancelStalledRequestDisabled(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.enter(t, "alice", testEntranceFee))
	h.close(t)
	h.clock.Advance(24 * time.Hour)
	_, err := h.machine.CancelStalledRequest(ctx)
	require.ErrorIs(t, err, round.ErrRequestNotStalled)
	assert.Equal(t, round.StateFinalizing, h.machine.State())
}

func TestCancelStalledRequest(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, func(cfg *round.Config) {
		cfg.RequestTimeout = time.Minute
	})
	_, err := h.machine.CancelStalledRequest(ctx)
	require.ErrorIs(t, err, round.ErrRequestNotStalled)

	require.NoError(t, h.enter(t, "alice", testEntranceFee))
	require.NoError(t, h.enter(t, "bob", testEntranceFee))
	first := h.close(t)
	h.clock.Advance(30 * time.Second)
	_, err = h.machine.CancelStalledRequest(ctx)
	require.ErrorIs(t, err, round.ErrRequestNotStalled)

	h.clock.Advance(30 * time.Second)
	cancelled, err := h.machine.CancelStalledRequest(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, cancelled)
	assert.Equal(t, round.StateOpen, h.machine.State())
	assert.Equal(t, 2, h.machine.ParticipantCount())
	assert.Equal(t, testEntranceFee*2, h.machine.Balance())
	assert.Equal(t, uint64(1), h.machine.RoundNumber())
	requireConsistent(t, h.machine)

	// The round can take entries again and is immediately due
	require.NoError(t, h.enter(t, "carol", testEntranceFee))
	needed, _ := h.machine.CheckUpkeep(ctx)
	require.True(t, needed)
	second, err := h.machine.PerformUpkeep(ctx, nil)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	err = h.machine.OnRandomnessReceived(ctx, first, []*big.Int{big.NewInt(0)})
	require.ErrorIs(t, err, round.ErrUnknownRequest)
	require.NoError(t, h.machine.OnRandomnessReceived(ctx, second, []*big.Int{big.NewInt(2)}))
	assert.Equal(t, ledger.Address("carol"), h.machine.RecentWinner())
}

func TestCancelStalledRequestAfterDraw(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, func(cfg *round.Config) {
		cfg.RequestTimeout = time.Minute
	})
	require.NoError(t, h.enter(t, "alice", testEntranceFee))
	require.NoError(t, h.wallet.SetRejectsPayments(ctx, "alice", true))
	requestID := h.close(t)
	require.ErrorIs(
		t,
		h.machine.OnRandomnessReceived(ctx, requestID, []*big.Int{big.NewInt(0)}),
		round.ErrPayoutFailed,
	)
	h.clock.Advance(time.Hour)
	_, err := h.machine.CancelStalledRequest(ctx)
	require.ErrorIs(t, err, round.ErrRequestNotStalled)
}

func TestRestoreFromStore(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.enter(t, "alice", testEntranceFee))
	require.NoError(t, h.enter(t, "bob", testEntranceFee*2))
	requestID := h.close(t)

	restored, err := round.New(ctx, round.Config{
		Store:       h.store,
		Bank:        h.wallet,
		Oracle:      h.oracle,
		Clock:       h.clock.Now,
		Address:     testAddress,
		EntranceFee: testEntranceFee,
		Interval:    testInterval,
	})
	require.NoError(t, err)
	assert.Equal(t, round.StateFinalizing, restored.State())
	pending, ok := restored.PendingRequest()
	require.True(t, ok)
	assert.Equal(t, requestID, pending)
	assert.Equal(t, []ledger.Address{"alice", "bob"}, restored.Participants())
	assert.Equal(t, testEntranceFee*3, restored.Balance())
	pendingID, params, ok := restored.PendingRequestParams()
	require.True(t, ok)
	assert.Equal(t, requestID, pendingID)
	assert.Equal(t, h.oracle.requests[0].RoundNumber, params.RoundNumber)
	assert.Equal(t, testAddress, params.Consumer)
	require.NoError(t, restored.OnRandomnessReceived(ctx, requestID, []*big.Int{big.NewInt(1)}))
	assert.Equal(t, ledger.Address("bob"), restored.RecentWinner())
	_, _, ok = restored.PendingRequestParams()
	assert.False(t, ok)
}

func TestRestoreRejectsInconsistentStore(t *testing.T) {
	ctx := context.Background()
	store := round.NewMemoryStore()
	require.NoError(t, store.SaveRound(ctx, round.Record{
		Number: 1,
		State:  round.StateFinalizing,
	}))
	_, err := round.New(ctx, round.Config{
		Store:  store,
		Bank:   wallet.NewMemory(testAddress),
		Oracle: &fakeOracle{},
	})
	require.Error(t, err)
}

type failingStore struct {
	*round.MemoryStore
	failEntries bool
}

func (f *failingStore) AppendEntry(ctx context.Context, entry round.Entry) error {
	if f.failEntries {
		return errors.New("disk full")
	}
	return f.MemoryStore.AppendEntry(ctx, entry)
}

func TestStoreFailureLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{MemoryStore: round.NewMemoryStore()}
	h := newHarness(t, func(cfg *round.Config) {
		cfg.Store = store
	})
	require.NoError(t, h.enter(t, "alice", testEntranceFee))
	store.failEntries = true
	require.Error(t, h.enter(t, "bob", testEntranceFee))
	assert.Equal(t, 1, h.machine.ParticipantCount())
	assert.Equal(t, testEntranceFee, h.machine.Balance())
	assert.Equal(t, testEntranceFee, h.balanceOf(t, "bob"))
	persisted, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, testEntranceFee, persisted.Round.Balance)
	assert.Len(t, persisted.Participants, 1)
}

func TestConcurrentEntries(t *testing.T) {
	h := newHarness(t)
	const entrants = 50
	for i := range entrants {
		require.NoError(
			t,
			h.wallet.Deposit(context.Background(), ledger.Address(fmt.Sprintf("p%d", i)), testEntranceFee),
		)
	}
	var wg sync.WaitGroup
	for i := range entrants {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(
				t,
				h.machine.Enter(context.Background(), ledger.Address(fmt.Sprintf("p%d", i)), testEntranceFee),
			)
		}()
	}
	wg.Wait()
	assert.Equal(t, entrants, h.machine.ParticipantCount())
	assert.Equal(t, testEntranceFee*entrants, h.machine.Balance())
	assert.Equal(t, testEntranceFee*entrants, h.balanceOf(t, testAddress))
}

func TestEventsPublished(t *testing.T) {
	ctx := context.Background()
	bus := event.NewEventBus(nil, nil)
	defer bus.Close()
	_, enteredCh := bus.Subscribe(event.EnteredEventType)
	_, finalizeCh := bus.Subscribe(event.FinalizeRequestedEventType)
	_, winnerCh := bus.Subscribe(event.WinnerPickedEventType)
	h := newHarness(t, func(cfg *round.Config) {
		cfg.EventBus = bus
	})
	require.NoError(t, h.enter(t, "alice", testEntranceFee))
	requestID := h.close(t)
	require.NoError(t, h.machine.OnRandomnessReceived(ctx, requestID, []*big.Int{big.NewInt(9)}))

	waitFor := func(ch <-chan event.Event) event.Event {
		select {
		case evt := <-ch:
			return evt
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for event")
		}
		return event.Event{}
	}
	entered, ok := waitFor(enteredCh).Data.(event.EnteredEvent)
	require.True(t, ok)
	assert.Equal(t, "alice", entered.Participant)
	assert.Equal(t, uint64(testEntranceFee), entered.Amount)

	finalize, ok := waitFor(finalizeCh).Data.(event.FinalizeRequestedEvent)
	require.True(t, ok)
	assert.Equal(t, uint64(requestID), finalize.RequestId)
	assert.Equal(t, 1, finalize.Participants)

	winner, ok := waitFor(winnerCh).Data.(event.WinnerPickedEvent)
	require.True(t, ok)
	assert.Equal(t, "alice", winner.Winner)
	assert.Equal(t, uint64(1), winner.RoundNumber)
	assert.Equal(t, 0, winner.RandomWord.Cmp(big.NewInt(9)))
}
