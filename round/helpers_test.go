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
	"sync"
	"testing"
	"time"

	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/raffle/ledger"
	"github.com/blinklabs-io/raffle/oracle"
	"github.com/blinklabs-io/raffle/round"
	"github.com/blinklabs-io/raffle/wallet"
)

const (
	testEntranceFee = ledger.Amount(10_000_000_000_000_000)
	testInterval    = 30 * time.Second
	testAddress     = ledger.Address("raffle")
)

var errOracleDown = errors.New("oracle down")

type testClock struct {
	now time.Time
	mu  sync.Mutex
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeOracle struct {
	err      error
	requests []oracle.RequestParams
	lastID   oracle.RequestID
	mu       sync.Mutex
}

func (f *fakeOracle) Request(
	_ context.Context,
	params oracle.RequestParams,
) (oracle.RequestID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.lastID++
	f.requests = append(f.requests, params)
	return f.lastID, nil
}

func (f *fakeOracle) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeOracle) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type harness struct {
	machine *round.Machine
	wallet  *wallet.Memory
	oracle  *fakeOracle
	clock   *testClock
	store   *round.MemoryStore
}

func newHarness(t *testing.T, opts ...func(*round.Config)) *harness {
	t.Helper()
	h := &harness{
		wallet: wallet.NewMemory(testAddress),
		oracle: &fakeOracle{},
		clock:  newTestClock(),
		store:  round.NewMemoryStore(),
	}
	cfg := round.Config{
		Logger:           slogt.New(t),
		Store:            h.store,
		Bank:             h.wallet,
		Oracle:           h.oracle,
		Clock:            h.clock.Now,
		Address:          testAddress,
		EntranceFee:      testEntranceFee,
		Interval:         testInterval,
		KeyHash:          oracle.KeyHash{0x47, 0x4e},
		SubscriptionID:   1,
		CallbackGasLimit: 500_000,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	m, err := round.New(context.Background(), cfg)
	require.NoError(t, err)
	h.machine = m
	return h
}

// enter funds the caller and enters the round
func (h *harness) enter(t *testing.T, caller ledger.Address, amount ledger.Amount) error {
	t.Helper()
	require.NoError(t, h.wallet.Deposit(context.Background(), caller, amount))
	return h.machine.Enter(context.Background(), caller, amount)
}

func (h *harness) balanceOf(t *testing.T, address ledger.Address) ledger.Amount {
	t.Helper()
	acct, err := h.wallet.Account(context.Background(), address)
	require.NoError(t, err)
	return acct.Balance
}

// close enters nothing, waits out the interval and triggers finalization
func (h *harness) close(t *testing.T) oracle.RequestID {
	t.Helper()
	h.clock.Advance(testInterval)
	needed, _ := h.machine.CheckUpkeep(context.Background())
	require.True(t, needed)
	requestID, err := h.machine.PerformUpkeep(context.Background(), nil)
	require.NoError(t, err)
	return requestID
}

func requireConsistent(t *testing.T, m *round.Machine) {
	t.Helper()
	_, pending := m.PendingRequest()
	require.Equal(
		t,
		m.State() == round.StateFinalizing,
		pending,
		"pending request must be set exactly while finalizing",
	)
}
