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

package oracle_test

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/raffle/oracle"
)

type mockCoordinator struct {
	nextID oracle.RequestID
	err    error
	params []oracle.RequestParams
}

func (m *mockCoordinator) RequestRandomWords(
	_ context.Context,
	params oracle.RequestParams,
) (oracle.RequestID, error) {
	if m.err != nil {
		return 0, m.err
	}
	m.params = append(m.params, params)
	m.nextID++
	return m.nextID, nil
}

type mockConsumer struct {
	calls []oracle.RequestID
	words [][]*big.Int
}

func (m *mockConsumer) OnRandomnessReceived(
	_ context.Context,
	requestID oracle.RequestID,
	randomWords []*big.Int,
) error {
	m.calls = append(m.calls, requestID)
	m.words = append(m.words, randomWords)
	return nil
}

func newTestClient(t *testing.T, coord oracle.Coordinator) *oracle.Client {
	t.Helper()
	c, err := oracle.NewClient(oracle.ClientConfig{
		Coordinator:        coord,
		CoordinatorAddress: "coordinator",
	})
	require.NoError(t, err)
	return c
}

func TestClientRequest(t *testing.T) {
	coord := &mockCoordinator{}
	c := newTestClient(t, coord)
	id, err := c.Request(t.Context(), oracle.RequestParams{
		SubscriptionID: 1,
		NumWords:       1,
	})
	require.NoError(t, err)
	assert.Equal(t, oracle.RequestID(1), id)
	require.Len(t, coord.params, 1)
	assert.Equal(t, uint64(1), coord.params[0].SubscriptionID)
}

func TestClientRequestUnavailable(t *testing.T) {
	cause := errors.New("subscription underfunded")
	c := newTestClient(t, &mockCoordinator{err: cause})
	_, err := c.Request(t.Context(), oracle.RequestParams{})
	require.ErrorIs(t, err, oracle.ErrOracleUnavailable)
	require.ErrorIs(t, err, cause)
}

func TestClientDeliverAuthorization(t *testing.T) {
	c := newTestClient(t, &mockCoordinator{})
	consumer := &mockConsumer{}
	c.Bind(consumer)
	words := []*big.Int{big.NewInt(42)}

	err := c.Deliver(t.Context(), "mallory", 1, words)
	require.ErrorIs(t, err, oracle.ErrUnauthorizedCallback)
	assert.Empty(t, consumer.calls)

	require.NoError(t, c.Deliver(t.Context(), "coordinator", 1, words))
	assert.Equal(t, []oracle.RequestID{1}, consumer.calls)
	assert.Equal(t, int64(42), consumer.words[0][0].Int64())
}

func TestClientDeliverWithoutConsumer(t *testing.T) {
	c := newTestClient(t, &mockCoordinator{})
	err := c.Deliver(t.Context(), "coordinator", 1, nil)
	require.ErrorIs(t, err, oracle.ErrNoConsumer)
}

func TestNewClientValidation(t *testing.T) {
	_, err := oracle.NewClient(oracle.ClientConfig{CoordinatorAddress: "x"})
	require.Error(t, err)
	_, err = oracle.NewClient(oracle.ClientConfig{Coordinator: &mockCoordinator{}})
	require.Error(t, err)
}

func TestParseKeyHash(t *testing.T) {
	const lane = "0x474e34a077df58807dbe9c96d3c009b23b3c6d0cce433e59bbf5b34f823bc56c"
	kh, err := oracle.ParseKeyHash(lane)
	require.NoError(t, err)
	assert.Equal(t, lane[2:], kh.String())

	_, err = oracle.ParseKeyHash("0x1234")
	require.ErrorIs(t, err, oracle.ErrInvalidKeyHash)
	_, err = oracle.ParseKeyHash("zz")
	require.ErrorIs(t, err, oracle.ErrInvalidKeyHash)
}
