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

// Package oracle is the boundary between the raffle and an external
// verifiable-randomness service. Requests go out through a Coordinator and
// fulfillments come back through Client.Deliver, which only accepts calls
// from the configured coordinator address.
package oracle

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strconv"

	"github.com/blinklabs-io/raffle/ledger"
)

var (
	ErrOracleUnavailable    = errors.New("randomness oracle unavailable")
	ErrUnauthorizedCallback = errors.New("unauthorized randomness callback")
	ErrNoConsumer           = errors.New("no randomness consumer bound")
	ErrInvalidKeyHash       = errors.New("invalid key hash")
)

// RequestID is the identifier the coordinator assigns to a randomness request
type RequestID uint64

func (r RequestID) String() string {
	return strconv.FormatUint(uint64(r), 10)
}

// KeyHash identifies the coordinator proving key, also known as the gas lane
type KeyHash [32]byte

func (k KeyHash) String() string {
	return hex.EncodeToString(k[:])
}

// ParseKeyHash decodes a hex key hash with an optional 0x prefix
func ParseKeyHash(s string) (KeyHash, error) {
	var ret KeyHash
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return ret, fmt.Errorf("%w: %w", ErrInvalidKeyHash, err)
	}
	if len(b) != len(ret) {
		return ret, fmt.Errorf(
			"%w: expected %d bytes, got %d",
			ErrInvalidKeyHash,
			len(ret),
			len(b),
		)
	}
	copy(ret[:], b)
	return ret, nil
}

// RequestParams carries everything the coordinator needs to serve a request
type RequestParams struct {
	KeyHash              KeyHash
	Consumer             ledger.Address
	SubscriptionID       uint64
	RoundNumber          uint64
	CallbackGasLimit     uint32
	NumWords             uint32
	RequestConfirmations uint16
}

// Coordinator is the external randomness service
type Coordinator interface {
	RequestRandomWords(ctx context.Context, params RequestParams) (RequestID, error)
}

// Consumer receives validated fulfillments
type Consumer interface {
	OnRandomnessReceived(
		ctx context.Context,
		requestID RequestID,
		randomWords []*big.Int,
	) error
}

// CallbackReceiver is the inbound entry point a coordinator invokes to
// deliver random words
type CallbackReceiver interface {
	Deliver(
		ctx context.Context,
		caller ledger.Address,
		requestID RequestID,
		randomWords []*big.Int,
	) error
}
