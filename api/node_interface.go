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

package api

import (
	"context"
	"math/big"

	"github.com/blinklabs-io/raffle/ledger"
	"github.com/blinklabs-io/raffle/oracle"
	"github.com/blinklabs-io/raffle/oracle/vrfcoord"
	"github.com/blinklabs-io/raffle/round"
	"github.com/blinklabs-io/raffle/wallet"
)

// Raffle is the subset of the round state machine served by the API. This
// decouples the HTTP server from the concrete machine and enables testing
// with mock implementations.
type Raffle interface {
	Enter(ctx context.Context, caller ledger.Address, amountPaid ledger.Amount) error
	CheckUpkeep(ctx context.Context) (bool, []byte)
	PerformUpkeep(ctx context.Context, performData []byte) (oracle.RequestID, error)
	RetryPayout(ctx context.Context) error
	CancelStalledRequest(ctx context.Context) (oracle.RequestID, error)
	Status() round.Status
	ParticipantAt(index int) (ledger.Address, error)
	Winners(ctx context.Context, limit int) ([]round.Winner, error)
}

// CallbackReceiver accepts randomness fulfillments on behalf of the raffle
type CallbackReceiver interface {
	Deliver(
		ctx context.Context,
		caller ledger.Address,
		requestID oracle.RequestID,
		randomWords []*big.Int,
	) error
}

// ProofSource looks up and verifies stored randomness proofs
type ProofSource interface {
	Proof(ctx context.Context, requestID oracle.RequestID) (*vrfcoord.Fulfillment, error)
	VerifyProof(ctx context.Context, requestID oracle.RequestID) (bool, error)
}

// Accounts exposes balances. Deposits are only served when enabled in the
// config.
type Accounts interface {
	Account(ctx context.Context, address ledger.Address) (wallet.Account, error)
	Deposit(ctx context.Context, to ledger.Address, amount ledger.Amount) error
}
