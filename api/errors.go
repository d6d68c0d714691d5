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
	"errors"
	"net/http"

	"github.com/blinklabs-io/raffle/ledger"
	"github.com/blinklabs-io/raffle/oracle"
	"github.com/blinklabs-io/raffle/oracle/vrfcoord"
	"github.com/blinklabs-io/raffle/round"
	"github.com/blinklabs-io/raffle/wallet"
)

var (
	ErrInvalidRequestBody = errors.New("invalid request body")
	ErrUnavailable        = errors.New("endpoint not available")
)

var errorStatuses = []struct {
	err    error
	status int
}{
	// Input validation
	{ErrInvalidRequestBody, http.StatusBadRequest},
	{ErrInvalidPaginationParameters, http.StatusBadRequest},
	{round.ErrInsufficientPayment, http.StatusBadRequest},
	{round.ErrNoRandomWords, http.StatusBadRequest},
	{ledger.ErrPoolOverflow, http.StatusBadRequest},
	{ledger.ErrInvalidAddress, http.StatusBadRequest},
	{wallet.ErrInsufficientFunds, http.StatusBadRequest},
	{wallet.ErrBalanceOverflow, http.StatusBadRequest},
	// Authorization
	{oracle.ErrUnauthorizedCallback, http.StatusForbidden},
	// Lookup
	{ledger.ErrIndexOutOfRange, http.StatusNotFound},
	{vrfcoord.ErrProofNotFound, http.StatusNotFound},
	// State guards
	{round.ErrRoundNotOpen, http.StatusConflict},
	{round.ErrUpkeepNotNeeded, http.StatusConflict},
	{round.ErrUnknownRequest, http.StatusConflict},
	{round.ErrNoWinnerPool, http.StatusConflict},
	{round.ErrNoPayoutPending, http.StatusConflict},
	{round.ErrRequestNotStalled, http.StatusConflict},
	// Resources
	{round.ErrPayoutFailed, http.StatusBadGateway},
	{wallet.ErrPaymentRejected, http.StatusBadGateway},
	{oracle.ErrOracleUnavailable, http.StatusServiceUnavailable},
	{oracle.ErrNoConsumer, http.StatusServiceUnavailable},
	{ErrUnavailable, http.StatusServiceUnavailable},
}

// errorStatus maps an error to its HTTP status code
func errorStatus(err error) int {
	for _, tmpStatus := range errorStatuses {
		if errors.Is(err, tmpStatus.err) {
			return tmpStatus.status
		}
	}
	return http.StatusInternalServerError
}
