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
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/blinklabs-io/raffle/ledger"
	"github.com/blinklabs-io/raffle/oracle"
	"github.com/blinklabs-io/raffle/round"
)

// maxBodySize bounds request bodies. A callback with the maximum number of
// words fits comfortably.
const maxBodySize = 64 * 1024

// writeJSON writes a JSON response with the given status code
func writeJSON(
	w http.ResponseWriter,
	status int,
	v any,
) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck,errchkjson
	json.NewEncoder(w).Encode(v)
}

// writeError writes an error response with the status mapped from err
func (s *Server) writeError(
	w http.ResponseWriter,
	r *http.Request,
	err error,
) {
	status := errorStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(
			"request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
	} else {
		s.logger.Debug(
			"request rejected",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"error", err,
		)
	}
	writeJSON(w, status, ErrorResponse{
		StatusCode: status,
		Error:      http.StatusText(status),
		Message:    err.Error(),
	})
}

// decodeBody decodes a JSON request body. An empty body leaves v unchanged
// when allowEmpty is set.
func decodeBody(
	w http.ResponseWriter,
	r *http.Request,
	v any,
	allowEmpty bool,
) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("%w: %w", ErrInvalidRequestBody, err)
	}
	return nil
}

func parseRequestID(val string) (oracle.RequestID, error) {
	tmpID, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: request id %q", ErrInvalidRequestBody, val)
	}
	return oracle.RequestID(tmpID), nil
}

func (s *Server) handleHealth(
	w http.ResponseWriter,
	_ *http.Request,
) {
	writeJSON(w, http.StatusOK, HealthResponse{
		IsHealthy: true,
	})
}

// handleRaffle handles GET /api/v0/raffle
func (s *Server) handleRaffle(
	w http.ResponseWriter,
	_ *http.Request,
) {
	status := s.config.Raffle.Status()
	resp := RaffleResponse{
		State:           status.State.String(),
		RecentWinner:    string(status.RecentWinner),
		DrawnWinner:     string(status.DrawnWinner),
		RoundNumber:     status.RoundNumber,
		Balance:         uint64(status.Balance),
		EntranceFee:     uint64(status.EntranceFee),
		Participants:    status.Participants,
		Interval:        int64(status.Interval.Seconds()),
		LastFinalizedAt: status.LastFinalizedAt.Unix(),
	}
	if status.PendingRequest != nil {
		tmpID := status.PendingRequest.String()
		resp.PendingRequest = &tmpID
	}
	if !status.RequestedAt.IsZero() {
		resp.RequestedAt = status.RequestedAt.Unix()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleEnter handles POST /api/v0/raffle/enter
func (s *Server) handleEnter(
	w http.ResponseWriter,
	r *http.Request,
) {
	var req EnterRequest
	if err := decodeBody(w, r, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	err := s.config.Raffle.Enter(
		r.Context(),
		ledger.Address(req.Caller),
		ledger.Amount(req.Amount),
	)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status := s.config.Raffle.Status()
	writeJSON(w, http.StatusOK, EnterResponse{
		RoundNumber:  status.RoundNumber,
		Participants: status.Participants,
		Balance:      uint64(status.Balance),
	})
}

// handleParticipant handles GET /api/v0/raffle/participants/{index}
func (s *Server) handleParticipant(
	w http.ResponseWriter,
	r *http.Request,
) {
	indexParam := r.PathValue("index")
	index, err := strconv.Atoi(indexParam)
	if err != nil {
		// A malformed index can never be in range
		s.writeError(
			w,
			r,
			fmt.Errorf("%w: %q", ledger.ErrIndexOutOfRange, indexParam),
		)
		return
	}
	addr, err := s.config.Raffle.ParticipantAt(index)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ParticipantResponse{
		Address: string(addr),
		Index:   index,
	})
}

// handleWinners handles GET /api/v0/raffle/winners
func (s *Server) handleWinners(
	w http.ResponseWriter,
	r *http.Request,
) {
	params, err := ParsePagination(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	winners, err := s.config.Raffle.Winners(r.Context(), 0)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if params.Order == PaginationOrderAsc {
		slices.Reverse(winners)
	}
	SetPaginationHeaders(w, len(winners), params)
	start, end := params.Window(len(winners))
	resp := make([]WinnerResponse, 0, end-start)
	for _, winner := range winners[start:end] {
		resp = append(resp, winnerResponse(winner))
	}
	writeJSON(w, http.StatusOK, resp)
}

func winnerResponse(winner round.Winner) WinnerResponse {
	ret := WinnerResponse{
		Winner:      string(winner.Winner),
		RequestID:   winner.RequestID.String(),
		RoundNumber: winner.RoundNumber,
		Amount:      uint64(winner.Amount),
		PaidAt:      winner.PaidAt.Unix(),
	}
	if winner.RandomWord != nil {
		ret.RandomWord = winner.RandomWord.String()
	}
	return ret
}

// handleRetryPayout handles POST /api/v0/raffle/payout/retry
func (s *Server) handleRetryPayout(
	w http.ResponseWriter,
	r *http.Request,
) {
	if err := s.config.Raffle.RetryPayout(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.handleRaffle(w, r)
}

// handleCancelRequest handles POST /api/v0/raffle/request/cancel
func (s *Server) handleCancelRequest(
	w http.ResponseWriter,
	r *http.Request,
) {
	requestID, err := s.config.Raffle.CancelStalledRequest(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, RequestResponse{
		RequestID: requestID.String(),
	})
}

// handleCheckUpkeep handles GET /api/v0/upkeep
func (s *Server) handleCheckUpkeep(
	w http.ResponseWriter,
	r *http.Request,
) {
	needed, performData := s.config.Raffle.CheckUpkeep(r.Context())
	writeJSON(w, http.StatusOK, UpkeepResponse{
		UpkeepNeeded: needed,
		PerformData:  hex.EncodeToString(performData),
	})
}

// handlePerformUpkeep handles POST /api/v0/upkeep/perform. Anyone may call
// it; the state machine re-checks the upkeep conditions.
func (s *Server) handlePerformUpkeep(
	w http.ResponseWriter,
	r *http.Request,
) {
	var req PerformRequest
	if err := decodeBody(w, r, &req, true); err != nil {
		s.writeError(w, r, err)
		return
	}
	performData, err := hex.DecodeString(req.PerformData)
	if err != nil {
		s.writeError(
			w,
			r,
			fmt.Errorf("%w: perform data: %w", ErrInvalidRequestBody, err),
		)
		return
	}
	requestID, err := s.config.Raffle.PerformUpkeep(r.Context(), performData)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, RequestResponse{
		RequestID: requestID.String(),
	})
}

// callbackCaller resolves the bearer token to a caller address. Unknown
// tokens resolve to the empty address, which the callback receiver rejects.
func (s *Server) callbackCaller(r *http.Request) ledger.Address {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || token == "" {
		return ""
	}
	return s.config.CallbackTokens[token]
}

// handleCallback handles POST /api/v0/oracle/callback
func (s *Server) handleCallback(
	w http.ResponseWriter,
	r *http.Request,
) {
	caller := s.callbackCaller(r)
	var req CallbackRequest
	if err := decodeBody(w, r, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	requestID, err := parseRequestID(req.RequestID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	words := make([]*big.Int, 0, len(req.RandomWords))
	for _, wordStr := range req.RandomWords {
		word, ok := new(big.Int).SetString(wordStr, 10)
		if !ok || word.Sign() < 0 {
			s.writeError(
				w,
				r,
				fmt.Errorf("%w: random word %q", ErrInvalidRequestBody, wordStr),
			)
			return
		}
		words = append(words, word)
	}
	if err := s.config.Callback.Deliver(r.Context(), caller, requestID, words); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.handleRaffle(w, r)
}

// handleProof handles GET /api/v0/oracle/proofs/{requestId}
func (s *Server) handleProof(
	w http.ResponseWriter,
	r *http.Request,
) {
	if s.config.Proofs == nil {
		s.writeError(w, r, fmt.Errorf("%w: no proof source", ErrUnavailable))
		return
	}
	requestID, err := parseRequestID(r.PathValue("requestId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	proof, err := s.config.Proofs.Proof(r.Context(), requestID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	verified, err := s.config.Proofs.VerifyProof(r.Context(), requestID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := ProofResponse{
		RequestID:   oracle.RequestID(proof.RequestID).String(),
		KeyHash:     hex.EncodeToString(proof.KeyHash),
		Consumer:    proof.Consumer,
		Alpha:       hex.EncodeToString(proof.Alpha),
		Proof:       hex.EncodeToString(proof.Proof),
		Output:      hex.EncodeToString(proof.Output),
		Payment:     proof.Payment,
		FulfilledAt: proof.FulfilledAt,
		Overridden:  proof.Overridden,
		Verified:    verified,
	}
	for _, word := range proof.Words() {
		resp.RandomWords = append(resp.RandomWords, word.String())
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleAccount handles GET /api/v0/accounts/{address}
func (s *Server) handleAccount(
	w http.ResponseWriter,
	r *http.Request,
) {
	if s.config.Accounts == nil {
		s.writeError(w, r, fmt.Errorf("%w: no accounts", ErrUnavailable))
		return
	}
	s.writeAccount(w, r, ledger.Address(r.PathValue("address")))
}

func (s *Server) writeAccount(
	w http.ResponseWriter,
	r *http.Request,
	address ledger.Address,
) {
	acct, err := s.config.Accounts.Account(r.Context(), address)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, AccountResponse{
		Address:         string(acct.Address),
		Balance:         uint64(acct.Balance),
		RejectsPayments: acct.RejectsPayments,
	})
}

// handleDeposit handles POST /api/v0/accounts/{address}/deposit
func (s *Server) handleDeposit(
	w http.ResponseWriter,
	r *http.Request,
) {
	if s.config.Accounts == nil || !s.config.EnableDeposits {
		s.writeError(w, r, fmt.Errorf("%w: deposits disabled", ErrUnavailable))
		return
	}
	address := ledger.Address(r.PathValue("address"))
	var req DepositRequest
	if err := decodeBody(w, r, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.config.Accounts.Deposit(
		r.Context(),
		address,
		ledger.Amount(req.Amount),
	); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeAccount(w, r, address)
}
