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

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	StatusCode int    `json:"status_code"`
	Error      string `json:"error"`
	Message    string `json:"message"`
}

// RaffleResponse describes the active round
type RaffleResponse struct {
	State           string  `json:"state"`
	RecentWinner    string  `json:"recent_winner"`
	DrawnWinner     string  `json:"drawn_winner,omitempty"`
	PendingRequest  *string `json:"pending_request_id"`
	RoundNumber     uint64  `json:"round_number"`
	Balance         uint64  `json:"balance"`
	EntranceFee     uint64  `json:"entrance_fee"`
	Participants    int     `json:"participants"`
	Interval        int64   `json:"interval_seconds"`
	LastFinalizedAt int64   `json:"last_finalized_at"`
	RequestedAt     int64   `json:"requested_at,omitempty"`
}

// EnterRequest is the body of an entry
type EnterRequest struct {
	Caller string `json:"caller"`
	Amount uint64 `json:"amount"`
}

// EnterResponse is returned for an accepted entry
type EnterResponse struct {
	RoundNumber  uint64 `json:"round_number"`
	Participants int    `json:"participants"`
	Balance      uint64 `json:"balance"`
}

// ParticipantResponse is a single entry by position
type ParticipantResponse struct {
	Address string `json:"address"`
	Index   int    `json:"index"`
}

// UpkeepResponse is the result of an upkeep check
type UpkeepResponse struct {
	PerformData  string `json:"perform_data"`
	UpkeepNeeded bool   `json:"upkeep_needed"`
}

// PerformRequest optionally carries the perform data from a prior check
type PerformRequest struct {
	PerformData string `json:"perform_data"`
}

// RequestResponse reports a randomness request id
type RequestResponse struct {
	RequestID string `json:"request_id"`
}

// CallbackRequest is a randomness fulfillment. Words are decimal strings
// since they are 256-bit values.
type CallbackRequest struct {
	RequestID   string   `json:"request_id"`
	RandomWords []string `json:"random_words"`
}

// WinnerResponse is a completed payout
type WinnerResponse struct {
	Winner      string `json:"winner"`
	RandomWord  string `json:"random_word"`
	RequestID   string `json:"request_id"`
	RoundNumber uint64 `json:"round_number"`
	Amount      uint64 `json:"amount"`
	PaidAt      int64  `json:"paid_at"`
}

// AccountResponse is the state of an account
type AccountResponse struct {
	Address         string `json:"address"`
	Balance         uint64 `json:"balance"`
	RejectsPayments bool   `json:"rejects_payments"`
}

// DepositRequest is the body of a development deposit
type DepositRequest struct {
	Amount uint64 `json:"amount"`
}

// ProofResponse is a stored fulfillment with its verification result
type ProofResponse struct {
	RequestID   string   `json:"request_id"`
	KeyHash     string   `json:"key_hash"`
	Consumer    string   `json:"consumer"`
	Alpha       string   `json:"alpha"`
	Proof       string   `json:"proof"`
	Output      string   `json:"output"`
	RandomWords []string `json:"random_words"`
	Payment     uint64   `json:"payment"`
	FulfilledAt int64    `json:"fulfilled_at"`
	Overridden  bool     `json:"overridden"`
	Verified    bool     `json:"verified"`
}

// HealthResponse reports server health
type HealthResponse struct {
	IsHealthy bool `json:"is_healthy"`
}
