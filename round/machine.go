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

// Package round implements the raffle round state machine: it accepts
// entries while the round is open, requests randomness once upkeep is
// needed, picks and pays the winner when the randomness arrives, and then
// opens the next round.
package round

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/blinklabs-io/raffle/event"
	"github.com/blinklabs-io/raffle/ledger"
	"github.com/blinklabs-io/raffle/oracle"
	"github.com/blinklabs-io/raffle/upkeep"
)

const (
	DefaultNumWords             = 1
	DefaultRequestConfirmations = 3
)

// Bank moves funds in and out of the raffle escrow
type Bank interface {
	Collect(ctx context.Context, from ledger.Address, amount ledger.Amount) error
	Pay(ctx context.Context, to ledger.Address, amount ledger.Amount) error
}

// Requester issues randomness requests. The oracle client implements it.
// Implementations must not deliver the fulfillment before returning.
type Requester interface {
	Request(ctx context.Context, params oracle.RequestParams) (oracle.RequestID, error)
}

type Config struct {
	Logger       *slog.Logger
	PromRegistry prometheus.Registerer
	EventBus     *event.EventBus
	Store        Store
	Bank         Bank
	Oracle       Requester
	// Clock returns the current time. Defaults to time.Now
	Clock func() time.Time
	// Address is the raffle's own address, passed to the coordinator as the
	// consumer of its requests
	Address              ledger.Address
	EntranceFee          ledger.Amount
	Interval             time.Duration
	KeyHash              oracle.KeyHash
	SubscriptionID       uint64
	CallbackGasLimit     uint32
	NumWords             uint32
	RequestConfirmations uint16
	// RequestTimeout enables CancelStalledRequest when non-zero
	RequestTimeout time.Duration
}

// Status is a point-in-time view of the round
type Status struct {
	LastFinalizedAt time.Time
	RequestedAt     time.Time
	PendingRequest  *oracle.RequestID
	RecentWinner    ledger.Address
	DrawnWinner     ledger.Address
	RoundNumber     uint64
	Balance         ledger.Amount
	EntranceFee     ledger.Amount
	Participants    int
	Interval        time.Duration
	State           State
}

// Machine is the round state machine. Every public operation is serialized
// and either fully applies or leaves the round unchanged.
type Machine struct {
	config  Config
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *machineMetrics
	entries *ledger.Ledger
	round   Record
	mu      sync.Mutex
}

// New creates a state machine, restoring any round previously saved in the
// configured store
func New(ctx context.Context, cfg Config) (*Machine, error) {
	if cfg.Bank == nil {
		return nil, errors.New("no bank configured")
	}
	if cfg.Oracle == nil {
		return nil, errors.New("no randomness oracle configured")
	}
	if cfg.Interval < 0 {
		return nil, fmt.Errorf("invalid interval: %s", cfg.Interval)
	}
	if cfg.RequestTimeout < 0 {
		return nil, fmt.Errorf("invalid request timeout: %s", cfg.RequestTimeout)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.Store == nil {
		cfg.Store = NewMemoryStore()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.NumWords == 0 {
		cfg.NumWords = DefaultNumWords
	}
	if cfg.RequestConfirmations == 0 {
		cfg.RequestConfirmations = DefaultRequestConfirmations
	}
	m := &Machine{
		config: cfg,
		logger: cfg.Logger.With("component", "round"),
		tracer: otel.Tracer("github.com/blinklabs-io/raffle/round"),
	}
	if cfg.PromRegistry != nil {
		m.initMetrics(cfg.PromRegistry)
	}
	if err := m.load(ctx); err != nil {
		return nil, err
	}
	m.updateGauges()
	return m, nil
}

func (m *Machine) load(ctx context.Context) error {
	persisted, err := m.config.Store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load round: %w", err)
	}
	if persisted == nil {
		rec := Record{
			Number:          1,
			State:           StateOpen,
			LastFinalizedAt: m.config.Clock(),
		}
		err := m.config.Store.Atomic(ctx, func(ctx context.Context) error {
			return m.config.Store.SaveRound(ctx, rec)
		})
		if err != nil {
			return fmt.Errorf("save initial round: %w", err)
		}
		m.round = rec
		m.entries = ledger.New()
		return nil
	}
	rec := persisted.Round
	if (rec.PendingRequest != nil) != (rec.State == StateFinalizing) {
		return fmt.Errorf(
			"inconsistent stored round %d: state=%s pending=%v",
			rec.Number,
			rec.State,
			rec.PendingRequest != nil,
		)
	}
	m.round = rec.clone()
	m.entries = ledger.Restore(persisted.Participants, rec.Balance)
	m.logger.Info(
		"restored round",
		"round", rec.Number,
		"state", rec.State.String(),
		"participants", m.entries.Len(),
		"balance", uint64(rec.Balance),
	)
	return nil
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (m *Machine) publish(eventType event.EventType, data any) {
	if m.config.EventBus == nil {
		return
	}
	m.config.EventBus.PublishAsync(eventType, event.NewEvent(eventType, data))
}

func (m *Machine) reject(reason string) {
	if m.metrics != nil {
		m.metrics.rejectedEntries.WithLabelValues(reason).Inc()
	}
}

// Enter records a paid entry for the caller in the open round. Paying more
// than the entrance fee is allowed and the excess stays in the pool.
func (m *Machine) Enter(
	ctx context.Context,
	caller ledger.Address,
	amountPaid ledger.Amount,
) (err error) {
	ctx, span := m.tracer.Start(
		ctx,
		"round.Enter",
		trace.WithAttributes(
			attribute.String("caller", caller.String()),
			attribute.Int64("amount", int64(amountPaid)), // #nosec G115
		),
	)
	defer func() { endSpan(span, err) }()
	m.mu.Lock()
	defer m.mu.Unlock()
	if amountPaid < m.config.EntranceFee {
		m.reject("insufficient_payment")
		return fmt.Errorf(
			"%w: paid %d, entrance fee is %d",
			ErrInsufficientPayment,
			amountPaid,
			m.config.EntranceFee,
		)
	}
	if m.round.State != StateOpen {
		m.reject("not_open")
		return fmt.Errorf("%w: state is %s", ErrRoundNotOpen, m.round.State)
	}
	if err := m.entries.CanEnter(caller, amountPaid); err != nil {
		m.reject("invalid")
		return err
	}
	entry := Entry{
		Participant: caller,
		RoundNumber: m.round.Number,
		Index:       m.entries.Len(),
		Amount:      amountPaid,
	}
	next := m.round.clone()
	next.Balance += amountPaid
	err = m.config.Store.Atomic(ctx, func(ctx context.Context) error {
		if err := m.config.Store.AppendEntry(ctx, entry); err != nil {
			return fmt.Errorf("save entry: %w", err)
		}
		if err := m.config.Store.SaveRound(ctx, next); err != nil {
			return fmt.Errorf("save round: %w", err)
		}
		// Funds move last so a store failure never strands a payment
		if err := m.config.Bank.Collect(ctx, caller, amountPaid); err != nil {
			return fmt.Errorf("collect entry payment: %w", err)
		}
		return nil
	})
	if err != nil {
		m.reject("failed")
		return err
	}
	if err := m.entries.Enter(caller, amountPaid); err != nil {
		// Checked by CanEnter while holding the lock
		return err
	}
	m.round = next
	if m.metrics != nil {
		m.metrics.entries.Inc()
	}
	m.updateGauges()
	m.logger.Debug(
		"entry accepted",
		"round", entry.RoundNumber,
		"participant", caller.String(),
		"amount", uint64(amountPaid),
		"index", entry.Index,
	)
	m.publish(
		event.EnteredEventType,
		event.EnteredEvent{
			Participant: caller.String(),
			RoundNumber: entry.RoundNumber,
			Amount:      uint64(amountPaid),
			Index:       entry.Index,
		},
	)
	return nil
}

// snapshotLocked must be called with the machine lock held
func (m *Machine) snapshotLocked() upkeep.Snapshot {
	return upkeep.Snapshot{
		Now:             m.config.Clock(),
		LastFinalizedAt: m.round.LastFinalizedAt,
		Interval:        m.config.Interval,
		RoundNumber:     m.round.Number,
		Balance:         m.entries.Balance(),
		Participants:    m.entries.Len(),
		Open:            m.round.State == StateOpen,
	}
}

// CheckUpkeep reports whether the round is due for finalization. It has no
// side effects.
func (m *Machine) CheckUpkeep(_ context.Context) (bool, []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return upkeep.Check(m.snapshotLocked())
}

// PerformUpkeep closes the round to new entries and requests randomness for
// the draw. Anyone may call it; it fails with ErrUpkeepNotNeeded unless the
// upkeep conditions hold at the time of the call. The perform data from
// CheckUpkeep is informational only.
func (m *Machine) PerformUpkeep(
	ctx context.Context,
	performData []byte,
) (requestID oracle.RequestID, err error) {
	ctx, span := m.tracer.Start(ctx, "round.PerformUpkeep")
	defer func() { endSpan(span, err) }()
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := m.snapshotLocked()
	if !upkeep.Evaluate(snapshot).Met() {
		return 0, fmt.Errorf(
			"%w: balance=%d participants=%d state=%s",
			ErrUpkeepNotNeeded,
			snapshot.Balance,
			snapshot.Participants,
			m.round.State,
		)
	}
	if len(performData) > 0 {
		if pd, err := upkeep.DecodePerformData(performData); err == nil &&
			pd.RoundNumber != m.round.Number {
			m.logger.Debug(
				"perform data refers to a different round",
				"data_round", pd.RoundNumber,
				"round", m.round.Number,
			)
		}
	}
	params := m.requestParamsLocked()
	requestID, err = m.config.Oracle.Request(ctx, params)
	if err != nil {
		if !errors.Is(err, oracle.ErrOracleUnavailable) {
			err = fmt.Errorf("%w: %w", oracle.ErrOracleUnavailable, err)
		}
		return 0, err
	}
	next := m.round.clone()
	next.State = StateFinalizing
	next.PendingRequest = &requestID
	next.RequestedAt = snapshot.Now
	next.DrawnWinner = ""
	next.DrawnWord = nil
	err = m.config.Store.Atomic(ctx, func(ctx context.Context) error {
		return m.config.Store.SaveRound(ctx, next)
	})
	if err != nil {
		m.logger.Error(
			"failed to save finalizing round, request will be ignored",
			"round", m.round.Number,
			"request_id", requestID,
			"error", err,
		)
		return 0, fmt.Errorf("save round: %w", err)
	}
	m.round = next
	if m.metrics != nil {
		m.metrics.requests.Inc()
	}
	m.updateGauges()
	span.SetAttributes(
		attribute.Int64("round", int64(next.Number)), // #nosec G115
		attribute.String("request_id", requestID.String()),
	)
	m.logger.Info(
		"round closed, randomness requested",
		"round", next.Number,
		"request_id", requestID,
		"participants", snapshot.Participants,
		"balance", uint64(snapshot.Balance),
	)
	m.publish(
		event.FinalizeRequestedEventType,
		event.FinalizeRequestedEvent{
			RoundNumber:  next.Number,
			RequestId:    uint64(requestID),
			Participants: snapshot.Participants,
		},
	)
	return requestID, nil
}

// OnRandomnessReceived completes the pending draw. It is only reachable
// through the oracle client, which has already authenticated the caller.
func (m *Machine) OnRandomnessReceived(
	ctx context.Context,
	requestID oracle.RequestID,
	randomWords []*big.Int,
) (err error) {
	ctx, span := m.tracer.Start(
		ctx,
		"round.OnRandomnessReceived",
		trace.WithAttributes(
			attribute.String("request_id", requestID.String()),
		),
	)
	defer func() { endSpan(span, err) }()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.round.State != StateFinalizing ||
		m.round.PendingRequest == nil ||
		*m.round.PendingRequest != requestID {
		return fmt.Errorf("%w: %s", ErrUnknownRequest, requestID)
	}
	if m.round.DrawnWinner != "" {
		// Redelivery of a request whose payout failed
		return m.settleLocked(ctx)
	}
	count := m.entries.Len()
	if count == 0 {
		m.logger.Error(
			"randomness received for round without participants",
			"round", m.round.Number,
			"request_id", requestID,
		)
		return ErrNoWinnerPool
	}
	if len(randomWords) == 0 || randomWords[0] == nil {
		return ErrNoRandomWords
	}
	word := new(big.Int).Set(randomWords[0])
	idx := new(big.Int).Mod(word, big.NewInt(int64(count))).Int64()
	winner, err := m.entries.ParticipantAt(int(idx))
	if err != nil {
		return err
	}
	next := m.round.clone()
	next.DrawnWinner = winner
	next.DrawnWord = word
	err = m.config.Store.Atomic(ctx, func(ctx context.Context) error {
		return m.config.Store.SaveRound(ctx, next)
	})
	if err != nil {
		return fmt.Errorf("save drawn winner: %w", err)
	}
	m.round = next
	m.logger.Debug(
		"winner drawn",
		"round", next.Number,
		"request_id", requestID,
		"index", idx,
		"winner", winner.String(),
	)
	return m.settleLocked(ctx)
}

// settleLocked pays the pool to the drawn winner and opens the next round.
// It must be called with the machine lock held.
func (m *Machine) settleLocked(ctx context.Context) error {
	winner := m.round.DrawnWinner
	amount := m.entries.Balance()
	requestID := *m.round.PendingRequest
	now := m.config.Clock()
	next := Record{
		Number:          m.round.Number + 1,
		State:           StateOpen,
		LastFinalizedAt: now,
		RecentWinner:    winner,
	}
	record := Winner{
		PaidAt:      now,
		RandomWord:  m.round.DrawnWord,
		Winner:      winner,
		RoundNumber: m.round.Number,
		RequestID:   requestID,
		Amount:      amount,
	}
	var payErr error
	err := m.config.Store.Atomic(ctx, func(ctx context.Context) error {
		if err := m.config.Store.SaveWinner(ctx, record); err != nil {
			return fmt.Errorf("save winner: %w", err)
		}
		if err := m.config.Store.SaveRound(ctx, next); err != nil {
			return fmt.Errorf("save round: %w", err)
		}
		if err := m.config.Bank.Pay(ctx, winner, amount); err != nil {
			payErr = err
			return err
		}
		return nil
	})
	if err != nil {
		if payErr == nil {
			return err
		}
		if m.metrics != nil {
			m.metrics.payoutFailures.Inc()
		}
		m.logger.Warn(
			"payout failed, round remains closed",
			"round", m.round.Number,
			"winner", winner.String(),
			"amount", uint64(amount),
			"error", payErr,
		)
		m.publish(
			event.PayoutFailedEventType,
			event.PayoutFailedEvent{
				Error:       payErr.Error(),
				Winner:      winner.String(),
				RoundNumber: m.round.Number,
				RequestId:   uint64(requestID),
				Amount:      uint64(amount),
			},
		)
		return fmt.Errorf("%w: %w", ErrPayoutFailed, payErr)
	}
	m.entries.Reset()
	m.round = next
	if m.metrics != nil {
		m.metrics.winners.Inc()
	}
	m.updateGauges()
	m.logger.Info(
		"winner paid, next round open",
		"round", record.RoundNumber,
		"winner", winner.String(),
		"amount", uint64(amount),
		"next_round", next.Number,
	)
	var word *big.Int
	if record.RandomWord != nil {
		word = new(big.Int).Set(record.RandomWord)
	}
	m.publish(
		event.WinnerPickedEventType,
		event.WinnerPickedEvent{
			Timestamp:   now,
			RandomWord:  word,
			Winner:      winner.String(),
			RoundNumber: record.RoundNumber,
			RequestId:   uint64(requestID),
			Amount:      uint64(amount),
		},
	)
	return nil
}

// RetryPayout re-attempts the payout to the winner already drawn for a round
// whose payout failed. The winner is never re-drawn.
func (m *Machine) RetryPayout(ctx context.Context) (err error) {
	ctx, span := m.tracer.Start(ctx, "round.RetryPayout")
	defer func() { endSpan(span, err) }()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.round.State != StateFinalizing || m.round.DrawnWinner == "" {
		return ErrNoPayoutPending
	}
	return m.settleLocked(ctx)
}

// CancelStalledRequest abandons a randomness request that has not been
// fulfilled within the configured request timeout and reopens the round with
// its entries intact. A late fulfillment for the cancelled request fails with
// ErrUnknownRequest.
func (m *Machine) CancelStalledRequest(
	ctx context.Context,
) (requestID oracle.RequestID, err error) {
	ctx, span := m.tracer.Start(ctx, "round.CancelStalledRequest")
	defer func() { endSpan(span, err) }()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.config.RequestTimeout <= 0 ||
		m.round.State != StateFinalizing ||
		m.round.PendingRequest == nil ||
		m.round.DrawnWinner != "" {
		return 0, ErrRequestNotStalled
	}
	pending := m.config.Clock().Sub(m.round.RequestedAt)
	if pending < m.config.RequestTimeout {
		return 0, fmt.Errorf(
			"%w: pending for %s of %s",
			ErrRequestNotStalled,
			pending,
			m.config.RequestTimeout,
		)
	}
	requestID = *m.round.PendingRequest
	next := m.round.clone()
	next.State = StateOpen
	next.PendingRequest = nil
	next.RequestedAt = time.Time{}
	err = m.config.Store.Atomic(ctx, func(ctx context.Context) error {
		return m.config.Store.SaveRound(ctx, next)
	})
	if err != nil {
		return 0, fmt.Errorf("save round: %w", err)
	}
	m.round = next
	if m.metrics != nil {
		m.metrics.requestsCancelled.Inc()
	}
	m.updateGauges()
	m.logger.Warn(
		"stalled randomness request cancelled, round reopened",
		"round", next.Number,
		"request_id", requestID,
		"pending", pending.String(),
	)
	m.publish(
		event.RequestCancelledEventType,
		event.RequestCancelledEvent{
			RoundNumber: next.Number,
			RequestId:   uint64(requestID),
			Pending:     pending,
		},
	)
	return requestID, nil
}

func (m *Machine) EntranceFee() ledger.Amount {
	return m.config.EntranceFee
}

func (m *Machine) Interval() time.Duration {
	return m.config.Interval
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.round.State
}

// RecentWinner returns the winner of the last completed round, if any
func (m *Machine) RecentWinner() ledger.Address {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.round.RecentWinner
}

func (m *Machine) ParticipantAt(index int) (ledger.Address, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries.ParticipantAt(index)
}

func (m *Machine) ParticipantCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries.Len()
}

func (m *Machine) LastFinalizedAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.round.LastFinalizedAt
}

func (m *Machine) Balance() ledger.Amount {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries.Balance()
}

func (m *Machine) RoundNumber() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.round.Number
}

// PendingRequest returns the outstanding randomness request id. The second
// return value is false when the round is open.
func (m *Machine) PendingRequest() (oracle.RequestID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.round.PendingRequest == nil {
		return 0, false
	}
	return *m.round.PendingRequest, true
}

// PendingRequestParams returns the outstanding request id together with the
// parameters it was issued with, for re-registering it with a coordinator
// after a restart. The last return value is false when nothing is pending or
// a winner has already been drawn.
func (m *Machine) PendingRequestParams() (oracle.RequestID, oracle.RequestParams, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.round.PendingRequest == nil || m.round.DrawnWinner != "" {
		return 0, oracle.RequestParams{}, false
	}
	return *m.round.PendingRequest, m.requestParamsLocked(), true
}

func (m *Machine) requestParamsLocked() oracle.RequestParams {
	return oracle.RequestParams{
		KeyHash:              m.config.KeyHash,
		Consumer:             m.config.Address,
		SubscriptionID:       m.config.SubscriptionID,
		RoundNumber:          m.round.Number,
		CallbackGasLimit:     m.config.CallbackGasLimit,
		NumWords:             m.config.NumWords,
		RequestConfirmations: m.config.RequestConfirmations,
	}
}

// Snapshot returns the inputs of the upkeep predicate as of now
func (m *Machine) Snapshot() upkeep.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Machine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	ret := Status{
		LastFinalizedAt: m.round.LastFinalizedAt,
		RequestedAt:     m.round.RequestedAt,
		RecentWinner:    m.round.RecentWinner,
		DrawnWinner:     m.round.DrawnWinner,
		RoundNumber:     m.round.Number,
		Balance:         m.entries.Balance(),
		EntranceFee:     m.config.EntranceFee,
		Participants:    m.entries.Len(),
		Interval:        m.config.Interval,
		State:           m.round.State,
	}
	if m.round.PendingRequest != nil {
		tmp := *m.round.PendingRequest
		ret.PendingRequest = &tmp
	}
	return ret
}

// Participants returns the entries of the current round in order
func (m *Machine) Participants() []ledger.Address {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries.Participants()
}

// Winners returns past payouts, newest first
func (m *Machine) Winners(ctx context.Context, limit int) ([]Winner, error) {
	return m.config.Store.Winners(ctx, limit)
}
