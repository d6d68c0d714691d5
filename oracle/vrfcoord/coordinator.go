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

// Package vrfcoord is a local randomness coordinator for development and
// testing. It manages funded subscriptions and their consumers, and serves
// requests with ECVRF proofs over a per-request input.
package vrfcoord

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/big"
	"slices"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/crypto/blake2b"

	"github.com/blinklabs-io/raffle/keystore"
	"github.com/blinklabs-io/raffle/ledger"
	"github.com/blinklabs-io/raffle/oracle"
)

const (
	// DefaultBaseFee is the flat premium per request, 0.25 in 18-decimal
	// base units
	DefaultBaseFee ledger.Amount = 250_000_000_000_000_000
	// DefaultGasPrice is the price per unit of callback gas
	DefaultGasPrice ledger.Amount = 1_000_000_000

	MaxNumWords                    = 500
	MinRequestConfirmations uint16 = 3
	MaxRequestConfirmations uint16 = 200

	DefaultFulfillDelay = 2 * time.Second
	DefaultPollInterval = 250 * time.Millisecond
)

var (
	ErrInvalidSubscription         = errors.New("invalid subscription")
	ErrInvalidConsumer             = errors.New("invalid consumer")
	ErrInsufficientBalance         = errors.New("insufficient subscription balance")
	ErrInvalidNumWords             = errors.New("invalid number of words")
	ErrInvalidRequestConfirmations = errors.New("invalid request confirmations")
	ErrUnknownRequest              = errors.New("unknown request")
	ErrRequestInFlight             = errors.New("request is already being fulfilled")
	ErrAlreadyStarted              = errors.New("coordinator already started")
)

type Config struct {
	Logger       *slog.Logger
	PromRegistry prometheus.Registerer
	Signer       keystore.VRFSigner
	ProofStore   ProofStore
	// Address is the caller identity presented on every delivery
	Address ledger.Address
	// KeyHash overrides the key hash derived from the signer public key
	KeyHash  oracle.KeyHash
	BaseFee  ledger.Amount
	GasPrice ledger.Amount
	// FulfillDelay is how long the background worker waits before serving
	// a request
	FulfillDelay time.Duration
	PollInterval time.Duration
	Clock        func() time.Time
}

// Subscription is a funded account that consumers bill requests to
type Subscription struct {
	Owner     ledger.Address
	Consumers []ledger.Address
	ID        uint64
	Balance   ledger.Amount
	ReqCount  uint64
}

type pendingRequest struct {
	requestedAt time.Time
	preSeed     []byte
	params      oracle.RequestParams
	fulfilling  bool
}

// Coordinator implements oracle.Coordinator
type Coordinator struct {
	config        Config
	logger        *slog.Logger
	metrics       *coordinatorMetrics
	keyHash       oracle.KeyHash
	subscriptions map[uint64]*Subscription
	receivers     map[ledger.Address]oracle.CallbackReceiver
	requests      map[oracle.RequestID]*pendingRequest
	lastSubID     uint64
	lastRequestID oracle.RequestID
	nonce         uint64
	mu            sync.Mutex
	workerMu      sync.Mutex
	workerCancel  context.CancelFunc
	workerWg      sync.WaitGroup
}

func New(cfg Config) (*Coordinator, error) {
	if cfg.Signer == nil {
		return nil, errors.New("no VRF signer configured")
	}
	if cfg.Address == "" {
		return nil, errors.New("no coordinator address configured")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.ProofStore == nil {
		cfg.ProofStore = NewMemoryProofStore()
	}
	if cfg.BaseFee == 0 {
		cfg.BaseFee = DefaultBaseFee
	}
	if cfg.GasPrice == 0 {
		cfg.GasPrice = DefaultGasPrice
	}
	if cfg.FulfillDelay == 0 {
		cfg.FulfillDelay = DefaultFulfillDelay
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	c := &Coordinator{
		config:        cfg,
		logger:        cfg.Logger.With("component", "vrfcoord"),
		keyHash:       cfg.KeyHash,
		subscriptions: make(map[uint64]*Subscription),
		receivers:     make(map[ledger.Address]oracle.CallbackReceiver),
		requests:      make(map[oracle.RequestID]*pendingRequest),
	}
	if c.keyHash == (oracle.KeyHash{}) {
		c.keyHash = KeyHashFromVKey(cfg.Signer.VKey())
	}
	if cfg.PromRegistry != nil {
		c.initMetrics(cfg.PromRegistry)
	}
	return c, nil
}

// KeyHash returns the key hash requests must name
func (c *Coordinator) KeyHash() oracle.KeyHash {
	return c.keyHash
}

func (c *Coordinator) Address() ledger.Address {
	return c.config.Address
}

// VKey returns the coordinator VRF public key
func (c *Coordinator) VKey() []byte {
	return c.config.Signer.VKey()
}

// EstimatePayment returns what a request with the given callback gas limit
// is charged on fulfillment
func (c *Coordinator) EstimatePayment(callbackGasLimit uint32) (ledger.Amount, error) {
	gas := uint64(c.config.GasPrice)
	if callbackGasLimit > 0 && gas > math.MaxUint64/uint64(callbackGasLimit) {
		return 0, errors.New("payment overflow")
	}
	gas *= uint64(callbackGasLimit)
	if gas > math.MaxUint64-uint64(c.config.BaseFee) {
		return 0, errors.New("payment overflow")
	}
	return c.config.BaseFee + ledger.Amount(gas), nil
}

// CreateSubscription opens an empty subscription and returns its id. Ids
// start at 1.
func (c *Coordinator) CreateSubscription(owner ledger.Address) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastSubID++
	c.subscriptions[c.lastSubID] = &Subscription{
		ID:    c.lastSubID,
		Owner: owner,
	}
	c.logger.Info(
		"subscription created",
		"subscription_id", c.lastSubID,
		"owner", owner.String(),
	)
	return c.lastSubID
}

func (c *Coordinator) FundSubscription(subID uint64, amount ledger.Amount) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	sub, ok := c.subscriptions[subID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrInvalidSubscription, subID)
	}
	if uint64(sub.Balance) > math.MaxUint64-uint64(amount) {
		return fmt.Errorf("subscription %d balance overflow", subID)
	}
	sub.Balance += amount
	c.logger.Debug(
		"subscription funded",
		"subscription_id", subID,
		"amount", uint64(amount),
		"balance", uint64(sub.Balance),
	)
	return nil
}

// AddConsumer allows consumer to bill requests to the subscription.
// Fulfillments for its requests are delivered to receiver.
func (c *Coordinator) AddConsumer(
	subID uint64,
	consumer ledger.Address,
	receiver oracle.CallbackReceiver,
) error {
	if receiver == nil {
		return errors.New("no callback receiver")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	sub, ok := c.subscriptions[subID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrInvalidSubscription, subID)
	}
	if !slices.Contains(sub.Consumers, consumer) {
		sub.Consumers = append(sub.Consumers, consumer)
	}
	c.receivers[consumer] = receiver
	return nil
}

func (c *Coordinator) RemoveConsumer(subID uint64, consumer ledger.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	sub, ok := c.subscriptions[subID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrInvalidSubscription, subID)
	}
	idx := slices.Index(sub.Consumers, consumer)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConsumer, consumer)
	}
	sub.Consumers = slices.Delete(sub.Consumers, idx, idx+1)
	return nil
}

// Subscription returns a copy of the subscription
func (c *Coordinator) Subscription(subID uint64) (Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sub, ok := c.subscriptions[subID]
	if !ok {
		return Subscription{}, fmt.Errorf("%w: %d", ErrInvalidSubscription, subID)
	}
	ret := *sub
	ret.Consumers = slices.Clone(sub.Consumers)
	return ret, nil
}

// RequestRandomWords validates and queues a request. The request is served
// later by the worker or by Fulfill, never before this call returns.
func (c *Coordinator) RequestRandomWords(
	_ context.Context,
	params oracle.RequestParams,
) (oracle.RequestID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if params.KeyHash != c.keyHash {
		return 0, fmt.Errorf("%w: %s", oracle.ErrInvalidKeyHash, params.KeyHash)
	}
	sub, ok := c.subscriptions[params.SubscriptionID]
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrInvalidSubscription, params.SubscriptionID)
	}
	if !slices.Contains(sub.Consumers, params.Consumer) {
		return 0, fmt.Errorf(
			"%w: %s is not a consumer of subscription %d",
			ErrInvalidConsumer,
			params.Consumer,
			params.SubscriptionID,
		)
	}
	if params.NumWords < 1 || params.NumWords > MaxNumWords {
		return 0, fmt.Errorf(
			"%w: %d not in 1..%d",
			ErrInvalidNumWords,
			params.NumWords,
			MaxNumWords,
		)
	}
	if params.RequestConfirmations < MinRequestConfirmations ||
		params.RequestConfirmations > MaxRequestConfirmations {
		return 0, fmt.Errorf(
			"%w: %d not in %d..%d",
			ErrInvalidRequestConfirmations,
			params.RequestConfirmations,
			MinRequestConfirmations,
			MaxRequestConfirmations,
		)
	}
	payment, err := c.EstimatePayment(params.CallbackGasLimit)
	if err != nil {
		return 0, err
	}
	if sub.Balance < payment {
		return 0, fmt.Errorf(
			"%w: balance %d, estimated payment %d",
			ErrInsufficientBalance,
			sub.Balance,
			payment,
		)
	}
	c.lastRequestID++
	c.nonce++
	sub.ReqCount++
	requestID := c.lastRequestID
	c.requests[requestID] = &pendingRequest{
		requestedAt: c.config.Clock(),
		preSeed:     c.preSeed(params),
		params:      params,
	}
	if c.metrics != nil {
		c.metrics.requests.Inc()
		c.metrics.pending.Set(float64(len(c.requests)))
	}
	c.logger.Debug(
		"randomness request queued",
		"request_id", requestID,
		"subscription_id", params.SubscriptionID,
		"consumer", params.Consumer.String(),
		"num_words", params.NumWords,
	)
	return requestID, nil
}

// preSeed binds the request to its key, consumer, subscription and nonce.
// Must be called with the lock held.
func (c *Coordinator) preSeed(params oracle.RequestParams) []byte {
	h, _ := blake2b.New256(nil)
	_, _ = h.Write(c.keyHash[:])
	_, _ = h.Write([]byte(params.Consumer))
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], params.SubscriptionID)
	binary.BigEndian.PutUint64(buf[8:], c.nonce)
	_, _ = h.Write(buf[:])
	return h.Sum(nil)
}

// ReserveRequestIDs ensures new request ids are greater than last. Used
// after a restart so that ids, and the proofs stored under them, are never
// reused.
func (c *Coordinator) ReserveRequestIDs(last oracle.RequestID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if last > c.lastRequestID {
		c.lastRequestID = last
	}
}

// RestoreRequest queues a request issued before a restart under its original
// id. The subscription is not charged again until fulfillment.
func (c *Coordinator) RestoreRequest(
	requestID oracle.RequestID,
	params oracle.RequestParams,
) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if params.KeyHash != c.keyHash {
		return fmt.Errorf("%w: %s", oracle.ErrInvalidKeyHash, params.KeyHash)
	}
	sub, ok := c.subscriptions[params.SubscriptionID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrInvalidSubscription, params.SubscriptionID)
	}
	if !slices.Contains(sub.Consumers, params.Consumer) {
		return fmt.Errorf("%w: %s", ErrInvalidConsumer, params.Consumer)
	}
	if _, ok := c.requests[requestID]; ok {
		return fmt.Errorf("%w: %s", ErrRequestInFlight, requestID)
	}
	if requestID > c.lastRequestID {
		c.lastRequestID = requestID
	}
	c.nonce++
	c.requests[requestID] = &pendingRequest{
		requestedAt: c.config.Clock(),
		preSeed:     c.preSeed(params),
		params:      params,
	}
	if c.metrics != nil {
		c.metrics.pending.Set(float64(len(c.requests)))
	}
	c.logger.Info(
		"randomness request restored",
		"request_id", requestID,
		"consumer", params.Consumer.String(),
	)
	return nil
}

// PendingRequests returns the ids of requests waiting for fulfillment
func (c *Coordinator) PendingRequests() []oracle.RequestID {
	c.mu.Lock()
	defer c.mu.Unlock()
	ret := make([]oracle.RequestID, 0, len(c.requests))
	for id := range c.requests {
		ret = append(ret, id)
	}
	slices.Sort(ret)
	return ret
}

// Fulfill serves a pending request with words derived from the VRF output
func (c *Coordinator) Fulfill(ctx context.Context, requestID oracle.RequestID) error {
	return c.fulfill(ctx, requestID, nil)
}

// FulfillWithWords serves a pending request with caller supplied words. The
// proof is still generated and stored.
func (c *Coordinator) FulfillWithWords(
	ctx context.Context,
	requestID oracle.RequestID,
	words []*big.Int,
) error {
	return c.fulfill(ctx, requestID, words)
}

func (c *Coordinator) fulfill(
	ctx context.Context,
	requestID oracle.RequestID,
	override []*big.Int,
) error {
	c.mu.Lock()
	req, ok := c.requests[requestID]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownRequest, requestID)
	}
	if req.fulfilling {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrRequestInFlight, requestID)
	}
	sub, ok := c.subscriptions[req.params.SubscriptionID]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrInvalidSubscription, req.params.SubscriptionID)
	}
	payment, err := c.EstimatePayment(req.params.CallbackGasLimit)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	if sub.Balance < payment {
		c.mu.Unlock()
		return fmt.Errorf(
			"%w: balance %d, payment %d",
			ErrInsufficientBalance,
			sub.Balance,
			payment,
		)
	}
	receiver, ok := c.receivers[req.params.Consumer]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrInvalidConsumer, req.params.Consumer)
	}
	req.fulfilling = true
	c.mu.Unlock()

	fulfillment, err := c.prove(requestID, req, payment, override)
	if err == nil {
		err = c.config.ProofStore.SaveProof(ctx, fulfillment)
	}
	if err != nil {
		c.mu.Lock()
		req.fulfilling = false
		c.mu.Unlock()
		c.countFailure()
		return fmt.Errorf("fulfill request %s: %w", requestID, err)
	}

	c.mu.Lock()
	delete(c.requests, requestID)
	sub.Balance -= payment
	if c.metrics != nil {
		c.metrics.pending.Set(float64(len(c.requests)))
		c.metrics.fulfillments.Inc()
	}
	c.mu.Unlock()

	c.logger.Debug(
		"delivering random words",
		"request_id", requestID,
		"consumer", req.params.Consumer.String(),
		"payment", uint64(payment),
	)
	if err := receiver.Deliver(ctx, c.config.Address, requestID, fulfillment.Words()); err != nil {
		// The request is served and paid for even if the consumer fails
		c.countCallbackFailure()
		c.logger.Warn(
			"consumer callback failed",
			"request_id", requestID,
			"consumer", req.params.Consumer.String(),
			"error", err,
		)
		return fmt.Errorf("callback for request %s: %w", requestID, err)
	}
	return nil
}

func (c *Coordinator) prove(
	requestID oracle.RequestID,
	req *pendingRequest,
	payment ledger.Amount,
	override []*big.Int,
) (*Fulfillment, error) {
	alpha := Alpha(requestID, c.keyHash, req.preSeed)
	proof, output, err := c.config.Signer.Prove(alpha)
	if err != nil {
		return nil, fmt.Errorf("VRF prove: %w", err)
	}
	ret := &Fulfillment{
		RequestID:   uint64(requestID),
		KeyHash:     c.keyHash[:],
		Consumer:    req.params.Consumer.String(),
		Alpha:       alpha,
		Proof:       proof,
		Output:      output,
		Payment:     uint64(payment),
		FulfilledAt: c.config.Clock().Unix(),
	}
	if override != nil {
		ret.Overridden = true
		ret.RandomWords = make([][]byte, len(override))
		for i, w := range override {
			if w == nil || w.Sign() < 0 {
				return nil, fmt.Errorf("invalid override word at index %d", i)
			}
			ret.RandomWords[i] = w.Bytes()
		}
	} else {
		ret.RandomWords = DeriveWords(output, req.params.NumWords)
	}
	return ret, nil
}

// Redeliver sends the stored words of an already fulfilled request to its
// consumer again
func (c *Coordinator) Redeliver(ctx context.Context, requestID oracle.RequestID) error {
	fulfillment, err := c.config.ProofStore.Proof(ctx, requestID)
	if err != nil {
		return err
	}
	c.mu.Lock()
	receiver, ok := c.receivers[ledger.Address(fulfillment.Consumer)]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrInvalidConsumer, fulfillment.Consumer)
	}
	return receiver.Deliver(ctx, c.config.Address, requestID, fulfillment.Words())
}

// Proof returns the stored fulfillment for a request
func (c *Coordinator) Proof(ctx context.Context, requestID oracle.RequestID) (*Fulfillment, error) {
	return c.config.ProofStore.Proof(ctx, requestID)
}

// VerifyProof checks the stored fulfillment of a request against the
// coordinator public key
func (c *Coordinator) VerifyProof(ctx context.Context, requestID oracle.RequestID) (bool, error) {
	fulfillment, err := c.config.ProofStore.Proof(ctx, requestID)
	if err != nil {
		return false, err
	}
	return VerifyFulfillment(c.config.Signer.VKey(), fulfillment)
}

// Start runs the background worker that serves requests once they are older
// than the fulfill delay
func (c *Coordinator) Start(ctx context.Context) error {
	c.workerMu.Lock()
	defer c.workerMu.Unlock()
	if c.workerCancel != nil {
		return ErrAlreadyStarted
	}
	workerCtx, cancel := context.WithCancel(ctx)
	c.workerCancel = cancel
	c.workerWg.Add(1)
	go c.worker(workerCtx)
	return nil
}

// Stop stops the background worker and waits for it to exit
func (c *Coordinator) Stop() {
	c.workerMu.Lock()
	cancel := c.workerCancel
	c.workerCancel = nil
	c.workerMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	c.workerWg.Wait()
}

func (c *Coordinator) worker(ctx context.Context) {
	defer c.workerWg.Done()
	ticker := time.NewTicker(c.config.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, requestID := range c.dueRequests() {
				if ctx.Err() != nil {
					return
				}
				if err := c.Fulfill(ctx, requestID); err != nil &&
					!errors.Is(err, ErrUnknownRequest) &&
					!errors.Is(err, ErrRequestInFlight) {
					c.logger.Warn(
						"failed to fulfill request",
						"request_id", requestID,
						"error", err,
					)
				}
			}
		}
	}
}

func (c *Coordinator) dueRequests() []oracle.RequestID {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.config.Clock()
	var ret []oracle.RequestID
	for id, req := range c.requests {
		if req.fulfilling || now.Sub(req.requestedAt) < c.config.FulfillDelay {
			continue
		}
		ret = append(ret, id)
	}
	slices.Sort(ret)
	return ret
}

func (c *Coordinator) countFailure() {
	if c.metrics != nil {
		c.metrics.failures.WithLabelValues("prove").Inc()
	}
}

func (c *Coordinator) countCallbackFailure() {
	if c.metrics != nil {
		c.metrics.failures.WithLabelValues("callback").Inc()
	}
}
