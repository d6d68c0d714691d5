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

package oracle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"sync"

	"github.com/blinklabs-io/raffle/ledger"
)

type ClientConfig struct {
	Coordinator        Coordinator
	Logger             *slog.Logger
	CoordinatorAddress ledger.Address
}

// Client issues randomness requests and authenticates fulfillments. It holds
// no business logic.
type Client struct {
	config   ClientConfig
	logger   *slog.Logger
	consumer Consumer
	mu       sync.RWMutex
}

func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Coordinator == nil {
		return nil, errors.New("no coordinator configured")
	}
	if cfg.CoordinatorAddress == "" {
		return nil, errors.New("no coordinator address configured")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		config: cfg,
		logger: cfg.Logger.With("component", "oracle"),
	}, nil
}

// Bind sets the consumer that validated fulfillments are forwarded to
func (c *Client) Bind(consumer Consumer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consumer = consumer
}

// CoordinatorAddress returns the only address allowed to deliver randomness
func (c *Client) CoordinatorAddress() ledger.Address {
	return c.config.CoordinatorAddress
}

// Request asks the coordinator for random words. Any coordinator failure is
// reported as ErrOracleUnavailable.
func (c *Client) Request(
	ctx context.Context,
	params RequestParams,
) (RequestID, error) {
	requestID, err := c.config.Coordinator.RequestRandomWords(ctx, params)
	if err != nil {
		c.logger.Warn(
			"randomness request rejected",
			"subscription_id", params.SubscriptionID,
			"key_hash", params.KeyHash.String(),
			"error", err,
		)
		return 0, fmt.Errorf("%w: %w", ErrOracleUnavailable, err)
	}
	c.logger.Debug(
		"randomness requested",
		"request_id", requestID,
		"round", params.RoundNumber,
	)
	return requestID, nil
}

// Deliver is the inbound callback. Calls from anyone other than the
// configured coordinator fail with ErrUnauthorizedCallback.
func (c *Client) Deliver(
	ctx context.Context,
	caller ledger.Address,
	requestID RequestID,
	randomWords []*big.Int,
) error {
	if caller != c.config.CoordinatorAddress {
		c.logger.Warn(
			"rejected randomness callback from unauthorized caller",
			"caller", caller,
			"request_id", requestID,
		)
		return fmt.Errorf("%w: caller %s", ErrUnauthorizedCallback, caller)
	}
	c.mu.RLock()
	consumer := c.consumer
	c.mu.RUnlock()
	if consumer == nil {
		return ErrNoConsumer
	}
	return consumer.OnRandomnessReceived(ctx, requestID, randomWords)
}
