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

package upkeep

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/blinklabs-io/raffle/oracle"
)

const DefaultKeeperInterval = time.Second

var ErrKeeperRunning = errors.New("keeper already running")

// Performer is the round operations the keeper drives
type Performer interface {
	CheckUpkeep(ctx context.Context) (bool, []byte)
	PerformUpkeep(ctx context.Context, performData []byte) (oracle.RequestID, error)
}

// StalledRequestCanceller is optionally implemented by a Performer that can
// recover from a randomness request that was never fulfilled
type StalledRequestCanceller interface {
	CancelStalledRequest(ctx context.Context) (oracle.RequestID, error)
}

type KeeperConfig struct {
	Logger       *slog.Logger
	PromRegistry prometheus.Registerer
	Performer    Performer
	Interval     time.Duration
}

type keeperMetrics struct {
	checks    prometheus.Counter
	performs  prometheus.Counter
	failures  prometheus.Counter
	cancelled prometheus.Counter
}

// Keeper periodically checks whether upkeep is needed and performs it. It
// has no privileges; it only calls the public round operations.
type Keeper struct {
	config  KeeperConfig
	logger  *slog.Logger
	metrics *keeperMetrics
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
}

func NewKeeper(cfg KeeperConfig) (*Keeper, error) {
	if cfg.Performer == nil {
		return nil, errors.New("no upkeep performer configured")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultKeeperInterval
	}
	k := &Keeper{
		config: cfg,
		logger: cfg.Logger.With("component", "keeper"),
	}
	if cfg.PromRegistry != nil {
		promautoFactory := promauto.With(cfg.PromRegistry)
		k.metrics = &keeperMetrics{
			checks: promautoFactory.NewCounter(prometheus.CounterOpts{
				Name: "raffle_keeper_checks_total",
				Help: "total upkeep checks",
			}),
			performs: promautoFactory.NewCounter(prometheus.CounterOpts{
				Name: "raffle_keeper_performs_total",
				Help: "total successful upkeep performs",
			}),
			failures: promautoFactory.NewCounter(prometheus.CounterOpts{
				Name: "raffle_keeper_failures_total",
				Help: "total failed upkeep performs",
			}),
			cancelled: promautoFactory.NewCounter(prometheus.CounterOpts{
				Name: "raffle_keeper_cancelled_requests_total",
				Help: "total stalled requests cancelled by the keeper",
			}),
		}
	}
	return k, nil
}

// Start runs the check/perform loop until Stop is called or ctx is done
func (k *Keeper) Start(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.cancel != nil {
		return ErrKeeperRunning
	}
	loopCtx, cancel := context.WithCancel(ctx)
	k.cancel = cancel
	k.wg.Add(1)
	go k.loop(loopCtx)
	k.logger.Info(
		"keeper started",
		"interval", k.config.Interval.String(),
	)
	return nil
}

// Stop ends the loop and waits for an in-progress cycle to finish
func (k *Keeper) Stop() {
	k.mu.Lock()
	cancel := k.cancel
	k.cancel = nil
	k.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	k.wg.Wait()
}

func (k *Keeper) loop(ctx context.Context) {
	defer k.wg.Done()
	ticker := time.NewTicker(k.config.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Errors are logged by RunOnce and retried on the next tick
			_ = k.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single keeper cycle
func (k *Keeper) RunOnce(ctx context.Context) error {
	if canceller, ok := k.config.Performer.(StalledRequestCanceller); ok {
		requestID, err := canceller.CancelStalledRequest(ctx)
		switch {
		case err == nil:
			if k.metrics != nil {
				k.metrics.cancelled.Inc()
			}
			k.logger.Warn(
				"cancelled stalled randomness request",
				"request_id", requestID,
			)
		case !errors.Is(err, ErrRequestNotStalled):
			k.logger.Warn(
				"failed to cancel stalled request",
				"error", err,
			)
		}
	}
	if k.metrics != nil {
		k.metrics.checks.Inc()
	}
	needed, performData := k.config.Performer.CheckUpkeep(ctx)
	if !needed {
		return nil
	}
	requestID, err := k.config.Performer.PerformUpkeep(ctx, performData)
	if err != nil {
		if errors.Is(err, ErrUpkeepNotNeeded) {
			// Someone else performed upkeep between our check and perform
			k.logger.Debug("upkeep no longer needed", "error", err)
			return nil
		}
		if k.metrics != nil {
			k.metrics.failures.Inc()
		}
		k.logger.Warn("failed to perform upkeep", "error", err)
		return err
	}
	if k.metrics != nil {
		k.metrics.performs.Inc()
	}
	k.logger.Info(
		"performed upkeep",
		"request_id", requestID,
	)
	return nil
}
