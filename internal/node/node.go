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

package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	_ "net/http/pprof" // #nosec G108
	"os/signal"
	"syscall"
	"time"

	"github.com/blinklabs-io/raffle"
	"github.com/blinklabs-io/raffle/internal/config"
	"github.com/blinklabs-io/raffle/ledger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NodeOptions converts the loaded config into node options
func NodeOptions(
	cfg *config.Config,
	logger *slog.Logger,
	registry prometheus.Registerer,
) ([]raffle.ConfigOptionFunc, error) {
	timings, err := cfg.Timings()
	if err != nil {
		return nil, err
	}
	opts := []raffle.ConfigOptionFunc{
		raffle.WithLogger(logger),
		raffle.WithPrometheusRegistry(registry),
		raffle.WithDatabasePath(cfg.DatabasePath),
		raffle.WithEntranceFee(ledger.Amount(cfg.EntranceFee)),
		raffle.WithInterval(timings.Interval),
		raffle.WithRequestTimeout(timings.RequestTimeout),
		raffle.WithKeeperInterval(timings.KeeperInterval),
		raffle.WithFulfillDelay(timings.FulfillDelay),
		raffle.WithShutdownTimeout(timings.ShutdownTimeout),
		raffle.WithKeyHash(cfg.KeyHash),
		raffle.WithNumWords(cfg.NumWords),
		raffle.WithRequestConfirmations(cfg.RequestConfirmations),
		raffle.WithVRFSigningKey(cfg.VrfSigningKey),
		raffle.WithAllowInsecureKeyFileModes(cfg.AllowInsecureKeyFileModes),
		raffle.WithKeeper(!cfg.DisableKeeper),
		raffle.WithCoordinatorWorker(!cfg.DisableCoordinatorWorker),
		raffle.WithCallbackToken(cfg.CallbackToken),
		raffle.WithDevMode(cfg.DevMode),
		raffle.WithTracing(cfg.Tracing),
		raffle.WithTracingStdout(cfg.TracingStdout),
	}
	if cfg.RaffleAddress != "" {
		opts = append(opts, raffle.WithRaffleAddress(ledger.Address(cfg.RaffleAddress)))
	}
	if cfg.CoordinatorAddress != "" {
		opts = append(
			opts,
			raffle.WithCoordinatorAddress(ledger.Address(cfg.CoordinatorAddress)),
		)
	}
	if cfg.CallbackGasLimit > 0 {
		opts = append(opts, raffle.WithCallbackGasLimit(cfg.CallbackGasLimit))
	}
	if cfg.SubscriptionFunding > 0 {
		opts = append(
			opts,
			raffle.WithSubscriptionFunding(ledger.Amount(cfg.SubscriptionFunding)),
		)
	}
	if cfg.ApiPort > 0 {
		opts = append(
			opts,
			raffle.WithAPIListenAddress(
				fmt.Sprintf("%s:%d", cfg.BindAddr, cfg.ApiPort),
			),
		)
	}
	return opts, nil
}

func Run(cfg *config.Config, logger *slog.Logger) error {
	logger.Debug(fmt.Sprintf("config: %+v", cfg), "component", "node")
	opts, err := NodeOptions(cfg, logger, prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}
	nodeCfg := raffle.NewConfig(opts...)
	n, err := raffle.New(nodeCfg)
	if err != nil {
		return err
	}
	timings, _ := cfg.Timings()
	// Metrics and debug listener
	http.Handle("/metrics", promhttp.Handler())
	metricsAddr := fmt.Sprintf("%s:%d", cfg.BindAddr, cfg.MetricsPort)
	logger.Info(
		"serving prometheus metrics on "+metricsAddr,
		"component",
		"node",
	)
	metricsServer := &http.Server{
		Addr:              metricsAddr,
		ReadHeaderTimeout: 60 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	// Wait for interrupt/termination signal
	signalCtx, signalCtxStop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer signalCtxStop()

	errChan := make(chan error, 2)
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil &&
			!errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("failed to start metrics listener: %w", err)
		}
	}()
	// Run node in goroutine
	go func() {
		//nolint:contextcheck
		err := n.Run(signalCtx)
		select {
		case errChan <- err:
		case <-signalCtx.Done():
		}
	}()

	shutdownMetrics := func() {
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			timings.ShutdownTimeout,
		)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown error", "error", err)
		}
	}

	// Wait for signal or error
	select {
	case <-signalCtx.Done():
		logger.Info("signal received, initiating graceful shutdown")
		shutdownMetrics()
		if err := n.Stop(); err != nil {
			logger.Error("shutdown errors occurred", "error", err)
			return err
		}
		logger.Info("shutdown complete")
		return nil
	case err := <-errChan:
		signalCtxStop()
		if stopErr := n.Stop(); stopErr != nil {
			logger.Error(
				"shutdown errors occurred during error cleanup",
				"error",
				stopErr,
			)
		}
		shutdownMetrics()
		if err != nil {
			logger.Error("node error", "error", err)
			return err
		}
		logger.Info("node stopped")
		return nil
	}
}
