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

package raffle

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/blinklabs-io/raffle/ledger"
	"github.com/blinklabs-io/raffle/oracle"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	DefaultRaffleAddress      = ledger.Address("raffle")
	DefaultCoordinatorAddress = ledger.Address("vrf-coordinator")
	DefaultCallbackGasLimit   = 500_000
	DefaultKeeperInterval     = time.Second
	DefaultShutdownTimeout    = 30 * time.Second
	// DefaultSubscriptionFunding covers many requests at the default
	// coordinator fees
	DefaultSubscriptionFunding = ledger.Amount(10_000_000_000_000_000_000)
)

type Config struct {
	promRegistry              prometheus.Registerer
	logger                    *slog.Logger
	dataDir                   string
	vrfSKeyPath               string
	keyHash                   string
	apiListenAddress          string
	callbackToken             string
	raffleAddress             ledger.Address
	coordinatorAddress        ledger.Address
	entranceFee               ledger.Amount
	subscriptionFunding       ledger.Amount
	interval                  time.Duration
	requestTimeout            time.Duration
	keeperInterval            time.Duration
	fulfillDelay              time.Duration
	shutdownTimeout           time.Duration
	callbackGasLimit          uint32
	numWords                  uint32
	requestConfirmations      uint16
	disableKeeper             bool
	disableCoordinatorWorker  bool
	devMode                   bool
	allowInsecureKeyFileModes bool
	tracing                   bool
	tracingStdout             bool
}

func (c *Config) validate() error {
	if c.entranceFee == 0 {
		return errors.New("entrance fee must be greater than zero")
	}
	if c.interval <= 0 {
		return fmt.Errorf("invalid interval: %s", c.interval)
	}
	if c.requestTimeout < 0 {
		return fmt.Errorf("invalid request timeout: %s", c.requestTimeout)
	}
	if c.raffleAddress == "" {
		return errors.New("no raffle address configured")
	}
	if c.coordinatorAddress == "" {
		return errors.New("no coordinator address configured")
	}
	if c.raffleAddress == c.coordinatorAddress {
		return errors.New("raffle and coordinator addresses must differ")
	}
	if c.keyHash != "" {
		if _, err := oracle.ParseKeyHash(c.keyHash); err != nil {
			return err
		}
	}
	return nil
}

// ConfigOptionFunc is a type that represents functions that modify the raffle config
type ConfigOptionFunc func(*Config)

// NewConfig creates a new raffle config with the specified options
func NewConfig(opts ...ConfigOptionFunc) Config {
	c := Config{
		// Default logger will throw away logs
		// We do this so we don't have to add guards around every log operation
		logger:              slog.New(slog.NewJSONHandler(io.Discard, nil)),
		raffleAddress:       DefaultRaffleAddress,
		coordinatorAddress:  DefaultCoordinatorAddress,
		callbackGasLimit:    DefaultCallbackGasLimit,
		subscriptionFunding: DefaultSubscriptionFunding,
		keeperInterval:      DefaultKeeperInterval,
		shutdownTimeout:     DefaultShutdownTimeout,
	}
	// Apply options
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// WithLogger specifies the logger to use. This defaults to discarding log output
func WithLogger(logger *slog.Logger) ConfigOptionFunc {
	return func(c *Config) {
		c.logger = logger
	}
}

// WithPrometheusRegistry specifies a prometheus.Registerer instance to add metrics to. In most cases, prometheus.DefaultRegistry would be
// a good choice to get metrics working
func WithPrometheusRegistry(registry prometheus.Registerer) ConfigOptionFunc {
	return func(c *Config) {
		c.promRegistry = registry
	}
}

// WithDatabasePath specifies the persistent data directory to use. The default is to store everything in memory
func WithDatabasePath(dataDir string) ConfigOptionFunc {
	return func(c *Config) {
		c.dataDir = dataDir
	}
}

// WithEntranceFee specifies the minimum payment for an entry
func WithEntranceFee(fee ledger.Amount) ConfigOptionFunc {
	return func(c *Config) {
		c.entranceFee = fee
	}
}

// WithInterval specifies the minimum time between finalizations
func WithInterval(interval time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.interval = interval
	}
}

// WithRaffleAddress specifies the raffle's own address. Entry payments are held by this account
func WithRaffleAddress(address ledger.Address) ConfigOptionFunc {
	return func(c *Config) {
		c.raffleAddress = address
	}
}

// WithCoordinatorAddress specifies the caller identity of the randomness coordinator. Only callbacks from this
// address are accepted
func WithCoordinatorAddress(address ledger.Address) ConfigOptionFunc {
	return func(c *Config) {
		c.coordinatorAddress = address
	}
}

// WithKeyHash specifies the gas lane key hash as hex. The default derives it from the VRF key
func WithKeyHash(keyHash string) ConfigOptionFunc {
	return func(c *Config) {
		c.keyHash = keyHash
	}
}

// WithCallbackGasLimit specifies the gas limit for the randomness callback. The default is 500000
func WithCallbackGasLimit(limit uint32) ConfigOptionFunc {
	return func(c *Config) {
		c.callbackGasLimit = limit
	}
}

// WithNumWords specifies how many random words to request. The default is 1
func WithNumWords(numWords uint32) ConfigOptionFunc {
	return func(c *Config) {
		c.numWords = numWords
	}
}

// WithRequestConfirmations specifies the confirmations the coordinator waits for. The default is 3
func WithRequestConfirmations(confirmations uint16) ConfigOptionFunc {
	return func(c *Config) {
		c.requestConfirmations = confirmations
	}
}

// WithRequestTimeout enables cancelling randomness requests that are not fulfilled within timeout. The default of 0
// disables cancellation
func WithRequestTimeout(timeout time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.requestTimeout = timeout
	}
}

// WithSubscriptionFunding specifies the amount the local coordinator subscription is funded with at startup
func WithSubscriptionFunding(amount ledger.Amount) ConfigOptionFunc {
	return func(c *Config) {
		c.subscriptionFunding = amount
	}
}

// WithVRFSigningKey specifies the path to the coordinator VRF signing key file. A throwaway key is generated when
// this is empty
func WithVRFSigningKey(path string) ConfigOptionFunc {
	return func(c *Config) {
		c.vrfSKeyPath = path
	}
}

// WithAllowInsecureKeyFileModes skips the permission check on the VRF signing key file
func WithAllowInsecureKeyFileModes(allow bool) ConfigOptionFunc {
	return func(c *Config) {
		c.allowInsecureKeyFileModes = allow
	}
}

// WithFulfillDelay specifies how long the local coordinator waits before fulfilling a request
func WithFulfillDelay(delay time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.fulfillDelay = delay
	}
}

// WithCoordinatorWorker specifies whether the local coordinator fulfills requests in the background. This is
// enabled by default
func WithCoordinatorWorker(enabled bool) ConfigOptionFunc {
	return func(c *Config) {
		c.disableCoordinatorWorker = !enabled
	}
}

// WithKeeper specifies whether the automation keeper runs. This is enabled by default
func WithKeeper(enabled bool) ConfigOptionFunc {
	return func(c *Config) {
		c.disableKeeper = !enabled
	}
}

// WithKeeperInterval specifies how often the keeper checks upkeep. The default is 1 second
func WithKeeperInterval(interval time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.keeperInterval = interval
	}
}

// WithAPIListenAddress specifies the listen address for the HTTP API. An empty string disables the server. The
// default is empty (disabled)
func WithAPIListenAddress(addr string) ConfigOptionFunc {
	return func(c *Config) {
		c.apiListenAddress = addr
	}
}

// WithCallbackToken specifies the bearer token that authenticates the coordinator on the HTTP callback endpoint
func WithCallbackToken(token string) ConfigOptionFunc {
	return func(c *Config) {
		c.callbackToken = token
	}
}

// WithDevMode enables development behaviors such as minting funds through the deposit endpoint
func WithDevMode(devMode bool) ConfigOptionFunc {
	return func(c *Config) {
		c.devMode = devMode
	}
}

// WithTracing enables tracing. By default, spans are submitted to a HTTP(s) endpoint using OTLP. This can be configured
// using the OTEL_EXPORTER_OTLP_* env vars documented in the README for [go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp]
func WithTracing(tracing bool) ConfigOptionFunc {
	return func(c *Config) {
		c.tracing = tracing
	}
}

// WithTracingStdout enables tracing output to stdout. This also requires tracing to enabled separately. This is mostly useful for debugging
func WithTracingStdout(stdout bool) ConfigOptionFunc {
	return func(c *Config) {
		c.tracingStdout = stdout
	}
}

// WithShutdownTimeout specifies the timeout for graceful shutdown. The default is 30 seconds
func WithShutdownTimeout(timeout time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.shutdownTimeout = timeout
	}
}
