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
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/blinklabs-io/raffle/api"
	"github.com/blinklabs-io/raffle/database"
	"github.com/blinklabs-io/raffle/event"
	"github.com/blinklabs-io/raffle/keystore"
	"github.com/blinklabs-io/raffle/ledger"
	"github.com/blinklabs-io/raffle/oracle"
	"github.com/blinklabs-io/raffle/oracle/vrfcoord"
	"github.com/blinklabs-io/raffle/round"
	"github.com/blinklabs-io/raffle/upkeep"
	"github.com/blinklabs-io/raffle/wallet"
)

type Node struct {
	eventBus      *event.EventBus
	db            *database.Database
	wallet        wallet.Wallet
	coordinator   *vrfcoord.Coordinator
	oracleClient  *oracle.Client
	machine       *round.Machine
	keeper        *upkeep.Keeper
	api           *api.Server
	shutdownFuncs []func(context.Context) error
	config        Config
	done          chan struct{}
	startOnce     sync.Once
	shutdownOnce  sync.Once
}

func New(cfg Config) (*Node, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	eventBus := event.NewEventBus(cfg.promRegistry, cfg.logger)
	n := &Node{
		config:   cfg,
		eventBus: eventBus,
		done:     make(chan struct{}),
	}
	return n, nil
}

// Run starts the node and blocks until Stop is called
func (n *Node) Run(ctx context.Context) error {
	if err := n.Start(ctx); err != nil {
		return err
	}
	// Wait for shutdown signal
	<-n.done
	return nil
}

// Start brings up every component without blocking. Components that fail to
// start are torn down again before the error is returned.
func (n *Node) Start(ctx context.Context) error {
	err := errors.New("node already started")
	n.startOnce.Do(func() {
		err = n.start(ctx)
		if err != nil {
			err = errors.Join(err, n.Stop())
		}
	})
	return err
}

func (n *Node) start(ctx context.Context) error {
	logger := n.config.logger
	// Configure tracing
	if n.config.tracing {
		if err := n.setupTracing(); err != nil {
			return err
		}
	}
	// Load database
	db, err := database.New(database.Config{
		DataDir:      n.config.dataDir,
		Logger:       logger,
		PromRegistry: n.config.promRegistry,
	})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	n.db = db
	n.wallet = db.Wallet(n.config.raffleAddress)
	// Load coordinator key
	signer, err := n.loadSigner()
	if err != nil {
		return err
	}
	// Local randomness coordinator
	coordCfg := vrfcoord.Config{
		Logger:       logger,
		PromRegistry: n.config.promRegistry,
		Signer:       signer,
		ProofStore:   db.ProofStore(),
		Address:      n.config.coordinatorAddress,
		FulfillDelay: n.config.fulfillDelay,
	}
	if n.config.keyHash != "" {
		// Validated with the rest of the config
		coordCfg.KeyHash, _ = oracle.ParseKeyHash(n.config.keyHash)
	}
	n.coordinator, err = vrfcoord.New(coordCfg)
	if err != nil {
		return fmt.Errorf("failed to create coordinator: %w", err)
	}
	n.oracleClient, err = oracle.NewClient(oracle.ClientConfig{
		Coordinator:        n.coordinator,
		Logger:             logger,
		CoordinatorAddress: n.coordinator.Address(),
	})
	if err != nil {
		return fmt.Errorf("failed to create oracle client: %w", err)
	}
	subID := n.coordinator.CreateSubscription(n.config.raffleAddress)
	if err := n.coordinator.FundSubscription(subID, n.config.subscriptionFunding); err != nil {
		return fmt.Errorf("failed to fund subscription: %w", err)
	}
	if err := n.coordinator.AddConsumer(subID, n.config.raffleAddress, n.oracleClient); err != nil {
		return fmt.Errorf("failed to add raffle as consumer: %w", err)
	}
	// Round state machine
	n.machine, err = round.New(ctx, round.Config{
		Logger:               logger,
		PromRegistry:         n.config.promRegistry,
		EventBus:             n.eventBus,
		Store:                db.RoundStore(),
		Bank:                 n.wallet,
		Oracle:               n.oracleClient,
		Address:              n.config.raffleAddress,
		EntranceFee:          n.config.entranceFee,
		Interval:             n.config.interval,
		KeyHash:              n.coordinator.KeyHash(),
		SubscriptionID:       subID,
		CallbackGasLimit:     n.config.callbackGasLimit,
		NumWords:             n.config.numWords,
		RequestConfirmations: n.config.requestConfirmations,
		RequestTimeout:       n.config.requestTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to load round: %w", err)
	}
	n.oracleClient.Bind(n.machine)
	if err := n.recoverRequests(ctx, subID); err != nil {
		return err
	}
	n.eventBus.SubscribeFunc(event.WinnerPickedEventType, n.handleWinnerPicked)
	n.eventBus.SubscribeFunc(event.PayoutFailedEventType, n.handlePayoutFailed)
	// Background workers
	if !n.config.disableCoordinatorWorker {
		if err := n.coordinator.Start(ctx); err != nil {
			return fmt.Errorf("failed to start coordinator: %w", err)
		}
		n.shutdownFuncs = append(n.shutdownFuncs, func(context.Context) error {
			n.coordinator.Stop()
			return nil
		})
	}
	if !n.config.disableKeeper {
		n.keeper, err = upkeep.NewKeeper(upkeep.KeeperConfig{
			Logger:       logger,
			PromRegistry: n.config.promRegistry,
			Performer:    n.machine,
			Interval:     n.config.keeperInterval,
		})
		if err != nil {
			return fmt.Errorf("failed to create keeper: %w", err)
		}
		if err := n.keeper.Start(ctx); err != nil {
			return fmt.Errorf("failed to start keeper: %w", err)
		}
	}
	// HTTP API
	if n.config.apiListenAddress != "" {
		apiCfg := api.ServerConfig{
			Logger:         logger,
			Raffle:         n.machine,
			Callback:       n.oracleClient,
			Proofs:         n.coordinator,
			Accounts:       n.wallet,
			ListenAddress:  n.config.apiListenAddress,
			EnableDeposits: n.config.devMode,
		}
		if n.config.callbackToken != "" {
			apiCfg.CallbackTokens = map[string]ledger.Address{
				n.config.callbackToken: n.coordinator.Address(),
			}
		}
		n.api, err = api.New(apiCfg)
		if err != nil {
			return fmt.Errorf("failed to create API server: %w", err)
		}
		if err := n.api.Start(ctx); err != nil {
			return err
		}
	}
	status := n.machine.Status()
	logger.Info(
		"raffle started",
		"component", "node",
		"round", status.RoundNumber,
		"state", status.State.String(),
		"participants", status.Participants,
		"entrance_fee", uint64(status.EntranceFee),
		"interval", status.Interval.String(),
		"key_hash", n.coordinator.KeyHash().String(),
	)
	return nil
}

func (n *Node) loadSigner() (keystore.VRFSigner, error) {
	ks := keystore.NewKeyStore(keystore.KeyStoreConfig{
		Logger:                   n.config.logger,
		VRFSKeyPath:              n.config.vrfSKeyPath,
		AllowInsecurePermissions: n.config.allowInsecureKeyFileModes,
	})
	if n.config.vrfSKeyPath != "" {
		if err := ks.LoadFromFiles(); err != nil {
			return nil, fmt.Errorf("failed to load VRF key: %w", err)
		}
	} else {
		n.config.logger.Warn(
			"no VRF signing key configured, using a throwaway key",
			"component", "node",
		)
		if err := ks.Generate(); err != nil {
			return nil, fmt.Errorf("failed to generate VRF key: %w", err)
		}
	}
	return ks.VRFSigner()
}

// recoverRequests makes the restarted coordinator continue where the
// previous process stopped. Request ids already used for payouts are
// reserved, and a request that was still pending is queued again.
func (n *Node) recoverRequests(ctx context.Context, subID uint64) error {
	winners, err := n.machine.Winners(ctx, 1)
	if err != nil {
		return fmt.Errorf("failed to load winners: %w", err)
	}
	if len(winners) > 0 {
		n.coordinator.ReserveRequestIDs(winners[0].RequestID)
	}
	requestID, params, ok := n.machine.PendingRequestParams()
	if !ok {
		return nil
	}
	n.coordinator.ReserveRequestIDs(requestID)
	// The subscription is recreated on every start
	params.SubscriptionID = subID
	if err := n.coordinator.RestoreRequest(requestID, params); err != nil {
		n.config.logger.Warn(
			"could not restore pending randomness request",
			"component", "node",
			"request_id", requestID,
			"error", err,
		)
	}
	return nil
}

func (n *Node) handleWinnerPicked(evt event.Event) {
	data, ok := evt.Data.(event.WinnerPickedEvent)
	if !ok {
		return
	}
	n.config.logger.Info(
		"winner picked",
		"component", "node",
		"round", data.RoundNumber,
		"winner", data.Winner,
		"amount", data.Amount,
		"request_id", data.RequestId,
	)
}

func (n *Node) handlePayoutFailed(evt event.Event) {
	data, ok := evt.Data.(event.PayoutFailedEvent)
	if !ok {
		return
	}
	n.config.logger.Warn(
		"payout failed, round stays closed until retried",
		"component", "node",
		"round", data.RoundNumber,
		"winner", data.Winner,
		"error", data.Error,
	)
}

// Machine returns the round state machine. It is nil until the node has started
func (n *Node) Machine() *round.Machine {
	return n.machine
}

// Coordinator returns the local randomness coordinator
func (n *Node) Coordinator() *vrfcoord.Coordinator {
	return n.coordinator
}

// Wallet returns the account wallet
func (n *Node) Wallet() wallet.Wallet {
	return n.wallet
}

// EventBus returns the node event bus
func (n *Node) EventBus() *event.EventBus {
	return n.eventBus
}

func (n *Node) Stop() error {
	var err error
	n.shutdownOnce.Do(func() {
		err = n.shutdown()
	})
	return err
}

func (n *Node) shutdown() error {
	shutdownTimeout := DefaultShutdownTimeout
	if n.config.shutdownTimeout > 0 {
		shutdownTimeout = n.config.shutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var err error

	n.config.logger.Debug("starting graceful shutdown", "component", "node")

	// Phase 1: Stop accepting new work
	if n.api != nil {
		if stopErr := n.api.Stop(ctx); stopErr != nil {
			err = errors.Join(err, fmt.Errorf("api shutdown: %w", stopErr))
		}
	}
	if n.keeper != nil {
		n.keeper.Stop()
	}

	// Phase 2: Stop background workers and flush tracing
	for _, fn := range n.shutdownFuncs {
		if fnErr := fn(ctx); fnErr != nil {
			err = errors.Join(err, fmt.Errorf("shutdown function: %w", fnErr))
		}
	}
	n.shutdownFuncs = nil

	if n.eventBus != nil {
		n.eventBus.Close()
	}

	// Phase 3: Close database
	if n.db != nil {
		if closeErr := n.db.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("database close: %w", closeErr))
		}
	}

	n.config.logger.Debug("graceful shutdown complete", "component", "node")
	close(n.done)
	return err
}
