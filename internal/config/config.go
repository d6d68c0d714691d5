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

package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

type ctxKey string

const configContextKey ctxKey = "raffle.config"

const (
	DefaultNetwork         = "hardhat"
	DefaultShutdownTimeout = "30s"
	DefaultKeeperInterval  = "1s"
	DefaultFulfillDelay    = "2s"
)

func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configContextKey, cfg)
}

func FromContext(ctx context.Context) *Config {
	cfg, ok := ctx.Value(configContextKey).(*Config)
	if !ok {
		return nil
	}
	return cfg
}

var ErrUnknownNetwork = errors.New("unknown network")

type Config struct {
	Network                   string `yaml:"network"                   toml:"network"`
	DatabasePath              string `yaml:"databasePath"              toml:"databasePath"              split_words:"true"`
	BindAddr                  string `yaml:"bindAddr"                  toml:"bindAddr"                  split_words:"true"`
	RaffleAddress             string `yaml:"raffleAddress"             toml:"raffleAddress"             split_words:"true"`
	CoordinatorAddress        string `yaml:"coordinatorAddress"        toml:"coordinatorAddress"        split_words:"true"`
	KeyHash                   string `yaml:"keyHash"                   toml:"keyHash"                   split_words:"true"`
	VrfSigningKey             string `yaml:"vrfSigningKey"             toml:"vrfSigningKey"             envconfig:"VRF_SKEY"`
	CallbackToken             string `yaml:"callbackToken"             toml:"callbackToken"             split_words:"true"`
	Interval                  string `yaml:"interval"                  toml:"interval"`
	RequestTimeout            string `yaml:"requestTimeout"            toml:"requestTimeout"            split_words:"true"`
	KeeperInterval            string `yaml:"keeperInterval"            toml:"keeperInterval"            split_words:"true"`
	FulfillDelay              string `yaml:"fulfillDelay"              toml:"fulfillDelay"              split_words:"true"`
	ShutdownTimeout           string `yaml:"shutdownTimeout"           toml:"shutdownTimeout"           split_words:"true"`
	EntranceFee               uint64 `yaml:"entranceFee"               toml:"entranceFee"               split_words:"true"`
	SubscriptionFunding       uint64 `yaml:"subscriptionFunding"       toml:"subscriptionFunding"       split_words:"true"`
	MetricsPort               uint   `yaml:"metricsPort"               toml:"metricsPort"               split_words:"true"`
	ApiPort                   uint   `yaml:"apiPort"                   toml:"apiPort"                   split_words:"true"`
	CallbackGasLimit          uint32 `yaml:"callbackGasLimit"          toml:"callbackGasLimit"          split_words:"true"`
	NumWords                  uint32 `yaml:"numWords"                  toml:"numWords"                  split_words:"true"`
	RequestConfirmations      uint16 `yaml:"requestConfirmations"      toml:"requestConfirmations"      split_words:"true"`
	AllowInsecureKeyFileModes bool   `yaml:"allowInsecureKeyFileModes" toml:"allowInsecureKeyFileModes" split_words:"true"`
	DisableKeeper             bool   `yaml:"disableKeeper"             toml:"disableKeeper"             split_words:"true"`
	DisableCoordinatorWorker  bool   `yaml:"disableCoordinatorWorker"  toml:"disableCoordinatorWorker"  split_words:"true"`
	DevMode                   bool   `yaml:"devMode"                   toml:"devMode"                   split_words:"true"`
	Tracing                   bool   `yaml:"tracing"                   toml:"tracing"`
	TracingStdout             bool   `yaml:"tracingStdout"             toml:"tracingStdout"             split_words:"true"`
}

// Timings holds the parsed duration settings
type Timings struct {
	Interval        time.Duration
	RequestTimeout  time.Duration
	KeeperInterval  time.Duration
	FulfillDelay    time.Duration
	ShutdownTimeout time.Duration
}

// Timings parses the duration settings. An empty request timeout disables
// stalled request cancellation.
func (c *Config) Timings() (Timings, error) {
	var ret Timings
	fields := []struct {
		dest     *time.Duration
		name     string
		value    string
		optional bool
	}{
		{&ret.Interval, "interval", c.Interval, false},
		{&ret.RequestTimeout, "requestTimeout", c.RequestTimeout, true},
		{&ret.KeeperInterval, "keeperInterval", c.KeeperInterval, false},
		{&ret.FulfillDelay, "fulfillDelay", c.FulfillDelay, false},
		{&ret.ShutdownTimeout, "shutdownTimeout", c.ShutdownTimeout, false},
	}
	for _, field := range fields {
		if field.value == "" && field.optional {
			continue
		}
		tmpDuration, err := time.ParseDuration(field.value)
		if err != nil {
			return Timings{}, fmt.Errorf("invalid %s %q: %w", field.name, field.value, err)
		}
		if tmpDuration < 0 {
			return Timings{}, fmt.Errorf("invalid %s %q: must not be negative", field.name, field.value)
		}
		*field.dest = tmpDuration
	}
	return ret, nil
}

// NetworkPreset holds the per-network defaults for settings left unset
type NetworkPreset struct {
	CoordinatorAddress string
	KeyHash            string
	Interval           string
	EntranceFee        uint64
	CallbackGasLimit   uint32
	DevMode            bool
}

// 0.01 in 18 decimal base units
const defaultEntranceFee = 10_000_000_000_000_000

const defaultGasLane = "0x474e34a077df58807dbe9c96d3c009b23b3c6d0cce433e59bbf5b34f823bc56c"

var networkPresets = map[string]NetworkPreset{
	"sepolia": {
		CoordinatorAddress: "0x3089c112584731C50B3B5C48103f947a2408fc59",
		KeyHash:            defaultGasLane,
		Interval:           "30s",
		EntranceFee:        defaultEntranceFee,
		CallbackGasLimit:   500_000,
	},
	"hardhat": {
		KeyHash:          defaultGasLane,
		Interval:         "30s",
		EntranceFee:      defaultEntranceFee,
		CallbackGasLimit: 500_000,
		DevMode:          true,
	},
	"localhost": {
		Interval:         "30s",
		EntranceFee:      defaultEntranceFee,
		CallbackGasLimit: 500_000,
		DevMode:          true,
	},
}

// NetworkByName returns the preset for a named network
func NetworkByName(name string) (NetworkPreset, bool) {
	preset, ok := networkPresets[strings.ToLower(name)]
	return preset, ok
}

// Networks returns the names of the known networks
func Networks() []string {
	ret := make([]string, 0, len(networkPresets))
	for name := range networkPresets {
		ret = append(ret, name)
	}
	slices.Sort(ret)
	return ret
}

func newDefaultConfig() *Config {
	return &Config{
		Network:         DefaultNetwork,
		DatabasePath:    ".raffle",
		BindAddr:        "0.0.0.0",
		MetricsPort:     12799,
		ApiPort:         8080,
		KeeperInterval:  DefaultKeeperInterval,
		FulfillDelay:    DefaultFulfillDelay,
		ShutdownTimeout: DefaultShutdownTimeout,
	}
}

var globalConfig = newDefaultConfig()

// LoadConfig builds the config from defaults, then the config file (YAML, or
// TOML when the file name ends in .toml), then RAFFLE_* environment variables.
// Settings still unset are filled from the network preset.
func LoadConfig(configFile string) (*Config, error) {
	cfg := newDefaultConfig()
	if configFile == "" {
		// Check for config file in this path: ~/.raffle/raffle.yaml
		if homeDir, err := os.UserHomeDir(); err == nil {
			userPath := filepath.Join(homeDir, ".raffle", "raffle.yaml")
			if _, err := os.Stat(userPath); err == nil {
				configFile = userPath
			}
		}
		// Try to check for /etc/raffle/raffle.yaml if still not found
		if configFile == "" {
			systemPath := "/etc/raffle/raffle.yaml"
			if _, err := os.Stat(systemPath); err == nil {
				configFile = systemPath
			}
		}
	}
	if configFile != "" {
		buf, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if strings.EqualFold(filepath.Ext(configFile), ".toml") {
			if _, err := toml.Decode(string(buf), cfg); err != nil {
				return nil, fmt.Errorf("error parsing config file: %w", err)
			}
		} else {
			if err := yaml.Unmarshal(buf, cfg); err != nil {
				return nil, fmt.Errorf("error parsing config file: %w", err)
			}
		}
	}
	// Process environment variables
	if err := envconfig.Process("raffle", cfg); err != nil {
		return nil, fmt.Errorf("error processing environment: %w", err)
	}
	if err := cfg.applyNetworkPreset(); err != nil {
		return nil, err
	}
	if _, err := cfg.Timings(); err != nil {
		return nil, err
	}
	globalConfig = cfg
	return cfg, nil
}

func (c *Config) applyNetworkPreset() error {
	preset, ok := NetworkByName(c.Network)
	if !ok {
		return fmt.Errorf(
			"%w: %s (known networks: %s)",
			ErrUnknownNetwork,
			c.Network,
			strings.Join(Networks(), ", "),
		)
	}
	if c.CoordinatorAddress == "" {
		c.CoordinatorAddress = preset.CoordinatorAddress
	}
	if c.KeyHash == "" {
		c.KeyHash = preset.KeyHash
	}
	if c.Interval == "" {
		c.Interval = preset.Interval
	}
	if c.EntranceFee == 0 {
		c.EntranceFee = preset.EntranceFee
	}
	if c.CallbackGasLimit == 0 {
		c.CallbackGasLimit = preset.CallbackGasLimit
	}
	if preset.DevMode {
		c.DevMode = true
	}
	return nil
}

func GetConfig() *Config {
	return globalConfig
}
