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

// Package database persists raffle state. Round state, entries, winners and
// account balances live in SQLite through GORM; randomness fulfillment
// proofs live in a Badger blob store. Both are in-memory when no data
// directory is configured.
package database

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

type Config struct {
	Logger       *slog.Logger
	PromRegistry prometheus.Registerer
	// DataDir holds metadata.sqlite and the blob directory. Empty means
	// in-memory.
	DataDir string
	// DisableBlobGC turns off periodic value log garbage collection
	DisableBlobGC bool
}

type Database struct {
	config   Config
	logger   *slog.Logger
	metadata *gorm.DB
	blob     *badger.DB
	blobGC   *blobGC
}

// New opens the metadata and blob stores, creating the data directory if
// needed
func New(cfg Config) (*Database, error) {
	if cfg.Logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	d := &Database{
		config: cfg,
		logger: cfg.Logger.With("component", "database"),
	}
	if cfg.DataDir != "" {
		if _, err := os.Stat(cfg.DataDir); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read data dir: %w", err)
			}
			if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create data dir: %w", err)
			}
		}
	}
	metadataDb, err := openMetadata(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open metadata store: %w", err)
	}
	d.metadata = metadataDb
	blobDb, err := openBlob(cfg.DataDir, d.logger)
	if err != nil {
		return nil, errors.Join(
			fmt.Errorf("open blob store: %w", err),
			closeMetadata(metadataDb),
		)
	}
	d.blob = blobDb
	if cfg.DataDir != "" && !cfg.DisableBlobGC {
		d.blobGC = startBlobGC(blobDb, d.logger)
	}
	if cfg.PromRegistry != nil {
		d.registerMetrics(cfg.PromRegistry)
	}
	return d, nil
}

// DataDir returns the path to the data directory used for storage
func (d *Database) DataDir() string {
	return d.config.DataDir
}

// Metadata returns the underlying GORM handle
func (d *Database) Metadata() *gorm.DB {
	return d.metadata
}

// Blob returns the underlying Badger handle
func (d *Database) Blob() *badger.DB {
	return d.blob
}

// Close stops background work and closes both stores
func (d *Database) Close() error {
	var err error
	if d.blobGC != nil {
		d.blobGC.stop()
		d.blobGC = nil
	}
	err = errors.Join(err, closeMetadata(d.metadata))
	err = errors.Join(err, d.blob.Close())
	return err
}
