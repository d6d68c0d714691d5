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

package database

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
)

const blobGCInterval = 5 * time.Minute

func openBlob(dataDir string, logger *slog.Logger) (*badger.DB, error) {
	var badgerOpts badger.Options
	if dataDir == "" {
		badgerOpts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		badgerOpts = badger.DefaultOptions(filepath.Join(dataDir, "blob")).
			WithCompression(options.Snappy)
	}
	badgerOpts = badgerOpts.
		WithLogger(&badgerLogger{logger: logger}).
		// The default INFO logging is a bit verbose
		WithLoggingLevel(badger.WARNING)
	return badger.Open(badgerOpts)
}

// badgerLogger adapts slog to the badger logger interface
type badgerLogger struct {
	logger *slog.Logger
}

func (b *badgerLogger) Errorf(msg string, args ...any) {
	b.logger.Error(fmt.Sprintf("blob: "+msg, args...))
}

func (b *badgerLogger) Warningf(msg string, args ...any) {
	b.logger.Warn(fmt.Sprintf("blob: "+msg, args...))
}

func (b *badgerLogger) Infof(msg string, args ...any) {
	b.logger.Info(fmt.Sprintf("blob: "+msg, args...))
}

func (b *badgerLogger) Debugf(msg string, args ...any) {
	b.logger.Debug(fmt.Sprintf("blob: "+msg, args...))
}

type blobGC struct {
	ticker *time.Ticker
	stopCh chan struct{}
	wg     sync.WaitGroup
}

func startBlobGC(db *badger.DB, logger *slog.Logger) *blobGC {
	gc := &blobGC{
		ticker: time.NewTicker(blobGCInterval),
		stopCh: make(chan struct{}),
	}
	gc.wg.Add(1)
	go func() {
		defer gc.wg.Done()
		for {
			select {
			case <-gc.ticker.C:
				// Keep collecting while each pass rewrites a file
				for {
					err := db.RunValueLogGC(0.5)
					if err == nil {
						continue
					}
					if !errors.Is(err, badger.ErrNoRewrite) {
						logger.Warn(
							"blob GC failure",
							"error", err,
						)
					}
					break
				}
			case <-gc.stopCh:
				return
			}
		}
	}()
	return gc
}

func (gc *blobGC) stop() {
	gc.ticker.Stop()
	close(gc.stopCh)
	gc.wg.Wait()
}
