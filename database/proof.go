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
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/blinklabs-io/gouroboros/cbor"
	"github.com/blinklabs-io/raffle/oracle"
	"github.com/blinklabs-io/raffle/oracle/vrfcoord"
	badger "github.com/dgraph-io/badger/v4"
)

const proofKeyPrefix = "proof_"

// ProofStore returns a vrfcoord.ProofStore backed by the blob database
func (d *Database) ProofStore() vrfcoord.ProofStore {
	return &proofStore{db: d}
}

type proofStore struct {
	db *Database
}

func proofKey(requestID oracle.RequestID) []byte {
	key := make([]byte, 0, len(proofKeyPrefix)+8)
	key = append(key, proofKeyPrefix...)
	return binary.BigEndian.AppendUint64(key, uint64(requestID))
}

func (s *proofStore) SaveProof(_ context.Context, f *vrfcoord.Fulfillment) error {
	data, err := cbor.Encode(f)
	if err != nil {
		return fmt.Errorf("encode fulfillment: %w", err)
	}
	err = s.db.blob.Update(func(txn *badger.Txn) error {
		return txn.Set(proofKey(oracle.RequestID(f.RequestID)), data)
	})
	if err != nil {
		return fmt.Errorf("save proof: %w", err)
	}
	return nil
}

func (s *proofStore) Proof(
	_ context.Context,
	requestID oracle.RequestID,
) (*vrfcoord.Fulfillment, error) {
	var data []byte
	err := s.db.blob.View(func(txn *badger.Txn) error {
		item, err := txn.Get(proofKey(requestID))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: %s", vrfcoord.ErrProofNotFound, requestID)
		}
		return nil, fmt.Errorf("load proof: %w", err)
	}
	var ret vrfcoord.Fulfillment
	if _, err := cbor.Decode(data, &ret); err != nil {
		return nil, fmt.Errorf("decode fulfillment: %w", err)
	}
	return &ret, nil
}
