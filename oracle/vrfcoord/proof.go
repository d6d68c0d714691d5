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

package vrfcoord

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/blinklabs-io/gouroboros/cbor"
	"github.com/blinklabs-io/gouroboros/vrf"
	"golang.org/x/crypto/blake2b"

	"github.com/blinklabs-io/raffle/oracle"
)

var ErrProofNotFound = errors.New("fulfillment proof not found")

// Fulfillment is the stored evidence for a served request. Anyone holding
// the coordinator public key can check it with VerifyFulfillment.
type Fulfillment struct {
	cbor.StructAsArray
	RequestID   uint64
	KeyHash     []byte
	Consumer    string
	Alpha       []byte
	Proof       []byte
	Output      []byte
	RandomWords [][]byte
	Payment     uint64
	FulfilledAt int64
	// Overridden is set when the delivered words were supplied by the
	// caller instead of derived from the proof output
	Overridden bool
}

// Words returns the delivered random words
func (f *Fulfillment) Words() []*big.Int {
	ret := make([]*big.Int, len(f.RandomWords))
	for i, w := range f.RandomWords {
		ret[i] = new(big.Int).SetBytes(w)
	}
	return ret
}

// ProofStore persists fulfillments
type ProofStore interface {
	SaveProof(ctx context.Context, f *Fulfillment) error
	Proof(ctx context.Context, requestID oracle.RequestID) (*Fulfillment, error)
}

// MemoryProofStore is a ProofStore backed by a map
type MemoryProofStore struct {
	proofs map[oracle.RequestID][]byte
	mu     sync.RWMutex
}

func NewMemoryProofStore() *MemoryProofStore {
	return &MemoryProofStore{
		proofs: make(map[oracle.RequestID][]byte),
	}
}

func (s *MemoryProofStore) SaveProof(_ context.Context, f *Fulfillment) error {
	data, err := cbor.Encode(f)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.proofs[oracle.RequestID(f.RequestID)] = data
	return nil
}

func (s *MemoryProofStore) Proof(
	_ context.Context,
	requestID oracle.RequestID,
) (*Fulfillment, error) {
	s.mu.RLock()
	data, ok := s.proofs[requestID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProofNotFound, requestID)
	}
	var ret Fulfillment
	if _, err := cbor.Decode(data, &ret); err != nil {
		return nil, err
	}
	return &ret, nil
}

// KeyHashFromVKey derives the key hash that identifies a proving key
func KeyHashFromVKey(vkey []byte) oracle.KeyHash {
	return oracle.KeyHash(blake2b.Sum256(vkey))
}

// Alpha builds the VRF input for a request
func Alpha(requestID oracle.RequestID, keyHash oracle.KeyHash, preSeed []byte) []byte {
	seed := make([]byte, 0, len(keyHash)+len(preSeed))
	seed = append(seed, keyHash[:]...)
	seed = append(seed, preSeed...)
	return vrf.MkInputVrf(int64(requestID), seed) // #nosec G115 -- ids are small
}

// DeriveWords expands a VRF output into the requested number of words
func DeriveWords(output []byte, numWords uint32) [][]byte {
	ret := make([][]byte, numWords)
	buf := make([]byte, len(output)+8)
	copy(buf, output)
	for i := range ret {
		binary.BigEndian.PutUint64(buf[len(output):], uint64(i))
		sum := blake2b.Sum256(buf)
		ret[i] = sum[:]
	}
	return ret
}

// VerifyFulfillment checks the VRF proof and, unless the words were
// overridden, that the delivered words follow from the proof output
func VerifyFulfillment(vkey []byte, f *Fulfillment) (bool, error) {
	ok, err := vrf.Verify(vkey, f.Proof, f.Output, f.Alpha)
	if err != nil || !ok {
		return false, err
	}
	if f.Overridden {
		return true, nil
	}
	expected := DeriveWords(f.Output, uint32(len(f.RandomWords))) // #nosec G115
	for i := range expected {
		if string(expected[i]) != string(f.RandomWords[i]) {
			return false, nil
		}
	}
	return true, nil
}
