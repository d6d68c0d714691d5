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

// Package keystore loads and creates the VRF key used by the local
// randomness coordinator to prove its fulfillments.
package keystore

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/blinklabs-io/gouroboros/vrf"
)

var (
	// ErrInsecureFileMode is returned when a key file is readable by
	// anyone other than its owner
	ErrInsecureFileMode = errors.New("key file has insecure permissions")
	// ErrKeyNotLoaded is returned when a key is requested before LoadFromFiles
	ErrKeyNotLoaded = errors.New("key not loaded")
)

// VRFSigner produces VRF proofs
type VRFSigner interface {
	Prove(alpha []byte) ([]byte, []byte, error)
	VKey() []byte
}

// VRFKey is a VRF key pair derived from a 32-byte seed
type VRFKey struct {
	seed []byte
	vkey []byte
}

// NewVRFKey derives a key pair from a seed
func NewVRFKey(seed []byte) (*VRFKey, error) {
	if len(seed) != vrf.SeedSize {
		return nil, fmt.Errorf(
			"invalid VRF seed size: expected %d, got %d",
			vrf.SeedSize,
			len(seed),
		)
	}
	vkey, _, err := vrf.KeyGen(seed)
	if err != nil {
		return nil, fmt.Errorf("failed to derive VRF public key: %w", err)
	}
	return &VRFKey{
		seed: bytes.Clone(seed),
		vkey: vkey,
	}, nil
}

// GenerateVRFKey creates a key pair from a random seed
func GenerateVRFKey() (*VRFKey, error) {
	seed := make([]byte, vrf.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("failed to generate VRF seed: %w", err)
	}
	return NewVRFKey(seed)
}

func (k *VRFKey) Prove(alpha []byte) ([]byte, []byte, error) {
	return vrf.Prove(k.seed, alpha)
}

func (k *VRFKey) VKey() []byte {
	return bytes.Clone(k.vkey)
}

type KeyStoreConfig struct {
	Logger      *slog.Logger
	VRFSKeyPath string
	// AllowInsecurePermissions skips the key file permission check
	AllowInsecurePermissions bool
}

// KeyStore holds the coordinator VRF key loaded from disk
type KeyStore struct {
	config KeyStoreConfig
	logger *slog.Logger
	vrfKey *VRFKey
	mu     sync.RWMutex
}

func NewKeyStore(config KeyStoreConfig) *KeyStore {
	if config.Logger == nil {
		config.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &KeyStore{
		config: config,
		logger: config.Logger.With("component", "keystore"),
	}
}

// LoadFromFiles reads the VRF signing key, decrypting it first if it was
// encrypted with SOPS
func (ks *KeyStore) LoadFromFiles() error {
	if ks.config.VRFSKeyPath == "" {
		return errors.New("no VRF signing key path configured")
	}
	key, err := loadVRFSigningKey(
		ks.config.VRFSKeyPath,
		!ks.config.AllowInsecurePermissions,
	)
	if err != nil {
		return fmt.Errorf("failed to load VRF signing key: %w", err)
	}
	ks.mu.Lock()
	ks.vrfKey = key
	ks.mu.Unlock()
	ks.logger.Info(
		"loaded VRF signing key",
		"path", ks.config.VRFSKeyPath,
	)
	return nil
}

// Generate replaces the loaded key with a freshly generated one. It is used
// in development mode when no key file is configured.
func (ks *KeyStore) Generate() error {
	key, err := GenerateVRFKey()
	if err != nil {
		return err
	}
	ks.mu.Lock()
	ks.vrfKey = key
	ks.mu.Unlock()
	ks.logger.Warn("using ephemeral VRF key, proofs will not verify after restart")
	return nil
}

func (ks *KeyStore) IsLoaded() bool {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return ks.vrfKey != nil
}

// VRFSigner returns the loaded key
func (ks *KeyStore) VRFSigner() (VRFSigner, error) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	if ks.vrfKey == nil {
		return nil, ErrKeyNotLoaded
	}
	return ks.vrfKey, nil
}
