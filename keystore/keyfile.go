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

package keystore

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/blinklabs-io/gouroboros/cbor"
	"github.com/blinklabs-io/gouroboros/vrf"
)

const (
	VRFSigningKeyType      = "VrfSigningKey_PraosVRF"
	VRFVerificationKeyType = "VrfVerificationKey_PraosVRF"

	// Key files are well under this size
	maxKeyFileSize = 1 << 20
)

// keyFileEnvelope is the JSON text envelope used by cardano-cli key files
type keyFileEnvelope struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	CborHex     string `json:"cborHex"`
}

// loadVRFSigningKey opens the key file, checks its permissions on the open
// handle and parses it
func loadVRFSigningKey(path string, checkPerms bool) (*VRFKey, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open key file %q: %w", path, err)
	}
	defer f.Close()
	if checkPerms {
		if err := checkOpenFilePermissions(f); err != nil {
			return nil, err
		}
	}
	data, err := io.ReadAll(io.LimitReader(f, maxKeyFileSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read key file %q: %w", path, err)
	}
	if isEncrypted(data) {
		data, err = Decrypt(data)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt key file %q: %w", path, err)
		}
	}
	key, err := ParseVRFSigningKey(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse key file %q: %w", path, err)
	}
	return key, nil
}

// ParseVRFSigningKey parses a VRF signing key envelope. The CBOR payload may
// hold the seed alone or the seed followed by the public key; the public key
// is always derived from the seed.
func ParseVRFSigningKey(data []byte) (*VRFKey, error) {
	var env keyFileEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("could not parse key file envelope: %w", err)
	}
	switch env.Type {
	case VRFSigningKeyType, "VRFSigningKey_PraosVRF":
	default:
		return nil, fmt.Errorf("unexpected key type: %s", env.Type)
	}
	cborData, err := hex.DecodeString(env.CborHex)
	if err != nil {
		return nil, fmt.Errorf("could not decode key from hex: %w", err)
	}
	var keyBytes []byte
	if _, err := cbor.Decode(cborData, &keyBytes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal VRF skey CBOR: %w", err)
	}
	switch len(keyBytes) {
	case vrf.SeedSize, vrf.SeedSize + vrf.PublicKeySize:
		return NewVRFKey(keyBytes[:vrf.SeedSize])
	default:
		return nil, fmt.Errorf(
			"invalid VRF skey bytes: expected %d or %d, got %d",
			vrf.SeedSize,
			vrf.SeedSize+vrf.PublicKeySize,
			len(keyBytes),
		)
	}
}

// ParseVRFVerificationKey parses a VRF verification key envelope
func ParseVRFVerificationKey(data []byte) ([]byte, error) {
	var env keyFileEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("could not parse key file envelope: %w", err)
	}
	if env.Type != VRFVerificationKeyType {
		return nil, fmt.Errorf("unexpected key type: %s", env.Type)
	}
	cborData, err := hex.DecodeString(env.CborHex)
	if err != nil {
		return nil, fmt.Errorf("could not decode key from hex: %w", err)
	}
	var vkey []byte
	if _, err := cbor.Decode(cborData, &vkey); err != nil {
		return nil, fmt.Errorf("failed to unmarshal VRF vkey CBOR: %w", err)
	}
	if len(vkey) != vrf.PublicKeySize {
		return nil, fmt.Errorf(
			"invalid VRF vkey bytes: expected %d, got %d",
			vrf.PublicKeySize,
			len(vkey),
		)
	}
	return vkey, nil
}

// MarshalSigningKey returns the signing key envelope in the cardano-cli
// layout of seed followed by public key
func (k *VRFKey) MarshalSigningKey() ([]byte, error) {
	payload := make([]byte, 0, vrf.SeedSize+vrf.PublicKeySize)
	payload = append(payload, k.seed...)
	payload = append(payload, k.vkey...)
	return marshalEnvelope(VRFSigningKeyType, "VRF Signing Key", payload)
}

// MarshalVerificationKey returns the verification key envelope
func (k *VRFKey) MarshalVerificationKey() ([]byte, error) {
	return marshalEnvelope(VRFVerificationKeyType, "VRF Verification Key", k.vkey)
}

func marshalEnvelope(keyType, description string, payload []byte) ([]byte, error) {
	cborData, err := cbor.Encode(payload)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(
		keyFileEnvelope{
			Type:        keyType,
			Description: description,
			CborHex:     hex.EncodeToString(cborData),
		},
		"",
		"    ",
	)
}

// isEncrypted reports whether data looks like a SOPS document
func isEncrypted(data []byte) bool {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return false
	}
	_, ok := doc["sops"]
	return ok
}
