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
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/blinklabs-io/gouroboros/vrf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testVRFSKeyJSON = `{
    "type": "VrfSigningKey_PraosVRF",
    "description": "VRF Signing Key",
    "cborHex": "5840899795b70e9f34b737159fe21a6170568d6031e187f0cc84555c712b7c29b45cb882007593ef70f86e5c0948561a3b8e8851529a4f98975f2b24e768dda38ce2"
}`

func writeKeyFile(t *testing.T, content string, mode os.FileMode) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vrf.skey")
	require.NoError(t, os.WriteFile(path, []byte(content), mode))
	require.NoError(t, os.Chmod(path, mode))
	return path
}

func TestKeyStoreLoadFromFiles(t *testing.T) {
	path := writeKeyFile(t, testVRFSKeyJSON, 0o600)
	ks := NewKeyStore(KeyStoreConfig{VRFSKeyPath: path})
	require.False(t, ks.IsLoaded())
	_, err := ks.VRFSigner()
	require.ErrorIs(t, err, ErrKeyNotLoaded)

	require.NoError(t, ks.LoadFromFiles())
	assert.True(t, ks.IsLoaded())
	signer, err := ks.VRFSigner()
	require.NoError(t, err)
	assert.Len(t, signer.VKey(), vrf.PublicKeySize)

	alpha := vrf.MkInputVrf(1, []byte("raffle"))
	proof, output, err := signer.Prove(alpha)
	require.NoError(t, err)
	assert.Len(t, proof, vrf.ProofSize)
	assert.Len(t, output, vrf.OutputSize)
	ok, err := vrf.Verify(signer.VKey(), proof, output, alpha)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestKeyStoreInsecurePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix file modes only")
	}
	path := writeKeyFile(t, testVRFSKeyJSON, 0o644)
	ks := NewKeyStore(KeyStoreConfig{VRFSKeyPath: path})
	err := ks.LoadFromFiles()
	require.ErrorIs(t, err, ErrInsecureFileMode)
	assert.False(t, ks.IsLoaded())

	ks = NewKeyStore(KeyStoreConfig{
		VRFSKeyPath:              path,
		AllowInsecurePermissions: true,
	})
	require.NoError(t, ks.LoadFromFiles())
}

func TestKeyStoreMissingPath(t *testing.T) {
	ks := NewKeyStore(KeyStoreConfig{})
	require.Error(t, ks.LoadFromFiles())
	ks = NewKeyStore(KeyStoreConfig{
		VRFSKeyPath: filepath.Join(t.TempDir(), "missing.skey"),
	})
	require.Error(t, ks.LoadFromFiles())
}

func TestKeyStoreGenerate(t *testing.T) {
	ks := NewKeyStore(KeyStoreConfig{})
	require.NoError(t, ks.Generate())
	signer, err := ks.VRFSigner()
	require.NoError(t, err)
	assert.Len(t, signer.VKey(), vrf.PublicKeySize)
}

func TestMarshalSigningKeyRoundTrip(t *testing.T) {
	key, err := GenerateVRFKey()
	require.NoError(t, err)
	skeyData, err := key.MarshalSigningKey()
	require.NoError(t, err)
	parsed, err := ParseVRFSigningKey(skeyData)
	require.NoError(t, err)
	assert.Equal(t, key.VKey(), parsed.VKey())

	vkeyData, err := key.MarshalVerificationKey()
	require.NoError(t, err)
	vkey, err := ParseVRFVerificationKey(vkeyData)
	require.NoError(t, err)
	assert.Equal(t, key.VKey(), vkey)
}

func TestParseVRFSigningKeyErrors(t *testing.T) {
	testDefs := []struct {
		name string
		data string
	}{
		{"not json", "not json"},
		{"wrong type", `{"type":"KesSigningKey_ed25519_kes_2^6","cborHex":"00"}`},
		{"bad hex", `{"type":"VrfSigningKey_PraosVRF","cborHex":"zz"}`},
		{"short key", `{"type":"VrfSigningKey_PraosVRF","cborHex":"43010203"}`},
	}
	for _, test := range testDefs {
		t.Run(test.name, func(t *testing.T) {
			_, err := ParseVRFSigningKey([]byte(test.data))
			assert.Error(t, err)
		})
	}
}

func TestNewVRFKeyRejectsBadSeed(t *testing.T) {
	_, err := NewVRFKey(make([]byte, vrf.SeedSize-1))
	require.Error(t, err)
}

func TestIsEncrypted(t *testing.T) {
	assert.False(t, isEncrypted([]byte(testVRFSKeyJSON)))
	assert.False(t, isEncrypted([]byte("garbage")))
	assert.True(t, isEncrypted([]byte(`{"data":"ENC[...]","sops":{"version":"3.11.0"}}`)))
	_, err := Encrypt([]byte(`{"sops":{}}`))
	require.Error(t, err)
}
