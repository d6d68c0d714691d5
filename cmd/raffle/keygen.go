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

package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/blinklabs-io/raffle/keystore"
	"github.com/blinklabs-io/raffle/oracle/vrfcoord"
	"github.com/spf13/cobra"
)

var keygenFlags = struct {
	signingKeyFile      string
	verificationKeyFile string
	encrypt             bool
	force               bool
}{}

func keygenCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a coordinator VRF key pair",
		Run: func(cmd *cobra.Command, args []string) {
			if err := keygenRun(); err != nil {
				slog.Error(err.Error())
				os.Exit(1)
			}
		},
	}
	cmd.Flags().
		StringVar(&keygenFlags.signingKeyFile, "signing-key-file", "vrf.skey", "output path for the signing key")
	cmd.Flags().
		StringVar(&keygenFlags.verificationKeyFile, "verification-key-file", "vrf.vkey", "output path for the verification key")
	cmd.Flags().
		BoolVar(&keygenFlags.encrypt, "encrypt", false, "encrypt the signing key with SOPS using the RAFFLE_*_KMS_* env vars")
	cmd.Flags().
		BoolVar(&keygenFlags.force, "force", false, "overwrite existing key files")
	return cmd
}

func keygenRun() error {
	if !keygenFlags.force {
		for _, path := range []string{keygenFlags.signingKeyFile, keygenFlags.verificationKeyFile} {
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists, use --force to overwrite", path)
			} else if !errors.Is(err, fs.ErrNotExist) {
				return err
			}
		}
	}
	key, err := keystore.GenerateVRFKey()
	if err != nil {
		return fmt.Errorf("failed to generate key: %w", err)
	}
	skey, err := key.MarshalSigningKey()
	if err != nil {
		return err
	}
	if keygenFlags.encrypt {
		skey, err = keystore.Encrypt(skey)
		if err != nil {
			return fmt.Errorf("failed to encrypt signing key: %w", err)
		}
	}
	vkey, err := key.MarshalVerificationKey()
	if err != nil {
		return err
	}
	if err := os.WriteFile(keygenFlags.signingKeyFile, skey, 0o600); err != nil {
		return err
	}
	// WriteFile keeps the mode of an existing file
	if err := os.Chmod(keygenFlags.signingKeyFile, 0o600); err != nil {
		return err
	}
	if err := os.WriteFile(keygenFlags.verificationKeyFile, vkey, 0o644); err != nil {
		return err
	}
	fmt.Printf("signing key:      %s\n", keygenFlags.signingKeyFile)
	fmt.Printf("verification key: %s\n", keygenFlags.verificationKeyFile)
	fmt.Printf("key hash:         %s\n", vrfcoord.KeyHashFromVKey(key.VKey()))
	return nil
}
