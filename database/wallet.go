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
	"errors"
	"fmt"

	"github.com/blinklabs-io/raffle/ledger"
	"github.com/blinklabs-io/raffle/wallet"
	"gorm.io/gorm"
)

// Wallet returns a wallet.Wallet that keeps balances in the metadata
// database. Calls made inside Atomic join its transaction, so a failed round
// update also reverts the matching transfer.
func (d *Database) Wallet(escrow ledger.Address) wallet.Wallet {
	return &dbWallet{db: d, escrow: escrow}
}

type dbWallet struct {
	db     *Database
	escrow ledger.Address
}

func (w *dbWallet) Collect(
	ctx context.Context,
	from ledger.Address,
	amount ledger.Amount,
) error {
	return w.transfer(ctx, from, w.escrow, amount)
}

func (w *dbWallet) Pay(
	ctx context.Context,
	to ledger.Address,
	amount ledger.Amount,
) error {
	return w.transfer(ctx, w.escrow, to, amount)
}

func (w *dbWallet) Deposit(
	ctx context.Context,
	to ledger.Address,
	amount ledger.Amount,
) error {
	return w.db.Atomic(ctx, func(ctx context.Context) error {
		acct, err := w.account(ctx, to)
		if err != nil {
			return err
		}
		newBalance, err := wallet.Credit(ledger.Amount(acct.Balance), amount)
		if err != nil {
			return err
		}
		acct.Balance = Uint64(newBalance)
		return w.save(ctx, acct)
	})
}

func (w *dbWallet) Account(
	ctx context.Context,
	address ledger.Address,
) (wallet.Account, error) {
	acct, err := w.account(ctx, address)
	if err != nil {
		return wallet.Account{}, err
	}
	return wallet.Account{
		Address:         address,
		Balance:         ledger.Amount(acct.Balance),
		RejectsPayments: acct.RejectsPayments,
	}, nil
}

func (w *dbWallet) SetRejectsPayments(
	ctx context.Context,
	address ledger.Address,
	rejects bool,
) error {
	return w.db.Atomic(ctx, func(ctx context.Context) error {
		acct, err := w.account(ctx, address)
		if err != nil {
			return err
		}
		acct.RejectsPayments = rejects
		return w.save(ctx, acct)
	})
}

func (w *dbWallet) transfer(
	ctx context.Context,
	from ledger.Address,
	to ledger.Address,
	amount ledger.Amount,
) error {
	return w.db.Atomic(ctx, func(ctx context.Context) error {
		dst, err := w.account(ctx, to)
		if err != nil {
			return err
		}
		if dst.RejectsPayments && to != w.escrow {
			return fmt.Errorf("%w: %s", wallet.ErrPaymentRejected, to)
		}
		src, err := w.account(ctx, from)
		if err != nil {
			return err
		}
		newSrc, err := wallet.Debit(ledger.Amount(src.Balance), amount)
		if err != nil {
			return fmt.Errorf("account %s: %w", from, err)
		}
		if from == to {
			return nil
		}
		newDst, err := wallet.Credit(ledger.Amount(dst.Balance), amount)
		if err != nil {
			return fmt.Errorf("account %s: %w", to, err)
		}
		src.Balance = Uint64(newSrc)
		dst.Balance = Uint64(newDst)
		if err := w.save(ctx, src); err != nil {
			return err
		}
		return w.save(ctx, dst)
	})
}

// account returns the stored account, or an empty one if it does not exist
func (w *dbWallet) account(
	ctx context.Context,
	address ledger.Address,
) (Account, error) {
	var ret Account
	result := w.db.tx(ctx).Where("address = ?", string(address)).First(&ret)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return Account{Address: string(address)}, nil
		}
		return Account{}, fmt.Errorf("load account: %w", result.Error)
	}
	return ret, nil
}

func (w *dbWallet) save(ctx context.Context, acct Account) error {
	var result *gorm.DB
	if acct.ID == 0 {
		result = w.db.tx(ctx).Create(&acct)
	} else {
		result = w.db.tx(ctx).Save(&acct)
	}
	if result.Error != nil {
		return fmt.Errorf("save account: %w", result.Error)
	}
	return nil
}
