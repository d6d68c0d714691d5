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

// Package wallet keeps account balances and moves funds between participants
// and the raffle escrow account.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/blinklabs-io/raffle/ledger"
)

var (
	ErrPaymentRejected   = errors.New("recipient rejected payment")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrBalanceOverflow   = errors.New("balance overflow")
)

// Account is the state of a single address
type Account struct {
	Address         ledger.Address
	Balance         ledger.Amount
	RejectsPayments bool
}

// Wallet is implemented by the in-memory and database-backed wallets
type Wallet interface {
	Collect(ctx context.Context, from ledger.Address, amount ledger.Amount) error
	Pay(ctx context.Context, to ledger.Address, amount ledger.Amount) error
	Deposit(ctx context.Context, to ledger.Address, amount ledger.Amount) error
	Account(ctx context.Context, address ledger.Address) (Account, error)
	SetRejectsPayments(ctx context.Context, address ledger.Address, rejects bool) error
}

// Credit adds amount to a balance, failing on overflow
func Credit(balance, amount ledger.Amount) (ledger.Amount, error) {
	if uint64(balance) > math.MaxUint64-uint64(amount) {
		return 0, fmt.Errorf("%w: balance=%d amount=%d", ErrBalanceOverflow, balance, amount)
	}
	return balance + amount, nil
}

// Debit subtracts amount from a balance, failing on shortfall
func Debit(balance, amount ledger.Amount) (ledger.Amount, error) {
	if balance < amount {
		return 0, fmt.Errorf("%w: balance=%d amount=%d", ErrInsufficientFunds, balance, amount)
	}
	return balance - amount, nil
}

// Memory is a Wallet that keeps balances in process memory
type Memory struct {
	accounts map[ledger.Address]*Account
	escrow   ledger.Address
	mu       sync.Mutex
}

// NewMemory returns a wallet whose collected funds are held by escrow
func NewMemory(escrow ledger.Address) *Memory {
	return &Memory{
		accounts: make(map[ledger.Address]*Account),
		escrow:   escrow,
	}
}

func (m *Memory) account(address ledger.Address) *Account {
	acct, ok := m.accounts[address]
	if !ok {
		acct = &Account{Address: address}
		m.accounts[address] = acct
	}
	return acct
}

// transfer must be called with the lock held
func (m *Memory) transfer(from, to ledger.Address, amount ledger.Amount) error {
	src := m.account(from)
	dst := m.account(to)
	if dst.RejectsPayments && to != m.escrow {
		return fmt.Errorf("%w: %s", ErrPaymentRejected, to)
	}
	newSrc, err := Debit(src.Balance, amount)
	if err != nil {
		return fmt.Errorf("account %s: %w", from, err)
	}
	if from == to {
		return nil
	}
	newDst, err := Credit(dst.Balance, amount)
	if err != nil {
		return fmt.Errorf("account %s: %w", to, err)
	}
	src.Balance = newSrc
	dst.Balance = newDst
	return nil
}

// Collect moves an entry payment from the payer into escrow
func (m *Memory) Collect(_ context.Context, from ledger.Address, amount ledger.Amount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transfer(from, m.escrow, amount)
}

// Pay moves funds from escrow to the recipient
func (m *Memory) Pay(_ context.Context, to ledger.Address, amount ledger.Amount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transfer(m.escrow, to, amount)
}

// Deposit mints funds into an account
func (m *Memory) Deposit(_ context.Context, to ledger.Address, amount ledger.Amount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	acct := m.account(to)
	newBalance, err := Credit(acct.Balance, amount)
	if err != nil {
		return err
	}
	acct.Balance = newBalance
	return nil
}

func (m *Memory) Account(_ context.Context, address ledger.Address) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if acct, ok := m.accounts[address]; ok {
		return *acct, nil
	}
	return Account{Address: address}, nil
}

func (m *Memory) SetRejectsPayments(
	_ context.Context,
	address ledger.Address,
	rejects bool,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.account(address).RejectsPayments = rejects
	return nil
}
