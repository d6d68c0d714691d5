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
	"database/sql/driver"
	"fmt"
	"math/big"
	"strconv"
)

// Uint64 stores an unsigned 64-bit value as text since SQLite integers are
// signed
//
//nolint:recvcheck
type Uint64 uint64

func (u Uint64) Value() (driver.Value, error) {
	return strconv.FormatUint(uint64(u), 10), nil
}

func (u *Uint64) Scan(val any) error {
	v, ok := val.(string)
	if !ok {
		return fmt.Errorf(
			"value was not expected type, wanted string, got %T",
			val,
		)
	}
	tmpUint, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return err
	}
	*u = Uint64(tmpUint)
	return nil
}

// BigInt stores a 256-bit random word as decimal text. An empty value is a
// nil word.
//
//nolint:recvcheck
type BigInt struct {
	*big.Int
}

func (b BigInt) Value() (driver.Value, error) {
	if b.Int == nil {
		return "", nil
	}
	return b.String(), nil
}

func (b *BigInt) Scan(val any) error {
	v, ok := val.(string)
	if !ok {
		return fmt.Errorf(
			"value was not expected type, wanted string, got %T",
			val,
		)
	}
	if v == "" {
		b.Int = nil
		return nil
	}
	tmp, ok := new(big.Int).SetString(v, 10)
	if !ok {
		return fmt.Errorf("failed to set big.Int value from string: %s", v)
	}
	b.Int = tmp
	return nil
}

// RoundState is the single row holding the active round
type RoundState struct {
	LastFinalizedAt int64
	RequestedAt     int64
	DrawnWord       BigInt
	DrawnWinner     string
	RecentWinner    string
	ID              uint `gorm:"primarykey"`
	Number          uint64
	Balance         Uint64
	PendingRequest  uint64
	State           uint8
	HasPending      bool
}

func (RoundState) TableName() string {
	return "round_state"
}

// roundStateID is the primary key of the only RoundState row
const roundStateID = 1

type Entry struct {
	Participant string `gorm:"index"`
	ID          uint   `gorm:"primarykey"`
	RoundNumber uint64 `gorm:"uniqueIndex:idx_entry_round_index"`
	Index       int    `gorm:"column:entry_index;uniqueIndex:idx_entry_round_index"`
	Amount      Uint64
}

func (Entry) TableName() string {
	return "entry"
}

type Winner struct {
	RandomWord  BigInt
	Winner      string `gorm:"index"`
	ID          uint   `gorm:"primarykey"`
	RoundNumber uint64 `gorm:"uniqueIndex"`
	RequestID   uint64
	PaidAt      int64
	Amount      Uint64
}

func (Winner) TableName() string {
	return "winner"
}

type Account struct {
	Address         string `gorm:"uniqueIndex"`
	ID              uint   `gorm:"primarykey"`
	Balance         Uint64
	RejectsPayments bool
}

func (Account) TableName() string {
	return "account"
}

// MigrateModels contains a list of model objects that should have DB migrations applied
var MigrateModels = []any{
	&RoundState{},
	&Entry{},
	&Winner{},
	&Account{},
}
