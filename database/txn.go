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

	"gorm.io/gorm"
)

type txnKey struct{}

// Atomic runs fn inside a metadata transaction. Database calls made with the
// context passed to fn join that transaction, and a nested Atomic call reuses
// it. Any error returned by fn rolls the transaction back.
func (d *Database) Atomic(
	ctx context.Context,
	fn func(ctx context.Context) error,
) error {
	if _, ok := ctx.Value(txnKey{}).(*gorm.DB); ok {
		return fn(ctx)
	}
	return d.metadata.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txnKey{}, tx))
	})
}

// tx returns the transaction carried by ctx, or the base handle
func (d *Database) tx(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(txnKey{}).(*gorm.DB); ok {
		return tx
	}
	return d.metadata.WithContext(ctx)
}
