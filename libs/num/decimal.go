// Copyright (C) 2023 Gobalsky Labs Limited
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package num

import (
	"math/big"

	"github.com/shopspring/decimal"
)

type Decimal = decimal.Decimal

var (
	dzero = decimal.Zero
	d1    = decimal.NewFromInt(1)
)

func MustDecimalFromString(f string) Decimal {
	d, err := DecimalFromString(f)
	if err != nil {
		panic(err)
	}
	return d
}

func DecimalOne() Decimal {
	return d1
}

func DecimalZero() Decimal {
	return dzero
}

func DecimalFromUint64(u uint64) Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(u), 0)
}

func DecimalFromUint(u *Uint) Decimal {
	return decimal.NewFromBigInt(u.u.ToBig(), 0)
}

func DecimalFromInt64(i int64) Decimal {
	return decimal.NewFromInt(i)
}

func DecimalFromString(s string) (Decimal, error) {
	return decimal.NewFromString(s)
}

// Uint64FloorFromDecimal truncates a non-negative decimal to an integer.
// The second return value is false when the value does not fit in a uint64.
func Uint64FloorFromDecimal(d Decimal) (uint64, bool) {
	if d.IsNegative() {
		return 0, false
	}
	b := d.Floor().BigInt()
	if !b.IsUint64() {
		return 0, false
	}
	return b.Uint64(), true
}

func MaxD(a, b Decimal) Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

func MinD(a, b Decimal) Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}
