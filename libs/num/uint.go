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
	"github.com/holiman/uint256"
)

// Uint is a 256 bit unsigned integer used where sums of e8s amounts may
// overflow 64 bits.
type Uint struct {
	u uint256.Int
}

func NewUint(v uint64) *Uint {
	u := &Uint{}
	u.u.SetUint64(v)
	return u
}

func UintZero() *Uint {
	return NewUint(0)
}

func (u *Uint) Clone() *Uint {
	c := &Uint{}
	c.u.Set(&u.u)
	return c
}

// AddSum adds every value to u and returns u.
func (u *Uint) AddSum(vals ...*Uint) *Uint {
	for _, v := range vals {
		u.u.Add(&u.u, &v.u)
	}
	return u
}

// AddUint64 adds v to u and returns u.
func (u *Uint) AddUint64(v uint64) *Uint {
	var x uint256.Int
	x.SetUint64(v)
	u.u.Add(&u.u, &x)
	return u
}

func (u *Uint) IsZero() bool {
	return u.u.IsZero()
}

// IsUint64 reports whether u fits in a uint64.
func (u *Uint) IsUint64() bool {
	return u.u.IsUint64()
}

func (u *Uint) Uint64() uint64 {
	return u.u.Uint64()
}

func (u *Uint) GTE(o *Uint) bool {
	return u.u.Cmp(&o.u) >= 0
}

func (u *Uint) String() string {
	return u.u.ToBig().String()
}

// MulUint64 multiplies u by v and returns u.
func (u *Uint) MulUint64(v uint64) *Uint {
	var x uint256.Int
	x.SetUint64(v)
	u.u.Mul(&u.u, &x)
	return u
}

// DivUint64 divides u by v and returns u. Division by zero yields zero.
func (u *Uint) DivUint64(v uint64) *Uint {
	var x uint256.Int
	x.SetUint64(v)
	u.u.Div(&u.u, &x)
	return u
}

func (u *Uint) Mul(o *Uint) *Uint {
	u.u.Mul(&u.u, &o.u)
	return u
}

func (u *Uint) LT(o *Uint) bool {
	return u.u.Cmp(&o.u) < 0
}
