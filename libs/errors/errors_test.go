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

package errors_test

import (
	"errors"
	"testing"

	vgerrors "code.icreplica.io/replica/libs/errors"

	"github.com/stretchr/testify/assert"
)

func TestCumulatedErrors(t *testing.T) {
	errA := errors.New("a")
	errB := errors.New("b")

	errs := vgerrors.NewCumulatedErrors()
	assert.False(t, errs.HasAny())
	errs.Add(errA)
	errs.Add(errB)

	assert.True(t, errs.HasAny())
	assert.Equal(t, "a, also b", errs.Error())
	assert.ErrorIs(t, errs, errB)
}
