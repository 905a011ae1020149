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

package logging

import (
	"encoding/hex"
	"time"

	"go.uber.org/zap"
)

func String(key, value string) zap.Field {
	return zap.String(key, value)
}

func Strings(key string, values []string) zap.Field {
	return zap.Strings(key, values)
}

func Error(err error) zap.Field {
	return zap.Error(err)
}

func Int(key string, value int) zap.Field {
	return zap.Int(key, value)
}

func Int64(key string, value int64) zap.Field {
	return zap.Int64(key, value)
}

func Uint64(key string, value uint64) zap.Field {
	return zap.Uint64(key, value)
}

func Uint32(key string, value uint32) zap.Field {
	return zap.Uint32(key, value)
}

func Float64(key string, value float64) zap.Field {
	return zap.Float64(key, value)
}

func Bool(key string, value bool) zap.Field {
	return zap.Bool(key, value)
}

func Duration(key string, value time.Duration) zap.Field {
	return zap.Duration(key, value)
}

func Time(key string, value time.Time) zap.Field {
	return zap.Time(key, value)
}

func Reflect(key string, value interface{}) zap.Field {
	return zap.Reflect(key, value)
}

// Hex renders a byte slice as lowercase hex.
func Hex(key string, value []byte) zap.Field {
	return zap.String(key, hex.EncodeToString(value))
}

func CanisterID(id string) zap.Field {
	return zap.String("canister-id", id)
}

func NeuronID(id string) zap.Field {
	return zap.String("neuron-id", id)
}

func ProposalID(id uint64) zap.Field {
	return zap.Uint64("proposal-id", id)
}

func Height(h uint64) zap.Field {
	return zap.Uint64("height", h)
}

func ExecID(id uint64) zap.Field {
	return zap.Uint64("exec-id", id)
}

func WasmID(id uint64) zap.Field {
	return zap.Uint64("wasm-id", id)
}

func MemoryID(id uint64) zap.Field {
	return zap.Uint64("memory-id", id)
}

func PID(pid int) zap.Field {
	return zap.Int("pid", pid)
}
