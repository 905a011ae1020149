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
	"net/url"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/natefinch/lumberjack.v2"
)

const fileSinkScheme = "rotating"

var (
	sinkOnce sync.Once
	sinkErr  error

	sinksMu sync.Mutex
	sinks   = map[string]*rotatingSink{}
	sinkCfg = map[string]FileConfig{}
)

type rotatingSink struct {
	*lumberjack.Logger
}

func (rotatingSink) Sync() error { return nil }

// registerFileSink makes "rotating://" output paths available to zap.
// Cloned loggers share the same underlying file.
func registerFileSink(cfg FileConfig) error {
	sinkOnce.Do(func() {
		sinkErr = zap.RegisterSink(fileSinkScheme, func(u *url.URL) (zap.Sink, error) {
			sinksMu.Lock()
			defer sinksMu.Unlock()
			if s, ok := sinks[u.Path]; ok {
				return s, nil
			}
			fc := sinkCfg[u.Path]
			s := &rotatingSink{
				Logger: &lumberjack.Logger{
					Filename:   u.Path,
					MaxSize:    fc.MaxSizeMB,
					MaxBackups: fc.MaxBackups,
					MaxAge:     fc.MaxAgeDays,
					Compress:   fc.Compress,
				},
			}
			sinks[u.Path] = s
			return s, nil
		})
	})
	path := cfg.Path
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	sinksMu.Lock()
	sinkCfg[path] = cfg
	sinksMu.Unlock()
	return sinkErr
}

func fileSinkURL(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	u := url.URL{Scheme: fileSinkScheme, Path: path}
	return u.String()
}
