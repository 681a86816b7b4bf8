// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import "go.uber.org/zap"

// nopLogger is used by archives that were not given an explicit logger.
var nopLogger = zap.NewNop().Sugar()

// logger returns a's configured logger, or a no-op logger if none was set.
func (a *Archive) logger() *zap.SugaredLogger {
	if a.log != nil {
		return a.log
	}
	return nopLogger
}

// WithLogger attaches a structured logger to the archive for diagnostic
// output (sector/codec decisions, recoverable listfile anomalies). Archives
// opened without calling this use a no-op logger.
func (a *Archive) WithLogger(log *zap.SugaredLogger) *Archive {
	a.log = log
	return a
}
