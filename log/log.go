// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package log is the structured logging facade used throughout meshrpc.
// [EXPANSION] ambient stack: carried regardless of spec.md's Non-goals, which
// scope out discovery/clustering/auth, not observability.
//
// Grounded on go.uber.org/zap's prevalence across the example pack as the
// ecosystem's default structured logger; no teacher logging code exists to
// adapt (hayabusa-cloud-framer is a byte-framing library with no logger of
// its own), so this package is built directly against zap's idioms.
package log

import "go.uber.org/zap"

// Nop is a logger that discards everything, used as the zero-value default
// so components never need a nil check before logging.
var Nop = zap.NewNop()

// New constructs a production JSON logger. Callers that want development
// (console, debug-level) logging should call zap.NewDevelopment directly and
// pass the result wherever a *zap.Logger is accepted.
func New() (*zap.Logger, error) {
	return zap.NewProduction()
}

// WithComponent returns l annotated with a "component" field, the
// convention every meshrpc package uses to identify its log lines.
func WithComponent(l *zap.Logger, component string) *zap.Logger {
	if l == nil {
		l = Nop
	}
	return l.With(zap.String("component", component))
}
