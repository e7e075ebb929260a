// Copyright 2018 Jigsaw Operations LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logging builds the zap loggers used by the relay's command-line
// entry points. Logging framework internals are an out-of-scope external
// collaborator (spec.md §6); this package only wires the process-wide
// logger the ambient stack expects everywhere else in the module.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewConsole builds a human-readable, console-encoded logger writing to
// stderr. debug enables debug-level output; otherwise the level is info.
func NewConsole(debug bool) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

// NewProduction builds a JSON-encoded logger suitable for a deployed,
// log-aggregated relay process.
func NewProduction() (*zap.Logger, error) {
	return zap.NewProduction()
}

// Nop returns a logger that discards everything, the package's default
// until a command-line entry point calls SetLogger on the service package.
func Nop() *zap.Logger {
	return zap.NewNop()
}
