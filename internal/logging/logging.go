/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package logging configures the process logger.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup configures zerolog for the process. Extra sinks receive the raw
// JSON lines.
func Setup(environment string, sinks ...io.Writer) zerolog.Logger {
	return SetupWithWriter(environment, os.Stdout, sinks...)
}

// SetupWithWriter writes human-readable console output in development and
// JSON lines everywhere else.
func SetupWithWriter(environment string, out io.Writer, sinks ...io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	level := zerolog.InfoLevel
	writer := out
	if strings.EqualFold(environment, "development") {
		level = zerolog.DebugLevel
		writer = zerolog.ConsoleWriter{Out: out}
	}
	if len(sinks) > 0 {
		writer = zerolog.MultiLevelWriter(append([]io.Writer{writer}, sinks...)...)
	}

	logger := zerolog.New(writer).With().Timestamp().Logger().Level(level)
	log.Logger = logger
	return logger
}
