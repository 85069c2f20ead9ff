// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mpc

import (
	"fmt"
	"io"
)

// LogLevel controls the frequency and type of logger output.
type LogLevel int

const (
	// LogNoop no output is generated.
	LogNoop LogLevel = -1
	// LogCycle print one line per control cycle.
	LogCycle LogLevel = 0
	// LogSolve print also solver status, objective and iteration count.
	LogSolve LogLevel = 1
	// LogTrace print also warm-start and extraction details.
	LogTrace LogLevel = 2
)

// Logger handles logging output for the solve driver.
// A nil Logger discards everything.
type Logger struct {
	Level LogLevel
	Msg   io.Writer
}

func (l *Logger) enable(level LogLevel) bool {
	return l != nil && l.Msg != nil && l.Level >= level
}

func (l *Logger) log(level LogLevel, format string, a ...any) {
	if !l.enable(level) {
		return
	}
	if len(a) > 0 {
		_, _ = fmt.Fprintf(l.Msg, format, a...)
	} else {
		_, _ = fmt.Fprint(l.Msg, format)
	}
}
