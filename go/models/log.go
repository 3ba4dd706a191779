package models

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/mgutz/ansi"
)

var (
	colWarn  = ansi.ColorCode("yellow")
	colError = ansi.ColorCode("red+b")
	colDebug = ansi.ColorCode("240")
)

// Logger writes kernel diagnostics to a single stream. Colors are only
// emitted when the stream is a terminal.
type Logger struct {
	mu      sync.Mutex
	w       io.Writer
	color   bool
	verbose bool
}

func NewLogger(w io.Writer, verbose bool) *Logger {
	l := &Logger{w: w, verbose: verbose}
	if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		l.color = true
		l.w = colorable.NewColorable(f)
	}
	return l
}

func (l *Logger) printf(color, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.color && color != "" {
		fmt.Fprintf(l.w, color+format+ansi.Reset+"\n", args...)
	} else {
		fmt.Fprintf(l.w, format+"\n", args...)
	}
}

func (l *Logger) Infof(format string, args ...interface{}) {
	l.printf("", format, args...)
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	l.printf(colWarn, format, args...)
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	l.printf(colError, format, args...)
}

func (l *Logger) Debugf(format string, args ...interface{}) {
	if l.verbose {
		l.printf(colDebug, format, args...)
	}
}
