// Package observability holds the CLI logger and operator-facing output.
package observability

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// TimestampLayout matches the "[YYYY:MM:DD HH:MM:SS]" stamps that
// log scrapers grep for in job logs.
const TimestampLayout = "[2006:01:02 15:04:05]"

// CLILogger is the process-wide logger for command handlers.
//
// It is a no-op logger until InitCLILogger is called so packages and tests
// can log unconditionally.
var CLILogger = zap.NewNop()

var (
	outputMu sync.Mutex
	output   io.Writer = os.Stderr
)

// InitCLILogger builds CLILogger. Verbose enables debug output.
func InitCLILogger(name string, verbose bool) {
	level := zapcore.InfoLevel
	if verbose {
		level = zapcore.DebugLevel
	}
	CLILogger = NewLogger(name, level, stderrSink())
}

// InitCLILoggerWithLevel builds CLILogger from a textual level such as
// "debug" or "warn". Unknown levels fall back to info.
func InitCLILoggerWithLevel(name, level string) {
	lvl, err := zapcore.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	CLILogger = NewLogger(name, lvl, stderrSink())
}

// NewLogger returns a console logger writing to w.
func NewLogger(name string, level zapcore.Level, w io.Writer) *zap.Logger {
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.Format(TimestampLayout))
	}
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	encCfg.CallerKey = ""
	encCfg.StacktraceKey = ""
	encCfg.ConsoleSeparator = " "

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.AddSync(w),
		zap.NewAtomicLevelAt(level),
	)
	logger := zap.New(core)
	if name != "" {
		logger = logger.Named(name)
	}
	return logger
}

// SetOutput redirects banner output; it returns the previous writer.
func SetOutput(w io.Writer) io.Writer {
	outputMu.Lock()
	defer outputMu.Unlock()
	prev := output
	output = w
	return prev
}

func stderrSink() io.Writer {
	outputMu.Lock()
	defer outputMu.Unlock()
	return output
}

var bannerTitle = color.New(color.FgCyan, color.Bold)

// Banner prints a boxed title followed by an optional body, the way the
// launcher has always announced the command it is about to run.
func Banner(title, body string) {
	outputMu.Lock()
	w := output
	outputMu.Unlock()

	stamp := time.Now().Format(TimestampLayout) + " "
	rule := strings.Repeat("-", len(title)+4)
	_, _ = fmt.Fprintln(w, stamp+rule)
	_, _ = fmt.Fprint(w, stamp)
	_, _ = bannerTitle.Fprintf(w, "| %s |", title)
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, stamp+rule)
	if body != "" {
		_, _ = fmt.Fprintln(w, "\n"+body)
	}
}
