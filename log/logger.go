// Package log provides the module-scoped structured logger used across the
// compute swarm, mining ledger and WASM runtime. It follows the
// log.NewModuleLogger(module) / Info("msg", "k", v, ...) shape used
// throughout the teacher codebase (e.g. common.logger, reward.logger,
// consensus/istanbul/backend.logger), backed by go-stack for caller frames
// and go-colorable/go-isatty for terminal-aware formatting.
package log

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/go-stack/stack"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// Module identifies the subsystem a logger is scoped to. Mirrors the
// teacher's log.Common / log.Reward / log.ConsensusIstanbulBackend constants.
type Module string

const (
	Compute   Module = "compute"
	Scheduler Module = "scheduler"
	Peer      Module = "peer"
	Verifier  Module = "verifier"
	Swarm     Module = "swarm"
	Ledger    Module = "ledger"
	Consensus Module = "consensus"
	Bridge    Module = "bridge"
	Wallet    Module = "wallet"
	Wasm      Module = "wasm"
	CLI       Module = "cli"
	Storage   Module = "storage"
)

// Level is a log severity, ordered least to most severe.
type Level int

const (
	LvlCrit Level = iota
	LvlError
	LvlWarn
	LvlInfo
	LvlDebug
	LvlTrace
)

func (l Level) String() string {
	switch l {
	case LvlCrit:
		return "CRIT"
	case LvlError:
		return "ERROR"
	case LvlWarn:
		return "WARN"
	case LvlInfo:
		return "INFO"
	case LvlDebug:
		return "DEBUG"
	case LvlTrace:
		return "TRACE"
	default:
		return "?"
	}
}

// Logger is the interface satisfied by every logger this package hands out.
type Logger interface {
	Trace(msg string, ctx ...interface{})
	Debug(msg string, ctx ...interface{})
	Info(msg string, ctx ...interface{})
	Warn(msg string, ctx ...interface{})
	Error(msg string, ctx ...interface{})
	Crit(msg string, ctx ...interface{})
	New(ctx ...interface{}) Logger
	NewWith(ctx ...interface{}) Logger
}

var (
	mu        sync.Mutex
	out       io.Writer = colorable.NewColorableStderr()
	useColor            = isatty.IsTerminal(os.Stderr.Fd())
	threshold           = LvlInfo
)

// SetOutput redirects all log output; intended for tests and daemon mode
// (file-logging via gopkg.in/natefinch/lumberjack.v2 style rotation is left
// to the caller, which can wrap the io.Writer it passes in).
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
}

// SetLevel sets the minimum level emitted by every logger obtained from
// this package.
func SetLevel(l Level) {
	mu.Lock()
	defer mu.Unlock()
	threshold = l
}

type logger struct {
	module Module
	ctx    []interface{}
}

// NewModuleLogger returns the package-level logger scoped to module, the
// same shape as the teacher's `logger = log.NewModuleLogger(log.Reward)`.
func NewModuleLogger(module Module) Logger {
	return &logger{module: module}
}

// New returns a child logger with additional persistent key/value context.
func (l *logger) New(ctx ...interface{}) Logger {
	return l.NewWith(ctx...)
}

// NewWith mirrors the teacher's backend.logger.NewWith() calls.
func (l *logger) NewWith(ctx ...interface{}) Logger {
	merged := make([]interface{}, 0, len(l.ctx)+len(ctx))
	merged = append(merged, l.ctx...)
	merged = append(merged, ctx...)
	return &logger{module: l.module, ctx: merged}
}

func (l *logger) Trace(msg string, ctx ...interface{}) { l.write(LvlTrace, msg, ctx) }
func (l *logger) Debug(msg string, ctx ...interface{}) { l.write(LvlDebug, msg, ctx) }
func (l *logger) Info(msg string, ctx ...interface{})  { l.write(LvlInfo, msg, ctx) }
func (l *logger) Warn(msg string, ctx ...interface{})  { l.write(LvlWarn, msg, ctx) }
func (l *logger) Error(msg string, ctx ...interface{}) { l.write(LvlError, msg, ctx) }
func (l *logger) Crit(msg string, ctx ...interface{})  { l.write(LvlCrit, msg, ctx) }

func (l *logger) write(lvl Level, msg string, extra []interface{}) {
	mu.Lock()
	defer mu.Unlock()
	if lvl > threshold {
		return
	}
	call := stack.Caller(2)
	ts := time.Now().Format("2006-01-02T15:04:05.000Z07:00")
	fields := make([]interface{}, 0, len(l.ctx)+len(extra))
	fields = append(fields, l.ctx...)
	fields = append(fields, extra...)

	prefix := fmt.Sprintf("%-5s", lvl.String())
	if useColor {
		prefix = colorize(lvl, prefix)
	}
	line := fmt.Sprintf("%s %s [%s] %s %s", ts, prefix, l.module, msg, formatFields(fields))
	fmt.Fprintf(out, "%s source=%+v\n", line, call)
}

func formatFields(fields []interface{}) string {
	s := ""
	for i := 0; i+1 < len(fields); i += 2 {
		s += fmt.Sprintf("%v=%v ", fields[i], fields[i+1])
	}
	if len(fields)%2 == 1 {
		s += fmt.Sprintf("%v=MISSING ", fields[len(fields)-1])
	}
	return s
}

func colorize(lvl Level, s string) string {
	var color int
	switch lvl {
	case LvlCrit, LvlError:
		color = 31 // red
	case LvlWarn:
		color = 33 // yellow
	case LvlInfo:
		color = 32 // green
	default:
		color = 36 // cyan
	}
	return fmt.Sprintf("\x1b[%dm%s\x1b[0m", color, s)
}
