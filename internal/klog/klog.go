// Package klog provides the module-tagged logger used across kermapy's
// core packages, in the style of klaytn's log.NewModuleLogger.
package klog

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Component names double as the "component" field attached to every line
// a module logger emits.
const (
	ComponentStore   = "store"
	ComponentChain   = "chain"
	ComponentMempool = "mempool"
	ComponentConn    = "conn"
	ComponentNode    = "node"
	ComponentSchema  = "schema"
	ComponentTx      = "tx"
	ComponentBlock   = "block"
	ComponentPeers   = "peers"
	ComponentUtxo    = "utxo"
	ComponentCanon   = "canon"
)

var (
	mu      sync.Mutex
	atom    = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	base    *zap.Logger
	baseErr error
)

func root() *zap.Logger {
	mu.Lock()
	defer mu.Unlock()
	if base != nil {
		return base
	}
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(cfg), zapcore.Lock(os.Stderr), atom)
	base = zap.New(core)
	return base
}

// SetLevel adjusts the global log level at runtime. Accepted values are the
// usual zap level names (debug, info, warn, error); unrecognized values
// leave the level untouched.
func SetLevel(level string) {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		return
	}
	atom.SetLevel(l)
}

// Logger wraps a *zap.SugaredLogger pinned to a single component, so every
// line it emits is taggable back to the subsystem that produced it.
type Logger struct {
	s *zap.SugaredLogger
}

// NewModuleLogger returns a Logger tagged with component.
func NewModuleLogger(component string) *Logger {
	return &Logger{s: root().Sugar().With("component", component)}
}

func (l *Logger) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
func (l *Logger) Info(msg string, kv ...interface{})  { l.s.Infow(msg, kv...) }
func (l *Logger) Warn(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }
func (l *Logger) Error(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }

// With returns a child logger with additional fields bound, mirroring
// klaytn's per-peer logger derivation in node/cn/peer.go.
func (l *Logger) With(kv ...interface{}) *Logger {
	return &Logger{s: l.s.With(kv...)}
}
