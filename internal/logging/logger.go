// Package logging provides simple logging for the go-pfq project
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"code.hybscloud.com/atomix"
	timecache "github.com/agilira/go-timecache"
)

// Logger wraps stdlib log with level support and a rate limiter for
// hot-path messages.
type Logger struct {
	logger *log.Logger
	level  LogLevel
	mu     sync.Mutex

	// Rate limiter state. The clock is cached so that a drain loop
	// complaining at line rate never pays a time syscall per packet.
	clock        *timecache.TimeCache
	limitLast    atomix.Int64
	limitEvery   int64
	suppressed   atomix.Int64
}

var (
	defaultLogger *Logger
	mu            sync.RWMutex
)

// LogLevel represents the available log levels
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// Config holds logging configuration
type Config struct {
	Level  LogLevel
	Output io.Writer

	// RatelimitInterval is the minimum spacing between rate-limited
	// messages. Zero picks the default of one second.
	RatelimitInterval time.Duration
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		Level:  LevelInfo,
		Output: os.Stderr,
	}
}

// NewLogger creates a new logger
func NewLogger(config *Config) *Logger {
	if config == nil {
		config = DefaultConfig()
	}
	output := config.Output
	if output == nil {
		output = os.Stderr
	}
	every := config.RatelimitInterval
	if every <= 0 {
		every = time.Second
	}
	return &Logger{
		logger:     log.New(output, "", log.LstdFlags),
		level:      config.Level,
		clock:      timecache.NewWithResolution(time.Millisecond),
		limitEvery: int64(every),
	}
}

// Default returns the default logger, creating it if necessary
func Default() *Logger {
	mu.RLock()
	if defaultLogger != nil {
		defer mu.RUnlock()
		return defaultLogger
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if defaultLogger == nil {
		defaultLogger = NewLogger(nil)
	}
	return defaultLogger
}

// SetDefault sets the default logger
func SetDefault(logger *Logger) {
	mu.Lock()
	defer mu.Unlock()
	defaultLogger = logger
}

// Allow reports whether a rate-limited message may be emitted now.
// Callers on hot paths guard with it:
//
//	if log.Allow() {
//		log.Warnf("could not allocate a packet buffer")
//	}
//
// Suppressed calls are counted and surfaced with the next allowed one.
func (l *Logger) Allow() bool {
	if l.clock == nil {
		return true
	}
	now := l.clock.CachedTime().UnixNano()
	last := l.limitLast.Load()
	if now-last < l.limitEvery {
		l.suppressed.Add(1)
		return false
	}
	if !l.limitLast.CompareAndSwapAcqRel(last, now) {
		l.suppressed.Add(1)
		return false
	}
	if n := l.suppressed.Load(); n > 0 {
		l.suppressed.Add(-n)
		l.Warnf("%d similar messages suppressed", n)
	}
	return true
}

// Close releases the cached clock. The logger stays usable; Allow
// falls back to admitting every message.
func (l *Logger) Close() {
	if l.clock != nil {
		l.clock.Stop()
		l.clock = nil
	}
}

// formatArgs converts key-value pairs to a string
func formatArgs(args []any) string {
	if len(args) == 0 {
		return ""
	}
	var result string
	for i := 0; i < len(args); i += 2 {
		if i+1 < len(args) {
			if result != "" {
				result += " "
			}
			result += fmt.Sprintf("%v=%v", args[i], args[i+1])
		}
	}
	if result != "" {
		return " " + result
	}
	return ""
}

func (l *Logger) log(level LogLevel, prefix, msg string, args ...any) {
	if level < l.level {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logger.Printf("%s %s%s", prefix, msg, formatArgs(args))
}

func (l *Logger) Debug(msg string, args ...any) {
	l.log(LevelDebug, "[DEBUG]", msg, args...)
}

func (l *Logger) Info(msg string, args ...any) {
	l.log(LevelInfo, "[INFO]", msg, args...)
}

func (l *Logger) Warn(msg string, args ...any) {
	l.log(LevelWarn, "[WARN]", msg, args...)
}

func (l *Logger) Error(msg string, args ...any) {
	l.log(LevelError, "[ERROR]", msg, args...)
}

// Printf-style logging
func (l *Logger) Debugf(format string, args ...any) {
	l.log(LevelDebug, "[DEBUG]", fmt.Sprintf(format, args...))
}

func (l *Logger) Infof(format string, args ...any) {
	l.log(LevelInfo, "[INFO]", fmt.Sprintf(format, args...))
}

func (l *Logger) Warnf(format string, args ...any) {
	l.log(LevelWarn, "[WARN]", fmt.Sprintf(format, args...))
}

func (l *Logger) Errorf(format string, args ...any) {
	l.log(LevelError, "[ERROR]", fmt.Sprintf(format, args...))
}

// Printf for compatibility
func (l *Logger) Printf(format string, args ...any) {
	l.Infof(format, args...)
}

// Global convenience functions
func Debug(msg string, args ...any) {
	Default().Debug(msg, args...)
}

func Info(msg string, args ...any) {
	Default().Info(msg, args...)
}

func Warn(msg string, args ...any) {
	Default().Warn(msg, args...)
}

func Error(msg string, args ...any) {
	Default().Error(msg, args...)
}
