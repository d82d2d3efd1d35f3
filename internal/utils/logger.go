package utils

import (
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	loggerMu sync.RWMutex
	logger   = zerolog.New(os.Stdout).With().Timestamp().Logger()
)

// InitLogger sends logs to stdout and, when file is set, to a rotating log file.
func InitLogger(file string, maxSizeMB, maxBackups, maxAgeDays int, compress bool, level string) {
	var out io.Writer = os.Stdout
	if file != "" {
		out = zerolog.MultiLevelWriter(os.Stdout, &lumberjack.Logger{
			Filename:   file,
			MaxSize:    maxSizeMB,
			MaxBackups: maxBackups,
			MaxAge:     maxAgeDays,
			Compress:   compress,
		})
	}

	l := zerolog.New(out).With().Timestamp().Logger().Level(parseLevel(level))

	loggerMu.Lock()
	logger = l
	loggerMu.Unlock()
}

// SetLogLevel changes the minimum level. Unknown levels fall back to info.
func SetLogLevel(level string) {
	loggerMu.Lock()
	logger = logger.Level(parseLevel(level))
	loggerMu.Unlock()
}

// SetLoggerForTest replaces the package logger.
func SetLoggerForTest(l zerolog.Logger) {
	loggerMu.Lock()
	logger = l
	loggerMu.Unlock()
}

func parseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		return zerolog.InfoLevel
	}
	return lvl
}

func Debug(msg string, kv ...any) { write(zerolog.DebugLevel, msg, kv) }
func Info(msg string, kv ...any)  { write(zerolog.InfoLevel, msg, kv) }
func Warn(msg string, kv ...any)  { write(zerolog.WarnLevel, msg, kv) }
func Error(msg string, kv ...any) { write(zerolog.ErrorLevel, msg, kv) }

// write emits msg with alternating key/value pairs. A trailing key without a
// value is dropped.
func write(level zerolog.Level, msg string, kv []any) {
	loggerMu.RLock()
	l := logger
	loggerMu.RUnlock()

	ev := l.WithLevel(level)
	if ev == nil {
		return
	}
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		if err, isErr := kv[i+1].(error); isErr {
			ev = ev.AnErr(key, err)
			continue
		}
		ev = ev.Interface(key, kv[i+1])
	}
	ev.Msg(msg)
}
