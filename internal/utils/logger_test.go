package utils

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func setupTestLogger(output *bytes.Buffer, level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	SetLoggerForTest(zerolog.New(output).With().Timestamp().Logger().Level(lvl))
}

func TestInfoLogging(t *testing.T) {
	var buf bytes.Buffer
	setupTestLogger(&buf, "info")

	Info("upstream fetched", "endpoint", "version", "bytes", 5, "dangling")

	out := buf.String()
	if !strings.Contains(out, "upstream fetched") {
		t.Error("expected message in output")
	}
	if !strings.Contains(out, `"endpoint":"version"`) || !strings.Contains(out, `"bytes":5`) {
		t.Errorf("expected key-value pairs in output, got %s", out)
	}
	if strings.Contains(out, "dangling") {
		t.Errorf("dangling key should be dropped, got %s", out)
	}
}

func TestWarnLoggingWithError(t *testing.T) {
	var buf bytes.Buffer
	setupTestLogger(&buf, "warn")

	Warn("fetch failed", "error", errors.New("connection refused"))

	if !strings.Contains(buf.String(), `"error":"connection refused"`) {
		t.Errorf("expected error string in output, got %s", buf.String())
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	setupTestLogger(&buf, "error")

	Info("hidden")
	Debug("hidden too")
	if buf.Len() != 0 {
		t.Fatalf("expected no output below error level, got %s", buf.String())
	}

	Error("shown", "fatal", false)
	if !strings.Contains(buf.String(), `"fatal":false`) {
		t.Error("expected error output")
	}
}

func TestSetLogLevel(t *testing.T) {
	var buf bytes.Buffer
	setupTestLogger(&buf, "warn")

	SetLogLevel("info")
	Info("should be visible")
	if !strings.Contains(buf.String(), "should be visible") {
		t.Error("expected info log after SetLogLevel")
	}

	buf.Reset()
	SetLogLevel("invalid-level")
	Info("fallback to info")
	if !strings.Contains(buf.String(), "fallback to info") {
		t.Error("invalid level should fall back to info")
	}
}

func TestInitLoggerWritesFile(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "botwave-web.log")
	InitLogger(logFile, 1, 1, 1, false, "info")
	defer SetLoggerForTest(zerolog.New(os.Stdout))

	Info("to file", "k", "v")

	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "to file") {
		t.Errorf("expected message in log file, got %s", data)
	}
}
