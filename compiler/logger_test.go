package compiler_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/apex/log"

	"github.com/samaelod/flowc/compiler"
)

func TestLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "flowc.log")
	l := compiler.NewLogger(path, 2)
	logger := &log.Logger{Handler: l, Level: log.InfoLevel}

	logger.Info("first")
	logger.WithField("file", "http.pcap").Warn("second")
	logger.Debug("hidden")
	logger.Error("third")

	kept := l.ReadAll()
	if strings.Contains(kept, "first") || !strings.Contains(kept, "second") || !strings.Contains(kept, "third") {
		t.Errorf("ring buffer kept:\n%s", kept)
	}

	select {
	case line := <-l.Chan():
		if !strings.HasSuffix(line, "INFO  first") {
			t.Errorf("first line on channel = %q", line)
		}
	case <-time.After(time.Second):
		t.Fatal("no line on channel")
	}

	l.Close()
	l.Close()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("log file has %d lines:\n%s", len(lines), data)
	}
	if !strings.HasSuffix(lines[1], "WARN  second file=http.pcap") {
		t.Errorf("line = %q", lines[1])
	}
}

func TestFormat(t *testing.T) {
	e := &log.Entry{
		Level:     log.ErrorLevel,
		Message:   "compile failed",
		Timestamp: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Fields:    log.Fields{"template": 2, "file": "a.lua"},
	}
	want := "03:04:05 ERROR compile failed file=a.lua template=2"
	if got := compiler.Format(e); got != want {
		t.Errorf("Format = %q, want %q", got, want)
	}
}

func TestLoggerWithoutFile(t *testing.T) {
	l := compiler.NewLogger("", 0)
	defer l.Close()
	l.Write("hello")
	if got := l.ReadAll(); got != "hello\n" {
		t.Errorf("ReadAll = %q", got)
	}

	var nilLogger *compiler.Logger
	nilLogger.Write("ignored")
	if nilLogger.ReadAll() != "" || nilLogger.Chan() != nil {
		t.Error("nil logger is not inert")
	}
	nilLogger.Close()
}
