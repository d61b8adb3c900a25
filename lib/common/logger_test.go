package common

import (
	"bytes"
	"github.com/lni/dragonboat/v4/logger"
	"log"
	"strings"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    logger.LogLevel
		wantErr bool
	}{
		{"debug", logger.DEBUG, false},
		{"INFO", logger.INFO, false},
		{"", logger.INFO, false},
		{"warn", logger.WARNING, false},
		{"warning", logger.WARNING, false},
		{"error", logger.ERROR, false},
		{"verbose", logger.INFO, true},
	}

	for _, tt := range tests {
		got, err := ParseLogLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLogLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLoggerLevels(t *testing.T) {
	var out bytes.Buffer
	l := &mLogger{name: "test", level: logger.WARNING, logger: log.New(&out, "", 0)}

	l.Infof("hidden %d", 1)
	l.Warningf("shown %d", 2)
	l.Errorf("shown %d", 3)

	got := out.String()
	if strings.Contains(got, "hidden") {
		t.Errorf("Info message should be filtered: %q", got)
	}
	if !strings.Contains(got, "WARN  | test       | shown 2") {
		t.Errorf("Unexpected warning line: %q", got)
	}
	if strings.Count(got, "\n") != 2 {
		t.Errorf("Expected 2 lines, got %q", got)
	}

	l.SetLevel(logger.DEBUG)
	l.Debugf("now visible")
	if !strings.Contains(out.String(), "DEBUG | test       | now visible") {
		t.Errorf("Debug message missing: %q", out.String())
	}
}

func TestInitLoggers(t *testing.T) {
	if err := InitLoggers("nope"); err == nil {
		t.Fatal("Expected error for invalid level")
	}
	if err := InitLoggers("error"); err != nil {
		t.Fatalf("InitLoggers failed: %v", err)
	}
	// a second call only changes levels
	if err := InitLoggers("info"); err != nil {
		t.Fatalf("Second InitLoggers failed: %v", err)
	}
}
