package logging

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]LogLevel{
		"debug":   LevelDebug,
		"info":    LevelInfo,
		"warn":    LevelWarn,
		"warning": LevelWarn,
		"error":   LevelError,
		"bogus":   LevelInfo,
		"":        LevelInfo,
	}
	for input, want := range cases {
		if got := ParseLevel(input); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestInitForCLITextOutput(t *testing.T) {
	var buf bytes.Buffer
	InitForCLI(LevelDebug, &buf, "text")
	defer InitForCLI(LevelInfo, &buf, "text")

	Info("Mirror", "applied %d ops", 3)

	out := buf.String()
	if !strings.Contains(out, "applied 3 ops") {
		t.Errorf("expected message in output, got %q", out)
	}
	if !strings.Contains(out, "subsystem=Mirror") {
		t.Errorf("expected subsystem attribute, got %q", out)
	}
}

func TestInitForCLILevelFilter(t *testing.T) {
	var buf bytes.Buffer
	InitForCLI(LevelWarn, &buf, "json")

	Debug("Mirror", "should be filtered")
	Warn("Mirror", "should appear")

	out := buf.String()
	if strings.Contains(out, "should be filtered") {
		t.Errorf("debug entry leaked through warn filter: %q", out)
	}
	if !strings.Contains(out, "should appear") {
		t.Errorf("warn entry missing: %q", out)
	}
}

func TestInitForHostChannelDelivery(t *testing.T) {
	entries := InitForHost(LevelDebug, 8)
	defer CloseHostChannel()

	boom := errors.New("boom")
	Error("Controller", boom, "run %s failed", "r1")

	select {
	case entry := <-entries:
		if entry.Level != LevelError || entry.Subsystem != "Controller" {
			t.Errorf("unexpected entry: %+v", entry)
		}
		if entry.Message != "run r1 failed" {
			t.Errorf("unexpected message: %q", entry.Message)
		}
		if !errors.Is(entry.Err, boom) {
			t.Errorf("error not carried through: %v", entry.Err)
		}
	default:
		t.Fatal("no entry delivered to host channel")
	}
}
