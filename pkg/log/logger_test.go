package log

import (
	"bytes"
	"strings"
	"testing"
)

type bufOutput struct {
	buf bytes.Buffer
}

func (b *bufOutput) Write(_ *Entry, formatted []byte) error {
	b.buf.Write(formatted)
	return nil
}
func (b *bufOutput) Close() error { return nil }

func TestLoggerRespectsLevel(t *testing.T) {
	out := &bufOutput{}
	l := NewLogger(WithLevel(WarnLevel), WithFormatter(&TextFormatter{}), WithOutput(out))

	l.Info("should not appear")
	l.Warn("should appear")

	got := out.buf.String()
	if strings.Contains(got, "should not appear") {
		t.Fatalf("info line leaked past WarnLevel gate: %q", got)
	}
	if !strings.Contains(got, "should appear") {
		t.Fatalf("warn line missing: %q", got)
	}
}

func TestLoggerWithFieldsPersistAcrossCalls(t *testing.T) {
	out := &bufOutput{}
	l := NewLogger(WithLevel(DebugLevel), WithFormatter(&TextFormatter{}), WithOutput(out))
	l = l.With(Component("worker"), Str("root_id", "abc123"))

	l.Info("dequeued")
	got := out.buf.String()
	if !strings.Contains(got, "component=worker") {
		t.Fatalf("missing component field: %q", got)
	}
	if !strings.Contains(got, "root_id=abc123") {
		t.Fatalf("missing root_id field: %q", got)
	}
}

func TestLoggerWithDoesNotMutateParent(t *testing.T) {
	out := &bufOutput{}
	l := NewLogger(WithLevel(DebugLevel), WithFormatter(&TextFormatter{}), WithOutput(out))
	child := l.With(Str("k", "v"))

	l.Info("parent log")
	got := out.buf.String()
	if strings.Contains(got, "k=v") {
		t.Fatalf("parent logger leaked child's field: %q", got)
	}
	_ = child
}

func TestJSONFormatterProducesValidFields(t *testing.T) {
	out := &bufOutput{}
	l := NewLogger(WithLevel(DebugLevel), WithFormatter(&JSONFormatter{}), WithOutput(out))
	l.Info("hello", Str("task", "foo"))

	got := out.buf.String()
	if !strings.Contains(got, `"msg":"hello"`) {
		t.Fatalf("missing msg field: %q", got)
	}
	if !strings.Contains(got, `"task":"foo"`) {
		t.Fatalf("missing task field: %q", got)
	}
}

func TestApplyConfigDefaults(t *testing.T) {
	l, err := ApplyConfig(&Config{})
	if err != nil {
		t.Fatalf("ApplyConfig: %v", err)
	}
	if l.GetLevel() != InfoLevel {
		t.Fatalf("expected InfoLevel default, got %v", l.GetLevel())
	}
}

func TestApplyConfigRejectsUnknownFormat(t *testing.T) {
	if _, err := ApplyConfig(&Config{Format: "yaml"}); err == nil {
		t.Fatalf("expected error for unknown format")
	}
}

func TestParseLevelRoundTrip(t *testing.T) {
	for _, name := range []string{"debug", "info", "warn", "error", "fatal"} {
		lvl, err := ParseLevel(name)
		if err != nil {
			t.Fatalf("ParseLevel(%q): %v", name, err)
		}
		if strings.ToLower(lvl.String()) != name && !(name == "warn" && lvl.String() == "WARN") {
			t.Fatalf("ParseLevel(%q) = %v", name, lvl)
		}
	}
	if _, err := ParseLevel("bogus"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}
