package logger

import (
	"bytes"
	"strings"
	"testing"
)

func bufferConfig(buf *bytes.Buffer) Config {
	return Config{
		Level:   LevelInfo,
		Format:  FormatText,
		Outputs: []OutputConfig{{Type: OutputStdout, Writer: buf}},
	}
}

func TestLogger_InitAndGet(t *testing.T) {
	buf := &bytes.Buffer{}
	if err := Init(bufferConfig(buf)); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer Shutdown()

	Get().Info("sync started", "storage", 3)

	out := buf.String()
	if !strings.Contains(out, "sync started") || !strings.Contains(out, "storage=3") {
		t.Errorf("unexpected output: %s", out)
	}
}

func TestLogger_InitTwice(t *testing.T) {
	buf := &bytes.Buffer{}
	if err := Init(bufferConfig(buf)); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer Shutdown()

	if err := Init(bufferConfig(buf)); err == nil {
		t.Error("second Init() should fail")
	}
}

func TestLogger_NullBeforeInit(t *testing.T) {
	Shutdown()

	l := Get()
	if _, ok := l.(*NullLogger); !ok {
		t.Fatalf("Get() = %T, want *NullLogger", l)
	}
	l.Info("dropped")
	l.With("k", "v").Error("dropped")
}

func TestLogger_With(t *testing.T) {
	buf := &bytes.Buffer{}
	if err := Init(bufferConfig(buf)); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer Shutdown()

	With("component", "reconcile").Info("message")

	if !strings.Contains(buf.String(), "component=reconcile") {
		t.Errorf("output missing context: %s", buf.String())
	}
}

func TestLogger_ShutdownIdempotent(t *testing.T) {
	buf := &bytes.Buffer{}
	if err := Init(bufferConfig(buf)); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if err := Shutdown(); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
	if err := Shutdown(); err != nil {
		t.Errorf("second Shutdown() error = %v", err)
	}
}

func TestOrNull(t *testing.T) {
	if _, ok := OrNull(nil).(*NullLogger); !ok {
		t.Error("OrNull(nil) should return a NullLogger")
	}
	l := &NullLogger{}
	if OrNull(l) != l {
		t.Error("OrNull(l) should return l")
	}
}

func TestParse(t *testing.T) {
	if ParseLevel("WARNING") != LevelWarn {
		t.Error("ParseLevel(WARNING) != LevelWarn")
	}
	if ParseLevel("verbose") != LevelInfo {
		t.Error("unknown level should map to info")
	}
	if ParseFormat("JSON") != FormatJSON {
		t.Error("ParseFormat(JSON) != FormatJSON")
	}
	if ParseOutput("file") != OutputFile || ParseOutput("") != OutputStderr {
		t.Error("ParseOutput mismatch")
	}
}
