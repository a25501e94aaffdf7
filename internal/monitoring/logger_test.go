package monitoring

import (
	"bytes"
	"strings"
	"testing"
)

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	called := false
	SetLogger(func(format string, v ...interface{}) {
		called = true
	})
	Logf("test message")
	if !called {
		t.Error("Custom logger was not called")
	}

	// A nil logger becomes a no-op and must not reach the previous one.
	called = false
	SetLogger(nil)
	Logf("test message")
	if called {
		t.Error("No-op logger should not have triggered callback")
	}
}

func TestLogf_Default(t *testing.T) {
	if Logf == nil {
		t.Error("Logf should not be nil by default")
	}
}

func TestWriterLogf(t *testing.T) {
	var buf bytes.Buffer
	logf := WriterLogf(&buf, "[obstacles] ")
	logf("processed %d frames", 3)

	out := buf.String()
	if !strings.HasPrefix(out, "[obstacles] ") {
		t.Errorf("missing prefix in %q", out)
	}
	if !strings.Contains(out, "processed 3 frames") {
		t.Errorf("missing message in %q", out)
	}

	// nil writer must not panic
	WriterLogf(nil, "x")("ignored")
}
