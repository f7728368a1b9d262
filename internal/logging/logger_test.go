package logging

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestSanitizer_SMTPAuth(t *testing.T) {
	t.Parallel()
	sanitizer := NewSanitizer()
	result := sanitizer.Sanitize("C: AUTH PLAIN AHVzZXJAZXhhbXBsZS5jb20Ac2VjcmV0")

	if strings.Contains(result, "AHVzZXJAZXhhbXBsZS5jb20Ac2VjcmV0") {
		t.Errorf("expected AUTH payload to be removed, got: %s", result)
	}
}

func TestSanitizer_Passwords(t *testing.T) {
	t.Parallel()
	sanitizer := NewSanitizer()

	tests := []struct {
		name  string
		input string
	}{
		{"password", "password=hunter2hunter2"},
		{"pass", "mail pass: abcd1234"},
		{"auth code", "auth_code=ZXCVBNMASDF"},
		{"bearer", "Bearer abcdefghijklmnopqrstuvwxyz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := sanitizer.Sanitize(tt.input)
			if !strings.Contains(result, "[REDACTED]") {
				t.Errorf("expected %s to be redacted, got: %s", tt.name, result)
			}
		})
	}
}

func TestSanitizer_AddSecret(t *testing.T) {
	t.Parallel()
	sanitizer := NewSanitizer()
	sanitizer.AddSecret("Zq81-secret")
	sanitizer.AddSecret("abc") // too short, ignored

	result := sanitizer.Sanitize("login failed for Zq81-secret on abc")
	if strings.Contains(result, "Zq81-secret") {
		t.Errorf("expected literal secret to be redacted, got: %s", result)
	}
	if !strings.Contains(result, "abc") {
		t.Errorf("short secrets must not be registered, got: %s", result)
	}
}

func TestSanitizer_NoFalsePositives(t *testing.T) {
	t.Parallel()
	sanitizer := NewSanitizer()
	inputs := []string{
		"Processing finished !",
		"obsolete log deleted: 2024_01_02-03_04_05",
		"cannot zip file: ./result_folder",
	}
	for _, in := range inputs {
		if got := sanitizer.Sanitize(in); got != in {
			t.Errorf("Sanitize(%q) = %q, want unchanged", in, got)
		}
	}
}

func TestSanitizer_AddPatternInvalid(t *testing.T) {
	t.Parallel()
	if err := NewSanitizer().AddPattern("[invalid"); err == nil {
		t.Error("expected error for invalid pattern")
	}
}

func TestLogger_AutoFormatWithoutTerminal(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := New(Config{Level: "info", Format: "auto", Output: &buf})

	logger.WithJob("train").Info("processing log catched", "size", 42)

	out := buf.String()
	if strings.Contains(out, "\033[") {
		t.Errorf("expected no escape codes for non-terminal output, got: %q", out)
	}
	if !strings.Contains(out, "INF processing log catched") {
		t.Errorf("missing message, got: %q", out)
	}
	if !strings.Contains(out, "job=train") || !strings.Contains(out, "size=42") {
		t.Errorf("missing attrs, got: %q", out)
	}
	if !strings.HasSuffix(out, "\n") {
		t.Errorf("expected newline terminated line, got: %q", out)
	}
}

func TestLogger_Formats(t *testing.T) {
	t.Parallel()
	for _, format := range []string{"json", "text", "auto"} {
		var buf bytes.Buffer
		logger := New(Config{Level: "debug", Format: format, Output: &buf})
		logger.Debug("hello")
		if !strings.Contains(buf.String(), "hello") {
			t.Errorf("format %s: expected output, got %q", format, buf.String())
		}
	}
}

func TestLogger_Levels(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := New(Config{Level: "warn", Format: "text", Output: &buf})

	logger.Info("hidden")
	logger.Warn("shown")

	if strings.Contains(buf.String(), "hidden") {
		t.Error("info should be filtered at warn level")
	}
	if !strings.Contains(buf.String(), "shown") {
		t.Error("warn should be logged at warn level")
	}
}

func TestLogger_SanitizesErrors(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := New(Config{Level: "info", Format: "text", Output: &buf})
	logger.Sanitizer().AddSecret("topsecretpw")

	logger.Error("send failed", "error", errors.New("535 auth rejected for topsecretpw"))

	if strings.Contains(buf.String(), "topsecretpw") {
		t.Errorf("expected error attr to be sanitized, got: %s", buf.String())
	}
}

func TestLogger_WithSession(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := New(Config{Format: "auto", Output: &buf}).WithSession("/tmp/run")
	logger.Info("ok")
	if !strings.Contains(buf.String(), "session=/tmp/run") {
		t.Errorf("expected session attr, got %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	cases := map[string]string{"debug": "DEBUG", "warn": "WARN", "error": "ERROR", "bogus": "INFO"}
	for in, want := range cases {
		if got := parseLevel(in).String(); got != want {
			t.Errorf("parseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestPrettyHandler_Colors(t *testing.T) {
	t.Parallel()
	h := NewPrettyHandler(&bytes.Buffer{}, 0, true)
	if !strings.Contains(h.formatLevel(8), "\033[31m") {
		t.Error("expected red error level when colors are enabled")
	}
	plain := NewPrettyHandler(&bytes.Buffer{}, 0, false)
	if plain.formatLevel(8) != "ERR" {
		t.Errorf("expected plain ERR, got %q", plain.formatLevel(8))
	}
}

func TestNewNop(t *testing.T) {
	t.Parallel()
	logger := NewNop()
	logger.Info("discarded")
	if logger.Sanitize("password=abcdefgh") == "password=abcdefgh" {
		t.Error("nop logger should still sanitize")
	}
}
