package testutil

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lsqqqq/notifyemail/internal/config"
	"github.com/lsqqqq/notifyemail/internal/session"
)

// ErrTest is a generic test error.
var ErrTest = errors.New("test error")

// TempFile creates a file with content under dir.
func TempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("creating parent dir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing temp file: %v", err)
	}
	return path
}

// MakeRunDirs creates n run folders in dir, one hour apart starting at base,
// and returns their names oldest first.
func MakeRunDirs(t *testing.T, dir string, base time.Time, n int) []string {
	t.Helper()
	names := make([]string, 0, n)
	for i := range n {
		name := session.FolderName(base.Add(time.Duration(i) * time.Hour))
		if err := os.MkdirAll(filepath.Join(dir, name), 0o750); err != nil {
			t.Fatalf("creating run dir: %v", err)
		}
		names = append(names, name)
	}
	return names
}

// Config returns a valid configuration rooted at root with fast intervals.
func Config(root string) *config.Config {
	cfg := config.Default()
	cfg.Log.Level = "debug"
	cfg.Mail.Host = "smtp.example.com"
	cfg.Mail.User = "bot@example.com"
	cfg.Mail.Password = "hunter22"
	cfg.Mail.Recipients = []string{"me@example.com"}
	cfg.Session.Root = root
	cfg.Monitor.SampleInterval = 10 * time.Millisecond
	cfg.Monitor.ReportInterval = 20 * time.Millisecond
	return cfg
}

// ReadFile returns the content of path or fails the test.
func ReadFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading %s: %v", path, err)
	}
	return string(data)
}

// AssertFileContains fails if the file at path does not contain substr.
func AssertFileContains(t *testing.T, path, substr string) {
	t.Helper()
	if content := ReadFile(t, path); !strings.Contains(content, substr) {
		t.Fatalf("expected %s to contain %q, got:\n%s", filepath.Base(path), substr, content)
	}
}

func readOrNil(path string) []byte {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	return data
}
