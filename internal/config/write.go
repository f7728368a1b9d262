package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/lsqqqq/notifyemail/internal/fsutil"
)

// Render serializes a configuration as YAML. Durations are written in their
// string form so the file round-trips through the loader.
func Render(cfg *Config) ([]byte, error) {
	doc := map[string]any{
		"log": map[string]any{
			"level":  cfg.Log.Level,
			"format": cfg.Log.Format,
		},
		"mail": map[string]any{
			"host":       cfg.Mail.Host,
			"port":       cfg.Mail.Port,
			"user":       cfg.Mail.User,
			"password":   cfg.Mail.Password,
			"recipients": nonNil(cfg.Mail.Recipients),
			"timeout":    cfg.Mail.Timeout.String(),
		},
		"session": map[string]any{
			"root":         cfg.Session.Root,
			"max_retained": cfg.Session.MaxRetained,
		},
		"monitor": map[string]any{
			"sample_interval": cfg.Monitor.SampleInterval.String(),
			"report_interval": cfg.Monitor.ReportInterval.String(),
		},
		"packaging": map[string]any{
			"concurrency": cfg.Packaging.Concurrency,
		},
	}
	return yaml.Marshal(doc)
}

// WriteDefault writes the default configuration to path atomically.
// An existing file is never overwritten.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	data, err := Render(Default())
	if err != nil {
		return fmt.Errorf("rendering config: %w", err)
	}
	if err := fsutil.WriteFileAtomic(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
