// Package retention caps how many delivered runs are kept per job.
package retention

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/lsqqqq/notifyemail/internal/core"
	"github.com/lsqqqq/notifyemail/internal/session"
)

// Manager deletes the oldest run folders beyond a maximum count.
type Manager struct {
	max    int
	logger *slog.Logger
}

// New creates a manager keeping at most limit runs. Non-positive limit uses the default.
func New(limit int, logger *slog.Logger) *Manager {
	if limit <= 0 {
		limit = core.DefaultMaxRetained
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{max: limit, logger: logger}
}

// Max returns the retention limit.
func (m *Manager) Max() int { return m.max }

type run struct {
	name    string
	created time.Time
}

// Enforce removes the oldest run folders in dir so that, once incoming more
// runs are added, at most max remain. With incoming=1 and N folders already
// present this removes N-max+1 when N >= max. Every subdirectory must be a
// run timestamp; a misnamed one is a RetentionError and nothing is deleted.
// A missing dir is not an error.
func (m *Manager) Enforce(dir string, incoming int) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", dir, err)
	}

	var runs []run
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		created, err := session.ParseFolderName(e.Name())
		if err != nil {
			return nil, core.ErrRetention(filepath.Join(dir, e.Name())).WithCause(err)
		}
		runs = append(runs, run{name: e.Name(), created: created})
	}

	excess := len(runs) + max(incoming, 0) - m.max
	if excess <= 0 {
		return nil, nil
	}
	excess = min(excess, len(runs))

	sort.Slice(runs, func(i, j int) bool { return runs[i].created.Before(runs[j].created) })

	var removed []string
	for _, r := range runs[:excess] {
		path := filepath.Join(dir, r.name)
		if err := os.RemoveAll(path); err != nil {
			return removed, fmt.Errorf("removing %s: %w", path, err)
		}
		m.logger.Info("obsolete run deleted", "run", r.name)
		removed = append(removed, path)
	}
	return removed, nil
}
