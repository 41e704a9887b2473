package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Workspace is a per-job scratch directory. It owns every intermediate
// file a job creates and must be destroyed on every exit path.
type Workspace struct {
	dir    string
	jobID  string
	logger *zap.Logger
}

// NewWorkspace creates an isolated directory under root for one job.
func NewWorkspace(root, jobID string, logger *zap.Logger) (*Workspace, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}
	dir, err := os.MkdirTemp(root, "job-"+sanitize(jobID)+"-")
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	return &Workspace{dir: dir, jobID: jobID, logger: logger}, nil
}

// Dir returns the workspace directory.
func (w *Workspace) Dir() string { return w.dir }

// Path joins a file name onto the workspace directory.
func (w *Workspace) Path(name string) string {
	return filepath.Join(w.dir, name)
}

// WriteScript writes a generated batch script into the workspace and
// returns its path. The caller removes it after the tool run; Destroy
// catches anything left behind.
func (w *Workspace) WriteScript(name, contents string) (string, error) {
	path := w.Path(name)
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		return "", fmt.Errorf("write script %s: %w", name, err)
	}
	return path, nil
}

// Destroy removes the workspace and everything in it.
func (w *Workspace) Destroy() {
	if err := os.RemoveAll(w.dir); err != nil {
		w.logger.Warn("workspace cleanup failed",
			zap.String("dir", w.dir),
			zap.Error(err),
		)
	}
}

// SweepOrphans removes job directories older than olderThan, left behind
// by crashed workers. Returns the number of directories removed.
func SweepOrphans(root string, olderThan time.Duration, logger *zap.Logger) (int, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read workspace root: %w", err)
	}

	removed := 0
	cutoff := time.Now().Add(-olderThan)
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), "job-") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		dir := filepath.Join(root, entry.Name())
		if err := os.RemoveAll(dir); err != nil {
			logger.Warn("orphan sweep failed", zap.String("dir", dir), zap.Error(err))
			continue
		}
		removed++
	}
	if removed > 0 {
		logger.Info("swept orphaned workspaces", zap.Int("removed", removed))
	}
	return removed, nil
}

func sanitize(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			return r
		}
		return '_'
	}, id)
}
