package logging

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

const logDirCleanerInterval = time.Minute

// dirCleaner keeps the total size of *.log files in a directory under a byte budget,
// deleting the oldest files first and never touching the active log file.
type dirCleaner struct {
	dir       string
	maxBytes  int64
	protected string
	cancel    context.CancelFunc
}

type logFile struct {
	path    string
	size    int64
	modTime time.Time
}

func startDirCleaner(logDir string, maxTotalSizeMB int, protectedPath string) *dirCleaner {
	dir := strings.TrimSpace(logDir)
	if maxTotalSizeMB <= 0 || dir == "" {
		return nil
	}
	c := &dirCleaner{
		dir:      filepath.Clean(dir),
		maxBytes: int64(maxTotalSizeMB) * 1024 * 1024,
	}
	if p := strings.TrimSpace(protectedPath); p != "" {
		c.protected = filepath.Clean(p)
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.run(ctx)
	return c
}

func (c *dirCleaner) stop() {
	if c != nil && c.cancel != nil {
		c.cancel()
	}
}

func (c *dirCleaner) run(ctx context.Context) {
	ticker := time.NewTicker(logDirCleanerInterval)
	defer ticker.Stop()

	for {
		deleted, err := c.sweep()
		if err != nil {
			log.WithError(err).Warn("logging: failed to enforce log directory size limit")
		} else if deleted > 0 {
			log.Debugf("logging: removed %d old log file(s) to enforce log directory size limit", deleted)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// sweep deletes the oldest log files until the directory fits the budget.
func (c *dirCleaner) sweep() (int, error) {
	files, total, err := c.scan()
	if err != nil || total <= c.maxBytes {
		return 0, err
	}

	slices.SortFunc(files, func(a, b logFile) int { return a.modTime.Compare(b.modTime) })

	deleted := 0
	for _, f := range files {
		if total <= c.maxBytes {
			break
		}
		if f.path == c.protected {
			continue
		}
		if errRemove := os.Remove(f.path); errRemove != nil {
			log.WithError(errRemove).Warnf("logging: failed to remove old log file: %s", filepath.Base(f.path))
			continue
		}
		total -= f.size
		deleted++
	}
	return deleted, nil
}

func (c *dirCleaner) scan() ([]logFile, int64, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, nil
		}
		return nil, 0, err
	}
	var (
		files []logFile
		total int64
	)
	for _, entry := range entries {
		if entry.IsDir() || !isLogFileName(entry.Name()) {
			continue
		}
		info, errInfo := entry.Info()
		if errInfo != nil || !info.Mode().IsRegular() {
			continue
		}
		files = append(files, logFile{
			path:    filepath.Join(c.dir, entry.Name()),
			size:    info.Size(),
			modTime: info.ModTime(),
		})
		total += info.Size()
	}
	return files, total, nil
}

func isLogFileName(name string) bool {
	lower := strings.ToLower(strings.TrimSpace(name))
	return strings.HasSuffix(lower, ".log") || strings.HasSuffix(lower, ".log.gz")
}
