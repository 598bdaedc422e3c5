package cleanup

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/codebuildervaibhav/longform-transcriber/internal/logger"
)

// Result summarizes one sweep
type Result struct {
	Files int
	Dirs  int
	Bytes int64
}

// Scheduler removes stale artifacts (window slices, decoded audio, engine
// scratch dirs) that crashed runs left in the temp directory
type Scheduler struct {
	tempDir  string
	interval time.Duration
	maxAge   time.Duration
	log      *logger.Logger

	stopOnce sync.Once
	stopChan chan struct{}
	done     chan struct{}
}

// NewScheduler creates a new cleanup scheduler
func NewScheduler(tempDir string, interval, maxAge time.Duration, log *logger.Logger) *Scheduler {
	return &Scheduler{
		tempDir:  tempDir,
		interval: interval,
		maxAge:   maxAge,
		log:      log.Named("cleanup"),
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs a sweep now and then every interval
func (s *Scheduler) Start() {
	s.log.Info("Running initial temp file cleanup...")
	s.Sweep(time.Now())

	ticker := time.NewTicker(s.interval)
	go func() {
		defer close(s.done)
		defer ticker.Stop()
		for {
			select {
			case now := <-ticker.C:
				s.Sweep(now)
			case <-s.stopChan:
				return
			}
		}
	}()

	s.log.Infof("Cleanup scheduler started (interval: %s, max age: %s)", s.interval, s.maxAge)
}

// Stop stops the cleanup scheduler
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
		<-s.done
		s.log.Info("Cleanup scheduler stopped")
	})
}

// Sweep removes files older than the max age and the directories left empty
func (s *Scheduler) Sweep(now time.Time) Result {
	var res Result
	var dirs []string

	err := filepath.Walk(s.tempDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // Skip files we can't access
		}

		if info.IsDir() {
			if path != s.tempDir {
				dirs = append(dirs, path)
			}
			return nil
		}

		age := now.Sub(info.ModTime())
		if age <= s.maxAge {
			return nil
		}

		if err := os.Remove(path); err != nil {
			s.log.Warnf("Failed to delete old file %s: %v", path, err)
			return nil
		}
		res.Files++
		res.Bytes += info.Size()
		s.log.Debugf("Deleted old temp file: %s (age: %s, size: %dKB)",
			filepath.Base(path), age.Round(time.Hour), info.Size()/1024)
		return nil
	})
	if err != nil {
		s.log.Errorf("Error during cleanup: %v", err)
	}

	// deepest first so parents empty out
	for i := len(dirs) - 1; i >= 0; i-- {
		info, err := os.Stat(dirs[i])
		if err != nil || now.Sub(info.ModTime()) <= s.maxAge {
			continue
		}
		if entries, err := os.ReadDir(dirs[i]); err == nil && len(entries) == 0 {
			if os.Remove(dirs[i]) == nil {
				res.Dirs++
			}
		}
	}

	if res.Files > 0 || res.Dirs > 0 {
		s.log.Infof("Cleanup complete: %d files and %d dirs deleted, %.2fMB freed",
			res.Files, res.Dirs, float64(res.Bytes)/(1024*1024))
	}
	return res
}

// EnsureTempDirExists creates the temp directory if it doesn't exist
func EnsureTempDirExists(tempDir string) error {
	return os.MkdirAll(tempDir, 0755)
}
