package cleanup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// Sweeper periodically removes abandoned files from the download temp dir.
// Partial artifacts go once they stop changing; anything else once it is abandoned.
type Sweeper struct {
	tempDir       string
	partialMinAge time.Duration
	maxAge        time.Duration
	interval      time.Duration
	logger        *zap.Logger
	now           func() time.Time

	closeCh   chan struct{}
	stoppedCh chan struct{}
}

// Result summarizes one sweep
type Result struct {
	Deleted    int
	FreedBytes int64
	Errors     int
}

// NewSweeper creates a sweeper for tempDir.
// partialMinAge: partial artifacts untouched for this long are deleted (e.g., 10 minutes)
// maxAge: any other file older than this is deleted (e.g., 1 hour)
func NewSweeper(tempDir string, partialMinAge, maxAge, interval time.Duration, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		tempDir:       tempDir,
		partialMinAge: partialMinAge,
		maxAge:        maxAge,
		interval:      interval,
		logger:        logger,
		now:           time.Now,
		closeCh:       make(chan struct{}),
		stoppedCh:     make(chan struct{}),
	}
}

// Start begins the cleanup goroutine
func (s *Sweeper) Start(ctx context.Context) {
	go s.run(ctx)
}

// Stop stops the cleanup goroutine and waits for it
func (s *Sweeper) Stop() {
	select {
	case <-s.closeCh:
	default:
		close(s.closeCh)
	}
	<-s.stoppedCh
}

func (s *Sweeper) run(ctx context.Context) {
	defer close(s.stoppedCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Run once at startup
	s.Sweep()

	for {
		select {
		case <-ticker.C:
			s.Sweep()
		case <-s.closeCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Sweep scans the top level of the temp dir once
func (s *Sweeper) Sweep() Result {
	var res Result

	entries, err := os.ReadDir(s.tempDir)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Error("Temp dir sweep failed", zap.String("dir", s.tempDir), zap.Error(err))
		}
		return res
	}

	now := s.now()
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}

		age := now.Sub(info.ModTime())
		limit := s.maxAge
		if IsPartialArtifact(e.Name()) {
			limit = s.partialMinAge
		}
		if age < limit {
			continue
		}

		path := filepath.Join(s.tempDir, e.Name())
		if err := os.Remove(path); err != nil {
			s.logger.Warn("Failed to delete temp file",
				zap.String("file", path),
				zap.Duration("age", age),
				zap.Error(err),
			)
			res.Errors++
			continue
		}
		res.Deleted++
		res.FreedBytes += info.Size()
	}

	if res.Deleted > 0 || res.Errors > 0 {
		s.logger.Info("Temp dir sweep completed",
			zap.String("dir", s.tempDir),
			zap.Int("deleted_count", res.Deleted),
			zap.String("freed", formatBytes(res.FreedBytes)),
			zap.Int("errors", res.Errors),
		)
	}
	return res
}

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
