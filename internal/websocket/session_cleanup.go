package websocket

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/arunika/transcriber/internal/session"
)

// SessionCleanupService sweeps session work directories left behind by
// sessions that are no longer connected, for example after a crash.
type SessionCleanupService struct {
	hub      *Hub
	root     string
	interval time.Duration
	maxAge   time.Duration
	logger   *zap.Logger
	stopChan chan struct{}
}

// NewSessionCleanupService creates a new session cleanup service
func NewSessionCleanupService(hub *Hub, root string, interval, maxAge time.Duration, logger *zap.Logger) *SessionCleanupService {
	return &SessionCleanupService{
		hub:      hub,
		root:     root,
		interval: interval,
		maxAge:   maxAge,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// Start begins the background cleanup process
func (s *SessionCleanupService) Start() {
	go s.cleanupLoop()
	s.logger.Info("Session cleanup service started",
		zap.String("root", s.root),
		zap.Duration("interval", s.interval),
		zap.Duration("maxAge", s.maxAge))
}

// Stop gracefully stops the cleanup service
func (s *SessionCleanupService) Stop() {
	close(s.stopChan)
	s.logger.Info("Session cleanup service stopped")
}

func (s *SessionCleanupService) cleanupLoop() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Leftovers from a previous process are swept right away
	s.runCleanup()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.runCleanup()
		}
	}
}

// runCleanup removes stale directories of inactive sessions and returns how
// many were removed.
func (s *SessionCleanupService) runCleanup() int {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		s.logger.Error("Failed to list temp directory", zap.String("root", s.root), zap.Error(err))
		return 0
	}

	cutoff := time.Now().Add(-s.maxAge)
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		id, ok := sessionIDFromDir(entry.Name())
		if !ok || s.hub.IsActive(id) {
			continue
		}

		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}

		path := filepath.Join(s.root, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			s.logger.Warn("Failed to remove stale session directory", zap.String("path", path), zap.Error(err))
			continue
		}
		removed++
	}

	if removed > 0 {
		s.logger.Info("Removed stale session directories", zap.Int("count", removed))
	}
	return removed
}

// sessionIDFromDir extracts <id> from "session-<id>-<random>".
func sessionIDFromDir(name string) (string, bool) {
	rest, ok := strings.CutPrefix(name, session.DirPrefix)
	if !ok {
		return "", false
	}
	i := strings.LastIndex(rest, "-")
	if i <= 0 {
		return "", false
	}
	return rest[:i], true
}
