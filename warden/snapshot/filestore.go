package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ircwarden/warden/warden/engine"
)

// Persists ledger snapshots to a file, keeping the previous one as a backup.
type FileStore struct {
	Path       string
	BackupPath string
	// histories with no activity newer than this are dropped on save
	MaxAge time.Duration
	// a snapshot taken longer ago than this is ignored on load; zero means MaxAge
	SnapshotMaxAge time.Duration
	Logger         *slog.Logger

	mu    sync.Mutex
	stats Stats
}

func NewFileStore(path string, maxAge time.Duration, logger *slog.Logger) *FileStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{
		Path:       path,
		BackupPath: path + ".bak",
		MaxAge:     maxAge,
		Logger:     logger.With("system", "snapshot"),
	}
}

// Writes the current ledger. The file being replaced becomes the backup.
func (s *FileStore) Save(ctx context.Context, ledger *engine.ViolationLedger, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	histories, err := ledger.Export(ctx, now, s.MaxAge)
	if err != nil {
		return fmt.Errorf("exporting ledger: %w", err)
	}
	stats := Stats{TotalSaves: s.stats.TotalSaves + 1, LastSave: now.UTC()}
	data, err := Encode(New(now, histories, stats))
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.Path), 0755); err != nil {
		return fmt.Errorf("creating snapshot directory: %w", err)
	}
	tmp := s.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	if err := os.Rename(s.Path, s.BackupPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.Logger.Warn("failed to rotate snapshot backup", "err", err)
	}
	if err := os.Rename(tmp, s.Path); err != nil {
		return fmt.Errorf("replacing snapshot: %w", err)
	}
	s.stats = stats
	s.Logger.Debug("saved snapshot", "users", len(histories), "saves", stats.TotalSaves)
	return nil
}

// Reads the newest usable snapshot (primary file, then backup) in to the ledger and returns
// the number of histories restored. Missing, corrupt, stale or mismatched snapshots are
// logged and treated as absent; only a failure to write the ledger is returned.
func (s *FileStore) Load(ctx context.Context, ledger *engine.ViolationLedger, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range []string{s.Path, s.BackupPath} {
		snap, err := s.read(p, now)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				s.Logger.Debug("no snapshot file", "path", p)
			} else {
				s.Logger.Warn("ignoring unusable snapshot", "path", p, "err", err)
			}
			continue
		}
		if err := ledger.Import(ctx, snap.UserViolations); err != nil {
			return 0, err
		}
		s.stats = snap.Stats
		s.Logger.Info("restored snapshot", "path", p, "users", len(snap.UserViolations), "taken", snap.Timestamp)
		return len(snap.UserViolations), nil
	}
	s.Logger.Info("no usable snapshot, starting clean")
	return 0, nil
}

func (s *FileStore) read(p string, now time.Time) (*Snapshot, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, err
	}
	maxAge := s.SnapshotMaxAge
	if maxAge == 0 {
		maxAge = s.MaxAge
	}
	return Decode(data, now, maxAge)
}

func (s *FileStore) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Saves every interval until ctx is done, then saves one last time.
func (s *FileStore) Run(ctx context.Context, ledger *engine.ViolationLedger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			// parent context is gone, give the final save its own deadline
			fctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := s.Save(fctx, ledger, time.Now()); err != nil {
				s.Logger.Error("final snapshot save failed", "err", err)
			}
			return
		case <-ticker.C:
			if err := s.Save(ctx, ledger, time.Now()); err != nil {
				s.Logger.Error("periodic snapshot save failed", "err", err)
			}
		}
	}
}
