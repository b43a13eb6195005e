// Versioned JSON snapshots of the violation ledger, written to disk periodically and read
// back at startup.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ircwarden/warden/warden/engine"
)

// Bumped whenever the persisted history format changes.
const Version = "warden/1"

var (
	ErrVersionMismatch = errors.New("snapshot version mismatch")
	ErrStale           = errors.New("snapshot is too old")
	ErrCorrupt         = errors.New("snapshot is corrupt")
)

type Stats struct {
	TotalSaves int       `json:"total_saves"`
	LastSave   time.Time `json:"last_save"`
}

type Snapshot struct {
	Version        string                             `json:"version"`
	Timestamp      time.Time                          `json:"timestamp"`
	UserViolations map[string]engine.ViolationHistory `json:"user_violations"`
	Stats          Stats                              `json:"stats"`
}

func New(now time.Time, histories map[string]engine.ViolationHistory, stats Stats) Snapshot {
	if histories == nil {
		histories = make(map[string]engine.ViolationHistory)
	}
	return Snapshot{
		Version:        Version,
		Timestamp:      now.UTC(),
		UserViolations: histories,
		Stats:          stats,
	}
}

func Encode(s Snapshot) ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

// Parses and validates a snapshot. A snapshot older than maxAge (relative to now) is
// rejected with ErrStale; zero maxAge accepts any age.
func Decode(data []byte, now time.Time, maxAge time.Duration) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	if s.Version != Version {
		return nil, fmt.Errorf("%w: got %q, want %q", ErrVersionMismatch, s.Version, Version)
	}
	if s.Timestamp.IsZero() {
		return nil, fmt.Errorf("%w: missing timestamp", ErrCorrupt)
	}
	if maxAge > 0 && now.Sub(s.Timestamp) > maxAge {
		return nil, fmt.Errorf("%w: taken %s ago", ErrStale, now.Sub(s.Timestamp).Round(time.Second))
	}
	if s.UserViolations == nil {
		s.UserViolations = make(map[string]engine.ViolationHistory)
	}
	return &s, nil
}
