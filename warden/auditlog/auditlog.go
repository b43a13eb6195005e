// Durable record of every sanction the warden takes, kept in a local SQLite database.
package auditlog

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ircwarden/warden/warden/engine"

	"github.com/jmoiron/sqlx"
	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS incidents (
	id           TEXT PRIMARY KEY,
	created_at   TEXT NOT NULL,
	nick         TEXT NOT NULL,
	channel      TEXT NOT NULL DEFAULT '',
	action       TEXT NOT NULL,
	source       TEXT NOT NULL DEFAULT '',
	categories   TEXT NOT NULL DEFAULT '',
	reason       TEXT NOT NULL DEFAULT '',
	mask         TEXT NOT NULL DEFAULT '',
	duration_sec INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_incidents_nick ON incidents(nick, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_incidents_created ON incidents(created_at DESC);
`

type row struct {
	ID          string `db:"id"`
	CreatedAt   string `db:"created_at"`
	Nick        string `db:"nick"`
	Channel     string `db:"channel"`
	Action      string `db:"action"`
	Source      string `db:"source"`
	Categories  string `db:"categories"`
	Reason      string `db:"reason"`
	Mask        string `db:"mask"`
	DurationSec int64  `db:"duration_sec"`
}

func (r row) incident() engine.Incident {
	at, _ := time.Parse(time.RFC3339Nano, r.CreatedAt)
	inc := engine.Incident{
		ID:       r.ID,
		At:       at,
		User:     r.Nick,
		Channel:  r.Channel,
		Action:   engine.Action(r.Action),
		Source:   engine.Source(r.Source),
		Reason:   r.Reason,
		Mask:     r.Mask,
		Duration: time.Duration(r.DurationSec) * time.Second,
	}
	if r.Categories != "" {
		for _, c := range strings.Split(r.Categories, ",") {
			inc.Categories = append(inc.Categories, engine.Category(c))
		}
	}
	return inc
}

// Implements engine.IncidentRecorder.
type Log struct {
	db *sqlx.DB

	mu      sync.Mutex
	entropy *rand.Rand
}

// Opens (creating if needed) the audit database at path. ":memory:" gives a throwaway
// database, mostly for tests.
func Open(path string) (*Log, error) {
	dsn := ":memory:"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create audit db dir: %w", err)
		}
		dsn = path + "?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)"
	}
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	// a single connection keeps ":memory:" coherent, and sqlite serializes writes anyway
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate audit db: %w", err)
	}
	return &Log{
		db:      db,
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

func (l *Log) Close() error {
	return l.db.Close()
}

func (l *Log) newID(at time.Time) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(at), l.entropy).String()
}

func (l *Log) RecordIncident(ctx context.Context, inc engine.Incident) error {
	if inc.At.IsZero() {
		inc.At = time.Now()
	}
	if inc.ID == "" {
		inc.ID = l.newID(inc.At)
	}
	cats := make([]string, len(inc.Categories))
	for i, c := range inc.Categories {
		cats[i] = string(c)
	}
	r := row{
		ID:          inc.ID,
		CreatedAt:   inc.At.UTC().Format(time.RFC3339Nano),
		Nick:        engine.NormalizeNick(inc.User),
		Channel:     inc.Channel,
		Action:      string(inc.Action),
		Source:      string(inc.Source),
		Categories:  strings.Join(cats, ","),
		Reason:      inc.Reason,
		Mask:        inc.Mask,
		DurationSec: int64(inc.Duration / time.Second),
	}
	_, err := l.db.NamedExecContext(ctx, `INSERT INTO incidents
		(id, created_at, nick, channel, action, source, categories, reason, mask, duration_sec)
		VALUES (:id, :created_at, :nick, :channel, :action, :source, :categories, :reason, :mask, :duration_sec)`, r)
	if err != nil {
		return fmt.Errorf("insert incident: %w", err)
	}
	return nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	if limit > 500 {
		return 500
	}
	return limit
}

// Newest first.
func (l *Log) Recent(ctx context.Context, limit int) ([]engine.Incident, error) {
	var rows []row
	err := l.db.SelectContext(ctx, &rows, `SELECT * FROM incidents ORDER BY created_at DESC, id DESC LIMIT ?`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query incidents: %w", err)
	}
	return toIncidents(rows), nil
}

// Newest first. Nick matching is case-insensitive in the IRC sense.
func (l *Log) ByUser(ctx context.Context, nick string, limit int) ([]engine.Incident, error) {
	var rows []row
	err := l.db.SelectContext(ctx, &rows, `SELECT * FROM incidents WHERE nick = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		engine.NormalizeNick(nick), clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query incidents for %s: %w", nick, err)
	}
	return toIncidents(rows), nil
}

// Deletes incidents older than before; returns how many went.
func (l *Log) Purge(ctx context.Context, before time.Time) (int64, error) {
	res, err := l.db.ExecContext(ctx, `DELETE FROM incidents WHERE created_at < ?`, before.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("purge incidents: %w", err)
	}
	return res.RowsAffected()
}

func toIncidents(rows []row) []engine.Incident {
	out := make([]engine.Incident, len(rows))
	for i, r := range rows {
		out[i] = r.incident()
	}
	return out
}
