package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ircwarden/warden/warden/engine"
	"github.com/ircwarden/warden/warden/ledgerstore"

	"github.com/stretchr/testify/assert"
)

var t0 = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func testLedger() *engine.ViolationLedger {
	return engine.NewViolationLedger(ledgerstore.NewMemStore[engine.ViolationHistory]())
}

func TestDecode(t *testing.T) {
	assert := assert.New(t)

	h := engine.ViolationHistory{
		Warnings:   []time.Time{t0},
		ByCategory: map[engine.Category][]time.Time{engine.CategorySexual: {t0}},
	}
	data, err := Encode(New(t0, map[string]engine.ViolationHistory{"alice": h}, Stats{TotalSaves: 3}))
	assert.NoError(err)

	s, err := Decode(data, t0.Add(time.Hour), 48*time.Hour)
	assert.NoError(err)
	assert.Equal(Version, s.Version)
	assert.Equal(3, s.Stats.TotalSaves)
	assert.True(s.UserViolations["alice"].Warnings[0].Equal(t0))
	assert.Equal(1, s.UserViolations["alice"].CategoryCount(engine.CategorySexual))

	_, err = Decode(data, t0.Add(49*time.Hour), 48*time.Hour)
	assert.ErrorIs(err, ErrStale)

	// zero max age accepts anything
	_, err = Decode(data, t0.Add(1000*time.Hour), 0)
	assert.NoError(err)

	_, err = Decode([]byte(`{"version":"v0","timestamp":"2024-01-01T12:00:00Z"}`), t0, 0)
	assert.ErrorIs(err, ErrVersionMismatch)

	_, err = Decode([]byte(`{"version":`), t0, 0)
	assert.ErrorIs(err, ErrCorrupt)

	_, err = Decode([]byte(`{"version":"warden/1"}`), t0, 0)
	assert.ErrorIs(err, ErrCorrupt)
}

func TestFileStoreRoundTrip(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "state", "warden.json")

	src := testLedger()
	assert.NoError(src.RecordViolation(ctx, "Alice", t0, engine.ActionWarn, engine.CategorySexual))
	assert.NoError(src.RecordViolation(ctx, "Bob", t0.Add(-72*time.Hour), engine.ActionBan, engine.CategoryHateThreatening))

	fs := NewFileStore(path, 48*time.Hour, nil)
	assert.NoError(fs.Save(ctx, src, t0))
	assert.NoError(fs.Save(ctx, src, t0.Add(time.Minute)))
	assert.Equal(2, fs.Stats().TotalSaves)
	_, err := os.Stat(path + ".bak")
	assert.NoError(err)

	dst := testLedger()
	fs2 := NewFileStore(path, 48*time.Hour, nil)
	n, err := fs2.Load(ctx, dst, t0.Add(time.Hour))
	assert.NoError(err)
	// bob's history is older than the max age and was dropped at save time
	assert.Equal(1, n)
	w, _ := dst.CountWarnings(ctx, "alice")
	assert.Equal(1, w)
	_, found, _ := dst.History(ctx, "bob")
	assert.False(found)
	assert.Equal(2, fs2.Stats().TotalSaves)
}

func TestFileStoreBackupFallback(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "warden.json")

	src := testLedger()
	assert.NoError(src.RecordViolation(ctx, "alice", t0, engine.ActionWarn, engine.CategorySexual))
	fs := NewFileStore(path, 48*time.Hour, nil)
	assert.NoError(fs.Save(ctx, src, t0))
	assert.NoError(fs.Save(ctx, src, t0))

	// primary is truncated mid-write
	assert.NoError(os.WriteFile(path, []byte(`{"version":"warden/1","user_vio`), 0644))
	dst := testLedger()
	n, err := fs.Load(ctx, dst, t0)
	assert.NoError(err)
	assert.Equal(1, n)

	// both unusable: start clean
	assert.NoError(os.WriteFile(path+".bak", []byte(`garbage`), 0644))
	dst = testLedger()
	n, err = fs.Load(ctx, dst, t0)
	assert.NoError(err)
	assert.Equal(0, n)
	l, _ := dst.Len(ctx)
	assert.Equal(0, l)
}

func TestFileStoreMissing(t *testing.T) {
	assert := assert.New(t)
	fs := NewFileStore(filepath.Join(t.TempDir(), "none.json"), time.Hour, nil)
	n, err := fs.Load(context.Background(), testLedger(), t0)
	assert.NoError(err)
	assert.Equal(0, n)
}

func TestFileStoreStale(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "warden.json")

	src := testLedger()
	assert.NoError(src.RecordViolation(ctx, "alice", t0, engine.ActionWarn, engine.CategorySexual))
	fs := NewFileStore(path, 48*time.Hour, nil)
	assert.NoError(fs.Save(ctx, src, t0))

	n, err := fs.Load(ctx, testLedger(), t0.Add(72*time.Hour))
	assert.NoError(err)
	assert.Equal(0, n)
}

func TestFileStoreRunFinalSave(t *testing.T) {
	assert := assert.New(t)
	path := filepath.Join(t.TempDir(), "warden.json")
	src := testLedger()
	assert.NoError(src.RecordViolation(context.Background(), "alice", time.Now(), engine.ActionWarn, engine.CategorySexual))

	fs := NewFileStore(path, 48*time.Hour, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		fs.Run(ctx, src, time.Hour)
		close(done)
	}()
	cancel()
	<-done

	_, err := os.Stat(path)
	assert.NoError(err)
	assert.Equal(1, fs.Stats().TotalSaves)
}

func TestFileStoreSnapshotMaxAge(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "warden.json")

	src := testLedger()
	assert.NoError(src.RecordViolation(ctx, "alice", t0, engine.ActionWarn, engine.CategorySexual))
	fs := NewFileStore(path, 48*time.Hour, nil)
	fs.SnapshotMaxAge = 24 * time.Hour
	assert.NoError(fs.Save(ctx, src, t0))

	// histories would still be fresh, but the snapshot itself is too old
	n, err := fs.Load(ctx, testLedger(), t0.Add(30*time.Hour))
	assert.NoError(err)
	assert.Equal(0, n)
}
