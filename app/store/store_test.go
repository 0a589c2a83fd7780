package store

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type logRecorder struct {
	mu    sync.Mutex
	lines []string
}

func (l *logRecorder) logger() log.L {
	return log.Func(func(format string, args ...interface{}) {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.lines = append(l.lines, fmt.Sprintf(format, args...))
	})
}

// count returns number of lines containing all substrings
func (l *logRecorder) count(substrs ...string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	res := 0
	for _, line := range l.lines {
		matched := true
		for _, s := range substrs {
			if !strings.Contains(line, s) {
				matched = false
				break
			}
		}
		if matched {
			res++
		}
	}
	return res
}

func writeBlob(t *testing.T, path string, b *Blob) {
	t.Helper()
	require.NoError(t, NewFileBackend(path, BinaryCodec{}).Persist(b))
}

func readBlob(t *testing.T, path string) *Blob {
	t.Helper()
	b, err := NewFileBackend(path, BinaryCodec{}).Load()
	require.NoError(t, err)
	return b
}

// storedBlob makes a valid blob written for UTC runtime with two entries
func storedBlob() *Blob {
	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	b := NewBlob()
	b.Entries = map[string]*Entry{
		"a": {Name: "a", Spec: "@every 1m", Command: "echo a", LastRunAt: &ts, TotalRunCount: 5},
		"c": {Name: "c", Spec: "@hourly", Command: "echo c", TotalRunCount: 2},
	}
	b.Set(KeyVersion, SchemaVersion)
	b.Set(KeyTimezone, "UTC")
	b.Set(KeyUTC, "true")
	return b
}

func TestOpen_NewFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sched.db")
	_, err := os.Stat(path)
	require.True(t, os.IsNotExist(err))

	s, err := Open(Params{Path: path, Timezone: "Europe/Berlin", UTCEnabled: true, Logger: log.NoOp})
	require.NoError(t, err)
	assert.Empty(t, s.Entries())
	assert.NotNil(t, s.Entries())
	assert.Equal(t, map[string]string{KeyVersion: SchemaVersion, KeyTimezone: "Europe/Berlin", KeyUTC: "true"}, s.Meta())
	assert.False(t, s.Dirty())

	_, err = os.Stat(path)
	require.NoError(t, err, "file created on open")
	b := readBlob(t, path)
	assert.True(t, b.Has(keyEntries))
	assert.Equal(t, s.Meta(), b.Meta)
}

func TestOpen_Corrupted(t *testing.T) {
	for _, data := range [][]byte{[]byte("garbage"), {}, bytes.Repeat([]byte{0xff}, 1024)} {
		t.Run(fmt.Sprintf("%d bytes", len(data)), func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, "sched")
			require.NoError(t, os.WriteFile(path, data, 0o600))
			for _, suffix := range []string{".db", ".bak", ".dir"} {
				require.NoError(t, os.WriteFile(path+suffix, []byte("leftover"), 0o600))
			}

			rec := logRecorder{}
			s, err := Open(Params{Path: path, Timezone: "UTC", UTCEnabled: true, Logger: rec.logger()})
			require.NoError(t, err)
			assert.Empty(t, s.Entries())
			assert.Equal(t, map[string]string{KeyVersion: SchemaVersion, KeyTimezone: "UTC", KeyUTC: "true"}, s.Meta())
			assert.Equal(t, 1, rec.count("[ERROR] removing corrupted schedule file", path))

			for _, suffix := range []string{".db", ".bak", ".dir"} {
				_, err = os.Stat(path + suffix)
				assert.True(t, os.IsNotExist(err), "leftover %s removed", suffix)
			}
			assert.Equal(t, s.Meta(), readBlob(t, path).Meta)
		})
	}
}

func TestOpen_CorruptedCantRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sched")
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o600))
	// non-empty directory can't be removed by os.Remove
	require.NoError(t, os.MkdirAll(filepath.Join(path+".dir", "sub"), 0o700))

	_, err := Open(Params{Path: path, Timezone: "UTC", Logger: log.NoOp})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "can't remove corrupted schedule file")
}

func TestOpen_ProbeFault(t *testing.T) {
	loads := 0
	be := &BackendMock{
		LoadFunc: func() (*Blob, error) {
			loads++
			if loads == 1 {
				return storedBlob(), nil
			}
			return NewBlob(), nil
		},
		ProbeFunc: func(b *Blob) error {
			if b.Has(keyEntries) {
				return fmt.Errorf("%w: page not found", ErrBackendFault)
			}
			return nil
		},
		PersistFunc: func(*Blob) error { return nil },
		FilesFunc:   func() []string { return nil },
		StringFunc:  func() string { return "mock" },
	}

	rec := logRecorder{}
	s, err := Open(Params{Path: filepath.Join(t.TempDir(), "sched"), Timezone: "UTC", UTCEnabled: true,
		Backend: be, Logger: rec.logger()})
	require.NoError(t, err)
	assert.Empty(t, s.Entries())
	assert.Len(t, be.LoadCalls(), 2)
	assert.Len(t, be.ProbeCalls(), 1, "probe is not repeated after repair")
	assert.Equal(t, 1, rec.count("[ERROR]", "page not found"))
}

func TestOpen_WriteFailureRetriedOnce(t *testing.T) {
	be := &BackendMock{
		LoadFunc:    func() (*Blob, error) { return NewBlob(), nil },
		ProbeFunc:   func(*Blob) error { return nil },
		PersistFunc: func(*Blob) error { return errors.New("read-only file system") },
		FilesFunc:   func() []string { return nil },
		StringFunc:  func() string { return "mock" },
	}

	rec := logRecorder{}
	s, err := Open(Params{Path: filepath.Join(t.TempDir(), "sched"), Timezone: "UTC", Backend: be, Logger: rec.logger()})
	require.Error(t, err)
	assert.Nil(t, s)
	assert.ErrorIs(t, err, ErrWriteFailure)
	assert.Contains(t, err.Error(), "read-only file system")
	assert.Len(t, be.PersistCalls(), 2, "exactly two attempts")
	assert.Len(t, be.LoadCalls(), 2, "initial load and one repair")
	assert.Equal(t, 1, rec.count("[ERROR] removing corrupted schedule file"))
}

func TestOpen_WriteFailureRecovered(t *testing.T) {
	persists := 0
	be := &BackendMock{
		LoadFunc:  func() (*Blob, error) { return NewBlob(), nil },
		ProbeFunc: func(*Blob) error { return nil },
		PersistFunc: func(*Blob) error {
			persists++
			if persists == 1 {
				return errors.New("transient")
			}
			return nil
		},
		FilesFunc:  func() []string { return nil },
		StringFunc: func() string { return "mock" },
	}

	s, err := Open(Params{Path: filepath.Join(t.TempDir(), "sched"), Timezone: "UTC", Backend: be, Logger: log.NoOp})
	require.NoError(t, err)
	assert.Empty(t, s.Entries())
	assert.Len(t, be.PersistCalls(), 3, "failed create, create, sync")
}

func TestOpen_SchemaReset(t *testing.T) {
	tbl := []struct {
		name    string
		missing []string
		field   string
	}{
		{"no version", []string{KeyVersion}, KeyVersion},
		{"no timezone", []string{KeyTimezone}, KeyTimezone},
		{"no utc", []string{KeyUTC}, KeyUTC},
		{"no version and timezone", []string{KeyVersion, KeyTimezone}, KeyVersion},
		{"no timezone and utc", []string{KeyTimezone, KeyUTC}, KeyTimezone},
	}

	for _, tt := range tbl {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "sched")
			b := storedBlob()
			b.Set("custom", "x")
			for _, k := range tt.missing {
				delete(b.Meta, k)
			}
			writeBlob(t, path, b)

			rec := logRecorder{}
			s, err := Open(Params{Path: path, Timezone: "UTC", UTCEnabled: true, Logger: rec.logger()})
			require.NoError(t, err)
			assert.Empty(t, s.Entries())
			assert.Equal(t, map[string]string{KeyVersion: SchemaVersion, KeyTimezone: "UTC", KeyUTC: "true"}, s.Meta(),
				"whole blob cleared, including unknown fields")
			assert.Equal(t, 1, rec.count("account for new"), "only the first missing field resets")
			assert.Equal(t, 1, rec.count("[WARN]", "account for new "+tt.field+" field"))
		})
	}
}

func TestOpen_TimezoneChanged(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sched.db")
	writeBlob(t, path, storedBlob())

	rec := logRecorder{}
	s, err := Open(Params{Path: path, Timezone: "America/New_York", UTCEnabled: true, Logger: rec.logger()})
	require.NoError(t, err)
	assert.Empty(t, s.Entries())
	assert.Equal(t, "America/New_York", s.Meta()[KeyTimezone])
	assert.Equal(t, 1, rec.count(`[WARN]`, `timezone changed from "UTC" to "America/New_York"`))
	assert.Empty(t, readBlob(t, path).Entries)
}

func TestOpen_TimezoneSame(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sched.db")
	writeBlob(t, path, storedBlob())

	rec := logRecorder{}
	s, err := Open(Params{Path: path, Timezone: "UTC", UTCEnabled: true, Logger: rec.logger()})
	require.NoError(t, err)
	assert.Equal(t, storedBlob().Entries, s.Entries())
	assert.Equal(t, 0, rec.count("[WARN]"))
}

func TestOpen_UTCChanged(t *testing.T) {
	tbl := []struct {
		stored  string
		runtime bool
		reset   bool
		msg     string
	}{
		{"true", false, true, "utc changed from enabled to disabled"},
		{"false", true, true, "utc changed from disabled to enabled"},
		{"true", true, false, ""},
		{"false", false, false, ""},
	}

	for _, tt := range tbl {
		t.Run(fmt.Sprintf("%s->%v", tt.stored, tt.runtime), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "sched.db")
			b := storedBlob()
			b.Set(KeyUTC, tt.stored)
			writeBlob(t, path, b)

			rec := logRecorder{}
			s, err := Open(Params{Path: path, Timezone: "UTC", UTCEnabled: tt.runtime, Logger: rec.logger()})
			require.NoError(t, err)
			assert.Equal(t, formatUTC(tt.runtime), s.Meta()[KeyUTC])
			if !tt.reset {
				assert.Len(t, s.Entries(), 2)
				assert.Equal(t, 0, rec.count("[WARN]"))
				return
			}
			assert.Empty(t, s.Entries())
			assert.Equal(t, 1, rec.count("[WARN]", tt.msg))
		})
	}
}

func TestOpen_TimezoneAndUTCChanged(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sched.db")
	writeBlob(t, path, storedBlob())

	rec := logRecorder{}
	s, err := Open(Params{Path: path, Timezone: "Asia/Tokyo", UTCEnabled: false, Logger: rec.logger()})
	require.NoError(t, err)
	assert.Empty(t, s.Entries())
	assert.Equal(t, 1, rec.count("timezone changed"))
	assert.Equal(t, 0, rec.count("utc changed"), "utc flag cleared with the blob by timezone reset")
}

func TestOpen_MergeDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sched.db")
	writeBlob(t, path, storedBlob())

	defaults := []Entry{
		{Name: "a", Spec: "@every 2m", Command: "echo a2", Args: []string{"x"}},
		{Name: "b", Spec: "@daily", Command: "echo b", Kwargs: map[string]string{"k": "v"}},
	}
	s, err := Open(Params{Path: path, Timezone: "UTC", UTCEnabled: true, Defaults: defaults, Logger: log.NoOp})
	require.NoError(t, err)

	entries := s.Entries()
	require.Len(t, entries, 3)

	a := entries["a"]
	assert.Equal(t, uint64(5), a.TotalRunCount, "run count kept")
	require.NotNil(t, a.LastRunAt)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), *a.LastRunAt)
	assert.Equal(t, "@every 2m", a.Spec, "definition taken from defaults")
	assert.Equal(t, "echo a2", a.Command)
	assert.Equal(t, []string{"x"}, a.Args)

	b := entries["b"]
	assert.Equal(t, uint64(0), b.TotalRunCount)
	assert.Nil(t, b.LastRunAt)
	assert.Equal(t, map[string]string{"k": "v"}, b.Kwargs)

	assert.Equal(t, uint64(2), entries["c"].TotalRunCount, "entry missing in defaults retained")

	// defaults are copied, not aliased
	defaults[1].Kwargs["k"] = "changed"
	assert.Equal(t, "v", entries["b"].Kwargs["k"])

	persisted := readBlob(t, path)
	assert.Equal(t, entries, persisted.Entries, "merged state synced on open")
}

func TestOpen_UnknownMetaPreserved(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sched.db")
	b := storedBlob()
	b.Set("beat_owner", "node-1")
	writeBlob(t, path, b)

	s, err := Open(Params{Path: path, Timezone: "UTC", UTCEnabled: true, Logger: log.NoOp})
	require.NoError(t, err)
	require.NoError(t, s.Close())
	assert.Equal(t, "node-1", readBlob(t, path).Meta["beat_owner"])
}

func TestStore_SyncIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sched.db")
	writeBlob(t, path, storedBlob())
	s, err := Open(Params{Path: path, Timezone: "UTC", UTCEnabled: true, Logger: log.NoOp})
	require.NoError(t, err)

	require.NoError(t, s.Sync())
	first, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, s.Sync())
	second, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestStore_MutateAndReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sched.yml")
	defaults := []Entry{{Name: "a", Spec: "@every 1m", Command: "echo a"}}
	s, err := Open(Params{Path: path, Timezone: "UTC", UTCEnabled: true, Defaults: defaults, Logger: log.NoOp})
	require.NoError(t, err)
	assert.Equal(t, ". db -> "+path+" (yaml)", s.String())

	ts := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	s.Entries()["a"].Ran(ts) // in-place mutation of the live map
	s.MarkDirty()
	assert.True(t, s.Dirty())
	s.Put(Entry{Name: "dyn", Spec: "@hourly", Command: "echo dyn"})
	assert.True(t, s.Update("dyn", func(e *Entry) { e.Ran(ts) }))
	assert.False(t, s.Update("nope", func(e *Entry) {}))
	require.NoError(t, s.Close())
	assert.False(t, s.Dirty())
	require.NoError(t, s.Close(), "close is idempotent")

	s, err = Open(Params{Path: path, Timezone: "UTC", UTCEnabled: true, Defaults: defaults, Logger: log.NoOp})
	require.NoError(t, err)
	a, ok := s.Entry("a")
	require.True(t, ok)
	assert.Equal(t, uint64(1), a.TotalRunCount)
	assert.Equal(t, ts, *a.LastRunAt)
	dyn, ok := s.Entry("dyn")
	require.True(t, ok)
	assert.Equal(t, uint64(1), dyn.TotalRunCount)

	assert.True(t, s.Remove("dyn"))
	assert.False(t, s.Remove("dyn"))
	_, ok = s.Entry("dyn")
	assert.False(t, ok)

	s.SetEntries(nil)
	assert.NotNil(t, s.Entries())
	assert.Empty(t, s.Snapshot())
}

func TestStore_LocalTimeReopen(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)
	ts := time.Date(2024, 7, 1, 10, 30, 0, 0, berlin)
	defaults := []Entry{{Name: "a", Spec: "@every 1m", Command: "echo a"}}

	for _, name := range []string{"sched.db", "sched.yml", "sched.sqlite"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			s, err := Open(Params{Path: path, Timezone: "Europe/Berlin", Defaults: defaults, Logger: log.NoOp})
			require.NoError(t, err)
			require.True(t, s.Update("a", func(e *Entry) { e.Ran(ts) }))
			require.NoError(t, s.Close())

			s, err = Open(Params{Path: path, Timezone: "Europe/Berlin", Defaults: defaults, Logger: log.NoOp})
			require.NoError(t, err)
			a, ok := s.Entry("a")
			require.True(t, ok)
			require.NotNil(t, a.LastRunAt)
			assert.True(t, ts.Equal(*a.LastRunAt))
			assert.Equal(t, "Europe/Berlin", a.LastRunAt.Location().String())
			zone, _ := a.LastRunAt.Zone()
			assert.Equal(t, "CEST", zone)
		})
	}
}

func TestStore_SetEntriesDropsNil(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sched.db")
	writeBlob(t, path, storedBlob())
	rec := logRecorder{}
	s, err := Open(Params{Path: path, Timezone: "UTC", UTCEnabled: true, Logger: rec.logger()})
	require.NoError(t, err)

	s.SetEntries(map[string]*Entry{"a": {Name: "a", Spec: "@hourly", Command: "echo a"}, "broken": nil})
	assert.Equal(t, 1, rec.count("[WARN] nil entry broken dropped"))
	snap := s.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "a", snap[0].Name)
	require.NoError(t, s.Sync())
	assert.Equal(t, []string{"a"}, readBlob(t, path).Names())
}

func TestStore_MetaIsCopy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sched.db")
	writeBlob(t, path, storedBlob())
	s, err := Open(Params{Path: path, Timezone: "UTC", UTCEnabled: true, Logger: log.NoOp})
	require.NoError(t, err)

	meta := s.Meta()
	meta[KeyTimezone] = "Asia/Tokyo"
	delete(meta, KeyVersion)
	assert.Equal(t, map[string]string{KeyVersion: SchemaVersion, KeyTimezone: "UTC", KeyUTC: "true"}, s.Meta())
}

func TestStore_Snapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sched.db")
	writeBlob(t, path, storedBlob())
	s, err := Open(Params{Path: path, Timezone: "UTC", UTCEnabled: true, Logger: log.NoOp})
	require.NoError(t, err)

	snap := s.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "a", snap[0].Name)
	assert.Equal(t, "c", snap[1].Name)

	*snap[0].LastRunAt = time.Time{}
	snap[0].TotalRunCount = 100
	assert.Equal(t, uint64(5), s.Entries()["a"].TotalRunCount, "snapshot is a copy")
	assert.False(t, s.Entries()["a"].LastRunAt.IsZero())
}

func TestStore_SyncErrors(t *testing.T) {
	fail := false
	be := &BackendMock{
		LoadFunc:  func() (*Blob, error) { return storedBlob(), nil },
		ProbeFunc: func(*Blob) error { return nil },
		PersistFunc: func(*Blob) error {
			if fail {
				return errors.New("no space left on device")
			}
			return nil
		},
		FilesFunc:  func() []string { return nil },
		StringFunc: func() string { return "mock" },
	}
	s, err := Open(Params{Path: "/tmp/sched", Timezone: "UTC", UTCEnabled: true, Backend: be, Logger: log.NoOp})
	require.NoError(t, err)
	assert.Len(t, be.PersistCalls(), 1, "existing entries, only the initial sync")

	fail = true
	s.MarkDirty()
	err = s.Sync()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no space left on device")
	assert.True(t, s.Dirty(), "still dirty after failed sync")
	assert.Error(t, s.Close())

	fail = false
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Len(t, be.PersistCalls(), 4, "initial, failed sync, failed close, close; second close is a no-op")
}

func TestStore_SyncNotOpened(t *testing.T) {
	s := Store{}
	assert.NoError(t, s.Sync())
	assert.NoError(t, s.Close())
}

func TestStore_SQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sched.sqlite")
	defaults := []Entry{{Name: "a", Spec: "@every 1m", Command: "echo a"}}
	s, err := Open(Params{Path: path, Timezone: "UTC", UTCEnabled: true, Defaults: defaults, Logger: log.NoOp})
	require.NoError(t, err)
	s.Entries()["a"].Ran(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	s.MarkDirty()
	require.NoError(t, s.Close())

	s, err = Open(Params{Path: path, Timezone: "UTC", UTCEnabled: true, Defaults: defaults, Logger: log.NoOp})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), s.Entries()["a"].TotalRunCount)
	require.NoError(t, s.Close())

	// corrupt the file, open repairs it
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte("garbage "), 1024), 0o600))
	rec := logRecorder{}
	s, err = Open(Params{Path: path, Timezone: "UTC", UTCEnabled: true, Defaults: defaults, Logger: rec.logger()})
	require.NoError(t, err)
	assert.Equal(t, uint64(0), s.Entries()["a"].TotalRunCount)
	assert.Equal(t, 1, rec.count("[ERROR] removing corrupted schedule file"))
}

func TestStore_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("beat", reg)

	path := filepath.Join(t.TempDir(), "sched.db")
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o600))
	s, err := Open(Params{Path: path, Timezone: "UTC", UTCEnabled: true, Logger: log.NoOp, Metrics: m,
		Defaults: []Entry{{Name: "a", Spec: "@hourly"}}})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(Params{Path: path, Timezone: "Asia/Tokyo", UTCEnabled: true, Logger: log.NoOp, Metrics: m})
	require.NoError(t, err)

	assert.InDelta(t, 2, testutil.ToFloat64(m.opens), 0.01)
	assert.InDelta(t, 1, testutil.ToFloat64(m.repairs), 0.01)
	assert.InDelta(t, 1, testutil.ToFloat64(m.resets.WithLabelValues("timezone_changed")), 0.01)
	assert.InDelta(t, 0, testutil.ToFloat64(m.entries), 0.01)
	assert.InDelta(t, 3, testutil.ToFloat64(m.syncs.WithLabelValues("ok")), 0.01)
}
