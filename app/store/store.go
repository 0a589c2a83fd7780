// Package store keeps periodic scheduler state (entries with run history plus schema and timezone stamps)
// in a single file. It repairs corrupted files, resets state on schema or timezone/utc changes
// and merges default entries into the stored ones on open.
package store

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	log "github.com/go-pkgz/lgr"
)

// SchemaVersion stamped into every saved schedule
const SchemaVersion = "5"

// Params for Open
type Params struct {
	Path       string  // backing file
	Timezone   string  // runtime timezone, stamped and compared on open
	UTCEnabled bool    // runtime utc mode, stamped and compared on open
	Defaults   []Entry // default entries merged on open
	Backend    Backend // optional, made from Path by extension if nil
	Logger     log.L   // optional, lgr.Default() if nil
	Metrics    *Metrics
}

// Store owns the schedule blob. The entries map returned by Entries is live and shared with the caller,
// callers mutating entries in place must call MarkDirty and Sync to persist changes.
type Store struct {
	path    string
	params  Params
	backend Backend
	log     log.L
	metrics *Metrics
	mu      sync.Mutex
	blob    *Blob
	opened  bool
	dirty   bool
}

// Open loads the schedule from params.Path, repairing, resetting and merging defaults as needed,
// and syncs the result. Only a failure to make a usable store is returned as error.
func Open(params Params) (*Store, error) {
	res := &Store{path: params.Path, params: params, backend: params.Backend, log: params.Logger, metrics: params.Metrics}
	if res.log == nil {
		res.log = log.Default()
	}
	if res.backend == nil {
		b, err := NewBackend(BackendAuto, params.Path)
		if err != nil {
			return nil, err
		}
		res.backend = b
	}

	if err := res.setup(); err != nil {
		return nil, err
	}
	res.metrics.opened()
	return res, nil
}

func (s *Store) setup() (err error) {
	if s.blob, err = s.load(); err != nil {
		return err
	}
	if err = s.createSchedule(); err != nil {
		return err
	}
	s.invalidate()

	if s.blob.Entries == nil {
		s.blob.Entries = map[string]*Entry{}
	}
	s.merge(s.params.Defaults)
	s.localize()
	s.blob.Set(KeyVersion, SchemaVersion)
	s.blob.Set(KeyTimezone, s.params.Timezone)
	s.blob.Set(KeyUTC, formatUTC(s.params.UTCEnabled))
	s.opened = true

	if err = s.Sync(); err != nil {
		return err
	}

	lines := []string{}
	for _, name := range s.blob.Names() {
		lines = append(lines, s.blob.Entries[name].String())
	}
	s.log.Logf("[DEBUG] current schedule %s:\n%s", s.path, strings.Join(lines, "\n"))
	return nil
}

// load reads the blob and probes it, any failure goes to repair
func (s *Store) load() (*Blob, error) {
	blob, err := s.backend.Load()
	if err == nil {
		err = s.backend.Probe(blob)
	}
	if err != nil {
		return s.repair(err)
	}
	return blob, nil
}

// repair removes the backing file with all known sidecars and loads it again, empty.
// Only a failure to remove an existing file is returned.
func (s *Store) repair(cause error) (*Blob, error) {
	s.log.Logf("[ERROR] removing corrupted schedule file %s: %v", s.path, cause)
	s.metrics.repaired()

	for _, f := range s.files() {
		if err := os.Remove(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("can't remove corrupted schedule file %s: %w", f, err)
		}
	}

	blob, err := s.backend.Load()
	if err != nil {
		s.log.Logf("[WARN] can't load schedule %s after repair, starting empty: %v", s.path, err)
		return NewBlob(), nil
	}
	return blob, nil
}

// createSchedule makes entries for a new schedule or resets a schedule written by an older schema.
// Creation failure repairs the file and retries once, the second failure is returned.
func (s *Store) createSchedule() error {
	const maxAttempts = 2
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if s.blob.Entries == nil {
			s.blob.Entries = map[string]*Entry{}
			err := s.backend.Persist(s.blob)
			if err == nil {
				return nil
			}
			err = fmt.Errorf("%w %s: %w", ErrWriteFailure, s.path, err)
			if attempt == maxAttempts {
				return err
			}
			if s.blob, err = s.repair(err); err != nil {
				return err
			}
			continue
		}

		switch {
		case !s.blob.Has(KeyVersion):
			s.reset("version", "[WARN] schedule %s reset, account for new %s field", s.path, KeyVersion)
		case !s.blob.Has(KeyTimezone):
			s.reset("timezone", "[WARN] schedule %s reset, account for new %s field", s.path, KeyTimezone)
		case !s.blob.Has(KeyUTC):
			s.reset("utc", "[WARN] schedule %s reset, account for new %s field", s.path, KeyUTC)
		}
		return nil
	}
	return nil
}

// invalidate clears the blob if stored timezone or utc mode differ from the runtime ones
func (s *Store) invalidate() {
	if tz, ok := s.blob.Get(KeyTimezone); ok && tz != "" && tz != s.params.Timezone {
		s.reset("timezone_changed", "[WARN] schedule %s reset, timezone changed from %q to %q", s.path, tz, s.params.Timezone)
	}
	utc := formatUTC(s.params.UTCEnabled)
	if stored, ok := s.blob.Get(KeyUTC); ok && stored != utc {
		s.reset("utc_changed", "[WARN] schedule %s reset, utc changed from %s to %s", s.path, utcName(stored), utcName(utc))
	}
}

// localize moves stored run times into the runtime zone. Codecs keep the instant only,
// decoded times come back as UTC or as an unnamed fixed offset.
func (s *Store) localize() {
	loc := time.UTC
	if !s.params.UTCEnabled {
		l, err := time.LoadLocation(s.params.Timezone)
		if err != nil {
			s.log.Logf("[WARN] can't load timezone %q, run times kept as stored: %v", s.params.Timezone, err)
			return
		}
		loc = l
	}
	for _, e := range s.blob.Entries {
		if e == nil || e.LastRunAt == nil {
			continue
		}
		ts := e.LastRunAt.In(loc)
		e.LastRunAt = &ts
	}
}

func (s *Store) reset(reason, format string, args ...any) {
	s.log.Logf(format, args...)
	s.metrics.reset(reason)
	s.blob.Clear()
}

// merge updates definitions of stored entries from defaults and adds missing ones.
// Run history of stored entries is kept, stored entries missing in defaults are retained.
func (s *Store) merge(defaults []Entry) {
	for _, d := range defaults {
		if e, ok := s.blob.Entries[d.Name]; ok && e != nil {
			e.Update(d)
			continue
		}
		e := &Entry{Name: d.Name}
		e.Update(d)
		s.blob.Entries[d.Name] = e
	}
}

// Merge merges defaults into the live schedule and marks it dirty
func (s *Store) Merge(defaults []Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.merge(defaults)
	s.dirty = true
}

// Entries returns the live entries map, not a copy
func (s *Store) Entries() map[string]*Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blob.Entries
}

// SetEntries replaces all entries, nil entries are dropped
func (s *Store) SetEntries(entries map[string]*Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entries == nil {
		entries = map[string]*Entry{}
	}
	for name, e := range entries {
		if e == nil {
			s.log.Logf("[WARN] nil entry %s dropped from schedule %s", name, s.path)
			delete(entries, name)
		}
	}
	s.blob.Entries = entries
	s.dirty = true
}

// Entry returns a copy of the named entry
func (s *Store) Entry(name string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.blob.Entries[name]
	if !ok {
		return Entry{}, false
	}
	return *e.Clone(), true
}

// Put adds or replaces the entry
func (s *Store) Put(e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blob.Entries[e.Name] = e.Clone()
	s.dirty = true
}

// Update calls fn for the named entry under the store lock and marks the store dirty.
// Returns false if there is no such entry.
func (s *Store) Update(name string, fn func(e *Entry)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.blob.Entries[name]
	if !ok {
		return false
	}
	fn(e)
	s.dirty = true
	return true
}

// Remove deletes the entry, returns false if it was not there
func (s *Store) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blob.Entries[name]; !ok {
		return false
	}
	delete(s.blob.Entries, name)
	s.dirty = true
	return true
}

// Snapshot returns copies of all entries sorted by name
func (s *Store) Snapshot() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := make([]Entry, 0, len(s.blob.Entries))
	for _, name := range s.blob.Names() {
		res = append(res, *s.blob.Entries[name].Clone())
	}
	return res
}

// Meta returns a copy of schedule metadata
func (s *Store) Meta() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.blob.Meta)
}

// MarkDirty tells the store entries were changed in place
func (s *Store) MarkDirty() {
	s.mu.Lock()
	s.dirty = true
	s.mu.Unlock()
}

// Dirty reports changes not synced yet
func (s *Store) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

// Sync writes the whole schedule to the backing file. Does nothing if the store is not opened.
func (s *Store) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened {
		return nil
	}
	err := s.backend.Persist(s.blob)
	s.metrics.synced(err, len(s.blob.Entries))
	if err != nil {
		return fmt.Errorf("can't sync schedule %s: %w", s.path, err)
	}
	s.dirty = false
	return nil
}

// Close syncs the schedule and closes the store, safe to call more than once
func (s *Store) Close() error {
	if err := s.Sync(); err != nil {
		return err
	}
	s.mu.Lock()
	s.opened = false
	s.mu.Unlock()
	return nil
}

// Path returns backing file path
func (s *Store) Path() string { return s.path }

// String describes the store for status output
func (s *Store) String() string {
	return fmt.Sprintf(". db -> %s (%s)", s.path, s.backend)
}

// files lists the backing file with all sidecars removed by repair
func (s *Store) files() []string {
	res := []string{}
	for _, suffix := range KnownSuffixes {
		res = append(res, s.path+suffix)
	}
	return slices.Concat(res, s.backend.Files())
}
