// Package beat runs the periodic scheduler on top of the schedule store. On every tick it finds due entries,
// records the run in the store, hands entries to the dispatcher and syncs the store after the batch.
package beat

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/syncs"
	"github.com/robfig/cron/v3"

	"github.com/umputun/beatstore/app/store"
)

//go:generate moq -out mocks/dispatcher.go -pkg mocks -skip-ensure -fmt goimports . Dispatcher
//go:generate moq -out mocks/defaults.go -pkg mocks -skip-ensure -fmt goimports . DefaultsProvider
//go:generate moq -out mocks/notifier.go -pkg mocks -skip-ensure -fmt goimports . Notifier
//go:generate moq -out mocks/conditions.go -pkg mocks -skip-ensure -fmt goimports . Conditions

const minInterval = 10 * time.Millisecond

// Scheduler is the beat loop. Store, Dispatcher required, the rest is optional.
type Scheduler struct {
	Store          Store
	Dispatcher     Dispatcher
	Defaults       DefaultsProvider
	Notifier       Notifier       // reports completed and failed runs
	Conditions     Conditions     // host conditions checked before due entry dispatched
	UpdatesEnabled bool           // reload defaults on changes
	Location       *time.Location // schedules evaluated in, UTC if nil
	UTC            bool           // record run times in UTC
	MaxInterval    time.Duration  // max sleep between ticks
	SyncEvery      time.Duration  // sync even without changes, 0 to sync only dirty store
	Workers        int            // concurrent dispatches

	group        *syncs.SizedGroup
	started      time.Time
	lastSync     time.Time
	defaultNames []string

	lock     sync.Mutex
	running  map[string]time.Time
	badSpecs map[string]string
	blocked  map[string]string
}

// Store is the schedule state used by the scheduler
type Store interface {
	Snapshot() []store.Entry
	Update(name string, fn func(e *store.Entry)) bool
	Merge(defaults []store.Entry)
	Remove(name string) bool
	Dirty() bool
	Sync() error
	Close() error
	String() string
}

// Dispatcher executes a due entry
type Dispatcher interface {
	Dispatch(ctx context.Context, e store.Entry) error
}

// DefaultsProvider loads default entries and reports their changes
type DefaultsProvider interface {
	List() ([]store.Entry, error)
	Changes(ctx context.Context) (<-chan []store.Entry, error)
	String() string
}

// Notifier reports a finished run, runErr is the dispatch result
type Notifier interface {
	Notify(ctx context.Context, e store.Entry, runErr error) error
}

// Conditions checks if entry can run now, reason returned for blocked entry
type Conditions interface {
	Check(e store.Entry) (ok bool, reason string)
}

// EntryStatus is an entry with its next run time, for status output
type EntryStatus struct {
	store.Entry
	NextRunAt time.Time `json:"next_run_at"`
	Running   bool      `json:"running"`
	Blocked   string    `json:"blocked,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Do runs blocking beat loop until ctx canceled. On exit waits for running dispatches and closes the store.
// Failure to sync the store terminates the loop with error.
func (s *Scheduler) Do(ctx context.Context) error {
	s.init(ctx, time.Now())
	log.Printf("[INFO] beat started, store %s, max interval %v", s.Store, s.MaxInterval)

	var changes <-chan []store.Entry
	if s.UpdatesEnabled && s.Defaults != nil {
		entries, err := s.Defaults.List()
		if err != nil {
			log.Printf("[WARN] can't load defaults %s, %v", s.Defaults, err)
		}
		s.defaultNames = names(entries)
		ch, err := s.Defaults.Changes(ctx)
		if err != nil {
			log.Printf("[WARN] can't watch defaults %s, %v", s.Defaults, err)
		} else {
			log.Printf("[INFO] updater activated for %s", s.Defaults)
			changes = ch
		}
	}

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Print("[DEBUG] terminate")
			s.group.Wait()
			if err := s.Store.Close(); err != nil {
				return fmt.Errorf("can't close store: %w", err)
			}
			return nil
		case entries, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			s.reload(entries)
		case <-timer.C:
			now := time.Now()
			delay := s.Tick(now)
			if err := s.syncIfNeeded(now); err != nil {
				s.group.Wait()
				return err
			}
			log.Printf("[DEBUG] beat waking up in %v", delay)
			timer.Reset(delay)
		}
	}
}

func (s *Scheduler) init(ctx context.Context, now time.Time) {
	if s.Workers <= 0 {
		s.Workers = 1
	}
	if s.MaxInterval <= 0 {
		s.MaxInterval = 5 * time.Minute
	}
	s.group = syncs.NewSizedGroup(s.Workers, syncs.Context(ctx))
	s.lastSync = now

	s.lock.Lock()
	defer s.lock.Unlock()
	s.started = now
	s.running = map[string]time.Time{}
	s.badSpecs = map[string]string{}
	s.blocked = map[string]string{}
}

// Tick dispatches all entries due at now and returns the delay till the next due entry, capped by MaxInterval
func (s *Scheduler) Tick(now time.Time) time.Duration {
	next := s.MaxInterval
	for _, e := range s.Store.Snapshot() {
		if e.Command == "" {
			continue
		}
		sched, err := s.parse(e.Spec)
		if err != nil {
			s.reportBadSpec(e, err)
			continue
		}

		if at := s.nextRun(e, sched, s.started); at.After(now) {
			next = min(next, at.Sub(now))
			continue
		}
		if !s.allowed(e) {
			continue // still due, checked again on the next tick
		}
		s.dispatch(e, now)
		next = min(next, sched.Next(now.In(s.location())).Sub(now))
	}
	return max(next, minInterval)
}

// dispatch records the run and sends the entry to dispatcher in background. Entry still running is skipped.
func (s *Scheduler) dispatch(e store.Entry, now time.Time) {
	s.lock.Lock()
	if startedAt, ok := s.running[e.Name]; ok {
		s.lock.Unlock()
		log.Printf("[WARN] entry %s still running since %s, skipped", e.Name, startedAt.Format(time.RFC3339))
		return
	}
	s.running[e.Name] = now
	s.lock.Unlock()

	ts := now.In(s.location())
	if s.UTC {
		ts = now.UTC()
	}
	s.Store.Update(e.Name, func(se *store.Entry) { se.Ran(ts) })
	e.Ran(ts)

	log.Printf("[INFO] scheduler: sending due entry %s (%s), run %d", e.Name, e.Spec, e.TotalRunCount)
	s.group.Go(func(ctx context.Context) {
		defer func() {
			s.lock.Lock()
			delete(s.running, e.Name)
			s.lock.Unlock()
		}()
		err := s.Dispatcher.Dispatch(ctx, e)
		if err != nil {
			log.Printf("[WARN] entry %s failed, %v", e.Name, err)
		} else {
			log.Printf("[INFO] completed %s", e.Name)
		}
		if s.Notifier == nil {
			return
		}
		if nerr := s.Notifier.Notify(ctx, e, err); nerr != nil {
			log.Printf("[WARN] can't notify about %s, %v", e.Name, nerr)
		}
	})
}

// Wait blocks until all dispatched entries completed
func (s *Scheduler) Wait() {
	if s.group != nil {
		s.group.Wait()
	}
}

func (s *Scheduler) syncIfNeeded(now time.Time) error {
	periodic := s.SyncEvery > 0 && now.Sub(s.lastSync) >= s.SyncEvery
	if !s.Store.Dirty() && !periodic {
		return nil
	}
	if err := s.Store.Sync(); err != nil {
		return fmt.Errorf("can't sync store: %w", err)
	}
	s.lastSync = now
	return nil
}

// reload merges changed defaults into the store and removes entries dropped from defaults since the last load.
// Stored entries never listed in defaults are left alone.
func (s *Scheduler) reload(entries []store.Entry) {
	fresh := names(entries)
	for _, name := range s.defaultNames {
		if _, found := slices.BinarySearch(fresh, name); !found && s.Store.Remove(name) {
			log.Printf("[INFO] entry %s removed from defaults", name)
		}
	}
	s.Store.Merge(entries)
	s.defaultNames = fresh
	log.Printf("[INFO] defaults reloaded, %d entries", len(entries))
}

// Status returns all entries with their next run time, safe to call concurrently with Do
func (s *Scheduler) Status() []EntryStatus {
	res := []EntryStatus{}
	for _, e := range s.Store.Snapshot() {
		st := EntryStatus{Entry: e}
		s.lock.Lock()
		started := s.started
		_, st.Running = s.running[e.Name]
		st.Blocked = s.blocked[e.Name]
		s.lock.Unlock()

		sched, err := s.parse(e.Spec)
		if err != nil {
			st.Error = err.Error()
		} else {
			st.NextRunAt = s.nextRun(e, sched, started)
		}
		res = append(res, st)
	}
	return res
}

// parse makes schedule, specs without explicit TZ evaluated in scheduler's location
func (s *Scheduler) parse(spec string) (cron.Schedule, error) {
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("can't parse %s: %w", spec, err)
	}
	if ss, ok := sched.(*cron.SpecSchedule); ok && !strings.HasPrefix(spec, "TZ=") && !strings.HasPrefix(spec, "CRON_TZ=") {
		ss.Location = s.location()
	}
	return sched, nil
}

// nextRun is the first schedule time after the last run, or after started for entries never run
func (s *Scheduler) nextRun(e store.Entry, sched cron.Schedule, started time.Time) time.Time {
	base := started
	if e.LastRunAt != nil {
		base = *e.LastRunAt
	}
	return sched.Next(base.In(s.location()))
}

func (s *Scheduler) location() *time.Location {
	if s.Location == nil {
		return time.UTC
	}
	return s.Location
}

func (s *Scheduler) reportBadSpec(e store.Entry, err error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.badSpecs[e.Name] == e.Spec {
		return
	}
	s.badSpecs[e.Name] = e.Spec
	log.Printf("[WARN] entry %s skipped, %v", e.Name, err)
}

// allowed checks entry conditions, blocked entry logged once per reason
func (s *Scheduler) allowed(e store.Entry) bool {
	if s.Conditions == nil {
		return true
	}
	ok, reason := s.Conditions.Check(e)

	s.lock.Lock()
	defer s.lock.Unlock()
	if ok {
		delete(s.blocked, e.Name)
		return true
	}
	if s.blocked[e.Name] != reason {
		s.blocked[e.Name] = reason
		log.Printf("[INFO] entry %s postponed, %s", e.Name, reason)
	}
	return false
}

func names(entries []store.Entry) []string {
	res := make([]string, 0, len(entries))
	for _, e := range entries {
		res = append(res, e.Name)
	}
	slices.Sort(res)
	return res
}
