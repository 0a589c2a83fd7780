package store

import (
	"fmt"
	"maps"
	"slices"
	"time"
)

// Entry is a named periodic task definition with its run history.
// Definition fields (Spec, Command, Args, Kwargs, Options) come from the schedule file,
// run history (LastRunAt, TotalRunCount) is owned by the scheduler.
type Entry struct {
	Name          string            `yaml:"name" json:"name"`
	Spec          string            `yaml:"spec" json:"spec"`
	Command       string            `yaml:"command,omitempty" json:"command,omitempty"`
	Args          []string          `yaml:"args,omitempty" json:"args,omitempty"`
	Kwargs        map[string]string `yaml:"kwargs,omitempty" json:"kwargs,omitempty"`
	Options       map[string]string `yaml:"options,omitempty" json:"options,omitempty"`
	LastRunAt     *time.Time        `yaml:"last_run_at,omitempty" json:"last_run_at,omitempty"`
	TotalRunCount uint64            `yaml:"total_run_count" json:"total_run_count"`
}

// Update takes definition fields from other and keeps run history
func (e *Entry) Update(other Entry) {
	e.Spec = other.Spec
	e.Command = other.Command
	e.Args = slices.Clone(other.Args)
	e.Kwargs = maps.Clone(other.Kwargs)
	e.Options = maps.Clone(other.Options)
}

// Ran records a run started at ts
func (e *Entry) Ran(ts time.Time) {
	e.LastRunAt = &ts
	e.TotalRunCount++
}

// Clone makes a deep copy of the entry
func (e *Entry) Clone() *Entry {
	res := *e
	res.Update(*e)
	if e.LastRunAt != nil {
		ts := *e.LastRunAt
		res.LastRunAt = &ts
	}
	return &res
}

func (e Entry) String() string {
	last := "never"
	if e.LastRunAt != nil {
		last = e.LastRunAt.Format(time.RFC3339)
	}
	return fmt.Sprintf("<Entry: %s %q %s, last run %s, total %d>", e.Name, e.Command, e.Spec, last, e.TotalRunCount)
}
