// Package schedule loads the default beat entries from a schedule file. The format is picked by file extension:
// yaml (.yml, .yaml), toml (.toml), anything else is a standard 5-elements crontab with @descriptors.
package schedule

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/umputun/beatstore/app/store"
)

// FileConfig is the structured schedule file, yaml or toml
type FileConfig struct {
	Entries []EntryConfig `yaml:"entries" toml:"entries" json:"entries" jsonschema:"required,description=list of periodic entries"`
}

// EntryConfig defines a single default entry
type EntryConfig struct {
	Name    string            `yaml:"name" toml:"name" json:"name" jsonschema:"required,description=unique entry name"`
	Spec    string            `yaml:"spec" toml:"spec" json:"spec" jsonschema:"required,description=cron expression or @descriptor,example=*/5 * * * *,example=@every 10m"`
	Command string            `yaml:"command" toml:"command" json:"command" jsonschema:"required,description=shell command to run"`
	Args    []string          `yaml:"args,omitempty" toml:"args,omitempty" json:"args,omitempty" jsonschema:"description=arguments appended to the command"`
	Kwargs  map[string]string `yaml:"kwargs,omitempty" toml:"kwargs,omitempty" json:"kwargs,omitempty" jsonschema:"description=named arguments passed as BEAT_* environment"`
	Options map[string]string `yaml:"options,omitempty" toml:"options,omitempty" json:"options,omitempty" jsonschema:"description=dispatch options"`
}

var reWhtSpaces = regexp.MustCompile(`[\s\p{Zs}]{2,}`)

// Load reads default entries from file and validates them
func Load(file string) ([]store.Entry, error) {
	data, err := os.ReadFile(file) // nolint gosec
	if err != nil {
		return nil, fmt.Errorf("can't read schedule file %s: %w", file, err)
	}

	var res []store.Entry
	switch strings.ToLower(filepath.Ext(file)) {
	case ".yml", ".yaml":
		cfg := FileConfig{}
		if err = yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("can't parse yaml schedule %s: %w", file, err)
		}
		res = cfg.entries()
	case ".toml":
		cfg := FileConfig{}
		if err = toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("can't parse toml schedule %s: %w", file, err)
		}
		res = cfg.entries()
	default:
		for _, l := range strings.Split(string(data), "\n") {
			if e, err := Parse(l); err == nil {
				res = append(res, e)
			}
		}
	}

	if err = Validate(res); err != nil {
		return nil, fmt.Errorf("invalid schedule %s: %w", file, err)
	}
	return res, nil
}

func (c FileConfig) entries() []store.Entry {
	res := make([]store.Entry, 0, len(c.Entries))
	for _, e := range c.Entries {
		res = append(res, store.Entry{Name: e.Name, Spec: e.Spec, Command: e.Command, Args: e.Args,
			Kwargs: maps.Clone(e.Kwargs), Options: maps.Clone(e.Options)})
	}
	return res
}

// Validate checks names are present and unique and every spec parses as a standard cron schedule
func Validate(entries []store.Entry) error {
	seen := map[string]bool{}
	for i, e := range entries {
		if e.Name == "" {
			return fmt.Errorf("entry %d: name is required", i+1)
		}
		if seen[e.Name] {
			return fmt.Errorf("entry %d: duplicate name %q", i+1, e.Name)
		}
		seen[e.Name] = true
		if e.Command == "" {
			return fmt.Errorf("entry %q: command is required", e.Name)
		}
		if _, err := cron.ParseStandard(e.Spec); err != nil {
			return fmt.Errorf("entry %q: invalid spec %q: %w", e.Name, e.Spec, err)
		}
	}
	return nil
}

// Parse makes entry from a crontab line, spec + command. Name is derived from the line.
// A trailing "# name: xyz" comment sets the name explicitly.
func Parse(line string) (store.Entry, error) {
	if strings.HasPrefix(strings.TrimSpace(line), "#") {
		return store.Entry{}, errors.New("comment line " + line)
	}

	name := ""
	if idx := strings.LastIndex(line, "# name:"); idx >= 0 {
		name = strings.TrimSpace(line[idx+len("# name:"):])
		line = line[:idx]
	}

	l := strings.TrimSpace(line)
	l = strings.ReplaceAll(l, "\t", " ")
	elems := strings.Split(reWhtSpaces.ReplaceAllString(l, " "), " ")
	if len(elems) < 2 {
		return store.Entry{}, errors.New("not enough elements in " + line)
	}

	var res store.Entry
	switch {
	case elems[0] == "@every" && len(elems) >= 3: // @every 2h5m
		res = store.Entry{Spec: strings.Join(elems[:2], " "), Command: strings.Join(elems[2:], " ")}
	case strings.HasPrefix(elems[0], "@"): // @midnight
		res = store.Entry{Spec: elems[0], Command: strings.Join(elems[1:], " ")}
	case len(elems) < 6:
		return store.Entry{}, errors.New("not enough elements in " + line)
	default: // * * * * *
		res = store.Entry{Spec: strings.Join(elems[:5], " "), Command: strings.Join(elems[5:], " ")}
	}

	res.Name = name
	if res.Name == "" {
		res.Name = EntryName(res.Spec, res.Command)
	}
	return res, nil
}

// EntryName makes a stable name for an unnamed crontab entry
func EntryName(spec, command string) string {
	h := sha256.Sum256([]byte(spec + " " + command))
	return "cron-" + hex.EncodeToString(h[:])[:12]
}
