package store

import (
	"maps"
	"slices"
	"strconv"
)

// metadata keys stored next to entries
const (
	KeyVersion  = "__version__"
	KeyTimezone = "tz"
	KeyUTC      = "utc_enabled"
	keyEntries  = "entries"
)

// Blob is the whole persisted schedule state. Nil Entries means the entries key is absent,
// i.e. a brand-new schedule. Meta keeps schema/config stamps and any unknown fields as is.
type Blob struct {
	Entries map[string]*Entry
	Meta    map[string]string
}

// NewBlob makes an empty blob without entries and metadata
func NewBlob() *Blob {
	return &Blob{Meta: map[string]string{}}
}

// Get returns meta value and presence flag
func (b *Blob) Get(key string) (string, bool) {
	v, ok := b.Meta[key]
	return v, ok
}

// Has checks if the top-level key present
func (b *Blob) Has(key string) bool {
	if key == keyEntries {
		return b.Entries != nil
	}
	_, ok := b.Meta[key]
	return ok
}

// Set sets meta value
func (b *Blob) Set(key, value string) {
	if b.Meta == nil {
		b.Meta = map[string]string{}
	}
	b.Meta[key] = value
}

// Clear drops everything, entries and all metadata
func (b *Blob) Clear() {
	b.Entries = nil
	b.Meta = map[string]string{}
}

// Names returns sorted entry names
func (b *Blob) Names() []string {
	return slices.Sorted(maps.Keys(b.Entries))
}

// Clone makes a deep copy
func (b *Blob) Clone() *Blob {
	res := &Blob{Meta: maps.Clone(b.Meta)}
	if res.Meta == nil {
		res.Meta = map[string]string{}
	}
	if b.Entries != nil {
		res.Entries = make(map[string]*Entry, len(b.Entries))
		for name, e := range b.Entries {
			res.Entries[name] = e.Clone()
		}
	}
	return res
}

func formatUTC(enabled bool) string {
	return strconv.FormatBool(enabled)
}

// utcName makes enabled/disabled out of stored utc flag
func utcName(v string) string {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return strconv.Quote(v)
	}
	if b {
		return "enabled"
	}
	return "disabled"
}
