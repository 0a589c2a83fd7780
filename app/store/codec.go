package store

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"hash/crc32"
	"maps"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// Codec serializes the whole blob to a single binary representation and back
type Codec interface {
	Encode(b *Blob) ([]byte, error)
	Decode(data []byte) (*Blob, error)
}

const (
	binaryMagic  = "BEATSTR"
	binaryFormat = byte(1)
	binaryHeader = len(binaryMagic) + 1 + 4 // magic, format, crc32
)

// BinaryCodec keeps the blob as gob payload prefixed by magic, format byte and crc32 of the payload.
// Maps are flattened into name-sorted slices, so re-encoding unchanged state gives the same bytes.
// Run times keep the instant and offset, zone names are not stored.
type BinaryCodec struct{}

type wireBlob struct {
	HasEntries bool
	Entries    []wireEntry
	Meta       []wirePair
}

type wireEntry struct {
	Name          string
	Spec          string
	Command       string
	Args          []string
	Kwargs        []wirePair
	Options       []wirePair
	LastRunAt     *time.Time
	TotalRunCount uint64
}

type wirePair struct {
	Key   string
	Value string
}

// Encode makes header + gob payload
func (BinaryCodec) Encode(b *Blob) ([]byte, error) {
	w := wireBlob{HasEntries: b.Entries != nil, Meta: toPairs(b.Meta)}
	for _, name := range b.Names() {
		e := b.Entries[name]
		w.Entries = append(w.Entries, wireEntry{Name: name, Spec: e.Spec, Command: e.Command, Args: e.Args,
			Kwargs: toPairs(e.Kwargs), Options: toPairs(e.Options), LastRunAt: e.LastRunAt, TotalRunCount: e.TotalRunCount})
	}

	payload := bytes.Buffer{}
	if err := gob.NewEncoder(&payload).Encode(w); err != nil {
		return nil, fmt.Errorf("can't encode schedule: %w", err)
	}

	res := make([]byte, binaryHeader, binaryHeader+payload.Len())
	copy(res, binaryMagic)
	res[len(binaryMagic)] = binaryFormat
	binary.BigEndian.PutUint32(res[len(binaryMagic)+1:], crc32.ChecksumIEEE(payload.Bytes()))
	return append(res, payload.Bytes()...), nil
}

// Decode verifies header and checksum, then decodes gob payload
func (BinaryCodec) Decode(data []byte) (*Blob, error) {
	if len(data) < binaryHeader {
		return nil, fmt.Errorf("%w: truncated, %d bytes", ErrDecode, len(data))
	}
	if string(data[:len(binaryMagic)]) != binaryMagic {
		return nil, fmt.Errorf("%w: bad magic", ErrDecode)
	}
	if f := data[len(binaryMagic)]; f != binaryFormat {
		return nil, fmt.Errorf("%w: unsupported format %d", ErrDecode, f)
	}
	payload := data[binaryHeader:]
	if crc := binary.BigEndian.Uint32(data[len(binaryMagic)+1:]); crc != crc32.ChecksumIEEE(payload) {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrDecode)
	}

	w := wireBlob{}
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	res := NewBlob()
	for _, p := range w.Meta {
		res.Meta[p.Key] = p.Value
	}
	if w.HasEntries {
		res.Entries = make(map[string]*Entry, len(w.Entries))
	}
	for _, e := range w.Entries {
		res.Entries[e.Name] = &Entry{Name: e.Name, Spec: e.Spec, Command: e.Command, Args: e.Args,
			Kwargs: fromPairs(e.Kwargs), Options: fromPairs(e.Options), LastRunAt: e.LastRunAt, TotalRunCount: e.TotalRunCount}
	}
	return res, nil
}

func toPairs(m map[string]string) []wirePair {
	if len(m) == 0 {
		return nil
	}
	res := make([]wirePair, 0, len(m))
	for _, k := range slices.Sorted(maps.Keys(m)) {
		res = append(res, wirePair{Key: k, Value: m[k]})
	}
	return res
}

func fromPairs(pp []wirePair) map[string]string {
	if len(pp) == 0 {
		return nil
	}
	res := make(map[string]string, len(pp))
	for _, p := range pp {
		res[p.Key] = p.Value
	}
	return res
}

const yamlFormat = "beatstore/1"

// YAMLCodec keeps the blob as human-readable yaml document
type YAMLCodec struct{}

type yamlBlob struct {
	Format  string             `yaml:"format"`
	Meta    map[string]string  `yaml:"meta,omitempty"`
	Entries *map[string]*Entry `yaml:"entries,omitempty"`
}

// Encode makes yaml document, keys are sorted by yaml encoder
func (YAMLCodec) Encode(b *Blob) ([]byte, error) {
	y := yamlBlob{Format: yamlFormat, Meta: b.Meta}
	if b.Entries != nil {
		y.Entries = &b.Entries
	}
	res, err := yaml.Marshal(y)
	if err != nil {
		return nil, fmt.Errorf("can't encode schedule: %w", err)
	}
	return res, nil
}

// Decode parses yaml document and rejects anything without the expected format marker
func (YAMLCodec) Decode(data []byte) (*Blob, error) {
	y := yamlBlob{}
	if err := yaml.Unmarshal(data, &y); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if y.Format != yamlFormat {
		return nil, fmt.Errorf("%w: unexpected format %q", ErrDecode, y.Format)
	}
	res := NewBlob()
	for k, v := range y.Meta {
		res.Meta[k] = v
	}
	if y.Entries != nil {
		res.Entries = make(map[string]*Entry, len(*y.Entries))
		for name, e := range *y.Entries {
			if e == nil {
				return nil, fmt.Errorf("%w: empty entry %q", ErrDecode, name)
			}
			res.Entries[name] = e
		}
	}
	return res, nil
}
