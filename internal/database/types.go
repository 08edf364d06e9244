package database

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned by Get when the document does not exist.
var ErrNotFound = errors.New("document not found")

// Document is a keyed JSON document inside a collection.
type Document struct {
	Key       string
	Data      map[string]any
	UpdatedAt time.Time
}

// Decode converts the document data into the target struct via its JSON tags.
func (d Document) Decode(target any) error {
	raw, err := json.Marshal(d.Data)
	if err != nil {
		return fmt.Errorf("encoding document %s: %w", d.Key, err)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("decoding document %s: %w", d.Key, err)
	}
	return nil
}

// Snapshot is the full content of a collection at one point in time.
type Snapshot struct {
	Collection string
	Documents  []Document
	TakenAt    time.Time
}

// Find returns the document with the given key, or nil.
func (s Snapshot) Find(key string) *Document {
	for i := range s.Documents {
		if s.Documents[i].Key == key {
			return &s.Documents[i]
		}
	}
	return nil
}

// OpKind distinguishes set and delete operations of a patch.
type OpKind int

const (
	// OpSet writes a value at a field path, creating intermediate objects.
	OpSet OpKind = iota
	// OpDelete removes the field at a path. It never writes null.
	OpDelete
)

func (k OpKind) String() string {
	if k == OpDelete {
		return "delete"
	}
	return "set"
}

// Op is a single field-scoped operation. Path uses dotted notation,
// e.g. "records.<personId>.exitTime".
type Op struct {
	Kind  OpKind
	Path  string
	Value any
}

// Patch is an ordered list of field-scoped operations applied by Store.Merge.
// A patch never replaces a whole document.
type Patch struct {
	Ops []Op
}

// NewPatch returns an empty patch.
func NewPatch() Patch {
	return Patch{}
}

// Set appends a set operation.
func (p Patch) Set(path string, value any) Patch {
	p.Ops = append(append([]Op(nil), p.Ops...), Op{Kind: OpSet, Path: path, Value: value})
	return p
}

// Delete appends a field deletion.
func (p Patch) Delete(path string) Patch {
	p.Ops = append(append([]Op(nil), p.Ops...), Op{Kind: OpDelete, Path: path})
	return p
}

// IsEmpty reports whether the patch would not touch the document.
func (p Patch) IsEmpty() bool {
	return len(p.Ops) == 0
}

// OnlyDeletes reports whether every operation is a deletion.
// Stores must not create a missing document for such a patch.
func (p Patch) OnlyDeletes() bool {
	for _, op := range p.Ops {
		if op.Kind != OpDelete {
			return false
		}
	}
	return true
}

// Paths returns the field paths touched by the patch, in order.
func (p Patch) Paths() []string {
	paths := make([]string, len(p.Ops))
	for i, op := range p.Ops {
		paths[i] = op.Path
	}
	return paths
}

func (p Patch) String() string {
	parts := make([]string, len(p.Ops))
	for i, op := range p.Ops {
		parts[i] = op.Kind.String() + " " + op.Path
	}
	return strings.Join(parts, ", ")
}

// ValidateKey rejects keys that would break dotted field paths.
func ValidateKey(key string) error {
	if key == "" {
		return errors.New("empty key")
	}
	if strings.ContainsAny(key, "./") {
		return fmt.Errorf("invalid key %q: must not contain '.' or '/'", key)
	}
	return nil
}
