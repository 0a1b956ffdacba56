// Package docstore is a small generic document database contract: typed
// fetch by filter, get by id, create, and partial patches with atomic
// increments. Backends live in the memory, postgres and sanity
// subpackages.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Sentinel errors shared by all backends.
var (
	ErrNotFound  = errors.New("document not found")
	ErrConflict  = errors.New("document already exists")
	ErrMissingID = errors.New("document has no _id or _type")
)

// Store is implemented by every backend. Documents are JSON objects that
// carry their own `_id` and `_type`.
type Store interface {
	// Fetch decodes all documents matching q into dst (a pointer to a slice).
	Fetch(ctx context.Context, q Query, dst any) error
	// Get decodes one document into dst. Returns ErrNotFound if missing.
	Get(ctx context.Context, id string, dst any) error
	// Create inserts a new document. Returns ErrConflict if the id is taken.
	Create(ctx context.Context, doc any) error
	// Apply commits a patch. Returns ErrNotFound if the target is missing.
	Apply(ctx context.Context, p *Patch) error
}

// =============================================================================
// QUERIES
// =============================================================================

// FilterOp is a predicate kind understood by every backend.
type FilterOp string

const (
	OpEq         FilterOp = "eq"
	OpEqFold     FilterOp = "eqFold"
	OpReferences FilterOp = "references"
	OpDefined    FilterOp = "defined"
)

// Filter is one predicate over a dotted JSON path.
type Filter struct {
	Op    FilterOp
	Path  string
	Value any
}

// Eq matches documents whose value at path equals v.
func Eq(path string, v any) Filter { return Filter{Op: OpEq, Path: path, Value: v} }

// EqFold matches a string value at path case-insensitively.
func EqFold(path, v string) Filter { return Filter{Op: OpEqFold, Path: path, Value: v} }

// References matches documents holding a `_ref` to id anywhere in the body.
func References(id string) Filter { return Filter{Op: OpReferences, Value: id} }

// Defined matches documents with a non-null value at path.
func Defined(path string) Filter { return Filter{Op: OpDefined, Path: path} }

// Query selects documents of one or more types.
type Query struct {
	Types      []string
	Filters    []Filter
	OrderBy    string
	Descending bool
	Limit      int
}

// OfType starts a query over the given document types.
func OfType(types ...string) Query {
	return Query{Types: types}
}

// Where returns a copy of q with extra filters.
func (q Query) Where(f ...Filter) Query {
	q.Filters = append(append([]Filter(nil), q.Filters...), f...)
	return q
}

// Order returns a copy of q sorted by path.
func (q Query) Order(path string, desc bool) Query {
	q.OrderBy = path
	q.Descending = desc
	return q
}

// First returns a copy of q limited to n documents.
func (q Query) First(n int) Query {
	q.Limit = n
	return q
}

// =============================================================================
// PATCHES
// =============================================================================

// PatchKind is the kind of a single patch operation.
type PatchKind string

const (
	PatchSet   PatchKind = "set"
	PatchInc   PatchKind = "inc"
	PatchUnset PatchKind = "unset"
)

// PatchOp is a single mutation of a dotted path.
type PatchOp struct {
	Kind  PatchKind
	Path  string
	Value any
	Delta int
}

// Patch accumulates mutations against one document until Commit.
type Patch struct {
	store Store
	ID    string
	Ops   []PatchOp
}

// Edit starts a patch of document id on s.
func Edit(s Store, id string) *Patch {
	return &Patch{store: s, ID: id}
}

// Set overwrites the value at path.
func (p *Patch) Set(path string, v any) *Patch {
	p.Ops = append(p.Ops, PatchOp{Kind: PatchSet, Path: path, Value: v})
	return p
}

// Inc atomically adds n to the number at path (missing counts as zero).
func (p *Patch) Inc(path string, n int) *Patch {
	p.Ops = append(p.Ops, PatchOp{Kind: PatchInc, Path: path, Delta: n})
	return p
}

// Unset removes path.
func (p *Patch) Unset(path string) *Patch {
	p.Ops = append(p.Ops, PatchOp{Kind: PatchUnset, Path: path})
	return p
}

// Commit applies the accumulated operations. An empty patch is a no-op.
func (p *Patch) Commit(ctx context.Context) error {
	if len(p.Ops) == 0 {
		return nil
	}
	if err := p.store.Apply(ctx, p); err != nil {
		return fmt.Errorf("patch %s: %w", p.ID, err)
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

// ToMap converts a document to its generic JSON form.
func ToMap(doc any) (map[string]any, error) {
	if m, ok := doc.(map[string]any); ok {
		return m, nil
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("document is not an object: %w", err)
	}
	return m, nil
}

// Identity returns the `_id` and `_type` of a generic document.
func Identity(m map[string]any) (id, docType string, err error) {
	id, _ = m["_id"].(string)
	docType, _ = m["_type"].(string)
	if id == "" || docType == "" {
		return "", "", ErrMissingID
	}
	return id, docType, nil
}

// Normalize round-trips v through JSON so typed values compare equal to
// decoded document values.
func Normalize(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Decode converts a generic value into dst.
func Decode(v any, dst any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}
