// Package memory is an in-process docstore backend used by tests, the CLI
// dry-run mode, and local development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ignite/recruit-cdp/internal/docstore"
)

// Store keeps documents as generic JSON maps in insertion order.
// It is safe for concurrent use.
type Store struct {
	mu    sync.RWMutex
	docs  map[string]map[string]any
	order []string
}

// New creates an empty store.
func New() *Store {
	return &Store{docs: make(map[string]map[string]any)}
}

var _ docstore.Store = (*Store)(nil)

// Create implements docstore.Store.
func (s *Store) Create(_ context.Context, doc any) error {
	m, err := docstore.ToMap(doc)
	if err != nil {
		return err
	}
	id, _, err := docstore.Identity(m)
	if err != nil {
		return err
	}
	// Detach from the caller's map.
	m, err = copyDoc(m)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.docs[id]; exists {
		return fmt.Errorf("create %s: %w", id, docstore.ErrConflict)
	}
	s.docs[id] = m
	s.order = append(s.order, id)
	return nil
}

// Get implements docstore.Store.
func (s *Store) Get(_ context.Context, id string, dst any) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	if !ok {
		return docstore.ErrNotFound
	}
	return docstore.Decode(doc, dst)
}

// Fetch implements docstore.Store.
func (s *Store) Fetch(_ context.Context, q docstore.Query, dst any) error {
	s.mu.RLock()
	var matched []map[string]any
	for _, id := range s.order {
		doc := s.docs[id]
		if !typeMatches(doc, q.Types) || !docstore.Match(doc, q.Filters) {
			continue
		}
		matched = append(matched, doc)
	}

	if q.OrderBy != "" {
		sort.SliceStable(matched, func(i, j int) bool {
			if q.Descending {
				return docstore.Less(matched[j], matched[i], q.OrderBy)
			}
			return docstore.Less(matched[i], matched[j], q.OrderBy)
		})
	}
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	if matched == nil {
		matched = []map[string]any{}
	}
	err := docstore.Decode(matched, dst)
	s.mu.RUnlock()
	return err
}

// Apply implements docstore.Store. All operations of one patch are applied
// under a single write lock, so increments never lose updates.
func (s *Store) Apply(_ context.Context, p *docstore.Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[p.ID]
	if !ok {
		return docstore.ErrNotFound
	}
	for _, op := range p.Ops {
		parts := strings.Split(op.Path, ".")
		switch op.Kind {
		case docstore.PatchSet:
			v, err := docstore.Normalize(op.Value)
			if err != nil {
				return fmt.Errorf("set %s: %w", op.Path, err)
			}
			parent := ensureParent(doc, parts)
			parent[parts[len(parts)-1]] = v
		case docstore.PatchInc:
			parent := ensureParent(doc, parts)
			cur, _ := parent[parts[len(parts)-1]].(float64)
			parent[parts[len(parts)-1]] = cur + float64(op.Delta)
		case docstore.PatchUnset:
			if parent := findParent(doc, parts); parent != nil {
				delete(parent, parts[len(parts)-1])
			}
		default:
			return fmt.Errorf("unknown patch op %q", op.Kind)
		}
	}
	return nil
}

// Len returns the number of stored documents.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

func typeMatches(doc map[string]any, types []string) bool {
	if len(types) == 0 {
		return true
	}
	t, _ := doc["_type"].(string)
	for _, want := range types {
		if t == want {
			return true
		}
	}
	return false
}

func ensureParent(doc map[string]any, parts []string) map[string]any {
	cur := doc
	for _, part := range parts[:len(parts)-1] {
		next, ok := cur[part].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cur[part] = next
		}
		cur = next
	}
	return cur
}

func findParent(doc map[string]any, parts []string) map[string]any {
	cur := doc
	for _, part := range parts[:len(parts)-1] {
		next, ok := cur[part].(map[string]any)
		if !ok {
			return nil
		}
		cur = next
	}
	return cur
}

func copyDoc(m map[string]any) (map[string]any, error) {
	v, err := docstore.Normalize(m)
	if err != nil {
		return nil, err
	}
	out, _ := v.(map[string]any)
	return out, nil
}
