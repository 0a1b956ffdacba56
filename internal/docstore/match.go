package docstore

import (
	"fmt"
	"reflect"
	"strings"
)

// Lookup resolves a dotted path within a generic document.
func Lookup(doc map[string]any, path string) (any, bool) {
	var cur any = doc
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, cur != nil
}

// Match evaluates filters against a generic document in memory. Backends
// that cannot push a filter down use this as the reference semantics.
func Match(doc map[string]any, filters []Filter) bool {
	for _, f := range filters {
		if !matchOne(doc, f) {
			return false
		}
	}
	return true
}

func matchOne(doc map[string]any, f Filter) bool {
	switch f.Op {
	case OpEq:
		v, ok := Lookup(doc, f.Path)
		if !ok {
			return f.Value == nil
		}
		want, err := Normalize(f.Value)
		if err != nil {
			return false
		}
		return reflect.DeepEqual(v, want)
	case OpEqFold:
		v, ok := Lookup(doc, f.Path)
		if !ok {
			return false
		}
		s, isStr := v.(string)
		return isStr && strings.EqualFold(s, fmt.Sprint(f.Value))
	case OpReferences:
		id, _ := f.Value.(string)
		return containsRef(doc, id)
	case OpDefined:
		_, ok := Lookup(doc, f.Path)
		return ok
	}
	return false
}

func containsRef(v any, id string) bool {
	switch t := v.(type) {
	case map[string]any:
		if ref, ok := t["_ref"].(string); ok && ref == id {
			return true
		}
		for _, child := range t {
			if containsRef(child, id) {
				return true
			}
		}
	case []any:
		for _, child := range t {
			if containsRef(child, id) {
				return true
			}
		}
	}
	return false
}

// Less orders two documents by the value at path. Missing values sort first.
func Less(a, b map[string]any, path string) bool {
	av, aok := Lookup(a, path)
	bv, bok := Lookup(b, path)
	if !aok || !bok {
		return !aok && bok
	}
	af, aNum := av.(float64)
	bf, bNum := bv.(float64)
	if aNum && bNum {
		return af < bf
	}
	return fmt.Sprint(av) < fmt.Sprint(bv)
}
