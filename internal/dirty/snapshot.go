// Package dirty tracks unsaved configuration edits. It computes the set of
// changed logical sections from a "last saved" snapshot and the "current"
// snapshot of the configuration document, driving both the save-button
// affordance and the navigation guard.
package dirty

import (
	"reflect"
	"sort"

	"gopkg.in/yaml.v3"

	"simdeck/internal/core"
)

// Snapshot is the configuration document as an ordered mapping of section
// name to field values. Snapshots are taken at load/save time ("saved") and
// continuously from form state ("current"); they are replaced wholesale,
// never mutated in place.
type Snapshot map[string]map[string]interface{}

// ParseDocument decodes a YAML configuration document into a snapshot.
// Top-level keys are section names; anything that is not a mapping at the
// top level is rejected.
func ParseDocument(data []byte) (Snapshot, error) {
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, core.ErrValidation(core.CodeInvalidConfig, "configuration document is not valid YAML").WithCause(err)
	}

	snap := make(Snapshot, len(raw))
	for section, v := range raw {
		fields, ok := v.(map[string]interface{})
		if !ok {
			return nil, core.ErrValidation(core.CodeInvalidConfig,
				"section "+section+" is not a mapping")
		}
		snap[section] = fields
	}
	return snap, nil
}

// MarshalDocument encodes a snapshot back to YAML.
func MarshalDocument(snap Snapshot) ([]byte, error) {
	return yaml.Marshal(map[string]map[string]interface{}(snap))
}

// Clone returns a structurally independent copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	if s == nil {
		return nil
	}
	cp := make(Snapshot, len(s))
	for section, fields := range s {
		cp[section] = cloneValue(fields).(map[string]interface{})
	}
	return cp
}

func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		m := make(map[string]interface{}, len(t))
		for k, val := range t {
			m[k] = cloneValue(val)
		}
		return m
	case []interface{}:
		l := make([]interface{}, len(t))
		for i, val := range t {
			l[i] = cloneValue(val)
		}
		return l
	default:
		return t
	}
}

// Diff returns the sorted names of sections whose saved and current values
// differ structurally. The comparison is deep, deterministic, and
// independent of map insertion order; Diff(s, s) is always empty. A section
// present on only one side is dirty.
func Diff(saved, current Snapshot) []string {
	dirty := make(map[string]struct{})

	for section, savedFields := range saved {
		currentFields, ok := current[section]
		if !ok || !valueEqual(savedFields, currentFields) {
			dirty[section] = struct{}{}
		}
	}
	for section := range current {
		if _, ok := saved[section]; !ok {
			dirty[section] = struct{}{}
		}
	}

	out := make([]string, 0, len(dirty))
	for section := range dirty {
		out = append(out, section)
	}
	sort.Strings(out)
	return out
}

// valueEqual compares two decoded document values structurally. Numbers are
// compared by value so an int 5 and a float 5.0 from different decode paths
// are equal.
func valueEqual(a, b interface{}) bool {
	if na, ok := asFloat(a); ok {
		nb, ok := asFloat(b)
		return ok && na == nb
	}

	switch ta := a.(type) {
	case map[string]interface{}:
		tb, ok := b.(map[string]interface{})
		if !ok || len(ta) != len(tb) {
			return false
		}
		for k, va := range ta {
			vb, ok := tb[k]
			if !ok || !valueEqual(va, vb) {
				return false
			}
		}
		return true
	case []interface{}:
		tb, ok := b.([]interface{})
		if !ok || len(ta) != len(tb) {
			return false
		}
		for i := range ta {
			if !valueEqual(ta[i], tb[i]) {
				return false
			}
		}
		return true
	default:
		return reflect.DeepEqual(a, b)
	}
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	default:
		return 0, false
	}
}
