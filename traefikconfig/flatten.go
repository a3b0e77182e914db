package traefikconfig

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// FlatEntry is one (pathSegments, scalar) pair produced by Flatten.
type FlatEntry struct {
	Path  []string
	Value string
}

// KeyPath joins the path segments with sep, the convention Traefik's KV
// providers use for nested keys (lists become numeric path components).
func (e FlatEntry) KeyPath(sep string) string {
	return strings.Join(e.Path, sep)
}

// Flatten converts an arbitrary JSON-marshalable document into a flat
// sequence of (path, scalar) pairs. Maps become nested path segments,
// lists become numeric path segments ("0", "1", ...), and scalars are
// coerced to strings the way Traefik's KV providers expect (true/false for
// booleans, decimal for numbers). An empty map anywhere in the document
// emits nothing for that subtree -- this mirrors the original Python
// implementation's behavior, where traefik cannot handle an explicit empty
// map in its KV schema, so one is simply never written.
func Flatten(doc any) ([]FlatEntry, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("traefikconfig: marshal before flatten: %w", err)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("traefikconfig: unmarshal before flatten: %w", err)
	}
	var entries []FlatEntry
	flattenValue(nil, generic, &entries)
	return entries, nil
}

func flattenValue(path []string, v any, out *[]FlatEntry) {
	switch val := v.(type) {
	case map[string]any:
		if len(val) == 0 {
			return
		}
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			flattenValue(appendPath(path, k), val[k], out)
		}
	case []any:
		if len(val) == 0 {
			return
		}
		for i, item := range val {
			flattenValue(appendPath(path, strconv.Itoa(i)), item, out)
		}
	case nil:
		return
	default:
		*out = append(*out, FlatEntry{Path: appendPath(path), Value: scalarToString(val)})
	}
}

func appendPath(path []string, more ...string) []string {
	out := make([]string, 0, len(path)+len(more))
	out = append(out, path...)
	out = append(out, more...)
	return out
}

func scalarToString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return "false"
	case float64:
		if t == math.Trunc(t) && !math.IsInf(t, 0) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// Unflatten reconstructs a generic document tree from a set of flat
// key/value pairs, inverting Flatten (modulo the empty-map asymmetry
// documented above). Keys are split on sep; any node whose children are
// exactly the keys "0".."n-1" is folded into a list.
func Unflatten(kv map[string]string, sep string) map[string]any {
	tree := map[string]any{}
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		parts := strings.Split(key, sep)
		node := tree
		for _, p := range parts[:len(parts)-1] {
			next, ok := node[p]
			if !ok {
				m := map[string]any{}
				node[p] = m
				node = m
				continue
			}
			m, ok := next.(map[string]any)
			if !ok {
				// A scalar was already written at this path; keep it and
				// stop descending rather than corrupt existing data.
				break
			}
			node = m
		}
		node[parts[len(parts)-1]] = kv[key]
	}

	return foldLists(tree).(map[string]any)
}

// foldLists walks a generic tree and replaces any map[string]any whose
// keys are exactly "0".."n-1" with the equivalent []any, recursively.
func foldLists(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	for k, child := range m {
		m[k] = foldLists(child)
	}
	if isIndexMap(m) {
		list := make([]any, len(m))
		for k, child := range m {
			i, _ := strconv.Atoi(k)
			list[i] = child
		}
		return list
	}
	return m
}

func isIndexMap(m map[string]any) bool {
	if len(m) == 0 {
		return false
	}
	for i := 0; i < len(m); i++ {
		if _, ok := m[strconv.Itoa(i)]; !ok {
			return false
		}
	}
	return true
}
