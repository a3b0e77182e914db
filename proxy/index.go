package proxy

import (
	"encoding/json"
	"fmt"

	"github.com/jupyterhub/traefik-proxy/routespec"
)

// Entry is one JupyterHub index entry: the source of truth behind
// get_route/get_all_routes. Data is stored as a single opaque JSON blob
// rather than flattened field-by-field, so that caller-supplied values
// round-trip byte-for-byte regardless of type (flattening coerces every
// scalar to a string, which would lose booleans/numbers on the way back).
type Entry struct {
	RouteSpec string
	Target    string
	Data      map[string]any
}

const (
	indexTargetField = "target"
	indexDataField   = "data"
)

// renderIndex computes the index-subtree keys to set for one route.
func renderIndex(prefix, canonical, target string, data map[string]any) (map[string]string, error) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("proxy: marshal route data: %w", err)
	}
	base := routespec.KeyPath(prefix, canonical)
	return map[string]string{
		base + "/" + indexTargetField: target,
		base + "/" + indexDataField:   string(dataJSON),
	}, nil
}

// indexKeyPrefix returns the key-path prefix (trailing slash) owned by one
// route's index entry, for use with AtomicDelete's recursive-delete form.
func indexKeyPrefix(prefix, canonical string) string {
	return routespec.KeyPath(prefix, canonical) + "/"
}

// decodeIndex reconstructs every Entry found in a GetTree snapshot of the
// index subtree.
func decodeIndex(prefix string, tree map[string]string) (map[string]Entry, error) {
	byRoute := map[string]map[string]string{}
	for key, value := range tree {
		canonical, ok, err := splitIndexKey(prefix, key)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		fields, ok := byRoute[canonical]
		if !ok {
			fields = map[string]string{}
			byRoute[canonical] = fields
		}
		fields[lastSegment(key)] = value
	}

	out := make(map[string]Entry, len(byRoute))
	for canonical, fields := range byRoute {
		var data map[string]any
		if raw, ok := fields[indexDataField]; ok && raw != "" {
			if err := json.Unmarshal([]byte(raw), &data); err != nil {
				return nil, fmt.Errorf("proxy: decode data for %q: %w", canonical, err)
			}
		}
		out[canonical] = Entry{
			RouteSpec: canonical,
			Target:    fields[indexTargetField],
			Data:      data,
		}
	}
	return out, nil
}

// splitIndexKey recovers the canonical routespec that a flat index key
// belongs to, stripping the trailing field name ("target" or "data").
func splitIndexKey(prefix, key string) (string, bool, error) {
	want := prefix + "/"
	if len(key) <= len(want) {
		return "", false, nil
	}
	rest := key[len(want):]
	idx := lastSlash(rest)
	if idx < 0 {
		return "", false, nil
	}
	canonical, err := routespec.Decode(rest[:idx])
	if err != nil {
		return "", false, err
	}
	return canonical, true, nil
}

func lastSlash(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '/' {
			return i
		}
	}
	return -1
}

func lastSegment(key string) string {
	idx := lastSlash(key)
	if idx < 0 {
		return key
	}
	return key[idx+1:]
}
