// Package routespec implements the bijection between JupyterHub-style
// route specifications ([host]/path/) and the flat keys used by the
// key-value backends.
package routespec

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jupyterhub/traefik-proxy/apierrors"
)

// Canonicalize normalizes a routespec so that "/x" and "/x/" compare equal:
// it ensures exactly one trailing slash. The root spec "/" is its own
// canonical form. A spec with no path component at all (no "/" anywhere)
// is rejected.
func Canonicalize(spec string) (string, error) {
	if spec == "" {
		return "", apierrors.InvalidRouteSpecf("empty routespec")
	}
	if spec == "/" {
		return "/", nil
	}
	if !strings.Contains(spec, "/") {
		return "", apierrors.InvalidRouteSpecf("routespec %q has no path component", spec)
	}
	if !strings.HasSuffix(spec, "/") {
		spec += "/"
	}
	return spec, nil
}

// IsPathOnly reports whether a canonical spec is host-less, i.e. it is a
// pure path prefix route ("/foo/") rather than a host-scoped one
// ("host.tld/foo/").
func IsPathOnly(canonical string) bool {
	return strings.HasPrefix(canonical, "/")
}

// Split breaks a canonical spec into its host (empty for path-only routes)
// and path (always starting with "/") components.
func Split(canonical string) (host, path string) {
	if IsPathOnly(canonical) {
		return "", canonical
	}
	idx := strings.IndexByte(canonical, '/')
	return canonical[:idx], canonical[idx:]
}

// unreserved reports whether b can be left unescaped in an encoded key.
func unreserved(b byte) bool {
	switch {
	case b >= 'a' && b <= 'z':
		return true
	case b >= 'A' && b <= 'Z':
		return true
	case b >= '0' && b <= '9':
		return true
	case b == '.' || b == '_' || b == '-':
		return true
	default:
		return false
	}
}

// Encode percent-encodes every byte outside [A-Za-z0-9._-] (including '/',
// which is structural in etcd/Consul keys) so that a canonical routespec
// can be used as a single flat KV key segment. Encoding is case-preserving
// and injective: Decode(Encode(s)) == s for every canonical s.
func Encode(canonical string) string {
	var b strings.Builder
	b.Grow(len(canonical))
	for i := 0; i < len(canonical); i++ {
		c := canonical[i]
		if unreserved(c) {
			b.WriteByte(c)
		} else {
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}

// Decode inverts Encode.
func Decode(encoded string) (string, error) {
	var b strings.Builder
	b.Grow(len(encoded))
	for i := 0; i < len(encoded); i++ {
		c := encoded[i]
		if c != '%' {
			b.WriteByte(c)
			continue
		}
		if i+2 >= len(encoded) {
			return "", fmt.Errorf("routespec: truncated escape in %q", encoded)
		}
		v, err := strconv.ParseUint(encoded[i+1:i+3], 16, 8)
		if err != nil {
			return "", fmt.Errorf("routespec: invalid escape %q: %w", encoded[i:i+3], err)
		}
		b.WriteByte(byte(v))
		i += 2
	}
	return b.String(), nil
}

// KeyPath joins a backend key prefix with the encoded form of a canonical
// routespec using the single literal '/' separator required between the
// fixed prefix and the escaped payload.
func KeyPath(prefix, canonical string) string {
	return prefix + "/" + Encode(canonical)
}

// DecodeKeyPath inverts KeyPath, returning the canonical routespec that
// produced a key under prefix. It returns false if key is not under prefix.
func DecodeKeyPath(prefix, key string) (string, bool, error) {
	want := prefix + "/"
	if !strings.HasPrefix(key, want) {
		return "", false, nil
	}
	spec, err := Decode(strings.TrimPrefix(key, want))
	if err != nil {
		return "", false, err
	}
	return spec, true, nil
}
