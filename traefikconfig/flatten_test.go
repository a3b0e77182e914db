package traefikconfig

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Flatten coerces every scalar to its string form (the same convention
// Traefik's own KV providers use), so a flatten/unflatten round trip is
// compared against the string-coerced shape, not the original typed one.
func TestFlattenUnflattenRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		doc  map[string]any
		want map[string]any
	}{
		{
			name: "nested maps and scalars",
			doc: map[string]any{
				"http": map[string]any{
					"routers": map[string]any{
						"r1": map[string]any{
							"rule":     "PathPrefix(`/a`)",
							"priority": float64(3),
						},
					},
				},
			},
			want: map[string]any{
				"http": map[string]any{
					"routers": map[string]any{
						"r1": map[string]any{
							"rule":     "PathPrefix(`/a`)",
							"priority": "3",
						},
					},
				},
			},
		},
		{
			name: "list of servers",
			doc: map[string]any{
				"http": map[string]any{
					"services": map[string]any{
						"s1": map[string]any{
							"loadBalancer": map[string]any{
								"servers": []any{
									map[string]any{"url": "http://a"},
									map[string]any{"url": "http://b"},
								},
							},
						},
					},
				},
			},
			want: map[string]any{
				"http": map[string]any{
					"services": map[string]any{
						"s1": map[string]any{
							"loadBalancer": map[string]any{
								"servers": []any{
									map[string]any{"url": "http://a"},
									map[string]any{"url": "http://b"},
								},
							},
						},
					},
				},
			},
		},
		{
			name: "boolean and string scalars",
			doc: map[string]any{
				"api": map[string]any{
					"insecure":  false,
					"dashboard": true,
					"name":      "x",
				},
			},
			want: map[string]any{
				"api": map[string]any{
					"insecure":  "false",
					"dashboard": "true",
					"name":      "x",
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, err := Flatten(tt.doc)
			require.NoError(t, err)

			flat := make(map[string]string, len(entries))
			for _, e := range entries {
				flat[e.KeyPath("/")] = e.Value
			}

			got := Unflatten(flat, "/")
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFlattenEmptyMapEmitsNothing(t *testing.T) {
	doc := map[string]any{
		"http": map[string]any{
			"middlewares": map[string]any{},
			"routers": map[string]any{
				"r1": map[string]any{"rule": "PathPrefix(`/a`)"},
			},
		},
	}
	entries, err := Flatten(doc)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.KeyPath("/"), "middlewares")
	}
}

func TestScalarToString(t *testing.T) {
	assert.Equal(t, "true", scalarToString(true))
	assert.Equal(t, "false", scalarToString(false))
	assert.Equal(t, "3", scalarToString(float64(3)))
	assert.Equal(t, "3.5", scalarToString(float64(3.5)))
	assert.Equal(t, "hello", scalarToString("hello"))
}
