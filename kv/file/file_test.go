package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestFormatFromPath(t *testing.T) {
	tests := []struct {
		path string
		want Format
	}{
		{path: "rules.toml", want: FormatTOML},
		{path: "rules.yaml", want: FormatYAML},
		{path: "rules.yml", want: FormatYAML},
		{path: "rules", want: FormatTOML},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatFromPath(tt.path))
		})
	}
}

func TestAtomicSetGetTreePersistsAcrossReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.toml")

	b, err := New(path, zap.NewNop())
	require.NoError(t, err)

	ctx := context.Background()
	err = b.AtomicSet(ctx, map[string]string{
		"http/routers/r1/rule":    "PathPrefix(`/a`)",
		"http/routers/r1/service": "r1",
	})
	require.NoError(t, err)

	_, err = os.Stat(path)
	require.NoError(t, err)

	reloaded, err := New(path, zap.NewNop())
	require.NoError(t, err)

	tree, err := reloaded.GetTree(ctx, "http/routers")
	require.NoError(t, err)
	assert.Equal(t, "PathPrefix(`/a`)", tree["http/routers/r1/rule"])
	assert.Equal(t, "r1", tree["http/routers/r1/service"])
}

func TestAtomicDeletePrefix(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.toml")
	b, err := New(path, zap.NewNop())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, b.AtomicSet(ctx, map[string]string{
		"http/routers/r1/rule":     "PathPrefix(`/a`)",
		"http/routers/r2/rule":     "PathPrefix(`/b`)",
		"http/services/r1/service": "x",
	}))

	require.NoError(t, b.AtomicDelete(ctx, []string{"http/routers/r1/"}))

	tree, err := b.GetTree(ctx, "")
	require.NoError(t, err)
	_, stillThere := tree["http/routers/r2/rule"]
	assert.True(t, stillThere)
	_, gone := tree["http/routers/r1/rule"]
	assert.False(t, gone)
	_, untouched := tree["http/services/r1/service"]
	assert.True(t, untouched)
}

func TestAtomicDeleteExactKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.toml")
	b, err := New(path, zap.NewNop())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, b.AtomicSet(ctx, map[string]string{"a/b": "1", "a/c": "2"}))
	require.NoError(t, b.AtomicDelete(ctx, []string{"a/b"}))

	tree, err := b.GetTree(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a/c": "2"}, tree)
}

func TestYAMLFormat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	b, err := New(path, zap.NewNop())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, b.AtomicSet(ctx, map[string]string{"http/routers/r1/rule": "PathPrefix(`/a`)"}))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "rule:")
}

func TestNewOnMissingFileStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "does-not-exist.toml")

	b, err := New(path, zap.NewNop())
	require.NoError(t, err)

	tree, err := b.GetTree(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, tree)
}
