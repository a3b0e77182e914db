package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jupyterhub/traefik-proxy/adminapi"
	"github.com/jupyterhub/traefik-proxy/apierrors"
	"github.com/jupyterhub/traefik-proxy/config"
	"github.com/jupyterhub/traefik-proxy/kv/file"
	"github.com/jupyterhub/traefik-proxy/routespec"
	"github.com/jupyterhub/traefik-proxy/supervisor"
	"github.com/jupyterhub/traefik-proxy/traefikconfig"
)

// fakeTraefik stands in for a live Traefik admin API: tests pre-arm it with
// the router state AddRoute/DeleteRoute should observe once convergence
// polling starts, so WaitForRoute resolves on its first poll.
type fakeTraefik struct {
	mu      sync.Mutex
	enabled map[string]bool
}

func newFakeTraefik() *fakeTraefik {
	return &fakeTraefik{enabled: map[string]bool{}}
}

func (f *fakeTraefik) setEnabled(routerName string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enabled[routerName] = true
}

func (f *fakeTraefik) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	type row struct {
		Name   string `json:"name"`
		Rule   string `json:"rule"`
		Status string `json:"status"`
	}
	var list []row
	for name := range f.enabled {
		list = append(list, row{Name: name, Rule: "x", Status: "enabled"})
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(list)
}

// testProxy wires a Proxy against a real file-backed kv.Backend and a fake
// Traefik admin server, with the child-process supervisor disabled so no
// real Traefik binary is required.
func testProxy(t *testing.T) (*Proxy, *fakeTraefik) {
	t.Helper()

	dir := t.TempDir()
	log := zap.NewNop()

	backend, err := file.New(filepath.Join(dir, "rules.toml"), log)
	require.NoError(t, err)

	traefik := newFakeTraefik()
	server := httptest.NewServer(traefik)
	t.Cleanup(server.Close)

	cfg := &config.Config{
		KVJupyterHubPrefix: "jupyterhub",
		KVTraefikPrefix:    "traefik",
		ShouldStart:        false,
		CheckRouteTimeout:  2 * time.Second,
	}

	admin := adminapi.New(adminapi.Config{BaseURL: server.URL, ValidateCert: false})
	super := supervisor.New(cfg, admin, log)
	builder := traefikconfig.NewBuilder(traefikconfig.Options{EntryPoint: "http"})

	p := New(cfg, backend, builder, admin, super, nil, "admin", "", log)
	require.NoError(t, p.Start(context.Background()))
	t.Cleanup(func() { p.Stop(context.Background()) })

	return p, traefik
}

func TestAddRouteThenGetRoute(t *testing.T) {
	p, traefik := testProxy(t)
	ctx := context.Background()

	canonical, err := routespec.Canonicalize("/user/alice/")
	require.NoError(t, err)
	traefik.setEnabled(traefikconfig.RouterName(canonical))

	require.NoError(t, p.AddRoute(ctx, "/user/alice/", "http://10.0.0.1:8888", map[string]any{"username": "alice"}))

	entry, err := p.GetRoute(ctx, "/user/alice/")
	require.NoError(t, err)
	assert.Equal(t, canonical, entry.RouteSpec)
	assert.Equal(t, "http://10.0.0.1:8888", entry.Target)
	assert.Equal(t, "alice", entry.Data["username"])
}

func TestAddRoutePathEquivalenceWithAndWithoutTrailingSlash(t *testing.T) {
	p, traefik := testProxy(t)
	ctx := context.Background()

	canonical, err := routespec.Canonicalize("/user/bob/")
	require.NoError(t, err)
	traefik.setEnabled(traefikconfig.RouterName(canonical))

	require.NoError(t, p.AddRoute(ctx, "/user/bob", "http://10.0.0.1:9999", nil))

	entry, err := p.GetRoute(ctx, "/user/bob/")
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.1:9999", entry.Target)
}

func TestDeleteRouteThenNotFound(t *testing.T) {
	p, traefik := testProxy(t)
	ctx := context.Background()

	canonical, err := routespec.Canonicalize("/user/carol/")
	require.NoError(t, err)
	traefik.setEnabled(traefikconfig.RouterName(canonical))

	require.NoError(t, p.AddRoute(ctx, "/user/carol/", "http://10.0.0.1:7777", nil))

	// The fake never reports this router as absent once enabled, and
	// DeleteRoute waits for the same router to disappear (wantPresent=false)
	// -- clear it first so the wait resolves immediately.
	traefik.mu.Lock()
	delete(traefik.enabled, traefikconfig.RouterName(canonical))
	traefik.mu.Unlock()

	require.NoError(t, p.DeleteRoute(ctx, "/user/carol/"))

	_, err = p.GetRoute(ctx, "/user/carol/")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apierrors.ErrNotFound))
}

func TestDeleteRouteThatNeverExistedIsNoop(t *testing.T) {
	p, _ := testProxy(t)
	ctx := context.Background()

	require.NoError(t, p.DeleteRoute(ctx, "/user/never-added/"))
}

func TestGetAllRoutesSnapshot(t *testing.T) {
	p, traefik := testProxy(t)
	ctx := context.Background()

	for _, spec := range []string{"/user/alice/", "/user/bob/"} {
		canonical, err := routespec.Canonicalize(spec)
		require.NoError(t, err)
		traefik.setEnabled(traefikconfig.RouterName(canonical))
		require.NoError(t, p.AddRoute(ctx, spec, "http://target"+spec, nil))
	}

	all, err := p.GetAllRoutes(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	// Mutating the returned snapshot must not affect the controller's cache.
	delete(all, "/user/alice/")
	all2, err := p.GetAllRoutes(ctx)
	require.NoError(t, err)
	assert.Len(t, all2, 2)
}

func TestAddRouteRejectedBeforeStart(t *testing.T) {
	dir := t.TempDir()
	log := zap.NewNop()
	backend, err := file.New(filepath.Join(dir, "rules.toml"), log)
	require.NoError(t, err)

	cfg := &config.Config{KVJupyterHubPrefix: "jupyterhub", KVTraefikPrefix: "traefik", ShouldStart: false}
	admin := adminapi.New(adminapi.Config{BaseURL: "http://127.0.0.1:0"})
	super := supervisor.New(cfg, admin, log)
	builder := traefikconfig.NewBuilder(traefikconfig.Options{EntryPoint: "http"})

	p := New(cfg, backend, builder, admin, super, nil, "admin", "", log)

	err = p.AddRoute(context.Background(), "/user/alice/", "http://x", nil)
	require.Error(t, err)
}

func TestAddRouteInvalidSpecIsRejected(t *testing.T) {
	p, _ := testProxy(t)
	err := p.AddRoute(context.Background(), "no-slash-at-all", "http://x", nil)
	require.Error(t, err)
	kind, ok := apierrors.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, apierrors.KindInvalidRouteSpec, kind)
}
