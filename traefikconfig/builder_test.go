package traefikconfig

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jupyterhub/traefik-proxy/routespec"
)

func canon(t *testing.T, spec string) string {
	t.Helper()
	c, err := routespec.Canonicalize(spec)
	require.NoError(t, err)
	return c
}

func TestRule(t *testing.T) {
	tests := []struct {
		name     string
		spec     string
		expected string
	}{
		{name: "default route", spec: "/", expected: "PathPrefix(`/`)"},
		{name: "path only", spec: "/user/alice/", expected: "PathPrefix(`/user/alice`)"},
		{name: "host only, root path", spec: "hub.example.com/", expected: "Host(`hub.example.com`)"},
		{name: "host and path", spec: "hub.example.com/lab/", expected: "Host(`hub.example.com`) && PathPrefix(`/lab`)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Rule(canon(t, tt.spec)))
		})
	}
}

func TestPriorityOrdering(t *testing.T) {
	root := Priority(canon(t, "/"))
	shallow := Priority(canon(t, "/a/"))
	deep := Priority(canon(t, "/a/b/"))

	assert.Equal(t, 1, root)
	assert.Less(t, root, shallow)
	assert.Less(t, shallow, deep)
}

func TestHasMiddleware(t *testing.T) {
	assert.False(t, HasMiddleware(canon(t, "/")))
	assert.False(t, HasMiddleware(canon(t, "hub.example.com/")))
	assert.True(t, HasMiddleware(canon(t, "/user/alice/")))
	assert.True(t, HasMiddleware(canon(t, "hub.example.com/lab/")))
}

func TestRouterNameRoundTrip(t *testing.T) {
	c := canon(t, "/user/alice/")
	name := RouterName(c)

	got, ok, err := CanonicalFromRouterName(name)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, c, got)
}

func TestRenderAddBasicRoute(t *testing.T) {
	b := NewBuilder(Options{EntryPoint: "http"})
	c := canon(t, "/user/alice/")

	set, del := b.RenderAdd(c, "http://10.0.0.1:8888")

	name := RouterName(c)
	assert.Equal(t, "PathPrefix(`/user/alice`)", set["http/routers/"+name+"/rule"])
	assert.Equal(t, name, set["http/routers/"+name+"/service"])
	assert.Equal(t, "http", set["http/routers/"+name+"/entryPoints/0"])
	assert.Equal(t, "http://10.0.0.1:8888", set["http/services/"+name+"/loadBalancer/servers/0/url"])
	assert.Equal(t, "true", set["http/services/"+name+"/loadBalancer/passHostHeader"])

	mwName := MiddlewareName(c)
	assert.Equal(t, "/user/alice", set["http/middlewares/"+mwName+"/stripPrefix/prefixes/0"])
	assert.Equal(t, mwName, set["http/routers/"+name+"/middlewares/0"])
	assert.Empty(t, del)
}

func TestRenderAddRootRouteHasNoMiddleware(t *testing.T) {
	b := NewBuilder(Options{})
	c := canon(t, "/")

	set, del := b.RenderAdd(c, "http://default-backend")
	name := RouterName(c)

	assert.Equal(t, "PathPrefix(`/`)", set["http/routers/"+name+"/rule"])
	for key := range set {
		assert.NotContains(t, key, "middlewares")
	}
	require.Len(t, del, 1)
	assert.Contains(t, del[0], "http/middlewares/"+MiddlewareName(c))
}

func TestRenderDeleteIsPureFunctionOfSpec(t *testing.T) {
	b := NewBuilder(Options{})
	c := canon(t, "/user/alice/")

	del := b.RenderDelete(c)
	name := RouterName(c)
	mwName := MiddlewareName(c)

	assert.Contains(t, del, "http/routers/"+name+"/")
	assert.Contains(t, del, "http/services/"+name+"/")
	assert.Contains(t, del, "http/middlewares/"+mwName+"/")
}

func TestBuildAssemblesAllRoutes(t *testing.T) {
	b := NewBuilder(Options{})
	routes := map[string]string{
		canon(t, "/"):            "http://default",
		canon(t, "/user/alice/"): "http://alice",
	}

	doc := b.Build(routes)
	assert.Len(t, doc.HTTP.Routers, 2)
	assert.Len(t, doc.HTTP.Services, 2)
	assert.Len(t, doc.HTTP.Middlewares, 1)
}
