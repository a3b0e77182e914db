package traefikconfig

import (
	"fmt"
	"strings"

	"github.com/jupyterhub/traefik-proxy/routespec"
)

const routerNamePrefix = "jupyterhub_"

// Options configures how the Builder renders routers: which public entry
// point to bind and whether TLS is enabled globally.
type Options struct {
	EntryPoint   string
	TLS          bool
	CertResolver string
}

// Builder turns route specifications into Traefik's router/service/
// middleware triples.
type Builder struct {
	opts Options
}

func NewBuilder(opts Options) *Builder {
	return &Builder{opts: opts}
}

// RouterName derives the deterministic, collision-free Traefik resource
// name for a canonical routespec. Service and (when present) middleware
// names share the same base.
func RouterName(canonical string) string {
	return routerNamePrefix + routespec.Encode(canonical)
}

func ServiceName(canonical string) string {
	return RouterName(canonical)
}

func MiddlewareName(canonical string) string {
	return RouterName(canonical) + "_strip"
}

// CanonicalFromRouterName inverts RouterName, returning false if name
// wasn't produced by it (e.g. a router some other tool wrote).
func CanonicalFromRouterName(name string) (string, bool, error) {
	if !strings.HasPrefix(name, routerNamePrefix) {
		return "", false, nil
	}
	canonical, err := routespec.Decode(strings.TrimPrefix(name, routerNamePrefix))
	if err != nil {
		return "", false, err
	}
	return canonical, true, nil
}

// stripPath returns the non-root path portion of canonical with its
// trailing slash removed, or "" if the route has no path to strip (a
// host-only root route, or the default route "/").
func stripPath(canonical string) string {
	_, path := routespec.Split(canonical)
	trimmed := strings.TrimSuffix(path, "/")
	return trimmed
}

// Rule computes the Traefik router rule for a canonical routespec:
// PathPrefix when host-less, Host when the path is root, Host &&
// PathPrefix otherwise.
func Rule(canonical string) string {
	if routespec.IsPathOnly(canonical) {
		prefix := strings.TrimSuffix(canonical, "/")
		if prefix == "" {
			prefix = "/"
		}
		return fmt.Sprintf("PathPrefix(`%s`)", prefix)
	}
	host, _ := routespec.Split(canonical)
	prefix := stripPath(canonical)
	if prefix == "" {
		return fmt.Sprintf("Host(`%s`)", host)
	}
	return fmt.Sprintf("Host(`%s`) && PathPrefix(`%s`)", host, prefix)
}

// Priority computes the router priority for a canonical routespec: it
// grows with specificity (spec length) so that "/a/b/" beats "/a/" beats
// the default route "/", which is exactly priority 1 since len("/") == 1.
func Priority(canonical string) int {
	return len(canonical)
}

// HasMiddleware reports whether a route needs a prefix-stripping
// middleware: iff it has a non-root path.
func HasMiddleware(canonical string) bool {
	return stripPath(canonical) != ""
}

// routeDocument builds a single-route DynamicConfig fragment: exactly the
// router, service, and (if needed) middleware for one route. Flattening
// this fragment yields the minimal KV delta for the route, since every
// key name here is a pure, deterministic function of the canonical
// routespec alone.
func (b *Builder) routeDocument(canonical, target string) *DynamicConfig {
	name := RouterName(canonical)

	router := Router{
		Rule:     Rule(canonical),
		Service:  name,
		Priority: Priority(canonical),
	}
	if b.opts.EntryPoint != "" {
		router.EntryPoints = []string{b.opts.EntryPoint}
	}
	if b.opts.TLS {
		router.TLS = &TLS{CertResolver: b.opts.CertResolver}
	}

	doc := &DynamicConfig{}
	doc.HTTP.Routers = map[string]Router{name: router}
	doc.HTTP.Services = map[string]Service{
		name: {
			LoadBalancer: &LoadBalancer{
				Servers:        []Server{{URL: target}},
				PassHostHeader: true,
			},
		},
	}

	if HasMiddleware(canonical) {
		mwName := MiddlewareName(canonical)
		router.Middlewares = []string{mwName}
		doc.HTTP.Routers[name] = router
		doc.HTTP.Middlewares = map[string]Middleware{
			mwName: {StripPrefix: &StripPrefix{Prefixes: []string{stripPath(canonical)}}},
		}
	}

	return doc
}

// RouteKeys are the fully-qualified Traefik-subtree key paths owned by a
// single route -- used both to render an add and to enumerate a delete
// without ever reading the backend.
type RouteKeys struct {
	RouterName     string
	ServiceName    string
	MiddlewareName string
	HasMiddleware  bool
}

func Keys(canonical string) RouteKeys {
	name := RouterName(canonical)
	return RouteKeys{
		RouterName:     name,
		ServiceName:    name,
		MiddlewareName: MiddlewareName(canonical),
		HasMiddleware:  HasMiddleware(canonical),
	}
}

// RenderAdd computes the minimal set of Traefik-subtree KV keys to set (and,
// defensively, any middleware keys to delete) in order to add or replace
// the route for canonical.
func (b *Builder) RenderAdd(canonical, target string) (set map[string]string, del []string) {
	doc := b.routeDocument(canonical, target)
	entries, err := Flatten(doc)
	if err != nil {
		// doc is built entirely from our own types; Flatten only fails on
		// non-marshalable input, which cannot happen here.
		panic(fmt.Sprintf("traefikconfig: unexpected flatten error: %v", err))
	}

	set = make(map[string]string, len(entries))
	for _, e := range entries {
		set[e.KeyPath("/")] = e.Value
	}

	if !HasMiddleware(canonical) {
		keys := Keys(canonical)
		del = []string{"http/middlewares/" + keys.MiddlewareName + "/"}
	}
	return set, del
}

// RenderDelete enumerates every Traefik-subtree key belonging to canonical,
// including the optional middleware, as a pure function of the routespec.
func (b *Builder) RenderDelete(canonical string) []string {
	keys := Keys(canonical)
	del := []string{
		"http/routers/" + keys.RouterName + "/",
		"http/services/" + keys.ServiceName + "/",
	}
	if keys.HasMiddleware {
		del = append(del, "http/middlewares/"+keys.MiddlewareName+"/")
	}
	return del
}

// Build renders a complete Traefik dynamic configuration document from a
// full set of routes. The proxy and the file backend do not call it: they
// write per-route deltas from RenderAdd/RenderDelete.
func (b *Builder) Build(routes map[string]string) *DynamicConfig {
	doc := &DynamicConfig{}
	doc.HTTP.Routers = map[string]Router{}
	doc.HTTP.Services = map[string]Service{}
	doc.HTTP.Middlewares = map[string]Middleware{}

	for canonical, target := range routes {
		frag := b.routeDocument(canonical, target)
		for k, v := range frag.HTTP.Routers {
			doc.HTTP.Routers[k] = v
		}
		for k, v := range frag.HTTP.Services {
			doc.HTTP.Services[k] = v
		}
		for k, v := range frag.HTTP.Middlewares {
			doc.HTTP.Middlewares[k] = v
		}
	}
	return doc
}
