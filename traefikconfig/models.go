// Package traefikconfig models Traefik's dynamic and static configuration
// documents and renders them from route specifications.
package traefikconfig

import "sort"

// AdminEntryPointName is the fixed entry point name the admin API router is
// always bound to (see supervisor.BuildStaticConfig / AdminDynamicConfig).
// It's excluded when discovering the public entry point.
const AdminEntryPointName = "auth_api"

// DynamicConfig is Traefik's hot-reloadable configuration: routers,
// services and middlewares. A full document (as built by Builder.Build)
// carries every route at once; a "single route" document built
// by Builder.routeDocument carries only one route's entries and is used
// to compute the minimal KV delta for that route.
type DynamicConfig struct {
	HTTP HTTPConfig `json:"http"`
}

type HTTPConfig struct {
	Routers     map[string]Router     `json:"routers,omitempty"`
	Services    map[string]Service    `json:"services,omitempty"`
	Middlewares map[string]Middleware `json:"middlewares,omitempty"`
}

// Router is one Traefik HTTP router.
type Router struct {
	Rule        string   `json:"rule"`
	Service     string   `json:"service"`
	EntryPoints []string `json:"entryPoints,omitempty"`
	Middlewares []string `json:"middlewares,omitempty"`
	Priority    int      `json:"priority,omitempty"`
	TLS         *TLS     `json:"tls,omitempty"`
}

type Service struct {
	LoadBalancer *LoadBalancer `json:"loadBalancer"`
}

type LoadBalancer struct {
	Servers        []Server `json:"servers"`
	PassHostHeader bool     `json:"passHostHeader"`
}

type Server struct {
	URL string `json:"url"`
}

type TLS struct {
	CertResolver string `json:"certResolver,omitempty"`
}

type Middleware struct {
	StripPrefix *StripPrefix `json:"stripPrefix,omitempty"`
	BasicAuth   *BasicAuth   `json:"basicAuth,omitempty"`
}

type StripPrefix struct {
	Prefixes []string `json:"prefixes"`
}

type BasicAuth struct {
	Users []string `json:"users"`
	Realm string   `json:"realm,omitempty"`
}

// StaticConfig is Traefik's startup-only configuration: entry points, the
// admin API, the configured provider, and optional ACME.
type StaticConfig struct {
	EntryPoints           map[string]EntryPoint           `json:"entryPoints"`
	API                   *APIConfig                      `json:"api,omitempty"`
	Providers             map[string]any                  `json:"providers,omitempty"`
	CertificatesResolvers map[string]CertificatesResolver `json:"certificatesResolvers,omitempty"`
}

// PublicEntryPoint returns the entry point routers should bind to: the one
// configured entry point that isn't the fixed admin entry point. Callers
// discover it from the built static config instead of repeating the
// configured entry point name themselves. If more than one non-admin entry
// point is configured, the lexicographically first name is returned, for
// determinism. Returns "" if none is configured.
func (sc *StaticConfig) PublicEntryPoint() string {
	names := make([]string, 0, len(sc.EntryPoints))
	for name := range sc.EntryPoints {
		if name == AdminEntryPointName {
			continue
		}
		names = append(names, name)
	}
	if len(names) == 0 {
		return ""
	}
	sort.Strings(names)
	return names[0]
}

type EntryPoint struct {
	Address string `json:"address"`
}

type APIConfig struct {
	Insecure  bool `json:"insecure"`
	Dashboard bool `json:"dashboard,omitempty"`
}

type CertificatesResolver struct {
	ACME ACMEConfig `json:"acme"`
}

type ACMEConfig struct {
	Email         string         `json:"email"`
	Storage       string         `json:"storage"`
	CAServer      string         `json:"caServer,omitempty"`
	TLSChallenge  *struct{}      `json:"tlsChallenge,omitempty"`
	HTTPChallenge *HTTPChallenge `json:"httpChallenge,omitempty"`
}

type HTTPChallenge struct {
	EntryPoint string `json:"entryPoint"`
}
