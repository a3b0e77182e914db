// Package proxy implements the routing-table controller: it canonicalizes
// route specifications, renders them into Traefik's document model, writes
// both the JupyterHub index and the Traefik projection to a kv.Backend,
// and waits for the mutation to converge in a live Traefik.
package proxy

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jupyterhub/traefik-proxy/adminapi"
	"github.com/jupyterhub/traefik-proxy/apierrors"
	"github.com/jupyterhub/traefik-proxy/config"
	"github.com/jupyterhub/traefik-proxy/kv"
	"github.com/jupyterhub/traefik-proxy/metrics"
	"github.com/jupyterhub/traefik-proxy/reconcile"
	"github.com/jupyterhub/traefik-proxy/routespec"
	"github.com/jupyterhub/traefik-proxy/supervisor"
	"github.com/jupyterhub/traefik-proxy/traefikconfig"
)

// Proxy is the routing-table controller.
type Proxy struct {
	cfg     *config.Config
	log     *zap.Logger
	backend kv.Backend
	builder *traefikconfig.Builder
	admin   *adminapi.Client
	super   *supervisor.Supervisor
	metrics *metrics.Collectors
	sweeper *reconcile.Scheduler

	adminUsername       string
	adminHashedPassword string

	locks *specLocks

	mu    sync.Mutex
	state State

	cacheMu sync.RWMutex
	cache   map[string]Entry
}

func New(cfg *config.Config, backend kv.Backend, builder *traefikconfig.Builder, admin *adminapi.Client, super *supervisor.Supervisor, mx *metrics.Collectors, adminUsername, adminHashedPassword string, log *zap.Logger) *Proxy {
	p := &Proxy{
		cfg:                 cfg,
		log:                 log,
		backend:             backend,
		builder:             builder,
		admin:               admin,
		super:               super,
		metrics:             mx,
		adminUsername:       adminUsername,
		adminHashedPassword: adminHashedPassword,
		locks:               newSpecLocks(),
		state:               StateNew,
		cache:               map[string]Entry{},
	}
	p.sweeper = reconcile.NewScheduler(p.sweepOrphans, log)
	return p
}

// writeAdminRouter ensures Traefik's own API is exposed (BasicAuth-gated) on
// the admin entry point. It's idempotent: the router/middleware names are
// fixed, so repeated calls simply overwrite the same keys.
func (p *Proxy) writeAdminRouter(ctx context.Context) error {
	doc := supervisor.AdminDynamicConfig(p.cfg, p.adminUsername, p.adminHashedPassword)
	entries, err := traefikconfig.Flatten(doc)
	if err != nil {
		return fmt.Errorf("flatten admin router config: %w", err)
	}
	toSet := make(map[string]string, len(entries))
	for _, e := range entries {
		toSet[p.prefixed(e.KeyPath("/"))] = e.Value
	}
	return p.backend.AtomicSet(ctx, toSet)
}

func (p *Proxy) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

func (p *Proxy) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Start brings up the optional Traefik child process (if configured) and
// rebuilds the in-memory route cache from the backend. It transitions
// new -> starting -> running.
func (p *Proxy) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.state != StateNew {
		p.mu.Unlock()
		return fmt.Errorf("proxy: Start called in state %s", p.state)
	}
	p.state = StateStarting
	p.mu.Unlock()

	if err := p.super.Start(ctx); err != nil {
		p.setState(StateNew)
		return err
	}

	if err := p.writeAdminRouter(ctx); err != nil {
		p.setState(StateNew)
		return apierrors.BackendUnavailable("start", "", err)
	}

	if err := p.reloadCache(ctx); err != nil {
		p.setState(StateNew)
		return apierrors.BackendUnavailable("start", "", err)
	}

	p.setState(StateRunning)
	p.log.Info("proxy started", zap.Int("routes", len(p.cache)))

	if err := p.sweeper.Start(ctx, p.cfg.OrphanSweepSchedule); err != nil {
		p.log.Warn("failed to start orphan sweep scheduler", zap.Error(err))
	}
	return nil
}

// Stop tears down the Traefik child process, if one is managed. It does
// not touch the backend: other controllers may still be running.
func (p *Proxy) Stop(ctx context.Context) error {
	p.setState(StateStopping)
	defer p.setState(StateStopped)
	p.sweeper.Stop()
	return p.super.Stop()
}

func (p *Proxy) requireRunning() error {
	if p.State() != StateRunning {
		return fmt.Errorf("proxy: mutation rejected in state %s", p.State())
	}
	return nil
}

func (p *Proxy) reloadCache(ctx context.Context) error {
	tree, err := p.backend.GetTree(ctx, p.cfg.KVJupyterHubPrefix)
	if err != nil {
		return err
	}
	entries, err := decodeIndex(p.cfg.KVJupyterHubPrefix, tree)
	if err != nil {
		return err
	}
	p.cacheMu.Lock()
	p.cache = entries
	n := len(p.cache)
	p.cacheMu.Unlock()
	if p.metrics != nil {
		p.metrics.RouteCount.Set(float64(n))
	}
	return nil
}

// prefixed qualifies Traefik-subtree keys (as rendered by traefikconfig,
// which knows nothing about kv_traefik_prefix) with the configured root.
func (p *Proxy) prefixed(key string) string {
	return p.cfg.KVTraefikPrefix + "/" + key
}

// AddRoute canonicalizes spec, renders its Traefik projection and index
// entry, writes both in one transaction, and waits for Traefik to converge
// before returning. An add_route that exactly repeats an existing route is
// a no-op-successful write.
func (p *Proxy) AddRoute(ctx context.Context, spec, target string, data map[string]any) error {
	if err := p.requireRunning(); err != nil {
		return err
	}
	canonical, err := routespec.Canonicalize(spec)
	if err != nil {
		return err
	}

	unlock := p.locks.lock(canonical)
	defer unlock()

	indexSet, err := renderIndex(p.cfg.KVJupyterHubPrefix, canonical, target, data)
	if err != nil {
		return err
	}
	traefikSet, traefikDel := p.builder.RenderAdd(canonical, target)

	toSet := make(map[string]string, len(indexSet)+len(traefikSet))
	for k, v := range indexSet {
		toSet[k] = v
	}
	for k, v := range traefikSet {
		toSet[p.prefixed(k)] = v
	}

	setStart := time.Now()
	err = p.backend.AtomicSet(ctx, toSet)
	p.observeOp("atomic_set", setStart, err)
	if err != nil {
		return apierrors.BackendUnavailable("add_route", canonical, err)
	}

	if len(traefikDel) > 0 {
		del := make([]string, 0, len(traefikDel))
		for _, k := range traefikDel {
			del = append(del, p.prefixed(k))
		}
		if err := p.backend.AtomicDelete(ctx, del); err != nil {
			// The stale middleware key is cosmetic (Traefik ignores
			// middlewares no router references); log and continue rather
			// than fail a successful add on cleanup.
			p.log.Warn("failed to clean up defensive delete after add_route",
				zap.String("routespec", canonical), zap.Error(err))
		}
	}

	p.cacheMu.Lock()
	p.cache[canonical] = Entry{RouteSpec: canonical, Target: target, Data: data}
	n := len(p.cache)
	p.cacheMu.Unlock()
	if p.metrics != nil {
		p.metrics.RouteCount.Set(float64(n))
	}

	waitStart := time.Now()
	err = p.admin.WaitForRoute(ctx, canonical, true, p.cfg.CheckRouteTimeout)
	if p.metrics != nil {
		p.metrics.ConvergenceWait.WithLabelValues("add").Observe(time.Since(waitStart).Seconds())
	}
	return err
}

// DeleteRoute enumerates the keys owned by spec (a pure function of the
// spec, no backend read needed) and removes them. Deleting a route that
// doesn't exist is a successful no-op.
func (p *Proxy) DeleteRoute(ctx context.Context, spec string) error {
	if err := p.requireRunning(); err != nil {
		return err
	}
	canonical, err := routespec.Canonicalize(spec)
	if err != nil {
		return err
	}

	unlock := p.locks.lock(canonical)
	defer unlock()

	del := []string{indexKeyPrefix(p.cfg.KVJupyterHubPrefix, canonical)}
	for _, k := range p.builder.RenderDelete(canonical) {
		del = append(del, p.prefixed(k))
	}

	delStart := time.Now()
	err = p.backend.AtomicDelete(ctx, del)
	p.observeOp("atomic_delete", delStart, err)
	if err != nil {
		return apierrors.BackendUnavailable("delete_route", canonical, err)
	}

	p.cacheMu.Lock()
	delete(p.cache, canonical)
	n := len(p.cache)
	p.cacheMu.Unlock()
	if p.metrics != nil {
		p.metrics.RouteCount.Set(float64(n))
	}

	waitStart := time.Now()
	err = p.admin.WaitForRoute(ctx, canonical, false, p.cfg.CheckRouteTimeout)
	if p.metrics != nil {
		p.metrics.ConvergenceWait.WithLabelValues("delete").Observe(time.Since(waitStart).Seconds())
	}
	return err
}

// GetRoute returns the route registered for spec, or apierrors.NotFound.
func (p *Proxy) GetRoute(ctx context.Context, spec string) (*Entry, error) {
	canonical, err := routespec.Canonicalize(spec)
	if err != nil {
		return nil, err
	}
	p.cacheMu.RLock()
	entry, ok := p.cache[canonical]
	p.cacheMu.RUnlock()
	if !ok {
		return nil, apierrors.NotFound(canonical)
	}
	return &entry, nil
}

// GetAllRoutes returns a snapshot of every currently registered route. It
// is not synchronized against concurrent mutations.
func (p *Proxy) GetAllRoutes(ctx context.Context) (map[string]Entry, error) {
	p.cacheMu.RLock()
	defer p.cacheMu.RUnlock()
	out := make(map[string]Entry, len(p.cache))
	for k, v := range p.cache {
		out[k] = v
	}
	return out, nil
}

func (p *Proxy) observeOp(op string, start time.Time, err error) {
	if p.metrics == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	p.metrics.BackendOps.WithLabelValues(op, outcome).Inc()
	p.metrics.BackendOpLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// sweepOrphans reaps Traefik-subtree router/service/middleware keys whose
// owning spec no longer has an index entry. It is the backstop for specs
// that are never mutated again after the writer that orphaned them.
// Orphans are found through their router keys only: a service or
// middleware whose router is already gone is not visited. It returns the
// number of routes reaped.
func (p *Proxy) sweepOrphans(ctx context.Context) (int, error) {
	indexTree, err := p.backend.GetTree(ctx, p.cfg.KVJupyterHubPrefix)
	if err != nil {
		return 0, err
	}
	liveSpecs, err := decodeIndex(p.cfg.KVJupyterHubPrefix, indexTree)
	if err != nil {
		return 0, err
	}

	routersPrefix := p.prefixed("http/routers") + "/"
	traefikTree, err := p.backend.GetTree(ctx, routersPrefix)
	if err != nil {
		return 0, err
	}

	seen := map[string]bool{}
	reaped := 0
	for key := range traefikTree {
		routerName := firstSegment(strings.TrimPrefix(key, routersPrefix))
		if routerName == "" || seen[routerName] {
			continue
		}
		seen[routerName] = true

		canonical, ok, err := traefikconfig.CanonicalFromRouterName(routerName)
		if err != nil || !ok {
			continue
		}
		if _, live := liveSpecs[canonical]; live {
			continue
		}
		del := make([]string, 0, 3)
		for _, k := range p.builder.RenderDelete(canonical) {
			del = append(del, p.prefixed(k))
		}
		sweepStart := time.Now()
		err = p.backend.AtomicDelete(ctx, del)
		p.observeOp("atomic_delete_orphan", sweepStart, err)
		if err != nil {
			p.log.Warn("orphan sweep: failed to delete stale projection", zap.String("routespec", canonical), zap.Error(err))
			continue
		}
		reaped++
	}
	return reaped, nil
}

func firstSegment(s string) string {
	if idx := strings.IndexByte(s, '/'); idx >= 0 {
		return s[:idx]
	}
	return s
}
