package adminapi

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/jupyterhub/traefik-proxy/apierrors"
	"github.com/jupyterhub/traefik-proxy/traefikconfig"
)

// DefaultCheckRouteTimeout is used when a caller configures no explicit
// convergence timeout.
const DefaultCheckRouteTimeout = 60 * time.Second

var errNotYetConverged = errors.New("adminapi: route not yet converged")

// WaitForRoute polls GET /api/http/routers until the router derived from
// canonical appears with status "enabled" (wantPresent true) or disappears
// (wantPresent false), backing off from ~50ms to ~1s between polls.
// Transient request failures (5xx, connection resets) are tolerated and
// simply retried until timeout.
func (c *Client) WaitForRoute(ctx context.Context, canonical string, wantPresent bool, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultCheckRouteTimeout
	}
	routerName := traefikconfig.RouterName(canonical)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = time.Second
	b.Multiplier = 2

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		routers, err := c.Routers(ctx)
		if err != nil {
			// Transient failures (connection reset, 5xx) are retried rather
			// than surfaced; only the overall timeout ends the wait.
			return struct{}{}, errNotYetConverged
		}
		r, present := routers[routerName]
		converged := present == wantPresent && (!present || r.Status == "enabled")
		if converged {
			return struct{}{}, nil
		}
		return struct{}{}, errNotYetConverged
	}, backoff.WithBackOff(b))

	if err != nil {
		return apierrors.RouteNotConverged(canonical, fmt.Errorf("router %s: %w", routerName, err))
	}
	return nil
}
