package adminapi

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/jupyterhub/traefik-proxy/apierrors"
)

// WaitReady polls /ping until Traefik answers or timeout elapses, used by
// the supervisor right after launching the child process.
func (c *Client) WaitReady(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = time.Second

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		if err := c.Ping(ctx); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(b))
	if err != nil {
		return apierrors.StartupFailed(fmt.Errorf("traefik did not become ready: %w", err))
	}
	return nil
}
