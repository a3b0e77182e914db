// Package adminapi is a Basic-Auth HTTP client against Traefik's admin API:
// it checks readiness, fetches the running router set, and polls until a
// mutation becomes visible (convergence waiting).
package adminapi

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Config names the admin endpoint and its credentials.
type Config struct {
	BaseURL      string
	Username     string
	Password     string
	ValidateCert bool
}

type Client struct {
	cfg  Config
	http *http.Client
}

func New(cfg Config) *Client {
	transport := &http.Transport{}
	if !cfg.ValidateCert {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout:   10 * time.Second,
			Transport: transport,
		},
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("adminapi: build request for %s: %w", path, err)
	}
	if c.cfg.Username != "" {
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	}
	return req, nil
}

// Router is the subset of Traefik's /api/http/routers entry this package
// cares about.
type Router struct {
	Rule   string `json:"rule"`
	Status string `json:"status"`
}

// Routers fetches the live router set, keyed by router name.
func (c *Client) Routers(ctx context.Context) (map[string]Router, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/http/routers")
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("adminapi: GET /api/http/routers: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("adminapi: /api/http/routers returned %d: %s", resp.StatusCode, string(body))
	}

	// Traefik's routers endpoint is a flat array of named router objects
	// rather than a map, so decode into that shape and re-key by name.
	var list []struct {
		Name   string `json:"name"`
		Rule   string `json:"rule"`
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("adminapi: decode /api/http/routers: %w", err)
	}
	out := make(map[string]Router, len(list))
	for _, r := range list {
		out[r.Name] = Router{Rule: r.Rule, Status: r.Status}
	}
	return out, nil
}

// versionResponse mirrors Traefik's GET /api/version.
type versionResponse struct {
	Version string `json:"Version"`
}

// Version returns the running Traefik's reported version string. Nothing in
// this module calls it; no code path branches on the Traefik version.
func (c *Client) Version(ctx context.Context) (string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/version")
	if err != nil {
		return "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("adminapi: GET /api/version: %w", err)
	}
	defer resp.Body.Close()
	var v versionResponse
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return "", fmt.Errorf("adminapi: decode /api/version: %w", err)
	}
	return v.Version, nil
}

// Ping reports whether Traefik's admin entry point is responding at all.
func (c *Client) Ping(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/ping")
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("adminapi: GET /ping: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("adminapi: /ping returned %d", resp.StatusCode)
	}
	return nil
}
