// Package supervisor manages the optional embedded Traefik child process:
// rendering its static configuration, launching it, waiting for readiness,
// and stopping it cleanly.
package supervisor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/egymgmbh/go-prefix-writer/prefixer"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/jupyterhub/traefik-proxy/adminapi"
	"github.com/jupyterhub/traefik-proxy/apierrors"
	"github.com/jupyterhub/traefik-proxy/config"
)

// Supervisor owns the Traefik child process, if one was configured to be
// managed (should_start = true). With should_start = false it is a no-op:
// the controller assumes Traefik is externally managed.
type Supervisor struct {
	cfg    *config.Config
	log    *zap.Logger
	admin  *adminapi.Client
	active bool

	mu     sync.Mutex
	cmd    *exec.Cmd
	output bytes.Buffer
	// exited is closed by the single goroutine that calls cmd.Wait(), once
	// the process has exited. Stop reads from it instead of calling Wait
	// itself: exec.Cmd.Wait is not safe to call from two goroutines at once.
	exited chan struct{}
}

func New(cfg *config.Config, admin *adminapi.Client, log *zap.Logger) *Supervisor {
	return &Supervisor{cfg: cfg, log: log, admin: admin, active: cfg.ShouldStart}
}

// Start writes the static configuration file, spawns Traefik, and blocks
// until its admin API responds or the startup timeout elapses. If the
// supervisor was configured inactive (should_start = false) this is a no-op.
func (s *Supervisor) Start(ctx context.Context) error {
	if !s.active {
		s.log.Info("traefik supervisor inactive, assuming externally managed traefik")
		return nil
	}

	static, err := BuildStaticConfig(s.cfg)
	if err != nil {
		return apierrors.StartupFailed(err)
	}
	if err := writeStaticConfig(s.cfg.StaticConfigFile, static); err != nil {
		return apierrors.StartupFailed(err)
	}

	s.mu.Lock()
	cmd := exec.CommandContext(context.Background(), s.cfg.TraefikBinary, "--configfile", s.cfg.StaticConfigFile)
	writers := []io.Writer{&s.output, prefixer.New(os.Stdout, func() string { return "traefik: " })}
	mw := io.MultiWriter(writers...)
	cmd.Stdout = mw
	cmd.Stderr = mw
	if err := cmd.Start(); err != nil {
		s.mu.Unlock()
		return apierrors.StartupFailed(fmt.Errorf("spawn traefik: %w", err))
	}
	exited := make(chan struct{})
	s.cmd = cmd
	s.exited = exited
	s.mu.Unlock()

	go func() {
		defer close(exited)
		if err := cmd.Wait(); err != nil {
			s.log.Warn("traefik process exited", zap.Error(err))
		}
	}()

	readyCtx, cancel := context.WithTimeout(ctx, s.cfg.TraefikStartupWait)
	defer cancel()
	if err := s.admin.WaitReady(readyCtx, s.cfg.TraefikStartupWait); err != nil {
		s.killLocked()
		return fmt.Errorf("traefik did not become ready: %w: %s", err, s.output.String())
	}

	s.log.Info("traefik started", zap.String("static_config_file", s.cfg.StaticConfigFile))
	return nil
}

// Stop sends SIGTERM, waits up to the configured grace period, then
// SIGKILLs. The backend is left untouched: other controllers may still be
// running against it.
func (s *Supervisor) Stop() error {
	if !s.active {
		return nil
	}
	s.mu.Lock()
	cmd := s.cmd
	exited := s.exited
	s.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		s.log.Warn("failed to send SIGTERM to traefik", zap.Error(err))
	}

	select {
	case <-exited:
	case <-time.After(s.cfg.TraefikStopGrace):
		s.log.Warn("traefik did not exit within grace period, sending SIGKILL")
		s.killLocked()
		<-exited
	}
	return nil
}

func (s *Supervisor) killLocked() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd != nil && s.cmd.Process != nil {
		s.cmd.Process.Kill()
	}
}

func writeStaticConfig(path string, sc any) error {
	var raw []byte
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		raw, err = yaml.Marshal(sc)
	default:
		var buf strings.Builder
		err = toml.NewEncoder(&buf).Encode(sc)
		raw = []byte(buf.String())
	}
	if err != nil {
		return fmt.Errorf("encode static config: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp static config: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp static config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp static config: %w", err)
	}
	return os.Rename(tmpName, path)
}
