package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/jupyterhub/traefik-proxy/adminapi"
	"github.com/jupyterhub/traefik-proxy/config"
	"github.com/jupyterhub/traefik-proxy/kv"
	"github.com/jupyterhub/traefik-proxy/kv/consul"
	"github.com/jupyterhub/traefik-proxy/kv/etcd"
	"github.com/jupyterhub/traefik-proxy/kv/file"
	"github.com/jupyterhub/traefik-proxy/kv/redis"
	"github.com/jupyterhub/traefik-proxy/metrics"
	"github.com/jupyterhub/traefik-proxy/proxy"
	"github.com/jupyterhub/traefik-proxy/supervisor"
	"github.com/jupyterhub/traefik-proxy/traefikconfig"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func initLogger() *zap.Logger {
	logLevel := os.Getenv("LOG_LEVEL")
	var level zapcore.Level

	switch strings.ToLower(logLevel) {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn", "warning":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	logger.Info("logger initialized", zap.String("level", level.String()))
	return logger
}

func openBackend(cfg *config.Config, log *zap.Logger) (kv.Backend, error) {
	switch cfg.KVBackend {
	case config.BackendFile:
		return file.New(cfg.DynamicConfigFile, log)
	case config.BackendRedis:
		return redis.New(redis.Config{URL: cfg.RedisURL, Username: cfg.RedisUsername, Password: cfg.RedisPassword}, log)
	case config.BackendEtcd:
		return etcd.New(etcd.Config{Endpoints: cfg.EtcdEndpoints, Username: cfg.EtcdUsername, Password: cfg.EtcdPassword}, log)
	case config.BackendConsul:
		return consul.New(consul.Config{Address: cfg.ConsulAddress, Token: cfg.ConsulToken}, log)
	default:
		return nil, fmt.Errorf("unrecognized backend %q", cfg.KVBackend)
	}
}

// startMetricsServer exposes every collector registered against
// prometheus.DefaultRegisterer on addr, in a background goroutine.
func startMetricsServer(addr string, log *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn("metrics server exited", zap.Error(err))
		}
	}()
	return server
}

func runServe(logger *zap.Logger) error {
	cfg, err := config.Load(logger)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	backend, err := openBackend(cfg, logger)
	if err != nil {
		return fmt.Errorf("open backend: %w", err)
	}
	defer backend.Close()

	adminHashed, err := supervisor.HashAdminPassword(cfg.TraefikAPIPassword, cfg.TraefikAPIHashedPassword)
	if err != nil {
		return err
	}

	// Take the public entry point from the built static config, the same
	// document Traefik is started with, so routers bind to an entry point
	// that document defines. BuildStaticConfig does not merge entry points
	// from extra_static_config, so this is cfg.TraefikEntryPoint.
	static, err := supervisor.BuildStaticConfig(cfg)
	if err != nil {
		return fmt.Errorf("build static config: %w", err)
	}
	publicEntryPoint := static.PublicEntryPoint()
	if publicEntryPoint == "" {
		return fmt.Errorf("no public entry point configured")
	}

	builder := traefikconfig.NewBuilder(traefikconfig.Options{
		EntryPoint:   publicEntryPoint,
		TLS:          cfg.TraefikAutoHTTPS,
		CertResolver: "letsencrypt",
	})

	admin := adminapi.New(adminapi.Config{
		BaseURL:      cfg.TraefikAPIURL,
		Username:     cfg.TraefikAPIUsername,
		Password:     cfg.TraefikAPIPassword,
		ValidateCert: cfg.TraefikAPIValidateCert,
	})

	super := supervisor.New(cfg, admin, logger)
	mx := metrics.New()
	mx.MustRegister(prometheus.DefaultRegisterer)
	metricsServer := startMetricsServer(cfg.MetricsAddr, logger)
	defer metricsServer.Shutdown(context.Background())

	p := proxy.New(cfg, backend, builder, admin, super, mx, cfg.TraefikAPIUsername, adminHashed, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := p.Start(ctx); err != nil {
		return fmt.Errorf("start proxy: %w", err)
	}
	logger.Info("traefik-kv-proxy running", zap.String("version", version), zap.String("metrics_addr", cfg.MetricsAddr))

	<-ctx.Done()
	logger.Info("shutting down")
	return p.Stop(context.Background())
}

func main() {
	logger := initLogger()
	defer logger.Sync()

	root := &cobra.Command{
		Use:   "traefik-kv-proxy",
		Short: "Routing-table controller adapting a JupyterHub-style proxy API onto Traefik",
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the controller",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(logger)
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}

	root.AddCommand(serveCmd, versionCmd)

	if err := root.Execute(); err != nil {
		logger.Fatal("command failed", zap.Error(err))
	}
}
