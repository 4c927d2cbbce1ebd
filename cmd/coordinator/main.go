// Package main is the entry point for the fabric coordinator binary.
//
// Startup sequence mirrors the teacher's cmd/server/main.go:
//  1. Parse CLI flags / environment variables
//  2. Build logger, metrics registry, tracer provider
//  3. Open the optional result-history store
//  4. Build the auth registry, worker manager, dispatcher, and optional
//     cron-based job resubmission
//  5. Start the worker control listener, the optional fleet-control
//     listener, and the admin/metrics HTTP servers
//  6. Block until SIGINT/SIGTERM, then shut down the admin/metrics HTTP
//     servers and close the listeners (connected workers are not drained)
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/loadfabric/loadfabric/internal/adminapi"
	"github.com/loadfabric/loadfabric/internal/dispatcher"
	"github.com/loadfabric/loadfabric/internal/dispatcher/autosched"
	"github.com/loadfabric/loadfabric/internal/obsv"
	"github.com/loadfabric/loadfabric/internal/protocol"
	"github.com/loadfabric/loadfabric/internal/resultstore"
	"github.com/loadfabric/loadfabric/internal/session"
	"github.com/loadfabric/loadfabric/internal/session/auth"
	"github.com/loadfabric/loadfabric/internal/statchan"
	"github.com/loadfabric/loadfabric/internal/wsfeed"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type config struct {
	controlAddr      string
	statAddr         string
	fleetAddr        string
	adminAddr        string
	metricsAddr      string
	logLevel         string
	serverVersion    string
	serverID         string
	handshakeTimeout time.Duration

	authType      string
	authSimpleID  string
	authSimpleHash string
	authTokenKey  string

	classDir string

	storeDriver string
	storeDSN    string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := &config{}

	root := &cobra.Command{
		Use:   "fabric-coordinator",
		Short: "Fabric coordinator — central dispatcher for the load/monitor fleet",
		Long: `The fabric coordinator accepts control connections from load and
monitor workers, dispatches jobs across them, and aggregates their
completed stat trackers.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	root.AddCommand(newVersionCmd())

	root.PersistentFlags().StringVar(&cfg.controlAddr, "control-addr", envOrDefault("FABRIC_CONTROL_ADDR", ":7000"), "Worker control-connection listen address")
	root.PersistentFlags().StringVar(&cfg.statAddr, "stat-addr", envOrDefault("FABRIC_STAT_ADDR", ":7003"), "Worker real-time stat-channel listen address")
	root.PersistentFlags().StringVar(&cfg.fleetAddr, "fleet-addr", envOrDefault("FABRIC_FLEET_ADDR", ""), "Fleet supervisor listen address (empty disables Client-Manager-Hello lifecycle)")
	root.PersistentFlags().StringVar(&cfg.adminAddr, "admin-addr", envOrDefault("FABRIC_ADMIN_ADDR", ":7001"), "Read-only admin JSON API listen address")
	root.PersistentFlags().StringVar(&cfg.metricsAddr, "metrics-addr", envOrDefault("FABRIC_METRICS_ADDR", ":7002"), "Prometheus /metrics listen address")
	root.PersistentFlags().StringVar(&cfg.logLevel, "log-level", envOrDefault("FABRIC_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&cfg.serverVersion, "server-version", envOrDefault("FABRIC_SERVER_VERSION", version), "Version string presented in Hello-Response")
	root.PersistentFlags().StringVar(&cfg.serverID, "server-id", envOrDefault("FABRIC_SERVER_ID", uuid.NewString()), "Server identity presented to workers")
	root.PersistentFlags().DurationVar(&cfg.handshakeTimeout, "handshake-timeout", 10*time.Second, "Bound on Client-Hello/Client-Manager-Hello handshake completion")

	root.PersistentFlags().StringVar(&cfg.authType, "auth-type", envOrDefault("FABRIC_AUTH_TYPE", "none"), "Worker auth scheme: none, simple, or token")
	root.PersistentFlags().StringVar(&cfg.authSimpleID, "auth-simple-id", envOrDefault("FABRIC_AUTH_SIMPLE_ID", ""), "Auth ID accepted by the simple verifier")
	root.PersistentFlags().StringVar(&cfg.authSimpleHash, "auth-simple-hash", envOrDefault("FABRIC_AUTH_SIMPLE_HASH", ""), "bcrypt hash of the credential accepted by the simple verifier")
	root.PersistentFlags().StringVar(&cfg.authTokenKey, "auth-token-key", envOrDefault("FABRIC_AUTH_TOKEN_KEY", ""), "HMAC key verifying JWT bearer credentials for the token auth type")

	root.PersistentFlags().StringVar(&cfg.classDir, "class-dir", envOrDefault("FABRIC_CLASS_DIR", ""), "Directory this coordinator serves Class-Transfer-Request payloads from (empty disables serving)")

	root.PersistentFlags().StringVar(&cfg.storeDriver, "store-driver", envOrDefault("FABRIC_STORE_DRIVER", "none"), "Result-history store: none, sqlite, or postgres")
	root.PersistentFlags().StringVar(&cfg.storeDSN, "store-dsn", envOrDefault("FABRIC_STORE_DSN", "./fabric.db"), "Result-history store DSN or file path for SQLite")

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("fabric-coordinator %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func run(ctx context.Context, cfg *config) error {
	logger, err := obsv.BuildLogger(cfg.logLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("starting fabric coordinator",
		zap.String("version", version),
		zap.String("control_addr", cfg.controlAddr),
		zap.String("admin_addr", cfg.adminAddr),
	)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// --- Observability ---
	reg := prometheus.NewRegistry()
	metrics := obsv.NewMetrics(reg)
	tp := obsv.NewTracerProvider()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracer provider shutdown error", zap.Error(err))
		}
	}()

	// --- Result-history store ---
	store, closeStore, err := buildStore(cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	// --- Auth ---
	verifier, err := buildAuthRegistry(cfg)
	if err != nil {
		return fmt.Errorf("failed to configure auth: %w", err)
	}

	// --- Worker manager + dispatcher ---
	manager := dispatcher.NewManager(logger).WithClassDir(cfg.classDir)
	disp := dispatcher.NewDispatcher(manager, logger)

	sched, err := autosched.New(ctx, disp, store, logger)
	if err != nil {
		return fmt.Errorf("failed to build scheduler: %w", err)
	}
	sched.Start()
	defer func() {
		if err := sched.Stop(); err != nil {
			logger.Warn("scheduler shutdown error", zap.Error(err))
		}
	}()

	// --- Worker control listener ---
	controlLn, err := net.Listen("tcp", cfg.controlAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.controlAddr, err)
	}
	go acceptWorkers(ctx, controlLn, manager, verifier, metrics, cfg, logger)

	// --- Real-time stat channel + external observer feed ---
	hub := wsfeed.NewHub(logger)
	go hub.Run(ctx)
	var statLn net.Listener
	if cfg.statAddr != "" {
		statLn, err = net.Listen("tcp", cfg.statAddr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", cfg.statAddr, err)
		}
		statSrv := statchan.NewServer(hub, logger)
		go statSrv.Serve(ctx, statLn)
	}

	// --- Fleet-control listener (optional) ---
	if cfg.fleetAddr != "" {
		fleetLn, err := net.Listen("tcp", cfg.fleetAddr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", cfg.fleetAddr, err)
		}
		go acceptFleet(ctx, fleetLn, cfg, logger)
	}

	// --- Admin API (mounts the /observe external observer feed alongside
	// the read-only worker JSON API) ---
	adminMux := http.NewServeMux()
	adminMux.Handle("/observe", wsfeed.NewHandler(hub, logger))
	adminMux.Handle("/", adminapi.NewRouter(adminapi.Config{Manager: manager, Logger: logger}))
	adminSrv := &http.Server{
		Addr:    cfg.adminAddr,
		Handler: adminMux,
	}
	go func() {
		logger.Info("admin api listening", zap.String("addr", cfg.adminAddr))
		if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("admin api server error", zap.Error(err))
			cancel()
		}
	}()

	// --- Metrics ---
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	metricsSrv := &http.Server{Addr: cfg.metricsAddr, Handler: metricsMux}
	go func() {
		logger.Info("metrics listening", zap.String("addr", cfg.metricsAddr))
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", zap.Error(err))
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down fabric coordinator")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := adminSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("admin api graceful shutdown error", zap.Error(err))
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics graceful shutdown error", zap.Error(err))
	}
	_ = controlLn.Close()
	if statLn != nil {
		_ = statLn.Close()
	}

	logger.Info("fabric coordinator stopped")
	return nil
}

// acceptWorkers runs the worker control-connection accept loop: handshake,
// register, and deregister on disconnect (spec.md §4.6 "accepts control
// connections concurrently").
func acceptWorkers(ctx context.Context, ln net.Listener, manager *dispatcher.Manager, verifier *auth.Registry, metrics *obsv.Metrics, cfg *config, logger *zap.Logger) {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("control accept failed", zap.Error(err))
			continue
		}
		go func() {
			acceptCfg := session.AcceptConfig{
				ServerVersion:    cfg.serverVersion,
				ServerID:         cfg.serverID,
				Verifier:         verifier,
				HandshakeTimeout: cfg.handshakeTimeout,
			}
			sess, hello, err := session.AcceptCoordinator(ctx, conn, acceptCfg, logger)
			if err != nil {
				logger.Warn("worker handshake failed", zap.Error(err), zap.String("remote_addr", conn.RemoteAddr().String()))
				return
			}
			wc := manager.Register(sess, hello)
			metrics.WorkersOnline.Inc()
			defer metrics.WorkersOnline.Dec()
			defer manager.Deregister(wc.ID)

			// Block until the session leaves READY (closed by the worker,
			// draining, or faulted); the WorkerConn's own receive loop does
			// the actual message routing.
			for sess.State() == session.StateReady {
				time.Sleep(time.Second)
			}
			_ = sess.Close()
		}()
	}
}

// acceptFleet runs the fleet-supervisor accept loop (spec.md §3/§6
// Client-Manager-Hello; SPEC_FULL.md supplemented feature).
func acceptFleet(ctx context.Context, ln net.Listener, cfg *config, logger *zap.Logger) {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("fleet accept failed", zap.Error(err))
			continue
		}
		go func() {
			sess, hello, err := session.AcceptFleet(ctx, conn, cfg.handshakeTimeout, logger)
			if err != nil {
				logger.Warn("fleet handshake failed", zap.Error(err), zap.String("remote_addr", conn.RemoteAddr().String()))
				return
			}
			logger.Info("fleet supervisor connected", zap.String("host_id", hello.HostID))
			for {
				rcv, ok, err := sess.ReadNext()
				if err != nil {
					logger.Warn("fleet connection read failed", zap.String("host_id", hello.HostID), zap.Error(err))
					return
				}
				if !ok {
					continue
				}
				switch v := rcv.Body.(type) {
				case protocol.StartClientResponse, protocol.StopClientResponse:
					logger.Info("fleet response", zap.String("host_id", hello.HostID), zap.Any("response", v))
				default:
					logger.Warn("unexpected fleet message", zap.String("host_id", hello.HostID), zap.String("type", fmt.Sprintf("%T", v)))
				}
			}
		}()
	}
}

func buildStore(cfg *config, logger *zap.Logger) (resultstore.Store, func(), error) {
	switch cfg.storeDriver {
	case "none", "":
		return resultstore.NoopStore{}, func() {}, nil
	case "sqlite", "postgres":
		db, err := resultstore.Open(resultstore.Config{Driver: cfg.storeDriver, DSN: cfg.storeDSN, Logger: logger})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open result store: %w", err)
		}
		store := resultstore.NewGormStore(db)
		closeFn := func() {
			sqlDB, err := db.DB()
			if err == nil {
				_ = sqlDB.Close()
			}
		}
		return store, closeFn, nil
	default:
		return nil, nil, fmt.Errorf("unsupported store driver %q", cfg.storeDriver)
	}
}

func buildAuthRegistry(cfg *config) (*auth.Registry, error) {
	switch cfg.authType {
	case "none", "":
		return auth.NewRegistry(), nil
	case "simple":
		if cfg.authSimpleID == "" || cfg.authSimpleHash == "" {
			return nil, fmt.Errorf("auth-type simple requires --auth-simple-id and --auth-simple-hash")
		}
		return auth.NewRegistry(auth.NewSimpleVerifier(map[string][]byte{
			cfg.authSimpleID: []byte(cfg.authSimpleHash),
		})), nil
	case "token":
		if cfg.authTokenKey == "" {
			return nil, fmt.Errorf("auth-type token requires --auth-token-key")
		}
		return auth.NewRegistry(auth.NewTokenVerifier([]byte(cfg.authTokenKey))), nil
	default:
		return nil, fmt.Errorf("unsupported auth type %q", cfg.authType)
	}
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
