// Package main is the entry point for the fabric load-client binary: it
// dials a coordinator's control (and, optionally, stat) port, handshakes,
// and runs HTTP/TCP load workloads for whatever jobs the coordinator
// dispatches to it (spec.md §4.5.1/§4.5.2, §6 load-client role).
//
// Startup sequence mirrors the teacher's cmd/agent/main.go: parse flags,
// build the logger, build the leaf-collaborator registry, then hand off to
// the reconnect-and-serve loop until SIGINT/SIGTERM.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/loadfabric/loadfabric/internal/loadgen"
	"github.com/loadfabric/loadfabric/internal/obsv"
	"github.com/loadfabric/loadfabric/internal/protocol"
	"github.com/loadfabric/loadfabric/internal/worker"
	"github.com/loadfabric/loadfabric/internal/workerconn"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type config struct {
	controlAddr string
	statAddr    string
	logLevel    string

	clientVersion string
	clientID      string

	authType        string
	authID          string
	authCredentials string

	requestServerAuth bool
	restrictedMode    bool
	supportsTimeSync  bool

	handshakeTimeout time.Duration
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
		Use:   "fabric-loadclient",
		Short: "Fabric load client — runs HTTP/TCP load threads dispatched by a coordinator",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, cfg)
		},
	}

	root.AddCommand(newVersionCmd())

	root.PersistentFlags().StringVar(&cfg.controlAddr, "coordinator-addr", envOrDefault("FABRIC_COORDINATOR_ADDR", "localhost:7000"), "Coordinator control-port address")
	root.PersistentFlags().StringVar(&cfg.statAddr, "coordinator-stat-addr", envOrDefault("FABRIC_COORDINATOR_STAT_ADDR", ""), "Coordinator stat-port address (empty disables real-time stat streaming)")
	root.PersistentFlags().StringVar(&cfg.logLevel, "log-level", envOrDefault("FABRIC_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")

	root.PersistentFlags().StringVar(&cfg.clientVersion, "client-version", envOrDefault("FABRIC_CLIENT_VERSION", version), "Version string presented in Client-Hello")
	root.PersistentFlags().StringVar(&cfg.clientID, "client-id", envOrDefault("FABRIC_CLIENT_ID", uuid.NewString()), "Client identity presented to the coordinator")

	root.PersistentFlags().StringVar(&cfg.authType, "auth-type", envOrDefault("FABRIC_AUTH_TYPE", "none"), "Auth scheme presented in Client-Hello: none, simple, or token")
	root.PersistentFlags().StringVar(&cfg.authID, "auth-id", envOrDefault("FABRIC_AUTH_ID", ""), "Auth ID presented in Client-Hello")
	root.PersistentFlags().StringVar(&cfg.authCredentials, "auth-credentials", envOrDefault("FABRIC_AUTH_CREDENTIALS", ""), "Auth credentials (password or bearer token) presented in Client-Hello")

	root.PersistentFlags().BoolVar(&cfg.requestServerAuth, "request-server-auth", false, "Ask the coordinator to authenticate itself back to this client")
	root.PersistentFlags().BoolVar(&cfg.restrictedMode, "restricted-mode", false, "Advertise restricted mode (the coordinator assigns this client only to jobs that name it by client ID)")
	root.PersistentFlags().BoolVar(&cfg.supportsTimeSync, "supports-time-sync", true, "Advertise support for clock-skew correction during the handshake")

	root.PersistentFlags().DurationVar(&cfg.handshakeTimeout, "handshake-timeout", 10*time.Second, "Bound on Client-Hello/Hello-Response completion")

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("fabric-loadclient %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func run(cmd *cobra.Command, cfg *config) error {
	logger, err := obsv.BuildLogger(cfg.logLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	var auth *protocol.AuthCredentials
	if cfg.authType != "none" && cfg.authType != "" {
		t, err := parseAuthType(cfg.authType)
		if err != nil {
			return err
		}
		auth = &protocol.AuthCredentials{Type: t, ID: cfg.authID, Credentials: []byte(cfg.authCredentials)}
	}

	registry := worker.NewRegistry()
	registry.Register("http", func() worker.Workload { return loadgen.NewHTTPWorkload() })
	registry.Register("tcp", func() worker.Workload { return loadgen.NewTCPWorkload() })

	runner := workerconn.New(workerconn.Config{
		ControlAddr:       cfg.controlAddr,
		StatAddr:          cfg.statAddr,
		ClientVersion:     cfg.clientVersion,
		ClientID:          cfg.clientID,
		Auth:              auth,
		RequestServerAuth: cfg.requestServerAuth,
		RestrictedMode:    cfg.restrictedMode,
		SupportsTimeSync:  cfg.supportsTimeSync,
		HandshakeTimeout:  cfg.handshakeTimeout,
		Registry:          registry,
	}, logger)

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Info("starting fabric load client",
		zap.String("client_id", cfg.clientID),
		zap.String("coordinator_addr", cfg.controlAddr))
	runner.Run(ctx)
	logger.Info("fabric load client stopped")
	return nil
}

func parseAuthType(s string) (protocol.AuthType, error) {
	switch s {
	case "simple":
		return protocol.AuthSimple, nil
	case "token":
		return protocol.AuthToken, nil
	case "oauth":
		return protocol.AuthOAuth, nil
	default:
		return 0, fmt.Errorf("unsupported auth type %q", s)
	}
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
