// Package server orchestrates all components: COMMS client, registry,
// dispatcher, per-entry-point transports and HTTP health.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/rpc-dispatch/internal/config"
	"github.com/morezero/rpc-dispatch/pkg/auth"
	"github.com/morezero/rpc-dispatch/pkg/bootstrap"
	"github.com/morezero/rpc-dispatch/pkg/commsutil"
	"github.com/morezero/rpc-dispatch/pkg/dispatcher"
	"github.com/morezero/rpc-dispatch/pkg/events"
	"github.com/morezero/rpc-dispatch/pkg/handlers/jsonrpc"
	"github.com/morezero/rpc-dispatch/pkg/handlers/xmlrpc"
	"github.com/morezero/rpc-dispatch/pkg/registry"
	"github.com/morezero/rpc-dispatch/pkg/system"
	"github.com/morezero/rpc-dispatch/pkg/telemetry"
)

const logPrefix = "server:server"

// RegisterFunc adds application procedures to the registry at startup.
type RegisterFunc func(reg *registry.Registry) error

// Server serves every bootstrap entry point over COMMS and HTTP.
type Server struct {
	cfg        *config.Config
	nc         *comms.Conn
	bootstrap  *bootstrap.ResolvedBootstrap
	disp       *dispatcher.Dispatcher
	authn      *auth.BasicAuthenticator
	endpoints  []*endpoint
	subs       []*comms.Subscription
	httpServer *http.Server
	started    time.Time
}

// endpoint holds the protocol handlers of one entry point. A nil handler
// means the protocol is disabled for it.
type endpoint struct {
	entry *bootstrap.BootstrapEntryPoint
	json  *jsonrpc.Handler
	xml   *xmlrpc.Handler
}

// New builds a Server for the entry points in rb. nc may be nil when only
// HTTP is served.
func New(cfg *config.Config, rb *bootstrap.ResolvedBootstrap, disp *dispatcher.Dispatcher, nc *comms.Conn, users []bootstrap.BootstrapUser) (*Server, error) {
	s := &Server{
		cfg:       cfg,
		nc:        nc,
		bootstrap: rb,
		disp:      disp,
		authn:     auth.NewBasicAuthenticator(users),
		started:   time.Now(),
	}
	for _, ep := range rb.List() {
		protocols, err := ep.RegistryProtocols()
		if err != nil {
			return nil, err
		}
		e := &endpoint{entry: ep}
		for _, p := range protocols {
			switch p {
			case registry.JSONRPC:
				e.json = jsonrpc.NewHandler(disp, ep.Name)
			case registry.XMLRPC:
				e.xml = xmlrpc.NewHandler(disp, ep.Name)
			}
		}
		s.endpoints = append(s.endpoints, e)
	}
	return s, nil
}

// NewRegistry builds the method registry with the system procedures plus
// whatever register adds.
func NewRegistry(service string, pub events.EventPublisher, register RegisterFunc) (*registry.Registry, error) {
	reg := registry.NewRegistry(registry.NewRegistryParams{
		Publisher: pub,
		Config:    registry.Config{Service: service},
	})
	if err := system.Register(reg); err != nil {
		return nil, fmt.Errorf("%s - failed to register system procedures: %w", logPrefix, err)
	}
	if register != nil {
		if err := register(reg); err != nil {
			return nil, fmt.Errorf("%s - failed to register procedures: %w", logPrefix, err)
		}
	}
	return reg, nil
}

// Run starts the server, blocks until shutdown signal, then cleans up.
func Run(register RegisterFunc) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("%s - failed to load config: %w", logPrefix, err)
	}
	if err := cfg.ValidateForServe(); err != nil {
		return err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})))

	slog.Info(fmt.Sprintf("%s - Starting %s", logPrefix, cfg.COMMSName))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Step 1: Telemetry
	if cfg.OtelStdout {
		shutdownTelemetry, err := telemetry.SetupStdout(os.Stderr, cfg.OtelMetricInterval)
		if err != nil {
			return fmt.Errorf("%s - failed to set up telemetry: %w", logPrefix, err)
		}
		defer func() {
			if err := shutdownTelemetry(context.Background()); err != nil {
				slog.Warn(fmt.Sprintf("%s - telemetry shutdown: %v", logPrefix, err))
			}
		}()
	}

	// Step 2: Load bootstrap config
	bootstrapCfg, err := bootstrap.LoadBootstrapConfig(cfg.BootstrapFile)
	if err != nil {
		return fmt.Errorf("%s - failed to load bootstrap config: %w", logPrefix, err)
	}
	resolved := bootstrap.CreateResolvedBootstrap(bootstrapCfg)

	// Step 3: Connect to COMMS
	nc, err := commsutil.Connect(cfg.COMMSURL, cfg.COMMSName)
	if err != nil {
		return fmt.Errorf("%s - failed to connect to COMMS: %w", logPrefix, err)
	}

	// Step 4: Registry and dispatcher
	changeSubject := cfg.ChangeEventSubject
	if changeSubject == "" {
		changeSubject = resolved.GlobalChangeSubject()
	}
	publisher := events.NewCommsPublisher(nc, &events.CommsPublisherOpts{GlobalChangeSubject: changeSubject})
	reg, err := NewRegistry(cfg.COMMSName, publisher, register)
	if err != nil {
		nc.Close()
		return err
	}
	slog.Info(fmt.Sprintf("%s - Registered %d methods", logPrefix, reg.Count()))

	disp := dispatcher.NewDispatcher(reg)
	tcfg := telemetry.DefaultConfig()
	tcfg.ServiceName = cfg.COMMSName
	telemetry.Instrument(disp, tcfg)

	s, err := New(cfg, resolved, disp, nc, bootstrapCfg.Users)
	if err != nil {
		nc.Close()
		return err
	}

	// Step 5: Subscribe entry points
	if err := s.Subscribe(ctx); err != nil {
		nc.Close()
		return err
	}

	// Step 6: Start HTTP server
	s.httpServer = &http.Server{Addr: cfg.HTTPListenAddr(), Handler: s.Handler()}
	go func() {
		slog.Info(fmt.Sprintf("%s - HTTP server listening on %s", logPrefix, s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			slog.Error(fmt.Sprintf("%s - HTTP server error: %v", logPrefix, err))
		}
	}()

	slog.Info(fmt.Sprintf("%s - %s is ready", logPrefix, cfg.COMMSName))

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info(fmt.Sprintf("%s - Received signal %s, shutting down", logPrefix, sig))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HealthCheckTimeout)
	defer shutdownCancel()
	s.Shutdown(shutdownCtx)

	slog.Info(fmt.Sprintf("%s - Shutdown complete", logPrefix))
	return nil
}

// Shutdown stops accepting requests and drains the COMMS connection.
func (s *Server) Shutdown(ctx context.Context) {
	for _, sub := range s.subs {
		if err := sub.Unsubscribe(); err != nil {
			slog.Warn(fmt.Sprintf("%s - unsubscribe %s: %v", logPrefix, sub.Subject, err))
		}
	}
	s.subs = nil
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			slog.Warn(fmt.Sprintf("%s - HTTP shutdown: %v", logPrefix, err))
		}
	}
	if s.nc != nil {
		if err := s.nc.Drain(); err != nil {
			slog.Warn(fmt.Sprintf("%s - COMMS drain: %v", logPrefix, err))
		}
	}
}
