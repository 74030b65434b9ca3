package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"

	lendingv1 "mmlink/api/lending/v1"
	"mmlink/native/lending"
	"mmlink/observability/logging"
	"mmlink/observability/metrics"
	telemetry "mmlink/observability/otel"
	"mmlink/services/lending/engine"
	"mmlink/services/lending/journal"
	lendingserver "mmlink/services/lending/server"
	"mmlink/services/lendingd/config"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/lendingd/config.yaml", "path to lendingd config")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	env := cfg.Env
	if env == "" {
		env = strings.TrimSpace(os.Getenv("MMLINK_ENV"))
	}
	logger, logCloser := logging.Setup("lendingd", env,
		logging.WithLevel(cfg.Log.Level),
		logging.WithFile(logging.FileConfig{
			Path:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
			Compress:   cfg.Log.Compress,
		}),
	)
	defer logCloser.Close()

	telemetryCfg := telemetry.ConfigFromEnv("lendingd", env)
	telemetryCfg.Attributes["mmlink.backend"] = cfg.Backend.Kind
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetryCfg)
	if err != nil {
		log.Fatalf("init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	logger.Info("config loaded",
		slog.String("backend", cfg.Backend.Kind),
		slog.String("rpc_url", logging.MaskURL(cfg.Backend.EVM.RPCURL)),
		logging.MaskField("jwt_secret", cfg.Auth.JWTSecret))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, env, logger); err != nil {
		logger.Error("lendingd stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, env string, logger *slog.Logger) error {
	backend, err := buildBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer backend.close()

	owner, custody, liqOwner, liqCustody := cfg.Engine.Accounts()
	registry, registryCloser, err := openRegistry(owner, cfg.Registry.Path)
	if err != nil {
		return err
	}
	defer registryCloser.Close()

	var j *journal.Journal
	if cfg.Journal.Path != "" {
		j, err = journal.Open(cfg.Journal.Path, logger.With(slog.String("component", "journal")))
		if err != nil {
			return err
		}
		defer j.Close()
	}
	observers := []lending.Observer{metrics.Lending()}
	if j != nil {
		observers = append(observers, j)
	}
	observer := lending.Observers(observers...)

	eng, err := lending.NewEngine(owner, custody, registry, backend.Backend)
	if err != nil {
		return err
	}
	eng.SetLogger(logger.With(slog.String("component", "engine")))
	eng.SetObserver(observer)

	liq, err := lending.NewLiquidator(liqOwner, liqCustody, backend.Backend)
	if err != nil {
		return err
	}
	liq.SetLogger(logger.With(slog.String("component", "liquidator")))
	liq.SetObserver(observer)

	assets := backend.assets
	if cfg.Registry.Seed != "" {
		seed, err := lending.LoadSeed(cfg.Registry.Seed)
		if err != nil {
			return err
		}
		assets = append(assets, seed.Assets...)
	}
	if err := seedRegistry(ctx, eng, assets, logger); err != nil {
		return err
	}
	go runBlockClock(ctx, backend.sim, cfg.Backend.Sim.BlockInterval)

	local, err := engine.NewLocal(eng, liq)
	if err != nil {
		return err
	}

	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		return err
	}
	if cfg.TLS.AllowInsecure {
		tcpAddr, _ := listener.Addr().(*net.TCPAddr)
		loopback := tcpAddr != nil && tcpAddr.IP != nil && tcpAddr.IP.IsLoopback()
		if !strings.EqualFold(env, "dev") && !loopback {
			_ = listener.Close()
			return errors.New("plaintext lendingd mode is restricted to loopback listeners or dev environment")
		}
	}

	serverCfg := lendingserver.Config{
		TLSCertFile:      cfg.TLS.CertPath,
		TLSKeyFile:       cfg.TLS.KeyPath,
		TLSClientCAFile:  cfg.TLS.ClientCAPath,
		AllowInsecure:    cfg.TLS.AllowInsecure,
		MTLSRequired:     cfg.TLS.MTLSEnabled(),
		AllowedClientCNs: cfg.Auth.MTLS.AllowedCommonNames,
		RateLimitPerMin:  cfg.RateLimitPerMin,
		Auth: lendingserver.AuthConfig{
			JWTSecret: cfg.Auth.JWTSecret,
			Issuer:    cfg.Auth.Issuer,
			Audience:  cfg.Auth.Audience,
			Leeway:    cfg.Auth.Leeway,
		},
		Logger: logger,
	}
	options, err := lendingserver.Interceptors(serverCfg)
	if err != nil {
		_ = listener.Close()
		return err
	}
	creds, err := lendingserver.GrpcServerCreds(serverCfg)
	if err != nil {
		_ = listener.Close()
		return err
	}
	if creds != nil {
		options = append(options, creds)
	}
	options = append(options, grpc.StatsHandler(otelgrpc.NewServerHandler()))
	grpcServer := grpc.NewServer(options...)
	lendingv1.RegisterLendingServiceServer(grpcServer, lendingserver.New(local, logger, lendingserver.NewInterceptorAuthorizer()))

	opsServer := &http.Server{
		Addr:              cfg.OpsListenAddress,
		Handler:           newOpsHandler(j),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErr := make(chan error, 2)
	go func() {
		logger.Info("lendingd listening",
			slog.String("address", cfg.ListenAddress),
			slog.String("backend", cfg.Backend.Kind),
			slog.Int("assets", len(registry.Assets())))
		serverErr <- grpcServer.Serve(listener)
	}()
	go func() {
		logger.Info("ops listening", slog.String("address", cfg.OpsListenAddress))
		if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case runErr = <-serverErr:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = opsServer.Shutdown(shutdownCtx)
	done := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Warn("forcing server stop")
		grpcServer.Stop()
	}
	return runErr
}
