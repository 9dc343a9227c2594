// server runs the session agent: it restores or establishes the signed-in identity,
// resolves the active organization and serves gRPC health for the combined state.
package main

import (
	"context"
	"log"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"site-scheduler/backend/internal/audit"
	auditrepo "site-scheduler/backend/internal/audit/repository"
	"site-scheduler/backend/internal/config"
	"site-scheduler/backend/internal/db"
	"site-scheduler/backend/internal/health"
	"site-scheduler/backend/internal/identity/provider"
	loginrepo "site-scheduler/backend/internal/identity/repository"
	membershiprepo "site-scheduler/backend/internal/membership/repository"
	"site-scheduler/backend/internal/policy/engine"
	policyrepo "site-scheduler/backend/internal/policy/repository"
	"site-scheduler/backend/internal/security"
	"site-scheduler/backend/internal/selection"
	"site-scheduler/backend/internal/server"
	sessionrepo "site-scheduler/backend/internal/session/repository"
	"site-scheduler/backend/internal/telemetry"
	telemetryotel "site-scheduler/backend/internal/telemetry/otel"
	"site-scheduler/backend/internal/telemetry/producer"
	"site-scheduler/backend/internal/tenancy"
	userrepo "site-scheduler/backend/internal/user/repository"
)

const healthRecheckInterval = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	providers, err := telemetryotel.NewProviders(ctx, telemetryotel.Options{
		Endpoint:    cfg.OTLPEndpoint,
		ServiceName: "site-scheduler-session",
		Environment: cfg.Env,
		Insecure:    cfg.OTLPInsecure,
	})
	if err != nil {
		log.Fatalf("otel: %v", err)
	}
	providers.SetGlobal()

	metrics, err := telemetry.NewMetrics()
	if err != nil {
		log.Printf("telemetry: metrics disabled: %v", err)
	}
	emitters := telemetry.Fanout{telemetryotel.NewEventEmitter(providers.LoggerProvider)}
	kafkaProducer, err := producer.NewKafkaProducer(cfg.TelemetryKafkaBrokersList(), cfg.TelemetryKafkaTopic)
	if err != nil {
		log.Fatalf("kafka: %v", err)
	}
	if kafkaProducer != nil {
		emitters = append(emitters, kafkaProducer)
		log.Printf("telemetry: streaming session events to kafka topic %s", cfg.TelemetryKafkaTopic)
	}

	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()

	priv, pub, err := security.LoadKeyPair(cfg.JWTPrivateKey, cfg.JWTPublicKey)
	if err != nil {
		log.Fatalf("jwt keys: %v", err)
	}
	tokens := security.NewTokenProvider(priv, pub, cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL(), cfg.RefreshTTL())
	hasher := security.NewHasher(cfg.BcryptCost)

	creds, err := provider.NewFileCredentialStore(cfg.StateDir)
	if err != nil {
		log.Fatalf("credentials: %v", err)
	}
	sel, err := selection.NewFileStore(cfg.StateDir)
	if err != nil {
		log.Fatalf("selection: %v", err)
	}

	local := provider.NewLocalProvider(
		userrepo.NewPostgresRepository(conn),
		loginrepo.NewPostgresRepository(conn),
		sessionrepo.NewPostgresRepository(conn),
		tokens, hasher, creds,
		provider.Config{RefreshMargin: cfg.RefreshMargin()},
	)
	defer local.Close()

	eval, err := engine.NewOPAEvaluator(ctx, policyrepo.NewPostgresRepository(conn))
	if err != nil {
		log.Fatalf("policy engine: %v", err)
	}

	mgr, err := tenancy.New(local, membershiprepo.NewPostgresRepository(conn), sel, tenancy.Options{
		InitTimeout:   cfg.AuthInitTimeout(),
		FetchTimeout:  cfg.MembershipFetchTimeout(),
		MaxRetries:    cfg.MembershipMaxRetries,
		RetryMaxDelay: cfg.MembershipRetryDelayCap(),
		RoleStaleTime: cfg.RoleStaleDuration(),
		CacheSize:     cfg.CacheSize,
		Evaluator:     eval,
		Audit:         audit.NewLogger(auditrepo.NewPostgresRepository(conn)),
		Emitter:       emitters,
		Metrics:       metrics,
	})
	if err != nil {
		log.Fatalf("tenancy: %v", err)
	}

	reporter := health.NewReporter(conn, eval, mgr.Ready)
	authSettled := make(chan struct{})
	var settleOnce sync.Once
	mgr.Subscribe(func(s tenancy.Snapshot) {
		reporter.Update(ctx)
		if !s.IsAuthLoading {
			settleOnce.Do(func() { close(authSettled) })
		}
		if !s.IsLoading {
			log.Printf("server: user=%s org=%s role=%s orgs=%d err=%v",
				userOf(s), s.OrganizationID, s.Role, len(s.AllOrganizations), s.Err)
		}
	})

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatalf("listen: %v", err)
	}
	defer lis.Close()

	s := server.New(server.Deps{
		Health:        reporter.Server(),
		Emitter:       emitters,
		Scope:         mgr.ScopedContext,
		SkipTelemetry: map[string]bool{"/grpc.health.v1.Health/Check": !cfg.TelemetryHealthChecks},
	})

	go func() {
		log.Printf("gRPC health listening on %s", cfg.GRPCAddr)
		if err := s.Serve(lis); err != nil {
			log.Fatalf("serve: %v", err)
		}
	}()

	mgr.Init(ctx)

	if cfg.DevLoginEnabled() {
		go devLogin(ctx, local, mgr, authSettled, cfg.DevLoginEmail, cfg.DevLoginPassword)
	}

	go func() {
		t := time.NewTicker(healthRecheckInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				reporter.Update(ctx)
			}
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("shutting down session agent...")
	reporter.Shutdown()
	s.GracefulStop()
	mgr.Teardown()
	cancel()

	// Let in-flight async telemetry emits finish before the providers go away.
	time.Sleep(telemetry.ShutdownDrainDuration)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := providers.Shutdown(shutdownCtx); err != nil {
		log.Printf("otel shutdown: %v", err)
	}
	if err := kafkaProducer.Close(); err != nil {
		log.Printf("kafka close: %v", err)
	}
	log.Println("session agent stopped")
}

// devLogin signs in with the configured dev credentials once the provider has
// reported its initial state, unless a session was restored.
func devLogin(ctx context.Context, local *provider.LocalProvider, mgr *tenancy.Manager, settled <-chan struct{}, email, password string) {
	select {
	case <-settled:
	case <-ctx.Done():
		return
	}
	if mgr.Snapshot().Identity != nil {
		return
	}
	if _, err := local.SignIn(ctx, email, password); err != nil {
		log.Printf("server: dev login for %s failed: %v", email, err)
	}
}

func userOf(s tenancy.Snapshot) string {
	if s.Identity == nil {
		return "-"
	}
	return s.Identity.Email
}
