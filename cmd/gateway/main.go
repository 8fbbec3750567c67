package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Bravos-hub/ocpp-gateway/config"
	"github.com/Bravos-hub/ocpp-gateway/internal/api"
	"github.com/Bravos-hub/ocpp-gateway/internal/auth"
	"github.com/Bravos-hub/ocpp-gateway/internal/breaker"
	"github.com/Bravos-hub/ocpp-gateway/internal/bus"
	"github.com/Bravos-hub/ocpp-gateway/internal/bus/inprocbus"
	"github.com/Bravos-hub/ocpp-gateway/internal/commandbus"
	"github.com/Bravos-hub/ocpp-gateway/internal/events"
	"github.com/Bravos-hub/ocpp-gateway/internal/gateway"
	"github.com/Bravos-hub/ocpp-gateway/internal/kv"
	"github.com/Bravos-hub/ocpp-gateway/internal/kv/memkv"
	"github.com/Bravos-hub/ocpp-gateway/internal/kv/pgkv"
	"github.com/Bravos-hub/ocpp-gateway/internal/kv/rediskv"
	"github.com/Bravos-hub/ocpp-gateway/internal/ocpp/adapter"
	"github.com/Bravos-hub/ocpp-gateway/internal/ocpp/auditlog"
	"github.com/Bravos-hub/ocpp-gateway/internal/ocpp/cache"
	"github.com/Bravos-hub/ocpp-gateway/internal/ocpp/schema"
	"github.com/Bravos-hub/ocpp-gateway/internal/ocpp/state"
	"github.com/Bravos-hub/ocpp-gateway/internal/ocpp/v16"
	"github.com/Bravos-hub/ocpp-gateway/internal/ocpp/v201"
	"github.com/Bravos-hub/ocpp-gateway/internal/ocpp/v21"
	"github.com/Bravos-hub/ocpp-gateway/internal/outbound"
	"github.com/Bravos-hub/ocpp-gateway/internal/ratelimit"
	"github.com/Bravos-hub/ocpp-gateway/internal/session"
)

// auditAdapter bridges outbound.AuditWriter to pgkv's Record shape, so
// internal/outbound never imports the storage package directly.
type auditAdapter struct{ sink *pgkv.AuditSink }

func (a auditAdapter) Write(ctx context.Context, rec outbound.AuditRecord) error {
	return a.sink.Write(ctx, pgkv.Record{
		CommandID:     rec.CommandID,
		MessageID:     rec.MessageID,
		ChargePointID: rec.ChargePointID,
		CommandType:   rec.CommandType,
		State:         rec.State,
		Detail:        rec.Detail,
	})
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.WithError(err).Fatal("failed to load configuration")
	}
	cfg.SetupLogger()
	logrus.WithField("nodeId", cfg.NodeID).Info("starting ocpp gateway")

	guard := breaker.New(cfg.CircuitBreakerFailureThreshold, cfg.CircuitBreakerSuccessThreshold, cfg.CircuitBreakerCooldown)

	store, err := buildKVStore(cfg, guard)
	if err != nil {
		logrus.WithError(err).Fatal("failed to initialize kv store")
	}

	b, err := buildBus(cfg)
	if err != nil {
		logrus.WithError(err).Fatal("failed to initialize event bus")
	}

	var auditSink *pgkv.AuditSink
	var auditWriter outbound.AuditWriter
	if cfg.OCPPAuditLogEnabled {
		dsn := cfg.GetDSN()
		if err := pgkv.Migrate(dsn); err != nil {
			logrus.WithError(err).Fatal("failed to migrate command audit schema")
		}
		auditSink, err = pgkv.New(context.Background(), dsn)
		if err != nil {
			logrus.WithError(err).Fatal("failed to connect to command audit database")
		}
		defer auditSink.Close()
		auditWriter = auditAdapter{sink: auditSink}
	}

	schemas := schema.NewRegistry(cfg.SchemaAdditionalPropertiesAllowlist)
	if err := schema.LoadDefaultSchemas(schemas); err != nil {
		logrus.WithError(err).Fatal("failed to load OCPP schemas")
	}

	stateStore := state.New()
	emitter := events.NewEmitter(b, cfg.NodeID)
	respCache := cache.New(store, cfg.ResponseCacheTTL)
	sessions := session.New(store, cfg.SessionTTL, cfg.SessionStaleAfter)

	identities := auth.NewKVIdentityStore(store)
	authn := auth.New(identities, store, auth.Options{
		RequireExplicitProtocolList: cfg.AuthRequireExplicitProtocolList,
		DefaultAllowedModes:         cfg.AuthAllowedModes,
		TrustedProxy:                cfg.AuthTrustedProxy,
		FloodLogCooldown:            cfg.FloodLogCooldown,
	})

	limiter := ratelimit.New(store, ratelimit.Config{
		Window:        cfg.RateLimitWindow,
		MaxPerCharger: cfg.RateLimitMaxPerCharger,
		MaxGlobal:     cfg.RateLimitMaxGlobal,
	})
	floodLog := ratelimit.NewFloodLog(store, cfg.FloodLogCooldown)

	tracker := outbound.NewTracker(schemas)
	auditLogger := auditlog.New(store, cfg.CommandAuditTTL, cfg.OCPPAuditLogEnabled)

	adapters := map[string]adapter.Adapter{
		"1.6J":  v16.New(schemas, stateStore, emitter, sessions, cfg.SchemaStrictMode),
		"2.0.1": v201.New(schemas, stateStore, emitter, sessions, cfg.SchemaStrictMode),
		"2.1":   v21.New(schemas, stateStore, emitter, sessions, cfg.SchemaStrictMode),
	}

	sessionPub := commandbus.NewSessionControlPublisher(b)

	mgr := gateway.New(
		gateway.Config{
			NodeID:              cfg.NodeID,
			BasePath:            cfg.OCPPBasePath,
			MaxPayloadBytes:     cfg.MaxPayloadBytes,
			PendingMessageLimit: cfg.PendingMessageLimit,
			SessionTTL:          cfg.SessionTTL,
			AuthOptions: auth.Options{
				TrustedProxy: cfg.AuthTrustedProxy,
			},
		},
		adapters,
		schemas,
		respCache,
		sessions,
		authn,
		limiter,
		floodLog,
		tracker,
		emitter,
		sessionPub,
		auditLogger,
	)

	dispatcher := outbound.New(schemas, tracker, mgr, auditWriter)

	nodeDirectory := commandbus.NewNodeDirectory(store, cfg.NodeID, cfg.NodeTTL)
	if err := nodeDirectory.Register(context.Background()); err != nil {
		logrus.WithError(err).Fatal("failed to register node directory entry")
	}

	commandConsumer := commandbus.New(b, sessions, mgr, dispatcher, emitter, store, commandbus.Config{
		NodeID:         cfg.NodeID,
		IdempotencyTTL: cfg.CommandIdempotencyTTL,
		DefaultTimeout: cfg.CommandDefaultTimeout,
	})
	stopCommandConsumer, err := commandConsumer.Start(context.Background())
	if err != nil {
		logrus.WithError(err).Fatal("failed to start command consumer")
	}

	sessionControlConsumer := commandbus.NewSessionControlConsumer(b, cfg.NodeID, mgr)
	stopSessionControl, err := sessionControlConsumer.Start(context.Background())
	if err != nil {
		logrus.WithError(err).Fatal("failed to start session control consumer")
	}

	heartbeatCtx, cancelHeartbeat := context.WithCancel(context.Background())
	go runNodeHeartbeat(heartbeatCtx, nodeDirectory, cfg.NodeHeartbeat)

	gatewayMux := http.NewServeMux()
	gatewayMux.Handle(cfg.OCPPBasePath+"/", mgr)
	gatewayServer := &http.Server{Addr: fmt.Sprintf(":%d", cfg.GatewayPort), Handler: gatewayMux}

	handler := api.NewHandler(sessions, stateStore, mgr, cfg.NodeID)
	adminServer := &http.Server{Addr: fmt.Sprintf(":%d", cfg.AdminPort), Handler: api.NewAPI(handler)}

	go func() {
		logrus.WithField("port", cfg.GatewayPort).Info("starting OCPP gateway listener")
		if err := gatewayServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("gateway listener failed")
		}
	}()
	go func() {
		logrus.WithField("port", cfg.AdminPort).Info("starting admin HTTP listener")
		if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("admin listener failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("shutting down gateway...")

	cancelHeartbeat()
	stopCommandConsumer()
	stopSessionControl()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	mgr.Shutdown(shutdownCtx)

	if err := gatewayServer.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Error("gateway listener forced to shutdown")
	}
	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Error("admin listener forced to shutdown")
	}

	logrus.Info("gateway exited")
}

func buildKVStore(cfg *config.Config, guard *breaker.Guard) (kv.Store, error) {
	switch cfg.KVBackend {
	case "redis":
		return rediskv.New(rediskv.Config{Addr: cfg.RedisAddr}, guard)
	case "memory", "":
		return memkv.New(), nil
	default:
		return nil, fmt.Errorf("unknown KV_BACKEND %q", cfg.KVBackend)
	}
}

func buildBus(cfg *config.Config) (bus.Bus, error) {
	switch cfg.BusBackend {
	case "memory", "":
		return inprocbus.New(), nil
	default:
		return nil, fmt.Errorf("unknown BUS_BACKEND %q", cfg.BusBackend)
	}
}

func runNodeHeartbeat(ctx context.Context, dir *commandbus.NodeDirectory, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := dir.Heartbeat(ctx); err != nil {
				logrus.WithError(err).Warn("node directory heartbeat failed")
			}
		}
	}
}
