// Package engine assembles the session lifecycle engine from configuration:
// store, validator, event bus, authorizer, quota, notification channels, and
// observability. Embedding applications construct one Engine at startup and
// drive sessions through Engine.Lifecycle.
package engine

import (
	"context"
	"fmt"
	"log"

	"twentymin-coach/backend/internal/auth"
	"twentymin-coach/backend/internal/auth/policy"
	"twentymin-coach/backend/internal/config"
	"twentymin-coach/backend/internal/eventbus"
	"twentymin-coach/backend/internal/health"
	"twentymin-coach/backend/internal/notify"
	"twentymin-coach/backend/internal/observability"
	"twentymin-coach/backend/internal/session/domain"
	"twentymin-coach/backend/internal/session/service"
	"twentymin-coach/backend/internal/session/store"
	"twentymin-coach/backend/internal/session/validate"
	"twentymin-coach/backend/internal/subscription"
)

// Engine is the assembled session lifecycle engine.
type Engine struct {
	Lifecycle *service.Lifecycle
	Bus       *eventbus.Bus
	Verifier  *auth.Verifier // nil when JWT_PUBLIC_KEY is unset
	Health    *health.Checker

	kafka     *notify.KafkaDispatcher
	notifier  *notify.Attachment
	providers *observability.Providers
}

// New assembles the engine from cfg. Optional collaborators degrade
// gracefully: without STORE_BASE_URL an in-memory store is used, without
// SUBSCRIPTION_BASE_URL quota is not enforced, without KAFKA_BROKERS or
// PUSH_GATEWAY_URL the matching channel is skipped, and without OTLP_ENDPOINT
// observability is a no-op.
func New(ctx context.Context, cfg *config.Config) (*Engine, error) {
	domain.SessionCeiling = cfg.Ceiling()
	domain.EndWarning = cfg.EndWarning()

	var st store.Store
	if cfg.StoreBaseURL != "" {
		st = store.NewAPIClient(cfg.StoreBaseURL, cfg.StoreAPIKey, cfg.StoreTimeout())
	} else {
		log.Println("engine: STORE_BASE_URL unset, using in-memory session store")
		st = store.NewMemoryStore()
	}

	var quota service.Quota
	if cfg.SubscriptionBaseURL != "" {
		quota = subscription.NewAPIQuota(cfg.SubscriptionBaseURL, cfg.SubscriptionAPIKey, cfg.StoreTimeout())
	} else {
		log.Println("engine: SUBSCRIPTION_BASE_URL unset, quota not enforced")
		quota = subscription.StaticQuota{Sessions: 1}
	}

	authz, err := policy.NewOPAAuthorizer()
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	var verifier *auth.Verifier
	if cfg.JWTPublicKey != "" {
		verifier, err = auth.NewVerifier(cfg.JWTPublicKey, cfg.JWTIssuer, cfg.JWTAudience)
		if err != nil {
			return nil, fmt.Errorf("engine: JWT public key: %w", err)
		}
	}

	bus := eventbus.New()
	lifecycle := service.NewLifecycle(st, validate.NewSessionValidator(), bus, authz, quota)

	providers, err := observability.NewProviders(ctx, cfg.OTLPEndpoint, "session-engine", cfg.OTLPInsecure)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	providers.SetGlobal()
	monitor, err := observability.NewEventMonitor(providers.MeterProvider, providers.LoggerProvider)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	monitor.Attach(bus)

	fanout := notify.NewFanout()
	kafkaDisp := notify.NewKafkaDispatcher(cfg.KafkaBrokersList(), cfg.SessionEventsTopic)
	if kafkaDisp != nil {
		fanout.Add("kafka", kafkaDisp)
	}
	if push := notify.NewPushClient(cfg.PushGatewayURL, cfg.PushGatewayAPIKey); push != nil {
		fanout.Add("push", push)
	}
	notifier := notify.Attach(bus, "fanout", fanout)

	checker := health.NewChecker()
	checker.Register("policy", authz.HealthCheck)
	checker.Register("store", func(ctx context.Context) error {
		_, err := st.Get(ctx, "healthcheck")
		return err
	})

	return &Engine{
		Lifecycle: lifecycle,
		Bus:       bus,
		Verifier:  verifier,
		Health:    checker,
		kafka:     kafkaDisp,
		notifier:  notifier,
		providers: providers,
	}, nil
}

// Shutdown drains in-flight notification dispatches and closes the engine's
// external connections.
func (e *Engine) Shutdown(ctx context.Context) error {
	if !e.notifier.Drain(notify.ShutdownDrainDuration) {
		log.Printf("engine: notification drain timed out after %s", notify.ShutdownDrainDuration)
	}
	var lastErr error
	if err := e.kafka.Close(); err != nil {
		log.Printf("engine: kafka close: %v", err)
		lastErr = err
	}
	if e.providers != nil {
		if err := e.providers.Shutdown(ctx); err != nil {
			lastErr = err
		}
	}
	e.Bus.ClearAll()
	return lastErr
}
