package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"rolegate/pkg/approval"
	"rolegate/pkg/audit"
	"rolegate/pkg/auth"
	"rolegate/pkg/bus"
	"rolegate/pkg/hardening"
	"rolegate/pkg/httpx"
	"rolegate/pkg/keys"
	"rolegate/pkg/metrics"
	"rolegate/pkg/models"
	"rolegate/pkg/policy"
	"rolegate/pkg/ratelimit"
	"rolegate/pkg/rbac"
	"rolegate/pkg/store"
	"rolegate/pkg/stream"
	"rolegate/pkg/telemetry"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
)

type adminDB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// gatedAction is the effect a pending approval session executes on quorum.
type gatedAction struct {
	Kind      string
	Actor     string
	UserIDs   []string
	NewStatus string
	Policy    models.ConsensusPolicy
}

const (
	actionPolicyUpdate   = "Policy Update"
	actionUserRevoke     = "User Revocation"
	actionUserSuspend    = "User Suspension"
	actionBulkUserUpdate = "Bulk User Update"
)

type Server struct {
	DB                  adminDB
	Durable             *audit.PostgresRecorder
	Cache               store.Cache
	Redis               *redis.Client
	Metrics             *metrics.Registry
	Events              *stream.Hub
	Engine              *approval.Engine
	Audit               *audit.Trail
	RateLimiter         ratelimit.Limiter
	RateLimitEnabled    bool
	RateLimitPerMinute  int
	AuthMode            string
	AuthSecret          string
	MaxRequestBodyBytes int64
	ExpiryInterval      time.Duration

	mu          sync.RWMutex
	users       map[string]*models.User
	permissions []models.Permission
	permMeta    models.PermissionUpdate
	policy      models.ConsensusPolicy
	pending     map[string]gatedAction
}

type (
	serviceInitTelemetryFunc func(ctx context.Context, serviceName string) (func(context.Context) error, error)
	serviceOpenDBFunc        func(ctx context.Context) (adminDBCloser, error)
	serviceOpenRedisFunc     func(ctx context.Context) (*redis.Client, error)
	serviceListenFunc        func(server *http.Server) error
	serviceStartLoopsFunc    func(s *Server)
)

type adminDBCloser interface {
	adminDB
	Close()
}

// Testable variables for main()
var (
	logFatalf      = log.Fatalf
	initTelemetryG = telemetry.Init
	openDBFnG      = func(ctx context.Context) (adminDBCloser, error) { return store.NewPostgresPool(ctx) }
	openRedisFnG   = store.NewRedis
	listenFnG      = func(server *http.Server) error { return server.ListenAndServe() }
	startLoopsFnG  = func(s *Server) {
		go s.expireSessionsLoop(context.Background())
		go s.metricsLoop(context.Background())
	}
)

func main() {
	if err := runService(initTelemetryG, openDBFnG, openRedisFnG, listenFnG, startLoopsFnG); err != nil {
		logFatalf("admind: %v", err)
	}
}

func runService(
	initTelemetry serviceInitTelemetryFunc,
	openDB serviceOpenDBFunc,
	openRedis serviceOpenRedisFunc,
	listen serviceListenFunc,
	startLoops serviceStartLoopsFunc,
) error {
	ctx := context.Background()
	shutdown, err := initTelemetry(ctx, "admind")
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	var db adminDB
	if env("DATABASE_ENABLED", "false") == "true" {
		pool, err := openDB(ctx)
		if err != nil {
			return fmt.Errorf("db: %w", err)
		}
		defer pool.Close()
		if err := store.EnsureSchema(ctx, pool); err != nil {
			return fmt.Errorf("db schema: %w", err)
		}
		db = pool
	}

	redisClient, err := openRedis(ctx)
	if err != nil {
		log.Printf("redis unavailable, falling back to in-memory cache/limits: %v", err)
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close()
	}
	cache := store.NewCache(ctx, redisClient)

	rateLimitEnabled := env("RATE_LIMIT_ENABLED", "true") == "true"
	rateLimitWindow := envDurationSec("RATE_LIMIT_WINDOW_SEC", 60)
	if rateLimitWindow <= 0 {
		rateLimitWindow = time.Minute
	}
	maxRequestBodyBytes := int64(envInt("MAX_REQUEST_BODY_BYTES", 1<<20))
	if maxRequestBodyBytes <= 0 {
		maxRequestBodyBytes = 1 << 20
	}
	approvalTimeout := time.Minute * time.Duration(envInt("APPROVAL_TIMEOUT_MIN", 30))
	expiryInterval := envDurationSec("APPROVAL_EXPIRY_INTERVAL_SEC", 1)
	if expiryInterval <= 0 {
		expiryInterval = time.Second
	}

	registry := metrics.NewRegistry()
	auditOpts := []audit.Option{}
	if seed := strings.TrimSpace(env("AUDIT_SIGNING_KEY", "")); seed != "" {
		signer, err := keys.NewEntrySigner(seed)
		if err != nil {
			return fmt.Errorf("audit signing key: %w", err)
		}
		auditOpts = append(auditOpts, audit.WithSigner(signer))
	}
	recorders := audit.MultiRecorder{auditMetricsRecorder{reg: registry}}
	var durable *audit.PostgresRecorder
	if db != nil {
		durable = &audit.PostgresRecorder{DB: db}
		recorders = append(recorders, durable)
	}
	kafkaBrokers := strings.TrimSpace(env("AUDIT_KAFKA_BROKERS", ""))
	kafkaTopic := env("AUDIT_KAFKA_TOPIC", "rolegate.audit")
	if kafkaBrokers != "" {
		publisher, err := bus.NewKafkaPublisher(bus.KafkaConfig{
			Brokers: strings.Split(kafkaBrokers, ","),
			Topic:   kafkaTopic,
		})
		if err != nil {
			return fmt.Errorf("kafka: %w", err)
		}
		defer func() { _ = publisher.Close() }()
		recorders = append(recorders, bus.NewAuditRecorder(publisher))
	}
	auditOpts = append(auditOpts, audit.WithRecorder(recorders))

	s := &Server{
		DB:                  db,
		Durable:             durable,
		Cache:               cache,
		Redis:               redisClient,
		Metrics:             registry,
		Events:              stream.NewHub(),
		Audit:               audit.NewTrail(auditOpts...),
		RateLimitEnabled:    rateLimitEnabled,
		RateLimitPerMinute:  envInt("RATE_LIMIT_PER_MINUTE", 240),
		AuthMode:            env("AUTH_MODE", "hs256"),
		AuthSecret:          env("AUTH_HS256_SECRET", ""),
		MaxRequestBodyBytes: maxRequestBodyBytes,
		ExpiryInterval:      expiryInterval,
		users:               map[string]*models.User{},
		permissions:         rbac.DefaultPermissions(),
		policy:              policy.Default(),
		pending:             map[string]gatedAction{},
	}
	s.Engine = approval.NewEngine(
		approval.WithTimeout(approvalTimeout),
		approval.WithTransitionHook(s.onSessionTransition),
	)

	runtimeEnv := env("ENVIRONMENT", env("APP_ENV", ""))
	if strings.EqualFold(s.AuthMode, "off") {
		if env("ALLOW_INSECURE_AUTH_OFF", "false") != "true" {
			return errors.New("AUTH_MODE=off is disabled unless ALLOW_INSECURE_AUTH_OFF=true")
		}
	}
	if err := hardening.ValidateProduction(hardening.Options{
		Service:               "admind",
		Environment:           runtimeEnv,
		StrictProdSecurity:    env("STRICT_PROD_SECURITY", "true"),
		AuthMode:              s.AuthMode,
		DatabaseRequireTLS:    env("DATABASE_REQUIRE_TLS", ""),
		RedisAddr:             env("REDIS_ADDR", ""),
		RedisRequireTLS:       env("REDIS_REQUIRE_TLS", ""),
		RedisTLSInsecure:      env("REDIS_TLS_INSECURE", ""),
		RedisAllowInsecureTLS: env("REDIS_ALLOW_INSECURE_TLS", ""),
		CORSAllowedOrigins:    env("CORS_ALLOWED_ORIGINS", ""),
		RequiredServiceSecrets: []hardening.EnvRequirement{
			{Name: "AUTH_HS256_SECRET", Value: s.AuthSecret},
		},
	}); err != nil {
		return err
	}
	if s.RateLimitEnabled {
		if redisClient != nil {
			s.RateLimiter = ratelimit.NewRedis(redisClient, rateLimitWindow)
		} else {
			s.RateLimiter = ratelimit.NewInMemory(rateLimitWindow)
		}
	}
	if err := s.bootstrapOwner(ctx); err != nil {
		return err
	}

	// a consumer group id marks this instance as a mirror: it forwards audit
	// entries published by peers onto the local event stream
	if groupID := strings.TrimSpace(env("AUDIT_KAFKA_GROUP_ID", "")); groupID != "" && kafkaBrokers != "" {
		consumer, err := bus.NewKafkaConsumer(bus.KafkaConfig{
			Brokers: strings.Split(kafkaBrokers, ","),
			Topic:   kafkaTopic,
			GroupID: groupID,
		})
		if err != nil {
			return fmt.Errorf("kafka: %w", err)
		}
		defer func() { _ = consumer.Close() }()
		go s.auditMirrorLoop(ctx, consumer)
	}

	r := chi.NewRouter()
	r.Use(httpx.CORSMiddleware(env("CORS_ALLOWED_ORIGINS", "")))
	r.Use(httpx.SecurityHeadersMiddleware)
	r.Use(s.metricsMiddleware)
	r.Use(telemetry.HTTPMiddleware("admind"))
	r.Use(httpx.MaxBodyMiddleware(s.MaxRequestBodyBytes))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, 200, map[string]string{"status": "ok", "service": "admind"})
	})

	admins := []string{
		string(models.RoleSuperAdmin),
		string(models.RoleOwner),
		string(models.RoleComplianceManager),
		string(models.RoleComplianceOfficer),
	}
	owners := []string{string(models.RoleSuperAdmin), string(models.RoleOwner)}
	signers := []string{
		string(models.RoleSuperAdmin),
		string(models.RoleOwner),
		string(models.RoleComplianceManager),
		string(models.RoleComplianceOfficer),
	}

	authRouter := chi.NewRouter()
	authRouter.Use(auth.Middleware(s.AuthMode, s.AuthSecret, env("AUTH_ISSUER", ""), env("AUTH_AUDIENCE", "")))
	authRouter.Use(s.rateLimitMiddleware)
	authRouter.Get("/metrics", s.Metrics.Handler())
	authRouter.Get("/metrics/prometheus", s.Metrics.PrometheusHandler())
	authRouter.Get("/v1/users", s.withRoles(s.listUsers, admins...))
	authRouter.Post("/v1/users", s.withRoles(s.createUser, owners...))
	authRouter.Post("/v1/users/{user_id}/revoke", s.withRoles(s.revokeUser, owners...))
	authRouter.Post("/v1/users/{user_id}/suspend", s.withRoles(s.suspendUser, owners...))
	authRouter.Post("/v1/users/{user_id}/activate", s.withRoles(s.activateUser, owners...))
	authRouter.Post("/v1/users/bulk", s.withRoles(s.bulkUserAction, owners...))
	authRouter.Get("/v1/permissions", s.withRoles(s.getPermissions, admins...))
	authRouter.Put("/v1/permissions", s.withRoles(s.putPermissions, owners...))
	authRouter.Get("/v1/policy", s.withRoles(s.getPolicy, admins...))
	authRouter.Put("/v1/policy", s.withRoles(s.putPolicy, owners...))
	authRouter.Get("/v1/approvals", s.withRoles(s.listApprovals, admins...))
	authRouter.Get("/v1/approvals/{session_id}", s.withRoles(s.getApproval, admins...))
	authRouter.Post("/v1/approvals/{session_id}/approve", s.withRoles(s.approveSession, signers...))
	authRouter.Post("/v1/approvals/{session_id}/reject", s.withRoles(s.rejectSession, signers...))
	authRouter.Post("/v1/approvals/{session_id}/cancel", s.withRoles(s.cancelSession, owners...))
	authRouter.Get("/v1/audit", s.withRoles(s.listAudit, admins...))
	authRouter.Get("/v1/audit/export", s.withRoles(s.exportAudit, admins...))
	authRouter.Get("/v1/stream", s.withRoles(s.streamEvents, admins...))
	r.Mount("/", authRouter)

	if startLoops != nil {
		startLoops(s)
	}

	addr := env("ADDR", ":8080")
	log.Printf("admind listening on %s", addr)
	server := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: envDurationSec("HTTP_READ_HEADER_TIMEOUT_SEC", 5),
		ReadTimeout:       envDurationSec("HTTP_READ_TIMEOUT_SEC", 15),
		WriteTimeout:      envDurationSec("HTTP_WRITE_TIMEOUT_SEC", 30),
		IdleTimeout:       envDurationSec("HTTP_IDLE_TIMEOUT_SEC", 120),
	}
	if listen == nil {
		return errors.New("listen function required")
	}
	return listen(server)
}

// bootstrapOwner seeds the initial Owner account so the panel has at least
// one signer-eligible user on an empty directory.
func (s *Server) bootstrapOwner(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.users) > 0 {
		return nil
	}
	name := env("BOOTSTRAP_OWNER_NAME", "Platform Owner")
	email := env("BOOTSTRAP_OWNER_EMAIL", "owner@rolegate.local")
	user, err := s.newUserLocked(ctx, models.UserCreateRequest{Name: name, Email: email, Role: models.RoleOwner})
	if err != nil {
		return fmt.Errorf("bootstrap owner: %w", err)
	}
	log.Printf("bootstrapped owner account %s (%s)", user.ID, user.Email)
	return nil
}

func (s *Server) expireSessionsLoop(ctx context.Context) {
	ticker := time.NewTicker(s.ExpiryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			expired := s.Engine.TickAll(now.UTC())
			for _, session := range expired {
				log.Printf("approval session %s expired (%s)", session.ID, session.ActionType)
			}
		}
	}
}

// auditMetricsRecorder bumps the audit counter on every trail append.
type auditMetricsRecorder struct {
	reg *metrics.Registry
}

func (r auditMetricsRecorder) Record(ctx context.Context, entry models.AuditLogEntry) error {
	r.reg.IncAuditEntries()
	return nil
}

func (s *Server) metricsLoop(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Metrics.SetGauge("pending_sessions", float64(len(s.Engine.List(approval.Pending))))
			s.Metrics.SetGauge("audit_entries", float64(s.Audit.Len()))
			s.Metrics.SetGauge("stream_subscribers", float64(s.Events.SubscriberCount()))
			s.mu.RLock()
			s.Metrics.SetGauge("users", float64(len(s.users)))
			s.mu.RUnlock()
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (s *statusRecorder) WriteHeader(statusCode int) {
	s.code = statusCode
	s.ResponseWriter.WriteHeader(statusCode)
}

func (srv *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: 200}
		next.ServeHTTP(rec, r)
		srv.Metrics.Observe(r.Method+" "+r.URL.Path, rec.code, time.Since(start))
	})
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.RateLimitEnabled || s.RateLimiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		key := r.RemoteAddr
		if principal, ok := auth.PrincipalFromContext(r.Context()); ok && principal.Subject != "" {
			key = principal.Subject
		}
		decision := s.RateLimiter.Allow(key, s.RateLimitPerMinute)
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		if !decision.Allowed {
			retryAfter := int(time.Until(decision.ResetAt).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			httpx.Error(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) withRoles(h http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if strings.EqualFold(s.AuthMode, "off") {
			h(w, r)
			return
		}
		principal, ok := auth.PrincipalFromContext(r.Context())
		if !ok {
			httpx.Error(w, 401, "unauthenticated")
			return
		}
		if !auth.HasAnyRole(principal, roles...) {
			httpx.Error(w, 403, "forbidden")
			return
		}
		h(w, r)
	}
}

// actor resolves the acting identity for audit entries.
func actor(r *http.Request) string {
	if principal, ok := auth.PrincipalFromContext(r.Context()); ok && principal.Subject != "" {
		return principal.Subject
	}
	return "anonymous"
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func envDurationSec(k string, def int) time.Duration {
	return time.Second * time.Duration(envInt(k, def))
}
