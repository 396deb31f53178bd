// Package server wires configuration into the HTTP engine: stores, the
// realtime hub, the broadcast transport and the optional Keycloak and
// MinIO integrations.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gogotex/collabdocs/handlers"
	"github.com/gogotex/collabdocs/internal/broadcast"
	"github.com/gogotex/collabdocs/internal/config"
	"github.com/gogotex/collabdocs/internal/database"
	"github.com/gogotex/collabdocs/internal/document"
	"github.com/gogotex/collabdocs/internal/document/handler"
	"github.com/gogotex/collabdocs/internal/document/service"
	"github.com/gogotex/collabdocs/internal/oidc"
	"github.com/gogotex/collabdocs/internal/presence"
	"github.com/gogotex/collabdocs/internal/realtime"
	"github.com/gogotex/collabdocs/internal/sessions"
	"github.com/gogotex/collabdocs/internal/storage"
	"github.com/gogotex/collabdocs/internal/tokens"
	"github.com/gogotex/collabdocs/internal/users"
	"github.com/gogotex/collabdocs/pkg/logger"
	"github.com/gogotex/collabdocs/pkg/metrics"
	"github.com/gogotex/collabdocs/pkg/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
)

var startTime = time.Now()

// App is a wired server. Close releases its connections.
type App struct {
	Engine    *gin.Engine
	Hub       *realtime.Hub
	Documents *service.Service
	// Relay is set when Redis carries notifications between processes.
	Relay *broadcast.RedisRelay

	cancel    context.CancelFunc
	mongo     *mongo.Client
	redis     *redis.Client
	relayDone chan struct{}
}

// Build connects the configured backends and registers every route.
// MongoDB and Redis are optional; without them state is kept in memory.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	if cfg.JWT.Secret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	runCtx, cancel := context.WithCancel(context.Background())
	app := &App{cancel: cancel}

	if cfg.MongoDB.URI != "" {
		client, err := database.Connect(ctx, cfg.MongoDB)
		if err != nil {
			cancel()
			return nil, err
		}
		app.mongo = client
	}

	if addr := cfg.Redis.Addr(); addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warnf("failed to connect to Redis (%s): %v", addr, err)
			_ = rdb.Close()
		} else {
			logger.Infof("connected to Redis at %s", addr)
			app.redis = rdb
		}
	}

	// users and tokens
	var sessionsRepo sessions.Repository
	var usersRepo users.UserRepository
	switch {
	case app.redis != nil:
		sessionsRepo = sessions.NewRedisRepository(app.redis, "token:")
	case app.mongo != nil:
		sessionsRepo = sessions.NewMongoRepository(app.mongo.Database(cfg.MongoDB.Database).Collection("tokens"))
	default:
		sessionsRepo = sessions.NewMemoryRepository()
	}
	if app.mongo != nil {
		repo, err := users.NewMongoUserRepository(ctx, app.mongo.Database(cfg.MongoDB.Database).Collection("users"))
		if err != nil {
			app.Close(ctx)
			return nil, fmt.Errorf("users repository: %w", err)
		}
		usersRepo = repo
	} else {
		usersRepo = users.NewMemoryUserRepository()
	}
	sessionsSvc := sessions.NewService(sessionsRepo)
	usersSvc := users.NewService(usersRepo)

	// documents and realtime; the hub authorizer needs the service, which
	// needs the publisher built from the hub
	var docs *service.Service
	app.Hub = realtime.NewHub(func(ctx context.Context, _ presence.Member, channel string) error {
		id, ok := broadcast.ParseDocumentChannel(channel)
		if !ok {
			return realtime.ErrForbidden
		}
		if _, err := docs.Get(ctx, id); err != nil {
			if errors.Is(err, document.ErrNotFound) {
				return realtime.ErrForbidden
			}
			return err
		}
		return nil
	}, cfg.Realtime.SendBuffer)

	var pub broadcast.Publisher = app.Hub
	if app.redis != nil {
		app.Relay = broadcast.NewRedisRelay(app.redis, cfg.Realtime.ChannelPrefix, app.Hub)
		app.relayDone = make(chan struct{})
		go func() {
			defer close(app.relayDone)
			if err := app.Relay.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Errorf("broadcast relay stopped: %v", err)
			}
		}()
		pub = app.Relay
	}
	if app.mongo != nil {
		docs = service.NewMongoService(app.mongo.Database(cfg.MongoDB.Database), pub)
	} else {
		docs = service.NewMemoryService(pub)
	}
	app.Documents = docs

	verifiers := []middleware.Verifier{tokens.NewVerifier(cfg.JWT.Secret, sessionsSvc)}
	if cfg.Keycloak.URL != "" && cfg.Keycloak.ClientID != "" {
		ver, err := oidc.NewVerifier(ctx, cfg.Keycloak)
		if err != nil {
			logger.Warnf("failed to initialize OIDC verifier: %v", err)
		} else {
			verifiers = append(verifiers, ver)
		}
	}

	var exports handler.ObjectStore
	if cfg.MinIO.Endpoint != "" {
		st, err := storage.NewMinIOStorage(ctx, cfg.MinIO)
		if err != nil {
			logger.Warnf("document export disabled: %v", err)
		} else {
			exports = st
		}
	}

	r := gin.New()
	r.Use(cors(), middleware.AccessLogger(nil), gin.Recovery())

	// the limiter runs after authentication where there is one, so signed
	// in callers are limited per user and anonymous ones per IP
	var limit []gin.HandlerFunc
	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.UseRedis && app.redis != nil {
			win := time.Duration(cfg.RateLimit.WindowSeconds) * time.Second
			limit = append(limit, middleware.RedisRateLimitMiddleware(app.redis, cfg.RateLimit.RPS, cfg.RateLimit.Burst, win))
		} else {
			limit = append(limit, middleware.RateLimitMiddleware(cfg.RateLimit.RPS, cfg.RateLimit.Burst))
		}
	}

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "healthy")
	})
	r.GET("/ready", app.ready)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.RegisterCollectors(reg)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	handlers.RegisterSwagger(r)

	api := r.Group("/api")
	auth := handlers.NewAuthHandler(cfg, usersSvc, sessionsSvc)
	auth.RegisterPublic(api.Group("", limit...))

	protected := api.Group("", middleware.AuthMiddleware(verifiers...))
	protected.Use(limit...)
	auth.RegisterProtected(protected)
	handler.RegisterDocumentRoutes(protected, docs, exports, cfg.MinIO.URLExpiry)

	socket := api.Group("", middleware.SocketAuthMiddleware(verifiers...))
	socket.Use(limit...)
	socket.GET("/broadcasting/socket", realtime.ServeWS(app.Hub, realtime.NewUpgrader(cfg.Realtime.AllowedOrigins), identify))

	app.Engine = r
	logger.Infof("server built: mongo=%v redis=%v oidc=%v export=%v",
		app.mongo != nil, app.redis != nil, len(verifiers) > 1, exports != nil)
	return app, nil
}

func identify(c *gin.Context) (presence.Member, bool) {
	id, ok := middleware.IdentityFrom(c)
	if !ok {
		return presence.Member{}, false
	}
	return presence.Member{ID: id.ID, Name: id.Name}, true
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, "+handler.SocketIDHeader)
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Content-Length")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}
		c.Next()
	}
}

// ready reports 200 only when every configured backend answers a ping.
func (a *App) ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	ok := true
	deps := map[string]bool{}
	if a.mongo != nil {
		deps["mongo"] = a.mongo.Ping(ctx, nil) == nil
		ok = ok && deps["mongo"]
	}
	if a.redis != nil {
		deps["redis"] = a.redis.Ping(ctx).Err() == nil
		ok = ok && deps["redis"]
	}
	if a.Relay != nil {
		select {
		case <-a.Relay.Ready():
			deps["relay"] = true
		default:
			deps["relay"] = false
			ok = false
		}
	}

	uptime := time.Since(startTime).String()
	if !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "deps": deps, "uptime": uptime})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready", "deps": deps, "uptime": uptime})
}

// Close disconnects websocket clients, stops the relay and closes the
// backend connections.
func (a *App) Close(ctx context.Context) error {
	if a.Hub != nil {
		a.Hub.CloseAll()
	}
	a.cancel()
	if a.relayDone != nil {
		<-a.relayDone
	}
	var errs []error
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.mongo != nil {
		errs = append(errs, a.mongo.Disconnect(ctx))
	}
	return errors.Join(errs...)
}
