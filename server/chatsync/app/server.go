package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"

	"chatsync/server/chatsync/api"
	"chatsync/server/chatsync/engine"
	"chatsync/server/chatsync/service"
	commonauth "chatsync/server/common/auth"
	"chatsync/server/common/infra/backend"
	"chatsync/server/common/infra/cache"
	"chatsync/server/common/infra/mq"
	"chatsync/server/common/infra/object"
	commonlog "chatsync/server/common/log"
)

type Server struct {
	HTTPServer *http.Server
	Engine     *engine.Engine
	Transport  *service.WSTransport
	Redis      *redis.Client
	MQConn     *amqp.Connection
	MQChannel  *amqp.Channel

	connectOnStartup bool
}

func NewServer(cfg Config) (*Server, error) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.StartupPingTimeout)
	defer cancel()

	s := &Server{connectOnStartup: cfg.ConnectOnStartup}
	if err := s.openInfra(ctx, cfg); err != nil {
		s.closeInfra()
		return nil, err
	}

	tokens := sessionTokenSource(cfg.AuthToken, cfg.UserID)
	rest := backend.NewClient(cfg.BackendEndpoints,
		backend.WithTimeout(cfg.BackendTimeout),
		backend.WithFailThreshold(cfg.BackendFailThreshold),
		backend.WithCooldown(cfg.BackendCooldown),
		backend.WithTokenSource(tokens),
	)
	backendClient := service.NewBackendClient(rest)
	s.Transport = service.NewWSTransport(cfg.RealtimeURL, backendClient, service.WithReconnect(cfg.ReconnectBackoff))

	opts := []engine.Option{
		engine.WithTypingTTL(cfg.TypingTTL),
		engine.WithPageSize(cfg.MessagePageSize),
	}
	if s.Redis != nil {
		opts = append(opts, engine.WithNotifier(service.NewAlertPublisher(s.Redis, cfg.UserID)))
		if s.MQChannel != nil {
			opts = append(opts, engine.WithPushPlatform(service.NewPushGateway(s.Redis, s.MQChannel, cfg.UserID, cfg.PushAutoGrant)))
		}
	} else {
		// Alerts fall back to the log.
		opts = append(opts, engine.WithNotifier(service.NewAlertPublisher(nil, cfg.UserID)))
	}
	s.Engine = engine.New(cfg.UserID, tokens, s.Transport, backendClient, opts...)

	var uploader *service.AttachmentUploader
	if cfg.ObjectStorageEnabled() {
		minioClient, err := object.NewClient(cfg.MinIOEndpoint, cfg.MinIOAccessKey, cfg.MinIOSecretKey, cfg.MinIOUseSSL)
		if err != nil {
			s.closeInfra()
			return nil, fmt.Errorf("initialize minio: %w", err)
		}
		if err := object.EnsureBucket(ctx, minioClient, cfg.MinIOBucket); err != nil {
			s.closeInfra()
			return nil, fmt.Errorf("ensure bucket %s: %w", cfg.MinIOBucket, err)
		}
		uploader = service.NewAttachmentUploader(minioClient, cfg.MinIOBucket, cfg.MaxUploadBytes)
	}

	auth := commonauth.NewService(cfg.JWTSecret, cfg.JWTTTLMinutes)
	var h *api.Handler
	if uploader != nil {
		h = api.NewHandler(s.Engine, uploader, auth, tokens)
	} else {
		h = api.NewHandler(s.Engine, nil, auth, tokens)
	}

	if cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.Default()
	h.RegisterRoutes(r)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	})

	s.HTTPServer = &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      corsHandler.Handler(r),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s, nil
}

func (s *Server) openInfra(ctx context.Context, cfg Config) error {
	if cfg.RedisEnabled() {
		s.Redis = cache.NewClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := cache.Ping(ctx, s.Redis); err != nil {
			return err
		}
	}
	if cfg.MQEnabled() {
		conn, err := mq.NewConnection(cfg.LavinMQURL, "chatsync-"+cfg.UserID)
		if err != nil {
			return fmt.Errorf("initialize lavinmq: %w", err)
		}
		s.MQConn = conn
		ch, err := conn.Channel()
		if err != nil {
			return fmt.Errorf("open lavinmq channel: %w", err)
		}
		s.MQChannel = ch
		if err := mq.DeclareTopic(ch, service.PushExchange); err != nil {
			return fmt.Errorf("declare %s exchange: %w", service.PushExchange, err)
		}
	}
	return nil
}

// Start connects the chat session when configured to do so. A failed
// connect is logged; the local API stays up so a consumer can retry.
func (s *Server) Start(ctx context.Context) {
	if !s.connectOnStartup {
		return
	}
	if !s.Engine.Start(ctx) {
		commonlog.Warnf("event=chatsync_server action=startup_connect status=failed user_id=%s", s.Engine.UserID())
		return
	}
	if _, err := s.Engine.RefreshPushState(ctx); err != nil {
		commonlog.Warnf("event=chatsync_server action=push_state status=failed error=%v", err)
	}
}

func (s *Server) Shutdown(ctx context.Context) error {
	err := s.HTTPServer.Shutdown(ctx)
	if s.Engine != nil {
		s.Engine.Close()
	}
	s.closeInfra()
	return err
}

func (s *Server) closeInfra() {
	if s.MQChannel != nil {
		_ = s.MQChannel.Close()
	}
	if s.MQConn != nil {
		_ = s.MQConn.Close()
	}
	if s.Redis != nil {
		_ = s.Redis.Close()
	}
}

// sessionTokenSource hands out the configured backend token while it is
// valid for userID and "" otherwise, which keeps the engine from connecting.
func sessionTokenSource(token, userID string) engine.TokenSource {
	token = strings.TrimSpace(token)
	return func() string {
		if token == "" {
			return ""
		}
		if _, err := commonauth.InspectSessionToken(token, userID, time.Now()); err != nil {
			commonlog.Warnf("event=chatsync_session action=token_check status=rejected user_id=%s error=%v", userID, err)
			return ""
		}
		return token
	}
}
