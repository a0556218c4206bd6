package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"passgate/internal/auth"
	"passgate/internal/config"
	"passgate/internal/database"
	"passgate/internal/external"
	"passgate/internal/handlers"
	"passgate/internal/messaging"
	"passgate/internal/metrics"
	"passgate/internal/middleware"
	"passgate/internal/repository"
	"passgate/internal/search"
	"passgate/internal/service"
)

// Server представляет HTTP сервер API
type Server struct {
	router   *gin.Engine
	config   *config.Config
	db       *database.DB
	nats     *messaging.NATSClient
	index    *search.RedemptionIndex
	services *service.Services
	payments *external.PaymentClient
}

// NewServer создает новый экземпляр сервера
func NewServer(cfg *config.Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// Устанавливаем режим Gin
	gin.SetMode(cfg.GinMode)

	server := &Server{config: cfg}

	repos, err := server.openStore(context.Background())
	if err != nil {
		return nil, err
	}

	// NATS и Elasticsearch необязательны: без них события не публикуются,
	// а журнал погашений читается из основного хранилища
	collab := service.Collaborators{}

	if natsClient, err := messaging.NewNATSClient(cfg.NATS); err != nil {
		slog.Warn("NATS unavailable, domain events disabled", "error", err)
	} else {
		server.nats = natsClient
		collab.Publisher = natsClient
	}

	if esCfg := config.LoadElasticsearchConfig(); esCfg.Enabled {
		if index, err := search.NewRedemptionIndex(esCfg); err != nil {
			slog.Warn("Elasticsearch unavailable, redemption search falls back to store", "error", err)
		} else {
			server.index = index
			collab.Searcher = index
		}
	}

	// Создаем клиенты внешних сервисов
	server.payments = external.NewPaymentClient(cfg.Payment)
	collab.Payments = server.payments
	collab.Issuer = external.NewIssuanceClient(cfg.Issuance)
	collab.Availability = external.NewEventsClient(cfg.Events)

	// Создаем сервисы
	server.services = service.NewServices(repos, collab, service.OptionsFromConfig(cfg))

	// Создаем роутер
	router := gin.New()

	// Применяем middleware
	router.Use(middleware.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.CORS())
	router.Use(middleware.Logger())
	router.Use(metrics.PrometheusMiddleware())

	server.router = router
	server.setupRoutes()

	return server, nil
}

// openStore выбирает хранилище по STORE_DRIVER
func (s *Server) openStore(ctx context.Context) (*repository.Repositories, error) {
	switch s.config.StoreDriver {
	case "memory":
		slog.Warn("Using in-memory store, data is lost on restart")
		return repository.NewMemoryRepositories(), nil
	case "postgres":
		// Подключаемся к базе данных
		db, err := database.Connect(s.config.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		// Запускаем миграции
		if err := db.RunMigrations(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}

		s.db = db
		return repository.NewRepositories(db), nil
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", s.config.StoreDriver)
	}
}

// setupRoutes настраивает все API роуты
func (s *Server) setupRoutes() {
	h := handlers.NewHandlers(s.services, s.payments)
	h.RegisterRoutes(s.router, auth.NewJWTValidator(s.config.JWTSecret))

	// Health check endpoint
	s.router.GET("/health", s.healthCheck)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// healthCheck обрабатывает health check запросы
func (s *Server) healthCheck(c *gin.Context) {
	body := gin.H{
		"status":  "ok",
		"service": "passgate-api",
		"store":   s.config.StoreDriver,
		"nats":    s.nats != nil,
		"search":  s.index != nil,
	}

	// поиск опционален, его недоступность не делает сервис degraded
	if s.index != nil {
		if err := s.index.HealthCheck(c.Request.Context()); err != nil {
			slog.Warn("Elasticsearch health check failed", "error", err)
			body["search"] = false
		}
	}

	if s.db != nil {
		s.db.WarnOnPressure()
		check := s.db.HealthCheck(c.Request.Context())
		body["database"] = check
		if check.Status != "healthy" {
			body["status"] = "degraded"
			c.JSON(http.StatusServiceUnavailable, body)
			return
		}
	}

	c.JSON(http.StatusOK, body)
}

// Run запускает HTTP сервер
func (s *Server) Run() error {
	addr := fmt.Sprintf(":%s", s.config.Port)
	return s.router.Run(addr)
}

// GetRouter возвращает роутер для тестирования
func (s *Server) GetRouter() *gin.Engine {
	return s.router
}

// Cleanup закрывает соединения
func (s *Server) Cleanup() error {
	if s.nats != nil {
		if err := s.nats.Close(); err != nil {
			slog.Error("Error closing NATS connection", "error", err)
		}
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			slog.Error("Error closing database connection", "error", err)
			return err
		}
	}

	return nil
}
