package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/xela07ax/replmon/internal/broadcast"
	"github.com/xela07ax/replmon/internal/console/handler"
	"github.com/xela07ax/replmon/internal/infra"
	"github.com/xela07ax/replmon/internal/infra/auth"
	"go.uber.org/zap"
)

type ConsoleServer struct {
	router *chi.Mux
	logger *zap.Logger
	cfg    *infra.Config

	// Интерфейс для проверки токенов (RS256).
	// Реализуется через embedding BaseValidator в AuthService
	authValidator auth.TokenValidator

	authHandler    *handler.AuthHandler    // /auth/token
	monitorHandler *handler.MonitorHandler // /api/v1/monitor
	wsHub          *broadcast.WSHub        // /api/v1/monitor/live
}

// NewConsoleServer инициализирует сервер консоли со всеми зависимостями
func NewConsoleServer(
	cfg *infra.Config,
	logger *zap.Logger,
	authValidator auth.TokenValidator,
	authH *handler.AuthHandler,
	monitorH *handler.MonitorHandler,
	wsHub *broadcast.WSHub,
) *ConsoleServer {
	s := &ConsoleServer{
		router:         chi.NewRouter(),
		logger:         logger.Named("console-api"),
		cfg:            cfg,
		authValidator:  authValidator,
		authHandler:    authH,
		monitorHandler: monitorH,
		wsHub:          wsHub,
	}

	s.routes()
	return s
}

func (s *ConsoleServer) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware (для всех) ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// --- 2. ПУБЛИЧНЫЕ РОУТЫ ---
	r.Group(func(r chi.Router) {
		// Логин доступен без токена
		r.Post("/auth/token", s.authHandler.Login)

		// Liveness самого сервиса (не путать со здоровьем репликации)
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	})

	// --- 3. ЗАЩИЩЕННЫЙ ПЕРИМЕТР (Требуют RS256 токен) ---
	r.Group(func(r chi.Router) {
		r.Use(auth.NewMiddleware(s.authValidator, s.logger))

		r.Route("/api/v1/monitor", func(r chi.Router) {
			r.Get("/snapshot", s.monitorHandler.GetSnapshot) // Последний HealthSnapshot
			r.Get("/alerts", s.monitorHandler.GetAlerts)
			r.Post("/alerts/{id}/clear", s.monitorHandler.ClearAlert)

			r.Get("/config", s.monitorHandler.GetConfig)
			r.Put("/config", s.monitorHandler.UpdateConfig) // Частичный патч, атомарно

			r.Post("/start", s.monitorHandler.Start)
			r.Post("/stop", s.monitorHandler.Stop)
			r.Post("/refresh", s.monitorHandler.Refresh) // Внеплановый цикл

			r.Get("/connections", s.monitorHandler.GetConnections)
			r.Get("/history/{publication}/{subscriber}/{db}", s.monitorHandler.GetHistory)
			r.Post("/tracer-tokens", s.monitorHandler.InsertTracer)

			// Живой фид снапшотов для дашборда
			r.Get("/live", s.wsHub.HandleWS)
		})
	})
}

// ServeHTTP позволяет использовать ConsoleServer как стандартный http.Handler
func (s *ConsoleServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
