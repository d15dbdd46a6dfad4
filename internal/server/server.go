package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"storefront-engine/internal/database"
	"storefront-engine/internal/metrics"
	"storefront-engine/internal/service"
)

type Server struct {
	port           string
	log            *slog.Logger
	db             database.Service
	orders         *service.OrderService
	payments       *service.PaymentService
	metrics        *metrics.Metrics
	allowedOrigins []string
}

type Options struct {
	Port           string
	Log            *slog.Logger
	DB             database.Service
	Orders         *service.OrderService
	Payments       *service.PaymentService
	Metrics        *metrics.Metrics
	AllowedOrigins []string
}

func New(opts Options) *Server {
	return &Server{
		port:           opts.Port,
		log:            opts.Log,
		db:             opts.DB,
		orders:         opts.Orders,
		payments:       opts.Payments,
		metrics:        opts.Metrics,
		allowedOrigins: opts.AllowedOrigins,
	}
}

// HTTPServer builds the listener for the engine's API.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf(":%s", s.port),
		Handler:      s.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}
