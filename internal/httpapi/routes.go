package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/DoyleJ11/quiz-arena-backend/internal/hub"
)

type Deps struct {
	Hub       *hub.Hub
	Results   ResultStore // nil when result fan-out is disabled
	PublicURL string
	Logger    *zap.Logger
	Gatherer  prometheus.Gatherer
}

func SetupRoutes(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Gatherer == nil {
		d.Gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	// Public routes
	r.Post("/games", CreateGame(d.Hub, d.Logger))
	r.Get("/games/{code}", GetGame(d.Hub))
	r.Get("/games/{code}/qr.png", JoinQR(d.Hub, d.PublicURL))
	r.Get("/results", RecentResults(d.Results, d.Logger))
	r.Get("/healthz", Healthz)
	r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	return r
}
