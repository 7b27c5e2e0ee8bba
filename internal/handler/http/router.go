package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rakrong1/ladicare-sub000/internal/service"
	"github.com/rakrong1/ladicare-sub000/pkg/health"
	"github.com/rakrong1/ladicare-sub000/pkg/middleware"
)

// RouterOptions carries the optional parts of the router.
type RouterOptions struct {
	// TokenValidator enables bearer-token owner resolution. Nil disables it.
	TokenValidator middleware.TokenValidator

	// TrustUserHeader honors X-User-ID as a user identity. Enable it only
	// behind a gateway that strips the header from client requests.
	TrustUserHeader bool

	PprofCIDRs      []string
	CORSOrigins     []string
	CORSCredentials bool

	// RateLimitRPS and RateLimitBurst bound requests per cart owner. A
	// non-positive rate disables the limit.
	RateLimitRPS   float64
	RateLimitBurst int
}

// NewRouter assembles the cart service's HTTP surface: operational
// endpoints at the root and the cart API under /api/v1/cart.
func NewRouter(
	cartService *service.CartService,
	healthHandler *health.Handler,
	logger *slog.Logger,
	opts RouterOptions,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recovery(logger),
		middleware.CORS(opts.CORSOrigins, opts.CORSCredentials),
		chimw.Compress(5, "application/json"),
		chimw.Timeout(30*time.Second),
		middleware.RequestLogging(logger),
		middleware.PrometheusMetrics("cart"),
		middleware.Tracing("cart"),
		middleware.RequestLogger(logger),
	)

	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Handle("/metrics", promhttp.Handler())
	middleware.MountProfiler(r, opts.PprofCIDRs, logger)

	carts := NewCartHandler(cartService, logger)
	r.Route("/api/v1/cart", func(r chi.Router) {
		r.Use(ContentTypeJSON)
		if opts.TokenValidator != nil {
			r.Use(middleware.OptionalAuth(opts.TokenValidator))
		}
		r.Use(
			ResolveOwner(logger, opts.TrustUserHeader),
			middleware.RateLimit(opts.RateLimitRPS, opts.RateLimitBurst, ownerRateKey, logger),
		)

		r.Get("/", carts.GetCart)
		r.Post("/add", carts.AddItem)
		r.Put("/update", carts.UpdateItem)
		r.Delete("/remove/{productId}", carts.RemoveItem)
		r.Delete("/clear", carts.ClearCart)
		r.Post("/sync", carts.SyncCart)
		r.Post("/merge", carts.MergeCart)
	})

	return r
}
