package http

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"ledgersheet/internal/core"
	"ledgersheet/internal/log"
	"ledgersheet/internal/middleware/ratelimit"
	"ledgersheet/internal/middleware/security"
	"ledgersheet/internal/middleware/trace"
	"ledgersheet/internal/services"
)

// Options configures the HTTP surface.
type Options struct {
	Addr               string
	MaxUploadBytes     int64
	RateLimitPerMinute int
	CORSAllowedOrigins string
	TrustedProxies     []string
	Logger             *log.Logger
}

// appMetrics counts domain events for /metrics.
type appMetrics struct {
	uptime         time.Time
	rowsAppended   int64
	imports        int64
	columnsAdded   int64
	chartsRendered int64
	downloads      int64
	publishes      int64
}

type Server struct {
	http.Server
	svc     *services.DatasetService
	logger  *log.Logger
	maxBody int64

	rateLimiter      *ratelimit.Limiter
	securityDetector *security.Detector
	traceMiddleware  *trace.Middleware
	appMetrics       *appMetrics

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run server.
func NewServer(opts Options, svc *services.DatasetService) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.Discard()
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 10 << 20
	}
	if opts.CORSAllowedOrigins == "" {
		opts.CORSAllowedOrigins = "*"
	}

	detector := security.NewDetector()
	for _, cidr := range opts.TrustedProxies {
		if err := detector.AddTrustedProxy(cidr); err != nil {
			logger.Warn("Ignoring trusted proxy", log.FieldError, err)
		}
	}
	headersCfg := security.DefaultHeadersConfig()
	headersCfg.TrustForwardedProto = len(opts.TrustedProxies) > 0
	limitCfg := ratelimit.DefaultConfig()
	limitCfg.RequestsPerMinute = opts.RateLimitPerMinute

	s := &Server{
		svc:              svc,
		logger:           logger.WithComponent(log.ComponentHTTP),
		maxBody:          opts.MaxUploadBytes,
		rateLimiter:      ratelimit.NewLimiter(limitCfg),
		securityDetector: detector,
		traceMiddleware:  trace.NewMiddleware(logger, detector.ExtractClientIP),
		appMetrics:       &appMetrics{uptime: time.Now()},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /metrics", s.handleMetrics)

	mux.HandleFunc("POST /import-csv", s.handleImportCSV)
	mux.HandleFunc("POST /add-expenses", s.handleAddExpenses)
	mux.HandleFunc("POST /add-column-row", s.handleAddColumnRow)
	mux.HandleFunc("GET /generate-charts", s.handleGenerateCharts)
	mux.HandleFunc("GET /download-spreadsheet", s.handleDownload)
	mux.HandleFunc("GET /view-spreadsheet", s.handleView)
	mux.HandleFunc("POST /publish-sheets", s.handlePublish)

	// Routes of the earlier Portuguese API.
	mux.HandleFunc("POST /adicionar_despesas", s.handleAddExpenses)
	mux.HandleFunc("GET /gerar_graficos", s.handleGenerateCharts)
	mux.HandleFunc("GET /download_planilha", s.handleDownload)

	rateLimited := s.rateLimiter.Middleware(detector.ExtractClientIP, func(r *http.Request, ip string) {
		log.FromContext(r.Context()).WithComponent(log.ComponentRateLimit).WarnContext(r.Context(), "Rate limit exceeded",
			log.FieldClientIP, ip,
			log.FieldMethod, r.Method,
			log.FieldPath, r.URL.Path)
	})

	var h http.Handler = mux
	h = rateLimited(h)
	h = detector.Middleware(logger)(h)
	h = security.NewCORSMiddleware(security.DefaultCORSConfig(security.ParseOrigins(opts.CORSAllowedOrigins))).Middleware(h)
	h = security.NewHeadersMiddleware(headersCfg).Middleware(h)
	h = s.traceMiddleware.Middleware(h)

	s.Server = http.Server{
		Addr:              opts.Addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Shutdown stops the rate limiter and gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.rateLimiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// fail logs err at a level matching its status and writes the JSON error.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, operation string, err error) {
	status := StatusForError(err)
	logger := log.FromContext(r.Context())
	args := []any{
		log.FieldOperation, operation,
		log.FieldStatusCode, status,
		log.FieldError, err,
		log.FieldErrorType, errorType(err),
	}
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "Request failed", args...)
	} else {
		logger.WarnContext(r.Context(), "Request rejected", args...)
	}
	FromError(err).Write(w)
}

func errorType(err error) string {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, core.ErrValidation), errors.As(err, &tooLarge):
		return log.ErrorTypeValidation
	case errors.Is(err, core.ErrNotFound):
		return log.ErrorTypeNotFound
	case errors.Is(err, core.ErrStorage):
		return log.ErrorTypeStorage
	case errors.Is(err, services.ErrPublishDisabled):
		return log.ErrorTypeConfiguration
	default:
		return log.ErrorTypeInternal
	}
}
