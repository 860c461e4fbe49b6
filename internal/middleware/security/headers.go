package security

import (
	"net/http"
	"strconv"
	"strings"
)

// HeadersConfig holds security headers configuration
type HeadersConfig struct {
	CSP string

	HSTSMaxAge            int
	HSTSIncludeSubdomains bool
	// TrustForwardedProto sends HSTS when a TLS terminating proxy reports
	// X-Forwarded-Proto: https.
	TrustForwardedProto bool

	XFrameOptions       string
	XContentTypeOptions string
	XXSSProtection      string
	ReferrerPolicy      string
	PermissionsPolicy   string
	CrossOriginOpener   string
	CrossOriginEmbedder string
	CrossOriginResource string

	// CacheControl is sent on every response. Datasets and charts change on
	// every write, so the default forbids storing them.
	CacheControl string
}

// DefaultHeadersConfig returns the defaults for a JSON API whose images are
// data URIs and whose downloads are read from other origins.
func DefaultHeadersConfig() HeadersConfig {
	return HeadersConfig{
		CSP: "default-src 'none'; " +
			"img-src 'self' data:; " +
			"style-src 'unsafe-inline'; " +
			"frame-ancestors 'none'; " +
			"base-uri 'none'; " +
			"form-action 'none'",

		HSTSMaxAge:            31536000, // 1 year
		HSTSIncludeSubdomains: true,

		XFrameOptions:       "DENY",
		XContentTypeOptions: "nosniff",
		XXSSProtection:      "0",
		ReferrerPolicy:      "no-referrer",
		PermissionsPolicy:   "geolocation=(), microphone=(), camera=(), payment=()",
		CrossOriginOpener:   "same-origin",
		CrossOriginResource: "cross-origin",
		CacheControl:        "no-store",
	}
}

// HeadersMiddleware applies security headers to responses
type HeadersMiddleware struct {
	static http.Header
	hsts   string
	proxy  bool
}

// NewHeadersMiddleware precomputes the header set of config.
func NewHeadersMiddleware(config HeadersConfig) *HeadersMiddleware {
	static := http.Header{}
	set := func(name, value string) {
		if value != "" {
			static.Set(name, value)
		}
	}
	set("X-Content-Type-Options", config.XContentTypeOptions)
	set("X-Frame-Options", config.XFrameOptions)
	set("X-XSS-Protection", config.XXSSProtection)
	set("Content-Security-Policy", config.CSP)
	set("Referrer-Policy", config.ReferrerPolicy)
	set("Permissions-Policy", config.PermissionsPolicy)
	set("Cross-Origin-Opener-Policy", config.CrossOriginOpener)
	set("Cross-Origin-Embedder-Policy", config.CrossOriginEmbedder)
	set("Cross-Origin-Resource-Policy", config.CrossOriginResource)
	set("Cache-Control", config.CacheControl)

	var hsts string
	if config.HSTSMaxAge > 0 {
		hsts = "max-age=" + strconv.Itoa(config.HSTSMaxAge)
		if config.HSTSIncludeSubdomains {
			hsts += "; includeSubDomains"
		}
	}
	return &HeadersMiddleware{static: static, hsts: hsts, proxy: config.TrustForwardedProto}
}

// Middleware returns the HTTP middleware function
func (h *HeadersMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers := w.Header()
		for name, values := range h.static {
			headers[name] = append([]string(nil), values...)
		}
		if h.hsts != "" && h.secure(r) {
			headers.Set("Strict-Transport-Security", h.hsts)
		}
		next.ServeHTTP(w, r)
	})
}

func (h *HeadersMiddleware) secure(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return h.proxy && strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}
