package security

import (
	"net/http"
	"strconv"
	"strings"
)

// CORSConfig lists the origins allowed to call the API. "*" allows any.
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
	ExposedHeaders []string
	MaxAge         int
}

// ParseOrigins splits a comma separated origin list.
func ParseOrigins(list string) []string {
	var out []string
	for _, o := range strings.Split(list, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, strings.TrimRight(o, "/"))
		}
	}
	return out
}

// DefaultCORSConfig allows the methods and headers the API uses.
func DefaultCORSConfig(origins []string) CORSConfig {
	return CORSConfig{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"Content-Disposition", "X-Request-ID"},
		MaxAge:         600,
	}
}

// CORSMiddleware answers preflight requests and tags responses for allowed
// origins.
type CORSMiddleware struct {
	config  CORSConfig
	any     bool
	origins map[string]bool
}

func NewCORSMiddleware(config CORSConfig) *CORSMiddleware {
	c := &CORSMiddleware{config: config, origins: make(map[string]bool)}
	for _, o := range config.AllowedOrigins {
		if o == "*" {
			c.any = true
			continue
		}
		c.origins[o] = true
	}
	return c
}

func (c *CORSMiddleware) allowOrigin(origin string) string {
	switch {
	case c.any:
		return "*"
	case origin != "" && c.origins[origin]:
		return origin
	default:
		return ""
	}
}

func (c *CORSMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		allowed := c.allowOrigin(origin)
		h := w.Header()
		if !c.any {
			h.Add("Vary", "Origin")
		}
		if allowed != "" {
			h.Set("Access-Control-Allow-Origin", allowed)
			if len(c.config.ExposedHeaders) > 0 {
				h.Set("Access-Control-Expose-Headers", strings.Join(c.config.ExposedHeaders, ", "))
			}
		}

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			if allowed == "" {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			h.Set("Access-Control-Allow-Methods", strings.Join(c.config.AllowedMethods, ", "))
			h.Set("Access-Control-Allow-Headers", strings.Join(c.config.AllowedHeaders, ", "))
			if c.config.MaxAge > 0 {
				h.Set("Access-Control-Max-Age", strconv.Itoa(c.config.MaxAge))
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
