package security

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"sync/atomic"

	"ledgersheet/internal/log"
)

// Reasons reported by Inspect
const (
	ReasonPathPattern     = "path_pattern"
	ReasonQueryPattern    = "query_pattern"
	ReasonDatasetName     = "dataset_name"
	ReasonUserAgent       = "user_agent"
	ReasonMethod          = "method"
	ReasonLongURL         = "long_url"
	ReasonForwardingChain = "forwarding_chain"
)

const maxURLLength = 2048

var (
	scanPatterns = []string{
		"../", "..\\", ".env", "wp-admin", "phpmyadmin",
		"admin.php", "config.php", ".git", ".ssh",
		"eval(", "javascript:", "<script", "union select",
		"etc/passwd", "cmd.exe",
	}
	scannerAgents = []string{
		"sqlmap", "nmap", "nikto", "gobuster", "dirb",
		"masscan", "zgrab", "scanner",
	}
	unusualMethods = map[string]bool{"TRACE": true, "TRACK": true, "DEBUG": true, "CONNECT": true}
)

// DetectionMetrics tracks security detection events
type DetectionMetrics struct {
	SuspiciousRequests int64
	InvalidIPAttempts  int64
}

// Detector flags requests that look like scanners and resolves the client IP
// behind trusted proxies.
type Detector struct {
	suspicious atomic.Int64
	invalidIP  atomic.Int64

	mu      sync.RWMutex
	proxies []netip.Prefix
}

// NewDetector trusts loopback and the private IPv4 ranges as proxies.
func NewDetector() *Detector {
	d := &Detector{}
	for _, cidr := range []string{"127.0.0.0/8", "10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16", "::1/128"} {
		d.proxies = append(d.proxies, netip.MustParsePrefix(cidr))
	}
	return d
}

// AddTrustedProxy adds a trusted proxy network
func (d *Detector) AddTrustedProxy(cidr string) error {
	prefix, err := netip.ParsePrefix(strings.TrimSpace(cidr))
	if err != nil {
		return fmt.Errorf("invalid CIDR %s: %w", cidr, err)
	}
	d.mu.Lock()
	d.proxies = append(d.proxies, prefix.Masked())
	d.mu.Unlock()
	return nil
}

// Inspect returns why r looks like a scan; nil means it does not.
func (d *Detector) Inspect(r *http.Request) []string {
	var reasons []string

	if containsAny(strings.ToLower(r.URL.Path), scanPatterns) {
		reasons = append(reasons, ReasonPathPattern)
	}
	query := strings.ToLower(r.URL.RawQuery)
	if containsAny(query, scanPatterns) {
		reasons = append(reasons, ReasonQueryPattern)
	}
	// Dataset names are plain file stems.
	if name := r.URL.Query().Get("dataset"); strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		reasons = append(reasons, ReasonDatasetName)
	}
	if containsAny(strings.ToLower(r.Header.Get("User-Agent")), scannerAgents) {
		reasons = append(reasons, ReasonUserAgent)
	}
	if unusualMethods[r.Method] {
		reasons = append(reasons, ReasonMethod)
	}
	if len(r.URL.String()) > maxURLLength {
		reasons = append(reasons, ReasonLongURL)
	}
	if strings.Count(r.Header.Get("X-Forwarded-For"), ",") > 5 {
		reasons = append(reasons, ReasonForwardingChain)
	}
	return reasons
}

// DetectSuspiciousRequest reports whether r looks like a scan and counts it.
func (d *Detector) DetectSuspiciousRequest(r *http.Request) bool {
	if len(d.Inspect(r)) == 0 {
		return false
	}
	d.suspicious.Add(1)
	return true
}

// Middleware logs suspicious requests and lets them through; blocking is
// left to the rate limiter.
func (d *Detector) Middleware(logger *log.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = log.Discard()
	}
	logger = logger.WithComponent(log.ComponentSecurity)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if reasons := d.Inspect(r); len(reasons) > 0 {
				d.suspicious.Add(1)
				logger.WarnContext(r.Context(), "Suspicious request detected",
					log.FieldClientIP, d.ExtractClientIP(r),
					log.FieldMethod, r.Method,
					log.FieldPath, r.URL.Path,
					log.FieldUserAgent, r.Header.Get("User-Agent"),
					"reasons", strings.Join(reasons, ","))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ExtractClientIP returns the peer address, or the first forwarded address
// when the peer is a trusted proxy.
func (d *Detector) ExtractClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	peer, err := netip.ParseAddr(host)
	if err != nil || !d.trusted(peer.Unmap()) {
		return host
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		first = strings.TrimSpace(first)
		if addr, err := netip.ParseAddr(first); err == nil {
			return addr.String()
		}
		d.invalidIP.Add(1)
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		if addr, err := netip.ParseAddr(xri); err == nil {
			return addr.String()
		}
		d.invalidIP.Add(1)
	}
	return host
}

func (d *Detector) trusted(addr netip.Addr) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, p := range d.proxies {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// GetMetrics returns current security metrics
func (d *Detector) GetMetrics() DetectionMetrics {
	return DetectionMetrics{
		SuspiciousRequests: d.suspicious.Load(),
		InvalidIPAttempts:  d.invalidIP.Load(),
	}
}

func containsAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
