package metadata

import (
	"net"
	"net/http"
	"strings"

	"github.com/mssola/useragent"

	"quorum/pkg/requestcontext"
)

// ClientMetadata records the caller's IP and a summarised user agent in the
// request context so audit events can attribute approvals to a device.
func ClientMetadata(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithClientIP(r.Context(), ClientIPFromRequest(r))
		ctx = requestcontext.WithUserAgent(ctx, SummarizeUserAgent(r.Header.Get("User-Agent")))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SummarizeUserAgent reduces a raw User-Agent header to "browser version (os)".
// Bots are tagged so they stand out in audit trails.
func SummarizeUserAgent(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	ua := useragent.New(raw)
	name, version := ua.Browser()
	summary := strings.TrimSpace(name + " " + version)
	if osInfo := ua.OS(); osInfo != "" {
		summary += " (" + osInfo + ")"
	}
	if ua.Bot() {
		summary = "bot: " + summary
	}
	if summary == "" {
		return raw
	}
	return summary
}

// ClientIPFromRequest extracts the client IP, honouring proxy headers.
func ClientIPFromRequest(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}
