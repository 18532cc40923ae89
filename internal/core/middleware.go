package core

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// ResponseWriterWrapper wraps http.ResponseWriter to capture the status
// code written by a downstream handler, for logging.
type ResponseWriterWrapper struct {
	http.ResponseWriter
	WrittenResponseCode int
}

func (w *ResponseWriterWrapper) WriteHeader(statusCode int) {
	w.WrittenResponseCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *ResponseWriterWrapper) Write(b []byte) (int, error) {
	if w.WrittenResponseCode == 0 {
		w.WrittenResponseCode = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

type logEntry struct {
	IP         string
	Method     string
	URL        string
	Proto      string
	DurationMS float64
	StatusCode int
}

func (e logEntry) Client() slog.Attr {
	return slog.Group("client", "ip", e.IP)
}

func (e logEntry) Request() slog.Attr {
	return slog.Group("request",
		"proto", e.Proto,
		"method", e.Method,
		"url", e.URL,
		"duration_ms", e.DurationMS,
		"status_code", e.StatusCode,
	)
}

// LogRequest is middleware that logs every incoming request at a level
// keyed off the response status.
func LogRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		entry := logEntry{
			IP:     r.RemoteAddr,
			Method: r.Method,
			URL:    r.URL.String(),
			Proto:  r.Proto,
		}

		writer := ResponseWriterWrapper{ResponseWriter: w}

		start := time.Now()
		next.ServeHTTP(&writer, r)
		elapsed := time.Since(start)

		entry.DurationMS = float64(elapsed.Nanoseconds()) / float64(time.Millisecond)
		entry.StatusCode = writer.WrittenResponseCode

		switch {
		case writer.WrittenResponseCode >= 500:
			slog.Error("request", entry.Client(), entry.Request())
		case writer.WrittenResponseCode >= 400:
			slog.Warn("request", entry.Client(), entry.Request())
		default:
			slog.Info("request", entry.Client(), entry.Request())
		}
	})
}

// SlashFix collapses repeated slashes and strips a trailing slash so
// route matching doesn't have to account for either.
func SlashFix(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for strings.Contains(r.URL.Path, "//") {
			r.URL.Path = strings.ReplaceAll(r.URL.Path, "//", "/")
		}
		if r.URL.Path != "/" && strings.HasSuffix(r.URL.Path, "/") {
			r.URL.Path = strings.TrimSuffix(r.URL.Path, "/")
		}
		next.ServeHTTP(w, r)
	})
}

// Recoverer turns a panicking handler into a 500 envelope response
// instead of tearing down the server.
func Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rvr := recover(); rvr != nil {
				if rvr == http.ErrAbortHandler {
					panic(rvr)
				}
				slog.Error("panic in handler", "error", rvr)
				if r.Header.Get("Connection") != "Upgrade" {
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(envelope{Success: false, Error: strPtr("internal server error")})
				}
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// CORS returns middleware that applies cfg's cross-origin policy to every
// request, answering preflight OPTIONS requests directly and decorating
// other responses with the matched headers.
func CORS(cfg Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !cfg.EnableCORS {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && matchCORSOrigin(cfg.CORSOrigins, origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				if cfg.CORSAllowCredentials {
					w.Header().Set("Access-Control-Allow-Credentials", "true")
				}
				w.Header().Set("Vary", "Origin")
			}

			if r.Method == http.MethodOptions {
				reqMethod := r.Header.Get("Access-Control-Request-Method")
				reqHeaders := r.Header.Get("Access-Control-Request-Headers")
				if origin == "" || reqMethod == "" {
					w.WriteHeader(http.StatusNoContent)
					return
				}
				if !matchCORSMethod(cfg.CORSMethods, reqMethod) || !matchCORSHeaders(cfg.CORSHeaders, reqHeaders) {
					w.WriteHeader(http.StatusForbidden)
					return
				}
				w.Header().Set("Access-Control-Allow-Methods", strings.Join(cfg.CORSMethods, ", "))
				if reqHeaders != "" {
					if hasWildcard(cfg.CORSHeaders) {
						w.Header().Set("Access-Control-Allow-Headers", reqHeaders)
					} else {
						w.Header().Set("Access-Control-Allow-Headers", strings.Join(cfg.CORSHeaders, ", "))
					}
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// matchCORSOrigin checks an origin against allowed patterns, supporting
// exact match, a bare "*" wildcard, and a single embedded "*" (e.g.
// "https://*.example.com").
func matchCORSOrigin(allowed []string, origin string) bool {
	for _, pattern := range allowed {
		if pattern == "*" || pattern == origin {
			return true
		}
		if idx := strings.Index(pattern, "*"); idx >= 0 {
			prefix, suffix := pattern[:idx], pattern[idx+1:]
			if strings.HasPrefix(origin, prefix) && strings.HasSuffix(origin, suffix) &&
				len(origin) > len(prefix)+len(suffix) {
				return true
			}
		}
	}
	return false
}

func matchCORSMethod(allowed []string, method string) bool {
	if hasWildcard(allowed) {
		return true
	}
	for _, m := range allowed {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}

func matchCORSHeaders(allowed []string, requested string) bool {
	if requested == "" {
		return true
	}
	if hasWildcard(allowed) {
		return true
	}
	for _, h := range strings.Split(requested, ",") {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		if !headerAllowed(allowed, h) {
			return false
		}
	}
	return true
}

func hasWildcard(list []string) bool {
	for _, v := range list {
		if v == "*" {
			return true
		}
	}
	return false
}

func headerAllowed(allowed []string, header string) bool {
	for _, a := range allowed {
		if strings.EqualFold(a, header) {
			return true
		}
	}
	return false
}
