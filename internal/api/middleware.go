// File: internal/api/middleware.go
package api

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/xkilldash9x/navigator/internal/config"
	"github.com/xkilldash9x/navigator/internal/observability"
)

// requestLogger logs each request once it completes and records it in metrics.
// Streaming routes are logged when the stream ends.
func requestLogger(logger *zap.Logger, metrics *observability.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				// Hijacked (WebSocket) or nothing written.
				status = http.StatusOK
			}
			metrics.HTTPRequest(r.Method, route, status)
			logger.Debug("HTTP request served.",
				zap.String("method", r.Method),
				zap.String("route", route),
				zap.Int("status", status),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		})
	}
}

// bearerAuth requires an HS256 token signed with the configured secret. With no
// secret configured it lets everything through.
func bearerAuth(cfg config.AuthConfig, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if cfg.JWTSecret == "" {
			return next
		}
		opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
		if cfg.Issuer != "" {
			opts = append(opts, jwt.WithIssuer(cfg.Issuer))
		}
		parser := jwt.NewParser(opts...)
		key := []byte(cfg.JWTSecret)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, err := bearerToken(r)
			if err == nil {
				_, err = parser.Parse(raw, func(*jwt.Token) (interface{}, error) { return key, nil })
			}
			if err != nil {
				logger.Debug("Rejected unauthenticated request.", zap.String("path", r.URL.Path), zap.Error(err))
				w.Header().Set("WWW-Authenticate", `Bearer realm="navigator"`)
				respondError(w, r, http.StatusUnauthorized, "invalid or missing bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) (string, error) {
	h := r.Header.Get("Authorization")
	if h == "" {
		// Browsers cannot set headers on a WebSocket handshake.
		if tok := r.URL.Query().Get("access_token"); tok != "" {
			return tok, nil
		}
		return "", errors.New("no Authorization header")
	}
	scheme, tok, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(tok) == "" {
		return "", fmt.Errorf("malformed Authorization header")
	}
	return strings.TrimSpace(tok), nil
}

// negotiateEncoding picks br over gzip from an Accept-Encoding header.
func negotiateEncoding(header string) string {
	var gz bool
	for _, part := range strings.Split(header, ",") {
		name, _, _ := strings.Cut(strings.TrimSpace(part), ";")
		switch strings.ToLower(name) {
		case "br":
			return "br"
		case "gzip":
			gz = true
		}
	}
	if gz {
		return "gzip"
	}
	return ""
}

// compressedWriter wraps w in the encoder named by encoding. The caller must Close
// the returned writer.
func compressedWriter(w http.ResponseWriter, encoding string) io.WriteCloser {
	switch encoding {
	case "br":
		w.Header().Set("Content-Encoding", "br")
		w.Header().Add("Vary", "Accept-Encoding")
		return brotli.NewWriterLevel(w, brotli.DefaultCompression)
	case "gzip":
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Add("Vary", "Accept-Encoding")
		return gzip.NewWriter(w)
	default:
		return nopCloser{w}
	}
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
