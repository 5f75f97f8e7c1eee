package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// LearnerHeader carries the learner id asserted by the upstream gateway.
const LearnerHeader = "X-Learner-ID"

type learnerKey struct{}

// requireLearner rejects requests that carry no learner identity.
func requireLearner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		learnerID := strings.TrimSpace(r.Header.Get(LearnerHeader))
		if learnerID == "" {
			writeErrorBody(w, http.StatusUnauthorized, "unauthenticated", "missing_learner", LearnerHeader+" header is required")
			return
		}
		ctx := context.WithValue(r.Context(), learnerKey{}, learnerID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func learnerFrom(ctx context.Context) string {
	id, _ := ctx.Value(learnerKey{}).(string)
	return id
}

// requestLogger logs one line per request at a level chosen by status.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			defer func() {
				level := slog.LevelInfo
				switch {
				case ww.Status() >= 500:
					level = slog.LevelError
				case ww.Status() >= 400:
					level = slog.LevelWarn
				}
				logger.LogAttrs(r.Context(), level, "request completed",
					slog.String("request_id", chimiddleware.GetReqID(r.Context())),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.Int("status", ww.Status()),
					slog.Int("bytes_out", ww.BytesWritten()),
					slog.Duration("latency", time.Since(start)),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
