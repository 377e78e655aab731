package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	errs "github.com/podscout/podscout/internal/core/errors"
	"github.com/podscout/podscout/internal/platform/observability"
)

type ctxKey int

const (
	ctxKeyCorrelationID ctxKey = iota
	ctxKeyPersonID
)

const (
	headerCorrelationID = "X-Correlation-ID"
	logKeyCorrelationID = "correlation_id"
)

// correlationID returns the request's correlation id, empty when the
// middleware did not run.
func correlationID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyCorrelationID).(string)

	return id
}

// personID returns the authenticated person, zero when the request is
// unauthenticated.
func personID(ctx context.Context) int64 {
	id, _ := ctx.Value(ctxKeyPersonID).(int64)

	return id
}

// withCorrelationID tags every request with an id, reusing the
// client's when it sent one so ids stay stable across proxies.
func withCorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cid := r.Header.Get(headerCorrelationID)
		if cid == "" {
			cid = uuid.NewString()
		}

		w.Header().Set(headerCorrelationID, cid)

		ctx := context.WithValue(r.Context(), ctxKeyCorrelationID, cid)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestLogger logs one line per request and feeds the HTTP metrics.
// The route pattern is used as the metric label so ids do not explode
// cardinality. The chi wrapper keeps Hijacker intact for the
// websocket upgrade.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}

		status := ww.Status()
		if status == 0 {
			// Hijacked connections never call WriteHeader.
			status = http.StatusSwitchingProtocols
		}

		elapsed := time.Since(start)

		observability.HTTPRequests.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
		observability.HTTPRequestDuration.WithLabelValues(route, r.Method).Observe(elapsed.Seconds())

		s.logger.Info().
			Str("method", r.Method).
			Str("route", route).
			Int("status", status).
			Int("bytes", ww.BytesWritten()).
			Dur("elapsed", elapsed).
			Str(logKeyCorrelationID, correlationID(r.Context())).
			Msg("request")
	})
}

// authenticate resolves the bearer token to a person id and rejects
// requests without a valid one.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, r, s.logger, errs.ErrUnauthorized)

			return
		}

		id, err := s.db.PersonIDByToken(r.Context(), token)
		if err != nil {
			writeError(w, r, s.logger, err)

			return
		}

		if id == 0 {
			writeError(w, r, s.logger, errs.ErrUnauthorized)

			return
		}

		ctx := context.WithValue(r.Context(), ctxKeyPersonID, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "

	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, prefix) {
		return ""
	}

	return strings.TrimSpace(strings.TrimPrefix(auth, prefix))
}
