package server

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"gigescrow/observability"
	"gigescrow/observability/logging"
	"gigescrow/services/escrowd/journal"
)

const (
	headerRequestID      = "X-Request-ID"
	headerIdempotencyKey = "Idempotency-Key"
	headerReplayed       = "Idempotent-Replayed"
)

// errKeyInFlight rejects a request whose key is held by a request that has not
// finished yet.
var errKeyInFlight = fmt.Errorf("%w: a request with this key is still in progress", journal.ErrIdempotencyConflict)

const (
	contextKeyRequestID contextKey = "escrowd.request_id"
	contextKeyInfo      contextKey = "escrowd.request_info"
)

// requestInfo is filled by inner middleware so the access log can see values
// attached to derived request contexts.
type requestInfo struct {
	caller        common.Address
	authenticated bool
}

func noteCaller(ctx context.Context, caller common.Address) {
	if info, ok := ctx.Value(contextKeyInfo).(*requestInfo); ok {
		info.caller = caller
		info.authenticated = true
	}
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(contextKeyRequestID).(string)
	return id
}

// withRequestID tags every request with a uuid, honouring a well-formed
// inbound X-Request-ID.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(headerRequestID, id)
		ctx := context.WithValue(r.Context(), contextKeyRequestID, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// accessLog records one structured line and one metrics sample per request.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		info := &requestInfo{}
		r = r.WithContext(context.WithValue(r.Context(), contextKeyInfo, info))
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		duration := time.Since(start)
		observability.ModuleMetrics().Observe("escrowd", r.Method+" "+route, status, duration)

		attrs := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"request_id", requestID(r.Context()),
			"duration_ms", duration.Milliseconds(),
			"authorization", logging.MaskBearer(r.Header.Get("Authorization")),
			logging.MaskField("idempotency_key", r.Header.Get(headerIdempotencyKey)),
		}
		if info.authenticated {
			attrs = append(attrs, "caller", info.caller.Hex())
		}
		s.logger.Info("request", attrs...)
	})
}

// idempotent replays the stored response for a repeated Idempotency-Key on
// mutating requests. Keys are scoped to the caller. A key is held from lookup
// until its response is stored, and a duplicate arriving meanwhile gets 409.
// Server errors are not stored so that the client can retry them.
func (s *Server) idempotent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(headerIdempotencyKey)
		if key == "" || s.journal == nil || r.Method == http.MethodGet || r.Method == http.MethodHead {
			next.ServeHTTP(w, r)
			return
		}
		caller, _ := Caller(r.Context())
		slot := caller.Hex() + "\x00" + key
		if _, busy := s.inflight.LoadOrStore(slot, struct{}{}); busy {
			s.fail(w, r, errKeyInFlight)
			return
		}
		defer s.inflight.Delete(slot)

		stored, ok, err := s.journal.Remembered(r.Context(), key, caller.Hex())
		if err != nil {
			s.fail(w, r, err)
			return
		}
		if ok {
			if stored.Method != r.Method || stored.Path != r.URL.Path {
				s.fail(w, r, journal.ErrIdempotencyConflict)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set(headerReplayed, "true")
			w.WriteHeader(stored.Status)
			_, _ = io.WriteString(w, stored.Response)
			return
		}

		var buf bytes.Buffer
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		ww.Tee(&buf)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		if status >= http.StatusInternalServerError {
			return
		}
		entry := journal.IdempotencyKey{
			Key:       key,
			Caller:    caller.Hex(),
			RequestID: requestID(r.Context()),
			Method:    r.Method,
			Path:      r.URL.Path,
			Status:    status,
			Response:  buf.String(),
		}
		if err := s.journal.Remember(r.Context(), entry); err != nil {
			s.logger.Warn("idempotency record failed", "request_id", entry.RequestID, "error", err)
		}
	})
}
