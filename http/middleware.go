package http

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/celo-org/snark-setup-coordinator/auth"
	"github.com/celo-org/snark-setup-coordinator/log"
	"github.com/celo-org/snark-setup-coordinator/metrics"
)

// RequestIDHeader carries the identifier of a request in both directions.
const RequestIDHeader = "X-Request-Id"

type ctxKey int

const participantKey ctxKey = iota

// ParticipantFromContext returns the authenticated participant of a request.
func ParticipantFromContext(ctx context.Context) string {
	id, _ := ctx.Value(participantKey).(string)
	return id
}

func instrumentHandler(h http.Handler) http.Handler {
	return promhttp.InstrumentHandlerInFlight(metrics.HTTPInFlight,
		promhttp.InstrumentHandlerCounter(metrics.HTTPRequests,
			promhttp.InstrumentHandlerDuration(metrics.HTTPDuration, h)))
}

// withRequestID tags the request logger with the caller's request id, or a
// fresh one.
func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set(RequestIDHeader, id)
		l := s.log.With("requestId", id)
		next.ServeHTTP(w, r.WithContext(log.ToContext(r.Context(), l)))
	})
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		participantID, err := s.auth.Verify(r)
		if err != nil {
			s.fail(w, r, http.StatusUnauthorized, err.Error())
			return
		}
		ctx := context.WithValue(r.Context(), participantKey, participantID)
		ctx = log.ToContext(ctx, log.FromContextOrDefault(ctx).With("participant", participantID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// authorize checks the authenticated participant against the live document.
func (s *Server) authorize(groups ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			doc, err := s.coordinator.GetCeremony(r.Context())
			if err != nil {
				s.fail(w, r, statusOf(err, http.StatusInternalServerError), err.Error())
				return
			}
			if err := auth.Authorize(doc, ParticipantFromContext(r.Context()), groups...); err != nil {
				s.fail(w, r, http.StatusForbidden, "Not authorized for "+r.URL.Path)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
