package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/celo-org/snark-setup-coordinator/api"
	"github.com/celo-org/snark-setup-coordinator/auth"
	"github.com/celo-org/snark-setup-coordinator/ceremony"
	"github.com/celo-org/snark-setup-coordinator/log"
	"github.com/celo-org/snark-setup-coordinator/metrics"
	"github.com/celo-org/snark-setup-coordinator/storage"
	"github.com/celo-org/snark-setup-coordinator/store"
)

// statusOf maps an error to a status code. conflict is the status of stale
// state errors, which differs between endpoints.
func statusOf(err error, conflict int) int {
	switch {
	case ceremony.IsNotFound(err):
		return http.StatusNotFound
	case ceremony.IsConflict(err):
		return conflict
	case ceremony.IsValidation(err), errors.Is(err, storage.ErrCopyFailed), errors.Is(err, auth.ErrInvalidAuthorization):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotInitialized):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func resultOf(status int) string {
	switch {
	case status < 300:
		return "ok"
	case status == http.StatusConflict:
		return "conflict"
	case status < 500:
		return "rejected"
	default:
		return "error"
	}
}

func (s *Server) ok(w http.ResponseWriter, r *http.Request, result interface{}) {
	var raw json.RawMessage
	if result != nil {
		var err error
		raw, err = json.Marshal(result)
		if err != nil {
			s.fail(w, r, http.StatusInternalServerError, err.Error())
			return
		}
	}
	write(w, http.StatusOK, &api.Response{Status: api.StatusOK, Result: raw})
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, status int, message string) {
	l := log.FromContextOrDefault(r.Context())
	if status >= http.StatusInternalServerError {
		l.Errorw("request failed", "path", r.URL.Path, "status", status, "err", message)
	} else {
		l.Warnw("request rejected", "path", r.URL.Path, "status", status, "err", message)
	}
	write(w, status, &api.Response{Status: api.StatusError, Message: message})
}

// failOp reports the failure of a coordinator operation.
func (s *Server) failOp(w http.ResponseWriter, r *http.Request, op string, err error, conflict int) {
	status := statusOf(err, conflict)
	metrics.Observe(op, resultOf(status))
	s.fail(w, r, status, err.Error())
}

func (s *Server) okOp(w http.ResponseWriter, r *http.Request, op string, result interface{}) {
	metrics.Observe(op, "ok")
	s.ok(w, r, result)
}

func write(w http.ResponseWriter, status int, resp *api.Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
