package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/raakeshmj/keyplane/internal/httpx"
	"github.com/raakeshmj/keyplane/internal/service"
	"go.uber.org/zap"
)

var errBadID = errors.New("path id must be a positive integer")

// writeError maps service and binding errors onto HTTP statuses. Only
// unexpected failures are logged; their text never reaches the client.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *httpx.ValidationError
	switch {
	case errors.As(err, &verr):
		httpx.Error(w, http.StatusUnprocessableEntity, httpx.CodeValidationFailed, "request validation failed", verr.Fields)
	case errors.Is(err, httpx.ErrMalformedBody), errors.Is(err, errBadID):
		httpx.Error(w, http.StatusBadRequest, httpx.CodeBadRequest, err.Error(), nil)
	case errors.Is(err, service.ErrNotFound):
		httpx.Error(w, http.StatusNotFound, httpx.CodeNotFound, err.Error(), nil)
	case errors.Is(err, service.ErrConflict):
		httpx.Error(w, http.StatusConflict, httpx.CodeConflict, err.Error(), nil)
	case errors.Is(err, service.ErrInvalidState):
		httpx.Error(w, http.StatusBadRequest, httpx.CodeInvalidState, err.Error(), nil)
	case errors.Is(err, service.ErrMalformedInput):
		httpx.Error(w, http.StatusBadRequest, httpx.CodeBadRequest, err.Error(), nil)
	case errors.Is(err, service.ErrInvalidCredentials):
		httpx.Error(w, http.StatusUnauthorized, httpx.CodeUnauthorized, "invalid email or password", nil)
	case errors.Is(err, service.ErrUnavailable):
		s.log.Error("backing store unavailable", zap.String("path", r.URL.Path), zap.Error(err))
		httpx.Error(w, http.StatusServiceUnavailable, httpx.CodeServiceUnavailable, "service temporarily unavailable", nil)
	default:
		s.log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		httpx.Error(w, http.StatusInternalServerError, httpx.CodeInternal, "internal server error", nil)
	}
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, errBadID
	}
	return id, nil
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	httpx.Error(w, http.StatusNotFound, httpx.CodeNotFound, "route not found", nil)
}

func (s *Server) handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	httpx.Error(w, http.StatusMethodNotAllowed, httpx.CodeMethodNotAllowed, "method not allowed", nil)
}
