package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/raakeshmj/keyplane/internal/config"
	"github.com/raakeshmj/keyplane/internal/httpx"
	"github.com/raakeshmj/keyplane/internal/metrics"
	"github.com/raakeshmj/keyplane/internal/policy"
	"go.uber.org/zap"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httpx.Success(w, http.StatusOK, "ok", map[string]string{"status": "ok"})
}

// handleReady reports 503 if any dependency check fails.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := make(map[string]string, len(s.deps.Checks))
	ready := true
	for name, check := range s.deps.Checks {
		if err := check(ctx); err != nil {
			s.log.Warn("readiness check failed", zap.String("dependency", name), zap.Error(err))
			status[name] = "unavailable"
			ready = false
			continue
		}
		status[name] = "ok"
	}

	if !ready {
		httpx.Error(w, http.StatusServiceUnavailable, httpx.CodeServiceUnavailable, "not ready", status)
		return
	}
	httpx.Success(w, http.StatusOK, "ready", status)
}

func (s *Server) handleGetRateLimit(w http.ResponseWriter, r *http.Request) {
	httpx.Success(w, http.StatusOK, "global rate limit", s.deps.Dynamic.GetPolicy())
}

func (s *Server) handleUpdateRateLimit(w http.ResponseWriter, r *http.Request) {
	var req config.PolicyConfig
	if err := httpx.Bind(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.deps.Dynamic.UpdatePolicy(req); err != nil {
		httpx.Error(w, http.StatusBadRequest, httpx.CodeBadRequest, err.Error(), nil)
		return
	}
	s.log.Info("global rate limit updated",
		zap.Int("global_limit", req.GlobalLimit),
		zap.Int("window_seconds", req.WindowSeconds),
	)
	httpx.Success(w, http.StatusOK, "global rate limit updated", s.deps.Dynamic.GetPolicy())
}

func (s *Server) handleListPolicies(w http.ResponseWriter, r *http.Request) {
	httpx.Success(w, http.StatusOK, "policies", s.deps.Policies.Policies())
}

type replacePoliciesRequest struct {
	Policies []policy.Policy `json:"policies" validate:"required,dive"`
}

// handleReplacePolicies swaps the whole policy set atomically.
func (s *Server) handleReplacePolicies(w http.ResponseWriter, r *http.Request) {
	var req replacePoliciesRequest
	if err := httpx.Bind(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.deps.Policies.LoadPolicies(req.Policies); err != nil {
		if errors.Is(err, policy.ErrInvalidPolicy) {
			httpx.Error(w, http.StatusBadRequest, httpx.CodeBadRequest, err.Error(), nil)
			return
		}
		s.writeError(w, r, err)
		return
	}
	s.log.Info("policies replaced", zap.Int("count", len(req.Policies)))
	httpx.Success(w, http.StatusOK, "policies replaced", s.deps.Policies.Policies())
}

type statsView struct {
	Requests metrics.Stats     `json:"requests"`
	Projects int64             `json:"projects"`
	Breakers map[string]string `json:"breakers"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	count, err := s.deps.Projects.Count(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	breakers := make(map[string]string, len(s.deps.Breakers))
	for name, b := range s.deps.Breakers {
		breakers[name] = b.State()
	}
	httpx.Success(w, http.StatusOK, "stats", statsView{
		Requests: s.deps.Metrics.Stats(),
		Projects: count,
		Breakers: breakers,
	})
}
