package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/raakeshmj/keyplane/internal/httpx"
	"github.com/raakeshmj/keyplane/internal/repository"
)

type generateKeyRequest struct {
	KeyName   string     `json:"key_name" validate:"required,max=255"`
	ExpiresAt *time.Time `json:"expires_at"`
}

type updateKeyRequest struct {
	KeyName     *string    `json:"key_name" validate:"omitempty,min=1,max=255"`
	IsActive    *bool      `json:"is_active"`
	ExpiresAt   *time.Time `json:"expires_at"`
	ClearExpiry bool       `json:"clear_expiry" validate:"excluded_with=ExpiresAt"`
}

func (s *Server) handleGenerateKey(w http.ResponseWriter, r *http.Request) {
	projectID, err := pathID(r, "projectID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req generateKeyRequest
	if err := httpx.Bind(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.deps.Keys.Generate(r.Context(), projectID, req.KeyName, req.ExpiresAt)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httpx.Success(w, http.StatusCreated, "api key generated; store it now, it will not be shown again",
		newIssuedKeyView(*res, s.deps.Clock.Now()))
}

// handleListProjectKeys lists every key of a project, or only usable ones
// with ?active=true.
func (s *Server) handleListProjectKeys(w http.ResponseWriter, r *http.Request) {
	projectID, err := pathID(r, "projectID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	list := s.deps.Keys.ListByProject
	if active, _ := strconv.ParseBool(r.URL.Query().Get("active")); active {
		list = s.deps.Keys.ListActiveByProject
	}
	keys, err := list(r.Context(), projectID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httpx.Success(w, http.StatusOK, "api keys retrieved", newKeyViews(keys, s.deps.Clock.Now()))
}

func (s *Server) handleDeleteProjectKeys(w http.ResponseWriter, r *http.Request) {
	projectID, err := pathID(r, "projectID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	n, err := s.deps.Keys.DeleteProjectKeys(r.Context(), projectID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httpx.Success(w, http.StatusOK, "api keys deleted", map[string]int64{"deleted": n})
}

func (s *Server) handleFindKeysByPrefix(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")
	if prefix == "" {
		httpx.Error(w, http.StatusBadRequest, httpx.CodeBadRequest, "prefix query parameter is required", nil)
		return
	}
	keys, err := s.deps.Keys.FindByPrefix(r.Context(), prefix)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httpx.Success(w, http.StatusOK, "api keys retrieved", newKeyViews(keys, s.deps.Clock.Now()))
}

func (s *Server) handleGetKey(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "keyID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	key, err := s.deps.Keys.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httpx.Success(w, http.StatusOK, "api key retrieved", newKeyView(*key, s.deps.Clock.Now()))
}

func (s *Server) handleUpdateKey(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "keyID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req updateKeyRequest
	if err := httpx.Bind(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	key, err := s.deps.Keys.Update(r.Context(), id, repository.APIKeyUpdate{
		KeyName:     req.KeyName,
		IsActive:    req.IsActive,
		ExpiresAt:   req.ExpiresAt,
		ClearExpiry: req.ClearExpiry,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httpx.Success(w, http.StatusOK, "api key updated", newKeyView(*key, s.deps.Clock.Now()))
}

func (s *Server) handleRevokeKey(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "keyID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	key, err := s.deps.Keys.Revoke(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httpx.Success(w, http.StatusOK, "api key revoked", newKeyView(*key, s.deps.Clock.Now()))
}

func (s *Server) handleRotateKey(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "keyID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.deps.Keys.Rotate(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	now := s.deps.Clock.Now()
	httpx.Success(w, http.StatusCreated, "api key rotated; store the new key now, it will not be shown again", rotatedKeyView{
		Revoked: newKeyView(res.Revoked, now),
		Key:     newIssuedKeyView(res.Generated, now),
	})
}

func (s *Server) handleDeleteKey(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "keyID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.deps.Keys.Delete(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	httpx.Success(w, http.StatusOK, "api key deleted", nil)
}
