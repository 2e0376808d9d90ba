package server

import (
	"net/http"

	"github.com/raakeshmj/keyplane/internal/httpx"
	"github.com/raakeshmj/keyplane/internal/middleware"
)

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.Bind(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.deps.Users.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httpx.Success(w, http.StatusOK, "login successful", res)
}

type selfView struct {
	Project   projectView `json:"project"`
	KeyID     int64       `json:"key_id"`
	KeyName   string      `json:"key_name"`
	KeyPrefix string      `json:"key_prefix"`
}

// handleSelf tells a project-key caller who it is authenticated as.
func (s *Server) handleSelf(w http.ResponseWriter, r *http.Request) {
	v, ok := middleware.ProjectFromContext(r.Context())
	if !ok {
		httpx.Error(w, http.StatusUnauthorized, httpx.CodeUnauthorized, "missing API key", nil)
		return
	}
	httpx.Success(w, http.StatusOK, "authenticated", selfView{
		Project:   newProjectView(v.Project),
		KeyID:     v.APIKey.ID,
		KeyName:   v.APIKey.KeyName,
		KeyPrefix: v.APIKey.KeyPrefix,
	})
}
