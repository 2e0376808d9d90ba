package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/raakeshmj/keyplane/internal/db"
	"github.com/raakeshmj/keyplane/internal/httpx"
	"github.com/raakeshmj/keyplane/internal/repository"
	"github.com/raakeshmj/keyplane/internal/service"
)

type createProjectRequest struct {
	Name               string  `json:"name" validate:"required,max=255"`
	Description        *string `json:"description" validate:"omitempty,max=2000"`
	Provider           string  `json:"provider" validate:"omitempty,oneof=resend sendgrid ses brevo"`
	ProviderAPIKey     string  `json:"provider_api_key" validate:"required"`
	DefaultFromEmail   string  `json:"default_from_email" validate:"required,email"`
	DefaultFromName    *string `json:"default_from_name" validate:"omitempty,max=255"`
	ReplyToEmail       *string `json:"reply_to_email" validate:"omitempty,email"`
	Domain             *string `json:"domain" validate:"omitempty,fqdn"`
	WebhookURL         *string `json:"webhook_url" validate:"omitempty,url"`
	RateLimitPerMinute int     `json:"rate_limit_per_minute" validate:"omitempty,min=1,max=100000"`
	Environment        string  `json:"environment" validate:"omitempty,oneof=dev staging production"`
}

type updateProjectRequest struct {
	Name               *string `json:"name" validate:"omitempty,min=1,max=255"`
	Description        *string `json:"description" validate:"omitempty,max=2000"`
	Provider           *string `json:"provider" validate:"omitempty,oneof=resend sendgrid ses brevo"`
	ProviderAPIKey     *string `json:"provider_api_key" validate:"omitempty,min=1"`
	DefaultFromEmail   *string `json:"default_from_email" validate:"omitempty,email"`
	DefaultFromName    *string `json:"default_from_name" validate:"omitempty,max=255"`
	ReplyToEmail       *string `json:"reply_to_email" validate:"omitempty,email"`
	Domain             *string `json:"domain" validate:"omitempty,fqdn"`
	WebhookURL         *string `json:"webhook_url" validate:"omitempty,url"`
	RateLimitPerMinute *int    `json:"rate_limit_per_minute" validate:"omitempty,min=1,max=100000"`
	IsActive           *bool   `json:"is_active"`
	Environment        *string `json:"environment" validate:"omitempty,oneof=dev staging production"`
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if err := httpx.Bind(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	p, err := s.deps.Projects.Create(r.Context(), service.CreateProjectInput{
		Name:               req.Name,
		Description:        req.Description,
		Provider:           db.Provider(req.Provider),
		ProviderAPIKey:     req.ProviderAPIKey,
		DefaultFromEmail:   req.DefaultFromEmail,
		DefaultFromName:    req.DefaultFromName,
		ReplyToEmail:       req.ReplyToEmail,
		Domain:             req.Domain,
		WebhookURL:         req.WebhookURL,
		RateLimitPerMinute: req.RateLimitPerMinute,
		Environment:        db.Environment(req.Environment),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httpx.Success(w, http.StatusCreated, "project created", newProjectView(*p))
}

// handleListProjects pages through all projects, or filters by
// ?environment= or ?active=true without paging.
func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if env := q.Get("environment"); env != "" {
		items, err := s.deps.Projects.ListByEnvironment(r.Context(), db.Environment(env))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		httpx.Success(w, http.StatusOK, "projects retrieved", newProjectViews(items))
		return
	}
	if active, _ := strconv.ParseBool(q.Get("active")); active {
		items, err := s.deps.Projects.ListActive(r.Context())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		httpx.Success(w, http.StatusOK, "projects retrieved", newProjectViews(items))
		return
	}

	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	result, err := s.deps.Projects.List(r.Context(), repository.Pagination{
		Page:      page,
		Limit:     limit,
		SortBy:    q.Get("sort_by"),
		SortOrder: repository.SortOrder(strings.ToLower(q.Get("order"))),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httpx.Success(w, http.StatusOK, "projects retrieved", service.Page[projectView]{
		Items:      newProjectViews(result.Items),
		Page:       result.Page,
		Limit:      result.Limit,
		Total:      result.Total,
		TotalPages: result.TotalPages,
		HasNext:    result.HasNext,
		HasPrev:    result.HasPrev,
	})
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "projectID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := s.deps.Projects.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httpx.Success(w, http.StatusOK, "project retrieved", newProjectView(*p))
}

func (s *Server) handleProjectCredentials(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "projectID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := s.deps.Projects.GetWithDecryptedKey(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httpx.Success(w, http.StatusOK, "project credentials retrieved", struct {
		projectView
		ProviderAPIKey string `json:"provider_api_key"`
	}{newProjectView(p.Project), p.ProviderAPIKey})
}

func (s *Server) handleUpdateProject(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "projectID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req updateProjectRequest
	if err := httpx.Bind(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	in := service.UpdateProjectInput{
		Name:               req.Name,
		Description:        req.Description,
		ProviderAPIKey:     req.ProviderAPIKey,
		DefaultFromEmail:   req.DefaultFromEmail,
		DefaultFromName:    req.DefaultFromName,
		ReplyToEmail:       req.ReplyToEmail,
		Domain:             req.Domain,
		WebhookURL:         req.WebhookURL,
		RateLimitPerMinute: req.RateLimitPerMinute,
		IsActive:           req.IsActive,
	}
	if req.Provider != nil {
		p := db.Provider(*req.Provider)
		in.Provider = &p
	}
	if req.Environment != nil {
		e := db.Environment(*req.Environment)
		in.Environment = &e
	}

	p, err := s.deps.Projects.Update(r.Context(), id, in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httpx.Success(w, http.StatusOK, "project updated", newProjectView(*p))
}

func (s *Server) handleToggleProject(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "projectID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := s.deps.Projects.ToggleActive(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	msg := "project deactivated"
	if p.IsActive {
		msg = "project activated"
	}
	httpx.Success(w, http.StatusOK, msg, newProjectView(*p))
}
