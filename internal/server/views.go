package server

import (
	"time"

	"github.com/raakeshmj/keyplane/internal/db"
	"github.com/raakeshmj/keyplane/internal/service"
)

// keyView omits the stored hash.
type keyView struct {
	ID         int64       `json:"id"`
	ProjectID  int64       `json:"project_id"`
	KeyName    string      `json:"key_name"`
	KeyPrefix  string      `json:"key_prefix"`
	IsActive   bool        `json:"is_active"`
	State      db.KeyState `json:"state"`
	LastUsedAt *time.Time  `json:"last_used_at,omitempty"`
	ExpiresAt  *time.Time  `json:"expires_at,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

func newKeyView(k db.APIKey, now time.Time) keyView {
	return keyView{
		ID:         k.ID,
		ProjectID:  k.ProjectID,
		KeyName:    k.KeyName,
		KeyPrefix:  k.KeyPrefix,
		IsActive:   k.IsActive,
		State:      k.State(now),
		LastUsedAt: k.LastUsedAt,
		ExpiresAt:  k.ExpiresAt,
		CreatedAt:  k.CreatedAt,
		UpdatedAt:  k.UpdatedAt,
	}
}

func newKeyViews(keys []db.APIKey, now time.Time) []keyView {
	out := make([]keyView, 0, len(keys))
	for _, k := range keys {
		out = append(out, newKeyView(k, now))
	}
	return out
}

// issuedKeyView is returned exactly once, when a key is created.
type issuedKeyView struct {
	keyView
	PlainTextKey string `json:"api_key"`
}

func newIssuedKeyView(g service.GenerateResult, now time.Time) issuedKeyView {
	return issuedKeyView{keyView: newKeyView(g.Key, now), PlainTextKey: g.PlainTextKey}
}

type rotatedKeyView struct {
	Revoked keyView       `json:"revoked"`
	Key     issuedKeyView `json:"key"`
}

// projectView omits the encrypted provider credential.
type projectView struct {
	ID                 int64          `json:"id"`
	Name               string         `json:"name"`
	Description        *string        `json:"description,omitempty"`
	Provider           db.Provider    `json:"provider"`
	DefaultFromEmail   string         `json:"default_from_email"`
	DefaultFromName    *string        `json:"default_from_name,omitempty"`
	ReplyToEmail       *string        `json:"reply_to_email,omitempty"`
	Domain             *string        `json:"domain,omitempty"`
	WebhookURL         *string        `json:"webhook_url,omitempty"`
	RateLimitPerMinute int            `json:"rate_limit_per_minute"`
	IsActive           bool           `json:"is_active"`
	Environment        db.Environment `json:"environment"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

func newProjectView(p db.Project) projectView {
	return projectView{
		ID:                 p.ID,
		Name:               p.Name,
		Description:        p.Description,
		Provider:           p.Provider,
		DefaultFromEmail:   p.DefaultFromEmail,
		DefaultFromName:    p.DefaultFromName,
		ReplyToEmail:       p.ReplyToEmail,
		Domain:             p.Domain,
		WebhookURL:         p.WebhookURL,
		RateLimitPerMinute: p.RateLimitPerMinute,
		IsActive:           p.IsActive,
		Environment:        p.Environment,
		CreatedAt:          p.CreatedAt,
		UpdatedAt:          p.UpdatedAt,
	}
}

func newProjectViews(ps []db.Project) []projectView {
	out := make([]projectView, 0, len(ps))
	for _, p := range ps {
		out = append(out, newProjectView(p))
	}
	return out
}
