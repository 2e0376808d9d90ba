package db

import (
	"time"
)

type Provider string

const (
	ProviderResend   Provider = "resend"
	ProviderSendGrid Provider = "sendgrid"
	ProviderSES      Provider = "ses"
	ProviderBrevo    Provider = "brevo"
)

type Environment string

const (
	EnvDevelopment Environment = "dev"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

const RoleAdmin = "admin"

// Project is a tenant. ProviderAPIKeyEncrypted only ever holds a Cipher envelope.
type Project struct {
	ID                      int64       `gorm:"primaryKey" json:"id"`
	Name                    string      `gorm:"type:varchar(255);not null;uniqueIndex:projects_name_idx" json:"name"`
	Description             *string     `gorm:"type:text" json:"description,omitempty"`
	Provider                Provider    `gorm:"type:varchar(50);not null;default:resend" json:"provider"`
	ProviderAPIKeyEncrypted string      `gorm:"column:provider_api_key_encrypted;type:text;not null" json:"provider_api_key_encrypted"`
	DefaultFromEmail        string      `gorm:"type:varchar(255);not null" json:"default_from_email"`
	DefaultFromName         *string     `gorm:"type:varchar(255)" json:"default_from_name,omitempty"`
	ReplyToEmail            *string     `gorm:"type:varchar(255)" json:"reply_to_email,omitempty"`
	Domain                  *string     `gorm:"type:varchar(255)" json:"domain,omitempty"`
	WebhookURL              *string     `gorm:"column:webhook_url;type:text" json:"webhook_url,omitempty"`
	RateLimitPerMinute      int         `gorm:"not null;default:10" json:"rate_limit_per_minute"`
	IsActive                bool        `gorm:"not null" json:"is_active"`
	Environment             Environment `gorm:"type:varchar(20);not null;default:production;index:projects_environment_idx" json:"environment"`
	CreatedAt               time.Time   `gorm:"not null" json:"created_at"`
	UpdatedAt               time.Time   `gorm:"not null" json:"updated_at"`
}

func (Project) TableName() string { return "projects" }

// APIKey stores only the SHA-256 hash and a display prefix of the issued key.
type APIKey struct {
	ID         int64      `gorm:"primaryKey" json:"id"`
	ProjectID  int64      `gorm:"not null;index:api_keys_project_id_idx" json:"project_id"`
	Project    *Project   `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	KeyName    string     `gorm:"type:varchar(255);not null" json:"key_name"`
	KeyHash    string     `gorm:"type:varchar(64);not null;uniqueIndex:api_keys_key_hash_idx" json:"key_hash"`
	KeyPrefix  string     `gorm:"type:varchar(20);not null;index:api_keys_key_prefix_idx" json:"key_prefix"`
	IsActive   bool       `gorm:"not null" json:"is_active"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	CreatedAt  time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt  time.Time  `gorm:"not null" json:"updated_at"`
}

func (APIKey) TableName() string { return "api_keys" }

type KeyState string

const (
	KeyStateActive  KeyState = "active"
	KeyStateExpired KeyState = "expired"
	KeyStateRevoked KeyState = "revoked"
)

func (k *APIKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && !k.ExpiresAt.After(now)
}

// Usable reports whether the key may authenticate a request at now.
func (k *APIKey) Usable(now time.Time) bool {
	return k.IsActive && !k.Expired(now)
}

func (k *APIKey) State(now time.Time) KeyState {
	switch {
	case !k.IsActive:
		return KeyStateRevoked
	case k.Expired(now):
		return KeyStateExpired
	default:
		return KeyStateActive
	}
}

// ValidatedAPIKey is the cached result of a successful validation. Never persisted.
type ValidatedAPIKey struct {
	APIKey  APIKey  `json:"api_key"`
	Project Project `json:"project"`
}

type User struct {
	ID               int64      `gorm:"primaryKey" json:"id"`
	Email            string     `gorm:"type:varchar(255);not null;uniqueIndex:users_email_idx" json:"email"`
	Name             string     `gorm:"type:varchar(255);not null" json:"name"`
	Role             string     `gorm:"type:varchar(20);not null;default:admin" json:"role"`
	PasswordHash     string     `gorm:"not null" json:"-"`
	ResetToken       *string    `json:"-"`
	ResetTokenExpiry *time.Time `json:"-"`
	CreatedAt        time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"not null" json:"updated_at"`
}

func (User) TableName() string { return "users" }
