package config

import (
	"errors"
	"sync"
	"time"
)

// PolicyConfig is the runtime-adjustable global rate limit.
type PolicyConfig struct {
	GlobalLimit   int `json:"global_limit" validate:"required,min=1,max=1000000"`
	WindowSeconds int `json:"window_seconds" validate:"required,min=1,max=86400"`
}

func (p PolicyConfig) Window() time.Duration {
	return time.Duration(p.WindowSeconds) * time.Second
}

// DynamicConfigManager manages thread-safe config updates
type DynamicConfigManager struct {
	mu     sync.RWMutex
	policy PolicyConfig
}

func NewDynamicConfigManager(initial PolicyConfig) *DynamicConfigManager {
	if initial.GlobalLimit <= 0 {
		initial.GlobalLimit = 100
	}
	if initial.WindowSeconds <= 0 {
		initial.WindowSeconds = 60
	}
	return &DynamicConfigManager{policy: initial}
}

func (c *Config) Policy() PolicyConfig {
	return PolicyConfig{
		GlobalLimit:   c.GlobalRateLimit,
		WindowSeconds: int(c.RateLimitWindow / time.Second),
	}
}

func (m *DynamicConfigManager) GetPolicy() PolicyConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.policy
}

func (m *DynamicConfigManager) UpdatePolicy(newPolicy PolicyConfig) error {
	if newPolicy.GlobalLimit <= 0 || newPolicy.WindowSeconds <= 0 {
		return errors.New("global limit and window must be positive")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policy = newPolicy
	return nil
}
