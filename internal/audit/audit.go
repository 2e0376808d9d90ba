// Package audit records who did what to which resource.
package audit

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LogEntry defines the structured audit log
type LogEntry struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	ActorID   string                 `json:"actor_id"`
	ProjectID int64                  `json:"project_id,omitempty"`
	Action    string                 `json:"action"`
	Resource  string                 `json:"resource"`
	Status    int                    `json:"status"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

type Logger interface {
	Log(entry LogEntry)
}

// ZapLogger writes entries to a dedicated "audit" logger.
type ZapLogger struct {
	log *zap.Logger
}

func NewZapLogger(log *zap.Logger) *ZapLogger {
	if log == nil {
		log = zap.NewNop()
	}
	return &ZapLogger{log: log.Named("audit")}
}

func (l *ZapLogger) Log(entry LogEntry) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if entry.Metadata != nil {
		maskSensitive(entry.Metadata)
	}

	fields := []zap.Field{
		zap.String("audit_id", entry.ID),
		zap.Time("at", entry.Timestamp),
		zap.String("actor_id", entry.ActorID),
		zap.String("action", entry.Action),
		zap.String("resource", entry.Resource),
		zap.Int("status", entry.Status),
	}
	if entry.ProjectID != 0 {
		fields = append(fields, zap.Int64("project_id", entry.ProjectID))
	}
	if len(entry.Metadata) > 0 {
		fields = append(fields, zap.Any("metadata", entry.Metadata))
	}
	l.log.Info("audit", fields...)
}

var sensitiveKeys = []string{"api_key", "password", "token", "secret"}

func maskSensitive(m map[string]interface{}) {
	for k := range m {
		lowerK := strings.ToLower(k)
		for _, s := range sensitiveKeys {
			if strings.Contains(lowerK, s) {
				m[k] = "***REDACTED***"
				break
			}
		}
	}
}

var _ Logger = (*ZapLogger)(nil)
