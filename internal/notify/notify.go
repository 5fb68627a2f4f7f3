package notify

import (
	"go.uber.org/zap"

	"storefront/register/internal/domain"
)

// Notifier delivers transient operator notices. Notify must not block the
// caller and never fails.
type Notifier interface {
	Notify(n domain.Notice)
}

type Log struct {
	logger *zap.Logger
}

func NewLog(logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{logger: logger}
}

func (l *Log) Notify(n domain.Notice) {
	fields := []zap.Field{
		zap.String("kind", n.Kind),
		zap.String("title", n.Title),
		zap.String("session", n.SessionID),
	}
	if n.Description != "" {
		fields = append(fields, zap.String("description", n.Description))
	}
	if n.Kind == domain.NoticeError {
		l.logger.Warn("notice", fields...)
		return
	}
	l.logger.Info("notice", fields...)
}

// Multi sends every notice to each notifier in order.
type Multi []Notifier

func (m Multi) Notify(n domain.Notice) {
	for _, target := range m {
		if target != nil {
			target.Notify(n)
		}
	}
}
