package notify

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"drillflow/internal/types"
)

// Log writes notifications to the logger instead of delivering them. It
// backs the API-only deployment where no bot token is configured.
type Log struct {
	logger *zap.Logger
	seq    atomic.Int64
}

func NewLog(logger *zap.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) Notify(_ context.Context, userID types.ID, msg Message) (Receipt, error) {
	id := int(l.seq.Add(1))
	l.logger.Info("notification",
		zap.String("user_id", string(userID)),
		zap.Int("message_id", id),
		zap.String("text", msg.Text),
		zap.Int("button_rows", len(msg.Buttons)),
	)
	return Receipt{UserID: userID, MessageID: id}, nil
}

func (l *Log) Edit(_ context.Context, r Receipt, msg Message) error {
	l.logger.Info("notification edited",
		zap.String("user_id", string(r.UserID)),
		zap.Int("message_id", r.MessageID),
		zap.String("text", msg.Text),
	)
	return nil
}
