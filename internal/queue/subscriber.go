package queue

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/unclebandit/outreach-engine/internal/logger"
)

// StartReplyLogger subscribes a handler that logs every ReplyDetected event.
// It stands in for founder notification when no broker is configured.
func StartReplyLogger(q Queue, log *zap.Logger) error {
	log = logger.OrNop(log)
	return q.Subscribe(TopicReplies, func(body []byte) error {
		var ev ReplyDetected
		if err := json.Unmarshal(body, &ev); err != nil {
			// a malformed event will not get better on retry
			log.Warn("invalid reply event", zap.Error(err))
			return nil
		}
		log.Info("reply detected",
			zap.String("client_id", ev.ClientID),
			zap.String("campaign_id", ev.CampaignID),
			zap.String("recipient_id", ev.RecipientID),
			logger.Email("from", ev.FromEmail),
			zap.String("strategy", ev.Strategy),
			zap.Bool("new_person", ev.IsNewPerson))
		return nil
	})
}
