package messaging

import (
	"context"

	"application-tracker/internal/common/aws"
	"application-tracker/internal/common/config"
	"application-tracker/internal/common/logger"
)

// NewFromConfig routes phone destinations to SNS and email to SES when they
// are enabled. A disabled or unavailable transport only logs. region reads
// local-format numbers.
func NewFromConfig(ctx context.Context, n config.NotificationConfig, region string, log logger.Logger) *Router {
	router := &Router{
		Phone:  NewLogSender(log),
		Email:  NewLogSender(log),
		Region: region,
	}
	if !n.SMS.Enabled && !n.Email.Enabled {
		return router
	}

	clients, err := aws.NewClients(ctx, n.AWS.Region)
	if err != nil {
		log.Error("AWS clients unavailable, messages will only be logged", map[string]interface{}{"error": err.Error()})
		return router
	}
	if n.SMS.Enabled {
		router.Phone = NewSNSSender(clients.SNS, n.SMS.SenderID, log)
	}
	if n.Email.Enabled {
		router.Email = NewSESSender(clients.SES, n.Email.FromEmail, "", log)
	}
	return router
}
