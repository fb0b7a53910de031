// Package messaging delivers short applicant-facing texts over SMS/chat and email.
package messaging

import (
	"context"
	"strings"
	"unicode"

	"github.com/nyaruka/phonenumbers"

	apperrors "application-tracker/internal/common/errors"
	"application-tracker/internal/common/logger"
	"application-tracker/internal/common/metrics"
)

// Sender delivers text to a destination address.
type Sender interface {
	Send(ctx context.Context, destination, text string) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, destination, text string) error

func (f SenderFunc) Send(ctx context.Context, destination, text string) error {
	return f(ctx, destination, text)
}

// DefaultRegion is the region local-format numbers such as 0775555555 are
// read in when no other region is configured.
const DefaultRegion = "ZW"

// NormalizePhone is NormalizePhoneIn with DefaultRegion.
func NormalizePhone(raw string) (string, error) {
	return NormalizePhoneIn(raw, DefaultRegion)
}

// NormalizePhoneIn parses raw as a number dialled from region and returns it
// in E.164 form. A leading national prefix is replaced by the region's
// country code. Anything that cannot be a phone number is InvalidInput.
func NormalizePhoneIn(raw, region string) (string, error) {
	if region == "" {
		region = DefaultRegion
	}
	cleaned := strings.TrimSpace(raw)
	if cleaned == "" || strings.IndexFunc(cleaned, unicode.IsLetter) >= 0 {
		return "", apperrors.NewInvalidInputError("invalid phone number: " + raw)
	}

	num, err := phonenumbers.Parse(cleaned, strings.ToUpper(region))
	if err != nil || phonenumbers.IsPossibleNumberWithReason(num) != phonenumbers.IS_POSSIBLE {
		return "", apperrors.NewInvalidInputError("invalid phone number: " + raw)
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}

// IsEmail is a shape check only.
func IsEmail(s string) bool {
	at := strings.LastIndex(s, "@")
	return at > 0 && at < len(s)-1 && !strings.ContainsAny(s, " \t\n") && strings.Contains(s[at:], ".")
}

// Router picks a transport by the shape of the destination.
type Router struct {
	Phone Sender
	Email Sender
	// Region is used to read local-format numbers. Empty means DefaultRegion.
	Region string
}

func (r *Router) Send(ctx context.Context, destination, text string) error {
	destination = strings.TrimSpace(destination)
	if IsEmail(destination) {
		if r.Email == nil {
			return apperrors.NewInvalidInputError("email delivery is not configured")
		}
		return r.Email.Send(ctx, destination, text)
	}
	phone, err := NormalizePhoneIn(destination, r.Region)
	if err != nil {
		return err
	}
	if r.Phone == nil {
		return apperrors.NewInvalidInputError("sms delivery is not configured")
	}
	return r.Phone.Send(ctx, phone, text)
}

// LogSender only logs. It stands in when no transport is enabled.
type LogSender struct {
	logger logger.Logger
}

func NewLogSender(log logger.Logger) *LogSender {
	return &LogSender{logger: log.WithFields(map[string]interface{}{"component": "messaging"})}
}

func (s *LogSender) Send(ctx context.Context, destination, text string) error {
	s.logger.Info("message not delivered, no transport enabled", map[string]interface{}{
		"destination": destination,
		"length":      len(text),
	})
	metrics.MessagesSent.WithLabelValues("log", "skipped").Inc()
	return nil
}
