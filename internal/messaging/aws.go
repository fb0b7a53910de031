package messaging

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	sestypes "github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"

	apperrors "application-tracker/internal/common/errors"
	"application-tracker/internal/common/logger"
	"application-tracker/internal/common/metrics"
)

// SNSService is the subset of the SNS client used here.
type SNSService interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SESService is the subset of the SES client used here.
type SESService interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SNSSender sends transactional SMS to phone numbers.
type SNSSender struct {
	client   SNSService
	senderID string
	logger   logger.Logger
}

func NewSNSSender(client SNSService, senderID string, log logger.Logger) *SNSSender {
	return &SNSSender{
		client:   client,
		senderID: senderID,
		logger:   log.WithFields(map[string]interface{}{"component": "messaging", "transport": "sns"}),
	}
}

func (s *SNSSender) Send(ctx context.Context, destination, text string) error {
	phone, err := NormalizePhone(destination)
	if err != nil {
		return err
	}

	attrs := map[string]snstypes.MessageAttributeValue{
		"AWS.SNS.SMS.SMSType": {DataType: aws.String("String"), StringValue: aws.String("Transactional")},
	}
	if s.senderID != "" {
		attrs["AWS.SNS.SMS.SenderID"] = snstypes.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(s.senderID),
		}
	}

	out, err := s.client.Publish(ctx, &sns.PublishInput{
		PhoneNumber:       aws.String(phone),
		Message:           aws.String(text),
		MessageAttributes: attrs,
	})
	if err != nil {
		metrics.MessagesSent.WithLabelValues("sns", "failed").Inc()
		return apperrors.NewUpstreamUnavailableError("sns", err)
	}

	metrics.MessagesSent.WithLabelValues("sns", "sent").Inc()
	s.logger.Debug("sms sent", map[string]interface{}{"messageId": aws.ToString(out.MessageId)})
	return nil
}

// SESSender emails plain-text messages under a fixed subject.
type SESSender struct {
	client  SESService
	from    string
	subject string
	logger  logger.Logger
}

const defaultSubject = "Update on your application"

func NewSESSender(client SESService, from, subject string, log logger.Logger) *SESSender {
	if subject == "" {
		subject = defaultSubject
	}
	return &SESSender{
		client:  client,
		from:    from,
		subject: subject,
		logger:  log.WithFields(map[string]interface{}{"component": "messaging", "transport": "ses"}),
	}
}

func (s *SESSender) Send(ctx context.Context, destination, text string) error {
	if !IsEmail(destination) {
		return apperrors.NewInvalidInputError("invalid email address: " + destination)
	}

	_, err := s.client.SendEmail(ctx, &ses.SendEmailInput{
		Destination: &sestypes.Destination{ToAddresses: []string{destination}},
		Message: &sestypes.Message{
			Subject: &sestypes.Content{Data: aws.String(s.subject)},
			Body: &sestypes.Body{
				Text: &sestypes.Content{Data: aws.String(text)},
			},
		},
		Source: aws.String(s.from),
	})
	if err != nil {
		metrics.MessagesSent.WithLabelValues("ses", "failed").Inc()
		return apperrors.NewUpstreamUnavailableError("ses", err)
	}

	metrics.MessagesSent.WithLabelValues("ses", "sent").Inc()
	s.logger.Debug("email sent", map[string]interface{}{"to": destination})
	return nil
}
