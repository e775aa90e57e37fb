package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	sestypes "github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"

	"dividend-orchestrator/internal/common/aws"
	"dividend-orchestrator/internal/common/config"
	"dividend-orchestrator/internal/common/errors"
	"dividend-orchestrator/internal/common/logger"
)

// AlertsGateway delivers dividend notifications by email (SES) and SMS (SNS).
// Delivery is a side effect, never cacheable: each send must actually go out.
type AlertsGateway struct {
	cfg config.AlertsConfig
	ses *aws.SESClient
	sns *aws.SNSClient
	log logger.Logger
}

// AlertRequest is carried in Request.Params under the keys below.
type AlertRequest struct {
	Ticker   string `json:"ticker"`
	Subject  string `json:"subject"`
	Body     string `json:"body"`
	SMSPhone string `json:"sms_phone,omitempty"`
}

// AlertReceipt reports which channels the alert went out on.
type AlertReceipt struct {
	Ticker      string `json:"ticker"`
	EmailsSent  int    `json:"emails_sent"`
	SMSSent     bool   `json:"sms_sent"`
	DeliveredAt string `json:"delivered_at"`
}

func NewAlertsGateway(cfg config.AlertsConfig, sesClient *aws.SESClient, snsClient *aws.SNSClient, log logger.Logger) *AlertsGateway {
	return &AlertsGateway{
		cfg: cfg,
		ses: sesClient,
		sns: snsClient,
		log: log.With(map[string]interface{}{"gateway": config.BackendAlerts}),
	}
}

func (g *AlertsGateway) ID() string      { return config.BackendAlerts }
func (g *AlertsGateway) Cacheable() bool { return false }

func (g *AlertsGateway) Fetch(ctx context.Context, req *Request) (*Result, error) {
	alert, err := alertFromParams(req.Params)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	receipt := AlertReceipt{Ticker: alert.Ticker}

	if g.ses != nil && len(g.cfg.Recipients) > 0 {
		if err := g.sendEmail(ctx, alert); err != nil {
			return nil, err
		}
		receipt.EmailsSent = len(g.cfg.Recipients)
	}

	if g.sns != nil && alert.SMSPhone != "" {
		if err := g.sendSMS(ctx, alert); err != nil {
			return nil, err
		}
		receipt.SMSSent = true
	}

	receipt.DeliveredAt = time.Now().UTC().Format(time.RFC3339)
	payload, _ := json.Marshal(receipt)

	return &Result{
		Source:         g.ID(),
		Payload:        payload,
		Latency:        time.Since(start),
		ConfidenceHint: 1.0,
	}, nil
}

func (g *AlertsGateway) sendEmail(ctx context.Context, alert *AlertRequest) error {
	_, err := g.ses.SendEmail(ctx, &ses.SendEmailInput{
		Source: awssdk.String(g.cfg.FromEmail),
		Destination: &sestypes.Destination{
			ToAddresses: g.cfg.Recipients,
		},
		Message: &sestypes.Message{
			Subject: &sestypes.Content{Data: awssdk.String(alert.Subject)},
			Body: &sestypes.Body{
				Text: &sestypes.Content{Data: awssdk.String(alert.Body)},
			},
		},
	})
	if err != nil {
		return errors.NewTransientBackendError(g.ID(), err)
	}
	return nil
}

func (g *AlertsGateway) sendSMS(ctx context.Context, alert *AlertRequest) error {
	input := &sns.PublishInput{
		PhoneNumber: awssdk.String(alert.SMSPhone),
		Message:     awssdk.String(alert.Body),
	}
	if g.cfg.SMSSenderID != "" {
		input.MessageAttributes = map[string]snstypes.MessageAttributeValue{
			"AWS.SNS.SMS.SenderID": {
				DataType:    awssdk.String("String"),
				StringValue: awssdk.String(g.cfg.SMSSenderID),
			},
		}
	}
	if _, err := g.sns.Publish(ctx, input); err != nil {
		return errors.NewTransientBackendError(g.ID(), err)
	}
	return nil
}

// Probe only checks that the gateway is configured; a delivery dry run would
// send real messages.
func (g *AlertsGateway) Probe(ctx context.Context) error {
	if g.ses == nil && g.sns == nil {
		return errors.NewPermanentBackendError(g.ID(), "no delivery channel configured")
	}
	return nil
}

func alertFromParams(params map[string]interface{}) (*AlertRequest, error) {
	if params == nil {
		return nil, errors.NewValidationError("alert delivery requires parameters")
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, errors.NewValidationError(fmt.Sprintf("unserializable alert parameters: %v", err))
	}
	var alert AlertRequest
	if err := json.Unmarshal(raw, &alert); err != nil {
		return nil, errors.NewValidationError(fmt.Sprintf("malformed alert parameters: %v", err))
	}
	if alert.Ticker == "" || alert.Subject == "" || alert.Body == "" {
		return nil, errors.NewValidationError("alert requires ticker, subject and body")
	}
	return &alert, nil
}
