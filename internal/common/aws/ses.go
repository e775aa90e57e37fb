// Package aws wraps the AWS clients behind dividend alert delivery: SES for
// the email channel and SNS for SMS. Both resolve credentials from the
// ambient chain (environment, shared config, instance role).
package aws

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
)

// SESClient sends dividend alert emails to the configured recipient list.
type SESClient struct {
	client *ses.Client
}

func NewSESClient(ctx context.Context, region string) (*SESClient, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, err
	}
	return &SESClient{client: ses.NewFromConfig(cfg)}, nil
}

// SendEmail delivers one alert email. The alerts gateway owns retry and
// circuit handling; this is a thin pass-through.
func (s *SESClient) SendEmail(ctx context.Context, input *ses.SendEmailInput) (*ses.SendEmailOutput, error) {
	return s.client.SendEmail(ctx, input)
}
