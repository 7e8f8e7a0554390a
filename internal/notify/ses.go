package notify

import (
	"context"
	"fmt"
	"net/mail"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// SESClient defines the SES operation we use.
type SESClient interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESTransport sends through Amazon SES. The sender must be verified in SES.
type SESTransport struct {
	client SESClient
	source string
}

func NewSESTransport(client SESClient, fromName, fromAddr string) *SESTransport {
	return &SESTransport{
		client: client,
		source: (&mail.Address{Name: fromName, Address: fromAddr}).String(),
	}
}

// NewSESClient loads the default AWS credential chain, overriding the region when set.
func NewSESClient(ctx context.Context, region string) (*ses.Client, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	return ses.NewFromConfig(cfg), nil
}

func (t *SESTransport) Send(ctx context.Context, msg *Message) error {
	if len(msg.To) == 0 {
		return errNoRecipients
	}

	input := &ses.SendEmailInput{
		Source: aws.String(t.source),
		Destination: &types.Destination{
			ToAddresses: msg.To,
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(msg.Subject),
				Charset: aws.String("UTF-8"),
			},
			Body: &types.Body{
				Html: &types.Content{
					Data:    aws.String(msg.HTML),
					Charset: aws.String("UTF-8"),
				},
			},
		},
	}
	if msg.Text != "" {
		input.Message.Body.Text = &types.Content{
			Data:    aws.String(msg.Text),
			Charset: aws.String("UTF-8"),
		}
	}
	if msg.ReplyTo != "" {
		input.ReplyToAddresses = []string{msg.ReplyTo}
	}

	if _, err := t.client.SendEmail(ctx, input); err != nil {
		return fmt.Errorf("ses send: %w", err)
	}
	return nil
}

var _ Transport = (*SESTransport)(nil)
