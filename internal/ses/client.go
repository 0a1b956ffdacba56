// Package ses sends flow emails through AWS SES v2 as an alternative to
// Resend. It implements the same mailer contract.
package ses

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	appconfig "github.com/ignite/recruit-cdp/internal/config"
	"github.com/ignite/recruit-cdp/internal/domain"
	"github.com/ignite/recruit-cdp/internal/pkg/logger"
)

// SendAPI is the slice of the SES v2 client the mailer uses.
type SendAPI interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// Client is an AWS SES v2 mailer
type Client struct {
	api              SendAPI
	configurationSet string
}

// NewClient creates a new SES mailer. Static credentials are used when
// configured, otherwise the default AWS credential chain.
func NewClient(ctx context.Context, cfg appconfig.SESConfig) (*Client, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return NewWithAPI(sesv2.NewFromConfig(awsCfg), cfg.ConfigurationSet), nil
}

// NewWithAPI wraps an existing SES client.
func NewWithAPI(api SendAPI, configurationSet string) *Client {
	return &Client{api: api, configurationSet: configurationSet}
}

// Send delivers one email and returns the SES message id.
func (c *Client) Send(ctx context.Context, msg domain.OutboundEmail) (string, error) {
	if msg.To == "" {
		return "", errors.New("ses: recipient required")
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(msg.From),
		Destination:      &types.Destination{ToAddresses: []string{msg.To}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(msg.HTML), Charset: aws.String("UTF-8")},
				},
			},
		},
	}
	if msg.ReplyTo != "" {
		input.ReplyToAddresses = []string{msg.ReplyTo}
	}
	if c.configurationSet != "" {
		input.ConfigurationSetName = aws.String(c.configurationSet)
	}
	for _, t := range msg.Tags {
		input.EmailTags = append(input.EmailTags, types.MessageTag{
			Name:  aws.String(tagSafe(t.Name)),
			Value: aws.String(tagSafe(t.Value)),
		})
	}

	out, err := c.api.SendEmail(ctx, input)
	if err != nil {
		return "", fmt.Errorf("ses send: %w", err)
	}
	messageID := aws.ToString(out.MessageId)
	logger.Debug("ses email sent", "email", msg.To, "message_id", messageID)
	return messageID, nil
}

var tagUnsafe = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// SES message tags only allow ASCII letters, digits, underscore and dash.
func tagSafe(s string) string {
	if s == "" {
		return "_"
	}
	return tagUnsafe.ReplaceAllString(s, "_")
}
