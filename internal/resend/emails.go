package resend

import (
	"context"
	"errors"
	"net/http"

	"github.com/ignite/recruit-cdp/internal/domain"
)

type sendRequest struct {
	From    string            `json:"from"`
	To      []string          `json:"to"`
	Subject string            `json:"subject"`
	HTML    string            `json:"html"`
	ReplyTo string            `json:"reply_to,omitempty"`
	Tags    []domain.EmailTag `json:"tags,omitempty"`
}

// Send delivers one email and returns the Resend message id.
func (c *Client) Send(ctx context.Context, msg domain.OutboundEmail) (string, error) {
	if msg.To == "" {
		return "", errors.New("resend: recipient required")
	}
	var out idResponse
	err := c.doRequest(ctx, http.MethodPost, "/emails", sendRequest{
		From:    msg.From,
		To:      []string{msg.To},
		Subject: msg.Subject,
		HTML:    msg.HTML,
		ReplyTo: msg.ReplyTo,
		Tags:    msg.Tags,
	}, &out)
	if err != nil {
		return "", err
	}
	return out.ID, nil
}
