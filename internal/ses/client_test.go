package ses

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"

	"github.com/ignite/recruit-cdp/internal/domain"
)

type fakeSES struct {
	in  *sesv2.SendEmailInput
	err error
}

func (f *fakeSES) SendEmail(_ context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.in = in
	if f.err != nil {
		return nil, f.err
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("ses-1")}, nil
}

func TestSend(t *testing.T) {
	api := &fakeSES{}
	c := NewWithAPI(api, "cdp-events")

	id, err := c.Send(context.Background(), domain.OutboundEmail{
		From:    "League <tryouts@league.test>",
		To:      "ana@example.com",
		ReplyTo: "coach@league.test",
		Subject: "Tryout dates",
		HTML:    "<p>Hi Ana</p>",
		Tags:    []domain.EmailTag{{Name: "flow_id", Value: "welcome.v2"}, {Name: "flow_step", Value: "0"}},
	})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if id != "ses-1" {
		t.Errorf("message id = %q, want ses-1", id)
	}

	in := api.in
	if got := aws.ToString(in.FromEmailAddress); got != "League <tryouts@league.test>" {
		t.Errorf("from = %q", got)
	}
	if len(in.Destination.ToAddresses) != 1 || in.Destination.ToAddresses[0] != "ana@example.com" {
		t.Errorf("to = %v", in.Destination.ToAddresses)
	}
	if got := aws.ToString(in.Content.Simple.Subject.Data); got != "Tryout dates" {
		t.Errorf("subject = %q", got)
	}
	if got := aws.ToString(in.ConfigurationSetName); got != "cdp-events" {
		t.Errorf("configuration set = %q", got)
	}
	if len(in.ReplyToAddresses) != 1 {
		t.Errorf("reply-to = %v", in.ReplyToAddresses)
	}
	if got := aws.ToString(in.EmailTags[0].Value); got != "welcome_v2" {
		t.Errorf("tag value = %q, want sanitized welcome_v2", got)
	}
}

func TestSendErrors(t *testing.T) {
	c := NewWithAPI(&fakeSES{err: errors.New("throttled")}, "")
	if _, err := c.Send(context.Background(), domain.OutboundEmail{To: "ana@example.com"}); err == nil {
		t.Error("expected provider error")
	}
	if _, err := c.Send(context.Background(), domain.OutboundEmail{}); err == nil {
		t.Error("expected missing recipient error")
	}
}

func TestTagSafe(t *testing.T) {
	tests := map[string]string{
		"flow_id":      "flow_id",
		"a b/c":        "a_b_c",
		"":             "_",
		"step-3":       "step-3",
		"ünïcode@flow": "_n_code_flow",
	}
	for in, want := range tests {
		if got := tagSafe(in); got != want {
			t.Errorf("tagSafe(%q) = %q, want %q", in, got, want)
		}
	}
}
