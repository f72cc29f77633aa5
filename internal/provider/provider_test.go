package provider

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/smithy-go"
	"github.com/kursadbilgin/signal-notifier/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

type fakeSES struct {
	sendEmailFn func(ctx context.Context, params *ses.SendEmailInput) (*ses.SendEmailOutput, error)
}

func (f *fakeSES) SendEmail(ctx context.Context, params *ses.SendEmailInput, _ ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	return f.sendEmailFn(ctx, params)
}

type fakeSNS struct {
	publishFn func(ctx context.Context, params *sns.PublishInput) (*sns.PublishOutput, error)
}

func (f *fakeSNS) Publish(ctx context.Context, params *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	return f.publishFn(ctx, params)
}

type resolverFunc func(ctx context.Context, userID string) (string, error)

func (f resolverFunc) FindEmailAddress(ctx context.Context, userID string) (string, error) {
	return f(ctx, userID)
}

func testNotification() domain.Notification {
	title := "On-chain Event: STAKE"
	return domain.Notification{
		ID:          "n-1",
		RecipientID: "user-1",
		Title:       &title,
		Content:     "Stake added: 10",
		Priority:    domain.PriorityHigh,
		Channels:    []domain.Channel{domain.ChannelEmail},
		Metadata:    map[string]any{"eventType": "STAKE"},
		CreatedAt:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestEmailProviderDeliver(t *testing.T) {
	t.Parallel()

	var got *ses.SendEmailInput
	client := &fakeSES{sendEmailFn: func(_ context.Context, params *ses.SendEmailInput) (*ses.SendEmailOutput, error) {
		got = params
		return &ses.SendEmailOutput{MessageId: aws.String("ses-1")}, nil
	}}
	resolver := resolverFunc(func(_ context.Context, userID string) (string, error) {
		if userID != "user-1" {
			t.Errorf("userID = %s, want user-1", userID)
		}
		return "user1@example.com", nil
	})

	p, err := newEmailProvider(client, "noreply@example.com", resolver)
	if err != nil {
		t.Fatalf("newEmailProvider() error = %v", err)
	}

	outcome, err := p.Deliver(context.Background(), testNotification())
	if err != nil {
		t.Fatalf("Deliver() unexpected error: %v", err)
	}
	if outcome.ExternalID != "ses-1" {
		t.Fatalf("ExternalID = %q, want ses-1", outcome.ExternalID)
	}
	if aws.ToString(got.Source) != "noreply@example.com" {
		t.Fatalf("Source = %q", aws.ToString(got.Source))
	}
	if len(got.Destination.ToAddresses) != 1 || got.Destination.ToAddresses[0] != "user1@example.com" {
		t.Fatalf("ToAddresses = %v", got.Destination.ToAddresses)
	}
	if aws.ToString(got.Message.Subject.Data) != "On-chain Event: STAKE" {
		t.Fatalf("Subject = %q", aws.ToString(got.Message.Subject.Data))
	}
	if aws.ToString(got.Message.Body.Text.Data) != "Stake added: 10" {
		t.Fatalf("Body = %q", aws.ToString(got.Message.Body.Text.Data))
	}
}

func TestEmailProviderMetadataAddressWins(t *testing.T) {
	t.Parallel()

	var to string
	client := &fakeSES{sendEmailFn: func(_ context.Context, params *ses.SendEmailInput) (*ses.SendEmailOutput, error) {
		to = params.Destination.ToAddresses[0]
		return &ses.SendEmailOutput{MessageId: aws.String("ses-2")}, nil
	}}
	resolver := resolverFunc(func(context.Context, string) (string, error) {
		t.Error("resolver should not be called when metadata carries an address")
		return "", nil
	})

	p, _ := newEmailProvider(client, "noreply@example.com", resolver)
	n := testNotification()
	n.Metadata["email"] = "direct@example.com"

	if _, err := p.Deliver(context.Background(), n); err != nil {
		t.Fatalf("Deliver() unexpected error: %v", err)
	}
	if to != "direct@example.com" {
		t.Fatalf("to = %q, want direct@example.com", to)
	}
}

func TestEmailProviderMissingAddressIsPermanent(t *testing.T) {
	t.Parallel()

	client := &fakeSES{sendEmailFn: func(context.Context, *ses.SendEmailInput) (*ses.SendEmailOutput, error) {
		t.Error("SendEmail should not be called")
		return nil, nil
	}}
	resolver := resolverFunc(func(context.Context, string) (string, error) {
		return "", domain.ErrNotFound
	})

	p, _ := newEmailProvider(client, "noreply@example.com", resolver)
	_, err := p.Deliver(context.Background(), testNotification())
	if err == nil {
		t.Fatal("expected error")
	}
	if IsTransient(err) {
		t.Fatalf("IsTransient() = true, want false (err=%v)", err)
	}
}

func TestClassifyAWSError(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name          string
		err           error
		wantTransient bool
	}{
		{name: "throttling", err: &smithy.GenericAPIError{Code: "Throttling"}, wantTransient: true},
		{name: "server fault", err: &smithy.GenericAPIError{Code: "Unknown", Fault: smithy.FaultServer}, wantTransient: true},
		{name: "message rejected", err: &smithy.GenericAPIError{Code: "MessageRejected", Fault: smithy.FaultClient}, wantTransient: false},
		{name: "network failure", err: errors.New("dial tcp: connection refused"), wantTransient: true},
		{name: "canceled", err: context.Canceled, wantTransient: false},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if got := IsTransient(classifyAWSError("call failed", tc.err)); got != tc.wantTransient {
				t.Fatalf("IsTransient() = %v, want %v", got, tc.wantTransient)
			}
		})
	}
}

func TestPushProviderDeliver(t *testing.T) {
	t.Parallel()

	var got *sns.PublishInput
	client := &fakeSNS{publishFn: func(_ context.Context, params *sns.PublishInput) (*sns.PublishOutput, error) {
		got = params
		return &sns.PublishOutput{MessageId: aws.String("sns-1")}, nil
	}}

	p, err := newPushProvider(client, "arn:aws:sns:eu-west-1:123456789012:push")
	if err != nil {
		t.Fatalf("newPushProvider() error = %v", err)
	}

	outcome, err := p.Deliver(context.Background(), testNotification())
	if err != nil {
		t.Fatalf("Deliver() unexpected error: %v", err)
	}
	if outcome.ExternalID != "sns-1" {
		t.Fatalf("ExternalID = %q, want sns-1", outcome.ExternalID)
	}
	if aws.ToString(got.TopicArn) != "arn:aws:sns:eu-west-1:123456789012:push" {
		t.Fatalf("TopicArn = %q", aws.ToString(got.TopicArn))
	}
	attr, ok := got.MessageAttributes["recipient_id"]
	if !ok || aws.ToString(attr.StringValue) != "user-1" {
		t.Fatalf("recipient_id attribute = %+v", attr)
	}

	var msg pushMessage
	if err := json.Unmarshal([]byte(aws.ToString(got.Message)), &msg); err != nil {
		t.Fatalf("message is not json: %v", err)
	}
	if msg.NotificationID != "n-1" || msg.Body != "Stake added: 10" || msg.Priority != "HIGH" {
		t.Fatalf("message = %+v", msg)
	}
}

func TestInAppProviderDeliver(t *testing.T) {
	t.Parallel()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() error = %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	ctx := context.Background()
	sub := rdb.Subscribe(ctx, InAppChannel("user-1"))
	t.Cleanup(func() { _ = sub.Close() })
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe confirmation error = %v", err)
	}

	p, err := NewInAppProvider(rdb)
	if err != nil {
		t.Fatalf("NewInAppProvider() error = %v", err)
	}

	outcome, err := p.Deliver(ctx, testNotification())
	if err != nil {
		t.Fatalf("Deliver() unexpected error: %v", err)
	}
	if outcome.Body != "1" {
		t.Fatalf("receivers = %s, want 1", outcome.Body)
	}

	select {
	case msg := <-sub.Channel():
		var frame inAppFrame
		if err := json.Unmarshal([]byte(msg.Payload), &frame); err != nil {
			t.Fatalf("frame is not json: %v", err)
		}
		if frame.ID != "n-1" || frame.Content != "Stake added: 10" {
			t.Fatalf("frame = %+v", frame)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no frame published")
	}
}

func TestSetFor(t *testing.T) {
	t.Parallel()

	inApp := ProviderFunc(func(context.Context, domain.Notification) (*DeliveryOutcome, error) {
		return &DeliveryOutcome{}, nil
	})
	set := Set{InApp: inApp}

	if _, err := set.For(domain.ChannelInApp); err != nil {
		t.Fatalf("For(IN_APP) error = %v", err)
	}

	for _, ch := range []domain.Channel{domain.ChannelEmail, domain.Channel("SMS")} {
		_, err := set.For(ch)
		if err == nil {
			t.Fatalf("For(%s) expected error", ch)
		}
		if IsTransient(err) {
			t.Fatalf("For(%s) error should be permanent", ch)
		}
	}
}
