package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/kursadbilgin/signal-notifier/internal/domain"
)

type snsAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

type pushMessage struct {
	NotificationID string         `json:"notificationId"`
	RecipientID    string         `json:"recipientId"`
	Title          string         `json:"title,omitempty"`
	Body           string         `json:"body"`
	Priority       string         `json:"priority"`
	Data           map[string]any `json:"data,omitempty"`
}

// PushProvider publishes push notifications to an SNS topic. Mobile
// subscriptions filter on the recipient_id message attribute.
type PushProvider struct {
	client   snsAPI
	topicARN string
}

func NewPushProvider(client *sns.Client, topicARN string) (*PushProvider, error) {
	if client == nil {
		return nil, fmt.Errorf("sns client is required")
	}
	return newPushProvider(client, topicARN)
}

func newPushProvider(client snsAPI, topicARN string) (*PushProvider, error) {
	if client == nil {
		return nil, fmt.Errorf("sns client is required")
	}
	if strings.TrimSpace(topicARN) == "" {
		return nil, fmt.Errorf("sns topic arn is required")
	}
	return &PushProvider{client: client, topicARN: strings.TrimSpace(topicARN)}, nil
}

func (p *PushProvider) Deliver(ctx context.Context, notification domain.Notification) (*DeliveryOutcome, error) {
	msg := pushMessage{
		NotificationID: notification.ID,
		RecipientID:    notification.RecipientID,
		Body:           notification.Content,
		Priority:       notification.Priority.String(),
		Data:           notification.Metadata,
	}
	if notification.Title != nil {
		msg.Title = *notification.Title
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return nil, Permanent("failed to encode push message", err)
	}

	output, err := p.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(p.topicARN),
		Message:  aws.String(string(body)),
		MessageAttributes: map[string]snstypes.MessageAttributeValue{
			"recipient_id": {
				DataType:    aws.String("String"),
				StringValue: aws.String(notification.RecipientID),
			},
		},
	})
	if err != nil {
		return nil, classifyAWSError("sns publish failed", err)
	}

	return &DeliveryOutcome{ExternalID: aws.ToString(output.MessageId)}, nil
}
