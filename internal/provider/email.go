package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/kursadbilgin/signal-notifier/internal/domain"
)

const defaultEmailSubject = "Notification"

type sesAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// EmailAddressResolver finds the address a user registered for email.
type EmailAddressResolver interface {
	FindEmailAddress(ctx context.Context, userID string) (string, error)
}

// EmailProvider sends notifications through Amazon SES.
type EmailProvider struct {
	client    sesAPI
	sender    string
	addresses EmailAddressResolver
}

func NewEmailProvider(client *ses.Client, sender string, addresses EmailAddressResolver) (*EmailProvider, error) {
	if client == nil {
		return nil, fmt.Errorf("ses client is required")
	}
	return newEmailProvider(client, sender, addresses)
}

func newEmailProvider(client sesAPI, sender string, addresses EmailAddressResolver) (*EmailProvider, error) {
	if client == nil {
		return nil, fmt.Errorf("ses client is required")
	}
	if strings.TrimSpace(sender) == "" {
		return nil, fmt.Errorf("sender email is required")
	}

	return &EmailProvider{
		client:    client,
		sender:    strings.TrimSpace(sender),
		addresses: addresses,
	}, nil
}

func (p *EmailProvider) Deliver(ctx context.Context, notification domain.Notification) (*DeliveryOutcome, error) {
	to, err := p.recipientAddress(ctx, notification)
	if err != nil {
		return nil, err
	}

	subject := defaultEmailSubject
	if notification.Title != nil && strings.TrimSpace(*notification.Title) != "" {
		subject = *notification.Title
	}

	output, err := p.client.SendEmail(ctx, &ses.SendEmailInput{
		Source: aws.String(p.sender),
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(subject), Charset: aws.String("UTF-8")},
			Body: &types.Body{
				Text: &types.Content{Data: aws.String(notification.Content), Charset: aws.String("UTF-8")},
			},
		},
	})
	if err != nil {
		return nil, classifyAWSError("ses send email failed", err)
	}

	return &DeliveryOutcome{ExternalID: aws.ToString(output.MessageId)}, nil
}

func (p *EmailProvider) recipientAddress(ctx context.Context, notification domain.Notification) (string, error) {
	if value, ok := notification.Metadata["email"].(string); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value), nil
	}

	if p.addresses != nil {
		address, err := p.addresses.FindEmailAddress(ctx, notification.RecipientID)
		switch {
		case err == nil && strings.TrimSpace(address) != "":
			return address, nil
		case err != nil && !errors.Is(err, domain.ErrNotFound):
			return "", Transient("failed to resolve email address", err)
		}
	}

	return "", &ProviderError{Message: fmt.Sprintf("no email address for recipient %s", notification.RecipientID)}
}
