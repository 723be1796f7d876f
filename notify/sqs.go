package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// SQSAPI defines the SQS operations used by the sender.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSSender publishes notifications to an SQS queue
type SQSSender struct {
	client SQSAPI
}

// NewSQSSender creates a sender over client
func NewSQSSender(client SQSAPI) *SQSSender {
	return &SQSSender{client: client}
}

// NewSQSSenderFromConfig creates a sender from an AWS config
func NewSQSSenderFromConfig(cfg aws.Config) *SQSSender {
	return NewSQSSender(sqs.NewFromConfig(cfg))
}

// Send delivers n to n.QueueURL
func (s *SQSSender) Send(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	_, err = s.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(n.QueueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			"eventType": {
				DataType:    aws.String("String"),
				StringValue: aws.String(n.EventType),
			},
			"tenantId": {
				DataType:    aws.String("Number"),
				StringValue: aws.String(strconv.FormatInt(n.TenantID, 10)),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to send message to %s: %w", n.QueueURL, err)
	}
	return nil
}
