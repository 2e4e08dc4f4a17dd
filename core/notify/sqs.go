// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package notify

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/goccy/go-json"
)

// SQSAPI is the subset of the SQS client the notifier needs
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSNotifier sends every event as JSON message to an SQS queue. The resource and the
// operation are also attached as message attributes, so that subscribers can filter.
type SQSNotifier struct {
	Client   SQSAPI
	QueueURL string
}

// NewSQSNotifier returns a notifier for queueURL
func NewSQSNotifier(client SQSAPI, queueURL string) *SQSNotifier {
	return &SQSNotifier{Client: client, QueueURL: queueURL}
}

// Notify sends the event
func (n *SQSNotifier) Notify(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("cannot marshal event: %w", err)
	}
	_, err = n.Client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(n.QueueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"resource": {
				DataType:    aws.String("String"),
				StringValue: aws.String(event.Resource()),
			},
			"operation": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(event.Operation)),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("cannot send %s event for %s: %w", event.Operation, event.Resource(), err)
	}
	return nil
}
