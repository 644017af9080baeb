// Package queue publishes campaign requests to the SQS queue consumed by the
// campaign worker.
package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"bulletin/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// CampaignPublisher serializes CampaignRequests onto the campaign queue.
type CampaignPublisher struct {
	client   SQSSender
	queueURL string
	validate *validator.Validate
	logger   types.Logger
}

// NewCampaignPublisher creates a CampaignPublisher for queueURL.
func NewCampaignPublisher(client SQSSender, queueURL string, logger types.Logger) *CampaignPublisher {
	if logger == nil {
		logger = types.NopLogger{}
	}
	return &CampaignPublisher{
		client:   client,
		queueURL: queueURL,
		validate: validator.New(),
		logger:   logger,
	}
}

// Publish validates req, assigns a trace ID when missing, and sends it. The
// returned string is the SQS message ID.
//
// For FIFO queues the newsletter ID is the message group, so requests for the
// same newsletter are consumed in order.
func (p *CampaignPublisher) Publish(ctx context.Context, req types.CampaignRequest) (string, error) {
	if err := p.validate.Struct(req); err != nil {
		return "", types.NewAppError(types.ErrCodeValidationMissingField, "invalid campaign request", err)
	}
	if req.TraceID == "" {
		req.TraceID = uuid.NewString()
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("queue: failed to marshal CampaignRequest: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"newsletter_id": {
				DataType:    aws.String("String"),
				StringValue: aws.String(req.NewsletterID),
			},
			"trace_id": {
				DataType:    aws.String("String"),
				StringValue: aws.String(req.TraceID),
			},
		},
	}
	if isFIFO(p.queueURL) {
		input.MessageGroupId = aws.String(req.NewsletterID)
		input.MessageDeduplicationId = aws.String(req.TraceID)
	}

	out, err := p.client.SendMessage(ctx, input)
	if err != nil {
		return "", fmt.Errorf("queue: failed to send CampaignRequest to %s: %w", p.queueURL, err)
	}

	msgID := aws.ToString(out.MessageId)
	p.logger.Info("campaign request queued",
		"queue_url", p.queueURL,
		"newsletter_id", req.NewsletterID,
		"trace_id", req.TraceID,
		"message_id", msgID,
	)
	return msgID, nil
}

func isFIFO(url string) bool {
	return len(url) > 5 && url[len(url)-5:] == ".fifo"
}
