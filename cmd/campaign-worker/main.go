// Package main is the entry point for the Campaign Worker Lambda function.
//
// The worker consumes CampaignRequest messages from the campaign SQS queue
// and runs each campaign to completion before acknowledging it. Messages that
// fail with a retryable error are reported as partial batch failures so SQS
// redelivers only those.
//
// Outside Lambda the worker reads newline-delimited CampaignRequest JSON from
// stdin, which is convenient against a local database.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-lambda-go/lambdacontext"

	"bulletin/internal/app"
	"bulletin/internal/config"
	"bulletin/internal/types"
)

// CampaignRunner runs one campaign. campaign.Orchestrator satisfies it.
type CampaignRunner interface {
	Run(ctx context.Context, newsletterID string, overrides types.DispatchOverrides) (*types.CampaignResult, error)
}

// Handler holds the dependencies of the worker.
type Handler struct {
	runner CampaignRunner
	logger types.Logger
	now    func() time.Time
}

// Handle processes an SQS batch. Each message is handled independently.
func (h *Handler) Handle(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
	logger := h.logger
	if lc, ok := lambdacontext.FromContext(ctx); ok {
		logger = logger.With("aws_request_id", lc.AwsRequestID)
	}

	response := events.SQSEventResponse{}
	for _, record := range sqsEvent.Records {
		if err := h.processMessage(ctx, record, logger); err != nil {
			logger.Error("failed to process campaign request",
				"message_id", record.MessageId,
				"error", err.Error(),
			)
			response.BatchItemFailures = append(response.BatchItemFailures,
				events.SQSBatchItemFailure{ItemIdentifier: record.MessageId},
			)
		}
	}
	return response, nil
}

// processMessage returns an error only when the message should be retried.
func (h *Handler) processMessage(ctx context.Context, record events.SQSMessage, logger types.Logger) error {
	var req types.CampaignRequest
	if err := json.Unmarshal([]byte(record.Body), &req); err != nil {
		logger.Error("dropping malformed campaign request",
			"message_id", record.MessageId,
			"error", err.Error(),
		)
		return nil
	}
	if req.NewsletterID == "" {
		logger.Error("dropping campaign request without newsletter_id", "message_id", record.MessageId)
		return nil
	}

	logger = logger.With(
		"newsletter_id", req.NewsletterID,
		"trace_id", req.TraceID,
		"requested_by", req.RequestedBy,
		"message_id", record.MessageId,
	)
	if sent, ok := record.Attributes["SentTimestamp"]; ok {
		if ts, err := parseMillisTimestamp(sent); err == nil {
			logger.Info("campaign request received", "queue_lag_ms", h.now().Sub(ts).Milliseconds())
		}
	}

	return h.runCampaign(ctx, req, logger)
}

func (h *Handler) runCampaign(ctx context.Context, req types.CampaignRequest, logger types.Logger) error {
	result, err := h.runner.Run(ctx, req.NewsletterID, req.Options)
	if err != nil {
		if isPermanent(err) {
			logger.Error("campaign request rejected", "error", err.Error())
			return nil
		}
		return fmt.Errorf("run campaign %s: %w", req.NewsletterID, err)
	}

	logger.Info("campaign request completed",
		"subscribers", result.SubscriberCount,
		"sent", result.EmailsSent,
		"failed", result.EmailsFailed,
		"bounced", result.EmailsBounced,
		"duration_ms", result.ProcessingTimeMs,
	)
	return nil
}

// isPermanent reports whether redelivering the request cannot succeed.
// A concurrent run for the same newsletter is retried.
func isPermanent(err error) bool {
	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		return false
	}
	switch appErr.Code {
	case types.ErrCodeNotFoundNewsletter, types.ErrCodeValidationMissingField,
		types.ErrCodeValidationBatchSize, types.ErrCodeValidationInvalidJSON:
		return true
	}
	return false
}

func parseMillisTimestamp(ms string) (time.Time, error) {
	millis, err := strconv.ParseInt(ms, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(millis), nil
}

// runLocal processes newline-delimited CampaignRequest JSON from r.
func (h *Handler) runLocal(ctx context.Context, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	n := 0
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		n++
		record := events.SQSMessage{MessageId: "local-" + strconv.Itoa(n), Body: string(line)}
		if err := h.processMessage(ctx, record, h.logger); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func isLambdaEnvironment() bool {
	_, ok := os.LookupEnv("AWS_LAMBDA_RUNTIME_API")
	return ok
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: loading configuration: %v\n", err)
		os.Exit(1)
	}

	logger := app.NewLogger(cfg.LogLevel)
	logger.Info("Campaign Worker initializing (cold start)", "version", cfg.Build.Version)

	ctx := context.Background()
	pipeline, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to build pipeline", "error", err)
		os.Exit(1)
	}

	handler := &Handler{
		runner: pipeline.Orchestrator,
		logger: types.NewSlogLogger(logger),
		now:    time.Now,
	}

	if isLambdaEnvironment() {
		lambda.Start(handler.Handle)
		return
	}

	runErr := handler.runLocal(ctx, os.Stdin)
	if err := pipeline.Close(); err != nil {
		logger.Error("Failed to release resources", "error", err)
	}
	if runErr != nil {
		logger.Error("Local campaign run failed", "error", runErr)
		os.Exit(1)
	}
}
