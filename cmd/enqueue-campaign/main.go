// Command enqueue-campaign places a CampaignRequest on the campaign queue so
// the campaign worker publishes and delivers a newsletter.
//
// Usage:
//
//	enqueue-campaign -newsletter nl_123 [-batch-size 10] [-dry-run]
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/joho/godotenv"

	"bulletin/internal/queue"
	"bulletin/internal/types"
)

// options are the parsed command-line flags.
type options struct {
	queueURL string
	region   string
	endpoint string
	dryRun   bool
	timeout  time.Duration
	request  types.CampaignRequest
}

var errUsage = errors.New("usage")

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var o options
	fs := flag.NewFlagSet("enqueue-campaign", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVar(&o.request.NewsletterID, "newsletter", "", "Newsletter ID to publish [required]")
	fs.StringVar(&o.request.RequestedBy, "requested-by", os.Getenv("USER"), "Operator recorded on the request")
	fs.IntVar(&o.request.Options.BatchSize, "batch-size", 0, "Override recipients per batch (1-100)")
	fs.IntVar(&o.request.Options.DelayBetweenBatchesMs, "batch-delay-ms", 0, "Override delay between batches in milliseconds")
	fs.IntVar(&o.request.Options.MaxRetries, "max-retries", 0, "Override total send attempts per recipient (1-10)")
	fs.IntVar(&o.request.Options.RetryDelayMs, "retry-delay-ms", 0, "Override base retry backoff in milliseconds")
	fs.StringVar(&o.queueURL, "queue", os.Getenv("SQS_CAMPAIGNS"), "Campaign queue URL (or SQS_CAMPAIGNS env)")
	fs.StringVar(&o.region, "region", envOr("AWS_REGION", "us-east-1"), "AWS region")
	fs.StringVar(&o.endpoint, "endpoint", os.Getenv("AWS_ENDPOINT_URL"), "AWS endpoint override (LocalStack)")
	fs.DurationVar(&o.timeout, "timeout", 10*time.Second, "Timeout for the SQS call")
	fs.BoolVar(&o.dryRun, "dry-run", false, "Print the JSON payload without sending")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: enqueue-campaign [flags]\n\n")
		fmt.Fprintf(stderr, "Queue a newsletter campaign for the campaign worker.\n\n")
		fmt.Fprintf(stderr, "Flags:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if o.request.NewsletterID == "" {
		fmt.Fprintf(stderr, "error: -newsletter is required\n\n")
		fs.Usage()
		return o, errUsage
	}
	if o.queueURL == "" && !o.dryRun {
		fmt.Fprintf(stderr, "error: -queue or SQS_CAMPAIGNS is required\n\n")
		return o, errUsage
	}
	return o, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	_ = godotenv.Load()
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, errUsage) && !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	o, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}

	if o.dryRun {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(o.request)
	}

	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(o.region))
	if err != nil {
		return fmt.Errorf("load aws config: %w", err)
	}
	client := sqs.NewFromConfig(awsCfg, func(opt *sqs.Options) {
		if o.endpoint != "" {
			opt.BaseEndpoint = aws.String(o.endpoint)
		}
	})

	logger := types.NewSlogLogger(slog.New(slog.NewTextHandler(stderr, nil)))
	return enqueue(ctx, queue.NewCampaignPublisher(client, o.queueURL, logger), o.request, stdout)
}

// Publisher queues CampaignRequests.
type Publisher interface {
	Publish(ctx context.Context, req types.CampaignRequest) (string, error)
}

func enqueue(ctx context.Context, p Publisher, req types.CampaignRequest, stdout io.Writer) error {
	id, err := p.Publish(ctx, req)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "queued campaign for %s (message %s)\n", req.NewsletterID, id)
	return nil
}
