package campaign

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"bulletin/internal/types"
)

// Outcome labels the Result dimension of CampaignDelivered.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeEmpty     Outcome = "empty"
	OutcomeFailed    Outcome = "failed"
)

// Metrics records campaign telemetry. Implementations must not fail the run.
type Metrics interface {
	RecordCampaign(ctx context.Context, result *types.CampaignResult, outcome Outcome)
	RecordBreakerOpen(ctx context.Context, dependency string)
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) RecordCampaign(context.Context, *types.CampaignResult, Outcome) {}
func (NopMetrics) RecordBreakerOpen(context.Context, string)                     {}

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

var _ Metrics = (*CloudWatchMetrics)(nil)

// CloudWatchMetrics publishes campaign metrics to CloudWatch.
//
// Metrics emitted per run:
//   - CampaignDelivered: Dims {Result}
//   - CampaignDuration: milliseconds, no dims
//   - DeliverySuccess / DeliveryFailed / DeliveryBounced: counts, Dims {Provider}
type CloudWatchMetrics struct {
	client    CloudWatchClient
	namespace string
	provider  string
	logger    types.Logger
}

// NewCloudWatchMetrics creates a CloudWatchMetrics tagging delivery counts
// with provider.
func NewCloudWatchMetrics(client CloudWatchClient, provider string, logger types.Logger) *CloudWatchMetrics {
	if logger == nil {
		logger = types.NopLogger{}
	}
	return &CloudWatchMetrics{
		client:    client,
		namespace: types.MetricNamespace,
		provider:  provider,
		logger:    logger,
	}
}

func (m *CloudWatchMetrics) RecordCampaign(ctx context.Context, result *types.CampaignResult, outcome Outcome) {
	data := []cwtypes.MetricDatum{
		{
			MetricName: aws.String(types.MetricCampaignDelivered),
			Value:      aws.Float64(1),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: []cwtypes.Dimension{
				{Name: aws.String(types.DimResult), Value: aws.String(string(outcome))},
			},
		},
	}
	if result != nil {
		providerDim := []cwtypes.Dimension{
			{Name: aws.String(types.DimProvider), Value: aws.String(m.provider)},
		}
		data = append(data,
			cwtypes.MetricDatum{
				MetricName: aws.String(types.MetricCampaignDuration),
				Value:      aws.Float64(float64(result.ProcessingTimeMs)),
				Unit:       cwtypes.StandardUnitMilliseconds,
			},
			cwtypes.MetricDatum{
				MetricName: aws.String(types.MetricDeliverySuccess),
				Value:      aws.Float64(float64(result.EmailsSent)),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: providerDim,
			},
			cwtypes.MetricDatum{
				MetricName: aws.String(types.MetricDeliveryFailed),
				Value:      aws.Float64(float64(result.EmailsFailed)),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: providerDim,
			},
			cwtypes.MetricDatum{
				MetricName: aws.String(types.MetricDeliveryBounced),
				Value:      aws.Float64(float64(result.EmailsBounced)),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: providerDim,
			},
		)
	}

	input := &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: data,
	}
	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.Error("failed to record campaign metrics",
			"error", err.Error(),
			"result", string(outcome),
		)
	}
}

// RecordBreakerOpen emits BreakerOpen with the Dependency dimension.
func (m *CloudWatchMetrics) RecordBreakerOpen(ctx context.Context, dependency string) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(types.MetricBreakerOpen),
				Value:      aws.Float64(1),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{
					{Name: aws.String(types.DimDependency), Value: aws.String(dependency)},
				},
			},
		},
	}
	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.Error("failed to record breaker metric",
			"error", err.Error(),
			"dependency", dependency,
		)
	}
}
