package types

// Telemetry metric names for CloudWatch.
// All components MUST use these constants.
const (
	// Metric Names
	MetricCampaignDelivered = "CampaignDelivered"
	MetricCampaignDuration  = "CampaignDuration"
	MetricDeliverySuccess   = "DeliverySuccess"
	MetricDeliveryFailed    = "DeliveryFailed"
	MetricDeliveryBounced   = "DeliveryBounced"
	MetricBreakerOpen       = "BreakerOpen"

	// Dimension Keys
	DimResult     = "Result"
	DimProvider   = "Provider"
	DimDependency = "Dependency"

	// Metric Namespace
	MetricNamespace = "Bulletin"
)
