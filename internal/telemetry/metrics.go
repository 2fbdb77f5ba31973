package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/wolfeidau/userpki"
)

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	// Issuance metrics
	CertificatesIssuedTotal metric.Int64Counter
	IssueErrorsTotal        metric.Int64Counter
	KeyGenerationDuration   metric.Float64Histogram

	// Lookup metrics
	VerificationsTotal    metric.Int64Counter
	PublicKeyLookupsTotal metric.Int64Counter

	// Store operation metrics
	StoreOperationDuration metric.Float64Histogram

	// DynamoDB metrics (DynamoDB store only)
	DynamoDBOperationsTotal metric.Int64Counter
	DynamoDBThrottlesTotal  metric.Int64Counter

	// HTTP metrics
	RateLimitedTotal metric.Int64Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

// initMetrics creates and registers all metric instruments
func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(meterName)

	m := &Metrics{}

	// Issuance metrics
	m.CertificatesIssuedTotal, _ = meter.Int64Counter(
		"userpki.certificates.issued.total",
		metric.WithDescription("Total number of certificates issued and persisted"),
		metric.WithUnit("{certificate}"),
	)

	m.IssueErrorsTotal, _ = meter.Int64Counter(
		"userpki.certificates.issue.errors.total",
		metric.WithDescription("Total number of failed issuance attempts by stage"),
		metric.WithUnit("{error}"),
	)

	m.KeyGenerationDuration, _ = meter.Float64Histogram(
		"userpki.keys.generate.duration",
		metric.WithDescription("Duration of RSA key pair generation"),
		metric.WithUnit("ms"),
	)

	// Lookup metrics
	m.VerificationsTotal, _ = meter.Int64Counter(
		"userpki.certificates.verifications.total",
		metric.WithDescription("Total number of verification requests by result"),
		metric.WithUnit("{verification}"),
	)

	m.PublicKeyLookupsTotal, _ = meter.Int64Counter(
		"userpki.public_keys.lookups.total",
		metric.WithDescription("Total number of public key lookups by result"),
		metric.WithUnit("{lookup}"),
	)

	m.StoreOperationDuration, _ = meter.Float64Histogram(
		"userpki.store.operation.duration",
		metric.WithDescription("Duration of certificate store operations"),
		metric.WithUnit("ms"),
	)

	// DynamoDB metrics
	m.DynamoDBOperationsTotal, _ = meter.Int64Counter(
		"userpki.dynamodb.operations.total",
		metric.WithDescription("Total number of DynamoDB operations"),
		metric.WithUnit("{operation}"),
	)

	m.DynamoDBThrottlesTotal, _ = meter.Int64Counter(
		"userpki.dynamodb.throttles.total",
		metric.WithDescription("Total number of DynamoDB throttling events"),
		metric.WithUnit("{throttle}"),
	)

	// HTTP metrics
	m.RateLimitedTotal, _ = meter.Int64Counter(
		"userpki.http.rate_limited.total",
		metric.WithDescription("Total number of requests rejected by the rate limiter"),
		metric.WithUnit("{request}"),
	)

	return m
}

// RecordStoreOperation records the duration of a store call started at start.
func RecordStoreOperation(ctx context.Context, operation string, start time.Time, err error) {
	GetMetrics().StoreOperationDuration.Record(ctx,
		float64(time.Since(start).Microseconds())/1000.0,
		metric.WithAttributes(
			attribute.String("operation", operation),
			attribute.Bool("error", err != nil),
		),
	)
}
