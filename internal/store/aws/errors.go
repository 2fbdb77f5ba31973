package aws

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/wolfeidau/userpki/internal/store"
	"github.com/wolfeidau/userpki/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// wrapAWSError wraps AWS SDK errors, marking throttling errors with store.ErrThrottled.
func wrapAWSError(ctx context.Context, err error, op, msg string) error {
	if err == nil {
		return nil
	}

	if isThrottle(err) {
		telemetry.GetMetrics().DynamoDBThrottlesTotal.Add(ctx, 1,
			metric.WithAttributes(attribute.String("operation", op)))
		return fmt.Errorf("%s: %w: %w", msg, store.ErrThrottled, err)
	}

	return fmt.Errorf("%s: %w", msg, err)
}

func isThrottle(err error) bool {
	var provisionedErr *types.ProvisionedThroughputExceededException
	if errors.As(err, &provisionedErr) {
		return true
	}

	var limitErr *types.RequestLimitExceeded
	if errors.As(err, &limitErr) {
		return true
	}

	// not every throttle surfaces as a typed error
	msg := err.Error()
	return strings.Contains(msg, "ThrottlingException") ||
		strings.Contains(msg, "TooManyRequestsException") ||
		strings.Contains(msg, "Throttling")
}
