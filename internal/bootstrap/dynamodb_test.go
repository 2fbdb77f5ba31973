package bootstrap

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"
)

func TestCertificatesTableInput(t *testing.T) {
	input := certificatesTableInput("dev_certificates")

	require.Equal(t, "dev_certificates", aws.ToString(input.TableName))
	require.Equal(t, types.BillingModePayPerRequest, input.BillingMode)
	require.Equal(t, "serial_number", aws.ToString(input.KeySchema[0].AttributeName))

	indexes := map[string]string{}
	for _, gsi := range input.GlobalSecondaryIndexes {
		require.Len(t, gsi.KeySchema, 2)
		require.Equal(t, "created_at", aws.ToString(gsi.KeySchema[1].AttributeName))
		indexes[aws.ToString(gsi.IndexName)] = aws.ToString(gsi.KeySchema[0].AttributeName)
	}
	require.Equal(t, map[string]string{"GSI1": "identity_key", "GSI2": "user_id"}, indexes)

	// every key attribute must be declared
	declared := map[string]bool{}
	for _, def := range input.AttributeDefinitions {
		declared[aws.ToString(def.AttributeName)] = true
	}
	require.Len(t, declared, 4)
}

func TestBootstrap_requiresClient(t *testing.T) {
	_, err := Bootstrap(context.Background(), Config{})
	require.ErrorContains(t, err, "DynamoClient is required")
}
