package bootstrap

import (
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

// Config holds configuration for bootstrapping local DynamoDB infrastructure
type Config struct {
	DynamoClient *dynamodb.Client

	// Environment is used as the table name prefix, e.g. "dev" gives "dev_certificates".
	Environment string

	// TableName overrides the derived table name when set.
	TableName string

	// CleanResources deletes existing tables before creating them.
	// Leave false to keep data across restarts.
	CleanResources bool
}

// Resources holds identifiers for created infrastructure resources
type Resources struct {
	CertificatesTable string
}
