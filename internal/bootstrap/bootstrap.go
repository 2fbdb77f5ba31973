package bootstrap

import (
	"context"
	"errors"
	"fmt"
)

// Bootstrap creates the certificates table for development against DynamoDB Local or LocalStack.
// If CleanResources is false an existing table is reused.
func Bootstrap(ctx context.Context, cfg Config) (*Resources, error) {
	if cfg.DynamoClient == nil {
		return nil, errors.New("DynamoClient is required")
	}
	if cfg.Environment == "" {
		cfg.Environment = "dev"
	}

	tableName := cfg.TableName
	if tableName == "" {
		tableName = fmt.Sprintf("%s_certificates", cfg.Environment)
	}

	if err := CreateCertificatesTable(ctx, cfg.DynamoClient, tableName, cfg.CleanResources); err != nil {
		return nil, fmt.Errorf("failed to create DynamoDB table: %w", err)
	}

	return &Resources{CertificatesTable: tableName}, nil
}

// Cleanup deletes all resources created by Bootstrap
func Cleanup(ctx context.Context, cfg Config, res *Resources) error {
	if err := deleteTableIfExists(ctx, cfg.DynamoClient, res.CertificatesTable); err != nil {
		return fmt.Errorf("failed to delete certificates table: %w", err)
	}
	return nil
}
