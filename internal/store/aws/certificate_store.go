package aws

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/userpki/internal/models"
	"github.com/wolfeidau/userpki/internal/store"
	"github.com/wolfeidau/userpki/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Index names used by the certificates table.
const (
	IdentityIndex = "GSI1" // identity_key + created_at
	UserIndex     = "GSI2" // user_id + created_at
)

// DynamoDBAPI is the subset of the DynamoDB client used by CertificateStore.
type DynamoDBAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// certificateRecord is the DynamoDB item layout.
type certificateRecord struct {
	SerialNumber string `dynamodbav:"serial_number"`
	IdentityKey  string `dynamodbav:"identity_key"`
	UserID       string `dynamodbav:"user_id"`
	Email        string `dynamodbav:"email"`
	PublicKey    string `dynamodbav:"public_key"`
	Issuer       string `dynamodbav:"issuer"`
	ValidFrom    int64  `dynamodbav:"valid_from"` // unix nanos
	ValidTo      int64  `dynamodbav:"valid_to"`   // unix nanos
	Signature    string `dynamodbav:"signature"`
	CreatedAt    int64  `dynamodbav:"created_at"` // unix nanos
}

// identityKey encodes (userID, email) unambiguously; the length prefix stops
// "a#b"+"c" colliding with "a"+"b#c".
func identityKey(userID, email string) string {
	return strconv.Itoa(len(userID)) + "#" + userID + "#" + email
}

func newRecord(cert *models.Certificate) *certificateRecord {
	return &certificateRecord{
		SerialNumber: cert.SerialNumber,
		IdentityKey:  identityKey(cert.UserID, cert.Email),
		UserID:       cert.UserID,
		Email:        cert.Email,
		PublicKey:    cert.PublicKey,
		Issuer:       cert.Issuer,
		ValidFrom:    cert.ValidFrom.UnixNano(),
		ValidTo:      cert.ValidTo.UnixNano(),
		Signature:    cert.Signature,
		CreatedAt:    cert.CreatedAt.UnixNano(),
	}
}

func (r *certificateRecord) toModel() *models.Certificate {
	return &models.Certificate{
		SerialNumber: r.SerialNumber,
		UserID:       r.UserID,
		Email:        r.Email,
		PublicKey:    r.PublicKey,
		Issuer:       r.Issuer,
		ValidFrom:    time.Unix(0, r.ValidFrom).UTC(),
		ValidTo:      time.Unix(0, r.ValidTo).UTC(),
		Signature:    r.Signature,
		CreatedAt:    time.Unix(0, r.CreatedAt).UTC(),
	}
}

// CertificateStore is a DynamoDB implementation of store.CertificateStore
type CertificateStore struct {
	client    DynamoDBAPI
	tableName string
}

// NewCertificateStore creates a new DynamoDB certificate store
func NewCertificateStore(client DynamoDBAPI, tableName string) *CertificateStore {
	return &CertificateStore{
		client:    client,
		tableName: tableName,
	}
}

// Insert stores a certificate, refusing to overwrite an existing serial number
func (s *CertificateStore) Insert(ctx context.Context, cert *models.Certificate) error {
	item, err := attributevalue.MarshalMap(newRecord(cert))
	if err != nil {
		return fmt.Errorf("failed to marshal certificate: %w", err)
	}

	countOperation(ctx, "PutItem")

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(serial_number)"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return store.ErrCertAlreadyExists
		}
		return wrapAWSError(ctx, err, "PutItem", "failed to insert certificate")
	}

	log.Debug().
		Str("serial_number", cert.SerialNumber).
		Str("user_id", cert.UserID).
		Msg("certificate inserted")

	return nil
}

// FindByIdentity queries GSI1 for the identity
func (s *CertificateStore) FindByIdentity(ctx context.Context, userID, email string, sel store.Selection) (*models.Certificate, error) {
	keyEx := expression.Key("identity_key").Equal(expression.Value(identityKey(userID, email)))
	return s.queryOne(ctx, IdentityIndex, keyEx, sel)
}

// FindByUserID queries GSI2 for the user
func (s *CertificateStore) FindByUserID(ctx context.Context, userID string, sel store.Selection) (*models.Certificate, error) {
	keyEx := expression.Key("user_id").Equal(expression.Value(userID))
	return s.queryOne(ctx, UserIndex, keyEx, sel)
}

// Ping describes the table
func (s *CertificateStore) Ping(ctx context.Context) error {
	countOperation(ctx, "DescribeTable")

	out, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(s.tableName),
	})
	if err != nil {
		return wrapAWSError(ctx, err, "DescribeTable", "failed to describe table")
	}

	if out.Table != nil && out.Table.TableStatus != types.TableStatusActive && out.Table.TableStatus != types.TableStatusUpdating {
		return fmt.Errorf("table %s is %s", s.tableName, out.Table.TableStatus)
	}

	return nil
}

func (s *CertificateStore) queryOne(ctx context.Context, index string, keyEx expression.KeyConditionBuilder, sel store.Selection) (*models.Certificate, error) {
	expr, err := expression.NewBuilder().WithKeyCondition(keyEx).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build expression: %w", err)
	}

	countOperation(ctx, "Query")

	result, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(s.tableName),
		IndexName:                 aws.String(index),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ScanIndexForward:          aws.Bool(!sel.Newest()),
		Limit:                     aws.Int32(1),
	})
	if err != nil {
		return nil, wrapAWSError(ctx, err, "Query", "failed to query certificates")
	}

	if len(result.Items) == 0 {
		return nil, store.ErrCertNotFound
	}

	var record certificateRecord
	if err := attributevalue.UnmarshalMap(result.Items[0], &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal certificate: %w", err)
	}

	return record.toModel(), nil
}

func countOperation(ctx context.Context, op string) {
	telemetry.GetMetrics().DynamoDBOperationsTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("operation", op)))
}
