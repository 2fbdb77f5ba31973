package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"github.com/wolfeidau/userpki/internal/bootstrap"
	"github.com/wolfeidau/userpki/internal/store"
	awsstore "github.com/wolfeidau/userpki/internal/store/aws"
	memorystore "github.com/wolfeidau/userpki/internal/store/memory"
	postgresstore "github.com/wolfeidau/userpki/internal/store/postgres"
	sqlitestore "github.com/wolfeidau/userpki/internal/store/sqlite"
)

type PostgresStoreFlags struct {
	// Connection Configuration
	ConnString string `help:"PostgreSQL connection string" env:"POSTGRES_CONNECTION_STRING"`

	// Connection Pool Configuration
	MaxConns        int32         `help:"maximum number of connections in pool" default:"10"`
	MinConns        int32         `help:"minimum number of connections in pool" default:"2"`
	MaxConnLifetime time.Duration `help:"maximum connection lifetime" default:"1h"`
	MaxConnIdleTime time.Duration `help:"maximum connection idle time" default:"30m"`

	// Migration Configuration
	AutoMigrate bool `help:"run database migrations on startup" default:"false" env:"PKI_POSTGRES_AUTO_MIGRATE"`
}

func (s *PostgresStoreFlags) validate() error {
	if s.ConnString == "" {
		return errors.New("PostgreSQL connection string is required (--postgres-conn-string or POSTGRES_CONNECTION_STRING)")
	}
	return nil
}

func (s *PostgresStoreFlags) config() *postgresstore.Config {
	return &postgresstore.Config{
		ConnString:      s.ConnString,
		MaxConns:        s.MaxConns,
		MinConns:        s.MinConns,
		MaxConnLifetime: s.MaxConnLifetime,
		MaxConnIdleTime: s.MaxConnIdleTime,
		AutoMigrate:     s.AutoMigrate,
	}
}

type DynamoDBStoreFlags struct {
	Table       string `help:"DynamoDB certificates table" default:"certificates" env:"PKI_DYNAMODB_TABLE"`
	Region      string `help:"AWS region, defaults to the SDK's resolution" env:"PKI_DYNAMODB_REGION"`
	Endpoint    string `help:"endpoint override for DynamoDB Local or LocalStack" env:"PKI_DYNAMODB_ENDPOINT"`
	CreateTable bool   `help:"create the table if missing (development only)" default:"false" env:"PKI_DYNAMODB_CREATE_TABLE"`
}

func (s *DynamoDBStoreFlags) validate() error {
	if s.Table == "" {
		return errors.New("DynamoDB table name is required (--dynamodb-table or PKI_DYNAMODB_TABLE)")
	}
	if s.CreateTable && s.Endpoint == "" {
		return errors.New("--dynamodb-create-table requires --dynamodb-endpoint")
	}
	return nil
}

type SQLiteStoreFlags struct {
	Path string `help:"SQLite database file" default:"userpki.db" env:"PKI_SQLITE_PATH" type:"path"`
}

func (s *SQLiteStoreFlags) validate() error {
	if s.Path == "" {
		return errors.New("SQLite path is required (--sqlite-path or PKI_SQLITE_PATH)")
	}
	return nil
}

// openedStore pairs a store with its release function.
type openedStore struct {
	store.CertificateStore
	close func()
}

// openStore connects the configured store, retrying transient failures with
// exponential backoff until --connect-timeout elapses.
func (c *ServerCmd) openStore(ctx context.Context) (*openedStore, error) {
	logger := zerolog.Ctx(ctx)

	connect := func() (*openedStore, error) {
		switch c.StoreType {
		case "postgres":
			s, err := postgresstore.Open(ctx, c.Postgres.config())
			if errors.Is(err, postgresstore.ErrInvalidConfig) {
				return nil, backoff.Permanent(err)
			}
			if err != nil {
				return nil, err
			}
			return &openedStore{CertificateStore: s, close: s.Close}, nil

		case "dynamodb":
			s, err := c.openDynamoDB(ctx)
			if err != nil {
				return nil, err
			}
			return &openedStore{CertificateStore: s, close: func() {}}, nil

		case "sqlite":
			s, err := sqlitestore.Open(ctx, sqlitestore.Config{Path: c.SQLite.Path})
			if err != nil {
				return nil, err
			}
			return &openedStore{CertificateStore: s, close: func() { _ = s.Close() }}, nil

		default:
			return &openedStore{CertificateStore: memorystore.NewCertificateStore(), close: func() {}}, nil
		}
	}

	return backoff.Retry(ctx, connect,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(c.ConnectTimeout),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Warn().Err(err).Str("store", c.StoreType).Dur("retry_in", next).Msg("Store connection failed, retrying")
		}),
	)
}

func (c *ServerCmd) openDynamoDB(ctx context.Context) (*awsstore.CertificateStore, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if c.DynamoDB.Region != "" {
		opts = append(opts, awsconfig.WithRegion(c.DynamoDB.Region))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to load AWS config: %w", err))
	}

	client := dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if c.DynamoDB.Endpoint != "" {
			o.BaseEndpoint = aws.String(c.DynamoDB.Endpoint)
		}
	})

	if c.DynamoDB.CreateTable {
		res, err := bootstrap.Bootstrap(ctx, bootstrap.Config{
			DynamoClient: client,
			TableName:    c.DynamoDB.Table,
		})
		if err != nil {
			return nil, err
		}
		zerolog.Ctx(ctx).Info().Str("table", res.CertificatesTable).Msg("DynamoDB table ready")
	}

	s := awsstore.NewCertificateStore(client, c.DynamoDB.Table)
	if err := s.Ping(ctx); err != nil {
		return nil, err
	}

	return s, nil
}
