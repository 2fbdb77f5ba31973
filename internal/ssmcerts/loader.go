// Package ssmcerts loads PEM encoded keys and certificates from AWS SSM Parameter Store or local files.
package ssmcerts

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// Source locates PEM material. SSMParameter takes precedence over Path.
type Source struct {
	Path         string
	SSMParameter string
}

// IsZero reports whether neither location is set.
func (s Source) IsZero() bool {
	return s.Path == "" && s.SSMParameter == ""
}

func (s Source) String() string {
	if s.SSMParameter != "" {
		return "ssm:" + s.SSMParameter
	}
	return s.Path
}

// SSMAPI is the subset of the SSM client used by Loader.
type SSMAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Loader reads Sources. The SSM client is created on first use from the default AWS config
// unless one is supplied.
type Loader struct {
	mu     sync.Mutex
	client SSMAPI
}

// NewLoader creates a Loader; client may be nil.
func NewLoader(client SSMAPI) *Loader {
	return &Loader{client: client}
}

// Load returns the PEM bytes for src.
func (l *Loader) Load(ctx context.Context, src Source) ([]byte, error) {
	switch {
	case src.SSMParameter != "":
		client, err := l.ssmClient(ctx)
		if err != nil {
			return nil, err
		}
		value, err := getParameter(ctx, client, src.SSMParameter)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s from SSM: %w", src.SSMParameter, err)
		}
		return []byte(value), nil
	case src.Path != "":
		data, err := os.ReadFile(src.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", src.Path, err)
		}
		return data, nil
	default:
		return nil, errors.New("no file path or SSM parameter given")
	}
}

func (l *Loader) ssmClient(ctx context.Context) (SSMAPI, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.client != nil {
		return l.client, nil
	}

	awsConfig, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	l.client = ssm.NewFromConfig(awsConfig)

	return l.client, nil
}

// getParameter fetches a parameter from SSM
func getParameter(ctx context.Context, client SSMAPI, name string) (string, error) {
	output, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", err
	}
	if output.Parameter == nil || output.Parameter.Value == nil {
		return "", fmt.Errorf("parameter %s has no value", name)
	}
	return *output.Parameter.Value, nil
}

// TLSConfig builds a server tls.Config from a certificate and key.
// When clientCA is set, clients must present a certificate signed by it.
func (l *Loader) TLSConfig(ctx context.Context, cert, key, clientCA Source) (*tls.Config, error) {
	certPEM, err := l.Load(ctx, cert)
	if err != nil {
		return nil, fmt.Errorf("server certificate: %w", err)
	}
	keyPEM, err := l.Load(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("server key: %w", err)
	}

	serverCert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to parse server certificate: %w", err)
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{serverCert},
		MinVersion:   tls.VersionTLS12,
	}

	if clientCA.IsZero() {
		return tlsConfig, nil
	}

	caPEM, err := l.Load(ctx, clientCA)
	if err != nil {
		return nil, fmt.Errorf("client CA: %w", err)
	}

	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caPEM) {
		return nil, errors.New("failed to parse client CA certificate")
	}
	tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
	tlsConfig.ClientCAs = caCertPool

	return tlsConfig, nil
}
