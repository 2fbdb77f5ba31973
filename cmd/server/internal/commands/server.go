package commands

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/wolfeidau/userpki/internal/certificate"
	httpmiddleware "github.com/wolfeidau/userpki/internal/http"
	"github.com/wolfeidau/userpki/internal/logger"
	"github.com/wolfeidau/userpki/internal/pki"
	"github.com/wolfeidau/userpki/internal/server"
	"github.com/wolfeidau/userpki/internal/ssmcerts"
	"github.com/wolfeidau/userpki/internal/store"
	"github.com/wolfeidau/userpki/internal/telemetry"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

type ServerCmd struct {
	// Server configuration
	Listen          string        `help:"HTTP server listen address" default:"0.0.0.0:8080" env:"PKI_LISTEN"`
	ShutdownTimeout time.Duration `help:"time allowed for in-flight requests on shutdown" default:"15s" env:"PKI_SHUTDOWN_TIMEOUT"`
	TLS             TLSFlags      `embed:"" prefix:"tls-"`

	// Proxy configuration
	TrustedProxies []string `name:"trusted-proxies" help:"CIDRs of reverse proxies whose X-Forwarded-For and X-Real-IP headers are trusted" env:"PKI_TRUSTED_PROXIES"`

	// CORS configuration
	CORSOrigins []string `name:"cors-origins" help:"allowed CORS origins" default:"http://localhost:3000,https://tradetrip-mongo-connect.web.app" env:"PKI_CORS_ORIGINS"`

	// Certificate configuration
	Selection string `help:"which certificate wins when several match a lookup" default:"latest" enum:"latest,first" env:"PKI_SELECTION"`
	KeyBits   int    `help:"RSA modulus size for issued key pairs" default:"2048" env:"PKI_KEY_BITS"`
	Signer    string `help:"certificate signer" default:"placeholder" enum:"placeholder,jwt" env:"PKI_SIGNER"`
	CAKey     string `name:"ca-key" help:"PEM EC P-256 private key file for the jwt signer" env:"PKI_CA_KEY" type:"path"`
	CAKeySSM  string `name:"ca-key-ssm" help:"SSM parameter holding the jwt signer key" env:"PKI_CA_KEY_SSM"`

	// Issuance rate limit per client IP
	IssueRate  float64 `help:"certificate generations per second per client IP, 0 disables" default:"1" env:"PKI_ISSUE_RATE"`
	IssueBurst int     `help:"burst of certificate generations per client IP" default:"5" env:"PKI_ISSUE_BURST"`

	// Observability
	Tracing          bool    `help:"enable tracing and metrics export" default:"false" env:"PKI_TRACING"`
	TraceSampleRatio float64 `help:"fraction of requests traced" default:"1" env:"PKI_TRACE_SAMPLE_RATIO"`

	// Store configuration
	StoreType      string             `help:"store type" default:"memory" env:"PKI_STORE_TYPE" enum:"memory,postgres,dynamodb,sqlite"`
	ConnectTimeout time.Duration      `help:"how long to retry the initial store connection" default:"30s" env:"PKI_CONNECT_TIMEOUT"`
	Postgres       PostgresStoreFlags `embed:"" prefix:"postgres-"`
	DynamoDB       DynamoDBStoreFlags `embed:"" prefix:"dynamodb-"`
	SQLite         SQLiteStoreFlags   `embed:"" prefix:"sqlite-"`
}

type TLSFlags struct {
	Cert        string `help:"path to TLS cert file" env:"PKI_TLS_CERT" type:"path"`
	Key         string `help:"path to TLS key file" env:"PKI_TLS_KEY" type:"path"`
	CertSSM     string `name:"cert-ssm" help:"SSM parameter holding the TLS cert" env:"PKI_TLS_CERT_SSM"`
	KeySSM      string `name:"key-ssm" help:"SSM parameter holding the TLS key" env:"PKI_TLS_KEY_SSM"`
	ClientCA    string `name:"client-ca" help:"path to a CA bundle; when set clients must present a certificate" env:"PKI_TLS_CLIENT_CA" type:"path"`
	ClientCASSM string `name:"client-ca-ssm" help:"SSM parameter holding the client CA bundle" env:"PKI_TLS_CLIENT_CA_SSM"`
}

func (t *TLSFlags) cert() ssmcerts.Source { return ssmcerts.Source{Path: t.Cert, SSMParameter: t.CertSSM} }
func (t *TLSFlags) key() ssmcerts.Source  { return ssmcerts.Source{Path: t.Key, SSMParameter: t.KeySSM} }
func (t *TLSFlags) clientCA() ssmcerts.Source {
	return ssmcerts.Source{Path: t.ClientCA, SSMParameter: t.ClientCASSM}
}

func (t *TLSFlags) enabled() bool {
	return !t.cert().IsZero() || !t.key().IsZero()
}

func (t *TLSFlags) validate() error {
	if t.cert().IsZero() != t.key().IsZero() {
		return errors.New("TLS certificate and key must be given together (--tls-cert/--tls-cert-ssm and --tls-key/--tls-key-ssm)")
	}
	if !t.enabled() && !t.clientCA().IsZero() {
		return errors.New("--tls-client-ca requires a TLS certificate and key")
	}
	return nil
}

// Validate is called by kong after flags are resolved.
func (c *ServerCmd) Validate() error {
	if err := c.TLS.validate(); err != nil {
		return err
	}
	if _, err := httpmiddleware.ParseTrustedProxies(c.TrustedProxies); err != nil {
		return fmt.Errorf("--trusted-proxies: %w", err)
	}
	if c.KeyBits < 2048 {
		return fmt.Errorf("--key-bits must be at least 2048, got %d", c.KeyBits)
	}
	if c.IssueRate < 0 || c.IssueBurst < 0 {
		return errors.New("--issue-rate and --issue-burst must not be negative")
	}
	if c.TraceSampleRatio < 0 || c.TraceSampleRatio > 1 {
		return fmt.Errorf("--trace-sample-ratio must be between 0 and 1, got %v", c.TraceSampleRatio)
	}
	if c.Signer != "jwt" && (c.CAKey != "" || c.CAKeySSM != "") {
		return errors.New("--ca-key and --ca-key-ssm require --signer=jwt")
	}

	switch c.StoreType {
	case "postgres":
		return c.Postgres.validate()
	case "dynamodb":
		return c.DynamoDB.validate()
	case "sqlite":
		return c.SQLite.validate()
	}
	return nil
}

func (c *ServerCmd) Run(ctx context.Context, globals *Globals) error {
	log := logger.Setup(globals.Debug)
	ctx = log.WithContext(ctx)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Str("version", globals.Version).Bool("debug", globals.Debug).Msg("Starting server")

	if c.Tracing {
		log.Info().Float64("sample_ratio", c.TraceSampleRatio).Msg("Tracing is enabled")
		shutdown, err := telemetry.InitTelemetry(ctx, telemetry.Options{
			ServiceName: "userpki-server",
			Version:     globals.Version,
			SampleRatio: c.TraceSampleRatio,
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without metrics")
			shutdown = func(ctx context.Context) error { return nil }
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Failed to shutdown telemetry")
			}
		}()
	}

	selection, err := store.ParseSelection(c.Selection)
	if err != nil {
		return err
	}

	loader := ssmcerts.NewLoader(nil)

	signer, err := c.buildSigner(ctx, loader)
	if err != nil {
		return err
	}

	keys, err := pki.NewRSAKeyGenerator(c.KeyBits)
	if err != nil {
		return err
	}

	// phase one: the store must be reachable before we accept traffic
	certStore, err := c.openStore(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect %s store: %w", c.StoreType, err)
	}
	defer certStore.close()

	log.Info().Str("store", c.StoreType).Str("selection", string(selection)).Msg("Certificate store connected")

	issuer := certificate.NewIssuer(keys, signer, certStore)
	verifier := certificate.NewVerifier(certStore, signer, selection)

	limiter := httpmiddleware.NewRateLimiter(c.IssueRate, c.IssueBurst, 10*time.Minute)
	if limiter == nil {
		log.Warn().Msg("Issuance rate limit is disabled")
	}

	api := server.NewServer(issuer, verifier, certStore).WithIssueLimiter(limiter)

	handler, err := c.buildHandler(log, api.Handler())
	if err != nil {
		return err
	}

	srv := configureHTTPServer(c.Listen, handler)

	if c.TLS.enabled() {
		srv.TLSConfig, err = loader.TLSConfig(ctx, c.TLS.cert(), c.TLS.key(), c.TLS.clientCA())
		if err != nil {
			return fmt.Errorf("failed to load TLS configuration: %w", err)
		}
	} else {
		srv.Handler = h2c.NewHandler(srv.Handler, &http2.Server{})
	}

	// phase two: bind and serve
	ln, err := net.Listen("tcp", c.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", c.Listen, err)
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", ln.Addr().String()).Bool("tls", c.TLS.enabled()).Msg("Starting HTTP server")
		if c.TLS.enabled() {
			errCh <- srv.ServeTLS(ln, "", "")
			return
		}
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info().Dur("timeout", c.ShutdownTimeout).Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), c.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down cleanly: %w", err)
	}

	return nil
}

func (c *ServerCmd) buildSigner(ctx context.Context, loader *ssmcerts.Loader) (pki.Signer, error) {
	signer, err := c.newSigner(ctx, loader)
	if err != nil {
		return nil, err
	}

	if !signer.Authentic() {
		zerolog.Ctx(ctx).Warn().Str("signer", c.Signer).Msg("Signer provides no authenticity; certificates carry no proof of origin")
	}

	return signer, nil
}

func (c *ServerCmd) newSigner(ctx context.Context, loader *ssmcerts.Loader) (pki.Signer, error) {
	log := zerolog.Ctx(ctx)

	if c.Signer != "jwt" {
		return pki.NewPlaceholderSigner(), nil
	}

	src := ssmcerts.Source{Path: c.CAKey, SSMParameter: c.CAKeySSM}
	if src.IsZero() {
		signer, err := pki.GenerateJWTSigner()
		if err != nil {
			return nil, err
		}
		log.Warn().Str("kid", signer.Kid()).Msg("No CA key given, generated an ephemeral one; signatures will not verify after restart")
		return signer, nil
	}

	keyPEM, err := loader.Load(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("failed to load CA key: %w", err)
	}

	signer, err := pki.ParseJWTSigner(keyPEM)
	if err != nil {
		return nil, err
	}

	log.Info().Str("kid", signer.Kid()).Str("source", src.String()).Msg("JWT signer ready")
	return signer, nil
}

// buildHandler wraps the API with the middleware chain, outermost first:
// tracing, CORS, compression, request id, client IP, request logging.
func (c *ServerCmd) buildHandler(log zerolog.Logger, api http.Handler) (http.Handler, error) {
	trusted, err := httpmiddleware.ParseTrustedProxies(c.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("failed to parse trusted proxies: %w", err)
	}

	compress, err := httpmiddleware.Compress()
	if err != nil {
		return nil, fmt.Errorf("failed to create compression middleware: %w", err)
	}

	handler := logger.NewHTTPRequests(log).Wrap(api)
	handler = httpmiddleware.ClientIPMiddleware(trusted)(handler)
	handler = httpmiddleware.RequestID()(handler)
	handler = compress(handler)
	handler = httpmiddleware.CORS(c.CORSOrigins)(handler)

	if c.Tracing {
		handler = otelhttp.NewHandler(handler, "userpki",
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}))
	}

	return handler, nil
}
