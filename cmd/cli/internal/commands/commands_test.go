package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/userpki/internal/certificate"
	"github.com/wolfeidau/userpki/internal/client"
	"github.com/wolfeidau/userpki/internal/pki"
	"github.com/wolfeidau/userpki/internal/server"
	"github.com/wolfeidau/userpki/internal/store"
	"github.com/wolfeidau/userpki/internal/store/memory"
)

func startServer(t *testing.T) string {
	t.Helper()

	keys, err := pki.NewRSAKeyGenerator(2048)
	require.NoError(t, err)

	certStore := memory.NewCertificateStore()
	signer := pki.NewPlaceholderSigner()
	api := server.NewServer(
		certificate.NewIssuer(keys, signer, certStore),
		certificate.NewVerifier(certStore, signer, store.SelectLatest),
		certStore,
	)

	ts := httptest.NewServer(api.Handler())
	t.Cleanup(ts.Close)
	return ts.URL
}

func flags(url string) ClientFlags {
	return ClientFlags{Server: url}
}

func TestIssueVerifyPublicKey(t *testing.T) {
	url := startServer(t)
	ctx := context.Background()
	keyOut := filepath.Join(t.TempDir(), "keys", "user.pem")

	var out bytes.Buffer
	globals := &Globals{Stdout: &out}

	issue := &IssueCmd{ClientFlags: flags(url), UserID: "u1", Email: "a@b.c", KeyOut: keyOut}
	require.NoError(t, issue.Run(ctx, globals))
	require.Contains(t, out.String(), "Certificate generated successfully")
	require.Contains(t, out.String(), "Fingerprint: ")

	info, err := os.Stat(keyOut)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0600), info.Mode().Perm())

	keyPEM, err := os.ReadFile(keyOut)
	require.NoError(t, err)
	_, err = pki.ParsePrivateKeyPEM(string(keyPEM))
	require.NoError(t, err)

	out.Reset()
	verify := &VerifyCmd{ClientFlags: flags(url), UserID: "u1", Email: "a@b.c"}
	require.NoError(t, verify.Run(ctx, globals))

	var res client.VerifyResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	require.True(t, res.Valid)
	require.Equal(t, "u1", res.Certificate.UserID)

	out.Reset()
	pub := &PublicKeyCmd{ClientFlags: flags(url), UserID: "u1"}
	require.NoError(t, pub.Run(ctx, globals))
	require.True(t, strings.HasPrefix(out.String(), "-----BEGIN PUBLIC KEY-----"))
	require.Equal(t, res.Certificate.PublicKey, out.String())
}

func TestIssueRefusesToOverwrite(t *testing.T) {
	url := startServer(t)
	keyOut := filepath.Join(t.TempDir(), "user.pem")
	require.NoError(t, os.WriteFile(keyOut, []byte("existing"), 0600))

	issue := &IssueCmd{ClientFlags: flags(url), UserID: "u1", Email: "a@b.c", KeyOut: keyOut}
	err := issue.Run(context.Background(), &Globals{Stdout: &bytes.Buffer{}})
	require.ErrorContains(t, err, "already exists")

	data, err := os.ReadFile(keyOut)
	require.NoError(t, err)
	require.Equal(t, "existing", string(data))

	issue.Force = true
	require.NoError(t, issue.Run(context.Background(), &Globals{Stdout: &bytes.Buffer{}}))
}

func TestVerifyNotFound(t *testing.T) {
	url := startServer(t)

	verify := &VerifyCmd{ClientFlags: flags(url), UserID: "nobody", Email: "a@b.c"}
	err := verify.Run(context.Background(), &Globals{Stdout: &bytes.Buffer{}})
	require.Error(t, err)
	require.True(t, client.IsStatus(err, http.StatusNotFound))
}
