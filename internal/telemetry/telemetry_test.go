package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInitTelemetry_invalidSampleRatio(t *testing.T) {
	_, err := InitTelemetry(context.Background(), Options{ServiceName: "test", SampleRatio: 1.5})
	require.Error(t, err)

	_, err = InitTelemetry(context.Background(), Options{ServiceName: "test", SampleRatio: -0.1})
	require.Error(t, err)
}

func TestGetMetrics(t *testing.T) {
	m := GetMetrics()
	require.NotNil(t, m)
	require.NotNil(t, m.CertificatesIssuedTotal)
	require.NotNil(t, m.VerificationsTotal)
	require.Same(t, m, GetMetrics())
}
