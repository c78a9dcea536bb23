package telemetry

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestInitStdoutExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := Init("sentinel-test", "0.0.1", Config{Exporter: ExporterStdout, Writer: &buf})
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(context.Background(), "sentinel.classify")
	span.End()

	require.NoError(t, shutdown(context.Background()))
	assert.Contains(t, buf.String(), "sentinel.classify")
	assert.Contains(t, buf.String(), "sentinel-test")
}

func TestInitNone(t *testing.T) {
	shutdown, err := Init("sentinel-test", "0.0.1", Config{Exporter: ExporterNone})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestInitRejectsBadConfig(t *testing.T) {
	_, err := Init("sentinel-test", "0.0.1", Config{Exporter: "zipkin"})
	assert.Error(t, err)

	_, err = Init("sentinel-test", "0.0.1", Config{Exporter: ExporterOTLP})
	assert.Error(t, err)
}
