package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestParseHeaders(t *testing.T) {
	assert.Equal(t,
		map[string]string{"api-key": "secret", "tenant": "ops"},
		ParseHeaders("api-key=secret, tenant=ops"))
	assert.Empty(t, ParseHeaders("garbage,=novalue"))
}

func TestApplyEnvironment(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4317")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "true")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "0.25")

	c := DefaultConfig("dockwatch")
	c.ApplyEnvironment()

	assert.True(t, c.Enabled)
	assert.Equal(t, "collector:4317", c.Endpoint)
	assert.True(t, c.Insecure)
	assert.Equal(t, 0.25, c.SampleRate)
}

func TestInitializeDisabled(t *testing.T) {
	shutdown, err := Initialize(context.Background(), DefaultConfig("dockwatch"), zap.NewNop())
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))

	// spans are no-ops without a provider
	_, span := StartSpan(context.Background(), "test")
	End(span, errors.New("boom"))
}
