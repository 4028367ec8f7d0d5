package telemetry

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestDisabledTracerIsNoop(t *testing.T) {
	tr, err := New(Config{Enabled: false})
	require.NoError(t, err)

	_, span := tr.Tracer().Start(context.Background(), "route")
	assert.False(t, span.SpanContext().IsValid())
	span.End()
	assert.NoError(t, tr.Shutdown(context.Background()))
}

func TestSpansReachExporter(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tr, err := New(Config{Enabled: true}, WithExporter(exp))
	require.NoError(t, err)

	_, ok := tr.Tracer().Start(context.Background(), "route.ok")
	RecordSuccess(ok)
	ok.End()

	_, failed := tr.Tracer().Start(context.Background(), "route.failed")
	RecordError(failed, errors.New("boom"))
	failed.End()

	spans := exp.GetSpans()
	require.Len(t, spans, 2)
	assert.Equal(t, "route.ok", spans[0].Name)
	assert.Equal(t, codes.Ok, spans[0].Status.Code)
	assert.Equal(t, codes.Error, spans[1].Status.Code)
	assert.Equal(t, "boom", spans[1].Status.Description)

	require.NoError(t, tr.Shutdown(context.Background()))
}

func TestStdoutExporterWrites(t *testing.T) {
	var buf bytes.Buffer
	tr, err := New(Config{Enabled: true, Exporter: ExporterStdout}, WithWriter(&buf))
	require.NoError(t, err)

	_, span := tr.Tracer().Start(context.Background(), "route.stdout")
	span.End()
	require.NoError(t, tr.Shutdown(context.Background()))

	assert.Contains(t, buf.String(), "route.stdout")
}

func TestUnsupportedExporter(t *testing.T) {
	_, err := New(Config{Enabled: true, Exporter: "jaeger"})
	assert.ErrorContains(t, err, "unsupported trace exporter")
}
