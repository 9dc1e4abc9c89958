package observability_test

import (
	"context"
	"errors"
	"testing"

	"github.com/aretw0/chatflow/pkg/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestNewTracerProvider_ServiceName(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp, err := observability.NewTracerProvider("chatflow-test", sdktrace.WithSyncer(exporter))
	require.NoError(t, err)
	defer func() { _ = tp.Shutdown(context.Background()) }()

	_, span := tp.Tracer("test").Start(context.Background(), "op")
	span.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	var service string
	for _, kv := range spans[0].Resource.Attributes() {
		if kv.Key == "service.name" {
			service = kv.Value.AsString()
		}
	}
	assert.Equal(t, "chatflow-test", service)
}

func TestSetError(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp, err := observability.NewTracerProvider("chatflow-test", sdktrace.WithSyncer(exporter))
	require.NoError(t, err)

	_, span := tp.Tracer("test").Start(context.Background(), "op")
	observability.SetError(span, nil)
	observability.SetError(span, errors.New("boom"), attribute.String(observability.ChatIDKey, "c1"))
	span.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
	assert.Equal(t, "boom", spans[0].Status.Description)

	var names []string
	for _, ev := range spans[0].Events {
		names = append(names, ev.Name)
	}
	assert.Equal(t, []string{"exception", "error_occurred"}, names)
}
