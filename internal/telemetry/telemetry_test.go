package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestNilProvider(t *testing.T) {
	var p *Provider
	ctx := context.Background()

	ctx2, span := p.StartStanza(ctx, "chat", "m1", "alice@example.com")
	assert.Equal(t, ctx, ctx2)
	p.EndSpan(span, "stored", nil)
	p.RecordStanza(ctx, "stored", "message", time.Millisecond)
	p.RecordReply(ctx, "receipt-received", nil)
	p.RecordTransition(ctx, "pending", "delivered")
	assert.NoError(t, p.Shutdown(ctx))
}

func TestDisabledProvider(t *testing.T) {
	p, err := New(Config{})
	require.NoError(t, err)
	assert.Equal(t, "inbox", p.config.ServiceName)
	assert.Nil(t, p.traceProvider)

	ctx := context.Background()
	p.RecordStanza(ctx, "stored", "message", time.Millisecond)
	p.RecordReply(ctx, "server-ack", errors.New("closed"))
	assert.NoError(t, p.Shutdown(ctx))
}

func TestStanzaSpan(t *testing.T) {
	p, err := New(Config{})
	require.NoError(t, err)

	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	p.tracer = tp.Tracer("test")

	_, span := p.StartStanza(context.Background(), "chat", "m1", "alice@example.com")
	p.EndSpan(span, "error", errors.New("disk full"))

	ended := sr.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "inbox.process", ended[0].Name())
	assert.Equal(t, codes.Error, ended[0].Status().Code)
	assert.Equal(t, "disk full", ended[0].Status().Description)
}

func TestMetricsReachReader(t *testing.T) {
	p, err := New(Config{})
	require.NoError(t, err)

	reader := sdkmetric.NewManualReader()
	p.meterProvider = sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	require.NoError(t, p.useMeter(p.meterProvider.Meter("test")))

	ctx := context.Background()
	p.RecordStanza(ctx, "stored", "message", time.Millisecond)
	p.RecordStanza(ctx, "handled", "receipt", time.Millisecond)
	p.RecordReply(ctx, "server-ack", nil)
	p.RecordTransition(ctx, "delivered", "acknowledged")

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	sums := map[string]int64{}
	for _, m := range rm.ScopeMetrics[0].Metrics {
		if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
			for _, dp := range sum.DataPoints {
				sums[m.Name] += dp.Value
			}
		}
	}
	assert.Equal(t, int64(2), sums["inbox_stanzas_total"])
	assert.Equal(t, int64(1), sums["inbox_receipt_replies_total"])
	assert.Equal(t, int64(1), sums["inbox_receipt_transitions_total"])

	assert.NoError(t, p.Shutdown(ctx))
}
