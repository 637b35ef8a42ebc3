package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitTracerProviderWithoutExporter(t *testing.T) {
	tp, err := InitTracerProvider("order-service", "")
	require.NoError(t, err)
	defer tp.Shutdown(context.Background())

	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	assert.Len(t, TraceIDFromContext(ctx), 32)
	assert.Empty(t, TraceIDFromContext(context.Background()))
}
