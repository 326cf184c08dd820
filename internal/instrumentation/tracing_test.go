package instrumentation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
)

func TestSpans(t *testing.T) {
	newTestProvider(t, ExporterPrometheus, ExporterNone)
	ctx := context.Background()

	spanCtx, span := StartSpan(ctx, "test-span")
	assert.NotNil(t, spanCtx)
	SetSpanSuccess(span)
	span.End()

	_, span = StartTurnSpan(ctx, attribute.String(SpanAttrIntent, "LIST_EVENTS"))
	EndSpan(span, nil)

	_, span = StartToolSpan(ctx, "assistant_query")
	EndSpan(span, errors.New("boom"))

	_, span = StartGoogleAPISpan(ctx, ServiceCalendar, OperationList, attribute.String(SpanAttrCalendarID, "primary"))
	SetSpanError(span, errors.New("boom"))
	SetSpanError(span, nil)
	span.End()
}

func TestTraceIDs_NoSpan(t *testing.T) {
	assert.Empty(t, GetTraceID(context.Background()))
	assert.Empty(t, GetSpanID(context.Background()))
}
