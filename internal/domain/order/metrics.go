package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xenking/giftshop/internal/apperr"
	"github.com/xenking/giftshop/internal/domain/payment"
)

// Metrics records order submission outcomes.
type Metrics struct {
	submitted metric.Int64Counter
	failed    metric.Int64Counter
	duration  metric.Float64Histogram
}

func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter("github.com/xenking/giftshop/internal/domain/order")

	submitted, err := meter.Int64Counter("giftshop.orders.submitted",
		metric.WithDescription("Orders persisted"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "submitted counter")
	}
	failed, err := meter.Int64Counter("giftshop.orders.failed",
		metric.WithDescription("Order submissions that failed, by code"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed counter")
	}
	duration, err := meter.Float64Histogram("giftshop.orders.submit.duration",
		metric.WithDescription("Order submission duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "duration histogram")
	}

	return &Metrics{submitted: submitted, failed: failed, duration: duration}, nil
}

func (m *Metrics) success(ctx context.Context, method payment.Method, start time.Time) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("payment_method", string(method)))
	m.submitted.Add(ctx, 1, attrs)
	m.duration.Record(ctx, time.Since(start).Seconds(), attrs)
}

func (m *Metrics) failure(ctx context.Context, err error, captured bool) {
	if m == nil {
		return
	}
	m.failed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("code", string(apperr.CodeOf(err))),
		attribute.Bool("captured", captured),
	))
}
