package settings

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const defaultLookupTimeout = 5 * time.Second

var tracer = otel.Tracer("finitefield.org/hanko-login/internal/login/settings")

// InstrumentOption customises Instrument.
type InstrumentOption func(*instrumented)

// WithLookupTimeout bounds each shared backend lookup. Zero disables the bound.
func WithLookupTimeout(d time.Duration) InstrumentOption {
	return func(i *instrumented) {
		i.timeout = d
	}
}

// WithTracer overrides the tracer used for lookup spans.
func WithTracer(t trace.Tracer) InstrumentOption {
	return func(i *instrumented) {
		if t != nil {
			i.tracer = t
		}
	}
}

type instrumented struct {
	next    Client
	logger  *zap.Logger
	tracer  trace.Tracer
	timeout time.Duration
	group   singleflight.Group
}

// Instrument wraps client so concurrent lookups of the same key share one
// backend call. Each backend call runs inside a span and failures other than
// ErrNotFound are logged.
func Instrument(client Client, logger *zap.Logger, opts ...InstrumentOption) Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	i := &instrumented{
		next:    client,
		logger:  logger,
		tracer:  tracer,
		timeout: defaultLookupTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(i)
		}
	}
	return i
}

func (i *instrumented) PublicSetting(ctx context.Context, key string) (string, error) {
	// The shared call must not die with whichever caller happened to start it.
	ch := i.group.DoChan(key, func() (any, error) {
		return i.lookup(context.WithoutCancel(ctx), key)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		value, _ := res.Val.(string)
		return value, nil
	}
}

func (i *instrumented) lookup(ctx context.Context, key string) (string, error) {
	if i.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.timeout)
		defer cancel()
	}

	ctx, span := i.tracer.Start(ctx, "settings.PublicSetting",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("settings.key", key)),
	)
	defer span.End()

	start := time.Now()
	value, err := i.next.PublicSetting(ctx, key)
	latency := time.Since(start)

	switch {
	case err == nil:
		span.SetStatus(codes.Ok, "")
	case errors.Is(err, ErrNotFound):
		span.SetAttributes(attribute.Bool("settings.not_found", true))
		span.SetStatus(codes.Ok, "not found")
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		i.logger.Warn("settings lookup failed",
			zap.String("key", key),
			zap.Duration("latency", latency),
			zap.Error(err),
		)
	}
	return value, err
}
